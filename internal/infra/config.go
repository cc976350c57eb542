package infra

import (
	"errors"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"venue_sync/internal/domain"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds every setting of the sync core.
// LoadConfig reads the YAML file, then lets environment variables override
// sensitive or deployment-specific values.
type Config struct {
	App struct {
		Name    string `yaml:"name"`
		Version string `yaml:"version"`
	} `yaml:"app"`

	API struct {
		Token  string `yaml:"token"`
		Stream struct {
			WSURL             string `yaml:"ws_url"`
			ReconnectDelayMS  int    `yaml:"reconnect_delay_ms"`
			ReconnectJitterMS int    `yaml:"reconnect_jitter_ms"`
			PingIntervalSec   int    `yaml:"ping_interval_sec"`
			ReadTimeoutSec    int    `yaml:"read_timeout_sec"`
		} `yaml:"stream"`
		REST struct {
			BaseURL      string  `yaml:"base_url"`
			TimeoutSec   int     `yaml:"timeout_sec"`
			RateLimitRPS float64 `yaml:"rate_limit_rps"`
			RateBurst    int     `yaml:"rate_burst"`
		} `yaml:"rest"`
	} `yaml:"api"`

	Market struct {
		Symbols       []string `yaml:"symbols"`
		DefaultSymbol string   `yaml:"default_symbol"`
		TradeCapacity int      `yaml:"trade_capacity"`
	} `yaml:"market"`

	Positions struct {
		DayBoundaryTZ string `yaml:"day_boundary_tz"`
	} `yaml:"positions"`

	Engine struct {
		InboxSize         int `yaml:"inbox_size"`
		StatusIntervalSec int `yaml:"status_interval_sec"`
	} `yaml:"engine"`

	Logging struct {
		Level string `yaml:"level"`
		Dir   string `yaml:"dir"`
	} `yaml:"logging"`
}

// DefaultConfig returns the values used when a field is omitted.
func DefaultConfig() *Config {
	var cfg Config
	cfg.App.Name = "venue-sync"
	cfg.API.Stream.ReconnectDelayMS = 5000
	cfg.API.Stream.ReconnectJitterMS = 1000
	cfg.API.Stream.PingIntervalSec = 30
	cfg.API.Stream.ReadTimeoutSec = 60
	cfg.API.REST.TimeoutSec = 10
	cfg.API.REST.RateLimitRPS = 10
	cfg.API.REST.RateBurst = 5
	cfg.Market.TradeCapacity = 100
	cfg.Positions.DayBoundaryTZ = "UTC"
	cfg.Engine.InboxSize = 1024
	cfg.Engine.StatusIntervalSec = 10
	cfg.Logging.Level = "info"
	cfg.Logging.Dir = "logs"
	return &cfg
}

// LoadConfig reads and parses the configuration file.
func LoadConfig(path string) (*Config, error) {
	// .env is optional; real environment variables still win
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, &domain.ConfigError{Field: ".env", Err: err}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", domain.ErrConfigNotFound, path)
		}
		return nil, err
	}

	return ParseConfig(data)
}

// ParseConfig decodes YAML on top of the defaults, applies env overrides and validates.
func ParseConfig(data []byte) (*Config, error) {
	cfg := DefaultConfig()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, &domain.ConfigError{Field: "yaml", Err: err}
	}

	overrideWithEnv(cfg)

	if cfg.Market.DefaultSymbol == "" && len(cfg.Market.Symbols) > 0 {
		cfg.Market.DefaultSymbol = cfg.Market.Symbols[0]
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// Validate checks configuration validity
func (c *Config) Validate() error {
	ws := c.API.Stream.WSURL
	if !strings.HasPrefix(ws, "ws://") && !strings.HasPrefix(ws, "wss://") {
		return &domain.ConfigError{Field: "api.stream.ws_url", Err: fmt.Errorf("not a websocket url: %q", ws)}
	}
	rest := c.API.REST.BaseURL
	if !strings.HasPrefix(rest, "http://") && !strings.HasPrefix(rest, "https://") {
		return &domain.ConfigError{Field: "api.rest.base_url", Err: fmt.Errorf("not an http url: %q", rest)}
	}
	if c.API.Stream.ReconnectDelayMS <= 0 {
		return &domain.ConfigError{Field: "api.stream.reconnect_delay_ms", Err: errors.New("must be positive")}
	}
	if c.API.Stream.ReconnectJitterMS < 0 {
		return &domain.ConfigError{Field: "api.stream.reconnect_jitter_ms", Err: errors.New("must not be negative")}
	}
	if len(c.Market.Symbols) == 0 {
		return &domain.ConfigError{Field: "market.symbols", Err: errors.New("at least one symbol is required")}
	}
	if !slices.Contains(c.Market.Symbols, c.Market.DefaultSymbol) {
		return &domain.ConfigError{Field: "market.default_symbol", Err: fmt.Errorf("%q is not in market.symbols", c.Market.DefaultSymbol)}
	}
	if c.Market.TradeCapacity <= 0 {
		return &domain.ConfigError{Field: "market.trade_capacity", Err: errors.New("must be positive")}
	}
	if _, err := time.LoadLocation(c.Positions.DayBoundaryTZ); err != nil {
		return &domain.ConfigError{Field: "positions.day_boundary_tz", Err: err}
	}
	return nil
}

// ReconnectDelay is the fixed delay before a reconnect attempt.
func (c *Config) ReconnectDelay() time.Duration {
	return time.Duration(c.API.Stream.ReconnectDelayMS) * time.Millisecond
}

// ReconnectJitter is the upper bound of the random delay added to ReconnectDelay.
func (c *Config) ReconnectJitter() time.Duration {
	return time.Duration(c.API.Stream.ReconnectJitterMS) * time.Millisecond
}

// DayBoundary returns the location whose midnight resets daily PnL.
func (c *Config) DayBoundary() *time.Location {
	loc, err := time.LoadLocation(c.Positions.DayBoundaryTZ)
	if err != nil {
		return time.UTC
	}
	return loc
}

// overrideWithEnv replaces values with environment variables when present.
func overrideWithEnv(cfg *Config) {
	if token := os.Getenv("VENUE_TOKEN"); token != "" {
		cfg.API.Token = token
	}
	if u := os.Getenv("VENUE_WS_URL"); u != "" {
		cfg.API.Stream.WSURL = u
	}
	if u := os.Getenv("VENUE_REST_URL"); u != "" {
		cfg.API.REST.BaseURL = u
	}
	if lvl := os.Getenv("VENUE_LOG_LEVEL"); lvl != "" {
		cfg.Logging.Level = lvl
	}
}
