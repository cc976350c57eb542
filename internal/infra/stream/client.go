package stream

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"sync"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/event"
	"venue_sync/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultHandshakeTimeout = 10 * time.Second
	defaultPingInterval     = 30 * time.Second
	defaultReadTimeout      = 60 * time.Second
	writeTimeout            = 10 * time.Second
)

// Options configures a Client.
type Options struct {
	URL             string
	Credentials     domain.CredentialSource
	ReconnectDelay  time.Duration
	ReconnectJitter time.Duration
	PingInterval    time.Duration
	ReadTimeout     time.Duration
	// OnMalformed observes frames that failed to parse. Optional.
	OnMalformed func(raw []byte, err error)
	// Metrics defaults to infra.GlobalMetrics.
	Metrics *infra.Metrics
}

// OptionsFromConfig builds client options from the app config.
func OptionsFromConfig(cfg *infra.Config, creds domain.CredentialSource) Options {
	return Options{
		URL:             cfg.API.Stream.WSURL,
		Credentials:     creds,
		ReconnectDelay:  cfg.ReconnectDelay(),
		ReconnectJitter: cfg.ReconnectJitter(),
		PingInterval:    time.Duration(cfg.API.Stream.PingIntervalSec) * time.Second,
		ReadTimeout:     time.Duration(cfg.API.Stream.ReadTimeoutSec) * time.Second,
	}
}

// Client owns one streaming connection, multiplexes frames to subscribers
// and reconnects forever after a fixed, jittered delay.
type Client struct {
	opt      Options
	poster   domain.Poster
	registry *event.Registry
	metrics  *infra.Metrics
	logger   *slog.Logger

	conn      *websocket.Conn
	mu        sync.RWMutex
	writeMu   sync.Mutex
	connected bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// NewClient creates a transport whose handlers run on poster.
func NewClient(opt Options, poster domain.Poster) *Client {
	if opt.PingInterval <= 0 {
		opt.PingInterval = defaultPingInterval
	}
	if opt.ReadTimeout <= 0 {
		opt.ReadTimeout = defaultReadTimeout
	}
	metrics := opt.Metrics
	if metrics == nil {
		metrics = infra.GlobalMetrics
	}
	return &Client{
		opt:      opt,
		poster:   poster,
		registry: event.NewRegistry(),
		metrics:  metrics,
		logger:   slog.Default().With("module", "stream"),
	}
}

// Subscribe registers h for every frame of type t until the handle is unsubscribed.
func (c *Client) Subscribe(t event.MessageType, h event.Handler) *event.Subscription {
	return c.registry.Subscribe(t, h)
}

// Connect starts the connection loop and returns immediately.
func (c *Client) Connect(ctx context.Context) error {
	if c.opt.URL == "" {
		return fmt.Errorf("stream: %w", domain.ErrNotConnected)
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

// connectionLoop schedules exactly one reconnect per lost connection.
func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("Stream panic recovered", slog.Any("panic", r))
		}
	}()

	attempt := 0
	for {
		if ctx.Err() != nil {
			c.logger.Info("Stream connection loop stopped")
			return
		}

		if err := c.connect(ctx); err != nil {
			c.logger.Warn("Stream connection failed", slog.Any("error", err), slog.Int("attempt", attempt))
		} else {
			attempt = 0
			if !c.readLoop(ctx) {
				c.logger.Warn("Engine loop stopped, stream connection loop exiting")
				return
			}
		}

		if ctx.Err() != nil {
			return
		}

		attempt++
		delay := infra.ReconnectDelay(c.opt.ReconnectDelay, c.opt.ReconnectJitter)
		c.metrics.RecordReconnect()
		c.logger.Info("Stream reconnect scheduled", slog.Duration("delay", delay), slog.Int("attempt", attempt))

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

func (c *Client) connect(ctx context.Context) error {
	target, header, err := c.handshake()
	if err != nil {
		return domain.NewFatalNetworkError("dial", err)
	}

	dialer := websocket.Dialer{HandshakeTimeout: defaultHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, target, header)
	if err != nil {
		return domain.NewNetworkError("dial", err)
	}

	c.mu.Lock()
	c.conn = conn
	c.connected = true
	c.mu.Unlock()
	c.metrics.IncrementConnections()

	c.logger.Info("Stream connected", slog.String("url", c.opt.URL))
	return nil
}

// handshake attaches the bearer credential as header and token query parameter.
func (c *Client) handshake() (string, http.Header, error) {
	u, err := url.Parse(c.opt.URL)
	if err != nil {
		return "", nil, err
	}
	header := make(http.Header)
	if c.opt.Credentials != nil {
		if token := c.opt.Credentials.Token(); token != "" {
			header.Set("Authorization", "Bearer "+token)
			q := u.Query()
			q.Set("token", token)
			u.RawQuery = q.Encode()
		}
	}
	return u.String(), header, nil
}

// readLoop pumps frames until the connection drops. It returns false when the
// poster refused a frame, which ends the client.
func (c *Client) readLoop(ctx context.Context) bool {
	c.mu.RLock()
	conn := c.conn
	c.mu.RUnlock()
	if conn == nil {
		return true
	}

	connCtx, stopPing := context.WithCancel(ctx)
	defer stopPing()

	conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))
	})
	go c.pingLoop(connCtx, conn)

	// unblock ReadMessage on shutdown
	go func() {
		<-connCtx.Done()
		if ctx.Err() != nil {
			c.closeConnection()
		}
	}()

	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				c.logger.Warn("Stream connection lost", slog.Any("error", err))
			}
			c.closeConnection()
			return true
		}
		conn.SetReadDeadline(time.Now().Add(c.opt.ReadTimeout))

		if !c.handleMessage(msg) {
			c.closeConnection()
			return false
		}
	}
}

// handleMessage parses one frame and hands it to the loop.
// It returns false when the loop no longer accepts work.
func (c *Client) handleMessage(msg []byte) bool {
	c.metrics.RecordFrame()

	env := event.AcquireEnvelope()
	if err := event.Parse(msg, env); err != nil {
		event.ReleaseEnvelope(env)
		c.metrics.RecordMalformed()
		c.logger.Warn("Malformed frame dropped", slog.Any("error", err), slog.Int("bytes", len(msg)))
		if c.opt.OnMalformed != nil {
			c.opt.OnMalformed(msg, err)
		}
		return true
	}

	ok := c.poster.Post(func() {
		c.registry.Dispatch(env)
		event.ReleaseEnvelope(env)
	})
	if !ok {
		event.ReleaseEnvelope(env)
	}
	return ok
}

func (c *Client) pingLoop(ctx context.Context, conn *websocket.Conn) {
	ticker := time.NewTicker(c.opt.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeTimeout)); err != nil {
				c.logger.Debug("Ping failed", slog.Any("error", err))
				return
			}
		}
	}
}

// Send transmits msg as JSON if the connection is open. Otherwise the
// message is discarded and Send returns false. Delivery is never guaranteed.
func (c *Client) Send(msg any) bool {
	if !c.IsConnected() {
		return false
	}
	b, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal outbound message", slog.Any("error", err))
		return false
	}
	if err := c.threadSafeWrite(websocket.TextMessage, b); err != nil {
		c.logger.Debug("Outbound message discarded", slog.Any("error", err))
		return false
	}
	return true
}

func (c *Client) threadSafeWrite(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return domain.ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	return c.conn.WriteMessage(msgType, data)
}

// IsConnected reports whether a connection is currently open.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
		c.metrics.DecrementConnections()
	}
	c.connected = false
}

// Disconnect stops reconnecting and closes the connection.
func (c *Client) Disconnect() {
	if c.cancel != nil {
		c.cancel()
	}
	c.closeConnection()
	c.wg.Wait()
}
