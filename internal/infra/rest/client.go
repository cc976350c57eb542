package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"venue_sync/internal/domain"
	"venue_sync/internal/infra"

	"golang.org/x/time/rate"
)

const maxErrorBody = 4 << 10

// Client is the venue REST API client (Boundary Layer).
// It implements domain.SnapshotSource.
type Client struct {
	baseURL    string
	httpClient *http.Client
	creds      domain.CredentialSource
	limiter    *rate.Limiter
	logger     *slog.Logger
}

var _ domain.SnapshotSource = (*Client)(nil)

// NewClient creates a REST client from the app config.
func NewClient(cfg *infra.Config, creds domain.CredentialSource) *Client {
	timeout := time.Duration(cfg.API.REST.TimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	limit := rate.Inf
	if cfg.API.REST.RateLimitRPS > 0 {
		limit = rate.Limit(cfg.API.REST.RateLimitRPS)
	}
	burst := cfg.API.REST.RateBurst
	if burst <= 0 {
		burst = 1
	}

	return &Client{
		baseURL: strings.TrimRight(cfg.API.REST.BaseURL, "/"),
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:    10,
				IdleConnTimeout: 30 * time.Second,
			},
		},
		creds:   creds,
		limiter: rate.NewLimiter(limit, burst),
		logger:  slog.Default().With("module", "rest_client"),
	}
}

// FetchMarketData returns the current ticker for symbol.
func (c *Client) FetchMarketData(ctx context.Context, symbol string) (domain.Ticker, error) {
	var t domain.Ticker
	if err := c.doJSON(ctx, "fetch market data", http.MethodGet, "/market-data/"+url.PathEscape(symbol), nil, &t); err != nil {
		return domain.Ticker{}, err
	}
	if t.Symbol == "" {
		t.Symbol = symbol
	}
	return t, nil
}

// FetchTradeHistory returns recent trades for symbol, oldest first.
func (c *Client) FetchTradeHistory(ctx context.Context, symbol string) ([]domain.Trade, error) {
	var trades []domain.Trade
	if err := c.doJSON(ctx, "fetch trade history", http.MethodGet, "/trades/"+url.PathEscape(symbol), nil, &trades); err != nil {
		return nil, err
	}
	return trades, nil
}

// FetchOrderBook returns the current book snapshot for symbol.
func (c *Client) FetchOrderBook(ctx context.Context, symbol string) (domain.OrderBookSnapshot, error) {
	var book domain.OrderBookSnapshot
	path := "/market-data/" + url.PathEscape(symbol) + "/order-book"
	if err := c.doJSON(ctx, "fetch order book", http.MethodGet, path, nil, &book); err != nil {
		return domain.OrderBookSnapshot{}, err
	}
	if book.Symbol == "" {
		book.Symbol = symbol
	}
	return book, nil
}

// SubmitOrder sends a create request; the answer carries the server id and status.
func (c *Client) SubmitOrder(ctx context.Context, req domain.OrderRequest) (domain.Order, error) {
	var order domain.Order
	if err := c.doJSON(ctx, "submit order", http.MethodPost, "/orders", req, &order); err != nil {
		return domain.Order{}, err
	}
	if order.ID == "" {
		return domain.Order{}, fmt.Errorf("submit order: response has no order id")
	}
	c.logger.Info("Order placed", slog.String("id", order.ID), slog.String("client_oid", req.ClientOrderID), slog.String("symbol", req.Symbol))
	return order, nil
}

// CancelOrder sends a cancel request for a server order id.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.doJSON(ctx, "cancel order", http.MethodDelete, "/orders/"+url.PathEscape(orderID), nil, nil)
}

// doJSON sends body as JSON and decodes a 2xx answer into out (if non-nil).
func (c *Client) doJSON(ctx context.Context, op, method, path string, body, out interface{}) error {
	resp, err := c.doRequest(ctx, method, path, body)
	if err != nil {
		return domain.NewNetworkError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		b, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		return &domain.APIError{Op: op, StatusCode: resp.StatusCode, Body: string(b)}
	}

	if out == nil {
		// drain so the connection can be reused
		io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%s: failed to parse response: %w", op, err)
	}
	return nil
}

// doRequest handles rate limiting, auth headers and serialization
func (c *Client) doRequest(ctx context.Context, method, path string, body interface{}) (*http.Response, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	var bodyReader io.Reader
	if body != nil {
		jsonBytes, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(jsonBytes)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}

	for k, v := range authHeaders(c.creds, body != nil) {
		req.Header.Set(k, v)
	}

	return c.httpClient.Do(req)
}
