// Package client talks to the ledger HTTP API.
package client

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/service"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const maxRetries = 3

// APIError is a non-success envelope returned by the server
type APIError struct {
	StatusCode int
	Code       int
	Message    string
	Data       json.RawMessage
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ledger api: status %d, code %d: %s", e.StatusCode, e.Code, e.Message)
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

// TradePage is one page of GET /trades
type TradePage struct {
	Items      []models.Trade `json:"items"`
	Total      int64          `json:"total"`
	Page       int            `json:"page"`
	PageSize   int            `json:"page_size"`
	TotalPages int            `json:"total_pages"`
}

// Options tunes a Client
type Options struct {
	Timeout   time.Duration
	RateLimit float64 // requests per second, 0 for unlimited
	Burst     int
	Backoff   time.Duration // first retry delay for reads; doubles per attempt
}

// Client is a ledger API client
type Client struct {
	client  *resty.Client
	logger  *zap.Logger
	limiter *rate.Limiter
	backoff time.Duration
}

// New creates a client for the server at baseURL
func New(baseURL string, opts Options, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 10 * time.Second
	}
	if opts.Backoff <= 0 {
		opts.Backoff = 500 * time.Millisecond
	}

	limit := rate.Inf
	if opts.RateLimit > 0 {
		limit = rate.Limit(opts.RateLimit)
	}
	if opts.Burst < 1 {
		opts.Burst = 1
	}

	return &Client{
		client: resty.New().
			SetBaseURL(baseURL).
			SetTimeout(opts.Timeout).
			SetHeader("Content-Type", "application/json"),
		logger:  logger,
		limiter: rate.NewLimiter(limit, opts.Burst),
		backoff: opts.Backoff,
	}
}

// CreateTrade submits a trade; a negative qty sells
func (c *Client) CreateTrade(ctx context.Context, symbol string, qty, price decimal.Decimal) (*service.TradeResult, error) {
	body := service.CreateTradeRequest{Symbol: symbol, Qty: qty, Price: price}

	var result service.TradeResult
	if err := c.do(ctx, http.MethodPost, "/api/v1/trades", c.client.R().SetBody(body), &result); err != nil {
		return nil, fmt.Errorf("create trade: %w", err)
	}
	return &result, nil
}

// ProcessTrade retries a stored trade
func (c *Client) ProcessTrade(ctx context.Context, id uint) (*service.TradeResult, error) {
	var result service.TradeResult
	path := "/api/v1/trades/" + strconv.FormatUint(uint64(id), 10) + "/process"
	if err := c.do(ctx, http.MethodPost, path, c.client.R(), &result); err != nil {
		return nil, fmt.Errorf("process trade %d: %w", id, err)
	}
	return &result, nil
}

// ListTrades lists trades, optionally only one symbol or only unprocessed ones
func (c *Client) ListTrades(ctx context.Context, symbol string, pendingOnly bool, page, pageSize int) (*TradePage, error) {
	req := c.client.R()
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}
	if pendingOnly {
		req.SetQueryParam("processed", "false")
	}
	if page > 0 {
		req.SetQueryParam("page", strconv.Itoa(page))
	}
	if pageSize > 0 {
		req.SetQueryParam("page_size", strconv.Itoa(pageSize))
	}

	var result TradePage
	if err := c.do(ctx, http.MethodGet, "/api/v1/trades", req, &result); err != nil {
		return nil, fmt.Errorf("list trades: %w", err)
	}
	return &result, nil
}

// Positions fetches open lots and per-symbol aggregates
func (c *Client) Positions(ctx context.Context) (*service.PositionsSnapshot, error) {
	var result service.PositionsSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/positions", c.client.R(), &result); err != nil {
		return nil, fmt.Errorf("get positions: %w", err)
	}
	return &result, nil
}

// RealizedPnL fetches realized profit per symbol and in total
func (c *Client) RealizedPnL(ctx context.Context) (*service.RealizedSnapshot, error) {
	var result service.RealizedSnapshot
	if err := c.do(ctx, http.MethodGet, "/api/v1/pnl", c.client.R(), &result); err != nil {
		return nil, fmt.Errorf("get realized pnl: %w", err)
	}
	return &result, nil
}

// RealizedEntries fetches the realized log, optionally for one symbol
func (c *Client) RealizedEntries(ctx context.Context, symbol string) ([]models.RealizedPnL, error) {
	req := c.client.R()
	if symbol != "" {
		req.SetQueryParam("symbol", symbol)
	}

	var result []models.RealizedPnL
	if err := c.do(ctx, http.MethodGet, "/api/v1/pnl/entries", req, &result); err != nil {
		return nil, fmt.Errorf("get realized entries: %w", err)
	}
	return result, nil
}

// do executes req and decodes the envelope's data into out. Reads are retried
// on 429 and 5xx with exponential backoff; writes are sent once.
func (c *Client) do(ctx context.Context, method, path string, req *resty.Request, out interface{}) error {
	req.SetContext(ctx)

	attempts := 1
	if method == http.MethodGet {
		attempts = maxRetries
	}

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			wait := c.backoff << (i - 1)
			c.logger.Warn("Request failed, retrying",
				zap.String("path", path),
				zap.Int("attempt", i+1),
				zap.Duration("retry_after", wait),
				zap.Error(lastErr),
			)
			select {
			case <-time.After(wait):
			case <-ctx.Done():
				return ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return fmt.Errorf("rate limiter wait failed: %w", err)
		}

		c.logger.Debug("Executing request", zap.String("method", method), zap.String("path", path))
		resp, err := req.Execute(method, path)
		if err != nil {
			lastErr = err
			continue
		}

		if err := decode(resp, out); err != nil {
			lastErr = err
			if retryable(resp.StatusCode()) {
				continue
			}
			return err
		}
		return nil
	}
	return lastErr
}

func decode(resp *resty.Response, out interface{}) error {
	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return &APIError{StatusCode: resp.StatusCode(), Code: -1, Message: resp.String()}
	}
	if resp.IsError() || env.Code != 0 {
		return &APIError{
			StatusCode: resp.StatusCode(),
			Code:       env.Code,
			Message:    env.Message,
			Data:       env.Data,
		}
	}
	if out == nil || len(env.Data) == 0 {
		return nil
	}
	if err := json.Unmarshal(env.Data, out); err != nil {
		return fmt.Errorf("decode response data: %w", err)
	}
	return nil
}

func retryable(status int) bool {
	return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
}
