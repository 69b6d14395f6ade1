// Package exchange is a small REST client for the exchange. Signed endpoints
// get their signature from the signing relay; the client never holds the
// secret.
package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"signing-relay/internal/canonical"
	"signing-relay/internal/core/ports"
	"signing-relay/pkg/apperror"
	"signing-relay/pkg/backoff"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	apiVersion = "v3"

	HeaderAPIKey = "X-MBX-APIKEY"

	maxErrorBody = 64 * 1024
)

// HTTPClient abstracts HTTP calls for testability.
type HTTPClient interface {
	Do(req *http.Request) (*http.Response, error)
}

// Config configures the REST client.
type Config struct {
	BaseURL     string // e.g. https://api.binance.com/api
	APIKey      string
	RecvWindow  int64 // milliseconds
	Timeout     time.Duration
	SignRetries int // extra attempts when the signing service is unavailable
}

// Client calls the exchange REST API.
type Client struct {
	cfg     Config
	http    HTTPClient
	signer  ports.RequestSigner
	log     zerolog.Logger
	now     func() time.Time
	backoff func(retry int) time.Duration
}

// NewClient creates a REST client. If httpClient is nil a client with
// cfg.Timeout is used.
func NewClient(cfg Config, httpClient HTTPClient, signer ports.RequestSigner, log zerolog.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}
	return &Client{
		cfg:     cfg,
		http:    httpClient,
		signer:  signer,
		log:     log,
		now:     time.Now,
		backoff: backoff.Default,
	}
}

// Ping tests connectivity and returns the round-trip time.
func (c *Client) Ping(ctx context.Context) (time.Duration, error) {
	start := time.Now()
	var out struct{}
	if err := c.do(ctx, http.MethodGet, "ping", nil, false, &out); err != nil {
		return 0, err
	}
	return time.Since(start), nil
}

// ServerTime returns the exchange clock in milliseconds.
func (c *Client) ServerTime(ctx context.Context) (int64, error) {
	var out ServerTime
	if err := c.do(ctx, http.MethodGet, "time", nil, false, &out); err != nil {
		return 0, err
	}
	return out.ServerTime, nil
}

// TickerPrice returns the latest price for symbol.
func (c *Client) TickerPrice(ctx context.Context, symbol string) (*TickerPrice, error) {
	var out TickerPrice
	params := canonical.Params{{Key: "symbol", Value: symbol}}
	if err := c.do(ctx, http.MethodGet, "ticker/price", params, false, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Account returns account information and balances.
func (c *Client) Account(ctx context.Context) (*Account, error) {
	var out Account
	if err := c.do(ctx, http.MethodGet, "account", nil, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// AssetBalance returns the balance of a single asset; zero if none is held.
func (c *Client) AssetBalance(ctx context.Context, asset string) (Balance, error) {
	acct, err := c.Account(ctx)
	if err != nil {
		return Balance{}, err
	}
	if b, ok := acct.Balance(asset); ok {
		return b, nil
	}
	return Balance{Asset: asset, Free: decimal.Zero, Locked: decimal.Zero}, nil
}

// CreateOrder places a new order.
func (c *Client) CreateOrder(ctx context.Context, req OrderRequest) (*Order, error) {
	var out Order
	if err := c.do(ctx, http.MethodPost, "order", req.params(), true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// TestOrder validates an order without sending it to the matching engine.
func (c *Client) TestOrder(ctx context.Context, req OrderRequest) error {
	var out struct{}
	return c.do(ctx, http.MethodPost, "order/test", req.params(), true, &out)
}

// CancelOrder cancels an open order by exchange order ID.
func (c *Client) CancelOrder(ctx context.Context, symbol string, orderID int64) (*Order, error) {
	var out Order
	params := canonical.Params{{Key: "symbol", Value: symbol}, {Key: "orderId", Value: orderID}}
	if err := c.do(ctx, http.MethodDelete, "order", params, true, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// OpenOrders lists open orders, for one symbol or all when symbol is empty.
func (c *Client) OpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var out []Order
	params := canonical.Params{{Key: "symbol", Value: optString(symbol)}}
	if err := c.do(ctx, http.MethodGet, "openOrders", params, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// CancelOpenOrders cancels every open order on symbol.
func (c *Client) CancelOpenOrders(ctx context.Context, symbol string) ([]Order, error) {
	var out []Order
	params := canonical.Params{{Key: "symbol", Value: symbol}}
	if err := c.do(ctx, http.MethodDelete, "openOrders", params, true, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func (r OrderRequest) params() canonical.Params {
	return canonical.Params{
		{Key: "symbol", Value: r.Symbol},
		{Key: "side", Value: r.Side},
		{Key: "type", Value: r.Type},
		{Key: "timeInForce", Value: optString(r.TimeInForce)},
		{Key: "quantity", Value: r.Quantity},
		{Key: "quoteOrderQty", Value: r.QuoteOrderQty},
		{Key: "price", Value: r.Price},
		{Key: "stopPrice", Value: r.StopPrice},
		{Key: "newClientOrderId", Value: optString(r.NewClientOrderID)},
	}
}

func optString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

// do sends one request. Signed requests get timestamp and recvWindow, then
// the relay's signature as the last parameter. GET sends parameters in the
// query string, other methods as a form body; both in canonical order so the
// exchange recomputes the exact string that was signed.
func (c *Client) do(ctx context.Context, method, path string, params canonical.Params, signed bool, out interface{}) error {
	var (
		encoded string
		err     error
	)
	if signed {
		encoded, err = c.signedQuery(ctx, params)
	} else {
		encoded, err = canonical.Canonicalize(params)
	}
	if err != nil {
		return err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/" + apiVersion + "/" + path
	var body io.Reader
	if method == http.MethodGet {
		if encoded != "" {
			url += "?" + encoded
		}
	} else {
		body = strings.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, body)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "signing-relay/trader")
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if c.cfg.APIKey != "" {
		req.Header.Set(HeaderAPIKey, c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{Status: resp.StatusCode}
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
		if jsonErr := json.Unmarshal(raw, apiErr); jsonErr != nil || apiErr.Msg == "" {
			apiErr.Msg = strings.TrimSpace(string(raw))
		}
		c.log.Warn().
			Str("method", method).
			Str("path", path).
			Int("status", apiErr.Status).
			Int("code", apiErr.Code).
			Str("msg", apiErr.Msg).
			Msg("exchange request failed")
		return apperror.ErrExchangeAPI(apiErr)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return apperror.ErrExchangeResponse(err)
	}
	return nil
}

func (c *Client) signedQuery(ctx context.Context, params canonical.Params) (string, error) {
	for attempt := 0; ; attempt++ {
		p := params.
			With("recvWindow", c.cfg.RecvWindow).
			With("timestamp", c.now().UnixMilli())

		c.log.Debug().Int("attempt", attempt).Msg("requesting signature")
		sig, err := c.signer.RequestSignature(ctx, p)
		if err == nil {
			pairs, err := canonical.Pairs(p.With(canonical.SignatureKey, sig))
			if err != nil {
				return "", err
			}
			return canonical.Join(pairs), nil
		}

		if !apperror.HasCode(err, apperror.CodeSigningUnavailable) || attempt >= c.cfg.SignRetries {
			return "", err
		}

		wait := c.backoff(attempt)
		c.log.Warn().Err(err).Int("attempt", attempt).Dur("retry_in", wait).Msg("signing service unavailable, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(wait):
		}
	}
}

// IsAPIError reports whether err is an exchange rejection with the given code.
func IsAPIError(err error, code int) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.Code == code
}
