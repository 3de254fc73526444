// Package venue implements the signed REST client for the prediction-market
// exchange: Ed25519 request signing, token-bucket rate limiting, and the
// retry policy in SPEC_FULL.md §4.1/§7.
package venue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"predict-agent/internal/money"
)

// Config controls client construction. BaseURL and the auth credentials come
// from the environment-variable configuration loader (internal/config); this
// package has no knowledge of environment variables itself.
type Config struct {
	BaseURL    string
	AccessKey  string
	PrivateKey string // base64 Ed25519 seed
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64 // tokens per second, default 10
}

// Client is the signed REST client. One Client instance shares one rate
// limiter across all outbound traffic (§5).
type Client struct {
	http       *resty.Client
	auth       *Auth
	rl         *TokenBucket
	maxRetries int
	logger     *slog.Logger
}

// NewClient builds a Client. It fails if the auth credentials are invalid
// (empty or too-short key material, §4.1).
func NewClient(cfg Config, logger *slog.Logger) (*Client, error) {
	auth, err := NewAuth(cfg.AccessKey, cfg.PrivateKey)
	if err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = 3
	}
	rate := cfg.RateLimit
	if rate == 0 {
		rate = 10
	}

	httpClient := resty.New().
		SetBaseURL(cfg.BaseURL).
		SetTimeout(timeout).
		SetTransport(&http.Transport{
			MaxIdleConnsPerHost: 20,
			IdleConnTimeout:     30 * time.Second,
		})

	return &Client{
		http:       httpClient,
		auth:       auth,
		rl:         NewTokenBucket(rate, rate),
		maxRetries: maxRetries,
		logger:     logger.With("component", "venue"),
	}, nil
}

// doRequest implements the §4.1 retry policy around a single resty request
// builder. method/path feed both the HTTP call and the Ed25519 signature.
// 2xx responses decode into out and return. 429 sleeps for Retry-After
// (default 1s) and retries without consuming the retry budget as a failure.
// 5xx and transport errors retry with 500*2^attempt ms backoff. Other 4xx
// responses are not retried and are mapped to a typed *Error.
func (c *Client) doRequest(ctx context.Context, method, path string, body any, out any) error {
	var lastErr error

	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if err := c.rl.Wait(ctx); err != nil {
			return fmt.Errorf("venue: rate limiter: %w", err)
		}

		req := c.http.R().SetContext(ctx)
		if body != nil {
			raw, err := json.Marshal(body)
			if err != nil {
				return fmt.Errorf("venue: marshal request body: %w", err)
			}
			req.SetBody(raw)
		}

		headers := c.auth.Sign(method, path)
		headers.Set(req.SetHeader)

		resp, err := req.Execute(strings.ToUpper(method), path)
		if err != nil {
			lastErr = err
			c.sleepBackoff(ctx, attempt)
			continue
		}

		status := resp.StatusCode()
		switch {
		case status >= 200 && status < 300:
			if out != nil && len(resp.Body()) > 0 {
				if err := json.Unmarshal(resp.Body(), out); err != nil {
					return fmt.Errorf("venue: decode response for %s %s: %w", method, path, err)
				}
			}
			return nil

		case status == http.StatusTooManyRequests:
			retryAfter := parseRetryAfter(resp.Header().Get("Retry-After"))
			lastErr = &Error{Kind: KindRateLimited, Status: status, Message: "rate limited"}
			c.sleepFor(ctx, retryAfter)
			attempt--
			continue

		case status >= 500:
			lastErr = &Error{Kind: KindHTTP, Status: status, Message: "server error"}
			c.sleepBackoff(ctx, attempt)
			continue

		default:
			var eb errorBody
			_ = json.Unmarshal(resp.Body(), &eb)
			return &Error{
				Kind:    codeToKind(eb.Error.Code),
				Code:    eb.Error.Code,
				Message: eb.Error.Message,
				Status:  status,
			}
		}
	}

	return &Error{Kind: KindMaxRetriesExceeded, Message: "max retries exceeded", Err: lastErr}
}

func (c *Client) sleepBackoff(ctx context.Context, attempt int) {
	d := time.Duration(500*(1<<attempt)) * time.Millisecond
	c.sleepFor(ctx, d)
}

func (c *Client) sleepFor(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return time.Second
	}
	secs, err := strconv.Atoi(header)
	if err != nil || secs < 0 {
		return time.Second
	}
	return time.Duration(secs) * time.Second
}

// GetBalance fetches the USD balance, tolerating both list and
// single-object response shapes (§4.1 response quirks).
func (c *Client) GetBalance(ctx context.Context) (money.Money, error) {
	var raw json.RawMessage
	if err := c.doRequest(ctx, "GET", "/v1/account/balances", nil, &raw); err != nil {
		return money.Zero, err
	}
	return parseBalance(raw, c.logger)
}

func parseBalance(raw json.RawMessage, logger *slog.Logger) (money.Money, error) {
	var list []balanceEntry
	if err := json.Unmarshal(raw, &list); err == nil {
		return pickUSD(list, logger)
	}

	var single balanceEntry
	if err := json.Unmarshal(raw, &single); err == nil {
		amt, err := money.NewFromString(single.Amount)
		if err != nil {
			return money.Zero, fmt.Errorf("venue: parse balance amount: %w", err)
		}
		return amt, nil
	}

	return money.Zero, fmt.Errorf("venue: unrecognized balance response shape")
}

func pickUSD(list []balanceEntry, logger *slog.Logger) (money.Money, error) {
	if len(list) == 0 {
		return money.Zero, fmt.Errorf("venue: empty balance list")
	}
	chosen := list[0]
	for _, entry := range list {
		if strings.EqualFold(entry.Currency, "USD") {
			chosen = entry
			break
		}
	}
	amt, err := money.NewFromString(chosen.Amount)
	if err != nil {
		if logger != nil {
			logger.Warn("skipping unparseable balance entry", "currency", chosen.Currency, "error", err)
		}
		return money.Zero, fmt.Errorf("venue: parse balance amount: %w", err)
	}
	return amt, nil
}

// PositionRow is one parsed position, tolerant of the venue's several
// possible wrapping shapes.
type PositionRow struct {
	MarketSlug string
	Side       string
	Quantity   int64
	AvgPrice   money.Money
}

// GetPositions fetches all open positions, skipping unparseable entries
// with a warning rather than failing the whole call (§4.1).
func (c *Client) GetPositions(ctx context.Context) ([]PositionRow, error) {
	var raw []json.RawMessage
	if err := c.doRequest(ctx, "GET", "/v1/portfolio/positions", nil, &raw); err != nil {
		return nil, err
	}

	rows := make([]PositionRow, 0, len(raw))
	for _, item := range raw {
		row, ok := parsePositionEntry(item, c.logger)
		if ok {
			rows = append(rows, row)
		}
	}
	return rows, nil
}

func parsePositionEntry(raw json.RawMessage, logger *slog.Logger) (PositionRow, bool) {
	var entry positionEntry
	if err := json.Unmarshal(raw, &entry); err != nil {
		if logger != nil {
			logger.Warn("skipping unparseable position entry", "error", err)
		}
		return PositionRow{}, false
	}
	if len(entry.Position) > 0 {
		var inner positionEntry
		if err := json.Unmarshal(entry.Position, &inner); err == nil {
			entry.MarketSlug = firstNonEmpty(inner.MarketSlug, entry.MarketSlug)
			entry.Side = firstNonEmpty(inner.Side, entry.Side)
			entry.Quantity = firstNonEmpty(inner.Quantity, entry.Quantity)
			entry.AvgPrice = firstNonEmpty(inner.AvgPrice, entry.AvgPrice)
		}
	}

	qty, err := strconv.ParseInt(entry.Quantity, 10, 64)
	if err != nil {
		if logger != nil {
			logger.Warn("skipping position with unparseable quantity", "slug", entry.MarketSlug, "error", err)
		}
		return PositionRow{}, false
	}
	avg, err := money.NewFromString(entry.AvgPrice)
	if err != nil {
		if logger != nil {
			logger.Warn("skipping position with unparseable price", "slug", entry.MarketSlug, "error", err)
		}
		return PositionRow{}, false
	}

	return PositionRow{MarketSlug: entry.MarketSlug, Side: entry.Side, Quantity: qty, AvgPrice: avg}, true
}

func firstNonEmpty(a, b string) string {
	if a != "" {
		return a
	}
	return b
}

// ListMarketsParams configures the paginated market-index scan (§4.12 step 2).
type ListMarketsParams struct {
	Limit    int
	Offset   int
	Status   string
	Category string
	Closed   *bool
}

// ListMarkets fetches one page of the market index.
func (c *Client) ListMarkets(ctx context.Context, p ListMarketsParams) ([]MarketResponse, int, error) {
	path := fmt.Sprintf("/v1/markets?limit=%d&offset=%d", p.Limit, p.Offset)
	if p.Status != "" {
		path += "&status=" + p.Status
	}
	if p.Category != "" {
		path += "&categories=" + p.Category
	}
	if p.Closed != nil {
		path += fmt.Sprintf("&closed=%t", *p.Closed)
	}

	var resp marketsListResponse
	if err := c.doRequest(ctx, "GET", path, nil, &resp); err != nil {
		return nil, 0, err
	}
	return resp.Markets, resp.Total, nil
}

// GetMarket fetches a single market by slug.
func (c *Client) GetMarket(ctx context.Context, slug string) (*MarketResponse, error) {
	var resp MarketResponse
	if err := c.doRequest(ctx, "GET", "/v1/market/slug/"+slug, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOrderBook fetches the raw book response for a slug. Callers convert the
// bids/offers complement form into a domain.OrderBook (internal/book).
func (c *Client) GetOrderBook(ctx context.Context, slug string) (*BookResponse, error) {
	var resp BookResponse
	if err := c.doRequest(ctx, "GET", "/v1/markets/"+slug+"/book", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetBBO fetches the top-of-book shortcut for a slug.
func (c *Client) GetBBO(ctx context.Context, slug string) (*BBOResponse, error) {
	var resp BBOResponse
	if err := c.doRequest(ctx, "GET", "/v1/markets/"+slug+"/bbo", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PlaceOrder submits a new order.
func (c *Client) PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doRequest(ctx, "POST", "/v1/orders", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// PreviewOrder previews a fill without submitting it. Errors here are
// treated as best-effort by the live executor (§4.11).
func (c *Client) PreviewOrder(ctx context.Context, req OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doRequest(ctx, "POST", "/v1/order/preview", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// GetOpenOrders lists open orders, optionally scoped to one market.
func (c *Client) GetOpenOrders(ctx context.Context, marketSlug string) ([]OrderResponse, error) {
	path := "/v1/orders/open"
	if marketSlug != "" {
		path += "?marketSlug=" + marketSlug
	}
	var resp []OrderResponse
	if err := c.doRequest(ctx, "GET", path, nil, &resp); err != nil {
		return nil, err
	}
	return resp, nil
}

// GetOrder fetches a single order by ID.
func (c *Client) GetOrder(ctx context.Context, orderID string) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doRequest(ctx, "GET", "/v1/order/"+orderID, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelOrder cancels a single order by ID.
func (c *Client) CancelOrder(ctx context.Context, orderID string) error {
	return c.doRequest(ctx, "POST", "/v1/order/"+orderID+"/cancel", nil, nil)
}

// ModifyOrder modifies a resting order.
func (c *Client) ModifyOrder(ctx context.Context, orderID string, req OrderRequest) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doRequest(ctx, "POST", "/v1/order/"+orderID+"/modify", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// CancelAllOpenOrders cancels every open order, optionally scoped to one
// market (§4.11, §4.12 step 10).
func (c *Client) CancelAllOpenOrders(ctx context.Context, marketSlug string) (*CancelResponse, error) {
	path := "/v1/orders/open/cancel"
	if marketSlug != "" {
		path += "?marketSlug=" + marketSlug
	}
	var resp CancelResponse
	if err := c.doRequest(ctx, "POST", path, cancelRequest{MarketSlug: marketSlug}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ClosePosition requests the venue close out a held position at market.
func (c *Client) ClosePosition(ctx context.Context, marketSlug string) (*OrderResponse, error) {
	var resp OrderResponse
	if err := c.doRequest(ctx, "POST", "/v1/order/close-position", cancelRequest{MarketSlug: marketSlug}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}
