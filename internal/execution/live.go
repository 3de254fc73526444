package execution

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
	"predict-agent/internal/venue"
)

// VenueOrderClient is the subset of *venue.Client the live executor needs,
// so tests can substitute a fake venue without a real signed client.
type VenueOrderClient interface {
	PreviewOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResponse, error)
	PlaceOrder(ctx context.Context, req venue.OrderRequest) (*venue.OrderResponse, error)
	CancelAllOpenOrders(ctx context.Context, marketSlug string) (*venue.CancelResponse, error)
	GetBalance(ctx context.Context) (money.Money, error)
	GetPositions(ctx context.Context) ([]venue.PositionRow, error)
	GetOpenOrders(ctx context.Context, marketSlug string) ([]venue.OrderResponse, error)
}

// LiveConfig controls the live executor's reconciliation cadence (§4.11).
type LiveConfig struct {
	ReconcileEveryNTicks int64 // default 10
}

// LiveExecutor dispatches approved signals to the venue and periodically
// reconciles local state against it. It satisfies the same Executor
// interface as PaperExecutor so the orchestrator's tick loop is mode-
// agnostic (§4.11, §4.12 step 6).
type LiveExecutor struct {
	client VenueOrderClient
	state  *state.Store
	cfg    LiveConfig
	logger *slog.Logger
}

// NewLiveExecutor builds a LiveExecutor against the signed venue client.
func NewLiveExecutor(client VenueOrderClient, st *state.Store, cfg LiveConfig, logger *slog.Logger) *LiveExecutor {
	if cfg.ReconcileEveryNTicks <= 0 {
		cfg.ReconcileEveryNTicks = 10
	}
	return &LiveExecutor{
		client: client,
		state:  st,
		cfg:    cfg,
		logger: logger.With("component", "execution.live"),
	}
}

// Dispatch sends a preview (best-effort, §4.11) then creates the order,
// recording the venue's response in local order state. CancelAll goes
// straight to the venue's cancel-all endpoint.
func (l *LiveExecutor) Dispatch(ctx context.Context, sig domain.Signal) error {
	if sig.Action.IsCancel() {
		if _, err := l.client.CancelAllOpenOrders(ctx, sig.Slug); err != nil {
			return fmt.Errorf("execution: cancel-all %s: %w", sig.Slug, err)
		}
		return nil
	}

	req := buildOrderRequest(sig)

	if _, err := l.client.PreviewOrder(ctx, req); err != nil {
		l.logger.Warn("order preview failed, proceeding anyway", "slug", sig.Slug, "error", err)
	}

	resp, err := l.client.PlaceOrder(ctx, req)
	if err != nil {
		return fmt.Errorf("execution: place order %s: %w", sig.Slug, err)
	}

	order, err := toOrder(*resp)
	if err != nil {
		l.logger.Warn("placed order has unparseable fields", "order_id", resp.OrderID, "error", err)
		return nil
	}
	l.state.UpsertOrder(order)
	l.logger.Info("order placed", "order_id", order.OrderID, "slug", order.Slug, "intent", order.Intent, "status", order.Status)
	return nil
}

// Tick runs reconcile_state every ReconcileEveryNTicks ticks (§4.11).
func (l *LiveExecutor) Tick(ctx context.Context, tickNumber int64) error {
	if tickNumber%l.cfg.ReconcileEveryNTicks != 0 {
		return nil
	}
	return l.reconcile(ctx)
}

// reconcile refreshes balance, positions, and open orders from the venue,
// promoting any locally-open order the venue no longer reports as open to
// Filled (§4.11). Each sub-call is independent: a failure in one is logged
// and does not block the others.
func (l *LiveExecutor) reconcile(ctx context.Context) error {
	if bal, err := l.client.GetBalance(ctx); err != nil {
		l.logger.Warn("reconcile: balance refresh failed", "error", err)
	} else {
		l.state.SetBalance(bal)
	}

	if rows, err := l.client.GetPositions(ctx); err != nil {
		l.logger.Warn("reconcile: position refresh failed", "error", err)
	} else {
		positions := make([]domain.Position, 0, len(rows))
		for _, row := range rows {
			side, ok := parseSide(row.Side)
			if !ok {
				l.logger.Warn("reconcile: skipping position with unrecognized side", "slug", row.MarketSlug, "side", row.Side)
				continue
			}
			positions = append(positions, domain.Position{
				Slug:     row.MarketSlug,
				Side:     side,
				Quantity: row.Quantity,
				AvgPrice: row.AvgPrice,
			})
		}
		l.state.ReplacePositions(positions)
	}

	openResp, err := l.client.GetOpenOrders(ctx, "")
	if err != nil {
		l.logger.Warn("reconcile: open-order refresh failed", "error", err)
		return nil
	}

	stillOpen := make(map[string]struct{}, len(openResp))
	for _, resp := range openResp {
		stillOpen[resp.OrderID] = struct{}{}
		order, err := toOrder(resp)
		if err != nil {
			continue
		}
		if existing, ok := l.state.GetOrder(order.OrderID); ok {
			order.CreatedAt = existing.CreatedAt
		}
		l.state.UpsertOrder(order)
	}

	for _, tracked := range l.state.OpenOrders("") {
		if _, ok := stillOpen[tracked.OrderID]; ok {
			continue
		}
		tracked.Status = domain.Filled
		l.state.UpsertOrder(tracked)
	}

	return nil
}

// buildOrderRequest translates an approved signal into the venue's wire
// shape: High/Critical urgency signals submit as IOC market orders, lower
// urgency as GTC limit orders (§4.10's market-vs-limit split applies
// identically in live mode).
func buildOrderRequest(sig domain.Signal) venue.OrderRequest {
	intent := intentString(sig.Action)

	if sig.Urgency.IsMarketOrder() {
		return venue.NewOrderRequest(sig.Slug, "market", nil, sig.Quantity, "IOC", intent)
	}
	price := sig.Price
	return venue.NewOrderRequest(sig.Slug, "limit", &price, sig.Quantity, "GTC", intent)
}

func intentString(action domain.SignalAction) string {
	switch action {
	case domain.BuyYes:
		return domain.BuyLong.String()
	case domain.SellYes:
		return domain.SellLong.String()
	case domain.BuyNo:
		return domain.BuyShort.String()
	case domain.SellNo:
		return domain.SellShort.String()
	default:
		return ""
	}
}

// toOrder converts a venue OrderResponse into the internal domain.Order,
// parsing its string-typed numeric and enum fields.
func toOrder(resp venue.OrderResponse) (domain.Order, error) {
	price, err := money.NewFromString(resp.Price)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse price: %w", err)
	}
	qty, err := parseQuantity(resp.Quantity)
	if err != nil {
		return domain.Order{}, fmt.Errorf("parse quantity: %w", err)
	}
	filled, err := parseQuantity(resp.FilledQuantity)
	if err != nil {
		filled = 0
	}

	return domain.Order{
		OrderID:        resp.OrderID,
		Slug:           resp.MarketSlug,
		Intent:         parseIntent(resp.Intent),
		Price:          price,
		Quantity:       qty,
		FilledQuantity: filled,
		Status:         parseOrderStatus(resp.Status),
		CreatedAt:      time.Now(),
	}, nil
}

func parseQuantity(s string) (int64, error) {
	m, err := money.NewFromString(s)
	if err != nil {
		return 0, err
	}
	return m.Floor(), nil
}

func parseIntent(s string) domain.Intent {
	switch s {
	case "BuyLong":
		return domain.BuyLong
	case "SellLong":
		return domain.SellLong
	case "BuyShort":
		return domain.BuyShort
	case "SellShort":
		return domain.SellShort
	default:
		return domain.BuyLong
	}
}

// parseOrderStatus tolerates the several casings/spellings the venue may use
// for each state, defaulting unknown values to Open rather than failing.
func parseOrderStatus(s string) domain.OrderStatus {
	switch strings.ToLower(strings.ReplaceAll(s, "_", "")) {
	case "pending":
		return domain.Pending
	case "open", "new", "accepted":
		return domain.Open
	case "partiallyfilled":
		return domain.PartiallyFilled
	case "filled":
		return domain.Filled
	case "cancelled", "canceled":
		return domain.Cancelled
	case "rejected":
		return domain.Rejected
	default:
		return domain.Open
	}
}

func parseSide(s string) (domain.Side, bool) {
	switch strings.ToUpper(s) {
	case "YES":
		return domain.Yes, true
	case "NO":
		return domain.No, true
	default:
		return domain.Yes, false
	}
}
