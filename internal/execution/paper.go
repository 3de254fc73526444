// Package execution implements the two dispatch paths signals flow to after
// the risk pipeline approves them: a deterministic paper fill simulator
// (§4.10) and a live venue-backed executor (§4.11), behind one shared
// interface the orchestrator drives.
package execution

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"predict-agent/internal/book"
	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

// Executor is the interface the orchestrator drives: dispatch an approved
// signal, and run whatever periodic housekeeping that mode needs (resting-
// order fills for paper, venue reconciliation for live).
type Executor interface {
	Dispatch(ctx context.Context, sig domain.Signal) error
	Tick(ctx context.Context, tickNumber int64) error
}

// RestingOrder is an unfilled (or partially filled) limit order the paper
// executor rewalks the book against on every tick.
type RestingOrder struct {
	ID             string
	Slug           string
	Action         domain.SignalAction
	LimitPrice     money.Money
	Quantity       int64
	FilledQuantity int64
	CreatedAt      time.Time
}

// Remaining returns the unfilled quantity.
func (r *RestingOrder) Remaining() int64 { return r.Quantity - r.FilledQuantity }

// PaperConfig holds the paper executor's tunables (§4.10).
type PaperConfig struct {
	FeeRate     float64 // notional fraction, default 0.0010 (10bps)
	SlippageBps float64 // fraction, applied to market-order VWAP
}

// PaperExecutor is a deterministic fill simulator that walks the tracked
// order book the same way the venue's matching engine would, so paper mode
// exercises the same strategy/risk code path as live mode.
type PaperExecutor struct {
	cfg   PaperConfig
	state *state.Store
	book  *book.Tracker

	mu      sync.Mutex
	resting map[string]*RestingOrder
	nextSeq int64

	peakEquity money.Money

	logger *slog.Logger
}

// NewPaperExecutor wires the book tracker into the executor per §4.12 step 6.
func NewPaperExecutor(cfg PaperConfig, st *state.Store, tracker *book.Tracker, logger *slog.Logger) *PaperExecutor {
	return &PaperExecutor{
		cfg:        cfg,
		state:      st,
		book:       tracker,
		resting:    make(map[string]*RestingOrder),
		peakEquity: st.GetTotalEquity(),
		logger:     logger.With("component", "execution.paper"),
	}
}

// Dispatch classifies the signal (market vs. limit, §4.10), walks the book,
// and settles whatever fills. A signal rejected by the pre-checks or book
// walk returns an error describing why.
func (p *PaperExecutor) Dispatch(ctx context.Context, sig domain.Signal) error {
	if sig.Action.IsCancel() {
		p.cancelAll(sig.Slug)
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if err := p.precheck(sig); err != nil {
		return err
	}

	ob, _ := p.book.GetFull(sig.Slug)

	if sig.Urgency.IsMarketOrder() {
		return p.fillMarket(sig, ob)
	}
	return p.fillLimit(sig, ob)
}

// Tick runs check_resting_orders for the paper executor (§4.10); tickNumber
// is unused here since paper mode rewalks every tick, unlike live
// reconciliation's every-Nth-tick cadence.
func (p *PaperExecutor) Tick(ctx context.Context, tickNumber int64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.checkRestingOrders()
	return nil
}

func (p *PaperExecutor) precheck(sig domain.Signal) error {
	if sig.Action.IsBuy() {
		feeEstimate := sig.Price.MulInt64(sig.Quantity).Mul(money.FromLossyFloat(p.cfg.FeeRate))
		estimate := sig.Price.MulInt64(sig.Quantity).Add(feeEstimate)
		if estimate.GreaterThan(p.state.GetBalance()) {
			return fmt.Errorf("execution: buy rejected: notional+fee %s exceeds balance %s", estimate, p.state.GetBalance())
		}
		return nil
	}
	pos, ok := p.state.GetPosition(sig.Slug, sig.Action.Side())
	if !ok || pos.Quantity <= 0 {
		return fmt.Errorf("execution: sell rejected: no position on %s/%s", sig.Slug, sig.Action.Side())
	}
	return nil
}

// fillMarket walks the book from best inward, applies slippage to the VWAP,
// and settles the fill. An empty book falls back to the signal's own price.
func (p *PaperExecutor) fillMarket(sig domain.Signal, ob domain.OrderBook) error {
	levels, ascending := levelsFor(ob, sig.Action)
	filled, vwap := walkLevels(levels, sig.Quantity, ascending)

	if filled == 0 {
		if !sig.Price.IsPositive() {
			return fmt.Errorf("execution: rejected: no liquidity for %s", sig.Slug)
		}
		filled = sig.Quantity
		vwap = sig.Price
	}

	isBuy := sig.Action.IsBuy()
	slip := money.FromLossyFloat(p.cfg.SlippageBps)
	fillPrice := vwap.Mul(money.One.Add(slip))
	if !isBuy {
		fillPrice = vwap.Mul(money.One.Sub(slip))
	}

	p.settle(sig.Slug, sig.Action, fillPrice, filled)
	return nil
}

// fillLimit walks only the crossing levels (those at-or-better than the
// limit) and rests any remainder.
func (p *PaperExecutor) fillLimit(sig domain.Signal, ob domain.OrderBook) error {
	levels, ascending := levelsFor(ob, sig.Action)
	crossable := crossingLevels(levels, sig.Action, sig.Price)
	filled, vwap := walkLevels(crossable, sig.Quantity, ascending)

	if filled > 0 {
		p.settle(sig.Slug, sig.Action, vwap, filled)
	}

	remaining := sig.Quantity - filled
	if remaining > 0 {
		p.nextSeq++
		id := fmt.Sprintf("paper-%d", p.nextSeq)
		p.resting[id] = &RestingOrder{
			ID: id, Slug: sig.Slug, Action: sig.Action, LimitPrice: sig.Price,
			Quantity: sig.Quantity, FilledQuantity: filled, CreatedAt: time.Now(),
		}
	}
	return nil
}

// checkRestingOrders rewalks the book for each resting order and fills
// whatever now crosses the limit.
func (p *PaperExecutor) checkRestingOrders() {
	for id, ro := range p.resting {
		ob, ok := p.book.GetFull(ro.Slug)
		if !ok {
			continue
		}
		sigAction := ro.Action
		levels, ascending := levelsFor(ob, sigAction)
		crossable := crossingLevels(levels, sigAction, ro.LimitPrice)
		filled, vwap := walkLevels(crossable, ro.Remaining(), ascending)
		if filled == 0 {
			continue
		}
		p.settle(ro.Slug, sigAction, vwap, filled)
		ro.FilledQuantity += filled
		if ro.Remaining() <= 0 {
			delete(p.resting, id)
		}
	}
}

// cancelAll removes every resting order for the given slug.
func (p *PaperExecutor) cancelAll(slug string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for id, ro := range p.resting {
		if ro.Slug == slug {
			delete(p.resting, id)
		}
	}
}

// settle applies the per-fill accounting of §4.10: notional, fee, balance
// delta, position update, and drawdown tracking.
func (p *PaperExecutor) settle(slug string, action domain.SignalAction, price money.Money, qty int64) {
	notional := price.MulInt64(qty)
	fee := notional.Mul(money.FromLossyFloat(p.cfg.FeeRate))
	isBuy := action.IsBuy()

	if isBuy {
		p.state.AdjustBalance(notional.Add(fee).Neg())
	} else {
		p.state.AdjustBalance(notional.Sub(fee))
	}

	realized := p.state.ApplyFill(slug, action.Side(), isBuy, price, qty, time.Now())
	p.updateDrawdown()

	p.logger.Info("paper fill",
		"slug", slug, "action", action, "price", price, "qty", qty,
		"fee", fee, "realized_pnl", realized,
	)
}

func (p *PaperExecutor) updateDrawdown() {
	equity := p.state.GetTotalEquity()
	if equity.GreaterThan(p.peakEquity) {
		p.peakEquity = equity
	}
}

// levelsFor selects the book side and walk direction for a signal action:
// buys walk asks ascending (cheapest first), sells walk bids descending
// (richest first).
func levelsFor(ob domain.OrderBook, action domain.SignalAction) (levels []domain.PriceLevel, ascending bool) {
	switch action {
	case domain.BuyYes:
		return ob.Yes.Asks, true
	case domain.SellYes:
		return ob.Yes.Bids, false
	case domain.BuyNo:
		return ob.No.Asks, true
	case domain.SellNo:
		return ob.No.Bids, false
	default:
		return nil, true
	}
}

// crossingLevels filters to only the levels a limit order at limitPrice
// would actually cross: asks at or below the limit for buys, bids at or
// above the limit for sells.
func crossingLevels(levels []domain.PriceLevel, action domain.SignalAction, limitPrice money.Money) []domain.PriceLevel {
	out := make([]domain.PriceLevel, 0, len(levels))
	isBuy := action.IsBuy()
	for _, lvl := range levels {
		if isBuy && lvl.Price.LessThanOrEqual(limitPrice) {
			out = append(out, lvl)
		}
		if !isBuy && lvl.Price.GreaterThanOrEqual(limitPrice) {
			out = append(out, lvl)
		}
	}
	return out
}

// walkLevels accumulates (fill_qty, VWAP) from best price inward until
// wantQty is reached or the levels are exhausted.
func walkLevels(levels []domain.PriceLevel, wantQty int64, ascending bool) (filled int64, vwap money.Money) {
	if wantQty <= 0 || len(levels) == 0 {
		return 0, money.Zero
	}

	sorted := append([]domain.PriceLevel(nil), levels...)
	sort.Slice(sorted, func(i, j int) bool {
		if ascending {
			return sorted[i].Price.LessThan(sorted[j].Price)
		}
		return sorted[i].Price.GreaterThan(sorted[j].Price)
	})

	totalCost := money.Zero
	for _, lvl := range sorted {
		if filled >= wantQty {
			break
		}
		levelQty := lvl.Quantity.Floor()
		take := wantQty - filled
		if take > levelQty {
			take = levelQty
		}
		if take <= 0 {
			continue
		}
		filled += take
		totalCost = totalCost.Add(lvl.Price.MulInt64(take))
	}
	if filled == 0 {
		return 0, money.Zero
	}
	return filled, totalCost.Div(money.FromContracts(filled))
}
