// Package strategy implements the three alpha generators described in §4.6-
// §4.9: a two-sided market maker with inventory skew and stop-loss, a
// live in-game arbitrageur driven by score events, and a statistical-edge
// model driven by sportsbook odds. Each strategy reads shared state and
// produces domain.Signal values; it never talks to the venue or the risk
// pipeline directly.
package strategy

import (
	"log/slog"
	"strings"
	"sync"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

// minSpread is the absolute floor on ask-bid, independent of min_spread_pct:
// a market this tight can't cover the taker fee on the other side.
var minSpread = money.New("0.003")

// minTradeSize is the $1 notional floor the quantity formula guarantees.
var minTradeSize = money.One

// clampLo and clampHi bound every quoted price (§4.6).
var (
	clampLo = money.New("0.01")
	clampHi = money.New("0.99")
)

// MarketMakerConfig holds the per-deployment tunables for the market-maker
// strategy (RISK_* and per-strategy env vars map onto these, §6).
type MarketMakerConfig struct {
	Enabled bool
	// EnabledMarkets is the configured market allow-list; an entry ending in
	// "*" matches by prefix. An empty list enables every market.
	EnabledMarkets []string

	OrderSize             money.Money
	MaxInventory          money.Money
	InventorySkewFactor   float64
	MinSpreadPct          float64
	MaxSpreadPct          float64
	RefreshInterval       time.Duration
	PriceTolerance        money.Money
	MakerOnly             bool
	MaxContractsPerOrder  int64
	MinMidPrice           money.Money
	MaxMidPrice           money.Money
	StopLossCooldown      time.Duration
	AggressiveStopLossPct float64
	StopLossPct           float64
	MaxUnderwaterHold     time.Duration
}

// QuoteState is the last quote this strategy posted for a market.
type QuoteState struct {
	BidPrice     money.Money
	AskPrice     money.Money
	LastRefresh  time.Time
	LastMidPrice money.Money
}

// Maker is the market-maker strategy. One instance tracks every market it
// quotes, the way the state store and book tracker track every slug behind a
// single lock rather than one goroutine per market.
type Maker struct {
	cfg   MarketMakerConfig
	state *state.Store

	mu        sync.Mutex
	quotes    map[string]*QuoteState
	cooldowns map[string]time.Time // slug -> stop-loss cooldown expiry

	logger *slog.Logger
}

// NewMaker builds the market-maker strategy against the shared state store.
func NewMaker(cfg MarketMakerConfig, st *state.Store, logger *slog.Logger) *Maker {
	return &Maker{
		cfg:       cfg,
		state:     st,
		quotes:    make(map[string]*QuoteState),
		cooldowns: make(map[string]time.Time),
		logger:    logger.With("component", "strategy.maker"),
	}
}

// Evaluate runs the stop-loss check and the quoting logic for one market and
// returns the concatenated signal list (stop-loss exits first, then any
// requote). Called on every market update and on every tick (§4.9).
func (mk *Maker) Evaluate(m domain.Market, now time.Time) []domain.Signal {
	mk.mu.Lock()
	defer mk.mu.Unlock()

	var out []domain.Signal
	out = append(out, mk.checkStopLoss(m, now)...)
	out = append(out, mk.evaluateQuote(m, now)...)
	return out
}

func (mk *Maker) marketEnabled(slug string) bool {
	if len(mk.cfg.EnabledMarkets) == 0 {
		return true
	}
	for _, pattern := range mk.cfg.EnabledMarkets {
		if pattern == slug {
			return true
		}
		if prefix, ok := strings.CutSuffix(pattern, "*"); ok && strings.HasPrefix(slug, prefix) {
			return true
		}
	}
	return false
}

// evaluateQuote implements the skip conditions, refresh trigger, and the
// full quoting formula of §4.6.
func (mk *Maker) evaluateQuote(m domain.Market, now time.Time) []domain.Signal {
	if !mk.cfg.Enabled {
		return nil
	}
	if !mk.marketEnabled(m.Slug) {
		return nil
	}
	if !m.HasValidPrices() {
		return nil
	}
	mid, ok := m.Mid()
	if !ok {
		return nil
	}
	if mid.LessThan(mk.cfg.MinMidPrice) || mid.GreaterThan(mk.cfg.MaxMidPrice) {
		return nil
	}
	if until, ok := mk.cooldowns[m.Slug]; ok && now.Before(until) {
		return nil
	}

	existing := mk.quotes[m.Slug]
	if !mk.shouldRefresh(existing, mid, now) {
		return nil
	}

	bid, ask, ok := mk.computeQuote(m, mid)
	if !ok {
		return nil
	}

	spreadPct := ask.Sub(bid).Div(mid).InexactFloat64()
	if spreadPct < mk.cfg.MinSpreadPct || spreadPct > mk.cfg.MaxSpreadPct {
		return nil
	}
	if ask.Sub(bid).LessThan(minSpread) {
		return nil
	}

	bidQty := mk.quantityFor(bid)
	askQty := mk.quantityFor(ask)

	if yesPos, ok := mk.state.GetPosition(m.Slug, domain.Yes); ok && yesPos.CostBasis().GreaterThanOrEqual(mk.cfg.MaxInventory) {
		bidQty = 0
	}
	if noPos, ok := mk.state.GetPosition(m.Slug, domain.No); ok && noPos.CostBasis().GreaterThanOrEqual(mk.cfg.MaxInventory) {
		askQty = 0
	}

	var out []domain.Signal
	if existing != nil {
		out = append(out, domain.Signal{
			Slug: m.Slug, Action: domain.CancelAll, Urgency: domain.Low,
			StrategyName: "market_maker", Reason: "requoting", Timestamp: now,
		})
	}
	if bidQty > 0 {
		out = append(out, domain.Signal{
			Slug: m.Slug, Action: domain.BuyYes, Price: bid, Quantity: bidQty,
			Urgency: domain.Low, Confidence: 1.0, StrategyName: "market_maker",
			Reason: "quote", Timestamp: now,
		})
	}
	if askQty > 0 {
		out = append(out, domain.Signal{
			Slug: m.Slug, Action: domain.SellYes, Price: ask, Quantity: askQty,
			Urgency: domain.Low, Confidence: 1.0, StrategyName: "market_maker",
			Reason: "quote", Timestamp: now,
		})
	}

	mk.quotes[m.Slug] = &QuoteState{BidPrice: bid, AskPrice: ask, LastRefresh: now, LastMidPrice: mid}
	return out
}

func (mk *Maker) shouldRefresh(q *QuoteState, mid money.Money, now time.Time) bool {
	if q == nil {
		return true
	}
	if now.Sub(q.LastRefresh) >= mk.cfg.RefreshInterval {
		return true
	}
	return mid.Sub(q.LastMidPrice).Abs().GreaterThanOrEqual(mk.cfg.PriceTolerance)
}

// computeQuote derives the bid/ask pair with inventory skew, the maker-only
// crossing guard, and the [0.01, 0.99] clamp. Returns ok=false when no valid
// pair can be produced (still inverted after every fallback).
func (mk *Maker) computeQuote(m domain.Market, mid money.Money) (bid, ask money.Money, ok bool) {
	spread := m.YesAsk.Sub(*m.YesBid)
	half := spread.Div(money.FromContracts(2))

	unskewedBid := mid.Sub(half).Clamp(clampLo, clampHi)
	unskewedAsk := mid.Add(half).Clamp(clampLo, clampHi)

	skew, skewOk := mk.inventorySkew(m.Slug, half)
	bid, ask = unskewedBid, unskewedAsk
	if skewOk {
		skewedBid := mid.Sub(half).Add(skew).Clamp(clampLo, clampHi)
		skewedAsk := mid.Add(half).Add(skew).Clamp(clampLo, clampHi)
		if skewedBid.LessThan(skewedAsk) {
			bid, ask = skewedBid, skewedAsk
		}
		// else: skew inverted the pair, fall back to the unskewed quote.
	}

	if mk.cfg.MakerOnly {
		tightBid := bid.Min(*m.YesBid)
		tightAsk := ask.Max(*m.YesAsk)
		if tightBid.LessThan(tightAsk) {
			return tightBid, tightAsk, true
		}
		if m.YesBid.LessThan(*m.YesAsk) {
			return *m.YesBid, *m.YesAsk, true
		}
		return money.Zero, money.Zero, false
	}

	if !bid.LessThan(ask) {
		return money.Zero, money.Zero, false
	}
	return bid, ask, true
}

// inventorySkew returns the signed price shift applied to both quotes: a
// YES position shifts down (encourages selling it off), a NO position shifts
// up. ok is false when there's no position to skew against.
func (mk *Maker) inventorySkew(slug string, half money.Money) (money.Money, bool) {
	if !mk.cfg.MaxInventory.IsPositive() {
		return money.Zero, false
	}
	if yesPos, has := mk.state.GetPosition(slug, domain.Yes); has && yesPos.Quantity > 0 {
		ratio := yesPos.CostBasis().Div(mk.cfg.MaxInventory).InexactFloat64()
		if ratio > 2 {
			ratio = 2
		}
		amount := money.FromLossyFloat(ratio * mk.cfg.InventorySkewFactor).Mul(half)
		return amount.Neg(), true
	}
	if noPos, has := mk.state.GetPosition(slug, domain.No); has && noPos.Quantity > 0 {
		ratio := noPos.CostBasis().Div(mk.cfg.MaxInventory).InexactFloat64()
		if ratio > 2 {
			ratio = 2
		}
		amount := money.FromLossyFloat(ratio * mk.cfg.InventorySkewFactor).Mul(half)
		return amount, true
	}
	return money.Zero, false
}

// quantityFor implements the §4.6 quantity formula: floor(order_size/price),
// raised to the minimum that clears the $1 notional floor, clamped to the
// per-order maximum.
func (mk *Maker) quantityFor(price money.Money) int64 {
	qty := mk.cfg.OrderSize.Div(price).Floor()
	minQty := minTradeSize.Div(price).Ceil()
	if qty < minQty {
		qty = minQty
	}
	if mk.cfg.MaxContractsPerOrder > 0 && qty > mk.cfg.MaxContractsPerOrder {
		qty = mk.cfg.MaxContractsPerOrder
	}
	return qty
}

// checkStopLoss evaluates both legs of a market's position against the
// aggressive/standard stop-loss thresholds and the max underwater hold time.
func (mk *Maker) checkStopLoss(m domain.Market, now time.Time) []domain.Signal {
	var out []domain.Signal
	for _, side := range [...]domain.Side{domain.Yes, domain.No} {
		pos, has := mk.state.GetPosition(m.Slug, side)
		if !has || pos.Quantity <= 0 {
			continue
		}
		effectiveClose, ok := effectiveCloseFor(m, side)
		if !ok {
			continue
		}
		pnlPct := effectiveClose.Sub(pos.AvgPrice).Div(pos.AvgPrice).InexactFloat64()
		age := now.Sub(pos.CreatedAt)

		triggered := pnlPct <= -mk.cfg.AggressiveStopLossPct ||
			pnlPct <= -mk.cfg.StopLossPct ||
			(age >= mk.cfg.MaxUnderwaterHold && pnlPct < 0)
		if !triggered {
			continue
		}

		action := domain.SellYes
		if side == domain.No {
			action = domain.SellNo
		}
		out = append(out, domain.Signal{
			Slug: m.Slug, Action: action, Price: effectiveClose, Quantity: pos.Quantity,
			Urgency: domain.High, Confidence: 1.0, StrategyName: "market_maker",
			Reason: "stop_loss", Timestamp: now,
		})
		mk.logger.Warn("stop loss triggered", "slug", m.Slug, "side", side, "pnl_pct", pnlPct)
		mk.cooldowns[m.Slug] = now.Add(mk.cfg.StopLossCooldown)
	}
	return out
}

// effectiveCloseFor returns the price a position on the given side would
// close at right now: the YES bid directly, or the YES ask inverted for NO.
func effectiveCloseFor(m domain.Market, side domain.Side) (money.Money, bool) {
	if side == domain.Yes {
		if m.YesBid == nil {
			return money.Zero, false
		}
		return *m.YesBid, true
	}
	if m.YesAsk == nil {
		return money.Zero, false
	}
	return money.One.Sub(*m.YesAsk), true
}
