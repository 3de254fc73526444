// Package domain holds the core types shared by every component of the
// trading runtime: markets, order books, positions, orders, and signals.
// These types carry no behavior beyond small, total helper methods — the
// logic that interprets them lives in the owning packages (book, state,
// risk, strategy, execution).
package domain

import (
	"time"

	"predict-agent/internal/money"
)

// Side identifies the YES or NO leg of a binary market.
type Side int

const (
	Yes Side = iota
	No
)

func (s Side) String() string {
	if s == Yes {
		return "YES"
	}
	return "NO"
}

// Intent is the internal order direction: buy/sell crossed with YES/NO.
type Intent int

const (
	BuyLong  Intent = iota // buy YES
	SellLong               // sell YES
	BuyShort               // buy NO
	SellShort              // sell NO
)

func (i Intent) String() string {
	switch i {
	case BuyLong:
		return "BuyLong"
	case SellLong:
		return "SellLong"
	case BuyShort:
		return "BuyShort"
	case SellShort:
		return "SellShort"
	default:
		return "Unknown"
	}
}

// Side returns the book side (YES/NO) this intent trades.
func (i Intent) Side() Side {
	if i == BuyLong || i == SellLong {
		return Yes
	}
	return No
}

// IsBuy reports whether the intent opens/adds to a position.
func (i Intent) IsBuy() bool {
	return i == BuyLong || i == BuyShort
}

// OrderStatus is the lifecycle state of an internal order.
type OrderStatus int

const (
	Pending OrderStatus = iota
	Open
	PartiallyFilled
	Filled
	Cancelled
	Rejected
)

func (s OrderStatus) String() string {
	switch s {
	case Pending:
		return "Pending"
	case Open:
		return "Open"
	case PartiallyFilled:
		return "PartiallyFilled"
	case Filled:
		return "Filled"
	case Cancelled:
		return "Cancelled"
	case Rejected:
		return "Rejected"
	default:
		return "Unknown"
	}
}

// IsTerminal reports whether the order will never change state again.
func (s OrderStatus) IsTerminal() bool {
	return s == Filled || s == Cancelled || s == Rejected
}

// SignalAction is what a strategy is asking the risk pipeline/executor to do.
type SignalAction int

const (
	BuyYes SignalAction = iota
	SellYes
	BuyNo
	SellNo
	CancelAll
)

func (a SignalAction) String() string {
	switch a {
	case BuyYes:
		return "BuyYes"
	case SellYes:
		return "SellYes"
	case BuyNo:
		return "BuyNo"
	case SellNo:
		return "SellNo"
	case CancelAll:
		return "CancelAll"
	default:
		return "Unknown"
	}
}

// IsBuy reports whether the action is a buy (BuyYes/BuyNo).
func (a SignalAction) IsBuy() bool {
	return a == BuyYes || a == BuyNo
}

// IsSell reports whether the action is a sell (SellYes/SellNo).
func (a SignalAction) IsSell() bool {
	return a == SellYes || a == SellNo
}

// IsCancel reports whether the action is CancelAll.
func (a SignalAction) IsCancel() bool {
	return a == CancelAll
}

// Side returns the book side this action trades. Meaningless for CancelAll.
func (a SignalAction) Side() Side {
	if a == BuyYes || a == SellYes {
		return Yes
	}
	return No
}

// Urgency totally orders signals for risk-pipeline evaluation order:
// Low < Medium < High < Critical.
type Urgency int

const (
	Low Urgency = iota
	Medium
	High
	Critical
)

func (u Urgency) String() string {
	switch u {
	case Low:
		return "Low"
	case Medium:
		return "Medium"
	case High:
		return "High"
	case Critical:
		return "Critical"
	default:
		return "Unknown"
	}
}

// IsMarketOrder reports whether this urgency classifies a signal as a market
// order (walked against the book) versus a resting limit order (§4.10).
func (u Urgency) IsMarketOrder() bool {
	return u == High || u == Critical
}

// Market is the latest known quote state for a slug.
type Market struct {
	Slug        string
	Title       string
	YesBid      *money.Money
	YesAsk      *money.Money
	NoBid       *money.Money
	NoAsk       *money.Money
	LastUpdated time.Time
}

// HasValidPrices reports whether both YES sides exist, are strictly positive,
// and bid < ask — the precondition strategies check before quoting.
func (m *Market) HasValidPrices() bool {
	if m.YesBid == nil || m.YesAsk == nil {
		return false
	}
	return m.YesBid.IsPositive() && m.YesAsk.IsPositive() && m.YesBid.LessThan(*m.YesAsk)
}

// Mid returns (yes_bid+yes_ask)/2 when both sides are present.
func (m *Market) Mid() (money.Money, bool) {
	if m.YesBid == nil || m.YesAsk == nil {
		return money.Zero, false
	}
	return m.YesBid.Add(*m.YesAsk).Div(money.FromContracts(2)), true
}

// PriceLevel is a single resting quantity at a price.
type PriceLevel struct {
	Price    money.Money
	Quantity money.Money
}

// OrderBookSide holds both the bid and ask ladders for one leg (YES or NO)
// of a market.
type OrderBookSide struct {
	Bids []PriceLevel
	Asks []PriceLevel
}

// BestBid returns the maximum price over Bids.
func (s *OrderBookSide) BestBid() (money.Money, bool) {
	return bestOf(s.Bids, true)
}

// BestAsk returns the minimum price over Asks.
func (s *OrderBookSide) BestAsk() (money.Money, bool) {
	return bestOf(s.Asks, false)
}

func bestOf(levels []PriceLevel, max bool) (money.Money, bool) {
	if len(levels) == 0 {
		return money.Zero, false
	}
	best := levels[0].Price
	for _, lvl := range levels[1:] {
		if max && lvl.Price.GreaterThan(best) {
			best = lvl.Price
		}
		if !max && lvl.Price.LessThan(best) {
			best = lvl.Price
		}
	}
	return best, true
}

// Depth returns the sum of quantity across bids and asks.
func (s *OrderBookSide) Depth() money.Money {
	total := money.Zero
	for _, lvl := range s.Bids {
		total = total.Add(lvl.Quantity)
	}
	for _, lvl := range s.Asks {
		total = total.Add(lvl.Quantity)
	}
	return total
}

// OrderBook is the full depth for both legs of a market. For venues that
// only expose the YES side, the NO side is derived by price complement with
// quantities carried across (see book.DeriveNoSide).
type OrderBook struct {
	Slug string
	Yes  OrderBookSide
	No   OrderBookSide
}

// TopOfBook is the cached best-bid/best-ask snapshot published alongside a
// full OrderBook update so readers never observe a torn state.
type TopOfBook struct {
	YesBestBid *money.Money
	YesBestAsk *money.Money
	NoBestBid  *money.Money
	NoBestAsk  *money.Money
}

// YesMid returns the YES mid price when both YES sides are quoted.
func (t TopOfBook) YesMid() (money.Money, bool) {
	if t.YesBestBid == nil || t.YesBestAsk == nil {
		return money.Zero, false
	}
	return t.YesBestBid.Add(*t.YesBestAsk).Div(money.FromContracts(2)), true
}

// CompletenessSum returns yes_ask + no_ask when both exist.
func (t TopOfBook) CompletenessSum() (money.Money, bool) {
	if t.YesBestAsk == nil || t.NoBestAsk == nil {
		return money.Zero, false
	}
	return t.YesBestAsk.Add(*t.NoBestAsk), true
}

// Position is a held quantity of one side of one market, keyed externally by
// (slug, side) so YES and NO positions in the same market coexist.
type Position struct {
	Slug      string
	Side      Side
	Quantity  int64
	AvgPrice  money.Money
	CreatedAt time.Time
}

// CostBasis returns avg_price * quantity.
func (p *Position) CostBasis() money.Money {
	return p.AvgPrice.MulInt64(p.Quantity)
}

// ApplyAdd folds an additional fill into the position on the same side,
// updating the weighted-average entry price in place.
func (p *Position) ApplyAdd(fillPrice money.Money, fillQty int64) {
	oldQty := p.Quantity
	oldAvg := p.AvgPrice
	newQty := oldQty + fillQty
	if newQty == 0 {
		p.Quantity = 0
		return
	}
	totalCost := oldAvg.MulInt64(oldQty).Add(fillPrice.MulInt64(fillQty))
	p.AvgPrice = totalCost.Div(money.FromContracts(newQty))
	p.Quantity = newQty
}

// ApplyReduce closes up to closeQty of the position at exitPrice and returns
// the realized P&L for the closed quantity and the quantity actually closed.
func (p *Position) ApplyReduce(exitPrice money.Money, closeQty int64) (realized money.Money, closed int64) {
	closed = closeQty
	if closed > p.Quantity {
		closed = p.Quantity
	}
	realized = exitPrice.Sub(p.AvgPrice).MulInt64(closed)
	p.Quantity -= closed
	return realized, closed
}

// MarkToMarket values the position at the given current bid on the held
// side, falling back to cost basis when no bid is available.
func (p *Position) MarkToMarket(currentBid *money.Money) money.Money {
	if currentBid == nil {
		return p.CostBasis()
	}
	return currentBid.MulInt64(p.Quantity)
}

// Order is the internal record of a submitted order (paper or live).
type Order struct {
	OrderID        string
	Slug           string
	Intent         Intent
	Price          money.Money
	Quantity       int64
	FilledQuantity int64
	Status         OrderStatus
	CreatedAt      time.Time
}

// Signal is a strategy's request to act, before risk evaluation.
type Signal struct {
	ID           string
	Slug         string
	Action       SignalAction
	Price        money.Money
	Quantity     int64
	Urgency      Urgency
	Confidence   float64
	StrategyName string
	Reason       string
	Metadata     map[string]any
	Timestamp    time.Time
}

// TrueProbability extracts the "true_probability" metadata key used by the
// Kelly sizer, if present and numeric. Values arrive as float64 via the
// generic map (the documented lossy-float leakage path, see money.FromLossyFloat).
func (s *Signal) TrueProbability() (float64, bool) {
	if s.Metadata == nil {
		return 0, false
	}
	v, ok := s.Metadata["true_probability"]
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

// MarketUpdate is the event the feed emits into the engine channel whenever
// a slug's book/market row changes.
type MarketUpdate struct {
	Slug      string
	Market    Market
	Timestamp time.Time
}

// GameState is an in-game score event ingested by the live-arbitrage
// strategy. Produced by an external collaborator (§4.7, §4.13).
type GameState struct {
	EventID    string
	Slug       string
	HomeScore  int
	AwayScore  int
	HomeIsYes  bool
	IsFinal    bool
	Timestamp  time.Time
}

// OddsSnapshot is a devigged, market-matched probability estimate ingested
// by the statistical-edge strategy. Produced by an external collaborator
// (§4.8, §4.13).
type OddsSnapshot struct {
	EventID        string
	Slug           string
	Provider       string
	YesProbability float64
	Confidence     float64
	Timestamp      time.Time
}

// CompletenessArbSignal is a scanner finding emitted when YES+NO asks
// undercut $1 by more than min_margin after fees (§4.2).
type CompletenessArbSignal struct {
	Slug     string
	YesAsk   money.Money
	NoAsk    money.Money
	Combined money.Money
	Gross    money.Money
	Fee      money.Money
	Net      money.Money
}
