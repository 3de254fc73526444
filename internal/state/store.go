// Package state holds the process-lifetime, in-memory view of the agent's
// account: cash balance, open positions, live orders, and the latest market
// snapshot per slug (§4.4). Nothing here is persisted across restarts — on
// startup the agent resyncs balance and positions from the venue.
package state

import (
	"sync"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
)

// positionKey identifies a held position by market and side, since YES and
// NO legs of the same market are tracked independently.
type positionKey struct {
	slug string
	side domain.Side
}

// Store is the thread-safe account state shared by the risk pipeline,
// strategies, and executors. All reads take a snapshot copy; nothing escapes
// the lock by reference.
type Store struct {
	mu sync.RWMutex

	balance   money.Money
	positions map[positionKey]domain.Position
	orders    map[string]domain.Order
	markets   map[string]domain.Market
}

// NewStore creates an empty store. Call SetBalance and ReplacePositions
// after the initial venue sync to seed it.
func NewStore() *Store {
	return &Store{
		positions: make(map[positionKey]domain.Position),
		orders:    make(map[string]domain.Order),
		markets:   make(map[string]domain.Market),
	}
}

// SetBalance overwrites the cash balance (e.g. after a venue resync or a
// fill settlement).
func (s *Store) SetBalance(bal money.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = bal
}

// AdjustBalance applies a signed delta to the cash balance (a fill's cash
// effect: negative for a buy, positive for a sell).
func (s *Store) AdjustBalance(delta money.Money) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.balance = s.balance.Add(delta)
}

// GetBalance returns the current cash balance.
func (s *Store) GetBalance() money.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.balance
}

// ReplacePositions overwrites the full position set, keyed by (slug, side).
// Used after a venue resync.
func (s *Store) ReplacePositions(positions []domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.positions = make(map[positionKey]domain.Position, len(positions))
	for _, p := range positions {
		s.positions[positionKey{p.Slug, p.Side}] = p
	}
}

// GetPosition returns the held position for (slug, side), if any.
func (s *Store) GetPosition(slug string, side domain.Side) (domain.Position, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.positions[positionKey{slug, side}]
	return p, ok
}

// UpsertPosition inserts or replaces the position for (slug, side). Passing
// a zero-quantity position removes it.
func (s *Store) UpsertPosition(p domain.Position) {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := positionKey{p.Slug, p.Side}
	if p.Quantity == 0 {
		delete(s.positions, key)
		return
	}
	s.positions[key] = p
}

// ApplyFill folds a fill into the held position for (slug, side), creating
// a new position on first fill, and returns the realized P&L for any
// quantity that closed an opposing reduction. isBuy adds to the position;
// otherwise the fill reduces it.
func (s *Store) ApplyFill(slug string, side domain.Side, isBuy bool, fillPrice money.Money, fillQty int64, now time.Time) money.Money {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := positionKey{slug, side}
	pos, ok := s.positions[key]
	if !ok {
		pos = domain.Position{Slug: slug, Side: side, CreatedAt: now}
	}

	if isBuy {
		pos.ApplyAdd(fillPrice, fillQty)
		s.positions[key] = pos
		return money.Zero
	}

	realized, _ := pos.ApplyReduce(fillPrice, fillQty)
	if pos.Quantity == 0 {
		delete(s.positions, key)
	} else {
		s.positions[key] = pos
	}
	return realized
}

// PositionCount returns the number of distinct (slug, side) positions held.
func (s *Store) PositionCount() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.positions)
}

// MarketExposure returns the notional value of all positions held in the
// given market (both YES and NO legs), at cost basis.
func (s *Store) MarketExposure(slug string) money.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := money.Zero
	for key, pos := range s.positions {
		if key.slug == slug {
			total = total.Add(pos.CostBasis())
		}
	}
	return total
}

// GetTotalPositionValue returns the cost-basis notional across every held
// position (the exposure monitor's portfolio-wide figure).
func (s *Store) GetTotalPositionValue() money.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := money.Zero
	for _, pos := range s.positions {
		total = total.Add(pos.CostBasis())
	}
	return total
}

// GetTotalEquity returns cash balance plus the mark-to-market value of every
// held position, each valued at the current bid on its held side (falling
// back to cost basis when no bid is known, per §3's Position invariant).
// The circuit breaker and Kelly sizer both key off this figure (§4.5.1,
// §4.5.3), so unrealized losses must register here even before a position
// is closed.
func (s *Store) GetTotalEquity() money.Money {
	s.mu.RLock()
	defer s.mu.RUnlock()
	total := s.balance
	for key, pos := range s.positions {
		total = total.Add(pos.MarkToMarket(bidForSide(s.markets[key.slug], key.side)))
	}
	return total
}

// bidForSide returns the current bid to mark a held position at: the YES
// bid directly, or the NO bid, falling back to 1-yes_ask when the NO side
// hasn't been derived yet. Returns nil when neither is known, letting
// Position.MarkToMarket fall back to cost basis.
func bidForSide(m domain.Market, side domain.Side) *money.Money {
	if side == domain.Yes {
		return m.YesBid
	}
	if m.NoBid != nil {
		return m.NoBid
	}
	if m.YesAsk != nil {
		inverted := money.One.Sub(*m.YesAsk)
		return &inverted
	}
	return nil
}

// Positions returns a snapshot copy of every held position.
func (s *Store) Positions() []domain.Position {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Position, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	return out
}

// UpsertOrder inserts or replaces a tracked order by ID.
func (s *Store) UpsertOrder(o domain.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders[o.OrderID] = o
}

// GetOrder returns the tracked order by ID, if known.
func (s *Store) GetOrder(orderID string) (domain.Order, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	return o, ok
}

// OpenOrders returns a snapshot of every non-terminal tracked order,
// optionally scoped to one market slug (empty string means all).
func (s *Store) OpenOrders(slug string) []domain.Order {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Order, 0)
	for _, o := range s.orders {
		if o.Status.IsTerminal() {
			continue
		}
		if slug != "" && o.Slug != slug {
			continue
		}
		out = append(out, o)
	}
	return out
}

// RemoveOrder drops a terminal order from the tracked set.
func (s *Store) RemoveOrder(orderID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.orders, orderID)
}

// UpsertMarket records the latest known quote state for a slug.
func (s *Store) UpsertMarket(m domain.Market) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.markets[m.Slug] = m
}

// GetMarket returns the latest known quote state for a slug, if any.
func (s *Store) GetMarket(slug string) (domain.Market, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[slug]
	return m, ok
}

// TrackedMarketSlugs returns every slug with a known quote state.
func (s *Store) TrackedMarketSlugs() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.markets))
	for slug := range s.markets {
		out = append(out, slug)
	}
	return out
}

// RemoveMarket drops a slug's quote state and position tracking, used when
// the discovery scanner evicts a closed/settled market.
func (s *Store) RemoveMarket(slug string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.markets, slug)
	delete(s.positions, positionKey{slug, domain.Yes})
	delete(s.positions, positionKey{slug, domain.No})
}
