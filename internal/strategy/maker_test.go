package strategy

import (
	"io"
	"log/slog"
	"testing"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
	"predict-agent/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func baseCfg() MarketMakerConfig {
	return MarketMakerConfig{
		Enabled:               true,
		OrderSize:             money.New("100"),
		MaxInventory:          money.New("1000"),
		InventorySkewFactor:   1.0,
		MinSpreadPct:          0.0,
		MaxSpreadPct:          1.0,
		RefreshInterval:       30 * time.Second,
		PriceTolerance:        money.New("0.05"),
		MaxContractsPerOrder:  10000,
		MinMidPrice:           money.New("0.05"),
		MaxMidPrice:           money.New("0.95"),
		StopLossCooldown:      60 * time.Second,
		AggressiveStopLossPct: 0.20,
		StopLossPct:           0.10,
		MaxUnderwaterHold:     time.Hour,
	}
}

func marketAt(slug string, bid, ask string) domain.Market {
	b, a := money.New(bid), money.New(ask)
	return domain.Market{Slug: slug, YesBid: &b, YesAsk: &a, LastUpdated: time.Now()}
}

func TestEvaluateEmitsInitialQuoteWithoutCancelAll(t *testing.T) {
	t.Parallel()
	mk := NewMaker(baseCfg(), state.NewStore(), testLogger())
	m := marketAt("m1", "0.45", "0.55")

	sigs := mk.Evaluate(m, time.Now())
	if len(sigs) == 0 {
		t.Fatal("expected quote signals")
	}
	for _, s := range sigs {
		if s.Action == domain.CancelAll {
			t.Error("first quote must not emit CancelAll")
		}
	}
	var sawBuy, sawSell bool
	for _, s := range sigs {
		if s.Action == domain.BuyYes {
			sawBuy = true
		}
		if s.Action == domain.SellYes {
			sawSell = true
		}
	}
	if !sawBuy || !sawSell {
		t.Errorf("expected both BuyYes and SellYes, got %+v", sigs)
	}
}

func TestEvaluateSkipsWhenDisabled(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.Enabled = false
	mk := NewMaker(cfg, state.NewStore(), testLogger())

	sigs := mk.Evaluate(marketAt("m1", "0.45", "0.55"), time.Now())
	if len(sigs) != 0 {
		t.Errorf("expected no signals while disabled, got %+v", sigs)
	}
}

func TestEvaluateSkipsMarketNotInEnabledSet(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.EnabledMarkets = []string{"nba-*"}
	mk := NewMaker(cfg, state.NewStore(), testLogger())

	sigs := mk.Evaluate(marketAt("cbb-game1", "0.45", "0.55"), time.Now())
	if len(sigs) != 0 {
		t.Errorf("expected no signals for a market outside the enabled prefix, got %+v", sigs)
	}

	sigs = mk.Evaluate(marketAt("nba-game1", "0.45", "0.55"), time.Now())
	if len(sigs) == 0 {
		t.Error("expected signals for a market matching the enabled prefix")
	}
}

func TestEvaluateSkipsInvalidPrices(t *testing.T) {
	t.Parallel()
	mk := NewMaker(baseCfg(), state.NewStore(), testLogger())
	bid, ask := money.New("0.55"), money.New("0.45") // bid >= ask, invalid
	m := domain.Market{Slug: "m1", YesBid: &bid, YesAsk: &ask}

	sigs := mk.Evaluate(m, time.Now())
	if len(sigs) != 0 {
		t.Errorf("expected no signals for invalid prices, got %+v", sigs)
	}
}

func TestEvaluateSkipsMidOutsideBounds(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.MinMidPrice = money.New("0.10")
	cfg.MaxMidPrice = money.New("0.90")
	mk := NewMaker(cfg, state.NewStore(), testLogger())

	sigs := mk.Evaluate(marketAt("m1", "0.01", "0.03"), time.Now())
	if len(sigs) != 0 {
		t.Errorf("expected no signals with mid below min_mid_price, got %+v", sigs)
	}
}

func TestEvaluateDoesNotRefreshWithinIntervalAndTolerance(t *testing.T) {
	t.Parallel()
	mk := NewMaker(baseCfg(), state.NewStore(), testLogger())
	now := time.Now()

	first := mk.Evaluate(marketAt("m1", "0.45", "0.55"), now)
	if len(first) == 0 {
		t.Fatal("expected an initial quote")
	}

	second := mk.Evaluate(marketAt("m1", "0.451", "0.549"), now.Add(time.Second))
	if len(second) != 0 {
		t.Errorf("expected no requote within refresh interval and price tolerance, got %+v", second)
	}
}

func TestEvaluateRequotesAndCancelsOnPriceToleranceBreach(t *testing.T) {
	t.Parallel()
	mk := NewMaker(baseCfg(), state.NewStore(), testLogger())
	now := time.Now()

	mk.Evaluate(marketAt("m1", "0.45", "0.55"), now)

	moved := mk.Evaluate(marketAt("m1", "0.60", "0.70"), now.Add(time.Second))
	if len(moved) == 0 {
		t.Fatal("expected a requote after the mid moved beyond price_tolerance")
	}
	if moved[0].Action != domain.CancelAll {
		t.Errorf("expected CancelAll first on requote, got %+v", moved[0])
	}
}

func TestEvaluateRequotesAfterRefreshInterval(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.RefreshInterval = 5 * time.Second
	mk := NewMaker(cfg, state.NewStore(), testLogger())
	now := time.Now()

	mk.Evaluate(marketAt("m1", "0.45", "0.55"), now)
	later := mk.Evaluate(marketAt("m1", "0.45", "0.55"), now.Add(10*time.Second))
	if len(later) == 0 {
		t.Error("expected a requote once refresh_interval_secs elapses")
	}
}

func TestInventorySkewShiftsQuoteDownForYesPosition(t *testing.T) {
	t.Parallel()
	st := state.NewStore()
	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 500, AvgPrice: money.New("0.50")})
	mk := NewMaker(baseCfg(), st, testLogger())

	sigs := mk.Evaluate(marketAt("m1", "0.45", "0.55"), time.Now())
	var bidPrice money.Money
	for _, s := range sigs {
		if s.Action == domain.BuyYes {
			bidPrice = s.Price
		}
	}
	unskewed := money.New("0.45")
	if !bidPrice.LessThan(unskewed) {
		t.Errorf("expected bid skewed below unskewed mid-half (%s), got %s", unskewed, bidPrice)
	}
}

func TestMaxInventoryZeroesBidQtyForYesPosition(t *testing.T) {
	t.Parallel()
	st := state.NewStore()
	cfg := baseCfg()
	cfg.MaxInventory = money.New("100")
	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 1000, AvgPrice: money.New("0.50")}) // cost basis 500 >= 100
	mk := NewMaker(cfg, st, testLogger())

	sigs := mk.Evaluate(marketAt("m1", "0.45", "0.55"), time.Now())
	for _, s := range sigs {
		if s.Action == domain.BuyYes {
			t.Errorf("expected bid qty zeroed (no BuyYes signal) at max inventory, got %+v", s)
		}
	}
}

func TestMakerOnlyTightensToMarketTopOfBook(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.MakerOnly = true
	cfg.PriceTolerance = money.New("0.001")
	mk := NewMaker(cfg, state.NewStore(), testLogger())

	m := marketAt("m1", "0.48", "0.52")
	sigs := mk.Evaluate(m, time.Now())
	for _, s := range sigs {
		if s.Action == domain.BuyYes && s.Price.GreaterThan(money.New("0.48")) {
			t.Errorf("maker_only bid must not exceed market.yes_bid, got %s", s.Price)
		}
		if s.Action == domain.SellYes && s.Price.LessThan(money.New("0.52")) {
			t.Errorf("maker_only ask must not be below market.yes_ask, got %s", s.Price)
		}
	}
}

func TestQuantityFormulaRaisesToMinNotional(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.OrderSize = money.New("0.01") // tiny order size forces the min-notional floor
	mk := NewMaker(cfg, state.NewStore(), testLogger())

	qty := mk.quantityFor(money.New("0.50"))
	if qty < 2 { // ceil(1/0.50) = 2
		t.Errorf("quantityFor = %d, want >= 2 to clear the $1 notional floor", qty)
	}
}

func TestQuantityFormulaClampsToMax(t *testing.T) {
	t.Parallel()
	cfg := baseCfg()
	cfg.OrderSize = money.New("100000")
	cfg.MaxContractsPerOrder = 50
	mk := NewMaker(cfg, state.NewStore(), testLogger())

	qty := mk.quantityFor(money.New("0.10"))
	if qty != 50 {
		t.Errorf("quantityFor = %d, want clamped to 50", qty)
	}
}

func TestCheckStopLossTriggersOnAggressiveThreshold(t *testing.T) {
	t.Parallel()
	st := state.NewStore()
	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 100, AvgPrice: money.New("0.60"), CreatedAt: time.Now()})
	mk := NewMaker(baseCfg(), st, testLogger())

	// yes_bid 0.40 vs avg 0.60: pnl_pct = (0.40-0.60)/0.60 = -0.333, breaches
	// both the aggressive (0.20) and standard (0.10) thresholds.
	m := marketAt("m1", "0.40", "0.42")
	sigs := mk.checkStopLoss(m, time.Now())
	if len(sigs) != 1 {
		t.Fatalf("expected exactly one stop-loss exit, got %+v", sigs)
	}
	if sigs[0].Action != domain.SellYes || sigs[0].Urgency != domain.High {
		t.Errorf("expected High-urgency SellYes, got %+v", sigs[0])
	}
	if sigs[0].Quantity != 100 {
		t.Errorf("expected full position closed, got qty %d", sigs[0].Quantity)
	}
}

func TestStopLossCooldownBlocksRequoting(t *testing.T) {
	t.Parallel()
	st := state.NewStore()
	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 100, AvgPrice: money.New("0.60"), CreatedAt: time.Now()})
	mk := NewMaker(baseCfg(), st, testLogger())
	now := time.Now()

	m := marketAt("m1", "0.40", "0.42")
	mk.Evaluate(m, now) // triggers stop-loss and records the cooldown

	st.UpsertPosition(domain.Position{Slug: "m1", Side: domain.Yes, Quantity: 0, AvgPrice: money.New("0.60")})
	quoteSigs := mk.evaluateQuote(m, now.Add(time.Millisecond))
	if len(quoteSigs) != 0 {
		t.Errorf("expected quoting suppressed during stop-loss cooldown, got %+v", quoteSigs)
	}
}
