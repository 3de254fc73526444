package strategy

import (
	"testing"
	"time"

	"predict-agent/internal/domain"
	"predict-agent/internal/money"
)

func baseStatEdgeCfg() StatEdgeConfig {
	return StatEdgeConfig{Enabled: true, CooldownPeriod: 10 * time.Second, MinEdge: 0.03, MaxQuantity: 500}
}

func TestStatEdgeEmitsBuyYesOnPositiveEdge(t *testing.T) {
	t.Parallel()
	e := NewStatEdge(baseStatEdgeCfg(), testLogger())
	snap := domain.OddsSnapshot{Slug: "m1", Provider: "bookA", YesProbability: 0.65, Confidence: 0.8}
	yesAsk := money.New("0.55")
	m := domain.Market{Slug: "m1", YesAsk: &yesAsk}

	sigs := e.Tick(snap, m, time.Now())
	if len(sigs) != 1 {
		t.Fatalf("expected one signal, got %+v", sigs)
	}
	if sigs[0].Action != domain.BuyYes || sigs[0].Urgency != domain.Medium {
		t.Errorf("expected Medium-urgency BuyYes, got %+v", sigs[0])
	}
	if sigs[0].Confidence != 0.8 {
		t.Errorf("expected the provider's confidence carried through, got %f", sigs[0].Confidence)
	}
}

func TestStatEdgeEmitsBuyNoOnNegativeYesEdgeButPositiveNoEdge(t *testing.T) {
	t.Parallel()
	e := NewStatEdge(baseStatEdgeCfg(), testLogger())
	snap := domain.OddsSnapshot{Slug: "m1", Provider: "bookA", YesProbability: 0.30, Confidence: 0.9}
	yesAsk, noAsk := money.New("0.50"), money.New("0.60")
	m := domain.Market{Slug: "m1", YesAsk: &yesAsk, NoAsk: &noAsk}

	sigs := e.Tick(snap, m, time.Now())
	var sawNo bool
	for _, s := range sigs {
		if s.Action == domain.BuyNo {
			sawNo = true
		}
		if s.Action == domain.BuyYes {
			t.Errorf("expected no BuyYes when yes_probability is below yes_ask, got %+v", s)
		}
	}
	if !sawNo {
		t.Errorf("expected a BuyNo signal, got %+v", sigs)
	}
}

func TestStatEdgeCooldownSuppressesSubsequentTicks(t *testing.T) {
	t.Parallel()
	e := NewStatEdge(baseStatEdgeCfg(), testLogger())
	snap := domain.OddsSnapshot{Slug: "m1", Provider: "bookA", YesProbability: 0.70, Confidence: 0.8}
	yesAsk := money.New("0.50")
	m := domain.Market{Slug: "m1", YesAsk: &yesAsk}
	now := time.Now()

	first := e.Tick(snap, m, now)
	if len(first) == 0 {
		t.Fatal("expected the first tick to emit")
	}
	second := e.Tick(snap, m, now.Add(time.Second))
	if len(second) != 0 {
		t.Errorf("expected cooldown to suppress the next tick, got %+v", second)
	}
}

func TestStatEdgeRejectsBelowMinEdge(t *testing.T) {
	t.Parallel()
	cfg := baseStatEdgeCfg()
	cfg.MinEdge = 0.5
	e := NewStatEdge(cfg, testLogger())
	snap := domain.OddsSnapshot{Slug: "m1", Provider: "bookA", YesProbability: 0.55, Confidence: 0.8}
	yesAsk := money.New("0.50")
	m := domain.Market{Slug: "m1", YesAsk: &yesAsk}

	sigs := e.Tick(snap, m, time.Now())
	if len(sigs) != 0 {
		t.Errorf("expected no signal below min_edge, got %+v", sigs)
	}
}
