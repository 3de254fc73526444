// Package orchestrator wires every other package into the runnable agent
// and drives its lifecycle end to end (§4.12): discover markets, spawn the
// feed, build the risk pipeline and strategies, build the chosen executor,
// warm up, then loop ticks until shutdown.
package orchestrator

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"predict-agent/internal/book"
	"predict-agent/internal/config"
	"predict-agent/internal/discovery"
	"predict-agent/internal/domain"
	"predict-agent/internal/events"
	"predict-agent/internal/execution"
	"predict-agent/internal/feed"
	"predict-agent/internal/money"
	"predict-agent/internal/risk"
	"predict-agent/internal/state"
	"predict-agent/internal/strategy"
	"predict-agent/internal/venue"
)

// housekeepingEveryNTicks and performanceLogEveryTicks are the §4.12 step 9
// cadences: every 10th tick refreshes the risk pipeline's circuit breaker,
// every 30th logs performance. Live reconciliation runs on its own 10-tick
// cadence inside the live executor's Tick.
const (
	housekeepingEveryNTicks  = 10
	performanceLogEveryTicks = 30
)

// Orchestrator owns every long-lived component and the tick loop that
// couples them (§4.12).
type Orchestrator struct {
	cfg    *config.Config
	logger *slog.Logger

	client  *venue.Client
	store   *state.Store
	tracker *book.Tracker
	scanner *discovery.Scanner
	feed    *feed.Feed
	risk    *risk.Manager
	engine  *strategy.Engine

	executor   execution.Executor
	scoresFeed *events.ScoresFeed
	oddsFeed   *events.OddsFeed

	tickNumber int64
	peakEquity money.Money
}

// New builds every component from cfg but does not start any background
// task; call Run to do that (§4.12 step 1).
func New(cfg *config.Config, logger *slog.Logger) (*Orchestrator, error) {
	client, err := venue.NewClient(venue.Config{
		BaseURL:    cfg.Venue.BaseURL,
		AccessKey:  cfg.Venue.AccessKey,
		PrivateKey: cfg.Venue.PrivateKey,
		Timeout:    cfg.Venue.Timeout,
		MaxRetries: cfg.Venue.MaxRetries,
		RateLimit:  cfg.Venue.RateLimit,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: construct venue client: %w", err)
	}

	st := state.NewStore()
	st.SetBalance(cfg.InitialBalance)
	tracker := book.NewTracker()

	scanner, err := discovery.NewScanner(client, discovery.Config{
		Leagues:      cfg.Discovery.Leagues,
		MarketTypes:  cfg.Discovery.MarketTypes,
		MinLiquidity: cfg.Discovery.MinLiquidity,
		MaxMarkets:   cfg.Discovery.MaxMarkets,
		CacheTTL:     cfg.Discovery.CacheTTL,
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("orchestrator: construct discovery scanner: %w", err)
	}

	riskMgr := risk.NewManager(risk.Config{
		KellyFraction:                    cfg.Risk.KellyFraction,
		MaxKellyPositionPct:              cfg.Risk.MaxKellyPositionPct,
		MinEdge:                          cfg.Risk.MinEdge,
		MaxPositionPerMarket:             cfg.Risk.MaxPositionPerMarket,
		MaxPortfolioExposure:             cfg.Risk.MaxPortfolioExposure,
		MaxPortfolioExposurePct:          cfg.Risk.MaxPortfolioExposurePct,
		MaxCorrelatedExposure:            cfg.Risk.MaxCorrelatedExposure,
		MaxPositions:                     cfg.Risk.MaxPositions,
		MaxDailyLoss:                     cfg.Risk.MaxDailyLoss,
		MaxDrawdownPct:                   cfg.Risk.MaxDrawdownPct,
		MaxTotalPnLDrawdownPctForNewBuys: cfg.Risk.MaxTotalPnLDrawdownPctForNewBuys,
		MinTradeSize:                     cfg.Risk.MinTradeSize,
	}, st, logger)

	var maker *strategy.Maker
	if cfg.EnableMarketMaker {
		maker = strategy.NewMaker(strategy.MarketMakerConfig{
			Enabled:               cfg.Maker.Enabled,
			EnabledMarkets:        cfg.Maker.EnabledMarkets,
			OrderSize:             cfg.Maker.OrderSize,
			MaxInventory:          cfg.Maker.MaxInventory,
			InventorySkewFactor:   cfg.Maker.InventorySkewFactor,
			MinSpreadPct:          cfg.Maker.MinSpreadPct,
			MaxSpreadPct:          cfg.Maker.MaxSpreadPct,
			RefreshInterval:       cfg.Maker.RefreshInterval,
			PriceTolerance:        cfg.Maker.PriceTolerance,
			MakerOnly:             cfg.Maker.MakerOnly,
			MaxContractsPerOrder:  cfg.Maker.MaxContractsPerOrder,
			MinMidPrice:           cfg.Maker.MinMidPrice,
			MaxMidPrice:           cfg.Maker.MaxMidPrice,
			StopLossCooldown:      cfg.Maker.StopLossCooldown,
			AggressiveStopLossPct: cfg.Maker.AggressiveStopLossPct,
			StopLossPct:           cfg.Maker.StopLossPct,
			MaxUnderwaterHold:     cfg.Maker.MaxUnderwaterHold,
		}, st, logger)
	}

	var liveArb *strategy.LiveArb
	var scoresFeed *events.ScoresFeed
	if cfg.EnableLiveArbitrage {
		liveArb = strategy.NewLiveArb(strategy.LiveArbConfig{
			Enabled:        cfg.LiveArb.Enabled,
			CooldownPeriod: cfg.LiveArb.CooldownPeriod,
			MaxProbShift:   cfg.LiveArb.MaxProbShift,
			LeadMultiplier: cfg.LiveArb.LeadMultiplier,
			MinEdge:        cfg.LiveArb.MinEdge,
			MaxQuantity:    cfg.LiveArb.MaxQuantity,
		}, logger)
		if cfg.LiveArb.ScoresURL != "" {
			scoresFeed = events.NewScoresFeed(cfg.LiveArb.ScoresURL, logger)
		}
	}

	var statEdge *strategy.StatEdge
	var oddsFeed *events.OddsFeed
	if cfg.EnableStatisticalEdge {
		statEdge = strategy.NewStatEdge(strategy.StatEdgeConfig{
			Enabled:        cfg.StatEdge.Enabled,
			CooldownPeriod: cfg.StatEdge.CooldownPeriod,
			MinEdge:        cfg.StatEdge.MinEdge,
			MaxQuantity:    cfg.StatEdge.MaxQuantity,
		}, logger)
		if cfg.StatEdge.OddsURL != "" {
			oddsFeed = events.NewOddsFeed(cfg.StatEdge.OddsURL, logger)
		}
	}

	engine := strategy.NewEngine(maker, liveArb, statEdge)

	mdFeed := feed.NewFeed(client, tracker, st, feed.Config{
		PollInterval:           cfg.Feed.PollInterval,
		MaxConcurrency:         cfg.Feed.MaxConcurrency,
		MaxConsecutiveFailures: cfg.Feed.MaxConsecutiveFailures,
		StalenessThreshold:     cfg.Feed.StalenessThreshold,
	}, logger)

	var executor execution.Executor
	switch cfg.Mode {
	case config.ModeLive:
		executor = execution.NewLiveExecutor(client, st, execution.LiveConfig{}, logger)
	default:
		executor = execution.NewPaperExecutor(execution.PaperConfig{
			FeeRate:     0.0010,
			SlippageBps: 0.0005,
		}, st, tracker, logger)
	}

	return &Orchestrator{
		cfg:        cfg,
		logger:     logger.With("component", "orchestrator"),
		client:     client,
		store:      st,
		tracker:    tracker,
		scanner:    scanner,
		feed:       mdFeed,
		risk:       riskMgr,
		engine:     engine,
		executor:   executor,
		scoresFeed: scoresFeed,
		oddsFeed:   oddsFeed,
		peakEquity: st.GetTotalEquity(),
	}, nil
}

// Run executes the full lifecycle described in §4.12 steps 2 through 10.
// It blocks until ctx is cancelled (the shutdown signal).
func (o *Orchestrator) Run(ctx context.Context) error {
	if err := o.discoverAndSeed(ctx); err != nil {
		return err
	}

	feedCtx, cancelFeed := context.WithCancel(ctx)
	defer cancelFeed()
	go o.feed.Run(feedCtx)
	if o.scoresFeed != nil {
		go o.scoresFeed.Run(feedCtx)
	}
	if o.oddsFeed != nil {
		go o.oddsFeed.Run(feedCtx)
	}

	if o.cfg.Mode == config.ModeLive {
		if err := o.executor.Tick(ctx, 0); err != nil {
			o.logger.Warn("initial live reconciliation failed", "error", err)
		}
		o.risk.ResetStartingEquity()
	}

	o.logger.Info("warming up", "duration", o.cfg.InitialWarmup)
	select {
	case <-ctx.Done():
		return o.shutdown(cancelFeed)
	case <-time.After(o.cfg.InitialWarmup):
	}

	ticker := time.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return o.shutdown(cancelFeed)
		case update := <-o.feed.Updates():
			o.drainMarketUpdate(ctx, update)
		case gs := <-o.scoresChan():
			if o.engine.LiveArb != nil {
				o.engine.LiveArb.OnGameState(gs)
			}
		case snap := <-o.oddsChan():
			if o.engine.StatEdge != nil {
				o.engine.OddsSnapshots[snap.Slug] = snap
			}
		case <-ticker.C:
			o.onTick(ctx)
		}
	}
}

// scoresChan/oddsChan return a nil channel (which blocks forever in a
// select) when the corresponding feed was never constructed, so Run's
// select loop works whether or not those strategies are enabled.
func (o *Orchestrator) scoresChan() <-chan domain.GameState {
	if o.scoresFeed == nil {
		return nil
	}
	return o.scoresFeed.Events()
}

func (o *Orchestrator) oddsChan() <-chan domain.OddsSnapshot {
	if o.oddsFeed == nil {
		return nil
	}
	return o.oddsFeed.Events()
}

// discoverAndSeed implements §4.12 steps 2-3: resolve the tradeable slug
// set (explicit configured list takes priority over the discovery scan) and
// seed a skeletal market row per slug so the feed knows what to poll.
func (o *Orchestrator) discoverAndSeed(ctx context.Context) error {
	slugs := o.cfg.Discovery.MarketSlugs
	if len(slugs) == 0 {
		discovered, err := o.scanner.Discover(ctx, time.Now())
		if err != nil {
			return fmt.Errorf("orchestrator: discovery scan: %w", err)
		}
		slugs = discovered
	}

	o.logger.Info("discovered tradeable markets", "count", len(slugs))
	for _, slug := range slugs {
		o.store.UpsertMarket(domain.Market{Slug: slug})
		o.feed.AddSlug(slug)
	}
	return nil
}

// drainMarketUpdate runs the market-maker's per-update evaluation (§4.9) for
// the one slug that changed and routes any resulting signals through risk.
func (o *Orchestrator) drainMarketUpdate(ctx context.Context, update domain.MarketUpdate) {
	signals := o.engine.OnMarketUpdate(update.Market, update.Timestamp)
	o.routeSignals(ctx, signals)
}

// onTick drives every configured strategy through the engine, runs the
// completeness-arb scanner, dispatches approved signals, and performs the
// periodic housekeeping and performance logging of §4.12 step 9.
func (o *Orchestrator) onTick(ctx context.Context) {
	o.tickNumber++

	markets := o.snapshotMarkets()
	signals := o.engine.Tick(markets, time.Now())
	signals = append(signals, o.completenessArbSignals()...)
	o.routeSignals(ctx, signals)

	if err := o.executor.Tick(ctx, o.tickNumber); err != nil {
		o.logger.Warn("executor tick failed", "error", err)
	}

	if o.tickNumber%housekeepingEveryNTicks == 0 {
		o.risk.OnStateUpdate()
	}
	if o.tickNumber%performanceLogEveryTicks == 0 {
		o.logPerformance()
	}
}

func (o *Orchestrator) snapshotMarkets() map[string]domain.Market {
	slugs := o.store.TrackedMarketSlugs()
	out := make(map[string]domain.Market, len(slugs))
	for _, slug := range slugs {
		if m, ok := o.store.GetMarket(slug); ok {
			out[slug] = m
		}
	}
	return out
}

// completenessArbSignals converts every completeness-arb finding into a pair
// of simultaneous BuyYes/BuyNo Critical-urgency signals, locking the
// risk-free payout (§4.2 invariant 7).
func (o *Orchestrator) completenessArbSignals() []domain.Signal {
	findings := o.tracker.ScanCompletenessArb(o.cfg.Risk.MinArbMargin)
	if len(findings) == 0 {
		return nil
	}
	now := time.Now()
	out := make([]domain.Signal, 0, len(findings)*2)
	for _, f := range findings {
		qty := money.One.Div(f.YesAsk.Add(f.NoAsk)).Floor()
		if qty <= 0 {
			qty = 1
		}
		out = append(out,
			domain.Signal{
				Slug: f.Slug, Action: domain.BuyYes, Price: f.YesAsk, Quantity: qty,
				Urgency: domain.Critical, Confidence: 1.0, StrategyName: "completeness_arb",
				Reason: "completeness_arb", Timestamp: now,
			},
			domain.Signal{
				Slug: f.Slug, Action: domain.BuyNo, Price: f.NoAsk, Quantity: qty,
				Urgency: domain.Critical, Confidence: 1.0, StrategyName: "completeness_arb",
				Reason: "completeness_arb", Timestamp: now,
			},
		)
	}
	return out
}

// routeSignals assigns each signal a correlation ID, evaluates it through
// the risk pipeline in order (so exposure headroom decreases as earlier
// signals consume it, §5), and dispatches whatever is approved.
func (o *Orchestrator) routeSignals(ctx context.Context, signals []domain.Signal) {
	for _, sig := range signals {
		if sig.ID == "" {
			sig.ID = uuid.NewString()
		}

		decision := o.risk.EvaluateSignal(sig)
		if !decision.Approved {
			o.logger.Debug("signal rejected", "signal_id", sig.ID, "slug", sig.Slug, "reason", decision.Reason)
			continue
		}

		if err := o.executor.Dispatch(ctx, *decision.Signal); err != nil {
			o.logger.Warn("dispatch failed", "signal_id", sig.ID, "slug", sig.Slug, "error", err)
		}
	}
}

func (o *Orchestrator) logPerformance() {
	equity := o.store.GetTotalEquity()
	if equity.GreaterThan(o.peakEquity) {
		o.peakEquity = equity
	}
	o.logger.Info("performance",
		"tick", o.tickNumber,
		"balance", o.store.GetBalance(),
		"equity", equity,
		"peak_equity", o.peakEquity,
		"open_positions", o.store.PositionCount(),
		"open_orders", len(o.store.OpenOrders("")),
	)
}

// shutdown implements §4.12 step 10: stop the feed (bounded to 5s), cancel
// all open venue orders in live mode, and emit a final performance report.
func (o *Orchestrator) shutdown(cancelFeed context.CancelFunc) error {
	o.logger.Info("shutting down")
	cancelFeed()

	select {
	case <-o.feed.Done():
	case <-time.After(5 * time.Second):
		o.logger.Warn("feed did not stop within 5s")
	}

	if o.cfg.Mode == config.ModeLive {
		cancelCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := o.client.CancelAllOpenOrders(cancelCtx, ""); err != nil {
			o.logger.Warn("failed to cancel open orders on shutdown", "error", err)
		}
	}

	o.logPerformance()
	return nil
}
