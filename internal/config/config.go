// Package config loads the trading agent's configuration from environment
// variables (§6). It is a thin collaborator by design — SPEC_FULL.md §1
// places the exact variable names out of scope for the trading core, but a
// runnable binary still needs something to parse PM_API_KEY_ID et al. into
// the typed structs every other package expects.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"predict-agent/internal/money"
)

// TradingMode selects the execution path (§6 TRADING_MODE).
type TradingMode string

const (
	ModePaper TradingMode = "paper"
	ModeLive  TradingMode = "live"
)

// VenueConfig carries the signed REST client's credentials and transport
// tunables (§4.1).
type VenueConfig struct {
	BaseURL    string
	AccessKey  string
	PrivateKey string
	Timeout    time.Duration
	MaxRetries int
	RateLimit  float64
}

// RiskConfig mirrors risk.Config's tunables one-for-one (§4.5, §6 RISK_*).
type RiskConfig struct {
	KellyFraction                    float64
	MaxKellyPositionPct              float64
	MinEdge                          float64
	MaxPositionPerMarket             money.Money
	MaxPortfolioExposure             money.Money
	MaxPortfolioExposurePct          float64
	MaxCorrelatedExposure            money.Money
	MaxPositions                     int
	MaxDailyLoss                     money.Money
	MaxDrawdownPct                   float64
	MaxTotalPnLDrawdownPctForNewBuys float64
	MinTradeSize                     money.Money
	MinArbMargin                     money.Money
}

// MakerConfig mirrors strategy.MarketMakerConfig's tunables (§4.6).
type MakerConfig struct {
	Enabled               bool
	EnabledMarkets        []string
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

// LiveArbConfig mirrors strategy.LiveArbConfig's tunables (§4.7).
type LiveArbConfig struct {
	Enabled        bool
	CooldownPeriod time.Duration
	MaxProbShift   float64
	LeadMultiplier float64
	MinEdge        float64
	MaxQuantity    int64
	ScoresURL      string
	PollInterval   time.Duration
}

// StatEdgeConfig mirrors strategy.StatEdgeConfig's tunables (§4.8).
type StatEdgeConfig struct {
	Enabled        bool
	CooldownPeriod time.Duration
	MinEdge        float64
	MaxQuantity    int64
	OddsURL        string
	PollInterval   time.Duration
}

// FeedConfig controls the market-data feed's polling loop (§4.3).
type FeedConfig struct {
	PollInterval           time.Duration
	MaxConcurrency         int
	MaxConsecutiveFailures int
	StalenessThreshold     time.Duration
}

// DiscoveryConfig controls the orchestrator's market-index scan (§4.12 step
// 2, §4.15).
type DiscoveryConfig struct {
	MarketSlugs  []string
	Leagues      []string
	MarketTypes  []string
	MinLiquidity float64
	MaxMarkets   int
	CacheTTL     time.Duration
}

// Config is the fully assembled, validated runtime configuration.
type Config struct {
	Mode           TradingMode
	InitialBalance money.Money
	TickInterval   time.Duration
	InitialWarmup  time.Duration

	Venue     VenueConfig
	Risk      RiskConfig
	Maker     MakerConfig
	LiveArb   LiveArbConfig
	StatEdge  StatEdgeConfig
	Feed      FeedConfig
	Discovery DiscoveryConfig

	EnableMarketMaker     bool
	EnableLiveArbitrage   bool
	EnableStatisticalEdge bool

	LogLevel string
	LogJSON  bool
}

// Load reads and assembles Config from the process environment, binding
// every name §6 recognizes. Defaults are applied before binding so an unset
// variable never leaves a field zero-valued in a way that breaks the math
// (e.g. a zero MaxPortfolioExposurePct would reject every buy).
func Load() (*Config, error) {
	v := viper.New()
	v.AutomaticEnv()
	setDefaults(v)
	bindEnv(v)

	cfg := &Config{
		Mode:           TradingMode(strings.ToLower(v.GetString("trading_mode"))),
		InitialBalance: money.FromLossyFloat(v.GetFloat64("initial_balance")),
		TickInterval:   v.GetDuration("tick_interval"),
		InitialWarmup:  10 * time.Second,

		Venue: VenueConfig{
			BaseURL:    v.GetString("pm_base_url"),
			AccessKey:  v.GetString("pm_api_key_id"),
			PrivateKey: v.GetString("pm_private_key"),
			Timeout:    10 * time.Second,
			MaxRetries: v.GetInt("venue_max_retries"),
			RateLimit:  v.GetFloat64("venue_rate_limit"),
		},

		Risk: RiskConfig{
			KellyFraction:                    v.GetFloat64("risk_kelly_fraction"),
			MaxKellyPositionPct:              v.GetFloat64("risk_max_kelly_position_pct"),
			MinEdge:                          v.GetFloat64("risk_min_edge"),
			MaxPositionPerMarket:             money.FromLossyFloat(v.GetFloat64("risk_max_position_per_market")),
			MaxPortfolioExposure:             money.FromLossyFloat(v.GetFloat64("risk_max_portfolio_exposure")),
			MaxPortfolioExposurePct:          v.GetFloat64("risk_max_portfolio_exposure_pct"),
			MaxCorrelatedExposure:            money.FromLossyFloat(v.GetFloat64("risk_max_correlated_exposure")),
			MaxPositions:                     v.GetInt("risk_max_positions"),
			MaxDailyLoss:                     money.FromLossyFloat(v.GetFloat64("risk_max_daily_loss")),
			MaxDrawdownPct:                   v.GetFloat64("risk_max_drawdown_pct"),
			MaxTotalPnLDrawdownPctForNewBuys: v.GetFloat64("risk_max_total_pnl_drawdown_pct_for_new_buys"),
			MinTradeSize:                     money.FromLossyFloat(v.GetFloat64("risk_min_trade_size")),
			MinArbMargin:                     money.FromLossyFloat(v.GetFloat64("risk_min_arb_margin")),
		},

		Maker: MakerConfig{
			Enabled:               v.GetBool("enable_market_maker"),
			EnabledMarkets:        splitCSV(v.GetString("maker_enabled_markets")),
			OrderSize:             money.FromLossyFloat(v.GetFloat64("maker_order_size")),
			MaxInventory:          money.FromLossyFloat(v.GetFloat64("maker_max_inventory")),
			InventorySkewFactor:   v.GetFloat64("maker_inventory_skew_factor"),
			MinSpreadPct:          v.GetFloat64("maker_min_spread_pct"),
			MaxSpreadPct:          v.GetFloat64("maker_max_spread_pct"),
			RefreshInterval:       v.GetDuration("maker_refresh_interval"),
			PriceTolerance:        money.FromLossyFloat(v.GetFloat64("maker_price_tolerance")),
			MakerOnly:             v.GetBool("maker_maker_only"),
			MaxContractsPerOrder:  v.GetInt64("maker_max_contracts_per_order"),
			MinMidPrice:           money.FromLossyFloat(v.GetFloat64("maker_min_mid_price")),
			MaxMidPrice:           money.FromLossyFloat(v.GetFloat64("maker_max_mid_price")),
			StopLossCooldown:      v.GetDuration("maker_stop_loss_cooldown"),
			AggressiveStopLossPct: v.GetFloat64("maker_aggressive_stop_loss_pct"),
			StopLossPct:           v.GetFloat64("maker_stop_loss_pct"),
			MaxUnderwaterHold:     v.GetDuration("maker_max_underwater_hold"),
		},

		LiveArb: LiveArbConfig{
			Enabled:        v.GetBool("enable_live_arbitrage"),
			CooldownPeriod: v.GetDuration("livearb_cooldown"),
			MaxProbShift:   v.GetFloat64("livearb_max_prob_shift"),
			LeadMultiplier: v.GetFloat64("livearb_lead_multiplier"),
			MinEdge:        v.GetFloat64("livearb_min_edge"),
			MaxQuantity:    v.GetInt64("livearb_max_quantity"),
			ScoresURL:      v.GetString("scores_feed_url"),
			PollInterval:   v.GetDuration("scores_poll_interval"),
		},

		StatEdge: StatEdgeConfig{
			Enabled:        v.GetBool("enable_statistical_edge"),
			CooldownPeriod: v.GetDuration("statedge_cooldown"),
			MinEdge:        v.GetFloat64("statedge_min_edge"),
			MaxQuantity:    v.GetInt64("statedge_max_quantity"),
			OddsURL:        v.GetString("odds_feed_url"),
			PollInterval:   v.GetDuration("odds_poll_interval"),
		},

		Feed: FeedConfig{
			PollInterval:           v.GetDuration("feed_poll_interval"),
			MaxConcurrency:         v.GetInt("feed_max_concurrency"),
			MaxConsecutiveFailures: v.GetInt("feed_max_consecutive_failures"),
			StalenessThreshold:     v.GetDuration("feed_staleness_threshold"),
		},

		Discovery: DiscoveryConfig{
			MarketSlugs:  splitCSV(v.GetString("market_slugs")),
			Leagues:      splitCSV(v.GetString("leagues")),
			MarketTypes:  splitCSV(v.GetString("market_types")),
			MinLiquidity: v.GetFloat64("min_liquidity"),
			MaxMarkets:   v.GetInt("max_markets"),
			CacheTTL:     v.GetDuration("discovery_cache_ttl"),
		},

		EnableMarketMaker:     v.GetBool("enable_market_maker"),
		EnableLiveArbitrage:   v.GetBool("enable_live_arbitrage"),
		EnableStatisticalEdge: v.GetBool("enable_statistical_edge"),

		LogLevel: v.GetString("log_level"),
		LogJSON:  v.GetBool("log_json"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("trading_mode", "paper")
	v.SetDefault("initial_balance", 10000.0)
	v.SetDefault("tick_interval", "5s")
	v.SetDefault("pm_base_url", "https://api.example-venue.com")
	v.SetDefault("venue_max_retries", 3)
	v.SetDefault("venue_rate_limit", 10.0)

	v.SetDefault("risk_kelly_fraction", 0.25)
	v.SetDefault("risk_max_kelly_position_pct", 0.1)
	v.SetDefault("risk_min_edge", 0.03)
	v.SetDefault("risk_max_position_per_market", 500.0)
	v.SetDefault("risk_max_portfolio_exposure", 5000.0)
	v.SetDefault("risk_max_portfolio_exposure_pct", 0.5)
	v.SetDefault("risk_max_correlated_exposure", 1500.0)
	v.SetDefault("risk_max_positions", 20)
	v.SetDefault("risk_max_daily_loss", 500.0)
	v.SetDefault("risk_max_drawdown_pct", 0.2)
	v.SetDefault("risk_max_total_pnl_drawdown_pct_for_new_buys", 0.15)
	v.SetDefault("risk_min_trade_size", 1.0)
	v.SetDefault("risk_min_arb_margin", 0.01)

	v.SetDefault("maker_order_size", 50.0)
	v.SetDefault("maker_max_inventory", 500.0)
	v.SetDefault("maker_inventory_skew_factor", 0.5)
	v.SetDefault("maker_min_spread_pct", 0.01)
	v.SetDefault("maker_max_spread_pct", 0.15)
	v.SetDefault("maker_refresh_interval", "10s")
	v.SetDefault("maker_price_tolerance", 0.01)
	v.SetDefault("maker_maker_only", true)
	v.SetDefault("maker_max_contracts_per_order", 1000)
	v.SetDefault("maker_min_mid_price", 0.05)
	v.SetDefault("maker_max_mid_price", 0.95)
	v.SetDefault("maker_stop_loss_cooldown", "5m")
	v.SetDefault("maker_aggressive_stop_loss_pct", 0.25)
	v.SetDefault("maker_stop_loss_pct", 0.12)
	v.SetDefault("maker_max_underwater_hold", "2h")

	v.SetDefault("livearb_cooldown", "5s")
	v.SetDefault("livearb_max_prob_shift", 0.35)
	v.SetDefault("livearb_lead_multiplier", 0.02)
	v.SetDefault("livearb_min_edge", 0.05)
	v.SetDefault("livearb_max_quantity", 100)
	v.SetDefault("scores_poll_interval", "30s")

	v.SetDefault("statedge_cooldown", "10s")
	v.SetDefault("statedge_min_edge", 0.04)
	v.SetDefault("statedge_max_quantity", 100)
	v.SetDefault("odds_poll_interval", "60s")

	v.SetDefault("feed_poll_interval", "2s")
	v.SetDefault("feed_max_concurrency", 8)
	v.SetDefault("feed_max_consecutive_failures", 3)
	v.SetDefault("feed_staleness_threshold", "30s")

	v.SetDefault("leagues", "nba,cbb")
	v.SetDefault("market_types", "aec")
	v.SetDefault("min_liquidity", 100.0)
	v.SetDefault("max_markets", 200)
	v.SetDefault("discovery_cache_ttl", "5m")

	v.SetDefault("log_level", "info")
	v.SetDefault("log_json", false)
}

// bindEnv wires every viper key to its exact §6 environment variable name;
// the keys themselves are lowercase/underscored so GetX calls above read
// naturally. AutomaticEnv alone would only ever look up the upper-cased key
// verbatim, which does not match the few names that differ from their key
// (e.g. maker_stop_loss_cooldown is read from MAKER_STOP_LOSS_COOLDOWN_SECS).
func bindEnv(v *viper.Viper) {
	pairs := map[string]string{
		"trading_mode":     "TRADING_MODE",
		"initial_balance":  "INITIAL_BALANCE",
		"tick_interval":    "TICK_INTERVAL",
		"pm_base_url":      "PM_BASE_URL",
		"pm_api_key_id":    "PM_API_KEY_ID",
		"pm_private_key":   "PM_PRIVATE_KEY",
		"venue_max_retries": "VENUE_MAX_RETRIES",
		"venue_rate_limit": "VENUE_RATE_LIMIT",

		"risk_kelly_fraction":                           "RISK_KELLY_FRACTION",
		"risk_max_kelly_position_pct":                    "RISK_MAX_KELLY_POSITION_PCT",
		"risk_min_edge":                                 "RISK_MIN_EDGE",
		"risk_max_position_per_market":                  "RISK_MAX_POSITION_PER_MARKET",
		"risk_max_portfolio_exposure":                    "RISK_MAX_PORTFOLIO_EXPOSURE",
		"risk_max_portfolio_exposure_pct":                "RISK_MAX_PORTFOLIO_EXPOSURE_PCT",
		"risk_max_correlated_exposure":                   "RISK_MAX_CORRELATED_EXPOSURE",
		"risk_max_positions":                             "RISK_MAX_POSITIONS",
		"risk_max_daily_loss":                             "RISK_MAX_DAILY_LOSS",
		"risk_max_drawdown_pct":                           "RISK_MAX_DRAWDOWN_PCT",
		"risk_max_total_pnl_drawdown_pct_for_new_buys":    "RISK_MAX_TOTAL_PNL_DRAWDOWN_PCT_FOR_NEW_BUYS",
		"risk_min_trade_size":                             "RISK_MIN_TRADE_SIZE",
		"risk_min_arb_margin":                             "RISK_MIN_ARB_MARGIN",

		"enable_market_maker":     "ENABLE_MARKET_MAKER",
		"enable_live_arbitrage":   "ENABLE_LIVE_ARBITRAGE",
		"enable_statistical_edge": "ENABLE_STATISTICAL_EDGE",

		"maker_enabled_markets":          "MAKER_ENABLED_MARKETS",
		"maker_order_size":               "MAKER_ORDER_SIZE",
		"maker_max_inventory":            "MAKER_MAX_INVENTORY",
		"maker_inventory_skew_factor":    "MAKER_INVENTORY_SKEW_FACTOR",
		"maker_min_spread_pct":           "MAKER_MIN_SPREAD_PCT",
		"maker_max_spread_pct":           "MAKER_MAX_SPREAD_PCT",
		"maker_refresh_interval":         "MAKER_REFRESH_INTERVAL",
		"maker_price_tolerance":          "MAKER_PRICE_TOLERANCE",
		"maker_maker_only":               "MAKER_MAKER_ONLY",
		"maker_max_contracts_per_order":  "MAKER_MAX_CONTRACTS_PER_ORDER",
		"maker_min_mid_price":            "MAKER_MIN_MID_PRICE",
		"maker_max_mid_price":            "MAKER_MAX_MID_PRICE",
		"maker_stop_loss_cooldown":       "MAKER_STOP_LOSS_COOLDOWN_SECS",
		"maker_aggressive_stop_loss_pct": "MAKER_AGGRESSIVE_STOP_LOSS_PCT",
		"maker_stop_loss_pct":            "MAKER_STOP_LOSS_PCT",
		"maker_max_underwater_hold":      "MAKER_MAX_UNDERWATER_HOLD_SECONDS",

		"livearb_cooldown":       "LIVEARB_COOLDOWN_SECONDS",
		"livearb_max_prob_shift": "LIVEARB_MAX_PROB_SHIFT",
		"livearb_lead_multiplier": "LIVEARB_LEAD_MULTIPLIER",
		"livearb_min_edge":       "LIVEARB_MIN_EDGE",
		"livearb_max_quantity":   "LIVEARB_MAX_QUANTITY",
		"scores_feed_url":        "SCORES_FEED_URL",
		"scores_poll_interval":   "SCORES_POLL_INTERVAL",

		"statedge_cooldown":    "STATEDGE_COOLDOWN_SECONDS",
		"statedge_min_edge":    "STATEDGE_MIN_EDGE",
		"statedge_max_quantity": "STATEDGE_MAX_QUANTITY",
		"odds_feed_url":        "ODDS_FEED_URL",
		"odds_poll_interval":   "ODDS_POLL_INTERVAL",

		"feed_poll_interval":             "FEED_POLL_INTERVAL",
		"feed_max_concurrency":           "FEED_MAX_CONCURRENCY",
		"feed_max_consecutive_failures":  "FEED_MAX_CONSECUTIVE_FAILURES",
		"feed_staleness_threshold":       "FEED_STALENESS_THRESHOLD",

		"market_slugs":  "MARKET_SLUGS",
		"leagues":       "LEAGUES",
		"market_types":  "MARKET_TYPES",
		"min_liquidity": "MIN_LIQUIDITY",
		"max_markets":   "MAX_MARKETS",
		"discovery_cache_ttl": "DISCOVERY_CACHE_TTL",

		"log_level": "LOG_LEVEL",
		"log_json":  "LOG_JSON",
	}
	for key, env := range pairs {
		_ = v.BindEnv(key, env)
	}
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks required fields and value ranges, returning a fatal
// ConfigValidation-kind error the entry point exits on (§7).
func (c *Config) Validate() error {
	if c.Mode != ModePaper && c.Mode != ModeLive {
		return fmt.Errorf("config: TRADING_MODE must be %q or %q, got %q", ModePaper, ModeLive, c.Mode)
	}
	if c.Mode == ModeLive {
		if c.Venue.AccessKey == "" {
			return fmt.Errorf("config: PM_API_KEY_ID is required in live mode")
		}
		if c.Venue.PrivateKey == "" {
			return fmt.Errorf("config: PM_PRIVATE_KEY is required in live mode")
		}
	}
	if !c.InitialBalance.IsPositive() {
		return fmt.Errorf("config: INITIAL_BALANCE must be > 0")
	}
	if c.TickInterval <= 0 {
		return fmt.Errorf("config: TICK_INTERVAL must be > 0")
	}
	if c.Risk.MaxPortfolioExposurePct <= 0 || c.Risk.MaxPortfolioExposurePct > 1 {
		return fmt.Errorf("config: RISK_MAX_PORTFOLIO_EXPOSURE_PCT must be in (0,1]")
	}
	if c.Risk.MaxDrawdownPct <= 0 || c.Risk.MaxDrawdownPct > 1 {
		return fmt.Errorf("config: RISK_MAX_DRAWDOWN_PCT must be in (0,1]")
	}
	if !c.EnableMarketMaker && !c.EnableLiveArbitrage && !c.EnableStatisticalEdge {
		return fmt.Errorf("config: at least one strategy must be enabled")
	}
	return nil
}
