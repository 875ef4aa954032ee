package config

import (
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Config is the full engine configuration. Secrets (API keys) come from
// the environment, everything else from the YAML file.
type Config struct {
	Exchange ExchangeConfig `yaml:"exchange" validate:"required"`
	Trading  TradingConfig  `yaml:"trading" validate:"required"`
	Risk     RiskConfig     `yaml:"risk" validate:"required"`
	Executor ExecutorConfig `yaml:"executor" validate:"required"`
	Engine   EngineConfig   `yaml:"engine" validate:"required"`
	Store    StoreConfig    `yaml:"store" validate:"required"`
}

// ExchangeConfig selects the exchange endpoint. Keys are read from the
// BINANCE_API_KEY / BINANCE_API_SECRET environment variables.
type ExchangeConfig struct {
	APIKey     string `yaml:"-"`
	APISecret  string `yaml:"-"`
	BaseURL    string `yaml:"base_url"`
	QuoteAsset string `yaml:"quote_asset" validate:"required"`
}

// TradingConfig holds the per-deal trading parameters.
type TradingConfig struct {
	Symbol string `yaml:"symbol" validate:"required"`
	// BudgetPerDeal is the quote amount committed to each new deal
	BudgetPerDeal float64 `yaml:"budget_per_deal" validate:"gt=0"`
	// ProfitMarkupPercent is the sell markup over the entry price
	ProfitMarkupPercent float64 `yaml:"profit_markup_percent" validate:"gt=0"`
	// MinConfidence below which the aggregate decision is HOLD
	MinConfidence float64 `yaml:"min_confidence" validate:"gte=0,lte=1"`
	// ScoreThreshold the weighted score must cross to act
	ScoreThreshold float64 `yaml:"score_threshold" validate:"gt=0"`
	// AgreementRatio of voting sources required for full confidence
	AgreementRatio float64 `yaml:"agreement_ratio" validate:"gt=0,lte=1"`
}

// RiskConfig holds the risk thresholds consumed by the risk manager.
type RiskConfig struct {
	MaxPositionPercent       float64 `yaml:"max_position_percent" validate:"gt=0,lte=100"`
	StopLossWarningPercent   float64 `yaml:"stop_loss_warning_percent" validate:"gt=0"`
	StopLossCriticalPercent  float64 `yaml:"stop_loss_critical_percent" validate:"gt=0"`
	StopLossEmergencyPercent float64 `yaml:"stop_loss_emergency_percent" validate:"gt=0"`
	MaxDailyLossPercent      float64 `yaml:"max_daily_loss_percent" validate:"gt=0"`
	MaxOpenPositions         int     `yaml:"max_open_positions" validate:"gt=0"`
	BalanceBufferPercent     float64 `yaml:"balance_buffer_percent" validate:"gte=0,lt=100"`
	ForceCloseOnShutdown     bool    `yaml:"force_close_on_shutdown"`
}

// ExecutorConfig holds retry and circuit breaker tunables.
type ExecutorConfig struct {
	MaxAttempts      int           `yaml:"max_attempts" validate:"gt=0"`
	BackoffBase      time.Duration `yaml:"backoff_base" validate:"gt=0"`
	BackoffMax       time.Duration `yaml:"backoff_max" validate:"gt=0"`
	FailureThreshold int           `yaml:"failure_threshold" validate:"gt=0"`
	SuccessThreshold int           `yaml:"success_threshold" validate:"gt=0"`
	RecoveryTimeout  time.Duration `yaml:"recovery_timeout" validate:"gt=0"`
}

// EngineConfig holds the orchestrator's periodic task intervals.
type EngineConfig struct {
	TickInterval       time.Duration `yaml:"tick_interval" validate:"gt=0"`
	SweepInterval      time.Duration `yaml:"sweep_interval" validate:"gt=0"`
	SnapshotInterval   time.Duration `yaml:"snapshot_interval" validate:"gt=0"`
	ReconcileInterval  time.Duration `yaml:"reconcile_interval" validate:"gt=0"`
	GatewayCallTimeout time.Duration `yaml:"gateway_call_timeout" validate:"gt=0"`
	OrderBookDepth     int           `yaml:"order_book_depth" validate:"gt=0"`
	ImbalanceThreshold float64       `yaml:"imbalance_threshold" validate:"gt=0,lte=1"`
}

// StoreConfig selects the persistence target.
type StoreConfig struct {
	// Path of the DuckDB database file, or ":memory:" for ephemeral runs
	Path string `yaml:"path" validate:"required"`
}

// DefaultConfig returns the configuration with every tunable at its
// documented default.
func DefaultConfig() Config {
	return Config{
		Exchange: ExchangeConfig{
			QuoteAsset: "USDT",
		},
		Trading: TradingConfig{
			Symbol:              "BTCUSDT",
			BudgetPerDeal:       100,
			ProfitMarkupPercent: 1.5,
			MinConfidence:       0.5,
			ScoreThreshold:      0.15,
			AgreementRatio:      0.6,
		},
		Risk: RiskConfig{
			MaxPositionPercent:       10,
			StopLossWarningPercent:   5,
			StopLossCriticalPercent:  10,
			StopLossEmergencyPercent: 15,
			MaxDailyLossPercent:      10,
			MaxOpenPositions:         3,
			BalanceBufferPercent:     10,
			ForceCloseOnShutdown:     false,
		},
		Executor: ExecutorConfig{
			MaxAttempts:      3,
			BackoffBase:      500 * time.Millisecond,
			BackoffMax:       10 * time.Second,
			FailureThreshold: 5,
			SuccessThreshold: 2,
			RecoveryTimeout:  30 * time.Second,
		},
		Engine: EngineConfig{
			TickInterval:       5 * time.Second,
			SweepInterval:      10 * time.Second,
			SnapshotInterval:   30 * time.Second,
			ReconcileInterval:  3 * time.Minute,
			GatewayCallTimeout: 10 * time.Second,
			OrderBookDepth:     20,
			ImbalanceThreshold: 0.3,
		},
		Store: StoreConfig{
			Path: "argo-spot.db",
		},
	}
}

// LoadConfig reads the YAML file at path over the defaults, pulls secrets
// from the environment and validates the result. A missing .env file is
// not an error.
func LoadConfig(path string) (Config, error) {
	_ = godotenv.Load()

	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, errors.Wrapf(errors.ErrCodeInvalidConfiguration, err, "failed to read config file %s", path)
	}

	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, errors.Wrap(errors.ErrCodeInvalidConfiguration, "failed to parse config file", err)
	}

	cfg.Exchange.APIKey = os.Getenv("BINANCE_API_KEY")
	cfg.Exchange.APISecret = os.Getenv("BINANCE_API_SECRET")

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks structural validity plus the cross-field ordering the
// stop loss tiers require.
func (c *Config) Validate() error {
	validate := validator.New()

	if err := validate.Struct(c); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidConfiguration, "invalid configuration", err)
	}

	if c.Risk.StopLossWarningPercent >= c.Risk.StopLossCriticalPercent {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"stop loss warning tier %.2f must be below critical tier %.2f",
			c.Risk.StopLossWarningPercent, c.Risk.StopLossCriticalPercent)
	}

	if c.Risk.StopLossCriticalPercent >= c.Risk.StopLossEmergencyPercent {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"stop loss critical tier %.2f must be below emergency tier %.2f",
			c.Risk.StopLossCriticalPercent, c.Risk.StopLossEmergencyPercent)
	}

	if c.Executor.BackoffBase > c.Executor.BackoffMax {
		return errors.Newf(errors.ErrCodeInvalidConfiguration,
			"backoff base %s exceeds backoff max %s",
			c.Executor.BackoffBase, c.Executor.BackoffMax)
	}

	return nil
}

// RiskParameters projects the risk section into the engine type.
func (c *RiskConfig) RiskParameters() types.RiskParameters {
	return types.RiskParameters{
		MaxPositionPercent:       c.MaxPositionPercent,
		StopLossWarningPercent:   c.StopLossWarningPercent,
		StopLossCriticalPercent:  c.StopLossCriticalPercent,
		StopLossEmergencyPercent: c.StopLossEmergencyPercent,
		MaxDailyLossPercent:      c.MaxDailyLossPercent,
		MaxOpenPositions:         c.MaxOpenPositions,
		BalanceBufferPercent:     c.BalanceBufferPercent,
		ForceCloseOnShutdown:     c.ForceCloseOnShutdown,
	}
}
