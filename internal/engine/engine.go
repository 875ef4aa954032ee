package engine

import (
	"context"

	"github.com/rxtech-lab/argo-spot/internal/config"
	"github.com/rxtech-lab/argo-spot/internal/exchange"
	"github.com/rxtech-lab/argo-spot/internal/store"
	"github.com/rxtech-lab/argo-spot/internal/types"
)

// Lifecycle callback types for trading phases.
// All callbacks with error return can abort execution if they return an error.

// OnEngineStartCallback is called when the engine starts successfully.
// restored is true when a valid snapshot was recovered from the store.
type OnEngineStartCallback func(symbol string, restored bool) error

// OnEngineStopCallback is called when the engine stops (always called via defer).
type OnEngineStopCallback func(err error)

// OnTickCallback is called for each market ticker processed.
type OnTickCallback func(ticker types.Ticker) error

// OnDecisionCallback is called after every aggregation round, including
// HOLD decisions.
type OnDecisionCallback func(decision types.TradingDecision) error

// OnOrderPlacedCallback is called when an order is accepted by the exchange.
type OnOrderPlacedCallback func(order types.Order) error

// OnOrderFilledCallback is called when an order is fully filled.
type OnOrderFilledCallback func(order types.Order) error

// OnDealClosedCallback is called when a deal reaches a terminal state.
type OnDealClosedCallback func(deal types.Deal) error

// OnRiskAlertCallback is called when the stop loss sweep classifies an open
// deal at WARNING or above, and when a trade is rejected by risk checks.
type OnRiskAlertCallback func(tier types.StopLossTier, reason string)

// OnErrorCallback is called when a non-fatal error occurs.
type OnErrorCallback func(err error)

// OnStatusUpdateCallback is called when engine status changes.
type OnStatusUpdateCallback func(status types.EngineStatus) error

// Callbacks holds all lifecycle callback functions for the trading engine.
// All fields are pointers - nil means no callback will be invoked.
type Callbacks struct {
	// OnEngineStart is called when the engine starts successfully.
	OnEngineStart *OnEngineStartCallback

	// OnEngineStop is called when the engine stops (always called via defer).
	OnEngineStop *OnEngineStopCallback

	// OnTick is called for each market ticker processed.
	OnTick *OnTickCallback

	// OnDecision is called after every aggregation round.
	OnDecision *OnDecisionCallback

	// OnOrderPlaced is called when an order is accepted by the exchange.
	OnOrderPlaced *OnOrderPlacedCallback

	// OnOrderFilled is called when an order is fully filled.
	OnOrderFilled *OnOrderFilledCallback

	// OnDealClosed is called when a deal reaches a terminal state.
	OnDealClosed *OnDealClosedCallback

	// OnRiskAlert is called on stop loss classifications and risk rejections.
	OnRiskAlert *OnRiskAlertCallback

	// OnError is called when a non-fatal error occurs.
	OnError *OnErrorCallback

	// OnStatusUpdate is called when engine status changes.
	OnStatusUpdate *OnStatusUpdateCallback
}

// TradingEngine orchestrates signal aggregation, risk supervision, order
// execution and deal lifecycle management against one exchange account.
type TradingEngine interface {
	// Initialize sets up the engine with the given configuration.
	Initialize(cfg config.Config) error

	// SetGateway configures the exchange gateway.
	SetGateway(gateway exchange.Gateway) error

	// SetStore configures the persistence store.
	SetStore(store store.Store) error

	// Run starts the trading engine: recovers state, reconciles against the
	// exchange, then processes ticks and periodic tasks.
	// Blocks until the context is cancelled or a fatal error occurs.
	Run(ctx context.Context, callbacks Callbacks) error

	// GetPortfolioStatus returns a consistent snapshot of balances, open
	// deals and pending orders.
	GetPortfolioStatus(ctx context.Context) (types.PortfolioSnapshot, error)

	// EmergencyShutdown cancels pending orders, optionally force-closes open
	// deals and halts the engine. Best effort, partial failures are logged.
	EmergencyShutdown(ctx context.Context, reason string) error
}
