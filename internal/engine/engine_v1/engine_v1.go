package engine_v1

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/config"
	"github.com/rxtech-lab/argo-spot/internal/engine"
	"github.com/rxtech-lab/argo-spot/internal/exchange"
	"github.com/rxtech-lab/argo-spot/internal/indicator"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/store"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/internal/utils"
	"github.com/rxtech-lab/argo-spot/internal/version"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"go.uber.org/zap"
)

// Default exchange taker fee assumed when sizing orders.
const DefaultFeeRate = 0.001

// TradingEngineV1 implements engine.TradingEngine. One mutex serializes
// tick processing and the periodic tasks, so business logic between
// gateway/store calls never observes torn deal or order state.
type TradingEngineV1 struct {
	config      config.Config
	gateway     exchange.Gateway
	store       store.Store
	log         *logger.Logger
	initialized bool

	aggregator *SignalAggregator
	risk       *RiskManager
	breaker    *CircuitBreaker
	executor   *OrderExecutor
	deals      *DealManager
	reconciler *Reconciler
	tracker    *indicator.Tracker

	mu        sync.Mutex
	status    types.EngineStatus
	balance   types.Balance
	lastPrice float64
	lastTick  map[string]time.Time
	callbacks engine.Callbacks

	// user callbacks queued under mu, fired after it is released
	cbMu             sync.Mutex
	pendingCallbacks []func()
}

// NewTradingEngineV1 creates an uninitialized engine.
func NewTradingEngineV1() (engine.TradingEngine, error) {
	log, err := logger.NewLogger()
	if err != nil {
		return nil, err
	}

	return &TradingEngineV1{
		config:      config.Config{},
		gateway:     nil,
		store:       nil,
		log:         log,
		initialized: false,
		aggregator:  nil,
		risk:        nil,
		breaker:     nil,
		executor:    nil,
		deals:       nil,
		reconciler:  nil,
		tracker:     indicator.NewTracker(),
		status:      types.EngineStatusStarting,
		balance:     types.Balance{},
		lastPrice:   0,
		lastTick:    make(map[string]time.Time),
		callbacks:   engine.Callbacks{},
	}, nil
}

// Initialize implements engine.TradingEngine.
func (e *TradingEngineV1) Initialize(cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	e.config = cfg

	e.aggregator = NewSignalAggregator(AggregatorConfig{
		MinConfidence:  cfg.Trading.MinConfidence,
		ScoreThreshold: cfg.Trading.ScoreThreshold,
		AgreementRatio: cfg.Trading.AgreementRatio,
	}, e.log)

	e.aggregator.AddSource(NewTrendSource())
	e.aggregator.AddSource(NewImbalanceSource(cfg.Engine.OrderBookDepth, cfg.Engine.ImbalanceThreshold))
	e.aggregator.AddSource(NewConditionSource(0.01, 0))

	e.risk = NewRiskManager(cfg.Risk.RiskParameters(),
		cfg.Engine.OrderBookDepth, cfg.Engine.ImbalanceThreshold, e.log)

	e.breaker = NewCircuitBreaker("gateway", CircuitBreakerConfig{
		FailureThreshold: cfg.Executor.FailureThreshold,
		SuccessThreshold: cfg.Executor.SuccessThreshold,
		RecoveryTimeout:  cfg.Executor.RecoveryTimeout,
	}, e.log)

	e.initialized = true

	e.log.Debug("Trading engine initialized",
		zap.String("symbol", cfg.Trading.Symbol),
		zap.Float64("budget_per_deal", cfg.Trading.BudgetPerDeal))

	return nil
}

// SetGateway implements engine.TradingEngine.
func (e *TradingEngineV1) SetGateway(gateway exchange.Gateway) error {
	e.gateway = gateway

	return nil
}

// SetStore implements engine.TradingEngine.
func (e *TradingEngineV1) SetStore(engineStore store.Store) error {
	e.store = engineStore

	return nil
}

// Run implements engine.TradingEngine. It restores state, reconciles
// against the exchange, then interleaves tick processing with the
// periodic tasks until the context is cancelled.
func (e *TradingEngineV1) Run(ctx context.Context, callbacks engine.Callbacks) error {
	var runErr error

	defer func() {
		e.mu.Lock()
		if e.status != types.EngineStatusHalted {
			e.setStatusLocked(types.EngineStatusStopped)
		}

		e.persistStateLocked(context.Background())
		e.mu.Unlock()

		e.flushCallbacks()

		if callbacks.OnEngineStop != nil {
			(*callbacks.OnEngineStop)(runErr)
		}
	}()

	if err := e.preRunCheck(); err != nil {
		runErr = err

		return err
	}

	e.callbacks = callbacks
	e.wireComponents()

	restored, err := e.start(ctx)
	if err != nil {
		runErr = err

		return err
	}

	if callbacks.OnEngineStart != nil {
		if err := (*callbacks.OnEngineStart)(e.config.Trading.Symbol, restored); err != nil {
			runErr = err

			return err
		}
	}

	e.mu.Lock()
	e.setStatusLocked(types.EngineStatusRunning)
	e.mu.Unlock()

	e.flushCallbacks()

	runErr = e.loop(ctx)
	if runErr != nil && ctx.Err() != nil {
		// cancelled shutdown is a clean exit
		runErr = nil
	}

	return runErr
}

// start loads the snapshot, runs startup reconciliation and records the
// resulting state.
func (e *TradingEngineV1) start(ctx context.Context) (bool, error) {
	state, restored, err := e.reconciler.LoadState(ctx, e.risk.Parameters())
	if err != nil {
		return false, err
	}

	e.mu.Lock()
	e.lastTick = state.LastProcessedTick
	e.mu.Unlock()

	if err := e.reconciler.Reconcile(ctx); err != nil {
		return restored, err
	}

	if balance, err := e.gateway.FetchBalance(ctx); err == nil {
		e.mu.Lock()
		e.balance = balance
		e.mu.Unlock()
	}

	e.mu.Lock()
	e.persistStateLocked(ctx)
	e.mu.Unlock()

	return restored, nil
}

// loop interleaves tick processing with the periodic tasks. Each case
// takes the engine mutex, so iterations are serialized and a shutdown
// signal lets the current iteration finish before final persistence.
func (e *TradingEngineV1) loop(ctx context.Context) error {
	tick := time.NewTicker(e.config.Engine.TickInterval)
	defer tick.Stop()

	sweep := time.NewTicker(e.config.Engine.SweepInterval)
	defer sweep.Stop()

	snapshot := time.NewTicker(e.config.Engine.SnapshotInterval)
	defer snapshot.Stop()

	reconcile := time.NewTicker(e.config.Engine.ReconcileInterval)
	defer reconcile.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()

		case <-tick.C:
			ticker, book, err := e.fetchMarket(ctx)
			if err != nil {
				e.reportError(err)

				continue
			}

			if cbErr := e.invokeOnTick(ticker); cbErr != nil {
				return cbErr
			}

			e.OnTick(ctx, ticker, book)

		case <-sweep.C:
			e.runStopLossSweep(ctx)

		case <-snapshot.C:
			e.mu.Lock()
			e.persistStateLocked(ctx)
			e.mu.Unlock()

		case <-reconcile.C:
			e.runReconciliation(ctx)
		}

		e.flushCallbacks()

		if e.Status() == types.EngineStatusHalted {
			return errors.New(errors.ErrCodeEngineHalted, "engine halted by emergency shutdown")
		}
	}
}

// OnTick processes one market data point: refresh order state, then risk
// supervision, then the new-signal pipeline. Any unexpected error is
// caught here so a bad tick never crashes the process. User callbacks
// queued during processing fire after the mutex is released, so they may
// call back into the engine.
func (e *TradingEngineV1) OnTick(ctx context.Context, ticker types.Ticker, book types.OrderBook) {
	e.processTick(ctx, ticker, book)
	e.flushCallbacks()
}

func (e *TradingEngineV1) processTick(ctx context.Context, ticker types.Ticker, book types.OrderBook) {
	e.mu.Lock()
	defer e.mu.Unlock()

	defer func() {
		if r := recover(); r != nil {
			e.log.Error("Tick processing panicked",
				zap.Any("panic", r),
				zap.String("symbol", ticker.Symbol))
		}
	}()

	if e.status != types.EngineStatusRunning {
		return
	}

	if ticker.Last > 0 {
		e.lastPrice = ticker.Last
	}

	// decorate the ticker with streaming indicator values for the
	// trend source; cold averages leave it untouched
	e.tracker.Apply(&ticker)

	e.pollPendingOrders(ctx)

	// Risk supervision outranks fresh signals: a position under stop loss
	// evaluation blocks new entries for this tick.
	blocked := e.superviseLocked(ctx, ticker, book)

	decision := e.aggregator.Aggregate(ticker, book)

	if e.callbacks.OnDecision != nil {
		e.queueCallback(func() { _ = (*e.callbacks.OnDecision)(decision) })
	}

	if !blocked {
		e.applyDecisionLocked(ctx, decision, ticker)
	}

	e.lastTick[ticker.Symbol] = ticker.Timestamp
	e.persistStateLocked(ctx)
}

// GetPortfolioStatus implements engine.TradingEngine.
func (e *TradingEngineV1) GetPortfolioStatus(ctx context.Context) (types.PortfolioSnapshot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if balance, err := e.gateway.FetchBalance(ctx); err == nil {
		e.balance = balance
	}

	lastPrice := e.lastKnownPriceLocked()
	openDeals := e.deals.OpenDeals()

	return types.PortfolioSnapshot{
		Status:         e.status,
		Balance:        e.balance,
		OpenDeals:      openDeals,
		PendingOrders:  e.deals.PendingOrders(),
		DailyPnL:       e.risk.DailyPnL(openDeals, lastPrice),
		CompletedToday: e.risk.PnL().ClosedToday(),
		Timestamp:      time.Now().UTC(),
	}, nil
}

// EmergencyShutdown implements engine.TradingEngine. Best effort: every
// failure is logged and shutdown continues.
func (e *TradingEngineV1) EmergencyShutdown(ctx context.Context, reason string) error {
	e.mu.Lock()
	e.emergencyShutdownLocked(ctx, reason)
	e.mu.Unlock()

	e.flushCallbacks()

	return nil
}

// Status returns the current engine status.
func (e *TradingEngineV1) Status() types.EngineStatus {
	e.mu.Lock()
	defer e.mu.Unlock()

	return e.status
}

// wireComponents builds the parts that need the gateway and store.
func (e *TradingEngineV1) wireComponents() {
	e.executor = NewOrderExecutor(e.gateway, e.breaker, ExecutorConfig{
		MaxAttempts: e.config.Executor.MaxAttempts,
		BackoffBase: e.config.Executor.BackoffBase,
		BackoffMax:  e.config.Executor.BackoffMax,
	}, e.log)
	e.deals = NewDealManager(e.store, e.log)
	e.reconciler = NewReconciler(e.gateway, e.store, e.executor, e.deals, e.config.Trading.Symbol, e.log)
}

func (e *TradingEngineV1) preRunCheck() error {
	if !e.initialized {
		return errors.New(errors.ErrCodeInvalidConfiguration, "engine not initialized")
	}

	if e.gateway == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "gateway not set")
	}

	if e.store == nil {
		return errors.New(errors.ErrCodeInvalidConfiguration, "store not set")
	}

	return nil
}

// fetchMarket pulls the ticker and depth snapshot for the traded symbol.
func (e *TradingEngineV1) fetchMarket(ctx context.Context) (types.Ticker, types.OrderBook, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.config.Engine.GatewayCallTimeout)
	defer cancel()

	ticker, err := e.gateway.FetchTicker(callCtx, e.config.Trading.Symbol)
	if err != nil {
		return types.Ticker{}, types.OrderBook{}, err
	}

	book, err := e.gateway.FetchOrderBook(callCtx, e.config.Trading.Symbol, e.config.Engine.OrderBookDepth)
	if err != nil {
		return types.Ticker{}, types.OrderBook{}, err
	}

	return ticker, book, nil
}

// pollPendingOrders refreshes every working order and drives owning deals
// forward on fills.
func (e *TradingEngineV1) pollPendingOrders(ctx context.Context) {
	for _, order := range e.deals.PendingOrders() {
		updated, err := e.executor.CheckOrderStatus(ctx, order)
		if err != nil {
			e.reportError(err)

			continue
		}

		if updated.Status == order.Status && updated.FilledAmount == order.FilledAmount {
			continue
		}

		if err := e.deals.UpdateOrder(ctx, updated); err != nil {
			e.reportError(err)

			continue
		}

		if updated.Status == types.OrderStatusFilled {
			e.handleFillLocked(ctx, updated)
		}

		if updated.Status == types.OrderStatusCancelled || updated.Status == types.OrderStatusRejected {
			e.handleDeadOrderLocked(ctx, updated)
		}
	}
}

// handleFillLocked advances the owning deal after a full fill.
func (e *TradingEngineV1) handleFillLocked(ctx context.Context, order types.Order) {
	if e.callbacks.OnOrderFilled != nil {
		e.queueCallback(func() { _ = (*e.callbacks.OnOrderFilled)(order) })
	}

	deal, owned := e.deals.DealOwningOrder(order.ID)
	if !owned {
		return
	}

	switch {
	case order.Side == types.OrderSideBuy && deal.Status == types.DealStatusBuyPlaced:
		entry := order.LimitPrice(e.lastKnownPriceLocked())
		if err := e.deals.MarkBuyFilled(ctx, deal.ID, entry, order.FilledAmount); err != nil {
			e.reportError(err)

			return
		}

		e.placePairedSellLocked(ctx, deal.ID)

	case order.Side == types.OrderSideSell && deal.Status == types.DealStatusSellPlaced:
		price := order.LimitPrice(e.lastKnownPriceLocked())
		if err := e.deals.Complete(ctx, deal.ID, price, order.Fee.Cost); err != nil {
			e.reportError(err)

			return
		}

		e.recordCompletionLocked(ctx, deal.ID)
	}
}

// handleDeadOrderLocked closes the owning deal when its working order was
// cancelled or rejected outside the engine.
func (e *TradingEngineV1) handleDeadOrderLocked(ctx context.Context, order types.Order) {
	deal, owned := e.deals.DealOwningOrder(order.ID)
	if !owned || deal.Status.IsTerminal() {
		return
	}

	if order.Side == types.OrderSideBuy {
		if err := e.deals.Cancel(ctx, deal.ID, "buy order "+string(order.Status)); err != nil {
			e.reportError(err)
		}

		e.notifyDealClosed(deal.ID)
	}
	// a dead sell order leaves the deal in SELL_PLACED; reconciliation or
	// the next sweep re-places the exit
}

// superviseLocked runs the stop loss classification inline on tick data
// and executes forced closes. Returns true when an open position is under
// CRITICAL or EMERGENCY evaluation, which blocks new entries this tick.
func (e *TradingEngineV1) superviseLocked(ctx context.Context, ticker types.Ticker, book types.OrderBook) bool {
	evaluations := e.risk.SweepOpenDeals(e.deals.OpenDeals(), ticker.Last, book)

	blocked := false

	for _, evaluation := range evaluations {
		if evaluation.Tier == types.StopLossTierCritical || evaluation.Tier == types.StopLossTierEmergency {
			blocked = true
		}

		if e.callbacks.OnRiskAlert != nil {
			tier, reason := evaluation.Tier, evaluation.Reason
			e.queueCallback(func() { (*e.callbacks.OnRiskAlert)(tier, reason) })
		}

		if evaluation.ForceClose {
			e.forceCloseLocked(ctx, evaluation.DealID, evaluation.Reason)
		}
	}

	return blocked
}

// applyDecisionLocked turns a BUY decision into a new deal. SELL decisions
// close open positions early; HOLD does nothing.
func (e *TradingEngineV1) applyDecisionLocked(ctx context.Context, decision types.TradingDecision, ticker types.Ticker) {
	switch decision.Action {
	case types.SignalActionBuy:
		e.openDealLocked(ctx, decision, ticker)

	case types.SignalActionSell:
		for _, deal := range e.deals.OpenDeals() {
			if deal.Status == types.DealStatusBuyFilled || deal.Status == types.DealStatusSellPlaced {
				e.forceCloseLocked(ctx, deal.ID, "sell signal at confidence "+formatFloat(decision.Confidence))
			}
		}
	}
}

// openDealLocked validates and executes a new buy.
func (e *TradingEngineV1) openDealLocked(ctx context.Context, decision types.TradingDecision, ticker types.Ticker) {
	balance, err := e.gateway.FetchBalance(ctx)
	if err != nil {
		e.reportError(err)

		return
	}

	e.balance = balance

	notional := e.config.Trading.BudgetPerDeal
	verdict := e.risk.ValidateTrade(notional, balance, e.deals.OpenDeals(), ticker.Last)

	if !verdict.Approved {
		e.log.Warn("Trade rejected by risk checks",
			zap.String("reason", verdict.Reason),
			zap.String("level", string(verdict.Level)))

		if e.callbacks.OnRiskAlert != nil {
			reason := verdict.Reason
			e.queueCallback(func() { (*e.callbacks.OnRiskAlert)(types.StopLossTierNone, reason) })
		}

		if verdict.Level == types.RiskLevelCritical {
			e.emergencyShutdownLocked(ctx, verdict.Reason)
		}

		return
	}

	price := ticker.Ask
	if price <= 0 {
		price = ticker.Last
	}

	amount := utils.RoundToDecimalPrecision(
		utils.MaxQuantityForBudget(notional, price, DefaultFeeRate),
		exchange.BinanceDecimalPrecision)
	if amount <= 0 {
		return
	}

	deal := e.deals.CreateDeal(ctx, ticker.Symbol, e.config.Trading.ProfitMarkupPercent)

	order, err := e.executor.ExecuteOrder(ctx, exchange.CreateOrderRequest{
		Symbol:        ticker.Symbol,
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        amount,
		Price:         optional.Some(price),
		ClientOrderID: uuid.New().String(),
	})
	if err != nil {
		e.reportError(err)

		if failErr := e.deals.Fail(ctx, deal.ID, "buy placement failed"); failErr != nil {
			e.reportError(failErr)
		}

		return
	}

	if err := e.deals.MarkBuyPlaced(ctx, deal.ID, order); err != nil {
		e.reportError(err)

		return
	}

	if e.callbacks.OnOrderPlaced != nil {
		placed := order
		e.queueCallback(func() { _ = (*e.callbacks.OnOrderPlaced)(placed) })
	}

	if order.Status == types.OrderStatusFilled {
		e.handleFillLocked(ctx, order)
	}

	e.persistStateLocked(ctx)
}

// placePairedSellLocked places the exit order at the deal's target price.
func (e *TradingEngineV1) placePairedSellLocked(ctx context.Context, dealID string) {
	deal, err := e.deals.Deal(dealID)
	if err != nil {
		e.reportError(err)

		return
	}

	order, err := e.executor.ExecuteOrder(ctx, exchange.CreateOrderRequest{
		Symbol:        deal.Symbol,
		Side:          types.OrderSideSell,
		Type:          types.OrderTypeLimit,
		Amount:        deal.Amount,
		Price:         optional.Some(deal.TargetSellPrice()),
		ClientOrderID: uuid.New().String(),
	})
	if err != nil {
		// position stays open; reconciliation will retry the sell
		e.reportError(err)

		return
	}

	if err := e.deals.MarkSellPlaced(ctx, dealID, order); err != nil {
		e.reportError(err)

		return
	}

	if e.callbacks.OnOrderPlaced != nil {
		placed := order
		e.queueCallback(func() { _ = (*e.callbacks.OnOrderPlaced)(placed) })
	}

	if order.Status == types.OrderStatusFilled {
		e.handleFillLocked(ctx, order)
	}
}

// forceCloseLocked cancels the resting sell if any and market-closes the
// position.
func (e *TradingEngineV1) forceCloseLocked(ctx context.Context, dealID, reason string) {
	deal, err := e.deals.Deal(dealID)
	if err != nil {
		e.reportError(err)

		return
	}

	if deal.Status.IsTerminal() {
		return
	}

	e.log.Warn("Force closing position",
		zap.String("deal_id", dealID),
		zap.String("reason", reason))

	if deal.SellOrderID.IsSome() {
		if sell, sellErr := e.deals.Order(deal.SellOrderID.Unwrap()); sellErr == nil {
			if cancelErr := e.executor.CancelOrder(ctx, sell); cancelErr != nil {
				e.reportError(cancelErr)
			} else if !sell.Status.IsTerminal() {
				sell.Status = types.OrderStatusCancelled
				_ = e.deals.UpdateOrder(ctx, sell)
			}
		}
	}

	if deal.Amount <= 0 {
		// nothing bought yet, cancel the resting buy and the deal outright
		if buy, buyErr := e.deals.Order(deal.BuyOrderID); buyErr == nil && !buy.Status.IsTerminal() {
			if cancelErr := e.executor.CancelOrder(ctx, buy); cancelErr != nil {
				e.reportError(cancelErr)
			} else {
				buy.Status = types.OrderStatusCancelled
				_ = e.deals.UpdateOrder(ctx, buy)
			}
		}

		if cancelErr := e.deals.Cancel(ctx, dealID, reason); cancelErr != nil {
			e.reportError(cancelErr)
		}

		e.notifyDealClosed(dealID)

		return
	}

	closeOrder, err := e.executor.ExecuteOrder(ctx, exchange.CreateOrderRequest{
		Symbol:        deal.Symbol,
		Side:          types.OrderSideSell,
		Type:          types.OrderTypeMarket,
		Amount:        deal.Amount,
		Price:         optional.None[float64](),
		ClientOrderID: uuid.New().String(),
	})
	if err != nil {
		e.reportError(err)

		return
	}

	switch deal.Status {
	case types.DealStatusBuyFilled:
		if err := e.deals.MarkSellPlaced(ctx, dealID, closeOrder); err != nil {
			e.reportError(err)

			return
		}

	case types.DealStatusSellPlaced:
		if err := e.deals.ReplaceSell(ctx, dealID, closeOrder); err != nil {
			e.reportError(err)

			return
		}
	}

	if closeOrder.Status == types.OrderStatusFilled {
		price := closeOrder.LimitPrice(e.lastKnownPriceLocked())
		if err := e.deals.Complete(ctx, dealID, price, closeOrder.Fee.Cost); err != nil {
			e.reportError(err)

			return
		}

		e.recordCompletionLocked(ctx, dealID)
	}

	e.persistStateLocked(ctx)
}

// recordCompletionLocked feeds the realized profit into the daily tracker
// and notifies listeners.
func (e *TradingEngineV1) recordCompletionLocked(ctx context.Context, dealID string) {
	deal, err := e.deals.Deal(dealID)
	if err != nil {
		e.reportError(err)

		return
	}

	if deal.ActualProfit.IsSome() {
		e.risk.PnL().AddRealized(deal.ActualProfit.Unwrap())
	}

	e.notifyDealClosed(dealID)
	e.persistStateLocked(ctx)
}

func (e *TradingEngineV1) notifyDealClosed(dealID string) {
	if e.callbacks.OnDealClosed == nil {
		return
	}

	if deal, err := e.deals.Deal(dealID); err == nil {
		e.queueCallback(func() { _ = (*e.callbacks.OnDealClosed)(deal) })
	}
}

// runStopLossSweep is the periodic supervision task.
func (e *TradingEngineV1) runStopLossSweep(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != types.EngineStatusRunning {
		return
	}

	if e.deals.OpenDealCount() == 0 {
		return
	}

	ticker, book, err := e.fetchMarket(ctx)
	if err != nil {
		e.reportError(err)

		return
	}

	if ticker.Last > 0 {
		e.lastPrice = ticker.Last
	}

	e.superviseLocked(ctx, ticker, book)
}

// runReconciliation is the periodic drift repair task.
func (e *TradingEngineV1) runReconciliation(ctx context.Context) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.status != types.EngineStatusRunning {
		return
	}

	if err := e.reconciler.Reconcile(ctx); err != nil {
		e.reportError(err)

		return
	}

	if balance, err := e.gateway.FetchBalance(ctx); err == nil {
		if balance != e.balance {
			e.log.Warn("Balance drift detected, adopting exchange truth",
				zap.Float64("local_free", e.balance.Free),
				zap.Float64("exchange_free", balance.Free))
		}

		e.balance = balance
	}

	e.persistStateLocked(ctx)
}

// emergencyShutdownLocked cancels pending orders, optionally force-closes
// positions and halts the engine. Must be called with the mutex held.
func (e *TradingEngineV1) emergencyShutdownLocked(ctx context.Context, reason string) {
	if e.status == types.EngineStatusHalted {
		return
	}

	e.log.Error("EMERGENCY SHUTDOWN",
		zap.String("reason", reason),
		zap.Int("open_deals", e.deals.OpenDealCount()))

	for _, order := range e.deals.PendingOrders() {
		if err := e.executor.CancelOrder(ctx, order); err != nil {
			e.log.Error("Failed to cancel order during shutdown",
				zap.String("order_id", order.ID),
				zap.Error(err))

			continue
		}

		cancelled := order
		cancelled.Status = types.OrderStatusCancelled
		_ = e.deals.UpdateOrder(ctx, cancelled)
	}

	for _, deal := range e.deals.OpenDeals() {
		if e.risk.Parameters().ForceCloseOnShutdown && deal.Amount > 0 {
			e.forceCloseLocked(ctx, deal.ID, "emergency shutdown: "+reason)

			continue
		}

		if err := e.deals.Cancel(ctx, deal.ID, "emergency shutdown: "+reason); err != nil {
			e.log.Error("Failed to cancel deal during shutdown",
				zap.String("deal_id", deal.ID),
				zap.Error(err))
		}
	}

	e.setStatusLocked(types.EngineStatusHalted)
	e.persistStateLocked(ctx)
}

// persistStateLocked seals and saves the snapshot. Must be called with the
// mutex held; persistence failures are logged, never fatal.
func (e *TradingEngineV1) persistStateLocked(ctx context.Context) {
	if e.deals == nil || e.store == nil {
		return
	}

	state := types.TradingState{
		Timestamp:         time.Now().UTC(),
		Status:            e.status,
		EngineVersion:     version.GetVersion(),
		OpenDeals:         e.deals.OpenDeals(),
		PendingOrders:     e.deals.PendingOrders(),
		RiskParameters:    e.risk.Parameters(),
		LastProcessedTick: e.lastTick,
		Checksum:          "",
	}

	blob, checksum, err := state.Seal()
	if err != nil {
		e.log.Error("Failed to seal snapshot", zap.Error(err))

		return
	}

	if err := e.store.SaveSnapshot(ctx, blob, checksum); err != nil {
		e.log.Error("Failed to persist snapshot", zap.Error(err))
	}
}

func (e *TradingEngineV1) setStatusLocked(status types.EngineStatus) {
	if e.status == status {
		return
	}

	e.status = status

	if e.callbacks.OnStatusUpdate != nil {
		e.queueCallback(func() { _ = (*e.callbacks.OnStatusUpdate)(status) })
	}
}

// lastKnownPriceLocked is the last price seen on a tick, zero before the
// first tick.
func (e *TradingEngineV1) lastKnownPriceLocked() float64 {
	return e.lastPrice
}

func (e *TradingEngineV1) invokeOnTick(ticker types.Ticker) error {
	if e.callbacks.OnTick == nil {
		return nil
	}

	return (*e.callbacks.OnTick)(ticker)
}

func (e *TradingEngineV1) reportError(err error) {
	e.log.Error("Engine error", zap.Error(err))

	if e.callbacks.OnError != nil {
		e.queueCallback(func() { (*e.callbacks.OnError)(err) })
	}
}

// queueCallback defers a user callback until the engine mutex is
// released. The queue has its own lock because some callers hold mu and
// some do not.
func (e *TradingEngineV1) queueCallback(fn func()) {
	e.cbMu.Lock()
	e.pendingCallbacks = append(e.pendingCallbacks, fn)
	e.cbMu.Unlock()
}

// flushCallbacks runs every queued callback. Must be called without the
// engine mutex held; callbacks queued while flushing run in the same
// drain.
func (e *TradingEngineV1) flushCallbacks() {
	for {
		e.cbMu.Lock()
		queue := e.pendingCallbacks
		e.pendingCallbacks = nil
		e.cbMu.Unlock()

		if len(queue) == 0 {
			return
		}

		for _, fn := range queue {
			fn()
		}
	}
}
