package engine_v1

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/exchange"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/store"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/internal/version"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"go.uber.org/zap"
)

// Reconciler resolves divergence between local belief and exchange truth.
// It runs at startup and periodically; the same diff serves both.
type Reconciler struct {
	gateway  exchange.Gateway
	store    store.Store
	executor *OrderExecutor
	deals    *DealManager
	logger   *logger.Logger
	symbol   string
}

// NewReconciler creates a reconciler for one symbol.
func NewReconciler(gateway exchange.Gateway, snapshotStore store.Store, executor *OrderExecutor, deals *DealManager, symbol string, log *logger.Logger) *Reconciler {
	return &Reconciler{
		gateway:  gateway,
		store:    snapshotStore,
		executor: executor,
		deals:    deals,
		logger:   log,
		symbol:   symbol,
	}
}

// LoadState restores the persisted snapshot. A missing snapshot yields a
// fresh state; a corrupted one (checksum mismatch, unparseable body) or one
// written by an incompatible engine release is discarded rather than
// trusted, and a fresh state is returned with restored=false.
func (r *Reconciler) LoadState(ctx context.Context, params types.RiskParameters) (*types.TradingState, bool, error) {
	blob, checksum, err := r.store.LoadSnapshot(ctx)
	if err != nil {
		return nil, false, err
	}

	if blob == nil {
		return types.NewTradingState(params), false, nil
	}

	var state types.TradingState
	if err := json.Unmarshal(blob, &state); err != nil {
		r.logger.Error("Snapshot unparseable, starting fresh",
			zap.Error(errors.Wrap(errors.ErrCodeStateCorruption, "invalid snapshot body", err)))

		return types.NewTradingState(params), false, nil
	}

	if state.Checksum != checksum || !state.VerifyChecksum() {
		r.logger.Error("Snapshot checksum mismatch, starting fresh",
			zap.String("stored", checksum),
			zap.String("embedded", state.Checksum))

		return types.NewTradingState(params), false, nil
	}

	if err := version.CheckSnapshotCompatibility(version.GetVersion(), state.EngineVersion); err != nil {
		r.logger.Error("Snapshot version incompatible, starting fresh",
			zap.String("snapshot_version", state.EngineVersion),
			zap.String("engine_version", version.GetVersion()),
			zap.Error(err))

		return types.NewTradingState(params), false, nil
	}

	for _, deal := range state.OpenDeals {
		r.deals.RestoreDeal(deal)
	}

	for _, order := range state.PendingOrders {
		r.deals.RegisterOrder(ctx, order)
	}

	r.logger.Info("Snapshot restored",
		zap.Int("open_deals", len(state.OpenDeals)),
		zap.Int("pending_orders", len(state.PendingOrders)))

	return &state, true, nil
}

// Reconcile diffs local records against the exchange and repairs drift:
// resolve local orders missing from the exchange open set, cancel orphans
// the engine owns no intent for, and resume in-flight deals.
func (r *Reconciler) Reconcile(ctx context.Context) error {
	exchangeOpen, err := r.gateway.FetchOpenOrders(ctx, r.symbol)
	if err != nil {
		return errors.Wrap(errors.ErrCodeReconciliationFailed, "failed to fetch open orders", err)
	}

	openByExchangeID := make(map[string]types.Order, len(exchangeOpen))
	for _, order := range exchangeOpen {
		if order.ExchangeOrderID.IsSome() {
			openByExchangeID[order.ExchangeOrderID.Unwrap()] = order
		}
	}

	if err := r.resolveMissingOrders(ctx, openByExchangeID); err != nil {
		return err
	}

	r.cancelOrphans(ctx, exchangeOpen)
	r.resumeInFlightDeals(ctx)

	return nil
}

// resolveMissingOrders looks up the terminal status of every local pending
// order the exchange no longer reports open.
func (r *Reconciler) resolveMissingOrders(ctx context.Context, openByExchangeID map[string]types.Order) error {
	pending := r.deals.PendingOrders()
	if len(pending) == 0 {
		return nil
	}

	var history []types.Order

	for _, local := range pending {
		if local.ExchangeOrderID.IsNone() {
			// never reached the exchange; the deal it belongs to failed
			local.Status = types.OrderStatusFailed
			_ = r.deals.UpdateOrder(ctx, local)
			r.failOwningDeal(ctx, local, "order was never placed")

			continue
		}

		if _, stillOpen := openByExchangeID[local.ExchangeOrderID.Unwrap()]; stillOpen {
			continue
		}

		if history == nil {
			fetched, err := r.gateway.FetchOrderHistory(ctx, r.symbol)
			if err != nil {
				return errors.Wrap(errors.ErrCodeReconciliationFailed, "failed to fetch order history", err)
			}

			history = fetched
		}

		r.resolveFromHistory(ctx, local, history)
	}

	return nil
}

// resolveFromHistory applies the exchange's terminal view of one order.
func (r *Reconciler) resolveFromHistory(ctx context.Context, local types.Order, history []types.Order) {
	var remote *types.Order

	for i := range history {
		if history[i].ExchangeOrderID.IsSome() &&
			history[i].ExchangeOrderID.Unwrap() == local.ExchangeOrderID.Unwrap() {
			remote = &history[i]

			break
		}
	}

	if remote == nil {
		r.logger.Error("Order vanished from exchange history",
			zap.String("order_id", local.ID))

		local.Status = types.OrderStatusFailed
		_ = r.deals.UpdateOrder(ctx, local)
		r.failOwningDeal(ctx, local, "order status unresolvable")

		return
	}

	updated := local
	updated.Status = remote.Status
	updated.FilledAmount = remote.FilledAmount
	updated.RemainingAmount = remote.RemainingAmount
	updated.Fee = remote.Fee

	if updated.Status == types.OrderStatusFilled && updated.FilledAmount == 0 {
		updated.FilledAmount = updated.Amount
		updated.RemainingAmount = 0
	}

	_ = r.deals.UpdateOrder(ctx, updated)

	deal, owned := r.deals.DealOwningOrder(local.ID)
	if !owned {
		return
	}

	switch updated.Status {
	case types.OrderStatusFilled:
		r.driveDealForward(ctx, deal, updated, remote)

	case types.OrderStatusCancelled, types.OrderStatusRejected, types.OrderStatusFailed:
		if deal.Status == types.DealStatusBuyPlaced {
			_ = r.deals.Cancel(ctx, deal.ID, "buy order "+string(updated.Status)+" on exchange")
		} else if deal.Status == types.DealStatusSellPlaced {
			// sell vanished; resumeInFlightDeals places a replacement
			// later in this pass
			r.logger.Warn("Sell order gone, deal returns to recovery",
				zap.String("deal_id", deal.ID))
		}
	}
}

// failOwningDeal marks the deal that owns the order FAILED with the given
// reason. Orders without an owning deal are ignored.
func (r *Reconciler) failOwningDeal(ctx context.Context, order types.Order, reason string) {
	deal, owned := r.deals.DealOwningOrder(order.ID)
	if !owned || deal.Status.IsTerminal() {
		return
	}

	if err := r.deals.Fail(ctx, deal.ID, reason); err != nil {
		r.logger.Error("Failed to close deal after dead order",
			zap.String("deal_id", deal.ID),
			zap.Error(err))
	}
}

// driveDealForward applies a fill discovered during reconciliation to the
// owning deal's state machine.
func (r *Reconciler) driveDealForward(ctx context.Context, deal types.Deal, local types.Order, remote *types.Order) {
	switch {
	case deal.Status == types.DealStatusBuyPlaced && local.Side == types.OrderSideBuy:
		entry := remote.LimitPrice(local.LimitPrice(0))
		if err := r.deals.MarkBuyFilled(ctx, deal.ID, entry, local.FilledAmount); err != nil {
			r.logger.Error("Failed to apply recovered buy fill",
				zap.String("deal_id", deal.ID),
				zap.Error(err))
		}

	case deal.Status == types.DealStatusSellPlaced && local.Side == types.OrderSideSell:
		if err := r.deals.Complete(ctx, deal.ID, local.LimitPrice(0), local.Fee.Cost); err != nil {
			r.logger.Error("Failed to apply recovered sell fill",
				zap.String("deal_id", deal.ID),
				zap.Error(err))
		}
	}
}

// cancelOrphans cancels exchange orders the engine owns no intent for.
func (r *Reconciler) cancelOrphans(ctx context.Context, exchangeOpen []types.Order) {
	tracked := make(map[string]struct{})

	for _, order := range r.deals.PendingOrders() {
		if order.ExchangeOrderID.IsSome() {
			tracked[order.ExchangeOrderID.Unwrap()] = struct{}{}
		}
	}

	for _, remote := range exchangeOpen {
		if remote.ExchangeOrderID.IsNone() {
			continue
		}

		if _, known := tracked[remote.ExchangeOrderID.Unwrap()]; known {
			continue
		}

		r.logger.Warn("Cancelling orphan exchange order",
			zap.String("exchange_order_id", remote.ExchangeOrderID.Unwrap()))

		if err := r.executor.CancelOrder(ctx, remote); err != nil {
			r.logger.Error("Failed to cancel orphan order",
				zap.String("exchange_order_id", remote.ExchangeOrderID.Unwrap()),
				zap.Error(err))
		}
	}
}

// resumeInFlightDeals synthesizes the paired sell for any deal whose buy
// filled without a working sell order surviving: BUY_FILLED deals get
// their first sell, SELL_PLACED deals whose sell died out-of-band get a
// replacement.
func (r *Reconciler) resumeInFlightDeals(ctx context.Context) {
	for _, deal := range r.deals.OpenDeals() {
		switch deal.Status {
		case types.DealStatusBuyFilled:
			r.logger.Info("Resuming deal, placing recovered sell",
				zap.String("deal_id", deal.ID))

			order, err := r.placeSell(ctx, deal)
			if err != nil {
				r.logger.Error("Failed to place recovered sell",
					zap.String("deal_id", deal.ID),
					zap.Error(err))

				continue
			}

			if err := r.deals.MarkSellPlaced(ctx, deal.ID, order); err != nil {
				r.logger.Error("Failed to record recovered sell",
					zap.String("deal_id", deal.ID),
					zap.Error(err))
			}

		case types.DealStatusSellPlaced:
			if !r.sellOrderDead(deal) {
				continue
			}

			r.logger.Info("Replacing dead sell order",
				zap.String("deal_id", deal.ID))

			order, err := r.placeSell(ctx, deal)
			if err != nil {
				r.logger.Error("Failed to replace dead sell",
					zap.String("deal_id", deal.ID),
					zap.Error(err))

				continue
			}

			if err := r.deals.ReplaceSell(ctx, deal.ID, order); err != nil {
				r.logger.Error("Failed to record replacement sell",
					zap.String("deal_id", deal.ID),
					zap.Error(err))
			}
		}
	}
}

// sellOrderDead reports whether the deal's tracked sell order can no
// longer fill.
func (r *Reconciler) sellOrderDead(deal types.Deal) bool {
	if deal.SellOrderID.IsNone() {
		return true
	}

	sell, err := r.deals.Order(deal.SellOrderID.Unwrap())
	if err != nil {
		return true
	}

	switch sell.Status {
	case types.OrderStatusCancelled, types.OrderStatusRejected, types.OrderStatusFailed:
		return true
	default:
		return false
	}
}

// placeSell places a limit sell at the deal's target price.
func (r *Reconciler) placeSell(ctx context.Context, deal types.Deal) (types.Order, error) {
	return r.executor.ExecuteOrder(ctx, exchange.CreateOrderRequest{
		Symbol:        deal.Symbol,
		Side:          types.OrderSideSell,
		Type:          types.OrderTypeLimit,
		Amount:        deal.Amount,
		Price:         optional.Some(deal.TargetSellPrice()),
		ClientOrderID: uuid.New().String(),
	})
}
