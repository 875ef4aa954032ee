package engine_v1

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/store"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/internal/utils"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"go.uber.org/zap"
)

// DealManager owns every deal and order record. All mutation flows through
// it (the single writer); readers get copies and can never observe a torn
// state. Every transition is appended to the audit store best effort.
type DealManager struct {
	store  store.Store
	logger *logger.Logger

	mu     sync.RWMutex
	deals  map[string]*types.Deal
	orders map[string]*types.Order
}

// NewDealManager creates an empty manager over the given audit store.
func NewDealManager(auditStore store.Store, log *logger.Logger) *DealManager {
	return &DealManager{
		store:  auditStore,
		logger: log,
		deals:  make(map[string]*types.Deal),
		orders: make(map[string]*types.Order),
	}
}

// CreateDeal opens a new deal in CREATED for a validated buy decision.
func (m *DealManager) CreateDeal(ctx context.Context, symbol string, targetProfitPercent float64) types.Deal {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal := types.Deal{
		ID:                  uuid.New().String(),
		Symbol:              symbol,
		Status:              types.DealStatusCreated,
		BuyOrderID:          "",
		SellOrderID:         optional.None[string](),
		EntryPrice:          0,
		Amount:              0,
		TargetProfitPercent: targetProfitPercent,
		ActualProfit:        optional.None[float64](),
		CreatedAt:           time.Now().UTC(),
		ClosedAt:            optional.None[time.Time](),
	}

	m.deals[deal.ID] = &deal
	m.appendDealLocked(ctx, deal)

	m.logger.Info("Deal created",
		zap.String("deal_id", deal.ID),
		zap.String("symbol", symbol))

	return deal
}

// RestoreDeal adopts a deal recovered from a snapshot without emitting a
// fresh audit row.
func (m *DealManager) RestoreDeal(deal types.Deal) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := deal
	m.deals[deal.ID] = &copied
}

// RegisterOrder adopts an order record into the arena.
func (m *DealManager) RegisterOrder(ctx context.Context, order types.Order) {
	m.mu.Lock()
	defer m.mu.Unlock()

	copied := order
	m.orders[order.ID] = &copied
	m.appendOrderLocked(ctx, order)
}

// UpdateOrder replaces the stored order record.
func (m *DealManager) UpdateOrder(ctx context.Context, order types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.orders[order.ID]; !ok {
		return errors.Newf(errors.ErrCodeOrderNotFound, "order %s not tracked", order.ID)
	}

	copied := order
	m.orders[order.ID] = &copied
	m.appendOrderLocked(ctx, order)

	return nil
}

// MarkBuyPlaced moves CREATED -> BUY_PLACED once the gateway accepts the
// buy order.
func (m *DealManager) MarkBuyPlaced(ctx context.Context, dealID string, buyOrder types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.transitionLocked(dealID, types.DealStatusBuyPlaced)
	if err != nil {
		return err
	}

	deal.BuyOrderID = buyOrder.ID

	copied := buyOrder
	m.orders[buyOrder.ID] = &copied

	m.appendDealLocked(ctx, *deal)
	m.appendOrderLocked(ctx, buyOrder)

	return nil
}

// MarkBuyFilled moves BUY_PLACED -> BUY_FILLED on a full fill, recording
// the realized entry price and quantity.
func (m *DealManager) MarkBuyFilled(ctx context.Context, dealID string, entryPrice, amount float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.transitionLocked(dealID, types.DealStatusBuyFilled)
	if err != nil {
		return err
	}

	deal.EntryPrice = entryPrice
	deal.Amount = amount

	m.appendDealLocked(ctx, *deal)

	m.logger.Info("Buy filled",
		zap.String("deal_id", dealID),
		zap.Float64("entry_price", entryPrice),
		zap.Float64("amount", amount))

	return nil
}

// MarkSellPlaced moves BUY_FILLED -> SELL_PLACED once the paired sell
// order is accepted.
func (m *DealManager) MarkSellPlaced(ctx context.Context, dealID string, sellOrder types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.transitionLocked(dealID, types.DealStatusSellPlaced)
	if err != nil {
		return err
	}

	deal.SellOrderID = optional.Some(sellOrder.ID)

	copied := sellOrder
	m.orders[sellOrder.ID] = &copied

	m.appendDealLocked(ctx, *deal)
	m.appendOrderLocked(ctx, sellOrder)

	return nil
}

// ReplaceSell swaps the paired sell order of a SELL_PLACED deal, used when
// a forced close cancels the resting sell and substitutes a market close.
func (m *DealManager) ReplaceSell(ctx context.Context, dealID string, sellOrder types.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, ok := m.deals[dealID]
	if !ok {
		return errors.Newf(errors.ErrCodeDealNotFound, "deal %s not found", dealID)
	}

	if deal.Status != types.DealStatusSellPlaced {
		return errors.Newf(errors.ErrCodeInvalidTransition,
			"deal %s is %s, cannot replace sell", dealID, deal.Status)
	}

	deal.SellOrderID = optional.Some(sellOrder.ID)

	copied := sellOrder
	m.orders[sellOrder.ID] = &copied

	m.appendDealLocked(ctx, *deal)
	m.appendOrderLocked(ctx, sellOrder)

	return nil
}

// Complete moves SELL_PLACED -> COMPLETED when the sell fills, computing
// actual profit as sell proceeds minus buy cost minus both fees.
func (m *DealManager) Complete(ctx context.Context, dealID string, sellPrice, totalFees float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.transitionLocked(dealID, types.DealStatusCompleted)
	if err != nil {
		return err
	}

	profit := utils.RealizedProfit(deal.EntryPrice, sellPrice, deal.Amount, totalFees)
	deal.ActualProfit = optional.Some(profit)
	deal.ClosedAt = optional.Some(time.Now().UTC())

	m.appendDealLocked(ctx, *deal)

	m.logger.Info("Deal completed",
		zap.String("deal_id", dealID),
		zap.Float64("profit", profit))

	return nil
}

// Cancel moves any non-terminal deal to CANCELLED.
func (m *DealManager) Cancel(ctx context.Context, dealID, reason string) error {
	return m.close(ctx, dealID, types.DealStatusCancelled, reason)
}

// Fail moves any non-terminal deal to FAILED after an unrecoverable error.
func (m *DealManager) Fail(ctx context.Context, dealID, reason string) error {
	return m.close(ctx, dealID, types.DealStatusFailed, reason)
}

func (m *DealManager) close(ctx context.Context, dealID string, status types.DealStatus, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	deal, err := m.transitionLocked(dealID, status)
	if err != nil {
		return err
	}

	deal.ClosedAt = optional.Some(time.Now().UTC())
	m.appendDealLocked(ctx, *deal)

	m.logger.Warn("Deal closed early",
		zap.String("deal_id", dealID),
		zap.String("status", string(status)),
		zap.String("reason", reason))

	return nil
}

// Deal returns a copy of the deal.
func (m *DealManager) Deal(dealID string) (types.Deal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	deal, ok := m.deals[dealID]
	if !ok {
		return types.Deal{}, errors.Newf(errors.ErrCodeDealNotFound, "deal %s not found", dealID)
	}

	return *deal, nil
}

// Order returns a copy of a tracked order.
func (m *DealManager) Order(orderID string) (types.Order, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	order, ok := m.orders[orderID]
	if !ok {
		return types.Order{}, errors.Newf(errors.ErrCodeOrderNotFound, "order %s not tracked", orderID)
	}

	return *order, nil
}

// OpenDeals returns copies of every non-terminal deal.
func (m *DealManager) OpenDeals() []types.Deal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	open := make([]types.Deal, 0, len(m.deals))

	for _, deal := range m.deals {
		if !deal.Status.IsTerminal() {
			open = append(open, *deal)
		}
	}

	return open
}

// OpenDealCount returns the number of non-terminal deals.
func (m *DealManager) OpenDealCount() int {
	return len(m.OpenDeals())
}

// PendingOrders returns copies of every order still working on the
// exchange.
func (m *DealManager) PendingOrders() []types.Order {
	m.mu.RLock()
	defer m.mu.RUnlock()

	pending := make([]types.Order, 0, len(m.orders))

	for _, order := range m.orders {
		if order.IsOpen() {
			pending = append(pending, *order)
		}
	}

	return pending
}

// CompletedDealsSince returns copies of deals completed at or after the
// cutoff, used by the daily P&L tracker.
func (m *DealManager) CompletedDealsSince(cutoff time.Time) []types.Deal {
	m.mu.RLock()
	defer m.mu.RUnlock()

	completed := make([]types.Deal, 0)

	for _, deal := range m.deals {
		if deal.Status != types.DealStatusCompleted {
			continue
		}

		if deal.ClosedAt.IsSome() && !deal.ClosedAt.Unwrap().Before(cutoff) {
			completed = append(completed, *deal)
		}
	}

	return completed
}

// DealOwningOrder returns the deal that references the given order id,
// used by reconciliation to detect orphans.
func (m *DealManager) DealOwningOrder(orderID string) (types.Deal, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for _, deal := range m.deals {
		if deal.BuyOrderID == orderID {
			return *deal, true
		}

		if deal.SellOrderID.IsSome() && deal.SellOrderID.Unwrap() == orderID {
			return *deal, true
		}
	}

	return types.Deal{}, false
}

// transitionLocked validates and applies a status change. Must be called
// with the write lock held.
func (m *DealManager) transitionLocked(dealID string, next types.DealStatus) (*types.Deal, error) {
	deal, ok := m.deals[dealID]
	if !ok {
		return nil, errors.Newf(errors.ErrCodeDealNotFound, "deal %s not found", dealID)
	}

	if !deal.Status.CanTransition(next) {
		return nil, errors.Newf(errors.ErrCodeInvalidTransition,
			"deal %s cannot move %s -> %s", dealID, deal.Status, next)
	}

	deal.Status = next

	return deal, nil
}

// appendDealLocked writes an audit row; audit failures are logged, never
// propagated into the trading path.
func (m *DealManager) appendDealLocked(ctx context.Context, deal types.Deal) {
	if err := m.store.AppendDeal(ctx, deal); err != nil {
		m.logger.Error("Failed to append deal audit row",
			zap.String("deal_id", deal.ID),
			zap.Error(err))
	}
}

func (m *DealManager) appendOrderLocked(ctx context.Context, order types.Order) {
	if err := m.store.AppendOrder(ctx, order); err != nil {
		m.logger.Error("Failed to append order audit row",
			zap.String("order_id", order.ID),
			zap.Error(err))
	}
}
