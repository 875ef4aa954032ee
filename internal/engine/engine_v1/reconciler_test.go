package engine_v1

import (
	"context"
	"testing"
	"time"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/mocks"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"
)

type ReconcilerTestSuite struct {
	suite.Suite
	ctrl       *gomock.Controller
	gateway    *mocks.MockGateway
	store      *mocks.MockStore
	deals      *DealManager
	reconciler *Reconciler
}

func (suite *ReconcilerTestSuite) SetupTest() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)

	suite.ctrl = gomock.NewController(suite.T())
	suite.gateway = mocks.NewMockGateway(suite.ctrl)
	suite.store = mocks.NewMockStore(suite.ctrl)

	suite.store.EXPECT().AppendDeal(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()
	suite.store.EXPECT().AppendOrder(gomock.Any(), gomock.Any()).Return(nil).AnyTimes()

	suite.deals = NewDealManager(suite.store, log)

	breaker := NewCircuitBreaker("gateway", CircuitBreakerConfig{
		FailureThreshold: 10,
		SuccessThreshold: 1,
		RecoveryTimeout:  time.Second,
	}, log)

	executor := NewOrderExecutor(suite.gateway, breaker, ExecutorConfig{
		MaxAttempts: 1,
		BackoffBase: time.Millisecond,
		BackoffMax:  time.Millisecond,
	}, log)

	suite.reconciler = NewReconciler(suite.gateway, suite.store, executor, suite.deals, "BTCUSDT", log)
}

func (suite *ReconcilerTestSuite) TearDownTest() {
	suite.ctrl.Finish()
}

func (suite *ReconcilerTestSuite) TestLoadStateFresh() {
	suite.store.EXPECT().LoadSnapshot(gomock.Any()).Return(nil, "", nil)

	state, restored, err := suite.reconciler.LoadState(context.Background(), defaultRiskParams())
	suite.Require().NoError(err)
	suite.False(restored)
	suite.Equal(types.EngineStatusStarting, state.Status)
	suite.Empty(state.OpenDeals)
}

func (suite *ReconcilerTestSuite) TestLoadStateRestoresValidSnapshot() {
	state := types.NewTradingState(defaultRiskParams())
	state.OpenDeals = append(state.OpenDeals, types.Deal{
		ID:         "a6e91f24-5b3c-4f10-9d2e-88a7c15b0f43",
		Symbol:     "BTCUSDT",
		Status:     types.DealStatusBuyFilled,
		EntryPrice: 100,
		Amount:     0.5,
		CreatedAt:  time.Now().UTC(),
	})

	blob, checksum, err := state.Seal()
	suite.Require().NoError(err)

	suite.store.EXPECT().LoadSnapshot(gomock.Any()).Return(blob, checksum, nil)

	loaded, restored, err := suite.reconciler.LoadState(context.Background(), defaultRiskParams())
	suite.Require().NoError(err)
	suite.True(restored)
	suite.Len(loaded.OpenDeals, 1)
	suite.Equal(1, suite.deals.OpenDealCount())
}

func (suite *ReconcilerTestSuite) TestLoadStateDiscardsTamperedSnapshot() {
	state := types.NewTradingState(defaultRiskParams())

	blob, _, err := state.Seal()
	suite.Require().NoError(err)

	suite.store.EXPECT().LoadSnapshot(gomock.Any()).Return(blob, "deadbeef", nil)

	_, restored, err := suite.reconciler.LoadState(context.Background(), defaultRiskParams())
	suite.Require().NoError(err)
	suite.False(restored)
	suite.Zero(suite.deals.OpenDealCount())
}

func (suite *ReconcilerTestSuite) TestLoadStateDiscardsUnparseableSnapshot() {
	suite.store.EXPECT().LoadSnapshot(gomock.Any()).Return([]byte("not json"), "x", nil)

	_, restored, err := suite.reconciler.LoadState(context.Background(), defaultRiskParams())
	suite.Require().NoError(err)
	suite.False(restored)
}

func (suite *ReconcilerTestSuite) TestLoadStateDiscardsIncompatibleSnapshot() {
	state := types.NewTradingState(defaultRiskParams())
	state.EngineVersion = "9.9.0"

	blob, checksum, err := state.Seal()
	suite.Require().NoError(err)

	suite.store.EXPECT().LoadSnapshot(gomock.Any()).Return(blob, checksum, nil)

	_, restored, err := suite.reconciler.LoadState(context.Background(), defaultRiskParams())
	suite.Require().NoError(err)
	suite.False(restored)
	suite.Zero(suite.deals.OpenDealCount())
}

func (suite *ReconcilerTestSuite) TestLoadStateAcceptsUnversionedSnapshot() {
	state := types.NewTradingState(defaultRiskParams())
	suite.Empty(state.EngineVersion)

	blob, checksum, err := state.Seal()
	suite.Require().NoError(err)

	suite.store.EXPECT().LoadSnapshot(gomock.Any()).Return(blob, checksum, nil)

	_, restored, err := suite.reconciler.LoadState(context.Background(), defaultRiskParams())
	suite.Require().NoError(err)
	suite.True(restored)
}

func (suite *ReconcilerTestSuite) TestReconcileAppliesDiscoveredBuyFill() {
	ctx := context.Background()

	deal := suite.deals.CreateDeal(ctx, "BTCUSDT", 1.5)
	buy := orderFor(types.OrderSideBuy, 0.5)
	buy.Price = optional.Some(100.0)
	suite.Require().NoError(suite.deals.MarkBuyPlaced(ctx, deal.ID, buy))

	filled := buy
	filled.Status = types.OrderStatusFilled
	filled.FilledAmount = 0.5
	filled.RemainingAmount = 0

	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return(nil, nil)
	suite.gateway.EXPECT().FetchOrderHistory(gomock.Any(), "BTCUSDT").Return([]types.Order{filled}, nil)

	// in-flight recovery synthesizes the paired sell at 101.5
	placedSell := orderFor(types.OrderSideSell, 0.5)
	placedSell.Price = optional.Some(101.5)

	suite.gateway.EXPECT().
		CreateOrder(gomock.Any(), gomock.Any()).
		Return(placedSell, nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))

	updated, err := suite.deals.Deal(deal.ID)
	suite.Require().NoError(err)
	suite.Equal(types.DealStatusSellPlaced, updated.Status)
}

func (suite *ReconcilerTestSuite) TestReconcileCancelsDealWhenBuyVanished() {
	ctx := context.Background()

	deal := suite.deals.CreateDeal(ctx, "BTCUSDT", 1.5)
	buy := orderFor(types.OrderSideBuy, 0.5)
	suite.Require().NoError(suite.deals.MarkBuyPlaced(ctx, deal.ID, buy))

	cancelled := buy
	cancelled.Status = types.OrderStatusCancelled

	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return(nil, nil)
	suite.gateway.EXPECT().FetchOrderHistory(gomock.Any(), "BTCUSDT").Return([]types.Order{cancelled}, nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))

	updated, err := suite.deals.Deal(deal.ID)
	suite.Require().NoError(err)
	suite.Equal(types.DealStatusCancelled, updated.Status)
}

func (suite *ReconcilerTestSuite) TestReconcileCancelsOrphans() {
	ctx := context.Background()

	orphan := orderFor(types.OrderSideBuy, 1)
	orphan.ExchangeOrderID = optional.Some("orphan-9")

	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return([]types.Order{orphan}, nil)
	suite.gateway.EXPECT().CancelOrder(gomock.Any(), "orphan-9", "BTCUSDT").Return(nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))
}

func (suite *ReconcilerTestSuite) TestReconcileResumesBuyFilledDeal() {
	ctx := context.Background()

	deal := suite.deals.CreateDeal(ctx, "BTCUSDT", 1.5)
	buy := orderFor(types.OrderSideBuy, 0.5)
	suite.Require().NoError(suite.deals.MarkBuyPlaced(ctx, deal.ID, buy))
	suite.Require().NoError(suite.deals.MarkBuyFilled(ctx, deal.ID, 100, 0.5))

	filledBuy := buy
	filledBuy.Status = types.OrderStatusFilled
	filledBuy.FilledAmount = 0.5
	filledBuy.RemainingAmount = 0
	suite.Require().NoError(suite.deals.UpdateOrder(ctx, filledBuy))

	// buy is filled locally so it is no longer pending; exchange is clean
	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return(nil, nil)

	placedSell := orderFor(types.OrderSideSell, 0.5)
	placedSell.Price = optional.Some(101.5)

	suite.gateway.EXPECT().
		CreateOrder(gomock.Any(), gomock.Any()).
		Return(placedSell, nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))

	updated, err := suite.deals.Deal(deal.ID)
	suite.Require().NoError(err)
	suite.Equal(types.DealStatusSellPlaced, updated.Status)
	suite.True(updated.SellOrderID.IsSome())
}

func (suite *ReconcilerTestSuite) TestReconcileFailsDealWhoseOrderNeverPlaced() {
	ctx := context.Background()

	deal := suite.deals.CreateDeal(ctx, "BTCUSDT", 1.5)
	buy := orderFor(types.OrderSideBuy, 0.5)
	buy.ExchangeOrderID = optional.None[string]()
	suite.Require().NoError(suite.deals.MarkBuyPlaced(ctx, deal.ID, buy))

	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return(nil, nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))

	updated, err := suite.deals.Deal(deal.ID)
	suite.Require().NoError(err)
	suite.Equal(types.DealStatusFailed, updated.Status)
	suite.Empty(suite.deals.PendingOrders())
}

func (suite *ReconcilerTestSuite) TestReconcileReplacesDeadSellOrder() {
	ctx := context.Background()

	deal := suite.deals.CreateDeal(ctx, "BTCUSDT", 1.5)
	buy := orderFor(types.OrderSideBuy, 0.5)
	suite.Require().NoError(suite.deals.MarkBuyPlaced(ctx, deal.ID, buy))
	suite.Require().NoError(suite.deals.MarkBuyFilled(ctx, deal.ID, 100, 0.5))

	filledBuy := buy
	filledBuy.Status = types.OrderStatusFilled
	filledBuy.FilledAmount = 0.5
	filledBuy.RemainingAmount = 0
	suite.Require().NoError(suite.deals.UpdateOrder(ctx, filledBuy))

	sell := orderFor(types.OrderSideSell, 0.5)
	sell.Price = optional.Some(101.5)
	suite.Require().NoError(suite.deals.MarkSellPlaced(ctx, deal.ID, sell))

	// the resting sell was cancelled out-of-band
	deadSell := sell
	deadSell.Status = types.OrderStatusCancelled
	suite.Require().NoError(suite.deals.UpdateOrder(ctx, deadSell))

	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return(nil, nil)

	replacement := orderFor(types.OrderSideSell, 0.5)
	replacement.Price = optional.Some(101.5)

	suite.gateway.EXPECT().
		CreateOrder(gomock.Any(), gomock.Any()).
		Return(replacement, nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))

	updated, err := suite.deals.Deal(deal.ID)
	suite.Require().NoError(err)
	suite.Equal(types.DealStatusSellPlaced, updated.Status)
	suite.Require().True(updated.SellOrderID.IsSome())
	suite.Equal(replacement.ID, updated.SellOrderID.Unwrap())
	suite.Len(suite.deals.PendingOrders(), 1)
}

func (suite *ReconcilerTestSuite) TestReconcileLeavesWorkingSellAlone() {
	ctx := context.Background()

	deal := suite.deals.CreateDeal(ctx, "BTCUSDT", 1.5)
	buy := orderFor(types.OrderSideBuy, 0.5)
	suite.Require().NoError(suite.deals.MarkBuyPlaced(ctx, deal.ID, buy))
	suite.Require().NoError(suite.deals.MarkBuyFilled(ctx, deal.ID, 100, 0.5))

	filledBuy := buy
	filledBuy.Status = types.OrderStatusFilled
	filledBuy.FilledAmount = 0.5
	filledBuy.RemainingAmount = 0
	suite.Require().NoError(suite.deals.UpdateOrder(ctx, filledBuy))

	sell := orderFor(types.OrderSideSell, 0.5)
	sell.ExchangeOrderID = optional.Some("77")
	sell.Price = optional.Some(101.5)
	suite.Require().NoError(suite.deals.MarkSellPlaced(ctx, deal.ID, sell))

	// exchange still reports the sell open; no CreateOrder expected
	suite.gateway.EXPECT().FetchOpenOrders(gomock.Any(), "BTCUSDT").Return([]types.Order{sell}, nil)

	suite.Require().NoError(suite.reconciler.Reconcile(ctx))

	updated, err := suite.deals.Deal(deal.ID)
	suite.Require().NoError(err)
	suite.Equal(sell.ID, updated.SellOrderID.Unwrap())
}

func TestReconcilerTestSuite(t *testing.T) {
	suite.Run(t, new(ReconcilerTestSuite))
}
