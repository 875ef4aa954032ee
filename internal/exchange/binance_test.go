package exchange

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// Mock implementations for testing

// mockBinanceClient implements BinanceClient interface for testing
type mockBinanceClient struct {
	createOrderService    *mockCreateOrderService
	getOrderService       *mockGetOrderService
	cancelOrderService    *mockCancelOrderService
	listOpenOrdersService *mockListOpenOrdersService
	listOrdersService     *mockListOrdersService
	getAccountService     *mockGetAccountService
	depthService          *mockDepthService
	priceStatsService     *mockPriceStatsService
}

func newMockBinanceClient() *mockBinanceClient {
	return &mockBinanceClient{
		createOrderService:    &mockCreateOrderService{},
		getOrderService:       &mockGetOrderService{},
		cancelOrderService:    &mockCancelOrderService{},
		listOpenOrdersService: &mockListOpenOrdersService{},
		listOrdersService:     &mockListOrdersService{},
		getAccountService:     &mockGetAccountService{},
		depthService:          &mockDepthService{},
		priceStatsService:     &mockPriceStatsService{},
	}
}

func (m *mockBinanceClient) NewCreateOrderService() CreateOrderService {
	return m.createOrderService
}

func (m *mockBinanceClient) NewGetOrderService() GetOrderService {
	return m.getOrderService
}

func (m *mockBinanceClient) NewCancelOrderService() CancelOrderService {
	return m.cancelOrderService
}

func (m *mockBinanceClient) NewListOpenOrdersService() ListOpenOrdersService {
	return m.listOpenOrdersService
}

func (m *mockBinanceClient) NewListOrdersService() ListOrdersService {
	return m.listOrdersService
}

func (m *mockBinanceClient) NewGetAccountService() GetAccountService {
	return m.getAccountService
}

func (m *mockBinanceClient) NewDepthService() DepthService {
	return m.depthService
}

func (m *mockBinanceClient) NewPriceStatsService() PriceStatsService {
	return m.priceStatsService
}

// mockCreateOrderService implements CreateOrderService
type mockCreateOrderService struct {
	response      *binance.CreateOrderResponse
	err           error
	symbol        string
	side          binance.SideType
	orderTyp      binance.OrderType
	quantity      string
	price         string
	tif           binance.TimeInForceType
	clientOrderID string
}

func (m *mockCreateOrderService) Symbol(symbol string) CreateOrderService {
	m.symbol = symbol
	return m
}

func (m *mockCreateOrderService) Side(side binance.SideType) CreateOrderService {
	m.side = side
	return m
}

func (m *mockCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	m.orderTyp = orderType
	return m
}

func (m *mockCreateOrderService) Quantity(quantity string) CreateOrderService {
	m.quantity = quantity
	return m
}

func (m *mockCreateOrderService) Price(price string) CreateOrderService {
	m.price = price
	return m
}

func (m *mockCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	m.tif = tif
	return m
}

func (m *mockCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	m.clientOrderID = id
	return m
}

func (m *mockCreateOrderService) Do(_ context.Context) (*binance.CreateOrderResponse, error) {
	return m.response, m.err
}

// mockGetOrderService implements GetOrderService
type mockGetOrderService struct {
	order   *binance.Order
	err     error
	symbol  string
	orderID int64
}

func (m *mockGetOrderService) Symbol(symbol string) GetOrderService {
	m.symbol = symbol
	return m
}

func (m *mockGetOrderService) OrderID(orderID int64) GetOrderService {
	m.orderID = orderID
	return m
}

func (m *mockGetOrderService) Do(_ context.Context) (*binance.Order, error) {
	return m.order, m.err
}

// mockCancelOrderService implements CancelOrderService
type mockCancelOrderService struct {
	response *binance.CancelOrderResponse
	err      error
	symbol   string
	orderID  int64
}

func (m *mockCancelOrderService) Symbol(symbol string) CancelOrderService {
	m.symbol = symbol
	return m
}

func (m *mockCancelOrderService) OrderID(orderID int64) CancelOrderService {
	m.orderID = orderID
	return m
}

func (m *mockCancelOrderService) Do(_ context.Context) (*binance.CancelOrderResponse, error) {
	return m.response, m.err
}

// mockListOpenOrdersService implements ListOpenOrdersService
type mockListOpenOrdersService struct {
	orders []*binance.Order
	err    error
	symbol string
}

func (m *mockListOpenOrdersService) Symbol(symbol string) ListOpenOrdersService {
	m.symbol = symbol
	return m
}

func (m *mockListOpenOrdersService) Do(_ context.Context) ([]*binance.Order, error) {
	return m.orders, m.err
}

// mockListOrdersService implements ListOrdersService
type mockListOrdersService struct {
	orders []*binance.Order
	err    error
	symbol string
	limit  int
}

func (m *mockListOrdersService) Symbol(symbol string) ListOrdersService {
	m.symbol = symbol
	return m
}

func (m *mockListOrdersService) Limit(limit int) ListOrdersService {
	m.limit = limit
	return m
}

func (m *mockListOrdersService) Do(_ context.Context) ([]*binance.Order, error) {
	return m.orders, m.err
}

// mockGetAccountService implements GetAccountService
type mockGetAccountService struct {
	account *binance.Account
	err     error
}

func (m *mockGetAccountService) Do(_ context.Context) (*binance.Account, error) {
	return m.account, m.err
}

// mockDepthService implements DepthService
type mockDepthService struct {
	response *binance.DepthResponse
	err      error
	symbol   string
	limit    int
}

func (m *mockDepthService) Symbol(symbol string) DepthService {
	m.symbol = symbol
	return m
}

func (m *mockDepthService) Limit(limit int) DepthService {
	m.limit = limit
	return m
}

func (m *mockDepthService) Do(_ context.Context) (*binance.DepthResponse, error) {
	return m.response, m.err
}

// mockPriceStatsService implements PriceStatsService
type mockPriceStatsService struct {
	stats  []*binance.PriceChangeStats
	err    error
	symbol string
}

func (m *mockPriceStatsService) Symbol(symbol string) PriceStatsService {
	m.symbol = symbol
	return m
}

func (m *mockPriceStatsService) Do(_ context.Context) ([]*binance.PriceChangeStats, error) {
	return m.stats, m.err
}

type BinanceGatewayTestSuite struct {
	suite.Suite
	client  *mockBinanceClient
	gateway *BinanceGateway
	ctx     context.Context
}

func (suite *BinanceGatewayTestSuite) SetupTest() {
	suite.client = newMockBinanceClient()
	suite.gateway = newBinanceGatewayWithClient(suite.client)
	suite.ctx = context.Background()
}

func TestBinanceGatewayTestSuite(t *testing.T) {
	suite.Run(t, new(BinanceGatewayTestSuite))
}

// Unit Tests - CreateOrder

func (suite *BinanceGatewayTestSuite) TestCreateLimitOrder() {
	suite.client.createOrderService.response = &binance.CreateOrderResponse{
		Symbol:           "BTCUSDT",
		OrderID:          12345,
		ClientOrderID:    "client-1",
		TransactTime:     1700000000000,
		OrigQuantity:     "0.50000000",
		ExecutedQuantity: "0.00000000",
		Status:           binance.OrderStatusTypeNew,
	}

	order, err := suite.gateway.CreateOrder(suite.ctx, CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        0.5,
		Price:         optional.Some(50000.0),
		ClientOrderID: "client-1",
	})

	suite.Require().NoError(err)
	suite.Equal("client-1", order.ID)
	suite.Equal("12345", order.ExchangeOrderID.Unwrap())
	suite.Equal(types.OrderStatusOpen, order.Status)
	suite.InDelta(0.5, order.Amount, 1e-9)
	suite.InDelta(0.5, order.RemainingAmount, 1e-9)

	suite.Equal("BTCUSDT", suite.client.createOrderService.symbol)
	suite.Equal(binance.SideTypeBuy, suite.client.createOrderService.side)
	suite.Equal(binance.OrderTypeLimit, suite.client.createOrderService.orderTyp)
	suite.Equal("50000", suite.client.createOrderService.price)
	suite.Equal(binance.TimeInForceTypeGTC, suite.client.createOrderService.tif)
	suite.Equal("client-1", suite.client.createOrderService.clientOrderID)
}

func (suite *BinanceGatewayTestSuite) TestCreateMarketOrderCollectsFees() {
	suite.client.createOrderService.response = &binance.CreateOrderResponse{
		Symbol:           "BTCUSDT",
		OrderID:          777,
		ClientOrderID:    "client-2",
		TransactTime:     1700000000000,
		OrigQuantity:     "0.50000000",
		ExecutedQuantity: "0.50000000",
		Status:           binance.OrderStatusTypeFilled,
		Fills: []*binance.Fill{
			{Commission: "0.02", CommissionAsset: "USDT"},
			{Commission: "0.03", CommissionAsset: "USDT"},
		},
	}

	order, err := suite.gateway.CreateOrder(suite.ctx, CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideSell,
		Type:          types.OrderTypeMarket,
		Amount:        0.5,
		Price:         optional.None[float64](),
		ClientOrderID: "client-2",
	})

	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusFilled, order.Status)
	suite.InDelta(0.5, order.FilledAmount, 1e-9)
	suite.Zero(order.RemainingAmount)
	suite.InDelta(0.05, order.Fee.Cost, 1e-9)
	suite.Equal("USDT", order.Fee.Currency)
	suite.Empty(suite.client.createOrderService.price)
}

func (suite *BinanceGatewayTestSuite) TestCreateOrderRejectsZeroAmount() {
	_, err := suite.gateway.CreateOrder(suite.ctx, CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        0,
		Price:         optional.Some(50000.0),
		ClientOrderID: "client-3",
	})

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *BinanceGatewayTestSuite) TestCreateLimitOrderRequiresPrice() {
	_, err := suite.gateway.CreateOrder(suite.ctx, CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        0.5,
		Price:         optional.None[float64](),
		ClientOrderID: "client-4",
	})

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

// Unit Tests - CancelOrder

func (suite *BinanceGatewayTestSuite) TestCancelOrder() {
	suite.client.cancelOrderService.response = &binance.CancelOrderResponse{}

	err := suite.gateway.CancelOrder(suite.ctx, "12345", "BTCUSDT")

	suite.Require().NoError(err)
	suite.Equal(int64(12345), suite.client.cancelOrderService.orderID)
	suite.Equal("BTCUSDT", suite.client.cancelOrderService.symbol)
}

func (suite *BinanceGatewayTestSuite) TestCancelOrderRejectsBadID() {
	err := suite.gateway.CancelOrder(suite.ctx, "not-a-number", "BTCUSDT")

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInvalidParameter))
}

func (suite *BinanceGatewayTestSuite) TestCancelUnknownOrderMapsToNotFound() {
	suite.client.cancelOrderService.err = &common.APIError{Code: -2011, Message: "Unknown order sent."}

	err := suite.gateway.CancelOrder(suite.ctx, "12345", "BTCUSDT")

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeOrderNotFound))
}

// Unit Tests - FetchOrder

func (suite *BinanceGatewayTestSuite) TestFetchOrderMapsPartialFill() {
	suite.client.getOrderService.order = &binance.Order{
		Symbol:           "BTCUSDT",
		OrderID:          12345,
		ClientOrderID:    "client-5",
		Price:            "50000.00000000",
		OrigQuantity:     "1.00000000",
		ExecutedQuantity: "0.40000000",
		Status:           binance.OrderStatusTypePartiallyFilled,
		Type:             binance.OrderTypeLimit,
		Side:             binance.SideTypeBuy,
		Time:             1700000000000,
	}

	order, err := suite.gateway.FetchOrder(suite.ctx, "12345", "BTCUSDT")

	suite.Require().NoError(err)
	suite.Equal(types.OrderStatusOpen, order.Status)
	suite.InDelta(0.4, order.FilledAmount, 1e-9)
	suite.InDelta(0.6, order.RemainingAmount, 1e-9)
	suite.InDelta(50000.0, order.Price.Unwrap(), 1e-9)
	suite.Equal(types.OrderSideBuy, order.Side)
	suite.Equal(time.UnixMilli(1700000000000).UTC(), order.CreatedAt)
}

func (suite *BinanceGatewayTestSuite) TestFetchMarketOrderHasNoPrice() {
	suite.client.getOrderService.order = &binance.Order{
		Symbol:           "BTCUSDT",
		OrderID:          12346,
		ClientOrderID:    "client-6",
		Price:            "0.00000000",
		OrigQuantity:     "0.50000000",
		ExecutedQuantity: "0.50000000",
		Status:           binance.OrderStatusTypeFilled,
		Type:             binance.OrderTypeMarket,
		Side:             binance.SideTypeSell,
	}

	order, err := suite.gateway.FetchOrder(suite.ctx, "12346", "BTCUSDT")

	suite.Require().NoError(err)
	suite.Equal(types.OrderTypeMarket, order.Type)
	suite.True(order.Price.IsNone())
	suite.Equal(types.OrderStatusFilled, order.Status)
}

// Unit Tests - open orders and history

func (suite *BinanceGatewayTestSuite) TestFetchOpenOrders() {
	suite.client.listOpenOrdersService.orders = []*binance.Order{
		{OrderID: 1, ClientOrderID: "a", Symbol: "BTCUSDT", OrigQuantity: "1", ExecutedQuantity: "0",
			Price: "100", Status: binance.OrderStatusTypeNew, Side: binance.SideTypeBuy, Type: binance.OrderTypeLimit},
		{OrderID: 2, ClientOrderID: "b", Symbol: "BTCUSDT", OrigQuantity: "2", ExecutedQuantity: "1",
			Price: "101", Status: binance.OrderStatusTypePartiallyFilled, Side: binance.SideTypeSell, Type: binance.OrderTypeLimit},
	}

	orders, err := suite.gateway.FetchOpenOrders(suite.ctx, "BTCUSDT")

	suite.Require().NoError(err)
	suite.Require().Len(orders, 2)
	suite.Equal("1", orders[0].ExchangeOrderID.Unwrap())
	suite.Equal(types.OrderStatusOpen, orders[1].Status)
	suite.Equal("BTCUSDT", suite.client.listOpenOrdersService.symbol)
}

func (suite *BinanceGatewayTestSuite) TestFetchOrderHistoryAppliesLimit() {
	suite.client.listOrdersService.orders = []*binance.Order{
		{OrderID: 3, ClientOrderID: "c", Symbol: "BTCUSDT", OrigQuantity: "1", ExecutedQuantity: "1",
			Price: "100", Status: binance.OrderStatusTypeFilled, Side: binance.SideTypeBuy, Type: binance.OrderTypeLimit},
	}

	orders, err := suite.gateway.FetchOrderHistory(suite.ctx, "BTCUSDT")

	suite.Require().NoError(err)
	suite.Require().Len(orders, 1)
	suite.Equal(types.OrderStatusFilled, orders[0].Status)
	suite.Equal(historyLookbackLimit, suite.client.listOrdersService.limit)
}

// Unit Tests - FetchBalance

func (suite *BinanceGatewayTestSuite) TestFetchBalance() {
	suite.client.getAccountService.account = &binance.Account{
		Balances: []binance.Balance{
			{Asset: "BTC", Free: "0.5", Locked: "0"},
			{Asset: "USDT", Free: "1000.50", Locked: "99.50"},
		},
	}

	balance, err := suite.gateway.FetchBalance(suite.ctx)

	suite.Require().NoError(err)
	suite.InDelta(1000.50, balance.Free, 1e-9)
	suite.InDelta(99.50, balance.Used, 1e-9)
	suite.InDelta(1100.0, balance.Total, 1e-9)
}

func (suite *BinanceGatewayTestSuite) TestFetchBalanceMissingAssetIsZero() {
	suite.client.getAccountService.account = &binance.Account{
		Balances: []binance.Balance{
			{Asset: "BTC", Free: "0.5", Locked: "0"},
		},
	}

	balance, err := suite.gateway.FetchBalance(suite.ctx)

	suite.Require().NoError(err)
	suite.Zero(balance.Free)
	suite.Zero(balance.Total)
}

// Unit Tests - market data

func (suite *BinanceGatewayTestSuite) TestFetchTicker() {
	suite.client.priceStatsService.stats = []*binance.PriceChangeStats{
		{BidPrice: "49990", AskPrice: "50010", LastPrice: "50000", Volume: "1234.5"},
	}

	ticker, err := suite.gateway.FetchTicker(suite.ctx, "BTCUSDT")

	suite.Require().NoError(err)
	suite.Equal("BTCUSDT", ticker.Symbol)
	suite.InDelta(49990.0, ticker.Bid, 1e-9)
	suite.InDelta(50010.0, ticker.Ask, 1e-9)
	suite.InDelta(50000.0, ticker.Last, 1e-9)
	suite.InDelta(1234.5, ticker.Volume, 1e-9)
}

func (suite *BinanceGatewayTestSuite) TestFetchTickerEmptyStats() {
	suite.client.priceStatsService.stats = []*binance.PriceChangeStats{}

	_, err := suite.gateway.FetchTicker(suite.ctx, "BTCUSDT")

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeExchangeReject))
}

func (suite *BinanceGatewayTestSuite) TestFetchOrderBook() {
	suite.client.depthService.response = &binance.DepthResponse{
		Bids: []binance.Bid{
			{Price: "49990", Quantity: "2.5"},
			{Price: "49980", Quantity: "1.0"},
		},
		Asks: []binance.Ask{
			{Price: "50010", Quantity: "1.5"},
		},
	}

	book, err := suite.gateway.FetchOrderBook(suite.ctx, "BTCUSDT", 20)

	suite.Require().NoError(err)
	suite.Require().Len(book.Bids, 2)
	suite.Require().Len(book.Asks, 1)
	suite.InDelta(49990.0, book.Bids[0].Price, 1e-9)
	suite.InDelta(2.5, book.Bids[0].Amount, 1e-9)
	suite.Equal(20, suite.client.depthService.limit)
}

// Unit Tests - error classification

func (suite *BinanceGatewayTestSuite) TestRateLimitErrorIsRetryable() {
	suite.client.priceStatsService.err = &common.APIError{Code: -1003, Message: "Too many requests."}

	_, err := suite.gateway.FetchTicker(suite.ctx, "BTCUSDT")

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeRateLimit))
	suite.True(errors.IsRetryable(err))
}

func (suite *BinanceGatewayTestSuite) TestInsufficientBalanceIsTerminal() {
	suite.client.createOrderService.err = &common.APIError{Code: -2010, Message: "Account has insufficient balance."}

	_, err := suite.gateway.CreateOrder(suite.ctx, CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        0.5,
		Price:         optional.Some(50000.0),
		ClientOrderID: "client-7",
	})

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeInsufficientBalance))
	suite.True(errors.IsTerminal(err))
}

func (suite *BinanceGatewayTestSuite) TestContextDeadlineMapsToTimeout() {
	suite.client.getAccountService.err = context.DeadlineExceeded

	_, err := suite.gateway.FetchBalance(suite.ctx)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeNetworkTimeout))
}

func (suite *BinanceGatewayTestSuite) TestUnknownErrorMapsToConnectionFailed() {
	suite.client.getAccountService.err = stderrors.New("connection reset by peer")

	_, err := suite.gateway.FetchBalance(suite.ctx)

	suite.Require().Error(err)
	suite.True(errors.HasCode(err, errors.ErrCodeConnectionFailed))
	suite.True(errors.IsRetryable(err))
}
