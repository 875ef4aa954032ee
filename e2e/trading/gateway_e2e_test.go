package trading_test

import (
	"context"
	"strconv"
	"testing"

	"github.com/google/uuid"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/e2e/mockserver"
	"github.com/rxtech-lab/argo-spot/internal/exchange"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
	"github.com/stretchr/testify/suite"
)

// GatewayE2ETestSuite exercises the Binance gateway against the mock
// exchange server over real HTTP, covering market data, the order
// lifecycle and vendor error mapping.
type GatewayE2ETestSuite struct {
	suite.Suite

	server  *mockserver.MockExchangeServer
	gateway *exchange.BinanceGateway
	ctx     context.Context
}

func TestGatewayE2ESuite(t *testing.T) {
	suite.Run(t, new(GatewayE2ETestSuite))
}

func (s *GatewayE2ETestSuite) SetupTest() {
	s.server = mockserver.NewMockExchangeServer(mockserver.ServerConfig{
		InitialBalances: map[string]float64{
			"USDT": 10000.0,
			"BTC":  1.0,
		},
		InitialPrices: map[string]float64{
			"BTCUSDT": 50000.0,
		},
		FeeRate:     0.001,
		DepthLevels: 20,
	})

	err := s.server.Start(":0")
	s.Require().NoError(err)

	s.gateway = exchange.NewBinanceGateway(exchange.BinanceGatewayConfig{
		APIKey:     "mock-api-key",
		APISecret:  "mock-secret-key",
		BaseURL:    s.server.BaseURL(),
		QuoteAsset: "USDT",
	})
	s.ctx = context.Background()
}

func (s *GatewayE2ETestSuite) TearDownTest() {
	s.Require().NoError(s.server.Stop())
}

func (s *GatewayE2ETestSuite) TestFetchTicker() {
	ticker, err := s.gateway.FetchTicker(s.ctx, "BTCUSDT")
	s.Require().NoError(err)

	s.Equal("BTCUSDT", ticker.Symbol)
	s.InDelta(50000.0, ticker.Last, 0.01)
	s.Less(ticker.Bid, ticker.Ask)

	s.server.SetPrice("BTCUSDT", 51000.0)

	ticker, err = s.gateway.FetchTicker(s.ctx, "BTCUSDT")
	s.Require().NoError(err)
	s.InDelta(51000.0, ticker.Last, 0.01)
}

func (s *GatewayE2ETestSuite) TestFetchOrderBook() {
	s.server.SetDepthSkew("BTCUSDT", 0.5)

	book, err := s.gateway.FetchOrderBook(s.ctx, "BTCUSDT", 10)
	s.Require().NoError(err)

	s.Len(book.Bids, 10)
	s.Len(book.Asks, 10)
	s.Less(book.Bids[0].Price, book.Asks[0].Price)
	s.Greater(book.Imbalance(10), 0.0, "bid-skewed book should report positive imbalance")
}

func (s *GatewayE2ETestSuite) TestFetchBalance() {
	balance, err := s.gateway.FetchBalance(s.ctx)
	s.Require().NoError(err)

	s.InDelta(10000.0, balance.Free, 0.01)
	s.InDelta(0.0, balance.Used, 0.01)
	s.InDelta(10000.0, balance.Total, 0.01)
}

func (s *GatewayE2ETestSuite) TestLimitOrderLifecycle() {
	clientID := uuid.New().String()

	order, err := s.gateway.CreateOrder(s.ctx, exchange.CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        0.002,
		Price:         optional.Some(49000.0),
		ClientOrderID: clientID,
	})
	s.Require().NoError(err)
	s.Require().True(order.ExchangeOrderID.IsSome())
	s.Equal(types.OrderStatusOpen, order.Status)

	exchangeID := order.ExchangeOrderID.Unwrap()

	// the reservation locks quote funds
	balance, err := s.gateway.FetchBalance(s.ctx)
	s.Require().NoError(err)
	s.InDelta(49000.0*0.002, balance.Used, 0.01)

	open, err := s.gateway.FetchOpenOrders(s.ctx, "BTCUSDT")
	s.Require().NoError(err)
	s.Require().Len(open, 1)
	s.Equal(exchangeID, open[0].ExchangeOrderID.Unwrap())

	orderID := s.orderIDFrom(exchangeID)
	s.Require().True(s.server.FillOrder(orderID))

	fetched, err := s.gateway.FetchOrder(s.ctx, exchangeID, "BTCUSDT")
	s.Require().NoError(err)
	s.Equal(types.OrderStatusFilled, fetched.Status)
	s.InDelta(0.002, fetched.FilledAmount, 1e-9)
	s.InDelta(0.0, fetched.RemainingAmount, 1e-9)

	btc := s.server.GetBalance("BTC")
	s.Require().NotNil(btc)
	s.InDelta(1.002, btc.Free, 1e-9)

	open, err = s.gateway.FetchOpenOrders(s.ctx, "BTCUSDT")
	s.Require().NoError(err)
	s.Empty(open)
}

func (s *GatewayE2ETestSuite) TestMarketOrderFillsImmediately() {
	order, err := s.gateway.CreateOrder(s.ctx, exchange.CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideSell,
		Type:          types.OrderTypeMarket,
		Amount:        0.01,
		Price:         optional.None[float64](),
		ClientOrderID: uuid.New().String(),
	})
	s.Require().NoError(err)

	s.Equal(types.OrderStatusFilled, order.Status)
	s.InDelta(0.01, order.FilledAmount, 1e-9)
	s.Greater(order.Fee.Cost, 0.0, "market fill should carry the commission")

	usdt := s.server.GetBalance("USDT")
	s.Require().NotNil(usdt)
	s.InDelta(10000.0+50000.0*0.01*(1-0.001), usdt.Free, 0.01)
}

func (s *GatewayE2ETestSuite) TestCancelOrder() {
	order, err := s.gateway.CreateOrder(s.ctx, exchange.CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideSell,
		Type:          types.OrderTypeLimit,
		Amount:        0.005,
		Price:         optional.Some(52000.0),
		ClientOrderID: uuid.New().String(),
	})
	s.Require().NoError(err)

	exchangeID := order.ExchangeOrderID.Unwrap()

	err = s.gateway.CancelOrder(s.ctx, exchangeID, "BTCUSDT")
	s.Require().NoError(err)

	fetched, err := s.gateway.FetchOrder(s.ctx, exchangeID, "BTCUSDT")
	s.Require().NoError(err)
	s.Equal(types.OrderStatusCancelled, fetched.Status)

	// the base reservation is released
	btc := s.server.GetBalance("BTC")
	s.Require().NotNil(btc)
	s.InDelta(1.0, btc.Free, 1e-9)
	s.InDelta(0.0, btc.Locked, 1e-9)
}

func (s *GatewayE2ETestSuite) TestCancelUnknownOrder() {
	err := s.gateway.CancelOrder(s.ctx, "424242", "BTCUSDT")
	s.Require().Error(err)
	s.True(errors.HasCode(err, errors.ErrCodeOrderNotFound), "got %v", err)
}

func (s *GatewayE2ETestSuite) TestInsufficientBalanceIsTerminal() {
	_, err := s.gateway.CreateOrder(s.ctx, exchange.CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        10.0,
		Price:         optional.Some(50000.0),
		ClientOrderID: uuid.New().String(),
	})
	s.Require().Error(err)
	s.True(errors.IsTerminal(err), "got %v", err)
	s.True(errors.HasCode(err, errors.ErrCodeInsufficientBalance), "got %v", err)
}

func (s *GatewayE2ETestSuite) TestFetchOrderHistoryIncludesTerminalOrders() {
	order, err := s.gateway.CreateOrder(s.ctx, exchange.CreateOrderRequest{
		Symbol:        "BTCUSDT",
		Side:          types.OrderSideBuy,
		Type:          types.OrderTypeLimit,
		Amount:        0.001,
		Price:         optional.Some(48000.0),
		ClientOrderID: uuid.New().String(),
	})
	s.Require().NoError(err)

	err = s.gateway.CancelOrder(s.ctx, order.ExchangeOrderID.Unwrap(), "BTCUSDT")
	s.Require().NoError(err)

	history, err := s.gateway.FetchOrderHistory(s.ctx, "BTCUSDT")
	s.Require().NoError(err)
	s.Require().Len(history, 1)
	s.Equal(types.OrderStatusCancelled, history[0].Status)
}

// orderIDFrom converts the gateway's string exchange id back to the mock
// server's numeric id.
func (s *GatewayE2ETestSuite) orderIDFrom(exchangeID string) int64 {
	id, err := strconv.ParseInt(exchangeID, 10, 64)
	s.Require().NoError(err)

	return id
}
