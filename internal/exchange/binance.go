package exchange

import (
	"context"
	stderrors "errors"
	"net"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2"
	"github.com/adshao/go-binance/v2/common"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/internal/utils"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
)

const (
	// BinanceDecimalPrecision is a default decimal precision used as a fallback.
	// 8 decimals allows for satoshi-level precision (0.00000001 BTC) for BTC-like assets.
	// Production systems should use symbol-specific precision from Binance exchange info (e.g. LOT_SIZE, PRICE_FILTER).
	BinanceDecimalPrecision = 8

	// DefaultQuoteAsset is the quote currency balances are reported in.
	DefaultQuoteAsset = "USDT"

	// historyLookbackLimit bounds FetchOrderHistory result size.
	historyLookbackLimit = 200
)

// Service interfaces for mocking the Binance API

// CreateOrderService interface for creating orders.
type CreateOrderService interface {
	Symbol(symbol string) CreateOrderService
	Side(side binance.SideType) CreateOrderService
	Type(orderType binance.OrderType) CreateOrderService
	Quantity(quantity string) CreateOrderService
	Price(price string) CreateOrderService
	TimeInForce(tif binance.TimeInForceType) CreateOrderService
	NewClientOrderID(id string) CreateOrderService
	Do(ctx context.Context) (*binance.CreateOrderResponse, error)
}

// GetOrderService interface for fetching a single order.
type GetOrderService interface {
	Symbol(symbol string) GetOrderService
	OrderID(orderID int64) GetOrderService
	Do(ctx context.Context) (*binance.Order, error)
}

// CancelOrderService interface for canceling orders.
type CancelOrderService interface {
	Symbol(symbol string) CancelOrderService
	OrderID(orderID int64) CancelOrderService
	Do(ctx context.Context) (*binance.CancelOrderResponse, error)
}

// ListOpenOrdersService interface for listing open orders.
type ListOpenOrdersService interface {
	Symbol(symbol string) ListOpenOrdersService
	Do(ctx context.Context) ([]*binance.Order, error)
}

// ListOrdersService interface for listing order history.
type ListOrdersService interface {
	Symbol(symbol string) ListOrdersService
	Limit(limit int) ListOrdersService
	Do(ctx context.Context) ([]*binance.Order, error)
}

// GetAccountService interface for getting account info.
type GetAccountService interface {
	Do(ctx context.Context) (*binance.Account, error)
}

// DepthService interface for fetching the order book.
type DepthService interface {
	Symbol(symbol string) DepthService
	Limit(limit int) DepthService
	Do(ctx context.Context) (*binance.DepthResponse, error)
}

// PriceStatsService interface for 24h ticker statistics.
type PriceStatsService interface {
	Symbol(symbol string) PriceStatsService
	Do(ctx context.Context) ([]*binance.PriceChangeStats, error)
}

// BinanceClient interface abstracts the Binance client for testing.
type BinanceClient interface {
	NewCreateOrderService() CreateOrderService
	NewGetOrderService() GetOrderService
	NewCancelOrderService() CancelOrderService
	NewListOpenOrdersService() ListOpenOrdersService
	NewListOrdersService() ListOrdersService
	NewGetAccountService() GetAccountService
	NewDepthService() DepthService
	NewPriceStatsService() PriceStatsService
}

// realBinanceClient wraps the actual binance.Client.
type realBinanceClient struct {
	client *binance.Client
}

func (r *realBinanceClient) NewCreateOrderService() CreateOrderService {
	return &realCreateOrderService{service: r.client.NewCreateOrderService()}
}

func (r *realBinanceClient) NewGetOrderService() GetOrderService {
	return &realGetOrderService{service: r.client.NewGetOrderService()}
}

func (r *realBinanceClient) NewCancelOrderService() CancelOrderService {
	return &realCancelOrderService{service: r.client.NewCancelOrderService()}
}

func (r *realBinanceClient) NewListOpenOrdersService() ListOpenOrdersService {
	return &realListOpenOrdersService{service: r.client.NewListOpenOrdersService()}
}

func (r *realBinanceClient) NewListOrdersService() ListOrdersService {
	return &realListOrdersService{service: r.client.NewListOrdersService()}
}

func (r *realBinanceClient) NewGetAccountService() GetAccountService {
	return &realGetAccountService{service: r.client.NewGetAccountService()}
}

func (r *realBinanceClient) NewDepthService() DepthService {
	return &realDepthService{service: r.client.NewDepthService()}
}

func (r *realBinanceClient) NewPriceStatsService() PriceStatsService {
	return &realPriceStatsService{service: r.client.NewListPriceChangeStatsService()}
}

// Real service wrappers

type realCreateOrderService struct {
	service *binance.CreateOrderService
}

func (s *realCreateOrderService) Symbol(symbol string) CreateOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCreateOrderService) Side(side binance.SideType) CreateOrderService {
	s.service = s.service.Side(side)

	return s
}

func (s *realCreateOrderService) Type(orderType binance.OrderType) CreateOrderService {
	s.service = s.service.Type(orderType)

	return s
}

func (s *realCreateOrderService) Quantity(quantity string) CreateOrderService {
	s.service = s.service.Quantity(quantity)

	return s
}

func (s *realCreateOrderService) Price(price string) CreateOrderService {
	s.service = s.service.Price(price)

	return s
}

func (s *realCreateOrderService) TimeInForce(tif binance.TimeInForceType) CreateOrderService {
	s.service = s.service.TimeInForce(tif)

	return s
}

func (s *realCreateOrderService) NewClientOrderID(id string) CreateOrderService {
	s.service = s.service.NewClientOrderID(id)

	return s
}

func (s *realCreateOrderService) Do(ctx context.Context) (*binance.CreateOrderResponse, error) {
	return s.service.Do(ctx)
}

type realGetOrderService struct {
	service *binance.GetOrderService
}

func (s *realGetOrderService) Symbol(symbol string) GetOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realGetOrderService) OrderID(orderID int64) GetOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realGetOrderService) Do(ctx context.Context) (*binance.Order, error) {
	return s.service.Do(ctx)
}

type realCancelOrderService struct {
	service *binance.CancelOrderService
}

func (s *realCancelOrderService) Symbol(symbol string) CancelOrderService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realCancelOrderService) OrderID(orderID int64) CancelOrderService {
	s.service = s.service.OrderID(orderID)

	return s
}

func (s *realCancelOrderService) Do(ctx context.Context) (*binance.CancelOrderResponse, error) {
	return s.service.Do(ctx)
}

type realListOpenOrdersService struct {
	service *binance.ListOpenOrdersService
}

func (s *realListOpenOrdersService) Symbol(symbol string) ListOpenOrdersService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListOpenOrdersService) Do(ctx context.Context) ([]*binance.Order, error) {
	return s.service.Do(ctx)
}

type realListOrdersService struct {
	service *binance.ListOrdersService
}

func (s *realListOrdersService) Symbol(symbol string) ListOrdersService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realListOrdersService) Limit(limit int) ListOrdersService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realListOrdersService) Do(ctx context.Context) ([]*binance.Order, error) {
	return s.service.Do(ctx)
}

type realGetAccountService struct {
	service *binance.GetAccountService
}

func (s *realGetAccountService) Do(ctx context.Context) (*binance.Account, error) {
	return s.service.Do(ctx)
}

type realDepthService struct {
	service *binance.DepthService
}

func (s *realDepthService) Symbol(symbol string) DepthService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realDepthService) Limit(limit int) DepthService {
	s.service = s.service.Limit(limit)

	return s
}

func (s *realDepthService) Do(ctx context.Context) (*binance.DepthResponse, error) {
	return s.service.Do(ctx)
}

type realPriceStatsService struct {
	service *binance.ListPriceChangeStatsService
}

func (s *realPriceStatsService) Symbol(symbol string) PriceStatsService {
	s.service = s.service.Symbol(symbol)

	return s
}

func (s *realPriceStatsService) Do(ctx context.Context) ([]*binance.PriceChangeStats, error) {
	return s.service.Do(ctx)
}

// BinanceGatewayConfig holds the Binance connection configuration.
type BinanceGatewayConfig struct {
	APIKey    string `json:"api_key" yaml:"api_key"`
	APISecret string `json:"api_secret" yaml:"api_secret"`
	// BaseURL overrides the Binance endpoint (testnet, mock server)
	BaseURL string `json:"base_url" yaml:"base_url"`
	// QuoteAsset is the currency FetchBalance reports (default USDT)
	QuoteAsset string `json:"quote_asset" yaml:"quote_asset"`
}

// BinanceGateway implements Gateway against the Binance spot REST API.
type BinanceGateway struct {
	client           BinanceClient
	quoteAsset       string
	decimalPrecision int
}

// NewBinanceGateway creates a gateway talking to the real Binance API.
func NewBinanceGateway(config BinanceGatewayConfig) *BinanceGateway {
	client := binance.NewClient(config.APIKey, config.APISecret)
	if config.BaseURL != "" {
		client.BaseURL = config.BaseURL
	}

	quote := config.QuoteAsset
	if quote == "" {
		quote = DefaultQuoteAsset
	}

	return &BinanceGateway{
		client:           &realBinanceClient{client: client},
		quoteAsset:       quote,
		decimalPrecision: BinanceDecimalPrecision,
	}
}

// newBinanceGatewayWithClient creates a gateway with a custom client.
// This is used for testing with mock clients.
func newBinanceGatewayWithClient(client BinanceClient) *BinanceGateway {
	return &BinanceGateway{
		client:           client,
		quoteAsset:       DefaultQuoteAsset,
		decimalPrecision: BinanceDecimalPrecision,
	}
}

// CreateOrder implements Gateway.
func (b *BinanceGateway) CreateOrder(ctx context.Context, req CreateOrderRequest) (types.Order, error) {
	var side binance.SideType

	switch req.Side {
	case types.OrderSideBuy:
		side = binance.SideTypeBuy
	case types.OrderSideSell:
		side = binance.SideTypeSell
	default:
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order side: %s", req.Side)
	}

	var orderType binance.OrderType

	switch req.Type {
	case types.OrderTypeMarket:
		orderType = binance.OrderTypeMarket
	case types.OrderTypeLimit:
		orderType = binance.OrderTypeLimit
	default:
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidParameter, "unsupported order type: %s", req.Type)
	}

	if req.Amount <= 0 {
		return types.Order{}, errors.New(errors.ErrCodeInvalidParameter, "order amount must be greater than zero")
	}

	roundedAmount := utils.RoundToDecimalPrecision(req.Amount, b.decimalPrecision)
	if roundedAmount <= 0 {
		return types.Order{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"order amount %.8f is too small after rounding to %d decimal places",
			req.Amount, b.decimalPrecision)
	}

	service := b.client.NewCreateOrderService().
		Symbol(req.Symbol).
		Side(side).
		Type(orderType).
		Quantity(strconv.FormatFloat(roundedAmount, 'f', b.decimalPrecision, 64)).
		NewClientOrderID(req.ClientOrderID)

	if req.Type == types.OrderTypeLimit {
		if req.Price.IsNone() {
			return types.Order{}, errors.New(errors.ErrCodeInvalidParameter, "limit order requires a price")
		}

		service = service.
			Price(strconv.FormatFloat(req.Price.Unwrap(), 'f', -1, 64)).
			TimeInForce(binance.TimeInForceTypeGTC)
	}

	resp, err := service.Do(ctx)
	if err != nil {
		return types.Order{}, b.mapError(err, "failed to place order on Binance")
	}

	return b.orderFromCreateResponse(req, resp), nil
}

// CancelOrder implements Gateway.
func (b *BinanceGateway) CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error {
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return errors.Wrap(errors.ErrCodeInvalidParameter, "invalid exchange order id", err)
	}

	_, err = b.client.NewCancelOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return b.mapError(err, "failed to cancel order on Binance")
	}

	return nil
}

// FetchOrder implements Gateway.
func (b *BinanceGateway) FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (types.Order, error) {
	orderID, err := strconv.ParseInt(exchangeOrderID, 10, 64)
	if err != nil {
		return types.Order{}, errors.Wrap(errors.ErrCodeInvalidParameter, "invalid exchange order id", err)
	}

	order, err := b.client.NewGetOrderService().
		Symbol(symbol).
		OrderID(orderID).
		Do(ctx)
	if err != nil {
		return types.Order{}, b.mapError(err, "failed to fetch order from Binance")
	}

	return b.toUnifiedOrder(order), nil
}

// FetchOpenOrders implements Gateway.
func (b *BinanceGateway) FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error) {
	service := b.client.NewListOpenOrdersService()
	if symbol != "" {
		service = service.Symbol(symbol)
	}

	orders, err := service.Do(ctx)
	if err != nil {
		return nil, b.mapError(err, "failed to fetch open orders from Binance")
	}

	result := make([]types.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, b.toUnifiedOrder(order))
	}

	return result, nil
}

// FetchOrderHistory implements Gateway.
func (b *BinanceGateway) FetchOrderHistory(ctx context.Context, symbol string) ([]types.Order, error) {
	orders, err := b.client.NewListOrdersService().
		Symbol(symbol).
		Limit(historyLookbackLimit).
		Do(ctx)
	if err != nil {
		return nil, b.mapError(err, "failed to fetch order history from Binance")
	}

	result := make([]types.Order, 0, len(orders))
	for _, order := range orders {
		result = append(result, b.toUnifiedOrder(order))
	}

	return result, nil
}

// FetchBalance implements Gateway.
func (b *BinanceGateway) FetchBalance(ctx context.Context) (types.Balance, error) {
	account, err := b.client.NewGetAccountService().Do(ctx)
	if err != nil {
		return types.Balance{}, b.mapError(err, "failed to fetch account from Binance")
	}

	for _, balance := range account.Balances {
		if balance.Asset != b.quoteAsset {
			continue
		}

		free, _ := strconv.ParseFloat(balance.Free, 64)
		locked, _ := strconv.ParseFloat(balance.Locked, 64)

		return types.Balance{Free: free, Used: locked, Total: free + locked}, nil
	}

	// Asset absent from the account means a zero balance, not an error
	return types.Balance{Free: 0, Used: 0, Total: 0}, nil
}

// FetchTicker implements Gateway.
func (b *BinanceGateway) FetchTicker(ctx context.Context, symbol string) (types.Ticker, error) {
	stats, err := b.client.NewPriceStatsService().
		Symbol(symbol).
		Do(ctx)
	if err != nil {
		return types.Ticker{}, b.mapError(err, "failed to fetch ticker from Binance")
	}

	if len(stats) == 0 {
		return types.Ticker{}, errors.Newf(errors.ErrCodeExchangeReject, "no ticker data for symbol %s", symbol)
	}

	s := stats[0]
	bid, _ := strconv.ParseFloat(s.BidPrice, 64)
	ask, _ := strconv.ParseFloat(s.AskPrice, 64)
	last, _ := strconv.ParseFloat(s.LastPrice, 64)
	volume, _ := strconv.ParseFloat(s.Volume, 64)

	return types.Ticker{
		Symbol:     symbol,
		Bid:        bid,
		Ask:        ask,
		Last:       last,
		Volume:     volume,
		Timestamp:  time.Now().UTC(),
		Indicators: nil,
	}, nil
}

// FetchOrderBook implements Gateway.
func (b *BinanceGateway) FetchOrderBook(ctx context.Context, symbol string, depth int) (types.OrderBook, error) {
	resp, err := b.client.NewDepthService().
		Symbol(symbol).
		Limit(depth).
		Do(ctx)
	if err != nil {
		return types.OrderBook{}, b.mapError(err, "failed to fetch order book from Binance")
	}

	book := types.OrderBook{
		Symbol:    symbol,
		Bids:      make([]types.BookLevel, 0, len(resp.Bids)),
		Asks:      make([]types.BookLevel, 0, len(resp.Asks)),
		Timestamp: time.Now().UTC(),
	}

	for _, level := range resp.Bids {
		price, amount, parseErr := level.Parse()
		if parseErr != nil {
			continue
		}

		book.Bids = append(book.Bids, types.BookLevel{Price: price, Amount: amount})
	}

	for _, level := range resp.Asks {
		price, amount, parseErr := level.Parse()
		if parseErr != nil {
			continue
		}

		book.Asks = append(book.Asks, types.BookLevel{Price: price, Amount: amount})
	}

	return book, nil
}

// orderFromCreateResponse builds the unified order from a create response.
func (b *BinanceGateway) orderFromCreateResponse(req CreateOrderRequest, resp *binance.CreateOrderResponse) types.Order {
	executed, _ := strconv.ParseFloat(resp.ExecutedQuantity, 64)
	amount, _ := strconv.ParseFloat(resp.OrigQuantity, 64)

	if amount == 0 {
		amount = req.Amount
	}

	var feeCost float64

	feeCurrency := b.quoteAsset

	for i, fill := range resp.Fills {
		commission, _ := strconv.ParseFloat(fill.Commission, 64)
		feeCost += commission

		if i == 0 && fill.CommissionAsset != "" {
			feeCurrency = fill.CommissionAsset
		}
	}

	return types.Order{
		ID:              resp.ClientOrderID,
		ExchangeOrderID: optional.Some(strconv.FormatInt(resp.OrderID, 10)),
		DealID:          optional.None[string](),
		Symbol:          resp.Symbol,
		Side:            req.Side,
		Type:            req.Type,
		Amount:          amount,
		Price:           req.Price,
		FilledAmount:    executed,
		RemainingAmount: amount - executed,
		Status:          mapBinanceOrderStatus(resp.Status),
		CreatedAt:       time.UnixMilli(resp.TransactTime).UTC(),
		Fee:             types.Fee{Cost: feeCost, Currency: feeCurrency},
	}
}

// toUnifiedOrder maps a Binance order into the unified shape.
func (b *BinanceGateway) toUnifiedOrder(order *binance.Order) types.Order {
	amount, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	executed, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)
	price, _ := strconv.ParseFloat(order.Price, 64)

	var side types.OrderSide
	if order.Side == binance.SideTypeBuy {
		side = types.OrderSideBuy
	} else {
		side = types.OrderSideSell
	}

	orderType := types.OrderTypeLimit
	priceOpt := optional.Some(price)

	if order.Type == binance.OrderTypeMarket {
		orderType = types.OrderTypeMarket
		priceOpt = optional.None[float64]()
	}

	return types.Order{
		ID:              order.ClientOrderID,
		ExchangeOrderID: optional.Some(strconv.FormatInt(order.OrderID, 10)),
		DealID:          optional.None[string](),
		Symbol:          order.Symbol,
		Side:            side,
		Type:            orderType,
		Amount:          amount,
		Price:           priceOpt,
		FilledAmount:    executed,
		RemainingAmount: amount - executed,
		Status:          mapBinanceOrderStatus(order.Status),
		CreatedAt:       time.UnixMilli(order.Time).UTC(),
		Fee:             types.Fee{Cost: 0, Currency: b.quoteAsset},
	}
}

// mapBinanceOrderStatus maps the Binance status vocabulary onto the unified one.
func mapBinanceOrderStatus(status binance.OrderStatusType) types.OrderStatus {
	switch status {
	case binance.OrderStatusTypeNew:
		return types.OrderStatusOpen
	case binance.OrderStatusTypePartiallyFilled:
		return types.OrderStatusOpen
	case binance.OrderStatusTypeFilled:
		return types.OrderStatusFilled
	case binance.OrderStatusTypeCanceled, binance.OrderStatusTypePendingCancel, binance.OrderStatusTypeExpired:
		return types.OrderStatusCancelled
	case binance.OrderStatusTypeRejected:
		return types.OrderStatusRejected
	default:
		return types.OrderStatusFailed
	}
}

// Binance API error codes the engine classifies specially.
const (
	binanceErrTooManyRequests  = -1003
	binanceErrRateLimitReached = -1015
	binanceErrNewOrderRejected = -2010
	binanceErrUnknownOrder     = -2011
	binanceErrNoSuchOrder      = -2013
	binanceErrBalanceShortfall = -3020
)

// mapError classifies a Binance client error into the pkg/errors taxonomy.
func (b *BinanceGateway) mapError(err error, message string) error {
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.Wrap(errors.ErrCodeNetworkTimeout, message, err)
	}

	var apiErr *common.APIError
	if stderrors.As(err, &apiErr) {
		switch apiErr.Code {
		case binanceErrTooManyRequests, binanceErrRateLimitReached:
			return errors.Wrap(errors.ErrCodeRateLimit, message, err)
		case binanceErrNewOrderRejected, binanceErrBalanceShortfall:
			return errors.Wrap(errors.ErrCodeInsufficientBalance, message, err)
		case binanceErrUnknownOrder, binanceErrNoSuchOrder:
			return errors.Wrap(errors.ErrCodeOrderNotFound, message, err)
		default:
			return errors.Wrap(errors.ErrCodeExchangeReject, message, err)
		}
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.Wrap(errors.ErrCodeNetworkTimeout, message, err)
	}

	return errors.Wrap(errors.ErrCodeConnectionFailed, message, err)
}
