// Package exchange defines the vendor-neutral exchange gateway contract and
// the Binance spot implementation of it.
package exchange

import (
	"context"

	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/internal/types"
)

// CreateOrderRequest describes one order to be placed on the exchange.
type CreateOrderRequest struct {
	Symbol string
	Side   types.OrderSide
	Type   types.OrderType
	// Amount is the base quantity
	Amount float64
	// Price is required for limit orders and ignored for market orders
	Price optional.Option[float64]
	// ClientOrderID is the engine-assigned id echoed back by the exchange
	ClientOrderID string
}

// Gateway is the unified exchange contract consumed by the engine. Every
// call is context-aware; implementations map vendor errors onto the
// pkg/errors taxonomy so callers can classify retryability without knowing
// the vendor.
type Gateway interface {
	// CreateOrder places an order and returns the unified order record
	// carrying the gateway-assigned id.
	CreateOrder(ctx context.Context, req CreateOrderRequest) (types.Order, error)

	// CancelOrder cancels an order by exchange id. Cancelling an order the
	// exchange no longer knows returns ErrCodeOrderNotFound.
	CancelOrder(ctx context.Context, exchangeOrderID, symbol string) error

	// FetchOrder returns the current exchange view of one order.
	FetchOrder(ctx context.Context, exchangeOrderID, symbol string) (types.Order, error)

	// FetchOpenOrders returns all orders resting on the exchange for the
	// symbol. An empty symbol returns all open orders on the account.
	FetchOpenOrders(ctx context.Context, symbol string) ([]types.Order, error)

	// FetchOrderHistory returns recent orders for the symbol including
	// terminal ones, used to resolve orders missing from the open set.
	FetchOrderHistory(ctx context.Context, symbol string) ([]types.Order, error)

	// FetchBalance returns the quote currency balance.
	FetchBalance(ctx context.Context) (types.Balance, error)

	// FetchTicker returns the current market snapshot for the symbol.
	FetchTicker(ctx context.Context, symbol string) (types.Ticker, error)

	// FetchOrderBook returns a depth snapshot limited to the given number
	// of levels per side.
	FetchOrderBook(ctx context.Context, symbol string, depth int) (types.OrderBook, error)
}
