package types

import (
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/moznion/go-optional"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
)

type OrderSide string

type OrderType string

type OrderStatus string

const (
	OrderSideBuy  OrderSide = "BUY"
	OrderSideSell OrderSide = "SELL"
)

const (
	OrderTypeMarket OrderType = "MARKET"
	OrderTypeLimit  OrderType = "LIMIT"
)

const (
	// OrderStatusPending means the order was created locally but not yet
	// acknowledged by the exchange
	OrderStatusPending OrderStatus = "PENDING"
	// OrderStatusOpen means the exchange accepted the order and it is
	// resting (possibly partially filled)
	OrderStatusOpen OrderStatus = "OPEN"
	// OrderStatusFilled means the order is fully filled
	OrderStatusFilled OrderStatus = "FILLED"
	// OrderStatusCancelled means the order was cancelled before filling
	OrderStatusCancelled OrderStatus = "CANCELLED"
	// OrderStatusRejected means the exchange refused the order
	OrderStatusRejected OrderStatus = "REJECTED"
	// OrderStatusFailed means the order could not be placed or its true
	// status could not be resolved
	OrderStatusFailed OrderStatus = "FAILED"
)

// IsTerminal reports whether the status can never change again.
func (s OrderStatus) IsTerminal() bool {
	switch s {
	case OrderStatusFilled, OrderStatusCancelled, OrderStatusRejected, OrderStatusFailed:
		return true
	default:
		return false
	}
}

// Fee is the exchange fee charged for an execution.
type Fee struct {
	Cost     float64 `json:"cost" yaml:"cost" validate:"gte=0"`
	Currency string  `json:"currency" yaml:"currency"`
}

// Order is the engine's record of one exchange order. Status transitions
// flow only through the order executor; filled + remaining always equals
// amount once remaining is known.
type Order struct {
	// ID is the engine-assigned client order id (UUID)
	ID string `json:"id" yaml:"id" validate:"required,uuid"`
	// ExchangeOrderID is the gateway-assigned id, set once placed
	ExchangeOrderID optional.Option[string] `json:"exchange_order_id" yaml:"exchange_order_id"`
	// DealID back-references the owning deal; orders never own deals
	DealID optional.Option[string] `json:"deal_id" yaml:"deal_id"`
	Symbol string                  `json:"symbol" yaml:"symbol" validate:"required"`
	Side   OrderSide               `json:"side" yaml:"side" validate:"required,oneof=BUY SELL"`
	Type   OrderType               `json:"type" yaml:"type" validate:"required,oneof=MARKET LIMIT"`
	// Amount is the requested base quantity
	Amount float64 `json:"amount" yaml:"amount" validate:"required,gt=0"`
	// Price is the limit price; absent for market orders
	Price optional.Option[float64] `json:"price" yaml:"price"`
	// FilledAmount is the base quantity filled so far
	FilledAmount float64 `json:"filled_amount" yaml:"filled_amount" validate:"gte=0"`
	// RemainingAmount is the base quantity still resting
	RemainingAmount float64     `json:"remaining_amount" yaml:"remaining_amount" validate:"gte=0"`
	Status          OrderStatus `json:"status" yaml:"status" validate:"required"`
	CreatedAt       time.Time   `json:"created_at" yaml:"created_at"`
	Fee             Fee         `json:"fee" yaml:"fee"`
}

// Validate validates the Order struct.
func (o *Order) Validate() error {
	validate := validator.New()

	if err := validate.Struct(o); err != nil {
		return errors.Wrap(errors.ErrCodeInvalidOrder, "invalid order", err)
	}

	return nil
}

// IsOpen reports whether the order is still working on the exchange.
func (o *Order) IsOpen() bool {
	return o.Status == OrderStatusPending || o.Status == OrderStatusOpen
}

// LimitPrice returns the limit price, or the provided fallback for market orders.
func (o *Order) LimitPrice(fallback float64) float64 {
	if o.Price.IsSome() {
		return o.Price.Unwrap()
	}

	return fallback
}
