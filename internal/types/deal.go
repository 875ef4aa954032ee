package types

import (
	"time"

	"github.com/moznion/go-optional"
	"github.com/shopspring/decimal"
)

// DealStatus is the lifecycle state of a paired buy+sell position.
type DealStatus string

const (
	DealStatusCreated    DealStatus = "CREATED"
	DealStatusBuyPlaced  DealStatus = "BUY_PLACED"
	DealStatusBuyFilled  DealStatus = "BUY_FILLED"
	DealStatusSellPlaced DealStatus = "SELL_PLACED"
	DealStatusCompleted  DealStatus = "COMPLETED"
	DealStatusCancelled  DealStatus = "CANCELLED"
	DealStatusFailed     DealStatus = "FAILED"
)

// IsTerminal reports whether the deal can never change state again.
func (s DealStatus) IsTerminal() bool {
	switch s {
	case DealStatusCompleted, DealStatusCancelled, DealStatusFailed:
		return true
	default:
		return false
	}
}

// dealForwardTransitions is the forward edge set of the lifecycle machine.
// CANCELLED and FAILED are reachable from any non-terminal state and are
// handled separately; a deal never regresses.
var dealForwardTransitions = map[DealStatus]DealStatus{
	DealStatusCreated:    DealStatusBuyPlaced,
	DealStatusBuyPlaced:  DealStatusBuyFilled,
	DealStatusBuyFilled:  DealStatusSellPlaced,
	DealStatusSellPlaced: DealStatusCompleted,
}

// CanTransition reports whether moving from s to next is legal.
func (s DealStatus) CanTransition(next DealStatus) bool {
	if s.IsTerminal() {
		return false
	}

	if next == DealStatusCancelled || next == DealStatusFailed {
		return true
	}

	return dealForwardTransitions[s] == next
}

// Deal binds a buy order and its paired sell order into one lifecycle
// unit. Deals are owned exclusively by the deal manager; orders reference
// their deal by id.
type Deal struct {
	// ID is the engine-assigned deal id (UUID)
	ID     string     `json:"id" yaml:"id" validate:"required,uuid"`
	Symbol string     `json:"symbol" yaml:"symbol" validate:"required"`
	Status DealStatus `json:"status" yaml:"status" validate:"required"`
	// BuyOrderID references the entry order
	BuyOrderID string `json:"buy_order_id" yaml:"buy_order_id"`
	// SellOrderID references the paired exit order once placed
	SellOrderID optional.Option[string] `json:"sell_order_id" yaml:"sell_order_id"`
	// EntryPrice is the buy fill price
	EntryPrice float64 `json:"entry_price" yaml:"entry_price" validate:"gte=0"`
	// Amount is the base quantity bought
	Amount float64 `json:"amount" yaml:"amount" validate:"gte=0"`
	// TargetProfitPercent is the markup applied to the entry price for the
	// paired sell (1.5 means +1.5%)
	TargetProfitPercent float64 `json:"target_profit_percent" yaml:"target_profit_percent"`
	// ActualProfit is the realized profit in quote currency, set on completion
	ActualProfit optional.Option[float64] `json:"actual_profit" yaml:"actual_profit"`
	CreatedAt    time.Time                `json:"created_at" yaml:"created_at"`
	ClosedAt     optional.Option[time.Time] `json:"closed_at" yaml:"closed_at"`
}

// TargetSellPrice returns the paired sell price: entry × (1 + markup%).
// Computed in decimals so the price sent to the exchange is exact.
func (d *Deal) TargetSellPrice() float64 {
	markup := decimal.NewFromFloat(d.TargetProfitPercent).Div(decimal.NewFromInt(100))
	price, _ := decimal.NewFromFloat(d.EntryPrice).
		Mul(decimal.NewFromInt(1).Add(markup)).
		Float64()

	return price
}

// LossPercent returns the current loss relative to the entry price as a
// positive percentage. A profitable position returns a negative value.
func (d *Deal) LossPercent(lastPrice float64) float64 {
	if d.EntryPrice <= 0 {
		return 0
	}

	return (d.EntryPrice - lastPrice) / d.EntryPrice * 100
}
