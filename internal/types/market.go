package types

import "time"

// Ticker is one market data point for a symbol.
type Ticker struct {
	Symbol    string    `json:"symbol" yaml:"symbol" validate:"required"`
	Bid       float64   `json:"bid" yaml:"bid" validate:"gte=0"`
	Ask       float64   `json:"ask" yaml:"ask" validate:"gte=0"`
	Last      float64   `json:"last" yaml:"last" validate:"gte=0"`
	Volume    float64   `json:"volume" yaml:"volume" validate:"gte=0"`
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`

	// Indicators carries precomputed per-tick indicator values keyed by
	// name (e.g. "macd_hist", "ema_fast"). Raw indicator math is supplied
	// upstream; the engine only consumes the values.
	Indicators map[string]float64 `json:"indicators" yaml:"indicators"`
}

// Spread returns the ask-bid spread as a fraction of the mid price.
func (t *Ticker) Spread() float64 {
	mid := (t.Ask + t.Bid) / 2
	if mid <= 0 {
		return 0
	}

	return (t.Ask - t.Bid) / mid
}

// BookLevel is one price level of an order book side.
type BookLevel struct {
	Price  float64 `json:"price" yaml:"price"`
	Amount float64 `json:"amount" yaml:"amount"`
}

// OrderBook is a depth snapshot for a symbol. Bids are sorted descending
// by price, asks ascending.
type OrderBook struct {
	Symbol    string      `json:"symbol" yaml:"symbol"`
	Bids      []BookLevel `json:"bids" yaml:"bids"`
	Asks      []BookLevel `json:"asks" yaml:"asks"`
	Timestamp time.Time   `json:"timestamp" yaml:"timestamp"`
}

// BidVolume sums the bid-side quantity over the top n levels.
func (b *OrderBook) BidVolume(n int) float64 {
	return levelVolume(b.Bids, n)
}

// AskVolume sums the ask-side quantity over the top n levels.
func (b *OrderBook) AskVolume(n int) float64 {
	return levelVolume(b.Asks, n)
}

// Imbalance returns (bidVol-askVol)/(bidVol+askVol) over the top n levels,
// in [-1, 1]. Positive values mean buy-side pressure.
func (b *OrderBook) Imbalance(n int) float64 {
	bid, ask := b.BidVolume(n), b.AskVolume(n)
	total := bid + ask

	if total <= 0 {
		return 0
	}

	return (bid - ask) / total
}

// BestBid returns the highest bid price, or 0 for an empty book.
func (b *OrderBook) BestBid() float64 {
	if len(b.Bids) == 0 {
		return 0
	}

	return b.Bids[0].Price
}

// BestAsk returns the lowest ask price, or 0 for an empty book.
func (b *OrderBook) BestAsk() float64 {
	if len(b.Asks) == 0 {
		return 0
	}

	return b.Asks[0].Price
}

func levelVolume(levels []BookLevel, n int) float64 {
	if n > len(levels) || n <= 0 {
		n = len(levels)
	}

	var total float64
	for _, l := range levels[:n] {
		total += l.Amount
	}

	return total
}

// Balance is the unified account balance shape returned by the gateway.
type Balance struct {
	// Free is the quote currency available for new orders
	Free float64 `json:"free" yaml:"free"`
	// Used is the quote currency locked in open orders
	Used float64 `json:"used" yaml:"used"`
	// Total is free + used
	Total float64 `json:"total" yaml:"total"`
}
