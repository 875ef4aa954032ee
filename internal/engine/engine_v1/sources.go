package engine_v1

import (
	"strconv"

	"github.com/rxtech-lab/argo-spot/internal/indicator"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/pkg/errors"
)

// Indicator keys the trend source reads from the ticker. The engine's
// tracker writes them during tick processing.
const (
	IndicatorEMAFast  = indicator.KeyEMAFast
	IndicatorEMASlow  = indicator.KeyEMASlow
	IndicatorMACDHist = indicator.KeyMACDHist
)

// Base weights of the built-in sources. A tenth is held back for a future
// volatility source.
const (
	trendBaseWeight     = 0.4
	imbalanceBaseWeight = 0.3
	conditionBaseWeight = 0.2
)

// TrendSource reads MACD-style momentum from precomputed indicator values
// carried on the ticker.
type TrendSource struct{}

func NewTrendSource() *TrendSource { return &TrendSource{} }

func (s *TrendSource) Name() string { return "trend" }

func (s *TrendSource) Weight() float64 { return trendBaseWeight }

func (s *TrendSource) GetSignal(ticker types.Ticker, _ types.OrderBook) (types.Signal, error) {
	fast, okFast := ticker.Indicators[IndicatorEMAFast]
	slow, okSlow := ticker.Indicators[IndicatorEMASlow]

	if !okFast || !okSlow || slow <= 0 {
		return types.Signal{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"trend indicators missing for %s", ticker.Symbol)
	}

	// Relative EMA separation is the strength; MACD histogram direction,
	// when present, must agree or the source abstains.
	separation := (fast - slow) / slow

	action := types.SignalActionHold

	switch {
	case separation > 0:
		action = types.SignalActionBuy
	case separation < 0:
		action = types.SignalActionSell
	}

	if hist, ok := ticker.Indicators[IndicatorMACDHist]; ok {
		if (action == types.SignalActionBuy && hist < 0) ||
			(action == types.SignalActionSell && hist > 0) {
			action = types.SignalActionHold
		}
	}

	strength := separation
	if strength < 0 {
		strength = -strength
	}

	confidence := strength * 100
	if confidence > 1 {
		confidence = 1
	}

	reasons := []string{
		"ema separation " + formatFloat(separation),
	}

	return types.Signal{
		Source:     s.Name(),
		Action:     action,
		Confidence: confidence,
		Strength:   strength,
		Reasons:    reasons,
		Timestamp:  ticker.Timestamp,
	}, nil
}

// ImbalanceSource reads buy/sell pressure from the order book depth.
type ImbalanceSource struct {
	// Depth is the number of levels per side considered
	Depth int
	// Threshold is the absolute imbalance below which the source holds
	Threshold float64
}

func NewImbalanceSource(depth int, threshold float64) *ImbalanceSource {
	return &ImbalanceSource{Depth: depth, Threshold: threshold}
}

func (s *ImbalanceSource) Name() string { return "orderbook_imbalance" }

func (s *ImbalanceSource) Weight() float64 { return imbalanceBaseWeight }

func (s *ImbalanceSource) GetSignal(ticker types.Ticker, book types.OrderBook) (types.Signal, error) {
	if len(book.Bids) == 0 && len(book.Asks) == 0 {
		return types.Signal{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"empty order book for %s", ticker.Symbol)
	}

	imbalance := book.Imbalance(s.Depth)

	action := types.SignalActionHold

	switch {
	case imbalance >= s.Threshold:
		action = types.SignalActionBuy
	case imbalance <= -s.Threshold:
		action = types.SignalActionSell
	}

	magnitude := imbalance
	if magnitude < 0 {
		magnitude = -magnitude
	}

	return types.Signal{
		Source:     s.Name(),
		Action:     action,
		Confidence: magnitude,
		Strength:   magnitude,
		Reasons:    []string{"book imbalance " + formatFloat(imbalance)},
		Timestamp:  ticker.Timestamp,
	}, nil
}

// ConditionSource classifies the market regime from spread and volume. A
// wide spread or dead volume vetoes entries by voting SELL-side pressure
// toward HOLD decisions.
type ConditionSource struct {
	// MaxSpread is the spread fraction above which the market is unhealthy
	MaxSpread float64
	// MinVolume is the 24h volume floor for tradability
	MinVolume float64
}

func NewConditionSource(maxSpread, minVolume float64) *ConditionSource {
	return &ConditionSource{MaxSpread: maxSpread, MinVolume: minVolume}
}

func (s *ConditionSource) Name() string { return "market_condition" }

func (s *ConditionSource) Weight() float64 { return conditionBaseWeight }

func (s *ConditionSource) GetSignal(ticker types.Ticker, _ types.OrderBook) (types.Signal, error) {
	if ticker.Bid <= 0 || ticker.Ask <= 0 {
		return types.Signal{}, errors.Newf(errors.ErrCodeInvalidParameter,
			"no quotes for %s", ticker.Symbol)
	}

	spread := ticker.Spread()

	if spread > s.MaxSpread {
		return types.Signal{
			Source:     s.Name(),
			Action:     types.SignalActionSell,
			Confidence: 0.8,
			Strength:   spread / s.MaxSpread,
			Reasons:    []string{"spread too wide " + formatFloat(spread)},
			Timestamp:  ticker.Timestamp,
		}, nil
	}

	if ticker.Volume < s.MinVolume {
		return types.Signal{
			Source:     s.Name(),
			Action:     types.SignalActionHold,
			Confidence: 0.3,
			Strength:   0,
			Reasons:    []string{"volume below floor"},
			Timestamp:  ticker.Timestamp,
		}, nil
	}

	// Healthy market: a mild BUY-side vote proportional to how tight the
	// spread is.
	confidence := 1 - spread/s.MaxSpread
	if confidence < 0 {
		confidence = 0
	}

	return types.Signal{
		Source:     s.Name(),
		Action:     types.SignalActionBuy,
		Confidence: confidence * 0.6,
		Strength:   confidence * 0.5,
		Reasons:    []string{"market healthy, spread " + formatFloat(spread)},
		Timestamp:  ticker.Timestamp,
	}, nil
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 4, 64)
}
