package indicator

import (
	"github.com/rxtech-lab/argo-spot/pkg/errors"
)

// MACD maintains the streaming moving average convergence divergence:
// fast and slow EMAs over the price, a signal EMA over their difference,
// and the histogram as difference minus signal.
type MACD struct {
	fast   *EMA
	slow   *EMA
	signal *EMA
}

// NewMACD creates a streaming MACD with the given periods.
func NewMACD(fastPeriod, slowPeriod, signalPeriod int) (*MACD, error) {
	if fastPeriod >= slowPeriod {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter,
			"macd fast period %d must be below slow period %d", fastPeriod, slowPeriod)
	}

	fast, err := NewEMA(fastPeriod)
	if err != nil {
		return nil, err
	}

	slow, err := NewEMA(slowPeriod)
	if err != nil {
		return nil, err
	}

	signal, err := NewEMA(signalPeriod)
	if err != nil {
		return nil, err
	}

	return &MACD{fast: fast, slow: slow, signal: signal}, nil
}

// Update feeds one price into all three averages.
func (m *MACD) Update(price float64) {
	fast := m.fast.Update(price)
	slow := m.slow.Update(price)
	m.signal.Update(fast - slow)
}

// Lines returns the fast and slow EMA values. Ready only once the slow
// average is warm.
func (m *MACD) Lines() (fast, slow float64, ready bool) {
	fast, _ = m.fast.Value()
	slow, ready = m.slow.Value()

	return fast, slow, ready
}

// Histogram returns macd minus signal line. Ready only once both the
// slow and signal averages are warm.
func (m *MACD) Histogram() (float64, bool) {
	fast, _ := m.fast.Value()

	slow, slowReady := m.slow.Value()

	signal, signalReady := m.signal.Value()

	return (fast - slow) - signal, slowReady && signalReady
}

// Reset discards all observed samples.
func (m *MACD) Reset() {
	m.fast.Reset()
	m.slow.Reset()
	m.signal.Reset()
}
