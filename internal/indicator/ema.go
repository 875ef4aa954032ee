// Package indicator provides streaming indicator calculations over live
// tick prices. Values warm up incrementally; consumers must check
// readiness before acting on them.
package indicator

import (
	"github.com/rxtech-lab/argo-spot/pkg/errors"
)

// EMA maintains a streaming exponential moving average. The first sample
// seeds the average; the value is not considered warm until a full period
// of samples has been observed.
type EMA struct {
	period int
	alpha  float64
	value  float64
	count  int
}

// NewEMA creates a streaming EMA with the given period.
func NewEMA(period int) (*EMA, error) {
	if period <= 0 {
		return nil, errors.Newf(errors.ErrCodeInvalidParameter,
			"ema period must be positive, got %d", period)
	}

	return &EMA{
		period: period,
		alpha:  2.0 / (float64(period) + 1),
		value:  0,
		count:  0,
	}, nil
}

// Update feeds one price into the average and returns the new value.
func (e *EMA) Update(price float64) float64 {
	if e.count == 0 {
		e.value = price
	} else {
		e.value = e.alpha*price + (1-e.alpha)*e.value
	}

	e.count++

	return e.value
}

// Value returns the current average and whether a full period has been
// observed.
func (e *EMA) Value() (float64, bool) {
	return e.value, e.count >= e.period
}

// Period returns the configured period.
func (e *EMA) Period() int {
	return e.period
}

// Reset discards all observed samples.
func (e *EMA) Reset() {
	e.value = 0
	e.count = 0
}
