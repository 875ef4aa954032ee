package indicator

import (
	"github.com/rxtech-lab/argo-spot/internal/types"
)

// Indicator keys the tracker writes onto the ticker.
const (
	KeyEMAFast  = "ema_fast"
	KeyEMASlow  = "ema_slow"
	KeyMACDHist = "macd_hist"
)

// Default MACD periods.
const (
	DefaultFastPeriod   = 12
	DefaultSlowPeriod   = 26
	DefaultSignalPeriod = 9
)

// Tracker ingests live tick prices and decorates tickers with the
// indicator values the signal pipeline reads. Not safe for concurrent
// use; callers serialize access.
type Tracker struct {
	macd *MACD
}

// NewTracker creates a tracker with the default MACD periods.
func NewTracker() *Tracker {
	tracker, err := NewTrackerWithPeriods(DefaultFastPeriod, DefaultSlowPeriod, DefaultSignalPeriod)
	if err != nil {
		// defaults are statically valid
		panic(err)
	}

	return tracker
}

// NewTrackerWithPeriods creates a tracker with explicit MACD periods.
func NewTrackerWithPeriods(fastPeriod, slowPeriod, signalPeriod int) (*Tracker, error) {
	macd, err := NewMACD(fastPeriod, slowPeriod, signalPeriod)
	if err != nil {
		return nil, err
	}

	return &Tracker{macd: macd}, nil
}

// Apply feeds the ticker's last price into the tracker and writes the
// warm indicator values onto the ticker. Until the averages warm up the
// ticker is left undecorated, so downstream sources abstain.
func (t *Tracker) Apply(ticker *types.Ticker) {
	if ticker.Last <= 0 {
		return
	}

	t.macd.Update(ticker.Last)

	fast, slow, ready := t.macd.Lines()
	if !ready {
		return
	}

	if ticker.Indicators == nil {
		ticker.Indicators = make(map[string]float64)
	}

	ticker.Indicators[KeyEMAFast] = fast
	ticker.Indicators[KeyEMASlow] = slow

	if hist, ok := t.macd.Histogram(); ok {
		ticker.Indicators[KeyMACDHist] = hist
	}
}

// Reset discards all observed samples, used after reconnect gaps where
// stale averages would mislead the trend source.
func (t *Tracker) Reset() {
	t.macd.Reset()
}
