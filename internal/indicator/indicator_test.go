package indicator

import (
	"testing"

	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/stretchr/testify/suite"
)

type IndicatorTestSuite struct {
	suite.Suite
}

func TestIndicatorTestSuite(t *testing.T) {
	suite.Run(t, new(IndicatorTestSuite))
}

func (s *IndicatorTestSuite) TestEMARejectsBadPeriod() {
	_, err := NewEMA(0)
	s.Require().Error(err)

	_, err = NewEMA(-5)
	s.Require().Error(err)
}

func (s *IndicatorTestSuite) TestEMAKnownValues() {
	ema, err := NewEMA(3) // alpha = 0.5
	s.Require().NoError(err)

	s.InDelta(10.0, ema.Update(10), 1e-9)
	s.InDelta(15.0, ema.Update(20), 1e-9)
	s.InDelta(22.5, ema.Update(30), 1e-9)

	value, ready := ema.Value()
	s.True(ready, "three samples warm a period-3 average")
	s.InDelta(22.5, value, 1e-9)
}

func (s *IndicatorTestSuite) TestEMAWarmup() {
	ema, err := NewEMA(5)
	s.Require().NoError(err)

	for i := 0; i < 4; i++ {
		ema.Update(100)

		_, ready := ema.Value()
		s.False(ready, "average must not be warm before a full period")
	}

	ema.Update(100)

	_, ready := ema.Value()
	s.True(ready)
}

func (s *IndicatorTestSuite) TestEMAReset() {
	ema, err := NewEMA(2)
	s.Require().NoError(err)

	ema.Update(50)
	ema.Update(60)
	ema.Reset()

	_, ready := ema.Value()
	s.False(ready)
	s.InDelta(70.0, ema.Update(70), 1e-9, "first sample after reset reseeds")
}

func (s *IndicatorTestSuite) TestMACDRejectsInvertedPeriods() {
	_, err := NewMACD(26, 12, 9)
	s.Require().Error(err)

	_, err = NewMACD(12, 12, 9)
	s.Require().Error(err)
}

func (s *IndicatorTestSuite) TestMACDRisingSeriesIsPositive() {
	macd, err := NewMACD(3, 6, 3)
	s.Require().NoError(err)

	price := 100.0
	for i := 0; i < 30; i++ {
		macd.Update(price)
		price *= 1.01
	}

	fast, slow, ready := macd.Lines()
	s.True(ready)
	s.Greater(fast, slow, "fast average leads on a rising series")

	hist, ok := macd.Histogram()
	s.True(ok)
	s.Greater(hist, 0.0)
}

func (s *IndicatorTestSuite) TestMACDFallingSeriesIsNegative() {
	macd, err := NewMACD(3, 6, 3)
	s.Require().NoError(err)

	// flat warmup settles both lines at zero
	for i := 0; i < 20; i++ {
		macd.Update(100)
	}

	// a fresh decline drags the macd line down faster than the lagging
	// signal line can follow
	price := 100.0
	for i := 0; i < 5; i++ {
		price -= 2
		macd.Update(price)
	}

	fast, slow, ready := macd.Lines()
	s.True(ready)
	s.Less(fast, slow)

	hist, ok := macd.Histogram()
	s.True(ok)
	s.Less(hist, 0.0)
}

func (s *IndicatorTestSuite) TestTrackerDecoratesTickerOnceWarm() {
	tracker := NewTracker()

	var last types.Ticker

	for i := 0; i < DefaultSlowPeriod+DefaultSignalPeriod; i++ {
		last = types.Ticker{Symbol: "BTCUSDT", Last: 50000 + float64(i)*10}
		tracker.Apply(&last)
	}

	s.Require().NotNil(last.Indicators)
	s.Contains(last.Indicators, KeyEMAFast)
	s.Contains(last.Indicators, KeyEMASlow)
	s.Contains(last.Indicators, KeyMACDHist)
	s.Greater(last.Indicators[KeyEMAFast], last.Indicators[KeyEMASlow],
		"rising prices lift the fast average first")
}

func (s *IndicatorTestSuite) TestTrackerLeavesColdTickerUndecorated() {
	tracker := NewTracker()

	ticker := types.Ticker{Symbol: "BTCUSDT", Last: 50000}
	tracker.Apply(&ticker)

	s.Nil(ticker.Indicators)
}

func (s *IndicatorTestSuite) TestTrackerIgnoresZeroPrice() {
	tracker := NewTracker()

	for i := 0; i < DefaultSlowPeriod*2; i++ {
		ticker := types.Ticker{Symbol: "BTCUSDT", Last: 50000}
		tracker.Apply(&ticker)
	}

	bad := types.Ticker{Symbol: "BTCUSDT", Last: 0}
	tracker.Apply(&bad)
	s.Nil(bad.Indicators, "a zero price must not be ingested or decorated")
}
