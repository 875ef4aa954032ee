package mocks

import (
	"math"
	"math/rand"
	"time"

	"github.com/rxtech-lab/argo-spot/internal/types"
)

// DataGenerator generates realistic ticker and order book series for
// testing and benchmarking.
type DataGenerator struct {
	rng *rand.Rand
}

// NewDataGenerator creates a new DataGenerator with the given seed.
// Use a fixed seed for reproducible results in tests.
func NewDataGenerator(seed int64) *DataGenerator {
	return &DataGenerator{
		rng: rand.New(rand.NewSource(seed)),
	}
}

// GeneratorConfig configures how market data is generated.
type GeneratorConfig struct {
	// Symbol is the trading symbol (e.g., "BTCUSDT")
	Symbol string
	// StartTime is the beginning of the series
	StartTime time.Time
	// Interval is the duration between ticks
	Interval time.Duration
	// Count is the number of ticks to generate
	Count int
	// InitialPrice is the starting price
	InitialPrice float64
	// Volatility controls price movement per tick (0.002 = 0.2%)
	Volatility float64
	// Trend is the total drift across the series (-0.1 to 0.1 for
	// bearish to bullish)
	Trend float64
	// SpreadPercent is the bid/ask spread relative to the last price
	SpreadPercent float64
	// VolumeBase is the average volume per tick
	VolumeBase float64
	// VolumeVariance is the variance in volume (0.0 to 1.0)
	VolumeVariance float64
	// EMAFastPeriod and EMASlowPeriod drive the indicator values the
	// signal sources read from the ticker
	EMAFastPeriod int
	EMASlowPeriod int
	// DepthLevels is the number of book levels per side
	DepthLevels int
	// DepthSkew shifts book volume toward bids (+) or asks (-), in [-1, 1]
	DepthSkew float64
}

// DefaultConfig returns a sensible default configuration.
func DefaultConfig() GeneratorConfig {
	return GeneratorConfig{
		Symbol:         "BTCUSDT",
		StartTime:      time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		Interval:       5 * time.Second,
		Count:          1000,
		InitialPrice:   50000.0,
		Volatility:     0.002,
		Trend:          0.0,
		SpreadPercent:  0.001,
		VolumeBase:     100,
		VolumeVariance: 0.3,
		EMAFastPeriod:  12,
		EMASlowPeriod:  26,
		DepthLevels:    20,
		DepthSkew:      0.0,
	}
}

// GenerateTickers creates a ticker series following a geometric Brownian
// motion walk. Each ticker carries the EMA and MACD histogram indicator
// values computed over the walk so far, keyed the way the signal sources
// read them.
func (g *DataGenerator) GenerateTickers(config GeneratorConfig) []types.Ticker {
	tickers := make([]types.Ticker, config.Count)
	currentPrice := config.InitialPrice
	currentTime := config.StartTime

	emaFast := config.InitialPrice
	emaSlow := config.InitialPrice
	alphaFast := 2.0 / (float64(config.EMAFastPeriod) + 1)
	alphaSlow := 2.0 / (float64(config.EMASlowPeriod) + 1)

	for i := 0; i < config.Count; i++ {
		// Box-Muller transform for a normally distributed step
		u1 := g.rng.Float64()
		u2 := g.rng.Float64()
		z := math.Sqrt(-2*math.Log(u1)) * math.Cos(2*math.Pi*u2)

		drift := config.Trend / float64(config.Count)

		next := currentPrice * (1 + config.Volatility*z + drift)
		if next <= 0 {
			next = currentPrice * 0.99
		}

		currentPrice = next

		emaFast = alphaFast*currentPrice + (1-alphaFast)*emaFast
		emaSlow = alphaSlow*currentPrice + (1-alphaSlow)*emaSlow

		volumeVariation := 1.0 + (g.rng.Float64()*2-1)*config.VolumeVariance

		volume := config.VolumeBase * volumeVariation
		if volume < 0 {
			volume = config.VolumeBase * 0.1
		}

		halfSpread := currentPrice * config.SpreadPercent / 2

		tickers[i] = types.Ticker{
			Symbol:    config.Symbol,
			Bid:       roundToDecimals(currentPrice-halfSpread, 8),
			Ask:       roundToDecimals(currentPrice+halfSpread, 8),
			Last:      roundToDecimals(currentPrice, 8),
			Volume:    roundToDecimals(volume, 2),
			Timestamp: currentTime,
			Indicators: map[string]float64{
				"ema_fast":  roundToDecimals(emaFast, 8),
				"ema_slow":  roundToDecimals(emaSlow, 8),
				"macd_hist": roundToDecimals(emaFast-emaSlow, 8),
			},
		}

		currentTime = currentTime.Add(config.Interval)
	}

	return tickers
}

// GenerateOrderBook creates a depth snapshot around the given mid price.
// Positive skew piles volume on the bid side.
func (g *DataGenerator) GenerateOrderBook(symbol string, mid float64, levels int, skew float64) types.OrderBook {
	bids := make([]types.BookLevel, 0, levels)
	asks := make([]types.BookLevel, 0, levels)

	for i := 0; i < levels; i++ {
		step := float64(i+1) * 0.0005
		noise := 0.8 + g.rng.Float64()*0.4

		bids = append(bids, types.BookLevel{
			Price:  roundToDecimals(mid*(1-step), 8),
			Amount: roundToDecimals(5.0*(1+skew)*noise, 4),
		})
		asks = append(asks, types.BookLevel{
			Price:  roundToDecimals(mid*(1+step), 8),
			Amount: roundToDecimals(5.0*(1-skew)*noise, 4),
		})
	}

	return types.OrderBook{
		Symbol:    symbol,
		Bids:      bids,
		Asks:      asks,
		Timestamp: time.Now().UTC(),
	}
}

// GenerateSeries creates paired tickers and order books for feeding a
// full tick pipeline.
func (g *DataGenerator) GenerateSeries(config GeneratorConfig) ([]types.Ticker, []types.OrderBook) {
	tickers := g.GenerateTickers(config)
	books := make([]types.OrderBook, len(tickers))

	for i, ticker := range tickers {
		books[i] = g.GenerateOrderBook(config.Symbol, ticker.Last, config.DepthLevels, config.DepthSkew)
	}

	return tickers, books
}

// GenerateBullish is a convenience function for an upward-trending series
// with bid-heavy books, useful for driving buy decisions in tests.
func GenerateBullish(symbol string, count int) ([]types.Ticker, []types.OrderBook) {
	gen := NewDataGenerator(42)
	config := DefaultConfig()
	config.Symbol = symbol
	config.Count = count
	config.Trend = 0.05
	config.DepthSkew = 0.6

	return gen.GenerateSeries(config)
}

// roundToDecimals rounds a float64 to the specified number of decimal places.
func roundToDecimals(val float64, decimals int) float64 {
	pow := math.Pow(10, float64(decimals))

	return math.Round(val*pow) / pow
}
