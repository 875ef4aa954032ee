package engine_v1

import (
	"testing"
	"time"

	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/stretchr/testify/suite"
)

type RiskManagerTestSuite struct {
	suite.Suite
	risk *RiskManager
}

func defaultRiskParams() types.RiskParameters {
	return types.RiskParameters{
		MaxPositionPercent:       10,
		StopLossWarningPercent:   5,
		StopLossCriticalPercent:  10,
		StopLossEmergencyPercent: 15,
		MaxDailyLossPercent:      10,
		MaxOpenPositions:         3,
		BalanceBufferPercent:     10,
		ForceCloseOnShutdown:     false,
	}
}

func (suite *RiskManagerTestSuite) SetupTest() {
	log, err := logger.NewLogger()
	suite.Require().NoError(err)

	suite.risk = NewRiskManager(defaultRiskParams(), 5, 0.3, log)
}

func openDeal(entryPrice, amount float64) types.Deal {
	return types.Deal{
		ID:         "deal-1",
		Symbol:     "BTCUSDT",
		Status:     types.DealStatusBuyFilled,
		EntryPrice: entryPrice,
		Amount:     amount,
		CreatedAt:  time.Now(),
	}
}

func (suite *RiskManagerTestSuite) TestApproveWithinLimits() {
	verdict := suite.risk.ValidateTrade(50, types.Balance{Free: 900, Used: 100, Total: 1000}, nil, 100)

	suite.True(verdict.Approved)
	suite.Equal(types.RiskLevelLow, verdict.Level)
}

func (suite *RiskManagerTestSuite) TestRejectInsufficientBalance() {
	verdict := suite.risk.ValidateTrade(950, types.Balance{Free: 1000, Used: 0, Total: 1000}, nil, 100)

	suite.False(verdict.Approved)
	suite.Equal(types.RiskLevelHigh, verdict.Level)
	suite.NotEmpty(verdict.Reason)
}

func (suite *RiskManagerTestSuite) TestRejectPositionTooLarge() {
	// 150 notional against a 1000 portfolio is 15%, cap is 10%
	verdict := suite.risk.ValidateTrade(150, types.Balance{Free: 1000, Used: 0, Total: 1000}, nil, 100)

	suite.False(verdict.Approved)
	suite.Equal(types.RiskLevelMedium, verdict.Level)
}

func (suite *RiskManagerTestSuite) TestRejectOpenPositionCap() {
	deals := []types.Deal{openDeal(100, 0.1), openDeal(100, 0.1), openDeal(100, 0.1)}

	verdict := suite.risk.ValidateTrade(50, types.Balance{Free: 10000, Used: 0, Total: 10000}, deals, 100)

	suite.False(verdict.Approved)
	suite.Equal(types.RiskLevelMedium, verdict.Level)
}

func (suite *RiskManagerTestSuite) TestRejectDailyLossCritical() {
	// realized -11% of a 1000 portfolio
	suite.risk.PnL().AddRealized(-110)

	verdict := suite.risk.ValidateTrade(50, types.Balance{Free: 1000, Used: 0, Total: 1000}, nil, 100)

	suite.False(verdict.Approved)
	suite.Equal(types.RiskLevelCritical, verdict.Level)
}

func (suite *RiskManagerTestSuite) TestUnrealizedLossCountsTowardDailyLimit() {
	// bought 1 unit at 100, price now 80: unrealized -20 on a small account
	deals := []types.Deal{openDeal(100, 1)}

	percent := suite.risk.DailyPnLPercent(types.Balance{Free: 100, Used: 0, Total: 100}, deals, 80)

	suite.Less(percent, -10.0)
}

func (suite *RiskManagerTestSuite) TestSweepNoneTierSkipped() {
	deals := []types.Deal{openDeal(100, 1)}

	evaluations := suite.risk.SweepOpenDeals(deals, 98, types.OrderBook{})
	suite.Empty(evaluations)
}

func (suite *RiskManagerTestSuite) TestSweepWarningOnlyLogs() {
	deals := []types.Deal{openDeal(100, 1)}

	evaluations := suite.risk.SweepOpenDeals(deals, 94, types.OrderBook{})
	suite.Require().Len(evaluations, 1)
	suite.Equal(types.StopLossTierWarning, evaluations[0].Tier)
	suite.False(evaluations[0].ForceClose)
}

func (suite *RiskManagerTestSuite) TestSweepCriticalHeldWithoutConfirmation() {
	deals := []types.Deal{openDeal(100, 1)}

	// healthy book: strong bid cluster above the last price is intact
	book := types.OrderBook{
		Bids: []types.BookLevel{{Price: 88.5, Amount: 50}, {Price: 88.4, Amount: 5}},
		Asks: []types.BookLevel{{Price: 89.5, Amount: 10}},
	}

	evaluations := suite.risk.SweepOpenDeals(deals, 89, book)
	suite.Require().Len(evaluations, 1)
	suite.Equal(types.StopLossTierCritical, evaluations[0].Tier)
	suite.False(evaluations[0].ForceClose)
}

func (suite *RiskManagerTestSuite) TestSweepCriticalClosesOnConfirmation() {
	deals := []types.Deal{openDeal(100, 1)}

	// support cluster above last price and heavy sell pressure
	book := types.OrderBook{
		Bids: []types.BookLevel{{Price: 89.5, Amount: 50}},
		Asks: []types.BookLevel{{Price: 89.6, Amount: 300}},
	}

	evaluations := suite.risk.SweepOpenDeals(deals, 89, book)
	suite.Require().Len(evaluations, 1)
	suite.Equal(types.StopLossTierCritical, evaluations[0].Tier)
	suite.True(evaluations[0].ForceClose)
}

func (suite *RiskManagerTestSuite) TestSweepEmergencyIgnoresOrderBook() {
	deals := []types.Deal{openDeal(100, 1)}

	// book looks supportive, losses are 16% anyway
	book := types.OrderBook{
		Bids: []types.BookLevel{{Price: 83.9, Amount: 500}},
		Asks: []types.BookLevel{{Price: 84.1, Amount: 1}},
	}

	evaluations := suite.risk.SweepOpenDeals(deals, 84, book)
	suite.Require().Len(evaluations, 1)
	suite.Equal(types.StopLossTierEmergency, evaluations[0].Tier)
	suite.True(evaluations[0].ForceClose)
}

func (suite *RiskManagerTestSuite) TestSweepSkipsUnfilledDeals() {
	deal := openDeal(0, 0)
	deal.Status = types.DealStatusBuyPlaced

	evaluations := suite.risk.SweepOpenDeals([]types.Deal{deal}, 50, types.OrderBook{})
	suite.Empty(evaluations)
}

func (suite *RiskManagerTestSuite) TestDailyTrackerRollsOver() {
	tracker := NewDailyPnLTracker()
	now := time.Date(2026, 3, 1, 23, 0, 0, 0, time.UTC)
	tracker.clock = func() time.Time { return now }
	tracker.day = utcMidnight(now)

	tracker.AddRealized(-50)
	suite.Equal(-50.0, tracker.Realized())
	suite.Equal(1, tracker.ClosedToday())

	now = now.Add(2 * time.Hour)

	suite.Zero(tracker.Realized())
	suite.Zero(tracker.ClosedToday())
}

func TestRiskManagerTestSuite(t *testing.T) {
	suite.Run(t, new(RiskManagerTestSuite))
}
