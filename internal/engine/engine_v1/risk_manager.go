package engine_v1

import (
	"fmt"
	"sync"
	"time"

	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"github.com/rxtech-lab/argo-spot/internal/utils"
	"go.uber.org/zap"
)

// DailyPnLTracker accumulates realized profit per UTC day. Unrealized
// P&L is computed on demand by the risk manager from open deals.
type DailyPnLTracker struct {
	mu       sync.Mutex
	day      time.Time
	realized float64
	closed   int
	clock    func() time.Time
}

// NewDailyPnLTracker starts a tracker for the current UTC day.
func NewDailyPnLTracker() *DailyPnLTracker {
	tracker := &DailyPnLTracker{clock: time.Now}
	tracker.day = utcMidnight(tracker.clock())

	return tracker
}

// AddRealized records the profit of a deal closed now.
func (t *DailyPnLTracker) AddRealized(profit float64) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()
	t.realized += profit
	t.closed++
}

// Realized returns the realized profit for the current UTC day.
func (t *DailyPnLTracker) Realized() float64 {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()

	return t.realized
}

// ClosedToday returns how many deals completed since UTC midnight.
func (t *DailyPnLTracker) ClosedToday() int {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.rollLocked()

	return t.closed
}

// rollLocked resets the accumulator when the UTC day changes.
func (t *DailyPnLTracker) rollLocked() {
	today := utcMidnight(t.clock())
	if today.After(t.day) {
		t.day = today
		t.realized = 0
		t.closed = 0
	}
}

func utcMidnight(now time.Time) time.Time {
	return now.UTC().Truncate(24 * time.Hour)
}

// StopLossEvaluation is the sweep outcome for one open deal.
type StopLossEvaluation struct {
	DealID      string
	Tier        types.StopLossTier
	LossPercent float64
	// ForceClose tells the orchestrator to cancel the pending sell and
	// market-close the position
	ForceClose bool
	Reason     string
}

// RiskManager validates proposed trades and supervises open positions.
// It only reads deal state; forced closes are executed by the orchestrator.
type RiskManager struct {
	params types.RiskParameters
	logger *logger.Logger
	pnl    *DailyPnLTracker
	// imbalanceThreshold is the sell-side book pressure required to act on
	// a CRITICAL tier
	imbalanceThreshold float64
	bookDepth          int
}

// NewRiskManager creates a risk manager over the given parameters.
func NewRiskManager(params types.RiskParameters, bookDepth int, imbalanceThreshold float64, log *logger.Logger) *RiskManager {
	return &RiskManager{
		params:             params,
		logger:             log,
		pnl:                NewDailyPnLTracker(),
		imbalanceThreshold: imbalanceThreshold,
		bookDepth:          bookDepth,
	}
}

// Parameters returns the read-only risk configuration.
func (r *RiskManager) Parameters() types.RiskParameters {
	return r.params
}

// PnL exposes the daily tracker so the orchestrator can record completions.
func (r *RiskManager) PnL() *DailyPnLTracker {
	return r.pnl
}

// ValidateTrade runs the ordered pre-trade checks. The first failing check
// short-circuits; rejections are values, never errors. A CRITICAL verdict
// means the daily loss limit is breached and the caller must trigger
// emergency shutdown.
func (r *RiskManager) ValidateTrade(notional float64, balance types.Balance, openDeals []types.Deal, lastPrice float64) types.RiskVerdict {
	if notional <= 0 {
		return types.Reject(types.RiskLevelLow, "order notional must be positive")
	}

	// 1. free balance with safety buffer
	usable := balance.Free * (1 - r.params.BalanceBufferPercent/100)
	if notional > usable {
		return types.Reject(types.RiskLevelHigh, fmt.Sprintf(
			"notional %.2f exceeds usable balance %.2f (buffer %.1f%%)",
			notional, usable, r.params.BalanceBufferPercent))
	}

	// 2. position size versus portfolio value
	portfolio := r.portfolioValue(balance, openDeals, lastPrice)
	if portfolio > 0 {
		positionPercent := notional / portfolio * 100
		if positionPercent > r.params.MaxPositionPercent {
			return types.Reject(types.RiskLevelMedium, fmt.Sprintf(
				"position %.1f%% of portfolio exceeds cap %.1f%%",
				positionPercent, r.params.MaxPositionPercent))
		}
	}

	// 3. open position count
	if len(openDeals) >= r.params.MaxOpenPositions {
		return types.Reject(types.RiskLevelMedium, fmt.Sprintf(
			"%d open deals at cap %d", len(openDeals), r.params.MaxOpenPositions))
	}

	// 4. daily loss limit over realized plus unrealized
	dailyPercent := r.DailyPnLPercent(balance, openDeals, lastPrice)
	if dailyPercent <= -r.params.MaxDailyLossPercent {
		return types.Reject(types.RiskLevelCritical, fmt.Sprintf(
			"daily P&L %.1f%% breached limit -%.1f%%",
			dailyPercent, r.params.MaxDailyLossPercent))
	}

	return types.Approve(types.RiskLevelLow)
}

// DailyPnLPercent returns realized plus unrealized daily P&L as a percent
// of portfolio value.
func (r *RiskManager) DailyPnLPercent(balance types.Balance, openDeals []types.Deal, lastPrice float64) float64 {
	portfolio := r.portfolioValue(balance, openDeals, lastPrice)
	if portfolio <= 0 {
		return 0
	}

	return r.DailyPnL(openDeals, lastPrice) / portfolio * 100
}

// DailyPnL returns realized plus unrealized profit for the current UTC day.
func (r *RiskManager) DailyPnL(openDeals []types.Deal, lastPrice float64) float64 {
	total := r.pnl.Realized()

	for _, deal := range openDeals {
		if deal.EntryPrice <= 0 || deal.Amount <= 0 {
			continue
		}

		total += utils.RealizedProfit(deal.EntryPrice, lastPrice, deal.Amount, 0)
	}

	return total
}

// SweepOpenDeals classifies every open position against the stop loss
// tiers. WARNING logs, CRITICAL closes only on order book confirmation,
// EMERGENCY always closes.
func (r *RiskManager) SweepOpenDeals(openDeals []types.Deal, lastPrice float64, book types.OrderBook) []StopLossEvaluation {
	evaluations := make([]StopLossEvaluation, 0, len(openDeals))

	for _, deal := range openDeals {
		if deal.EntryPrice <= 0 {
			// buy not filled yet, nothing at risk
			continue
		}

		loss := deal.LossPercent(lastPrice)
		tier := r.params.ClassifyLoss(loss)

		if tier == types.StopLossTierNone {
			continue
		}

		evaluation := StopLossEvaluation{
			DealID:      deal.ID,
			Tier:        tier,
			LossPercent: loss,
			ForceClose:  false,
			Reason:      fmt.Sprintf("loss %.1f%% from entry %.4f", loss, deal.EntryPrice),
		}

		switch tier {
		case types.StopLossTierWarning:
			r.logger.Warn("Stop loss warning",
				zap.String("deal_id", deal.ID),
				zap.Float64("loss_percent", loss))

		case types.StopLossTierCritical:
			if r.confirmCriticalClose(lastPrice, book) {
				evaluation.ForceClose = true
				evaluation.Reason += ", support broken with sell pressure"
			} else {
				evaluation.Reason += ", holding pending order book confirmation"

				r.logger.Warn("Critical stop loss held",
					zap.String("deal_id", deal.ID),
					zap.Float64("loss_percent", loss))
			}

		case types.StopLossTierEmergency:
			evaluation.ForceClose = true
			evaluation.Reason += ", emergency tier"

			r.logger.Error("Emergency stop loss",
				zap.String("deal_id", deal.ID),
				zap.Float64("loss_percent", loss))
		}

		evaluations = append(evaluations, evaluation)
	}

	return evaluations
}

// confirmCriticalClose requires the price to have broken below the book's
// strongest bid cluster and sell-side pressure beyond the threshold.
func (r *RiskManager) confirmCriticalClose(lastPrice float64, book types.OrderBook) bool {
	support := r.supportLevel(book)
	if support <= 0 {
		// no book data, err on the side of closing
		return true
	}

	supportBroken := lastPrice < support
	sellPressure := book.Imbalance(r.bookDepth) <= -r.imbalanceThreshold

	return supportBroken && sellPressure
}

// supportLevel is the price of the largest bid cluster in the top levels.
func (r *RiskManager) supportLevel(book types.OrderBook) float64 {
	depth := r.bookDepth
	if depth > len(book.Bids) || depth <= 0 {
		depth = len(book.Bids)
	}

	var (
		bestPrice  float64
		bestAmount float64
	)

	for _, level := range book.Bids[:depth] {
		if level.Amount > bestAmount {
			bestAmount = level.Amount
			bestPrice = level.Price
		}
	}

	return bestPrice
}

// portfolioValue is the quote balance plus open positions marked to the
// last price.
func (r *RiskManager) portfolioValue(balance types.Balance, openDeals []types.Deal, lastPrice float64) float64 {
	value := balance.Total

	for _, deal := range openDeals {
		if deal.Amount > 0 && deal.Status != types.DealStatusCreated {
			value += utils.Notional(lastPrice, deal.Amount)
		}
	}

	return value
}
