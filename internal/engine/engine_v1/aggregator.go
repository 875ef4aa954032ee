package engine_v1

import (
	"fmt"
	"time"

	"github.com/rxtech-lab/argo-spot/internal/logger"
	"github.com/rxtech-lab/argo-spot/internal/types"
	"go.uber.org/zap"
)

const (
	// oppositeDirectionPenalty lowers confidence for each BUY/SELL conflict pair.
	oppositeDirectionPenalty = 0.2
	// confidenceGapPenalty lowers confidence for same-direction pairs whose
	// confidence differs by more than confidenceGapThreshold.
	confidenceGapPenalty   = 0.1
	confidenceGapThreshold = 0.4
)

// SignalSource is the capability interface every analysis source implements.
// Sources are stateless per tick; a failing source is skipped, never fatal.
type SignalSource interface {
	// Name identifies the source in reasoning trails and logs.
	Name() string

	// Weight is the source's fixed base weight in aggregation.
	Weight() float64

	// GetSignal produces the source's opinion for one tick.
	GetSignal(ticker types.Ticker, book types.OrderBook) (types.Signal, error)
}

// AggregatorConfig holds the decision thresholds.
type AggregatorConfig struct {
	// MinConfidence below which the decision is HOLD regardless of score
	MinConfidence float64
	// ScoreThreshold the absolute weighted score must cross to act
	ScoreThreshold float64
	// AgreementRatio of directional sources required before the agreement
	// discount applies
	AgreementRatio float64
}

// SignalAggregator combines all source signals for a tick into one
// weighted, conflict-resolved trading decision. Pure with respect to its
// inputs; it never touches deals, orders or the gateway.
type SignalAggregator struct {
	sources []SignalSource
	config  AggregatorConfig
	logger  *logger.Logger
}

// NewSignalAggregator creates an aggregator with no sources attached.
func NewSignalAggregator(config AggregatorConfig, log *logger.Logger) *SignalAggregator {
	return &SignalAggregator{
		sources: make([]SignalSource, 0),
		config:  config,
		logger:  log,
	}
}

// AddSource registers a signal source.
func (a *SignalAggregator) AddSource(source SignalSource) {
	a.sources = append(a.sources, source)
}

// Aggregate collects every source's signal and reduces them to a decision.
// Source errors are logged and the source skipped for this tick.
func (a *SignalAggregator) Aggregate(ticker types.Ticker, book types.OrderBook) types.TradingDecision {
	signals := make([]types.Signal, 0, len(a.sources))
	weights := make(map[string]float64, len(a.sources))

	for _, source := range a.sources {
		signal, err := source.GetSignal(ticker, book)
		if err != nil {
			a.logger.Warn("Signal source failed, skipping for this tick",
				zap.String("source", source.Name()),
				zap.Error(err))

			continue
		}

		signals = append(signals, signal)
		weights[signal.Source] = source.Weight()
	}

	aggregate := a.reduce(signals, weights, ticker.Timestamp)

	return a.decide(aggregate)
}

// reduce builds the intermediate aggregate: signed per-source scores,
// pairwise conflicts and the penalty-adjusted overall confidence.
func (a *SignalAggregator) reduce(signals []types.Signal, weights map[string]float64, at time.Time) types.AggregatedSignal {
	scores := make([]types.SourceScore, 0, len(signals))

	var (
		weightedScore   float64
		confidenceSum   float64
		confidenceCount int
		buyVotes        int
		sellVotes       int
	)

	for _, signal := range signals {
		if signal.Action == types.SignalActionReject {
			continue
		}

		confidenceSum += signal.Confidence
		confidenceCount++

		effective := 0.0
		if signal.Action.IsDirectional() {
			strengthFactor := signal.Strength * 2
			if strengthFactor > 1 {
				strengthFactor = 1
			}

			effective = weights[signal.Source] * signal.Confidence * strengthFactor

			if signal.Action == types.SignalActionSell {
				effective = -effective
			}
		}

		switch signal.Action {
		case types.SignalActionBuy:
			buyVotes++
		case types.SignalActionSell:
			sellVotes++
		}

		weightedScore += effective

		scores = append(scores, types.SourceScore{
			Source:     signal.Source,
			Action:     signal.Action,
			Confidence: signal.Confidence,
			Weight:     effective,
		})
	}

	conflicts := detectConflicts(signals)

	confidence := 0.0
	if confidenceCount > 0 {
		confidence = confidenceSum / float64(confidenceCount)
	}

	for _, conflict := range conflicts {
		confidence += conflict.Penalty
	}

	// Agreement discount: when the directional sources split badly, scale
	// confidence by the majority fraction.
	if votes := buyVotes + sellVotes; votes > 0 {
		majority := buyVotes
		if sellVotes > majority {
			majority = sellVotes
		}

		ratio := float64(majority) / float64(votes)
		if ratio < a.config.AgreementRatio {
			confidence *= ratio
		}
	}

	if confidence < 0 {
		confidence = 0
	}

	if confidence > 1 {
		confidence = 1
	}

	return types.AggregatedSignal{
		Signals:       signals,
		Scores:        scores,
		Conflicts:     conflicts,
		WeightedScore: weightedScore,
		Confidence:    confidence,
		Action:        types.SignalActionHold,
		Timestamp:     at,
	}
}

// decide applies the confidence and score thresholds and assembles the
// reasoning trail.
func (a *SignalAggregator) decide(aggregate types.AggregatedSignal) types.TradingDecision {
	action := types.SignalActionHold

	switch {
	case aggregate.Confidence < a.config.MinConfidence:
		action = types.SignalActionHold
	case aggregate.WeightedScore >= a.config.ScoreThreshold:
		action = types.SignalActionBuy
	case aggregate.WeightedScore <= -a.config.ScoreThreshold:
		action = types.SignalActionSell
	}

	reasoning := make([]string, 0, len(aggregate.Scores)+len(aggregate.Conflicts)+1)
	for _, score := range aggregate.Scores {
		reasoning = append(reasoning, fmt.Sprintf("%s: %s confidence=%.2f weight=%+.3f",
			score.Source, score.Action, score.Confidence, score.Weight))
	}

	for _, conflict := range aggregate.Conflicts {
		kind := "confidence gap"
		if conflict.Opposite {
			kind = "opposite direction"
		}

		reasoning = append(reasoning, fmt.Sprintf("conflict %s/%s (%s): penalty %.2f",
			conflict.SourceA, conflict.SourceB, kind, conflict.Penalty))
	}

	reasoning = append(reasoning, fmt.Sprintf("score=%.3f confidence=%.2f -> %s",
		aggregate.WeightedScore, aggregate.Confidence, action))

	return types.TradingDecision{
		Action:          action,
		Confidence:      aggregate.Confidence,
		RiskLevel:       types.RiskLevelLow,
		Reasoning:       reasoning,
		SignalBreakdown: aggregate.Scores,
		Timestamp:       aggregate.Timestamp,
	}
}

// detectConflicts walks every signal pair and records disagreements.
func detectConflicts(signals []types.Signal) []types.SignalConflict {
	conflicts := make([]types.SignalConflict, 0)

	for i := 0; i < len(signals); i++ {
		for j := i + 1; j < len(signals); j++ {
			first, second := signals[i], signals[j]

			if !first.Action.IsDirectional() || !second.Action.IsDirectional() {
				continue
			}

			if first.Action != second.Action {
				conflicts = append(conflicts, types.SignalConflict{
					SourceA:  first.Source,
					SourceB:  second.Source,
					Opposite: true,
					Penalty:  -oppositeDirectionPenalty,
				})

				continue
			}

			gap := first.Confidence - second.Confidence
			if gap < 0 {
				gap = -gap
			}

			if gap > confidenceGapThreshold {
				conflicts = append(conflicts, types.SignalConflict{
					SourceA:  first.Source,
					SourceB:  second.Source,
					Opposite: false,
					Penalty:  -confidenceGapPenalty,
				})
			}
		}
	}

	return conflicts
}
