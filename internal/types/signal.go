package types

import "time"

// SignalAction is the directional opinion carried by a signal.
type SignalAction string

const (
	// SignalActionBuy tells the engine to open a position
	SignalActionBuy SignalAction = "BUY"
	// SignalActionSell tells the engine to close or avoid a position
	SignalActionSell SignalAction = "SELL"
	// SignalActionHold tells the engine to take no action
	SignalActionHold SignalAction = "HOLD"
	// SignalActionReject tells the engine the source could not produce an opinion
	SignalActionReject SignalAction = "REJECT"
)

// IsDirectional reports whether the action expresses a trade direction.
func (a SignalAction) IsDirectional() bool {
	return a == SignalActionBuy || a == SignalActionSell
}

// Signal is a directional, confidence-scored opinion from one analysis
// source for one tick. Signals are produced fresh each tick and never
// mutated after creation.
type Signal struct {
	// Source is the name of the analysis source that produced the signal
	Source string `json:"source" yaml:"source" validate:"required"`
	// Action is the direction the source recommends
	Action SignalAction `json:"action" yaml:"action" validate:"required,oneof=BUY SELL HOLD REJECT"`
	// Confidence is the source's confidence in the action, in [0, 1]
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
	// Strength is the magnitude of the underlying reading (>= 0)
	Strength float64 `json:"strength" yaml:"strength" validate:"gte=0"`
	// Reasons is the human-readable audit trail for the opinion
	Reasons []string `json:"reasons" yaml:"reasons"`
	// Timestamp is the tick time the signal was produced for
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// SignalConflict describes a pairwise disagreement detected between two sources.
type SignalConflict struct {
	SourceA string `json:"source_a" yaml:"source_a"`
	SourceB string `json:"source_b" yaml:"source_b"`
	// Opposite is true for opposite-direction conflicts, false for
	// same-direction confidence-gap conflicts
	Opposite bool `json:"opposite" yaml:"opposite"`
	// Penalty is the confidence penalty this conflict applied (negative)
	Penalty float64 `json:"penalty" yaml:"penalty"`
}

// SourceScore is one source's contribution to the aggregate.
type SourceScore struct {
	Source     string       `json:"source" yaml:"source"`
	Action     SignalAction `json:"action" yaml:"action"`
	Confidence float64      `json:"confidence" yaml:"confidence"`
	// Weight is the effective signed weight the source contributed
	Weight float64 `json:"weight" yaml:"weight"`
}

// AggregatedSignal is the weighted, conflict-resolved combination of all
// source signals for one tick. It is a derived value owned transiently by
// the aggregator.
type AggregatedSignal struct {
	// Signals are the raw per-source signals that entered aggregation
	Signals []Signal `json:"signals" yaml:"signals"`
	// Scores are the per-source signed weighted contributions
	Scores []SourceScore `json:"scores" yaml:"scores"`
	// Conflicts lists the pairwise disagreements detected
	Conflicts []SignalConflict `json:"conflicts" yaml:"conflicts"`
	// WeightedScore is the summed signed score across sources
	WeightedScore float64 `json:"weighted_score" yaml:"weighted_score"`
	// Confidence is the overall confidence after penalties and discounts
	Confidence float64 `json:"confidence" yaml:"confidence"`
	// Action is the recommended action
	Action SignalAction `json:"action" yaml:"action"`
	// Timestamp is the tick time the aggregate was built for
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}

// RiskLevel classifies the severity of a risk verdict.
type RiskLevel string

const (
	RiskLevelLow      RiskLevel = "LOW"
	RiskLevelMedium   RiskLevel = "MEDIUM"
	RiskLevelHigh     RiskLevel = "HIGH"
	RiskLevelCritical RiskLevel = "CRITICAL"
)

// TradingDecision is the output of aggregation and the input to risk
// validation. Immutable once created.
type TradingDecision struct {
	// Action is the recommended trade action
	Action SignalAction `json:"action" yaml:"action" validate:"required,oneof=BUY SELL HOLD REJECT"`
	// Confidence is the overall confidence behind the action, in [0, 1]
	Confidence float64 `json:"confidence" yaml:"confidence" validate:"gte=0,lte=1"`
	// RiskLevel is the risk classification attached by the risk manager
	RiskLevel RiskLevel `json:"risk_level" yaml:"risk_level"`
	// Reasoning is the audit trail: which sources said what, with what weight
	Reasoning []string `json:"reasoning" yaml:"reasoning"`
	// SignalBreakdown preserves the per-source contributions
	SignalBreakdown []SourceScore `json:"signal_breakdown" yaml:"signal_breakdown"`
	// Timestamp is the tick time the decision was made for
	Timestamp time.Time `json:"timestamp" yaml:"timestamp"`
}
