package types

// RiskParameters is the read-only risk configuration consumed by the risk
// manager.
type RiskParameters struct {
	// MaxPositionPercent caps one position's notional as a percent of
	// total portfolio value
	MaxPositionPercent float64 `json:"max_position_percent" yaml:"max_position_percent" validate:"gt=0,lte=100"`
	// StopLossWarningPercent is the loss percent that triggers a warning log
	StopLossWarningPercent float64 `json:"stop_loss_warning_percent" yaml:"stop_loss_warning_percent" validate:"gt=0"`
	// StopLossCriticalPercent is the loss percent that triggers an
	// order-book-aware close evaluation
	StopLossCriticalPercent float64 `json:"stop_loss_critical_percent" yaml:"stop_loss_critical_percent" validate:"gt=0"`
	// StopLossEmergencyPercent is the loss percent that always force-closes
	StopLossEmergencyPercent float64 `json:"stop_loss_emergency_percent" yaml:"stop_loss_emergency_percent" validate:"gt=0"`
	// MaxDailyLossPercent halts trading for the day once breached
	// (expressed as a positive percent of portfolio value)
	MaxDailyLossPercent float64 `json:"max_daily_loss_percent" yaml:"max_daily_loss_percent" validate:"gt=0"`
	// MaxOpenPositions caps the number of concurrently open deals
	MaxOpenPositions int `json:"max_open_positions" yaml:"max_open_positions" validate:"gt=0"`
	// BalanceBufferPercent is the free-balance safety margin kept untouched
	BalanceBufferPercent float64 `json:"balance_buffer_percent" yaml:"balance_buffer_percent" validate:"gte=0,lt=100"`
	// ForceCloseOnShutdown controls whether emergency shutdown market-closes
	// open deals in addition to cancelling pending orders
	ForceCloseOnShutdown bool `json:"force_close_on_shutdown" yaml:"force_close_on_shutdown"`
}

// StopLossTier classifies how deep a position's loss is.
type StopLossTier string

const (
	// StopLossTierNone means the loss is inside the warning threshold
	StopLossTierNone StopLossTier = "NONE"
	// StopLossTierWarning only logs
	StopLossTierWarning StopLossTier = "WARNING"
	// StopLossTierCritical requires order-book confirmation before closing
	StopLossTierCritical StopLossTier = "CRITICAL"
	// StopLossTierEmergency always force-closes
	StopLossTierEmergency StopLossTier = "EMERGENCY"
)

// ClassifyLoss maps a loss percent onto a stop-loss tier.
func (p *RiskParameters) ClassifyLoss(lossPercent float64) StopLossTier {
	switch {
	case lossPercent >= p.StopLossEmergencyPercent:
		return StopLossTierEmergency
	case lossPercent >= p.StopLossCriticalPercent:
		return StopLossTierCritical
	case lossPercent >= p.StopLossWarningPercent:
		return StopLossTierWarning
	default:
		return StopLossTierNone
	}
}

// RiskVerdict is the structured result of pre-trade validation. Rejections
// are returned as values, never as errors.
type RiskVerdict struct {
	Approved bool      `json:"approved" yaml:"approved"`
	Level    RiskLevel `json:"level" yaml:"level"`
	// Reason is the human-readable rejection reason; empty when approved
	Reason string `json:"reason" yaml:"reason"`
}

// Approve builds an approving verdict at the given level.
func Approve(level RiskLevel) RiskVerdict {
	return RiskVerdict{Approved: true, Level: level, Reason: ""}
}

// Reject builds a rejecting verdict with a reason.
func Reject(level RiskLevel, reason string) RiskVerdict {
	return RiskVerdict{Approved: false, Level: level, Reason: reason}
}
