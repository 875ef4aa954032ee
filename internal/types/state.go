package types

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"time"
)

// EngineStatus is the lifecycle state of the trading engine.
type EngineStatus string

const (
	// EngineStatusStarting means the engine is loading state and reconciling
	EngineStatusStarting EngineStatus = "STARTING"
	// EngineStatusRunning means ticks are being processed
	EngineStatusRunning EngineStatus = "RUNNING"
	// EngineStatusHalted means an emergency shutdown occurred; a manual
	// restart is required
	EngineStatusHalted EngineStatus = "HALTED"
	// EngineStatusStopped means the engine exited cleanly
	EngineStatusStopped EngineStatus = "STOPPED"
)

// TradingState is the serialized engine snapshot. It is created at startup
// from the persisted snapshot or fresh, saved periodically and on critical
// transitions, and replaced wholesale on each save.
type TradingState struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    EngineStatus `json:"status"`
	// EngineVersion records which engine release wrote the snapshot
	EngineVersion string `json:"engine_version"`
	// OpenDeals are all deals in a non-terminal state
	OpenDeals []Deal `json:"open_deals"`
	// PendingOrders are all orders still working on the exchange
	PendingOrders  []Order        `json:"pending_orders"`
	RiskParameters RiskParameters `json:"risk_parameters"`
	// LastProcessedTick records the last tick time handled per symbol
	LastProcessedTick map[string]time.Time `json:"last_processed_tick"`
	// Checksum is the SHA-256 of the snapshot body, excluded from its own
	// computation
	Checksum string `json:"checksum"`
}

// NewTradingState returns an empty snapshot with the given risk parameters.
func NewTradingState(params RiskParameters) *TradingState {
	return &TradingState{
		Timestamp:         time.Now().UTC(),
		Status:            EngineStatusStarting,
		OpenDeals:         make([]Deal, 0),
		PendingOrders:     make([]Order, 0),
		RiskParameters:    params,
		LastProcessedTick: make(map[string]time.Time),
		Checksum:          "",
	}
}

// ComputeChecksum returns the SHA-256 hex digest of the snapshot body.
func (s *TradingState) ComputeChecksum() (string, error) {
	body := *s
	body.Checksum = ""

	raw, err := json.Marshal(&body)
	if err != nil {
		return "", err
	}

	sum := sha256.Sum256(raw)

	return hex.EncodeToString(sum[:]), nil
}

// Seal computes and stores the checksum, returning the serialized snapshot.
func (s *TradingState) Seal() ([]byte, string, error) {
	checksum, err := s.ComputeChecksum()
	if err != nil {
		return nil, "", err
	}

	s.Checksum = checksum

	raw, err := json.Marshal(s)
	if err != nil {
		return nil, "", err
	}

	return raw, checksum, nil
}

// VerifyChecksum reports whether the stored checksum matches the body.
func (s *TradingState) VerifyChecksum() bool {
	computed, err := s.ComputeChecksum()
	if err != nil {
		return false
	}

	return computed == s.Checksum
}

// PortfolioSnapshot is the consistent read-only view exposed to callers.
type PortfolioSnapshot struct {
	Status EngineStatus `json:"status" yaml:"status"`
	// Balance is the last known exchange balance
	Balance Balance `json:"balance" yaml:"balance"`
	// OpenDeals are copies of all non-terminal deals
	OpenDeals []Deal `json:"open_deals" yaml:"open_deals"`
	// PendingOrders are copies of all working orders
	PendingOrders []Order `json:"pending_orders" yaml:"pending_orders"`
	// DailyPnL is realized plus unrealized profit for the current UTC day
	DailyPnL float64 `json:"daily_pnl" yaml:"daily_pnl"`
	// CompletedToday counts deals closed since UTC midnight
	CompletedToday int       `json:"completed_today" yaml:"completed_today"`
	Timestamp      time.Time `json:"timestamp" yaml:"timestamp"`
}
