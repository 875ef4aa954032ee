package errors

// ErrorCode represents a unique error code for identifying different error types.
type ErrorCode int

const (
	// General errors (1-99)
	ErrCodeUnknown ErrorCode = 1

	// Validation errors (100-199)
	ErrCodeInvalidParameter     ErrorCode = 100
	ErrCodeInvalidConfiguration ErrorCode = 101
	ErrCodeInvalidOrder         ErrorCode = 102
	ErrCodeInvalidDecision      ErrorCode = 103
	ErrCodeInvalidTransition    ErrorCode = 104

	// Data/Resource errors (200-299)
	ErrCodeOrderNotFound ErrorCode = 200
	ErrCodeDealNotFound  ErrorCode = 201
	ErrCodeQueryFailed   ErrorCode = 202
	ErrCodeStoreClosed   ErrorCode = 203

	// Network errors (300-399, retryable)
	ErrCodeNetworkTimeout   ErrorCode = 300
	ErrCodeConnectionFailed ErrorCode = 301

	// Exchange errors (400-499)
	ErrCodeExchangeReject      ErrorCode = 400
	ErrCodeRateLimit           ErrorCode = 401
	ErrCodeInsufficientBalance ErrorCode = 402
	ErrCodeOrderFailed         ErrorCode = 403
	ErrCodeAmbiguousState      ErrorCode = 404

	// Risk errors (500-599)
	ErrCodeRiskBreach      ErrorCode = 500
	ErrCodeDailyLossBreach ErrorCode = 501
	ErrCodeEmergencyStop   ErrorCode = 502

	// State errors (600-699)
	ErrCodeStateCorruption      ErrorCode = 600
	ErrCodeReconciliationFailed ErrorCode = 601
	ErrCodeCircuitOpen          ErrorCode = 602
	ErrCodeEngineHalted         ErrorCode = 603
	ErrCodeRetriesExhausted     ErrorCode = 604
)
