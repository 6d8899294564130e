package ports

import "errors"

// Standard application-level errors.
// Adapters wrap underlying infrastructure errors with these standard errors
// so callers can classify with errors.Is alone.
var (
	// General Errors
	ErrInvalidRequest     = errors.New("invalid request parameters or format")
	ErrNotFound           = errors.New("resource not found")
	ErrContextCanceled    = errors.New("operation canceled via context")
	ErrConfigurationError = errors.New("invalid or missing configuration")
	ErrUnknown            = errors.New("an unknown error occurred")

	// Transient Transport Errors
	// The gateway retries these internally with backoff; they never
	// surface past it on the submission path.
	ErrNetworkTimeout      = errors.New("network operation timed out")
	ErrConnectionFailed    = errors.New("failed to connect to the exchange")
	ErrExchangeUnavailable = errors.New("exchange API is unavailable")
	ErrRateLimited         = errors.New("API rate limit exceeded")

	// Terminal Exchange Errors
	ErrOrderRejected        = errors.New("order rejected by the exchange")
	ErrAuthenticationFailed = errors.New("exchange authentication failed (check API keys)")
	ErrInsufficientFunds    = errors.New("insufficient funds for operation")
	ErrOrderNotFound        = errors.New("order not found on the exchange")
	ErrPositionNotFound     = errors.New("position not found on the exchange")
	ErrOrderCancelFailed    = errors.New("failed to cancel order")

	// ErrSubmissionUnknown marks a submission whose true outcome could not
	// be learned before retries ran out. The intent is rejected locally
	// with sub-reason "unknown" and reconciliation must resolve it.
	ErrSubmissionUnknown = errors.New("submission outcome unknown, reconciliation required")

	// Engine and Policy Errors
	ErrRiskDenied         = errors.New("order denied by risk policy")
	ErrDivergenceDetected = errors.New("local state diverges from exchange")
	ErrIntentOutstanding  = errors.New("a non-terminal order intent is already outstanding")
	ErrSymbolNotTracked   = errors.New("symbol is not tracked by the engine")
	ErrSymbolStopped      = errors.New("symbol intake is stopped")

	// Database Specific Errors
	// Persistence failures are fatal for the affected symbol worker; it
	// must not proceed with unpersisted state.
	ErrDuplicateEntry = errors.New("database record already exists")
	ErrDBConnection   = errors.New("database connection error")
	ErrQueryFailed    = errors.New("database query failed")
	ErrUpdateFailed   = errors.New("database update failed")
)

// IsTransient reports whether the error is a transport condition that may
// succeed on retry.
func IsTransient(err error) bool {
	return errors.Is(err, ErrNetworkTimeout) ||
		errors.Is(err, ErrConnectionFailed) ||
		errors.Is(err, ErrExchangeUnavailable) ||
		errors.Is(err, ErrRateLimited)
}

// IsPersistence reports whether the error came from the store layer.
func IsPersistence(err error) bool {
	return errors.Is(err, ErrDBConnection) ||
		errors.Is(err, ErrQueryFailed) ||
		errors.Is(err, ErrUpdateFailed)
}
