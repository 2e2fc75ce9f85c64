package constants

// These back the REST surface's JSON `error.code` field (internal/api/
// response.go); the WebSocket hub has its own closed, wire-stable `kind`
// taxonomy for signal_error (see ErrKind* in constants.go), so this set only needs
// to cover what internal/api actually returns.
const (
	ErrCodeAuthFailed     = "AUTH_FAILED"
	ErrCodeAuthExpired    = "AUTH_EXPIRED"
	ErrCodeRateLimited    = "RATE_LIMITED"
	ErrCodeInvalidRequest = "INVALID_REQUEST"
	ErrCodeNotFound       = "NOT_FOUND"
	ErrCodeConflict       = "CONFLICT"
	ErrCodeInternal       = "INTERNAL_ERROR"
)
