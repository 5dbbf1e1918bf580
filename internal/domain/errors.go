package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrInvalidRequest      = errors.New("invalid request")
	ErrProviderTimeout     = errors.New("provider timeout")
	ErrProviderRateLimited = errors.New("provider rate limited")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrProviderRejected    = errors.New("provider rejected prompt")
	ErrStorage             = errors.New("storage failure")
	ErrJobTerminal         = errors.New("job already terminal")
)

// IsRetryable reports whether a generation failure is worth retrying.
// Timeouts, rate limits, and provider 5xx responses are transient; rejected
// prompts and local disk failures are not.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrProviderTimeout) ||
		errors.Is(err, ErrProviderRateLimited) ||
		errors.Is(err, ErrProviderUnavailable)
}
