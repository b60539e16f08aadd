package shared

import (
	"errors"
	"fmt"
)

var (
	ErrNotImplemented = fmt.Errorf("not implemented")
	ErrNotFound       = fmt.Errorf("not found")

	// Configuration errors
	ErrMissingConfig      = fmt.Errorf("configuration not found")
	ErrInvalidConfig      = fmt.Errorf("invalid configuration")
	ErrMissingCredentials = fmt.Errorf("missing credentials")

	// Synchronization errors
	ErrCredentialExpiredOrMissing = fmt.Errorf("credential expired or missing")
	ErrCrypto                     = fmt.Errorf("credential cipher failure")
	ErrExternalAPI                = fmt.Errorf("external API request failed")
	ErrInvalidState               = fmt.Errorf("invalid or expired oauth state")
	ErrTimeout                    = fmt.Errorf("operation timed out")

	ErrServiceUnavailable = fmt.Errorf("service unavailable")

	// Input validation errors
	ErrInvalidInput    = fmt.Errorf("invalid input")
	ErrMissingArgument = fmt.Errorf("missing required argument")
	ErrInvalidArgument = fmt.Errorf("invalid argument")
)

// ExternalAPIError describes a failed call to the external music API.
//
// Any HTTP, network or decode failure is reported with this type. Retryable is true unless the caller knows better.
type ExternalAPIError struct {
	Status    int    // Upstream HTTP status, zero for network failures
	Message   string // Upstream or local description
	Retryable bool
	Err       error
}

// NewExternalAPIError builds a retryable [ExternalAPIError].
func NewExternalAPIError(status int, message string, err error) *ExternalAPIError {
	return &ExternalAPIError{Status: status, Message: message, Retryable: true, Err: err}
}

func (e *ExternalAPIError) Error() string {
	msg := ErrExternalAPI.Error()
	if e.Status != 0 {
		msg = fmt.Sprintf("%s: status %d", msg, e.Status)
	}
	if e.Message != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Message)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

func (e *ExternalAPIError) Unwrap() error { return e.Err }

// Is reports a match against [ErrExternalAPI] so callers can use [errors.Is].
func (e *ExternalAPIError) Is(target error) bool { return target == ErrExternalAPI }

// CryptoError reports a failed encrypt or decrypt. It is never retried.
type CryptoError struct {
	Op  string
	Err error
}

func (e *CryptoError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", ErrCrypto, e.Op)
	}
	return fmt.Sprintf("%s: %s: %v", ErrCrypto, e.Op, e.Err)
}

func (e *CryptoError) Unwrap() error { return e.Err }

func (e *CryptoError) Is(target error) bool { return target == ErrCrypto }

// IsRetryable classifies err for the job scheduler.
//
// Missing credentials, cipher failures and invalid OAuth state are fatal.
// External API errors follow their Retryable flag. Anything else (storage, context) is treated as transient.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, ErrCredentialExpiredOrMissing) || errors.Is(err, ErrCrypto) || errors.Is(err, ErrInvalidState) {
		return false
	}

	var apiErr *ExternalAPIError
	if errors.As(err, &apiErr) {
		return apiErr.Retryable
	}

	return true
}
