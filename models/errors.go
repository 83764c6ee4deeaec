package models

import (
	"errors"
	"fmt"
)

// Error codes used in API responses and internal error handling.
const (
	// Worker lifecycle.
	ErrCodeStartupFailed    = "STARTUP_FAILED"
	ErrCodeWorkerNotReady   = "WORKER_NOT_READY"
	ErrCodeSignFailed       = "SIGN_FAILED"
	ErrCodeSandboxTransport = "SANDBOX_TRANSPORT"
	ErrCodeSignTimeout      = "SIGN_TIMEOUT"
	ErrCodePageTimeout      = "PAGE_TIMEOUT"

	// Pool administration.
	ErrCodeInstanceLimit     = "INSTANCE_LIMIT"
	ErrCodeInstanceNotFound  = "INSTANCE_NOT_FOUND"
	ErrCodeMinInstances      = "MIN_INSTANCES"
	ErrCodeNoAvailableWorker = "NO_AVAILABLE_WORKER"

	// Front door.
	ErrCodeInvalidInput = "INVALID_INPUT"
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeInternal     = "INTERNAL_ERROR"

	// Token extraction via /api/v1/xsec-token.
	ErrCodeTokenNotFound = "TOKEN_NOT_FOUND"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SignError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type SignError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *SignError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SignError) Unwrap() error {
	return e.Err
}

// NewSignError creates a new SignError.
func NewSignError(code, message string, err error) *SignError {
	return &SignError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *SignError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// CodeOf extracts the error code from err, walking the wrap chain.
// Unclassified errors report ErrCodeInternal.
func CodeOf(err error) string {
	var se *SignError
	if errors.As(err, &se) {
		return se.Code
	}
	return ErrCodeInternal
}
