// Package apperr defines the gateway-wide error taxonomy. Every owning
// package wraps its failures in an *Error carrying one of these codes so the
// HTTP layer can translate them without inspecting package internals.
package apperr

import "fmt"

// Code is a taxonomy entry from the error handling design.
type Code string

const (
	CodeTokenInvalid         Code = "TOKEN_INVALID"
	CodeUnauthorized         Code = "UNAUTHORIZED"
	CodeInvalidCredentials   Code = "INVALID_CREDENTIALS"
	CodeTokenExpired         Code = "TOKEN_EXPIRED"
	CodeTwoFactorRequired    Code = "TWO_FACTOR_REQUIRED"
	CodeForbidden            Code = "FORBIDDEN"
	CodeInsufficientScope    Code = "INSUFFICIENT_SCOPE"
	CodeScopeDenied          Code = "SCOPE_DENIED"
	CodeOperationNotAllowed  Code = "OPERATION_NOT_ALLOWED"
	CodeValidationError      Code = "VALIDATION_ERROR"
	CodeInvalidInput         Code = "INVALID_INPUT"
	CodeMissingRequiredField Code = "MISSING_REQUIRED_FIELD"
	CodeLimitExceeded        Code = "LIMIT_EXCEEDED"
	CodeNotFound             Code = "NOT_FOUND"
	CodeAlreadyExists        Code = "ALREADY_EXISTS"
	CodeConflict             Code = "CONFLICT"
	CodeRateLimited          Code = "RATE_LIMITED"
	CodeQuotaExceeded        Code = "QUOTA_EXCEEDED"
	CodeSubscriptionRequired Code = "SUBSCRIPTION_REQUIRED"
	CodeExternalServiceError Code = "EXTERNAL_SERVICE_ERROR"
	CodeServiceUnavailable   Code = "SERVICE_UNAVAILABLE"
	CodeDatabaseError        Code = "DATABASE_ERROR"
	CodeInternalError        Code = "INTERNAL_ERROR"

	// Policy-specific codes not in the generic HTTP taxonomy but used
	// internally for suspicious-activity classification (spec.md §4.3).
	CodeMissingSignature Code = "MISSING_SIGNATURE"
	CodeExpiredTimestamp Code = "EXPIRED_TIMESTAMP"
	CodeReplayAttack     Code = "REPLAY_ATTACK"
	CodeInvalidSignature Code = "INVALID_SIGNATURE"
	CodeIPBlacklisted    Code = "IP_BLACKLISTED"
)

// Error is the package-local error shape every component returns.
type Error struct {
	Code    Code
	Message string
	Err     error
	Details map[string]any
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New builds an Error with no wrapped cause.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds an Error around an existing cause.
func Wrap(code Code, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// WithDetails returns a copy of e carrying the given detail fields.
func (e *Error) WithDetails(details map[string]any) *Error {
	cp := *e
	cp.Details = details
	return &cp
}

// CodeOf extracts the Code from err if it is (or wraps) an *Error, defaulting
// to CodeInternalError otherwise.
func CodeOf(err error) Code {
	var ae *Error
	if As(err, &ae) {
		return ae.Code
	}
	return CodeInternalError
}

// As walks err's Unwrap chain for an *Error, kept local so callers only
// import this package for taxonomy matching.
func As(err error, target **Error) bool {
	for err != nil {
		if ae, ok := err.(*Error); ok {
			*target = ae
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}
