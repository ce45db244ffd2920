// Package httperr translates internal apperr.Error values into the
// gateway's canonical HTTP JSON error body.
package httperr

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/logging"
)

var statusByCode = map[apperr.Code]int{
	apperr.CodeTokenInvalid:         http.StatusUnauthorized,
	apperr.CodeUnauthorized:         http.StatusUnauthorized,
	apperr.CodeInvalidCredentials:   http.StatusUnauthorized,
	apperr.CodeTokenExpired:         http.StatusUnauthorized,
	apperr.CodeTwoFactorRequired:    http.StatusForbidden,
	apperr.CodeForbidden:            http.StatusForbidden,
	apperr.CodeInsufficientScope:    http.StatusForbidden,
	apperr.CodeScopeDenied:          http.StatusForbidden,
	apperr.CodeOperationNotAllowed:  http.StatusForbidden,
	apperr.CodeValidationError:      http.StatusBadRequest,
	apperr.CodeInvalidInput:         http.StatusBadRequest,
	apperr.CodeMissingRequiredField: http.StatusBadRequest,
	apperr.CodeLimitExceeded:        http.StatusBadRequest,
	apperr.CodeNotFound:             http.StatusNotFound,
	apperr.CodeAlreadyExists:        http.StatusConflict,
	apperr.CodeConflict:             http.StatusConflict,
	apperr.CodeRateLimited:          http.StatusTooManyRequests,
	apperr.CodeQuotaExceeded:        http.StatusTooManyRequests,
	apperr.CodeSubscriptionRequired: http.StatusPaymentRequired,
	apperr.CodeExternalServiceError: http.StatusBadGateway,
	apperr.CodeServiceUnavailable:   http.StatusServiceUnavailable,
	apperr.CodeDatabaseError:        http.StatusServiceUnavailable,
	apperr.CodeInternalError:        http.StatusInternalServerError,
	// Signature/suspicious-activity codes surface as 401/403 per spec.md §4.3.
	apperr.CodeMissingSignature: http.StatusUnauthorized,
	apperr.CodeExpiredTimestamp: http.StatusUnauthorized,
	apperr.CodeReplayAttack:     http.StatusUnauthorized,
	apperr.CodeInvalidSignature: http.StatusUnauthorized,
	apperr.CodeIPBlacklisted:    http.StatusForbidden,
}

// body is the canonical client-facing error shape (spec.md §6).
type body struct {
	Error     string         `json:"error"`
	Code      apperr.Code    `json:"code"`
	Details   map[string]any `json:"details,omitempty"`
	RequestID string         `json:"requestId"`
	Timestamp string         `json:"timestamp"`
}

// StatusFor returns the HTTP status for code, defaulting to 500.
func StatusFor(code apperr.Code) int {
	if status, ok := statusByCode[code]; ok {
		return status
	}
	return http.StatusInternalServerError
}

// Respond writes the canonical JSON error body for err and aborts the chain.
// Integrity failures (decryption/keyed-hash mismatches) are never surfaced to
// the client verbatim; they are logged and collapsed to INTERNAL_ERROR.
func Respond(c *gin.Context, err error) {
	var ae *apperr.Error
	if !apperr.As(err, &ae) {
		ae = apperr.Wrap(apperr.CodeInternalError, "internal error", err)
	}
	requestID := RequestID(c)
	status := StatusFor(ae.Code)
	if ae.Code == apperr.CodeRateLimited || ae.Code == apperr.CodeQuotaExceeded {
		if ra, ok := ae.Details["retryAfter"]; ok {
			c.Header("Retry-After", toRetryAfter(ra))
		}
	}
	logging.FromContext(c.Request.Context()).Error("request failed",
		"code", ae.Code, "status", status, "requestId", requestID, "error", ae.Error())
	c.AbortWithStatusJSON(status, body{
		Error:     ae.Message,
		Code:      ae.Code,
		Details:   ae.Details,
		RequestID: requestID,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func toRetryAfter(v any) string {
	switch n := v.(type) {
	case int:
		if n < 0 {
			n = 0
		}
		return strconv.Itoa(n)
	case int64:
		if n < 0 {
			n = 0
		}
		return strconv.FormatInt(n, 10)
	default:
		return "60"
	}
}

const requestIDKey = "requestId"

// RequestID returns the per-request correlation id stashed by the request-id
// middleware, minting one defensively if absent.
func RequestID(c *gin.Context) string {
	if v, ok := c.Get(requestIDKey); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	id := uuid.NewString()
	c.Set(requestIDKey, id)
	return id
}
