package httpapi

import (
	"encoding/json"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/httperr"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/policy"
	"github.com/feen-dev/feen-gateway/internal/process"
	"github.com/feen-dev/feen-gateway/internal/ratelimit"
	"github.com/feen-dev/feen-gateway/internal/usage"
)

// newProxyHandler wires C4-C8 in the order spec.md §4.10 names: policy
// evaluation, then the per-token rate window, then routing, then transport,
// then the async usage record.
func newProxyHandler(proc *process.Context) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		start := time.Now()

		body, err := io.ReadAll(c.Request.Body)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeInvalidInput, "failed to read request body", err))
			return
		}

		forwardedPath := strings.TrimPrefix(c.Param("path"), "/")
		req := &policy.Request{
			BearerToken: bearerToken(c.Request.Header),
			ClientIP:    clientIPOrUnknown(c),
			Path:        forwardedPath,
			Method:      c.Request.Method,
			Body:        body,
			Signature:   signatureHeaders(c.Request.Header),
		}

		result, err := proc.Policy.Evaluate(ctx, req)
		if err != nil {
			httperr.Respond(c, err)
			return
		}
		token, apiKey := result.SharedToken, result.APIKey

		requestedModel := extractModel(body)
		if len(token.AllowedModels) > 0 && requestedModel != "" && !containsString(token.AllowedModels, requestedModel) {
			httperr.Respond(c, apperr.New(apperr.CodeForbidden, "model not allowed for this token"))
			return
		}

		limit := token.RatePerMinute
		if limit <= 0 {
			limit = proc.Config.RateLimit.DefaultPerMinute
		}
		decision := proc.RateLimiter.Allow(ctx, token.ID, limit, time.Now())
		c.Header("X-RateLimit-Limit", strconv.Itoa(limit))
		c.Header("X-RateLimit-Remaining", strconv.FormatInt(decision.Remaining, 10))
		c.Header("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))
		if !decision.Allowed {
			httperr.Respond(c, apperr.New(apperr.CodeRateLimited, "token rate limit exceeded").
				WithDetails(map[string]any{"retryAfter": int(time.Until(decision.ResetAt).Seconds())}))
			return
		}

		if proc.Config.RateLimit.SynchronousDailyCap && token.DailyCap != nil {
			exceeded, capErr := ratelimit.CheckDailyCap(ctx, proc.Fast, token.ID, *token.DailyCap, time.Now())
			if capErr == nil && exceeded {
				httperr.Respond(c, apperr.New(apperr.CodeQuotaExceeded, "token daily usage cap exceeded"))
				return
			}
		}

		keys, err := proc.Store.APIKeys.ListActiveByOwnerAndProviders(ctx, token.OwnerUserID, nil)
		if err != nil {
			httperr.Respond(c, apperr.Wrap(apperr.CodeDatabaseError, "list owner api keys", err))
			return
		}
		candidates := proc.Router.Select(ctx, requestedModel, apiKey.ID, keys)
		if len(candidates) == 0 {
			httperr.Respond(c, apperr.New(apperr.CodeServiceUnavailable, "no active provider credentials available"))
			return
		}

		outcome, err := proc.Transport.Proxy(ctx, c.Writer, c.Request.Method, forwardedPath, c.Request.Header, body, candidates)
		if err != nil {
			// Response headers/status may already be partially written by
			// Proxy; nothing more can be sent to the client at this point.
			return
		}

		proc.Usage.Enqueue(ctx, usage.Record{
			UsageLog: &model.UsageLog{
				ID:             uuid.NewString(),
				APIKeyID:       outcome.APIKeyID,
				SharedTokenID:  token.ID,
				UserID:         token.OwnerUserID,
				Provider:       outcome.Provider,
				Model:          nonEmptyPtr(requestedModel),
				Endpoint:       "/" + forwardedPath,
				Method:         c.Request.Method,
				StatusCode:     outcome.StatusCode,
				RequestTokens:  int64PtrToIntPtr(outcome.Usage.RequestTokens),
				ResponseTokens: int64PtrToIntPtr(outcome.Usage.ResponseTokens),
				TotalTokens:    int64PtrToIntPtr(outcome.Usage.TotalTokens),
				LatencyMS:      time.Since(start).Milliseconds(),
				ClientIP:       req.ClientIP,
				UserAgent:      c.Request.UserAgent(),
				CreatedAt:      time.Now(),
			},
			SharedTokenID: token.ID,
			APIKeyID:      outcome.APIKeyID,
			DailyCap:      token.DailyCap,
			OccurredAt:    time.Now(),
		})
	}
}

func bearerToken(h http.Header) string {
	return strings.TrimPrefix(h.Get("Authorization"), "Bearer ")
}

func signatureHeaders(h http.Header) *policy.SignatureHeaders {
	ts := h.Get("X-Feen-Timestamp")
	sig := h.Get("X-Feen-Signature")
	nonce := h.Get("X-Feen-Nonce")
	if ts == "" && sig == "" && nonce == "" {
		return nil
	}
	return &policy.SignatureHeaders{Timestamp: ts, Signature: sig, Nonce: nonce}
}

func clientIPOrUnknown(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return "unknown"
}

func extractModel(body []byte) string {
	var shape struct {
		Model string `json:"model"`
	}
	if err := json.Unmarshal(body, &shape); err != nil {
		return ""
	}
	return shape.Model
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func nonEmptyPtr(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func int64PtrToIntPtr(v *int64) *int {
	if v == nil {
		return nil
	}
	n := int(*v)
	return &n
}
