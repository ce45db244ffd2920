// Package policy implements the stateless shared-token authenticator (C4):
// seven ordered checks over a bearer token, client IP, path, method, and
// optional signature headers.
package policy

import (
	"context"
	"net/netip"
	"strconv"
	"strings"
	"time"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

// SharedTokenLookup resolves a token_hash to its shared token and owning
// API key, satisfied by the postgres repositories.
type SharedTokenLookup interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.SharedToken, error)
	GetAPIKey(ctx context.Context, id string) (*model.APIKey, error)
}

// SuspiciousRecorder records a policy-failure event keyed by token_hash and
// failure type, fed into the rotation controller (C9).
type SuspiciousRecorder interface {
	Record(ctx context.Context, tokenHash string, eventType apperr.Code) error
}

// NonceStore tracks observed (token, nonce) pairs for replay detection.
type NonceStore interface {
	// SeenOrRecord returns true if the nonce was already observed within the
	// validity window; otherwise it records it and returns false.
	SeenOrRecord(ctx context.Context, tokenID, nonce string, ttl time.Duration) (bool, error)
}

// SignatureHeaders carries the three headers required when a token has
// RequireSignature set.
type SignatureHeaders struct {
	Timestamp string
	Signature string
	Nonce     string
}

// Request is the evaluator's input, extracted by the HTTP entry point.
type Request struct {
	BearerToken string
	ClientIP    string // "unknown" if it could not be determined
	Path        string // normalized: leading slash removed, query stripped
	Method      string
	Body        []byte
	Signature   *SignatureHeaders
}

// Result is the resolved context returned on success.
type Result struct {
	SharedToken *model.SharedToken
	APIKey      *model.APIKey
}

const (
	signatureWindow = 300 * time.Second
	nonceTTL        = 2 * signatureWindow
)

// ScopeTable maps a normalized endpoint path prefix to its required scope.
// Populated from the fixed vocabulary in spec.md §6.
var ScopeTable = map[string]string{
	"v1/chat/completions":     "chat:write",
	"v1/completions":          "completions:write",
	"v1/embeddings":           "embeddings:write",
	"v1/images/generations":   "images:write",
	"v1/images/variations":    "images:write",
	"v1/images/edits":         "images:edit",
	"v1/audio/transcriptions": "audio:transcribe",
	"v1/audio/translations":   "audio:translate",
	"v1/audio/speech":         "audio:speech",
	"v1/models":               "models:list",
	"v1/files":                "files:*",
	"v1/fine_tuning/jobs":     "finetune:*",
	"v1/assistants":           "assistants:*",
	"v1/messages":             "chat:write",
	"v1/complete":             "completions:write",
}

// Evaluator runs the seven ordered checks from spec.md §4.3.
type Evaluator struct {
	box     *vault.Box
	lookup  SharedTokenLookup
	suspect SuspiciousRecorder
	nonces  NonceStore
}

func New(box *vault.Box, lookup SharedTokenLookup, suspect SuspiciousRecorder, nonces NonceStore) *Evaluator {
	return &Evaluator{box: box, lookup: lookup, suspect: suspect, nonces: nonces}
}

// Evaluate performs the checks in order; the first failure terminates
// evaluation and (except for a TOKEN_INVALID lookup miss) records a
// suspicious-activity event before returning.
func (e *Evaluator) Evaluate(ctx context.Context, req *Request) (*Result, error) {
	// 1. Token format.
	if !vault.HasTokenPrefix(req.BearerToken) {
		return nil, apperr.New(apperr.CodeTokenInvalid, "malformed bearer token")
	}

	// 2. Lookup. No timing difference between "no row" and "inactive row":
	// both fall through to the same TOKEN_INVALID response below.
	tokenHash := e.box.KeyedHash(req.BearerToken)
	token, err := e.lookup.GetByTokenHash(ctx, tokenHash)
	if err != nil || token == nil || !token.Active {
		return nil, apperr.New(apperr.CodeTokenInvalid, "token not found or inactive")
	}

	if failErr := e.checkExpiryAndQuota(ctx, tokenHash, token); failErr != nil {
		return nil, failErr
	}
	if failErr := e.checkIPAllowList(ctx, tokenHash, token, req.ClientIP); failErr != nil {
		return nil, failErr
	}
	if failErr := e.checkScope(ctx, tokenHash, token, req.Path); failErr != nil {
		return nil, failErr
	}
	if failErr := e.checkSignature(ctx, tokenHash, token, req); failErr != nil {
		return nil, failErr
	}

	apiKey, err := e.lookup.GetAPIKey(ctx, token.APIKeyID)
	if err != nil || apiKey == nil {
		return nil, apperr.Wrap(apperr.CodeInternalError, "dangling api key reference", err)
	}
	return &Result{SharedToken: token, APIKey: apiKey}, nil
}

func (e *Evaluator) record(ctx context.Context, tokenHash string, code apperr.Code) {
	if e.suspect == nil {
		return
	}
	_ = e.suspect.Record(ctx, tokenHash, code)
}

// 3 & 4: expiry and usage cap.
func (e *Evaluator) checkExpiryAndQuota(ctx context.Context, tokenHash string, token *model.SharedToken) error {
	if token.ExpiresAt != nil && token.ExpiresAt.Before(time.Now()) {
		e.record(ctx, tokenHash, apperr.CodeTokenExpired)
		return apperr.New(apperr.CodeTokenExpired, "token has expired")
	}
	if token.MaxTotalUse != nil && token.UsageCount >= *token.MaxTotalUse {
		e.record(ctx, tokenHash, apperr.CodeQuotaExceeded)
		return apperr.New(apperr.CodeQuotaExceeded, "token usage quota exhausted")
	}
	return nil
}

// 5: IP allow-list.
func (e *Evaluator) checkIPAllowList(ctx context.Context, tokenHash string, token *model.SharedToken, clientIP string) error {
	if len(token.AllowedIPs) == 0 {
		return nil
	}
	if clientIP == "" {
		clientIP = "unknown"
	}
	if matchesAllowList(clientIP, token.AllowedIPs) {
		return nil
	}
	e.record(ctx, tokenHash, apperr.CodeIPBlacklisted)
	return apperr.New(apperr.CodeForbidden, "IP address not allowed")
}

func matchesAllowList(clientIP string, allowed []string) bool {
	if clientIP == "unknown" {
		for _, a := range allowed {
			if a == "unknown" {
				return true
			}
		}
		return false
	}
	addr, err := netip.ParseAddr(clientIP)
	if err != nil {
		return false
	}
	for _, entry := range allowed {
		if entry == clientIP {
			return true
		}
		if prefix, err := netip.ParsePrefix(entry); err == nil && prefix.Contains(addr) {
			return true
		}
	}
	return false
}

// 6: scope.
func (e *Evaluator) checkScope(ctx context.Context, tokenHash string, token *model.SharedToken, path string) error {
	normalized := normalizePath(path)
	required := requiredScopeFor(normalized)
	if required == "" {
		return nil // unknown endpoints are permitted
	}
	if token.HasScope(required) {
		return nil
	}
	e.record(ctx, tokenHash, apperr.CodeScopeDenied)
	return apperr.New(apperr.CodeScopeDenied, "token lacks required scope: "+required)
}

func normalizePath(path string) string {
	path = strings.TrimPrefix(path, "/")
	if idx := strings.IndexByte(path, '?'); idx >= 0 {
		path = path[:idx]
	}
	return path
}

func requiredScopeFor(normalized string) string {
	for prefix, scope := range ScopeTable {
		if normalized == prefix || strings.HasPrefix(normalized, prefix+"/") {
			return scope
		}
	}
	return ""
}

// 7: signature, only when the token requires one.
func (e *Evaluator) checkSignature(ctx context.Context, tokenHash string, token *model.SharedToken, req *Request) error {
	if !token.RequireSignature {
		return nil
	}
	if req.Signature == nil || req.Signature.Timestamp == "" || req.Signature.Signature == "" || req.Signature.Nonce == "" {
		e.record(ctx, tokenHash, apperr.CodeMissingSignature)
		return apperr.New(apperr.CodeMissingSignature, "missing signature headers")
	}
	ts, ok := parseUnixTimestamp(req.Signature.Timestamp)
	if !ok || absDuration(time.Since(ts)) > signatureWindow {
		e.record(ctx, tokenHash, apperr.CodeExpiredTimestamp)
		return apperr.New(apperr.CodeExpiredTimestamp, "signature timestamp outside window")
	}
	if e.nonces != nil {
		seen, err := e.nonces.SeenOrRecord(ctx, token.ID, req.Signature.Nonce, nonceTTL)
		if err != nil {
			return apperr.Wrap(apperr.CodeServiceUnavailable, "nonce store unavailable", err)
		}
		if seen {
			e.record(ctx, tokenHash, apperr.CodeReplayAttack)
			return apperr.New(apperr.CodeReplayAttack, "nonce already observed")
		}
	}
	if token.SigningSecret == nil {
		e.record(ctx, tokenHash, apperr.CodeInvalidSignature)
		return apperr.New(apperr.CodeInvalidSignature, "token has no signing secret configured")
	}
	ok = vault.VerifyRequestSignature(
		[]byte(*token.SigningSecret), ts.Unix(), req.Signature.Nonce, req.Method,
		normalizePath(req.Path), req.Body, token.ID, req.Signature.Signature,
	)
	if !ok {
		e.record(ctx, tokenHash, apperr.CodeInvalidSignature)
		return apperr.New(apperr.CodeInvalidSignature, "signature mismatch")
	}
	return nil
}

func parseUnixTimestamp(s string) (time.Time, bool) {
	sec, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, false
	}
	return time.Unix(sec, 0), true
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
