package policy

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

type fakeLookup struct {
	tokens map[string]*model.SharedToken
	keys   map[string]*model.APIKey
}

func (f *fakeLookup) GetByTokenHash(_ context.Context, hash string) (*model.SharedToken, error) {
	if t, ok := f.tokens[hash]; ok {
		return t, nil
	}
	return nil, apperr.New(apperr.CodeNotFound, "not found")
}

func (f *fakeLookup) GetAPIKey(_ context.Context, id string) (*model.APIKey, error) {
	if k, ok := f.keys[id]; ok {
		return k, nil
	}
	return nil, apperr.New(apperr.CodeNotFound, "not found")
}

type fakeRecorder struct{ events []apperr.Code }

func (f *fakeRecorder) Record(_ context.Context, _ string, eventType apperr.Code) error {
	f.events = append(f.events, eventType)
	return nil
}

type fakeNonces struct{ seen map[string]bool }

func (f *fakeNonces) SeenOrRecord(_ context.Context, tokenID, nonce string, _ time.Duration) (bool, error) {
	key := tokenID + ":" + nonce
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

func newHarness(t *testing.T) (*Evaluator, *vault.Box, *fakeLookup, *fakeRecorder) {
	t.Helper()
	key := make([]byte, 32)
	box, err := vault.NewBox(key, nil, 0)
	require.NoError(t, err)
	lookup := &fakeLookup{tokens: map[string]*model.SharedToken{}, keys: map[string]*model.APIKey{}}
	recorder := &fakeRecorder{}
	ev := New(box, lookup, recorder, &fakeNonces{seen: map[string]bool{}})
	return ev, box, lookup, recorder
}

func TestEvaluator_TokenInvalid_BadPrefix(t *testing.T) {
	ev, _, _, _ := newHarness(t)
	_, err := ev.Evaluate(context.Background(), &Request{BearerToken: "sk-not-feen", Path: "v1/chat/completions", Method: "POST"})
	var ae *apperr.Error
	require.True(t, apperr.As(err, &ae))
	assert.Equal(t, apperr.CodeTokenInvalid, ae.Code)
}

func TestEvaluator_TokenExpired(t *testing.T) {
	ev, box, lookup, recorder := newHarness(t)
	plain := "feen_abc123"
	hash := box.KeyedHash(plain)
	past := time.Now().Add(-time.Second)
	lookup.tokens[hash] = &model.SharedToken{ID: "tok_1", APIKeyID: "key_1", Active: true, ExpiresAt: &past}
	lookup.keys["key_1"] = &model.APIKey{ID: "key_1"}

	_, err := ev.Evaluate(context.Background(), &Request{BearerToken: plain, Path: "v1/chat/completions", Method: "POST"})
	var ae *apperr.Error
	require.True(t, apperr.As(err, &ae))
	assert.Equal(t, apperr.CodeTokenExpired, ae.Code)
	assert.Contains(t, recorder.events, apperr.CodeTokenExpired)
}

func TestEvaluator_IPNotAllowed(t *testing.T) {
	ev, box, lookup, recorder := newHarness(t)
	plain := "feen_abc123"
	hash := box.KeyedHash(plain)
	lookup.tokens[hash] = &model.SharedToken{
		ID: "tok_1", APIKeyID: "key_1", Active: true, AllowedIPs: []string{"10.0.0.0/24"},
	}
	lookup.keys["key_1"] = &model.APIKey{ID: "key_1"}

	_, err := ev.Evaluate(context.Background(), &Request{
		BearerToken: plain, Path: "v1/chat/completions", Method: "POST", ClientIP: "10.0.1.5",
	})
	var ae *apperr.Error
	require.True(t, apperr.As(err, &ae))
	assert.Equal(t, apperr.CodeForbidden, ae.Code)
	assert.Contains(t, recorder.events, apperr.CodeIPBlacklisted)
}

func TestEvaluator_ScopeDenied(t *testing.T) {
	ev, box, lookup, _ := newHarness(t)
	plain := "feen_abc123"
	hash := box.KeyedHash(plain)
	lookup.tokens[hash] = &model.SharedToken{
		ID: "tok_1", APIKeyID: "key_1", Active: true, Scopes: []string{"embeddings:write"},
	}
	lookup.keys["key_1"] = &model.APIKey{ID: "key_1"}

	_, err := ev.Evaluate(context.Background(), &Request{
		BearerToken: plain, Path: "v1/chat/completions", Method: "POST", ClientIP: "1.2.3.4",
	})
	var ae *apperr.Error
	require.True(t, apperr.As(err, &ae))
	assert.Equal(t, apperr.CodeScopeDenied, ae.Code)
}

func TestEvaluator_Success(t *testing.T) {
	ev, box, lookup, _ := newHarness(t)
	plain := "feen_abc123"
	hash := box.KeyedHash(plain)
	lookup.tokens[hash] = &model.SharedToken{
		ID: "tok_1", APIKeyID: "key_1", Active: true, Scopes: []string{"*"},
	}
	lookup.keys["key_1"] = &model.APIKey{ID: "key_1", Provider: model.ProviderOpenAI}

	result, err := ev.Evaluate(context.Background(), &Request{
		BearerToken: plain, Path: "v1/chat/completions", Method: "POST", ClientIP: "1.2.3.4",
	})
	require.NoError(t, err)
	assert.Equal(t, "tok_1", result.SharedToken.ID)
	assert.Equal(t, model.ProviderOpenAI, result.APIKey.Provider)
}

func TestEvaluator_SignatureReplay(t *testing.T) {
	ev, box, lookup, _ := newHarness(t)
	plain := "feen_abc123"
	hash := box.KeyedHash(plain)
	secret := "sig-secret"
	lookup.tokens[hash] = &model.SharedToken{
		ID: "tok_1", APIKeyID: "key_1", Active: true, Scopes: []string{"*"},
		RequireSignature: true, SigningSecret: &secret,
	}
	lookup.keys["key_1"] = &model.APIKey{ID: "key_1"}

	ts := time.Now().Unix()
	sig := vault.SignRequest([]byte(secret), ts, "nonce-1", "POST", "v1/chat/completions", nil, "tok_1")
	req := &Request{
		BearerToken: plain, Path: "v1/chat/completions", Method: "POST", ClientIP: "1.2.3.4",
		Signature: &SignatureHeaders{Timestamp: itoa(ts), Signature: sig, Nonce: "nonce-1"},
	}
	_, err := ev.Evaluate(context.Background(), req)
	require.NoError(t, err)

	_, err = ev.Evaluate(context.Background(), req)
	var ae *apperr.Error
	require.True(t, apperr.As(err, &ae))
	assert.Equal(t, apperr.CodeReplayAttack, ae.Code)
}

func itoa(n int64) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf []byte
	for n > 0 {
		buf = append([]byte{byte('0' + n%10)}, buf...)
		n /= 10
	}
	if neg {
		buf = append([]byte{'-'}, buf...)
	}
	return string(buf)
}
