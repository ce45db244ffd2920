package rotation

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/model"
	fstore "github.com/feen-dev/feen-gateway/internal/store/redis"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

type fakeTokens struct {
	token       *model.SharedToken
	rotatedTo   string
	rotateCalls int
}

func (f *fakeTokens) GetByTokenHash(_ context.Context, _ string) (*model.SharedToken, error) {
	return f.token, nil
}

func (f *fakeTokens) Rotate(_ context.Context, _ string, newAccessToken *string, newTokenHash string, _ bool) error {
	f.rotateCalls++
	f.rotatedTo = newTokenHash
	if newAccessToken != nil {
		f.token.AccessToken = newAccessToken
	}
	f.token.TokenHash = newTokenHash
	return nil
}

type fakeAudit struct{ entries []*model.AuditLog }

func (f *fakeAudit) Create(_ context.Context, log *model.AuditLog) error {
	f.entries = append(f.entries, log)
	return nil
}

type fakeWebhooks struct{ events []*model.WebhookEvent }

func (f *fakeWebhooks) Enqueue(_ context.Context, event *model.WebhookEvent) error {
	f.events = append(f.events, event)
	return nil
}

func newTestFast(t *testing.T) *fstore.Client {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return fstore.NewFromUniversalClient(rdb)
}

func TestController_Record_ImmediateRotationOnReplayAttack(t *testing.T) {
	fast := newTestFast(t)
	tokens := &fakeTokens{token: &model.SharedToken{ID: "tok_1", OwnerUserID: "user_1", TokenHash: "old-hash"}}
	audit := &fakeAudit{}
	webhooks := &fakeWebhooks{}
	key := make([]byte, 32)
	box, err := vault.NewBox(key, nil, 0)
	require.NoError(t, err)

	c := New(fast, tokens, audit, webhooks, box, true)
	err = c.Record(context.Background(), "old-hash", apperr.CodeReplayAttack)
	require.NoError(t, err)

	assert.Equal(t, 1, tokens.rotateCalls)
	require.Len(t, audit.entries, 1)
	assert.Equal(t, model.AuditTokenRotated, audit.entries[0].Action)
	assert.Equal(t, "replay_attack", audit.entries[0].Details["reason"])
	assert.Len(t, webhooks.events, 1)
}

func TestController_Record_InvalidSignatureRotatesAtThreshold(t *testing.T) {
	fast := newTestFast(t)
	tokens := &fakeTokens{token: &model.SharedToken{ID: "tok_2", OwnerUserID: "user_2", TokenHash: "hash-2"}}
	audit := &fakeAudit{}
	webhooks := &fakeWebhooks{}
	key := make([]byte, 32)
	box, err := vault.NewBox(key, nil, 0)
	require.NoError(t, err)

	c := New(fast, tokens, audit, webhooks, box, true)
	for i := 0; i < 2; i++ {
		require.NoError(t, c.Record(context.Background(), "hash-2", apperr.CodeInvalidSignature))
	}
	assert.Equal(t, 0, tokens.rotateCalls, "threshold is 3; two events should not rotate yet")

	require.NoError(t, c.Record(context.Background(), "hash-2", apperr.CodeInvalidSignature))
	assert.Equal(t, 1, tokens.rotateCalls, "third event should trigger rotation")
}

func TestController_Record_UntrackedEventType_NoOp(t *testing.T) {
	fast := newTestFast(t)
	tokens := &fakeTokens{token: &model.SharedToken{ID: "tok_3", OwnerUserID: "user_3"}}
	key := make([]byte, 32)
	box, err := vault.NewBox(key, nil, 0)
	require.NoError(t, err)

	c := New(fast, tokens, nil, nil, box, true)
	err = c.Record(context.Background(), "hash-3", apperr.CodeTokenExpired)
	require.NoError(t, err)
	assert.Equal(t, 0, tokens.rotateCalls)
}
