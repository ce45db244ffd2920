// Package process assembles the component graph: every adapter that
// bridges C1-C3's concrete stores to the narrow interfaces C4-C10 declare.
package process

import (
	"context"
	"fmt"
	"strconv"
	"time"

	ristretto "github.com/dgraph-io/ristretto/v2"
	"github.com/google/uuid"

	"github.com/feen-dev/feen-gateway/internal/model"
	fstore "github.com/feen-dev/feen-gateway/internal/store/redis"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

// l1LatencyTTL bounds how long a routing decision can run on a stale
// sample; the background probe refreshes the Redis value every 60s, so a
// handful of seconds of local staleness costs nothing in practice.
const l1LatencyTTL = 5 * time.Second

// latencyCache reads/writes the provider latency sample cached by the
// background probe, satisfying both router.LatencyLookup and
// scheduler.LatencyStore over the same fast-store keys. Every routed
// request previously round-tripped to Redis just to sort a handful of
// providers by latency; an in-process ristretto cache in front of it turns
// the hot path into a local lookup, invalidated whenever Set writes a
// fresher sample.
type latencyCache struct {
	fast fstore.FastStore
	l1   *ristretto.Cache[string, float64]
}

func newLatencyCache(fast fstore.FastStore) *latencyCache {
	l1, err := ristretto.NewCache(&ristretto.Config[string, float64]{
		NumCounters: 1_000,
		MaxCost:     1_000,
		BufferItems: 64,
	})
	if err != nil {
		l1 = nil
	}
	return &latencyCache{fast: fast, l1: l1}
}

func (l *latencyCache) Latency(ctx context.Context, provider model.Provider) (float64, bool) {
	key := "latency:" + string(provider)
	if l.l1 != nil {
		if ms, ok := l.l1.Get(key); ok {
			return ms, true
		}
	}
	v, err := l.fast.Get(ctx, key)
	if err != nil {
		return 0, false
	}
	ms, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, false
	}
	if l.l1 != nil {
		l.l1.SetWithTTL(key, ms, 1, l1LatencyTTL)
	}
	return ms, true
}

func (l *latencyCache) Set(ctx context.Context, key, value string, ttl time.Duration) error {
	if l.l1 != nil {
		l.l1.Del(key)
	}
	return l.fast.Set(ctx, key, value, ttl)
}

// vaultKeys resolves a vault record's plaintext key material on demand,
// satisfying transport.KeyMaterial without leaking the store or box
// directly into the transport package.
type vaultKeys struct {
	apiKeys APIKeyGetter
	box     *vault.Box
}

// APIKeyGetter is the single persistent-store lookup vaultKeys needs.
type APIKeyGetter interface {
	Get(ctx context.Context, id string) (*model.APIKey, error)
}

func newVaultKeys(apiKeys APIKeyGetter, box *vault.Box) *vaultKeys {
	return &vaultKeys{apiKeys: apiKeys, box: box}
}

func (v *vaultKeys) Reveal(ctx context.Context, apiKeyID string) (string, error) {
	key, err := v.apiKeys.Get(ctx, apiKeyID)
	if err != nil {
		return "", fmt.Errorf("resolve api key %s: %w", apiKeyID, err)
	}
	plaintext, err := v.box.Decrypt(key.EncryptedMaterial)
	if err != nil {
		return "", err
	}
	return string(plaintext), nil
}

// sharedTokenLookup adds GetAPIKey over the api-key repository so the
// postgres store (whose APIKeyRepository.Get has a different receiver
// shape) satisfies policy.SharedTokenLookup.
type sharedTokenLookup struct {
	tokens  TokenGetter
	apiKeys APIKeyGetter
}

// TokenGetter is the single persistent-store lookup the policy evaluator needs.
type TokenGetter interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.SharedToken, error)
}

func newSharedTokenLookup(tokens TokenGetter, apiKeys APIKeyGetter) *sharedTokenLookup {
	return &sharedTokenLookup{tokens: tokens, apiKeys: apiKeys}
}

func (s *sharedTokenLookup) GetByTokenHash(ctx context.Context, tokenHash string) (*model.SharedToken, error) {
	return s.tokens.GetByTokenHash(ctx, tokenHash)
}

func (s *sharedTokenLookup) GetAPIKey(ctx context.Context, id string) (*model.APIKey, error) {
	return s.apiKeys.Get(ctx, id)
}

// nonceStore implements policy.NonceStore over the fast store's SetNX,
// keyed per spec.md §3's nonce:<token>:<nonce> transient key.
type nonceStore struct {
	fast fstore.FastStore
}

func newNonceStore(fast fstore.FastStore) *nonceStore {
	return &nonceStore{fast: fast}
}

func (n *nonceStore) SeenOrRecord(ctx context.Context, tokenID, nonce string, ttl time.Duration) (bool, error) {
	key := fmt.Sprintf("nonce:%s:%s", tokenID, nonce)
	stored, err := n.fast.SetNX(ctx, key, "1", ttl)
	if err != nil {
		return false, err
	}
	return !stored, nil
}

// webhookQueue implements both rotation.WebhookEnqueuer and the scheduler's
// delivery-loop pop, over the fast store's webhooks:queue list.
type webhookQueue struct {
	fast fstore.FastStore
}

func newWebhookQueue(fast fstore.FastStore) *webhookQueue {
	return &webhookQueue{fast: fast}
}

const webhookQueueKey = "webhooks:queue"

func (q *webhookQueue) Enqueue(ctx context.Context, event *model.WebhookEvent) error {
	encoded, err := encodeWebhookEvent(event)
	if err != nil {
		return err
	}
	return q.fast.LPush(ctx, webhookQueueKey, encoded)
}

func (q *webhookQueue) Pop(ctx context.Context) (*model.WebhookEvent, bool, error) {
	raw, ok, err := q.fast.RPop(ctx, webhookQueueKey)
	if err != nil || !ok {
		return nil, ok, err
	}
	event, err := decodeWebhookEvent(raw)
	if err != nil {
		return nil, false, err
	}
	return event, true, nil
}

// UsageLogInserter is the persistent-store surface usageWriter needs to
// append the immutable record and, for the lazy daily-cap path, sum a
// token's usage for a given day.
type UsageLogInserter interface {
	Insert(ctx context.Context, l *model.UsageLog) error
	SumTotalTokensForDay(ctx context.Context, sharedTokenID string, day time.Time) (int64, error)
}

// APIKeyToucher updates an api key's LastUsedAt.
type APIKeyToucher interface {
	TouchLastUsed(ctx context.Context, id string, at time.Time) error
}

// SharedTokenIncrementer bumps a shared token's usage counter and, for the
// lazy daily-cap path, deactivates it once its cap is exceeded.
type SharedTokenIncrementer interface {
	IncrementUsage(ctx context.Context, id string, at time.Time) error
	SetActive(ctx context.Context, id string, active bool) error
}

// usageWriter satisfies usage.Writer over three separate repositories,
// since the usage recorder writes span api_keys and shared_tokens as well
// as usage_logs.
type usageWriter struct {
	logs   UsageLogInserter
	keys   APIKeyToucher
	tokens SharedTokenIncrementer
}

func newUsageWriter(logs UsageLogInserter, keys APIKeyToucher, tokens SharedTokenIncrementer) *usageWriter {
	return &usageWriter{logs: logs, keys: keys, tokens: tokens}
}

func (w *usageWriter) InsertUsageLog(ctx context.Context, log *model.UsageLog) error {
	return w.logs.Insert(ctx, log)
}

func (w *usageWriter) TouchAPIKeyLastUsed(ctx context.Context, apiKeyID string, at time.Time) error {
	return w.keys.TouchLastUsed(ctx, apiKeyID, at)
}

func (w *usageWriter) IncrementSharedTokenUsage(ctx context.Context, tokenID string, at time.Time) error {
	return w.tokens.IncrementUsage(ctx, tokenID, at)
}

func (w *usageWriter) SumTotalTokensForDay(ctx context.Context, sharedTokenID string, day time.Time) (int64, error) {
	return w.logs.SumTotalTokensForDay(ctx, sharedTokenID, day)
}

func (w *usageWriter) DeactivateSharedToken(ctx context.Context, tokenID string) error {
	return w.tokens.SetActive(ctx, tokenID, false)
}

// AuditLogInserter is the single persistent-store call auditWriter needs.
type AuditLogInserter interface {
	Insert(ctx context.Context, a *model.AuditLog) error
}

// auditWriter adds Create (assigning an ID/timestamp when the caller left
// them zero) over the persistent store's Insert, satisfying both
// rotation.AuditWriter and webhook.AuditWriter.
type auditWriter struct {
	logs AuditLogInserter
}

func newAuditWriter(logs AuditLogInserter) *auditWriter {
	return &auditWriter{logs: logs}
}

func (a *auditWriter) Create(ctx context.Context, log *model.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now()
	}
	return a.logs.Insert(ctx, log)
}
