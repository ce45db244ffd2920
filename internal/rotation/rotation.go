// Package rotation implements the suspicious-activity taxonomy and the
// rotation controller (C9): count events per token+type in a one-hour
// window, rotate the token when a type's threshold is met.
package rotation

import (
	"context"
	"fmt"
	"time"

	"github.com/feen-dev/feen-gateway/internal/apperr"
	"github.com/feen-dev/feen-gateway/internal/logging"
	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

const window = time.Hour

// thresholds maps an event type to the count that triggers rotation.
// REPLAY_ATTACK and IP_BLACKLISTED are immediate (spec.md §4.7); the
// remaining signature-failure types tolerate a small number of client-side
// mistakes (clock skew, dropped headers) before rotating.
var thresholds = map[apperr.Code]int64{
	apperr.CodeReplayAttack:     1,
	apperr.CodeIPBlacklisted:    1,
	apperr.CodeInvalidSignature: 3,
	apperr.CodeMissingSignature: 5,
	apperr.CodeExpiredTimestamp: 5,
}

// FastStore is the subset of C3 the controller needs for its list ops.
type FastStore interface {
	LPush(ctx context.Context, key string, values ...string) error
	Expire(ctx context.Context, key string, ttl time.Duration) error
	LLen(ctx context.Context, key string) (int64, error)
	KeysByPrefix(ctx context.Context, prefix string) ([]string, error)
	Del(ctx context.Context, keys ...string) error
}

// TokenStore is the subset of C2 the controller needs to rotate a record.
type TokenStore interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*model.SharedToken, error)
	Rotate(ctx context.Context, id string, newAccessToken *string, newTokenHash string, persistPlaintext bool) error
}

// AuditWriter records the TOKEN_ROTATED entry.
type AuditWriter interface {
	Create(ctx context.Context, log *model.AuditLog) error
}

// WebhookEnqueuer pushes an event onto the delivery queue (C10).
type WebhookEnqueuer interface {
	Enqueue(ctx context.Context, event *model.WebhookEvent) error
}

// Controller wires the fast store, persistent store, audit log, and
// webhook queue together to implement Record and Rotate.
type Controller struct {
	fast             FastStore
	tokens           TokenStore
	audit            AuditWriter
	webhooks         WebhookEnqueuer
	box              *vault.Box
	persistPlaintext bool
}

func New(fast FastStore, tokens TokenStore, audit AuditWriter, webhooks WebhookEnqueuer, box *vault.Box, persistPlaintext bool) *Controller {
	return &Controller{fast: fast, tokens: tokens, audit: audit, webhooks: webhooks, box: box, persistPlaintext: persistPlaintext}
}

// Record appends a suspicious event and rotates the token if its type's
// threshold is met. It satisfies policy.SuspiciousRecorder.
func (c *Controller) Record(ctx context.Context, tokenHash string, eventType apperr.Code) error {
	threshold, tracked := thresholds[eventType]
	if !tracked {
		return nil
	}

	token, err := c.tokens.GetByTokenHash(ctx, tokenHash)
	if err != nil {
		return nil // token already gone or inactive; nothing to rotate
	}

	key := suspiciousKey(token.ID, eventType)
	if err := c.fast.LPush(ctx, key, time.Now().Format(time.RFC3339Nano)); err != nil {
		return err
	}
	if err := c.fast.Expire(ctx, key, window); err != nil {
		logging.FromContext(ctx).Warn("failed to set suspicious-event TTL", "key", key, "error", err)
	}

	count, err := c.fast.LLen(ctx, key)
	if err != nil {
		return err
	}
	if count < threshold {
		return nil
	}
	return c.rotate(ctx, token, reasonFor(eventType))
}

// ManualRotate runs the same routine invoked directly by an operator,
// tagged with reason "manual_rotation".
func (c *Controller) ManualRotate(ctx context.Context, token *model.SharedToken) error {
	return c.rotate(ctx, token, "manual_rotation")
}

func (c *Controller) rotate(ctx context.Context, token *model.SharedToken, reason string) error {
	newPlain, err := vault.MintAccessToken()
	if err != nil {
		return fmt.Errorf("mint access token: %w", err)
	}
	newHash := c.box.KeyedHash(newPlain)

	var stored *string
	if c.persistPlaintext {
		stored = &newPlain
	}
	if err := c.tokens.Rotate(ctx, token.ID, stored, newHash, c.persistPlaintext); err != nil {
		return fmt.Errorf("rotate token record: %w", err)
	}

	if keys, err := c.fast.KeysByPrefix(ctx, fmt.Sprintf("suspicious:%s:", token.ID)); err == nil && len(keys) > 0 {
		if err := c.fast.Del(ctx, keys...); err != nil {
			logging.FromContext(ctx).Warn("failed to clear suspicious-event keys after rotation", "token_id", token.ID, "error", err)
		}
	}

	if c.audit != nil {
		_ = c.audit.Create(ctx, &model.AuditLog{
			UserID: token.OwnerUserID,
			Action: model.AuditTokenRotated,
			Details: map[string]any{
				"token_id": token.ID,
				"reason":   reason,
			},
		})
	}

	if c.webhooks != nil {
		_ = c.webhooks.Enqueue(ctx, &model.WebhookEvent{
			Event: "token.rotated",
			Payload: map[string]any{
				"token_id": token.ID,
				"reason":   reason,
			},
		})
	}
	return nil
}

func suspiciousKey(tokenID string, eventType apperr.Code) string {
	return fmt.Sprintf("suspicious:%s:%s", tokenID, eventType)
}

func reasonFor(eventType apperr.Code) string {
	switch eventType {
	case apperr.CodeInvalidSignature:
		return "invalid_signature"
	case apperr.CodeReplayAttack:
		return "replay_attack"
	case apperr.CodeIPBlacklisted:
		return "ip_blacklisted"
	case apperr.CodeMissingSignature:
		return "missing_signature"
	case apperr.CodeExpiredTimestamp:
		return "expired_timestamp"
	default:
		return "suspicious_activity"
	}
}
