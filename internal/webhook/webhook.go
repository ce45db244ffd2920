// Package webhook implements outbound delivery for the notification
// side of the background loops (C10): resolving registered endpoints for
// an event and posting a signed payload to each.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/feen-dev/feen-gateway/internal/model"
	"github.com/feen-dev/feen-gateway/internal/vault"
)

const deliveryTimeout = 30 * time.Second

// Registry resolves the webhooks registered for a given event, grounded
// on the teacher's engine/webhook/registry.go lookup-by-event shape.
type Registry interface {
	ListActiveForEvent(ctx context.Context, event string) ([]*model.Webhook, error)
}

// AuditWriter records the delivery outcome.
type AuditWriter interface {
	Create(ctx context.Context, log *model.AuditLog) error
}

// Delivery posts webhook payloads over HTTP, signing each with the
// endpoint's secret in the same HMAC-SHA256 construction used to verify
// inbound requests, applied here in the outbound direction.
type Delivery struct {
	client   *resty.Client
	registry Registry
	audit    AuditWriter
}

func New(registry Registry, audit AuditWriter) *Delivery {
	return &Delivery{
		client:   resty.New().SetTimeout(deliveryTimeout),
		registry: registry,
		audit:    audit,
	}
}

// Dispatch resolves the endpoints registered for event.Event and delivers
// to each. There is no automatic retry in v1: a recorded failure in the
// audit log is the outcome.
func (d *Delivery) Dispatch(ctx context.Context, event *model.WebhookEvent) error {
	hooks, err := d.registry.ListActiveForEvent(ctx, event.Event)
	if err != nil {
		return fmt.Errorf("resolve webhooks for event %q: %w", event.Event, err)
	}
	for _, hook := range hooks {
		d.deliverOne(ctx, hook, event)
	}
	return nil
}

func (d *Delivery) deliverOne(ctx context.Context, hook *model.Webhook, event *model.WebhookEvent) {
	body, err := json.Marshal(event.Payload)
	if err != nil {
		d.recordOutcome(ctx, hook, event, false, "marshal payload: "+err.Error())
		return
	}
	ts := event.CreatedAt.Unix()
	if ts == 0 {
		ts = timeNowUnix()
	}
	signature := vault.SignWebhookPayload([]byte(hook.Secret), ts, body)

	resp, err := d.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetHeader("X-Feen-Webhook-Signature", signature).
		SetHeader("X-Feen-Webhook-Timestamp", fmt.Sprintf("%d", ts)).
		SetHeader("X-Feen-Webhook-Event", event.Event).
		SetBody(bytes.NewReader(body)).
		Post(hook.URL)

	if err != nil {
		d.recordOutcome(ctx, hook, event, false, err.Error())
		return
	}
	ok := resp.StatusCode() < 300
	detail := fmt.Sprintf("status %d", resp.StatusCode())
	d.recordOutcome(ctx, hook, event, ok, detail)
}

func (d *Delivery) recordOutcome(ctx context.Context, hook *model.Webhook, event *model.WebhookEvent, ok bool, detail string) {
	if d.audit == nil {
		return
	}
	_ = d.audit.Create(ctx, &model.AuditLog{
		UserID: hook.OwnerUserID,
		Action: model.AuditWebhookDelivered,
		Details: map[string]any{
			"webhook_id": hook.ID,
			"event":      event.Event,
			"success":    ok,
			"detail":     detail,
		},
	})
}

func timeNowUnix() int64 {
	return time.Now().Unix()
}
