package process

import (
	"encoding/json"
	"fmt"

	"github.com/feen-dev/feen-gateway/internal/model"
)

func encodeWebhookEvent(event *model.WebhookEvent) (string, error) {
	b, err := json.Marshal(event)
	if err != nil {
		return "", fmt.Errorf("encode webhook event: %w", err)
	}
	return string(b), nil
}

func decodeWebhookEvent(raw string) (*model.WebhookEvent, error) {
	event := &model.WebhookEvent{}
	if err := json.Unmarshal([]byte(raw), event); err != nil {
		return nil, fmt.Errorf("decode webhook event: %w", err)
	}
	return event, nil
}
