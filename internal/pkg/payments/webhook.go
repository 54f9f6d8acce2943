package payments

import (
	"encoding/json"
	"errors"
	"strings"
)

const EventCheckoutSessionCompleted = "checkout.session.completed"

// WebhookEvent is the envelope Stripe posts to the webhook endpoint.
type WebhookEvent struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// ParseWebhookEvent decodes the webhook envelope from the raw body.
func ParseWebhookEvent(payload []byte) (*WebhookEvent, error) {
	var event WebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, err
	}
	if strings.TrimSpace(event.Type) == "" {
		return nil, errors.New("webhook event type missing")
	}
	return &event, nil
}

// CheckoutSession decodes the event's data object as a checkout session.
func (e *WebhookEvent) CheckoutSession() (*CheckoutSession, error) {
	var session CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &session); err != nil {
		return nil, err
	}
	if strings.TrimSpace(session.ID) == "" {
		return nil, errors.New("checkout session id missing in webhook payload")
	}
	return &session, nil
}
