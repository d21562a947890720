package clients

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/stripe/stripe-go/v76/webhook"
)

// HeaderSignature carries the webhook signature.
const HeaderSignature = "Stripe-Signature"

// EventCheckoutCompleted is sent when a checkout session has been paid.
const EventCheckoutCompleted = "checkout.session.completed"

var (
	ErrMissingSignature = errors.New("webhook signature header is missing")
	ErrInvalidSignature = errors.New("webhook signature does not match")
	ErrStaleSignature   = errors.New("webhook signature timestamp is outside the tolerance")
)

// Event is a webhook delivery.
type Event struct {
	ID   string `json:"id"`
	Type string `json:"type"`
	Data struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// CheckoutSession decodes the event object as a checkout session.
func (e *Event) CheckoutSession() (*CheckoutSession, error) {
	var s CheckoutSession
	if err := json.Unmarshal(e.Data.Object, &s); err != nil {
		return nil, fmt.Errorf("failed to decode checkout session: %w", err)
	}
	return &s, nil
}

// WebhookVerifier checks Stripe-Signature headers with the endpoint secret.
type WebhookVerifier struct {
	secret    string
	tolerance time.Duration
}

func NewWebhookVerifier(secret string, tolerance time.Duration) *WebhookVerifier {
	if tolerance <= 0 {
		tolerance = webhook.DefaultTolerance
	}
	return &WebhookVerifier{secret: secret, tolerance: tolerance}
}

// ParseEvent verifies header against payload and decodes the event. The
// event's API version is not checked against the library's.
func (v *WebhookVerifier) ParseEvent(payload []byte, header string) (*Event, error) {
	if err := v.Verify(payload, header); err != nil {
		return nil, err
	}
	se, err := webhook.ConstructEventWithOptions(payload, header, v.secret, webhook.ConstructEventOptions{
		Tolerance:                v.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to decode webhook event: %w", err)
	}

	event := &Event{ID: se.ID, Type: string(se.Type)}
	if se.Data != nil {
		event.Data.Object = se.Data.Raw
	}
	return event, nil
}

// Verify checks the signature and its age without decoding the payload.
func (v *WebhookVerifier) Verify(payload []byte, header string) error {
	err := webhook.ValidatePayloadWithTolerance(payload, header, v.secret, v.tolerance)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, webhook.ErrNotSigned):
		return ErrMissingSignature
	case errors.Is(err, webhook.ErrTooOld):
		return ErrStaleSignature
	default:
		return fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
}

// SignatureHeader builds a header for payload signed at t.
func (v *WebhookVerifier) SignatureHeader(payload []byte, t time.Time) string {
	return webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    v.secret,
		Timestamp: t,
	}).Header
}
