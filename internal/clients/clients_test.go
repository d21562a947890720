package clients

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"
	"time"

	"github.com/natours/api/internal/config"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func TestCreateCheckoutSession(t *testing.T) {
	var form url.Values
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/checkout/sessions", r.URL.Path)
		assert.Equal(t, "Bearer sk_test", r.Header.Get("Authorization"))
		require.NoError(t, r.ParseForm())
		form = r.PostForm
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id":"cs_1","url":"https://checkout.example/cs_1","client_reference_id":"tour-1"}`))
	}))
	defer server.Close()

	client := NewPaymentClient(&config.PaymentConfig{
		SecretKey: "sk_test", BaseURL: server.URL, Currency: "usd", Timeout: time.Second,
	}, quietLogger())

	session, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{
		TourID:        "tour-1",
		TourName:      "The Forest Hiker",
		Summary:       "Breathtaking hike",
		Price:         397.5,
		CustomerEmail: "jonas@example.com",
		SuccessURL:    "http://localhost:3000/my-tours?alert=booking",
		CancelURL:     "http://localhost:3000/tour/the-forest-hiker",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://checkout.example/cs_1", session.URL)

	assert.Equal(t, "payment", form.Get("mode"))
	assert.Equal(t, "tour-1", form.Get("client_reference_id"))
	assert.Equal(t, "jonas@example.com", form.Get("customer_email"))
	assert.Equal(t, "39750", form.Get("line_items[0][price_data][unit_amount]"))
	assert.Equal(t, "The Forest Hiker Tour", form.Get("line_items[0][price_data][product_data][name]"))
}

func TestCreateCheckoutSessionErrors(t *testing.T) {
	t.Run("not configured", func(t *testing.T) {
		client := NewPaymentClient(&config.PaymentConfig{BaseURL: "http://unused"}, quietLogger())
		_, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable))
	})

	t.Run("rejected request", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadRequest)
			_, _ = w.Write([]byte(`{"error":{"message":"Invalid currency"}}`))
		}))
		defer server.Close()

		client := NewPaymentClient(&config.PaymentConfig{SecretKey: "sk", BaseURL: server.URL, Timeout: time.Second}, quietLogger())
		for i := 0; i < 10; i++ {
			_, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{})
			require.True(t, apperrors.HasCode(err, apperrors.CodeBadRequest), "client errors never open the breaker")
		}
	})

	t.Run("provider down", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusBadGateway)
		}))
		defer server.Close()

		client := NewPaymentClient(&config.PaymentConfig{SecretKey: "sk", BaseURL: server.URL, Timeout: time.Second}, quietLogger())
		_, err := client.CreateCheckoutSession(context.Background(), CheckoutRequest{})
		assert.True(t, apperrors.HasCode(err, apperrors.CodeUpstreamUnavailable))
	})
}

func TestWebhookVerifier(t *testing.T) {
	v := NewWebhookVerifier("whsec_test", 5*time.Minute)
	payload := []byte(`{"id":"evt_1","object":"event","type":"checkout.session.completed","data":{"object":{"id":"cs_1","client_reference_id":"tour-1","customer_email":"jonas@example.com","amount_total":49700}}}`)
	now := time.Now()

	header := v.SignatureHeader(payload, now.Add(-time.Minute))
	event, err := v.ParseEvent(payload, header)
	require.NoError(t, err)
	assert.Equal(t, "evt_1", event.ID)
	assert.Equal(t, EventCheckoutCompleted, event.Type)

	session, err := event.CheckoutSession()
	require.NoError(t, err)
	assert.Equal(t, "tour-1", session.ClientReferenceID)
	assert.Equal(t, int64(49700), session.AmountTotal)

	assert.ErrorIs(t, v.Verify(payload, ""), ErrMissingSignature)
	assert.ErrorIs(t, v.Verify(payload, "garbage"), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(append(payload, ' '), header), ErrInvalidSignature)
	assert.ErrorIs(t, v.Verify(payload, v.SignatureHeader(payload, now.Add(-10*time.Minute))), ErrStaleSignature)

	other := NewWebhookVerifier("other", 5*time.Minute)
	assert.ErrorIs(t, other.Verify(payload, header), ErrInvalidSignature)

	_, err = v.ParseEvent(payload, "")
	assert.ErrorIs(t, err, ErrMissingSignature)
}

func TestComposeAndLogMailer(t *testing.T) {
	msg := PasswordResetEmail("jonas@example.com", "http://localhost:3000/api/v1/users/resetPassword/abc")
	assert.Contains(t, msg.Text, "/resetPassword/abc")
	assert.Equal(t, "Your password reset token (valid for 10 min)", msg.Subject)

	out, err := compose("Natours <hello@natours.io>", msg)
	require.NoError(t, err)
	var raw bytes.Buffer
	_, err = out.WriteTo(&raw)
	require.NoError(t, err)
	assert.Contains(t, raw.String(), "jonas@example.com")
	assert.Contains(t, raw.String(), "hello@natours.io")
	assert.Contains(t, raw.String(), "Subject: Your password reset token (valid for 10 min)")

	_, err = compose("Natours <hello@natours.io>", Message{To: "not an address"})
	assert.Error(t, err)

	welcome := WelcomeEmail("jonas@example.com", "Jonas Schmedtmann", "http://localhost:3000/me")
	assert.Contains(t, welcome.Text, "Hi Jonas,")

	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	mailer, err := NewMailer(&config.EmailConfig{From: "Natours <hello@natours.io>"}, logger)
	require.NoError(t, err)
	require.NoError(t, mailer.Send(context.Background(), welcome))
	assert.Contains(t, buf.String(), "Welcome to the Natours Family!")

	smtpMailer, err := NewMailer(&config.EmailConfig{From: "Natours <hello@natours.io>", Host: "smtp.example.com", Port: 587}, logger)
	require.NoError(t, err)
	assert.IsType(t, &SMTPMailer{}, smtpMailer)
}
