package clients

import (
	"context"
	"errors"
	"math"
	"net/http"
	"strings"
	"time"

	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/middleware"
	apperrors "github.com/natours/api/pkg/errors"

	"github.com/sirupsen/logrus"
	"github.com/stripe/stripe-go/v76"
	"github.com/stripe/stripe-go/v76/checkout/session"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
)

// CheckoutRequest describes one tour purchase.
type CheckoutRequest struct {
	TourID        string
	TourName      string
	Summary       string
	ImageURL      string
	Price         float64
	CustomerEmail string
	SuccessURL    string
	CancelURL     string
}

// CheckoutSession is the provider's hosted payment page.
type CheckoutSession struct {
	ID                string `json:"id"`
	URL               string `json:"url"`
	ClientReferenceID string `json:"client_reference_id"`
	CustomerEmail     string `json:"customer_email"`
	AmountTotal       int64  `json:"amount_total"`
	Currency          string `json:"currency"`
}

// PaymentClient creates Stripe checkout sessions.
type PaymentClient struct {
	sessions session.Client
	currency string
	breaker  *middleware.CircuitBreaker
	logger   *logrus.Logger
}

func NewPaymentClient(cfg *config.PaymentConfig, logger *logrus.Logger) *PaymentClient {
	httpClient := &http.Client{
		Timeout: cfg.Timeout,
		Transport: &instrumentedTransport{base: &http.Transport{
			MaxIdleConns:        100,
			MaxConnsPerHost:     10,
			MaxIdleConnsPerHost: 10,
			IdleConnTimeout:     90 * time.Second,
		}},
	}

	// the breaker decides about retries
	backend := stripe.GetBackendWithConfig(stripe.APIBackend, &stripe.BackendConfig{
		URL:               stripe.String(strings.TrimRight(cfg.BaseURL, "/")),
		HTTPClient:        httpClient,
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     logger,
	})

	return &PaymentClient{
		sessions: session.Client{B: backend, Key: cfg.SecretKey},
		currency: cfg.Currency,
		breaker:  middleware.NewCircuitBreaker("payment", middleware.DefaultBreakerSettings, logger),
		logger:   logger,
	}
}

// CreateCheckoutSession opens a card checkout for a single tour.
func (c *PaymentClient) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	if c.sessions.Key == "" {
		return nil, apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "Payments are not configured", nil)
	}

	product := &stripe.CheckoutSessionLineItemPriceDataProductDataParams{
		Name: stripe.String(req.TourName + " Tour"),
	}
	if req.Summary != "" {
		product.Description = stripe.String(req.Summary)
	}
	if req.ImageURL != "" {
		product.Images = stripe.StringSlice([]string{req.ImageURL})
	}
	params := &stripe.CheckoutSessionParams{
		Mode:               stripe.String(string(stripe.CheckoutSessionModePayment)),
		PaymentMethodTypes: stripe.StringSlice([]string{"card"}),
		SuccessURL:         stripe.String(req.SuccessURL),
		CancelURL:          stripe.String(req.CancelURL),
		CustomerEmail:      stripe.String(req.CustomerEmail),
		ClientReferenceID:  stripe.String(req.TourID),
		LineItems: []*stripe.CheckoutSessionLineItemParams{{
			Quantity: stripe.Int64(1),
			PriceData: &stripe.CheckoutSessionLineItemPriceDataParams{
				Currency:    stripe.String(c.currency),
				UnitAmount:  stripe.Int64(ToMinorUnits(req.Price)),
				ProductData: product,
			},
		}},
	}

	ctx, span := middleware.StartSpan(ctx, "payment checkout.session.create")
	defer span.End()
	span.SetAttributes(attribute.String("upstream", "payment"), attribute.String("tour.id", req.TourID))

	var created *stripe.CheckoutSession
	var rejected *stripe.Error
	err := c.breaker.Execute(ctx, func(ctx context.Context) error {
		params.Context = ctx
		s, err := c.sessions.New(params)
		// 4xx answers reject the request, not the provider, and leave the
		// breaker alone
		if errors.As(err, &rejected) && rejected.HTTPStatusCode >= 400 && rejected.HTTPStatusCode < 500 {
			return nil
		}
		rejected = nil
		created = s
		return err
	})
	if err == nil && rejected != nil {
		c.logger.WithFields(logrus.Fields{
			"status_code": rejected.HTTPStatusCode,
			"message":     rejected.Msg,
		}).Warn("Payment provider rejected request")
		err = apperrors.NewAppError(apperrors.CodeBadRequest, "Payment could not be created", rejected)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, paymentError(err)
	}

	return &CheckoutSession{
		ID:                created.ID,
		URL:               created.URL,
		ClientReferenceID: created.ClientReferenceID,
		CustomerEmail:     created.CustomerEmail,
		AmountTotal:       created.AmountTotal,
		Currency:          string(created.Currency),
	}, nil
}

func paymentError(err error) error {
	switch {
	case errors.Is(err, middleware.ErrCircuitOpen):
		return apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "Payment provider is unavailable. Please try again later.", err)
	case errors.Is(err, context.DeadlineExceeded):
		return apperrors.NewAppError(apperrors.CodeUpstreamTimeout, "Payment provider timed out. Please try again later.", err)
	}
	if _, ok := apperrors.As(err); ok {
		return err
	}
	return apperrors.NewAppError(apperrors.CodeUpstreamUnavailable, "Payment provider is unavailable. Please try again later.", err)
}

// ToMinorUnits converts a price to cents.
func ToMinorUnits(price float64) int64 {
	return int64(math.Round(price * 100))
}

// instrumentedTransport propagates the trace context to the provider and
// records call latency per status.
type instrumentedTransport struct {
	base http.RoundTripper
}

func (t *instrumentedTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	req = req.Clone(req.Context())
	otel.GetTextMapPropagator().Inject(req.Context(), propagation.HeaderCarrier(req.Header))

	resp, err := t.base.RoundTrip(req)
	status := 0
	if resp != nil {
		status = resp.StatusCode
	}
	metrics.RecordBackendCall("payment", req.Method, status, time.Since(start))
	return resp, err
}
