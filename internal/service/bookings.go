package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/natours/api/internal/clients"
	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/store"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const eventDedupeTTL = 24 * time.Hour

// CheckoutCreator opens hosted payment pages.
type CheckoutCreator interface {
	CreateCheckoutSession(ctx context.Context, req clients.CheckoutRequest) (*clients.CheckoutSession, error)
}

// EventDeduper remembers processed webhook events. Claim reports false
// when the event was claimed before.
type EventDeduper interface {
	Claim(ctx context.Context, eventID string) (bool, error)
	Release(ctx context.Context, eventID string) error
}

// NewEventDeduper uses Redis when a client is available.
func NewEventDeduper(client *redis.Client) EventDeduper {
	if client == nil {
		return NewMemoryDeduper(eventDedupeTTL)
	}
	return &RedisDeduper{client: client, ttl: eventDedupeTTL}
}

// Bookings runs tour checkout and records paid bookings.
type Bookings struct {
	tours     store.Collection
	bookings  store.Collection
	users     *Users
	payments  CheckoutCreator
	deduper   EventDeduper
	publicURL string
	logger    *logrus.Logger
}

func NewBookings(st *store.Store, payments CheckoutCreator, deduper EventDeduper, publicURL string, logger *logrus.Logger) *Bookings {
	return &Bookings{
		tours:     st.Tours,
		bookings:  st.Bookings,
		users:     NewUsers(st.Users),
		payments:  payments,
		deduper:   deduper,
		publicURL: publicURL,
		logger:    logger,
	}
}

// CheckoutSession opens a payment page for user to buy a visible tour.
func (b *Bookings) CheckoutSession(ctx context.Context, user *models.User, tourID string) (*clients.CheckoutSession, error) {
	var tour models.Tour
	if err := b.tours.FindOne(ctx, query.Filter{query.Eq("id", tourID), models.VisibleTours}, &tour); err != nil {
		return nil, err
	}

	req := clients.CheckoutRequest{
		TourID:        tour.ID,
		TourName:      tour.Name,
		Summary:       tour.Summary,
		Price:         tour.Price,
		CustomerEmail: user.Email,
		SuccessURL:    b.publicURL + "/my-tours?alert=booking",
		CancelURL:     b.publicURL + "/tour/" + tour.Slug,
	}
	if tour.ImageCover != "" {
		req.ImageURL = b.publicURL + "/img/tours/" + tour.ImageCover
	}

	session, err := b.payments.CreateCheckoutSession(ctx, req)
	if err != nil {
		return nil, err
	}
	b.logger.WithFields(logrus.Fields{
		"user_id":    user.ID,
		"tour_id":    tour.ID,
		"session_id": session.ID,
	}).Info("Checkout session created")
	return session, nil
}

// HandleEvent applies a verified webhook event. Completed checkouts
// become bookings once per event id. Other event types are accepted and
// ignored. A transient failure releases the claim so the provider's
// redelivery is processed; a malformed event keeps it and is acknowledged,
// since no redelivery can fix it.
func (b *Bookings) HandleEvent(ctx context.Context, event *clients.Event) error {
	if event.Type != clients.EventCheckoutCompleted {
		metrics.RecordWebhookEvent(event.Type, "ignored")
		return nil
	}

	first, err := b.deduper.Claim(ctx, event.ID)
	if err != nil {
		metrics.RecordWebhookEvent(event.Type, "error")
		return fmt.Errorf("failed to claim webhook event: %w", err)
	}
	if !first {
		metrics.RecordWebhookEvent(event.Type, "duplicate")
		return nil
	}

	status, err := b.bookCheckout(ctx, event)
	if err != nil {
		if releaseErr := b.deduper.Release(ctx, event.ID); releaseErr != nil {
			b.logger.WithError(releaseErr).WithField("event_id", event.ID).Warn("Failed to release webhook event")
		}
		metrics.RecordWebhookEvent(event.Type, "error")
		return err
	}
	metrics.RecordWebhookEvent(event.Type, status)
	return nil
}

func (b *Bookings) bookCheckout(ctx context.Context, event *clients.Event) (string, error) {
	session, err := event.CheckoutSession()
	if err != nil {
		b.logger.WithError(err).WithField("event_id", event.ID).Warn("Malformed checkout event")
		return "invalid_payload", nil
	}

	logger := b.logger.WithFields(logrus.Fields{
		"event_id":   event.ID,
		"session_id": session.ID,
		"tour_id":    session.ClientReferenceID,
	})

	// a session for an account or tour that is gone cannot be booked;
	// retrying would not change that
	user, err := b.users.FindByEmail(ctx, session.CustomerEmail)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("No user for checkout session")
		return "unmatched", nil
	}
	if err != nil {
		return "", err
	}
	var tour models.Tour
	err = b.tours.FindOne(ctx, store.ByID(session.ClientReferenceID), &tour)
	if errors.Is(err, store.ErrNotFound) {
		logger.Warn("No tour for checkout session")
		return "unmatched", nil
	}
	if err != nil {
		return "", err
	}

	booking := &models.Booking{
		Tour:  tour.ID,
		User:  user.ID,
		Price: float64(session.AmountTotal) / 100,
	}
	booking.ApplyDefaults(time.Now())
	if err := models.Validate(booking); err != nil {
		logger.WithError(err).Warn("Checkout event does not describe a valid booking")
		return "invalid_payload", nil
	}
	if err := b.bookings.Insert(ctx, booking); err != nil {
		return "", err
	}

	logger.WithFields(logrus.Fields{"booking_id": booking.ID, "user_id": user.ID}).Info("Booking created from checkout")
	return "processed", nil
}

// MyTours returns the visible tours user has booked.
func (b *Bookings) MyTours(ctx context.Context, userID string) ([]models.Tour, error) {
	var bookings []models.Booking
	if err := b.bookings.Find(ctx, query.Query{Filter: query.Filter{query.Eq("user", userID)}}, &bookings); err != nil {
		return nil, fmt.Errorf("failed to load bookings: %w", err)
	}
	if len(bookings) == 0 {
		return []models.Tour{}, nil
	}

	seen := make(map[string]bool, len(bookings))
	ids := make([]interface{}, 0, len(bookings))
	for _, bk := range bookings {
		if !seen[bk.Tour] {
			seen[bk.Tour] = true
			ids = append(ids, bk.Tour)
		}
	}

	var tours []models.Tour
	q := query.Query{Filter: query.Filter{query.In("id", ids...), models.VisibleTours}}
	if err := b.tours.Find(ctx, q, &tours); err != nil {
		return nil, fmt.Errorf("failed to load booked tours: %w", err)
	}
	return tours, nil
}

// RedisDeduper claims events with SET NX.
type RedisDeduper struct {
	client *redis.Client
	ttl    time.Duration
}

func (d *RedisDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	return d.client.SetNX(ctx, dedupeKey(eventID), time.Now().Unix(), d.ttl).Result()
}

func (d *RedisDeduper) Release(ctx context.Context, eventID string) error {
	return d.client.Del(ctx, dedupeKey(eventID)).Err()
}

func dedupeKey(eventID string) string {
	return "webhook:event:" + eventID
}

// MemoryDeduper claims events in process.
type MemoryDeduper struct {
	ttl time.Duration
	now func() time.Time

	mu     sync.Mutex
	claims map[string]time.Time
}

func NewMemoryDeduper(ttl time.Duration) *MemoryDeduper {
	return &MemoryDeduper{ttl: ttl, now: time.Now, claims: make(map[string]time.Time)}
}

func (d *MemoryDeduper) Claim(ctx context.Context, eventID string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	for id, at := range d.claims {
		if now.Sub(at) >= d.ttl {
			delete(d.claims, id)
		}
	}
	if _, ok := d.claims[eventID]; ok {
		return false, nil
	}
	d.claims[eventID] = now
	return true, nil
}

func (d *MemoryDeduper) Release(ctx context.Context, eventID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.claims, eventID)
	return nil
}
