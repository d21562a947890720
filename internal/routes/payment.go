package routes

import (
	"errors"

	"github.com/natours/api/internal/clients"
	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/service"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

// EventParser verifies and decodes webhook deliveries.
type EventParser interface {
	ParseEvent(payload []byte, header string) (*clients.Event, error)
}

// PaymentHandler serves checkout and the payment provider webhook.
type PaymentHandler struct {
	bookings *service.Bookings
	verifier EventParser
	logger   *logrus.Logger
}

func NewPaymentHandler(bookings *service.Bookings, verifier EventParser, logger *logrus.Logger) *PaymentHandler {
	return &PaymentHandler{bookings: bookings, verifier: verifier, logger: logger}
}

// CheckoutSession handles GET /bookings/checkout-session/:tourId.
func (p *PaymentHandler) CheckoutSession(c *fiber.Ctx) error {
	tourID, err := query.Coerce("tourId", c.Params("tourId"), query.KindID, true)
	if err != nil {
		return err
	}
	session, err := p.bookings.CheckoutSession(c.UserContext(), middleware.CurrentUser(c), tourID.(string))
	if err != nil {
		return err
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"session": session,
	})
}

// MyTours handles GET /bookings/my-tours.
func (p *PaymentHandler) MyTours(c *fiber.Ctx) error {
	tours, err := p.bookings.MyTours(c.UserContext(), middleware.GetUserID(c))
	if err != nil {
		return err
	}
	views := make([]View, len(tours))
	for i := range tours {
		if views[i], err = tourView(&tours[i]); err != nil {
			return err
		}
	}
	return c.JSON(fiber.Map{
		"status":  "success",
		"results": len(views),
		"data":    fiber.Map{"data": views},
	})
}

// Webhook handles POST /webhook-checkout. The raw body is verified
// against the signature header before anything is decoded.
func (p *PaymentHandler) Webhook(c *fiber.Ctx) error {
	event, err := p.verifier.ParseEvent(c.Body(), c.Get(clients.HeaderSignature))
	if err != nil {
		status := "invalid_signature"
		if !errors.Is(err, clients.ErrMissingSignature) && !errors.Is(err, clients.ErrInvalidSignature) &&
			!errors.Is(err, clients.ErrStaleSignature) {
			status = "invalid_payload"
		}
		metrics.RecordWebhookEvent("unknown", status)
		p.logger.WithError(err).Warn("Rejected webhook delivery")
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"status":  "fail",
			"message": "Webhook error: " + err.Error(),
		})
	}

	if err := p.bookings.HandleEvent(c.UserContext(), event); err != nil {
		p.logger.WithError(err).WithFields(logrus.Fields{
			"event_id":   event.ID,
			"event_type": event.Type,
		}).Error("Failed to handle webhook event")
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"status":  "error",
			"message": "Webhook event could not be processed",
		})
	}
	return c.JSON(fiber.Map{"received": true})
}
