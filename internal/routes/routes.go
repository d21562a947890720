package routes

import (
	"time"

	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/logging"
	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/models"
	"github.com/natours/api/internal/query"
	"github.com/natours/api/internal/service"
	"github.com/natours/api/internal/store"
	"github.com/natours/api/internal/views"

	"github.com/gofiber/fiber/v2"
	"github.com/sirupsen/logrus"
)

const serviceName = "natours-api"

// Deps is everything the route table needs. Renderer may be nil, in which
// case the HTML pages are not mounted.
type Deps struct {
	Config     *config.Config
	Logger     *logrus.Logger
	Store      *store.Store
	Middleware *middleware.Manager
	Accounts   *service.Accounts
	Bookings   *service.Bookings
	Ratings    *service.Ratings
	Tours      *service.Tours
	Webhooks   EventParser
	Renderer   *views.Renderer
}

// Setup configures all routes on app.
func Setup(app *fiber.App, d Deps) {
	cfg, logger, mw := d.Config, d.Logger, d.Middleware
	protect := mw.Auth.Protect()
	populate := NewPopulator(d.Store)

	authHandler := NewAuthHandler(d.Accounts, cfg, logger)
	tourHandler := NewTourHandler(d.Tours)
	paymentHandler := NewPaymentHandler(d.Bookings, d.Webhooks, logger)

	tours := &Resource[models.Tour, *models.Tour]{
		Collection: d.Store.Tours,
		Schema:     models.TourSchema,
		Scope:      []query.Predicate{models.VisibleTours},
		Present:    populate.Tours,
		Logger:     logger,
	}
	reviews := &Resource[models.Review, *models.Review]{
		Collection:      d.Store.Reviews,
		Schema:          models.ReviewSchema,
		ParentParam:     ParamTourID,
		ParentField:     "tour",
		NotFoundMessage: MsgNoSuchReview,
		BeforeCreate:    setTourUserIDs,
		Authorize:       checkIfAuthor,
		AfterWrite:      recalculateRatings(d.Ratings),
		Present:         populate.Reviews,
		Logger:          logger,
	}
	users := &Resource[models.User, *models.User]{
		Collection: d.Store.Users,
		Schema:     models.UserSchema,
		Scope:      []query.Predicate{models.ActiveUsers},
		Logger:     logger,
	}
	bookings := &Resource[models.Booking, *models.Booking]{
		Collection: d.Store.Bookings,
		Schema:     models.BookingSchema,
		Present:    populate.Bookings,
		Logger:     logger,
	}

	// System endpoints
	app.Get("/healthz", healthCheck)
	app.Get("/readyz", readinessCheck(d.Store, mw))
	app.Get("/version", versionHandler)
	app.Get(cfg.Observability.MetricsPath, metrics.PrometheusHandler())

	// The signature covers the raw body, so this sits outside /api.
	app.Post("/webhook-checkout", paymentHandler.Webhook)

	api := app.Group("/api/v1")
	api.Use(mw.RateLimit.Handle())
	api.Use(mw.Idempotency.Handle())

	// Tours
	tourRoutes := api.Group("/tours")
	tourRoutes.Get("/top-5-cheap", AliasTopTours, tours.GetAll)
	tourRoutes.Get("/tour-stats", tourHandler.Stats)
	tourRoutes.Get("/monthly-plan/:year", protect,
		middleware.RestrictTo(models.RoleAdmin, models.RoleLeadGuide, models.RoleGuide), tourHandler.MonthlyPlan)
	tourRoutes.Get("/tours-within/:distance/center/:latlng/unit/:unit", tourHandler.Within)
	tourRoutes.Get("/distances/:latlng/unit/:unit", tourHandler.Distances)
	tourRoutes.Get("/", tours.GetAll)
	tourRoutes.Get("/:id", tours.GetOne)
	tourAdmin := middleware.RestrictTo(models.RoleAdmin, models.RoleLeadGuide)
	tourRoutes.Post("/", protect, tourAdmin, tours.CreateOne)
	tourRoutes.Patch("/:id", protect, tourAdmin, tours.UpdateOne)
	tourRoutes.Delete("/:id", protect, tourAdmin, tours.DeleteOne)

	// Reviews, flat and nested under a tour
	mountReviews(api.Group("/reviews"), protect, reviews)
	mountReviews(api.Group("/tours/:"+ParamTourID+"/reviews"), protect, reviews)

	// Users
	userRoutes := api.Group("/users")
	userRoutes.Post("/signup", authHandler.Signup)
	userRoutes.Post("/login", authHandler.Login)
	userRoutes.Get("/logout", authHandler.Logout)
	userRoutes.Post("/forgotPassword", authHandler.ForgotPassword)
	userRoutes.Patch("/resetPassword/:token", authHandler.ResetPassword)

	userRoutes.Get("/me", protect, authHandler.GetMe)
	userRoutes.Patch("/updateMyPassword", protect, authHandler.UpdatePassword)
	userRoutes.Patch("/updateMe", protect, authHandler.UpdateMe)
	userRoutes.Delete("/deleteMe", protect, authHandler.DeleteMe)

	userAdmin := middleware.RestrictTo(models.RoleAdmin)
	userRoutes.Get("/", protect, userAdmin, users.GetAll)
	userRoutes.Post("/", protect, userAdmin, CreateUser)
	userRoutes.Get("/:id", protect, userAdmin, users.GetOne)
	userRoutes.Patch("/:id", protect, userAdmin, users.UpdateOne)
	userRoutes.Delete("/:id", protect, userAdmin, users.DeleteOne)

	// Bookings
	bookingRoutes := api.Group("/bookings")
	bookingRoutes.Get("/checkout-session/:tourId", protect, paymentHandler.CheckoutSession)
	bookingRoutes.Get("/my-tours", protect, paymentHandler.MyTours)
	bookingAdmin := middleware.RestrictTo(models.RoleAdmin, models.RoleLeadGuide)
	bookingRoutes.Get("/", protect, bookingAdmin, bookings.GetAll)
	bookingRoutes.Post("/", protect, bookingAdmin, bookings.CreateOne)
	bookingRoutes.Get("/:id", protect, bookingAdmin, bookings.GetOne)
	bookingRoutes.Patch("/:id", protect, bookingAdmin, bookings.UpdateOne)
	bookingRoutes.Delete("/:id", protect, bookingAdmin, bookings.DeleteOne)

	// Pages
	if d.Renderer != nil {
		web := NewWebHandler(d.Renderer, d.Store, d.Accounts, d.Bookings, authHandler)
		identify := mw.Auth.OptionalIdentity()
		app.Get("/", Alerts, identify, web.Overview)
		app.Get("/tour/:slug", identify, web.Tour)
		app.Get("/login", identify, web.LoginForm)
		app.Post("/login", web.Login)
		app.Get("/me", protect, web.Account)
		app.Get("/my-tours", Alerts, protect, web.MyTours)
		app.Post("/submit-user-data", protect, web.SubmitUserData)
	}

	app.Use(middleware.NotFoundRoute)
}

func mountReviews(r fiber.Router, protect fiber.Handler, reviews *Resource[models.Review, *models.Review]) {
	authors := middleware.RestrictTo(models.RoleUser, models.RoleAdmin)
	r.Get("/", protect, reviews.GetAll)
	r.Post("/", protect, middleware.RestrictTo(models.RoleUser), reviews.CreateOne)
	r.Get("/:id", protect, reviews.GetOne)
	r.Patch("/:id", protect, authors, reviews.UpdateOne)
	r.Delete("/:id", protect, authors, reviews.DeleteOne)
}

func healthCheck(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   serviceName,
	})
}

// readinessCheck reports ready when the store and Redis answer.
func readinessCheck(st *store.Store, mw *middleware.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if err := st.Ping(c.UserContext()); err != nil {
			return notReady(c, "store unavailable", err)
		}
		if err := mw.Ready(c.UserContext()); err != nil {
			return notReady(c, "redis unavailable", err)
		}
		return c.JSON(fiber.Map{
			"status":    "ready",
			"timestamp": time.Now().UTC(),
			"service":   serviceName,
		})
	}
}

func notReady(c *fiber.Ctx, reason string, err error) error {
	return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
		"status":    "not ready",
		"reason":    reason,
		"error":     err.Error(),
		"timestamp": time.Now().UTC(),
	})
}

func versionHandler(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"service": serviceName,
		"version": logging.Version(),
	})
}
