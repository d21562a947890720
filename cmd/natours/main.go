package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/natours/api/internal/auth"
	"github.com/natours/api/internal/clients"
	"github.com/natours/api/internal/config"
	"github.com/natours/api/internal/logging"
	"github.com/natours/api/internal/metrics"
	"github.com/natours/api/internal/middleware"
	"github.com/natours/api/internal/routes"
	"github.com/natours/api/internal/service"
	"github.com/natours/api/internal/store"
	"github.com/natours/api/internal/views"

	"github.com/gofiber/contrib/otelfiber"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/helmet"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/sirupsen/logrus"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logrus.Fatalf("Failed to load configuration: %v", err)
	}

	logger := logging.New(cfg)

	if err := metrics.Init(); err != nil {
		logger.WithError(err).Fatal("Failed to initialize metrics")
	}

	tracingShutdown, err := middleware.InitTracing(&cfg.Observability, logging.Version(), cfg.Server.Environment, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to setup tracing")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracingShutdown(shutdownCtx); err != nil {
			logger.WithError(err).Error("Failed to shutdown tracing")
		}
	}()

	if cfg.JWT.SecretFromAWS {
		secret, err := middleware.GetSecretValue(&cfg.AWS, "jwt_secret", logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to load JWT secret")
		}
		cfg.JWT.Secret = secret
	}

	ctx := context.Background()
	st, err := store.Open(ctx, cfg, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open store")
	}

	redisClient, err := middleware.NewRedisClient(&cfg.Redis, &cfg.AWS, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}

	tokens := auth.NewTokens(cfg.JWT.Secret, cfg.JWT.ExpiresIn)
	users := service.NewUsers(st.Users)
	mw := middleware.NewManager(cfg, auth.NewGuard(tokens, users), redisClient, logger)
	defer func() {
		if err := mw.Close(); err != nil {
			logger.WithError(err).Error("Failed to close middleware resources")
		}
	}()

	mailer, err := clients.NewMailer(&cfg.Email, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to configure mailer")
	}
	accounts := service.NewAccounts(st.Users, tokens, auth.NewPasswords(cfg.JWT.BcryptCost), mailer, cfg.Server.PublicURL, logger)
	bookings := service.NewBookings(st, clients.NewPaymentClient(&cfg.Payment, logger),
		service.NewEventDeduper(redisClient), cfg.Server.PublicURL, logger)

	renderer, err := views.New()
	if err != nil {
		logger.WithError(err).Fatal("Failed to parse page templates")
	}

	app := fiber.New(fiber.Config{
		AppName:      "Natours",
		Views:        renderer.Engine(),
		BodyLimit:    cfg.Server.BodyLimit,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
		ErrorHandler: middleware.ErrorHandler(!cfg.Server.IsProduction(), logger, renderer),
	})

	app.Use(requestid.New())
	app.Use(otelfiber.Middleware())
	app.Use(metrics.HTTPMetricsMiddleware())
	app.Use(mw.ErrorLogger.Handle())
	app.Use(recover.New())
	app.Use(helmet.New())
	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.CORS.AllowOrigins,
		AllowMethods:     "GET,POST,HEAD,PUT,DELETE,PATCH,OPTIONS",
		AllowHeaders:     "Origin,Content-Type,Accept,Authorization,X-Requested-With,Idempotency-Key",
		AllowCredentials: cfg.CORS.AllowOrigins != "*",
		MaxAge:           86400,
	}))
	if !cfg.Server.IsProduction() {
		// profiling at /debug/pprof/
		app.Use(pprof.New())
	}
	app.Static("/", "./public")

	routes.Setup(app, routes.Deps{
		Config:     cfg,
		Logger:     logger,
		Store:      st,
		Middleware: mw,
		Accounts:   accounts,
		Bookings:   bookings,
		Ratings:    service.NewRatings(st.Tours, st.Reviews, logger),
		Tours:      service.NewTours(st.Tours),
		Webhooks:   clients.NewWebhookVerifier(cfg.Payment.WebhookSecret, cfg.Payment.Tolerance),
		Renderer:   renderer,
	})

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-quit
		logger.Info("Gracefully shutting down...")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			logger.WithError(err).Error("Server shutdown failed")
		}
	}()

	logger.WithFields(logrus.Fields{
		"port":        cfg.Server.Port,
		"environment": cfg.Server.Environment,
		"store":       st.Driver,
	}).Info("Starting Natours server")
	if err := app.Listen(":" + cfg.Server.Port); err != nil {
		logger.WithError(err).Fatal("Server failed to start")
	}
}
