package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"net/http/pprof"
	"os"
	"time"

	"github.com/practix/billing/auth"
	"github.com/practix/billing/broker"
	"github.com/practix/billing/db"
	"github.com/practix/billing/gateway"
	"github.com/practix/billing/payment"
	"github.com/practix/billing/subscription"
	"github.com/practix/billing/tariff"

	"github.com/TheZeroSlave/zapsentry"
	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi"
	"github.com/go-chi/cors"
	"github.com/go-redis/redis/v7"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Build-time injected variables
var (
	Version = ""
)

func main() {
	var logger *zap.Logger
	var authEnvironment auth.Environment
	var dotFile string
	var err error

	// Determine running environment and initialize structural logger
	env := os.Getenv("API_ENV")
	if "production" == env {
		dotFile = ".env.production"
		authEnvironment = auth.EnvProduction
		logger, err = zap.NewProduction()
	} else {
		dotFile = ".env.development"
		authEnvironment = auth.EnvDevelopment
		logger, err = zap.NewDevelopment()
	}

	if err != nil {
		log.Fatalf("Cannot initialize logger: %v\n", err)
	}
	logger = logger.With(zap.String("Version", Version))
	defer logger.Sync()

	// Load configurations from dotFile
	if err := godotenv.Load(dotFile); err != nil {
		logger.Fatal("Cannot load configurations from .env",
			zap.Error(err),
		)
	}

	// Initialize sentry for error reporting
	if err := sentry.Init(sentry.ClientOptions{
		Environment: string(authEnvironment),
		Debug:       authEnvironment == auth.EnvDevelopment,
	}); err != nil {
		logger.Fatal("Cannot initialize sentry",
			zap.Error(err),
		)
	}
	defer sentry.Flush(time.Second * 2)

	// Attach sentry to zap so we can do automatic error capturing
	cfg := zapsentry.Configuration{
		Level: zapcore.ErrorLevel,
		Tags: map[string]string{
			"component": "api",
		},
	}
	core, err := zapsentry.NewCore(cfg, zapsentry.NewSentryClientFromClient(sentry.CurrentHub().Client()))
	if err != nil {
		logger.Fatal("Cannot initialize zapsentry",
			zap.Error(err),
		)
	}
	logger = zapsentry.AttachCoreToLogger(core, logger)

	dbConn, err := db.New(db.Options{
		URI:    os.Getenv("POSTGRES_URI"),
		Logger: logger,
	})
	if err != nil {
		logger.Fatal("Cannot connect to Postgres",
			zap.Error(err),
		)
	}

	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    []string{os.Getenv("REDIS_URI")},
		Password: os.Getenv("REDIS_PW"),
		DB:       0,
	})
	if _, err := rdb.Ping().Result(); err != nil {
		logger.Fatal("Cannot connect to Redis",
			zap.Error(err),
		)
	}
	defer rdb.Close()

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

	authManager, err := auth.New(auth.Options{
		Logger:        logger,
		JWTSigningKey: os.Getenv("JWT_SIGNING_KEY"),
		Environment:   authEnvironment,
	})
	if err != nil {
		logger.Fatal("Cannot initialize AuthManager",
			zap.Error(err),
		)
	}

	notifier, err := auth.NewNotifier(auth.NotifierOptions{
		SubscribeURL:   os.Getenv("AUTH_SUBSCRIBE_URL"),
		UnsubscribeURL: os.Getenv("AUTH_UNSUBSCRIBE_URL"),
		APIKey:         os.Getenv("AUTH_API_KEY"),
		Logger:         logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize auth Notifier",
			zap.Error(err),
		)
	}

	stripeClient, err := gateway.NewStripeClient(gateway.StripeOptions{
		Key:       os.Getenv("STRIPE_KEY"),
		ReturnURL: os.Getenv("STRIPE_RETURN_URL"),
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Stripe client",
			zap.Error(err),
		)
	}

	tariffManager, err := tariff.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize TariffManager",
			zap.Error(err),
		)
	}

	if authEnvironment == auth.EnvDevelopment {
		if err := tariffManager.Seed(context.Background()); err != nil {
			logger.Fatal("Cannot seed tariff catalog",
				zap.Error(err),
			)
		}
	}

	paymentManager, err := payment.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize PaymentManager",
			zap.Error(err),
		)
	}

	subscriptionManager, err := subscription.NewManager(logger, dbConn)
	if err != nil {
		logger.Fatal("Cannot initialize SubscriptionManager",
			zap.Error(err),
		)
	}

	tariffRouter, err := tariff.NewService(tariff.ServiceOptions{
		TariffManager: tariffManager,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Tariff Service Router",
			zap.Error(err),
		)
	}

	billingRouter, err := subscription.NewService(subscription.ServiceOptions{
		Auth:          authManager,
		Tariffs:       tariffManager,
		Payments:      paymentManager,
		Subscriptions: subscriptionManager,
		Gateway:       stripeClient,
		Producer:      amqpBroker,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize Billing Service Router",
			zap.Error(err),
		)
	}

	webhookRouter, err := payment.NewWebhook(payment.WebhookOptions{
		PaymentManager: paymentManager,
		Producer:       amqpBroker,
		Redis:          rdb,
		Logger:         logger,
		SigningSecret:  os.Getenv("STRIPE_WEBHOOK_SECRET"),
	})
	if err != nil {
		logger.Fatal("Cannot initialize Webhook Router",
			zap.Error(err),
		)
	}

	rootRouter := chi.NewRouter()

	rootRouter.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: false,
		MaxAge:           300,
	}))

	rootRouter.Mount("/api/v1/tariffs", tariffRouter.Router())
	rootRouter.Mount("/api/v1/billing", billingRouter.Router())
	rootRouter.Mount("/api/v1/webhook", webhookRouter.Router())

	rootRouter.HandleFunc("/pprof/*", pprof.Index)
	rootRouter.HandleFunc("/pprof/cmdline", pprof.Cmdline)
	rootRouter.HandleFunc("/pprof/profile", pprof.Profile)
	rootRouter.HandleFunc("/pprof/symbol", pprof.Symbol)
	rootRouter.HandleFunc("/pprof/trace", pprof.Trace)

	rootRouter.Get("/healthcheck", func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "ok")
	})

	addr := os.Getenv("API_ADDR")
	if addr == "" {
		addr = ":8000"
	}

	srv := &http.Server{
		Handler: rootRouter,
		Addr:    addr,
	}

	logger.Info("Starting API server",
		zap.String("Addr", addr),
	)

	log.Fatalln(srv.ListenAndServe())
}
