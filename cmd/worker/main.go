package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
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
			"component": "worker",
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

	amqpBroker, err := broker.NewAMQPBroker(os.Getenv("AMQP_URI"))
	if err != nil {
		logger.Fatal("Cannot connect to Broker",
			zap.Error(err),
		)
	}
	defer amqpBroker.Close()

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

	task, err := subscription.NewTask(subscription.TaskOptions{
		Payments:      paymentManager,
		Tariffs:       tariffManager,
		Subscriptions: subscriptionManager,
		Gateway:       stripeClient,
		Consumer:      amqpBroker,
		Notifier:      notifier,
		Logger:        logger,
	})
	if err != nil {
		logger.Fatal("Cannot initialize confirmation Task",
			zap.Error(err),
		)
	}

	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())

	if err := task.HandleConfirmations(ctx); err != nil {
		logger.Fatal("Cannot start confirmation Task",
			zap.Error(err),
		)
	}

	logger.Info("Confirmation worker started")

	<-c
	cancel()
}
