package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	goredis "github.com/redis/go-redis/v9"

	"charterpay/internal/app/commands"
	apppayments "charterpay/internal/app/handlers/payments"
	"charterpay/internal/app/middleware"
	appoutbox "charterpay/internal/app/outbox"
	"charterpay/internal/app/policies"
	"charterpay/internal/app/queries"
	"charterpay/internal/app/reconcile"
	"charterpay/internal/app/uow"
	"charterpay/internal/infra/audit"
	"charterpay/internal/infra/broker/kafka"
	"charterpay/internal/infra/config"
	mongodb "charterpay/internal/infra/db/mongo"
	ginserver "charterpay/internal/infra/http/gin"
	"charterpay/internal/infra/inbox"
	"charterpay/internal/infra/notify"
	"charterpay/internal/infra/obs"
	infraoutbox "charterpay/internal/infra/outbox"
	"charterpay/internal/infra/rails/asyncorder"
	"charterpay/internal/infra/rails/holdcapture"
	"charterpay/internal/infra/storage/memory"
	redisstore "charterpay/internal/infra/storage/redis"
)

func main() {
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env := getenv("APP_ENV", "dev")
	logger := obs.NewLogger(env)

	cfg, err := config.Load()
	if err != nil {
		logger.Error("configuration invalid", "error", err)
		os.Exit(1)
	}

	deps, cleanup, err := buildDependencies(ctx, cfg, logger)
	if err != nil {
		logger.Error("startup failed", "error", err)
		os.Exit(1)
	}
	defer cleanup()

	app := buildApplication(cfg, deps, logger)

	server := ginserver.NewServer(cfg, obs.Middleware{Logger: logger}, obs.HealthHandlers{
		Checks: []obs.Check{{Name: "storage", Probe: deps.ready}},
	}, app.handlers)

	if deps.outboxWorker != nil {
		go func() {
			if err := deps.outboxWorker.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Error("outbox worker stopped", "error", err)
			}
		}()
	}
	go func() {
		if err := app.sweeper.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("reconciliation sweep stopped", "error", err)
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("http shutdown failed", "error", err)
		}
	}()

	logger.Info("HTTP server starting", "addr", cfg.HTTPAddr, "storage", cfg.StorageMode)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Error("http server failed", "error", err)
		os.Exit(1)
	}
	logger.Info("HTTP server stopped")
}

type dependencies struct {
	uowFactory   uow.UoWFactory
	outbox       appoutbox.Outbox
	idempotency  middleware.IdempotencyStore
	inboxStore   reconcile.Inbox
	notifier     policies.Dispatcher
	archiver     policies.Archiver
	outboxWorker *infraoutbox.Worker
	ready        func() error
}

func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (dependencies, func(), error) {
	var deps dependencies
	closers := []func(){}
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	var producer *kafka.Producer
	if len(cfg.KafkaBrokers) > 0 {
		p, err := kafka.NewProducer(cfg.KafkaBrokers, nil)
		if err != nil {
			cleanup()
			return deps, nil, err
		}
		producer = p
		closers = append(closers, func() { _ = p.Close() })
		deps.notifier = &notify.KafkaDispatcher{Producer: p, Topic: cfg.NotifyTopic, Logger: logger}
	} else {
		logger.Warn("kafka brokers not configured, notifications go to the log")
		deps.notifier = notify.LogDispatcher{Logger: logger}
	}

	if cfg.S3Endpoint != "" {
		archiver, err := audit.New(cfg.S3Endpoint, cfg.S3AccessKey, cfg.S3SecretKey, cfg.S3Bucket, cfg.S3UseSSL, logger)
		if err != nil {
			logger.Warn("webhook archiving disabled", "error", err)
			deps.archiver = audit.NoopArchiver{}
		} else {
			deps.archiver = archiver
		}
	} else {
		deps.archiver = audit.NoopArchiver{}
	}

	switch cfg.StorageMode {
	case "memory":
		paymentRepo := memory.NewPaymentRepository()
		bookingRepo := memory.NewBookingRepository()
		deps.uowFactory = memory.Factory{PaymentRepo: paymentRepo, BookingRepo: bookingRepo}
		deps.outbox = memory.NewOutbox()
		deps.idempotency = memory.NewIdempotencyStore()
		deps.inboxStore = memory.NewInbox()
		deps.ready = func() error { return nil }
	default:
		client, err := mongodb.New(cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			cleanup()
			return deps, nil, err
		}
		deps.uowFactory = mongodb.Factory{
			DB:          client.DB,
			PaymentRepo: mongodb.NewPaymentRepository(client.DB),
			BookingRepo: mongodb.NewBookingRepository(client.DB),
		}
		outboxStore := infraoutbox.NewStore(client.DB)
		deps.outbox = outboxStore
		deps.idempotency = mongodb.NewIdempotencyStore(client.DB, cfg.IdempotencyTTL)
		deps.inboxStore = inbox.NewStore(client.DB, "asyncorder-webhook")
		deps.ready = func() error {
			pingCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			return client.Ping(pingCtx)
		}
		if producer != nil {
			deps.outboxWorker = &infraoutbox.Worker{
				Store:       outboxStore,
				Producer:    producer,
				Interval:    cfg.OutboxPollInterval,
				TopicPrefix: cfg.KafkaTopicPrefix,
				Backoff:     cfg.RetryBackoff,
				MaxAttempts: 10,
				Logger:      logger,
			}
		}
	}

	if cfg.IdempotencyBackend == "redis" {
		rdb := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr, Password: cfg.RedisPassword})
		closers = append(closers, func() { _ = rdb.Close() })
		deps.idempotency = redisstore.NewIdempotencyStore(rdb, cfg.IdempotencyTTL)
	}

	return deps, cleanup, nil
}

type application struct {
	handlers ginserver.Handlers
	sweeper  *reconcile.Sweeper
}

func buildApplication(cfg config.Config, deps dependencies, logger *slog.Logger) application {
	railTimeout := 15 * time.Second
	holdRail := &holdcapture.Client{
		HTTP:    &http.Client{Timeout: railTimeout},
		BaseURL: cfg.HoldRailURL,
		APIKey:  cfg.HoldRailAPIKey,
		Logger:  logger,
	}
	asyncRail := &asyncorder.Client{
		HTTP:    &http.Client{Timeout: railTimeout},
		BaseURL: cfg.AsyncRailURL,
		APIKey:  cfg.AsyncRailAPIKey,
		Logger:  logger,
	}
	urls := apppayments.CallbackURLs{
		Callback: cfg.PublicBaseURL + "/webhooks/asyncorder",
		Success:  cfg.PublicBaseURL + "/payments/success",
		Cancel:   cfg.PublicBaseURL + "/payments/cancel",
	}
	encoder := appoutbox.JSONEventEncoder{}

	reconciler := &reconcile.Reconciler{
		UoWFactory: deps.uowFactory,
		Inbox:      deps.inboxStore,
		Outbox:     deps.outbox,
		Encoder:    encoder,
		Notifier:   deps.notifier,
		Archiver:   deps.archiver,
		Secret:     []byte(cfg.WebhookSecret),
		Logger:     logger,
	}

	commandBus := commands.NewInMemoryBus()
	commands.RegisterHandler(commandBus, apppayments.InitiatePaymentCommand{}.Key(), &apppayments.InitiatePaymentHandler{
		UoWFactory: deps.uowFactory,
		HoldRail:   holdRail,
		AsyncRail:  asyncRail,
		Outbox:     deps.outbox,
		Encoder:    encoder,
		Notifier:   deps.notifier,
		URLs:       urls,
		Logger:     logger,
	})
	commands.RegisterHandler(commandBus, apppayments.AdjustPriceCommand{}.Key(), &apppayments.AdjustPriceHandler{
		UoWFactory: deps.uowFactory,
		HoldRail:   holdRail,
		AsyncRail:  asyncRail,
		Outbox:     deps.outbox,
		Encoder:    encoder,
		Notifier:   deps.notifier,
		URLs:       urls,
		Logger:     logger,
	})
	commands.RegisterHandler(commandBus, apppayments.CapturePaymentCommand{}.Key(), &apppayments.CapturePaymentHandler{
		UoWFactory: deps.uowFactory,
		HoldRail:   holdRail,
		Outbox:     deps.outbox,
		Encoder:    encoder,
		Notifier:   deps.notifier,
		Logger:     logger,
	})
	commands.RegisterHandler(commandBus, apppayments.CancelPaymentCommand{}.Key(), &apppayments.CancelPaymentHandler{
		UoWFactory: deps.uowFactory,
		HoldRail:   holdRail,
		Outbox:     deps.outbox,
		Encoder:    encoder,
		Notifier:   deps.notifier,
		Logger:     logger,
	})
	commands.RegisterHandler(commandBus, apppayments.PollOrderCommand{}.Key(), &apppayments.PollOrderHandler{
		UoWFactory: deps.uowFactory,
		AsyncRail:  asyncRail,
		Reconciler: reconciler,
		Logger:     logger,
	})

	queryBus := queries.NewInMemoryBus()
	queries.RegisterHandler(queryBus, apppayments.GetPaymentQuery{}.Key(), &apppayments.GetPaymentHandler{UoWFactory: deps.uowFactory})
	queries.RegisterHandler(queryBus, apppayments.GetBookingPaymentQuery{}.Key(), &apppayments.GetBookingPaymentHandler{UoWFactory: deps.uowFactory})

	commandBusWithMiddleware := middleware.ChainCommands(
		commandBus,
		middleware.Idempotency(deps.idempotency, nil),
		middleware.Transaction(deps.uowFactory, nil),
		middleware.OutboxFlush(deps.outbox),
	)
	queryBusWithMiddleware := middleware.ChainQueries(queryBus)

	return application{
		handlers: ginserver.Handlers{
			Payment: ginserver.PaymentHandler{
				Commands: commandBusWithMiddleware,
				Queries:  queryBusWithMiddleware,
			},
			Webhook: ginserver.WebhookHandler{
				Reconciler: reconciler,
				Logger:     logger,
			},
			Operator: ginserver.RequireOperator([]byte(cfg.JWTSecret)),
		},
		sweeper: &reconcile.Sweeper{
			UoWFactory: deps.uowFactory,
			Rail:       asyncRail,
			Reconciler: reconciler,
			Interval:   cfg.SweepInterval,
			MaxAge:     cfg.SweepMaxAge,
			Logger:     logger,
		},
	}
}

func getenv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
