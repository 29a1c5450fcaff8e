package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/dmaia/clinicsched/internal/dispatch"
	"github.com/dmaia/clinicsched/internal/email"
	"github.com/dmaia/clinicsched/internal/outbox"
	"github.com/dmaia/clinicsched/internal/scheduler"
	"github.com/dmaia/clinicsched/internal/sms"
	"github.com/dmaia/clinicsched/internal/storage"
	"github.com/dmaia/clinicsched/libs/config"
	"github.com/dmaia/clinicsched/libs/db"
	"github.com/dmaia/clinicsched/libs/httpx"
	"github.com/dmaia/clinicsched/libs/kafkax"
	otelx "github.com/dmaia/clinicsched/libs/otel"
	"github.com/dmaia/clinicsched/libs/runtime"
)

func main() {
	service := config.String("SERVICE_NAME", "clinicsched")
	port, err := config.Port("PORT", "8080")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	tzName := config.String("CLINIC_TIMEZONE", "America/Sao_Paulo")
	loc, err := time.LoadLocation(tzName)
	if err != nil {
		logger.Error("invalid clinic timezone, falling back to UTC", "tz", tzName, "err", err)
		loc = time.UTC
	}

	store := storage.NewStore(pool)
	outboxRepo := outbox.NewRepository(pool)
	outboxPublisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
		Brokers:   config.String("KAFKA_BROKERS", ""),
		PollEvery: 2 * time.Second,
		BatchSize: 50,
	})
	go outboxPublisher.Run(ctx)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "localhost"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@clinicsched.local"),
	)

	var smsSender dispatch.SMSSender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "webhook":
		smsSender = sms.NewWebhookSender(
			config.String("SMS_WEBHOOK_URL", ""),
			config.String("SMS_WEBHOOK_TOKEN", ""),
		)
	default:
		smsSender = sms.NewNoopSender()
	}

	var rdb *redis.Client
	var limiter dispatch.SendLimiter
	if addr := config.String("REDIS_ADDR", ""); addr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: addr})
		defer rdb.Close()
		limiter = dispatch.NewRedisSendLimiter(rdb,
			config.Int("SEND_RATE_LIMIT", 120),
			config.Duration("SEND_RATE_WINDOW", time.Minute),
			"send",
		)
	}

	dispatchEngine := dispatch.NewEngine(store, emailSender, smsSender, limiter, outboxRepo, logger, dispatch.Config{
		Location:  loc,
		BatchSize: config.Int("DISPATCH_BATCH_SIZE", 50),
	})

	notifScheduler := scheduler.New(dispatchEngine, logger, config.Duration("SCHEDULER_INTERVAL", scheduler.DefaultInterval))
	notifScheduler.Start(ctx)
	defer notifScheduler.Stop()

	checks := []runtime.ReadyCheck{
		{Name: "db", Check: db.ReadyCheck(pool)},
	}
	if brokers := config.String("KAFKA_BROKERS", ""); brokers != "" {
		checks = append(checks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)})
	}
	if rdb != nil {
		checks = append(checks, runtime.ReadyCheck{Name: "redis", Check: redisReadyCheck(rdb)})
	}

	mux := runtime.NewBaseMuxWithReady(checks...)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "clinicsched")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}

func redisReadyCheck(rdb *redis.Client) func(context.Context) error {
	return func(ctx context.Context) error {
		return rdb.Ping(ctx).Err()
	}
}
