package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/md-rashed-zaman/spabook/libs/config"
	"github.com/md-rashed-zaman/spabook/libs/db"
	"github.com/md-rashed-zaman/spabook/libs/httpx"
	"github.com/md-rashed-zaman/spabook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/spabook/libs/otel"
	"github.com/md-rashed-zaman/spabook/libs/redisx"
	"github.com/md-rashed-zaman/spabook/libs/runtime"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/booking"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/consumer"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/inbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/lock"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/metrics"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/reschedule"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/schedule"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/settings"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/spabook/services/booking-service/internal/storage/memory"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
)

func main() {
	if err := config.LoadDotEnv(); err != nil {
		panic(err)
	}
	cfg, err := loadConfig()
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(cfg.ServiceName)

	base, err := cfg.Settings()
	if err != nil {
		logger.Error("invalid business settings", "err", err)
		os.Exit(1)
	}

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(cfg.ServiceName))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	recorder, err := metrics.NewRecorder(otel.Meter(cfg.ServiceName))
	if err != nil {
		logger.Error("metrics setup failed", "err", err)
	}

	var readyChecks []runtime.ReadyCheck

	var store storage.Store
	var pool *db.Pool
	if cfg.DatabaseURL != "" {
		pool, err = db.Open(ctx, cfg.DatabaseURL, db.Options{MaxConns: cfg.DBMaxConns, LockTimeout: cfg.DBLockTimeout})
		if err != nil {
			logger.Error("db connection failed", "err", err)
			panic(err)
		}
		defer pool.Close()

		pg := storage.NewPostgres(pool, outbox.NewRepository(), inbox.NewRepository())
		if err := pg.Migrate(ctx); err != nil {
			logger.Error("schema migration failed", "err", err)
			panic(err)
		}
		store = pg
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)})
	} else {
		mem := memory.New()
		if cfg.SeedDemoData {
			seedDemo(mem)
		}
		store = mem
		logger.Warn("DATABASE_URL not set; running on the in-memory store")
	}
	provider := settings.Layered{Base: base, Source: store}

	var locker lock.Locker = lock.NewMemoryLocker()
	var public []httpx.Middleware
	if cfg.RedisURL != "" {
		rdb, err := redisx.Open(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error("redis connection failed", "err", err)
			panic(err)
		}
		defer rdb.Close()

		locker = lock.NewRedisLocker(rdb, lock.DefaultPrefix)
		limiter := httpx.NewRedisRateLimiter(rdb, cfg.RateLimit, cfg.RateLimitWindow, "spabook:rl:public").
			WithKey(func(r *http.Request) string { return r.Header.Get(handlers.UserIDHeader) })
		public = append(public, limiter.Middleware(logger, true))
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "redis", Check: redisx.ReadyCheck(rdb)})
	} else {
		logger.Warn("REDIS_URL not set; slot locks are process-local")
	}
	guard := lock.NewGuard(locker, logger)

	var notifier notify.Notifier = notify.NewLog(logger)
	brokers := kafkax.SplitBrokers(cfg.KafkaBrokers)
	if len(brokers) > 0 {
		writer := kafkax.NewWriter(brokers)
		defer writer.Close()
		notifier = notify.NewKafka(writer)
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(cfg.KafkaBrokers)})
	}

	engine := availability.NewEngine(store, provider, time.Now)
	bookingCoord := booking.NewCoordinator(store, provider, guard, recorder, logger)
	rescheduleCoord := reschedule.NewCoordinator(store, provider, guard, notifier, recorder, logger)
	lifecycleSvc := lifecycle.NewService(store, provider, notifier, logger)
	scheduleSvc := schedule.NewService(store, logger)

	if pool != nil {
		publisher := outbox.NewPublisher(pool, outbox.NewRepository(), logger, outbox.PublisherConfig{
			Brokers:   cfg.KafkaBrokers,
			PollEvery: cfg.OutboxPollEvery,
			BatchSize: 50,
		})
		go publisher.Run(ctx)
	}
	if len(brokers) > 0 {
		startConsumer(ctx, logger, brokers, cfg.KafkaGroupID, lifecycle.EventPaymentApproved, consumer.PaymentApproved(lifecycleSvc))
		startConsumer(ctx, logger, brokers, cfg.KafkaGroupID, lifecycle.EventPaymentExpired, consumer.PaymentExpired(lifecycleSvc))
	} else {
		logger.Warn("KAFKA_BROKERS not set; payment events are not consumed")
	}

	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	handlers.Register(mux,
		handlers.NewBookingHandler(engine, bookingCoord, store, guard, provider, logger),
		handlers.NewAppointmentHandler(rescheduleCoord, lifecycleSvc, logger),
		handlers.NewStaffHandler(scheduleSvc, logger),
		public...,
	)
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithRecover(logger),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(cfg.RequestTimeout),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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

func startConsumer(ctx context.Context, logger *slog.Logger, brokers []string, groupID, topic string, h consumer.Handler) {
	c := consumer.New(kafkax.NewReader(brokers, groupID, topic), logger.With("topic", topic))
	c.Handle(topic, h)
	go c.Run(ctx)
}
