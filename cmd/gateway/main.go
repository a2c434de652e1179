package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"
	_ "time/tzdata"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/hibiken/asynq"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fixzone/notifier/internal/api"
	"github.com/fixzone/notifier/internal/automation"
	"github.com/fixzone/notifier/internal/channel"
	"github.com/fixzone/notifier/internal/circuitbreaker"
	"github.com/fixzone/notifier/internal/config"
	"github.com/fixzone/notifier/internal/db"
	"github.com/fixzone/notifier/internal/dispatch"
	"github.com/fixzone/notifier/internal/metrics"
	"github.com/fixzone/notifier/internal/observ"
	"github.com/fixzone/notifier/internal/redis"
	"github.com/fixzone/notifier/internal/resolver"
	"github.com/fixzone/notifier/internal/scheduler"
	"github.com/fixzone/notifier/internal/settings"
	"github.com/fixzone/notifier/internal/sns"
	"github.com/fixzone/notifier/internal/sqs"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting notifier gateway",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("scheduler", cfg.SchedulerBackend),
		zap.String("email_transport", cfg.EmailTransport),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.SweepTimezone)
	if err != nil {
		return fmt.Errorf("failed to load sweep timezone: %w", err)
	}

	database, err := db.New(ctx, db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	repo := db.NewRepository(database, logger)
	entities := db.NewEntities(database, logger)

	// Redis backs the sweep lock, idempotency and rate limiting. Without it
	// the gateway still runs, single-instance.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}
	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, idempotency, rate limiting and sweep locks disabled",
			zap.Error(err),
			zap.String("addr", redisConfig.Addr()),
		)
		redisClient = nil
	} else {
		defer redisClient.Close()
	}

	// Channel senders, each behind a circuit breaker.
	breakers := circuitbreaker.NewRegistry()

	waBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("whatsapp_api"), logger)
	breakers.Add(waBreaker)
	whatsappAPI := channel.NewWhatsAppAPI(channel.APIConfig{
		Timeout:       cfg.ChannelTimeout,
		RatePerSecond: cfg.WhatsAppRatePerSec,
	}, logger)
	whatsapp := channel.NewWhatsAppSender(circuitbreaker.NewProtectedSender(whatsappAPI, waBreaker, logger), logger)

	transport, err := emailTransport(ctx, cfg, logger)
	if err != nil {
		return err
	}
	emailBreaker := circuitbreaker.New(circuitbreaker.DefaultConfig("email_"+transport.Name()), logger)
	breakers.Add(emailBreaker)
	email := circuitbreaker.NewProtectedSender(channel.NewEmailSender(transport, cfg.CompanyAddress, logger), emailBreaker, logger)

	router := channel.NewRouter(logger, whatsapp, email)

	engine := dispatch.New(
		repo,
		entities,
		settings.NewLoader(entities, logger),
		resolver.New(resolver.StaticBaseURL(cfg.FrontendURL), cfg.CompanyAddress),
		router,
		dispatch.Config{
			MaxRetries:     cfg.RetryMax,
			RetryBackoff:   cfg.RetryBackoff,
			ChannelTimeout: cfg.ChannelTimeout,
			CompanyAddress: cfg.CompanyAddress,
		},
		logger,
	)

	if cfg.SNSTopicARN != "" {
		publisher, err := sns.NewPublisher(ctx, cfg.SNSTopicARN, cfg.AWSRegion, cfg.AWSEndpoint, logger)
		if err != nil {
			logger.Warn("sns publisher unavailable, delivery outcomes will not be published", zap.Error(err))
		} else {
			engine.WithPublisher(publisher)
		}
	}

	automationSvc := automation.New(engine, entities, repo, automation.Config{Location: loc}, logger)
	if redisClient != nil {
		automationSvc.WithLocker(redis.NewLocker(redisClient, logger))
	}

	g, gctx := errgroup.WithContext(ctx)

	// Entity events: through SQS when a queue is configured, in-process otherwise.
	var sink api.EventSink
	var inline *api.InlineSink
	if cfg.SQSEventsURL != "" {
		sqsCfg := sqs.Config{
			Region:   cfg.AWSRegion,
			QueueURL: cfg.SQSEventsURL,
			Endpoint: cfg.AWSEndpoint,
		}
		producer, err := sqs.NewProducer(ctx, sqsCfg, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs producer: %w", err)
		}
		consumer, err := sqs.NewConsumer(ctx, sqsCfg, automationSvc, logger)
		if err != nil {
			return fmt.Errorf("failed to create sqs consumer: %w", err)
		}
		sink = api.NewQueueSink(producer, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	} else {
		inline = api.NewInlineSink(automationSvc, 2*time.Minute)
		sink = inline
	}

	runner, err := sweepRunner(cfg, redisConfig, redisClient != nil, automationSvc, loc, logger)
	if err != nil {
		return err
	}
	if runner != nil {
		g.Go(func() error { return runner.Run(gctx) })
	}

	handler := api.NewHandler(logger, engine, automationSvc, sink, breakers)
	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		handler.WithIdempotency(redis.NewIdempotencyService(redisClient, logger))
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  120,
			Window: time.Minute,
		})
	}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))
	r.Use(metrics.Middleware)
	r.Use(requestLogger(logger))

	r.Route("/v1", func(r chi.Router) {
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))
		handler.Routes(r)
	})

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			logger.Warn("health check failed", zap.Error(err))
			http.Error(w, "database unavailable", http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})
	r.Handle("/metrics", metrics.Handler())

	// Manual sends wait on the WhatsApp API and SMTP, so writes get more room
	// than reads.
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 75 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g.Go(func() error {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(shutdownCtx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		if inline != nil {
			inline.Wait()
		}
		logger.Info("server stopped gracefully")
		return nil
	})

	return g.Wait()
}

func emailTransport(ctx context.Context, cfg *config.Config, logger *zap.Logger) (channel.Transport, error) {
	if cfg.EmailTransport == "ses" {
		t, err := channel.NewSESTransport(ctx, channel.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to create SES transport: %w", err)
		}
		return t, nil
	}
	return channel.NewSMTPTransport(cfg.ChannelTimeout), nil
}

// sweepRunner picks the scheduler backend. asynq needs Redis and falls back
// to cron without it.
func sweepRunner(cfg *config.Config, redisConfig redis.Config, haveRedis bool, sweeper scheduler.Sweeper, loc *time.Location, logger *zap.Logger) (scheduler.Runner, error) {
	jobs := []scheduler.Job{
		{Kind: automation.SweepOverdue, Spec: cfg.SweepOverdueCron},
		{Kind: automation.SweepUpcoming, Spec: cfg.SweepUpcomingCron},
	}

	backend := cfg.SchedulerBackend
	if backend == "asynq" && !haveRedis {
		logger.Warn("asynq scheduler needs redis, falling back to cron")
		backend = "cron"
	}

	switch backend {
	case "asynq":
		opt := asynq.RedisClientOpt{
			Addr:     redisConfig.Addr(),
			Password: redisConfig.Password,
			DB:       redisConfig.DB,
		}
		return scheduler.NewAsynqRunner(opt, sweeper, jobs, loc, logger)
	case "cron":
		return scheduler.NewCronRunner(sweeper, jobs, loc, logger)
	default:
		logger.Info("sweep scheduler disabled")
		return nil, nil
	}
}

func requestLogger(logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
