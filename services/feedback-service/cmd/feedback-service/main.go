package main

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/slack-go/slack"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"golang.org/x/sync/errgroup"

	"github.com/md-rashed-zaman/feedbackremind/libs/auth"
	"github.com/md-rashed-zaman/feedbackremind/libs/config"
	"github.com/md-rashed-zaman/feedbackremind/libs/db"
	"github.com/md-rashed-zaman/feedbackremind/libs/httpx"
	"github.com/md-rashed-zaman/feedbackremind/libs/kafkax"
	otelx "github.com/md-rashed-zaman/feedbackremind/libs/otel"
	"github.com/md-rashed-zaman/feedbackremind/libs/runtime"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ashby"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/catalog"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/directory"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/feedback"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/handlers"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ingest"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/notify"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/reminders"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/storage"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/migrations"
)

func main() {
	service := config.String("SERVICE_NAME", "feedback-service")
	port := must(config.Port("PORT", "8080"))
	databaseURL := must(config.RequiredString("DATABASE_URL"))
	callTimeout := must(config.Duration("EXTERNAL_CALL_TIMEOUT", 10*time.Second))
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

	pool, err := db.OpenWithRetry(ctx, databaseURL, 10, func(err error, next time.Duration) {
		logger.Warn("db not ready, retrying", "err", err, "next", next.String())
	})
	if err != nil {
		logger.Error("db connect failed", "err", err)
		return
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, migrations.FS)
	if err != nil {
		logger.Error("migrations failed", "err", err)
		return
	}
	if len(applied) > 0 {
		logger.Info("migrations applied", "files", applied)
	}

	readyChecks := []runtime.ReadyCheck{{Name: "postgres", Check: db.ReadyCheck(pool)}}

	var rdb *redis.Client
	if addr := strings.TrimSpace(config.String("REDIS_ADDR", "")); addr != "" {
		rdb = redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: config.String("REDIS_PASSWORD", ""),
			DB:       must(config.Int("REDIS_DB", 0)),
		})
		defer func() { _ = rdb.Close() }()
		readyChecks = append(readyChecks, runtime.ReadyCheck{
			Name:  "redis",
			Check: func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		})
	}

	brokers := config.String("KAFKA_BROKERS", "")
	if list := kafkax.SplitBrokers(brokers); len(list) > 0 {
		readyChecks = append(readyChecks, runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(list)})
	}

	outboxRepo := outbox.NewRepository(pool)
	repo := storage.NewRepository(pool, outboxRepo)

	ats := ashby.NewClient(ashby.Config{
		BaseURL:           config.String("ASHBY_BASE_URL", ashby.DefaultBaseURL),
		APIKey:            config.String("ASHBY_API_KEY", ""),
		Timeout:           callTimeout,
		RequestsPerSecond: 5,
		ReadTries:         3,
	}, logger)

	var (
		resolver    directory.Resolver
		sender      notify.Sender
		views       handlers.ViewOpener
		attachments reminders.Attachments
	)
	signingSecret := config.String("SLACK_SIGNING_SECRET", "")
	if token := strings.TrimSpace(config.String("SLACK_BOT_TOKEN", "")); token != "" {
		api := slack.New(token)
		resolver = directory.NewSlackResolver(api, callTimeout)
		sender = notify.NewSlackSender(api, callTimeout)
		views = api
		attachments = notify.NewSlackFiles(api, callTimeout)
	} else {
		logger.Warn("SLACK_BOT_TOKEN not set; reminders are logged, not delivered")
		resolver = directory.Passthrough{}
		sender = notify.NewNoopSender(logger)
		signingSecret = ""
	}
	if rdb != nil {
		resolver = directory.NewCachedResolver(resolver, rdb, logger, directory.CacheConfig{Timeout: callTimeout})
	}

	forms := catalog.NewForms(repo, ats, logger)
	interviews := catalog.NewInterviews(repo, ats, logger)
	jobs := catalog.NewJobs(repo, ats, logger)

	dispatcher := reminders.NewDispatcher(reminders.Deps{
		Store:       repo,
		Directory:   resolver,
		Interviews:  interviews,
		Candidates:  ats,
		Sender:      sender,
		Jobs:        jobs,
		Files:       ats,
		Attachments: attachments,
	}, logger, reminders.Config{
		Interval:    must(config.Duration("REMINDER_INTERVAL", 5*time.Minute)),
		Workers:     must(config.Int("REMINDER_WORKERS", 4)),
		CallTimeout: callTimeout,
	})

	workers := []func(context.Context){
		dispatcher.Run,
		catalog.Periodic{
			Name:   "forms",
			Every:  must(config.Duration("FORM_SYNC_INTERVAL", 6*time.Hour)),
			Sync:   forms.Sync,
			Logger: logger,
		}.Run,
		catalog.Periodic{
			Name:   "interviews",
			Every:  must(config.Duration("INTERVIEW_SYNC_INTERVAL", 12*time.Hour)),
			Sync:   interviews.Sync,
			Logger: logger,
		}.Run,
		outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: must(config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second)),
			RetainFor: must(config.Duration("OUTBOX_RETENTION", 7*24*time.Hour)),
		}).Run,
	}
	background := startWorkers(ctx, workers)

	h := handlers.New(handlers.Deps{
		Reconciler: ingest.NewReconciler(repo, logger, ingest.Config{}),
		Audit:      repo,
		Feedback:   feedback.NewService(repo, forms, ats, logger, callTimeout),
		Forms:      forms,
		Interviews: interviews,
		Reminders:  dispatcher,
		Stats:      repo,
		Views:      views,
		Notifier:   sender,
	}, logger, handlers.Config{
		WebhookSecret:      config.String("ASHBY_WEBHOOK_SECRET", ""),
		SlackSigningSecret: signingSecret,
	})

	adminSecret := config.String("ADMIN_JWT_SECRET", "")
	if strings.TrimSpace(adminSecret) == "" {
		logger.Warn("ADMIN_JWT_SECRET not set; feedback and admin APIs answer 503")
	}
	mux := runtime.NewBaseMuxWithReady(readyChecks...)
	h.Routes(mux,
		rateLimit(rdb, logger),
		auth.RequireRole(adminSecret, auth.RoleAdmin, auth.RoleService),
	)

	handler := httpx.Chain(mux,
		httpx.WithRecover(logger),
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(int64(must(config.Int("REQUEST_BODY_LIMIT_BYTES", 1<<20)))),
		httpx.WithTimeout(must(config.Duration("REQUEST_TIMEOUT", 15*time.Second))),
	)
	handler = otelhttp.NewHandler(handler, "feedback")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	if err := runtime.Serve(ctx, srv, logger, 10*time.Second); err != nil {
		logger.Error("http server error", "err", err)
	}
	h.Wait()
	// Workers finish their current pass before the pool closes.
	_ = background.Wait()
	logger.Info("background workers stopped")
}

func startWorkers(ctx context.Context, workers []func(context.Context)) *errgroup.Group {
	var g errgroup.Group
	for _, run := range workers {
		g.Go(func() error {
			run(ctx)
			return nil
		})
	}
	return &g
}

// rateLimit guards the webhook endpoint. Redis backs the counters when
// configured so replicas share one budget per sender.
func rateLimit(rdb *redis.Client, logger *slog.Logger) func(http.Handler) http.Handler {
	perMinute := must(config.Int("RATE_LIMIT_PER_MINUTE", 100))
	failOpen := config.Bool("RATE_LIMIT_FAIL_OPEN", true)

	var limiter httpx.Allower
	if rdb != nil {
		limiter = httpx.NewRedisRateLimiter(rdb, perMinute, time.Minute, config.String("RATE_LIMIT_PREFIX", "rl:webhook"))
		logger.Info("rate limiting enabled (redis)", "per_minute", perMinute)
	} else {
		limiter = httpx.NewRateLimiter(perMinute, time.Minute)
		logger.Info("rate limiting enabled (in-memory)", "per_minute", perMinute)
	}
	return httpx.RateLimit(limiter, httpx.ClientKey, logger, failOpen)
}

func must[T any](v T, err error) T {
	if err != nil {
		panic(err)
	}
	return v
}
