// Package app provides application initialization and lifecycle management.
package app

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/alert-relay/internal/config"
	"github.com/bissquit/alert-relay/internal/notifications"
	notificationspostgres "github.com/bissquit/alert-relay/internal/notifications/postgres"
	"github.com/bissquit/alert-relay/internal/notifications/rabbitmq"
	"github.com/bissquit/alert-relay/internal/pkg/ctxlog"
	"github.com/bissquit/alert-relay/internal/pkg/httputil"
	"github.com/bissquit/alert-relay/internal/pkg/metrics"
	"github.com/bissquit/alert-relay/internal/pkg/postgres"
	redisutil "github.com/bissquit/alert-relay/internal/pkg/redis"
	"github.com/bissquit/alert-relay/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *goredis.Client
	publisher     *rabbitmq.Publisher
	repo          *notificationspostgres.Repository
	service       *notifications.Service
	handler       *notifications.Handler
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	worker        *notifications.Worker
}

// New connects to the backing stores and wires the notification pipeline.
// Redis and RabbitMQ are optional and only used when their URL is set.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout*time.Duration(max(cfg.Database.ConnectAttempts, 1)))
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectTimeout:  cfg.Database.ConnectTimeout,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		metricsCancel: metricsCancel,
	}

	if err := app.setupNotifications(connectCtx); err != nil {
		_ = app.closeStores()
		metricsCancel()
		return nil, err
	}

	if err := prometheus.Register(metrics.NewPoolCollector(db)); err != nil {
		logger.Warn("database pool metrics not registered", "error", err)
	}
	go app.collectQueueMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       120 * time.Second,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

func (a *App) setupNotifications(ctx context.Context) error {
	cfg := a.config

	a.repo = notificationspostgres.NewRepository(a.db)

	renderer, err := notifications.NewRenderer()
	if err != nil {
		return fmt.Errorf("create notification renderer: %w", err)
	}

	senders, err := buildSenders(cfg)
	if err != nil {
		return fmt.Errorf("create senders: %w", err)
	}

	dispatcher := notifications.NewDispatcher(notifications.DispatcherConfig{
		DefaultRateLimitPerHour: cfg.Dispatch.DefaultRateLimitPerHour,
		RateLimitWindow:         cfg.Dispatch.RateLimitWindow,
		DefaultEmailSubject:     cfg.Dispatch.DefaultEmailSubject,
	}, a.repo, a.repo, renderer, senders...)

	if cfg.RabbitMQ.URL != "" {
		a.publisher, err = rabbitmq.Connect(rabbitmq.Config{
			URL:        cfg.RabbitMQ.URL,
			Exchange:   cfg.RabbitMQ.Exchange,
			RoutingKey: cfg.RabbitMQ.RoutingKey,
		})
		if err != nil {
			return fmt.Errorf("connect to rabbitmq: %w", err)
		}
		dispatcher.SetPublisher(a.publisher)
	}

	processor := notifications.NewProcessor(notifications.ProcessorConfig{
		BatchSize:         cfg.Processor.BatchSize,
		DispatchTimeout:   cfg.Processor.DispatchTimeout,
		ClaimLease:        cfg.Processor.ClaimLease,
		InitialBackoff:    cfg.Processor.InitialBackoff,
		MaxBackoff:        cfg.Processor.MaxBackoff,
		BackoffMultiplier: cfg.Processor.BackoffMultiplier,
	}, a.repo, dispatcher)

	a.service = notifications.NewService(a.repo, a.repo, a.repo, dispatcher, processor)
	a.service.SetDefaultRateLimit(cfg.Dispatch.DefaultRateLimitPerHour)

	if cfg.Redis.URL != "" {
		a.redis, err = redisutil.Connect(ctx, redisutil.Config{
			URL:            cfg.Redis.URL,
			ConnectTimeout: cfg.Redis.ConnectTimeout,
			RetryAttempts:  cfg.Redis.RetryAttempts,
			RetryInterval:  cfg.Redis.RetryInterval,
		})
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.service.SetIdempotencyStore(notifications.NewRedisIdempotency(a.redis, cfg.Redis.IdempotencyTTL))
	}

	a.handler = notifications.NewHandler(a.service)

	if cfg.Worker.Enabled {
		a.worker = notifications.NewWorker(notifications.WorkerConfig{
			PollInterval: cfg.Worker.PollInterval,
			Retention:    cfg.Processor.Retention,
		}, processor, a.repo)
	}

	slog.Info("notifications configured",
		"senders", len(senders),
		"worker_enabled", cfg.Worker.Enabled,
		"idempotency", a.redis != nil,
		"outcome_feed", a.publisher != nil,
	)

	return nil
}

// Run starts the HTTP servers and, when enabled, the in-process worker.
func (a *App) Run() error {
	if a.worker != nil {
		a.worker.Start(context.Background())
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
		"version", version.Version,
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// ProcessOnce runs a single queue pass. It backs the process command for
// deployments that trigger passes from cron.
func (a *App) ProcessOnce(ctx context.Context) (notifications.ProcessResult, error) {
	ctx = ctxlog.WithLogger(ctx, a.logger)
	return a.service.ProcessQueue(ctx)
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	// Stop notification worker first
	if a.worker != nil {
		a.worker.Stop()
	}

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	for name, srv := range map[string]*http.Server{"server": a.server, "metrics server": a.metricsServer} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := srv.Shutdown(ctx); err != nil {
				mu.Lock()
				errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
				mu.Unlock()
			}
		}()
	}

	wg.Wait()

	if err := a.Close(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// Close releases the backing stores without touching the HTTP servers.
func (a *App) Close() error {
	a.metricsCancel()
	return a.closeStores()
}

func (a *App) closeStores() error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close rabbitmq: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.db.Close()
	return errors.Join(errs...)
}

func (a *App) collectQueueMetrics(ctx context.Context) {
	interval := a.config.Worker.StatsInterval
	if interval <= 0 {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			stats, err := a.repo.GetQueueStats(ctx)
			if err != nil {
				if ctx.Err() == nil {
					a.logger.Error("failed to get queue stats", "error", err)
				}
				continue
			}
			notifications.RecordQueueStats(stats)
		case <-ctx.Done():
			return
		}
	}
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(cmp.Or(a.config.Server.RequestTimeout, 60*time.Second)))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<head>
    <title>Alert Relay API</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
    <script>
        SwaggerUIBundle({
            url: "/api/openapi.yaml",
            dom_id: '#swagger-ui',
            presets: [SwaggerUIBundle.presets.apis, SwaggerUIBundle.SwaggerUIStandalonePreset],
            layout: "BaseLayout"
        });
    </script>
</body>
</html>`))
	})

	r.Route("/functions/v1", func(r chi.Router) {
		r.Use(httputil.ServiceTokenMiddleware(httputil.ServiceTokenConfig{
			Secret: a.config.Auth.ServiceTokenSecret,
			Roles:  a.config.Auth.ServiceRoles,
		}))
		a.handler.RegisterFunctionRoutes(r)
	})

	r.Route("/api/v1", a.handler.RegisterRoutes)

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if a.redis != nil {
		if err := redisutil.Healthcheck(a.redis)(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
			return
		}
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, map[string]string{
		"version":    version.Version,
		"commit":     version.GitCommit,
		"build_date": version.BuildDate,
	})
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
