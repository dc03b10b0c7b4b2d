// Package app wires storage, the quota tracker, the queue and the dispatcher
// behind the HTTP API and runs the API and metrics servers.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/outreach-queue/internal/audit"
	auditamqp "github.com/bissquit/outreach-queue/internal/audit/amqp"
	"github.com/bissquit/outreach-queue/internal/config"
	"github.com/bissquit/outreach-queue/internal/crm"
	"github.com/bissquit/outreach-queue/internal/dispatch"
	"github.com/bissquit/outreach-queue/internal/pkg/ctxlog"
	"github.com/bissquit/outreach-queue/internal/pkg/httputil"
	"github.com/bissquit/outreach-queue/internal/pkg/metrics"
	"github.com/bissquit/outreach-queue/internal/queue"
	"github.com/bissquit/outreach-queue/internal/quota"
	quotaredis "github.com/bissquit/outreach-queue/internal/quota/redis"
	"github.com/bissquit/outreach-queue/internal/transport"
	"github.com/bissquit/outreach-queue/internal/transport/httpapi"
	"github.com/bissquit/outreach-queue/internal/transport/simulator"
	"github.com/bissquit/outreach-queue/internal/transport/smtp"
	"github.com/bissquit/outreach-queue/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	goredis "github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
)

const (
	collectInterval = 15 * time.Second
	requestTimeout  = 60 * time.Second
	readyTimeout    = 2 * time.Second
)

// App holds the wired components and both HTTP servers.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	storage       *storage
	redis         *goredis.Client
	publisher     *auditamqp.Publisher
	tracker       *quota.Tracker
	queue         *queue.Service
	dispatcher    *dispatch.Dispatcher
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	shutdownOnce  sync.Once
	shutdownErr   error
	closeOnce     sync.Once
	closeErr      error
}

// New opens storage and wires every component from cfg. Nothing listens
// until Run is called.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	store, err := openStorage(context.Background(), cfg.Database)
	if err != nil {
		return nil, err
	}

	app := &App{
		config:  cfg,
		logger:  logger,
		storage: store,
	}

	if err := app.wire(); err != nil {
		_ = app.closeResources()
		return nil, err
	}

	metrics.RecordBuildInfo(version.Version, version.GitCommit, cfg.Database.Driver, cfg.Transport.Provider)

	metricsCtx, metricsCancel := context.WithCancel(context.Background())
	app.metricsCancel = metricsCancel

	go every(metricsCtx, collectInterval, store.recordMetrics)
	go every(metricsCtx, collectInterval, func() { app.recordQueueStats(metricsCtx) })

	app.server = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	scrape := chi.NewRouter()
	scrape.Handle("/metrics", promhttp.Handler())
	app.metricsServer = &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           scrape,
		ReadHeaderTimeout: readyTimeout,
		WriteTimeout:      10 * time.Second,
	}

	return app, nil
}

// wire builds the quota tracker, queue service and dispatcher on top of the
// opened storage.
func (a *App) wire() error {
	cfg := a.config

	quotaStore := a.storage.quota
	if cfg.Redis.Enabled {
		client, err := quotaredis.Connect(context.Background(), cfg.Redis.URL)
		if err != nil {
			return fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		quotaStore = quotaredis.NewStore(client, quotaredis.Config{
			KeyPrefix: cfg.Redis.KeyPrefix,
			TTL:       cfg.Redis.TTL,
		})
	}

	directory := crm.NewDirectory(a.storage.crm, cfg.Transport.FromName)

	a.tracker = quota.NewTracker(quotaStore, directory, quota.Config{
		DefaultLimit: cfg.Queue.DefaultDailyLimit,
	})

	a.queue = queue.NewService(a.storage.queueRepo, a.tracker, queue.Config{
		MaxAttempts:      cfg.Queue.MaxAttempts,
		DefaultListLimit: cfg.Queue.DefaultListLimit,
		MaxListLimit:     cfg.Queue.MaxListLimit,
	})

	tr, err := newTransport(cfg.Transport)
	if err != nil {
		return fmt.Errorf("create transport: %w", err)
	}

	sink, err := a.newAuditSink()
	if err != nil {
		return fmt.Errorf("create audit sink: %w", err)
	}

	a.dispatcher = dispatch.NewDispatcher(dispatch.Config{
		BatchSize:         cfg.Dispatch.BatchSize,
		InitialBackoff:    cfg.Dispatch.InitialBackoff,
		MaxBackoff:        cfg.Dispatch.MaxBackoff,
		BackoffMultiplier: cfg.Dispatch.BackoffMultiplier,
		SendTimeout:       cfg.Dispatch.SendTimeout,
		AuditTimeout:      cfg.Dispatch.AuditTimeout,
		PersistTimeout:    cfg.Dispatch.PersistTimeout,
	}, a.queue, a.tracker, directory, tr, sink)

	a.logger.Info("outreach configured",
		"database_driver", cfg.Database.Driver,
		"redis_quota", cfg.Redis.Enabled,
		"transport", cfg.Transport.Provider,
		"audit_database", cfg.Audit.Database,
		"audit_amqp", cfg.Audit.AMQP.Enabled,
	)
	return nil
}

// newTransport builds the configured provider wrapped in the rate limiter and
// the circuit breaker.
func newTransport(cfg config.TransportConfig) (transport.Transport, error) {
	var tr transport.Transport

	switch cfg.Provider {
	case "smtp":
		t, err := smtp.New(smtp.Config{
			Host:            cfg.SMTP.Host,
			Port:            cfg.SMTP.Port,
			User:            cfg.SMTP.User,
			Password:        cfg.SMTP.Password,
			FromAddress:     cfg.FromAddress,
			InsecureSkipTLS: cfg.SMTP.InsecureSkipTLS,
		})
		if err != nil {
			return nil, err
		}
		tr = t
	case "api":
		t, err := httpapi.New(httpapi.Config{
			Endpoint:    cfg.API.Endpoint,
			APIKey:      cfg.API.APIKey,
			FromAddress: cfg.FromAddress,
			Timeout:     cfg.API.Timeout,
		})
		if err != nil {
			return nil, err
		}
		tr = t
	default:
		tr = simulator.New()
	}

	tr = transport.NewRateLimited(tr, cfg.RateLimit, cfg.RateBurst)

	if cfg.Breaker.Enabled {
		breakerConfig := transport.DefaultBreakerConfig()
		breakerConfig.Name = cfg.Provider
		breakerConfig.Timeout = cfg.Breaker.Timeout
		breakerConfig.Interval = cfg.Breaker.Interval
		breakerConfig.MinRequests = cfg.Breaker.MinRequests
		breakerConfig.FailureRatio = cfg.Breaker.FailureRatio
		tr = transport.NewBreaker(tr, breakerConfig)
	}

	return tr, nil
}

func (a *App) newAuditSink() (audit.Sink, error) {
	var sinks audit.MultiSink

	if a.config.Audit.Database {
		sinks = append(sinks, a.storage.audit)
	}

	if a.config.Audit.AMQP.Enabled {
		publisher, err := auditamqp.NewPublisher(auditamqp.Config{
			URL:         a.config.Audit.AMQP.URL,
			Exchange:    a.config.Audit.AMQP.Exchange,
			RoutingKey:  a.config.Audit.AMQP.RoutingKey,
			DialTimeout: a.config.Audit.AMQP.DialTimeout,
		})
		if err != nil {
			return nil, err
		}
		a.publisher = publisher
		sinks = append(sinks, publisher)
	}

	if len(sinks) == 0 {
		return audit.NopSink{}, nil
	}
	return sinks, nil
}

// Run starts the HTTP servers and blocks until ctx is cancelled or a server
// fails. Either way the application is shut down before Run returns.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error { return a.listen("metrics", a.metricsServer) })
	g.Go(func() error { return a.listen("api", a.server) })

	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.config.Server.ShutdownTimeout)
		defer cancel()
		return a.Shutdown(shutdownCtx)
	})

	return g.Wait()
}

// Shutdown gracefully shuts down the application. It is safe to call more
// than once.
func (a *App) Shutdown(ctx context.Context) error {
	a.shutdownOnce.Do(func() {
		a.shutdownErr = a.shutdown(ctx)
	})
	return a.shutdownErr
}

func (a *App) listen(name string, srv *http.Server) error {
	a.logger.Info("server listening", "server", name, "addr", srv.Addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s server: %w", name, err)
	}
	return nil
}

func (a *App) shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")
	a.metricsCancel()

	// In-flight dispatch requests finish before storage is released.
	var g errgroup.Group
	g.Go(func() error {
		if err := a.server.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown api server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			return fmt.Errorf("shutdown metrics server: %w", err)
		}
		return nil
	})
	serverErr := g.Wait()

	return errors.Join(serverErr, a.closeResources())
}

// Close releases storage and broker connections without touching the HTTP
// servers. Used by one-shot CLI commands.
func (a *App) Close() error {
	if a.metricsCancel != nil {
		a.metricsCancel()
	}
	return a.closeResources()
}

func (a *App) closeResources() error {
	a.closeOnce.Do(func() {
		a.closeErr = a.releaseResources()
	})
	return a.closeErr
}

func (a *App) releaseResources() error {
	var errs []error
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close amqp publisher: %w", err))
		}
	}
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close redis: %w", err))
		}
	}
	a.storage.close()
	return errors.Join(errs...)
}

// every runs fn now and then on each tick until ctx is done.
func every(ctx context.Context, interval time.Duration, fn func()) {
	fn()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			fn()
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) recordQueueStats(ctx context.Context) {
	stats, err := a.queue.Stats(ctx, "")
	if err != nil {
		if ctx.Err() == nil {
			a.logger.Warn("collect queue stats", "error", err)
		}
		return
	}
	queue.RecordQueueStats(stats)
}

// Router returns the API handler, for tests.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Dispatcher returns the dispatcher for one-shot batch runs.
func (a *App) Dispatcher() *dispatch.Dispatcher {
	return a.dispatcher
}

// Tracker returns the daily limit tracker.
func (a *App) Tracker() *quota.Tracker {
	return a.tracker
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics first so it sees the full request, CORS before anything that
	// could reject a preflight.
	r.Use(
		httputil.MetricsMiddleware,
		httputil.CORSMiddleware(a.config.CORS.AllowedOrigins),
		middleware.RequestID,
		httputil.RequestLoggerMiddleware(a.logger),
		middleware.RealIP,
		middleware.Recoverer,
		middleware.Timeout(requestTimeout),
	)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)
	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/yaml")
		http.ServeFile(w, r, openAPIPath)
	})
	r.Get("/docs", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = w.Write([]byte(docsPage))
	})

	queueHandler := queue.NewHandler(a.queue)
	quotaHandler := quota.NewHandler(a.tracker)
	dispatchHandler := dispatch.NewHandler(a.dispatcher)

	r.Route("/api/v1/owners/{ownerID}", func(r chi.Router) {
		queueHandler.RegisterRoutes(r)
		quotaHandler.RegisterRoutes(r)
		dispatchHandler.RegisterRoutes(r)
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

type readinessCheck struct {
	name string
	ping func(context.Context) error
}

// readyzHandler reports ready only when every backend the quota tracker
// depends on answers, since a failing tracker refuses all sends.
func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()

	checks := []readinessCheck{{name: "database", ping: a.storage.ping}}
	if a.redis != nil {
		checks = append(checks, readinessCheck{
			name: "redis",
			ping: func(ctx context.Context) error { return a.redis.Ping(ctx).Err() },
		})
	}

	for _, c := range checks {
		if err := c.ping(ctx); err != nil {
			ctxlog.FromContext(r.Context()).Error("readiness check failed", "backend", c.name, "error", err)
			httputil.Text(w, http.StatusServiceUnavailable, c.name+" unavailable")
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

// initLogger builds the process logger. Unknown levels fall back to info.
func initLogger(cfg config.LogConfig) *slog.Logger {
	level := slog.LevelInfo
	if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
		level = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}

const openAPIPath = "api/openapi/openapi.yaml"

const docsPage = `<!DOCTYPE html>
<html>
<head>
  <meta charset="utf-8">
  <title>Outreach Queue API</title>
  <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css">
</head>
<body>
  <div id="swagger-ui"></div>
  <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js"></script>
  <script>
    window.onload = () => SwaggerUIBundle({ url: "/api/openapi.yaml", dom_id: "#swagger-ui" });
  </script>
</body>
</html>`
