// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/cafe-storefront/internal/catalog"
	catalogpostgres "github.com/bissquit/cafe-storefront/internal/catalog/postgres"
	"github.com/bissquit/cafe-storefront/internal/config"
	"github.com/bissquit/cafe-storefront/internal/domain"
	"github.com/bissquit/cafe-storefront/internal/identity/jwt"
	"github.com/bissquit/cafe-storefront/internal/notifications"
	notificationspostgres "github.com/bissquit/cafe-storefront/internal/notifications/postgres"
	notificationsredis "github.com/bissquit/cafe-storefront/internal/notifications/redis"
	"github.com/bissquit/cafe-storefront/internal/pkg/ctxlog"
	"github.com/bissquit/cafe-storefront/internal/pkg/httputil"
	"github.com/bissquit/cafe-storefront/internal/pkg/metrics"
	"github.com/bissquit/cafe-storefront/internal/pkg/postgres"
	"github.com/bissquit/cafe-storefront/internal/version"
	"github.com/bissquit/cafe-storefront/internal/vouchers"
	voucherspostgres "github.com/bissquit/cafe-storefront/internal/vouchers/postgres"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

const (
	requestTimeout    = 60 * time.Second
	startupTimeout    = 2 * time.Minute
	dbMetricsInterval = 15 * time.Second
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	feed          *notifications.Aggregator
	resyncer      *notifications.Resyncer
}

// New creates a new application instance. It connects to the backend and starts the
// notification feed; the HTTP servers start with Run.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	startCtx, startCancel := context.WithTimeout(context.Background(), startupTimeout)
	defer startCancel()

	db, err := postgres.Connect(startCtx, postgres.Config{
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

	go metrics.CollectDBPoolMetrics(metricsCtx, db, dbMetricsInterval)

	router, err := app.setupRouter(startCtx)
	if err != nil {
		_ = app.release()
		return nil, fmt.Errorf("setup router: %w", err)
	}

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           router,
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
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

// Run starts the HTTP servers.
func (a *App) Run() error {
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
	)

	if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down servers")

	var errs []error

	// closing the feed ends open event streams, so server shutdown does not wait on them
	if a.resyncer != nil {
		a.resyncer.Stop()
	}
	if err := a.feed.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close notification feed: %w", err))
	}

	var wg sync.WaitGroup
	var mu sync.Mutex

	shutdown := func(name string, srv *http.Server) {
		defer wg.Done()
		if err := srv.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown %s: %w", name, err))
			mu.Unlock()
		}
	}

	wg.Add(2)
	go shutdown("server", a.server)
	go shutdown("metrics server", a.metricsServer)
	wg.Wait()

	if err := a.release(); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// release closes backend connections and stops background collectors.
func (a *App) release() error {
	a.metricsCancel()

	var err error
	if a.redis != nil {
		if cerr := a.redis.Close(); cerr != nil {
			err = fmt.Errorf("close redis: %w", cerr)
		}
	}
	a.db.Close()
	return err
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

// Feed returns the notification aggregator. Used in tests to wait for live inserts.
func (a *App) Feed() *notifications.Aggregator {
	return a.feed
}

func (a *App) setupRouter(ctx context.Context) (*chi.Mux, error) {
	tokens, err := jwt.NewValidator(jwt.Config{
		Secret: a.config.Auth.JWTSecret,
		Issuer: a.config.Auth.Issuer,
	})
	if err != nil {
		return nil, fmt.Errorf("create token validator: %w", err)
	}

	vouchersService := vouchers.NewService(voucherspostgres.NewRepository(a.db), vouchers.Config{
		QueryTimeout:   a.config.Backend.QueryTimeout,
		NewUserOnError: vouchers.FallbackPolicy(a.config.Vouchers.NewUserOnError),
	})
	vouchersHandler := vouchers.NewHandler(vouchersService)

	catalogHandler := catalog.NewHandler(catalog.NewService(catalogpostgres.NewRepository(a.db)))

	feed, err := a.startFeed(ctx)
	if err != nil {
		return nil, err
	}
	notificationsHandler := notifications.NewHandler(feed)

	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)

	// CORS must be early to handle preflight requests before other middleware
	r.Use(httputil.CORSMiddleware(a.config.CORS.AllowedOrigins))
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		http.ServeFile(w, r, "api/openapi/openapi.yaml")
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.RateLimitMiddleware(a.config.Server.RateLimit, a.config.Server.RateBurst))
		r.Use(httputil.AuthMiddleware(tokens))

		r.Group(func(r chi.Router) {
			r.Use(middleware.Timeout(requestTimeout))

			vouchersHandler.RegisterUserRoutes(r)
			notificationsHandler.RegisterRoutes(r)

			r.Group(func(r chi.Router) {
				r.Use(httputil.RequireRole(domain.RoleAdmin))
				vouchersHandler.RegisterAdminRoutes(r)
				catalogHandler.RegisterAdminRoutes(r)
			})
		})

		// event streams stay open past the request timeout
		notificationsHandler.RegisterStreamRoutes(r)
	})

	return r, nil
}

// startFeed builds the notification aggregator for the configured source and read model,
// starts it and, when scheduled, its periodic resync.
func (a *App) startFeed(ctx context.Context) (*notifications.Aggregator, error) {
	cfg := a.config.Notifications
	repo := notificationspostgres.NewRepository(a.db)

	source, err := notifications.NewSource(notifications.SourceKind(cfg.Source), repo)
	if err != nil {
		return nil, fmt.Errorf("create notification source: %w", err)
	}

	var cursors notifications.CursorStore
	if notifications.ReadModel(cfg.ReadModel) == notifications.ReadModelCursor {
		cursors, err = a.cursorStore(ctx)
		if err != nil {
			return nil, err
		}
	}

	feed, err := notifications.NewAggregator(source, repo, cursors, notificationspostgres.NewListener(a.db),
		notifications.AggregatorConfig{
			ReadModel:       notifications.ReadModel(cfg.ReadModel),
			WritePolicy:     notifications.WritePolicy(cfg.WritePolicy),
			FeedLimit:       cfg.FeedLimit,
			QueryTimeout:    a.config.Backend.QueryTimeout,
			CursorCacheSize: cfg.CursorCacheSize,
		})
	if err != nil {
		return nil, fmt.Errorf("create notification feed: %w", err)
	}
	a.feed = feed

	if err := feed.Start(ctx); err != nil {
		return nil, fmt.Errorf("start notification feed: %w", err)
	}

	if cfg.ResyncSchedule != "" {
		resyncer, err := notifications.NewResyncer(feed, cfg.ResyncSchedule)
		if err != nil {
			_ = feed.Close()
			return nil, fmt.Errorf("create feed resync: %w", err)
		}
		resyncer.Start()
		a.resyncer = resyncer
	}

	return feed, nil
}

func (a *App) cursorStore(ctx context.Context) (notifications.CursorStore, error) {
	switch a.config.Notifications.CursorStore {
	case "redis":
		client, err := notificationsredis.Connect(ctx, a.config.Redis.URL)
		if err != nil {
			return nil, fmt.Errorf("connect to redis: %w", err)
		}
		a.redis = client
		return notificationsredis.NewCursorStore(client), nil
	default:
		return notificationspostgres.NewCursorStore(a.db), nil
	}
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
		if err := a.redis.Ping(ctx).Err(); err != nil {
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
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		return slog.New(slog.NewJSONHandler(os.Stdout, opts))
	}
	return slog.New(slog.NewTextHandler(os.Stdout, opts))
}
