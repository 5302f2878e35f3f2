package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"sessionstore-go/internal/codec"
	"sessionstore-go/internal/config"
	"sessionstore-go/internal/session"
	"sessionstore-go/internal/storage"
)

const shutdownTimeout = 5 * time.Second

// Application holds all the major components of the demo service.
type Application struct {
	Config        *config.Config
	Logger        *slog.Logger
	Storage       *storage.Handle
	Store         *session.Store
	Sweeper       *session.Sweeper
	HttpServer    *http.Server
	MetricsServer *http.Server

	now func() time.Time
}

// New creates and initializes a new Application instance.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Application, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &Application{
		Config: cfg,
		Logger: logger,
		now:    time.Now,
	}

	// Setup: Storage backend
	handle, err := storage.Open(ctx, cfg.StorageConfig())
	if err != nil {
		return nil, fmt.Errorf("failed to open storage: %w", err)
	}

	// Setup: Session store
	opts := []session.Option{
		session.WithLogger(logger),
		session.WithClock(func() time.Time { return app.now() }),
		session.WithMaxCreateAttempts(cfg.Store.MaxCreateAttempts),
		session.WithIDGenerator(idGenerator(cfg.Store.IDFormat)),
	}
	if cfg.Store.EncryptionKey != "" {
		sealed, err := sealedCodec(cfg.Store.EncryptionKey)
		if err != nil {
			handle.Close()
			return nil, err
		}
		opts = append(opts, session.WithCodec(sealed))
	}

	store, err := session.NewStore(handle.Backend, opts...)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to create session store: %w", err)
	}

	// Setup: Expiry sweeper
	sweeper, err := store.NewSweeper(cfg.Sweeper.Interval.Duration)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("failed to create sweeper: %w", err)
	}

	// Setup: HTTP Server for metrics
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", promhttp.Handler())

	// Setup: Main HTTP Server
	httpMux := http.NewServeMux()

	app.Storage = handle
	app.Store = store
	app.Sweeper = sweeper
	app.MetricsServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler:           metricsMux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	app.HttpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           httpMux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	// Register HTTP handlers
	httpMux.Handle("GET /{$}", app.loadSession(http.HandlerFunc(app.handleCounter)))
	httpMux.HandleFunc("POST /logout", app.handleLogout)
	httpMux.HandleFunc("GET /stats", app.handleStats)
	httpMux.HandleFunc("GET /healthz", app.handleHealth)

	return app, nil
}

func idGenerator(format string) session.IDGenerator {
	if format == "ulid" {
		return session.NewULID
	}
	return session.NewUUID
}

func sealedCodec(hexKey string) (*codec.Sealed, error) {
	key, err := codec.ParseKey(hexKey)
	if err != nil {
		return nil, fmt.Errorf("%w: encryption key: %w", session.ErrConfiguration, err)
	}
	return codec.NewSealed(codec.CBOR{}, key)
}

// Run serves HTTP and metrics and sweeps expired sessions until ctx is
// cancelled, then shuts the servers down.
func (a *Application) Run(ctx context.Context) error {
	a.Logger.InfoContext(ctx, "starting application services",
		"http_addr", a.HttpServer.Addr,
		"metrics_addr", a.MetricsServer.Addr,
		"driver", a.Config.Store.Driver,
		"table", a.Config.Store.Table)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return serve(a.MetricsServer)
	})
	g.Go(func() error {
		return serve(a.HttpServer)
	})
	g.Go(func() error {
		if err := a.Sweeper.Run(gctx); !errors.Is(err, context.Canceled) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})

	if err := g.Wait(); err != nil {
		return err
	}
	a.Logger.Info("application stopped gracefully")
	return nil
}

func serve(srv *http.Server) error {
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("%s: %w", srv.Addr, err)
	}
	return nil
}

func (a *Application) shutdown() error {
	a.Logger.Info("stopping application services")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := a.HttpServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("http server shutdown: %w", err))
	}
	if err := a.MetricsServer.Shutdown(shutdownCtx); err != nil {
		errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
	}
	return errors.Join(errs...)
}

// Close releases the storage backend.
func (a *Application) Close() error {
	return a.Storage.Close()
}
