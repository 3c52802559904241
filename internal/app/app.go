package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"

	"github.com/streamify/backend/internal/config"
	"github.com/streamify/backend/internal/db"
	"github.com/streamify/backend/internal/handlers"
	"github.com/streamify/backend/internal/httpserver"
	"github.com/streamify/backend/internal/logging"
	"github.com/streamify/backend/internal/middleware"
)

// Run bootstraps the Streamify backend application.
func Run(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return errors.New("expected command: serve, migrate, or seed")
	}

	switch args[0] {
	case "serve":
		return serve(ctx)
	case "migrate":
		return runMigrations(ctx, args[1:])
	case "seed":
		return runSeed(ctx, args[1:])
	default:
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func serve(ctx context.Context) error {
	loader, err := config.NewLoader(os.Getenv(config.PathEnv))
	if err != nil {
		return err
	}
	cfg, err := loader.Config()
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := logging.New(os.Stdout, cfg.LogLevel)
	slog.SetDefault(logger)

	pool, err := db.Connect(ctx, cfg.DatabaseURL, cfg.DatabaseMaxConns)
	if err != nil {
		return err
	}
	defer pool.Close()

	deps, cleanup, err := buildDependencies(ctx, pool, cfg, logger)
	if err != nil {
		return err
	}

	var maintenance atomic.Bool
	maintenance.Store(cfg.Maintenance)
	loader.Watch(func(updated config.Config) {
		if maintenance.Swap(updated.Maintenance) != updated.Maintenance {
			logger.Info("maintenance mode changed", "enabled", updated.Maintenance)
		}
	}, func(err error) {
		logger.Error("reload config", "error", err)
	})

	handler, err := newHandler(logger, cfg, deps, &maintenance)
	if err != nil {
		_ = cleanup(ctx)
		return err
	}
	srv := httpserver.New(cfg.AppPort, handler)

	logger.Info("starting http server", "port", cfg.AppPort, "maintenance", cfg.Maintenance)

	srvErr := make(chan error, 1)
	go func() {
		srvErr <- srv.Start()
	}()

	signalCh := make(chan os.Signal, 1)
	signal.Notify(signalCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(signalCh)

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("context canceled, shutting down server")
	case sig := <-signalCh:
		logger.Info("received signal, shutting down", "signal", sig.String())
	case err := <-srvErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			runErr = err
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), httpserver.ShutdownTimeout(cfg.ShutdownTimeout))
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, fmt.Errorf("shutdown http server: %w", err))
	}
	if err := cleanup(shutdownCtx); err != nil {
		runErr = errors.Join(runErr, err)
	}
	return runErr
}

// newHandler builds the routed mux wrapped in the request middleware chain.
func newHandler(logger *slog.Logger, cfg config.Config, deps handlers.Dependencies, maintenance *atomic.Bool) (http.Handler, error) {
	trusted, err := middleware.ParseTrustedProxies(cfg.TrustedProxies)
	if err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}

	mux := http.NewServeMux()
	handlers.RegisterRoutes(mux, deps)

	var handler http.Handler = mux
	handler = middleware.Maintenance(maintenance)(handler)
	handler = middleware.CORS(cfg.AllowedOrigins)(handler)
	handler = middleware.RequestLogger(logger)(handler)
	return middleware.RealIP(trusted)(handler), nil
}
