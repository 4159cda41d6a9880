// cmd/server/main.go
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

	"github.com/jason-s-yu/lobbyd/internal/auth"
	"github.com/jason-s-yu/lobbyd/internal/cache"
	"github.com/jason-s-yu/lobbyd/internal/config"
	"github.com/jason-s-yu/lobbyd/internal/database"
	"github.com/jason-s-yu/lobbyd/internal/handlers"
	"github.com/jason-s-yu/lobbyd/internal/lobby"
	"github.com/jason-s-yu/lobbyd/internal/session"
	_ "github.com/joho/godotenv/autoload"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	logger := cfg.Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.WithError(err).Fatal("server exited")
	}
}

func run(ctx context.Context, cfg *config.Config, logger *logrus.Logger) error {
	sinks, cleanup, err := activitySinks(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	store := lobby.NewStore(lobby.WithSettings(cfg.Settings()), lobby.WithLogger(logger))
	srv := session.NewServer(store, session.NewRouter(logger, session.DefaultOutboxSize), logger,
		session.WithActivitySinks(sinks...))
	defer srv.Close()

	reaper := lobby.NewReaper(srv, logger)
	reaper.Interval = cfg.ReapInterval
	reaper.MaxAge = cfg.LobbyMaxAge
	go reaper.Run(ctx)

	routes := handlers.Routes{
		Logger:   logger,
		Server:   srv,
		Origins:  cfg.AllowedOrigins,
		Shutdown: ctx,
	}
	if cfg.MonitorAuth {
		keys, err := monitorKeys(cfg, logger)
		if err != nil {
			return err
		}
		routes.Verifier = keys
	}

	httpSrv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           routes.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Infof("Running on %s", httpSrv.Addr)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpSrv.Shutdown(shutdownCtx)
}

// activitySinks wires lobby activity to Redis when REDIS_ADDR is set, where the historian
// archives it. Without Redis, DATABASE_URL enables direct Postgres writes.
func activitySinks(ctx context.Context, cfg *config.Config, logger *logrus.Logger) ([]lobby.ActivitySink, func(), error) {
	switch {
	case cfg.RedisAddr != "":
		rdb, err := cache.ConnectRedis(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return nil, nil, err
		}
		pub := cache.NewPublisher(rdb, cfg.RedisQueue)
		logger.WithField("queue", pub.Queue()).Info("publishing lobby activity to Redis")
		return []lobby.ActivitySink{pub}, func() { _ = rdb.Close() }, nil

	case cfg.DatabaseURL != "":
		pool, err := database.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		archive := database.NewArchive(pool)
		if err := archive.EnsureSchema(ctx); err != nil {
			pool.Close()
			return nil, nil, err
		}
		logger.Info("archiving lobby activity to Postgres")
		return []lobby.ActivitySink{archive}, pool.Close, nil
	}
	return nil, func() {}, nil
}

// monitorKeys loads the signing keys from disk, or generates throwaway keys and logs a token
// so operators can reach the monitoring endpoints of this process.
func monitorKeys(cfg *config.Config, logger *logrus.Logger) (*auth.Keys, error) {
	if cfg.JWTPrivateKey != "" {
		keys, err := auth.LoadKeys(cfg.JWTPrivateKey, cfg.JWTPublicKey, cfg.TokenExpiry())
		if err != nil {
			return nil, fmt.Errorf("load monitor keys: %w", err)
		}
		return keys, nil
	}

	keys, err := auth.GenerateKeys(cfg.TokenExpiry())
	if err != nil {
		return nil, fmt.Errorf("generate monitor keys: %w", err)
	}
	token, err := keys.CreateJWT("operator")
	if err != nil {
		return nil, err
	}
	logger.WithField("token", token).Warn("using ephemeral monitor keys")
	return keys, nil
}
