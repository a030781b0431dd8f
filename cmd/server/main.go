package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-kit/log"
	"github.com/go-kit/log/level"

	"taskflow/internal/api"
	"taskflow/internal/config"
	"taskflow/internal/db"
	"taskflow/internal/logging"
	"taskflow/internal/metrics"
	"taskflow/pkg/audit"
	"taskflow/pkg/execution"
	"taskflow/pkg/identity"
	"taskflow/pkg/objectstore"
	"taskflow/pkg/session"
	"taskflow/pkg/task"
	"taskflow/pkg/user"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		level.Error(logging.New(os.Stderr, "info")).Log("msg", "load config", "err", err)
		os.Exit(1)
	}
	logger := logging.New(os.Stderr, cfg.LogLevel)

	if err := run(cfg, logger); err != nil {
		level.Error(logger).Log("msg", "server stopped", "err", err)
		os.Exit(1)
	}
}

func run(cfg *config.Config, logger log.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	pool, err := db.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pool.Close()

	users := user.NewPgStore(pool)
	tasks := task.NewPgStore(pool)
	execs := execution.NewPgStore(pool)
	events := audit.NewPgStore(pool)

	// Ensure tables exist
	if err := db.EnsureSchema(ctx, users, tasks, execs, events); err != nil {
		return err
	}

	sessions, err := session.OpenBadger(cfg.SessionDir)
	if err != nil {
		return err
	}
	defer sessions.Close()

	gw, err := objectstore.NewMinio(objectstore.MinioConfig{
		Endpoint:       cfg.S3.Endpoint,
		PublicEndpoint: cfg.S3.PublicEndpoint,
		Region:         cfg.S3.Region,
		AccessKey:      cfg.S3.AccessKey,
		SecretKey:      cfg.S3.SecretKey,
		PathStyle:      cfg.S3.PathStyle,
	})
	if err != nil {
		return err
	}
	bucket := objectstore.NewBucket(gw, objectstore.BucketConfig{
		Name:    cfg.S3.Bucket,
		Prefix:  execution.KeyPrefix,
		Timeout: cfg.S3.Timeout,
		LinkTTL: cfg.S3.LinkTTL,
	})
	// The bucket is created lazily on first upload too; failing here only
	// means the store is not reachable yet.
	if err := bucket.Ensure(ctx); err != nil {
		level.Warn(logger).Log("msg", "object store not ready", "bucket", cfg.S3.Bucket, "err", err)
	}

	auth := identity.New(users, sessions, cfg.SessionTTL, events, logger)
	taskReg := task.NewRegistry(tasks, users, bucket, cfg.TaskReadPolicy, events, logger)
	execReg := execution.NewRegistry(execs, tasks, bucket, events, logger)

	server := api.New(api.Config{
		Identity:     auth,
		Tasks:        taskReg,
		Executions:   execReg,
		Audit:        events,
		Metrics:      metrics.New(),
		Logger:       logger,
		SecureCookie: cfg.SessionSecureCookie,
		CORSOrigins:  cfg.CORSOrigins,
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           server,
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		level.Info(logger).Log("msg", "taskflow listening", "addr", cfg.HTTPAddr)
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	level.Info(logger).Log("msg", "shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
