package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rpattn/feedimport/internal/config"
	"github.com/rpattn/feedimport/internal/db"
	"github.com/rpattn/feedimport/internal/ingestion"
	"github.com/rpattn/feedimport/internal/logging"
	httpmw "github.com/rpattn/feedimport/internal/middleware"
	"github.com/rpattn/feedimport/internal/queue"
	"github.com/rpattn/feedimport/internal/repository"
	"github.com/rpattn/feedimport/internal/storage"
	"github.com/rpattn/feedimport/internal/worker"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

const (
	shutdownTimeout = 30 * time.Second
	recoverLimit    = 1000
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	flag.Parse()

	if err := run(*configPath); err != nil {
		slog.Error("server exited with error", "error", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)

	slog.Info("configuration loaded",
		"addr", cfg.Server.Addr,
		"queue", cfg.Queue.Driver,
		"workers", cfg.Worker.Concurrency,
		"batch_size", cfg.Import.BatchSize,
	)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	conn, err := db.NewConnection(ctx, cfg.Database)
	if err != nil {
		return err
	}
	defer conn.Close()

	if err := db.RunMigrations(cfg.Database); err != nil {
		return err
	}

	jobs := repository.NewImportJobRepository(conn.Pool)
	logs := repository.NewImportLogRepository(conn.Pool)
	products := repository.NewProductRepository(conn.Pool)

	store, err := storage.NewLocal(cfg.Import.UploadDir, cfg.Import.MaxUploadBytes)
	if err != nil {
		return err
	}
	slog.Info("upload storage ready", "dir", store.Dir(), "max_bytes", cfg.Import.MaxUploadBytes)

	q, err := openQueue(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := q.Close(); err != nil {
			slog.Warn("failed to close queue", "error", err)
		}
	}()

	coordinator := ingestion.NewCoordinator(
		jobs,
		logs,
		ingestion.NewCatalogUpserter(conn, products),
		ingestion.WithBatchSize(cfg.Import.BatchSize),
	)

	workerCtx, stopWorker := context.WithCancel(context.Background())
	defer stopWorker()
	w := worker.New(coordinator, logs, q, cfg.Worker.Concurrency, slog.Default())
	workerDone := make(chan error, 1)
	go func() { workerDone <- w.Run(workerCtx) }()

	if n, err := worker.RecoverPending(ctx, jobs, q, recoverLimit); err != nil {
		slog.Error("failed to re-queue pending jobs", "error", err, "published", n)
	}

	api := ingestion.NewHTTPHandler(ingestion.HandlerConfig{
		Jobs:           jobs,
		Logs:           logs,
		Products:       products,
		Store:          store,
		Publisher:      q,
		DB:             conn,
		MaxUploadBytes: cfg.Import.MaxUploadBytes,
	})

	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middleware.RealIP)
	router.Use(httpmw.LoggingMiddleware)
	router.Use(middleware.Recoverer)
	router.Mount("/", api.Routes())

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      httpmw.CORS(cfg.Server.AllowedOrigins)(router),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
		close(serverErr)
	}()

	select {
	case <-ctx.Done():
		slog.Info("shutting down...")
	case err := <-serverErr:
		stopWorker()
		<-workerDone
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("http shutdown error", "error", err)
	}

	stopWorker()
	select {
	case err := <-workerDone:
		if err != nil {
			slog.Error("worker stopped with error", "error", err)
		}
	case <-shutdownCtx.Done():
		slog.Warn("import jobs still running at shutdown deadline")
	}

	slog.Info("server exited")
	return nil
}

func openQueue(cfg config.Config) (queue.Queue, error) {
	switch cfg.Queue.Driver {
	case config.QueueAMQP:
		q, err := queue.DialAMQP(queue.AMQPConfig{
			URL:      cfg.Queue.URL,
			Queue:    cfg.Queue.Name,
			Prefetch: 1,
		})
		if err != nil {
			return nil, err
		}
		slog.Info("connected to job queue", "driver", cfg.Queue.Driver, "queue", cfg.Queue.Name)
		return q, nil
	default:
		return queue.NewMemory(cfg.Queue.Buffer), nil
	}
}
