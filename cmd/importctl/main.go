// Command importctl imports one product feed workbook synchronously and prints the outcome.
//
//	importctl [-config dir] [-batch-size n] [-show-logs n] feed.xlsx
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/rpattn/feedimport/internal/config"
	"github.com/rpattn/feedimport/internal/db"
	"github.com/rpattn/feedimport/internal/domain"
	"github.com/rpattn/feedimport/internal/ingestion"
	"github.com/rpattn/feedimport/internal/logging"
	"github.com/rpattn/feedimport/internal/repository"
	"github.com/rpattn/feedimport/internal/worker"

	"github.com/google/uuid"
)

func main() {
	configPath := flag.String("config", ".", "directory containing config.yaml")
	batchSize := flag.Int("batch-size", 0, "rows per batch (defaults to import.batch_size)")
	showLogs := flag.Int("show-logs", 20, "number of log entries to print")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <file.xlsx>\n", filepath.Base(os.Args[0]))
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 1 {
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*configPath, flag.Arg(0), *batchSize, *showLogs, os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "import failed:", err)
		os.Exit(1)
	}
}

func run(configPath, path string, batchSize, showLogs int, out io.Writer) error {
	if err := ingestion.ValidateFileName(path); err != nil {
		return err
	}
	absPath, err := filepath.Abs(path)
	if err != nil {
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logging.Setup(cfg.Log.Level, cfg.Log.Format)
	if batchSize <= 0 {
		batchSize = cfg.Import.BatchSize
	}

	// A started import is not cancellable; interrupting the process leaves the job in processing.
	ctx := context.Background()

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

	job, err := jobs.Create(ctx, domain.NewImportJob(filepath.Base(absPath), absPath))
	if err != nil {
		return err
	}

	coordinator := ingestion.NewCoordinator(
		jobs,
		logs,
		ingestion.NewCatalogUpserter(conn, products),
		ingestion.WithBatchSize(batchSize),
		ingestion.WithLogger(slog.Default()),
	)

	finished, runErr := coordinator.Run(ctx, job.ID)
	var fatal *ingestion.FatalError
	if errors.As(runErr, &fatal) {
		entry := domain.JobError(job.ID, worker.FailurePrefix+fatal.Err.Error())
		if err := logs.Append(ctx, entry); err != nil {
			slog.Error("failed to record job failure", "error", err)
		}
		finished, _ = jobs.GetByID(ctx, job.ID)
	}

	printSummary(out, finished, job.ID)
	if err := printLogs(ctx, out, logs, job.ID, showLogs); err != nil {
		slog.Warn("failed to read import logs", "error", err)
	}
	return runErr
}

func printSummary(out io.Writer, job domain.ImportJob, id uuid.UUID) {
	fmt.Fprintf(out, "job:       %s\n", id)
	fmt.Fprintf(out, "status:    %s\n", job.Status)
	fmt.Fprintf(out, "rows:      %d\n", job.TotalRows)
	fmt.Fprintf(out, "succeeded: %d\n", job.SuccessCount)
	fmt.Fprintf(out, "warnings:  %d\n", job.WarningCount)
	fmt.Fprintf(out, "errors:    %d\n", job.ErrorCount)
}

func printLogs(ctx context.Context, out io.Writer, logs repository.ImportLogRepository, jobID uuid.UUID, limit int) error {
	if limit <= 0 {
		return nil
	}
	total, err := logs.Count(ctx, jobID)
	if err != nil {
		return err
	}
	entries, err := logs.List(ctx, jobID, limit, 0)
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		return nil
	}

	fmt.Fprintln(out)
	for _, entry := range entries {
		fmt.Fprintln(out, formatLog(entry))
	}
	if total > len(entries) {
		fmt.Fprintf(out, "... %d more\n", total-len(entries))
	}
	return nil
}

func formatLog(entry domain.ImportLog) string {
	if entry.RowNumber == nil {
		return fmt.Sprintf("%-7s %s", entry.Kind, entry.Message)
	}
	return fmt.Sprintf("%-7s row %d: %s", entry.Kind, *entry.RowNumber, entry.Message)
}
