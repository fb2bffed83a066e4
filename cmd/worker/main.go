package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spacebiolab/biolit/internal/bootstrap"
	"github.com/spacebiolab/biolit/internal/config"
	"github.com/spacebiolab/biolit/internal/core/domain"
	"github.com/spacebiolab/biolit/internal/observability/logging"
	"github.com/spacebiolab/biolit/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.Setup("biolit-worker", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	workerMetrics := metrics.NewWorkerMetrics("biolit-worker")
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", workerMetrics.Handler())
		if err := http.ListenAndServe(":"+cfg.WorkerMetricsPort, mux); err != nil && err != http.ErrServerClosed {
			logger.Error("metrics_server_error", "error", err)
		}
	}()

	logger.Info("worker_subscribed", "subject", cfg.NATSSubject)
	err = app.Queue.SubscribeIngestJobs(ctx, func(handlerCtx context.Context, job domain.IngestJob) error {
		jobCtx, cancel := context.WithTimeout(handlerCtx, 2*time.Hour)
		defer cancel()

		workerMetrics.StartJob()
		start := time.Now()
		report, err := app.Ingestor.IngestDirectory(jobCtx, job)
		workerMetrics.FinishJob("biolit-worker", time.Since(start), err)

		if report != nil {
			workerMetrics.ObserveIngestProgress("biolit-worker", report.FilesProcessed, report.ChunksUpserted, report.RecordsSkipped)
			logger.Info("ingest_job_done",
				"input_dir", job.InputDir,
				"collection", job.Collection,
				"files_processed", report.FilesProcessed,
				"chunks_upserted", report.ChunksUpserted,
				"records_skipped", report.RecordsSkipped,
				"last_file_index", report.LastFileIndex,
			)
		}
		return err
	})
	if err != nil {
		log.Fatalf("worker subscribe error: %v", err)
	}
}
