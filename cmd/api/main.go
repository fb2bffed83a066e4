package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	httpadapter "github.com/spacebiolab/biolit/internal/adapters/http"
	"github.com/spacebiolab/biolit/internal/bootstrap"
	"github.com/spacebiolab/biolit/internal/config"
	"github.com/spacebiolab/biolit/internal/observability/logging"
	"github.com/spacebiolab/biolit/internal/observability/metrics"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}
	logger := logging.Setup("biolit-api", cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.New(ctx, cfg)
	if err != nil {
		log.Fatalf("bootstrap error: %v", err)
	}
	defer app.Close()

	httpMetrics := metrics.NewHTTPServerMetrics("biolit-api")
	router := httpadapter.NewRouter(app.Retriever, app.Queue, httpadapter.RouterOptions{
		Service:       "biolit-api",
		RateLimitRPS:  cfg.APIRateLimitRPS,
		RateBurst:     cfg.APIRateLimitBurst,
		MaxConcurrent: cfg.APIMaxConcurrent,
		Metrics:       httpMetrics,
	}).Handler()

	server := &http.Server{
		Addr:         ":" + cfg.APIPort,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.Info("api_listening", "port", cfg.APIPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("api server error: %v", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("api_shutdown_error", "error", err)
	}
}
