package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/logan676/mindscribe/internal/app"
	"github.com/logan676/mindscribe/internal/config"
	"github.com/logan676/mindscribe/internal/logging"
	"github.com/logan676/mindscribe/internal/store/rabbitmq"
)

func main() {
	cfg := config.Load()
	log := logging.New(cfg.LogLevel, cfg.LogJSON)
	if cfg.RabbitURL == "" {
		log.Fatal().Msg("RABBIT_URL is required for the worker")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("startup failed")
	}

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitURL, cfg.RabbitQueue, cfg.WorkerConcurrency, log)
	if err != nil {
		log.Fatal().Err(err).Msg("rabbit consumer")
	}

	runErr := consumer.Run(ctx, func(ctx context.Context, jobID string) error {
		start := time.Now()
		err := a.Pipeline.RunJob(ctx, jobID)
		// slow jobs only
		if cost := time.Since(start); cost > 2*time.Second {
			log.Info().Str("job_id", jobID).Dur("cost", cost).Err(err).Msg("job_timing")
		}
		return err
	})
	if runErr != nil {
		log.Error().Err(runErr).Msg("consumer stopped")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = consumer.Close()
	if err := a.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("shutdown")
	}
	log.Info().Msg("worker stopped")
	if runErr != nil {
		os.Exit(1)
	}
}
