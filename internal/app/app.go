// Package app assembles the service graph shared by the API server and the
// queue worker.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/ai"
	"github.com/logan676/mindscribe/internal/blob"
	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/config"
	"github.com/logan676/mindscribe/internal/db"
	"github.com/logan676/mindscribe/internal/notegen"
	"github.com/logan676/mindscribe/internal/pipeline"
	"github.com/logan676/mindscribe/internal/speech"
	"github.com/logan676/mindscribe/internal/store/rabbitmq"
	"github.com/logan676/mindscribe/internal/store/redisstore"
)

type App struct {
	Cfg      config.Config
	Log      zerolog.Logger
	Svc      *clinical.Service
	Pipeline *pipeline.Orchestrator

	// local is set when no broker is configured and jobs run in-process.
	local   *pipeline.LocalQueue
	closers []func() error
}

// New opens the database, connects the optional redis and rabbitmq backends
// and builds the pipeline. Call Shutdown to release everything.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	a := &App{Cfg: cfg, Log: log}
	if err := a.build(ctx); err != nil {
		_ = a.closeAll()
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context) error {
	cfg := a.Cfg

	gdb, err := db.Open(cfg.DBDriver, cfg.DBDSN, a.Log)
	if err != nil {
		return err
	}
	sqlDB, err := gdb.DB()
	if err != nil {
		return err
	}
	a.closers = append(a.closers, sqlDB.Close)
	a.Svc = clinical.NewService(clinical.NewRepo(gdb), a.Log)

	blobs, err := blob.NewStore(cfg.RecordingDir, cfg.MaxRecordingBytes)
	if err != nil {
		return fmt.Errorf("recording dir: %w", err)
	}

	reg := ai.NewDefaultRegistry(ai.Settings{
		OpenAIAPIKey:      cfg.OpenAIAPIKey,
		OpenAIBaseURL:     cfg.OpenAIBaseURL,
		OllamaBaseURL:     cfg.OllamaBaseURL,
		OpenRouterBaseURL: cfg.OpenRouterBaseURL,
		OpenRouterAPIKey:  cfg.OpenRouterAPIKey,
		OpenRouterSiteURL: cfg.OpenRouterSiteURL,
		OpenRouterAppName: cfg.OpenRouterAppName,
	})
	provider, err := reg.Get(ctx, cfg.NoteProvider, cfg.NoteModel)
	if err != nil {
		return err
	}
	prompts, err := notegen.LoadPrompts(cfg.NotePromptsFile)
	if err != nil {
		return err
	}
	gen := notegen.NewGenerator(provider, prompts, ai.ChatOptions{
		Temperature: ai.Float(cfg.NoteTemperature),
		MaxTokens:   cfg.NoteMaxTokens,
	}, a.Log)

	locker, err := a.locker(ctx)
	if err != nil {
		return err
	}
	queue, err := a.queue()
	if err != nil {
		return err
	}

	a.Pipeline = pipeline.New(pipeline.Options{
		Service: a.Svc,
		Blobs:   blobs,
		Speech:  speech.NewClient(cfg.SpeechBaseURL, cfg.SpeechAPIKey, cfg.SpeechPollInterval, cfg.SpeechMaxWait),
		Notes:   gen,
		Locker:  locker,
		Queue:   queue,
		Log:     a.Log,
		LockTTL: cfg.NoteLockTTL,
	})
	a.Log.Info().
		Str("db", cfg.DBDriver).
		Str("note_provider", cfg.NoteProvider).
		Str("note_model", cfg.NoteModel).
		Bool("broker", a.local == nil).
		Bool("redis", cfg.RedisAddr != "").
		Msg("app assembled")
	return nil
}

func (a *App) locker(ctx context.Context) (redisstore.Locker, error) {
	if a.Cfg.RedisAddr == "" {
		return redisstore.NewLocalLocker(), nil
	}
	rs := redisstore.New(a.Cfg.RedisAddr, a.Cfg.RedisPassword, a.Cfg.RedisDB)
	if err := rs.Ping(ctx); err != nil {
		_ = rs.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	a.closers = append(a.closers, rs.Close)
	return rs, nil
}

func (a *App) queue() (pipeline.Queue, error) {
	if a.Cfg.RabbitURL == "" {
		a.local = pipeline.NewLocalQueue(256, a.Cfg.WorkerConcurrency, a.Log)
		return a.local, nil
	}
	pub, err := rabbitmq.NewPublisher(a.Cfg.RabbitURL, a.Cfg.RabbitQueue)
	if err != nil {
		return nil, fmt.Errorf("rabbit publisher: %w", err)
	}
	a.closers = append(a.closers, pub.Close)
	return pub, nil
}

// InProcess reports whether jobs run inside this process.
func (a *App) InProcess() bool { return a.local != nil }

// StartLocalWorkers runs the in-process pool, republishes jobs a previous
// process left queued and keeps sweeping for jobs that found the queue full.
// It is a no-op when a broker is configured.
func (a *App) StartLocalWorkers(ctx context.Context) error {
	if a.local == nil {
		return nil
	}
	a.local.Start(ctx, a.Pipeline.RunJob)
	n, err := a.Pipeline.RequeuePending(ctx)
	if err != nil {
		return fmt.Errorf("requeue pending: %w", err)
	}
	if n > 0 {
		a.Log.Info().Int("jobs", n).Msg("requeued pending jobs")
	}
	go a.sweep(ctx, requeueInterval)
	return nil
}

const requeueInterval = time.Minute

func (a *App) sweep(ctx context.Context, every time.Duration) {
	t := time.NewTicker(every)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			sctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			n, err := a.Pipeline.RequeueStale(sctx, every)
			cancel()
			if err != nil && !errors.Is(err, pipeline.ErrQueueFull) && !errors.Is(err, pipeline.ErrQueueUnavailable) {
				a.Log.Warn().Err(err).Msg("requeue sweep")
			}
			if n > 0 {
				a.Log.Info().Int("jobs", n).Msg("requeued stale jobs")
			}
		}
	}
}

// Shutdown drains local workers and background note generation, then
// closes connections in reverse order of opening.
func (a *App) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		if a.local != nil {
			a.local.Stop()
		}
		a.Pipeline.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		a.Log.Warn().Msg("shutdown deadline hit before workers drained")
	}
	return a.closeAll()
}

func (a *App) closeAll() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	a.closers = nil
	return errors.Join(errs...)
}
