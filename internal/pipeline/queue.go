package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Queue carries accepted job ids to whatever runs them.
type Queue interface {
	PublishJob(ctx context.Context, jobID string) error
}

// JobHandler runs one job to completion.
type JobHandler func(ctx context.Context, jobID string) error

// LocalQueue is an in-process worker pool used when no broker is configured.
// Jobs still buffered at shutdown stay queued in the database.
type LocalQueue struct {
	jobs    chan string
	quit    chan struct{}
	once    sync.Once
	workers int
	log     zerolog.Logger

	mu      sync.RWMutex
	closed  bool
	wg      sync.WaitGroup
	started bool
}

func NewLocalQueue(buffer, workers int, log zerolog.Logger) *LocalQueue {
	if buffer <= 0 {
		buffer = 64
	}
	if workers <= 0 {
		workers = 1
	}
	return &LocalQueue{jobs: make(chan string, buffer), quit: make(chan struct{}), workers: workers, log: log}
}

// PublishJob waits for buffer space until ctx ends, then reports ErrQueueFull.
func (q *LocalQueue) PublishJob(ctx context.Context, jobID string) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueUnavailable
	}
	select {
	case q.jobs <- jobID:
		return nil
	default:
	}
	select {
	case q.jobs <- jobID:
		return nil
	case <-q.quit:
		return ErrQueueUnavailable
	case <-ctx.Done():
		return ErrQueueFull
	}
}

// Start launches the workers. They stop when ctx ends or Stop is called.
func (q *LocalQueue) Start(ctx context.Context, handle JobHandler) {
	q.mu.Lock()
	if q.started {
		q.mu.Unlock()
		return
	}
	q.started = true
	q.mu.Unlock()

	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go func(workerID int) {
			defer q.wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case id, ok := <-q.jobs:
					if !ok {
						return
					}
					start := time.Now()
					if err := handle(ctx, id); err != nil {
						q.log.Warn().Err(err).Int("worker", workerID).Str("job_id", id).Dur("cost", time.Since(start)).Msg("job failed")
						continue
					}
					q.log.Debug().Int("worker", workerID).Str("job_id", id).Dur("cost", time.Since(start)).Msg("job done")
				}
			}
		}(i)
	}
}

// Stop refuses new jobs, lets workers drain what is buffered and waits.
func (q *LocalQueue) Stop() {
	// wake blocked publishers so the write lock can be taken
	q.once.Do(func() { close(q.quit) })
	q.mu.Lock()
	if !q.closed {
		q.closed = true
		close(q.jobs)
	}
	q.mu.Unlock()
	q.wg.Wait()
}
