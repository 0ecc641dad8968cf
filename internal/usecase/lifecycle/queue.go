package lifecycle

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	domlc "github.com/kailas-cloud/guestid/internal/domain/lifecycle"
)

// ErrQueueClosed is returned when enqueueing after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// ErrQueueFull is returned when the buffer is saturated.
var ErrQueueFull = errors.New("queue is full")

// Job is one document to process. Retry selects the retry path for failed documents.
type Job struct {
	DocumentID string
	Retry      bool
}

// Processor is the work a queue worker performs.
type Processor interface {
	Process(ctx context.Context, id string) (domlc.Document, error)
	Retry(ctx context.Context, id string) (domlc.Document, error)
}

// Queue processes documents in the background so uploads never wait for extraction.
type Queue struct {
	proc    Processor
	logger  *zap.Logger
	workers int
	timeout time.Duration

	ch   chan Job
	wg   sync.WaitGroup
	once sync.Once

	mu     sync.Mutex
	closed bool
}

// Option configures a Queue.
type Option func(*Queue)

// WithWorkers sets the number of workers.
func WithWorkers(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

// WithQueueSize sets the buffer size.
func WithQueueSize(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan Job, n)
		}
	}
}

// WithProcessTimeout bounds one job. The terminal status write is not bound by it.
func WithProcessTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue starts the workers.
func NewQueue(proc Processor, logger *zap.Logger, opts ...Option) *Queue {
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 4,
		timeout: 5 * time.Minute,
		ch:      make(chan Job, 256),
	}
	for _, o := range opts {
		o(q)
	}
	q.start()
	return q
}

func (q *Queue) start() {
	q.once.Do(func() {
		for i := 0; i < q.workers; i++ {
			q.wg.Add(1)
			go q.work(i + 1)
		}
	})
}

func (q *Queue) work(workerID int) {
	defer q.wg.Done()
	for job := range q.ch {
		ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
		var (
			doc domlc.Document
			err error
		)
		if job.Retry {
			doc, err = q.proc.Retry(ctx, job.DocumentID)
		} else {
			doc, err = q.proc.Process(ctx, job.DocumentID)
		}
		cancel()

		if err != nil {
			q.logger.Error("Document processing failed",
				zap.Int("worker_id", workerID), zap.String("document_id", job.DocumentID), zap.Error(err))
			continue
		}
		if !doc.Status.IsTerminal() {
			q.logger.Warn("Document left in non-terminal status",
				zap.Int("worker_id", workerID),
				zap.String("document_id", job.DocumentID),
				zap.String("status", string(doc.Status)),
			)
			continue
		}
		q.logger.Debug("Document processed",
			zap.Int("worker_id", workerID),
			zap.String("document_id", job.DocumentID),
			zap.String("status", string(doc.Status)),
		)
	}
}

// Enqueue schedules a job without blocking.
func (q *Queue) Enqueue(_ context.Context, job Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.ch <- job:
		return nil
	default:
		q.logger.Warn("Queue full, rejecting job", zap.String("document_id", job.DocumentID))
		return ErrQueueFull
	}
}

// Shutdown stops accepting jobs and waits for in-flight ones until ctx expires.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.ch)
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
