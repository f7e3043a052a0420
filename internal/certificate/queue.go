package certificate

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueClosed is returned by Enqueue after Shutdown
var ErrQueueClosed = errors.New("queue is shutting down")

// Processor runs extraction for a stored certificate
type Processor interface {
	Process(ctx context.Context, id string) (*Certificate, error)
}

// Queue is a fixed pool of workers processing uploaded certificates
type Queue struct {
	proc    Processor
	logger  *slog.Logger
	workers int
	timeout time.Duration

	ch   chan string
	wg   sync.WaitGroup
	once sync.Once

	mu      sync.Mutex
	closed  bool
	stop    chan struct{}
	senders sync.WaitGroup
}

type QueueOption func(*Queue)

func WithWorkers(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.workers = n
		}
	}
}

func WithQueueSize(n int) QueueOption {
	return func(q *Queue) {
		if n > 0 {
			q.ch = make(chan string, n)
		}
	}
}

func WithProcessTimeout(d time.Duration) QueueOption {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

// NewQueue starts the workers immediately
func NewQueue(proc Processor, logger *slog.Logger, opts ...QueueOption) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		workers: 2,
		timeout: 3 * time.Minute,
		ch:      make(chan string, 64),
		stop:    make(chan struct{}),
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
			go func(workerID int) {
				defer q.wg.Done()
				for id := range q.ch {
					ctx, cancel := context.WithTimeout(context.Background(), q.timeout)
					cert, err := q.proc.Process(ctx, id)
					cancel()

					switch {
					case err != nil:
						q.logger.Error("Processing failed", "worker_id", workerID, "certificate_id", id, "error", err)
					case cert != nil && cert.Status == StatusFailed:
						q.logger.Warn("Certificate rejected", "worker_id", workerID, "certificate_id", id, "kind", cert.FailureKind)
					default:
						q.logger.Info("Certificate processed", "worker_id", workerID, "certificate_id", id)
					}
				}
			}(i + 1)
		}
	})
}

// Enqueue schedules id for processing, blocking while the queue is full
func (q *Queue) Enqueue(ctx context.Context, id string) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.senders.Add(1)
	q.mu.Unlock()
	defer q.senders.Done()

	select {
	case q.ch <- id:
		return nil
	default:
	}
	q.logger.Warn("Queue full, applying backpressure", "certificate_id", id)
	select {
	case q.ch <- id:
		return nil
	case <-q.stop:
		return ErrQueueClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Shutdown stops accepting work and waits for queued certificates to finish.
// Callers blocked in Enqueue are released with ErrQueueClosed.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return nil
	}
	q.closed = true
	close(q.stop)
	q.mu.Unlock()

	q.senders.Wait()
	close(q.ch)

	done := make(chan struct{})
	go func() {
		defer close(done)
		q.wg.Wait()
	}()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-done:
		return nil
	}
}
