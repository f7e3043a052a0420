package certificate

import (
	"context"
	"errors"
	"sync"
	"time"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
)

// mockProcessor records processed IDs and optionally blocks
type mockProcessor struct {
	mu       sync.Mutex
	ids      []string
	err      error
	block    chan struct{}
	deadline bool
}

func (m *mockProcessor) Process(ctx context.Context, id string) (*Certificate, error) {
	if m.block != nil {
		select {
		case <-m.block:
		case <-ctx.Done():
		}
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	_, m.deadline = ctx.Deadline()
	m.ids = append(m.ids, id)
	if m.err != nil {
		return nil, m.err
	}
	return &Certificate{ID: id, Status: StatusDone}, nil
}

func (m *mockProcessor) Processed() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.ids...)
}

var _ = Describe("Queue", func() {
	var (
		proc  *mockProcessor
		queue *Queue
	)

	BeforeEach(func() {
		proc = &mockProcessor{}
	})

	AfterEach(func() {
		if queue != nil {
			ctx, cancel := context.WithTimeout(context.Background(), time.Second)
			defer cancel()
			queue.Shutdown(ctx)
		}
	})

	It("should process every enqueued certificate", func() {
		queue = NewQueue(proc, nil, WithWorkers(3), WithQueueSize(8))
		for _, id := range []string{"a", "b", "c", "d"} {
			Expect(queue.Enqueue(context.Background(), id)).To(Succeed())
		}
		Eventually(proc.Processed).Should(ConsistOf("a", "b", "c", "d"))
	})

	It("should run each job with a deadline", func() {
		queue = NewQueue(proc, nil, WithProcessTimeout(time.Minute))
		Expect(queue.Enqueue(context.Background(), "a")).To(Succeed())
		Eventually(proc.Processed).Should(HaveLen(1))
		proc.mu.Lock()
		defer proc.mu.Unlock()
		Expect(proc.deadline).To(BeTrue())
	})

	It("should keep working after a processing error", func() {
		proc.err = errors.New("boom")
		queue = NewQueue(proc, nil, WithWorkers(1))
		Expect(queue.Enqueue(context.Background(), "a")).To(Succeed())
		Expect(queue.Enqueue(context.Background(), "b")).To(Succeed())
		Eventually(proc.Processed).Should(Equal([]string{"a", "b"}))
	})

	It("should drain queued work on shutdown", func() {
		proc.block = make(chan struct{})
		queue = NewQueue(proc, nil, WithWorkers(1), WithQueueSize(4))
		Expect(queue.Enqueue(context.Background(), "a")).To(Succeed())
		Expect(queue.Enqueue(context.Background(), "b")).To(Succeed())
		close(proc.block)

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		Expect(queue.Shutdown(ctx)).To(Succeed())
		Expect(proc.Processed()).To(Equal([]string{"a", "b"}))
	})

	It("should reject work after shutdown", func() {
		queue = NewQueue(proc, nil)
		Expect(queue.Shutdown(context.Background())).To(Succeed())
		Expect(queue.Enqueue(context.Background(), "a")).To(MatchError(ErrQueueClosed))
	})

	It("should give up enqueueing when the context ends while full", func() {
		proc.block = make(chan struct{})
		defer close(proc.block)
		queue = NewQueue(proc, nil, WithWorkers(1), WithQueueSize(1))
		Expect(queue.Enqueue(context.Background(), "a")).To(Succeed())
		Eventually(func() int { return len(queue.ch) }).Should(Equal(0))
		Expect(queue.Enqueue(context.Background(), "b")).To(Succeed())

		ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
		defer cancel()
		Expect(queue.Enqueue(ctx, "c")).To(MatchError(context.DeadlineExceeded))
	})

	It("should release a blocked enqueue on shutdown", func() {
		proc.block = make(chan struct{})
		queue = NewQueue(proc, nil, WithWorkers(1), WithQueueSize(1))
		Expect(queue.Enqueue(context.Background(), "a")).To(Succeed())
		Eventually(func() int { return len(queue.ch) }).Should(Equal(0))
		Expect(queue.Enqueue(context.Background(), "b")).To(Succeed())

		enqueued := make(chan error, 1)
		go func() {
			enqueued <- queue.Enqueue(context.Background(), "c")
		}()
		Consistently(enqueued, 50*time.Millisecond).ShouldNot(Receive())

		shutdown := make(chan error, 1)
		go func() {
			shutdown <- queue.Shutdown(context.Background())
		}()
		Eventually(enqueued).Should(Receive(MatchError(ErrQueueClosed)))

		close(proc.block)
		Eventually(shutdown).Should(Receive(BeNil()))
		Expect(proc.Processed()).To(Equal([]string{"a", "b"}))
	})
})
