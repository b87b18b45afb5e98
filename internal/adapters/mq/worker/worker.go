// Package worker drains terminal events from the queue into a publisher.
package worker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/okian/facescan/internal/adapters/mq/queue"
	"github.com/okian/facescan/pkg/logger"
	"github.com/okian/facescan/pkg/metrics"
)

// Default worker configuration constants.
const (
	defaultWorkers        = 2
	defaultRetries        = 3
	defaultBackoff        = 200 * time.Millisecond
	workerShutdownTimeout = 5 * time.Second
)

// Event abstracts what workers read off the queue.
type Event = queue.Event

// Publisher delivers one terminal event downstream.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// Queue defines how workers receive events.
type Queue interface {
	Dequeue(ctx context.Context) <-chan Event
}

// Worker processes events using the provided interfaces.
type Worker interface {
	// Run starts the worker loop until ctx is canceled.
	Run(ctx context.Context)

	// Shutdown stops the worker without waiting for the queue to drain.
	Shutdown(ctx context.Context) error
}

// InMemoryWorker implements Worker for publishing events.
type InMemoryWorker struct {
	queue     Queue
	publisher Publisher
	name      string
	retries   int
	backoff   time.Duration

	shutdown chan struct{}
	done     chan struct{}

	logger logger.Logger
}

// NewInMemoryWorker creates a new worker with configuration options.
func NewInMemoryWorker(queue Queue, publisher Publisher, opts ...Option) *InMemoryWorker {
	w := &InMemoryWorker{
		queue:     queue,
		publisher: publisher,
		name:      "worker",
		retries:   defaultRetries,
		backoff:   defaultBackoff,
		shutdown:  make(chan struct{}),
		done:      make(chan struct{}),
		logger:    logger.Get().Named("worker"),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.name != "worker" {
		w.logger = w.logger.Named(w.name)
	}
	return w
}

// Run starts the worker loop. It returns when ctx ends, Shutdown is called,
// or the queue is closed and drained.
func (w *InMemoryWorker) Run(ctx context.Context) {
	defer close(w.done)

	eventChan := w.queue.Dequeue(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.shutdown:
			return
		case event, ok := <-eventChan:
			if !ok || ctx.Err() != nil {
				return
			}
			if err := w.processEvent(ctx, event); err != nil {
				w.logger.Error(ctx, "error publishing event", logger.Error(err))
			}
		}
	}
}

// Shutdown gracefully stops the worker.
func (w *InMemoryWorker) Shutdown(ctx context.Context) error {
	close(w.shutdown)

	select {
	case <-w.done:
		return nil
	case <-ctx.Done():
		w.logger.Warn(ctx, "shutdown timed out")
		return fmt.Errorf("shutdown timed out: %w", ctx.Err())
	}
}

// processEvent publishes one event, retrying with linear backoff.
func (w *InMemoryWorker) processEvent(ctx context.Context, event Event) error { //nolint:gocritic // hugeParam: Event must be passed by value for channel semantics
	var err error
	for attempt := 0; attempt <= w.retries; attempt++ {
		if attempt > 0 {
			metrics.RecordEventPublishRetry()
			select {
			case <-time.After(time.Duration(attempt) * w.backoff):
			case <-ctx.Done():
				return fmt.Errorf("publish %s abandoned: %w", event.EventID, ctx.Err())
			}
		}
		if err = w.publisher.Publish(ctx, event); err == nil {
			metrics.RecordEventPublished()
			w.logger.Debug(ctx, "event published",
				logger.String("event_id", event.EventID),
				logger.String("session_id", string(event.SessionID)),
				logger.Int("attempt", attempt+1))
			return nil
		}
		w.logger.Warn(ctx, "publish attempt failed",
			logger.String("event_id", event.EventID),
			logger.Int("attempt", attempt+1),
			logger.Error(err))
	}
	metrics.RecordEventPublishError()
	return fmt.Errorf("publish %s failed after %d attempts: %w", event.EventID, w.retries+1, err)
}

// Pool manages multiple workers.
type Pool struct {
	workers []*InMemoryWorker
	queue   Queue

	mu     sync.Mutex
	cancel context.CancelFunc

	logger logger.Logger
}

// NewPool creates a new worker pool. Options apply to every worker.
func NewPool(workerCount int, queue Queue, publisher Publisher, opts ...Option) *Pool {
	if workerCount < 1 {
		workerCount = defaultWorkers
	}

	pool := &Pool{
		workers: make([]*InMemoryWorker, workerCount),
		queue:   queue,
		logger:  logger.Get().Named("worker-pool"),
	}
	for i := 0; i < workerCount; i++ {
		workerOpts := append([]Option{WithName("worker-" + strconv.Itoa(i))}, opts...)
		pool.workers[i] = NewInMemoryWorker(queue, publisher, workerOpts...)
	}
	return pool
}

// Start starts all workers in the pool. Workers keep ctx's values but not its
// cancellation: they run until Shutdown has drained the queue or given up.
func (p *Pool) Start(ctx context.Context) {
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.mu.Lock()
	p.cancel = cancel
	p.mu.Unlock()
	for _, worker := range p.workers {
		go worker.Run(runCtx)
	}
}

// Shutdown closes the queue and lets workers drain it. Workers still busy
// when ctx ends are stopped and the remaining events are abandoned.
func (p *Pool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	cancel := p.cancel
	p.mu.Unlock()
	if cancel == nil {
		cancel = func() {}
	}
	defer cancel()

	if closer, ok := p.queue.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			p.logger.Error(ctx, "error closing queue", logger.Error(err))
		}
	}

	for i, worker := range p.workers {
		select {
		case <-worker.done:
			continue
		case <-ctx.Done():
			p.logger.Warn(ctx, "worker drain timed out", logger.Int("worker_id", i))
		}

		cancel()
		stopCtx, stop := context.WithTimeout(context.Background(), workerShutdownTimeout)
		for _, w := range p.workers {
			select {
			case <-w.done:
			case <-stopCtx.Done():
			}
		}
		stop()
		return fmt.Errorf("worker pool drain: %w", ctx.Err())
	}
	return nil
}
