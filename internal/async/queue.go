// Package async holds the in-memory processing queue. The backlog is volatile; documents left
// PENDING or PROCESSING by a previous run are picked up again through Recover.
package async

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/joseph-ayodele/invoice-ingest/constants"
)

// ErrQueueClosed is returned by Enqueue after Shutdown.
var ErrQueueClosed = errors.New("queue is shutting down")

// Job is one document waiting for, or holding, a processing slot.
type Job struct {
	DocumentID uuid.UUID
	EnqueuedAt time.Time
	Reason     string // "submit" | "recovery"
}

// Processor runs one document through the pipeline. Its error is logged, never retried.
type Processor interface {
	Process(ctx context.Context, documentID uuid.UUID) error
}

// ProcessorFunc adapts a function to Processor.
type ProcessorFunc func(ctx context.Context, documentID uuid.UUID) error

func (f ProcessorFunc) Process(ctx context.Context, documentID uuid.UUID) error {
	return f(ctx, documentID)
}

// Lister finds documents by status; the document store satisfies it.
type Lister interface {
	ListIDsByStatus(ctx context.Context, statuses ...constants.DocumentStatus) ([]uuid.UUID, error)
}

// Health is a point-in-time view of the queue.
type Health struct {
	Queued int `json:"queued"`
	Active int `json:"activeJobs"`
}

// Queue admits jobs in FIFO order while fewer than limit are running.
type Queue struct {
	proc    Processor
	logger  *slog.Logger
	limit   int
	timeout time.Duration

	mu      sync.Mutex
	backlog []Job
	claimed map[uuid.UUID]struct{} // queued or running
	active  int
	closed  bool
	wg      sync.WaitGroup
}

type Option func(*Queue)

// WithConcurrency caps the number of jobs running at once.
func WithConcurrency(n int) Option {
	return func(q *Queue) {
		if n > 0 {
			q.limit = n
		}
	}
}

// WithJobTimeout bounds each job; zero leaves jobs unbounded.
func WithJobTimeout(d time.Duration) Option {
	return func(q *Queue) {
		if d > 0 {
			q.timeout = d
		}
	}
}

func New(proc Processor, logger *slog.Logger, opts ...Option) *Queue {
	if logger == nil {
		logger = slog.Default()
	}
	q := &Queue{
		proc:    proc,
		logger:  logger,
		limit:   2,
		claimed: make(map[uuid.UUID]struct{}),
	}
	for _, o := range opts {
		o(q)
	}
	return q
}

// Enqueue appends the document to the backlog and admits work if a slot is free. A document
// already queued or running is not queued twice.
func (q *Queue) Enqueue(_ context.Context, job Job) error {
	if job.EnqueuedAt.IsZero() {
		job.EnqueuedAt = time.Now()
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		q.logger.Warn("cannot enqueue: queue is shutting down", "document_id", job.DocumentID)
		return ErrQueueClosed
	}
	if _, dup := q.claimed[job.DocumentID]; dup {
		q.mu.Unlock()
		q.logger.Debug("document already queued", "document_id", job.DocumentID)
		return nil
	}
	q.claimed[job.DocumentID] = struct{}{}
	q.backlog = append(q.backlog, job)
	queued := len(q.backlog)
	q.mu.Unlock()

	q.logger.Info("queued document for processing", "document_id", job.DocumentID, "reason", job.Reason, "queued", queued)
	q.admitNext()
	return nil
}

// admitNext starts backlog jobs, oldest first, until the concurrency limit is reached.
func (q *Queue) admitNext() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for !q.closed && q.active < q.limit && len(q.backlog) > 0 {
		job := q.backlog[0]
		q.backlog[0] = Job{}
		q.backlog = q.backlog[1:]
		q.active++
		q.wg.Add(1)
		go q.run(job)
	}
}

func (q *Queue) run(job Job) {
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("job panicked",
				"document_id", job.DocumentID,
				"panic", fmt.Sprint(r),
				"stack", string(debug.Stack()),
			)
		}
		q.mu.Lock()
		q.active--
		delete(q.claimed, job.DocumentID)
		q.mu.Unlock()
		q.wg.Done()
		q.admitNext()
	}()

	ctx := context.Background()
	if q.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, q.timeout)
		defer cancel()
	}

	q.logger.Debug("job started", "document_id", job.DocumentID, "waited_ms", start.Sub(job.EnqueuedAt).Milliseconds())
	if err := q.proc.Process(ctx, job.DocumentID); err != nil {
		q.logger.Error("processing failed",
			"document_id", job.DocumentID,
			"error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return
	}
	q.logger.Info("processed document", "document_id", job.DocumentID, "elapsed_ms", time.Since(start).Milliseconds())
}

// Health reports the backlog length and the number of running jobs.
func (q *Queue) Health() Health {
	q.mu.Lock()
	defer q.mu.Unlock()
	return Health{Queued: len(q.backlog), Active: q.active}
}

// Recover re-enqueues every document still PENDING or PROCESSING, oldest first. A PROCESSING
// document at startup was interrupted by a crash and is retried from scratch.
func (q *Queue) Recover(ctx context.Context, lister Lister) (int, error) {
	ids, err := lister.ListIDsByStatus(ctx, constants.StatusPending, constants.StatusProcessing)
	if err != nil {
		return 0, fmt.Errorf("list unfinished documents: %w", err)
	}
	n := 0
	for _, id := range ids {
		if err := q.Enqueue(ctx, Job{DocumentID: id, Reason: "recovery"}); err != nil {
			return n, err
		}
		n++
	}
	q.logger.Info("startup recovery scan complete", "requeued", n)
	return n, nil
}

// Shutdown stops admissions, drops the backlog (those documents stay PENDING in storage) and
// waits for running jobs or ctx, whichever comes first. Calling it again waits for the same jobs.
func (q *Queue) Shutdown(ctx context.Context) error {
	q.mu.Lock()
	dropped := 0
	if !q.closed {
		q.closed = true
		dropped = len(q.backlog)
		for _, j := range q.backlog {
			delete(q.claimed, j.DocumentID)
		}
		q.backlog = nil
	}
	q.mu.Unlock()

	done := make(chan struct{})
	go func() { defer close(done); q.wg.Wait() }()

	select {
	case <-ctx.Done():
		q.logger.Warn("shutdown interrupted by context", "dropped", dropped)
		return ctx.Err()
	case <-done:
		q.logger.Info("queue drained, shutdown complete", "dropped", dropped)
		return nil
	}
}
