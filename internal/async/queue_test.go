package async

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joseph-ayodele/invoice-ingest/constants"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// blockingProcessor holds every job until release is closed and records peak concurrency.
type blockingProcessor struct {
	release chan struct{}
	running atomic.Int32
	peak    atomic.Int32
	done    atomic.Int32

	mu    sync.Mutex
	order []uuid.UUID
}

func newBlockingProcessor() *blockingProcessor {
	return &blockingProcessor{release: make(chan struct{})}
}

func (p *blockingProcessor) Process(ctx context.Context, id uuid.UUID) error {
	p.mu.Lock()
	p.order = append(p.order, id)
	p.mu.Unlock()

	n := p.running.Add(1)
	for {
		peak := p.peak.Load()
		if n <= peak || p.peak.CompareAndSwap(peak, n) {
			break
		}
	}
	<-p.release
	p.running.Add(-1)
	p.done.Add(1)
	return nil
}

func TestQueueNeverExceedsConcurrencyLimit(t *testing.T) {
	proc := newBlockingProcessor()
	q := New(proc, discardLogger(), WithConcurrency(2))

	for i := 0; i < 10; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	}

	assert.Eventually(t, func() bool { return proc.running.Load() == 2 }, time.Second, time.Millisecond)
	h := q.Health()
	assert.Equal(t, 2, h.Active)
	assert.Equal(t, 8, h.Queued)

	close(proc.release)
	assert.Eventually(t, func() bool { return proc.done.Load() == 10 }, 2*time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return q.Health() == Health{} }, time.Second, time.Millisecond)
	assert.LessOrEqual(t, proc.peak.Load(), int32(2))
}

func TestQueueAdmitsInArrivalOrder(t *testing.T) {
	var mu sync.Mutex
	var order []uuid.UUID
	gate := make(chan struct{})
	q := New(ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		<-gate
		mu.Lock()
		order = append(order, id)
		mu.Unlock()
		return nil
	}), discardLogger(), WithConcurrency(1))

	ids := []uuid.UUID{uuid.New(), uuid.New(), uuid.New(), uuid.New()}
	for _, id := range ids {
		require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id}))
	}
	close(gate)

	assert.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(order) == len(ids)
	}, time.Second, time.Millisecond)
	assert.Equal(t, ids, order)
}

func TestQueueIgnoresDuplicateEnqueue(t *testing.T) {
	proc := newBlockingProcessor()
	q := New(proc, discardLogger(), WithConcurrency(1))
	id := uuid.New()
	other := uuid.New()

	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id}))
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: other}))
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id}))
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: other}))

	assert.Equal(t, Health{Queued: 1, Active: 1}, q.Health())
	close(proc.release)
	assert.Eventually(t, func() bool { return proc.done.Load() == 2 }, time.Second, time.Millisecond)

	// Once finished, the same id may be queued again.
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: id}))
	assert.Eventually(t, func() bool { return proc.done.Load() == 3 }, time.Second, time.Millisecond)
}

func TestQueueSurvivesFailingAndPanickingJobs(t *testing.T) {
	var completed atomic.Int32
	calls := atomic.Int32{}
	q := New(ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		defer completed.Add(1)
		switch calls.Add(1) {
		case 1:
			panic("vendor client exploded")
		case 2:
			return errors.New("boom")
		}
		return nil
	}), discardLogger(), WithConcurrency(1))

	for i := 0; i < 3; i++ {
		require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	}
	assert.Eventually(t, func() bool { return completed.Load() == 3 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return q.Health() == Health{} }, time.Second, time.Millisecond)
}

func TestQueueJobTimeout(t *testing.T) {
	errs := make(chan error, 1)
	q := New(ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		<-ctx.Done()
		errs <- ctx.Err()
		return ctx.Err()
	}), discardLogger(), WithJobTimeout(20*time.Millisecond))

	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, context.DeadlineExceeded)
	case <-time.After(2 * time.Second):
		t.Fatal("job was never cancelled")
	}
}

type fakeLister struct {
	ids      []uuid.UUID
	statuses []constants.DocumentStatus
}

func (f *fakeLister) ListIDsByStatus(_ context.Context, statuses ...constants.DocumentStatus) ([]uuid.UUID, error) {
	f.statuses = statuses
	return f.ids, nil
}

func TestRecoverRequeuesUnfinishedDocuments(t *testing.T) {
	var seen sync.Map
	var count atomic.Int32
	q := New(ProcessorFunc(func(ctx context.Context, id uuid.UUID) error {
		seen.Store(id, true)
		count.Add(1)
		return nil
	}), discardLogger())

	lister := &fakeLister{ids: []uuid.UUID{uuid.New(), uuid.New(), uuid.New()}}
	n, err := q.Recover(context.Background(), lister)
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	assert.ElementsMatch(t, []constants.DocumentStatus{constants.StatusPending, constants.StatusProcessing}, lister.statuses)

	assert.Eventually(t, func() bool { return count.Load() == 3 }, time.Second, time.Millisecond)
	for _, id := range lister.ids {
		_, ok := seen.Load(id)
		assert.True(t, ok)
	}
}

func TestShutdownWaitsForActiveJobsAndRejectsNewWork(t *testing.T) {
	proc := newBlockingProcessor()
	q := New(proc, discardLogger(), WithConcurrency(1))
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	assert.Eventually(t, func() bool { return proc.running.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded)
	assert.ErrorIs(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}), ErrQueueClosed)

	close(proc.release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.EqualValues(t, 1, proc.done.Load(), "the dropped backlog job never ran")
}

func TestRepeatedShutdownKeepsWaitingForActiveJobs(t *testing.T) {
	proc := newBlockingProcessor()
	q := New(proc, discardLogger())
	require.NoError(t, q.Enqueue(context.Background(), Job{DocumentID: uuid.New()}))
	assert.Eventually(t, func() bool { return proc.running.Load() == 1 }, time.Second, time.Millisecond)

	for i := 0; i < 2; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
		assert.ErrorIs(t, q.Shutdown(ctx), context.DeadlineExceeded, "attempt %d", i+1)
		cancel()
	}

	close(proc.release)
	require.NoError(t, q.Shutdown(context.Background()))
	assert.EqualValues(t, 1, proc.done.Load())
	assert.Equal(t, Health{}, q.Health())
}
