package progress

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
)

// Writer serializes tree writes per learner. Each learner has at most one
// save in flight; snapshots enqueued meanwhile collapse into the newest one.
// Every snapshot carries a revision one above the previous, so the
// repository can reject anything older than what it already holds.
type Writer struct {
	repo    Repository
	metrics *metrics.Metrics
	timeout time.Duration

	mu     sync.Mutex
	queues map[string]*writeQueue
}

type writeQueue struct {
	pending  *Record
	running  bool
	idle     chan struct{}
	revision int64
	saved    int64
	lastErr  error
}

// NewWriter creates a writer saving to repo. A zero timeout means 5s per save.
func NewWriter(repo Repository, m *metrics.Metrics, timeout time.Duration) *Writer {
	if timeout <= 0 {
		timeout = dbTimeout
	}
	return &Writer{
		repo:    repo,
		metrics: m,
		timeout: timeout,
		queues:  make(map[string]*writeQueue),
	}
}

func (w *Writer) queue(learnerID string) *writeQueue {
	q, ok := w.queues[learnerID]
	if !ok {
		q = &writeQueue{}
		w.queues[learnerID] = q
	}
	return q
}

// Seed records the revision a learner's tree was loaded at, so the next
// enqueued snapshot is numbered above it.
func (w *Writer) Seed(learnerID string, revision int64) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q := w.queue(learnerID)
	if revision > q.revision {
		q.revision = revision
	}
	if revision > q.saved {
		q.saved = revision
	}
}

// Enqueue schedules a save of a copy of tree and returns its revision. It
// never blocks on I/O.
func (w *Writer) Enqueue(learnerID string, tree *LearnerProgress) int64 {
	snapshot := tree.Clone()

	w.mu.Lock()
	defer w.mu.Unlock()

	q := w.queue(learnerID)
	q.revision++
	q.pending = &Record{Tree: snapshot, Revision: q.revision}
	if !q.running {
		q.running = true
		q.idle = make(chan struct{})
		go w.drain(learnerID, q)
	}
	return q.revision
}

func (w *Writer) drain(learnerID string, q *writeQueue) {
	for {
		w.mu.Lock()
		rec := q.pending
		if rec == nil {
			q.running = false
			close(q.idle)
			w.mu.Unlock()
			return
		}
		q.pending = nil
		w.mu.Unlock()

		err := w.save(learnerID, *rec)

		w.mu.Lock()
		q.lastErr = err
		if err == nil && rec.Revision > q.saved {
			q.saved = rec.Revision
		}
		w.mu.Unlock()
	}
}

func (w *Writer) save(learnerID string, rec Record) error {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()

	err := w.repo.Save(ctx, learnerID, rec)
	switch {
	case err == nil:
		w.metrics.ProgressWrite("ok")
	case errors.Is(err, ErrStaleRevision):
		w.metrics.ProgressWrite("stale")
		slog.Warn("stale progress write rejected",
			"learner_id", learnerID,
			"revision", rec.Revision,
		)
	default:
		w.metrics.ProgressWrite("error")
		slog.Error("progress write failed",
			"learner_id", learnerID,
			"revision", rec.Revision,
			"error", err,
		)
	}
	return err
}

// release drops the learner's queue if nothing is in flight and the newest
// revision is stored. A queue holding unsaved or failed writes is kept.
func (w *Writer) release(learnerID string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[learnerID]
	if !ok {
		return true
	}
	if q.running || q.pending != nil || q.lastErr != nil || q.saved != q.revision {
		return false
	}
	delete(w.queues, learnerID)
	return true
}

// Status returns the newest revision saved for a learner and the error of
// the most recent save attempt.
func (w *Writer) Status(learnerID string) (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	q, ok := w.queues[learnerID]
	if !ok {
		return 0, nil
	}
	return q.saved, q.lastErr
}

// Flush waits until every queue is idle or ctx is done.
func (w *Writer) Flush(ctx context.Context) error {
	for {
		w.mu.Lock()
		var waiting []chan struct{}
		for _, q := range w.queues {
			if q.running {
				waiting = append(waiting, q.idle)
			}
		}
		w.mu.Unlock()

		if len(waiting) == 0 {
			return nil
		}
		for _, ch := range waiting {
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
