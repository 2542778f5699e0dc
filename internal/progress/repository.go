package progress

import (
	"context"
	"errors"
	"sync"
)

var (
	// ErrNotFound means no tree is stored for the learner yet.
	ErrNotFound = errors.New("progress not found")
	// ErrStaleRevision means a newer revision is already stored.
	ErrStaleRevision = errors.New("stale progress revision")
)

// Record is a stored tree and the revision it was written at.
type Record struct {
	Tree     *LearnerProgress `json:"tree"`
	Revision int64            `json:"revision"`
}

// Repository persists whole progress trees. Save overwrites the stored tree
// and must reject a revision that is not newer than the stored one with
// ErrStaleRevision.
type Repository interface {
	Load(ctx context.Context, learnerID string) (*Record, error)
	Save(ctx context.Context, learnerID string, rec Record) error
}

// MemoryRepository is an in-memory implementation of Repository.
type MemoryRepository struct {
	records map[string]Record
	saves   int
	mu      sync.RWMutex
}

// NewMemoryRepository creates an empty in-memory repository.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{records: make(map[string]Record)}
}

func (r *MemoryRepository) Load(_ context.Context, learnerID string) (*Record, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	rec, ok := r.records[learnerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &Record{Tree: rec.Tree.Clone(), Revision: rec.Revision}, nil
}

func (r *MemoryRepository) Save(_ context.Context, learnerID string, rec Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if cur, ok := r.records[learnerID]; ok && cur.Revision >= rec.Revision {
		return ErrStaleRevision
	}
	r.records[learnerID] = Record{Tree: rec.Tree.Clone(), Revision: rec.Revision}
	r.saves++
	return nil
}

// Saves returns how many writes were accepted.
func (r *MemoryRepository) Saves() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.saves
}
