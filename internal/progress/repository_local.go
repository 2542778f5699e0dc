package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/p-n-ai/pai-learn/internal/platform/localstore"
)

const localNamespace = "progress"

// LocalRepository keeps trees in the local SQLite key-value store. It backs
// learners when no PostgreSQL database is configured.
type LocalRepository struct {
	store *localstore.Store
}

func NewLocalRepository(store *localstore.Store) *LocalRepository {
	return &LocalRepository{store: store}
}

func (r *LocalRepository) Load(ctx context.Context, learnerID string) (*Record, error) {
	e, err := r.store.Get(ctx, localNamespace, learnerID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}
	var tree LearnerProgress
	if err := json.Unmarshal(e.Value, &tree); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &Record{Tree: &tree, Revision: e.Revision}, nil
}

func (r *LocalRepository) Save(ctx context.Context, learnerID string, rec Record) error {
	raw, err := json.Marshal(rec.Tree)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}
	err = r.store.Put(ctx, localNamespace, learnerID, raw, rec.Revision)
	if errors.Is(err, localstore.ErrStale) {
		return ErrStaleRevision
	}
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	return nil
}
