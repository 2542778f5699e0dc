package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresRepository stores trees as jsonb in learner_progress.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a PostgreSQL-backed progress repository.
func NewPostgresRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) Load(ctx context.Context, learnerID string) (*Record, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var raw []byte
	var rev int64
	err := r.pool.QueryRow(ctx,
		`SELECT tree, revision FROM learner_progress WHERE learner_id = $1`,
		learnerID,
	).Scan(&raw, &rev)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load progress: %w", err)
	}

	var tree LearnerProgress
	if err := json.Unmarshal(raw, &tree); err != nil {
		return nil, fmt.Errorf("decode progress: %w", err)
	}
	return &Record{Tree: &tree, Revision: rev}, nil
}

func (r *PostgresRepository) Save(ctx context.Context, learnerID string, rec Record) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if learnerID == "" {
		return fmt.Errorf("learner_id is required")
	}
	raw, err := json.Marshal(rec.Tree)
	if err != nil {
		return fmt.Errorf("encode progress: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`INSERT INTO learner_progress (learner_id, tree, revision, updated_at)
		 VALUES ($1, $2::jsonb, $3, NOW())
		 ON CONFLICT (learner_id) DO UPDATE SET
		     tree = EXCLUDED.tree,
		     revision = EXCLUDED.revision,
		     updated_at = EXCLUDED.updated_at
		 WHERE learner_progress.revision < EXCLUDED.revision`,
		learnerID, raw, rec.Revision,
	)
	if err != nil {
		return fmt.Errorf("save progress: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleRevision
	}
	return nil
}
