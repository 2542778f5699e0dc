package entitlement

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const dbTimeout = 5 * time.Second

// PostgresRepository stores profiles in learner_profiles and subscriptions
// in subscriptions.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

func NewPostgresRepository(pool *pgxpool.Pool) (*PostgresRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("pool is nil")
	}
	return &PostgresRepository{pool: pool}, nil
}

func (r *PostgresRepository) GetSubscription(ctx context.Context, learnerID string) (*SubscriptionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	var s SubscriptionRecord
	var plan string
	err := r.pool.QueryRow(ctx,
		`SELECT id::text, learner_id, plan_type, status, start_at, end_at, price_paid
		 FROM subscriptions
		 WHERE learner_id = $1
		 ORDER BY (status = 'active') DESC, end_at DESC
		 LIMIT 1`,
		learnerID,
	).Scan(&s.ID, &s.LearnerID, &plan, &s.Status, &s.StartAt, &s.EndAt, &s.PricePaid)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get subscription: %w", err)
	}
	s.PlanType = PlanType(plan)
	return &s, nil
}

func (r *PostgresRepository) GetProfile(ctx context.Context, learnerID string) (*Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	p := Profile{LearnerID: learnerID}
	err := r.pool.QueryRow(ctx,
		`SELECT trial_started_at, trial_ends_at, is_subscribed
		 FROM learner_profiles
		 WHERE learner_id = $1`,
		learnerID,
	).Scan(&p.TrialStartedAt, &p.TrialEndsAt, &p.IsSubscribed)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	return &p, nil
}

func (r *PostgresRepository) UpsertProfile(ctx context.Context, profile Profile) error {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if profile.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO learner_profiles (learner_id, trial_started_at, trial_ends_at, is_subscribed, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (learner_id) DO UPDATE SET
		     trial_started_at = EXCLUDED.trial_started_at,
		     trial_ends_at = EXCLUDED.trial_ends_at,
		     is_subscribed = EXCLUDED.is_subscribed,
		     updated_at = EXCLUDED.updated_at`,
		profile.LearnerID,
		profile.TrialStartedAt,
		profile.TrialEndsAt,
		profile.IsSubscribed,
	); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *PostgresRepository) InsertSubscription(ctx context.Context, sub SubscriptionRecord) (SubscriptionRecord, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	if sub.LearnerID == "" {
		return SubscriptionRecord{}, fmt.Errorf("learner_id is required")
	}
	if _, err := r.pool.Exec(ctx,
		`INSERT INTO subscriptions (id, learner_id, plan_type, status, start_at, end_at, price_paid)
		 VALUES ($1::uuid, $2, $3, $4, $5, $6, $7)`,
		sub.ID,
		sub.LearnerID,
		string(sub.PlanType),
		sub.Status,
		sub.StartAt,
		sub.EndAt,
		sub.PricePaid,
	); err != nil {
		return SubscriptionRecord{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

func (r *PostgresRepository) ListSubscribedProfiles(ctx context.Context) ([]Profile, error) {
	ctx, cancel := context.WithTimeout(ctx, dbTimeout)
	defer cancel()

	rows, err := r.pool.Query(ctx,
		`SELECT learner_id, trial_started_at, trial_ends_at, is_subscribed
		 FROM learner_profiles
		 WHERE is_subscribed
		 ORDER BY learner_id`,
	)
	if err != nil {
		return nil, fmt.Errorf("query subscribed profiles: %w", err)
	}
	defer rows.Close()

	var out []Profile
	for rows.Next() {
		var p Profile
		if err := rows.Scan(&p.LearnerID, &p.TrialStartedAt, &p.TrialEndsAt, &p.IsSubscribed); err != nil {
			return nil, fmt.Errorf("scan profile: %w", err)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate profiles: %w", err)
	}
	return out, nil
}
