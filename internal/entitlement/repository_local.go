package entitlement

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/p-n-ai/pai-learn/internal/platform/localstore"
)

const (
	profilesNamespace      = "profiles"
	subscriptionsNamespace = "subscriptions"
)

// LocalRepository keeps profiles and subscriptions in the local SQLite
// key-value store, one JSON document per learner.
type LocalRepository struct {
	store *localstore.Store
}

func NewLocalRepository(store *localstore.Store) *LocalRepository {
	return &LocalRepository{store: store}
}

func (r *LocalRepository) GetSubscription(ctx context.Context, learnerID string) (*SubscriptionRecord, error) {
	subs, err := r.subscriptions(ctx, learnerID)
	if err != nil {
		return nil, err
	}
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	sort.Slice(subs, func(i, j int) bool { return preferSubscription(subs[i], subs[j]) })
	return &subs[0], nil
}

func (r *LocalRepository) GetProfile(ctx context.Context, learnerID string) (*Profile, error) {
	e, err := r.store.Get(ctx, profilesNamespace, learnerID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get profile: %w", err)
	}
	var p Profile
	if err := json.Unmarshal(e.Value, &p); err != nil {
		return nil, fmt.Errorf("decode profile: %w", err)
	}
	return &p, nil
}

func (r *LocalRepository) UpsertProfile(ctx context.Context, profile Profile) error {
	if profile.LearnerID == "" {
		return fmt.Errorf("learner_id is required")
	}
	raw, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("encode profile: %w", err)
	}
	if err := r.store.Set(ctx, profilesNamespace, profile.LearnerID, raw); err != nil {
		return fmt.Errorf("upsert profile: %w", err)
	}
	return nil
}

func (r *LocalRepository) InsertSubscription(ctx context.Context, sub SubscriptionRecord) (SubscriptionRecord, error) {
	if sub.LearnerID == "" {
		return SubscriptionRecord{}, fmt.Errorf("learner_id is required")
	}
	subs, err := r.subscriptions(ctx, sub.LearnerID)
	if err != nil {
		return SubscriptionRecord{}, err
	}
	raw, err := json.Marshal(append(subs, sub))
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("encode subscriptions: %w", err)
	}
	if err := r.store.Set(ctx, subscriptionsNamespace, sub.LearnerID, raw); err != nil {
		return SubscriptionRecord{}, fmt.Errorf("insert subscription: %w", err)
	}
	return sub, nil
}

func (r *LocalRepository) ListSubscribedProfiles(ctx context.Context) ([]Profile, error) {
	keys, err := r.store.Keys(ctx, profilesNamespace)
	if err != nil {
		return nil, err
	}
	var out []Profile
	for _, k := range keys {
		p, err := r.GetProfile(ctx, k)
		if err != nil {
			return nil, err
		}
		if p.IsSubscribed {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (r *LocalRepository) subscriptions(ctx context.Context, learnerID string) ([]SubscriptionRecord, error) {
	e, err := r.store.Get(ctx, subscriptionsNamespace, learnerID)
	if errors.Is(err, localstore.ErrNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get subscriptions: %w", err)
	}
	var subs []SubscriptionRecord
	if err := json.Unmarshal(e.Value, &subs); err != nil {
		return nil, fmt.Errorf("decode subscriptions: %w", err)
	}
	return subs, nil
}
