package entitlement

import (
	"context"
	"sort"
	"sync"
)

// Repository stores profiles and subscriptions.
type Repository interface {
	// GetSubscription returns the learner's active subscription with the
	// latest end, falling back to the latest of any status, or ErrNotFound.
	GetSubscription(ctx context.Context, learnerID string) (*SubscriptionRecord, error)
	// GetProfile returns ErrNotFound for a learner never seen.
	GetProfile(ctx context.Context, learnerID string) (*Profile, error)
	UpsertProfile(ctx context.Context, profile Profile) error
	InsertSubscription(ctx context.Context, sub SubscriptionRecord) (SubscriptionRecord, error)
	// ListSubscribedProfiles returns the profiles flagged as subscribed.
	ListSubscribedProfiles(ctx context.Context) ([]Profile, error)
}

// MemoryRepository is an in-memory implementation of Repository.
type MemoryRepository struct {
	profiles      map[string]Profile
	subscriptions map[string][]SubscriptionRecord
	mu            sync.RWMutex
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		profiles:      make(map[string]Profile),
		subscriptions: make(map[string][]SubscriptionRecord),
	}
}

func (r *MemoryRepository) GetSubscription(_ context.Context, learnerID string) (*SubscriptionRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	subs := r.subscriptions[learnerID]
	if len(subs) == 0 {
		return nil, ErrNotFound
	}
	latest := subs[0]
	for _, s := range subs[1:] {
		if preferSubscription(s, latest) {
			latest = s
		}
	}
	return &latest, nil
}

// preferSubscription orders records for GetSubscription: active before any
// other status, then the later end.
func preferSubscription(a, b SubscriptionRecord) bool {
	aActive, bActive := a.Status == StatusActive, b.Status == StatusActive
	if aActive != bActive {
		return aActive
	}
	return a.EndAt.After(b.EndAt)
}

func (r *MemoryRepository) GetProfile(_ context.Context, learnerID string) (*Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, ok := r.profiles[learnerID]
	if !ok {
		return nil, ErrNotFound
	}
	return &p, nil
}

func (r *MemoryRepository) UpsertProfile(_ context.Context, profile Profile) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.profiles[profile.LearnerID] = profile
	return nil
}

func (r *MemoryRepository) InsertSubscription(_ context.Context, sub SubscriptionRecord) (SubscriptionRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.subscriptions[sub.LearnerID] = append(r.subscriptions[sub.LearnerID], sub)
	return sub, nil
}

func (r *MemoryRepository) ListSubscribedProfiles(context.Context) ([]Profile, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []Profile
	for _, p := range r.profiles {
		if p.IsSubscribed {
			out = append(out, p)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].LearnerID < out[j].LearnerID })
	return out, nil
}
