package entitlement

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-co-op/gocron"

	"github.com/p-n-ai/pai-learn/internal/events"
	"github.com/p-n-ai/pai-learn/internal/platform/metrics"
)

// ServiceConfig configures a Service.
type ServiceConfig struct {
	Repository Repository
	Events     events.Logger
	Metrics    *metrics.Metrics
	TrialDays  int
}

// Service applies the entitlement rules to stored profiles.
type Service struct {
	repo      Repository
	events    events.Logger
	metrics   *metrics.Metrics
	trialDays int

	// Trials started here whose write has not succeeded yet.
	mu      sync.Mutex
	pending map[string]TrialWindow
}

func NewService(cfg ServiceConfig) *Service {
	ev := cfg.Events
	if ev == nil {
		ev = events.NopLogger{}
	}
	days := cfg.TrialDays
	if days <= 0 {
		days = DefaultTrialDays
	}
	return &Service{
		repo:      cfg.Repository,
		events:    ev,
		metrics:   cfg.Metrics,
		trialDays: days,
		pending:   make(map[string]TrialWindow),
	}
}

// Profile returns the learner's profile, creating the trial window the first
// time a profile without one is seen. Until the new trial is stored it is
// kept in memory, so a failing store never restarts the window.
func (s *Service) Profile(ctx context.Context, learnerID string, now time.Time) (Profile, error) {
	if learnerID == "" {
		return Profile{}, fmt.Errorf("learner_id is required")
	}

	stored, err := s.repo.GetProfile(ctx, learnerID)
	switch {
	case errors.Is(err, ErrNotFound):
		stored = &Profile{LearnerID: learnerID}
	case err != nil:
		return Profile{}, fmt.Errorf("load profile: %w", err)
	}

	profile := *stored
	if profile.Trial() != nil {
		s.forget(learnerID)
		return profile, nil
	}

	trial, created := s.trialFor(learnerID, now)
	profile = profile.WithTrial(trial)
	if err := s.repo.UpsertProfile(ctx, profile); err != nil {
		slog.Error("failed to store trial window",
			"learner_id", learnerID,
			"error", err,
		)
	} else {
		s.forget(learnerID)
	}
	if !created {
		return profile, nil
	}

	s.metrics.TrialStarted()
	events.Emit(ctx, s.events, events.Event{
		LearnerID: learnerID,
		Type:      events.TrialStarted,
		Data:      map[string]any{"ends_at": trial.EndsAt},
		CreatedAt: now,
	})
	slog.Info("trial started", "learner_id", learnerID, "ends_at", trial.EndsAt)
	return profile, nil
}

// trialFor returns the unsaved trial for the learner, starting one at now if
// there is none. created reports whether it was started by this call.
func (s *Service) trialFor(learnerID string, now time.Time) (trial TrialWindow, created bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if t, ok := s.pending[learnerID]; ok {
		return t, false
	}
	t := StartTrial(now, s.trialDays)
	s.pending[learnerID] = t
	return t, true
}

func (s *Service) forget(learnerID string) {
	s.mu.Lock()
	delete(s.pending, learnerID)
	s.mu.Unlock()
}

// Access computes the learner's access decision at now.
func (s *Service) Access(ctx context.Context, learnerID string, now time.Time) (AccessDecision, error) {
	profile, err := s.Profile(ctx, learnerID, now)
	if err != nil {
		return AccessDecision{}, err
	}

	sub, err := s.repo.GetSubscription(ctx, learnerID)
	switch {
	case errors.Is(err, ErrNotFound):
		sub = nil
	case err != nil:
		return AccessDecision{}, fmt.Errorf("load subscription: %w", err)
	}

	return ComputeAccess(profile.Trial(), sub, now), nil
}

// Subscribe records a client-confirmed purchase and flags the profile as
// subscribed. A running trial is left as it is.
func (s *Service) Subscribe(ctx context.Context, learnerID string, plan PlanType, pricePaid int64, now time.Time) (SubscriptionRecord, error) {
	sub, err := CreateSubscription(learnerID, plan, pricePaid, now)
	if err != nil {
		return SubscriptionRecord{}, err
	}

	profile, err := s.Profile(ctx, learnerID, now)
	if err != nil {
		return SubscriptionRecord{}, err
	}

	sub, err = s.repo.InsertSubscription(ctx, sub)
	if err != nil {
		return SubscriptionRecord{}, fmt.Errorf("store subscription: %w", err)
	}

	profile.IsSubscribed = true
	if err := s.repo.UpsertProfile(ctx, profile); err != nil {
		slog.Error("failed to flag profile as subscribed",
			"learner_id", learnerID,
			"error", err,
		)
	}
	events.Emit(ctx, s.events, events.Event{
		LearnerID: learnerID,
		Type:      events.SubscriptionCreated,
		Data: map[string]any{
			"subscription_id": sub.ID,
			"plan":            string(sub.PlanType),
			"end_at":          sub.EndAt,
		},
		CreatedAt: now,
	})
	slog.Info("subscription created",
		"learner_id", learnerID,
		"plan", sub.PlanType,
		"end_at", sub.EndAt,
	)
	return sub, nil
}

// SweepExpired clears the subscribed flag on profiles whose latest
// subscription is no longer active, returning how many were cleared.
func (s *Service) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	profiles, err := s.repo.ListSubscribedProfiles(ctx)
	if err != nil {
		return 0, fmt.Errorf("list subscribed profiles: %w", err)
	}

	cleared := 0
	for _, p := range profiles {
		sub, err := s.repo.GetSubscription(ctx, p.LearnerID)
		if err != nil && !errors.Is(err, ErrNotFound) {
			slog.Warn("sweep: load subscription failed", "learner_id", p.LearnerID, "error", err)
			continue
		}
		if IsActiveSubscription(sub, now) {
			continue
		}
		p.IsSubscribed = false
		if err := s.repo.UpsertProfile(ctx, p); err != nil {
			slog.Warn("sweep: clear subscribed flag failed", "learner_id", p.LearnerID, "error", err)
			continue
		}
		cleared++
	}
	return cleared, nil
}

// Sweeper runs SweepExpired on a fixed interval.
type Sweeper struct {
	svc       *Service
	interval  time.Duration
	scheduler *gocron.Scheduler
}

func NewSweeper(svc *Service, interval time.Duration) *Sweeper {
	return &Sweeper{
		svc:       svc,
		interval:  interval,
		scheduler: gocron.NewScheduler(time.UTC),
	}
}

// Start schedules the sweep and returns without blocking. The first sweep
// runs immediately.
func (s *Sweeper) Start() error {
	if _, err := s.scheduler.Every(s.interval).Do(s.run); err != nil {
		return fmt.Errorf("schedule subscription sweep: %w", err)
	}
	s.scheduler.StartAsync()
	return nil
}

// Stop terminates the schedule.
func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}

func (s *Sweeper) run() {
	ctx, cancel := context.WithTimeout(context.Background(), s.interval)
	defer cancel()

	n, err := s.svc.SweepExpired(ctx, time.Now())
	if err != nil {
		slog.Error("subscription sweep failed", "error", err)
		return
	}
	if n > 0 {
		slog.Info("expired subscriptions cleared", "count", n)
	}
}
