// Package entitlement decides whether a learner may open gated content. A
// learner has access while their trial window is open or while they hold an
// active subscription; both may hold at once.
package entitlement

import (
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
)

// DefaultTrialDays is the length of a trial window.
const DefaultTrialDays = 7

var (
	// ErrNotFound means no profile or subscription is stored.
	ErrNotFound = errors.New("entitlement not found")
	// ErrInvalidPlan means the plan type is not monthly or quarterly.
	ErrInvalidPlan = errors.New("invalid plan type")
)

// TrialWindow is a fixed period of free access.
type TrialWindow struct {
	StartedAt time.Time `json:"started_at"`
	EndsAt    time.Time `json:"ends_at"`
}

// PlanType is a subscription plan.
type PlanType string

const (
	PlanMonthly   PlanType = "monthly"
	PlanQuarterly PlanType = "quarterly"
)

// ParsePlan validates a plan name.
func ParsePlan(s string) (PlanType, error) {
	switch PlanType(s) {
	case PlanMonthly, PlanQuarterly:
		return PlanType(s), nil
	}
	return "", fmt.Errorf("%q: %w", s, ErrInvalidPlan)
}

// Subscription statuses.
const (
	StatusActive  = "active"
	StatusExpired = "expired"
)

// SubscriptionRecord is one purchased subscription period.
type SubscriptionRecord struct {
	ID        string    `json:"id"`
	LearnerID string    `json:"learner_id"`
	PlanType  PlanType  `json:"plan_type"`
	Status    string    `json:"status"`
	StartAt   time.Time `json:"start_at"`
	EndAt     time.Time `json:"end_at"`
	PricePaid int64     `json:"price_paid"`
}

// Profile holds the stored entitlement fields of a learner.
type Profile struct {
	LearnerID      string     `json:"learner_id"`
	TrialStartedAt *time.Time `json:"trial_started_at,omitempty"`
	TrialEndsAt    *time.Time `json:"trial_ends_at,omitempty"`
	IsSubscribed   bool       `json:"is_subscribed"`
}

// Trial returns the profile's trial window, or nil when it has none.
func (p Profile) Trial() *TrialWindow {
	if p.TrialStartedAt == nil || p.TrialEndsAt == nil {
		return nil
	}
	return &TrialWindow{StartedAt: *p.TrialStartedAt, EndsAt: *p.TrialEndsAt}
}

// WithTrial returns a copy of p holding trial.
func (p Profile) WithTrial(trial TrialWindow) Profile {
	start, end := trial.StartedAt, trial.EndsAt
	p.TrialStartedAt = &start
	p.TrialEndsAt = &end
	return p
}

// AccessDecision is derived on every request and never stored.
type AccessDecision struct {
	HasAccess          bool `json:"has_access"`
	InTrial            bool `json:"in_trial"`
	ActiveSubscription bool `json:"active_subscription"`
	TrialDaysRemaining int  `json:"trial_days_remaining"`
}

// StartTrial opens a trial window of days days at now.
func StartTrial(now time.Time, days int) TrialWindow {
	if days <= 0 {
		days = DefaultTrialDays
	}
	return TrialWindow{StartedAt: now, EndsAt: now.Add(time.Duration(days) * 24 * time.Hour)}
}

// IsInTrial reports whether now falls before the end of trial.
func IsInTrial(trial *TrialWindow, now time.Time) bool {
	return trial != nil && now.Before(trial.EndsAt)
}

// DaysRemaining counts started days left in the trial, never below zero.
func DaysRemaining(trial *TrialWindow, now time.Time) int {
	if trial == nil {
		return 0
	}
	left := trial.EndsAt.Sub(now)
	if left <= 0 {
		return 0
	}
	return int(math.Ceil(left.Hours() / 24))
}

// IsActiveSubscription reports whether sub is active and not yet over.
func IsActiveSubscription(sub *SubscriptionRecord, now time.Time) bool {
	return sub != nil && sub.Status == StatusActive && sub.EndAt.After(now)
}

// ComputeAccess grants access while either the trial or the subscription
// holds.
func ComputeAccess(trial *TrialWindow, sub *SubscriptionRecord, now time.Time) AccessDecision {
	inTrial := IsInTrial(trial, now)
	active := IsActiveSubscription(sub, now)
	return AccessDecision{
		HasAccess:          inTrial || active,
		InTrial:            inTrial,
		ActiveSubscription: active,
		TrialDaysRemaining: DaysRemaining(trial, now),
	}
}

// CreateSubscription builds an active subscription starting at now. Monthly
// plans run one calendar month and quarterly plans three.
func CreateSubscription(learnerID string, plan PlanType, pricePaid int64, now time.Time) (SubscriptionRecord, error) {
	var end time.Time
	switch plan {
	case PlanMonthly:
		end = now.AddDate(0, 1, 0)
	case PlanQuarterly:
		end = now.AddDate(0, 3, 0)
	default:
		return SubscriptionRecord{}, fmt.Errorf("%q: %w", plan, ErrInvalidPlan)
	}
	if pricePaid < 0 {
		return SubscriptionRecord{}, fmt.Errorf("price_paid must not be negative")
	}
	return SubscriptionRecord{
		ID:        uuid.NewString(),
		LearnerID: learnerID,
		PlanType:  plan,
		Status:    StatusActive,
		StartAt:   now,
		EndAt:     end,
		PricePaid: pricePaid,
	}, nil
}
