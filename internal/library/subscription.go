package library

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mikey-austin/summarist/internal/core"
	"github.com/mikey-austin/summarist/internal/ports"
	"github.com/mikey-austin/summarist/pkg/summa"
)

// Subscriptions holds the signed-in user's subscription state and persists
// plan changes to the profile document.
type Subscriptions struct {
	log   *zap.Logger
	store ports.DocumentStore
	clock ports.Clock

	mu     sync.Mutex
	status map[string]summa.SubscriptionStatus
}

// NewSubscriptions creates a subscription tracker over store.
func NewSubscriptions(log *zap.Logger, store ports.DocumentStore, clock ports.Clock) *Subscriptions {
	if log == nil {
		log = zap.NewNop()
	}
	return &Subscriptions{log: log, store: store, clock: clock, status: make(map[string]summa.SubscriptionStatus)}
}

// Status returns the in-session state for userID.
func (s *Subscriptions) Status(userID string) summa.SubscriptionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status[userID]
}

// LoadProfile reads the profile document. A missing or unreadable profile
// leaves the user unsubscribed.
func (s *Subscriptions) LoadProfile(ctx context.Context, userID string) (summa.SubscriptionStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return summa.SubscriptionStatus{}, nil
	}
	raw, ok, err := s.store.Profile(ctx, userID)
	if err != nil {
		s.log.Warn("profile load failed", zap.String("user_id", userID), zap.Error(err))
		s.set(userID, summa.SubscriptionStatus{})
		return summa.SubscriptionStatus{}, upstream("load profile", err)
	}
	status := summa.SubscriptionStatus{}
	if ok {
		var profile summa.Profile
		if err := json.Unmarshal(raw, &profile); err != nil {
			s.log.Warn("malformed profile", zap.String("user_id", userID), zap.Error(err))
		} else {
			status = profile.Status()
		}
	}
	s.set(userID, status)
	return status, nil
}

// Subscribe records plan on the profile. The in-session state only changes
// once the write succeeds.
func (s *Subscriptions) Subscribe(ctx context.Context, userID string, plan summa.Plan) (summa.SubscriptionStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return summa.SubscriptionStatus{}, ErrSignInRequired
	}
	if plan != summa.PlanPremium && plan != summa.PlanPremiumPlus {
		return s.Status(userID), core.UsageError("unknown plan")
	}
	fields := map[string]any{
		"isSubscribed":     true,
		"subscriptionType": string(plan),
		"subscriptionDate": s.clock.Now().UTC(),
	}
	if err := s.store.MergeProfile(ctx, userID, fields); err != nil {
		s.log.Error("subscribe failed", zap.String("user_id", userID), zap.String("plan", string(plan)), zap.Error(err))
		return s.Status(userID), upstream("subscribe", err)
	}
	status := summa.SubscriptionStatus{IsSubscribed: true, Plan: plan}
	s.set(userID, status)
	return status, nil
}

// Cancel clears the subscription on the profile.
func (s *Subscriptions) Cancel(ctx context.Context, userID string) (summa.SubscriptionStatus, error) {
	if strings.TrimSpace(userID) == "" {
		return summa.SubscriptionStatus{}, ErrSignInRequired
	}
	fields := map[string]any{
		"isSubscribed":     false,
		"subscriptionType": nil,
		"cancelledDate":    s.clock.Now().UTC(),
	}
	if err := s.store.MergeProfile(ctx, userID, fields); err != nil {
		s.log.Error("cancel failed", zap.String("user_id", userID), zap.Error(err))
		return s.Status(userID), upstream("cancel subscription", err)
	}
	status := summa.SubscriptionStatus{}
	s.set(userID, status)
	return status, nil
}

// Reset forgets the user's state.
func (s *Subscriptions) Reset(userID string) {
	s.mu.Lock()
	delete(s.status, userID)
	s.mu.Unlock()
}

func (s *Subscriptions) set(userID string, status summa.SubscriptionStatus) {
	s.mu.Lock()
	s.status[userID] = status
	s.mu.Unlock()
}
