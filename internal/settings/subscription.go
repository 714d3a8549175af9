package settings

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/compliscope/compliscope/internal/kv"
)

const subscriptionKeyPrefix = "subscription_info:"

type Plan string

const (
	PlanFree         Plan = "free"
	PlanProfessional Plan = "professional"
	PlanEnterprise   Plan = "enterprise"
)

// Unlimited marks a plan without a simulation quota.
const Unlimited = -1

// SimulationQuota is the number of simulations each plan may run per billing
// period.
var SimulationQuota = map[Plan]int{
	PlanFree:         3,
	PlanProfessional: 50,
	PlanEnterprise:   Unlimited,
}

func (p Plan) Valid() bool {
	_, ok := SimulationQuota[p]
	return ok
}

type SubscriptionStatus string

const (
	StatusActive   SubscriptionStatus = "active"
	StatusCanceled SubscriptionStatus = "canceled"
	StatusPastDue  SubscriptionStatus = "past_due"
)

type Subscription struct {
	UserID          string             `json:"userId"`
	Plan            Plan               `json:"plan"`
	Status          SubscriptionStatus `json:"status"`
	PeriodStart     time.Time          `json:"periodStart"`
	RenewalDate     time.Time          `json:"renewalDate"`
	SimulationsUsed int                `json:"simulationsUsed"`
}

// Remaining returns the simulations left this period, or Unlimited.
func (s Subscription) Remaining() int {
	quota := SimulationQuota[s.Plan]
	if quota == Unlimited {
		return Unlimited
	}
	if r := quota - s.SimulationsUsed; r > 0 {
		return r
	}
	return 0
}

var (
	ErrQuotaExceeded = errors.New("simulation quota exceeded for the current billing period")
	ErrInactive      = errors.New("subscription is not active")
	ErrUnknownPlan   = errors.New("unknown plan")
)

type SubscriptionStore struct {
	repo  kv.Repository
	clock clockwork.Clock
	mu    sync.Mutex
}

func NewSubscriptionStore(repo kv.Repository, clock clockwork.Clock) *SubscriptionStore {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	return &SubscriptionStore{repo: repo, clock: clock}
}

func (s *SubscriptionStore) doc(userID string) *kv.JSON[Subscription] {
	return kv.NewJSON[Subscription](s.repo, subscriptionKeyPrefix+userID)
}

// Get returns the user's subscription, starting a free plan when none exists
// and rolling the billing period forward when it has ended.
func (s *SubscriptionStore) Get(ctx context.Context, userID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.load(ctx, userID)
}

func (s *SubscriptionStore) load(ctx context.Context, userID string) (Subscription, error) {
	now := s.clock.Now().UTC()
	sub, ok, err := s.doc(userID).Load(ctx)
	if err != nil {
		return Subscription{}, err
	}
	if !ok {
		return Subscription{
			UserID:      userID,
			Plan:        PlanFree,
			Status:      StatusActive,
			PeriodStart: now,
			RenewalDate: now.AddDate(0, 1, 0),
		}, nil
	}
	for !now.Before(sub.RenewalDate) {
		sub.PeriodStart = sub.RenewalDate
		sub.RenewalDate = sub.RenewalDate.AddDate(0, 1, 0)
		sub.SimulationsUsed = 0
	}
	return sub, nil
}

// SetPlan moves the user to plan and starts a new billing period.
func (s *SubscriptionStore) SetPlan(ctx context.Context, userID string, plan Plan) (Subscription, error) {
	if !plan.Valid() {
		return Subscription{}, fmt.Errorf("%w: %q", ErrUnknownPlan, plan)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now().UTC()
	sub := Subscription{
		UserID:      userID,
		Plan:        plan,
		Status:      StatusActive,
		PeriodStart: now,
		RenewalDate: now.AddDate(0, 1, 0),
	}
	if err := s.doc(userID).Save(ctx, sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

func (s *SubscriptionStore) Cancel(ctx context.Context, userID string) (Subscription, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.load(ctx, userID)
	if err != nil {
		return Subscription{}, err
	}
	sub.Status = StatusCanceled
	if err := s.doc(userID).Save(ctx, sub); err != nil {
		return Subscription{}, err
	}
	return sub, nil
}

// CanRunSimulation reports whether the user may run another simulation and
// how many remain this period.
func (s *SubscriptionStore) CanRunSimulation(ctx context.Context, userID string) (bool, int, error) {
	sub, err := s.Get(ctx, userID)
	if err != nil {
		return false, 0, err
	}
	if sub.Status != StatusActive {
		return false, 0, nil
	}
	remaining := sub.Remaining()
	return remaining != 0, remaining, nil
}

// RecordSimulation consumes one simulation from the quota.
func (s *SubscriptionStore) RecordSimulation(ctx context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	sub, err := s.load(ctx, userID)
	if err != nil {
		return err
	}
	if sub.Status != StatusActive {
		return ErrInactive
	}
	if sub.Remaining() == 0 {
		return ErrQuotaExceeded
	}
	sub.SimulationsUsed++
	return s.doc(userID).Save(ctx, sub)
}
