package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
)

// State is the dispatch state of one order.
type State string

const (
	StateNone      State = "none"
	StateSearching State = "searching"
	StateAssigned  State = "assigned"
	StateCompleted State = "completed"
	StateAbandoned State = "abandoned"
)

// ParseState validates a raw state.
func ParseState(raw string) (State, error) {
	switch state := State(strings.TrimSpace(raw)); state {
	case StateNone, StateSearching, StateAssigned, StateCompleted, StateAbandoned:
		return state, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidState, raw)
	}
}

// String returns the state value.
func (state State) String() string {
	return string(state)
}

// Policy holds the tunables of courier search.
type Policy struct {
	RadiusTiersKm     []float64
	ExpansionInterval time.Duration
	FanOut            int
	LocationFreshness time.Duration
	SpeedKmh          float64
}

// DefaultPolicy returns 5/10/15 km tiers, 2 minute expansion, fan-out 10, 5 minute freshness.
func DefaultPolicy() Policy {
	return Policy{
		RadiusTiersKm:     append([]float64(nil), DefaultRadiusTiersKm...),
		ExpansionInterval: DefaultExpansionInterval,
		FanOut:            DefaultFanOut,
		LocationFreshness: DefaultLocationFreshness,
		SpeedKmh:          DefaultSpeedKmh,
	}
}

// Validate rejects empty or non-ascending tiers and non-positive tunables.
func (policy Policy) Validate() error {
	if len(policy.RadiusTiersKm) == 0 {
		return fmt.Errorf("%w: at least one radius tier is required", ErrInvalidPolicy)
	}
	previous := 0.0
	for index, radius := range policy.RadiusTiersKm {
		if radius <= previous {
			return fmt.Errorf("%w: radius tier %d (%.2f km) must exceed %.2f km", ErrInvalidPolicy, index, radius, previous)
		}
		previous = radius
	}
	if policy.ExpansionInterval <= 0 {
		return fmt.Errorf("%w: expansion interval must be positive", ErrInvalidPolicy)
	}
	if policy.FanOut <= 0 {
		return fmt.Errorf("%w: fan-out must be positive", ErrInvalidPolicy)
	}
	if policy.LocationFreshness <= 0 {
		return fmt.Errorf("%w: location freshness must be positive", ErrInvalidPolicy)
	}
	if policy.SpeedKmh <= 0 {
		return fmt.Errorf("%w: speed must be positive", ErrInvalidPolicy)
	}
	return nil
}

// RadiusKm returns the radius of tier, clamped to the last tier.
func (policy Policy) RadiusKm(tier int) float64 {
	if tier < 0 {
		tier = 0
	}
	if tier >= len(policy.RadiusTiersKm) {
		tier = len(policy.RadiusTiersKm) - 1
	}
	return policy.RadiusTiersKm[tier]
}

// MaxTier is the index of the widest radius.
func (policy Policy) MaxTier() int {
	return len(policy.RadiusTiersKm) - 1
}

// Job is the dispatch view of an order.
type Job struct {
	OrderID               string
	MerchantID            string
	CustomerID            string
	Pickup                geo.Point
	Dropoff               geo.Point
	AmountMinor           int64
	State                 State
	CourierID             string
	RadiusTier            int
	RadiusKm              float64
	NotificationStartedAt *time.Time
	DispatchCode          string
	AssignedAt            *time.Time
	PickupETA             *time.Time
	ReleasedAt            *time.Time
	DeliveryETA           *time.Time
}

// Presence is the last reported state of a courier.
type Presence struct {
	CourierID          string
	Online             bool
	Location           geo.Point
	LastLocationUpdate time.Time
}

// Fresh reports whether the location was reported at or after cutoff.
func (presence Presence) Fresh(cutoff time.Time) bool {
	return !presence.LastLocationUpdate.Before(cutoff)
}

// PresenceUpdate is a courier location/online report.
type PresenceUpdate struct {
	CourierID string
	Online    bool
	Location  geo.Point
}

// Notification records that an order was offered to a courier.
type Notification struct {
	OrderID    string
	CourierID  string
	RadiusTier int
	DistanceKm float64
	NotifiedAt time.Time
}

// Store is the persistence contract used by Engine.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	GetJob(ctx context.Context, orderID string) (Job, error)
	// LockJob reads the job and holds a write lock on the order row for the transaction.
	LockJob(ctx context.Context, orderID string) (Job, error)
	// SaveJob writes the dispatch fields of job while the stored state still equals expected,
	// returning ErrStateConflict otherwise.
	SaveJob(ctx context.Context, job Job, expected State) error
	// ClaimJob assigns courierID only while the job is searching with no courier.
	// It reports false when another claim already won.
	ClaimJob(ctx context.Context, orderID string, courierID string, assignedAt time.Time, pickupETA time.Time) (bool, error)
	// ListSearchingJobs returns searching jobs below belowTier whose current tier started at
	// or before startedBefore, oldest first.
	ListSearchingJobs(ctx context.Context, startedBefore time.Time, belowTier int, limit int) ([]Job, error)
	UpsertPresence(ctx context.Context, presence Presence) error
	GetPresence(ctx context.Context, courierID string) (Presence, bool, error)
	// ListAvailableCouriers returns online couriers with a location reported since freshSince
	// and no assigned job.
	ListAvailableCouriers(ctx context.Context, freshSince time.Time) ([]Presence, error)
	IsCourierBusy(ctx context.Context, courierID string) (bool, error)
	NotifiedCouriers(ctx context.Context, orderID string) ([]string, error)
	RecordNotifications(ctx context.Context, notifications []Notification) error
	ClearNotifications(ctx context.Context, orderID string) error
}
