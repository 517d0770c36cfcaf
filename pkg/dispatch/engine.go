package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
)

// Engine matches orders to couriers.
type Engine struct {
	store     Store
	policy    Policy
	nowFn     func() time.Time
	codeFn    func() (string, error)
	logger    oplog.Logger
	publisher events.Publisher
}

// NewEngine wires an Engine.
func NewEngine(store Store, policy Policy, now func() time.Time, options ...EngineOption) (*Engine, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if err := policy.Validate(); err != nil {
		return nil, err
	}
	engine := &Engine{store: store, policy: policy, nowFn: now, codeFn: GenerateDispatchCode}
	for _, option := range options {
		if option != nil {
			option(engine)
		}
	}
	return engine, nil
}

// Policy returns the configured search policy.
func (engine *Engine) Policy() Policy {
	return engine.policy
}

// Get returns the dispatch view of an order.
func (engine *Engine) Get(ctx context.Context, orderID string) (Job, error) {
	return engine.store.GetJob(ctx, orderID)
}

// UpdatePresence records a courier location/online report.
func (engine *Engine) UpdatePresence(ctx context.Context, update PresenceUpdate) (Presence, error) {
	presence := Presence{
		CourierID:          strings.TrimSpace(update.CourierID),
		Online:             update.Online,
		Location:           update.Location,
		LastLocationUpdate: engine.nowFn().UTC(),
	}
	err := validateCourierID(presence.CourierID)
	if err == nil {
		err = update.Location.Validate()
	}
	if err == nil {
		err = engine.store.UpsertPresence(ctx, presence)
	}
	oplog.Emit(ctx, engine.logger, oplog.Record{
		Component: componentName,
		Operation: operationPresence,
		Subject:   presence.CourierID,
		Error:     err,
		Fields:    map[string]string{"online": fmt.Sprintf("%t", presence.Online)},
	})
	if err != nil {
		return Presence{}, err
	}
	return presence, nil
}

// BeginSearch opens the search at the first radius tier and offers the order to the
// nearest eligible couriers. Calling it on an order that is already searching is a no-op.
func (engine *Engine) BeginSearch(ctx context.Context, orderID string, pickup geo.Point) (Job, error) {
	var job Job
	err := engine.runInTx(ctx, operationBeginSearch, orderID, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		var beginErr error
		job, beginErr = engine.BeginSearchWithin(ctx, transactionStore, orderID, pickup, batch)
		return beginErr
	})
	return job, err
}

// BeginSearchWithin is BeginSearch inside a caller-owned transaction.
func (engine *Engine) BeginSearchWithin(ctx context.Context, transactionStore Store, orderID string, pickup geo.Point, batch *events.Batch) (Job, error) {
	if err := pickup.Validate(); err != nil {
		return Job{}, err
	}
	job, err := transactionStore.LockJob(ctx, orderID)
	if err != nil {
		return Job{}, err
	}
	switch job.State {
	case StateSearching, StateAssigned:
		return job, nil
	case StateNone:
	default:
		return Job{}, fmt.Errorf("%w: %s is %s", ErrSearchClosed, orderID, job.State)
	}
	if job.DispatchCode == "" {
		code, codeErr := engine.codeFn()
		if codeErr != nil {
			return Job{}, codeErr
		}
		job.DispatchCode = code
	}
	now := engine.nowFn().UTC()
	job.Pickup = pickup
	job.State = StateSearching
	job.RadiusTier = 0
	job.RadiusKm = engine.policy.RadiusKm(0)
	job.NotificationStartedAt = &now
	if err := transactionStore.SaveJob(ctx, job, StateNone); err != nil {
		return Job{}, err
	}
	if err := engine.notifyWithin(ctx, transactionStore, job, batch); err != nil {
		return Job{}, err
	}
	return job, nil
}

// ExpandSearch widens the radius by one tier once the expansion interval has passed without a
// claim and offers the order to couriers not offered before. It reports whether it expanded.
func (engine *Engine) ExpandSearch(ctx context.Context, orderID string) (Job, bool, error) {
	var (
		job      Job
		expanded bool
	)
	err := engine.runInTx(ctx, operationExpandSearch, orderID, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		locked, lockErr := transactionStore.LockJob(ctx, orderID)
		if lockErr != nil {
			return lockErr
		}
		job = locked
		now := engine.nowFn().UTC()
		if !engine.expansionDue(job, now) {
			return nil
		}
		job.RadiusTier++
		job.RadiusKm = engine.policy.RadiusKm(job.RadiusTier)
		job.NotificationStartedAt = &now
		if saveErr := transactionStore.SaveJob(ctx, job, StateSearching); saveErr != nil {
			return saveErr
		}
		expanded = true
		return engine.notifyWithin(ctx, transactionStore, job, batch)
	})
	return job, expanded, err
}

// ExpandDue runs ExpandSearch for every searching order whose tier interval has elapsed.
// Failures on one order do not stop the others.
func (engine *Engine) ExpandDue(ctx context.Context) (int, error) {
	cutoff := engine.nowFn().UTC().Add(-engine.policy.ExpansionInterval)
	jobs, err := engine.store.ListSearchingJobs(ctx, cutoff, engine.policy.MaxTier(), expandBatchSize)
	if err != nil {
		return 0, err
	}
	var (
		expandedCount int
		failures      []error
	)
	for _, job := range jobs {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		_, expanded, expandErr := engine.ExpandSearch(ctx, job.OrderID)
		if expandErr != nil {
			failures = append(failures, fmt.Errorf("expand %s: %w", job.OrderID, expandErr))
			continue
		}
		if expanded {
			expandedCount++
		}
	}
	return expandedCount, errors.Join(failures...)
}

// Claim assigns the order to courierID. Exactly one concurrent claim wins; every loser gets
// ErrAlreadyAssigned and an order_claim_denied event.
func (engine *Engine) Claim(ctx context.Context, orderID string, courierID string) (Job, error) {
	var job Job
	err := engine.runInTx(ctx, operationClaim, orderID, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		var claimErr error
		job, claimErr = engine.ClaimWithin(ctx, transactionStore, orderID, courierID, batch)
		return claimErr
	})
	if errors.Is(err, ErrAlreadyAssigned) && engine.publisher != nil {
		_ = engine.publisher.Publish(ctx, events.TopicOrderClaimDenied, events.OrderClaimDenied{OrderID: orderID, CourierID: courierID})
	}
	return job, err
}

// ClaimWithin is Claim inside a caller-owned transaction. The denied event is left to the caller.
func (engine *Engine) ClaimWithin(ctx context.Context, transactionStore Store, orderID string, courierID string, batch *events.Batch) (Job, error) {
	courierID = strings.TrimSpace(courierID)
	if err := validateCourierID(courierID); err != nil {
		return Job{}, err
	}
	job, err := transactionStore.GetJob(ctx, orderID)
	if err != nil {
		return Job{}, err
	}
	if job.State != StateSearching || job.CourierID != "" {
		return claimOutcome(job, courierID)
	}
	presence, found, err := transactionStore.GetPresence(ctx, courierID)
	if err != nil {
		return Job{}, err
	}
	if !found || !presence.Online {
		return Job{}, fmt.Errorf("%w: %s is offline", ErrCourierUnavailable, courierID)
	}
	busy, err := transactionStore.IsCourierBusy(ctx, courierID)
	if err != nil {
		return Job{}, err
	}
	if busy {
		return Job{}, fmt.Errorf("%w: %s has an active delivery", ErrCourierUnavailable, courierID)
	}

	now := engine.nowFn().UTC()
	pickupETA := now.Add(geo.TravelDuration(presence.Location.DistanceTo(job.Pickup), engine.policy.SpeedKmh))
	won, err := transactionStore.ClaimJob(ctx, orderID, courierID, now, pickupETA)
	if err != nil {
		return Job{}, err
	}
	if !won {
		latest, getErr := transactionStore.GetJob(ctx, orderID)
		if getErr != nil {
			return Job{}, getErr
		}
		return claimOutcome(latest, courierID)
	}
	job.State = StateAssigned
	job.CourierID = courierID
	job.AssignedAt = &now
	job.PickupETA = &pickupETA
	batch.Add(events.TopicOrderClaimed, events.OrderClaimed{
		OrderID:    job.OrderID,
		MerchantID: job.MerchantID,
		CourierID:  courierID,
		PickupETA:  pickupETA,
	})
	return job, nil
}

// Unassign clears the courier, restarts the search at the first tier and re-broadcasts.
// The previous courier is told explicitly and may claim again.
func (engine *Engine) Unassign(ctx context.Context, orderID string, reason string) (Job, error) {
	var job Job
	err := engine.runInTx(ctx, operationUnassign, orderID, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		var unassignErr error
		job, unassignErr = engine.UnassignWithin(ctx, transactionStore, orderID, reason, batch)
		return unassignErr
	})
	return job, err
}

// UnassignWithin is Unassign inside a caller-owned transaction.
func (engine *Engine) UnassignWithin(ctx context.Context, transactionStore Store, orderID string, reason string, batch *events.Batch) (Job, error) {
	job, err := transactionStore.LockJob(ctx, orderID)
	if err != nil {
		return Job{}, err
	}
	if job.State != StateAssigned {
		return Job{}, fmt.Errorf("%w: %s is %s", ErrNotAssigned, orderID, job.State)
	}
	if job.ReleasedAt != nil {
		return Job{}, fmt.Errorf("%w: %s", ErrAlreadyReleased, orderID)
	}
	previousCourier := job.CourierID
	now := engine.nowFn().UTC()
	job.State = StateSearching
	job.CourierID = ""
	job.AssignedAt = nil
	job.PickupETA = nil
	job.RadiusTier = 0
	job.RadiusKm = engine.policy.RadiusKm(0)
	job.NotificationStartedAt = &now
	if err := transactionStore.SaveJob(ctx, job, StateAssigned); err != nil {
		return Job{}, err
	}
	if err := transactionStore.ClearNotifications(ctx, orderID); err != nil {
		return Job{}, err
	}
	batch.Add(events.TopicOrderUnassigned, events.OrderUnassigned{
		OrderID:    orderID,
		CourierID:  previousCourier,
		MerchantID: job.MerchantID,
		Reason:     reason,
	})
	if err := engine.notifyWithin(ctx, transactionStore, job, batch); err != nil {
		return Job{}, err
	}
	return job, nil
}

// Release records the physical handoff to the assigned courier and computes the delivery ETA.
func (engine *Engine) Release(ctx context.Context, orderID string) (Job, error) {
	var job Job
	err := engine.runInTx(ctx, operationRelease, orderID, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		var releaseErr error
		job, releaseErr = engine.ReleaseWithin(ctx, transactionStore, orderID, batch)
		return releaseErr
	})
	return job, err
}

// ReleaseWithin is Release inside a caller-owned transaction.
func (engine *Engine) ReleaseWithin(ctx context.Context, transactionStore Store, orderID string, batch *events.Batch) (Job, error) {
	job, err := transactionStore.LockJob(ctx, orderID)
	if err != nil {
		return Job{}, err
	}
	if job.State != StateAssigned {
		return Job{}, fmt.Errorf("%w: %s is %s", ErrNotAssigned, orderID, job.State)
	}
	if job.ReleasedAt != nil {
		return Job{}, fmt.Errorf("%w: %s", ErrAlreadyReleased, orderID)
	}
	now := engine.nowFn().UTC()
	deliveryETA := now.Add(geo.TravelDuration(job.Pickup.DistanceTo(job.Dropoff), engine.policy.SpeedKmh))
	job.ReleasedAt = &now
	job.DeliveryETA = &deliveryETA
	if err := transactionStore.SaveJob(ctx, job, StateAssigned); err != nil {
		return Job{}, err
	}
	batch.Add(events.TopicOrderReleased, events.OrderReleased{
		OrderID:     orderID,
		CourierID:   job.CourierID,
		MerchantID:  job.MerchantID,
		CustomerID:  job.CustomerID,
		DeliveryETA: deliveryETA,
	})
	return job, nil
}

// CompleteWithin closes an assigned job after delivery, freeing the courier.
func (engine *Engine) CompleteWithin(ctx context.Context, transactionStore Store, orderID string) (Job, error) {
	job, err := transactionStore.LockJob(ctx, orderID)
	if err != nil {
		return Job{}, err
	}
	if job.State != StateAssigned {
		return Job{}, fmt.Errorf("%w: %s is %s", ErrNotAssigned, orderID, job.State)
	}
	job.State = StateCompleted
	if err := transactionStore.SaveJob(ctx, job, StateAssigned); err != nil {
		return Job{}, err
	}
	oplog.Emit(ctx, engine.logger, oplog.Record{Component: componentName, Operation: operationComplete, Subject: orderID})
	return job, nil
}

// AbandonWithin closes the search of a cancelled order. An assigned courier is told the
// order was withdrawn. Abandoning twice is a no-op.
func (engine *Engine) AbandonWithin(ctx context.Context, transactionStore Store, orderID string, reason string, batch *events.Batch) (Job, error) {
	job, err := transactionStore.LockJob(ctx, orderID)
	if err != nil {
		return Job{}, err
	}
	switch job.State {
	case StateAbandoned:
		return job, nil
	case StateCompleted:
		return Job{}, fmt.Errorf("%w: %s is %s", ErrSearchClosed, orderID, job.State)
	}
	previousState := job.State
	previousCourier := job.CourierID
	job.State = StateAbandoned
	if err := transactionStore.SaveJob(ctx, job, previousState); err != nil {
		return Job{}, err
	}
	if previousCourier != "" {
		batch.Add(events.TopicOrderUnassigned, events.OrderUnassigned{
			OrderID:    orderID,
			CourierID:  previousCourier,
			MerchantID: job.MerchantID,
			Reason:     reason,
		})
	}
	oplog.Emit(ctx, engine.logger, oplog.Record{
		Component: componentName,
		Operation: operationAbandon,
		Subject:   orderID,
		Fields:    map[string]string{"previous_state": previousState.String()},
	})
	return job, nil
}

func (engine *Engine) expansionDue(job Job, now time.Time) bool {
	if job.State != StateSearching || job.CourierID != "" {
		return false
	}
	if job.RadiusTier >= engine.policy.MaxTier() {
		return false
	}
	if job.NotificationStartedAt == nil {
		return true
	}
	return !now.Before(job.NotificationStartedAt.Add(engine.policy.ExpansionInterval))
}

// notifyWithin offers the job to eligible couriers inside the current radius that have not
// been offered it yet, nearest first, up to the fan-out.
func (engine *Engine) notifyWithin(ctx context.Context, transactionStore Store, job Job, batch *events.Batch) error {
	now := engine.nowFn().UTC()
	couriers, err := transactionStore.ListAvailableCouriers(ctx, now.Add(-engine.policy.LocationFreshness))
	if err != nil {
		return err
	}
	alreadyNotified, err := transactionStore.NotifiedCouriers(ctx, job.OrderID)
	if err != nil {
		return err
	}
	exclude := make(map[string]bool, len(alreadyNotified))
	for _, courierID := range alreadyNotified {
		exclude[courierID] = true
	}
	candidates := RankCandidates(job.Pickup, couriers, job.RadiusKm, exclude, engine.policy.FanOut)
	if len(candidates) == 0 {
		return nil
	}
	notifications := make([]Notification, 0, len(candidates))
	for _, candidate := range candidates {
		notifications = append(notifications, Notification{
			OrderID:    job.OrderID,
			CourierID:  candidate.CourierID,
			RadiusTier: job.RadiusTier,
			DistanceKm: candidate.DistanceKm,
			NotifiedAt: now,
		})
		batch.Add(events.TopicNewOrderAvailable, events.NewOrderAvailable{
			OrderID:     job.OrderID,
			CourierID:   candidate.CourierID,
			Pickup:      events.Location{Lat: job.Pickup.Lat, Lon: job.Pickup.Lon},
			AmountMinor: job.AmountMinor,
			DistanceKm:  candidate.DistanceKm,
			RadiusKm:    job.RadiusKm,
		})
	}
	return transactionStore.RecordNotifications(ctx, notifications)
}

func (engine *Engine) runInTx(ctx context.Context, operation string, orderID string, fn func(ctx context.Context, transactionStore Store, batch *events.Batch) error) error {
	var batch events.Batch
	err := engine.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		batch.Reset()
		return fn(ctx, transactionStore, &batch)
	})
	oplog.Emit(ctx, engine.logger, oplog.Record{
		Component: componentName,
		Operation: operation,
		Subject:   orderID,
		Error:     err,
		Fields:    map[string]string{"events": fmt.Sprintf("%d", batch.Len())},
	})
	if err != nil {
		return err
	}
	engine.FlushEvents(ctx, &batch)
	return nil
}

// FlushEvents publishes a committed batch. Publish failures are logged and dropped.
func (engine *Engine) FlushEvents(ctx context.Context, batch *events.Batch) {
	batch.Flush(ctx, engine.publisher, func(event events.Event, err error) {
		oplog.Emit(ctx, engine.logger, oplog.Record{
			Component: componentName,
			Operation: "publish",
			Subject:   string(event.Topic),
			Error:     err,
		})
	})
}

func claimOutcome(job Job, courierID string) (Job, error) {
	if job.CourierID == courierID && job.State == StateAssigned {
		return job, nil
	}
	if job.CourierID != "" {
		return Job{}, fmt.Errorf("%w: %s", ErrAlreadyAssigned, job.OrderID)
	}
	return Job{}, fmt.Errorf("%w: %s is %s", ErrNotSearching, job.OrderID, job.State)
}

func validateCourierID(courierID string) error {
	if strings.TrimSpace(courierID) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidCourierID)
	}
	return nil
}
