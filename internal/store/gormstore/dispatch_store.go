package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// DispatchStore implements dispatch.Store using GORM. Jobs live on the orders table.
type DispatchStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *DispatchStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore dispatch.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &DispatchStore{db: transaction})
	})
}

func (store *DispatchStore) GetJob(ctx context.Context, orderID string) (dispatch.Job, error) {
	return store.takeJob(store.db.WithContext(ctx), orderID, errorCodeGet)
}

func (store *DispatchStore) LockJob(ctx context.Context, orderID string) (dispatch.Job, error) {
	return store.takeJob(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), orderID, errorCodeLock)
}

// SaveJob never replaces a dispatch code once one is stored.
func (store *DispatchStore) SaveJob(ctx context.Context, job dispatch.Job, expected dispatch.State) error {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND dispatch_state = ?", job.OrderID, expected.String()).
		Updates(map[string]any{
			"dispatch_state":          job.State.String(),
			"courier_id":              stringPointer(job.CourierID),
			"radius_tier":             job.RadiusTier,
			"radius_km":               job.RadiusKm,
			"notification_started_at": job.NotificationStartedAt,
			"dispatch_code":           gorm.Expr("COALESCE(dispatch_code, ?)", stringPointer(job.DispatchCode)),
			"assigned_at":             job.AssignedAt,
			"pickup_eta":              job.PickupETA,
			"released_at":             job.ReleasedAt,
			"delivery_eta":            job.DeliveryETA,
			"pickup_lat":              job.Pickup.Lat,
			"pickup_lon":              job.Pickup.Lon,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectDispatch, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectDispatch, errorCodeUpdate, store.missOrConflict(ctx, job.OrderID, fmt.Errorf("%w: %s is no longer %s", dispatch.ErrStateConflict, job.OrderID, expected)))
	}
	return nil
}

func (store *DispatchStore) ClaimJob(ctx context.Context, orderID string, courierID string, assignedAt time.Time, pickupETA time.Time) (bool, error) {
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND dispatch_state = ? AND courier_id IS NULL", orderID, dispatch.StateSearching.String()).
		Updates(map[string]any{
			"dispatch_state": dispatch.StateAssigned.String(),
			"courier_id":     courierID,
			"assigned_at":    assignedAt,
			"pickup_eta":     pickupETA,
		})
	if result.Error != nil {
		return false, wrapStoreError(errorSubjectDispatch, errorCodeClaim, result.Error)
	}
	return result.RowsAffected == 1, nil
}

func (store *DispatchStore) ListSearchingJobs(ctx context.Context, startedBefore time.Time, belowTier int, limit int) ([]dispatch.Job, error) {
	var models []Order
	err := store.db.WithContext(ctx).
		Where("dispatch_state = ? AND notification_started_at <= ? AND radius_tier < ?", dispatch.StateSearching.String(), startedBefore, belowTier).
		Order("notification_started_at ASC, order_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectDispatch, errorCodeList, err)
	}
	jobs := make([]dispatch.Job, 0, len(models))
	for _, model := range models {
		job, err := mapJob(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectDispatch, errorCodeInvalid, err)
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}

func (store *DispatchStore) UpsertPresence(ctx context.Context, presence dispatch.Presence) error {
	model := CourierPresence{
		CourierID:          presence.CourierID,
		Online:             presence.Online,
		Lat:                presence.Location.Lat,
		Lon:                presence.Location.Lon,
		LastLocationUpdate: presence.LastLocationUpdate,
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "courier_id"}}, UpdateAll: true}).
		Create(&model).Error
	if err != nil {
		return wrapStoreError(errorSubjectPresence, errorCodeUpsert, err)
	}
	return nil
}

func (store *DispatchStore) GetPresence(ctx context.Context, courierID string) (dispatch.Presence, bool, error) {
	var model CourierPresence
	err := store.db.WithContext(ctx).Where("courier_id = ?", courierID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dispatch.Presence{}, false, nil
	}
	if err != nil {
		return dispatch.Presence{}, false, wrapStoreError(errorSubjectPresence, errorCodeGet, err)
	}
	return mapPresence(model), true, nil
}

func (store *DispatchStore) ListAvailableCouriers(ctx context.Context, freshSince time.Time) ([]dispatch.Presence, error) {
	busy := store.db.Model(&Order{}).
		Select("courier_id").
		Where("dispatch_state = ? AND courier_id IS NOT NULL", dispatch.StateAssigned.String())
	var models []CourierPresence
	err := store.db.WithContext(ctx).
		Where("online = ? AND last_location_update >= ?", true, freshSince).
		Where("courier_id NOT IN (?)", busy).
		Order("courier_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectPresence, errorCodeList, err)
	}
	couriers := make([]dispatch.Presence, 0, len(models))
	for _, model := range models {
		couriers = append(couriers, mapPresence(model))
	}
	return couriers, nil
}

func (store *DispatchStore) IsCourierBusy(ctx context.Context, courierID string) (bool, error) {
	var count int64
	err := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("courier_id = ? AND dispatch_state = ?", courierID, dispatch.StateAssigned.String()).
		Count(&count).Error
	if err != nil {
		return false, wrapStoreError(errorSubjectDispatch, errorCodeLookup, err)
	}
	return count > 0, nil
}

func (store *DispatchStore) NotifiedCouriers(ctx context.Context, orderID string) ([]string, error) {
	var courierIDs []string
	err := store.db.WithContext(ctx).
		Model(&DispatchNotification{}).
		Where("order_id = ?", orderID).
		Order("courier_id ASC").
		Pluck("courier_id", &courierIDs).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectNotification, errorCodeList, err)
	}
	return courierIDs, nil
}

func (store *DispatchStore) RecordNotifications(ctx context.Context, notifications []dispatch.Notification) error {
	if len(notifications) == 0 {
		return nil
	}
	models := make([]DispatchNotification, 0, len(notifications))
	for _, notification := range notifications {
		models = append(models, DispatchNotification{
			OrderID:    notification.OrderID,
			CourierID:  notification.CourierID,
			RadiusTier: notification.RadiusTier,
			DistanceKm: notification.DistanceKm,
			NotifiedAt: notification.NotifiedAt,
		})
	}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&models).Error
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeInsert, err)
	}
	return nil
}

func (store *DispatchStore) ClearNotifications(ctx context.Context, orderID string) error {
	err := store.db.WithContext(ctx).Where("order_id = ?", orderID).Delete(&DispatchNotification{}).Error
	if err != nil {
		return wrapStoreError(errorSubjectNotification, errorCodeUpdate, err)
	}
	return nil
}

func (store *DispatchStore) takeJob(query *gorm.DB, orderID string, code string) (dispatch.Job, error) {
	var model Order
	err := query.Where("order_id = ?", orderID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return dispatch.Job{}, wrapStoreError(errorSubjectDispatch, code, fmt.Errorf("%w: %s", dispatch.ErrUnknownOrder, orderID))
	}
	if err != nil {
		return dispatch.Job{}, wrapStoreError(errorSubjectDispatch, code, err)
	}
	job, err := mapJob(model)
	if err != nil {
		return dispatch.Job{}, wrapStoreError(errorSubjectDispatch, errorCodeInvalid, err)
	}
	return job, nil
}

// missOrConflict tells an unknown order apart from a lost conditional update.
func (store *DispatchStore) missOrConflict(ctx context.Context, orderID string, conflict error) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Order{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", dispatch.ErrUnknownOrder, orderID)
	}
	return conflict
}

func mapJob(model Order) (dispatch.Job, error) {
	state, err := dispatch.ParseState(model.DispatchState)
	if err != nil {
		return dispatch.Job{}, err
	}
	return dispatch.Job{
		OrderID:               model.OrderID,
		MerchantID:            model.MerchantID,
		CustomerID:            model.CustomerID,
		Pickup:                geo.Point{Lat: model.PickupLat, Lon: model.PickupLon},
		Dropoff:               geo.Point{Lat: model.DropoffLat, Lon: model.DropoffLon},
		AmountMinor:           model.TotalMinor,
		State:                 state,
		CourierID:             stringValue(model.CourierID),
		RadiusTier:            model.RadiusTier,
		RadiusKm:              model.RadiusKm,
		NotificationStartedAt: utcPointer(model.NotificationStartedAt),
		DispatchCode:          stringValue(model.DispatchCode),
		AssignedAt:            utcPointer(model.AssignedAt),
		PickupETA:             utcPointer(model.PickupETA),
		ReleasedAt:            utcPointer(model.ReleasedAt),
		DeliveryETA:           utcPointer(model.DeliveryETA),
	}, nil
}

func mapPresence(model CourierPresence) dispatch.Presence {
	return dispatch.Presence{
		CourierID:          model.CourierID,
		Online:             model.Online,
		Location:           geo.Point{Lat: model.Lat, Lon: model.Lon},
		LastLocationUpdate: model.LastLocationUpdate.UTC(),
	}
}

func utcPointer(value *time.Time) *time.Time {
	if value == nil {
		return nil
	}
	normalized := value.UTC()
	return &normalized
}
