package gormstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/orders"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// OrderStore implements orders.Store using GORM.
type OrderStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *OrderStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore orders.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &OrderStore{db: transaction})
	})
}

// Ledger returns a ledger store sharing this store's transaction.
func (store *OrderStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

// Funding returns a funding store sharing this store's transaction.
func (store *OrderStore) Funding() funding.Store {
	return &FundingStore{db: store.db}
}

// Dispatch returns a dispatch store sharing this store's transaction.
func (store *OrderStore) Dispatch() dispatch.Store {
	return &DispatchStore{db: store.db}
}

func (store *OrderStore) InsertOrder(ctx context.Context, order orders.Order) error {
	items, err := json.Marshal(order.Items)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	model := Order{
		OrderID:        order.ID,
		CustomerID:     order.CustomerID,
		MerchantID:     order.MerchantID,
		IdempotencyKey: order.IdempotencyKey,
		Items:          datatypes.JSON(items),
		TotalMinor:     order.TotalMinor,
		PaymentMethod:  order.PaymentMethod.String(),
		PaymentEntryID: stringPointer(order.PaymentEntryID),
		Status:         order.Status.String(),
		CancelReason:   order.CancelReason,
		ItemsRevision:  order.ItemsRevision,
		PickupLat:      order.Pickup.Lat,
		PickupLon:      order.Pickup.Lon,
		DropoffLat:     order.Dropoff.Lat,
		DropoffLon:     order.Dropoff.Lon,
		CreatedAt:      order.CreatedAt,
		UpdatedAt:      order.UpdatedAt,
		DispatchState:  dispatch.StateNone.String(),
	}
	err = store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err, constraintOrderIdempotency, sqliteIdempotencyColumn) {
		return wrapStoreError(errorSubjectOrder, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInsert, err)
	}
	return nil
}

func (store *OrderStore) GetOrder(ctx context.Context, orderID string) (orders.Order, error) {
	var model Order
	err := store.db.WithContext(ctx).Where("order_id = ?", orderID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orders.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, fmt.Errorf("%w: %s", orders.ErrUnknownOrder, orderID))
	}
	if err != nil {
		return orders.Order{}, wrapStoreError(errorSubjectOrder, errorCodeGet, err)
	}
	order, err := mapOrder(model)
	if err != nil {
		return orders.Order{}, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, nil
}

func (store *OrderStore) FindOrderByIdempotencyKey(ctx context.Context, customerID string, key string) (orders.Order, bool, error) {
	var model Order
	err := store.db.WithContext(ctx).
		Where("customer_id = ? AND idempotency_key = ?", customerID, key).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return orders.Order{}, false, nil
	}
	if err != nil {
		return orders.Order{}, false, wrapStoreError(errorSubjectOrder, errorCodeLookup, err)
	}
	order, err := mapOrder(model)
	if err != nil {
		return orders.Order{}, false, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	return order, true, nil
}

func (store *OrderStore) TransitionOrder(ctx context.Context, orderID string, transition orders.Transition) error {
	updates := map[string]any{
		"status":     transition.To.String(),
		"updated_at": transition.At,
	}
	if transition.CancelReason != "" {
		updates["cancel_reason"] = transition.CancelReason
	}
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ?", orderID, transition.From.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		conflict := fmt.Errorf("%w: %s is no longer %s", orders.ErrStatusConflict, orderID, transition.From)
		return wrapStoreError(errorSubjectOrder, errorCodeUpdateStatus, store.missOrConflict(ctx, orderID, conflict))
	}
	return nil
}

func (store *OrderStore) ReplaceItems(ctx context.Context, orderID string, expected orders.Status, expectedRevision int, items []orders.Item, totalMinor int64, at time.Time) error {
	encoded, err := json.Marshal(items)
	if err != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
	}
	result := store.db.WithContext(ctx).
		Model(&Order{}).
		Where("order_id = ? AND status = ? AND items_revision = ?", orderID, expected.String(), expectedRevision).
		Updates(map[string]any{
			"items":          datatypes.JSON(encoded),
			"total_minor":    totalMinor,
			"items_revision": expectedRevision + 1,
			"updated_at":     at,
		})
	if result.Error != nil {
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, result.Error)
	}
	if result.RowsAffected == 0 {
		conflict := fmt.Errorf("%w: %s changed since revision %d", orders.ErrStatusConflict, orderID, expectedRevision)
		return wrapStoreError(errorSubjectOrder, errorCodeUpdate, store.missOrConflict(ctx, orderID, conflict))
	}
	return nil
}

func (store *OrderStore) ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]orders.Order, error) {
	var models []Order
	err := store.db.WithContext(ctx).
		Where("status = ? AND created_at <= ?", orders.StatusPending.String(), cutoff).
		Order("created_at ASC, order_id ASC").
		Limit(limit).
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectOrder, errorCodeList, err)
	}
	result := make([]orders.Order, 0, len(models))
	for _, model := range models {
		order, err := mapOrder(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectOrder, errorCodeInvalid, err)
		}
		result = append(result, order)
	}
	return result, nil
}

func (store *OrderStore) missOrConflict(ctx context.Context, orderID string, conflict error) error {
	var count int64
	if err := store.db.WithContext(ctx).Model(&Order{}).Where("order_id = ?", orderID).Count(&count).Error; err != nil {
		return err
	}
	if count == 0 {
		return fmt.Errorf("%w: %s", orders.ErrUnknownOrder, orderID)
	}
	return conflict
}

func mapOrder(model Order) (orders.Order, error) {
	var items []orders.Item
	if err := json.Unmarshal(model.Items, &items); err != nil {
		return orders.Order{}, err
	}
	status, err := orders.ParseStatus(model.Status)
	if err != nil {
		return orders.Order{}, err
	}
	method, err := orders.ParsePaymentMethod(model.PaymentMethod)
	if err != nil {
		return orders.Order{}, err
	}
	job, err := mapJob(model)
	if err != nil {
		return orders.Order{}, err
	}
	return orders.Order{
		ID:             model.OrderID,
		CustomerID:     model.CustomerID,
		MerchantID:     model.MerchantID,
		Items:          items,
		TotalMinor:     model.TotalMinor,
		PaymentMethod:  method,
		Status:         status,
		IdempotencyKey: model.IdempotencyKey,
		PaymentEntryID: stringValue(model.PaymentEntryID),
		Pickup:         geo.Point{Lat: model.PickupLat, Lon: model.PickupLon},
		Dropoff:        geo.Point{Lat: model.DropoffLat, Lon: model.DropoffLon},
		CancelReason:   model.CancelReason,
		ItemsRevision:  model.ItemsRevision,
		CreatedAt:      model.CreatedAt.UTC(),
		UpdatedAt:      model.UpdatedAt.UTC(),
		Dispatch:       job,
	}, nil
}
