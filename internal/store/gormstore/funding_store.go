package gormstore

import (
	"context"
	"errors"
	"fmt"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// FundingStore implements funding.Store using GORM.
type FundingStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *FundingStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore funding.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &FundingStore{db: transaction})
	})
}

// Ledger returns a ledger store sharing this store's transaction.
func (store *FundingStore) Ledger() ledger.Store {
	return &LedgerStore{db: store.db}
}

func (store *FundingStore) InsertRequest(ctx context.Context, request funding.Request) error {
	model := FundingRequest{
		RequestID:       request.ID,
		OwnerType:       request.Account.OwnerType().String(),
		OwnerID:         request.Account.OwnerID(),
		AmountMinor:     request.Amount.Int64(),
		Direction:       request.Direction.String(),
		TransactionType: request.TransactionType.String(),
		Method:          request.Method,
		ProofReference:  request.ProofReference,
		IdempotencyKey:  request.IdempotencyKey.String(),
		ReferenceID:     request.ReferenceID,
		RequestedBy:     request.RequestedBy,
		Status:          request.Status.String(),
		Notes:           request.Notes,
		CreatedAt:       request.CreatedAt,
		UpdatedAt:       request.CreatedAt,
	}
	err := store.db.WithContext(ctx).Create(&model).Error
	if isUniqueConflict(err, constraintFundingIdempotency, sqliteIdempotencyColumn) {
		return wrapStoreError(errorSubjectFunding, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectFunding, errorCodeInsert, err)
	}
	return nil
}

func (store *FundingStore) GetRequest(ctx context.Context, requestID string) (funding.Request, error) {
	return store.takeRequest(store.db.WithContext(ctx), requestID, errorCodeGet)
}

func (store *FundingStore) LockRequest(ctx context.Context, requestID string) (funding.Request, error) {
	return store.takeRequest(store.db.WithContext(ctx).Clauses(clause.Locking{Strength: "UPDATE"}), requestID, errorCodeLock)
}

func (store *FundingStore) FindRequestByIdempotencyKey(ctx context.Context, key ledger.IdempotencyKey) (funding.Request, bool, error) {
	var model FundingRequest
	err := store.db.WithContext(ctx).Where("idempotency_key = ?", key.String()).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return funding.Request{}, false, nil
	}
	if err != nil {
		return funding.Request{}, false, wrapStoreError(errorSubjectFunding, errorCodeLookup, err)
	}
	request, err := mapFundingRequest(model)
	if err != nil {
		return funding.Request{}, false, wrapStoreError(errorSubjectFunding, errorCodeInvalid, err)
	}
	return request, true, nil
}

func (store *FundingStore) ResolveRequest(ctx context.Context, requestID string, resolution funding.Resolution) error {
	updates := map[string]any{
		"status":          resolution.Status.String(),
		"reviewed_by":     resolution.ReviewedBy,
		"reviewed_at":     resolution.ReviewedAt,
		"ledger_entry_id": stringPointer(resolution.LedgerEntryID),
		"updated_at":      resolution.ReviewedAt,
	}
	if resolution.Notes != "" {
		updates["notes"] = resolution.Notes
	}
	result := store.db.WithContext(ctx).
		Model(&FundingRequest{}).
		Where("request_id = ? AND status = ?", requestID, funding.StatusPending.String()).
		Updates(updates)
	if result.Error != nil {
		return wrapStoreError(errorSubjectFunding, errorCodeUpdateStatus, result.Error)
	}
	if result.RowsAffected == 0 {
		return wrapStoreError(errorSubjectFunding, errorCodeUpdateStatus, fmt.Errorf("%w: %s", funding.ErrAlreadyResolved, requestID))
	}
	return nil
}

func (store *FundingStore) ListRequestsByReference(ctx context.Context, referenceID string) ([]funding.Request, error) {
	var models []FundingRequest
	err := store.db.WithContext(ctx).
		Where("reference_id = ?", referenceID).
		Order("created_at ASC, request_id ASC").
		Find(&models).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectFunding, errorCodeList, err)
	}
	requests := make([]funding.Request, 0, len(models))
	for _, model := range models {
		request, err := mapFundingRequest(model)
		if err != nil {
			return nil, wrapStoreError(errorSubjectFunding, errorCodeInvalid, err)
		}
		requests = append(requests, request)
	}
	return requests, nil
}

func (store *FundingStore) takeRequest(query *gorm.DB, requestID string, code string) (funding.Request, error) {
	var model FundingRequest
	err := query.Where("request_id = ?", requestID).Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return funding.Request{}, wrapStoreError(errorSubjectFunding, code, fmt.Errorf("%w: %s", funding.ErrUnknownRequest, requestID))
	}
	if err != nil {
		return funding.Request{}, wrapStoreError(errorSubjectFunding, code, err)
	}
	request, err := mapFundingRequest(model)
	if err != nil {
		return funding.Request{}, wrapStoreError(errorSubjectFunding, errorCodeInvalid, err)
	}
	return request, nil
}

func mapFundingRequest(model FundingRequest) (funding.Request, error) {
	account, err := mapAccount(model.OwnerType, model.OwnerID)
	if err != nil {
		return funding.Request{}, err
	}
	amount, err := ledger.NewAmount(model.AmountMinor)
	if err != nil {
		return funding.Request{}, err
	}
	direction, err := funding.ParseDirection(model.Direction)
	if err != nil {
		return funding.Request{}, err
	}
	status, err := funding.ParseStatus(model.Status)
	if err != nil {
		return funding.Request{}, err
	}
	key, err := ledger.NewIdempotencyKey(model.IdempotencyKey)
	if err != nil {
		return funding.Request{}, err
	}
	return funding.Request{
		ID:              model.RequestID,
		Account:         account,
		Amount:          amount,
		Direction:       direction,
		TransactionType: ledger.TransactionType(model.TransactionType),
		Method:          model.Method,
		ProofReference:  model.ProofReference,
		IdempotencyKey:  key,
		ReferenceID:     model.ReferenceID,
		RequestedBy:     model.RequestedBy,
		Status:          status,
		ReviewedBy:      model.ReviewedBy,
		ReviewedAt:      utcPointer(model.ReviewedAt),
		Notes:           model.Notes,
		LedgerEntryID:   stringValue(model.LedgerEntryID),
		CreatedAt:       model.CreatedAt.UTC(),
	}, nil
}
