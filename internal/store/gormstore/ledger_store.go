package gormstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const sqliteIdempotencyColumn = "idempotency_key"

// LedgerStore implements ledger.Store using GORM.
type LedgerStore struct {
	db *gorm.DB
}

// WithTx executes fn within a transaction.
func (store *LedgerStore) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	return store.db.WithContext(ctx).Transaction(func(transaction *gorm.DB) error {
		return fn(ctx, &LedgerStore{db: transaction})
	})
}

// LockAccount creates the account row when missing and locks it for the rest of the transaction.
func (store *LedgerStore) LockAccount(ctx context.Context, account ledger.Account) (ledger.AccountState, error) {
	seed := Account{OwnerType: account.OwnerType().String(), OwnerID: account.OwnerID(), CreatedAt: time.Now().UTC()}
	err := store.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&seed).Error
	if err != nil {
		return ledger.AccountState{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	var model Account
	err = store.db.WithContext(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("owner_type = ? AND owner_id = ?", seed.OwnerType, seed.OwnerID).
		Take(&model).Error
	if err != nil {
		return ledger.AccountState{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return mapAccountState(model)
}

func (store *LedgerStore) GetAccountState(ctx context.Context, account ledger.Account) (ledger.AccountState, bool, error) {
	var model Account
	err := store.db.WithContext(ctx).
		Where("owner_type = ? AND owner_id = ?", account.OwnerType().String(), account.OwnerID()).
		Take(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.AccountState{}, false, nil
	}
	if err != nil {
		return ledger.AccountState{}, false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	state, err := mapAccountState(model)
	if err != nil {
		return ledger.AccountState{}, false, err
	}
	return state, true, nil
}

func (store *LedgerStore) TailEntry(ctx context.Context, account ledger.Account) (ledger.Entry, bool, error) {
	var row LedgerEntry
	err := store.accountEntries(ctx, account).Order("sequence DESC").Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, true, nil
}

func (store *LedgerStore) FindEntryByIdempotencyKey(ctx context.Context, account ledger.Account, key ledger.IdempotencyKey) (ledger.Entry, bool, error) {
	var row LedgerEntry
	err := store.accountEntries(ctx, account).Where("idempotency_key = ?", key.String()).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, true, nil
}

func (store *LedgerStore) GetEntry(ctx context.Context, account ledger.Account, entryID string) (ledger.Entry, error) {
	var row LedgerEntry
	err := store.accountEntries(ctx, account).Where("entry_id = ?", entryID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrUnknownEntry, entryID))
	}
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, err)
	}
	entry, err := mapLedgerEntry(row)
	if err != nil {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
	}
	return entry, nil
}

func (store *LedgerStore) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	row := LedgerEntry{
		EntryID:             entry.EntryID,
		OwnerType:           entry.Account.OwnerType().String(),
		OwnerID:             entry.Account.OwnerID(),
		Sequence:            entry.Sequence,
		Type:                entry.Type.String(),
		TransactionType:     entry.TransactionType.String(),
		AmountMinor:         entry.Amount.Int64(),
		RunningBalanceMinor: entry.RunningBalance.Int64(),
		ReferenceID:         stringPointer(entry.ReferenceID),
		IdempotencyKey:      entry.IdempotencyKey.String(),
		PrevHash:            entry.PrevHash,
		EntryHash:           entry.EntryHash,
		Status:              string(entry.Status),
		CreatedAt:           entry.CreatedAt,
	}
	if row.CreatedAt.IsZero() {
		row.CreatedAt = time.Now().UTC()
	}
	err := store.db.WithContext(ctx).Create(&row).Error
	if isUniqueConflict(err, constraintEntryIdempotency, sqliteIdempotencyColumn) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *LedgerStore) ListEntries(ctx context.Context, account ledger.Account, beforeSequence int64, limit int) ([]ledger.Entry, error) {
	query := store.accountEntries(ctx, account)
	if beforeSequence > 0 {
		query = query.Where("sequence < ?", beforeSequence)
	}
	var rows []LedgerEntry
	if err := query.Order("sequence DESC").Limit(limit).Find(&rows).Error; err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *LedgerStore) ScanEntries(ctx context.Context, account ledger.Account, afterSequence int64, limit int) ([]ledger.Entry, error) {
	var rows []LedgerEntry
	err := store.accountEntries(ctx, account).
		Where("sequence > ?", afterSequence).
		Order("sequence ASC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return mapLedgerEntries(rows)
}

func (store *LedgerStore) FreezeAccount(ctx context.Context, account ledger.Account, reason string, at time.Time) error {
	result := store.db.WithContext(ctx).
		Model(&Account{}).
		Where("owner_type = ? AND owner_id = ? AND frozen_at IS NULL", account.OwnerType().String(), account.OwnerID()).
		Updates(map[string]any{"frozen_at": at, "frozen_reason": reason})
	if result.Error != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeFreeze, result.Error)
	}
	return nil
}

func (store *LedgerStore) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	var models []Account
	if err := store.db.WithContext(ctx).Order("owner_type ASC, owner_id ASC").Find(&models).Error; err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	accounts := make([]ledger.Account, 0, len(models))
	for _, model := range models {
		account, err := mapAccount(model.OwnerType, model.OwnerID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	return accounts, nil
}

func (store *LedgerStore) accountEntries(ctx context.Context, account ledger.Account) *gorm.DB {
	return store.db.WithContext(ctx).
		Model(&LedgerEntry{}).
		Where("owner_type = ? AND owner_id = ?", account.OwnerType().String(), account.OwnerID())
}

func mapAccount(rawOwnerType string, ownerID string) (ledger.Account, error) {
	ownerType, err := ledger.ParseOwnerType(rawOwnerType)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.NewAccount(ownerType, ownerID)
}

func mapAccountState(model Account) (ledger.AccountState, error) {
	account, err := mapAccount(model.OwnerType, model.OwnerID)
	if err != nil {
		return ledger.AccountState{}, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
	}
	return ledger.AccountState{Account: account, FrozenAt: model.FrozenAt, FrozenReason: model.FrozenReason}, nil
}

func mapLedgerEntries(rows []LedgerEntry) ([]ledger.Entry, error) {
	entries := make([]ledger.Entry, 0, len(rows))
	for _, row := range rows {
		entry, err := mapLedgerEntry(row)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	return entries, nil
}

// mapLedgerEntry keeps stored values as-is so a tampered row still reaches hash verification.
func mapLedgerEntry(row LedgerEntry) (ledger.Entry, error) {
	account, err := mapAccount(row.OwnerType, row.OwnerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	entryType, err := ledger.ParseEntryType(row.Type)
	if err != nil {
		return ledger.Entry{}, err
	}
	status, err := ledger.ParseEntryStatus(row.Status)
	if err != nil {
		return ledger.Entry{}, err
	}
	key, err := ledger.NewIdempotencyKey(row.IdempotencyKey)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:         row.EntryID,
		Sequence:        row.Sequence,
		Account:         account,
		Type:            entryType,
		TransactionType: ledger.TransactionType(row.TransactionType),
		Amount:          ledger.Amount(row.AmountMinor),
		RunningBalance:  ledger.Balance(row.RunningBalanceMinor),
		ReferenceID:     stringValue(row.ReferenceID),
		IdempotencyKey:  key,
		PrevHash:        row.PrevHash,
		EntryHash:       row.EntryHash,
		Status:          status,
		CreatedAt:       row.CreatedAt.UTC(),
	}, nil
}
