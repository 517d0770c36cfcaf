// Package pgstore implements ledger.Store directly on a pgx pool. It reads and writes the
// accounts and ledger_entries tables created by gormstore.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	constraintEntryIdempotency = "uniq_entry_idem"
	pgUniqueViolationCode      = "23505"
	errorOperationStore        = "store"
	errorSubjectAccount        = "account"
	errorSubjectEntry          = "entry"
	errorSubjectTransaction    = "transaction"
	errorCodeBegin             = "begin"
	errorCodeCommit            = "commit"
	errorCodeDuplicate         = "duplicate"
	errorCodeFreeze            = "freeze"
	errorCodeGet               = "get"
	errorCodeInsert            = "insert"
	errorCodeInvalid           = "invalid"
	errorCodeList              = "list"
	errorCodeLock              = "lock"
	errorCodeLookup            = "lookup"

	entryColumns = `
		entry_id::text, owner_type, owner_id, sequence, type, transaction_type,
		amount_minor, running_balance_minor, coalesce(reference_id,''), idempotency_key,
		prev_hash, entry_hash, status, created_at
	`

	sqlEnsureAccount = `
		insert into accounts(owner_type, owner_id, frozen_reason, created_at) values($1, $2, '', now())
		on conflict (owner_type, owner_id) do nothing
	`

	sqlLockAccount = `
		select owner_type, owner_id, frozen_at, frozen_reason from accounts
		where owner_type = $1 and owner_id = $2
		for update
	`

	sqlSelectAccount = `
		select owner_type, owner_id, frozen_at, frozen_reason from accounts
		where owner_type = $1 and owner_id = $2
	`

	sqlSelectTail = `select ` + entryColumns + ` from ledger_entries
		where owner_type = $1 and owner_id = $2
		order by sequence desc
		limit 1
	`

	sqlSelectByIdempotencyKey = `select ` + entryColumns + ` from ledger_entries
		where owner_type = $1 and owner_id = $2 and idempotency_key = $3
	`

	sqlSelectEntry = `select ` + entryColumns + ` from ledger_entries
		where owner_type = $1 and owner_id = $2 and entry_id::text = $3
	`

	sqlInsertEntry = `
		insert into ledger_entries(
			entry_id, owner_type, owner_id, sequence, type, transaction_type, amount_minor,
			running_balance_minor, reference_id, idempotency_key, prev_hash, entry_hash, status, created_at
		)
		values($1, $2, $3, $4, $5, $6, $7, $8, nullif($9,''), $10, $11, $12, $13, $14)
	`

	sqlListEntriesBefore = `select ` + entryColumns + ` from ledger_entries
		where owner_type = $1 and owner_id = $2 and ($3 = 0 or sequence < $3)
		order by sequence desc
		limit $4
	`

	sqlScanEntriesAfter = `select ` + entryColumns + ` from ledger_entries
		where owner_type = $1 and owner_id = $2 and sequence > $3
		order by sequence asc
		limit $4
	`

	sqlFreezeAccount = `
		update accounts set frozen_at = $3, frozen_reason = $4
		where owner_type = $1 and owner_id = $2 and frozen_at is null
	`

	sqlListAccounts = `select owner_type, owner_id from accounts order by owner_type, owner_id`
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Store implements ledger.Store using a pgx connection pool. Inside WithTx the same type is
// bound to the open transaction.
type Store struct {
	pool *pgxpool.Pool
	db   querier
	inTx bool
}

// New returns a Store backed by a pgx pool.
func New(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool, db: pool}
}

// Connect opens a pool for databaseURL and checks it answers.
func Connect(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("pgxpool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgxpool ping: %w", err)
	}
	return pool, nil
}

func (store *Store) WithTx(ctx context.Context, fn func(ctx context.Context, txStore ledger.Store) error) error {
	if store.inTx {
		return fn(ctx, store)
	}
	tx, err := store.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeBegin, err)
	}
	if err := fn(ctx, &Store{pool: store.pool, db: tx, inTx: true}); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return wrapStoreError(errorSubjectTransaction, errorCodeCommit, err)
	}
	return nil
}

func (store *Store) LockAccount(ctx context.Context, account ledger.Account) (ledger.AccountState, error) {
	if _, err := store.db.Exec(ctx, sqlEnsureAccount, account.OwnerType().String(), account.OwnerID()); err != nil {
		return ledger.AccountState{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	state, err := scanAccountState(store.db.QueryRow(ctx, sqlLockAccount, account.OwnerType().String(), account.OwnerID()))
	if err != nil {
		return ledger.AccountState{}, wrapStoreError(errorSubjectAccount, errorCodeLock, err)
	}
	return state, nil
}

func (store *Store) GetAccountState(ctx context.Context, account ledger.Account) (ledger.AccountState, bool, error) {
	state, err := scanAccountState(store.db.QueryRow(ctx, sqlSelectAccount, account.OwnerType().String(), account.OwnerID()))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.AccountState{}, false, nil
	}
	if err != nil {
		return ledger.AccountState{}, false, wrapStoreError(errorSubjectAccount, errorCodeGet, err)
	}
	return state, true, nil
}

func (store *Store) TailEntry(ctx context.Context, account ledger.Account) (ledger.Entry, bool, error) {
	return store.optionalEntry(ctx, sqlSelectTail, account.OwnerType().String(), account.OwnerID())
}

func (store *Store) FindEntryByIdempotencyKey(ctx context.Context, account ledger.Account, key ledger.IdempotencyKey) (ledger.Entry, bool, error) {
	return store.optionalEntry(ctx, sqlSelectByIdempotencyKey, account.OwnerType().String(), account.OwnerID(), key.String())
}

func (store *Store) GetEntry(ctx context.Context, account ledger.Account, entryID string) (ledger.Entry, error) {
	entry, found, err := store.optionalEntry(ctx, sqlSelectEntry, account.OwnerType().String(), account.OwnerID(), entryID)
	if err != nil {
		return ledger.Entry{}, err
	}
	if !found {
		return ledger.Entry{}, wrapStoreError(errorSubjectEntry, errorCodeGet, fmt.Errorf("%w: %s", ledger.ErrUnknownEntry, entryID))
	}
	return entry, nil
}

func (store *Store) InsertEntry(ctx context.Context, entry ledger.Entry) error {
	_, err := store.db.Exec(ctx, sqlInsertEntry,
		entry.EntryID,
		entry.Account.OwnerType().String(),
		entry.Account.OwnerID(),
		entry.Sequence,
		entry.Type.String(),
		entry.TransactionType.String(),
		entry.Amount.Int64(),
		entry.RunningBalance.Int64(),
		entry.ReferenceID,
		entry.IdempotencyKey.String(),
		entry.PrevHash,
		entry.EntryHash,
		string(entry.Status),
		entry.CreatedAt,
	)
	if isIdempotencyConflict(err) {
		return wrapStoreError(errorSubjectEntry, errorCodeDuplicate, ledger.ErrDuplicateIdempotencyKey)
	}
	if err != nil {
		return wrapStoreError(errorSubjectEntry, errorCodeInsert, err)
	}
	return nil
}

func (store *Store) ListEntries(ctx context.Context, account ledger.Account, beforeSequence int64, limit int) ([]ledger.Entry, error) {
	return store.listEntries(ctx, sqlListEntriesBefore, account, beforeSequence, limit)
}

func (store *Store) ScanEntries(ctx context.Context, account ledger.Account, afterSequence int64, limit int) ([]ledger.Entry, error) {
	return store.listEntries(ctx, sqlScanEntriesAfter, account, afterSequence, limit)
}

func (store *Store) FreezeAccount(ctx context.Context, account ledger.Account, reason string, at time.Time) error {
	if _, err := store.db.Exec(ctx, sqlFreezeAccount, account.OwnerType().String(), account.OwnerID(), at, reason); err != nil {
		return wrapStoreError(errorSubjectAccount, errorCodeFreeze, err)
	}
	return nil
}

func (store *Store) ListAccounts(ctx context.Context) ([]ledger.Account, error) {
	rows, err := store.db.Query(ctx, sqlListAccounts)
	if err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	defer rows.Close()
	var accounts []ledger.Account
	for rows.Next() {
		var ownerType, ownerID string
		if err := rows.Scan(&ownerType, &ownerID); err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
		}
		account, err := parseAccount(ownerType, ownerID)
		if err != nil {
			return nil, wrapStoreError(errorSubjectAccount, errorCodeInvalid, err)
		}
		accounts = append(accounts, account)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectAccount, errorCodeList, err)
	}
	return accounts, nil
}

func (store *Store) optionalEntry(ctx context.Context, query string, args ...any) (ledger.Entry, bool, error) {
	entry, err := scanEntry(store.db.QueryRow(ctx, query, args...))
	if errors.Is(err, pgx.ErrNoRows) {
		return ledger.Entry{}, false, nil
	}
	if err != nil {
		return ledger.Entry{}, false, wrapStoreError(errorSubjectEntry, errorCodeLookup, err)
	}
	return entry, true, nil
}

func (store *Store) listEntries(ctx context.Context, query string, account ledger.Account, boundary int64, limit int) ([]ledger.Entry, error) {
	rows, err := store.db.Query(ctx, query, account.OwnerType().String(), account.OwnerID(), boundary, limit)
	if err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	defer rows.Close()
	entries := make([]ledger.Entry, 0, limit)
	for rows.Next() {
		entry, err := scanEntry(rows)
		if err != nil {
			return nil, wrapStoreError(errorSubjectEntry, errorCodeInvalid, err)
		}
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, wrapStoreError(errorSubjectEntry, errorCodeList, err)
	}
	return entries, nil
}

func scanAccountState(row pgx.Row) (ledger.AccountState, error) {
	var (
		ownerType string
		ownerID   string
		frozenAt  *time.Time
		reason    string
	)
	if err := row.Scan(&ownerType, &ownerID, &frozenAt, &reason); err != nil {
		return ledger.AccountState{}, err
	}
	account, err := parseAccount(ownerType, ownerID)
	if err != nil {
		return ledger.AccountState{}, err
	}
	return ledger.AccountState{Account: account, FrozenAt: frozenAt, FrozenReason: reason}, nil
}

func scanEntry(row pgx.Row) (ledger.Entry, error) {
	var (
		entryID         string
		ownerType       string
		ownerID         string
		sequence        int64
		entryType       string
		transactionType string
		amount          int64
		runningBalance  int64
		referenceID     string
		idempotencyKey  string
		prevHash        string
		entryHash       string
		status          string
		createdAt       time.Time
	)
	err := row.Scan(&entryID, &ownerType, &ownerID, &sequence, &entryType, &transactionType,
		&amount, &runningBalance, &referenceID, &idempotencyKey, &prevHash, &entryHash, &status, &createdAt)
	if err != nil {
		return ledger.Entry{}, err
	}
	account, err := parseAccount(ownerType, ownerID)
	if err != nil {
		return ledger.Entry{}, err
	}
	parsedType, err := ledger.ParseEntryType(entryType)
	if err != nil {
		return ledger.Entry{}, err
	}
	parsedStatus, err := ledger.ParseEntryStatus(status)
	if err != nil {
		return ledger.Entry{}, err
	}
	key, err := ledger.NewIdempotencyKey(idempotencyKey)
	if err != nil {
		return ledger.Entry{}, err
	}
	return ledger.Entry{
		EntryID:         entryID,
		Sequence:        sequence,
		Account:         account,
		Type:            parsedType,
		TransactionType: ledger.TransactionType(transactionType),
		Amount:          ledger.Amount(amount),
		RunningBalance:  ledger.Balance(runningBalance),
		ReferenceID:     referenceID,
		IdempotencyKey:  key,
		PrevHash:        prevHash,
		EntryHash:       entryHash,
		Status:          parsedStatus,
		CreatedAt:       createdAt.UTC(),
	}, nil
}

func parseAccount(rawOwnerType string, ownerID string) (ledger.Account, error) {
	ownerType, err := ledger.ParseOwnerType(rawOwnerType)
	if err != nil {
		return ledger.Account{}, err
	}
	return ledger.NewAccount(ownerType, ownerID)
}

func isIdempotencyConflict(err error) bool {
	if err == nil {
		return false
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraintEntryIdempotency
	}
	return false
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}
