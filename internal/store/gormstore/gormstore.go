// Package gormstore persists the ledger, funding, dispatch and order stores with GORM on
// Postgres or SQLite.
package gormstore

import (
	"context"
	"errors"
	"strings"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

const (
	constraintEntryIdempotency   = "uniq_entry_idem"
	constraintFundingIdempotency = "uniq_funding_idem"
	constraintOrderIdempotency   = "uniq_order_idem"
	pgUniqueViolationCode        = "23505"
	sqliteConstraintCode         = 19
	errorOperationStore          = "store"
	errorSubjectAccount          = "account"
	errorSubjectEntry            = "entry"
	errorSubjectFunding          = "funding_request"
	errorSubjectOrder            = "order"
	errorSubjectDispatch         = "dispatch"
	errorSubjectPresence         = "presence"
	errorSubjectNotification     = "notification"
	errorCodeDuplicate           = "duplicate"
	errorCodeFreeze              = "freeze"
	errorCodeGet                 = "get"
	errorCodeInsert              = "insert"
	errorCodeInvalid             = "invalid"
	errorCodeList                = "list"
	errorCodeLock                = "lock"
	errorCodeLookup              = "lookup"
	errorCodeUpdate              = "update"
	errorCodeUpdateStatus        = "update_status"
	errorCodeUpsert              = "upsert"
	errorCodeClaim               = "claim"
	errorCodeMigrate             = "migrate"
	errorCodePing                = "ping"
)

// Store is the root handle; it hands out the per-domain stores sharing one *gorm.DB.
type Store struct {
	db *gorm.DB
}

// New returns a Store backed by gorm.DB.
func New(db *gorm.DB) *Store {
	return &Store{db: db}
}

// Ledger returns the ledger.Store implementation.
func (store *Store) Ledger() *LedgerStore {
	return &LedgerStore{db: store.db}
}

// Funding returns the funding.Store implementation.
func (store *Store) Funding() *FundingStore {
	return &FundingStore{db: store.db}
}

// Dispatch returns the dispatch.Store implementation.
func (store *Store) Dispatch() *DispatchStore {
	return &DispatchStore{db: store.db}
}

// Orders returns the orders.Store implementation.
func (store *Store) Orders() *OrderStore {
	return &OrderStore{db: store.db}
}

// AutoMigrate creates or updates every table.
func (store *Store) AutoMigrate(ctx context.Context) error {
	if err := store.db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return wrapStoreError("schema", errorCodeMigrate, err)
	}
	return nil
}

// Ping reports whether the database answers.
func (store *Store) Ping(ctx context.Context) error {
	sqlDB, err := store.db.DB()
	if err != nil {
		return wrapStoreError("database", errorCodePing, err)
	}
	if err := sqlDB.PingContext(ctx); err != nil {
		return wrapStoreError("database", errorCodePing, err)
	}
	return nil
}

func wrapStoreError(subject string, code string, err error) error {
	return ledger.WrapError(errorOperationStore, subject, code, err)
}

// isUniqueConflict reports a unique violation on constraint. SQLite does not name the
// constraint, so its message is matched against the distinguishing column instead.
func isUniqueConflict(err error, constraint string, sqliteColumn string) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolationCode && pgErr.ConstraintName == constraint
	}
	var sqliteErr *gosqlite.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.Code()&0xFF == sqliteConstraintCode && strings.Contains(sqliteErr.Error(), sqliteColumn)
	}
	return false
}

func stringPointer(value string) *string {
	if value == "" {
		return nil
	}
	return &value
}

func stringValue(value *string) string {
	if value == nil {
		return ""
	}
	return *value
}
