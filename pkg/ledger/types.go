package ledger

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// OwnerType identifies which balance stream an account belongs to.
type OwnerType string

const (
	OwnerCustomerWallet OwnerType = "customer_wallet"
	OwnerCustomerCoins  OwnerType = "customer_coins"
	OwnerMerchantWallet OwnerType = "merchant_wallet"
	OwnerRiderWallet    OwnerType = "rider_wallet"
)

// ParseOwnerType validates a raw owner type.
func ParseOwnerType(raw string) (OwnerType, error) {
	switch ownerType := OwnerType(strings.TrimSpace(raw)); ownerType {
	case OwnerCustomerWallet, OwnerCustomerCoins, OwnerMerchantWallet, OwnerRiderWallet:
		return ownerType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidOwnerType, raw)
	}
}

// String returns the owner type value.
func (ownerType OwnerType) String() string {
	return string(ownerType)
}

// Account identifies a balance holder. It carries no balance; balances are derived.
type Account struct {
	ownerType OwnerType
	ownerID   string
}

// NewAccount validates and normalizes an account identity.
func NewAccount(ownerType OwnerType, ownerID string) (Account, error) {
	if _, err := ParseOwnerType(ownerType.String()); err != nil {
		return Account{}, err
	}
	trimmed := strings.TrimSpace(ownerID)
	if trimmed == "" {
		return Account{}, fmt.Errorf("%w: empty value", ErrInvalidOwnerID)
	}
	return Account{ownerType: ownerType, ownerID: trimmed}, nil
}

// OwnerType returns the account stream.
func (account Account) OwnerType() OwnerType {
	return account.ownerType
}

// OwnerID returns the owner identifier.
func (account Account) OwnerID() string {
	return account.ownerID
}

// IsZero reports whether the account was never initialized.
func (account Account) IsZero() bool {
	return account.ownerType == "" && account.ownerID == ""
}

// String renders the account as owner_type:owner_id.
func (account Account) String() string {
	return account.ownerType.String() + idempotencyKeyDelimiter + account.ownerID
}

// Amount is a strictly positive quantity in currency minor units.
type Amount int64

// NewAmount validates that an amount is strictly positive.
func NewAmount(raw int64) (Amount, error) {
	if raw <= 0 {
		return 0, fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	return Amount(raw), nil
}

// Int64 returns the raw minor-unit value.
func (amount Amount) Int64() int64 {
	return int64(amount)
}

// Balance is a non-negative quantity in currency minor units.
type Balance int64

// NewBalance validates that a balance is not negative.
func NewBalance(raw int64) (Balance, error) {
	if raw < 0 {
		return 0, fmt.Errorf("%w: must not be negative", ErrInvalidBalance)
	}
	return Balance(raw), nil
}

// Int64 returns the raw minor-unit value.
func (balance Balance) Int64() int64 {
	return int64(balance)
}

// EntryType enumerates ledger entry directions.
type EntryType string

const (
	EntryCredit EntryType = "credit"
	EntryDebit  EntryType = "debit"
)

// ParseEntryType validates a raw entry type.
func ParseEntryType(raw string) (EntryType, error) {
	switch entryType := EntryType(strings.TrimSpace(raw)); entryType {
	case EntryCredit, EntryDebit:
		return entryType, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryType, raw)
	}
}

// String returns the entry type value.
func (entryType EntryType) String() string {
	return string(entryType)
}

// Opposite returns the offsetting direction.
func (entryType EntryType) Opposite() EntryType {
	if entryType == EntryCredit {
		return EntryDebit
	}
	return EntryCredit
}

// TransactionType is a free-form business category for an entry.
type TransactionType string

const (
	TransactionOrderPayment TransactionType = "order_payment"
	TransactionTopUp        TransactionType = "topup"
	TransactionWithdrawal   TransactionType = "withdrawal"
	TransactionRefund       TransactionType = "refund"
	TransactionReversal     TransactionType = "reversal"
)

// NewTransactionType validates and normalizes a transaction category.
func NewTransactionType(raw string) (TransactionType, error) {
	normalized := strings.ToLower(strings.TrimSpace(raw))
	if normalized == "" {
		return "", fmt.Errorf("%w: empty value", ErrInvalidTransactionType)
	}
	return TransactionType(normalized), nil
}

// String returns the transaction type value.
func (transactionType TransactionType) String() string {
	return string(transactionType)
}

// IdempotencyKey scopes duplicate detection per account.
type IdempotencyKey struct {
	value string
}

// NewIdempotencyKey validates and normalizes an idempotency key.
func NewIdempotencyKey(raw string) (IdempotencyKey, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return IdempotencyKey{}, fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return IdempotencyKey{value: trimmed}, nil
}

// DeriveIdempotencyKey joins parts into a deterministic key.
func DeriveIdempotencyKey(parts ...string) (IdempotencyKey, error) {
	return NewIdempotencyKey(strings.Join(parts, idempotencyKeyDelimiter))
}

// String returns the normalized key.
func (key IdempotencyKey) String() string {
	return key.value
}

// EntryStatus defines whether an entry counts toward the balance.
type EntryStatus string

const (
	EntryStatusConfirmed EntryStatus = "confirmed"
	EntryStatusReversed  EntryStatus = "reversed"
)

// ParseEntryStatus validates a raw entry status.
func ParseEntryStatus(raw string) (EntryStatus, error) {
	switch status := EntryStatus(strings.TrimSpace(raw)); status {
	case EntryStatusConfirmed, EntryStatusReversed:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidEntryStatus, raw)
	}
}

// Entry is a single immutable line in an account's hash chain.
type Entry struct {
	EntryID         string
	Sequence        int64
	Account         Account
	Type            EntryType
	TransactionType TransactionType
	Amount          Amount
	RunningBalance  Balance
	ReferenceID     string
	IdempotencyKey  IdempotencyKey
	PrevHash        string
	EntryHash       string
	Status          EntryStatus
	CreatedAt       time.Time
}

// AppendRequest describes an entry to be appended.
type AppendRequest struct {
	Account         Account
	Type            EntryType
	Amount          Amount
	TransactionType TransactionType
	IdempotencyKey  IdempotencyKey
	ReferenceID     string
}

// Validate checks every field of the request.
func (request AppendRequest) Validate() error {
	if request.Account.IsZero() {
		return fmt.Errorf("%w: account is required", ErrInvalidAccount)
	}
	if _, err := ParseEntryType(request.Type.String()); err != nil {
		return err
	}
	if request.Amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ErrInvalidAmount)
	}
	if request.TransactionType == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidTransactionType)
	}
	if request.IdempotencyKey.String() == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidIdempotencyKey)
	}
	return nil
}

// AccountState is the stored control record for an account.
type AccountState struct {
	Account      Account
	FrozenAt     *time.Time
	FrozenReason string
}

// Frozen reports whether writes to the account are halted.
func (state AccountState) Frozen() bool {
	return state.FrozenAt != nil
}

// ChainReport is the outcome of a full chain walk.
type ChainReport struct {
	Account          Account
	EntriesChecked   int64
	Valid            bool
	BrokenAtSequence int64
	Reason           string
	TailBalance      Balance
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// LockAccount creates the account when missing and holds a write lock on it for the transaction.
	LockAccount(ctx context.Context, account Account) (AccountState, error)
	GetAccountState(ctx context.Context, account Account) (AccountState, bool, error)
	TailEntry(ctx context.Context, account Account) (Entry, bool, error)
	FindEntryByIdempotencyKey(ctx context.Context, account Account, key IdempotencyKey) (Entry, bool, error)
	GetEntry(ctx context.Context, account Account, entryID string) (Entry, error)
	InsertEntry(ctx context.Context, entry Entry) error
	// ListEntries returns entries newest first with sequence below beforeSequence (0 means no bound).
	ListEntries(ctx context.Context, account Account, beforeSequence int64, limit int) ([]Entry, error)
	// ScanEntries returns entries oldest first with sequence above afterSequence.
	ScanEntries(ctx context.Context, account Account, afterSequence int64, limit int) ([]Entry, error)
	FreezeAccount(ctx context.Context, account Account, reason string, at time.Time) error
	ListAccounts(ctx context.Context) ([]Account, error)
}
