package funding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
)

// Direction says whether a request moves money into or out of the account.
type Direction string

const (
	DirectionCreditIn Direction = "credit_in"
	DirectionDebitOut Direction = "debit_out"
)

// ParseDirection validates a raw direction.
func ParseDirection(raw string) (Direction, error) {
	switch direction := Direction(strings.TrimSpace(raw)); direction {
	case DirectionCreditIn, DirectionDebitOut:
		return direction, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidDirection, raw)
	}
}

// String returns the direction value.
func (direction Direction) String() string {
	return string(direction)
}

// EntryType maps the direction to the ledger entry it produces.
func (direction Direction) EntryType() ledger.EntryType {
	if direction == DirectionDebitOut {
		return ledger.EntryDebit
	}
	return ledger.EntryCredit
}

// Status is the resolution state of a request.
type Status string

const (
	StatusPending  Status = "pending"
	StatusApproved Status = "approved"
	StatusRejected Status = "rejected"
)

// ParseStatus validates a raw status.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(strings.TrimSpace(raw)); status {
	case StatusPending, StatusApproved, StatusRejected:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the status value.
func (status Status) String() string {
	return string(status)
}

// Request is a top-up, withdrawal or refund awaiting review.
type Request struct {
	ID              string
	Account         ledger.Account
	Amount          ledger.Amount
	Direction       Direction
	TransactionType ledger.TransactionType
	Method          string
	ProofReference  string
	IdempotencyKey  ledger.IdempotencyKey
	ReferenceID     string
	RequestedBy     string
	Status          Status
	ReviewedBy      string
	ReviewedAt      *time.Time
	Notes           string
	LedgerEntryID   string
	CreatedAt       time.Time
}

// SubmitRequest carries the fields a requester supplies.
type SubmitRequest struct {
	Account         ledger.Account
	Amount          ledger.Amount
	Direction       Direction
	TransactionType ledger.TransactionType
	Method          string
	ProofReference  string
	IdempotencyKey  ledger.IdempotencyKey
	ReferenceID     string
	RequestedBy     string
	Notes           string
}

// Validate checks the submission and fills the default transaction type.
func (submission *SubmitRequest) Validate() error {
	if submission.Account.IsZero() {
		return fmt.Errorf("%w: account is required", ledger.ErrInvalidAccount)
	}
	if submission.Amount <= 0 {
		return fmt.Errorf("%w: must be greater than zero", ledger.ErrInvalidAmount)
	}
	if _, err := ParseDirection(submission.Direction.String()); err != nil {
		return err
	}
	submission.Method = strings.TrimSpace(submission.Method)
	if submission.Method == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidMethod)
	}
	if submission.IdempotencyKey.String() == "" {
		return fmt.Errorf("%w: empty value", ledger.ErrInvalidIdempotencyKey)
	}
	if submission.TransactionType == "" {
		submission.TransactionType = ledger.TransactionTopUp
		if submission.Direction == DirectionDebitOut {
			submission.TransactionType = ledger.TransactionWithdrawal
		}
	}
	return nil
}

func (submission SubmitRequest) matches(existing Request) bool {
	return existing.Account == submission.Account &&
		existing.Amount == submission.Amount &&
		existing.Direction == submission.Direction
}

// Resolution is the terminal update applied to a pending request. Empty Notes keep the
// notes recorded at submission.
type Resolution struct {
	Status        Status
	ReviewedBy    string
	ReviewedAt    time.Time
	Notes         string
	LedgerEntryID string
}

// Store is the persistence contract used by Service.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	// Ledger returns the ledger store bound to the same transaction.
	Ledger() ledger.Store
	InsertRequest(ctx context.Context, request Request) error
	GetRequest(ctx context.Context, requestID string) (Request, error)
	// LockRequest reads the request and holds a write lock on it for the transaction.
	LockRequest(ctx context.Context, requestID string) (Request, error)
	FindRequestByIdempotencyKey(ctx context.Context, key ledger.IdempotencyKey) (Request, bool, error)
	// ResolveRequest applies resolution only while the request is pending and returns
	// ErrAlreadyResolved otherwise.
	ResolveRequest(ctx context.Context, requestID string, resolution Resolution) error
	ListRequestsByReference(ctx context.Context, referenceID string) ([]Request, error)
}
