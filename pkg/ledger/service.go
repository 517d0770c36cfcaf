package ledger

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
	"github.com/google/uuid"
)

// Service contains the ledger domain logic over a Store.
type Service struct {
	store     Store
	nowFn     func() time.Time
	logger    oplog.Logger
	publisher events.Publisher
}

// NewService wires a Service.
func NewService(store Store, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{store: store, nowFn: now}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Balance returns the running balance cached on the account's tail entry.
func (service *Service) Balance(ctx context.Context, account Account) (Balance, error) {
	tail, found, err := service.store.TailEntry(ctx, account)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return tail.RunningBalance, nil
}

// BalanceWithin reads the balance using a transaction-scoped store.
func (service *Service) BalanceWithin(ctx context.Context, txStore Store, account Account) (Balance, error) {
	tail, found, err := txStore.TailEntry(ctx, account)
	if err != nil {
		return 0, err
	}
	if !found {
		return 0, nil
	}
	return tail.RunningBalance, nil
}

// AppendEntry appends a credit or debit to the account chain in its own transaction.
// A retried idempotency key returns the entry written by the first call.
func (service *Service) AppendEntry(ctx context.Context, request AppendRequest) (Entry, error) {
	var (
		entry    Entry
		replayed bool
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var appendErr error
		entry, replayed, appendErr = service.AppendWithin(ctx, transactionStore, request)
		return appendErr
	})
	if errors.Is(operationError, ErrDuplicateIdempotencyKey) {
		// a concurrent writer committed the same key between our lookup and insert
		existing, found, lookupErr := service.store.FindEntryByIdempotencyKey(ctx, request.Account, request.IdempotencyKey)
		if lookupErr == nil && found {
			entry, replayed, operationError = existing, true, nil
		}
	}
	service.FreezeOnIntegrityFailure(ctx, operationError)

	record := oplog.Record{
		Component:      componentName,
		Operation:      operationAppend,
		Subject:        request.Account.String(),
		Amount:         request.Amount.Int64(),
		IdempotencyKey: request.IdempotencyKey.String(),
		Error:          operationError,
		Fields: map[string]string{
			"entry_type":       request.Type.String(),
			"transaction_type": request.TransactionType.String(),
		},
	}
	if replayed {
		record.Status = oplog.StatusReplayed
	}
	oplog.Emit(ctx, service.logger, record)
	if operationError != nil {
		return Entry{}, operationError
	}
	if !replayed && service.publisher != nil {
		event := WalletUpdatedEvent(entry)
		_ = service.publisher.Publish(ctx, event.Topic, event.Payload)
	}
	return entry, nil
}

// AppendWithin appends inside a caller-owned transaction. The returned flag reports
// whether the entry already existed under the same idempotency key.
// Callers must run FreezeOnIntegrityFailure on the transaction error after it rolls back.
func (service *Service) AppendWithin(ctx context.Context, transactionStore Store, request AppendRequest) (Entry, bool, error) {
	if err := request.Validate(); err != nil {
		return Entry{}, false, err
	}
	state, err := transactionStore.LockAccount(ctx, request.Account)
	if err != nil {
		return Entry{}, false, err
	}
	if state.Frozen() {
		return Entry{}, false, fmt.Errorf("%w: %s", ErrAccountFrozen, request.Account.String())
	}
	existing, found, err := transactionStore.FindEntryByIdempotencyKey(ctx, request.Account, request.IdempotencyKey)
	if err != nil {
		return Entry{}, false, err
	}
	if found {
		if existing.Amount != request.Amount || existing.Type != request.Type {
			return Entry{}, false, fmt.Errorf("%w: %s", ErrIdempotencyMismatch, request.IdempotencyKey.String())
		}
		return existing, true, nil
	}

	prevHash := GenesisHash
	var (
		sequence int64 = 1
		balance  Balance
	)
	tail, hasTail, err := transactionStore.TailEntry(ctx, request.Account)
	if err != nil {
		return Entry{}, false, err
	}
	if hasTail {
		if !tail.Verify() {
			return Entry{}, false, ChainBrokenError{Account: request.Account, Sequence: tail.Sequence, Reason: "tail hash mismatch"}
		}
		prevHash = tail.EntryHash
		sequence = tail.Sequence + 1
		balance = tail.RunningBalance
	}

	runningBalance, err := applyEntry(balance, request.Type, request.Amount)
	if err != nil {
		return Entry{}, false, err
	}
	entry := Entry{
		EntryID:         uuid.NewString(),
		Sequence:        sequence,
		Account:         request.Account,
		Type:            request.Type,
		TransactionType: request.TransactionType,
		Amount:          request.Amount,
		RunningBalance:  runningBalance,
		ReferenceID:     request.ReferenceID,
		IdempotencyKey:  request.IdempotencyKey,
		PrevHash:        prevHash,
		EntryHash:       ComputeEntryHash(request.Account, request.Amount, request.Type, request.IdempotencyKey, prevHash),
		Status:          EntryStatusConfirmed,
		CreatedAt:       service.nowFn().UTC(),
	}
	if err := transactionStore.InsertEntry(ctx, entry); err != nil {
		return Entry{}, false, err
	}
	return entry, false, nil
}

// FreezeOnIntegrityFailure halts writes to the account named by a ChainBrokenError.
// It is a no-op for any other error.
func (service *Service) FreezeOnIntegrityFailure(ctx context.Context, err error) {
	var chainError ChainBrokenError
	if !errors.As(err, &chainError) {
		return
	}
	freezeErr := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		if _, lockErr := transactionStore.LockAccount(ctx, chainError.Account); lockErr != nil {
			return lockErr
		}
		return transactionStore.FreezeAccount(ctx, chainError.Account, chainError.Reason, service.nowFn().UTC())
	})
	oplog.Emit(ctx, service.logger, oplog.Record{
		Component: componentName,
		Operation: operationFreeze,
		Subject:   chainError.Account.String(),
		Error:     freezeErr,
		Fields: map[string]string{
			"reason":   chainError.Reason,
			"sequence": fmt.Sprintf("%d", chainError.Sequence),
		},
	})
}

// WalletUpdatedEvent builds the wallet_updated notification for a committed entry.
func WalletUpdatedEvent(entry Entry) events.Event {
	return events.Event{
		Topic: events.TopicWalletUpdated,
		Payload: events.WalletUpdated{
			OwnerType:       entry.Account.OwnerType().String(),
			OwnerID:         entry.Account.OwnerID(),
			NewBalanceMinor: entry.RunningBalance.Int64(),
			EntryID:         entry.EntryID,
		},
	}
}

func applyEntry(balance Balance, entryType EntryType, amount Amount) (Balance, error) {
	switch entryType {
	case EntryCredit:
		if amount.Int64() > math.MaxInt64-balance.Int64() {
			return 0, fmt.Errorf("%w: credit %d overflows balance %d", ErrInvalidAmount, amount.Int64(), balance.Int64())
		}
		return Balance(balance.Int64() + amount.Int64()), nil
	case EntryDebit:
		if amount.Int64() > balance.Int64() {
			return 0, fmt.Errorf("%w: balance %d, debit %d", ErrInsufficientBalance, balance.Int64(), amount.Int64())
		}
		return Balance(balance.Int64() - amount.Int64()), nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidEntryType, entryType)
	}
}
