package funding

import (
	"context"
	"crypto/sha256"
	"crypto/subtle"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
	"github.com/google/uuid"
)

// Service runs the submit / approve / reject workflow.
type Service struct {
	store        Store
	ledger       *ledger.Service
	secretDigest [sha256.Size]byte
	nowFn        func() time.Time
	logger       oplog.Logger
	publisher    events.Publisher
}

// NewService wires a Service. approvalSecret gates every human approval and rejection.
func NewService(store Store, ledgerService *ledger.Service, approvalSecret string, now func() time.Time, options ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	}
	if ledgerService == nil {
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	}
	if now == nil {
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	if approvalSecret == "" {
		return nil, fmt.Errorf("%w: approval secret is empty", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:        store,
		ledger:       ledgerService,
		secretDigest: sha256.Sum256([]byte(approvalSecret)),
		nowFn:        now,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Submit creates a pending request. A repeated idempotency key returns the original request
// with replayed set.
func (service *Service) Submit(ctx context.Context, submission SubmitRequest) (Request, bool, error) {
	var (
		request  Request
		replayed bool
	)
	operationError := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		var submitErr error
		request, replayed, submitErr = service.SubmitWithin(ctx, transactionStore, submission)
		return submitErr
	})
	if errors.Is(operationError, ledger.ErrDuplicateIdempotencyKey) {
		existing, found, lookupErr := service.store.FindRequestByIdempotencyKey(ctx, submission.IdempotencyKey)
		if lookupErr == nil && found && submission.matches(existing) {
			request, replayed, operationError = existing, true, nil
		}
	}
	record := oplog.Record{
		Component:      componentName,
		Operation:      operationSubmit,
		Subject:        request.ID,
		Amount:         submission.Amount.Int64(),
		IdempotencyKey: submission.IdempotencyKey.String(),
		Error:          operationError,
		Fields: map[string]string{
			"account":   submission.Account.String(),
			"direction": submission.Direction.String(),
		},
	}
	if replayed {
		record.Status = oplog.StatusReplayed
	}
	oplog.Emit(ctx, service.logger, record)
	if operationError != nil {
		return Request{}, false, operationError
	}
	return request, replayed, nil
}

// SubmitWithin creates a pending request inside a caller-owned transaction.
func (service *Service) SubmitWithin(ctx context.Context, transactionStore Store, submission SubmitRequest) (Request, bool, error) {
	if err := submission.Validate(); err != nil {
		return Request{}, false, err
	}
	existing, found, err := transactionStore.FindRequestByIdempotencyKey(ctx, submission.IdempotencyKey)
	if err != nil {
		return Request{}, false, err
	}
	if found {
		if !submission.matches(existing) {
			return Request{}, false, fmt.Errorf("%w: %s", ledger.ErrIdempotencyMismatch, submission.IdempotencyKey.String())
		}
		return existing, true, nil
	}
	if submission.Direction == DirectionDebitOut {
		balance, balanceErr := service.ledger.BalanceWithin(ctx, transactionStore.Ledger(), submission.Account)
		if balanceErr != nil {
			return Request{}, false, balanceErr
		}
		if submission.Amount.Int64() > balance.Int64() {
			return Request{}, false, fmt.Errorf("%w: balance %d, withdrawal %d", ledger.ErrInsufficientBalance, balance.Int64(), submission.Amount.Int64())
		}
	}
	request := Request{
		ID:              uuid.NewString(),
		Account:         submission.Account,
		Amount:          submission.Amount,
		Direction:       submission.Direction,
		TransactionType: submission.TransactionType,
		Method:          submission.Method,
		ProofReference:  strings.TrimSpace(submission.ProofReference),
		IdempotencyKey:  submission.IdempotencyKey,
		ReferenceID:     strings.TrimSpace(submission.ReferenceID),
		RequestedBy:     strings.TrimSpace(submission.RequestedBy),
		Status:          StatusPending,
		Notes:           submission.Notes,
		CreatedAt:       service.nowFn().UTC(),
	}
	if err := transactionStore.InsertRequest(ctx, request); err != nil {
		return Request{}, false, err
	}
	return request, false, nil
}

// Approve resolves a pending request and appends its ledger entry in one transaction.
func (service *Service) Approve(ctx context.Context, requestID string, reviewerID string, sharedSecret string, notes string) (Request, ledger.Entry, error) {
	var (
		request Request
		entry   ledger.Entry
		batch   events.Batch
	)
	operationError := service.authorize(reviewerID, sharedSecret)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			batch.Reset()
			var approveErr error
			request, entry, approveErr = service.approveWithin(ctx, transactionStore, requestID, strings.TrimSpace(reviewerID), notes, &batch)
			return approveErr
		})
		service.ledger.FreezeOnIntegrityFailure(ctx, operationError)
	}
	service.logResolution(ctx, operationApprove, requestID, reviewerID, request.Amount.Int64(), operationError)
	if operationError != nil {
		return Request{}, ledger.Entry{}, operationError
	}
	batch.Flush(ctx, service.publisher, nil)
	return request, entry, nil
}

// ApproveAsSystemWithin approves on behalf of the trusted system reviewer inside a
// caller-owned transaction. It is reachable only from code paths the system initiates.
func (service *Service) ApproveAsSystemWithin(ctx context.Context, transactionStore Store, requestID string, notes string, batch *events.Batch) (Request, ledger.Entry, error) {
	request, entry, err := service.approveWithin(ctx, transactionStore, requestID, SystemReviewerID, notes, batch)
	service.logResolution(ctx, operationApprove, requestID, SystemReviewerID, request.Amount.Int64(), err)
	return request, entry, err
}

// Reject resolves a pending request without any ledger effect.
func (service *Service) Reject(ctx context.Context, requestID string, reviewerID string, sharedSecret string, reason string) (Request, error) {
	var request Request
	operationError := service.authorize(reviewerID, sharedSecret)
	if operationError == nil {
		operationError = service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
			locked, lockErr := transactionStore.LockRequest(ctx, requestID)
			if lockErr != nil {
				return lockErr
			}
			if locked.Status != StatusPending {
				return fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, requestID, locked.Status)
			}
			resolution := Resolution{
				Status:     StatusRejected,
				ReviewedBy: strings.TrimSpace(reviewerID),
				ReviewedAt: service.nowFn().UTC(),
				Notes:      reason,
			}
			if resolveErr := transactionStore.ResolveRequest(ctx, requestID, resolution); resolveErr != nil {
				return resolveErr
			}
			request = applyResolution(locked, resolution)
			return nil
		})
	}
	service.logResolution(ctx, operationReject, requestID, reviewerID, request.Amount.Int64(), operationError)
	if operationError != nil {
		return Request{}, operationError
	}
	return request, nil
}

// Get returns a request by id.
func (service *Service) Get(ctx context.Context, requestID string) (Request, error) {
	if strings.TrimSpace(requestID) == "" {
		return Request{}, fmt.Errorf("%w: empty value", ErrInvalidRequestID)
	}
	return service.store.GetRequest(ctx, requestID)
}

// ListByReference returns every request linked to referenceID, oldest first.
func (service *Service) ListByReference(ctx context.Context, referenceID string) ([]Request, error) {
	return service.store.ListRequestsByReference(ctx, referenceID)
}

func (service *Service) approveWithin(ctx context.Context, transactionStore Store, requestID string, reviewerID string, notes string, batch *events.Batch) (Request, ledger.Entry, error) {
	locked, err := transactionStore.LockRequest(ctx, requestID)
	if err != nil {
		return Request{}, ledger.Entry{}, err
	}
	if locked.Status != StatusPending {
		return Request{}, ledger.Entry{}, fmt.Errorf("%w: %s is %s", ErrAlreadyResolved, requestID, locked.Status)
	}
	key, err := ledger.DeriveIdempotencyKey(ledgerKeyPrefix, locked.ID)
	if err != nil {
		return Request{}, ledger.Entry{}, err
	}
	entry, replayed, err := service.ledger.AppendWithin(ctx, transactionStore.Ledger(), ledger.AppendRequest{
		Account:         locked.Account,
		Type:            locked.Direction.EntryType(),
		Amount:          locked.Amount,
		TransactionType: locked.TransactionType,
		IdempotencyKey:  key,
		ReferenceID:     locked.ID,
	})
	if err != nil {
		return Request{}, ledger.Entry{}, err
	}
	resolution := Resolution{
		Status:        StatusApproved,
		ReviewedBy:    reviewerID,
		ReviewedAt:    service.nowFn().UTC(),
		Notes:         notes,
		LedgerEntryID: entry.EntryID,
	}
	if err := transactionStore.ResolveRequest(ctx, requestID, resolution); err != nil {
		return Request{}, ledger.Entry{}, err
	}
	if !replayed && batch != nil {
		event := ledger.WalletUpdatedEvent(entry)
		batch.Add(event.Topic, event.Payload)
	}
	return applyResolution(locked, resolution), entry, nil
}

// authorize compares digests so the comparison time does not depend on where the inputs differ.
func (service *Service) authorize(reviewerID string, sharedSecret string) error {
	if strings.TrimSpace(reviewerID) == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidReviewer)
	}
	presented := sha256.Sum256([]byte(sharedSecret))
	if subtle.ConstantTimeCompare(presented[:], service.secretDigest[:]) != 1 {
		return ErrInvalidAuthorization
	}
	return nil
}

func (service *Service) logResolution(ctx context.Context, operation string, requestID string, reviewerID string, amount int64, err error) {
	oplog.Emit(ctx, service.logger, oplog.Record{
		Component: componentName,
		Operation: operation,
		Subject:   requestID,
		Amount:    amount,
		Error:     err,
		Fields:    map[string]string{"reviewer": reviewerID},
	})
}

func applyResolution(request Request, resolution Resolution) Request {
	reviewedAt := resolution.ReviewedAt
	request.Status = resolution.Status
	request.ReviewedBy = resolution.ReviewedBy
	request.ReviewedAt = &reviewedAt
	if resolution.Notes != "" {
		request.Notes = resolution.Notes
	}
	request.LedgerEntryID = resolution.LedgerEntryID
	return request
}
