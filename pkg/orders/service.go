package orders

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
	"github.com/google/uuid"
)

// Service drives orders through their lifecycle and applies the side effects of each step.
type Service struct {
	store          Store
	ledger         *ledger.Service
	funding        *funding.Service
	dispatch       *dispatch.Engine
	nowFn          func() time.Time
	pendingTimeout time.Duration
	logger         oplog.Logger
	publisher      events.Publisher
	loyalty        LoyaltyAwarder
}

// NewService wires a Service.
func NewService(store Store, ledgerService *ledger.Service, fundingService *funding.Service, engine *dispatch.Engine, now func() time.Time, options ...ServiceOption) (*Service, error) {
	switch {
	case store == nil:
		return nil, fmt.Errorf("%w: store dependency is nil", ErrInvalidServiceConfig)
	case ledgerService == nil:
		return nil, fmt.Errorf("%w: ledger dependency is nil", ErrInvalidServiceConfig)
	case fundingService == nil:
		return nil, fmt.Errorf("%w: funding dependency is nil", ErrInvalidServiceConfig)
	case engine == nil:
		return nil, fmt.Errorf("%w: dispatch dependency is nil", ErrInvalidServiceConfig)
	case now == nil:
		return nil, fmt.Errorf("%w: clock dependency is nil", ErrInvalidServiceConfig)
	}
	service := &Service{
		store:          store,
		ledger:         ledgerService,
		funding:        fundingService,
		dispatch:       engine,
		nowFn:          now,
		pendingTimeout: DefaultPendingTimeout,
	}
	for _, option := range options {
		if option != nil {
			option(service)
		}
	}
	return service, nil
}

// Get returns an order with its dispatch view.
func (service *Service) Get(ctx context.Context, orderID string) (Order, error) {
	return service.store.GetOrder(ctx, orderID)
}

// Refunds lists the funding requests raised for an order.
func (service *Service) Refunds(ctx context.Context, orderID string) ([]funding.Request, error) {
	return service.funding.ListByReference(ctx, orderID)
}

// PlaceOrder creates a pending order. Wallet and coin payments are debited in the same
// transaction, so an insufficient balance leaves no order behind. A repeated idempotency key
// returns the original order with replayed set.
func (service *Service) PlaceOrder(ctx context.Context, request PlaceOrderRequest) (Order, bool, error) {
	var (
		order    Order
		replayed bool
	)
	err := request.Validate()
	if err == nil {
		err = service.runInTx(ctx, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
			existing, found, findErr := transactionStore.FindOrderByIdempotencyKey(ctx, request.CustomerID, request.IdempotencyKey)
			if findErr != nil {
				return findErr
			}
			if found {
				order, replayed = existing, true
				return nil
			}
			var placeErr error
			order, placeErr = service.placeWithin(ctx, transactionStore, request, batch)
			return placeErr
		})
	}
	if errors.Is(err, ledger.ErrDuplicateIdempotencyKey) {
		existing, found, findErr := service.store.FindOrderByIdempotencyKey(ctx, request.CustomerID, request.IdempotencyKey)
		if findErr == nil && found {
			order, replayed, err = existing, true, nil
		}
	}
	record := oplog.Record{
		Component:      componentName,
		Operation:      operationPlace,
		Subject:        order.ID,
		Amount:         TotalMinor(request.Items),
		IdempotencyKey: request.IdempotencyKey,
		Error:          err,
		Fields: map[string]string{
			"customer_id":    request.CustomerID,
			"merchant_id":    request.MerchantID,
			"payment_method": request.PaymentMethod.String(),
		},
	}
	if replayed {
		record.Status = oplog.StatusReplayed
	}
	oplog.Emit(ctx, service.logger, record)
	if err != nil {
		return Order{}, false, err
	}
	return order, replayed, nil
}

func (service *Service) placeWithin(ctx context.Context, transactionStore Store, request PlaceOrderRequest, batch *events.Batch) (Order, error) {
	now := service.nowFn().UTC()
	order := Order{
		ID:             uuid.NewString(),
		CustomerID:     request.CustomerID,
		MerchantID:     request.MerchantID,
		Items:          request.Items,
		TotalMinor:     TotalMinor(request.Items),
		PaymentMethod:  request.PaymentMethod,
		Status:         StatusPending,
		IdempotencyKey: request.IdempotencyKey,
		Pickup:         request.Pickup,
		Dropoff:        request.Dropoff,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	account, debits, err := order.PaymentMethod.LedgerAccount(order.CustomerID)
	if err != nil {
		return Order{}, err
	}
	if debits {
		amount, amountErr := ledger.NewAmount(order.TotalMinor)
		if amountErr != nil {
			return Order{}, amountErr
		}
		key, keyErr := ledger.DeriveIdempotencyKey(paymentKeyPrefix, order.ID)
		if keyErr != nil {
			return Order{}, keyErr
		}
		entry, _, appendErr := service.ledger.AppendWithin(ctx, transactionStore.Ledger(), ledger.AppendRequest{
			Account:         account,
			Type:            ledger.EntryDebit,
			Amount:          amount,
			TransactionType: ledger.TransactionOrderPayment,
			IdempotencyKey:  key,
			ReferenceID:     order.ID,
		})
		if appendErr != nil {
			return Order{}, appendErr
		}
		order.PaymentEntryID = entry.EntryID
		walletEvent := ledger.WalletUpdatedEvent(entry)
		batch.Add(walletEvent.Topic, walletEvent.Payload)
	}
	if err := transactionStore.InsertOrder(ctx, order); err != nil {
		return Order{}, err
	}
	order.Dispatch = dispatch.Job{OrderID: order.ID, State: dispatch.StateNone}
	addStatusUpdate(batch, order, "order placed", nil)
	return order, nil
}

// Accept moves a pending order into preparation.
func (service *Service) Accept(ctx context.Context, orderID string, merchantID string) (Order, error) {
	return service.merchantStep(ctx, operationAccept, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		updated, err := service.transitionWithin(ctx, transactionStore, order, StatusPreparing, "")
		if err != nil {
			return Order{}, err
		}
		addStatusUpdate(batch, updated, "merchant accepted the order", nil)
		return updated, nil
	})
}

// Decline cancels the order on the merchant's behalf and raises the refund if funds moved.
func (service *Service) Decline(ctx context.Context, orderID string, merchantID string, reason string) (Order, error) {
	return service.merchantStep(ctx, operationDecline, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		return service.cancelWithin(ctx, transactionStore, order, cancellation{
			reason:  declineReason(reason),
			contact: "merchant:" + order.MerchantID,
		}, batch)
	})
}

// MarkReady moves a preparing order to ready_for_pickup and opens the courier search.
func (service *Service) MarkReady(ctx context.Context, orderID string, merchantID string) (Order, error) {
	return service.merchantStep(ctx, operationMarkReady, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		updated, err := service.transitionWithin(ctx, transactionStore, order, StatusReadyForPickup, "")
		if err != nil {
			return Order{}, err
		}
		job, err := service.dispatch.BeginSearchWithin(ctx, transactionStore.Dispatch(), updated.ID, updated.Pickup, batch)
		if err != nil {
			return Order{}, err
		}
		updated.Dispatch = job
		addStatusUpdate(batch, updated, "order is ready, looking for a courier", nil)
		return updated, nil
	})
}

// DeclineItems removes items the merchant cannot fulfil. Removing every item cancels the
// order with a full refund; removing some refunds the difference and keeps the order going.
func (service *Service) DeclineItems(ctx context.Context, orderID string, merchantID string, itemIDs []string, reason string) (Order, error) {
	return service.merchantStep(ctx, operationDeclineItems, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		if order.Status != StatusPreparing && order.Status != StatusReadyForPickup {
			return Order{}, fmt.Errorf("%w: cannot change items while %s", ErrInvalidTransition, order.Status)
		}
		remaining, err := removeItems(order.Items, itemIDs)
		if err != nil {
			return Order{}, err
		}
		if len(remaining) == 0 {
			return service.cancelWithin(ctx, transactionStore, order, cancellation{
				reason:  declineReason(reason),
				contact: "merchant:" + order.MerchantID,
			}, batch)
		}
		newTotal := TotalMinor(remaining)
		now := service.nowFn().UTC()
		if err := transactionStore.ReplaceItems(ctx, order.ID, order.Status, order.ItemsRevision, remaining, newTotal, now); err != nil {
			return Order{}, err
		}
		difference := order.TotalMinor - newTotal
		revision := order.ItemsRevision + 1
		if order.Paid() && difference > 0 {
			key, keyErr := ledger.DeriveIdempotencyKey(refundKeyPrefix, refundPartialTag, order.ID, fmt.Sprintf("%d", revision))
			if keyErr != nil {
				return Order{}, keyErr
			}
			if _, refundErr := service.raiseRefund(ctx, transactionStore, order, difference, key, cancellation{
				reason:  declineReason(reason),
				contact: "merchant:" + order.MerchantID,
			}); refundErr != nil {
				return Order{}, refundErr
			}
		}
		order.Items = remaining
		order.TotalMinor = newTotal
		order.ItemsRevision = revision
		order.UpdatedAt = now
		addStatusUpdate(batch, order, fmt.Sprintf("merchant removed %d item(s)", len(itemIDs)), nil)
		return order, nil
	})
}

// Claim hands the order to the first courier to accept it.
func (service *Service) Claim(ctx context.Context, orderID string, courierID string) (Order, error) {
	job, err := service.dispatch.Claim(ctx, orderID, courierID)
	var order Order
	if err == nil {
		order, err = service.store.GetOrder(ctx, orderID)
	}
	service.logStep(ctx, operationClaim, orderID, courierID, err)
	if err != nil {
		return Order{}, err
	}
	service.publish(ctx, events.TopicOrderUpdate, statusUpdate(order, "a courier is on the way to the merchant", job.PickupETA))
	return order, nil
}

// Unassign lets the merchant drop the assigned courier before handoff.
func (service *Service) Unassign(ctx context.Context, orderID string, merchantID string, reason string) (Order, error) {
	return service.merchantStep(ctx, operationUnassign, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		if order.Status != StatusReadyForPickup {
			return Order{}, fmt.Errorf("%w: cannot unassign while %s", ErrInvalidTransition, order.Status)
		}
		job, err := service.dispatch.UnassignWithin(ctx, transactionStore.Dispatch(), order.ID, reason, batch)
		if err != nil {
			return Order{}, err
		}
		order.Dispatch = job
		addStatusUpdate(batch, order, "looking for another courier", nil)
		return order, nil
	})
}

// Release records the handoff to the assigned courier and starts the delivery.
func (service *Service) Release(ctx context.Context, orderID string, merchantID string) (Order, error) {
	return service.merchantStep(ctx, operationRelease, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		return service.releaseWithin(ctx, transactionStore, order, batch)
	})
}

// VerifyHandoff releases the order to the courier presenting the dispatch code. An order
// nobody has claimed yet is claimed for that courier first.
func (service *Service) VerifyHandoff(ctx context.Context, orderID string, merchantID string, courierID string, code string) (Order, error) {
	return service.merchantStep(ctx, operationHandoff, orderID, merchantID, func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
		if order.Status != StatusReadyForPickup {
			return Order{}, fmt.Errorf("%w: cannot hand off while %s", ErrInvalidTransition, order.Status)
		}
		job := order.Dispatch
		if !codesMatch(job.DispatchCode, code) {
			return Order{}, ErrInvalidDispatchCode
		}
		courierID = strings.TrimSpace(courierID)
		switch {
		case job.State == dispatch.StateSearching && job.CourierID == "":
			claimed, err := service.dispatch.ClaimWithin(ctx, transactionStore.Dispatch(), order.ID, courierID, batch)
			if err != nil {
				return Order{}, err
			}
			order.Dispatch = claimed
		case job.CourierID != courierID:
			return Order{}, fmt.Errorf("%w: order %s", ErrCourierMismatch, order.ID)
		}
		return service.releaseWithin(ctx, transactionStore, order, batch)
	})
}

// Complete marks the order delivered by its assigned courier.
func (service *Service) Complete(ctx context.Context, orderID string, courierID string) (Order, error) {
	var order Order
	err := service.runInTx(ctx, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		current, err := transactionStore.GetOrder(ctx, orderID)
		if err != nil {
			return err
		}
		if strings.TrimSpace(courierID) == "" || current.Dispatch.CourierID != strings.TrimSpace(courierID) {
			return fmt.Errorf("%w: courier %q", ErrNotOrderParty, courierID)
		}
		updated, err := service.transitionWithin(ctx, transactionStore, current, StatusDelivered, "")
		if err != nil {
			return err
		}
		job, err := service.dispatch.CompleteWithin(ctx, transactionStore.Dispatch(), updated.ID)
		if err != nil {
			return err
		}
		updated.Dispatch = job
		batch.Add(events.TopicOrderDelivered, events.OrderDelivered{
			OrderID:     updated.ID,
			CourierID:   job.CourierID,
			MerchantID:  updated.MerchantID,
			CustomerID:  updated.CustomerID,
			AmountMinor: updated.TotalMinor,
		})
		addStatusUpdate(batch, updated, "order delivered", nil)
		order = updated
		return nil
	})
	service.logStep(ctx, operationComplete, orderID, courierID, err)
	if err != nil {
		return Order{}, err
	}
	if service.loyalty != nil {
		if awardErr := service.loyalty.AwardDelivery(ctx, order); awardErr != nil {
			oplog.Emit(ctx, service.logger, oplog.Record{Component: componentName, Operation: "loyalty_award", Subject: order.ID, Error: awardErr})
		}
	}
	return order, nil
}

// CancelExpired cancels every order still pending past the timeout and auto-approves its
// refund through the trusted system path. A refund whose wallet is frozen or whose chain is
// broken stays pending for manual review and the order is still cancelled. An order the
// merchant accepted in the meantime is left alone. It returns the number of orders cancelled.
func (service *Service) CancelExpired(ctx context.Context) (int, error) {
	cutoff := service.nowFn().UTC().Add(-service.pendingTimeout)
	expired, err := service.store.ListPendingBefore(ctx, cutoff, expireBatchSize)
	if err != nil {
		return 0, err
	}
	var (
		cancelled int
		failures  []error
	)
	for _, candidate := range expired {
		if ctx.Err() != nil {
			failures = append(failures, ctx.Err())
			break
		}
		var heldErr error
		cancelErr := service.runInTx(ctx, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
			heldErr = nil
			order, getErr := transactionStore.GetOrder(ctx, candidate.ID)
			if getErr != nil {
				return getErr
			}
			if order.Status != StatusPending {
				return ErrStatusConflict
			}
			_, cancelErr := service.cancelWithin(ctx, transactionStore, order, cancellation{
				reason:       expiredCancelReason,
				contact:      systemContact,
				autoApprove:  true,
				heldApproval: &heldErr,
			}, batch)
			return cancelErr
		})
		service.logStep(ctx, operationCancelExpired, candidate.ID, systemContact, ignoreConflict(cancelErr))
		if cancelErr == nil && heldErr != nil {
			service.ledger.FreezeOnIntegrityFailure(ctx, heldErr)
			oplog.Emit(ctx, service.logger, oplog.Record{Component: componentName, Operation: operationRefundHeld, Subject: candidate.ID, Error: heldErr})
		}
		switch {
		case cancelErr == nil:
			cancelled++
		case errors.Is(cancelErr, ErrStatusConflict):
		default:
			failures = append(failures, fmt.Errorf("cancel %s: %w", candidate.ID, cancelErr))
		}
	}
	return cancelled, errors.Join(failures...)
}

type cancellation struct {
	reason      string
	contact     string
	autoApprove bool
	// heldApproval receives the ledger error when the auto-approval is left pending.
	// Nil means such errors fail the cancellation.
	heldApproval *error
}

// cancelWithin is the only path to StatusCancelled. Funds already debited always get exactly
// one refund request keyed by the order id.
func (service *Service) cancelWithin(ctx context.Context, transactionStore Store, order Order, details cancellation, batch *events.Batch) (Order, error) {
	updated, err := service.transitionWithin(ctx, transactionStore, order, StatusCancelled, details.reason)
	if err != nil {
		return Order{}, err
	}
	job, err := service.dispatch.AbandonWithin(ctx, transactionStore.Dispatch(), order.ID, details.reason, batch)
	if err != nil {
		return Order{}, err
	}
	updated.Dispatch = job
	if order.Paid() {
		key, keyErr := ledger.DeriveIdempotencyKey(refundKeyPrefix, refundCancelTag, order.ID)
		if keyErr != nil {
			return Order{}, keyErr
		}
		refund, refundErr := service.raiseRefund(ctx, transactionStore, order, order.TotalMinor, key, details)
		if refundErr != nil {
			return Order{}, refundErr
		}
		if details.autoApprove && refund.Status == funding.StatusPending {
			_, _, approveErr := service.funding.ApproveAsSystemWithin(ctx, transactionStore.Funding(), refund.ID, "", batch)
			switch {
			case approveErr == nil:
			case details.heldApproval != nil && ledgerHold(approveErr):
				*details.heldApproval = approveErr
			default:
				return Order{}, approveErr
			}
		}
	}
	addStatusUpdate(batch, updated, "order cancelled: "+details.reason, nil)
	return updated, nil
}

// ledgerHold reports ledger failures raised before any write, which leave the transaction usable.
func ledgerHold(err error) bool {
	return errors.Is(err, ledger.ErrAccountFrozen) || errors.Is(err, ledger.ErrChainBroken)
}

func (service *Service) raiseRefund(ctx context.Context, transactionStore Store, order Order, amountMinor int64, key ledger.IdempotencyKey, details cancellation) (funding.Request, error) {
	account, _, err := order.PaymentMethod.LedgerAccount(order.CustomerID)
	if err != nil {
		return funding.Request{}, err
	}
	amount, err := ledger.NewAmount(amountMinor)
	if err != nil {
		return funding.Request{}, err
	}
	request, _, err := service.funding.SubmitWithin(ctx, transactionStore.Funding(), funding.SubmitRequest{
		Account:         account,
		Amount:          amount,
		Direction:       funding.DirectionCreditIn,
		TransactionType: ledger.TransactionRefund,
		Method:          refundMethod,
		ProofReference:  "order:" + order.ID,
		IdempotencyKey:  key,
		ReferenceID:     order.ID,
		RequestedBy:     details.contact,
		Notes:           fmt.Sprintf("reason: %s; contact: %s", details.reason, details.contact),
	})
	return request, err
}

func (service *Service) releaseWithin(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error) {
	if order.Status != StatusReadyForPickup {
		return Order{}, fmt.Errorf("%w: cannot release while %s", ErrInvalidTransition, order.Status)
	}
	job, err := service.dispatch.ReleaseWithin(ctx, transactionStore.Dispatch(), order.ID, batch)
	if err != nil {
		return Order{}, err
	}
	updated, err := service.transitionWithin(ctx, transactionStore, order, StatusDelivering, "")
	if err != nil {
		return Order{}, err
	}
	updated.Dispatch = job
	addStatusUpdate(batch, updated, "courier picked up your order", job.DeliveryETA)
	return updated, nil
}

func (service *Service) transitionWithin(ctx context.Context, transactionStore Store, order Order, to Status, cancelReason string) (Order, error) {
	if !CanTransition(order.Status, to) {
		return Order{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, order.Status, to)
	}
	now := service.nowFn().UTC()
	if err := transactionStore.TransitionOrder(ctx, order.ID, Transition{From: order.Status, To: to, At: now, CancelReason: cancelReason}); err != nil {
		return Order{}, err
	}
	order.Status = to
	order.UpdatedAt = now
	if to == StatusCancelled {
		order.CancelReason = cancelReason
	}
	return order, nil
}

type stepFunc func(ctx context.Context, transactionStore Store, order Order, batch *events.Batch) (Order, error)

// merchantStep loads the order, checks the merchant owns it and runs step in one transaction.
func (service *Service) merchantStep(ctx context.Context, operation string, orderID string, merchantID string, step stepFunc) (Order, error) {
	var order Order
	err := service.runInTx(ctx, func(ctx context.Context, transactionStore Store, batch *events.Batch) error {
		current, getErr := transactionStore.GetOrder(ctx, orderID)
		if getErr != nil {
			return getErr
		}
		if strings.TrimSpace(merchantID) == "" || current.MerchantID != strings.TrimSpace(merchantID) {
			return fmt.Errorf("%w: merchant %q", ErrNotOrderParty, merchantID)
		}
		var stepErr error
		order, stepErr = step(ctx, transactionStore, current, batch)
		return stepErr
	})
	service.logStep(ctx, operation, orderID, merchantID, err)
	if err != nil {
		return Order{}, err
	}
	return order, nil
}

func (service *Service) runInTx(ctx context.Context, fn func(ctx context.Context, transactionStore Store, batch *events.Batch) error) error {
	var batch events.Batch
	err := service.store.WithTx(ctx, func(ctx context.Context, transactionStore Store) error {
		batch.Reset()
		return fn(ctx, transactionStore, &batch)
	})
	if err != nil {
		service.ledger.FreezeOnIntegrityFailure(ctx, err)
		return err
	}
	batch.Flush(ctx, service.publisher, func(event events.Event, publishErr error) {
		oplog.Emit(ctx, service.logger, oplog.Record{Component: componentName, Operation: operationPublish, Subject: string(event.Topic), Error: publishErr})
	})
	return nil
}

func (service *Service) publish(ctx context.Context, topic events.Topic, payload any) {
	if service.publisher == nil {
		return
	}
	if err := service.publisher.Publish(ctx, topic, payload); err != nil {
		oplog.Emit(ctx, service.logger, oplog.Record{Component: componentName, Operation: operationPublish, Subject: string(topic), Error: err})
	}
}

func (service *Service) logStep(ctx context.Context, operation string, orderID string, actorID string, err error) {
	oplog.Emit(ctx, service.logger, oplog.Record{
		Component: componentName,
		Operation: operation,
		Subject:   orderID,
		Error:     err,
		Fields:    map[string]string{"actor": actorID},
	})
}

func addStatusUpdate(batch *events.Batch, order Order, message string, eta *time.Time) {
	batch.Add(events.TopicOrderUpdate, statusUpdate(order, message, eta))
}

func statusUpdate(order Order, message string, eta *time.Time) events.OrderUpdate {
	return events.OrderUpdate{
		OrderID:    order.ID,
		CustomerID: order.CustomerID,
		Status:     order.Status.String(),
		Message:    message,
		ETA:        eta,
	}
}

func removeItems(items []Item, itemIDs []string) ([]Item, error) {
	if len(itemIDs) == 0 {
		return nil, fmt.Errorf("%w: no items to decline", ErrInvalidItems)
	}
	declined := make(map[string]bool, len(itemIDs))
	for _, itemID := range itemIDs {
		declined[strings.TrimSpace(itemID)] = true
	}
	remaining := make([]Item, 0, len(items))
	for _, item := range items {
		if declined[item.ItemID] {
			delete(declined, item.ItemID)
			continue
		}
		remaining = append(remaining, item)
	}
	if len(declined) > 0 {
		unknown := make([]string, 0, len(declined))
		for itemID := range declined {
			unknown = append(unknown, itemID)
		}
		sort.Strings(unknown)
		return nil, fmt.Errorf("%w: %s", ErrUnknownItem, strings.Join(unknown, ", "))
	}
	return remaining, nil
}

func declineReason(reason string) string {
	if trimmed := strings.TrimSpace(reason); trimmed != "" {
		return trimmed
	}
	return "declined by merchant"
}

func ignoreConflict(err error) error {
	if errors.Is(err, ErrStatusConflict) {
		return nil
	}
	return err
}
