package orders

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/funding"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/geo"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
)

// Status is the lifecycle state of an order.
type Status string

const (
	StatusPending        Status = "pending"
	StatusPreparing      Status = "preparing"
	StatusReadyForPickup Status = "ready_for_pickup"
	StatusDelivering     Status = "delivering"
	StatusDelivered      Status = "delivered"
	StatusCancelled      Status = "cancelled"
)

var allowedTransitions = map[Status][]Status{
	StatusPending:        {StatusPreparing, StatusCancelled},
	StatusPreparing:      {StatusReadyForPickup, StatusCancelled},
	StatusReadyForPickup: {StatusDelivering, StatusCancelled},
	StatusDelivering:     {StatusDelivered},
}

// CanTransition is the single authority on which status changes are legal.
func CanTransition(from Status, to Status) bool {
	for _, allowed := range allowedTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

// ParseStatus validates a raw status.
func ParseStatus(raw string) (Status, error) {
	switch status := Status(strings.TrimSpace(raw)); status {
	case StatusPending, StatusPreparing, StatusReadyForPickup, StatusDelivering, StatusDelivered, StatusCancelled:
		return status, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, raw)
	}
}

// String returns the status value.
func (status Status) String() string {
	return string(status)
}

// Cancellable reports whether the order may still be cancelled.
func (status Status) Cancellable() bool {
	return CanTransition(status, StatusCancelled)
}

// PaymentMethod is how the customer pays for the order.
type PaymentMethod string

const (
	PaymentCashOnDelivery PaymentMethod = "cash_on_delivery"
	PaymentWallet         PaymentMethod = "wallet"
	PaymentCoins          PaymentMethod = "coins"
	PaymentExternal       PaymentMethod = "external"
)

// ParsePaymentMethod validates a raw payment method.
func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch method := PaymentMethod(strings.TrimSpace(raw)); method {
	case PaymentCashOnDelivery, PaymentWallet, PaymentCoins, PaymentExternal:
		return method, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidPaymentMethod, raw)
	}
}

// String returns the payment method value.
func (method PaymentMethod) String() string {
	return string(method)
}

// LedgerAccount returns the stored-balance account the method debits, if any.
func (method PaymentMethod) LedgerAccount(customerID string) (ledger.Account, bool, error) {
	var ownerType ledger.OwnerType
	switch method {
	case PaymentWallet:
		ownerType = ledger.OwnerCustomerWallet
	case PaymentCoins:
		ownerType = ledger.OwnerCustomerCoins
	default:
		return ledger.Account{}, false, nil
	}
	account, err := ledger.NewAccount(ownerType, customerID)
	if err != nil {
		return ledger.Account{}, false, err
	}
	return account, true, nil
}

// Item is one order line.
type Item struct {
	ItemID         string `json:"item_id"`
	Name           string `json:"name"`
	Quantity       int64  `json:"quantity"`
	UnitPriceMinor int64  `json:"unit_price_minor"`
}

// SubtotalMinor is quantity times unit price.
func (item Item) SubtotalMinor() int64 {
	return item.Quantity * item.UnitPriceMinor
}

// TotalMinor sums the item subtotals.
func TotalMinor(items []Item) int64 {
	var total int64
	for _, item := range items {
		total += item.SubtotalMinor()
	}
	return total
}

func validateItems(items []Item) error {
	if len(items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrInvalidItems)
	}
	seen := make(map[string]bool, len(items))
	var total int64
	for index, item := range items {
		itemID := strings.TrimSpace(item.ItemID)
		if itemID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidItems, index)
		}
		if seen[itemID] {
			return fmt.Errorf("%w: duplicate item %q", ErrInvalidItems, itemID)
		}
		seen[itemID] = true
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item %q quantity must be positive", ErrInvalidItems, itemID)
		}
		if item.UnitPriceMinor < 0 {
			return fmt.Errorf("%w: item %q price must not be negative", ErrInvalidItems, itemID)
		}
		if item.UnitPriceMinor > 0 && item.Quantity > math.MaxInt64/item.UnitPriceMinor {
			return fmt.Errorf("%w: item %q subtotal overflows", ErrInvalidItems, itemID)
		}
		subtotal := item.SubtotalMinor()
		if total > math.MaxInt64-subtotal {
			return fmt.Errorf("%w: total overflows", ErrInvalidItems)
		}
		total += subtotal
	}
	if total <= 0 {
		return fmt.Errorf("%w: total must be positive", ErrInvalidItems)
	}
	return nil
}

// Order is a customer order. Dispatch is a read-only view filled by the store.
type Order struct {
	ID             string
	CustomerID     string
	MerchantID     string
	Items          []Item
	TotalMinor     int64
	PaymentMethod  PaymentMethod
	Status         Status
	IdempotencyKey string
	PaymentEntryID string
	Pickup         geo.Point
	Dropoff        geo.Point
	CancelReason   string
	ItemsRevision  int
	CreatedAt      time.Time
	UpdatedAt      time.Time
	Dispatch       dispatch.Job
}

// Paid reports whether the order debited a stored balance.
func (order Order) Paid() bool {
	return order.PaymentEntryID != ""
}

// PlaceOrderRequest carries what the customer submits at checkout.
type PlaceOrderRequest struct {
	CustomerID     string
	MerchantID     string
	Items          []Item
	PaymentMethod  PaymentMethod
	Pickup         geo.Point
	Dropoff        geo.Point
	IdempotencyKey string
}

// Validate checks the request and normalizes identifiers.
func (request *PlaceOrderRequest) Validate() error {
	request.CustomerID = strings.TrimSpace(request.CustomerID)
	request.MerchantID = strings.TrimSpace(request.MerchantID)
	request.IdempotencyKey = strings.TrimSpace(request.IdempotencyKey)
	if request.CustomerID == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidCustomerID)
	}
	if request.MerchantID == "" {
		return fmt.Errorf("%w: empty value", ErrInvalidMerchantID)
	}
	if request.IdempotencyKey == "" {
		return fmt.Errorf("%w: empty value", ledger.ErrInvalidIdempotencyKey)
	}
	if _, err := ParsePaymentMethod(request.PaymentMethod.String()); err != nil {
		return err
	}
	if err := validateItems(request.Items); err != nil {
		return err
	}
	if err := request.Pickup.Validate(); err != nil {
		return err
	}
	return request.Dropoff.Validate()
}

// Transition is a status change applied only while the order is still in From.
type Transition struct {
	From         Status
	To           Status
	At           time.Time
	CancelReason string
}

// LoyaltyAwarder is the external collaborator granting post-delivery rewards.
type LoyaltyAwarder interface {
	AwardDelivery(ctx context.Context, order Order) error
}

// Store is the persistence contract used by Service. Ledger, Funding and Dispatch return
// stores bound to the same transaction.
type Store interface {
	WithTx(ctx context.Context, fn func(ctx context.Context, txStore Store) error) error
	Ledger() ledger.Store
	Funding() funding.Store
	Dispatch() dispatch.Store
	InsertOrder(ctx context.Context, order Order) error
	GetOrder(ctx context.Context, orderID string) (Order, error)
	FindOrderByIdempotencyKey(ctx context.Context, customerID string, key string) (Order, bool, error)
	// TransitionOrder returns ErrStatusConflict when the order is no longer in transition.From.
	TransitionOrder(ctx context.Context, orderID string, transition Transition) error
	// ReplaceItems swaps the item list and bumps the revision while status and revision still match.
	ReplaceItems(ctx context.Context, orderID string, expected Status, expectedRevision int, items []Item, totalMinor int64, at time.Time) error
	ListPendingBefore(ctx context.Context, cutoff time.Time, limit int) ([]Order, error)
}
