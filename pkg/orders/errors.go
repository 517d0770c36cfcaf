package orders

import (
	"errors"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/dispatch"
)

// Domain-level error values returned by the order service.
var (
	ErrUnknownOrder         = dispatch.ErrUnknownOrder
	ErrInvalidTransition    = errors.New("order transition not allowed")
	ErrStatusConflict       = errors.New("order status changed concurrently")
	ErrNotOrderParty        = errors.New("actor is not a party to the order")
	ErrInvalidDispatchCode  = errors.New("invalid dispatch code")
	ErrCourierMismatch      = errors.New("courier does not match assignment")
	ErrInvalidItems         = errors.New("invalid order items")
	ErrUnknownItem          = errors.New("unknown order item")
	ErrInvalidPaymentMethod = errors.New("invalid payment method")
	ErrInvalidStatus        = errors.New("invalid order status")
	ErrInvalidCustomerID    = errors.New("invalid customer id")
	ErrInvalidMerchantID    = errors.New("invalid merchant id")
	ErrInvalidServiceConfig = errors.New("invalid order service config")
)
