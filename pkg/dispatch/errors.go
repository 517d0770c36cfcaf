package dispatch

import "errors"

// Domain-level error values returned by the dispatch engine.
var (
	ErrAlreadyAssigned      = errors.New("order already assigned to another courier")
	ErrNotAssigned          = errors.New("order has no assigned courier")
	ErrAlreadyReleased      = errors.New("order already released to courier")
	ErrNotSearching         = errors.New("order is not searching for a courier")
	ErrSearchClosed         = errors.New("dispatch search closed")
	ErrStateConflict        = errors.New("dispatch state changed concurrently")
	ErrUnknownOrder         = errors.New("unknown order")
	ErrCourierUnavailable   = errors.New("courier unavailable")
	ErrInvalidCourierID     = errors.New("invalid courier id")
	ErrInvalidOrderID       = errors.New("invalid order id")
	ErrInvalidState         = errors.New("invalid dispatch state")
	ErrInvalidPolicy        = errors.New("invalid dispatch policy")
	ErrInvalidServiceConfig = errors.New("invalid dispatch engine config")
)
