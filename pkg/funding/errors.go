package funding

import "errors"

// Domain-level error values returned by the funding service.
var (
	ErrInvalidAuthorization = errors.New("invalid authorization")
	ErrAlreadyResolved      = errors.New("funding request already resolved")
	ErrUnknownRequest       = errors.New("unknown funding request")
	ErrInvalidRequestID     = errors.New("invalid funding request id")
	ErrInvalidDirection     = errors.New("invalid funding direction")
	ErrInvalidStatus        = errors.New("invalid funding status")
	ErrInvalidMethod        = errors.New("invalid funding method")
	ErrInvalidReviewer      = errors.New("invalid reviewer")
	ErrInvalidServiceConfig = errors.New("invalid funding service config")
)
