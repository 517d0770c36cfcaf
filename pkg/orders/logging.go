package orders

import (
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
)

// ServiceOption configures a Service instance.
type ServiceOption func(*Service)

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger oplog.Logger) ServiceOption {
	return func(service *Service) {
		service.logger = logger
	}
}

// WithPublisher wires the publisher used after every committed transition.
func WithPublisher(publisher events.Publisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}

// WithLoyaltyAwarder wires the collaborator invoked after delivery.
func WithLoyaltyAwarder(awarder LoyaltyAwarder) ServiceOption {
	return func(service *Service) {
		service.loyalty = awarder
	}
}

// WithPendingTimeout overrides DefaultPendingTimeout.
func WithPendingTimeout(timeout time.Duration) ServiceOption {
	return func(service *Service) {
		if timeout > 0 {
			service.pendingTimeout = timeout
		}
	}
}
