package ledger

import (
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

// WithPublisher wires the publisher that receives wallet_updated events.
func WithPublisher(publisher events.Publisher) ServiceOption {
	return func(service *Service) {
		service.publisher = publisher
	}
}
