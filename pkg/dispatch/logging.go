package dispatch

import (
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/events"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
)

// EngineOption configures an Engine instance.
type EngineOption func(*Engine)

// WithOperationLogger wires a logger that receives callbacks for every operation.
func WithOperationLogger(logger oplog.Logger) EngineOption {
	return func(engine *Engine) {
		engine.logger = logger
	}
}

// WithPublisher wires the publisher that receives dispatch events after commit.
func WithPublisher(publisher events.Publisher) EngineOption {
	return func(engine *Engine) {
		engine.publisher = publisher
	}
}

// WithCodeGenerator replaces the random dispatch code source.
func WithCodeGenerator(generate func() (string, error)) EngineOption {
	return func(engine *Engine) {
		if generate != nil {
			engine.codeFn = generate
		}
	}
}
