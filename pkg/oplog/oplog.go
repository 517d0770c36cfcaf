// Package oplog defines the operation logging hook shared by the domain services.
package oplog

import "context"

// Record statuses.
const (
	StatusOK       = "ok"
	StatusError    = "error"
	StatusReplayed = "replayed"
)

// Logger records domain-level events emitted by service operations.
type Logger interface {
	LogOperation(ctx context.Context, record Record)
}

// Record describes a state-changing operation.
type Record struct {
	Component      string
	Operation      string
	Subject        string
	Amount         int64
	IdempotencyKey string
	Status         string
	Error          error
	Fields         map[string]string
}

// Emit finalizes the record status and forwards it to logger when one is configured.
func Emit(ctx context.Context, logger Logger, record Record) {
	if logger == nil {
		return
	}
	if record.Status == "" {
		if record.Error != nil {
			record.Status = StatusError
		} else {
			record.Status = StatusOK
		}
	}
	logger.LogOperation(ctx, record)
}
