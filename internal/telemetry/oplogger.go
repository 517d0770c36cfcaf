// Package telemetry turns operation records from the domain services into zap log lines and
// Prometheus samples.
package telemetry

import (
	"context"
	"errors"

	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/ledger"
	"github.com/MarkoPoloResearchLab/dispatchledger/pkg/oplog"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

const publishOperation = "publish"

// OperationLogger implements oplog.Logger for every service.
type OperationLogger struct {
	logger  *zap.Logger
	metrics *Metrics
}

// NewOperationLogger builds an OperationLogger. A nil logger logs nothing; nil metrics skips
// the counters.
func NewOperationLogger(logger *zap.Logger, metrics *Metrics) *OperationLogger {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &OperationLogger{logger: logger, metrics: metrics}
}

// LogOperation writes one structured line per record.
func (operationLogger *OperationLogger) LogOperation(_ context.Context, record oplog.Record) {
	fields := make([]zap.Field, 0, 6+len(record.Fields))
	fields = append(fields,
		zap.String("component", record.Component),
		zap.String("operation", record.Operation),
		zap.String("status", record.Status),
	)
	if record.Subject != "" {
		fields = append(fields, zap.String("subject", record.Subject))
	}
	if record.Amount != 0 {
		fields = append(fields, zap.Int64("amount_minor", record.Amount))
	}
	if record.IdempotencyKey != "" {
		fields = append(fields, zap.String("idempotency_key", record.IdempotencyKey))
	}
	for key, value := range record.Fields {
		fields = append(fields, zap.String(key, value))
	}
	if record.Error != nil {
		fields = append(fields, zap.Error(record.Error))
	}
	operationLogger.logger.Log(levelFor(record), "operation", fields...)
	operationLogger.observe(record)
}

func (operationLogger *OperationLogger) observe(record oplog.Record) {
	if operationLogger.metrics == nil {
		return
	}
	operationLogger.metrics.Operations.WithLabelValues(record.Component, record.Operation, record.Status).Inc()
	if record.Operation == publishOperation && record.Error != nil {
		operationLogger.metrics.PublishFailed.WithLabelValues(record.Component, record.Subject).Inc()
	}
	if errors.Is(record.Error, ledger.ErrChainBroken) {
		operationLogger.metrics.ChainBreaks.Inc()
	}
}

// levelFor keeps integrity failures loud and delivery failures at warn.
func levelFor(record oplog.Record) zapcore.Level {
	switch {
	case record.Error == nil:
		return zapcore.InfoLevel
	case errors.Is(record.Error, ledger.ErrChainBroken), errors.Is(record.Error, ledger.ErrAccountFrozen):
		return zapcore.ErrorLevel
	default:
		return zapcore.WarnLevel
	}
}
