// Package sweeper runs the recurring background jobs: cancelling orders the merchant never
// answered and widening courier searches nobody claimed.
package sweeper

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/MarkoPoloResearchLab/dispatchledger/internal/telemetry"
	"go.uber.org/zap"
)

// Sweep names used in logs and metric labels.
const (
	SweepCancelExpired = "cancel_expired"
	SweepExpandSearch  = "expand_search"
)

// ErrInvalidSweeperConfig is returned by New.
var ErrInvalidSweeperConfig = errors.New("invalid sweeper config")

// OrderExpirer cancels pending orders past their deadline.
type OrderExpirer interface {
	CancelExpired(ctx context.Context) (int, error)
}

// SearchExpander widens every courier search that is due.
type SearchExpander interface {
	ExpandDue(ctx context.Context) (int, error)
}

// Sweeper owns one ticker per sweep.
type Sweeper struct {
	expirer  OrderExpirer
	expander SearchExpander
	interval time.Duration
	logger   *zap.Logger
	metrics  *telemetry.Metrics
}

// New builds a Sweeper. metrics may be nil.
func New(expirer OrderExpirer, expander SearchExpander, interval time.Duration, logger *zap.Logger, metrics *telemetry.Metrics) (*Sweeper, error) {
	switch {
	case expirer == nil:
		return nil, fmt.Errorf("%w: order expirer is nil", ErrInvalidSweeperConfig)
	case expander == nil:
		return nil, fmt.Errorf("%w: search expander is nil", ErrInvalidSweeperConfig)
	case interval <= 0:
		return nil, fmt.Errorf("%w: interval must be positive", ErrInvalidSweeperConfig)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Sweeper{expirer: expirer, expander: expander, interval: interval, logger: logger, metrics: metrics}, nil
}

// Run blocks until ctx is cancelled.
func (sweeper *Sweeper) Run(ctx context.Context) {
	var waitGroup sync.WaitGroup
	waitGroup.Add(2)
	go func() {
		defer waitGroup.Done()
		sweeper.loop(ctx, SweepCancelExpired, sweeper.expirer.CancelExpired)
	}()
	go func() {
		defer waitGroup.Done()
		sweeper.loop(ctx, SweepExpandSearch, sweeper.expander.ExpandDue)
	}()
	waitGroup.Wait()
}

// CancelExpiredOnce runs the auto-cancel sweep a single time.
func (sweeper *Sweeper) CancelExpiredOnce(ctx context.Context) (int, error) {
	return sweeper.runOnce(ctx, SweepCancelExpired, sweeper.expirer.CancelExpired)
}

// ExpandSearchOnce runs the radius expansion sweep a single time.
func (sweeper *Sweeper) ExpandSearchOnce(ctx context.Context) (int, error) {
	return sweeper.runOnce(ctx, SweepExpandSearch, sweeper.expander.ExpandDue)
}

func (sweeper *Sweeper) loop(ctx context.Context, name string, sweep func(context.Context) (int, error)) {
	ticker := time.NewTicker(sweeper.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = sweeper.runOnce(ctx, name, sweep)
		}
	}
}

// runOnce never propagates panics or errors past the log; the next tick retries.
func (sweeper *Sweeper) runOnce(ctx context.Context, name string, sweep func(context.Context) (int, error)) (processed int, err error) {
	started := time.Now()
	defer func() {
		if recovered := recover(); recovered != nil {
			err = fmt.Errorf("sweep %s panicked: %v", name, recovered)
		}
		sweeper.observe(name, processed, err, time.Since(started))
	}()
	return sweep(ctx)
}

func (sweeper *Sweeper) observe(name string, processed int, err error, elapsed time.Duration) {
	status := "ok"
	if err != nil {
		status = "error"
		sweeper.logger.Warn("sweep failed", zap.String("sweep", name), zap.Int("processed", processed), zap.Error(err))
	} else if processed > 0 {
		sweeper.logger.Info("sweep completed", zap.String("sweep", name), zap.Int("processed", processed), zap.Duration("elapsed", elapsed))
	}
	if sweeper.metrics == nil {
		return
	}
	sweeper.metrics.SweepDuration.WithLabelValues(name, status).Observe(elapsed.Seconds())
	sweeper.metrics.SweepProcessed.WithLabelValues(name).Add(float64(processed))
}
