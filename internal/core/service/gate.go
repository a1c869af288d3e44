package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/fulfillment-sync/internal/port"
)

// Timeouts bound how long each entry point waits for the ledger lock.
type Timeouts struct {
	Batch      time.Duration
	Bulk       time.Duration
	ManualEdit time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Batch:      30 * time.Second,
		Bulk:       15 * time.Second,
		ManualEdit: 10 * time.Second,
	}
}

// Gate serializes every read-modify-write of the ledger behind one lock.
type Gate struct {
	locker port.Locker
	logger *zap.Logger
}

func NewGate(locker port.Locker, logger *zap.Logger) *Gate {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Gate{locker: locker, logger: logger}
}

// Do runs fn while holding the lock. Failing to acquire it within wait yields ErrBusy and fn is not run.
func (g *Gate) Do(ctx context.Context, op string, wait time.Duration, fn func(ctx context.Context) error) error {
	lockCtx, cancel := context.WithTimeout(ctx, wait)
	unlock, err := g.locker.Lock(lockCtx)
	cancel()
	if err != nil {
		if ctx.Err() != nil && !errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return ctx.Err()
		}
		g.logger.Warn("ledger lock not acquired", zap.String("op", op), zap.Duration("wait", wait), zap.Error(err))
		return fmt.Errorf("%w: %s", ErrBusy, op)
	}
	defer unlock()

	start := time.Now()
	err = fn(ctx)
	g.logger.Debug("ledger critical section done", zap.String("op", op), zap.Duration("held", time.Since(start)))
	return err
}
