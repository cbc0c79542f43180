package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/rl1809/fish-market/internal/metrics"
)

type undoStep struct {
	name string
	fn   func(ctx context.Context) error
}

// compensationLog records undo actions for committed side effects and
// replays them newest first.
type compensationLog struct {
	steps []undoStep
}

func (l *compensationLog) add(name string, fn func(ctx context.Context) error) {
	l.steps = append(l.steps, undoStep{name: name, fn: fn})
}

func (l *compensationLog) len() int {
	return len(l.steps)
}

// rollback runs every undo step even if some fail. It detaches from the
// caller's context so a cancelled request still restores stock.
func (l *compensationLog) rollback(ctx context.Context, timeout time.Duration, logger *zap.Logger, m *metrics.Metrics) bool {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancel()

	ok := true
	for i := len(l.steps) - 1; i >= 0; i-- {
		step := l.steps[i]
		if err := step.fn(ctx); err != nil {
			logger.Error("CRITICAL compensation failed", zap.String("step", step.name), zap.Error(err))
			m.ObserveCompensation(false)
			ok = false
			continue
		}
		m.ObserveCompensation(true)
	}
	l.steps = nil
	return ok
}
