package service

import (
	"context"
	"time"

	"github.com/openstable/cdpcore/internal/pkg/logger"
)

// AccrualLoop drives periodic interest accrual. One pass per tick; the
// engine itself freezes rates once shutdown is active while the timestamp
// keeps advancing.
type AccrualLoop struct {
	svc      *CDPService
	interval time.Duration
}

func NewAccrualLoop(svc *CDPService, interval time.Duration) *AccrualLoop {
	if interval <= 0 {
		interval = time.Minute
	}
	return &AccrualLoop{svc: svc, interval: interval}
}

// Run blocks until ctx is cancelled.
func (l *AccrualLoop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	// Establish the baseline timestamp immediately so the first real tick
	// accrues only one interval.
	if err := l.svc.AccrueInterest(ctx, time.Now()); err != nil {
		logger.LogError(ctx, err, "initial accrual pass failed")
	}

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			if err := l.svc.AccrueInterest(ctx, now); err != nil {
				logger.LogError(ctx, err, "interest accrual pass failed")
			}
		}
	}
}
