// Package scanner implements the periodic sweep that discovers unsafe or
// shutdown-eligible positions and submits liquidate/settle commands. Nodes
// coordinate through a TTL lock, not a global one: duplicate submissions are
// expected and absorbed by the confiscation idempotence downstream.
package scanner

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/logger"
	"github.com/openstable/cdpcore/internal/pkg/metrics"
)

// DefaultMaxIterations bounds one tick's sweep when no override is set.
const DefaultMaxIterations = 1000

// Lock is the time-boxed mutual exclusion guarding a tick. Release is
// implicit: the TTL lapses.
type Lock interface {
	TryAcquire(ctx context.Context, ttl time.Duration) (bool, error)
}

// CursorStore persists the resume position between ticks.
type CursorStore interface {
	Load(ctx context.Context) (model.ScanCursor, error)
	Save(ctx context.Context, cursor model.ScanCursor) error
}

// Scanner sweeps the (collateral type, owner) space round-robin, resuming
// from the persisted cursor, and pushes commands into the submission queue.
type Scanner struct {
	st       engine.State
	eng      *engine.Engine
	shutdown engine.ShutdownStatus
	lock     Lock
	cursors  CursorStore
	queue    chan<- model.Command

	interval time.Duration
	lockTTL  time.Duration
	maxIter  int
}

type Opts struct {
	State         engine.State
	Engine        *engine.Engine
	Shutdown      engine.ShutdownStatus
	Lock          Lock
	Cursors       CursorStore
	Queue         chan<- model.Command
	Interval      time.Duration
	LockTTL       time.Duration
	MaxIterations int
}

func New(opts Opts) *Scanner {
	if opts.Interval <= 0 {
		opts.Interval = time.Minute
	}
	if opts.LockTTL <= 0 {
		// Slightly under the interval so the lock has lapsed by the time
		// the next tick fires anywhere.
		opts.LockTTL = opts.Interval - opts.Interval/10
	}
	if opts.MaxIterations <= 0 {
		opts.MaxIterations = DefaultMaxIterations
	}
	return &Scanner{
		st:       opts.State,
		eng:      opts.Engine,
		shutdown: opts.Shutdown,
		lock:     opts.Lock,
		cursors:  opts.Cursors,
		queue:    opts.Queue,
		interval: opts.Interval,
		lockTTL:  opts.LockTTL,
		maxIter:  opts.MaxIterations,
	}
}

// Run blocks until ctx is cancelled, firing one tick per interval.
func (s *Scanner) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Tick(ctx)
		}
	}
}

// Tick attempts one sweep. If the lock is held elsewhere the tick is a
// complete no-op. Per-item failures are skipped; the iteration budget is the
// only thing that stops a sweep early.
func (s *Scanner) Tick(ctx context.Context) {
	acquired, err := s.lock.TryAcquire(ctx, s.lockTTL)
	if err != nil {
		logger.Error("scan lock acquisition failed", "error", err)
		return
	}
	if !acquired {
		metrics.ScannerSkippedTicks.Inc()
		return
	}

	cursor, err := s.cursors.Load(ctx)
	if err != nil {
		logger.Error("scan cursor load failed, restarting from top", "error", err)
		cursor = model.ScanCursor{}
	}

	next := s.sweep(ctx, cursor)

	if err := s.cursors.Save(ctx, next); err != nil {
		logger.Error("scan cursor save failed", "error", err)
	}
}

// sweep walks up to maxIter positions starting at cursor and returns the
// cursor for the next tick.
func (s *Scanner) sweep(ctx context.Context, cursor model.ScanCursor) model.ScanCursor {
	types := s.st.CollateralTypes()
	if len(types) == 0 {
		return model.ScanCursor{}
	}

	start := 0
	for i, c := range types {
		if c == cursor.CollateralType {
			start = i
			break
		}
	}

	iterations := 0
	resumeOwner := cursor.Owner
	for offset := 0; offset < len(types); offset++ {
		collateral := types[(start+offset)%len(types)]
		lastCovered := ""
		if offset == 0 {
			lastCovered = resumeOwner
		}

		for _, owner := range s.st.PositionOwners(collateral) {
			// Within the resumed collateral type, skip owners already
			// covered by the previous tick. The cursor stores the last
			// covered owner, so the comparison is strict-greater.
			if offset == 0 && resumeOwner != "" && owner <= resumeOwner {
				continue
			}
			if iterations >= s.maxIter {
				return model.ScanCursor{CollateralType: collateral, Owner: lastCovered}
			}
			iterations++
			metrics.ScannerIterations.Inc()
			s.examine(ctx, collateral, owner)
			lastCovered = owner
		}
		resumeOwner = ""
	}
	// Full space covered within budget; next tick starts from the top.
	return model.ScanCursor{}
}

// examine classifies one position and submits a command if needed. Errors
// are logged and skipped.
func (s *Scanner) examine(ctx context.Context, collateral model.AssetID, owner string) {
	pos := s.st.Position(collateral, owner)
	if pos.IsZero() {
		return
	}

	if s.shutdown.IsShutdown() {
		if pos.Debit.IsPositive() {
			s.submit(ctx, model.CommandSettle, collateral, owner)
		}
		return
	}

	status := s.eng.CheckCDPStatus(s.st, collateral, pos.Collateral, pos.Debit)
	switch status.Kind {
	case model.StatusUnsafe:
		s.submit(ctx, model.CommandLiquidate, collateral, owner)
	case model.StatusChecksFailed:
		logger.Debug("position skipped, checks failed",
			"collateral", string(collateral), "owner", owner, "reason", status.Reason)
	}
}

func (s *Scanner) submit(ctx context.Context, kind model.CommandKind, collateral model.AssetID, owner string) {
	cmd := model.Command{
		ID:             uuid.NewString(),
		Kind:           kind,
		CollateralType: collateral,
		Owner:          owner,
		SubmittedAt:    time.Now().UTC(),
	}
	select {
	case s.queue <- cmd:
		metrics.ScannerSubmissions.WithLabelValues(string(kind)).Inc()
	case <-ctx.Done():
	default:
		// A full queue means the dispatcher is saturated; the next tick
		// will rediscover this position.
		logger.Warn("command queue full, dropping submission",
			"kind", string(kind), "collateral", string(collateral), "owner", owner)
	}
}
