package service

import (
	"context"
	"errors"

	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
	"github.com/openstable/cdpcore/internal/pkg/logger"
)

// Dispatcher consumes the scanner's command queue and executes the requested
// liquidations and settlements. Losing a race to another node surfaces as
// MustBeUnsafe or NoDebitValue on an already-zeroed position; those are
// logged at debug and dropped.
type Dispatcher struct {
	svc   *CDPService
	queue <-chan model.Command
}

func NewDispatcher(svc *CDPService, queue <-chan model.Command) *Dispatcher {
	return &Dispatcher{svc: svc, queue: queue}
}

// Run blocks until ctx is cancelled or the queue closes.
func (d *Dispatcher) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case cmd, ok := <-d.queue:
			if !ok {
				return
			}
			d.handle(ctx, cmd)
		}
	}
}

func (d *Dispatcher) handle(ctx context.Context, cmd model.Command) {
	var err error
	switch cmd.Kind {
	case model.CommandLiquidate:
		_, err = d.svc.LiquidateUnsafeCDP(ctx, cmd.Owner, cmd.CollateralType)
	case model.CommandSettle:
		_, err = d.svc.SettleCDPHasDebit(ctx, cmd.Owner, cmd.CollateralType)
	default:
		logger.Warn("unknown command kind", "kind", string(cmd.Kind), "command_id", cmd.ID)
		return
	}
	if err == nil {
		return
	}
	if lostRace(err) {
		logger.Debug("command already satisfied",
			"command_id", cmd.ID, "kind", string(cmd.Kind),
			"owner", cmd.Owner, "collateral", string(cmd.CollateralType))
		return
	}
	logger.Error("command execution failed",
		"command_id", cmd.ID, "kind", string(cmd.Kind),
		"owner", cmd.Owner, "collateral", string(cmd.CollateralType), "error", err)
}

func lostRace(err error) bool {
	var appErr *apperrors.AppError
	if !errors.As(err, &appErr) {
		return false
	}
	return appErr.Type == apperrors.ErrMustBeUnsafe || appErr.Type == apperrors.ErrNoDebitValue
}
