package service

import (
	"context"
	"time"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/apperrors"
	"github.com/openstable/cdpcore/internal/pkg/logger"
	"github.com/openstable/cdpcore/internal/pkg/metrics"
)

// StateStore is the write-through persistence behind the in-memory state.
type StateStore interface {
	Apply(ctx context.Context, cs engine.ChangeSet) error
}

// RecordSink receives liquidation/settlement result records.
type RecordSink interface {
	Insert(ctx context.Context, rec *model.LiquidationRecord) error
}

// ShutdownStore persists the one-way shutdown flag across restarts.
type ShutdownStore interface {
	SaveShutdown(ctx context.Context) error
}

// CDPService owns the authoritative state and serializes every mutating
// operation: each runs against an overlay that is committed only on success,
// then written through to the store. The in-memory state stays authoritative
// if the store is down; persistence failures are logged, not surfaced.
type CDPService struct {
	st       *engine.MemState
	eng      *engine.Engine
	assets   *model.AssetRegistry
	shutdown *ShutdownFlag

	store         StateStore    // optional
	records       RecordSink    // optional
	shutdownStore ShutdownStore // optional

	governance Policy
	operator   Policy

	mu chan struct{} // binary semaphore; engine transactions are single-threaded
}

type CDPServiceOpts struct {
	State      *engine.MemState
	Engine     *engine.Engine
	Assets     *model.AssetRegistry
	Shutdown   *ShutdownFlag
	Store         StateStore
	Records       RecordSink
	ShutdownStore ShutdownStore
	Governance    Policy
	Operator      Policy
}

func NewCDPService(opts CDPServiceOpts) *CDPService {
	s := &CDPService{
		st:            opts.State,
		eng:           opts.Engine,
		assets:        opts.Assets,
		shutdown:      opts.Shutdown,
		store:         opts.Store,
		records:       opts.Records,
		shutdownStore: opts.ShutdownStore,
		governance:    opts.Governance,
		operator:      opts.Operator,
		mu:            make(chan struct{}, 1),
	}
	return s
}

// exec runs one atomic transaction: overlay, mutate, commit, write-through.
func (s *CDPService) exec(ctx context.Context, fn func(st engine.State) error) error {
	select {
	case s.mu <- struct{}{}:
		defer func() { <-s.mu }()
	case <-ctx.Done():
		return apperrors.New(apperrors.ErrInternal, "request cancelled while queued", ctx.Err())
	}

	ov := engine.NewOverlay(s.st)
	if err := fn(ov); err != nil {
		return err
	}
	cs := ov.Changes()
	ov.Commit()
	if s.store != nil {
		if err := s.store.Apply(ctx, cs); err != nil {
			// Memory stays authoritative; the store catches up on the next
			// write of the same keys.
			logger.LogError(ctx, err, "state write-through failed")
		}
	}
	return nil
}

func (s *CDPService) saveRecord(ctx context.Context, rec *model.LiquidationRecord) {
	if s.records == nil || rec == nil {
		return
	}
	if err := s.records.Insert(ctx, rec); err != nil {
		logger.LogError(ctx, err, "failed to persist liquidation record", "record_id", rec.ID)
	}
}

// --- governance operations ---

func (s *CDPService) SetCollateralParams(ctx context.Context, callers []string, collateral model.AssetID, update model.ParamsUpdate) error {
	if err := authorize(s.governance, callers); err != nil {
		return err
	}
	if !s.assets.IsCollateralEligible(collateral) {
		return apperrors.New(apperrors.ErrInvalidCollateralType,
			"asset "+string(collateral)+" is not collateral eligible", nil)
	}
	return s.exec(ctx, func(st engine.State) error {
		s.eng.SetCollateralParams(st, collateral, update)
		return nil
	})
}

func (s *CDPService) RegisterLiquidationContract(ctx context.Context, callers []string, endpoint string) error {
	if err := authorize(s.governance, callers); err != nil {
		return err
	}
	return s.exec(ctx, func(st engine.State) error {
		return s.eng.RegisterLiquidationContract(st, endpoint)
	})
}

func (s *CDPService) DeregisterLiquidationContract(ctx context.Context, callers []string, endpoint string) error {
	if err := authorize(s.governance, callers); err != nil {
		return err
	}
	return s.exec(ctx, func(st engine.State) error {
		return s.eng.DeregisterLiquidationContract(st, endpoint)
	})
}

// TriggerShutdown flips the global shutdown flag. Irreversible.
func (s *CDPService) TriggerShutdown(ctx context.Context, callers []string) error {
	if err := authorize(s.governance, callers); err != nil {
		return err
	}
	if !s.shutdown.Trigger() {
		return apperrors.New(apperrors.ErrAlreadyShutdown, "shutdown is already active", nil)
	}
	if s.shutdownStore != nil {
		if err := s.shutdownStore.SaveShutdown(ctx); err != nil {
			// Memory stays authoritative; the flag is re-armed by governance
			// if the process restarts before persistence recovers.
			logger.Error("failed to persist shutdown flag", "error", err)
		}
	}
	logger.Warn("protocol shutdown triggered")
	return nil
}

// --- position operations ---

func (s *CDPService) AdjustPosition(ctx context.Context, owner string, collateral model.AssetID, collateralDelta, debitDelta decimal.Decimal) error {
	err := s.exec(ctx, func(st engine.State) error {
		return s.eng.AdjustPosition(st, owner, collateral, collateralDelta, debitDelta)
	})
	countAdjustment("adjust", err)
	return err
}

func (s *CDPService) AdjustPositionByDebitValue(ctx context.Context, owner string, collateral model.AssetID, collateralDelta, debitValueDelta decimal.Decimal) error {
	err := s.exec(ctx, func(st engine.State) error {
		return s.eng.AdjustPositionByDebitValue(st, owner, collateral, collateralDelta, debitValueDelta)
	})
	countAdjustment("adjust_by_debit_value", err)
	return err
}

func (s *CDPService) ExpandPositionCollateral(ctx context.Context, owner string, collateral model.AssetID, increaseDebitValue, minIncreaseCollateral decimal.Decimal) error {
	err := s.exec(ctx, func(st engine.State) error {
		return s.eng.ExpandPositionCollateral(st, owner, collateral, increaseDebitValue, minIncreaseCollateral)
	})
	countAdjustment("expand", err)
	return err
}

func (s *CDPService) ShrinkPositionDebit(ctx context.Context, owner string, collateral model.AssetID, decreaseCollateral, minDecreaseDebitValue decimal.Decimal) error {
	err := s.exec(ctx, func(st engine.State) error {
		return s.eng.ShrinkPositionDebit(st, owner, collateral, decreaseCollateral, minDecreaseDebitValue)
	})
	countAdjustment("shrink", err)
	return err
}

func (s *CDPService) CloseCDPHasDebitByDEX(ctx context.Context, owner string, collateral model.AssetID, maxCollateralAmount decimal.Decimal) error {
	err := s.exec(ctx, func(st engine.State) error {
		return s.eng.CloseCDPHasDebitByDEX(st, owner, collateral, maxCollateralAmount)
	})
	countAdjustment("close_by_dex", err)
	return err
}

// --- liquidation and settlement ---

func (s *CDPService) LiquidateUnsafeCDP(ctx context.Context, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	var rec *model.LiquidationRecord
	err := s.exec(ctx, func(st engine.State) error {
		var inner error
		rec, inner = s.eng.LiquidateUnsafeCDP(ctx, st, owner, collateral)
		return inner
	})
	if err != nil {
		metrics.Liquidations.WithLabelValues("none", "error").Inc()
		return nil, err
	}
	metrics.Liquidations.WithLabelValues(rec.Strategy, "ok").Inc()
	logger.Info("position liquidated",
		"owner", owner, "collateral", string(collateral),
		"bad_debt", rec.BadDebtValue.String(), "target", rec.TargetAmount.String(),
		"raised", rec.RaisedAmount.String(), "strategy", rec.Strategy)
	s.saveRecord(ctx, rec)
	return rec, nil
}

func (s *CDPService) LiquidateViaContracts(ctx context.Context, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	var rec *model.LiquidationRecord
	err := s.exec(ctx, func(st engine.State) error {
		var inner error
		rec, inner = s.eng.LiquidateViaContracts(ctx, st, owner, collateral)
		return inner
	})
	if err != nil {
		metrics.Liquidations.WithLabelValues(model.StrategyContract, "error").Inc()
		return nil, err
	}
	metrics.Liquidations.WithLabelValues(rec.Strategy, "ok").Inc()
	s.saveRecord(ctx, rec)
	return rec, nil
}

// SettleCDPHasDebit is the public settlement entry; it requires shutdown.
func (s *CDPService) SettleCDPHasDebit(ctx context.Context, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	var rec *model.LiquidationRecord
	err := s.exec(ctx, func(st engine.State) error {
		var inner error
		rec, inner = s.eng.SettleCDPHasDebit(st, owner, collateral)
		return inner
	})
	if err != nil {
		metrics.Settlements.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Settlements.WithLabelValues("ok").Inc()
	s.saveRecord(ctx, rec)
	return rec, nil
}

// ForceSettleCDP is the operator cleanup path with no shutdown gate.
func (s *CDPService) ForceSettleCDP(ctx context.Context, callers []string, owner string, collateral model.AssetID) (*model.LiquidationRecord, error) {
	if err := authorize(s.operator, callers); err != nil {
		return nil, err
	}
	var rec *model.LiquidationRecord
	err := s.exec(ctx, func(st engine.State) error {
		var inner error
		rec, inner = s.eng.ForceSettleCDP(st, owner, collateral)
		return inner
	})
	if err != nil {
		metrics.Settlements.WithLabelValues("error").Inc()
		return nil, err
	}
	metrics.Settlements.WithLabelValues("ok").Inc()
	s.saveRecord(ctx, rec)
	return rec, nil
}

// --- accrual ---

// AccrueInterest runs one accrual pass as its own transaction.
func (s *CDPService) AccrueInterest(ctx context.Context, now time.Time) error {
	err := s.exec(ctx, func(st engine.State) error {
		s.eng.AccumulateInterest(st, now)
		return nil
	})
	if err == nil {
		metrics.AccrualPasses.Inc()
	}
	return err
}

// --- queries (read-only, no overlay needed) ---

func (s *CDPService) Position(collateral model.AssetID, owner string) model.Position {
	return s.st.Position(collateral, owner)
}

func (s *CDPService) PositionStatus(collateral model.AssetID, owner string) model.Status {
	pos := s.st.Position(collateral, owner)
	return s.eng.CheckCDPStatus(s.st, collateral, pos.Collateral, pos.Debit)
}

func (s *CDPService) Params(collateral model.AssetID) (model.RiskParams, bool) {
	return s.st.Params(collateral)
}

func (s *CDPService) CollateralTypes() []model.AssetID {
	return s.st.CollateralTypes()
}

func (s *CDPService) ExchangeRate(collateral model.AssetID) decimal.Decimal {
	return s.st.ExchangeRate(collateral)
}

func (s *CDPService) TotalDebit(collateral model.AssetID) decimal.Decimal {
	return s.st.TotalDebit(collateral)
}

func (s *CDPService) Contracts() []string {
	return s.st.Contracts()
}

func (s *CDPService) Pools() (debt, surplus decimal.Decimal) {
	return s.st.DebtPool(), s.st.SurplusPool()
}

func (s *CDPService) IsShutdown() bool {
	return s.shutdown.IsShutdown()
}

// State exposes the authoritative state for the scanner's read-only sweep.
func (s *CDPService) State() *engine.MemState {
	return s.st
}

func countAdjustment(op string, err error) {
	if err != nil {
		metrics.Adjustments.WithLabelValues(op, "error").Inc()
		metrics.ValidationRejects.WithLabelValues(string(apperrors.TypeOf(err))).Inc()
		return
	}
	metrics.Adjustments.WithLabelValues(op, "ok").Inc()
}
