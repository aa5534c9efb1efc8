package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
)

// PostgresStateRepo is the durability layer behind the in-memory state: the
// full state is loaded at boot and every committed change set is written
// through inside one transaction.
type PostgresStateRepo struct {
	db *sqlx.DB
}

func NewPostgresStateRepo(db *sqlx.DB) *PostgresStateRepo {
	repo := &PostgresStateRepo{db: db}
	_ = repo.ensureSchema(context.Background())
	return repo
}

// Load hydrates the in-memory state from the database.
func (r *PostgresStateRepo) Load(ctx context.Context, st *engine.MemState) error {
	rows, err := r.db.QueryxContext(ctx, `SELECT collateral_type, params FROM cdp_params`)
	if err != nil {
		return fmt.Errorf("load params: %w", err)
	}
	for rows.Next() {
		var collateral string
		var raw []byte
		if err := rows.Scan(&collateral, &raw); err != nil {
			rows.Close()
			return err
		}
		var p model.RiskParams
		if err := json.Unmarshal(raw, &p); err != nil {
			rows.Close()
			return fmt.Errorf("decode params for %s: %w", collateral, err)
		}
		st.PutParams(model.AssetID(collateral), p)
	}
	rows.Close()

	rows, err = r.db.QueryxContext(ctx, `SELECT collateral_type, rate FROM cdp_rates`)
	if err != nil {
		return fmt.Errorf("load rates: %w", err)
	}
	for rows.Next() {
		var collateral, rate string
		if err := rows.Scan(&collateral, &rate); err != nil {
			rows.Close()
			return err
		}
		st.PutExchangeRate(model.AssetID(collateral), mustDecimal(rate))
	}
	rows.Close()

	rows, err = r.db.QueryxContext(ctx, `SELECT collateral_type, owner, collateral, debit FROM cdp_positions`)
	if err != nil {
		return fmt.Errorf("load positions: %w", err)
	}
	for rows.Next() {
		var collateralType, owner, collateral, debit string
		if err := rows.Scan(&collateralType, &owner, &collateral, &debit); err != nil {
			rows.Close()
			return err
		}
		st.PutPosition(model.AssetID(collateralType), owner, model.Position{
			Owner:      owner,
			Collateral: mustDecimal(collateral),
			Debit:      mustDecimal(debit),
		})
	}
	rows.Close()

	rows, err = r.db.QueryxContext(ctx, `SELECT collateral_type, total_debit FROM cdp_totals`)
	if err != nil {
		return fmt.Errorf("load totals: %w", err)
	}
	for rows.Next() {
		var collateral, total string
		if err := rows.Scan(&collateral, &total); err != nil {
			rows.Close()
			return err
		}
		st.PutTotalDebit(model.AssetID(collateral), mustDecimal(total))
	}
	rows.Close()

	rows, err = r.db.QueryxContext(ctx, `SELECT owner, asset, balance FROM cdp_balances`)
	if err != nil {
		return fmt.Errorf("load balances: %w", err)
	}
	for rows.Next() {
		var owner, asset, balance string
		if err := rows.Scan(&owner, &asset, &balance); err != nil {
			rows.Close()
			return err
		}
		st.PutBalance(owner, model.AssetID(asset), mustDecimal(balance))
	}
	rows.Close()

	var contracts []string
	if err := r.db.SelectContext(ctx, &contracts, `SELECT endpoint FROM cdp_contracts ORDER BY position`); err != nil {
		return fmt.Errorf("load contracts: %w", err)
	}
	if len(contracts) > 0 {
		st.PutContracts(contracts)
	}

	var debtPool, surplusPool string
	var lastAccrual *time.Time
	err = r.db.QueryRowxContext(ctx,
		`SELECT debt_pool, surplus_pool, last_accrual FROM cdp_global WHERE id = 1`).
		Scan(&debtPool, &surplusPool, &lastAccrual)
	if err == nil {
		st.PutDebtPool(mustDecimal(debtPool))
		st.PutSurplusPool(mustDecimal(surplusPool))
		if lastAccrual != nil {
			st.PutLastAccrual(*lastAccrual)
		}
	}
	return nil
}

// LoadShutdown reads the persisted shutdown flag. A missing row means the
// protocol never shut down.
func (r *PostgresStateRepo) LoadShutdown(ctx context.Context) (bool, error) {
	var shutdown bool
	err := r.db.QueryRowxContext(ctx,
		`SELECT shutdown FROM cdp_global WHERE id = 1`).Scan(&shutdown)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("load shutdown flag: %w", err)
	}
	return shutdown, nil
}

// SaveShutdown marks the protocol as shut down. The flag never clears.
func (r *PostgresStateRepo) SaveShutdown(ctx context.Context) error {
	if _, err := r.db.ExecContext(ctx, `
		INSERT INTO cdp_global (id, shutdown) VALUES (1, TRUE)
		ON CONFLICT (id) DO UPDATE SET shutdown = TRUE`); err != nil {
		return fmt.Errorf("save shutdown flag: %w", err)
	}
	return nil
}

// Apply writes one committed change set through in a single transaction.
func (r *PostgresStateRepo) Apply(ctx context.Context, cs engine.ChangeSet) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for collateral, p := range cs.Params {
		raw, err := json.Marshal(p)
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cdp_params (collateral_type, params, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (collateral_type) DO UPDATE SET params = $2, updated_at = NOW()
		`, string(collateral), raw); err != nil {
			return err
		}
	}
	for collateral, rate := range cs.Rates {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cdp_rates (collateral_type, rate, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (collateral_type) DO UPDATE SET rate = $2, updated_at = NOW()
		`, string(collateral), rate.String()); err != nil {
			return err
		}
	}
	for key, pos := range cs.Positions {
		if pos.IsZero() {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cdp_positions WHERE collateral_type = $1 AND owner = $2`,
				string(key.Collateral), key.Owner); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cdp_positions (collateral_type, owner, collateral, debit, updated_at)
			VALUES ($1, $2, $3, $4, NOW())
			ON CONFLICT (collateral_type, owner) DO UPDATE SET collateral = $3, debit = $4, updated_at = NOW()
		`, string(key.Collateral), key.Owner, pos.Collateral.String(), pos.Debit.String()); err != nil {
			return err
		}
	}
	for collateral, total := range cs.Totals {
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cdp_totals (collateral_type, total_debit, updated_at)
			VALUES ($1, $2, NOW())
			ON CONFLICT (collateral_type) DO UPDATE SET total_debit = $2, updated_at = NOW()
		`, string(collateral), total.String()); err != nil {
			return err
		}
	}
	for key, balance := range cs.Balances {
		if balance.IsZero() {
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM cdp_balances WHERE owner = $1 AND asset = $2`,
				key.Owner, string(key.Asset)); err != nil {
				return err
			}
			continue
		}
		if _, err := tx.ExecContext(ctx, `
			INSERT INTO cdp_balances (owner, asset, balance, updated_at)
			VALUES ($1, $2, $3, NOW())
			ON CONFLICT (owner, asset) DO UPDATE SET balance = $3, updated_at = NOW()
		`, key.Owner, string(key.Asset), balance.String()); err != nil {
			return err
		}
	}
	if cs.HasContr {
		if _, err := tx.ExecContext(ctx, `DELETE FROM cdp_contracts`); err != nil {
			return err
		}
		for i, endpoint := range cs.Contracts {
			if _, err := tx.ExecContext(ctx,
				`INSERT INTO cdp_contracts (position, endpoint) VALUES ($1, $2)`,
				i, endpoint); err != nil {
				return err
			}
		}
	}
	if cs.DebtPool != nil || cs.SurplusPool != nil || cs.LastAccrual != nil {
		if err := r.applyGlobal(ctx, tx, cs); err != nil {
			return err
		}
	}
	return tx.Commit()
}

func (r *PostgresStateRepo) applyGlobal(ctx context.Context, tx *sqlx.Tx, cs engine.ChangeSet) error {
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO cdp_global (id, debt_pool, surplus_pool)
		VALUES (1, '0', '0')
		ON CONFLICT (id) DO NOTHING
	`); err != nil {
		return err
	}
	if cs.DebtPool != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cdp_global SET debt_pool = $1 WHERE id = 1`, cs.DebtPool.String()); err != nil {
			return err
		}
	}
	if cs.SurplusPool != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cdp_global SET surplus_pool = $1 WHERE id = 1`, cs.SurplusPool.String()); err != nil {
			return err
		}
	}
	if cs.LastAccrual != nil {
		if _, err := tx.ExecContext(ctx,
			`UPDATE cdp_global SET last_accrual = $1 WHERE id = 1`, *cs.LastAccrual); err != nil {
			return err
		}
	}
	return nil
}

func (r *PostgresStateRepo) ensureSchema(ctx context.Context) error {
	_, err := r.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS cdp_params (
			collateral_type TEXT PRIMARY KEY,
			params JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS cdp_rates (
			collateral_type TEXT PRIMARY KEY,
			rate TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS cdp_positions (
			collateral_type TEXT NOT NULL,
			owner TEXT NOT NULL,
			collateral TEXT NOT NULL,
			debit TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (collateral_type, owner)
		);
		CREATE TABLE IF NOT EXISTS cdp_totals (
			collateral_type TEXT PRIMARY KEY,
			total_debit TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
		);
		CREATE TABLE IF NOT EXISTS cdp_balances (
			owner TEXT NOT NULL,
			asset TEXT NOT NULL,
			balance TEXT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			PRIMARY KEY (owner, asset)
		);
		CREATE TABLE IF NOT EXISTS cdp_contracts (
			position INTEGER PRIMARY KEY,
			endpoint TEXT NOT NULL
		);
		CREATE TABLE IF NOT EXISTS cdp_global (
			id INTEGER PRIMARY KEY,
			debt_pool TEXT NOT NULL DEFAULT '0',
			surplus_pool TEXT NOT NULL DEFAULT '0',
			last_accrual TIMESTAMPTZ,
			shutdown BOOLEAN NOT NULL DEFAULT FALSE
		)
	`)
	return err
}

func mustDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
