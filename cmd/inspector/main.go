// Inspector dumps the persisted protocol state: risk parameters, exchange
// rates, positions, pools, and the contract registry. Point it at the same
// database the server writes through to. With -price flags it also
// recomputes each position's health classification.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/config"
	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/repository"
)

type priceFlags map[model.AssetID]decimal.Decimal

func (p priceFlags) String() string { return fmt.Sprint(map[model.AssetID]decimal.Decimal(p)) }

func (p priceFlags) Set(v string) error {
	asset, raw, ok := strings.Cut(v, "=")
	if !ok {
		return fmt.Errorf("expected ASSET=PRICE, got %q", v)
	}
	d, err := decimal.NewFromString(raw)
	if err != nil {
		return err
	}
	p[model.AssetID(asset)] = d
	return nil
}

func (p priceFlags) GetPrice(asset model.AssetID) (decimal.Decimal, bool) {
	d, ok := p[asset]
	return d, ok
}

func main() {
	collateralFlag := flag.String("collateral", "", "restrict the dump to one collateral type")
	prices := priceFlags{}
	flag.Var(prices, "price", "oracle price as ASSET=PRICE, repeatable; enables status recomputation")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if cfg.Database.DSN == "" {
		log.Fatal("database.dsn is not configured")
	}

	db, err := repository.NewDB(cfg)
	if err != nil {
		log.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer db.Close()

	st := engine.NewMemState(decimal.NewFromFloat(cfg.Risk.DefaultDebitExchangeRate))
	if err := repository.NewPostgresStateRepo(db).Load(context.Background(), st); err != nil {
		log.Fatalf("Failed to load state snapshot: %v", err)
	}

	var eng *engine.Engine
	if len(prices) > 0 {
		assets := model.NewAssetRegistry(model.AssetID(cfg.Assets.StableCurrency))
		for _, c := range cfg.Assets.Collaterals {
			assets.Register(model.AssetID(c))
		}
		eng = engine.New(assets, prices, nil, nil, nil, nil, engine.Limits{
			MinimumCollateralAmount: decimal.NewFromFloat(cfg.Risk.MinimumCollateralAmount),
			MinimumDebitValue:       decimal.NewFromFloat(cfg.Risk.MinimumDebitValue),
			MaxSwapSlippage:         decimal.NewFromFloat(cfg.Risk.MaxSwapSlippage),
		})
	}

	fmt.Printf("debt pool:    %s\n", st.DebtPool())
	fmt.Printf("surplus pool: %s\n", st.SurplusPool())
	if last := st.LastAccrual(); !last.IsZero() {
		fmt.Printf("last accrual: %s\n", last.Format("2006-01-02 15:04:05 MST"))
	}

	if contracts := st.Contracts(); len(contracts) > 0 {
		fmt.Println("\nliquidation contracts:")
		for i, c := range contracts {
			fmt.Printf("  %d. %s\n", i+1, c)
		}
	}

	for _, collateral := range st.CollateralTypes() {
		if *collateralFlag != "" && string(collateral) != *collateralFlag {
			continue
		}
		params, _ := st.Params(collateral)
		fmt.Printf("\n%s\n", collateral)
		fmt.Printf("  exchange rate: %s\n", st.ExchangeRate(collateral))
		fmt.Printf("  total debit:   %s\n", st.TotalDebit(collateral))
		fmt.Printf("  hard cap:      %s\n", params.MaxTotalDebitValue)
		if params.LiquidationRatio != nil {
			fmt.Printf("  liq ratio:     %s\n", params.LiquidationRatio)
		}
		for _, owner := range st.PositionOwners(collateral) {
			pos := st.Position(collateral, owner)
			line := fmt.Sprintf("  %-24s collateral=%s debit=%s", owner, pos.Collateral, pos.Debit)
			if eng != nil {
				status := eng.CheckCDPStatus(st, collateral, pos.Collateral, pos.Debit)
				line += "  status=" + status.Kind.String()
				if status.Reason != "" {
					line += " (" + status.Reason + ")"
				}
			}
			fmt.Println(line)
		}
	}
}
