package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"

	"github.com/openstable/cdpcore/internal/config"
	"github.com/openstable/cdpcore/internal/engine"
	"github.com/openstable/cdpcore/internal/handler"
	"github.com/openstable/cdpcore/internal/middleware"
	"github.com/openstable/cdpcore/internal/model"
	"github.com/openstable/cdpcore/internal/pkg/logger"
	"github.com/openstable/cdpcore/internal/repository"
	"github.com/openstable/cdpcore/internal/scanner"
	"github.com/openstable/cdpcore/internal/service"
	"github.com/openstable/cdpcore/internal/venue"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	logger.Init(cfg.LogLevel)

	// Persistence. The in-memory state stays authoritative; Postgres is a
	// write-through mirror plus the boot snapshot, Redis carries the scan
	// lock and cursor. Either backend may be absent in development.
	var (
		stateRepo *repository.PostgresStateRepo
		records   *repository.RecordStore
	)
	if cfg.Database.DSN != "" {
		db, err := repository.NewDB(cfg)
		if err != nil {
			logger.Error("Failed to connect to PostgreSQL, state will not persist", "error", err)
		} else {
			logger.Info("Connected to PostgreSQL")
			stateRepo = repository.NewPostgresStateRepo(db)
			if records, err = repository.NewRecordStore(cfg.Database.DSN); err != nil {
				logger.Error("Failed to open liquidation record store", "error", err)
				records = nil
			}
		}
	}

	var (
		scanLock    scanner.Lock
		cursorStore scanner.CursorStore
	)
	var redisClient *repository.RedisClient
	if cfg.Redis.Addr != "" {
		if redisClient, err = repository.NewRedisClient(cfg); err != nil {
			logger.Error("Failed to connect to Redis, using in-process scan lock", "error", err)
			redisClient = nil
		} else {
			logger.Info("Connected to Redis")
			scanLock = repository.NewRedisScanLock(redisClient.Client, cfg.Scanner.NodeID)
			cursorStore = repository.NewRedisCursorStore(redisClient.Client)
		}
	}
	if scanLock == nil {
		scanLock = repository.NewMemoryScanLock()
		cursorStore = repository.NewMemoryCursorStore()
	}

	// Asset universe and state.
	assets := model.NewAssetRegistry(model.AssetID(cfg.Assets.StableCurrency))
	for _, c := range cfg.Assets.Collaterals {
		assets.Register(model.AssetID(c))
	}

	st := engine.NewMemState(decimal.NewFromFloat(cfg.Risk.DefaultDebitExchangeRate))
	if stateRepo != nil {
		if err := stateRepo.Load(context.Background(), st); err != nil {
			log.Fatalf("Failed to load state snapshot: %v", err)
		}
	}

	// Venues.
	var rdb *redis.Client
	if redisClient != nil {
		rdb = redisClient.Client
	}
	prices := venue.NewPriceFeed(
		cfg.Oracle.FeedURL,
		cfg.Assets.Collaterals,
		time.Duration(cfg.Oracle.StaleAfterSecs)*time.Second,
		rdb,
	)
	prices.Start()

	amm := venue.NewAMM()
	auctions := venue.NewAuctionHouse()
	caller, err := venue.NewEthContractCaller(
		cfg.Chain.RPCURL,
		time.Duration(cfg.Chain.ContractTimeoutMs)*time.Millisecond,
		cfg.Chain.ContractRetries,
	)
	if err != nil {
		log.Fatalf("Failed to initialize contract caller: %v", err)
	}

	// Core service.
	shutdown := service.NewShutdownFlag()
	if stateRepo != nil {
		wasShutdown, err := stateRepo.LoadShutdown(context.Background())
		if err != nil {
			logger.Error("Failed to load shutdown flag", "error", err)
		} else if wasShutdown {
			shutdown.Restore()
			logger.Warn("protocol shutdown restored from snapshot")
		}
	}

	eng := engine.New(assets, prices, amm, auctions, caller, shutdown, engine.Limits{
		MinimumCollateralAmount: decimal.NewFromFloat(cfg.Risk.MinimumCollateralAmount),
		MinimumDebitValue:       decimal.NewFromFloat(cfg.Risk.MinimumDebitValue),
		MaxSwapSlippage:         decimal.NewFromFloat(cfg.Risk.MaxSwapSlippage),
	})

	svcOpts := service.CDPServiceOpts{
		State:      st,
		Engine:     eng,
		Assets:     assets,
		Shutdown:   shutdown,
		Governance: governancePolicy(cfg),
		Operator:   service.RootPolicy{Key: cfg.Auth.OperatorKey},
	}
	if stateRepo != nil {
		svcOpts.Store = stateRepo
		svcOpts.ShutdownStore = stateRepo
	}
	if records != nil {
		svcOpts.Records = records
	}
	svc := service.NewCDPService(svcOpts)

	accountManager := service.NewAccountManager(cfg)

	// Background loops.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	accrual := service.NewAccrualLoop(svc, time.Minute)
	go accrual.Run(ctx)

	queue := make(chan model.Command, cfg.Scanner.QueueSize)
	dispatcher := service.NewDispatcher(svc, queue)
	go dispatcher.Run(ctx)

	if cfg.Scanner.Enabled {
		sc := scanner.New(scanner.Opts{
			State:         st,
			Engine:        eng,
			Shutdown:      shutdown,
			Lock:          scanLock,
			Cursors:       cursorStore,
			Queue:         queue,
			Interval:      time.Duration(cfg.Scanner.IntervalSeconds) * time.Second,
			LockTTL:       time.Duration(cfg.Scanner.LockTTLSeconds) * time.Second,
			MaxIterations: cfg.Scanner.MaxIterations,
		})
		go sc.Run(ctx)
	}

	// HTTP surface.
	positionHandler := handler.NewPositionHandler(svc)
	liquidationHandler := handler.NewLiquidationHandler(svc, records, auctions)
	governanceHandler := handler.NewGovernanceHandler(svc)

	r := gin.Default()
	r.Use(middleware.ErrorHandler())
	r.Use(middleware.MetricsMiddleware())

	r.GET("/health", func(c *gin.Context) {
		c.JSON(200, gin.H{"status": "ok", "service": "cdpcore"})
	})
	if cfg.Metrics.Enabled {
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.Handler()))
	}

	v1 := r.Group("/v1")
	v1.Use(middleware.AuthMiddleware(cfg, accountManager))
	v1.Use(middleware.RateLimitMiddleware(accountManager))
	{
		v1.POST("/positions/adjust", positionHandler.Adjust)
		v1.POST("/positions/adjust-by-value", positionHandler.AdjustByDebitValue)
		v1.POST("/positions/expand", positionHandler.Expand)
		v1.POST("/positions/shrink", positionHandler.Shrink)
		v1.POST("/positions/close", positionHandler.Close)
		v1.GET("/positions/:collateral", positionHandler.Get)
		v1.GET("/positions/:collateral/status", positionHandler.Status)

		v1.POST("/liquidations", liquidationHandler.Liquidate)
		v1.POST("/settlements", liquidationHandler.Settle)
		v1.GET("/liquidations/records", liquidationHandler.Records)
		v1.GET("/pools", liquidationHandler.Pools)
		v1.GET("/auctions", liquidationHandler.Auctions)
		v1.GET("/shutdown", liquidationHandler.Shutdown)

		v1.GET("/collaterals", governanceHandler.ListCollateralTypes)
		v1.GET("/collaterals/:collateral/params", governanceHandler.GetParams)
		v1.GET("/contracts", governanceHandler.ListContracts)
	}

	gov := r.Group("/v1/governance")
	gov.Use(middleware.GovernanceMiddleware())
	{
		gov.PUT("/collaterals/:collateral/params", governanceHandler.SetParams)
		gov.POST("/contracts", governanceHandler.RegisterContract)
		gov.DELETE("/contracts", governanceHandler.DeregisterContract)
		gov.POST("/shutdown", governanceHandler.TriggerShutdown)
	}

	ops := r.Group("/v1/operator")
	ops.Use(middleware.OperatorMiddleware())
	{
		ops.POST("/settlements/:collateral/:owner", governanceHandler.ForceSettle)
	}

	srv := &http.Server{
		Addr:    ":" + cfg.Server.Port,
		Handler: r,
	}

	go func() {
		logger.Info("cdpcore started", "port", cfg.Server.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server listen failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	logger.Info("Shutting down server...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	cancel()
	prices.Stop()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("Server forced to shutdown", "error", err)
	}
	logger.Info("Server exited")
}

func governancePolicy(cfg *config.Config) service.Policy {
	if len(cfg.Auth.GovernanceKeys) == 1 {
		return service.RootPolicy{Key: cfg.Auth.GovernanceKeys[0]}
	}
	return service.AnyOfPolicy(cfg.Auth.GovernanceKeys)
}
