package main

import (
	"context"
	"fmt"
	"time"

	"github.com/lot-ledger/internal/cache"
	"github.com/lot-ledger/internal/config"
	"github.com/lot-ledger/internal/database"
	"github.com/lot-ledger/internal/logger"
	"github.com/lot-ledger/internal/repository"
	"github.com/lot-ledger/internal/repository/memory"
	"github.com/lot-ledger/internal/service"
	"github.com/lot-ledger/internal/tracing"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// app is the wired set of components shared by every subcommand
type app struct {
	cfg    *config.Config
	logger *zap.Logger

	trades    *service.TradeService
	positions *service.PositionService
	pnl       *service.PnLService

	closers []func() error
}

func newApp(path string) (*app, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}

	log, err := logger.New(logger.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Dir:    cfg.Log.Dir,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	a := &app{cfg: cfg, logger: log}
	a.closers = append(a.closers, func() error {
		_ = log.Sync()
		return nil
	})

	if err := tracing.Init(cfg.Tracing.Enabled, Version); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.closers = append(a.closers, func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return tracing.Shutdown(ctx)
	})

	store, err := a.openStore()
	if err != nil {
		a.Close()
		return nil, err
	}
	snapshots := a.openCache()

	a.trades = service.NewTradeService(store, snapshots, log)
	a.positions = service.NewPositionService(store, snapshots, log)
	a.pnl = service.NewPnLService(store, snapshots, log)
	return a, nil
}

func (a *app) openStore() (service.LedgerStore, error) {
	if a.cfg.Database.Driver == config.DriverMemory {
		a.logger.Warn("Using in-memory ledger store; data is lost on exit")
		return memory.NewStore(), nil
	}

	db, err := database.Open(a.cfg.Database, a.cfg.Server.Mode)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, sqlDB.Close)

	if err := repository.AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	a.logger.Info("Ledger store ready", zap.String("driver", a.cfg.Database.Driver))
	return repository.NewLedgerRepository(db), nil
}

// openCache returns nil when redis is disabled
func (a *app) openCache() service.SnapshotCache {
	if !a.cfg.Redis.Enabled {
		return nil
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", a.cfg.Redis.Host, a.cfg.Redis.Port),
		Password: a.cfg.Redis.Password,
		DB:       a.cfg.Redis.DB,
	})
	a.closers = append(a.closers, rdb.Close)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		a.logger.Warn("Redis unreachable; snapshots will be read from the store", zap.Error(err))
	}

	return cache.NewRedisSnapshotCache(rdb, a.cfg.Redis.CacheTTL())
}

// Close releases resources in reverse order of acquisition
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil && a.logger != nil {
			a.logger.Warn("Error during shutdown", zap.Error(err))
		}
	}
}
