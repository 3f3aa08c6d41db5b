package service

import (
	"context"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/repository"
)

// LedgerStore is the persistence contract the ledger core runs on
type LedgerStore interface {
	CreateTrade(ctx context.Context, trade *models.Trade) error
	GetTrade(ctx context.Context, id uint) (*models.Trade, error)
	ListTrades(ctx context.Context, filter repository.TradeFilter) ([]models.Trade, int64, error)
	OpenLots(ctx context.Context) ([]models.Lot, error)
	RealizedBySymbol(ctx context.Context) ([]models.SymbolPnL, error)
	RealizedEntries(ctx context.Context, symbol string) ([]models.RealizedPnL, error)
	WithinUnitOfWork(ctx context.Context, fn func(uow repository.UnitOfWork) error) error
}

// SnapshotCache stores aggregator results keyed by a generation counter that
// every committed trade advances. A snapshot saved under a stale generation
// is never read again.
type SnapshotCache interface {
	Generation(ctx context.Context) (int64, error)
	Load(ctx context.Context, generation int64, name string, dst any) (bool, error)
	Save(ctx context.Context, generation int64, name string, value any) error
	Invalidate(ctx context.Context) error
}
