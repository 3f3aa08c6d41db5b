package repository

import (
	"context"
	"errors"

	"github.com/lot-ledger/internal/models"
	"gorm.io/gorm"
)

var (
	ErrTradeNotFound         = errors.New("trade not found")
	ErrTradeAlreadyProcessed = errors.New("trade already processed")
	ErrNoOpenLot             = errors.New("no open lot")
	ErrLotContention         = errors.New("open lot kept changing under lock")
	ErrNegativeRemaining     = errors.New("lot remaining quantity would go negative")
)

// TradeFilter narrows a trade listing. Zero values mean no filter. AfterID
// keeps only trades with a larger id, for cursor walks.
type TradeFilter struct {
	Symbol    string
	Processed *bool
	AfterID   uint
	Page      int
	PageSize  int
}

// Normalize clamps paging to sane bounds
func (f TradeFilter) Normalize() TradeFilter {
	if f.Page < 1 {
		f.Page = 1
	}
	if f.PageSize < 1 {
		f.PageSize = 20
	}
	if f.PageSize > 500 {
		f.PageSize = 500
	}
	return f
}

// LedgerRepository is the relational ledger store backed by gorm
type LedgerRepository struct {
	db *gorm.DB
}

// NewLedgerRepository creates a new LedgerRepository
func NewLedgerRepository(db *gorm.DB) *LedgerRepository {
	return &LedgerRepository{db: db}
}

// AutoMigrate creates or updates the ledger tables
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&models.Trade{},
		&models.Lot{},
		&models.RealizedPnL{},
	)
}

// CreateTrade inserts a new, unprocessed trade
func (r *LedgerRepository) CreateTrade(ctx context.Context, trade *models.Trade) error {
	trade.Processed = false
	return r.db.WithContext(ctx).Create(trade).Error
}

// GetTrade retrieves a trade by ID
func (r *LedgerRepository) GetTrade(ctx context.Context, id uint) (*models.Trade, error) {
	var trade models.Trade
	result := r.db.WithContext(ctx).First(&trade, id)
	if result.Error != nil {
		if errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return nil, ErrTradeNotFound
		}
		return nil, result.Error
	}
	return &trade, nil
}

// ListTrades retrieves trades in id order with pagination
func (r *LedgerRepository) ListTrades(ctx context.Context, filter TradeFilter) ([]models.Trade, int64, error) {
	filter = filter.Normalize()

	query := r.db.WithContext(ctx).Model(&models.Trade{})
	if filter.Symbol != "" {
		query = query.Where("symbol = ?", filter.Symbol)
	}
	if filter.Processed != nil {
		query = query.Where("processed = ?", *filter.Processed)
	}
	if filter.AfterID > 0 {
		query = query.Where("id > ?", filter.AfterID)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var trades []models.Trade
	result := query.
		Order("id ASC").
		Offset((filter.Page - 1) * filter.PageSize).
		Limit(filter.PageSize).
		Find(&trades)

	return trades, total, result.Error
}

// OpenLots retrieves every lot with remaining quantity, by symbol then FIFO order
func (r *LedgerRepository) OpenLots(ctx context.Context) ([]models.Lot, error) {
	var lots []models.Lot
	result := r.db.WithContext(ctx).
		Where("remaining_qty > 0").
		Order("symbol ASC, id ASC").
		Find(&lots)
	return lots, result.Error
}

// RealizedBySymbol sums realized quantity and profit per symbol
func (r *LedgerRepository) RealizedBySymbol(ctx context.Context) ([]models.SymbolPnL, error) {
	if r.db.Dialector.Name() == "sqlite" {
		return r.realizedBySymbolInGo(ctx)
	}

	var rows []models.SymbolPnL
	err := r.db.WithContext(ctx).Model(&models.RealizedPnL{}).
		Select("symbol, COALESCE(SUM(qty), 0) AS qty, COALESCE(SUM(profit), 0) AS realized_profit").
		Group("symbol").
		Order("symbol ASC").
		Scan(&rows).Error
	return rows, err
}

// realizedBySymbolInGo adds the stored decimal strings exactly; SQLite would
// coerce them to float64 inside SUM.
func (r *LedgerRepository) realizedBySymbolInGo(ctx context.Context) ([]models.SymbolPnL, error) {
	var entries []models.RealizedPnL
	err := r.db.WithContext(ctx).
		Select("symbol", "qty", "profit").
		Order("symbol ASC, id ASC").
		Find(&entries).Error
	if err != nil {
		return nil, err
	}

	rows := []models.SymbolPnL{}
	for _, e := range entries {
		if n := len(rows); n == 0 || rows[n-1].Symbol != e.Symbol {
			rows = append(rows, models.SymbolPnL{Symbol: e.Symbol})
		}
		row := &rows[len(rows)-1]
		row.Qty = row.Qty.Add(e.Qty)
		row.RealizedProfit = row.RealizedProfit.Add(e.Profit)
	}
	return rows, nil
}

// RealizedEntries retrieves the raw realized log, optionally for one symbol
func (r *LedgerRepository) RealizedEntries(ctx context.Context, symbol string) ([]models.RealizedPnL, error) {
	var entries []models.RealizedPnL
	query := r.db.WithContext(ctx)
	if symbol != "" {
		query = query.Where("symbol = ?", symbol)
	}
	result := query.Order("id ASC").Find(&entries)
	return entries, result.Error
}

// WithinUnitOfWork runs fn inside one database transaction. Any error returned
// by fn, or a panic, rolls back every write fn made.
func (r *LedgerRepository) WithinUnitOfWork(ctx context.Context, fn func(uow UnitOfWork) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormUnitOfWork{tx: tx})
	})
}
