package service

import (
	"context"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/tracing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const realizedSnapshot = "realized"

// RealizedSnapshot is realized profit per symbol and in total
type RealizedSnapshot struct {
	Rows  []models.SymbolPnL `json:"rows"`
	Total decimal.Decimal    `json:"total"`
}

// PnLService projects the realized log
type PnLService struct {
	store  LedgerStore
	cache  SnapshotCache
	logger *zap.Logger
}

// NewPnLService creates a new PnLService. cache may be nil.
func NewPnLService(store LedgerStore, cache SnapshotCache, logger *zap.Logger) *PnLService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PnLService{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// RealizedSummary returns per-symbol realized quantity and profit ordered by
// symbol, and the total profit over every realized entry (zero when none).
func (s *PnLService) RealizedSummary(ctx context.Context) (*RealizedSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "PnLService.RealizedSummary")
	defer span.End()

	return cachedSnapshot(ctx, s.cache, s.logger, realizedSnapshot, s.loadRealized)
}

func (s *PnLService) loadRealized(ctx context.Context) (*RealizedSnapshot, error) {
	rows, err := s.store.RealizedBySymbol(ctx)
	if err != nil {
		return nil, classify("sum realized pnl", err)
	}
	if rows == nil {
		rows = []models.SymbolPnL{}
	}

	// The per-symbol sums partition the log, so their sum is the log total
	// and both halves of the snapshot come from one read.
	total := decimal.Zero
	for _, row := range rows {
		total = total.Add(row.RealizedProfit)
	}
	return &RealizedSnapshot{Rows: rows, Total: total}, nil
}

// Entries returns the realized log in id order, optionally for one symbol
func (s *PnLService) Entries(ctx context.Context, symbol string) ([]models.RealizedPnL, error) {
	entries, err := s.store.RealizedEntries(ctx, symbol)
	if err != nil {
		return nil, classify("list realized entries", err)
	}
	if entries == nil {
		entries = []models.RealizedPnL{}
	}
	return entries, nil
}
