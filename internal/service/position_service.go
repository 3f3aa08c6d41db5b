package service

import (
	"context"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/tracing"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const positionsSnapshot = "positions"

// PositionsSnapshot is every open lot plus the per-symbol position they add up to
type PositionsSnapshot struct {
	Lots       []models.Lot             `json:"lots"`
	Aggregates []models.PositionSummary `json:"aggregates"`
}

// PositionService projects open lots into positions
type PositionService struct {
	store  LedgerStore
	cache  SnapshotCache
	logger *zap.Logger
}

// NewPositionService creates a new PositionService. cache may be nil.
func NewPositionService(store LedgerStore, cache SnapshotCache, logger *zap.Logger) *PositionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PositionService{
		store:  store,
		cache:  cache,
		logger: logger,
	}
}

// OpenPositions returns open lots ordered by symbol then id, and one summary
// per symbol computed from those same lots.
func (s *PositionService) OpenPositions(ctx context.Context) (*PositionsSnapshot, error) {
	ctx, span := tracing.StartSpan(ctx, "PositionService.OpenPositions")
	defer span.End()

	return cachedSnapshot(ctx, s.cache, s.logger, positionsSnapshot, s.loadPositions)
}

func (s *PositionService) loadPositions(ctx context.Context) (*PositionsSnapshot, error) {
	lots, err := s.store.OpenLots(ctx)
	if err != nil {
		return nil, classify("load open lots", err)
	}
	if lots == nil {
		lots = []models.Lot{}
	}
	return &PositionsSnapshot{
		Lots:       lots,
		Aggregates: SummarizeLots(lots),
	}, nil
}

// SummarizeLots folds lots into per-symbol quantity and quantity-weighted
// average cost, in order of first appearance. Lots must be grouped by symbol.
func SummarizeLots(lots []models.Lot) []models.PositionSummary {
	summaries := []models.PositionSummary{}
	var (
		current *models.PositionSummary
		cost    decimal.Decimal
	)
	flush := func() {
		if current != nil {
			current.AvgCost = weightedAverage(cost, current.Qty)
			summaries = append(summaries, *current)
		}
	}

	for _, lot := range lots {
		if !lot.IsOpen() {
			continue
		}
		if current == nil || current.Symbol != lot.Symbol {
			flush()
			current = &models.PositionSummary{Symbol: lot.Symbol, Qty: decimal.Zero}
			cost = decimal.Zero
		}
		current.Qty = current.Qty.Add(lot.RemainingQty)
		cost = cost.Add(lot.RemainingQty.Mul(lot.AvgCost))
	}
	flush()

	return summaries
}

func weightedAverage(totalCost, qty decimal.Decimal) decimal.Decimal {
	if qty.IsZero() {
		return decimal.Zero
	}
	return totalCost.DivRound(qty, pnlPrecision)
}
