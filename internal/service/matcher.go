package service

import (
	"context"
	"errors"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/repository"
	"github.com/lot-ledger/internal/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// pnlPrecision is the number of fractional digits kept for profit and
// average cost; halves round away from zero.
const pnlPrecision = 8

// Match is one slice of a sell closed against one lot
type Match struct {
	Lot    models.Lot      `json:"lot"` // state after the slice was taken
	Qty    decimal.Decimal `json:"qty"`
	Profit decimal.Decimal `json:"profit"`
}

// LotMatcher closes open lots oldest first
type LotMatcher struct{}

// NewLotMatcher creates a new LotMatcher
func NewLotMatcher() *LotMatcher {
	return &LotMatcher{}
}

// MatchSell allocates sellQty of symbol across open lots in id order, taking
// each lot under an exclusive lock, and books one realized entry per lot
// touched. When the open quantity runs out it returns an InsufficientLotsError;
// the writes already made are discarded with the caller's unit of work.
func (m *LotMatcher) MatchSell(
	ctx context.Context,
	uow repository.UnitOfWork,
	sellTradeID uint,
	symbol string,
	sellQty decimal.Decimal,
	sellPrice decimal.Decimal,
) ([]Match, error) {
	_, span := tracing.StartSpan(ctx, "LotMatcher.MatchSell", trace.WithAttributes(
		attribute.String("symbol", symbol),
		attribute.String("qty", sellQty.String()),
		attribute.String("price", sellPrice.String()),
	))
	defer span.End()

	if !sellQty.IsPositive() {
		return nil, &ValidationError{Field: "qty", Message: "must be positive for a sell"}
	}

	var matches []Match
	outstanding := sellQty
	matched := decimal.Zero

	for outstanding.IsPositive() {
		lot, err := uow.LockOldestOpenLot(symbol)
		if errors.Is(err, repository.ErrNoOpenLot) {
			err = &InsufficientLotsError{Symbol: symbol, Requested: sellQty, Available: matched}
		}
		if err != nil {
			return nil, recordSpanError(span, err)
		}

		take := decimal.Min(lot.RemainingQty, outstanding)
		profit := take.Mul(sellPrice.Sub(lot.AvgCost)).Round(pnlPrecision)

		if err := uow.ReduceLot(lot, take); err != nil {
			return nil, recordSpanError(span, err)
		}
		entry := &models.RealizedPnL{
			TradeID:   sellTradeID,
			LotID:     lot.ID,
			Symbol:    symbol,
			Qty:       take,
			SellPrice: sellPrice,
			CostBasis: lot.AvgCost,
			Profit:    profit,
		}
		if err := uow.AppendRealizedPnL(entry); err != nil {
			return nil, recordSpanError(span, err)
		}

		matches = append(matches, Match{Lot: *lot, Qty: take, Profit: profit})
		outstanding = outstanding.Sub(take)
		matched = matched.Add(take)
	}

	span.SetAttributes(attribute.Int("lots_matched", len(matches)))
	return matches, nil
}

func recordSpanError(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
