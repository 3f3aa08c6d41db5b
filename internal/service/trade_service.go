package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/repository"
	"github.com/lot-ledger/internal/tracing"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

const (
	maxSymbolLength = 20
	maxScale        = 8

	invalidateAttempts = 4
	invalidateBackoff  = 20 * time.Millisecond
	invalidateTimeout  = 2 * time.Second
)

// decimal(20,8) leaves twelve integer digits
var maxMagnitude = decimal.New(1, 12)

// TradeService records trades and applies them to the lot ledger
type TradeService struct {
	store   LedgerStore
	matcher *LotMatcher
	cache   SnapshotCache
	logger  *zap.Logger
}

// NewTradeService creates a new TradeService. cache may be nil.
func NewTradeService(store LedgerStore, cache SnapshotCache, logger *zap.Logger) *TradeService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeService{
		store:   store,
		matcher: NewLotMatcher(),
		cache:   cache,
		logger:  logger,
	}
}

// CreateTradeRequest is a trade as submitted: positive qty buys, negative sells
type CreateTradeRequest struct {
	Symbol string          `json:"symbol"`
	Qty    decimal.Decimal `json:"qty"`
	Price  decimal.Decimal `json:"price"`
}

// Validate checks the request shape and trims the symbol
func (r *CreateTradeRequest) Validate() error {
	r.Symbol = strings.TrimSpace(r.Symbol)
	switch {
	case r.Symbol == "":
		return &ValidationError{Field: "symbol", Message: "is required"}
	case len(r.Symbol) > maxSymbolLength:
		return &ValidationError{Field: "symbol", Message: "must be at most 20 characters"}
	case r.Qty.IsZero():
		return &ValidationError{Field: "qty", Message: "must be non-zero"}
	case r.Qty.Abs().GreaterThanOrEqual(maxMagnitude):
		return &ValidationError{Field: "qty", Message: "is too large"}
	case !r.Qty.Equal(r.Qty.Truncate(maxScale)):
		return &ValidationError{Field: "qty", Message: "must have at most 8 decimal places"}
	case !r.Price.IsPositive():
		return &ValidationError{Field: "price", Message: "must be positive"}
	case r.Price.GreaterThanOrEqual(maxMagnitude):
		return &ValidationError{Field: "price", Message: "is too large"}
	case !r.Price.Equal(r.Price.Truncate(maxScale)):
		return &ValidationError{Field: "price", Message: "must have at most 8 decimal places"}
	}
	return nil
}

// TradeResult is the effect one processed trade had on the ledger
type TradeResult struct {
	Trade   *models.Trade `json:"trade"`
	Lot     *models.Lot   `json:"lot,omitempty"`
	Matches []Match       `json:"matches,omitempty"`
}

// SubmitTrade stores a trade and immediately processes it. If processing
// fails the stored, still unprocessed trade is returned with the error.
func (s *TradeService) SubmitTrade(ctx context.Context, req *CreateTradeRequest) (*TradeResult, error) {
	trade, err := s.CreateTrade(ctx, req)
	if err != nil {
		return nil, err
	}

	result, err := s.ProcessTrade(ctx, trade)
	if err != nil {
		return &TradeResult{Trade: trade}, err
	}
	return result, nil
}

// CreateTrade validates and durably stores a trade with processed=false
func (s *TradeService) CreateTrade(ctx context.Context, req *CreateTradeRequest) (*models.Trade, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	trade := &models.Trade{
		Symbol: req.Symbol,
		Qty:    req.Qty,
		Price:  req.Price,
	}
	if err := s.store.CreateTrade(ctx, trade); err != nil {
		return nil, classify("create trade", err)
	}
	return trade, nil
}

// ProcessTrade applies a stored trade in one unit of work: a buy opens a lot,
// a sell closes lots FIFO. The trade is marked processed only if everything
// commits; on any error nothing is written.
func (s *TradeService) ProcessTrade(ctx context.Context, trade *models.Trade) (*TradeResult, error) {
	ctx, span := tracing.StartSpan(ctx, "TradeService.ProcessTrade", trace.WithAttributes(
		attribute.Int64("trade_id", int64(trade.ID)),
		attribute.String("symbol", trade.Symbol),
		attribute.String("side", string(trade.Side())),
	))
	defer span.End()

	if trade.Processed {
		return nil, ErrTradeAlreadyProcessed
	}
	side := trade.Side()
	if side == models.TradeSideNone {
		return nil, &ValidationError{Field: "qty", Message: "must be non-zero"}
	}

	var (
		lot     *models.Lot
		matches []Match
	)
	err := s.store.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		// Claiming first serializes concurrent retries of the same trade.
		if err := uow.ClaimTrade(trade.ID); err != nil {
			return err
		}

		switch side {
		case models.TradeSideBuy:
			lot = &models.Lot{
				TradeID:      trade.ID,
				Symbol:       trade.Symbol,
				OpenQty:      trade.Qty,
				RemainingQty: trade.Qty,
				AvgCost:      trade.Price,
			}
			return uow.CreateLot(lot)
		default:
			var err error
			matches, err = s.matcher.MatchSell(ctx, uow, trade.ID, trade.Symbol, trade.Qty.Neg(), trade.Price)
			return err
		}
	})
	if err != nil {
		err = recordSpanError(span, classify("process trade", err))
		s.logFailure(ctx, trade, err)
		return nil, err
	}

	trade.Processed = true
	s.invalidateSnapshots(ctx)

	s.logger.Info("Trade processed", withTrace(ctx,
		zap.Uint("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.String("side", string(side)),
		zap.Stringer("qty", trade.Qty),
		zap.Stringer("price", trade.Price),
		zap.Int("lots_matched", len(matches)),
	)...)

	return &TradeResult{Trade: trade, Lot: lot, Matches: matches}, nil
}

// ProcessTradeByID retries a stored trade that has not been processed yet
func (s *TradeService) ProcessTradeByID(ctx context.Context, id uint) (*TradeResult, error) {
	trade, err := s.GetTrade(ctx, id)
	if err != nil {
		return nil, err
	}
	return s.ProcessTrade(ctx, trade)
}

// PendingFailure is a trade that stayed unprocessed during a sweep
type PendingFailure struct {
	TradeID uint   `json:"trade_id"`
	Error   string `json:"error"`
}

// PendingReport summarizes one sweep over unprocessed trades
type PendingReport struct {
	Processed int              `json:"processed"`
	Failed    []PendingFailure `json:"failed"`
}

// ProcessPending processes up to limit unprocessed trades, oldest first.
// Trades that are rejected again do not count toward limit; the sweep walks
// past them so they cannot starve younger pending trades. Business rejections
// are reported per trade; a storage failure ends the sweep.
func (s *TradeService) ProcessPending(ctx context.Context, limit int) (*PendingReport, error) {
	if limit < 1 {
		limit = 1
	}

	report := &PendingReport{Failed: []PendingFailure{}}
	pending := false
	pageSize := repository.TradeFilter{PageSize: limit}.Normalize().PageSize
	var cursor uint

	for report.Processed < limit {
		trades, _, err := s.store.ListTrades(ctx, repository.TradeFilter{
			Processed: &pending,
			AfterID:   cursor,
			PageSize:  pageSize,
		})
		if err != nil {
			return report, classify("list pending trades", err)
		}

		for i := range trades {
			if report.Processed == limit {
				break
			}
			cursor = trades[i].ID

			_, err := s.ProcessTrade(ctx, &trades[i])
			switch {
			case err == nil:
				report.Processed++
			case errors.Is(err, ErrStorageFailure):
				return report, err
			default:
				report.Failed = append(report.Failed, PendingFailure{TradeID: trades[i].ID, Error: err.Error()})
			}
		}

		if len(trades) < pageSize {
			break
		}
	}
	return report, nil
}

// GetTrade retrieves a trade by ID
func (s *TradeService) GetTrade(ctx context.Context, id uint) (*models.Trade, error) {
	trade, err := s.store.GetTrade(ctx, id)
	if err != nil {
		return nil, classify("get trade", err)
	}
	return trade, nil
}

// ListTrades returns trades in id order with the total matching count
func (s *TradeService) ListTrades(ctx context.Context, filter repository.TradeFilter) ([]models.Trade, int64, error) {
	trades, total, err := s.store.ListTrades(ctx, filter)
	if err != nil {
		return nil, 0, classify("list trades", err)
	}
	return trades, total, nil
}

// invalidateSnapshots advances the cache generation after a commit. It runs
// detached from the request context, with retries, so a client hanging up or
// a cache blip does not leave the pre-trade snapshot current.
func (s *TradeService) invalidateSnapshots(ctx context.Context) {
	if s.cache == nil {
		return
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()

	if err := s.invalidateWithRetry(ctx); err != nil {
		s.logger.Error("Failed to invalidate snapshot cache, snapshots stay stale until their TTL",
			withTrace(ctx, zap.Error(err))...)
	}
}

func (s *TradeService) invalidateWithRetry(ctx context.Context) error {
	backoff := invalidateBackoff
	for attempt := 1; ; attempt++ {
		err := s.cache.Invalidate(ctx)
		if err == nil || attempt == invalidateAttempts {
			return err
		}
		s.logger.Warn("Snapshot cache invalidation failed, retrying",
			zap.Int("attempt", attempt), zap.Error(err))

		select {
		case <-ctx.Done():
			return err
		case <-time.After(backoff):
		}
		backoff *= 2
	}
}

func (s *TradeService) logFailure(ctx context.Context, trade *models.Trade, err error) {
	fields := withTrace(ctx,
		zap.Uint("trade_id", trade.ID),
		zap.String("symbol", trade.Symbol),
		zap.Stringer("qty", trade.Qty),
		zap.Error(err),
	)
	if errors.Is(err, ErrStorageFailure) {
		s.logger.Error("Trade processing failed", fields...)
		return
	}
	s.logger.Warn("Trade rejected", fields...)
}

// withTrace appends the active trace id so log lines can be joined to spans
func withTrace(ctx context.Context, fields ...zap.Field) []zap.Field {
	if traceID, ok := tracing.TraceID(ctx); ok {
		fields = append(fields, zap.String("trace_id", traceID))
	}
	return fields
}
