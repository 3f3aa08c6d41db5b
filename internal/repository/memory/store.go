// Package memory is an in-process ledger store. Units of work are serialized
// behind one mutex and their writes are staged until commit, so a failed unit
// of work leaves nothing behind.
package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/repository"
	"github.com/shopspring/decimal"
)

// Store keeps trades, lots and realized entries in memory
type Store struct {
	mu sync.RWMutex

	trades  []models.Trade
	lots    []models.Lot
	entries []models.RealizedPnL

	nextTradeID uint
	nextLotID   uint
	nextEntryID uint

	now func() time.Time
}

// NewStore creates an empty Store
func NewStore() *Store {
	return &Store{
		nextTradeID: 1,
		nextLotID:   1,
		nextEntryID: 1,
		now:         time.Now,
	}
}

// CreateTrade inserts a new, unprocessed trade
func (s *Store) CreateTrade(ctx context.Context, trade *models.Trade) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	trade.ID = s.nextTradeID
	trade.Processed = false
	trade.CreatedAt = s.now()
	s.nextTradeID++
	s.trades = append(s.trades, *trade)
	return nil
}

// GetTrade retrieves a trade by ID
func (s *Store) GetTrade(ctx context.Context, id uint) (*models.Trade, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	if i := s.tradeIndex(id); i >= 0 {
		trade := s.trades[i]
		return &trade, nil
	}
	return nil, repository.ErrTradeNotFound
}

// ListTrades retrieves trades in id order with pagination
func (s *Store) ListTrades(ctx context.Context, filter repository.TradeFilter) ([]models.Trade, int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, 0, err
	}
	filter = filter.Normalize()

	s.mu.RLock()
	defer s.mu.RUnlock()

	var matched []models.Trade
	for _, t := range s.trades {
		if filter.Symbol != "" && t.Symbol != filter.Symbol {
			continue
		}
		if filter.Processed != nil && t.Processed != *filter.Processed {
			continue
		}
		if t.ID <= filter.AfterID {
			continue
		}
		matched = append(matched, t)
	}

	total := int64(len(matched))
	start := (filter.Page - 1) * filter.PageSize
	if start >= len(matched) {
		return []models.Trade{}, total, nil
	}
	end := start + filter.PageSize
	if end > len(matched) {
		end = len(matched)
	}
	page := make([]models.Trade, end-start)
	copy(page, matched[start:end])
	return page, total, nil
}

// OpenLots retrieves every lot with remaining quantity, by symbol then FIFO order
func (s *Store) OpenLots(ctx context.Context) ([]models.Lot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	lots := make([]models.Lot, 0, len(s.lots))
	for _, l := range s.lots {
		if l.IsOpen() {
			lots = append(lots, l)
		}
	}
	sort.SliceStable(lots, func(i, j int) bool {
		if lots[i].Symbol != lots[j].Symbol {
			return lots[i].Symbol < lots[j].Symbol
		}
		return lots[i].ID < lots[j].ID
	})
	return lots, nil
}

// RealizedBySymbol sums realized quantity and profit per symbol
func (s *Store) RealizedBySymbol(ctx context.Context) ([]models.SymbolPnL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	bySymbol := make(map[string]*models.SymbolPnL)
	for _, e := range s.entries {
		row, ok := bySymbol[e.Symbol]
		if !ok {
			row = &models.SymbolPnL{Symbol: e.Symbol, Qty: decimal.Zero, RealizedProfit: decimal.Zero}
			bySymbol[e.Symbol] = row
		}
		row.Qty = row.Qty.Add(e.Qty)
		row.RealizedProfit = row.RealizedProfit.Add(e.Profit)
	}

	rows := make([]models.SymbolPnL, 0, len(bySymbol))
	for _, row := range bySymbol {
		rows = append(rows, *row)
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].Symbol < rows[j].Symbol })
	return rows, nil
}

// RealizedEntries retrieves the raw realized log, optionally for one symbol
func (s *Store) RealizedEntries(ctx context.Context, symbol string) ([]models.RealizedPnL, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries := make([]models.RealizedPnL, 0, len(s.entries))
	for _, e := range s.entries {
		if symbol == "" || e.Symbol == symbol {
			entries = append(entries, e)
		}
	}
	return entries, nil
}

// WithinUnitOfWork runs fn with exclusive access to the store. Writes are
// applied only if fn returns nil and ctx is still live.
func (s *Store) WithinUnitOfWork(ctx context.Context, fn func(uow repository.UnitOfWork) error) (err error) {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	uow := &unitOfWork{
		store:       s,
		lots:        make(map[uint]models.Lot),
		claimed:     make(map[uint]bool),
		nextLotID:   s.nextLotID,
		nextEntryID: s.nextEntryID,
	}

	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("unit of work panicked: %v", r)
		}
	}()

	if err := fn(uow); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	uow.commit()
	return nil
}

func (s *Store) tradeIndex(id uint) int {
	i := sort.Search(len(s.trades), func(i int) bool { return s.trades[i].ID >= id })
	if i < len(s.trades) && s.trades[i].ID == id {
		return i
	}
	return -1
}

func (s *Store) lotIndex(id uint) int {
	i := sort.Search(len(s.lots), func(i int) bool { return s.lots[i].ID >= id })
	if i < len(s.lots) && s.lots[i].ID == id {
		return i
	}
	return -1
}

// unitOfWork stages writes against the store it holds the lock of
type unitOfWork struct {
	store *Store

	lots        map[uint]models.Lot // updated committed lots
	newLots     []models.Lot
	entries     []models.RealizedPnL
	claimed     map[uint]bool
	nextLotID   uint
	nextEntryID uint
}

func (u *unitOfWork) ClaimTrade(tradeID uint) error {
	i := u.store.tradeIndex(tradeID)
	if i < 0 {
		return repository.ErrTradeNotFound
	}
	if u.store.trades[i].Processed || u.claimed[tradeID] {
		return repository.ErrTradeAlreadyProcessed
	}
	u.claimed[tradeID] = true
	return nil
}

func (u *unitOfWork) CreateLot(lot *models.Lot) error {
	now := u.store.now()
	lot.ID = u.nextLotID
	lot.CreatedAt = now
	lot.UpdatedAt = now
	u.nextLotID++
	u.newLots = append(u.newLots, *lot)
	return nil
}

func (u *unitOfWork) LockOldestOpenLot(symbol string) (*models.Lot, error) {
	// Committed lots have smaller ids than anything staged here.
	for _, l := range u.store.lots {
		if staged, ok := u.lots[l.ID]; ok {
			l = staged
		}
		if l.Symbol == symbol && l.IsOpen() {
			return &l, nil
		}
	}
	for _, l := range u.newLots {
		if l.Symbol == symbol && l.IsOpen() {
			return &l, nil
		}
	}
	return nil, repository.ErrNoOpenLot
}

func (u *unitOfWork) ReduceLot(lot *models.Lot, qty decimal.Decimal) error {
	remaining := lot.RemainingQty.Sub(qty)
	if remaining.IsNegative() {
		return repository.ErrNegativeRemaining
	}
	lot.RemainingQty = remaining
	lot.UpdatedAt = u.store.now()

	for i := range u.newLots {
		if u.newLots[i].ID == lot.ID {
			u.newLots[i] = *lot
			return nil
		}
	}
	if u.store.lotIndex(lot.ID) < 0 {
		return fmt.Errorf("lot %d: %w", lot.ID, repository.ErrNoOpenLot)
	}
	u.lots[lot.ID] = *lot
	return nil
}

func (u *unitOfWork) AppendRealizedPnL(entry *models.RealizedPnL) error {
	entry.ID = u.nextEntryID
	entry.CreatedAt = u.store.now()
	u.nextEntryID++
	u.entries = append(u.entries, *entry)
	return nil
}

func (u *unitOfWork) commit() {
	s := u.store
	for id, lot := range u.lots {
		s.lots[s.lotIndex(id)] = lot
	}
	s.lots = append(s.lots, u.newLots...)
	s.nextLotID = u.nextLotID

	s.entries = append(s.entries, u.entries...)
	s.nextEntryID = u.nextEntryID

	for id := range u.claimed {
		s.trades[s.tradeIndex(id)].Processed = true
	}
}
