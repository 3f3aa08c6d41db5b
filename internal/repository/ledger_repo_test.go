package repository_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/lot-ledger/internal/config"
	"github.com/lot-ledger/internal/database"
	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/repository"
	"github.com/lot-ledger/internal/service"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var _ service.LedgerStore = (*repository.LedgerRepository)(nil)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDecimal(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.Truef(t, d(want).Equal(got), "want %s, got %s", want, got)
}

// openTestDB opens a private in-memory SQLite database per test
func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()

	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	db, err := database.Open(config.DatabaseConfig{
		Driver: config.DriverSQLite,
		Path:   fmt.Sprintf("file:%s?mode=memory&cache=shared", name),
	}, "release")
	require.NoError(t, err)
	require.NoError(t, repository.AutoMigrate(db))

	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })

	return db
}

func newTestRepository(t *testing.T) *repository.LedgerRepository {
	t.Helper()
	return repository.NewLedgerRepository(openTestDB(t))
}

func createTrade(t *testing.T, repo *repository.LedgerRepository, symbol, qty, price string) *models.Trade {
	t.Helper()
	trade := &models.Trade{Symbol: symbol, Qty: d(qty), Price: d(price)}
	require.NoError(t, repo.CreateTrade(context.Background(), trade))
	return trade
}

func TestCreateAndGetTrade(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	trade := &models.Trade{Symbol: "AAPL", Qty: d("-1.5"), Price: d("99.99"), Processed: true}
	require.NoError(t, repo.CreateTrade(ctx, trade))
	assert.NotZero(t, trade.ID)
	assert.False(t, trade.Processed, "new trades always start unprocessed")

	got, err := repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.Equal(t, "AAPL", got.Symbol)
	assertDecimal(t, "-1.5", got.Qty)
	assertDecimal(t, "99.99", got.Price)
	assert.False(t, got.Processed)

	_, err = repo.GetTrade(ctx, trade.ID+100)
	assert.True(t, errors.Is(err, repository.ErrTradeNotFound))
}

func TestListTrades(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	for i := 0; i < 5; i++ {
		createTrade(t, repo, "AAPL", "1", "10")
	}
	createTrade(t, repo, "MSFT", "1", "10")

	processed := createTrade(t, repo, "MSFT", "2", "10")
	require.NoError(t, repo.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		return uow.ClaimTrade(processed.ID)
	}))

	tests := []struct {
		name      string
		filter    repository.TradeFilter
		wantLen   int
		wantTotal int64
		firstID   uint
	}{
		{name: "all", filter: repository.TradeFilter{}, wantLen: 7, wantTotal: 7, firstID: 1},
		{name: "by symbol", filter: repository.TradeFilter{Symbol: "MSFT"}, wantLen: 2, wantTotal: 2, firstID: 6},
		{name: "second page", filter: repository.TradeFilter{Page: 2, PageSize: 3}, wantLen: 3, wantTotal: 7, firstID: 4},
		{name: "past the end", filter: repository.TradeFilter{Page: 5, PageSize: 3}, wantLen: 0, wantTotal: 7},
		{name: "processed only", filter: repository.TradeFilter{Processed: boolPtr(true)}, wantLen: 1, wantTotal: 1, firstID: processed.ID},
		{name: "pending only", filter: repository.TradeFilter{Processed: boolPtr(false)}, wantLen: 6, wantTotal: 6, firstID: 1},
		{name: "after cursor", filter: repository.TradeFilter{Processed: boolPtr(false), AfterID: 4, PageSize: 1}, wantLen: 1, wantTotal: 2, firstID: 5},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			trades, total, err := repo.ListTrades(ctx, tc.filter)
			require.NoError(t, err)
			assert.Len(t, trades, tc.wantLen)
			assert.Equal(t, tc.wantTotal, total)
			if tc.wantLen > 0 {
				assert.Equal(t, tc.firstID, trades[0].ID)
			}
		})
	}
}

func boolPtr(b bool) *bool {
	return &b
}

func TestTradeFilterNormalize(t *testing.T) {
	f := repository.TradeFilter{Page: -1, PageSize: 10000}.Normalize()
	assert.Equal(t, 1, f.Page)
	assert.Equal(t, 500, f.PageSize)

	f = repository.TradeFilter{}.Normalize()
	assert.Equal(t, 20, f.PageSize)
}

func TestClaimTrade(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	trade := createTrade(t, repo, "AAPL", "1", "10")

	claim := func(id uint) error {
		return repo.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
			return uow.ClaimTrade(id)
		})
	}

	require.NoError(t, claim(trade.ID))
	assert.True(t, errors.Is(claim(trade.ID), repository.ErrTradeAlreadyProcessed))
	assert.True(t, errors.Is(claim(trade.ID+1), repository.ErrTradeNotFound))

	got, err := repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.True(t, got.Processed)
}

func TestUnitOfWorkRollsBackOnError(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()
	trade := createTrade(t, repo, "AAPL", "5", "10")
	errBoom := errors.New("boom")

	err := repo.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		require.NoError(t, uow.ClaimTrade(trade.ID))
		require.NoError(t, uow.CreateLot(&models.Lot{
			TradeID:      trade.ID,
			Symbol:       "AAPL",
			OpenQty:      d("5"),
			RemainingQty: d("5"),
			AvgCost:      d("10"),
		}))
		return errBoom
	})
	assert.True(t, errors.Is(err, errBoom))

	lots, err := repo.OpenLots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)

	got, err := repo.GetTrade(ctx, trade.ID)
	require.NoError(t, err)
	assert.False(t, got.Processed)
}

func TestLockOldestOpenLot(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	err := repo.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		for i, qty := range []string{"3", "4"} {
			lot := &models.Lot{
				TradeID:      uint(i + 1),
				Symbol:       "AAPL",
				OpenQty:      d(qty),
				RemainingQty: d(qty),
				AvgCost:      d("10"),
			}
			if err := uow.CreateLot(lot); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	err = repo.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		first, err := uow.LockOldestOpenLot("AAPL")
		require.NoError(t, err)
		assertDecimal(t, "3", first.RemainingQty)

		assert.True(t, errors.Is(uow.ReduceLot(first, d("3.5")), repository.ErrNegativeRemaining))
		require.NoError(t, uow.ReduceLot(first, d("3")))
		assertDecimal(t, "0", first.RemainingQty)

		second, err := uow.LockOldestOpenLot("AAPL")
		require.NoError(t, err)
		assert.Greater(t, second.ID, first.ID)
		require.NoError(t, uow.ReduceLot(second, d("4")))

		_, err = uow.LockOldestOpenLot("AAPL")
		assert.True(t, errors.Is(err, repository.ErrNoOpenLot))

		_, err = uow.LockOldestOpenLot("MSFT")
		assert.True(t, errors.Is(err, repository.ErrNoOpenLot))
		return nil
	})
	require.NoError(t, err)

	lots, err := repo.OpenLots(ctx)
	require.NoError(t, err)
	assert.Empty(t, lots)
}

func TestRealizedQueries(t *testing.T) {
	repo := newTestRepository(t)
	ctx := context.Background()

	rows, err := repo.RealizedBySymbol(ctx)
	require.NoError(t, err)
	assert.Empty(t, rows)

	err = repo.WithinUnitOfWork(ctx, func(uow repository.UnitOfWork) error {
		for _, e := range []models.RealizedPnL{
			{TradeID: 9, LotID: 1, Symbol: "MSFT", Qty: d("2"), SellPrice: d("12"), CostBasis: d("10"), Profit: d("4")},
			{TradeID: 9, LotID: 2, Symbol: "MSFT", Qty: d("1"), SellPrice: d("12"), CostBasis: d("15"), Profit: d("-3")},
			{TradeID: 10, LotID: 3, Symbol: "AAPL", Qty: d("5"), SellPrice: d("20"), CostBasis: d("10"), Profit: d("50")},
		} {
			entry := e
			if err := uow.AppendRealizedPnL(&entry); err != nil {
				return err
			}
		}
		return nil
	})
	require.NoError(t, err)

	rows, err = repo.RealizedBySymbol(ctx)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, "AAPL", rows[0].Symbol)
	assertDecimal(t, "5", rows[0].Qty)
	assertDecimal(t, "50", rows[0].RealizedProfit)
	assert.Equal(t, "MSFT", rows[1].Symbol)
	assertDecimal(t, "3", rows[1].Qty)
	assertDecimal(t, "1", rows[1].RealizedProfit)

	entries, err := repo.RealizedEntries(ctx, "MSFT")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Less(t, entries[0].ID, entries[1].ID)

	all, err := repo.RealizedEntries(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func newSQLiteLedger(t *testing.T) (*service.TradeService, *service.PositionService, *service.PnLService) {
	repo := newTestRepository(t)
	logger := zap.NewNop()
	return service.NewTradeService(repo, nil, logger),
		service.NewPositionService(repo, nil, logger),
		service.NewPnLService(repo, nil, logger)
}

func TestLedgerOnSQLite(t *testing.T) {
	trades, positions, pnl := newSQLiteLedger(t)
	ctx := context.Background()

	submit := func(qty, price string) (*service.TradeResult, error) {
		return trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AAPL", Qty: d(qty), Price: d(price)})
	}

	_, err := submit("10", "100")
	require.NoError(t, err)
	_, err = submit("5", "110")
	require.NoError(t, err)

	rejected, err := submit("-20", "120")
	assert.True(t, errors.Is(err, service.ErrInsufficientLots))
	require.NotNil(t, rejected)

	snapshot, err := positions.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Lots, 2)
	assertDecimal(t, "10", snapshot.Lots[0].RemainingQty)
	assertDecimal(t, "5", snapshot.Lots[1].RemainingQty)

	_, err = submit("-12", "120")
	require.NoError(t, err)

	snapshot, err = positions.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Lots, 1)
	assertDecimal(t, "3", snapshot.Lots[0].RemainingQty)
	assertDecimal(t, "110", snapshot.Lots[0].AvgCost)
	require.Len(t, snapshot.Aggregates, 1)
	assertDecimal(t, "3", snapshot.Aggregates[0].Qty)
	assertDecimal(t, "110", snapshot.Aggregates[0].AvgCost)

	realized, err := pnl.RealizedSummary(ctx)
	require.NoError(t, err)
	require.Len(t, realized.Rows, 1)
	assertDecimal(t, "12", realized.Rows[0].Qty)
	assertDecimal(t, "220", realized.Total)

	stored, err := trades.GetTrade(ctx, rejected.Trade.ID)
	require.NoError(t, err)
	assert.False(t, stored.Processed, "the rejected sell stays pending")
}

func TestConcurrentSellsOnSQLite(t *testing.T) {
	trades, positions, pnl := newSQLiteLedger(t)
	ctx := context.Background()

	const sellers = 8
	for i := 0; i < 4; i++ {
		_, err := trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AMZN", Qty: d("6"), Price: d("100")})
		require.NoError(t, err)
	}

	var wg sync.WaitGroup
	errs := make(chan error, sellers)
	for i := 0; i < sellers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AMZN", Qty: d("-3"), Price: d("101")})
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		assert.NoError(t, err)
	}

	snapshot, err := positions.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Lots)

	realized, err := pnl.RealizedSummary(ctx)
	require.NoError(t, err)
	require.Len(t, realized.Rows, 1)
	assertDecimal(t, "24", realized.Rows[0].Qty)
	assertDecimal(t, "24", realized.Total)
}

func TestTwentyDigitDecimalsOnSQLite(t *testing.T) {
	trades, positions, pnl := newSQLiteLedger(t)
	ctx := context.Background()

	submit := func(qty, price string) {
		t.Helper()
		_, err := trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "BRK", Qty: d(qty), Price: d(price)})
		require.NoError(t, err)
	}

	submit("12345678901.12345678", "1")

	snapshot, err := positions.OpenPositions(ctx)
	require.NoError(t, err)
	require.Len(t, snapshot.Lots, 1)
	assertDecimal(t, "12345678901.12345678", snapshot.Lots[0].RemainingQty)

	submit("-12345678901.12345678", "2")

	snapshot, err = positions.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Empty(t, snapshot.Lots, "selling the exact bought quantity closes the lot")

	submit("3", "0.1")
	submit("-1", "0.2")
	submit("-1", "0.3")

	realized, err := pnl.RealizedSummary(ctx)
	require.NoError(t, err)
	entries, err := pnl.Entries(ctx, "BRK")
	require.NoError(t, err)
	require.Len(t, entries, 3)

	sum := decimal.Zero
	for _, e := range entries {
		sum = sum.Add(e.Profit)
	}
	assertDecimal(t, "12345678901.42345678", sum)
	assertDecimal(t, sum.String(), realized.Total)
	require.Len(t, realized.Rows, 1)
	assertDecimal(t, "12345678903.12345678", realized.Rows[0].Qty)
}

// starveLockedReads makes the next n locked lot reads come back empty, as
// Postgres does after waiting on a lot another matcher emptied.
func starveLockedReads(t *testing.T, db *gorm.DB, n int) *int {
	t.Helper()
	starved := 0
	err := db.Callback().Query().Before("gorm:query").Register("ledger_test:starve_locked_reads", func(tx *gorm.DB) {
		if _, locked := tx.Statement.Clauses[clause.Locking{}.Name()]; !locked || starved >= n {
			return
		}
		starved++
		tx.Statement.AddClause(clause.Where{Exprs: []clause.Expression{clause.Expr{SQL: "1 = 0"}}})
	})
	require.NoError(t, err)
	return &starved
}

func seedLot(t *testing.T, repo *repository.LedgerRepository, qty string) {
	t.Helper()
	err := repo.WithinUnitOfWork(context.Background(), func(uow repository.UnitOfWork) error {
		return uow.CreateLot(&models.Lot{TradeID: 1, Symbol: "AAPL", OpenQty: d(qty), RemainingQty: d(qty), AvgCost: d("10")})
	})
	require.NoError(t, err)
}

func TestLockOldestOpenLotRetriesEmptyLockedRead(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewLedgerRepository(db)
	seedLot(t, repo, "2")
	starved := starveLockedReads(t, db, 3)

	err := repo.WithinUnitOfWork(context.Background(), func(uow repository.UnitOfWork) error {
		lot, err := uow.LockOldestOpenLot("AAPL")
		require.NoError(t, err)
		assertDecimal(t, "2", lot.RemainingQty)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, *starved)
}

func TestLockOldestOpenLotGivesUpUnderContention(t *testing.T) {
	db := openTestDB(t)
	repo := repository.NewLedgerRepository(db)
	seedLot(t, repo, "2")
	starved := starveLockedReads(t, db, 1000)

	err := repo.WithinUnitOfWork(context.Background(), func(uow repository.UnitOfWork) error {
		_, err := uow.LockOldestOpenLot("AAPL")
		return err
	})
	assert.True(t, errors.Is(err, repository.ErrLotContention))
	assert.Equal(t, 8, *starved)

	// An empty locked read with nothing open is plain exhaustion
	err = repo.WithinUnitOfWork(context.Background(), func(uow repository.UnitOfWork) error {
		_, err := uow.LockOldestOpenLot("MSFT")
		return err
	})
	assert.True(t, errors.Is(err, repository.ErrNoOpenLot))
}
