package service_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/lot-ledger/internal/models"
	"github.com/lot-ledger/internal/repository/memory"
	"github.com/lot-ledger/internal/service"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mapCache is an in-process SnapshotCache that stores JSON like the redis one.
// failNext fails that many Invalidate calls, running onFail for each.
type mapCache struct {
	mu         sync.Mutex
	generation int64
	entries    map[string][]byte
	loads      int
	hits       int
	failAll    bool
	failNext   int
	onFail     func()
}

func newMapCache() *mapCache {
	return &mapCache{entries: make(map[string][]byte)}
}

var errCacheDown = errors.New("cache down")

func (c *mapCache) Generation(ctx context.Context) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return 0, errCacheDown
	}
	return c.generation, nil
}

func (c *mapCache) Load(ctx context.Context, generation int64, name string, dst any) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.loads++
	data, ok := c.entries[fmt.Sprintf("%d:%s", generation, name)]
	if !ok {
		return false, nil
	}
	c.hits++
	return true, json.Unmarshal(data, dst)
}

func (c *mapCache) Save(ctx context.Context, generation int64, name string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[fmt.Sprintf("%d:%s", generation, name)] = data
	return nil
}

func (c *mapCache) Invalidate(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.failAll {
		return errCacheDown
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if c.failNext > 0 {
		c.failNext--
		if c.onFail != nil {
			c.onFail()
		}
		return errCacheDown
	}
	c.generation++
	return nil
}

// countingStore counts aggregate reads that reach the store
type countingStore struct {
	*memory.Store
	mu       sync.Mutex
	lotReads int
	pnlReads int
}

func (s *countingStore) OpenLots(ctx context.Context) ([]models.Lot, error) {
	s.mu.Lock()
	s.lotReads++
	s.mu.Unlock()
	return s.Store.OpenLots(ctx)
}

func (s *countingStore) RealizedBySymbol(ctx context.Context) ([]models.SymbolPnL, error) {
	s.mu.Lock()
	s.pnlReads++
	s.mu.Unlock()
	return s.Store.RealizedBySymbol(ctx)
}

func newCachedLedger(cache service.SnapshotCache) (*countingStore, *service.TradeService, *service.PositionService, *service.PnLService) {
	store := &countingStore{Store: memory.NewStore()}
	logger := zap.NewNop()
	return store,
		service.NewTradeService(store, cache, logger),
		service.NewPositionService(store, cache, logger),
		service.NewPnLService(store, cache, logger)
}

func TestSnapshotsAreServedFromCacheUntilNextTrade(t *testing.T) {
	cache := newMapCache()
	store, trades, positions, pnl := newCachedLedger(cache)
	ctx := context.Background()

	_, err := trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AAPL", Qty: d("10"), Price: d("100")})
	require.NoError(t, err)
	assert.Equal(t, int64(1), cache.generation)

	first, err := positions.OpenPositions(ctx)
	require.NoError(t, err)
	second, err := positions.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.lotReads, "second read must be a cache hit")
	assert.Equal(t, first.Aggregates[0].Symbol, second.Aggregates[0].Symbol)
	assertDecimal(t, first.Aggregates[0].Qty.String(), second.Aggregates[0].Qty)
	assertDecimal(t, first.Aggregates[0].AvgCost.String(), second.Aggregates[0].AvgCost)

	_, err = trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AAPL", Qty: d("-4"), Price: d("110")})
	require.NoError(t, err)

	third, err := positions.OpenPositions(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, store.lotReads, "a committed trade must invalidate the snapshot")
	assertDecimal(t, "6", third.Aggregates[0].Qty)

	summary, err := pnl.RealizedSummary(ctx)
	require.NoError(t, err)
	again, err := pnl.RealizedSummary(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, store.pnlReads)
	assertDecimal(t, "40", summary.Total)
	assertDecimal(t, "40", again.Total)
	require.Len(t, again.Rows, 1)
	assertDecimal(t, "40", again.Rows[0].RealizedProfit)
}

func TestRejectedTradeKeepsSnapshotGeneration(t *testing.T) {
	cache := newMapCache()
	_, trades, _, _ := newCachedLedger(cache)

	_, err := trades.SubmitTrade(context.Background(), &service.CreateTradeRequest{Symbol: "AAPL", Qty: d("-1"), Price: d("1")})
	require.Error(t, err)
	assert.Zero(t, cache.generation)
}

func TestUnavailableCacheFallsBackToStore(t *testing.T) {
	cache := newMapCache()
	cache.failAll = true
	store, trades, positions, pnl := newCachedLedger(cache)
	ctx := context.Background()

	_, err := trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AAPL", Qty: d("3"), Price: d("7")})
	require.NoError(t, err, "cache failures never fail a trade")

	for i := 0; i < 2; i++ {
		snapshot, err := positions.OpenPositions(ctx)
		require.NoError(t, err)
		require.Len(t, snapshot.Aggregates, 1)
		assertDecimal(t, "3", snapshot.Aggregates[0].Qty)

		summary, err := pnl.RealizedSummary(ctx)
		require.NoError(t, err)
		assert.NotNil(t, summary.Rows)
		assertDecimal(t, "0", summary.Total)
	}
	assert.Equal(t, 2, store.lotReads)
	assert.Equal(t, 2, store.pnlReads)
	assert.Zero(t, cache.loads)
}

func TestInvalidationIsRetriedAfterCommit(t *testing.T) {
	cache := newMapCache()
	store, trades, positions, _ := newCachedLedger(cache)

	_, err := trades.SubmitTrade(context.Background(), &service.CreateTradeRequest{Symbol: "AAPL", Qty: d("10"), Price: d("100")})
	require.NoError(t, err)
	before, err := positions.OpenPositions(context.Background())
	require.NoError(t, err)
	assertDecimal(t, "10", before.Aggregates[0].Qty)

	// The client goes away while the first invalidation fails
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cache.failNext = 1
	cache.onFail = cancel

	_, err = trades.SubmitTrade(ctx, &service.CreateTradeRequest{Symbol: "AAPL", Qty: d("-4"), Price: d("110")})
	require.NoError(t, err)
	assert.Equal(t, int64(2), cache.generation)

	after, err := positions.OpenPositions(context.Background())
	require.NoError(t, err)
	assertDecimal(t, "6", after.Aggregates[0].Qty)
	assert.Equal(t, 2, store.lotReads)
}
