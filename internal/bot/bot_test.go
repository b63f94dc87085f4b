package bot

import (
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"xt-grid-bot/internal/models"
	"xt-grid-bot/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// mockExchange is a scriptable in-memory Exchange implementation.
// It tracks the order of gateway calls so tests can assert sequencing.
type mockExchange struct {
	mu         sync.Mutex
	price      float64
	priceErr   error
	balance    *models.Balance
	balanceErr error
	cancelErr  error
	openOrders []models.Order
	placeCount int
	failEvery  int // fail every Nth placement, 0 = never
	calls      []string
}

func newMockExchange() *mockExchange {
	return &mockExchange{
		price:   100,
		balance: &models.Balance{Currency: "usdt", Available: 500, Total: 500},
	}
}

func (m *mockExchange) record(call string) {
	m.calls = append(m.calls, call)
}

func (m *mockExchange) callLog() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	log := make([]string, len(m.calls))
	copy(log, m.calls)
	return log
}

func (m *mockExchange) resetCalls() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = nil
}

func (m *mockExchange) GetPrice(symbol string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("price")
	if m.priceErr != nil {
		return 0, m.priceErr
	}
	return m.price, nil
}

func (m *mockExchange) GetBalance(currency string) (*models.Balance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("balance")
	if m.balanceErr != nil {
		return nil, m.balanceErr
	}
	return m.balance, nil
}

func (m *mockExchange) GetOpenOrders(symbol string) ([]models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("openOrders")
	orders := make([]models.Order, len(m.openOrders))
	copy(orders, m.openOrders)
	return orders, nil
}

func (m *mockExchange) CancelOrder(orderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cancel")
	return nil
}

func (m *mockExchange) CancelAllOrders(symbol string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("cancelAll")
	if m.cancelErr != nil {
		return m.cancelErr
	}
	m.openOrders = nil
	return nil
}

func (m *mockExchange) PlaceOrder(symbol string, side models.Side, price, quantity float64) (*models.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.record("place")
	m.placeCount++
	if m.failEvery > 0 && m.placeCount%m.failEvery == 0 {
		return nil, errors.New("insufficient balance")
	}
	order := models.Order{
		OrderID: fmt.Sprintf("order-%d", m.placeCount),
		Symbol:  symbol,
		Side:    side,
		Price:   price,
		OrigQty: quantity,
		State:   "NEW",
	}
	m.openOrders = append(m.openOrders, order)
	return &order, nil
}

func (m *mockExchange) GetMarketInfo(symbol string) (*models.MarketInfo, error) {
	return &models.MarketInfo{Symbol: symbol, Status: "trading", CurrentPrice: m.price}, nil
}

func (m *mockExchange) Close() error { return nil }

func newTestBot(t *testing.T) (*GridBot, *mockExchange, *sql.DB) {
	t.Helper()
	db, err := storage.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &models.Config{
		QuoteCurrency:  "usdt",
		PriceSyncSec:   60,
		BalanceSyncSec: 300,
		GridRebuildSec: 600,
	}
	ex := newMockExchange()
	return New(cfg, ex, db, zap.NewNop().Sugar()), ex, db
}

func testParams() models.GridParams {
	return models.GridParams{
		Symbol:      "aipg_usdt",
		Positions:   3,
		TotalAmount: 300,
		MinDistance: 0,
		MaxDistance: 10,
	}
}

func TestCreateGrid(t *testing.T) {
	gridBot, ex, db := newTestBot(t)

	state, err := gridBot.Create(testParams())
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.True(t, state.IsRunning)
	assert.InDelta(t, 100.0, state.CurrentPrice, 1e-9)
	assert.InDelta(t, 110.0, state.UpperPrice, 1e-9)
	assert.Len(t, state.OpenOrders, 6, "3 levels place one buy and one sell each")

	// Stray orders are cancelled before the initial ladder goes out.
	calls := ex.callLog()
	require.NotEmpty(t, calls)
	assert.Equal(t, "cancelAll", calls[0])

	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.Equal(t, state.ID, grid.ID)

	stats, err := storage.GetStats(db, grid.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "active", stats.Status)
	assert.Zero(t, stats.TotalTrades)
}

func TestCreateRejectsInvalidParams(t *testing.T) {
	gridBot, _, _ := newTestBot(t)

	bad := testParams()
	bad.Positions = 1
	_, err := gridBot.Create(bad)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	bad = testParams()
	bad.MinDistance = 11
	_, err = gridBot.Create(bad)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)

	bad = testParams()
	bad.TotalAmount = 0
	_, err = gridBot.Create(bad)
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}

func TestCreateWhileRunningIsRejected(t *testing.T) {
	gridBot, _, db := newTestBot(t)

	first, err := gridBot.Create(testParams())
	require.NoError(t, err)

	second := testParams()
	second.Symbol = "btc_usdt"
	_, err = gridBot.Create(second)
	assert.ErrorIs(t, err, models.ErrGridRunning)

	// The original grid is untouched.
	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.Equal(t, first.ID, grid.ID)
	assert.Equal(t, "aipg_usdt", grid.Symbol)
}

func TestStopWithoutActiveGrid(t *testing.T) {
	gridBot, _, db := newTestBot(t)

	_, err := gridBot.Stop()
	assert.ErrorIs(t, err, models.ErrNoActiveGrid)

	// Nothing was mutated by the failed stop.
	summary, err := storage.SummarizeStats(db, time.Time{})
	require.NoError(t, err)
	assert.Zero(t, summary.TotalTrades)
}

func TestStopCancelsOrdersAndKeepsHistory(t *testing.T) {
	gridBot, ex, db := newTestBot(t)

	created, err := gridBot.Create(testParams())
	require.NoError(t, err)
	ex.resetCalls()

	stopped, err := gridBot.Stop()
	require.NoError(t, err)
	assert.Equal(t, created.ID, stopped.ID)
	assert.False(t, stopped.IsRunning)
	assert.Contains(t, ex.callLog(), "cancelAll")

	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	assert.Nil(t, grid)

	// Stats survive the stop.
	stats, err := storage.GetStats(db, created.ID)
	require.NoError(t, err)
	require.NotNil(t, stats)
	assert.Equal(t, "stopped", stats.Status)
}

func TestRebuildNoActiveGridIsNoop(t *testing.T) {
	gridBot, ex, _ := newTestBot(t)

	require.NoError(t, gridBot.RebuildLadder())
	assert.Empty(t, ex.callLog(), "no gateway calls without an active grid")
}

func TestRebuildCancelsBeforePlacing(t *testing.T) {
	gridBot, ex, db := newTestBot(t)

	_, err := gridBot.Create(testParams())
	require.NoError(t, err)
	ex.resetCalls()
	ex.price = 120 // the ladder re-centers on the fresh price

	require.NoError(t, gridBot.RebuildLadder())

	cancelIdx, placeIdx := -1, -1
	for i, call := range ex.callLog() {
		if call == "cancelAll" && cancelIdx == -1 {
			cancelIdx = i
		}
		if call == "place" && placeIdx == -1 {
			placeIdx = i
		}
	}
	require.NotEqual(t, -1, cancelIdx, "rebuild must cancel existing orders")
	require.NotEqual(t, -1, placeIdx, "rebuild must place the new ladder")
	assert.Less(t, cancelIdx, placeIdx, "cancel-all must happen before placement")

	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.InDelta(t, 120.0, grid.CurrentPrice, 1e-9)
	assert.Len(t, grid.OpenOrders, 6)
}

func TestRebuildAbortsWhenCancelFails(t *testing.T) {
	gridBot, ex, _ := newTestBot(t)

	_, err := gridBot.Create(testParams())
	require.NoError(t, err)
	ex.resetCalls()
	ex.cancelErr = errors.New("exchange unavailable")

	err = gridBot.RebuildLadder()
	require.Error(t, err)
	// No placement may happen after a failed cancel: stale orders must not
	// coexist with a freshly planned ladder.
	assert.NotContains(t, ex.callLog(), "place")
}

func TestRebuildToleratesPartialPlacementFailures(t *testing.T) {
	gridBot, ex, db := newTestBot(t)

	_, err := gridBot.Create(testParams())
	require.NoError(t, err)
	ex.resetCalls()
	ex.placeCount = 0
	ex.failEvery = 2 // every second placement fails

	// Degraded ladders are accepted: the rebuild itself succeeds.
	require.NoError(t, gridBot.RebuildLadder())

	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.Len(t, grid.OpenOrders, 3, "half of the 6 placements failed")
	assert.True(t, grid.IsRunning)
}

func TestRebuildSkipsTickWhenPriceUnavailable(t *testing.T) {
	gridBot, ex, db := newTestBot(t)

	created, err := gridBot.Create(testParams())
	require.NoError(t, err)
	ex.resetCalls()
	ex.priceErr = errors.New("timeout")

	err = gridBot.RebuildLadder()
	require.Error(t, err)
	assert.NotContains(t, ex.callLog(), "cancelAll")

	// The resting ladder from creation is untouched.
	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.Equal(t, created.ID, grid.ID)
	assert.Len(t, grid.OpenOrders, 6)
}

func TestStatusReflectsLiveData(t *testing.T) {
	gridBot, ex, _ := newTestBot(t)

	_, err := gridBot.Create(testParams())
	require.NoError(t, err)
	ex.price = 133

	grid, stats, err := gridBot.Status()
	require.NoError(t, err)
	require.NotNil(t, grid)
	require.NotNil(t, stats)
	assert.InDelta(t, 133.0, grid.CurrentPrice, 1e-9)
	assert.Equal(t, "active", stats.Status)
}

func TestStatusWithoutActiveGrid(t *testing.T) {
	gridBot, _, _ := newTestBot(t)

	grid, stats, err := gridBot.Status()
	require.NoError(t, err)
	assert.Nil(t, grid)
	assert.Nil(t, stats)
}

func TestSyncPriceAndBalancePersist(t *testing.T) {
	gridBot, ex, db := newTestBot(t)

	// Without an active grid both syncs are no-ops.
	require.NoError(t, gridBot.syncPrice())
	require.NoError(t, gridBot.syncBalance())

	_, err := gridBot.Create(testParams())
	require.NoError(t, err)

	ex.mu.Lock()
	ex.price = 123.45
	ex.balance = &models.Balance{Currency: "usdt", Available: 42, Total: 42}
	ex.mu.Unlock()

	require.NoError(t, gridBot.syncPrice())
	require.NoError(t, gridBot.syncBalance())

	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.InDelta(t, 123.45, grid.CurrentPrice, 1e-9)
	require.NotNil(t, grid.Balance)
	assert.InDelta(t, 42.0, grid.Balance.Available, 1e-9)
}

// Exercises the full loop lifecycle under the race detector: loops started
// by Create must keep ticking, stop on Shutdown, and a subsequent
// StartLoops/Shutdown cycle must neither race nor leak the old goroutines.
func TestRefresherLoopRestartCycle(t *testing.T) {
	db, err := storage.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	cfg := &models.Config{
		QuoteCurrency:  "usdt",
		PriceSyncSec:   1,
		BalanceSyncSec: 1,
		GridRebuildSec: 1,
	}
	ex := newMockExchange()
	gridBot := New(cfg, ex, db, zap.NewNop().Sugar())

	_, err = gridBot.Create(testParams())
	require.NoError(t, err)
	ex.resetCalls()

	time.Sleep(1500 * time.Millisecond)
	gridBot.Shutdown()
	gridBot.Shutdown() // idempotent

	assert.NotEmpty(t, ex.callLog(), "loops should have hit the exchange at least once")

	ex.resetCalls()
	gridBot.StartLoops()
	time.Sleep(1500 * time.Millisecond)
	gridBot.Shutdown()

	assert.NotEmpty(t, ex.callLog(), "restarted loops should tick again")

	grid, err := storage.GetActiveGrid(db)
	require.NoError(t, err)
	require.NotNil(t, grid)
	assert.True(t, grid.IsRunning)
}
