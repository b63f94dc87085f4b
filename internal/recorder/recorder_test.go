package recorder

import (
	"database/sql"
	"testing"

	"xt-grid-bot/internal/models"
	"xt-grid-bot/internal/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestRecorder(t *testing.T) (*Recorder, *sql.DB) {
	t.Helper()
	db, err := storage.InitDB(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(db, zap.NewNop().Sugar()), db
}

func startGrid(t *testing.T, db *sql.DB) *models.GridState {
	t.Helper()
	state := &models.GridState{
		Symbol:      "aipg_usdt",
		Positions:   3,
		TotalAmount: 300,
		MaxDistance: 10,
	}
	require.NoError(t, storage.CreateGridState(db, state))
	require.NoError(t, storage.CreateStats(db, state.ID))
	return state
}

func TestRecordTradeWithoutActiveGrid(t *testing.T) {
	rec, _ := newTestRecorder(t)

	_, err := rec.RecordTrade("ord-1", "aipg_usdt", models.Buy, 100, 1, 0.1, "USDT")
	assert.ErrorIs(t, err, models.ErrNoActiveGrid)
}

func TestRecordSellWithoutPriorBuy(t *testing.T) {
	rec, db := newTestRecorder(t)
	grid := startGrid(t, db)

	// No cost basis: pnl is just the negative fee, trade still lands.
	tradeID, err := rec.RecordTrade("ord-1", "aipg_usdt", models.Sell, 110, 1, 0.5, "USDT")
	require.NoError(t, err)
	assert.NotZero(t, tradeID)

	stats, err := storage.GetStats(db, grid.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(1), stats.TotalTrades)
	assert.InDelta(t, -0.5, stats.RealizedPnl, 1e-9)
}

func TestRecordSellMatchesNearestLowerBuy(t *testing.T) {
	rec, db := newTestRecorder(t)
	grid := startGrid(t, db)

	_, err := rec.RecordTrade("buy-1", "aipg_usdt", models.Buy, 100, 2, 0, "USDT")
	require.NoError(t, err)

	// sell 1 @ 110 against buy 2 @ 100, fee 0.5:
	// pnl = (110-100)*min(1,2) - 0.5 = 9.5
	_, err = rec.RecordTrade("sell-1", "aipg_usdt", models.Sell, 110, 1, 0.5, "USDT")
	require.NoError(t, err)

	stats, err := storage.GetStats(db, grid.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), stats.TotalTrades)
	assert.InDelta(t, 9.5, stats.RealizedPnl, 1e-9)
	assert.InDelta(t, 100*2+110*1, stats.TotalVolume, 1e-9)
	assert.InDelta(t, 0.5, stats.TotalFees, 1e-9)
}

func TestRecordSellReusesMatchedBuy(t *testing.T) {
	rec, db := newTestRecorder(t)
	grid := startGrid(t, db)

	_, err := rec.RecordTrade("buy-1", "aipg_usdt", models.Buy, 100, 1, 0, "USDT")
	require.NoError(t, err)

	// Matched quantity is not decremented: the same buy backs both sells.
	_, err = rec.RecordTrade("sell-1", "aipg_usdt", models.Sell, 110, 1, 0, "USDT")
	require.NoError(t, err)
	_, err = rec.RecordTrade("sell-2", "aipg_usdt", models.Sell, 105, 1, 0, "USDT")
	require.NoError(t, err)

	stats, err := storage.GetStats(db, grid.ID)
	require.NoError(t, err)
	assert.InDelta(t, 10+5, stats.RealizedPnl, 1e-9)
}

func TestRecordBuyBooksNoPnl(t *testing.T) {
	rec, db := newTestRecorder(t)
	grid := startGrid(t, db)

	_, err := rec.RecordTrade("buy-1", "aipg_usdt", models.Buy, 100, 2, 0.2, "USDT")
	require.NoError(t, err)

	stats, err := storage.GetStats(db, grid.ID)
	require.NoError(t, err)
	assert.InDelta(t, 0.0, stats.RealizedPnl, 1e-9)
	assert.InDelta(t, 0.2, stats.TotalFees, 1e-9)
}

func TestSummaryPeriods(t *testing.T) {
	rec, db := newTestRecorder(t)
	startGrid(t, db)

	_, err := rec.RecordTrade("sell-1", "aipg_usdt", models.Sell, 110, 1, 0.5, "USDT")
	require.NoError(t, err)

	for _, period := range []string{"all", "day", "week", "month"} {
		summary, err := rec.Summary(period)
		require.NoError(t, err, "period=%s", period)
		// The grid started just now, every window includes it.
		assert.Equal(t, int64(1), summary.TotalTrades, "period=%s", period)
	}

	_, err = rec.Summary("year")
	assert.ErrorIs(t, err, models.ErrInvalidConfig)
}
