package recorder

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	"xt-grid-bot/internal/models"
	"xt-grid-bot/internal/storage"

	"go.uber.org/zap"
)

// Recorder ingests fill notifications, books realized PnL and keeps the
// per-grid aggregates current.
type Recorder struct {
	db     *sql.DB
	logger *zap.SugaredLogger
}

func New(db *sql.DB, logger *zap.SugaredLogger) *Recorder {
	return &Recorder{db: db, logger: logger}
}

// RecordTrade appends one fill to the ledger of the active grid and folds it
// into the grid's stats atomically. Fails with models.ErrNoActiveGrid when
// nothing is running.
//
// For SELL fills the realized PnL is a greedy nearest-lower-price match: the
// BUY of the same grid with the highest price strictly below the sell price
// (most recent on ties) serves as the cost basis, and
// pnl = (sell − buy) × min(sellQty, buyQty) − fee. The matched buy quantity is
// deliberately not decremented, so one cheap buy can back several sells.
// Without a qualifying buy the pnl is −fee.
func (r *Recorder) RecordTrade(orderID, symbol string, side models.Side, price, quantity, fee float64, feeAsset string) (int64, error) {
	grid, err := storage.GetActiveGrid(r.db)
	if err != nil {
		return 0, fmt.Errorf("load active grid: %w", err)
	}
	if grid == nil {
		return 0, models.ErrNoActiveGrid
	}

	quoteQuantity := price * quantity

	realizedPnl := 0.0
	if side == models.Sell {
		buyTrade, err := storage.FindMatchingBuy(r.db, grid.ID, price)
		if err != nil {
			return 0, fmt.Errorf("match buy for sell: %w", err)
		}
		if buyTrade != nil {
			matchedQty := quantity
			if buyTrade.Quantity < matchedQty {
				matchedQty = buyTrade.Quantity
			}
			realizedPnl = (price-buyTrade.Price)*matchedQty - fee
		} else {
			// Cost basis unknown; the fee is still a realized loss.
			realizedPnl = -fee
		}
	}

	trade := &models.Trade{
		OrderID:       orderID,
		Symbol:        symbol,
		Side:          side,
		Price:         price,
		Quantity:      quantity,
		QuoteQuantity: quoteQuantity,
		RealizedPnl:   realizedPnl,
		Fee:           fee,
		FeeAsset:      feeAsset,
		ExecutedAt:    time.Now().UTC(),
		GridID:        grid.ID,
	}

	tradeID, err := storage.InsertTradeAndUpdateStats(r.db, trade)
	if err != nil {
		return 0, fmt.Errorf("persist trade: %w", err)
	}

	r.logger.Infof("recorded %s trade %s: %.8f @ %.8f, pnl=%.8f", side, orderID, quantity, price, realizedPnl)
	return tradeID, nil
}

// Summary aggregates stats across grids whose start_time falls inside the
// requested period: "all", "day", "week" or "month".
func (r *Recorder) Summary(period string) (*models.StatsSummary, error) {
	var since time.Time
	switch strings.ToLower(period) {
	case "", "all":
		// zero time: everything
	case "day":
		since = time.Now().UTC().Add(-24 * time.Hour)
	case "week":
		since = time.Now().UTC().Add(-7 * 24 * time.Hour)
	case "month":
		since = time.Now().UTC().Add(-30 * 24 * time.Hour)
	default:
		return nil, fmt.Errorf("%w: unknown period %q", models.ErrInvalidConfig, period)
	}

	return storage.SummarizeStats(r.db, since)
}
