package storage

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"xt-grid-bot/internal/models"

	_ "github.com/mattn/go-sqlite3" // Import the sqlite3 driver
)

// InitDB initializes the database connection and creates necessary tables.
func InitDB(dataSourceName string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", dataSourceName)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err = db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err = createTables(db); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}

	return db, nil
}

// createTables creates the necessary database tables if they don't exist.
func createTables(db *sql.DB) error {
	// GridStates table keeps the full history of grids; rows are never
	// hard-deleted. The partial unique index enforces the single-active-grid
	// invariant at the storage level.
	createGridStatesTableSQL := `
	CREATE TABLE IF NOT EXISTS grid_states (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL,
		is_running BOOLEAN NOT NULL DEFAULT 0,
		positions INTEGER NOT NULL,
		total_amount REAL NOT NULL,
		min_distance REAL NOT NULL,
		max_distance REAL NOT NULL,
		upper_price REAL NOT NULL DEFAULT 0,
		lower_price REAL NOT NULL DEFAULT 0,
		current_price REAL NOT NULL DEFAULT 0,
		open_orders TEXT,
		balance TEXT,
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL
	);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_grid_states_running
		ON grid_states(is_running) WHERE is_running = 1;`

	if _, err := db.Exec(createGridStatesTableSQL); err != nil {
		return err
	}

	// Trades table is the append-only fill ledger.
	createTradesTableSQL := `
	CREATE TABLE IF NOT EXISTS trades (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		order_id TEXT NOT NULL,
		symbol TEXT NOT NULL,
		side TEXT NOT NULL,
		price REAL NOT NULL,
		quantity REAL NOT NULL,
		quote_quantity REAL NOT NULL,
		realized_pnl REAL NOT NULL DEFAULT 0,
		fee REAL NOT NULL DEFAULT 0,
		fee_asset TEXT,
		executed_at DATETIME NOT NULL,
		grid_id INTEGER NOT NULL REFERENCES grid_states(id)
	);
	CREATE INDEX IF NOT EXISTS idx_trades_grid_side ON trades(grid_id, side);`

	if _, err := db.Exec(createTradesTableSQL); err != nil {
		return err
	}

	// GridStats table holds one monotonically accumulated row per grid.
	createGridStatsTableSQL := `
	CREATE TABLE IF NOT EXISTS grid_stats (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		grid_id INTEGER NOT NULL UNIQUE REFERENCES grid_states(id),
		total_trades INTEGER NOT NULL DEFAULT 0,
		total_volume REAL NOT NULL DEFAULT 0,
		total_fees REAL NOT NULL DEFAULT 0,
		realized_pnl REAL NOT NULL DEFAULT 0,
		status TEXT NOT NULL DEFAULT 'active',
		start_time DATETIME NOT NULL,
		last_updated DATETIME NOT NULL
	);`

	if _, err := db.Exec(createGridStatsTableSQL); err != nil {
		return err
	}

	return nil
}

// marshalJSONColumn encodes a value for a nullable JSON TEXT column.
func marshalJSONColumn(v interface{}) (sql.NullString, error) {
	if v == nil {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, err
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

// CreateGridState inserts a new running grid row and fills in the
// generated ID and timestamps on the passed state.
func CreateGridState(db *sql.DB, state *models.GridState) error {
	ordersCol, err := marshalJSONColumn(state.OpenOrders)
	if err != nil {
		return fmt.Errorf("failed to encode open orders: %w", err)
	}
	balanceCol, err := marshalJSONColumn(state.Balance)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}

	now := time.Now().UTC()
	state.CreatedAt = now
	state.UpdatedAt = now
	state.IsRunning = true

	res, err := db.Exec(`
		INSERT INTO grid_states
			(symbol, is_running, positions, total_amount, min_distance, max_distance,
			 upper_price, lower_price, current_price, open_orders, balance, created_at, updated_at)
		VALUES (?, 1, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		state.Symbol, state.Positions, state.TotalAmount, state.MinDistance, state.MaxDistance,
		state.UpperPrice, state.LowerPrice, state.CurrentPrice, ordersCol, balanceCol, now, now)
	if err != nil {
		return fmt.Errorf("failed to insert grid state: %w", err)
	}

	state.ID, err = res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read grid state id: %w", err)
	}
	return nil
}

// GetActiveGrid returns the single running grid, or (nil, nil) when no grid
// is active. Absence of an active grid is an expected condition, not an error.
func GetActiveGrid(db *sql.DB) (*models.GridState, error) {
	row := db.QueryRow(`
		SELECT id, symbol, is_running, positions, total_amount, min_distance, max_distance,
		       upper_price, lower_price, current_price, open_orders, balance, created_at, updated_at
		FROM grid_states WHERE is_running = 1`)

	return scanGridState(row)
}

func scanGridState(row *sql.Row) (*models.GridState, error) {
	var state models.GridState
	var ordersCol, balanceCol sql.NullString

	err := row.Scan(&state.ID, &state.Symbol, &state.IsRunning, &state.Positions,
		&state.TotalAmount, &state.MinDistance, &state.MaxDistance,
		&state.UpperPrice, &state.LowerPrice, &state.CurrentPrice,
		&ordersCol, &balanceCol, &state.CreatedAt, &state.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan grid state: %w", err)
	}

	if ordersCol.Valid && ordersCol.String != "" {
		if err := json.Unmarshal([]byte(ordersCol.String), &state.OpenOrders); err != nil {
			return nil, fmt.Errorf("failed to decode open orders: %w", err)
		}
	}
	if balanceCol.Valid && balanceCol.String != "" {
		if err := json.Unmarshal([]byte(balanceCol.String), &state.Balance); err != nil {
			return nil, fmt.Errorf("failed to decode balance: %w", err)
		}
	}
	return &state, nil
}

// UpdateGridPrice persists a fresh market price without touching orders.
func UpdateGridPrice(db *sql.DB, gridID int64, price float64) error {
	_, err := db.Exec(`UPDATE grid_states SET current_price = ?, updated_at = ? WHERE id = ?`,
		price, time.Now().UTC(), gridID)
	if err != nil {
		return fmt.Errorf("failed to update grid price: %w", err)
	}
	return nil
}

// UpdateGridBalance persists a fresh balance snapshot.
func UpdateGridBalance(db *sql.DB, gridID int64, balance *models.Balance) error {
	balanceCol, err := marshalJSONColumn(balance)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	_, err = db.Exec(`UPDATE grid_states SET balance = ?, updated_at = ? WHERE id = ?`,
		balanceCol, time.Now().UTC(), gridID)
	if err != nil {
		return fmt.Errorf("failed to update grid balance: %w", err)
	}
	return nil
}

// UpdateGridSnapshot persists price, open orders and balance in one write.
// A nil openOrders is stored as an empty ladder; callers observing the state
// mid-rebuild may legitimately see it empty.
func UpdateGridSnapshot(db *sql.DB, gridID int64, price float64, openOrders []models.Order, balance *models.Balance) error {
	if openOrders == nil {
		openOrders = []models.Order{}
	}
	ordersCol, err := marshalJSONColumn(openOrders)
	if err != nil {
		return fmt.Errorf("failed to encode open orders: %w", err)
	}
	balanceCol, err := marshalJSONColumn(balance)
	if err != nil {
		return fmt.Errorf("failed to encode balance: %w", err)
	}
	_, err = db.Exec(`
		UPDATE grid_states
		SET current_price = ?, open_orders = ?, balance = ?, updated_at = ?
		WHERE id = ?`,
		price, ordersCol, balanceCol, time.Now().UTC(), gridID)
	if err != nil {
		return fmt.Errorf("failed to update grid snapshot: %w", err)
	}
	return nil
}

// StopActiveGrid flips the running grid to stopped and marks its stats row.
// Trade and stats history is kept intact. Returns the grid that was stopped,
// or models.ErrNoActiveGrid when nothing is running.
func StopActiveGrid(db *sql.DB) (*models.GridState, error) {
	grid, err := GetActiveGrid(db)
	if err != nil {
		return nil, err
	}
	if grid == nil {
		return nil, models.ErrNoActiveGrid
	}

	now := time.Now().UTC()
	if _, err := db.Exec(`UPDATE grid_states SET is_running = 0, updated_at = ? WHERE id = ?`, now, grid.ID); err != nil {
		return nil, fmt.Errorf("failed to stop grid: %w", err)
	}
	if _, err := db.Exec(`UPDATE grid_stats SET status = 'stopped', last_updated = ? WHERE grid_id = ?`, now, grid.ID); err != nil {
		return nil, fmt.Errorf("failed to mark stats stopped: %w", err)
	}

	grid.IsRunning = false
	grid.UpdatedAt = now
	return grid, nil
}

// CreateStats inserts a fresh active stats row for a grid.
func CreateStats(db *sql.DB, gridID int64) error {
	now := time.Now().UTC()
	_, err := db.Exec(`
		INSERT INTO grid_stats (grid_id, status, start_time, last_updated)
		VALUES (?, 'active', ?, ?)`, gridID, now, now)
	if err != nil {
		return fmt.Errorf("failed to create grid stats: %w", err)
	}
	return nil
}

// GetStats returns the stats row for a grid, or (nil, nil) if absent.
func GetStats(db *sql.DB, gridID int64) (*models.GridStats, error) {
	var stats models.GridStats
	err := db.QueryRow(`
		SELECT id, grid_id, total_trades, total_volume, total_fees, realized_pnl,
		       status, start_time, last_updated
		FROM grid_stats WHERE grid_id = ?`, gridID).
		Scan(&stats.ID, &stats.GridID, &stats.TotalTrades, &stats.TotalVolume,
			&stats.TotalFees, &stats.RealizedPnl, &stats.Status,
			&stats.StartTime, &stats.LastUpdated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load grid stats: %w", err)
	}
	return &stats, nil
}

// FindMatchingBuy returns the BUY trade of this grid with the highest price
// strictly below sellPrice, most recent first on price ties. Returns
// (nil, nil) when no qualifying buy exists.
func FindMatchingBuy(db *sql.DB, gridID int64, sellPrice float64) (*models.Trade, error) {
	var trade models.Trade
	err := db.QueryRow(`
		SELECT id, order_id, symbol, side, price, quantity, quote_quantity,
		       realized_pnl, fee, fee_asset, executed_at, grid_id
		FROM trades
		WHERE grid_id = ? AND side = 'BUY' AND price < ?
		ORDER BY price DESC, executed_at DESC, id DESC
		LIMIT 1`, gridID, sellPrice).
		Scan(&trade.ID, &trade.OrderID, &trade.Symbol, &trade.Side, &trade.Price,
			&trade.Quantity, &trade.QuoteQuantity, &trade.RealizedPnl,
			&trade.Fee, &trade.FeeAsset, &trade.ExecutedAt, &trade.GridID)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find matching buy: %w", err)
	}
	return &trade, nil
}

// InsertTradeAndUpdateStats appends the trade and folds it into the grid's
// stats inside one transaction: either both land, or neither.
func InsertTradeAndUpdateStats(db *sql.DB, trade *models.Trade) (int64, error) {
	tx, err := db.Begin()
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(`
		INSERT INTO trades
			(order_id, symbol, side, price, quantity, quote_quantity,
			 realized_pnl, fee, fee_asset, executed_at, grid_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		trade.OrderID, trade.Symbol, trade.Side, trade.Price, trade.Quantity,
		trade.QuoteQuantity, trade.RealizedPnl, trade.Fee, trade.FeeAsset,
		trade.ExecutedAt, trade.GridID)
	if err != nil {
		return 0, fmt.Errorf("failed to insert trade: %w", err)
	}

	tradeID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to read trade id: %w", err)
	}

	_, err = tx.Exec(`
		UPDATE grid_stats
		SET total_trades = total_trades + 1,
		    total_volume = total_volume + ?,
		    total_fees = total_fees + ?,
		    realized_pnl = realized_pnl + ?,
		    last_updated = ?
		WHERE grid_id = ?`,
		trade.QuoteQuantity, trade.Fee, trade.RealizedPnl, time.Now().UTC(), trade.GridID)
	if err != nil {
		return 0, fmt.Errorf("failed to update grid stats: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("failed to commit trade: %w", err)
	}

	trade.ID = tradeID
	return tradeID, nil
}

// SummarizeStats aggregates stats across all grids whose start_time is not
// before since. Pass the zero time to aggregate everything.
func SummarizeStats(db *sql.DB, since time.Time) (*models.StatsSummary, error) {
	var summary models.StatsSummary
	err := db.QueryRow(`
		SELECT COALESCE(SUM(total_trades), 0), COALESCE(SUM(total_volume), 0),
		       COALESCE(SUM(total_fees), 0), COALESCE(SUM(realized_pnl), 0)
		FROM grid_stats WHERE start_time >= ?`, since.UTC()).
		Scan(&summary.TotalTrades, &summary.TotalVolume, &summary.TotalFees, &summary.TotalPnl)
	if err != nil {
		return nil, fmt.Errorf("failed to summarize stats: %w", err)
	}
	summary.NetProfit = summary.TotalPnl - summary.TotalFees
	return &summary, nil
}
