package models

import (
	"fmt"
	"time"
)

// Config 结构体定义了机器人的所有配置参数
type Config struct {
	APIURL             string    `json:"api_url"`              // XT REST API基础地址
	WSURL              string    `json:"ws_url"`               // XT WebSocket公共流地址
	Symbol             string    `json:"symbol"`               // 默认交易对, e.g., "aipg_usdt"
	DBPath             string    `json:"db_path"`              // sqlite数据库文件路径
	ServerPort         int       `json:"server_port"`          // HTTP API监听端口
	Positions          int       `json:"positions"`            // 默认网格档位数量
	TotalAmount        float64   `json:"total_amount"`         // 默认投入总额 (USDT)
	MinDistance        float64   `json:"min_distance"`         // 最小网格距离 (%)
	MaxDistance        float64   `json:"max_distance"`         // 最大网格距离 (%)
	QuoteCurrency      string    `json:"quote_currency"`       // 计价货币, e.g., "usdt"
	PriceSyncSec       int       `json:"price_sync_sec"`       // 价格同步间隔 (秒)
	BalanceSyncSec     int       `json:"balance_sync_sec"`     // 余额同步间隔 (秒)
	GridRebuildSec     int       `json:"grid_rebuild_sec"`     // 网格重建间隔 (秒)
	RequestTimeoutSec  int       `json:"request_timeout_sec"`  // 单次API请求超时 (秒)
	RateLimitPerSec    float64   `json:"rate_limit_per_sec"`   // API限速 (次/秒)
	RateLimitBurst     int       `json:"rate_limit_burst"`     // API限速突发量
	EnablePriceStream  bool      `json:"enable_price_stream"`  // 是否启用WebSocket行情流
	PricePrecision     int       `json:"price_precision"`      // 下单价格小数位
	QuantityPrecision  int       `json:"quantity_precision"`   // 下单数量小数位
	LogConfig          LogConfig `json:"log"`                  // 日志配置
}

// LogConfig 定义了日志相关的配置
type LogConfig struct {
	Level      string `json:"level"`       // 日志级别, e.g., "debug", "info", "warn", "error"
	Output     string `json:"output"`      // 输出模式: "console", "file", "both"
	File       string `json:"file"`        // 日志文件路径
	MaxSize    int    `json:"max_size"`    // 单个日志文件的最大大小 (MB)
	MaxBackups int    `json:"max_backups"` // 保留的旧日志文件最大数量
	MaxAge     int    `json:"max_age"`     // 旧日志文件的最大保留天数
	Compress   bool   `json:"compress"`    // 是否压缩旧日志文件
}

// Side 定义了交易方向的类型
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// GridParams 是创建网格时提交的核心参数，网格激活后【不可变】
type GridParams struct {
	Symbol      string  `json:"symbol"`
	Positions   int     `json:"positions"`
	TotalAmount float64 `json:"total_amount"`
	MinDistance float64 `json:"min_distance"` // 百分比
	MaxDistance float64 `json:"max_distance"` // 百分比
}

// Validate 在创建边界显式校验参数，避免让除零或负价格向下游传播
func (p *GridParams) Validate() error {
	if p.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if p.Positions < 2 {
		return fmt.Errorf("%w: positions must be >= 2, got %d", ErrInvalidConfig, p.Positions)
	}
	if p.TotalAmount <= 0 {
		return fmt.Errorf("%w: total_amount must be positive, got %v", ErrInvalidConfig, p.TotalAmount)
	}
	if p.MinDistance < 0 || p.MinDistance > p.MaxDistance {
		return fmt.Errorf("%w: require 0 <= min_distance <= max_distance, got min=%v max=%v",
			ErrInvalidConfig, p.MinDistance, p.MaxDistance)
	}
	return nil
}

// OrderIntent 是规划器产出的单个挂单意图
type OrderIntent struct {
	Level    int     `json:"level"`
	Side     Side    `json:"side"`
	Price    float64 `json:"price"`
	Quantity float64 `json:"quantity"`
}

// Order 定义了交易所返回的订单信息
type Order struct {
	OrderID       string  `json:"order_id"`
	ClientOrderID string  `json:"client_order_id,omitempty"`
	Symbol        string  `json:"symbol"`
	Side          Side    `json:"side"`
	Price         float64 `json:"price"`
	OrigQty       float64 `json:"orig_qty"`
	ExecutedQty   float64 `json:"executed_qty"`
	State         string  `json:"state"`
	CreatedTime   int64   `json:"created_time"`
}

// Balance 定义了账户中特定资产的余额信息
type Balance struct {
	Currency  string  `json:"currency"`
	Available float64 `json:"available"`
	Frozen    float64 `json:"frozen"`
	Total     float64 `json:"total"`
}

// MarketInfo 汇总了交易对的市场信息
type MarketInfo struct {
	Symbol            string  `json:"symbol"`
	Status            string  `json:"status"`
	CurrentPrice      float64 `json:"current_price"`
	PricePrecision    int     `json:"price_precision"`
	QuantityPrecision int     `json:"quantity_precision"`
}

// GridState 代表一个网格的完整持久化状态。
// 系统不变量：任意时刻最多只有一个 is_running=true 的网格。
type GridState struct {
	ID           int64      `json:"id"`
	Symbol       string     `json:"symbol"`
	IsRunning    bool       `json:"is_running"`
	Positions    int        `json:"positions"`
	TotalAmount  float64    `json:"total_amount"`
	MinDistance  float64    `json:"min_distance"`
	MaxDistance  float64    `json:"max_distance"`
	UpperPrice   float64    `json:"upper_price"`
	LowerPrice   float64    `json:"lower_price"`
	CurrentPrice float64    `json:"current_price"`
	OpenOrders   []Order    `json:"open_orders"`
	Balance      *Balance   `json:"balance"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// Params 返回该网格状态对应的创建参数
func (g *GridState) Params() GridParams {
	return GridParams{
		Symbol:      g.Symbol,
		Positions:   g.Positions,
		TotalAmount: g.TotalAmount,
		MinDistance: g.MinDistance,
		MaxDistance: g.MaxDistance,
	}
}

// Trade 记录一笔已成交的交易，只追加、不修改
type Trade struct {
	ID            int64     `json:"id"`
	OrderID       string    `json:"order_id"`
	Symbol        string    `json:"symbol"`
	Side          Side      `json:"side"`
	Price         float64   `json:"price"`
	Quantity      float64   `json:"quantity"`
	QuoteQuantity float64   `json:"quote_quantity"` // price * quantity (USDT)
	RealizedPnl   float64   `json:"realized_pnl"`
	Fee           float64   `json:"fee"`
	FeeAsset      string    `json:"fee_asset"`
	ExecutedAt    time.Time `json:"executed_at"`
	GridID        int64     `json:"grid_id"`
}

// GridStats 是与网格一一对应的累计统计，由交易记录器单调累加
type GridStats struct {
	ID          int64     `json:"id"`
	GridID      int64     `json:"grid_id"`
	TotalTrades int64     `json:"total_trades"`
	TotalVolume float64   `json:"total_volume"`
	TotalFees   float64   `json:"total_fees"`
	RealizedPnl float64   `json:"realized_pnl"`
	Status      string    `json:"status"` // active, stopped
	StartTime   time.Time `json:"start_time"`
	LastUpdated time.Time `json:"last_updated"`
}

// StatsSummary 是一段时间内所有网格统计的汇总
type StatsSummary struct {
	TotalTrades int64   `json:"total_trades"`
	TotalVolume float64 `json:"total_volume"`
	TotalFees   float64 `json:"total_fees"`
	TotalPnl    float64 `json:"total_pnl"`
	NetProfit   float64 `json:"net_profit"`
}
