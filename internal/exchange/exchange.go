package exchange

import "xt-grid-bot/internal/models"

// Exchange 定义了网格机器人依赖的最小交易所能力面。
// 每个调用独立失败，不提供任何复合保证。
type Exchange interface {
	// GetPrice 返回交易对的最新成交价
	GetPrice(symbol string) (float64, error)
	// GetBalance 返回指定币种的余额快照
	GetBalance(currency string) (*models.Balance, error)
	// GetOpenOrders 返回交易对当前所有挂单
	GetOpenOrders(symbol string) ([]models.Order, error)
	// CancelOrder 撤销单个订单
	CancelOrder(orderID string) error
	// CancelAllOrders 逐个撤销交易对的全部挂单，单个失败只记录、不中断
	CancelAllOrders(symbol string) error
	// PlaceOrder 挂一个限价单并返回订单信息
	PlaceOrder(symbol string, side models.Side, price, quantity float64) (*models.Order, error)
	// GetMarketInfo 返回交易对的市场信息（精度、状态、现价）
	GetMarketInfo(symbol string) (*models.MarketInfo, error)
	// Close 释放底层资源（WebSocket连接等）
	Close() error
}
