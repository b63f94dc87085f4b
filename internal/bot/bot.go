package bot

import (
	"database/sql"
	"fmt"
	"sync"
	"time"

	"xt-grid-bot/internal/exchange"
	"xt-grid-bot/internal/models"
	"xt-grid-bot/internal/planner"
	"xt-grid-bot/internal/reporter"
	"xt-grid-bot/internal/storage"

	"go.uber.org/zap"
)

// GridBot 是网格机器人的核心：负责网格的生命周期（创建/停止/查询），
// 并驱动三个相互独立的后台刷新循环（价格同步、余额同步、网格重建）。
//
// 并发模型：create/stop/rebuild 通过同一把互斥锁串行化；
// 三个循环每个tick都从数据库重新读取活动网格，没有活动网格时空转。
// 停止网格后循环在下一个tick自然变为空操作，无需单独的取消信号。
type GridBot struct {
	config   *models.Config
	exchange exchange.Exchange
	db       *sql.DB
	logger   *zap.SugaredLogger

	mutex        sync.Mutex
	loopsStarted bool
	stopChannel  chan struct{}
}

// New 创建一个网格机器人实例
func New(cfg *models.Config, ex exchange.Exchange, db *sql.DB, logger *zap.SugaredLogger) *GridBot {
	return &GridBot{
		config:      cfg,
		exchange:    ex,
		db:          db,
		logger:      logger,
		stopChannel: make(chan struct{}),
	}
}

// Create 创建并启动一个新网格。
// 已有网格在运行时返回 ErrGridRunning，原网格不受影响。
// 成功路径：撤销遗留挂单 → 取现价/余额 → 规划并挂出初始阶梯 →
// 持久化运行状态和全新统计 → 确保刷新循环已启动。
func (b *GridBot) Create(params models.GridParams) (*models.GridState, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}

	b.mutex.Lock()
	defer b.mutex.Unlock()

	active, err := storage.GetActiveGrid(b.db)
	if err != nil {
		return nil, fmt.Errorf("检查活动网格失败: %w", err)
	}
	if active != nil {
		return nil, fmt.Errorf("%w: symbol=%s", models.ErrGridRunning, active.Symbol)
	}

	// 防御性清理：撤销该交易对上所有遗留挂单
	if err := b.exchange.CancelAllOrders(params.Symbol); err != nil {
		return nil, fmt.Errorf("撤销遗留挂单失败: %w", err)
	}

	currentPrice, err := b.exchange.GetPrice(params.Symbol)
	if err != nil {
		return nil, fmt.Errorf("获取现价失败: %w", err)
	}
	if currentPrice <= 0 {
		return nil, fmt.Errorf("%w: 现价非法 %v", models.ErrInvalidConfig, currentPrice)
	}

	balance, err := b.exchange.GetBalance(b.config.QuoteCurrency)
	if err != nil {
		// 余额只是快照信息，拿不到不阻断创建
		b.logger.Warnf("获取余额失败: %v", err)
		balance = nil
	}

	lowerPrice, upperPrice := planner.Bounds(currentPrice, params.MinDistance, params.MaxDistance)

	intents := planner.Plan(currentPrice, params.Positions, params.MinDistance, params.MaxDistance, params.TotalAmount)
	placed := b.placeLadder(params.Symbol, intents)
	b.logger.Infof("初始阶梯挂单完成: %d/%d", placed, len(intents))
	reporter.LogLadder(b.logger, params.Symbol, currentPrice, intents)

	openOrders, err := b.exchange.GetOpenOrders(params.Symbol)
	if err != nil {
		b.logger.Warnf("获取挂单列表失败: %v", err)
		openOrders = nil
	}

	state := &models.GridState{
		Symbol:       params.Symbol,
		Positions:    params.Positions,
		TotalAmount:  params.TotalAmount,
		MinDistance:  params.MinDistance,
		MaxDistance:  params.MaxDistance,
		UpperPrice:   upperPrice,
		LowerPrice:   lowerPrice,
		CurrentPrice: currentPrice,
		OpenOrders:   openOrders,
		Balance:      balance,
	}
	if err := storage.CreateGridState(b.db, state); err != nil {
		return nil, fmt.Errorf("持久化网格状态失败: %w", err)
	}
	if err := storage.CreateStats(b.db, state.ID); err != nil {
		return nil, fmt.Errorf("初始化网格统计失败: %w", err)
	}

	b.startLoopsLocked()

	b.logger.Infof("网格已创建: %s, %d档, 投入%.2f, 距离%.2f%%-%.2f%%",
		params.Symbol, params.Positions, params.TotalAmount, params.MinDistance, params.MaxDistance)
	return state, nil
}

// Stop 停止当前活动网格：撤销全部挂单并将状态置为停止。
// 没有活动网格时返回 ErrNoActiveGrid（预期内的良性错误）。
// 历史交易和统计数据保持不变；刷新循环在下一个tick自动空转。
func (b *GridBot) Stop() (*models.GridState, error) {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	grid, err := storage.GetActiveGrid(b.db)
	if err != nil {
		return nil, fmt.Errorf("检查活动网格失败: %w", err)
	}
	if grid == nil {
		return nil, models.ErrNoActiveGrid
	}

	if err := b.exchange.CancelAllOrders(grid.Symbol); err != nil {
		return nil, fmt.Errorf("撤销挂单失败: %w", err)
	}

	stopped, err := storage.StopActiveGrid(b.db)
	if err != nil {
		return nil, fmt.Errorf("更新网格状态失败: %w", err)
	}

	if stats, err := storage.GetStats(b.db, stopped.ID); err == nil && stats != nil {
		reporter.LogStats(b.logger, stopped.Symbol, stats)
	}

	b.logger.Infof("网格 %s 已停止", stopped.Symbol)
	return stopped, nil
}

// Status 返回当前活动网格及其统计。
// 现价、挂单和余额直接取自交易所以反映实时情况；没有活动网格时
// 返回 (nil, nil, nil)。交易所调用失败整体报错，由调用方决定呈现方式。
func (b *GridBot) Status() (*models.GridState, *models.GridStats, error) {
	grid, err := storage.GetActiveGrid(b.db)
	if err != nil {
		return nil, nil, fmt.Errorf("读取网格状态失败: %w", err)
	}
	if grid == nil {
		return nil, nil, nil
	}

	if price, err := b.exchange.GetPrice(grid.Symbol); err == nil {
		grid.CurrentPrice = price
	} else {
		b.logger.Warnf("查询状态时获取现价失败: %v", err)
	}
	if orders, err := b.exchange.GetOpenOrders(grid.Symbol); err == nil {
		grid.OpenOrders = orders
	} else {
		b.logger.Warnf("查询状态时获取挂单失败: %v", err)
	}
	if balance, err := b.exchange.GetBalance(b.config.QuoteCurrency); err == nil {
		grid.Balance = balance
	} else {
		b.logger.Warnf("查询状态时获取余额失败: %v", err)
	}

	stats, err := storage.GetStats(b.db, grid.ID)
	if err != nil {
		return nil, nil, err
	}
	return grid, stats, nil
}

// StartLoops 启动三个后台刷新循环（若尚未启动）。
// 进程生命周期内只启动一次，网格的启停不影响循环本身。
func (b *GridBot) StartLoops() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	b.startLoopsLocked()
}

func (b *GridBot) startLoopsLocked() {
	if b.loopsStarted {
		return
	}
	b.loopsStarted = true

	// 每个循环持有启动时的stop通道快照，之后不再读取字段本身，
	// 这样 Shutdown 里关闭并更换通道不会和循环产生竞争
	stop := b.stopChannel
	go b.priceSyncLoop(stop)
	go b.balanceSyncLoop(stop)
	go b.rebuildLoop(stop)
	b.logger.Info("后台刷新循环已启动")
}

// Shutdown 在进程退出时停止所有后台循环。
// 旧循环各自持有已关闭的通道快照，会在下一次select时退出；
// 这里换上新通道后再次 StartLoops 即可安全重启。
func (b *GridBot) Shutdown() {
	b.mutex.Lock()
	defer b.mutex.Unlock()
	if !b.loopsStarted {
		return
	}
	close(b.stopChannel)
	b.loopsStarted = false
	b.stopChannel = make(chan struct{})
	b.logger.Info("后台刷新循环已停止")
}

// priceSyncLoop 定期获取现价并持久化，不触碰挂单
func (b *GridBot) priceSyncLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(b.config.PriceSyncSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := b.syncPrice(); err != nil {
				b.logger.Errorf("价格同步失败: %v", err)
			}
		}
	}
}

func (b *GridBot) syncPrice() error {
	grid, err := storage.GetActiveGrid(b.db)
	if err != nil || grid == nil {
		return err
	}

	price, err := b.exchange.GetPrice(grid.Symbol)
	if err != nil {
		return fmt.Errorf("获取现价: %w", err)
	}
	b.logger.Infof("价格已更新: %s = %.8f", grid.Symbol, price)
	return storage.UpdateGridPrice(b.db, grid.ID, price)
}

// balanceSyncLoop 定期获取余额并持久化
func (b *GridBot) balanceSyncLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(b.config.BalanceSyncSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := b.syncBalance(); err != nil {
				b.logger.Errorf("余额同步失败: %v", err)
			}
		}
	}
}

func (b *GridBot) syncBalance() error {
	grid, err := storage.GetActiveGrid(b.db)
	if err != nil || grid == nil {
		return err
	}

	balance, err := b.exchange.GetBalance(b.config.QuoteCurrency)
	if err != nil {
		return fmt.Errorf("获取余额: %w", err)
	}
	b.logger.Infof("余额已更新: %s 可用 %.4f", balance.Currency, balance.Available)
	return storage.UpdateGridBalance(b.db, grid.ID, balance)
}

// rebuildLoop 定期以最新价格为中心重建整个阶梯
func (b *GridBot) rebuildLoop(stop <-chan struct{}) {
	ticker := time.NewTicker(time.Duration(b.config.GridRebuildSec) * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			if err := b.RebuildLadder(); err != nil {
				b.logger.Errorf("网格重建失败: %v", err)
			}
		}
	}
}

// RebuildLadder 执行一次完整的撤单-重挂周期：
// 取现价 → 持久化快照 → 撤销全部挂单 → 以新价为中心重新规划 →
// 顺序挂出全部订单（单档失败只跳过）→ 持久化最终快照。
//
// 撤单必须在挂新单之前完成（或至少尝试过）；撤单和挂单之间
// 交易对上可能短暂没有任何挂单，这是已知且可被观察到的窗口。
func (b *GridBot) RebuildLadder() error {
	b.mutex.Lock()
	defer b.mutex.Unlock()

	grid, err := storage.GetActiveGrid(b.db)
	if err != nil {
		return fmt.Errorf("读取活动网格: %w", err)
	}
	if grid == nil {
		return nil
	}

	b.logger.Infof("开始重建网格 %s ...", grid.Symbol)

	currentPrice, err := b.exchange.GetPrice(grid.Symbol)
	if err != nil {
		return fmt.Errorf("获取现价: %w", err)
	}

	balance, err := b.exchange.GetBalance(b.config.QuoteCurrency)
	if err != nil {
		b.logger.Warnf("重建时获取余额失败: %v", err)
		balance = grid.Balance
	}
	openOrders, err := b.exchange.GetOpenOrders(grid.Symbol)
	if err != nil {
		b.logger.Warnf("重建时获取挂单失败: %v", err)
		openOrders = grid.OpenOrders
	}

	// 重建前快照
	if err := storage.UpdateGridSnapshot(b.db, grid.ID, currentPrice, openOrders, balance); err != nil {
		return fmt.Errorf("持久化重建前快照: %w", err)
	}

	// 先撤后挂：撤单失败则放弃本轮重建，避免新旧挂单共存
	if err := b.exchange.CancelAllOrders(grid.Symbol); err != nil {
		return fmt.Errorf("撤销现有挂单: %w", err)
	}
	b.logger.Info("已撤销现有挂单")

	intents := planner.Plan(currentPrice, grid.Positions, grid.MinDistance, grid.MaxDistance, grid.TotalAmount)
	placed := b.placeLadder(grid.Symbol, intents)
	if placed < len(intents) {
		b.logger.Warnf("阶梯不完整: 仅挂出 %d/%d 档", placed, len(intents))
	}

	finalOrders, err := b.exchange.GetOpenOrders(grid.Symbol)
	if err != nil {
		b.logger.Warnf("重建后获取挂单失败: %v", err)
		finalOrders = nil
	}
	finalBalance, err := b.exchange.GetBalance(b.config.QuoteCurrency)
	if err != nil {
		finalBalance = balance
	}

	if err := storage.UpdateGridSnapshot(b.db, grid.ID, currentPrice, finalOrders, finalBalance); err != nil {
		return fmt.Errorf("持久化重建后快照: %w", err)
	}

	b.logger.Infof("网格重建完成: 中心价 %.8f, 挂单 %d 个", currentPrice, placed)
	return nil
}

// placeLadder 顺序挂出阶梯中的所有订单。
// 单档失败记录日志后跳过，不重试、不中断剩余档位；
// 残缺的阶梯是可接受、可观察的降级状态。
func (b *GridBot) placeLadder(symbol string, intents []models.OrderIntent) int {
	placed := 0
	for _, intent := range intents {
		order, err := b.exchange.PlaceOrder(symbol, intent.Side, intent.Price, intent.Quantity)
		if err != nil {
			b.logger.Warnf("第%d档 %s 挂单失败 (%.8f @ %.8f): %v",
				intent.Level, intent.Side, intent.Quantity, intent.Price, err)
			continue
		}
		placed++
		b.logger.Debugf("第%d档 %s 挂单成功: 订单 %s", intent.Level, intent.Side, order.OrderID)
	}
	return placed
}
