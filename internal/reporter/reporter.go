package reporter

import (
	"fmt"

	"xt-grid-bot/internal/models"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.uber.org/zap"
)

// LogLadder 以表格形式打印刚规划好的网格阶梯
func LogLadder(logger *zap.SugaredLogger, symbol string, centerPrice float64, intents []models.OrderIntent) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("网格阶梯 %s (中心价 %.8f)", symbol, centerPrice))
	t.AppendHeader(table.Row{"档位", "方向", "价格", "数量", "价值(USDT)"})

	for _, intent := range intents {
		t.AppendRow(table.Row{
			intent.Level,
			intent.Side,
			fmt.Sprintf("%.8f", intent.Price),
			fmt.Sprintf("%.6f", intent.Quantity),
			fmt.Sprintf("%.2f", intent.Price*intent.Quantity),
		})
	}

	logger.Infof("规划结果:\n%s", t.Render())
}

// LogStats 在网格停止时打印该网格的最终统计
func LogStats(logger *zap.SugaredLogger, symbol string, stats *models.GridStats) {
	t := table.NewWriter()
	t.SetStyle(table.StyleLight)
	t.SetTitle(fmt.Sprintf("网格统计 %s", symbol))
	t.AppendRows([]table.Row{
		{"总交易次数", stats.TotalTrades},
		{"总交易量(USDT)", fmt.Sprintf("%.2f", stats.TotalVolume)},
		{"总手续费(USDT)", fmt.Sprintf("%.4f", stats.TotalFees)},
		{"已实现盈亏(USDT)", fmt.Sprintf("%.4f", stats.RealizedPnl)},
		{"运行开始", stats.StartTime.Format("2006-01-02 15:04:05")},
		{"最后更新", stats.LastUpdated.Format("2006-01-02 15:04:05")},
	})

	logger.Infof("最终统计:\n%s", t.Render())
}
