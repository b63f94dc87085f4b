package models

import "errors"

// 核心错误分类。调用方通过 errors.Is 判断，不依赖错误文本。
var (
	// ErrNoActiveGrid 表示当前没有正在运行的网格，属于预期中的良性状态
	ErrNoActiveGrid = errors.New("no active grid found")

	// ErrGridRunning 表示已有网格在运行，创建请求被拒绝
	ErrGridRunning = errors.New("a grid is already running")

	// ErrInvalidConfig 表示网格参数非法，在创建边界被拒绝
	ErrInvalidConfig = errors.New("invalid grid config")

	// ErrMarketNotFound 表示交易所不存在该交易对
	ErrMarketNotFound = errors.New("market not found")
)
