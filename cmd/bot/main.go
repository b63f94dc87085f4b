package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"xt-grid-bot/internal/api"
	"xt-grid-bot/internal/bot"
	"xt-grid-bot/internal/config"
	"xt-grid-bot/internal/exchange"
	"xt-grid-bot/internal/logger"
	"xt-grid-bot/internal/models"
	"xt-grid-bot/internal/recorder"
	"xt-grid-bot/internal/storage"

	"github.com/joho/godotenv"
)

func main() {
	configPath := flag.String("config", "config.json", "path to the config file")
	flag.Parse()

	// 提前初始化一个默认logger，保证加载.env和配置阶段也有日志
	logger.Init(models.LogConfig{Level: "info", Output: "console"})

	// 加载 .env 文件（API密钥等敏感信息从环境变量读取）
	if err := godotenv.Load(); err != nil {
		logger.S().Info("未找到 .env 文件，将从系统环境变量中读取。")
	} else {
		logger.S().Info("成功从 .env 文件加载配置。")
	}

	// 加载 JSON 配置
	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		if os.IsNotExist(err) {
			logger.S().Warnf("配置文件 %s 不存在，使用默认配置。", *configPath)
			cfg = config.DefaultConfig()
		} else {
			logger.S().Fatalf("无法加载配置文件: %v", err)
		}
	}

	// 使用文件中的配置重新初始化日志
	logger.Init(cfg.LogConfig)
	defer logger.Sync()

	apiKey := os.Getenv("XT_API_KEY")
	secretKey := os.Getenv("XT_SECRET_KEY")
	if apiKey == "" || secretKey == "" {
		logger.S().Fatal("错误：XT_API_KEY 和 XT_SECRET_KEY 环境变量必须被设置。")
	}

	// 初始化数据库
	db, err := storage.InitDB(cfg.DBPath)
	if err != nil {
		logger.S().Fatalf("初始化数据库失败: %v", err)
	}
	defer db.Close()

	// 初始化交易所网关
	xtExchange := exchange.NewXTExchange(apiKey, secretKey, cfg, logger.S())
	defer xtExchange.Close()

	// 初始化机器人和交易记录器
	gridBot := bot.New(cfg, xtExchange, db, logger.S())
	tradeRecorder := recorder.New(db, logger.S())

	// 启动后台刷新循环。循环对没有活动网格的tick是空操作，
	// 因此重启进程后已有的活动网格会被自动接管。
	gridBot.StartLoops()

	// 启动HTTP API
	server := api.NewServer(gridBot, tradeRecorder, xtExchange, logger.S(), cfg.ServerPort)
	server.Start()

	// 等待中断信号以实现优雅退出
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.S().Info("收到退出信号，正在关闭...")
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Stop(ctx); err != nil {
		logger.S().Errorf("关闭HTTP服务失败: %v", err)
	}
	gridBot.Shutdown()
	logger.S().Info("机器人已成功停止。")
}
