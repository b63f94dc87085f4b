package config

import (
	"encoding/json"
	"os"

	"xt-grid-bot/internal/models"
)

// DefaultConfig 返回一份带默认值的配置。
// 默认值对应 XT 现货上的 aipg_usdt 小额网格。
func DefaultConfig() *models.Config {
	return &models.Config{
		APIURL:            "https://sapi.xt.com",
		WSURL:             "wss://stream.xt.com/public",
		Symbol:            "aipg_usdt",
		DBPath:            "grid_bot.db",
		ServerPort:        8000,
		Positions:         20,
		TotalAmount:       200,
		MinDistance:       0.5,
		MaxDistance:       10,
		QuoteCurrency:     "usdt",
		PriceSyncSec:      60,
		BalanceSyncSec:    300,
		GridRebuildSec:    600,
		RequestTimeoutSec: 10,
		RateLimitPerSec:   10,
		RateLimitBurst:    20,
		EnablePriceStream: false,
		PricePrecision:    6,
		QuantityPrecision: 2,
		LogConfig: models.LogConfig{
			Level:  "info",
			Output: "console",
		},
	}
}

// LoadConfig 从指定路径加载JSON配置文件并解析到Config结构体中。
// 文件中未出现的字段保持默认值。
func LoadConfig(path string) (*models.Config, error) {
	config := DefaultConfig()

	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	if err := json.NewDecoder(file).Decode(config); err != nil {
		return nil, err
	}

	return config, nil
}
