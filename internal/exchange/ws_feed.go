package exchange

import (
	"encoding/json"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// 行情流的缓存价超过该时长即视为过期，调用方回退到REST
const priceStaleAfter = 10 * time.Second

// priceFeed 订阅XT公共行情流，维护一个带时间戳的最新成交价缓存。
// 连接断开后自动重连；缓存过期时 LastPrice 返回 false。
type priceFeed struct {
	wsURL  string
	symbol string
	logger *zap.SugaredLogger

	mutex     sync.RWMutex
	lastPrice float64
	updatedAt time.Time

	stopChannel chan struct{}
	stopOnce    sync.Once
}

// tickerEvent 是ticker主题推送的消息结构
type tickerEvent struct {
	Topic string `json:"topic"`
	Event string `json:"event"`
	Data  struct {
		Symbol string `json:"s"`
		Price  string `json:"p"`
		Time   int64  `json:"t"`
	} `json:"data"`
}

func newPriceFeed(wsURL, symbol string, log *zap.SugaredLogger) *priceFeed {
	return &priceFeed{
		wsURL:       wsURL,
		symbol:      strings.ToLower(symbol),
		logger:      log,
		stopChannel: make(chan struct{}),
	}
}

// Start 启动后台连接循环
func (f *priceFeed) Start() {
	go f.connectLoop()
}

// Stop 停止行情流
func (f *priceFeed) Stop() {
	f.stopOnce.Do(func() { close(f.stopChannel) })
}

// LastPrice 返回缓存的最新价。缓存过期或尚未收到数据时返回 false。
func (f *priceFeed) LastPrice(symbol string) (float64, bool) {
	if strings.ToLower(symbol) != f.symbol {
		return 0, false
	}
	f.mutex.RLock()
	defer f.mutex.RUnlock()
	if f.lastPrice <= 0 || time.Since(f.updatedAt) > priceStaleAfter {
		return 0, false
	}
	return f.lastPrice, true
}

// connectLoop 维持连接，断开后等待5秒重连
func (f *priceFeed) connectLoop() {
	for {
		select {
		case <-f.stopChannel:
			return
		default:
		}

		if err := f.runOnce(); err != nil {
			f.logger.Warnf("行情流连接中断: %v，5秒后重连...", err)
		}

		select {
		case <-f.stopChannel:
			return
		case <-time.After(5 * time.Second):
		}
	}
}

// runOnce 建立一次连接，订阅ticker主题并持续读取，直到出错或停止
func (f *priceFeed) runOnce() error {
	conn, _, err := websocket.DefaultDialer.Dial(f.wsURL, nil)
	if err != nil {
		return err
	}
	defer conn.Close()

	sub := map[string]interface{}{
		"method": "subscribe",
		"params": []string{"ticker@" + f.symbol},
		"id":     strconv.FormatInt(time.Now().UnixMilli(), 10),
	}
	if err := conn.WriteJSON(sub); err != nil {
		return err
	}
	f.logger.Infof("行情流已订阅 ticker@%s", f.symbol)

	// XT要求客户端定期发送ping维持连接
	pingTicker := time.NewTicker(20 * time.Second)
	defer pingTicker.Stop()
	done := make(chan struct{})
	defer close(done)
	go func() {
		for {
			select {
			case <-done:
				return
			case <-f.stopChannel:
				conn.Close()
				return
			case <-pingTicker.C:
				if err := conn.WriteMessage(websocket.TextMessage, []byte("ping")); err != nil {
					return
				}
			}
		}
	}()

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		if string(message) == "pong" {
			continue
		}

		var event tickerEvent
		if err := json.Unmarshal(message, &event); err != nil {
			continue
		}
		if !strings.HasPrefix(event.Topic, "ticker") || event.Data.Price == "" {
			continue
		}
		price, err := strconv.ParseFloat(event.Data.Price, 64)
		if err != nil || price <= 0 {
			continue
		}

		f.mutex.Lock()
		f.lastPrice = price
		f.updatedAt = time.Now()
		f.mutex.Unlock()
	}
}
