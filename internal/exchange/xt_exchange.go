package exchange

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"xt-grid-bot/internal/models"

	"github.com/google/uuid"
	"github.com/jxskiss/base62"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const recvWindow = "5000"

// XTExchange 是XT现货REST API的Exchange实现。
type XTExchange struct {
	apiKey     string
	secretKey  string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	logger     *zap.SugaredLogger
	priceFeed  *priceFeed

	pricePrecision    int
	quantityPrecision int
}

// apiResponse 是XT API的统一响应信封
type apiResponse struct {
	Rc     int             `json:"rc"`
	Mc     string          `json:"mc"`
	Result json.RawMessage `json:"result"`
}

// xtTicker 是 /v4/public/ticker/price 返回的单条行情
type xtTicker struct {
	Symbol string `json:"s"`
	Time   int64  `json:"t"`
	Price  string `json:"p"`
}

// xtOrder 是XT返回的订单结构，数值字段均为字符串
type xtOrder struct {
	OrderID       json.Number `json:"orderId"`
	ClientOrderID string      `json:"clientOrderId"`
	Symbol        string      `json:"symbol"`
	Side          string      `json:"side"`
	Price         string      `json:"price"`
	OrigQty       string      `json:"origQty"`
	ExecutedQty   string      `json:"executedQty"`
	State         string      `json:"state"`
	Time          int64       `json:"time"`
}

// xtBalance 是 /v4/balance 返回的余额结构
type xtBalance struct {
	Currency        string `json:"currency"`
	AvailableAmount string `json:"availableAmount"`
	FrozenAmount    string `json:"frozenAmount"`
	TotalAmount     string `json:"totalAmount"`
}

// xtSymbol 是 /v4/public/symbol 返回的交易对配置
type xtSymbol struct {
	Symbol            string `json:"symbol"`
	State             string `json:"state"`
	PricePrecision    int    `json:"pricePrecision"`
	QuantityPrecision int    `json:"quantityPrecision"`
}

// NewXTExchange 创建一个连接XT现货API的交易所实例。
// 每次请求前经过限速器，单次请求受httpClient超时约束，
// 保证一次卡死的调用最多损失一个tick。
func NewXTExchange(apiKey, secretKey string, cfg *models.Config, log *zap.SugaredLogger) *XTExchange {
	timeout := time.Duration(cfg.RequestTimeoutSec) * time.Second
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	e := &XTExchange{
		apiKey:            apiKey,
		secretKey:         secretKey,
		baseURL:           strings.TrimSuffix(cfg.APIURL, "/"),
		httpClient:        &http.Client{Timeout: timeout},
		limiter:           rate.NewLimiter(rate.Limit(cfg.RateLimitPerSec), cfg.RateLimitBurst),
		logger:            log,
		pricePrecision:    cfg.PricePrecision,
		quantityPrecision: cfg.QuantityPrecision,
	}

	if cfg.EnablePriceStream {
		e.priceFeed = newPriceFeed(cfg.WSURL, cfg.Symbol, log)
		e.priceFeed.Start()
	}

	return e
}

// sign 按XT规范生成请求签名。
// 签名串 = header部分(X) + "#method#path[#query][#body]"(Y)，HMAC-SHA256后十六进制编码。
func (e *XTExchange) sign(method, path, query, body, timestamp string) string {
	header := fmt.Sprintf("validate-algorithms=HmacSHA256&validate-appkey=%s&validate-recvwindow=%s&validate-timestamp=%s",
		e.apiKey, recvWindow, timestamp)

	payload := "#" + method + "#" + path
	if query != "" {
		payload += "#" + query
	}
	if body != "" {
		payload += "#" + body
	}

	h := hmac.New(sha256.New, []byte(e.secretKey))
	h.Write([]byte(header + payload))
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest 是通用的请求处理函数，负责限速、签名、发送和解包信封。
func (e *XTExchange) doRequest(method, path string, params url.Values, reqBody interface{}, signed bool) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(context.Background(), e.httpClient.Timeout)
	defer cancel()
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("rate limiter wait failed: %w", err)
	}

	query := ""
	if params != nil {
		query = params.Encode()
	}

	var bodyStr string
	if reqBody != nil {
		data, err := json.Marshal(reqBody)
		if err != nil {
			return nil, fmt.Errorf("marshal request body failed: %w", err)
		}
		bodyStr = string(data)
	}

	fullURL := e.baseURL + path
	if query != "" {
		fullURL += "?" + query
	}

	var bodyReader io.Reader
	if bodyStr != "" {
		bodyReader = bytes.NewReader([]byte(bodyStr))
	}
	req, err := http.NewRequestWithContext(ctx, method, fullURL, bodyReader)
	if err != nil {
		return nil, fmt.Errorf("create request failed: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	if signed {
		timestamp := strconv.FormatInt(time.Now().UnixMilli(), 10)
		req.Header.Set("validate-algorithms", "HmacSHA256")
		req.Header.Set("validate-appkey", e.apiKey)
		req.Header.Set("validate-recvwindow", recvWindow)
		req.Header.Set("validate-timestamp", timestamp)
		req.Header.Set("validate-signature", e.sign(method, path, query, bodyStr, timestamp))
	}

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("execute request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response body failed: %w", err)
	}

	var envelope apiResponse
	if err := json.Unmarshal(respBody, &envelope); err != nil {
		return nil, fmt.Errorf("decode response failed (status %d): %s", resp.StatusCode, string(respBody))
	}
	if envelope.Rc != 0 || (envelope.Mc != "" && envelope.Mc != "SUCCESS") {
		return nil, fmt.Errorf("api error: rc=%d mc=%s", envelope.Rc, envelope.Mc)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("api request failed, status %d: %s", resp.StatusCode, string(respBody))
	}

	return envelope.Result, nil
}

// GetPrice 返回最新成交价。
// 如果行情流在线且数据足够新鲜，直接使用缓存价，否则回退到REST。
func (e *XTExchange) GetPrice(symbol string) (float64, error) {
	if e.priceFeed != nil {
		if price, ok := e.priceFeed.LastPrice(symbol); ok {
			return price, nil
		}
	}

	params := url.Values{}
	params.Set("symbol", strings.ToLower(symbol))
	result, err := e.doRequest(http.MethodGet, "/v4/public/ticker/price", params, nil, false)
	if err != nil {
		return 0, fmt.Errorf("get price for %s: %w", symbol, err)
	}

	var tickers []xtTicker
	if err := json.Unmarshal(result, &tickers); err != nil {
		return 0, fmt.Errorf("decode tickers: %w", err)
	}
	for _, t := range tickers {
		if t.Symbol == strings.ToLower(symbol) && t.Price != "" {
			price, err := strconv.ParseFloat(t.Price, 64)
			if err != nil {
				continue
			}
			return price, nil
		}
	}
	return 0, fmt.Errorf("no valid price found for symbol %s", symbol)
}

// GetBalance 返回指定币种的余额快照
func (e *XTExchange) GetBalance(currency string) (*models.Balance, error) {
	params := url.Values{}
	params.Set("currency", strings.ToLower(currency))
	result, err := e.doRequest(http.MethodGet, "/v4/balance", params, nil, true)
	if err != nil {
		return nil, fmt.Errorf("get balance for %s: %w", currency, err)
	}

	var b xtBalance
	if err := json.Unmarshal(result, &b); err != nil {
		return nil, fmt.Errorf("decode balance: %w", err)
	}
	available, _ := strconv.ParseFloat(b.AvailableAmount, 64)
	frozen, _ := strconv.ParseFloat(b.FrozenAmount, 64)
	total, _ := strconv.ParseFloat(b.TotalAmount, 64)
	return &models.Balance{
		Currency:  b.Currency,
		Available: available,
		Frozen:    frozen,
		Total:     total,
	}, nil
}

// GetOpenOrders 返回交易对当前所有挂单
func (e *XTExchange) GetOpenOrders(symbol string) ([]models.Order, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToLower(symbol))
	params.Set("bizType", "SPOT")
	result, err := e.doRequest(http.MethodGet, "/v4/open-order", params, nil, true)
	if err != nil {
		return nil, fmt.Errorf("get open orders for %s: %w", symbol, err)
	}

	var raw []xtOrder
	if err := json.Unmarshal(result, &raw); err != nil {
		return nil, fmt.Errorf("decode open orders: %w", err)
	}
	orders := make([]models.Order, 0, len(raw))
	for _, o := range raw {
		orders = append(orders, o.toOrder())
	}
	return orders, nil
}

func (o *xtOrder) toOrder() models.Order {
	price, _ := strconv.ParseFloat(o.Price, 64)
	origQty, _ := strconv.ParseFloat(o.OrigQty, 64)
	executedQty, _ := strconv.ParseFloat(o.ExecutedQty, 64)
	return models.Order{
		OrderID:       o.OrderID.String(),
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Side:          models.Side(strings.ToUpper(o.Side)),
		Price:         price,
		OrigQty:       origQty,
		ExecutedQty:   executedQty,
		State:         o.State,
		CreatedTime:   o.Time,
	}
}

// CancelOrder 撤销单个订单
func (e *XTExchange) CancelOrder(orderID string) error {
	_, err := e.doRequest(http.MethodDelete, "/v4/order/"+orderID, nil, nil, true)
	if err != nil {
		return fmt.Errorf("cancel order %s: %w", orderID, err)
	}
	return nil
}

// CancelAllOrders 逐个撤销交易对的全部挂单。
// 单个订单撤销失败只记录日志并继续，列表获取失败才整体报错。
func (e *XTExchange) CancelAllOrders(symbol string) error {
	orders, err := e.GetOpenOrders(symbol)
	if err != nil {
		return fmt.Errorf("list orders before cancel: %w", err)
	}
	for _, order := range orders {
		if err := e.CancelOrder(order.OrderID); err != nil {
			e.logger.Warnf("取消订单 %s 失败: %v", order.OrderID, err)
			continue
		}
		e.logger.Infof("成功取消订单 %s", order.OrderID)
	}
	return nil
}

// PlaceOrder 挂一个GTC限价单。价格和数量按配置精度截断后发送。
func (e *XTExchange) PlaceOrder(symbol string, side models.Side, price, quantity float64) (*models.Order, error) {
	priceStr := formatTruncated(price, e.pricePrecision)
	qtyStr := formatTruncated(quantity, e.quantityPrecision)

	body := map[string]interface{}{
		"symbol":        strings.ToLower(symbol),
		"clientOrderId": newClientOrderID(),
		"side":          string(side),
		"type":          "LIMIT",
		"timeInForce":   "GTC",
		"bizType":       "SPOT",
		"price":         priceStr,
		"quantity":      qtyStr,
	}

	result, err := e.doRequest(http.MethodPost, "/v4/order", nil, body, true)
	if err != nil {
		return nil, fmt.Errorf("place %s order %s@%s: %w", side, qtyStr, priceStr, err)
	}

	var placed struct {
		OrderID json.Number `json:"orderId"`
	}
	if err := json.Unmarshal(result, &placed); err != nil {
		return nil, fmt.Errorf("decode place order response: %w", err)
	}

	parsedPrice, _ := strconv.ParseFloat(priceStr, 64)
	parsedQty, _ := strconv.ParseFloat(qtyStr, 64)
	return &models.Order{
		OrderID:     placed.OrderID.String(),
		Symbol:      strings.ToLower(symbol),
		Side:        side,
		Price:       parsedPrice,
		OrigQty:     parsedQty,
		State:       "NEW",
		CreatedTime: time.Now().UnixMilli(),
	}, nil
}

// GetMarketInfo 返回交易对的市场信息。现价获取失败不视为致命，仅置零。
func (e *XTExchange) GetMarketInfo(symbol string) (*models.MarketInfo, error) {
	params := url.Values{}
	params.Set("symbol", strings.ToLower(symbol))
	result, err := e.doRequest(http.MethodGet, "/v4/public/symbol", params, nil, false)
	if err != nil {
		return nil, fmt.Errorf("get market info for %s: %w", symbol, err)
	}

	var info struct {
		Symbols []xtSymbol `json:"symbols"`
	}
	if err := json.Unmarshal(result, &info); err != nil {
		return nil, fmt.Errorf("decode market info: %w", err)
	}
	if len(info.Symbols) == 0 {
		return nil, fmt.Errorf("%w: %s", models.ErrMarketNotFound, symbol)
	}

	s := info.Symbols[0]
	price, err := e.GetPrice(symbol)
	if err != nil {
		e.logger.Warnf("获取 %s 现价失败: %v", symbol, err)
		price = 0
	}
	return &models.MarketInfo{
		Symbol:            s.Symbol,
		Status:            strings.ToLower(s.State),
		CurrentPrice:      price,
		PricePrecision:    s.PricePrecision,
		QuantityPrecision: s.QuantityPrecision,
	}, nil
}

// Close 停止行情流等后台资源
func (e *XTExchange) Close() error {
	if e.priceFeed != nil {
		e.priceFeed.Stop()
	}
	return nil
}

// formatTruncated 将数值按精度截断后格式化，只舍不入
func formatTruncated(v float64, precision int) string {
	pow := math.Pow10(precision)
	return strconv.FormatFloat(math.Floor(v*pow)/pow, 'f', precision, 64)
}

// newClientOrderID 生成一个紧凑的客户端订单ID
func newClientOrderID() string {
	u := uuid.New()
	return "grid" + base62.EncodeToString(u[:])
}
