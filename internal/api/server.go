package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"xt-grid-bot/internal/bot"
	"xt-grid-bot/internal/exchange"
	"xt-grid-bot/internal/models"
	"xt-grid-bot/internal/recorder"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Server is the HTTP API surface of the grid bot. It is a thin mapping
// layer: all grid logic lives in the bot and recorder.
type Server struct {
	router     *gin.Engine
	bot        *bot.GridBot
	recorder   *recorder.Recorder
	exchange   exchange.Exchange
	logger     *zap.SugaredLogger
	httpServer *http.Server
	port       int
}

// NewServer creates the API server and wires up all routes.
func NewServer(gridBot *bot.GridBot, rec *recorder.Recorder, ex exchange.Exchange, logger *zap.SugaredLogger, port int) *Server {
	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(corsMiddleware())

	s := &Server{
		router:   router,
		bot:      gridBot,
		recorder: rec,
		exchange: ex,
		logger:   logger,
		port:     port,
	}
	s.setupRoutes()
	return s
}

func corsMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Writer.Header().Set("Access-Control-Allow-Origin", "*")
		c.Writer.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Writer.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if c.Request.Method == "OPTIONS" {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/", s.handleRoot)

	api := s.router.Group("/api")
	{
		api.POST("/grid/create", s.handleGridCreate)
		api.POST("/grid/stop", s.handleGridStop)
		api.GET("/grid/status", s.handleGridStatus)
		api.DELETE("/grid/:symbol", s.handleGridCancel)

		api.POST("/trade", s.handleTrade)
		api.GET("/stats/summary", s.handleStatsSummary)

		api.GET("/balance/:currency", s.handleBalance)
		api.GET("/market-info/:symbol", s.handleMarketInfo)
		api.GET("/market-price/:symbol", s.handleMarketPrice)
		api.GET("/orders/:symbol", s.handleOpenOrders)
	}
}

// Start begins serving HTTP requests in a background goroutine.
func (s *Server) Start() {
	s.httpServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", s.port),
		Handler: s.router,
	}
	go func() {
		s.logger.Infof("API server listening on :%d", s.port)
		if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorf("API server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the HTTP server.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}

func (s *Server) handleRoot(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "ok", "message": "Grid Trading Bot API is running"})
}

// gridStatusPayload renders a grid state plus its stats in the response
// shape shared by create and status.
func gridStatusPayload(grid *models.GridState, stats *models.GridStats) gin.H {
	gridSpread := 0.0
	avgDistance := 0.0
	if grid.LowerPrice > 0 {
		gridSpread = (grid.UpperPrice - grid.LowerPrice) / grid.LowerPrice * 100
	}
	if grid.Positions > 1 {
		avgDistance = gridSpread / float64(grid.Positions-1)
	}

	statsPayload := gin.H{
		"total_trades": int64(0),
		"total_volume": 0.0,
		"total_fees":   0.0,
		"realized_pnl": 0.0,
	}
	if stats != nil {
		statsPayload = gin.H{
			"total_trades": stats.TotalTrades,
			"total_volume": stats.TotalVolume,
			"total_fees":   stats.TotalFees,
			"realized_pnl": stats.RealizedPnl,
		}
	}

	openOrders := grid.OpenOrders
	if openOrders == nil {
		openOrders = []models.Order{}
	}

	return gin.H{
		"is_running":    grid.IsRunning,
		"symbol":        grid.Symbol,
		"positions":     grid.Positions,
		"total_amount":  grid.TotalAmount,
		"min_distance":  grid.MinDistance,
		"max_distance":  grid.MaxDistance,
		"upper_price":   grid.UpperPrice,
		"lower_price":   grid.LowerPrice,
		"grid_spread":   gridSpread,
		"avg_distance":  avgDistance,
		"current_price": grid.CurrentPrice,
		"open_orders":   openOrders,
		"balance":       grid.Balance,
		"created_at":    grid.CreatedAt,
		"updated_at":    grid.UpdatedAt,
		"stats":         statsPayload,
	}
}

func (s *Server) handleGridCreate(c *gin.Context) {
	var params models.GridParams
	if err := c.ShouldBindJSON(&params); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid request body: " + err.Error()})
		return
	}

	grid, err := s.bot.Create(params)
	if err != nil {
		switch {
		case errors.Is(err, models.ErrInvalidConfig):
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
		case errors.Is(err, models.ErrGridRunning):
			c.JSON(http.StatusConflict, gin.H{"status": "error", "message": err.Error()})
		default:
			s.logger.Errorf("grid create failed: %v", err)
			c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		}
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":      "success",
		"grid_status": gridStatusPayload(grid, nil),
	})
}

func (s *Server) handleGridStop(c *gin.Context) {
	grid, err := s.bot.Stop()
	if err != nil {
		if errors.Is(err, models.ErrNoActiveGrid) {
			// Benign condition: nothing was running.
			c.JSON(http.StatusOK, gin.H{"status": "error", "message": "No active grid found"})
			return
		}
		s.logger.Errorf("grid stop failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"status":  "success",
		"message": fmt.Sprintf("Grid for %s stopped successfully", grid.Symbol),
	})
}

func (s *Server) handleGridStatus(c *gin.Context) {
	grid, stats, err := s.bot.Status()
	if err != nil {
		s.logger.Errorf("grid status failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if grid == nil {
		c.JSON(http.StatusOK, gin.H{"is_running": false, "grid_status": nil})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"is_running":  true,
		"grid_status": gridStatusPayload(grid, stats),
	})
}

type tradeRequest struct {
	OrderID  string  `json:"order_id" binding:"required"`
	Symbol   string  `json:"symbol" binding:"required"`
	Side     string  `json:"side" binding:"required"`
	Price    float64 `json:"price" binding:"required"`
	Quantity float64 `json:"quantity" binding:"required"`
	Fee      float64 `json:"fee"`
	FeeAsset string  `json:"fee_asset"`
}

func (s *Server) handleTrade(c *gin.Context) {
	var req tradeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "invalid request body: " + err.Error()})
		return
	}

	side := models.Side(req.Side)
	if side != models.Buy && side != models.Sell {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "side must be BUY or SELL"})
		return
	}
	if req.FeeAsset == "" {
		req.FeeAsset = "USDT"
	}

	tradeID, err := s.recorder.RecordTrade(req.OrderID, req.Symbol, side, req.Price, req.Quantity, req.Fee, req.FeeAsset)
	if err != nil {
		if errors.Is(err, models.ErrNoActiveGrid) {
			c.JSON(http.StatusNotFound, gin.H{"status": "error", "message": "No active grid found"})
			return
		}
		s.logger.Errorf("record trade failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "success", "trade_id": tradeID})
}

func (s *Server) handleStatsSummary(c *gin.Context) {
	period := c.DefaultQuery("period", "all")

	summary, err := s.recorder.Summary(period)
	if err != nil {
		if errors.Is(err, models.ErrInvalidConfig) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		s.logger.Errorf("stats summary failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{"period": period, "summary": summary})
}

func (s *Server) handleBalance(c *gin.Context) {
	currency := c.Param("currency")

	balance, err := s.exchange.GetBalance(currency)
	if err != nil {
		s.logger.Errorf("get balance failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, balance)
}

func (s *Server) handleMarketInfo(c *gin.Context) {
	symbol := c.Param("symbol")

	info, err := s.exchange.GetMarketInfo(symbol)
	if err != nil {
		if errors.Is(err, models.ErrMarketNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		s.logger.Errorf("get market info failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	c.JSON(http.StatusOK, info)
}

func (s *Server) handleMarketPrice(c *gin.Context) {
	symbol := c.Param("symbol")

	info, err := s.exchange.GetMarketInfo(symbol)
	if err != nil {
		if errors.Is(err, models.ErrMarketNotFound) {
			c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": err.Error()})
			return
		}
		s.logger.Errorf("get market info failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}

	price, err := s.exchange.GetPrice(symbol)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": fmt.Sprintf("Failed to fetch price for %s", symbol)})
		return
	}

	c.JSON(http.StatusOK, gin.H{"price": price, "market_info": info})
}

func (s *Server) handleOpenOrders(c *gin.Context) {
	symbol := c.Param("symbol")

	orders, err := s.exchange.GetOpenOrders(symbol)
	if err != nil {
		s.logger.Errorf("get open orders failed: %v", err)
		c.JSON(http.StatusInternalServerError, gin.H{"status": "error", "message": err.Error()})
		return
	}
	if orders == nil {
		orders = []models.Order{}
	}
	c.JSON(http.StatusOK, orders)
}

// handleGridCancel cancels every resting order for a symbol without touching
// the persisted grid state.
func (s *Server) handleGridCancel(c *gin.Context) {
	symbol := c.Param("symbol")

	if err := s.exchange.CancelAllOrders(symbol); err != nil {
		s.logger.Errorf("cancel grid failed: %v", err)
		c.JSON(http.StatusBadRequest, gin.H{"status": "error", "message": "Failed to cancel grid: " + err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "success"})
}
