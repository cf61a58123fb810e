package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"berza/internal/api/auth"
	"berza/internal/api/middleware"
	"berza/internal/config"
	"berza/internal/market"
	"berza/internal/model"
	"berza/internal/pkg/metrics"
	"berza/internal/pkg/notify"
	"berza/internal/pkg/ratelimit"
	"berza/internal/promo"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	gormLogger "gorm.io/gorm/logger"
)

// Server 封装 API 服务的依赖与路由。
//
// 它持有数据库连接、Redis 客户端、定价调度驱动器、
// 促销轮换状态机以及 Gin 路由引擎。
type Server struct {
	cfg    *config.Config
	logger *slog.Logger
	db     *gorm.DB
	rdb    *redis.Client
	router *gin.Engine
	driver *market.Driver
	auth   *auth.Handler

	store    MarketStore
	board    BoardReader
	rotation PromoService
	limiter  LimiterFactory
}

// MarketStore 是路由层需要的持久化能力。
type MarketStore interface {
	ListDrinks(ctx context.Context) ([]model.Drink, error)
	DrinkByID(ctx context.Context, id uint) (*model.Drink, error)
	HistoryByDrink(ctx context.Context, drinkID uint, limit int) ([]model.PriceHistory, error)
	CreateOrder(ctx context.Context, order *model.Order) error
	RecentOrders(ctx context.Context, limit int) ([]model.Order, error)
}

// BoardReader 读取实时价格看板缓存。
type BoardReader interface {
	Load(ctx context.Context) ([]market.PriceRow, bool)
}

// PromoService 是促销轮换状态机的路由侧视图。
type PromoService interface {
	Poll(ctx context.Context) promo.Decision
	Advance() bool
}

// LimiterFactory 按员工返回下单限流器。
type LimiterFactory func(staffID int) Limiter

// Limiter 是单次下单需要通过的限流闸门。
type Limiter interface {
	Acquire(ctx context.Context) error
}

// NewServer 初始化 API 服务器。
//
// 它负责：
// 1. 连接 MySQL 并执行自动迁移
// 2. 连接 Redis
// 3. 从库里装载促销候选并构建轮换状态机
// 4. 初始化 Gin 路由引擎与定价调度驱动器
func NewServer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Server, error) {
	db, err := gorm.Open(mysql.Open(cfg.MySQL.DSN), &gorm.Config{
		Logger: gormLogger.Default.LogMode(gormLogger.Silent), // 关闭GORM调试日志
	})
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(
		&model.Drink{},
		&model.Order{},
		&model.PriceHistory{},
		&model.PromoCandidate{},
		&model.Staff{},
	); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       0,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}

	store := market.NewStore(db)
	board := market.NewBoard(rdb, cfg.App.BoardTTL)
	emailNotifier := notify.NewEmailNotifier(&cfg.Email, logger)

	ticker := market.NewTickController(store, logger, cfg.App.SalesWindow, cfg.App.PriceRoundStep).
		WithBoard(board).
		WithCapAlert(emailNotifier, cfg.Email.ManagerEmail)
	driver := market.NewDriver(cfg.App.TickInterval, ticker, logger)

	candidates, err := loadPromoCandidates(ctx, store)
	if err != nil {
		return nil, err
	}
	rotation := promo.NewRotation(candidates, store.CurrentPrice,
		cfg.Promo.InitialDelay, cfg.Promo.Pause, logger)

	metrics.InitMetrics()

	gin.SetMode(gin.ReleaseMode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(middleware.RequestLogger(logger))

	s := &Server{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		rdb:      rdb,
		router:   r,
		driver:   driver,
		auth:     auth.NewHandler(db, cfg.Security.JWTSecret, logger),
		store:    store,
		board:    board,
		rotation: rotation,
		limiter: func(staffID int) Limiter {
			key := fmt.Sprintf("berza:ratelimit:order:%d", staffID)
			return ratelimit.NewRedisRateLimiter(rdb, logger,
				key, cfg.App.OrderRateLimit, cfg.App.OrderRateBurst)
		},
	}
	s.registerRoutes()
	return s, nil
}

// loadPromoCandidates 把库里启用的促销条目转成轮换候选。
func loadPromoCandidates(ctx context.Context, store *market.Store) ([]promo.Candidate, error) {
	rows, err := store.PromoCandidates(ctx)
	if err != nil {
		return nil, fmt.Errorf("load promo candidates: %w", err)
	}
	candidates := make([]promo.Candidate, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, promo.Candidate{
			DrinkID:      row.DrinkID,
			Name:         row.Drink.Name,
			ClipURL:      row.ClipURL,
			TriggerPrice: row.TriggerPrice,
		})
	}
	return candidates, nil
}

// StartDriver 启动定价调度驱动器。
func (s *Server) StartDriver(ctx context.Context) {
	go func() {
		defer func() {
			if r := recover(); r != nil {
				s.logger.Error("PANIC in tick driver", slog.Any("panic", r))
			}
		}()
		s.driver.Run(ctx)
	}()
}

// Router 返回 HTTP 路由处理器。
func (s *Server) Router() http.Handler {
	return s.router
}

// Close 关闭数据库与缓存连接。
func (s *Server) Close() error {
	var firstErr error
	if s.rdb != nil {
		if err := s.rdb.Close(); err != nil {
			firstErr = err
		}
	}
	if s.db != nil {
		sqlDB, err := s.db.DB()
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
		} else {
			if closeErr := sqlDB.Close(); closeErr != nil {
				if firstErr == nil {
					firstErr = closeErr
				}
			}
		}
	}
	return firstErr
}

// registerRoutes 注册所有的 API 路由。
func (s *Server) registerRoutes() {
	// Prometheus metrics 端点
	s.router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	s.router.GET("/healthz", s.handleHealthz)

	// 价格看板与促销显示端是店内无鉴权设备
	s.router.GET("/api/prices", s.handleLivePrices)
	s.router.GET("/api/history/:id", s.handleHistory)
	s.router.GET("/promo/poll", s.handlePromoPoll)
	s.router.POST("/promo/advance", s.handlePromoAdvance)

	s.router.POST("/login", s.auth.Login)

	authed := s.router.Group("/")
	authed.Use(middleware.AuthMiddleware(s.cfg.Security.JWTSecret))
	authed.POST("/logout", s.auth.Logout)
	authed.POST("/orders", s.handleCreateOrder)
	authed.GET("/orders", s.handleListOrders)
}

func (s *Server) handleHealthz(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 2*time.Second)
	defer cancel()

	if s.db == nil || s.rdb == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	var one int
	if err := s.db.WithContext(ctx).Raw("SELECT 1").Scan(&one).Error; err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}
	if err := s.rdb.Ping(ctx).Err(); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "error"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"status": "ok"})
}

// handleLivePrices 返回实时价格看板。
//
// 先读 Redis 快照，看板缓存不可用时回退到数据库，
// 涨跌方向由 current 与 previous 比较得出。
func (s *Server) handleLivePrices(c *gin.Context) {
	if s.board != nil {
		if rows, ok := s.board.Load(c.Request.Context()); ok {
			c.JSON(http.StatusOK, gin.H{"prices": rows, "source": "cache"})
			return
		}
	}

	drinks, err := s.store.ListDrinks(c.Request.Context())
	if err != nil {
		s.logger.Error("list drinks failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list drinks failed"})
		return
	}
	rows := make([]market.PriceRow, 0, len(drinks))
	for _, d := range drinks {
		rows = append(rows, market.PriceRow{
			ID:        d.ID,
			Name:      d.Name,
			Price:     d.CurrentPrice,
			Direction: market.DirectionOf(d.CurrentPrice, d.PreviousPrice),
		})
	}
	c.JSON(http.StatusOK, gin.H{"prices": rows, "source": "db"})
}

type historyEntry struct {
	OldPrice  float64   `json:"old_price"`
	NewPrice  float64   `json:"new_price"`
	Reason    string    `json:"reason"`
	CreatedAt time.Time `json:"created_at"`
}

// handleHistory 返回单个酒水的价格台账（时间升序）。
func (s *Server) handleHistory(c *gin.Context) {
	id, err := strconv.ParseUint(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid drink id"})
		return
	}

	drink, err := s.store.DrinkByID(c.Request.Context(), uint(id))
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "drink not found"})
			return
		}
		s.logger.Error("load drink failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load drink failed"})
		return
	}

	limit := parseLimit(c.Query("limit"), 100, 500)
	rows, err := s.store.HistoryByDrink(c.Request.Context(), drink.ID, limit)
	if err != nil {
		s.logger.Error("load history failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load history failed"})
		return
	}

	entries := make([]historyEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, historyEntry{
			OldPrice:  row.OldPrice,
			NewPrice:  row.NewPrice,
			Reason:    row.Reason,
			CreatedAt: row.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"drink": drink.Name, "history": entries})
}

// createOrderRequest 下单请求。
type createOrderRequest struct {
	DrinkID  uint   `json:"drink_id" binding:"required"`
	Quantity int    `json:"quantity" binding:"required,min=1"`
	TableNo  string `json:"table_no" binding:"required"`
}

type createOrderResponse struct {
	ID           uint    `json:"id"`
	PriceAtOrder float64 `json:"price_at_order"`
}

// handleCreateOrder 录入一笔销售。
//
// 成交价取下单瞬间的 current_price，写死在订单上；
// 之后的 Tick 再怎么改价都不影响已录入的订单。
func (s *Server) handleCreateOrder(c *gin.Context) {
	staffID := c.GetInt("staffID")

	var req createOrderRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.TableNo) == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "table_no required"})
		return
	}

	if s.limiter != nil {
		if err := s.limiter(staffID).Acquire(c.Request.Context()); err != nil {
			c.JSON(http.StatusTooManyRequests, gin.H{"error": "too many orders, slow down"})
			return
		}
	}

	drink, err := s.store.DrinkByID(c.Request.Context(), req.DrinkID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "drink not found"})
			return
		}
		s.logger.Error("load drink failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load drink failed"})
		return
	}

	order := model.Order{
		DrinkID:      drink.ID,
		Quantity:     req.Quantity,
		TableNo:      strings.TrimSpace(req.TableNo),
		PriceAtOrder: drink.CurrentPrice,
	}
	if err := s.store.CreateOrder(c.Request.Context(), &order); err != nil {
		s.logger.Error("create order failed",
			slog.Int("staff_id", staffID),
			slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create order failed"})
		return
	}

	metrics.OrdersTotal.Inc()
	s.logger.Info("order created",
		slog.Int("staff_id", staffID),
		slog.String("drink", drink.Name),
		slog.Int("quantity", req.Quantity),
		slog.String("table", order.TableNo))
	c.JSON(http.StatusCreated, createOrderResponse{ID: order.ID, PriceAtOrder: order.PriceAtOrder})
}

type orderResponse struct {
	ID           uint      `json:"id"`
	Drink        string    `json:"drink"`
	Quantity     int       `json:"quantity"`
	TableNo      string    `json:"table_no"`
	PriceAtOrder float64   `json:"price_at_order"`
	CreatedAt    time.Time `json:"created_at"`
}

// handleListOrders 返回最近的订单（新的在前），给吧台对账用。
func (s *Server) handleListOrders(c *gin.Context) {
	limit := parseLimit(c.Query("limit"), 50, 200)
	orders, err := s.store.RecentOrders(c.Request.Context(), limit)
	if err != nil {
		s.logger.Error("list orders failed", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list orders failed"})
		return
	}

	out := make([]orderResponse, 0, len(orders))
	for _, o := range orders {
		out = append(out, orderResponse{
			ID:           o.ID,
			Drink:        o.Drink.Name,
			Quantity:     o.Quantity,
			TableNo:      o.TableNo,
			PriceAtOrder: o.PriceAtOrder,
			CreatedAt:    o.CreatedAt,
		})
	}
	c.JSON(http.StatusOK, gin.H{"orders": out})
}

// handlePromoPoll 供促销显示端轮询播放决定。
func (s *Server) handlePromoPoll(c *gin.Context) {
	c.JSON(http.StatusOK, s.rotation.Poll(c.Request.Context()))
}

// handlePromoAdvance 显示端播完片段后调用。
func (s *Server) handlePromoAdvance(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"advanced": s.rotation.Advance()})
}

func parseLimit(raw string, def, max int) int {
	if raw == "" {
		return def
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n <= 0 {
		return def
	}
	if n > max {
		return max
	}
	return n
}
