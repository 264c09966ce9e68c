package api

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	apperrors "github.com/wfunc/serial-echo/internal/errors"
	"github.com/wfunc/serial-echo/internal/middleware"
	"github.com/wfunc/serial-echo/internal/serialport"
	"github.com/wfunc/serial-echo/internal/service"
	"github.com/wfunc/serial-echo/internal/websocket"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Options 监控接口依赖，Transcript/DB 为空表示未启用收发记录
type Options struct {
	Mode       string
	Version    string
	DB         *gorm.DB
	Transcript *service.TranscriptService
	Hub        *websocket.Hub
	ListPorts  func() ([]serialport.PortInfo, error)
	Logger     *zap.Logger
}

// Router 监控接口路由器
type Router struct {
	engine  *gin.Engine
	server  *http.Server
	opts    Options
	started time.Time
	log     *zap.Logger
}

// NewRouter 创建路由器
func NewRouter(opts Options) *Router {
	if opts.Mode != "" {
		gin.SetMode(opts.Mode)
	}
	if opts.ListPorts == nil {
		opts.ListPorts = serialport.ListPorts
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(gin.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.RequestLogger())

	router := &Router{
		engine:  engine,
		opts:    opts,
		started: time.Now(),
		log:     opts.Logger,
	}
	router.setupRoutes()

	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	v1 := r.engine.Group("/api/v1")
	{
		NewExchangeAPI(r.opts.Transcript).RegisterRoutes(v1)
		v1.GET("/ports", r.listPorts)
	}

	// 实时收发推送
	r.engine.GET("/ws", func(c *gin.Context) {
		if r.opts.Hub == nil {
			abortWithError(c, apperrors.New(apperrors.ErrNotFound, "实时推送未启用"))
			return
		}
		websocket.ServeWS(r.opts.Hub, c.Writer, c.Request)
	})

	r.engine.NoRoute(func(c *gin.Context) {
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "接口不存在",
		})
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	transcript := "disabled"
	if r.opts.DB != nil {
		transcript = "ok"
		sqlDB, err := r.opts.DB.DB()
		if err == nil {
			err = sqlDB.PingContext(c.Request.Context())
		}
		if err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status":     "unhealthy",
				"message":    "数据库连接失败",
				"transcript": "error",
			})
			return
		}
	}

	clients := 0
	if r.opts.Hub != nil {
		clients = r.opts.Hub.GetOnlineCount()
	}

	c.JSON(http.StatusOK, gin.H{
		"status":     "healthy",
		"message":    "服务运行正常",
		"version":    r.opts.Version,
		"uptime":     time.Since(r.started).Round(time.Second).String(),
		"transcript": transcript,
		"ws_clients": clients,
	})
}

// listPorts 列出本机串口
func (r *Router) listPorts(c *gin.Context) {
	ports, err := r.opts.ListPorts()
	if err != nil {
		abortWithError(c, apperrors.Wrap(err, apperrors.ErrSerialPortList))
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"data":  ports,
		"count": len(ports),
	})
}

// Start 后台启动HTTP服务
func (r *Router) Start(addr string) {
	r.server = &http.Server{
		Addr:              addr,
		Handler:           r.engine,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		r.log.Info("监控接口启动", zap.String("address", addr))
		if err := r.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			r.log.Error("监控接口异常退出", zap.Error(err))
		}
	}()
}

// Shutdown 优雅关闭HTTP服务
func (r *Router) Shutdown(ctx context.Context) error {
	if r.server == nil {
		return nil
	}
	return r.server.Shutdown(ctx)
}

// GetEngine 获取Gin引擎（用于测试）
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
