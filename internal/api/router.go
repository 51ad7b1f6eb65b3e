package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/wfunc/sdm3000/internal/config"
	"github.com/wfunc/sdm3000/internal/errors"
	"github.com/wfunc/sdm3000/internal/hardware"
	"github.com/wfunc/sdm3000/internal/middleware"
	"github.com/wfunc/sdm3000/internal/service"
	ws "github.com/wfunc/sdm3000/internal/websocket"
)

// Router API路由器
type Router struct {
	engine         *gin.Engine
	cfg            *config.Config
	db             *gorm.DB
	ctrl           *hardware.Controller
	services       *service.Services
	authHandler    *AuthHandler
	authMiddleware *middleware.AuthMiddleware
	deviceHandler  *DeviceHandler
	serialLogAPI   *SerialLogAPI
	wsHandler      *WebSocketHandler
	log            *zap.Logger
}

// NewRouter 创建路由器，db 和 hub 可以为空
func NewRouter(cfg *config.Config, db *gorm.DB, ctrl *hardware.Controller, services *service.Services, hub *ws.Hub, log *zap.Logger) *Router {
	if cfg.Server.Mode != "" {
		gin.SetMode(cfg.Server.Mode)
	}

	engine := gin.New()

	// 全局中间件
	engine.Use(middleware.Recovery())
	engine.Use(middleware.RequestID())
	engine.Use(middleware.Logger())

	router := &Router{
		engine:         engine,
		cfg:            cfg,
		db:             db,
		ctrl:           ctrl,
		services:       services,
		authHandler:    NewAuthHandler(services.Auth),
		authMiddleware: middleware.NewAuthMiddleware(services.Auth),
		deviceHandler:  NewDeviceHandler(ctrl, services.Dispense, cfg.Serial.Port, log),
		serialLogAPI:   NewSerialLogAPI(services.SerialLog),
		log:            log,
	}
	if hub != nil {
		router.wsHandler = NewWebSocketHandler(hub, cfg.WebSocket, log)
	}

	router.setupRoutes()
	return router
}

// setupRoutes 设置路由
func (r *Router) setupRoutes() {
	// 健康检查
	r.engine.GET("/health", r.healthCheck)

	requireAuth := r.authMiddleware.RequireAuth()

	v1 := r.engine.Group("/api/v1")
	{
		v1.POST("/auth/token", r.authHandler.IssueToken)

		r.deviceHandler.RegisterRoutes(v1, requireAuth)
		r.serialLogAPI.RegisterRoutes(v1, requireAuth)
	}

	if r.wsHandler != nil {
		path := r.cfg.WebSocket.Path
		if path == "" {
			path = "/ws"
		}
		r.engine.GET(path, r.wsHandler.Events)
	}

	r.engine.NoRoute(func(c *gin.Context) {
		middleware.Abort(c, errors.Newf(errors.ErrNotFound, "路由不存在: %s", c.Request.URL.Path))
	})
}

// healthCheck 健康检查
func (r *Router) healthCheck(c *gin.Context) {
	body := gin.H{
		"status":       "ok",
		"device_state": r.ctrl.State().String(),
		"device_path":  r.ctrl.DevicePath(),
		"time":         time.Now().Unix(),
	}

	if r.db != nil {
		database := "ok"
		if sqlDB, err := r.db.DB(); err != nil || sqlDB.PingContext(c.Request.Context()) != nil {
			database = "unavailable"
			body["status"] = "degraded"
		}
		body["database"] = database
	}

	c.JSON(http.StatusOK, body)
}

// GetEngine 获取Gin引擎
func (r *Router) GetEngine() *gin.Engine {
	return r.engine
}
