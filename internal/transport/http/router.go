package httptransport

import (
	"time"

	gincors "github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"tempmail/sessionbox/internal/config"
	"tempmail/sessionbox/internal/health"
	"tempmail/sessionbox/internal/middleware"
	"tempmail/sessionbox/internal/monitoring"
	"tempmail/sessionbox/internal/service"
	"tempmail/sessionbox/internal/storage/redis"
	"tempmail/sessionbox/internal/websocket"
)

// RouterDependencies 路由器依赖项
type RouterDependencies struct {
	Config       *config.Config
	Inboxes      *service.SessionInboxService
	Cache        *redis.Cache // 可以为 nil
	WebSocketHub *websocket.Hub
	Metrics      *monitoring.Metrics
	Health       *health.Checker
	Logger       *zap.Logger
}

// NewRouter 创建并返回 Gin 路由实例。
func NewRouter(deps RouterDependencies) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryHandler(deps.Logger))
	router.Use(middleware.RequestLogger(deps.Logger))
	router.Use(middleware.SecurityHeaders())
	router.Use(middleware.RequestSizeLimit(1 * 1024 * 1024))
	if deps.Metrics != nil {
		router.Use(middleware.HTTPMetrics(deps.Metrics))
	}

	corsConfig := gincors.Config{
		AllowOrigins:     deps.Config.CORS.AllowedOrigins,
		AllowMethods:     []string{"GET", "POST", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "X-Session-Token"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	// 允许所有来源时必须关闭凭证支持
	for _, origin := range corsConfig.AllowOrigins {
		if origin == "*" {
			corsConfig.AllowCredentials = false
			break
		}
	}
	router.Use(gincors.New(corsConfig))

	handler := NewSessionHandler(deps.Inboxes, deps.Cache, deps.Logger)

	// 健康检查与指标
	if deps.Health != nil {
		router.GET("/live", gin.WrapF(deps.Health.LiveEndpoint))
		router.GET("/ready", gin.WrapF(deps.Health.ReadyEndpoint))
	}
	if deps.Metrics != nil {
		router.GET("/metrics", gin.WrapH(deps.Metrics.HTTPHandler()))
	}

	// V1 API：所有会话端点都经过会话令牌中间件
	v1 := router.Group("/v1")
	v1.Use(middleware.SessionToken())
	{
		inboxRoutes := v1.Group("/inbox")
		{
			inboxRoutes.GET("", handler.getInbox)            // 获取或创建收件箱
			inboxRoutes.POST("/rotate", handler.rotateInbox) // 轮换地址
			inboxRoutes.DELETE("", handler.deleteInbox)      // 立即删除并换发
			inboxRoutes.GET("/messages", handler.listMessages)
		}

		if deps.WebSocketHub != nil {
			v1.GET("/ws", websocket.HandleWebSocket(deps.WebSocketHub))
		}
	}

	return router
}
