package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/Cooper3516833584/Cooper-bot/config"
	"github.com/Cooper3516833584/Cooper-bot/internal/api/handler"
	"github.com/Cooper3516833584/Cooper-bot/internal/api/middleware"
	"github.com/Cooper3516833584/Cooper-bot/pkg/redis"
)

const (
	apiRateLimit   = 120
	apiRateWindow  = time.Minute
	maxRequestBody = 1 << 20
)

// Setup 初始化并返回 Gin 路由引擎
// webhook 为 nil 时不注册 OneBot 上报入口（正向 WebSocket 模式）；rdb 可为 nil
func Setup(cfg *config.Config, h *handler.Handler, webhook gin.HandlerFunc, rdb *redis.Client, logger *zap.Logger) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)

	r := gin.New()

	// ── 全局中间件 ──
	r.Use(gin.Recovery())
	r.Use(middleware.RequestID())
	r.Use(middleware.Logger(logger))
	r.Use(middleware.SecurityHeaders())
	r.Use(middleware.BodyLimit(maxRequestBody))
	r.Use(middleware.CORS(cfg.Server.CORS.AllowOrigins))

	// ── 健康检查 ──
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})

	// ── OneBot HTTP 上报（签名在 handler 内校验） ──
	if webhook != nil {
		r.POST("/onebot/event", webhook)
	}

	// ── 管理接口 v1 ──
	v1 := r.Group("/api/v1")
	v1.Use(middleware.AdminAuth(cfg.Server.AdminToken))
	v1.Use(middleware.RateLimit(rdb, apiRateLimit, apiRateWindow, logger))
	{
		tasks := v1.Group("/tasks")
		{
			tasks.GET("", h.Task.ListTasks)
			tasks.GET("/:id", h.Task.GetTask)
			tasks.GET("/:id/missing", h.Task.GetMissing)
			tasks.GET("/:id/missing.xlsx", h.Export.ExportMissing)
		}

		v1.GET("/groups/:id/calendar.ics", h.Calendar.GroupCalendar)
	}

	return r
}
