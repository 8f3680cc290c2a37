package api

import (
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"refermail/internal/api/middleware"
	"refermail/internal/metrics"
)

// NewRouter 构建 Gin 路由引擎并挂载全局中间件与运维端点。
func NewRouter(logger *slog.Logger) *gin.Engine {
	router := gin.New()
	router.Use(
		middleware.CorrelationIDMiddleware(),
		middleware.SlogLoggerMiddleware(logger),
		metrics.GinMiddleware(),
		gin.Recovery(),
	)

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	return router
}
