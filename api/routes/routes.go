package routes

import (
	"github.com/gin-gonic/gin"

	"github.com/feichai0017/receipt-analyzer/api/handlers"
	"github.com/feichai0017/receipt-analyzer/api/middleware"
)

// SetupRoutes 配置所有路由
func SetupRoutes(r *gin.Engine, h *handlers.Handlers, allowOrigins []string) {
	// 全局中间件
	r.Use(middleware.RequestID())
	r.Use(middleware.CORS(allowOrigins))

	// 健康检查
	r.GET("/health", h.Health.Check)

	// API 版本组
	v1 := r.Group("/api/v1")

	// 收据分析路由组
	receipts := v1.Group("/receipts")
	{
		receipts.POST("/analyze", h.Receipt.Analyze)
		receipts.POST("", h.Receipt.Submit)
		receipts.GET("/:id", h.Receipt.GetRecord)
		receipts.DELETE("/:id", h.Receipt.CancelTask)
	}
}
