package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

const RequestIDHeader = "X-Request-ID"

// 客户端提供的 request id 最大长度
const maxRequestIDLength = 128

// RequestID 为每个请求分配 id, 写入响应头和日志上下文
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > maxRequestIDLength {
			id = uuid.New().String()
		}

		c.Header(RequestIDHeader, id)
		c.Set("requestId", id)
		c.Request = c.Request.WithContext(logger.ContextWithRequestID(c.Request.Context(), id))
		c.Next()
	}
}
