package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/feichai0017/receipt-analyzer/internal/apperr"
	"github.com/feichai0017/receipt-analyzer/pkg/logger"
)

// ErrorResponse 定义错误响应结构
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// respondError 统一错误处理. 完整错误链只写日志, 响应中只有 code 和 message.
func respondError(c *gin.Context, log logger.Logger, err error) {
	e, ok := apperr.As(err)
	if !ok {
		e = apperr.Wrap(apperr.CodeInternal, apperr.MsgInternal, err)
	}
	status := apperr.StatusOf(e.Code)

	fields := []logger.Field{
		logger.String("path", c.Request.URL.Path),
		logger.Int("status", status),
		logger.String("code", string(e.Code)),
	}
	if cause := errors.Unwrap(e); cause != nil {
		fields = append(fields, logger.String("cause", cause.Error()))
	}

	log = logger.FromContext(c.Request.Context(), log)
	if status >= http.StatusInternalServerError {
		log.Error("Request failed", fields...)
	} else {
		log.Info("Request rejected", fields...)
	}

	c.AbortWithStatusJSON(status, ErrorResponse{
		Code:    string(e.Code),
		Message: e.Message,
	})
}
