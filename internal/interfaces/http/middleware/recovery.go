// Package middleware 提供 HTTP 中间件
package middleware

import (
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"

	"github.com/gin-gonic/gin"

	"z-novel-setting-api/internal/interfaces/http/dto"
	apperrors "z-novel-setting-api/pkg/errors"
	"z-novel-setting-api/pkg/logger"
)

// Recovery Panic 恢复中间件
func Recovery() gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			// 客户端断开导致的中止交回 net/http 处理
			if err, ok := rec.(error); ok && errors.Is(err, http.ErrAbortHandler) {
				panic(rec)
			}

			logger.Error(c.Request.Context(), "panic recovered",
				fmt.Errorf("%v", rec),
				"stack", string(debug.Stack()),
				"path", c.Request.URL.Path,
				"method", c.Request.Method,
			)

			// SSE 已开始输出时无法再写 JSON
			if c.Writer.Written() {
				c.Abort()
				return
			}
			dto.AbortAppError(c, apperrors.ErrInternalError)
		}()

		c.Next()
	}
}
