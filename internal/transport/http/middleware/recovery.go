package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	resp "go-user-directory/internal/transport/http/response"
)

// Recovery answers a panic with the 500 envelope; ginzap's recovery would write
// a bare status instead.
func Recovery(l *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				l.Error("panic recovered", zap.String("rid", c.GetString(KeyRequestID)), zap.Any("panic", rec), zap.Stack("stack"))
				c.AbortWithStatusJSON(http.StatusOK, resp.Error(resp.CodeServerError, "internal error"))
			}
		}()
		c.Next()
	}
}
