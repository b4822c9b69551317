package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"

	resp "go-user-directory/internal/transport/http/response"
)

// MaxBodyBytes caps the request body; handlers see a read error past n.
func MaxBodyBytes(n int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		if c.Request.ContentLength > n {
			c.AbortWithStatusJSON(http.StatusOK, resp.Error(resp.CodeBadRequest, "request body too large"))
			return
		}
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, n)
		c.Next()
	}
}
