package middleware

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"go-user-directory/internal/domain"
	resp "go-user-directory/internal/transport/http/response"
)

const KeyIdentity = "identity"

// IdentityResolver turns a bearer token into the caller identity.
type IdentityResolver interface {
	Identify(ctx context.Context, token string) (domain.Identity, error)
}

// Identity resolves an optional Bearer token. Requests without one continue
// anonymously; a token that does not resolve is rejected.
func Identity(res IdentityResolver) gin.HandlerFunc {
	return func(c *gin.Context) {
		ah := c.GetHeader("Authorization")
		if ah == "" {
			c.Next()
			return
		}
		tok, ok := strings.CutPrefix(ah, "Bearer ")
		if !ok || strings.TrimSpace(tok) == "" {
			c.AbortWithStatusJSON(http.StatusOK, resp.Error(resp.CodeUnauthorized, "malformed authorization header"))
			return
		}
		ident, err := res.Identify(c.Request.Context(), strings.TrimSpace(tok))
		if err != nil {
			c.AbortWithStatusJSON(http.StatusOK, resp.FromError(err))
			return
		}
		c.Set(KeyIdentity, &ident)
		c.Next()
	}
}

// IdentityFrom returns the identity Identity stored, or nil.
func IdentityFrom(c *gin.Context) *domain.Identity {
	v, ok := c.Get(KeyIdentity)
	if !ok {
		return nil
	}
	ident, _ := v.(*domain.Identity)
	return ident
}
