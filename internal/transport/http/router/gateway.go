package router

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"go-user-directory/internal/core/server"
	mdw "go-user-directory/internal/transport/http/middleware"
	resp "go-user-directory/internal/transport/http/response"
	"go-user-directory/internal/transport/rpc"
)

type Options struct {
	Server        server.Options
	HealthMessage string
	RPS           rate.Limit
	Burst         int
	MaxInFlight   int64
	MaxBodyBytes  int64
	Timeout       time.Duration
}

func DefaultOptions() Options {
	return Options{
		HealthMessage: "ok",
		RPS:           200,
		Burst:         400,
		MaxInFlight:   300,
		MaxBodyBytes:  1 << 20,
		Timeout:       10 * time.Second,
	}
}

// NewGateway exposes the dispatch table over HTTP: POST /rpc/:pattern with the
// payload as body. Identity comes from the Bearer token only.
func NewGateway(l *zap.Logger, rpcs *rpc.Router, ids mdw.IdentityResolver, o Options) *gin.Engine {
	r := server.NewRouter(l, o.Server)

	r.Use(
		mdw.RequestID(),
		mdw.Metrics(),
		mdw.AccessLog(l, "/health", "/metrics"),
		mdw.Recovery(l),
		mdw.RateLimit(o.RPS, o.Burst),
		mdw.ConcurrencyLimit(o.MaxInFlight),
		mdw.MaxBodyBytes(o.MaxBodyBytes),
		mdw.Timeout(o.Timeout),
	)

	r.GET("/health", func(c *gin.Context) { c.JSON(http.StatusOK, resp.OK(o.HealthMessage)) })
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	r.GET("/rpc", func(c *gin.Context) { c.JSON(http.StatusOK, resp.OK(rpcs.Patterns())) })

	var identity gin.HandlerFunc = func(c *gin.Context) { c.Next() }
	if ids != nil {
		identity = mdw.Identity(ids)
	}
	r.POST("/rpc/:pattern", identity, dispatch(l, rpcs))
	return r
}

func dispatch(l *zap.Logger, rpcs *rpc.Router) gin.HandlerFunc {
	return func(c *gin.Context) {
		body, err := c.GetRawData()
		if err != nil {
			c.Set(mdw.KeyReplyCode, resp.CodeBadRequest)
			c.JSON(http.StatusOK, resp.Error(resp.CodeBadRequest, "request body too large or unreadable"))
			return
		}
		pattern := c.Param("pattern")
		out, err := rpcs.Dispatch(c.Request.Context(), rpc.Request{
			Pattern:  pattern,
			Data:     body,
			Identity: mdw.IdentityFrom(c),
		})
		if err != nil {
			code := rpc.CodeOf(err)
			if code == resp.CodeServerError {
				l.Error("rpc failed", zap.String("rid", c.GetString(mdw.KeyRequestID)), zap.String("pattern", pattern), zap.Error(err))
			}
			c.Set(mdw.KeyReplyCode, code)
			c.JSON(http.StatusOK, resp.FromError(err))
			return
		}
		c.Set(mdw.KeyReplyCode, resp.CodeOK)
		c.JSON(http.StatusOK, resp.OK(out))
	}
}
