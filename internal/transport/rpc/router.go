// Package rpc is the explicit dispatch table shared by the message bus and the
// HTTP gateway: a pattern such as "user.find.id" maps to one handler.
package rpc

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"go-user-directory/internal/domain"
)

var (
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{Name: "rpc_requests_total", Help: "RPC requests by pattern and reply code"},
		[]string{"pattern", "code"},
	)
	latency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: "rpc_request_duration_seconds", Help: "RPC handler latency", Buckets: prometheus.DefBuckets},
		[]string{"pattern"},
	)
)

func init() { prometheus.MustRegister(requests, latency) }

// Request is one inbound invocation. Identity is filled by the transport, never
// decoded from Data by the handler. Trusted marks requests from the internal
// message bus; the public HTTP gateway leaves it false.
type Request struct {
	Pattern  string
	Data     json.RawMessage
	Identity *domain.Identity
	Trusted  bool
}

type Handler func(ctx context.Context, req Request) (any, error)

type Router struct {
	mu     sync.RWMutex
	routes map[string]Handler
	log    *zap.Logger
}

func NewRouter(log *zap.Logger) *Router {
	if log == nil {
		log = zap.NewNop()
	}
	return &Router{routes: make(map[string]Handler), log: log}
}

// Handle registers h for pattern. Registering a pattern twice is a wiring bug.
func (r *Router) Handle(pattern string, h Handler) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.routes[pattern]; dup {
		panic(fmt.Sprintf("rpc: pattern %q registered twice", pattern))
	}
	r.routes[pattern] = h
}

func (r *Router) Patterns() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.routes))
	for p := range r.routes {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

func (r *Router) Has(pattern string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.routes[pattern]
	return ok
}

// Dispatch runs the handler for req.Pattern. A handler panic is recovered and
// reported as a server error so one bad request cannot take the loop down.
func (r *Router) Dispatch(ctx context.Context, req Request) (out any, err error) {
	r.mu.RLock()
	h, ok := r.routes[req.Pattern]
	r.mu.RUnlock()
	if !ok {
		requests.WithLabelValues("unknown", strconv.Itoa(CodeNotFound)).Inc()
		return nil, domain.NotFound("no handler for pattern " + req.Pattern)
	}

	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			r.log.Error("rpc handler panic", zap.String("pattern", req.Pattern), zap.Any("panic", rec), zap.Stack("stack"))
			out, err = nil, fmt.Errorf("panic in %s: %v", req.Pattern, rec)
		}
		latency.WithLabelValues(req.Pattern).Observe(time.Since(start).Seconds())
		requests.WithLabelValues(req.Pattern, strconv.Itoa(CodeOf(err))).Inc()
	}()
	return h(ctx, req)
}
