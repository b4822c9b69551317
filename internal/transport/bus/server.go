// Package bus serves the rpc dispatch table over Redis pub/sub. Each pattern is
// a channel; replies go to "<pattern>.reply" correlated by message id.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"go-user-directory/internal/transport/rpc"
)

const (
	defaultWorkers = 64
	defaultTimeout = 10 * time.Second
)

type Server struct {
	rdb    redis.UniversalClient
	router *rpc.Router
	log    *zap.Logger
	sem    *semaphore.Weighted

	// Timeout bounds a single handler invocation.
	Timeout time.Duration

	wg sync.WaitGroup
}

// NewServer builds a Server. workers caps in-flight handlers; <= 0 uses the default.
func NewServer(rdb redis.UniversalClient, router *rpc.Router, log *zap.Logger, workers int) *Server {
	if workers <= 0 {
		workers = defaultWorkers
	}
	return &Server{
		rdb:     rdb,
		router:  router,
		log:     log,
		sem:     semaphore.NewWeighted(int64(workers)),
		Timeout: defaultTimeout,
	}
}

// Run subscribes to every registered pattern and serves until ctx is done.
// In-flight handlers are drained before it returns.
func (s *Server) Run(ctx context.Context) error {
	patterns := s.router.Patterns()
	ps := s.rdb.Subscribe(ctx, patterns...)
	defer ps.Close()

	if _, err := ps.Receive(ctx); err != nil {
		return err
	}
	s.log.Info("bus subscribed", zap.Strings("patterns", patterns))

	ch := ps.Channel()
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case m, ok := <-ch:
			if !ok {
				s.wg.Wait()
				return errors.New("bus: subscription closed")
			}
			if err := s.sem.Acquire(ctx, 1); err != nil {
				s.wg.Wait()
				return nil
			}
			s.wg.Add(1)
			go func(channel, payload string) {
				defer s.wg.Done()
				defer s.sem.Release(1)
				s.serve(ctx, channel, []byte(payload))
			}(m.Channel, m.Payload)
		}
	}
}

func (s *Server) serve(ctx context.Context, channel string, payload []byte) {
	reply, ok := s.handle(ctx, channel, payload)
	if !ok {
		return
	}
	b, err := json.Marshal(reply)
	if err != nil {
		s.log.Error("bus reply encode failed", zap.String("pattern", channel), zap.Error(err))
		return
	}
	pubCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
	defer cancel()
	if err := s.rdb.Publish(pubCtx, ReplyChannel(channel), b).Err(); err != nil {
		s.log.Error("bus reply publish failed", zap.String("pattern", channel), zap.Error(err))
	}
}

// handle decodes one envelope and dispatches it. ok is false when the payload is
// not a request this server can answer (no id to correlate a reply with).
func (s *Server) handle(ctx context.Context, channel string, payload []byte) (Reply, bool) {
	var msg Message
	if err := json.Unmarshal(payload, &msg); err != nil || msg.ID == "" {
		s.log.Warn("bus dropped malformed message", zap.String("channel", channel), zap.Error(err))
		return Reply{}, false
	}
	if msg.Pattern == "" {
		msg.Pattern = channel
	}

	ctx, cancel := context.WithTimeout(ctx, s.Timeout)
	defer cancel()

	out, err := s.router.Dispatch(ctx, rpc.Request{
		Pattern:  msg.Pattern,
		Data:     msg.Data,
		Identity: identityOf(msg.Data),
		Trusted:  true,
	})
	reply := Reply{ID: msg.ID, IsDisposed: true}
	if err != nil {
		code := rpc.CodeOf(err)
		if code == rpc.CodeServerError {
			s.log.Error("bus handler failed", zap.String("pattern", msg.Pattern), zap.String("id", msg.ID), zap.Error(err))
		}
		reply.Err = &ReplyErr{Code: code, Msg: rpc.Message(err)}
		return reply, true
	}
	reply.Response = out
	return reply, true
}
