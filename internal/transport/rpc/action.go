package rpc

import (
	"bytes"
	"context"
	"encoding/json"

	"go-user-directory/internal/domain"
)

// Action is a typed handler: I is decoded from the payload and validated, O is
// the reply data.
type Action[I any, O any] struct {
	Pattern  string
	Auth     bool // require a caller identity
	// Internal lets anonymous callers in only on trusted transports.
	Internal bool
	Handler  func(ctx context.Context, in *I, ident domain.Identity) (O, error)
}

type trustedKey struct{}

// Trusted reports whether the request being handled came from a trusted transport.
func Trusted(ctx context.Context) bool {
	v, _ := ctx.Value(trustedKey{}).(bool)
	return v
}

// RegisterAction binds a onto r.
func RegisterAction[I any, O any](r *Router, a Action[I, O]) {
	r.Handle(a.Pattern, func(ctx context.Context, req Request) (any, error) {
		var ident domain.Identity
		if req.Identity != nil {
			ident = *req.Identity
		}
		if ident.ID == "" && (a.Auth || a.Internal && !req.Trusted) {
			return nil, domain.Unauthorized("identity required")
		}

		var in I
		if data := bytes.TrimSpace(req.Data); len(data) > 0 && !bytes.Equal(data, []byte("null")) {
			if err := json.Unmarshal(data, &in); err != nil {
				return nil, domain.BadRequest("invalid payload", err)
			}
		}
		if err := check(&in); err != nil {
			return nil, err
		}
		return a.Handler(context.WithValue(ctx, trustedKey{}, req.Trusted), &in, ident)
	})
}

// Health registers a liveness probe answering msg.
func Health(r *Router, pattern, msg string) {
	r.Handle(pattern, func(context.Context, Request) (any, error) { return msg, nil })
}
