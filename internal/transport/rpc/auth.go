package rpc

import (
	"context"

	"go-user-directory/internal/domain"
	"go-user-directory/internal/service"
)

const AuthHealthMessage = "auth service is healthy"

type AuthAPI interface {
	Login(ctx context.Context, in service.LoginInput) (service.AuthResult, error)
	Verify(ctx context.Context, in service.VerifyInput) (service.AuthResult, error)
}

func MountAuth(r *Router, svc AuthAPI) {
	Health(r, "auth.health", AuthHealthMessage)

	RegisterAction(r, Action[service.LoginInput, service.AuthResult]{
		Pattern: "auth.login",
		Handler: func(ctx context.Context, in *service.LoginInput, _ domain.Identity) (service.AuthResult, error) {
			return svc.Login(ctx, *in)
		},
	})

	RegisterAction(r, Action[service.VerifyInput, service.AuthResult]{
		Pattern: "auth.verify",
		Handler: func(ctx context.Context, in *service.VerifyInput, _ domain.Identity) (service.AuthResult, error) {
			return svc.Verify(ctx, *in)
		},
	})
}
