package rpc

import (
	"context"

	"go-user-directory/internal/domain"
	"go-user-directory/internal/feature/user"
	"go-user-directory/internal/service"
)

const UserHealthMessage = "user service is healthy"

// UserAPI is the lifecycle surface the user.* patterns dispatch to.
type UserAPI interface {
	Create(ctx context.Context, in service.CreateInput) (user.CreateResponse, error)
	FindAll(ctx context.Context, p service.Pagination, ident domain.Identity) (user.PageResponse, error)
	FindOne(ctx context.Context, id string, ident domain.Identity) (user.Response, error)
	FindByUsername(ctx context.Context, username string, ident domain.Identity) (user.Response, error)
	FindOneWithSummary(ctx context.Context, id string, ident domain.Identity) (domain.UserSummary, error)
	FindByIDs(ctx context.Context, ids []string, ident domain.Identity) ([]domain.UserSummary, error)
	Update(ctx context.Context, in service.UpdateInput, ident domain.Identity) (user.Response, error)
	Remove(ctx context.Context, id string, ident domain.Identity) (user.Response, error)
	Restore(ctx context.Context, id string, ident domain.Identity) (user.Response, error)
}

type allIn struct {
	Pagination service.Pagination `json:"pagination"`
}

type idIn struct {
	ID string `json:"id" validate:"required,uuid"`
}

type usernameIn struct {
	Username string `json:"username" validate:"required"`
}

type idsIn struct {
	IDs []string `json:"ids" validate:"dive,uuid"`
}

// MountUsers registers every user.* pattern plus user.health.
func MountUsers(r *Router, svc UserAPI) {
	Health(r, "user.health", UserHealthMessage)

	RegisterAction(r, Action[service.CreateInput, user.CreateResponse]{
		Pattern: "user.create",
		Handler: func(ctx context.Context, in *service.CreateInput, ident domain.Identity) (user.CreateResponse, error) {
			if !Trusted(ctx) {
				if err := checkRoleGrant(in.Roles, ident); err != nil {
					return user.CreateResponse{}, err
				}
				// the creator is whoever holds the token
				in.CreatedByID = nil
			}
			if in.CreatedByID == nil && ident.ID != "" {
				in.CreatedByID = &ident.ID
			}
			return svc.Create(ctx, *in)
		},
	})

	RegisterAction(r, Action[allIn, user.PageResponse]{
		Pattern: "user.all",
		Auth:    true,
		Handler: func(ctx context.Context, in *allIn, ident domain.Identity) (user.PageResponse, error) {
			return svc.FindAll(ctx, in.Pagination, ident)
		},
	})

	RegisterAction(r, Action[idIn, user.Response]{
		Pattern: "user.find.id",
		Auth:    true,
		Handler: func(ctx context.Context, in *idIn, ident domain.Identity) (user.Response, error) {
			return svc.FindOne(ctx, in.ID, ident)
		},
	})

	RegisterAction(r, Action[usernameIn, user.Response]{
		Pattern: "user.find.username",
		Auth:    true,
		Handler: func(ctx context.Context, in *usernameIn, ident domain.Identity) (user.Response, error) {
			return svc.FindByUsername(ctx, in.Username, ident)
		},
	})

	RegisterAction(r, Action[idIn, domain.UserSummary]{
		Pattern: "user.find.summary",
		Auth:    true,
		Handler: func(ctx context.Context, in *idIn, ident domain.Identity) (domain.UserSummary, error) {
			return svc.FindOneWithSummary(ctx, in.ID, ident)
		},
	})

	// Batch lookup for other services: the caller's visibility filter is not
	// applied, so public callers must at least be signed in.
	RegisterAction(r, Action[idsIn, []domain.UserSummary]{
		Pattern:  "user.find.ids",
		Internal: true,
		Handler: func(ctx context.Context, in *idsIn, ident domain.Identity) ([]domain.UserSummary, error) {
			return svc.FindByIDs(ctx, in.IDs, ident)
		},
	})

	RegisterAction(r, Action[service.UpdateInput, user.Response]{
		Pattern: "user.update",
		Auth:    true,
		Handler: func(ctx context.Context, in *service.UpdateInput, ident domain.Identity) (user.Response, error) {
			return svc.Update(ctx, *in, ident)
		},
	})

	RegisterAction(r, Action[idIn, user.Response]{
		Pattern: "user.remove",
		Auth:    true,
		Handler: func(ctx context.Context, in *idIn, ident domain.Identity) (user.Response, error) {
			return svc.Remove(ctx, in.ID, ident)
		},
	})

	RegisterAction(r, Action[idIn, user.Response]{
		Pattern: "user.restore",
		Auth:    true,
		Handler: func(ctx context.Context, in *idIn, ident domain.Identity) (user.Response, error) {
			return svc.Restore(ctx, in.ID, ident)
		},
	})
}

// checkRoleGrant allows anyone to ask for the plain user role; anything else
// needs an admin caller.
func checkRoleGrant(roles []domain.Role, ident domain.Identity) error {
	for _, r := range roles {
		if r != domain.RoleUser && !ident.HasRole(domain.RoleAdmin) {
			return domain.Unauthorized("only admins can assign role " + string(r))
		}
	}
	return nil
}
