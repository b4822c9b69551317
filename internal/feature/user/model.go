// Package user holds the outward response shapes of the user directory. Nothing
// here carries a password hash or a raw foreign-key column.
package user

import (
	"time"

	"go-user-directory/internal/domain"
)

type Response struct {
	ID        string              `json:"id"`
	Username  string              `json:"username"`
	Email     string              `json:"email"`
	Roles     []domain.Role       `json:"roles"`
	CreatedAt time.Time           `json:"createdAt"`
	UpdatedAt time.Time           `json:"updatedAt"`
	DeletedAt *time.Time          `json:"deletedAt"`
	CreatedBy *domain.UserSummary `json:"createdBy"`
	UpdatedBy *domain.UserSummary `json:"updatedBy"`
	DeletedBy *domain.UserSummary `json:"deletedBy"`
}

// CreateResponse is the only shape that ever carries a plaintext password.
type CreateResponse struct {
	Response
	Password string `json:"password"`
}

type Meta struct {
	Total    int64 `json:"total"`
	Page     int   `json:"page"`
	LastPage int   `json:"lastPage"`
}

type PageResponse struct {
	Data []Response `json:"data"`
	Meta Meta       `json:"meta"`
}

// FromDomain sanitizes u. References are resolved only when the row was
// loaded with them.
func FromDomain(u *domain.User) Response {
	roles := append([]domain.Role{}, u.Roles...)
	return Response{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     roles,
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
		DeletedAt: u.DeletedAt,
		CreatedBy: u.CreatedBy.Summary(),
		UpdatedBy: u.UpdatedBy.Summary(),
		DeletedBy: u.DeletedBy.Summary(),
	}
}

func LastPage(total int64, limit int) int {
	if limit <= 0 {
		return 0
	}
	return int((total + int64(limit) - 1) / int64(limit))
}
