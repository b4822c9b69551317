package domain

import (
	"context"
	"time"

	"gorm.io/datatypes"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAdmin     Role = "admin"
	RoleModerator Role = "moderator"
	RoleGuest     Role = "guest"
)

func (r Role) Valid() bool {
	switch r {
	case RoleUser, RoleAdmin, RoleModerator, RoleGuest:
		return true
	}
	return false
}

// Roles is persisted as a JSON array so postgres, mysql and sqlite share one schema.
type Roles = datatypes.JSONSlice[Role]

// User is the persisted account row. The three *ByID columns point back into the
// same table and are nulled when the referenced row goes away.
type User struct {
	ID        string     `gorm:"primaryKey;size:36"`
	Username  string     `gorm:"uniqueIndex;size:64;not null"`
	Email     string     `gorm:"uniqueIndex;size:191;not null"`
	Password  string     `gorm:"size:100;not null"`
	Roles     Roles      `gorm:"not null"`
	CreatedAt time.Time  `gorm:"not null;index"`
	UpdatedAt time.Time  `gorm:"not null"`
	DeletedAt *time.Time `gorm:"index"`

	CreatedByID *string `gorm:"size:36"`
	UpdatedByID *string `gorm:"size:36"`
	DeletedByID *string `gorm:"size:36"`

	CreatedBy *User `gorm:"foreignKey:CreatedByID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	UpdatedBy *User `gorm:"foreignKey:UpdatedByID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
	DeletedBy *User `gorm:"foreignKey:DeletedByID;constraint:OnUpdate:CASCADE,OnDelete:SET NULL"`
}

func (User) TableName() string { return "users" }

func (u *User) IsDisabled() bool { return u.DeletedAt != nil }

func (u *User) HasRole(r Role) bool { return hasRole(u.Roles, r) }

// Summary projects the row down to the fields that are safe to embed in other responses.
func (u *User) Summary() *UserSummary {
	if u == nil {
		return nil
	}
	return &UserSummary{ID: u.ID, Username: u.Username, Email: u.Email}
}

// Identity derives the request principal from the row.
func (u *User) Identity() Identity {
	return Identity{
		ID:        u.ID,
		Username:  u.Username,
		Email:     u.Email,
		Roles:     append([]Role(nil), u.Roles...),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	}
}

type UserSummary struct {
	ID       string `json:"id"`
	Username string `json:"username"`
	Email    string `json:"email"`
}

// Identity is the authenticated caller threaded through every authorized operation.
// It is never persisted.
type Identity struct {
	ID        string    `json:"id"`
	Username  string    `json:"username"`
	Email     string    `json:"email"`
	Roles     []Role    `json:"roles"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

func (i Identity) HasRole(r Role) bool { return hasRole(i.Roles, r) }

func hasRole(roles []Role, r Role) bool {
	for _, have := range roles {
		if have == r {
			return true
		}
	}
	return false
}

// Filter is the visibility predicate handed to every filtered read.
type Filter struct {
	IncludeDisabled bool
}

// Match reports whether u is visible under f.
func (f Filter) Match(u *User) bool {
	return u != nil && (f.IncludeDisabled || !u.IsDisabled())
}

// Scope names the filter for cache keys.
func (f Filter) Scope() string {
	if f.IncludeDisabled {
		return "all"
	}
	return "active"
}

type Page struct {
	Offset int
	Limit  int
}

// UserPatch carries the columns an update touches; nil fields are left alone.
type UserPatch struct {
	Username    *string
	Email       *string
	Password    *string
	Roles       *[]Role
	UpdatedByID *string
}

type UserRepository interface {
	Create(ctx context.Context, u *User) error
	FindByID(ctx context.Context, id string, f Filter, withRefs bool) (*User, error)
	FindByUsername(ctx context.Context, username string, f Filter, withRefs bool) (*User, error)
	FindByIDs(ctx context.Context, ids []string) ([]UserSummary, error)
	FindPage(ctx context.Context, p Page, f Filter) ([]User, int64, error)
	Update(ctx context.Context, id string, patch UserPatch) error
	SoftDelete(ctx context.Context, id, by string, at time.Time) error
	Restore(ctx context.Context, id, by string) error
}
