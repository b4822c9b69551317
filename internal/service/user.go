package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"go-user-directory/internal/core/cache"
	"go-user-directory/internal/core/password"
	"go-user-directory/internal/domain"
	"go-user-directory/internal/feature/user"
	"go-user-directory/internal/policy"
	"go-user-directory/internal/repo"
)

type Hasher interface {
	Hash(ctx context.Context, plain string) (string, error)
	Verify(ctx context.Context, plain, digest string) bool
}

type ResponseCache interface {
	cache.Loader
	InvalidateAll(ctx context.Context) error
}

const invalidateTimeout = 2 * time.Second

type CreateInput struct {
	Username    string        `json:"username"    validate:"required,min=3,max=64"`
	Email       string        `json:"email"       validate:"required,email,max=191"`
	Password    string        `json:"password"    validate:"omitempty,min=6,maxbytes=72"`
	Roles       []domain.Role `json:"roles"       validate:"omitempty,dive,oneof=user admin moderator guest"`
	CreatedByID *string       `json:"createdById" validate:"omitempty,uuid"`
}

type UpdateInput struct {
	ID       string         `json:"id"       validate:"required,uuid"`
	Username *string        `json:"username" validate:"omitempty,min=3,max=64"`
	Email    *string        `json:"email"    validate:"omitempty,email,max=191"`
	Password *string        `json:"password" validate:"omitempty,min=6,maxbytes=72"`
	Roles    *[]domain.Role `json:"roles"    validate:"omitempty,dive,oneof=user admin moderator guest"`
}

type Pagination struct {
	Page  int `json:"page"  validate:"required,min=1"`
	Limit int `json:"limit" validate:"required,min=1"`
}

// UserService owns the user record lifecycle: Active --remove--> Disabled --restore--> Active.
type UserService struct {
	repo  domain.UserRepository
	cache ResponseCache
	pw    Hasher
	log   *zap.Logger

	PasswordLength int
	Now            func() time.Time
}

func NewUserService(r domain.UserRepository, c ResponseCache, pw Hasher, log *zap.Logger) *UserService {
	return &UserService{
		repo:           r,
		cache:          c,
		pw:             pw,
		log:            log,
		PasswordLength: password.DefaultLength,
		Now:            time.Now,
	}
}

func (s *UserService) Create(ctx context.Context, in CreateInput) (user.CreateResponse, error) {
	username, email := strings.TrimSpace(in.Username), strings.TrimSpace(in.Email)
	if username == "" || email == "" {
		return user.CreateResponse{}, domain.BadRequest("username and email are required", nil)
	}
	roles, err := normalizeRoles(in.Roles)
	if err != nil {
		return user.CreateResponse{}, err
	}
	if in.CreatedByID != nil {
		if err := checkID(*in.CreatedByID); err != nil {
			return user.CreateResponse{}, err
		}
	}

	if err := checkPassword(in.Password); err != nil {
		return user.CreateResponse{}, err
	}
	plain := in.Password
	if plain == "" {
		if plain, err = password.Generate(s.PasswordLength); err != nil {
			return user.CreateResponse{}, s.fail("create", "failed to create user", err)
		}
	}
	digest, err := s.pw.Hash(ctx, plain)
	if err != nil {
		return user.CreateResponse{}, s.fail("create", "failed to create user", err)
	}

	now := s.Now().UTC()
	u := &domain.User{
		ID:          uuid.NewString(),
		Username:    username,
		Email:       email,
		Password:    digest,
		Roles:       roles,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedByID: in.CreatedByID,
	}
	if err := s.repo.Create(ctx, u); err != nil {
		return user.CreateResponse{}, s.writeErr("create", "failed to create user", err, zap.String("username", username))
	}
	s.invalidate(ctx, "create")

	out := user.FromDomain(u)
	if saved, err := s.repo.FindByID(ctx, u.ID, policy.Unfiltered(), true); err == nil && saved != nil {
		out = user.FromDomain(saved)
	} else if err != nil {
		s.log.Warn("reload after create failed", zap.String("op", "create"), zap.String("id", u.ID), zap.Error(err))
	}
	return user.CreateResponse{Response: out, Password: plain}, nil
}

func (s *UserService) FindAll(ctx context.Context, p Pagination, ident domain.Identity) (user.PageResponse, error) {
	if p.Page < 1 || p.Limit < 1 {
		return user.PageResponse{}, domain.BadRequest("page and limit must be positive integers", nil)
	}
	users, total, err := s.repo.FindPage(ctx, domain.Page{Offset: (p.Page - 1) * p.Limit, Limit: p.Limit}, policy.For(ident))
	if err != nil {
		return user.PageResponse{}, s.fail("findAll", "failed to fetch users", err)
	}
	data := make([]user.Response, 0, len(users))
	for i := range users {
		data = append(data, user.FromDomain(&users[i]))
	}
	return user.PageResponse{
		Data: data,
		Meta: user.Meta{Total: total, Page: p.Page, LastPage: user.LastPage(total, p.Limit)},
	}, nil
}

func (s *UserService) FindOne(ctx context.Context, id string, ident domain.Identity) (user.Response, error) {
	if err := checkID(id); err != nil {
		return user.Response{}, err
	}
	f := policy.For(ident)
	return cache.GetOrLoadJSON(s.cache, ctx, cache.Key("user", "id", id, f.Scope()), func(ctx context.Context) (user.Response, error) {
		u, err := s.repo.FindByID(ctx, id, f, true)
		if err != nil {
			return user.Response{}, s.fail("findOne", "failed to fetch user", err, zap.String("id", id))
		}
		if u == nil {
			return user.Response{}, domain.NotFound("user not found")
		}
		return user.FromDomain(u), nil
	})
}

func (s *UserService) FindByUsername(ctx context.Context, username string, ident domain.Identity) (user.Response, error) {
	if strings.TrimSpace(username) == "" {
		return user.Response{}, domain.BadRequest("username is required", nil)
	}
	f := policy.For(ident)
	return cache.GetOrLoadJSON(s.cache, ctx, cache.Key("user", "username", username, f.Scope()), func(ctx context.Context) (user.Response, error) {
		u, err := s.repo.FindByUsername(ctx, username, f, true)
		if err != nil {
			return user.Response{}, s.fail("findByUsername", "failed to fetch user", err, zap.String("username", username))
		}
		if u == nil {
			return user.Response{}, domain.NotFound("user not found")
		}
		return user.FromDomain(u), nil
	})
}

func (s *UserService) FindOneWithSummary(ctx context.Context, id string, ident domain.Identity) (domain.UserSummary, error) {
	if err := checkID(id); err != nil {
		return domain.UserSummary{}, err
	}
	f := policy.For(ident)
	return cache.GetOrLoadJSON(s.cache, ctx, cache.Key("user", "summary", id, f.Scope()), func(ctx context.Context) (domain.UserSummary, error) {
		u, err := s.repo.FindByID(ctx, id, f, false)
		if err != nil {
			return domain.UserSummary{}, s.fail("findOneWithSummary", "failed to fetch user", err, zap.String("id", id))
		}
		if u == nil {
			return domain.UserSummary{}, domain.NotFound("user not found")
		}
		return *u.Summary(), nil
	})
}

// FindByIDs is the trusted batch lookup used to decorate other records. It does
// not apply the caller's visibility filter, so disabled users are returned too.
func (s *UserService) FindByIDs(ctx context.Context, ids []string, _ domain.Identity) ([]domain.UserSummary, error) {
	for _, id := range ids {
		if err := checkID(id); err != nil {
			return nil, err
		}
	}
	return cache.GetOrLoadJSON(s.cache, ctx, cache.IDsKey("user:ids", ids), func(ctx context.Context) ([]domain.UserSummary, error) {
		out, err := s.repo.FindByIDs(ctx, ids)
		if err != nil {
			return nil, s.fail("findByIds", "failed to fetch users", err)
		}
		return out, nil
	})
}

func (s *UserService) Update(ctx context.Context, in UpdateInput, ident domain.Identity) (user.Response, error) {
	if ident.ID == "" {
		return user.Response{}, domain.Unauthorized("identity required")
	}
	if _, err := s.FindOne(ctx, in.ID, ident); err != nil {
		return user.Response{}, err
	}

	patch := domain.UserPatch{UpdatedByID: &ident.ID}
	if in.Username != nil {
		v := strings.TrimSpace(*in.Username)
		if v == "" {
			return user.Response{}, domain.BadRequest("username must not be empty", nil)
		}
		patch.Username = &v
	}
	if in.Email != nil {
		v := strings.TrimSpace(*in.Email)
		if v == "" {
			return user.Response{}, domain.BadRequest("email must not be empty", nil)
		}
		patch.Email = &v
	}
	if in.Roles != nil {
		roles, err := normalizeRoles(*in.Roles)
		if err != nil {
			return user.Response{}, err
		}
		r := []domain.Role(roles)
		patch.Roles = &r
	}
	if in.Password != nil && *in.Password != "" {
		if err := checkPassword(*in.Password); err != nil {
			return user.Response{}, err
		}
		digest, err := s.pw.Hash(ctx, *in.Password)
		if err != nil {
			return user.Response{}, s.fail("update", "failed to update user", err, zap.String("id", in.ID))
		}
		patch.Password = &digest
	}

	if err := s.repo.Update(ctx, in.ID, patch); err != nil {
		return user.Response{}, s.writeErr("update", "failed to update user", err, zap.String("id", in.ID))
	}
	s.invalidate(ctx, "update")
	return s.reload(ctx, "update", in.ID)
}

func (s *UserService) Remove(ctx context.Context, id string, ident domain.Identity) (user.Response, error) {
	u, err := s.transitionTarget(ctx, "remove", id, ident)
	if err != nil {
		return user.Response{}, err
	}
	if u.IsDisabled() {
		return user.Response{}, domain.ErrAlreadyDisabled
	}
	if err := s.repo.SoftDelete(ctx, id, ident.ID, s.Now().UTC()); err != nil {
		return user.Response{}, s.writeErr("remove", "failed to disable user", err, zap.String("id", id))
	}
	s.invalidate(ctx, "remove")
	return s.reload(ctx, "remove", id)
}

func (s *UserService) Restore(ctx context.Context, id string, ident domain.Identity) (user.Response, error) {
	u, err := s.transitionTarget(ctx, "restore", id, ident)
	if err != nil {
		return user.Response{}, err
	}
	if !u.IsDisabled() {
		return user.Response{}, domain.ErrAlreadyEnabled
	}
	if err := s.repo.Restore(ctx, id, ident.ID); err != nil {
		return user.Response{}, s.writeErr("restore", "failed to enable user", err, zap.String("id", id))
	}
	s.invalidate(ctx, "restore")
	return s.reload(ctx, "restore", id)
}

// transitionTarget loads the row regardless of visibility: the state machine has
// to see disabled rows to report the conflict.
func (s *UserService) transitionTarget(ctx context.Context, op, id string, ident domain.Identity) (*domain.User, error) {
	if ident.ID == "" {
		return nil, domain.Unauthorized("identity required")
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	u, err := s.repo.FindByID(ctx, id, policy.Unfiltered(), false)
	if err != nil {
		return nil, s.fail(op, "failed to fetch user", err, zap.String("id", id))
	}
	if u == nil {
		return nil, domain.NotFound("user not found")
	}
	return u, nil
}

func (s *UserService) reload(ctx context.Context, op, id string) (user.Response, error) {
	u, err := s.repo.FindByID(ctx, id, policy.Unfiltered(), true)
	if err != nil {
		return user.Response{}, s.fail(op, "failed to fetch user", err, zap.String("id", id))
	}
	if u == nil {
		return user.Response{}, domain.NotFound("user not found")
	}
	return user.FromDomain(u), nil
}

// invalidate clears the response cache before the write returns so the next read
// observes it. The write already succeeded, so a failed clear is logged and the
// cache serves straight from the store until a later clear goes through.
func (s *UserService) invalidate(ctx context.Context, op string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := s.cache.InvalidateAll(ctx); err != nil {
		s.log.Warn("cache invalidation failed", zap.String("op", op), zap.Error(err))
	}
}

func (s *UserService) fail(op, msg string, err error, fields ...zap.Field) error {
	s.log.Error(msg, append([]zap.Field{zap.String("op", op), zap.Error(err)}, fields...)...)
	return domain.BadRequest(msg, err)
}

func (s *UserService) writeErr(op, msg string, err error, fields ...zap.Field) error {
	var dup *repo.DuplicateError
	switch {
	case errors.As(err, &dup):
		if dup.Field == "" {
			return domain.Conflict("user with this username or email already exists")
		}
		return domain.ConflictField(dup.Field)
	case errors.Is(err, gorm.ErrRecordNotFound):
		return domain.NotFound("user not found")
	}
	return s.fail(op, msg, err, fields...)
}

func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return domain.BadRequest("invalid user id", err)
	}
	return nil
}

func checkPassword(plain string) error {
	if len(plain) > password.MaxBytes {
		return domain.BadRequest(fmt.Sprintf("password must be at most %d bytes", password.MaxBytes), nil)
	}
	return nil
}

func normalizeRoles(in []domain.Role) (domain.Roles, error) {
	if len(in) == 0 {
		return domain.Roles{domain.RoleUser}, nil
	}
	out := make(domain.Roles, 0, len(in))
	seen := map[domain.Role]bool{}
	for _, r := range in {
		if !r.Valid() {
			return nil, domain.BadRequest("unknown role "+string(r), nil)
		}
		if !seen[r] {
			seen[r] = true
			out = append(out, r)
		}
	}
	return out, nil
}
