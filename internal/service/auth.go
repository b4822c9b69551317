package service

import (
	"context"
	"strings"
	"sync"

	"go.uber.org/zap"

	"go-user-directory/internal/core/auth"
	"go-user-directory/internal/domain"
	"go-user-directory/internal/feature/user"
	"go-user-directory/internal/policy"
)

// Credentials is the read side of the store the auth service needs.
type Credentials interface {
	FindByID(ctx context.Context, id string, f domain.Filter, withRefs bool) (*domain.User, error)
	FindByUsername(ctx context.Context, username string, f domain.Filter, withRefs bool) (*domain.User, error)
}

type LoginInput struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type VerifyInput struct {
	Token string `json:"token"`
}

type AuthResult struct {
	User  user.Response `json:"user"`
	Token string        `json:"token"`
}

type AuthService struct {
	users  Credentials
	pw     Hasher
	tokens *auth.JWTer
	log    *zap.Logger

	dummyOnce sync.Once
	dummy     string
}

func NewAuthService(users Credentials, pw Hasher, tokens *auth.JWTer, log *zap.Logger) *AuthService {
	return &AuthService{users: users, pw: pw, tokens: tokens, log: log}
}

var errBadCredentials = domain.Unauthorized("invalid credentials")

func (s *AuthService) Login(ctx context.Context, in LoginInput) (AuthResult, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" || in.Password == "" {
		return AuthResult{}, errBadCredentials
	}
	u, err := s.users.FindByUsername(ctx, username, policy.ActiveOnly(), false)
	if err != nil {
		s.log.Error("login lookup failed", zap.String("op", "login"), zap.String("username", username), zap.Error(err))
		return AuthResult{}, domain.BadRequest("login failed", err)
	}
	if u == nil {
		// spend the same bcrypt work as a real account
		s.pw.Verify(ctx, in.Password, s.dummyDigest(ctx))
		return AuthResult{}, errBadCredentials
	}
	if !s.pw.Verify(ctx, in.Password, u.Password) {
		return AuthResult{}, errBadCredentials
	}
	tok, err := s.tokens.Issue(u.ID)
	if err != nil {
		s.log.Error("issue token failed", zap.String("op", "login"), zap.String("id", u.ID), zap.Error(err))
		return AuthResult{}, domain.BadRequest("login failed", err)
	}
	return AuthResult{User: user.FromDomain(u), Token: tok}, nil
}

func (s *AuthService) dummyDigest(ctx context.Context) string {
	s.dummyOnce.Do(func() {
		d, err := s.pw.Hash(context.WithoutCancel(ctx), "no-such-account")
		if err != nil {
			s.log.Warn("dummy digest failed", zap.Error(err))
			return
		}
		s.dummy = d
	})
	return s.dummy
}

// Verify checks token and answers with a freshly issued one for the same
// subject (sliding expiration).
func (s *AuthService) Verify(ctx context.Context, in VerifyInput) (AuthResult, error) {
	uid, fresh, err := s.tokens.Refresh(in.Token)
	if err != nil {
		return AuthResult{}, domain.Unauthorized("invalid or expired token")
	}
	u, err := s.active(ctx, uid)
	if err != nil {
		return AuthResult{}, err
	}
	return AuthResult{User: user.FromDomain(u), Token: fresh}, nil
}

// Identify resolves a bearer token to the caller identity without re-issuing.
func (s *AuthService) Identify(ctx context.Context, token string) (domain.Identity, error) {
	uid, err := s.tokens.Verify(token)
	if err != nil {
		return domain.Identity{}, domain.Unauthorized("invalid or expired token")
	}
	u, err := s.active(ctx, uid)
	if err != nil {
		return domain.Identity{}, err
	}
	return u.Identity(), nil
}

func (s *AuthService) active(ctx context.Context, uid string) (*domain.User, error) {
	u, err := s.users.FindByID(ctx, uid, policy.ActiveOnly(), false)
	if err != nil {
		s.log.Error("token subject lookup failed", zap.String("op", "verify"), zap.String("id", uid), zap.Error(err))
		return nil, domain.BadRequest("verification failed", err)
	}
	if u == nil {
		return nil, domain.Unauthorized("invalid or expired token")
	}
	return u, nil
}
