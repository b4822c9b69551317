package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"

	"go-user-directory/internal/core/password"
	"go-user-directory/internal/domain"
	"go-user-directory/internal/repo"
)

type stubUserRepo struct {
	mu    sync.Mutex
	users map[string]*domain.User

	findErr error
	calls   int
}

func newStubUserRepo() *stubUserRepo {
	return &stubUserRepo{users: make(map[string]*domain.User)}
}

func cloneUser(u *domain.User) *domain.User {
	if u == nil {
		return nil
	}
	c := *u
	c.Roles = append(domain.Roles(nil), u.Roles...)
	c.CreatedBy, c.UpdatedBy, c.DeletedBy = nil, nil, nil
	return &c
}

func (r *stubUserRepo) resolve(u *domain.User) *domain.User {
	ref := func(id *string) *domain.User {
		if id == nil {
			return nil
		}
		if t, ok := r.users[*id]; ok {
			return &domain.User{ID: t.ID, Username: t.Username, Email: t.Email}
		}
		return nil
	}
	u.CreatedBy, u.UpdatedBy, u.DeletedBy = ref(u.CreatedByID), ref(u.UpdatedByID), ref(u.DeletedByID)
	return u
}

func (r *stubUserRepo) Create(_ context.Context, u *domain.User) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, have := range r.users {
		if have.Username == u.Username {
			return &repo.DuplicateError{Field: "username"}
		}
		if have.Email == u.Email {
			return &repo.DuplicateError{Field: "email"}
		}
	}
	r.users[u.ID] = cloneUser(u)
	return nil
}

func (r *stubUserRepo) find(match func(*domain.User) bool, f domain.Filter, refs bool) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls++
	if r.findErr != nil {
		return nil, r.findErr
	}
	for _, u := range r.users {
		if match(u) && f.Match(u) {
			c := cloneUser(u)
			if refs {
				r.resolve(c)
			}
			return c, nil
		}
	}
	return nil, nil
}

func (r *stubUserRepo) FindByID(_ context.Context, id string, f domain.Filter, refs bool) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.ID == id }, f, refs)
}

func (r *stubUserRepo) FindByUsername(_ context.Context, name string, f domain.Filter, refs bool) (*domain.User, error) {
	return r.find(func(u *domain.User) bool { return u.Username == name }, f, refs)
}

func (r *stubUserRepo) FindByIDs(_ context.Context, ids []string) ([]domain.UserSummary, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := []domain.UserSummary{}
	for _, id := range ids {
		if u, ok := r.users[id]; ok {
			out = append(out, *u.Summary())
		}
	}
	return out, nil
}

func (r *stubUserRepo) FindPage(_ context.Context, p domain.Page, f domain.Filter) ([]domain.User, int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var all []domain.User
	for _, u := range r.users {
		if f.Match(u) {
			all = append(all, *cloneUser(u))
		}
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	if p.Offset >= len(all) {
		return nil, total, nil
	}
	end := p.Offset + p.Limit
	if end > len(all) {
		end = len(all)
	}
	return all[p.Offset:end], total, nil
}

func (r *stubUserRepo) Update(_ context.Context, id string, patch domain.UserPatch) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	if patch.Username != nil {
		for _, have := range r.users {
			if have.ID != id && have.Username == *patch.Username {
				return &repo.DuplicateError{Field: "username"}
			}
		}
		u.Username = *patch.Username
	}
	if patch.Email != nil {
		for _, have := range r.users {
			if have.ID != id && have.Email == *patch.Email {
				return &repo.DuplicateError{Field: "email"}
			}
		}
		u.Email = *patch.Email
	}
	if patch.Password != nil {
		u.Password = *patch.Password
	}
	if patch.Roles != nil {
		u.Roles = domain.Roles(*patch.Roles)
	}
	u.UpdatedByID = patch.UpdatedByID
	u.UpdatedAt = time.Now()
	return nil
}

func (r *stubUserRepo) SoftDelete(_ context.Context, id, by string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.DeletedAt, u.DeletedByID = &at, &by
	return nil
}

func (r *stubUserRepo) Restore(_ context.Context, id, by string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return gorm.ErrRecordNotFound
	}
	u.DeletedAt, u.DeletedByID, u.UpdatedByID = nil, nil, &by
	return nil
}

// mapCache mirrors the Redis cache semantics: GetOrLoad memoizes, InvalidateAll clears.
type mapCache struct {
	mu          sync.Mutex
	entries     map[string][]byte
	invalidated int
}

func newMapCache() *mapCache { return &mapCache{entries: map[string][]byte{}} }

func (c *mapCache) GetOrLoad(ctx context.Context, key string, load func(context.Context) ([]byte, error)) ([]byte, error) {
	c.mu.Lock()
	b, ok := c.entries[key]
	c.mu.Unlock()
	if ok {
		return b, nil
	}
	b, err := load(ctx)
	if err != nil {
		return nil, err
	}
	c.mu.Lock()
	c.entries[key] = b
	c.mu.Unlock()
	return b, nil
}

func (c *mapCache) InvalidateAll(context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = map[string][]byte{}
	c.invalidated++
	return nil
}

func (c *mapCache) keys() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var ks []string
	for k := range c.entries {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	return strings.Join(ks, " ")
}

func newTestUserService() (*UserService, *stubUserRepo, *mapCache) {
	r := newStubUserRepo()
	c := newMapCache()
	return NewUserService(r, c, password.New(bcrypt.MinCost, 2), zap.NewNop()), r, c
}
