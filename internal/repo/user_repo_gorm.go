package repo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"go-user-directory/internal/domain"
)

const DefaultQueryTimeout = 5 * time.Second

// UserRepo is the gorm-backed credential store. Every call runs under its own
// deadline.
type UserRepo struct {
	db      *gorm.DB
	timeout time.Duration
}

func NewUserRepo(db *gorm.DB, timeout time.Duration) *UserRepo {
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	return &UserRepo{db: db, timeout: timeout}
}

var _ domain.UserRepository = (*UserRepo)(nil)

func (r *UserRepo) tx(ctx context.Context) (*gorm.DB, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(ctx, r.timeout)
	return r.db.WithContext(ctx), cancel
}

func visible(f domain.Filter) func(*gorm.DB) *gorm.DB {
	return func(q *gorm.DB) *gorm.DB {
		if f.IncludeDisabled {
			return q
		}
		return q.Where("users.deleted_at IS NULL")
	}
}

// summaryOnly loads the referenced row one level deep with the summary columns only.
func summaryOnly(q *gorm.DB) *gorm.DB { return q.Select("id", "username", "email") }

func withRefs(q *gorm.DB) *gorm.DB {
	return q.Preload("CreatedBy", summaryOnly).
		Preload("UpdatedBy", summaryOnly).
		Preload("DeletedBy", summaryOnly)
}

func (r *UserRepo) Create(ctx context.Context, u *domain.User) error {
	db, cancel := r.tx(ctx)
	defer cancel()
	return classify(db.Omit("CreatedBy", "UpdatedBy", "DeletedBy").Create(u).Error)
}

func (r *UserRepo) findOne(ctx context.Context, column, value string, f domain.Filter, refs bool) (*domain.User, error) {
	db, cancel := r.tx(ctx)
	defer cancel()
	q := db.Scopes(visible(f))
	if refs {
		q = q.Scopes(withRefs)
	}
	var u domain.User
	err := q.Where("users."+column+" = ?", value).Take(&u).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

// FindByID returns nil, nil when no row matches under f.
func (r *UserRepo) FindByID(ctx context.Context, id string, f domain.Filter, refs bool) (*domain.User, error) {
	return r.findOne(ctx, "id", id, f, refs)
}

func (r *UserRepo) FindByUsername(ctx context.Context, username string, f domain.Filter, refs bool) (*domain.User, error) {
	return r.findOne(ctx, "username", username, f, refs)
}

func (r *UserRepo) FindByIDs(ctx context.Context, ids []string) ([]domain.UserSummary, error) {
	out := []domain.UserSummary{}
	if len(ids) == 0 {
		return out, nil
	}
	db, cancel := r.tx(ctx)
	defer cancel()
	err := db.Model(&domain.User{}).
		Select("id", "username", "email").
		Where("id IN ?", ids).
		Order("created_at DESC").
		Find(&out).Error
	return out, err
}

func (r *UserRepo) FindPage(ctx context.Context, p domain.Page, f domain.Filter) ([]domain.User, int64, error) {
	db, cancel := r.tx(ctx)
	defer cancel()
	var total int64
	if err := db.Model(&domain.User{}).Scopes(visible(f)).Count(&total).Error; err != nil {
		return nil, 0, err
	}
	var users []domain.User
	err := db.Scopes(visible(f), withRefs).
		Order("users.created_at DESC").Order("users.id DESC").
		Offset(p.Offset).Limit(p.Limit).
		Find(&users).Error
	if err != nil {
		return nil, 0, err
	}
	return users, total, nil
}

func (r *UserRepo) Update(ctx context.Context, id string, patch domain.UserPatch) error {
	cols := map[string]any{}
	if patch.Username != nil {
		cols["username"] = *patch.Username
	}
	if patch.Email != nil {
		cols["email"] = *patch.Email
	}
	if patch.Password != nil {
		cols["password"] = *patch.Password
	}
	if patch.Roles != nil {
		cols["roles"] = domain.Roles(*patch.Roles)
	}
	if patch.UpdatedByID != nil {
		cols["updated_by_id"] = *patch.UpdatedByID
	}
	return r.updateColumns(ctx, id, cols)
}

func (r *UserRepo) SoftDelete(ctx context.Context, id, by string, at time.Time) error {
	return r.updateColumns(ctx, id, map[string]any{"deleted_at": at, "deleted_by_id": by})
}

func (r *UserRepo) Restore(ctx context.Context, id, by string) error {
	return r.updateColumns(ctx, id, map[string]any{"deleted_at": nil, "deleted_by_id": nil, "updated_by_id": by})
}

func (r *UserRepo) updateColumns(ctx context.Context, id string, cols map[string]any) error {
	if len(cols) == 0 {
		return nil
	}
	db, cancel := r.tx(ctx)
	defer cancel()
	res := db.Model(&domain.User{}).Where("id = ?", id).Updates(cols)
	if res.Error != nil {
		return classify(res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}
