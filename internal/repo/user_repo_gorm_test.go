package repo

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/go-sql-driver/mysql"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"go-user-directory/internal/domain"
)

func newTestRepo(t *testing.T) (*UserRepo, *gorm.DB) {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatal(err)
	}
	// one connection, otherwise every new conn sees an empty :memory: database
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&domain.User{}); err != nil {
		t.Fatalf("automigrate: %v", err)
	}
	return NewUserRepo(db, time.Second), db
}

var base = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func seed(t *testing.T, r *UserRepo, name string, createdAt time.Time, createdBy *string) *domain.User {
	t.Helper()
	u := &domain.User{
		ID:          uuid.NewString(),
		Username:    name,
		Email:       name + "@example.com",
		Password:    "hash",
		Roles:       domain.Roles{domain.RoleUser},
		CreatedAt:   createdAt,
		UpdatedAt:   createdAt,
		CreatedByID: createdBy,
	}
	if err := r.Create(context.Background(), u); err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return u
}

func TestCreateAndFind(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	admin := seed(t, r, "admin", base, nil)
	bob := seed(t, r, "bob", base.Add(time.Minute), &admin.ID)

	got, err := r.FindByID(ctx, bob.ID, domain.Filter{}, true)
	if err != nil || got == nil {
		t.Fatalf("FindByID = %v, %v", got, err)
	}
	if got.Username != "bob" || len(got.Roles) != 1 || got.Roles[0] != domain.RoleUser {
		t.Fatalf("unexpected row %+v", got)
	}
	if got.CreatedBy == nil || got.CreatedBy.Username != "admin" {
		t.Fatalf("CreatedBy not resolved: %+v", got.CreatedBy)
	}
	if got.CreatedBy.Password != "" {
		t.Fatal("reference must only load summary columns")
	}

	byName, err := r.FindByUsername(ctx, "bob", domain.Filter{}, false)
	if err != nil || byName == nil || byName.ID != bob.ID {
		t.Fatalf("FindByUsername = %v, %v", byName, err)
	}
	if byName.CreatedBy != nil {
		t.Fatal("references must not load without withRefs")
	}

	missing, err := r.FindByID(ctx, uuid.NewString(), domain.Filter{}, false)
	if err != nil || missing != nil {
		t.Fatalf("missing id: %v, %v", missing, err)
	}
}

func TestCreateDuplicate(t *testing.T) {
	r, _ := newTestRepo(t)
	seed(t, r, "bob", base, nil)

	dupName := &domain.User{ID: uuid.NewString(), Username: "bob", Email: "other@example.com", Password: "x", Roles: domain.Roles{domain.RoleUser}}
	err := r.Create(context.Background(), dupName)
	var de *DuplicateError
	if !errors.As(err, &de) || de.Field != "username" {
		t.Fatalf("expected duplicate username, got %v", err)
	}
	if !errors.Is(err, ErrDuplicate) {
		t.Fatal("DuplicateError must match ErrDuplicate")
	}

	dupEmail := &domain.User{ID: uuid.NewString(), Username: "bobby", Email: "bob@example.com", Password: "x", Roles: domain.Roles{domain.RoleUser}}
	err = r.Create(context.Background(), dupEmail)
	if !errors.As(err, &de) || de.Field != "email" {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestSoftDeleteRestoreAndVisibility(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	admin := seed(t, r, "admin", base, nil)
	bob := seed(t, r, "bob", base.Add(time.Minute), nil)

	if err := r.SoftDelete(ctx, bob.ID, admin.ID, base.Add(time.Hour)); err != nil {
		t.Fatalf("SoftDelete: %v", err)
	}
	if u, _ := r.FindByID(ctx, bob.ID, domain.Filter{}, false); u != nil {
		t.Fatal("disabled row visible under active-only filter")
	}
	u, err := r.FindByID(ctx, bob.ID, domain.Filter{IncludeDisabled: true}, true)
	if err != nil || u == nil {
		t.Fatalf("admin lookup: %v, %v", u, err)
	}
	if u.DeletedAt == nil || u.DeletedBy == nil || u.DeletedBy.ID != admin.ID {
		t.Fatalf("soft delete not recorded: %+v", u)
	}

	if err := r.Restore(ctx, bob.ID, admin.ID); err != nil {
		t.Fatalf("Restore: %v", err)
	}
	u, _ = r.FindByID(ctx, bob.ID, domain.Filter{}, true)
	if u == nil || u.DeletedAt != nil || u.DeletedByID != nil {
		t.Fatalf("restore did not clear deletion: %+v", u)
	}
	if u.UpdatedBy == nil || u.UpdatedBy.ID != admin.ID {
		t.Fatalf("restore did not stamp updatedBy: %+v", u.UpdatedBy)
	}

	if err := r.SoftDelete(ctx, uuid.NewString(), admin.ID, base); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected ErrRecordNotFound, got %v", err)
	}
}

func TestUpdate(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	admin := seed(t, r, "admin", base, nil)
	bob := seed(t, r, "bob", base.Add(time.Minute), nil)
	seed(t, r, "carol", base.Add(2*time.Minute), nil)

	name := "robert"
	roles := []domain.Role{domain.RoleModerator, domain.RoleUser}
	if err := r.Update(ctx, bob.ID, domain.UserPatch{Username: &name, Roles: &roles, UpdatedByID: &admin.ID}); err != nil {
		t.Fatalf("Update: %v", err)
	}
	u, _ := r.FindByID(ctx, bob.ID, domain.Filter{}, false)
	if u.Username != "robert" || len(u.Roles) != 2 || *u.UpdatedByID != admin.ID {
		t.Fatalf("update not applied: %+v", u)
	}

	taken := "carol@example.com"
	err := r.Update(ctx, bob.ID, domain.UserPatch{Email: &taken})
	var de *DuplicateError
	if !errors.As(err, &de) || de.Field != "email" {
		t.Fatalf("expected duplicate email, got %v", err)
	}
}

func TestFindPage(t *testing.T) {
	r, _ := newTestRepo(t)
	ctx := context.Background()
	var ids []string
	for i := 0; i < 25; i++ {
		u := seed(t, r, fmt.Sprintf("user%02d", i), base.Add(time.Duration(i)*time.Minute), nil)
		ids = append(ids, u.ID)
	}
	if err := r.SoftDelete(ctx, ids[0], ids[1], base.Add(time.Hour)); err != nil {
		t.Fatal(err)
	}

	users, total, err := r.FindPage(ctx, domain.Page{Offset: 20, Limit: 10}, domain.Filter{IncludeDisabled: true})
	if err != nil {
		t.Fatalf("FindPage: %v", err)
	}
	if total != 25 || len(users) != 5 {
		t.Fatalf("total=%d len=%d, want 25 and 5", total, len(users))
	}
	// newest first: the last page holds the five oldest, user04 down to user00
	if users[0].Username != "user04" || users[4].Username != "user00" {
		t.Fatalf("unexpected order: %s .. %s", users[0].Username, users[4].Username)
	}

	_, active, err := r.FindPage(ctx, domain.Page{Offset: 0, Limit: 10}, domain.Filter{})
	if err != nil || active != 24 {
		t.Fatalf("active total = %d, %v", active, err)
	}
}

func TestFindByIDs(t *testing.T) {
	r, _ := newTestRepo(t)
	a := seed(t, r, "a", base, nil)
	b := seed(t, r, "b", base.Add(time.Minute), nil)
	_ = r.SoftDelete(context.Background(), b.ID, a.ID, base.Add(time.Hour))

	got, err := r.FindByIDs(context.Background(), []string{a.ID, b.ID, uuid.NewString()})
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2 (no visibility filter on batch lookup)", len(got))
	}
	if got[0].Username != "b" || got[0].Email != "b@example.com" {
		t.Fatalf("unexpected summary %+v", got[0])
	}

	empty, err := r.FindByIDs(context.Background(), nil)
	if err != nil || len(empty) != 0 {
		t.Fatalf("empty ids: %v %v", empty, err)
	}
}

func TestClassify(t *testing.T) {
	if classify(nil) != nil {
		t.Fatal("nil must stay nil")
	}
	other := errors.New("connection refused")
	if classify(other) != other {
		t.Fatal("unrelated errors must pass through")
	}
	notUnique := &pgconn.PgError{Code: "23503", ConstraintName: "fk_users_created_by"}
	if classify(notUnique) != error(notUnique) {
		t.Fatal("foreign key violations must pass through")
	}

	cases := []struct {
		name  string
		err   error
		field string
	}{
		{"sqlite username", errors.New("UNIQUE constraint failed: users.username"), "username"},
		{"sqlite email", errors.New("UNIQUE constraint failed: users.email"), "email"},
		{"postgres email with username in value", &pgconn.PgError{
			Code:           "23505",
			ConstraintName: "idx_users_email",
			Detail:         "Key (email)=(username@corp.io) already exists.",
		}, "email"},
		{"postgres default constraint name", &pgconn.PgError{Code: "23505", ConstraintName: "users_username_key"}, "username"},
		{"postgres detail only", &pgconn.PgError{Code: "23505", Detail: "Key (email)=(username@corp.io) already exists."}, "email"},
		{"postgres wrapped", fmt.Errorf("create: %w", &pgconn.PgError{Code: "23505", ConstraintName: "idx_users_username"}), "username"},
		{"postgres text", errors.New(`ERROR: duplicate key value violates unique constraint "idx_users_email" (SQLSTATE 23505)`), "email"},
		{"mysql email with username in value", &mysql.MySQLError{
			Number:  1062,
			Message: "Duplicate entry 'username@corp.io' for key 'users.idx_users_email'",
		}, "email"},
		{"mysql username", &mysql.MySQLError{Number: 1062, Message: "Duplicate entry 'email' for key 'idx_users_username'"}, "username"},
		{"unknown constraint", &pgconn.PgError{Code: "23505", ConstraintName: "users_pkey"}, ""},
		{"gorm sentinel", gorm.ErrDuplicatedKey, ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var de *DuplicateError
			if err := classify(tc.err); !errors.As(err, &de) {
				t.Fatalf("classify = %v, want *DuplicateError", err)
			}
			if de.Field != tc.field {
				t.Fatalf("field = %q, want %q", de.Field, tc.field)
			}
			if !errors.Is(de, ErrDuplicate) {
				t.Fatal("duplicate must match ErrDuplicate")
			}
		})
	}
}
