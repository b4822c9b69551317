package service

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"go-user-directory/internal/domain"
	"go-user-directory/internal/policy"
)

var (
	adminIdent = domain.Identity{ID: uuid.NewString(), Username: "root", Roles: []domain.Role{domain.RoleAdmin}}
	userIdent  = domain.Identity{ID: uuid.NewString(), Username: "joe", Roles: []domain.Role{domain.RoleUser}}
	modIdent   = domain.Identity{ID: uuid.NewString(), Username: "mod", Roles: []domain.Role{domain.RoleModerator, domain.RoleGuest}}
)

func mustCreate(t *testing.T, s *UserService, name string) string {
	t.Helper()
	out, err := s.Create(context.Background(), CreateInput{Username: name, Email: name + "@example.com", Password: "secret1"})
	if err != nil {
		t.Fatalf("create %s: %v", name, err)
	}
	return out.ID
}

func wantKind(t *testing.T, err error, kind domain.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %v error, got nil", kind)
	}
	if got := domain.KindOf(err); got != kind {
		t.Fatalf("kind = %v, want %v (err=%v)", got, kind, err)
	}
}

func TestCreateGeneratesPassword(t *testing.T) {
	s, r, _ := newTestUserService()
	out, err := s.Create(context.Background(), CreateInput{Username: "alice", Email: "alice@example.com"})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if !regexp.MustCompile(`^[A-Za-z0-9]{6}$`).MatchString(out.Password) {
		t.Fatalf("generated password %q is not 6 alphanumerics", out.Password)
	}
	stored := r.users[out.ID]
	if stored.Password == out.Password {
		t.Fatal("password stored in clear")
	}
	if !s.pw.Verify(context.Background(), out.Password, stored.Password) {
		t.Fatal("stored hash does not verify against the returned password")
	}
	if len(out.Roles) != 1 || out.Roles[0] != domain.RoleUser {
		t.Fatalf("default roles = %v", out.Roles)
	}
}

func TestCreateEchoesSuppliedPasswordAndCreator(t *testing.T) {
	s, _, _ := newTestUserService()
	creator := mustCreate(t, s, "creator")
	out, err := s.Create(context.Background(), CreateInput{
		Username: "bob", Email: "bob@example.com", Password: "hunter22",
		Roles: []domain.Role{domain.RoleModerator, domain.RoleModerator}, CreatedByID: &creator,
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if out.Password != "hunter22" {
		t.Fatalf("password = %q", out.Password)
	}
	if len(out.Roles) != 1 {
		t.Fatalf("roles not deduplicated: %v", out.Roles)
	}
	if out.CreatedBy == nil || out.CreatedBy.Username != "creator" {
		t.Fatalf("createdBy = %+v", out.CreatedBy)
	}
}

func TestCreateConflicts(t *testing.T) {
	s, _, _ := newTestUserService()
	mustCreate(t, s, "bob")

	_, err := s.Create(context.Background(), CreateInput{Username: "bob", Email: "other@example.com"})
	wantKind(t, err, domain.KindConflict)
	var de *domain.Error
	if !errors.As(err, &de) || de.Field != "username" {
		t.Fatalf("conflict field = %+v", de)
	}

	_, err = s.Create(context.Background(), CreateInput{Username: "bobby", Email: "bob@example.com"})
	if !errors.As(err, &de) || de.Field != "email" {
		t.Fatalf("conflict field = %+v", de)
	}
}

func TestCreateValidation(t *testing.T) {
	s, _, _ := newTestUserService()
	_, err := s.Create(context.Background(), CreateInput{Username: " ", Email: "x@example.com"})
	wantKind(t, err, domain.KindBadRequest)
	_, err = s.Create(context.Background(), CreateInput{Username: "x", Email: "x@example.com", Roles: []domain.Role{"root"}})
	wantKind(t, err, domain.KindBadRequest)
	bad := "nope"
	_, err = s.Create(context.Background(), CreateInput{Username: "x", Email: "x@example.com", CreatedByID: &bad})
	wantKind(t, err, domain.KindBadRequest)
}

func TestVisibilityOfDisabledRecords(t *testing.T) {
	s, _, _ := newTestUserService()
	ctx := context.Background()
	id := mustCreate(t, s, "bob")
	if _, err := s.Remove(ctx, id, adminIdent); err != nil {
		t.Fatalf("Remove: %v", err)
	}

	for _, ident := range []domain.Identity{userIdent, modIdent} {
		_, err := s.FindOne(ctx, id, ident)
		wantKind(t, err, domain.KindNotFound)
		_, err = s.FindByUsername(ctx, "bob", ident)
		wantKind(t, err, domain.KindNotFound)
		_, err = s.FindOneWithSummary(ctx, id, ident)
		wantKind(t, err, domain.KindNotFound)
	}

	got, err := s.FindOne(ctx, id, adminIdent)
	if err != nil || got.DeletedAt == nil {
		t.Fatalf("admin FindOne = %+v, %v", got, err)
	}
	if _, err := s.FindByUsername(ctx, "bob", adminIdent); err != nil {
		t.Fatalf("admin FindByUsername: %v", err)
	}
	if sum, err := s.FindOneWithSummary(ctx, id, adminIdent); err != nil || sum.Username != "bob" {
		t.Fatalf("admin FindOneWithSummary = %+v, %v", sum, err)
	}

	// an admin-populated cache entry must not leak to a non-admin
	_, err = s.FindOne(ctx, id, userIdent)
	wantKind(t, err, domain.KindNotFound)
}

func TestRemoveRestoreStateMachine(t *testing.T) {
	s, r, _ := newTestUserService()
	ctx := context.Background()
	id := mustCreate(t, s, "bob")

	_, err := s.Restore(ctx, id, adminIdent)
	wantKind(t, err, domain.KindConflict)
	if !errors.Is(err, domain.ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}

	out, err := s.Remove(ctx, id, userIdent)
	if err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if out.DeletedAt == nil {
		t.Fatalf("remove response = %+v", out)
	}
	if *r.users[id].DeletedByID != userIdent.ID {
		t.Fatal("deletedBy not stamped with the caller")
	}

	_, err = s.Remove(ctx, id, userIdent)
	if !errors.Is(err, domain.ErrAlreadyDisabled) {
		t.Fatalf("expected ErrAlreadyDisabled, got %v", err)
	}

	out, err = s.Restore(ctx, id, adminIdent)
	if err != nil {
		t.Fatalf("Restore: %v", err)
	}
	if out.DeletedAt != nil || out.DeletedBy != nil {
		t.Fatalf("restore response still disabled: %+v", out)
	}
	if *r.users[id].UpdatedByID != adminIdent.ID {
		t.Fatal("updatedBy not stamped on restore")
	}

	_, err = s.Restore(ctx, id, adminIdent)
	if !errors.Is(err, domain.ErrAlreadyEnabled) {
		t.Fatalf("expected ErrAlreadyEnabled, got %v", err)
	}

	_, err = s.Remove(ctx, uuid.NewString(), adminIdent)
	wantKind(t, err, domain.KindNotFound)
	_, err = s.Remove(ctx, "not-a-uuid", adminIdent)
	wantKind(t, err, domain.KindBadRequest)
	_, err = s.Remove(ctx, id, domain.Identity{})
	wantKind(t, err, domain.KindUnauthorized)
}

func TestFindAllPagination(t *testing.T) {
	s, _, _ := newTestUserService()
	ctx := context.Background()
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 25; i++ {
		at := start.Add(time.Duration(i) * time.Minute)
		s.Now = func() time.Time { return at }
		mustCreate(t, s, fmt.Sprintf("user%02d", i))
	}

	page, err := s.FindAll(ctx, Pagination{Page: 3, Limit: 10}, userIdent)
	if err != nil {
		t.Fatalf("FindAll: %v", err)
	}
	if page.Meta.Total != 25 || page.Meta.LastPage != 3 || page.Meta.Page != 3 {
		t.Fatalf("meta = %+v", page.Meta)
	}
	if len(page.Data) != 5 || page.Data[0].Username != "user04" || page.Data[4].Username != "user00" {
		t.Fatalf("page 3 = %d items starting at %s", len(page.Data), page.Data[0].Username)
	}

	_, err = s.FindAll(ctx, Pagination{Page: 0, Limit: 10}, userIdent)
	wantKind(t, err, domain.KindBadRequest)
	_, err = s.FindAll(ctx, Pagination{Page: 1, Limit: 0}, userIdent)
	wantKind(t, err, domain.KindBadRequest)
}

func TestFindAllHidesDisabledFromNonAdmins(t *testing.T) {
	s, _, _ := newTestUserService()
	ctx := context.Background()
	a := mustCreate(t, s, "a")
	mustCreate(t, s, "b")
	_, _ = s.Remove(ctx, a, adminIdent)

	p, _ := s.FindAll(ctx, Pagination{Page: 1, Limit: 10}, userIdent)
	if p.Meta.Total != 1 {
		t.Fatalf("non-admin total = %d, want 1", p.Meta.Total)
	}
	p, _ = s.FindAll(ctx, Pagination{Page: 1, Limit: 10}, adminIdent)
	if p.Meta.Total != 2 {
		t.Fatalf("admin total = %d, want 2", p.Meta.Total)
	}
}

func TestFindAllIsNotCached(t *testing.T) {
	s, _, c := newTestUserService()
	mustCreate(t, s, "a")
	_, _ = s.FindAll(context.Background(), Pagination{Page: 1, Limit: 10}, userIdent)
	if k := c.keys(); k != "" {
		t.Fatalf("list results cached under %q", k)
	}
}

func TestFindOneIsCached(t *testing.T) {
	s, r, c := newTestUserService()
	ctx := context.Background()
	id := mustCreate(t, s, "bob")

	before := r.calls
	for i := 0; i < 3; i++ {
		if _, err := s.FindOne(ctx, id, userIdent); err != nil {
			t.Fatal(err)
		}
	}
	if r.calls-before != 1 {
		t.Fatalf("store hit %d times, want 1", r.calls-before)
	}
	if k := c.keys(); k != "user:id:"+id+":active" {
		t.Fatalf("cache keys = %q", k)
	}

	_, err := s.FindOne(ctx, "bad", userIdent)
	wantKind(t, err, domain.KindBadRequest)
	_, err = s.FindOne(ctx, uuid.NewString(), userIdent)
	wantKind(t, err, domain.KindNotFound)
}

func TestUpdateInvalidatesCache(t *testing.T) {
	s, _, c := newTestUserService()
	ctx := context.Background()
	id := mustCreate(t, s, "bob")

	if _, err := s.FindOne(ctx, id, userIdent); err != nil {
		t.Fatal(err)
	}
	newName := "robert"
	out, err := s.Update(ctx, UpdateInput{ID: id, Username: &newName}, userIdent)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if out.Username != "robert" {
		t.Fatalf("update response = %+v", out)
	}
	got, err := s.FindOne(ctx, id, userIdent)
	if err != nil || got.Username != "robert" {
		t.Fatalf("read after update returned %q, %v", got.Username, err)
	}
	if c.invalidated < 2 {
		t.Fatalf("invalidations = %d, want create+update", c.invalidated)
	}
}

func TestUpdatePasswordAndConflicts(t *testing.T) {
	s, r, _ := newTestUserService()
	ctx := context.Background()
	id := mustCreate(t, s, "bob")
	mustCreate(t, s, "carol")

	pw := "changed1"
	if _, err := s.Update(ctx, UpdateInput{ID: id, Password: &pw}, adminIdent); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if !s.pw.Verify(ctx, pw, r.users[id].Password) {
		t.Fatal("updated password not hashed/stored")
	}

	taken := "carol@example.com"
	_, err := s.Update(ctx, UpdateInput{ID: id, Email: &taken}, adminIdent)
	var de *domain.Error
	if !errors.As(err, &de) || de.Kind != domain.KindConflict || de.Field != "email" {
		t.Fatalf("expected email conflict, got %v", err)
	}

	_, _ = s.Remove(ctx, id, adminIdent)
	name := "x"
	_, err = s.Update(ctx, UpdateInput{ID: id, Username: &name}, userIdent)
	wantKind(t, err, domain.KindNotFound)
}

func TestFindByIDsSkipsVisibilityFilter(t *testing.T) {
	s, _, c := newTestUserService()
	ctx := context.Background()
	a := mustCreate(t, s, "a")
	b := mustCreate(t, s, "b")
	_, _ = s.Remove(ctx, b, adminIdent)

	got, err := s.FindByIDs(ctx, []string{b, a}, userIdent)
	if err != nil {
		t.Fatalf("FindByIDs: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("len = %d, want 2", len(got))
	}
	if _, err := s.FindByIDs(ctx, []string{a, "bad"}, userIdent); domain.KindOf(err) != domain.KindBadRequest {
		t.Fatalf("expected BadRequest, got %v", err)
	}
	if c.keys() == "" {
		t.Fatal("batch lookup should be cached")
	}
}

func TestStoreErrorsBecomeBadRequest(t *testing.T) {
	s, r, _ := newTestUserService()
	r.findErr = errors.New("connection reset")
	_, err := s.FindOne(context.Background(), uuid.NewString(), userIdent)
	wantKind(t, err, domain.KindBadRequest)
	if err.Error() != "failed to fetch user" {
		t.Fatalf("store detail leaked: %v", err)
	}
}

func TestPasswordLimitCountsBytes(t *testing.T) {
	s, _, _ := newTestUserService()
	ctx := context.Background()
	// two bytes per rune: 36 runes fit, 37 runes are 74 bytes
	fits := strings.Repeat("é", 36)
	tooLong := strings.Repeat("é", 37)

	out, err := s.Create(ctx, CreateInput{Username: "carol", Email: "carol@example.com", Password: fits})
	if err != nil {
		t.Fatalf("72-byte password: %v", err)
	}
	if !s.pw.Verify(ctx, fits, mustStored(t, s, out.ID)) {
		t.Fatal("multibyte password does not verify")
	}

	_, err = s.Create(ctx, CreateInput{Username: "dave", Email: "dave@example.com", Password: tooLong})
	wantKind(t, err, domain.KindBadRequest)
	if !strings.Contains(err.Error(), "72 bytes") {
		t.Fatalf("message = %q", err.Error())
	}

	_, err = s.Update(ctx, UpdateInput{ID: out.ID, Password: &tooLong}, adminIdent)
	wantKind(t, err, domain.KindBadRequest)
}

func mustStored(t *testing.T, s *UserService, id string) string {
	t.Helper()
	u, err := s.repo.FindByID(context.Background(), id, policy.Unfiltered(), false)
	if err != nil || u == nil {
		t.Fatalf("stored %s: %v", id, err)
	}
	return u.Password
}
