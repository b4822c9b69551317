package repo

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"
)

var ErrDuplicate = errors.New("duplicate key")

// DuplicateError reports which unique column rejected a write.
type DuplicateError struct {
	Field string
	Err   error
}

func (e *DuplicateError) Error() string {
	if e.Field == "" {
		return "duplicate key"
	}
	return fmt.Sprintf("duplicate %s", e.Field)
}

func (e *DuplicateError) Unwrap() []error { return []error{ErrDuplicate, e.Err} }

var uniqueColumns = []string{"username", "email"}

// classify turns driver uniqueness violations into *DuplicateError and leaves
// everything else untouched. The field is read from the constraint or key name
// only; driver text also echoes the rejected value, which can contain a column name.
func classify(err error) error {
	if err == nil {
		return nil
	}
	var name string
	var pgErr *pgconn.PgError
	var myErr *mysql.MySQLError
	switch {
	case errors.As(err, &pgErr):
		if pgErr.Code != "23505" {
			return err
		}
		name = pgErr.ConstraintName
		if name == "" {
			name = between(pgErr.Detail, "Key (", ")=")
		}
	case errors.As(err, &myErr):
		if myErr.Number != 1062 {
			return err
		}
		name = after(myErr.Message, " for key ")
	case errors.Is(err, gorm.ErrDuplicatedKey) || isDupKey(err):
		msg := err.Error()
		switch {
		case strings.Contains(msg, " for key "):
			name = after(msg, " for key ")
		case strings.Contains(msg, "constraint failed:"):
			name = after(msg, "constraint failed:")
		default:
			name = between(msg, "constraint \"", "\"")
		}
	default:
		return err
	}
	return &DuplicateError{Field: columnOf(name), Err: err}
}

// columnOf finds the unique column named by a constraint such as
// idx_users_email, users_username_key or users.email.
func columnOf(name string) string {
	parts := strings.FieldsFunc(strings.ToLower(name), func(r rune) bool {
		return !(r >= 'a' && r <= 'z' || r >= '0' && r <= '9')
	})
	for _, col := range uniqueColumns {
		for _, p := range parts {
			if p == col {
				return col
			}
		}
	}
	return ""
}

// after returns what follows the last sep; names trail the echoed value.
func after(s, sep string) string {
	if i := strings.LastIndex(s, sep); i >= 0 {
		return s[i+len(sep):]
	}
	return ""
}

func between(s, start, end string) string {
	_, rest, ok := strings.Cut(s, start)
	if !ok {
		return ""
	}
	v, _, _ := strings.Cut(rest, end)
	return v
}

func isDupKey(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate") ||
		strings.Contains(msg, "unique constraint") ||
		strings.Contains(msg, "unique violation")
}
