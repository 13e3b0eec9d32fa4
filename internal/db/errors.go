package db

import (
	"errors"
	"fmt"
	"strings"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

var (
	// ErrNotFound is returned when a lookup or single-row write matches no row.
	ErrNotFound = errors.New("record not found")

	// ErrUniqueViolation is matched (via errors.Is) by a ConstraintError for a UNIQUE or PRIMARY KEY column.
	ErrUniqueViolation = errors.New("unique constraint violated")

	// ErrForeignKeyViolation is matched (via errors.Is) by a ConstraintError for a foreign key.
	ErrForeignKeyViolation = errors.New("foreign key constraint violated")
)

// ConstraintError reports a write rejected by a schema constraint.
type ConstraintError struct {
	Kind   error  // ErrUniqueViolation or ErrForeignKeyViolation
	Column string // table.column for unique violations, e.g. "notes.title"
	Err    error
}

func (e *ConstraintError) Error() string {
	if e.Column != "" {
		return fmt.Sprintf("%v: %s", e.Kind, e.Column)
	}
	return e.Kind.Error()
}

func (e *ConstraintError) Is(target error) bool {
	return target == e.Kind
}

func (e *ConstraintError) Unwrap() error {
	return e.Err
}

// IsUniqueViolation reports whether err is a unique violation on column
// ("table.column"). An empty column matches any unique violation.
func IsUniqueViolation(err error, column string) bool {
	var ce *ConstraintError
	if !errors.As(err, &ce) || ce.Kind != ErrUniqueViolation {
		return false
	}
	return column == "" || ce.Column == column
}

// classifyWriteError turns SQLite constraint failures into ConstraintError.
// Other errors are returned unchanged.
func classifyWriteError(err error) error {
	if err == nil {
		return nil
	}
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) || sqliteErr.Code != sqlite3.ErrConstraint {
		return err
	}
	switch sqliteErr.ExtendedCode {
	case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
		return &ConstraintError{
			Kind:   ErrUniqueViolation,
			Column: uniqueColumn(sqliteErr.Error()),
			Err:    err,
		}
	case sqlite3.ErrConstraintForeignKey:
		return &ConstraintError{Kind: ErrForeignKeyViolation, Err: err}
	default:
		return err
	}
}

// uniqueColumn extracts "notes.title" from "UNIQUE constraint failed: notes.title".
func uniqueColumn(msg string) string {
	const marker = "constraint failed: "
	idx := strings.Index(msg, marker)
	if idx < 0 {
		return ""
	}
	column := msg[idx+len(marker):]
	// Composite keys are reported as "t.a, t.b"; keep the first.
	if comma := strings.IndexByte(column, ','); comma >= 0 {
		column = column[:comma]
	}
	return strings.TrimSpace(column)
}
