// Package ids generates and compares record identifiers.
package ids

import (
	"strings"

	"github.com/google/uuid"
)

// New returns a fresh record identifier.
func New() string {
	return uuid.New().String()
}

// Canonical returns the canonical string form of id. UUIDs in any accepted
// spelling (upper case, braces, urn prefix) collapse to the lowercase hyphenated
// form; anything else is only trimmed.
func Canonical(id string) string {
	trimmed := strings.TrimSpace(id)
	if parsed, err := uuid.Parse(trimmed); err == nil {
		return parsed.String()
	}
	return trimmed
}

// Equal reports whether a and b name the same record.
func Equal(a, b string) bool {
	return Canonical(a) == Canonical(b)
}
