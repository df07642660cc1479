package db

import "strings"

// IsUniqueViolation reports whether the provided error references a unique
// violation. Constraint names narrow the match to specific indexes; SQLite's
// wording is accepted too so repo tests behave like production.
func IsUniqueViolation(err error, constraintNames ...string) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	if !strings.Contains(msg, "duplicate key value") &&
		!strings.Contains(msg, "UNIQUE constraint failed") {
		return false
	}
	filtered := false
	for _, name := range constraintNames {
		if name == "" {
			continue
		}
		filtered = true
		if strings.Contains(msg, name) {
			return true
		}
	}
	return !filtered
}
