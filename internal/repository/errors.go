// Package repository holds the MySQL data access layer. Repositories
// return the sentinel errors below so services can tell "missing" from
// "conflicting" without inspecting driver errors.
package repository

import (
	"errors"
	"strings"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

// ErrConflict is returned when a write collides with existing state,
// such as a second participant claiming the same slot.
var ErrConflict = errors.New("conflict")

// isDuplicate reports whether err is a MySQL duplicate-key error (1062).
func isDuplicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "1062")
}
