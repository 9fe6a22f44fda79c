// Package apperrors holds the sentinel error taxonomy (spec.md §7) shared
// across store, migration, graph, auth, and dispatch so that a caller three
// layers up can still errors.Is/errors.As against the original cause.
package apperrors

import "errors"

var (
	ErrUnauthorized        = errors.New("unauthorized")
	ErrBadRequest          = errors.New("bad request")
	ErrNotFound            = errors.New("not found")
	ErrConflict            = errors.New("conflict")
	ErrDependencyNotMet    = errors.New("dependency not met")
	ErrPhaseClosed         = errors.New("phase closed")
	ErrMigrationInProgress = errors.New("migration in progress")
	ErrLockExhausted       = errors.New("lock retries exhausted")
	ErrLockTimeout         = errors.New("lock acquire timed out")
	ErrMigrationFailed     = errors.New("migration failed")
	ErrInternal            = errors.New("internal error")
)
