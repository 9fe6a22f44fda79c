package dispatch

import (
	"errors"

	"github.com/agent-mcp/agent-mcp/internal/apperrors"
)

// Sentinel errors for the taxonomy in spec.md §7, shared via internal/apperrors
// so store/migration/graph/auth errors survive unwrapped up to the dispatcher.
// Callers wrap these with fmt.Errorf("%w: ...") for context, matching the
// teacher's %w convention.
var (
	ErrUnauthorized        = apperrors.ErrUnauthorized
	ErrBadRequest          = apperrors.ErrBadRequest
	ErrNotFound            = apperrors.ErrNotFound
	ErrConflict            = apperrors.ErrConflict
	ErrDependencyNotMet    = apperrors.ErrDependencyNotMet
	ErrPhaseClosed         = apperrors.ErrPhaseClosed
	ErrMigrationInProgress = apperrors.ErrMigrationInProgress
	ErrLockExhausted       = apperrors.ErrLockExhausted
	ErrLockTimeout         = apperrors.ErrLockTimeout
	ErrMigrationFailed     = apperrors.ErrMigrationFailed
	ErrInternal            = apperrors.ErrInternal

	// Registry-level errors, adapted from the teacher's internal/tools/errors.go.
	ErrToolNotFound          = errors.New("tool not found")
	ErrToolNameEmpty         = errors.New("tool name cannot be empty")
	ErrToolExecuteNil        = errors.New("tool execute function cannot be nil")
	ErrToolAlreadyRegistered = errors.New("tool already registered")
	ErrMissingRequiredArg    = errors.New("missing required argument")
	ErrInvalidArgType        = errors.New("invalid argument type")
)
