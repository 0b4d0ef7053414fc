package services

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/campuspulse/console/internal/storage"
)

// ErrInvalidTransition is returned when an admin action is not legal from the
// entity's current state.
var ErrInvalidTransition = errors.New("invalid state transition")

// ValidationError is returned before any write when input is malformed or out
// of range. Fields maps the offending field to a readable message.
type ValidationError struct {
	Fields map[string]string
}

func NewValidationError(fields map[string]string) *ValidationError {
	return &ValidationError{Fields: fields}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// NotFoundError names the entity that was referenced but does not exist.
type NotFoundError struct {
	Kind string
	ID   string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %q not found", e.Kind, e.ID)
}

func (e *NotFoundError) Is(target error) bool {
	return target == storage.ErrNotFound
}

// notFoundOr converts a storage not-found into a NotFoundError and wraps
// everything else with op.
func notFoundOr(err error, kind, id, op string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return &NotFoundError{Kind: kind, ID: id}
	}
	return fmt.Errorf("%s: %w", op, err)
}

// IsTransient reports whether err came from an unavailable backend and the
// call is safe to retry.
func IsTransient(err error) bool {
	return errors.Is(err, storage.ErrUnavailable)
}

// ChunkFailure is one failed chunk of a chunked batch operation.
type ChunkFailure struct {
	Index int      `json:"index"`
	IDs   []string `json:"ids"`
	Err   error    `json:"-"`
}

// PartialBatchError lists the chunks of a batched operation that failed. The
// chunks that succeeded are already applied.
type PartialBatchError struct {
	Op       string
	Total    int
	Failures []ChunkFailure
}

func (e *PartialBatchError) Error() string {
	parts := make([]string, 0, len(e.Failures))
	for _, f := range e.Failures {
		parts = append(parts, fmt.Sprintf("chunk %d %v: %v", f.Index, f.IDs, f.Err))
	}
	return fmt.Sprintf("%s: %d of %d chunks failed: %s", e.Op, len(e.Failures), e.Total, strings.Join(parts, "; "))
}

// FailedIDs flattens the ids of every failed chunk.
func (e *PartialBatchError) FailedIDs() []string {
	out := make([]string, 0)
	for _, f := range e.Failures {
		out = append(out, f.IDs...)
	}
	return out
}

// StepError records which step of an ordered multi-step flow failed, and
// which steps had already been applied before it.
type StepError struct {
	Step      string
	Completed []string
	Err       error
}

func (e *StepError) Error() string {
	if len(e.Completed) == 0 {
		return fmt.Sprintf("step %s failed: %v", e.Step, e.Err)
	}
	return fmt.Sprintf("step %s failed after [%s]: %v", e.Step, strings.Join(e.Completed, ", "), e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
