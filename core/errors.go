package core

import (
	"errors"
	"fmt"
)

// Sentinel errors for the backend's failure taxonomy. Services wrap these
// with fmt.Errorf("...: %w", ...) so callers can branch with errors.Is.
var (
	// ErrValidation marks unsupported document types/languages and
	// malformed chunking configuration. Never retried automatically.
	ErrValidation = errors.New("validation error")

	// ErrIndex marks embedding dimension mismatches and corrupt snapshots.
	// The index stays in its last-known-good state.
	ErrIndex = errors.New("index error")

	// ErrStorage marks persistence read/write failures. In-memory state may
	// still serve reads, but is not durable until persistence succeeds.
	ErrStorage = errors.New("storage error")

	// ErrContextOverflow means the mandatory prompt content alone exceeds
	// the configured budget. Surfaced to the caller, never silently truncated.
	ErrContextOverflow = errors.New("context overflow")

	// ErrGeneration marks a failed or timed-out generation call.
	ErrGeneration = errors.New("generation error")
)

// GenerationErrorKind distinguishes failures worth retrying from ones that
// are not. The core never retries on its own; the caller decides.
type GenerationErrorKind int

const (
	// GenerationTransient covers timeouts and upstream 5xx responses.
	GenerationTransient GenerationErrorKind = iota

	// GenerationPermanent covers invalid requests; retrying is pointless.
	GenerationPermanent
)

// GenerationError wraps a generation-capability failure with its kind.
type GenerationError struct {
	Kind GenerationErrorKind
	Err  error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("generation failed: %v", e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, core.ErrGeneration) match any GenerationError.
func (e *GenerationError) Is(target error) bool { return target == ErrGeneration }

// NewGenerationError builds a GenerationError of the given kind.
func NewGenerationError(kind GenerationErrorKind, err error) *GenerationError {
	return &GenerationError{Kind: kind, Err: err}
}
