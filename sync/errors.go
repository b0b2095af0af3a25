package sync

import (
	"errors"
	"fmt"
)

// Errors surfaced by a Provider. Implementations wrap one of these so the
// engines can decide, with errors.Is, whether to abort or skip.
var (
	// ErrUnauthorized aborts the whole run: no later call can succeed.
	ErrUnauthorized = errors.New("remote: unauthorized")

	// ErrNotFound skips the affected node or record.
	ErrNotFound = errors.New("remote: not found")

	// ErrTransient skips the affected record for this pass only.
	ErrTransient = errors.New("remote: transient failure")

	// ErrInvariant reports an index constraint violation. It indicates a
	// logic bug, not a runtime condition.
	ErrInvariant = errors.New("index: invariant violated")
)

// LocalIOError wraps a local filesystem failure for a single record.
type LocalIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *LocalIOError) Error() string {
	return fmt.Sprintf("local %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *LocalIOError) Unwrap() error { return e.Err }

func localErr(op, path string, err error) error {
	if err == nil {
		return nil
	}
	return &LocalIOError{Op: op, Path: path, Err: err}
}
