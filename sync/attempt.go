package sync

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	gosync "sync"

	"github.com/marusama/semaphore/v2"
)

// errSkipped marks a record that needed no work (for example a remote item
// without a hash yet). It is not a failure.
var errSkipped = errors.New("skipped")

// Outcome is the classified result of one per-record attempt.
type Outcome int

const (
	OutcomeOK Outcome = iota
	OutcomeSkipped
	OutcomeFailed
	OutcomeAbort
	OutcomeInterrupted
)

func (o Outcome) String() string {
	switch o {
	case OutcomeOK:
		return "ok"
	case OutcomeSkipped:
		return "skipped"
	case OutcomeFailed:
		return "failed"
	case OutcomeAbort:
		return "abort"
	case OutcomeInterrupted:
		return "interrupted"
	}
	return "unknown"
}

// Failure is one per-record failure kept in a Report.
type Failure struct {
	Path  string `json:"path"`
	Error string `json:"error"`
}

// Report summarizes one batch operation.
type Report struct {
	Op           string    `json:"op"`
	Selected     int       `json:"selected"`
	Succeeded    int       `json:"succeeded"`
	Failed       int       `json:"failed"`
	Skipped      int       `json:"skipped"`
	NotAttempted int       `json:"notAttempted"`
	Failures     []Failure `json:"failures,omitempty"`
}

func (r *Report) String() string {
	return fmt.Sprintf("%s: selected=%d succeeded=%d failed=%d skipped=%d",
		r.Op, r.Selected, r.Succeeded, r.Failed, r.Skipped)
}

// classify maps an error to the uniform skip/abort policy.
func classify(ctx context.Context, err error) Outcome {
	switch {
	case err == nil:
		return OutcomeOK
	case errors.Is(err, errSkipped):
		return OutcomeSkipped
	case errors.Is(err, ErrUnauthorized):
		return OutcomeAbort
	case ctx.Err() != nil && errors.Is(err, context.Canceled):
		return OutcomeInterrupted
	}
	return OutcomeFailed
}

// expected reports whether a failure belongs to the known taxonomy. Other
// failures are logged with a stack trace.
func expected(err error) bool {
	var lerr *LocalIOError
	return errors.Is(err, ErrNotFound) ||
		errors.Is(err, ErrTransient) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.As(err, &lerr)
}

// attempt runs fn for a single record and classifies the result. Panics are
// recovered and reported as unexpected failures.
func attempt(ctx context.Context, op, path string, fn func() error) (out Outcome, err error) {
	l := sub(op)
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
			out = OutcomeFailed
			l.Error("unexpected panic", "path", path, "err", err, "stack", string(debug.Stack()))
		}
	}()

	err = fn()
	out = classify(ctx, err)
	switch out {
	case OutcomeFailed:
		if expected(err) {
			l.Warn("record failed", "path", path, "err", err)
		} else if errors.Is(err, ErrInvariant) {
			l.Error("index invariant violated", "path", path, "err", err, "stack", string(debug.Stack()))
		} else {
			l.Error("unexpected failure", "path", path, "err", err, "stack", string(debug.Stack()))
		}
	case OutcomeAbort:
		l.Error("aborting run", "path", path, "err", err)
	case OutcomeSkipped:
		l.Debug("record skipped", "path", path, "reason", err)
	}
	recordOutcome(op, out)
	return out, err
}

type tally struct {
	mu     gosync.Mutex
	report Report
}

func (t *tally) add(path string, out Outcome, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	switch out {
	case OutcomeOK:
		t.report.Succeeded++
	case OutcomeSkipped:
		t.report.Skipped++
	case OutcomeFailed, OutcomeAbort:
		t.report.Failed++
		t.report.Failures = append(t.report.Failures, Failure{Path: path, Error: err.Error()})
	}
}

// runBatch attempts fn once per record through a bounded worker pool.
// Per-record failures never stop the batch; ErrUnauthorized cancels the
// remaining work and is returned.
func runBatch(ctx context.Context, op string, recs []IndexRecord, workers int, events *EventBus, fn func(context.Context, IndexRecord) error) (*Report, error) {
	l := sub(op)
	if workers < 1 {
		workers = 1
	}
	l.Info("batch starting", "selected", len(recs), "workers", workers)

	bctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	sem := semaphore.New(workers)
	var wg gosync.WaitGroup
	t := &tally{report: Report{Op: op, Selected: len(recs)}}

	for _, rec := range recs {
		if err := sem.Acquire(bctx, 1); err != nil {
			break
		}
		if bctx.Err() != nil {
			sem.Release(1)
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			out, err := attempt(bctx, op, rec.Path, func() error { return fn(bctx, rec) })
			t.add(rec.Path, out, err)
			events.Publish(Event{Type: "record", Op: op, Path: rec.Path, Outcome: out.String(), Error: errString(err)})
			if out == OutcomeAbort {
				cancel(err)
			}
		}()
	}
	wg.Wait()

	rep := t.report
	rep.NotAttempted = rep.Selected - rep.Succeeded - rep.Failed - rep.Skipped
	events.Publish(Event{Type: "batch", Op: op, Report: &rep})

	if cause := context.Cause(bctx); cause != nil && errors.Is(cause, ErrUnauthorized) {
		l.Error("batch aborted", "report", rep.String(), "err", cause)
		return &rep, fmt.Errorf("%s aborted: %w", op, cause)
	}
	if err := ctx.Err(); err != nil {
		l.Warn("batch interrupted", "report", rep.String(), "notAttempted", rep.NotAttempted)
		return &rep, err
	}
	l.Info("batch complete", "succeeded", rep.Succeeded, "failed", rep.Failed, "skipped", rep.Skipped)
	return &rep, nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
