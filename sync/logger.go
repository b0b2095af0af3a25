package sync

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	gosync "sync"
	"sync/atomic"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// logger is the package-level structured logger for all mirror operations.
// Defaults to a no-op (discard) handler until InitLogger is called.
var logger *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))

// auditBase receives the operational log: one line per remote call and
// per index mutation. Nothing reads it back. auditLogger is auditBase
// tagged with the current run id.
var (
	auditBase   *slog.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	auditLogger atomic.Pointer[slog.Logger]
)

func init() {
	auditLogger.Store(auditBase)
}

// LogConfig configures InitLogger.
type LogConfig struct {
	Dir   string // empty disables file output
	Level string // console level: debug, info, warn, error
}

// InitLogger configures the package loggers.
// Console output: INFO→stdout (or the configured level), WARN/ERROR→stderr.
// If Dir is non-empty, also writes level-split log files and the audit log:
//   - mirror_warn.log: WARN + ERROR
//   - mirror_info.log: INFO only (1MB, 1 backup)
//   - mirror_debug.log: DEBUG only (1MB, 1 backup)
//   - mirror_audit.log: remote calls and index mutations (10MB, 5 backups)
func InitLogger(cfg LogConfig) {
	level := parseLevel(cfg.Level)
	console := &consoleHandler{
		min:    level,
		stdout: slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: level}),
		stderr: slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}),
	}
	errCapture := &errorCaptureHandler{}

	handlers := []slog.Handler{console, errCapture}

	if cfg.Dir != "" {
		os.MkdirAll(cfg.Dir, 0750) //nolint:errcheck

		warnFile := slog.NewTextHandler(&lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "mirror_warn.log"),
			MaxSize:    1000,
			MaxBackups: 3,
		}, &slog.HandlerOptions{Level: slog.LevelWarn})

		infoFile := &levelRangeHandler{
			min: slog.LevelInfo,
			max: slog.LevelInfo,
			inner: slog.NewTextHandler(&lumberjack.Logger{
				Filename:   filepath.Join(cfg.Dir, "mirror_info.log"),
				MaxSize:    1,
				MaxBackups: 1,
			}, &slog.HandlerOptions{Level: slog.LevelInfo}),
		}

		debugFile := &levelRangeHandler{
			min: slog.LevelDebug,
			max: slog.LevelDebug,
			inner: slog.NewTextHandler(&lumberjack.Logger{
				Filename:   filepath.Join(cfg.Dir, "mirror_debug.log"),
				MaxSize:    1,
				MaxBackups: 1,
			}, &slog.HandlerOptions{Level: slog.LevelDebug}),
		}

		handlers = append(handlers, warnFile, infoFile, debugFile)

		auditBase = slog.New(slog.NewTextHandler(&lumberjack.Logger{
			Filename:   filepath.Join(cfg.Dir, "mirror_audit.log"),
			MaxSize:    10,
			MaxBackups: 5,
		}, &slog.HandlerOptions{Level: slog.LevelInfo}))
		auditLogger.Store(auditBase)
	}

	logger = slog.New(&multiHandler{handlers: handlers})
}

// SetRunID tags every subsequent audit line with the given run id.
func SetRunID(id string) {
	auditLogger.Store(auditBase.With("run", id))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}

// auditRemote records one remote call.
func auditRemote(url string, status, count int) {
	auditLogger.Load().Info("remote", "url", url, "status", status, "count", count)
	if logEnabled(slog.LevelDebug) {
		sub("audit").Debug("remote", "url", url, "status", status, "count", count)
	}
}

// AuditRemote lets providers outside this package write remote calls to the
// audit log.
func AuditRemote(url string, status, count int) { auditRemote(url, status, count) }

// auditMutation records one index mutation.
func auditMutation(op, path, value string) {
	auditLogger.Load().Info("mutation", "op", op, "path", path, "value", value)
	if logEnabled(slog.LevelDebug) {
		sub("audit").Debug("mutation", "op", op, "path", path, "value", value)
	}
}

// sub returns a child logger tagged with the given component name.
func sub(component string) *slog.Logger {
	return logger.With("comp", component)
}

// Logger returns a component logger for packages outside sync.
func Logger(component string) *slog.Logger { return sub(component) }

// logEnabled reports whether the given log level is enabled.
// Use this to guard expensive DEBUG logging in hot paths.
func logEnabled(level slog.Level) bool {
	return logger.Enabled(context.Background(), level)
}

// --- consoleHandler: routes below-WARN→stdout, WARN+→stderr ---

type consoleHandler struct {
	min    slog.Level
	stdout slog.Handler
	stderr slog.Handler
}

func (h *consoleHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min
}

func (h *consoleHandler) Handle(ctx context.Context, r slog.Record) error {
	if r.Level >= slog.LevelWarn {
		return h.stderr.Handle(ctx, r)
	}
	return h.stdout.Handle(ctx, r)
}

func (h *consoleHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &consoleHandler{
		min:    h.min,
		stdout: h.stdout.WithAttrs(attrs),
		stderr: h.stderr.WithAttrs(attrs),
	}
}

func (h *consoleHandler) WithGroup(name string) slog.Handler {
	return &consoleHandler{
		min:    h.min,
		stdout: h.stdout.WithGroup(name),
		stderr: h.stderr.WithGroup(name),
	}
}

// --- errorCapture: captures recent error-level log messages ---

// LogEntry represents a captured error log entry.
type LogEntry struct {
	Time    time.Time `json:"time"`
	Comp    string    `json:"comp"`
	Message string    `json:"message"`
	Error   string    `json:"error,omitempty"`
}

var errorRing struct {
	mu      gosync.Mutex
	entries [2]LogEntry
	count   int
}

// RecentErrors returns the most recent error log entries (up to 2).
func RecentErrors() []LogEntry {
	errorRing.mu.Lock()
	defer errorRing.mu.Unlock()
	n := errorRing.count
	if n > 2 {
		n = 2
	}
	out := make([]LogEntry, n)
	// Return newest first
	for i := 0; i < n; i++ {
		out[i] = errorRing.entries[(2-1-i+errorRing.count)%2]
	}
	return out
}

type errorCaptureHandler struct{}

func (h *errorCaptureHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= slog.LevelError
}

func (h *errorCaptureHandler) Handle(_ context.Context, r slog.Record) error {
	entry := LogEntry{
		Time:    r.Time,
		Message: r.Message,
	}
	r.Attrs(func(a slog.Attr) bool {
		switch a.Key {
		case "comp":
			entry.Comp = a.Value.String()
		case "err":
			entry.Error = a.Value.String()
		}
		return true
	})
	errorRing.mu.Lock()
	errorRing.entries[errorRing.count%2] = entry
	errorRing.count++
	errorRing.mu.Unlock()
	return nil
}

func (h *errorCaptureHandler) WithAttrs(_ []slog.Attr) slog.Handler { return h }
func (h *errorCaptureHandler) WithGroup(_ string) slog.Handler      { return h }

// --- levelRangeHandler: passes only a specific level range ---

type levelRangeHandler struct {
	min, max slog.Level
	inner    slog.Handler
}

func (h *levelRangeHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.min && level <= h.max
}

func (h *levelRangeHandler) Handle(ctx context.Context, r slog.Record) error {
	return h.inner.Handle(ctx, r)
}

func (h *levelRangeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &levelRangeHandler{min: h.min, max: h.max, inner: h.inner.WithAttrs(attrs)}
}

func (h *levelRangeHandler) WithGroup(name string) slog.Handler {
	return &levelRangeHandler{min: h.min, max: h.max, inner: h.inner.WithGroup(name)}
}

// --- multiHandler: fans out to multiple handlers ---

type multiHandler struct {
	handlers []slog.Handler
}

func (h *multiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (h *multiHandler) Handle(ctx context.Context, r slog.Record) error {
	for _, hh := range h.handlers {
		if hh.Enabled(ctx, r.Level) {
			if err := hh.Handle(ctx, r); err != nil {
				return err
			}
		}
	}
	return nil
}

func (h *multiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithAttrs(attrs)
	}
	return &multiHandler{handlers: hs}
}

func (h *multiHandler) WithGroup(name string) slog.Handler {
	hs := make([]slog.Handler, len(h.handlers))
	for i, hh := range h.handlers {
		hs[i] = hh.WithGroup(name)
	}
	return &multiHandler{handlers: hs}
}
