package sync

import (
	"context"
	"errors"
	"os"
	gosync "sync"
	"time"
)

// DefaultServeInterval is the pause between full passes in serve mode.
const DefaultServeInterval = 15 * time.Minute

// Daemon runs full passes on an interval and keeps local hashes current by
// rehashing files edited in the mirror between passes.
type Daemon struct {
	pipeline *Pipeline
	engine   *SyncEngine
	cfg      Config
	rootID   string
	interval time.Duration
	queue    *EvalQueue

	mu      gosync.RWMutex
	running bool
	last    *RunResult
	lastErr error
}

// NewDaemon creates a daemon. interval <= 0 uses DefaultServeInterval.
func NewDaemon(pipeline *Pipeline, engine *SyncEngine, cfg Config, rootID string, interval time.Duration) *Daemon {
	if interval <= 0 {
		interval = DefaultServeInterval
	}
	return &Daemon{
		pipeline: pipeline,
		engine:   engine,
		cfg:      cfg.withDefaults(),
		rootID:   rootID,
		interval: interval,
		queue:    NewEvalQueue(),
	}
}

// Queue returns the rehash queue.
func (d *Daemon) Queue() *EvalQueue {
	return d.queue
}

// DaemonStatus is a snapshot of the pass loop.
type DaemonStatus struct {
	Running  bool       `json:"running"`
	LastRun  *RunResult `json:"lastRun,omitempty"`
	LastErr  string     `json:"lastError,omitempty"`
	Interval string     `json:"interval"`
	Queued   int        `json:"queued"`
}

// Status returns the current pass loop state.
func (d *Daemon) Status() DaemonStatus {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return DaemonStatus{
		Running:  d.running,
		LastRun:  d.last,
		LastErr:  errString(d.lastErr),
		Interval: d.interval.String(),
		Queued:   d.queue.Len(),
	}
}

// Run starts the watcher and the rehash worker, then runs a pass
// immediately and every interval. Blocks until ctx is cancelled or a pass
// fails with ErrUnauthorized, which is returned.
func (d *Daemon) Run(ctx context.Context) error {
	l := sub("daemon")
	l.Info("mirror daemon starting", "root", d.cfg.LocalRoot, "interval", d.interval)

	if err := os.MkdirAll(d.cfg.LocalRoot, 0755); err != nil {
		return localErr("mkdir", d.cfg.LocalRoot, err)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	watcher, err := NewWatcher(d.cfg.LocalRoot, d.cfg.Ignore, d.queue)
	if err != nil {
		return err
	}
	defer watcher.Close()

	var wg gosync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		if err := watcher.Start(ctx); err != nil && ctx.Err() == nil {
			l.Warn("watcher stopped unexpectedly", "err", err)
		}
	}()
	go func() {
		defer wg.Done()
		d.rehashWorker(ctx)
	}()

	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	var runErr error
loop:
	for {
		if err := d.pass(ctx); errors.Is(err, ErrUnauthorized) {
			runErr = err
			break loop
		}
		select {
		case <-ctx.Done():
			break loop
		case <-ticker.C:
		}
	}

	cancel()
	wg.Wait()
	l.Info("mirror daemon stopped")
	return runErr
}

func (d *Daemon) pass(ctx context.Context) error {
	d.mu.Lock()
	d.running = true
	d.mu.Unlock()

	res, err := d.pipeline.RunAll(ctx, d.rootID)

	d.mu.Lock()
	d.running = false
	d.last = res
	d.lastErr = err
	d.mu.Unlock()

	if err != nil && ctx.Err() == nil {
		sub("daemon").Error("pass failed", "err", err)
	}
	return err
}

// rehashWorker drains the queue filled by the watcher.
func (d *Daemon) rehashWorker(ctx context.Context) {
	l := sub("daemon")
	done := ctx.Done()
	for {
		path, ok := d.queue.Pop(done)
		if !ok {
			return
		}
		if err := d.engine.RehashPath(ctx, path); err != nil && ctx.Err() == nil {
			l.Debug("rehash failed", "path", path, "err", err)
		}
	}
}
