package sync

import (
	"time"
)

// Defaults applied by Config.withDefaults.
const (
	DefaultWorkers         = 4
	DefaultRequestTimeout  = 30 * time.Second
	DefaultDownloadTimeout = 30 * time.Minute
)

// Config is passed to every engine at construction.
type Config struct {
	LocalRoot       string        // mirror root; mirrored paths resolve below it
	Workers         int           // bounded pool size for reconcile and download
	RequestTimeout  time.Duration // per metadata call
	DownloadTimeout time.Duration // per content stream
	MinFreeBytes    uint64        // 0 disables the free-space precheck
	Ignore          *SyncIgnore
	Events          *EventBus // optional
}

func (c Config) withDefaults() Config {
	if c.Workers < 1 {
		c.Workers = DefaultWorkers
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = DefaultRequestTimeout
	}
	if c.DownloadTimeout <= 0 {
		c.DownloadTimeout = DefaultDownloadTimeout
	}
	return c
}
