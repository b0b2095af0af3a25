// Package config loads drivemirror settings from file, environment and
// flags.
package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"

	"github.com/ghyeongl/drivemirror/sync"
)

// AppName names the XDG sub-directories and the env prefix.
const AppName = "drivemirror"

// Provider kinds.
const (
	ProviderGraph = "graph"
	ProviderS3    = "s3"
	ProviderDir   = "dir"
)

// Default configuration values.
const (
	DefaultProvider  = ProviderGraph
	DefaultLocalRoot = "~/OneDrive-mirror"
	DefaultLogLevel  = "info"
	DefaultServeAddr = "127.0.0.1:8467"
	DefaultMinFree   = "0"
)

// DefaultIndexPath is the SQLite index location.
func DefaultIndexPath() string {
	return filepath.Join(xdg.DataHome, AppName, "index.db")
}

// DefaultLogDir holds the rotating log files and the audit log.
func DefaultLogDir() string {
	return filepath.Join(xdg.StateHome, AppName, "logs")
}

// DefaultTokenFile holds the Graph access token.
func DefaultTokenFile() string {
	return filepath.Join(xdg.ConfigHome, AppName, "token")
}

func setDefaults(set func(string, any)) {
	set("index_path", DefaultIndexPath())
	set("local_root", DefaultLocalRoot)
	set("provider", DefaultProvider)
	set("root_id", "")
	set("workers", sync.DefaultWorkers)
	set("request_timeout", sync.DefaultRequestTimeout)
	set("download_timeout", sync.DefaultDownloadTimeout)
	set("min_free", DefaultMinFree)
	set("ignore_file", "")

	set("log.dir", DefaultLogDir())
	set("log.level", DefaultLogLevel)

	set("hasher.command", sync.DefaultHashCommand)
	set("hasher.disable_external", false)

	set("graph.base_url", "https://graph.microsoft.com/v1.0")
	set("graph.token_file", DefaultTokenFile())
	set("graph.hash_ttl", 10*time.Minute)

	set("s3.bucket", "")
	set("s3.prefix", "")
	set("s3.region", "")
	set("s3.endpoint", "")
	set("s3.access_key", "")
	set("s3.secret_key", "")
	set("s3.path_style", false)

	set("dir.root", "")

	set("serve.addr", DefaultServeAddr)
	set("serve.interval", sync.DefaultServeInterval)
	set("serve.refresh_hashes", true)
}
