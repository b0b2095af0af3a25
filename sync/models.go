package sync

import (
	"strings"
	"time"
)

// nowFunc is the time source, replaceable in tests.
var nowFunc = time.Now

// Kind is the node type of an index record.
type Kind string

const (
	KindFile   Kind = "file"
	KindFolder Kind = "folder"
)

// IndexRecord is one remote node ever discovered. Path is the primary key.
type IndexRecord struct {
	Path         string `json:"path"`
	Name         string `json:"name"`
	ParentPath   string `json:"parentPath"` // "" for root-level entries
	Kind         Kind   `json:"kind"`
	RemoteID     string `json:"remoteId"`
	Size         *int64 `json:"size,omitempty"`
	CloudHash    string `json:"cloudHash,omitempty"`
	LocalHash    string `json:"localHash,omitempty"`
	DownloadedAt *int64 `json:"downloadedAt,omitempty"` // nanoseconds
	DiscoveredAt int64  `json:"discoveredAt"`           // nanoseconds
}

// IsFile reports whether the record describes a file.
func (r *IndexRecord) IsFile() bool {
	return r.Kind == KindFile
}

// HashesMatch reports whether both hashes are known and equal, ignoring case.
func (r *IndexRecord) HashesMatch() bool {
	return r.CloudHash != "" && r.LocalHash != "" && strings.EqualFold(r.CloudHash, r.LocalHash)
}

// Node is one child returned by a Provider listing.
type Node struct {
	ID       string
	Name     string
	IsFolder bool
	Size     *int64
}

// joinPath builds a mirrored path from its parent path and a name.
// Mirrored paths always use "/" regardless of the host separator.
func joinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
