package sync

import "strings"

// FileState is the reconciliation bucket of one file record, derived only
// from which hashes are known and whether they agree.
type FileState string

const (
	StateInSync    FileState = "in_sync"    // both hashes present and equal
	StateStale     FileState = "stale"      // both present, different
	StateCloudOnly FileState = "cloud_only" // cloud hash only; never mirrored
	StateLocalOnly FileState = "local_only" // local hash only; reconcile not run yet
	StateUnknown   FileState = "unknown"    // neither hash
)

// ClassifyRecord returns the bucket of a file record. Folders return "".
func ClassifyRecord(r *IndexRecord) FileState {
	if !r.IsFile() {
		return ""
	}
	hasCloud := r.CloudHash != ""
	hasLocal := r.LocalHash != ""
	switch {
	case hasCloud && hasLocal && strings.EqualFold(r.CloudHash, r.LocalHash):
		return StateInSync
	case hasCloud && hasLocal:
		return StateStale
	case hasCloud:
		return StateCloudOnly
	case hasLocal:
		return StateLocalOnly
	}
	return StateUnknown
}

// NeedsDownload reports whether DownloadOutstanding would select the record.
// A local copy without a cloud hash is not selected: there is nothing to
// compare it against yet.
func NeedsDownload(r *IndexRecord) bool {
	if !r.IsFile() {
		return false
	}
	if r.LocalHash == "" {
		return true
	}
	return r.CloudHash != "" && !strings.EqualFold(r.CloudHash, r.LocalHash)
}
