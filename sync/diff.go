package sync

import (
	"context"
	"fmt"
	"sort"

	"github.com/maruel/natural"
	"github.com/samber/lo"
)

// DiffSummary is the read-only reconciliation status of the index.
type DiffSummary struct {
	Files     int `json:"files" yaml:"files"`
	Folders   int `json:"folders" yaml:"folders"`
	InSync    int `json:"inSync" yaml:"in_sync"`
	Stale     int `json:"stale" yaml:"stale"`
	CloudOnly int `json:"cloudOnly" yaml:"cloud_only"`
	LocalOnly int `json:"localOnly" yaml:"local_only"`
	Unknown   int `json:"unknown" yaml:"unknown"`

	TotalSize int64 `json:"totalSize" yaml:"total_size"`

	StalePaths        []string `json:"stalePaths,omitempty" yaml:"stale_paths,omitempty"`
	CloudOnlyPaths    []string `json:"cloudOnlyPaths,omitempty" yaml:"cloud_only_paths,omitempty"`
	MissingCloudPaths []string `json:"missingCloudPaths,omitempty" yaml:"missing_cloud_paths,omitempty"`
	MissingLocalPaths []string `json:"missingLocalPaths,omitempty" yaml:"missing_local_paths,omitempty"`
}

func (s *DiffSummary) String() string {
	return fmt.Sprintf("files=%d in_sync=%d stale=%d cloud_only=%d local_only=%d unknown=%d",
		s.Files, s.InSync, s.Stale, s.CloudOnly, s.LocalOnly, s.Unknown)
}

// DiffReporter computes the reconciliation status without mutating the index.
type DiffReporter struct {
	store *Store
}

// NewDiffReporter creates a DiffReporter.
func NewDiffReporter(store *Store) *DiffReporter {
	return &DiffReporter{store: store}
}

// Summary partitions all file records into the FileState buckets.
// MissingCloudPaths lists the records still waiting for a cloud hash
// (local-only and unknown), MissingLocalPaths those never hashed locally
// (cloud-only and unknown). Path lists are in natural order.
func (d *DiffReporter) Summary(ctx context.Context) (*DiffSummary, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	files, err := d.store.AllFiles()
	if err != nil {
		return nil, err
	}
	nFiles, nFolders, err := d.store.Counts()
	if err != nil {
		return nil, err
	}

	s := &DiffSummary{Files: nFiles, Folders: nFolders}
	byState := lo.GroupBy(files, func(r IndexRecord) FileState { return ClassifyRecord(&r) })
	paths := func(states ...FileState) []string {
		var out []string
		for _, st := range states {
			out = append(out, lo.Map(byState[st], func(r IndexRecord, _ int) string { return r.Path })...)
		}
		sort.Sort(natural.StringSlice(out))
		return out
	}

	s.InSync = len(byState[StateInSync])
	s.Stale = len(byState[StateStale])
	s.CloudOnly = len(byState[StateCloudOnly])
	s.LocalOnly = len(byState[StateLocalOnly])
	s.Unknown = len(byState[StateUnknown])
	s.TotalSize = lo.SumBy(files, func(r IndexRecord) int64 { return lo.FromPtr(r.Size) })

	s.StalePaths = paths(StateStale)
	s.CloudOnlyPaths = paths(StateCloudOnly)
	s.MissingCloudPaths = paths(StateLocalOnly, StateUnknown)
	s.MissingLocalPaths = paths(StateCloudOnly, StateUnknown)

	setSummaryGauges(s)
	sub("diff").Debug("summary", "result", s.String())
	return s, nil
}
