package sync

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"
	"golang.org/x/text/unicode/norm"
)

// DiscoverReport summarizes one discovery run.
type DiscoverReport struct {
	Listed   int      `json:"listed"`   // remote listing calls issued
	Inserted int      `json:"inserted"` // records newly added to the index
	Ignored  int      `json:"ignored"`
	Failed   []string `json:"failed,omitempty"` // folders whose listing failed; "" is the root
}

func (r *DiscoverReport) String() string {
	return fmt.Sprintf("discover: listed=%d inserted=%d ignored=%d failed=%d",
		r.Listed, r.Inserted, r.Ignored, len(r.Failed))
}

// Discoverer walks the remote tree and inserts newly seen nodes into the
// index exactly once.
type Discoverer struct {
	store    *Store
	provider Provider
	cfg      Config
}

// NewDiscoverer creates a Discoverer.
func NewDiscoverer(store *Store, provider Provider, cfg Config) *Discoverer {
	return &Discoverer{store: store, provider: provider, cfg: cfg.withDefaults()}
}

type frontierItem struct {
	remoteID string
	path     string
}

// Discover lists the remote tree below rootID ("" for the provider's
// top-level root). When rootID is an already indexed folder, its children
// are inserted below that folder's path; otherwise they become root-level
// records.
//
// The root listing always runs. A folder is listed again only when it was
// inserted in this run or when it has no indexed children, which resumes an
// expansion that failed or was interrupted earlier. Listing failures skip
// that subtree; ErrUnauthorized aborts the run.
func (d *Discoverer) Discover(ctx context.Context, rootID string) (*DiscoverReport, error) {
	l := sub("discover")
	start := time.Now()
	defer func() { recordRun("discover", time.Since(start)) }()

	rep := &DiscoverReport{}
	visited := NewPathCache()
	rootPath, err := d.rootPath(rootID)
	if err != nil {
		return rep, err
	}
	work := []frontierItem{{remoteID: rootID, path: rootPath}}

	for len(work) > 0 {
		if err := ctx.Err(); err != nil {
			l.Warn("discovery interrupted", "report", rep.String(), "pending", len(work))
			return rep, err
		}

		// LIFO keeps the frontier proportional to tree depth times fan-out.
		item := work[len(work)-1]
		work = work[:len(work)-1]
		if !visited.Visit(item.path, item.remoteID) {
			continue
		}

		next, err := d.expand(ctx, item, visited, rep)
		if err != nil {
			if errors.Is(err, ErrUnauthorized) {
				l.Error("discovery aborted", "path", item.path, "err", err)
				d.cfg.Events.Publish(Event{Type: "discover", Path: item.path, Outcome: OutcomeAbort.String(), Error: err.Error()})
				return rep, fmt.Errorf("discover aborted: %w", err)
			}
			if ctx.Err() != nil {
				return rep, ctx.Err()
			}
			rep.Failed = append(rep.Failed, item.path)
			if errors.Is(err, ErrInvariant) {
				l.Error("subtree failed", "path", item.path, "err", err)
			} else {
				l.Warn("subtree failed", "path", item.path, "err", err)
			}
			d.cfg.Events.Publish(Event{Type: "discover", Path: item.path, Outcome: OutcomeFailed.String(), Error: err.Error()})
			continue
		}
		work = append(work, next...)
	}

	l.Info("discovery complete", "listed", rep.Listed, "inserted", rep.Inserted,
		"ignored", rep.Ignored, "failed", len(rep.Failed), "elapsed", time.Since(start))
	return rep, nil
}

// rootPath resolves the mirrored path discovery starts from.
func (d *Discoverer) rootPath(rootID string) (string, error) {
	if rootID == "" {
		return "", nil
	}
	rec, err := d.store.FolderByRemoteID(rootID)
	if err != nil {
		return "", err
	}
	if rec == nil {
		return "", nil
	}
	sub("discover").Info("starting below indexed folder", "id", rootID, "path", rec.Path)
	return rec.Path, nil
}

// expand lists one folder, inserts its unseen children in one transaction
// and returns the child folders that still need listing.
func (d *Discoverer) expand(ctx context.Context, item frontierItem, visited *PathCache, rep *DiscoverReport) ([]frontierItem, error) {
	rctx, cancel := context.WithTimeout(ctx, d.cfg.RequestTimeout)
	nodes, err := d.provider.ListChildren(rctx, item.remoteID)
	cancel()
	rep.Listed++
	recordListing(err)
	if err != nil {
		return nil, fmt.Errorf("list %q: %w", item.path, err)
	}

	recs := make([]IndexRecord, 0, len(nodes))
	for _, n := range nodes {
		name := norm.NFC.String(n.Name)
		if name == "" || name == "." || name == ".." || strings.Contains(name, "/") {
			sub("discover").Warn("skipping unmappable name", "parent", item.path, "name", n.Name, "id", n.ID)
			continue
		}
		p := joinPath(item.path, name)
		if d.cfg.Ignore.IsIgnored(p, n.IsFolder) {
			rep.Ignored++
			continue
		}
		kind := KindFile
		if n.IsFolder {
			kind = KindFolder
		}
		recs = append(recs, IndexRecord{
			Path:     p,
			Name:     name,
			Kind:     kind,
			RemoteID: n.ID,
			Size:     n.Size,
		})
	}
	// Names differing only in normalization collapse to one path; first wins.
	recs = lo.UniqBy(recs, func(r IndexRecord) string { return r.Path })

	inserted, err := d.store.InsertChildren(item.path, recs)
	if err != nil {
		return nil, err
	}
	rep.Inserted += len(inserted)
	isNew := lo.SliceToMap(inserted, func(p string) (string, bool) { return p, true })

	var next []frontierItem
	for _, r := range recs {
		if r.Kind != KindFolder {
			continue
		}
		if _, seen := visited.Get(r.Path); seen {
			continue
		}
		if !isNew[r.Path] {
			existing, err := d.store.Get(r.Path)
			if err != nil {
				return nil, err
			}
			if existing == nil || existing.Kind != KindFolder {
				continue
			}
			expanded, err := d.store.HasChildren(r.Path)
			if err != nil {
				return nil, err
			}
			if expanded {
				continue
			}
		}
		next = append(next, frontierItem{remoteID: r.RemoteID, path: r.Path})
	}
	return next, nil
}
