package sync

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	gosync "sync"
)

// Store provides point lookups, parent queries, insert-if-absent and
// single-statement field updates on the index. Writes are serialized.
type Store struct {
	db *sql.DB
	mu gosync.Mutex
}

// NewStore creates a Store backed by the given database.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Selector picks the file records an engine operates on.
type Selector int

const (
	// SelectMissingCloudHash: files with no cloud hash yet.
	SelectMissingCloudHash Selector = iota
	// SelectAllFiles: every file record.
	SelectAllFiles
	// SelectOutstanding: files never hashed locally or whose hashes differ.
	SelectOutstanding
	// SelectNeverDownloaded: files with no downloaded_at.
	SelectNeverDownloaded
	// SelectLocallyHashed: files with a local hash.
	SelectLocallyHashed
)

func (s Selector) String() string {
	switch s {
	case SelectMissingCloudHash:
		return "missing-cloud-hash"
	case SelectAllFiles:
		return "all-files"
	case SelectOutstanding:
		return "outstanding"
	case SelectNeverDownloaded:
		return "never-downloaded"
	case SelectLocallyHashed:
		return "locally-hashed"
	}
	return "unknown"
}

func (s Selector) where() string {
	switch s {
	case SelectMissingCloudHash:
		return "kind = 'file' AND (cloud_hash IS NULL OR cloud_hash = '')"
	case SelectOutstanding:
		return "kind = 'file' AND (local_hash IS NULL OR local_hash = '' OR lower(cloud_hash) != lower(local_hash))"
	case SelectNeverDownloaded:
		return "kind = 'file' AND downloaded_at IS NULL"
	case SelectLocallyHashed:
		return "kind = 'file' AND local_hash IS NOT NULL AND local_hash != ''"
	}
	return "kind = 'file'"
}

const recordColumns = `path, name, parent_path, kind, remote_id, size, cloud_hash, local_hash, downloaded_at, discovered_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRecord(rs rowScanner) (IndexRecord, error) {
	var (
		r                    IndexRecord
		kind                 string
		size, downloadedAt   sql.NullInt64
		cloudHash, localHash sql.NullString
	)
	err := rs.Scan(&r.Path, &r.Name, &r.ParentPath, &kind, &r.RemoteID, &size,
		&cloudHash, &localHash, &downloadedAt, &r.DiscoveredAt)
	if err != nil {
		return r, err
	}
	r.Kind = Kind(kind)
	r.CloudHash = cloudHash.String
	r.LocalHash = localHash.String
	if size.Valid {
		r.Size = &size.Int64
	}
	if downloadedAt.Valid {
		r.DownloadedAt = &downloadedAt.Int64
	}
	return r, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

// wrapWriteErr maps schema CHECK failures to ErrInvariant.
func wrapWriteErr(op string, err error) error {
	if strings.Contains(err.Error(), "CHECK constraint failed") {
		return fmt.Errorf("%s: %w: %v", op, ErrInvariant, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// Get retrieves a record by path. Returns nil, nil when absent.
func (s *Store) Get(path string) (*IndexRecord, error) {
	r, err := scanRecord(s.db.QueryRow(`SELECT `+recordColumns+` FROM records WHERE path = ?`, path))
	if errors.Is(err, sql.ErrNoRows) {
		if logEnabled(slog.LevelDebug) {
			sub("store").Debug("Get", "path", path, "found", false)
		}
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get record: %w", err)
	}
	if logEnabled(slog.LevelDebug) {
		sub("store").Debug("Get", "path", path, "found", true)
	}
	return &r, nil
}

// FolderByRemoteID returns the shallowest folder record with the given
// remote id, or nil.
func (s *Store) FolderByRemoteID(remoteID string) (*IndexRecord, error) {
	r, err := scanRecord(s.db.QueryRow(`SELECT `+recordColumns+` FROM records
		WHERE remote_id = ? AND kind = 'folder' ORDER BY length(path), path LIMIT 1`, remoteID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("folder by remote id: %w", err)
	}
	return &r, nil
}

// HasChildren reports whether any record has parentPath as its parent.
func (s *Store) HasChildren(parentPath string) (bool, error) {
	var one int
	err := s.db.QueryRow(`SELECT 1 FROM records WHERE parent_path = ? LIMIT 1`, parentPath).Scan(&one)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("has children: %w", err)
	}
	return true, nil
}

// ListChildren returns the direct children of parentPath, folders first.
func (s *Store) ListChildren(parentPath string) ([]IndexRecord, error) {
	rows, err := s.db.Query(`
		SELECT `+recordColumns+`
		FROM records WHERE parent_path = ?
		ORDER BY kind = 'folder' DESC, name ASC
	`, parentPath)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	recs, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("list children: %w", err)
	}
	if logEnabled(slog.LevelDebug) {
		sub("store").Debug("ListChildren", "parent", parentPath, "count", len(recs))
	}
	return recs, nil
}

// SelectFiles returns the file records matching sel, ordered by path.
func (s *Store) SelectFiles(sel Selector) ([]IndexRecord, error) {
	rows, err := s.db.Query(`SELECT ` + recordColumns + ` FROM records WHERE ` + sel.where() + ` ORDER BY path`)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", sel, err)
	}
	recs, err := collect(rows)
	if err != nil {
		return nil, fmt.Errorf("select %s: %w", sel, err)
	}
	sub("store").Debug("SelectFiles", "selector", sel.String(), "count", len(recs))
	return recs, nil
}

// AllFiles returns every file record, ordered by path.
func (s *Store) AllFiles() ([]IndexRecord, error) {
	return s.SelectFiles(SelectAllFiles)
}

func collect(rows *sql.Rows) ([]IndexRecord, error) {
	defer rows.Close()
	var recs []IndexRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		recs = append(recs, r)
	}
	return recs, rows.Err()
}

// InsertChildren inserts the listing of one folder in a single transaction.
// Records whose path already exists are left untouched. Returns the paths
// that were newly inserted.
func (s *Store) InsertChildren(parentPath string, recs []IndexRecord) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.Begin()
	if err != nil {
		return nil, fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	stmt, err := tx.Prepare(`
		INSERT INTO records (path, name, parent_path, kind, remote_id, size, discovered_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(path) DO NOTHING
	`)
	if err != nil {
		return nil, fmt.Errorf("prepare insert: %w", err)
	}
	defer stmt.Close()

	now := nowFunc().UnixNano()
	var inserted []string
	for _, r := range recs {
		if r.RemoteID == "" {
			return nil, fmt.Errorf("insert %s: %w: empty remote id", r.Path, ErrInvariant)
		}
		var size sql.NullInt64
		if r.Size != nil {
			size = sql.NullInt64{Int64: *r.Size, Valid: true}
		}
		res, err := stmt.Exec(r.Path, r.Name, parentPath, string(r.Kind), r.RemoteID, size, now)
		if err != nil {
			return nil, wrapWriteErr("insert record", err)
		}
		if n, _ := res.RowsAffected(); n > 0 {
			inserted = append(inserted, r.Path)
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit children of %q: %w", parentPath, err)
	}
	for _, p := range inserted {
		auditMutation("insert", p, "")
	}
	sub("store").Debug("InsertChildren", "parent", parentPath, "listed", len(recs), "inserted", len(inserted))
	return inserted, nil
}

// SetCloudHash records the remote content hash of a file.
func (s *Store) SetCloudHash(path, hash string) error {
	return s.updateFile("SetCloudHash", path, hash,
		`UPDATE records SET cloud_hash = ? WHERE path = ? AND kind = 'file'`, nullString(hash), path)
}

// SetLocalCopy records a completed download: the local hash and the time
// the content was written, in one statement.
func (s *Store) SetLocalCopy(path, hash string, downloadedAt int64) error {
	if hash == "" {
		return fmt.Errorf("SetLocalCopy %s: %w: empty local hash", path, ErrInvariant)
	}
	return s.updateFile("SetLocalCopy", path, hash,
		`UPDATE records SET local_hash = ?, downloaded_at = ? WHERE path = ? AND kind = 'file'`,
		hash, downloadedAt, path)
}

// SetLocalHash records the hash of an existing local copy without touching
// downloaded_at.
func (s *Store) SetLocalHash(path, hash string) error {
	return s.updateFile("SetLocalHash", path, hash,
		`UPDATE records SET local_hash = ? WHERE path = ? AND kind = 'file'`, nullString(hash), path)
}

// SetSize records the byte size of a file's content.
func (s *Store) SetSize(path string, size int64) error {
	return s.updateFile("SetSize", path, strconv.FormatInt(size, 10),
		`UPDATE records SET size = ? WHERE path = ? AND kind = 'file'`, size, path)
}

func (s *Store) updateFile(op, path, value, query string, args ...any) error {
	s.mu.Lock()
	res, err := s.db.Exec(query, args...)
	s.mu.Unlock()
	if err != nil {
		sub("store").Error(op+" failed", "path", path, "err", err)
		return wrapWriteErr(op, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%s %s: %w: no file record", op, path, ErrNotFound)
	}
	auditMutation(op, path, value)
	return nil
}

// Counts returns the number of file and folder records.
func (s *Store) Counts() (files, folders int, err error) {
	err = s.db.QueryRow(`
		SELECT COALESCE(SUM(kind = 'file'), 0), COALESCE(SUM(kind = 'folder'), 0) FROM records
	`).Scan(&files, &folders)
	if err != nil {
		return 0, 0, fmt.Errorf("counts: %w", err)
	}
	return files, folders, nil
}

// TotalSize returns the summed size of all file records with a known size.
func (s *Store) TotalSize() (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRow(`SELECT SUM(size) FROM records WHERE kind = 'file'`).Scan(&total); err != nil {
		return 0, fmt.Errorf("total size: %w", err)
	}
	return total.Int64, nil
}

// ImportLegacy adopts the records of a legacy onedrive_sync.db index
// (single table "files"). Existing paths are kept. Invariants
// are normalized on the way in: folders lose hashes, a download date
// without a local hash is dropped, and rows without a remote id are skipped.
func (s *Store) ImportLegacy(legacyPath string) (int, error) {
	l := sub("store")
	s.mu.Lock()
	defer s.mu.Unlock()

	conn, err := s.db.Conn(context.Background())
	if err != nil {
		return 0, fmt.Errorf("acquire conn: %w", err)
	}
	defer conn.Close()

	if _, err := conn.ExecContext(context.Background(), `ATTACH DATABASE ? AS legacy`, legacyPath); err != nil {
		return 0, fmt.Errorf("attach legacy db: %w", err)
	}
	defer conn.ExecContext(context.Background(), `DETACH DATABASE legacy`) //nolint:errcheck

	res, err := conn.ExecContext(context.Background(), `
		INSERT INTO records (path, name, parent_path, kind, remote_id, cloud_hash, local_hash, downloaded_at, discovered_at)
		SELECT
			item,
			CASE WHEN COALESCE(parent, '') = '' THEN item ELSE substr(item, length(parent) + 2) END,
			COALESCE(parent, ''),
			CASE WHEN item_type = 'folder' THEN 'folder' ELSE 'file' END,
			item_id,
			CASE WHEN item_type = 'folder' OR cloud_hash = '' THEN NULL ELSE cloud_hash END,
			CASE WHEN item_type = 'folder' OR local_hash = '' THEN NULL ELSE local_hash END,
			CASE WHEN item_type = 'folder' OR COALESCE(local_hash, '') = '' OR downloaded_date IS NULL THEN NULL
			     ELSE CAST(unixepoch(downloaded_date, 'subsec') * 1000000000 AS INTEGER) END,
			?
		FROM legacy.files
		WHERE item_id IS NOT NULL AND item_id != ''
		ON CONFLICT(path) DO NOTHING
	`, nowFunc().UnixNano())
	if err != nil {
		return 0, wrapWriteErr("import legacy", err)
	}
	n, _ := res.RowsAffected()
	auditMutation("import-legacy", legacyPath, fmt.Sprint(n))
	l.Info("legacy import complete", "source", legacyPath, "imported", n)
	return int(n), nil
}
