package sync

import (
	"bufio"
	"os"
	"path"
	"strings"
)

// DefaultIgnoreFile is the ignore file looked up at the mirror root.
const DefaultIgnoreFile = ".mirrorignore"

// SyncIgnore holds patterns loaded from an ignore file.
// Matching remote entries are never indexed, and matching local entries are
// not watched or rehashed.
type SyncIgnore struct {
	patterns []ignorePattern
}

type ignorePattern struct {
	pattern  string
	dirOnly  bool // trailing / in source line
	anchored bool // contains a /, matched against the full mirrored path
}

// LoadSyncIgnore reads an ignore file and returns a SyncIgnore.
// If the file does not exist or cannot be read, returns an empty SyncIgnore
// (nothing is ignored).
func LoadSyncIgnore(file string) *SyncIgnore {
	f, err := os.Open(file)
	if err != nil {
		return &SyncIgnore{}
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	si := ParseSyncIgnore(lines)
	sub("ignore").Debug("loaded ignore file", "path", file, "patterns", len(si.patterns))
	return si
}

// ParseSyncIgnore builds a SyncIgnore from pattern lines. Blank lines and
// lines starting with # are skipped.
func ParseSyncIgnore(lines []string) *SyncIgnore {
	si := &SyncIgnore{}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}

		p := ignorePattern{pattern: line}
		if strings.HasSuffix(line, "/") {
			p.pattern = strings.TrimSuffix(line, "/")
			p.dirOnly = true
		}
		p.pattern = strings.TrimPrefix(p.pattern, "/")
		p.anchored = strings.Contains(p.pattern, "/")
		si.patterns = append(si.patterns, p)
	}
	return si
}

// IsIgnored returns true if the entry at mirrored path rel matches any
// pattern. Unanchored patterns match the base name only. For dirOnly
// patterns, isDir must be true for the pattern to match.
func (si *SyncIgnore) IsIgnored(rel string, isDir bool) bool {
	if si == nil {
		return false
	}
	name := path.Base(rel)
	for _, p := range si.patterns {
		if p.dirOnly && !isDir {
			continue
		}
		target := name
		if p.anchored {
			target = rel
		}
		if matched, _ := path.Match(p.pattern, target); matched {
			return true
		}
	}
	return false
}

// Len returns the number of patterns.
func (si *SyncIgnore) Len() int {
	if si == nil {
		return 0
	}
	return len(si.patterns)
}
