// Package source discovers the documents to digest across an ordered list of
// source locations.
package source

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// Source is one discovered document.
type Source struct {
	// Name is the document base name, unique within a run after deduplication.
	Name string
	// Path is the file path on disk.
	Path string
	// Location is the configured location the file was found under.
	Location string
}

// Notice records a recoverable configuration problem, such as a missing
// location. Notices are informational and never stop discovery.
type Notice struct {
	Location string
	Err      error
}

func (n Notice) String() string {
	return fmt.Sprintf("%s: %v", n.Location, n.Err)
}

// ErrNotDirectory is reported for locations that exist but are not directories.
var ErrNotDirectory = errors.New("not a directory")

// Discover walks every location in priority order and returns files whose
// extension is in extensions (case-insensitive, with or without a leading
// dot). Within a location files are ordered lexicographically by path. An
// empty extensions list accepts every regular file.
func Discover(locations []string, extensions []string) ([]Source, []Notice) {
	allowed := make(map[string]bool, len(extensions))
	for _, ext := range extensions {
		ext = strings.ToLower(strings.TrimSpace(ext))
		if ext == "" {
			continue
		}
		if !strings.HasPrefix(ext, ".") {
			ext = "." + ext
		}
		allowed[ext] = true
	}

	var out []Source
	var notices []Notice
	for _, loc := range locations {
		if strings.TrimSpace(loc) == "" {
			continue
		}
		info, err := os.Stat(loc)
		if err != nil {
			notices = append(notices, Notice{Location: loc, Err: err})
			continue
		}
		if !info.IsDir() {
			notices = append(notices, Notice{Location: loc, Err: ErrNotDirectory})
			continue
		}
		var found []Source
		walkErr := filepath.WalkDir(loc, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				// Unreadable subtree: record it and keep walking the rest.
				notices = append(notices, Notice{Location: path, Err: err})
				if d != nil && d.IsDir() {
					return fs.SkipDir
				}
				return nil
			}
			if !d.Type().IsRegular() {
				return nil
			}
			if len(allowed) > 0 && !allowed[strings.ToLower(filepath.Ext(path))] {
				return nil
			}
			found = append(found, Source{Name: d.Name(), Path: path, Location: loc})
			return nil
		})
		if walkErr != nil {
			notices = append(notices, Notice{Location: loc, Err: walkErr})
		}
		sort.SliceStable(found, func(i, j int) bool { return found[i].Path < found[j].Path })
		out = append(out, found...)
	}
	return out, notices
}

// Dedupe keeps the first Source for every Name and returns the dropped
// duplicates separately, both in input order.
func Dedupe(in []Source) (kept []Source, dropped []Source) {
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if _, ok := seen[s.Name]; ok {
			dropped = append(dropped, s)
			continue
		}
		seen[s.Name] = struct{}{}
		kept = append(kept, s)
	}
	return kept, dropped
}
