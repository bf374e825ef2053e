package fetch

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
)

// Entry is one row of a download manifest.
type Entry struct {
	Name string
	URL  string
}

// LoadManifestFile reads a name,url CSV manifest from path.
func LoadManifestFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadManifest(f)
}

// ErrManifestHeader reports a manifest whose first row does not name both
// the name and url columns.
var ErrManifestHeader = errors.New("manifest header must include name and url columns")

// LoadManifest parses a CSV manifest. The first row is a header; the name and
// url columns are located by title, case-insensitively, so column order and
// extra columns do not matter. Rows with an empty name or URL are skipped, as
// are comment lines starting with '#'. Path separators in names are replaced
// with '_' so entries cannot escape the target dir.
func LoadManifest(r io.Reader) ([]Entry, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true
	cr.Comment = '#'

	header, err := cr.Read()
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("parse manifest: %w", err)
	}
	nameCol, urlCol := -1, -1
	for i, col := range header {
		switch strings.ToLower(strings.TrimSpace(strings.TrimPrefix(col, "\ufeff"))) {
		case "name":
			if nameCol < 0 {
				nameCol = i
			}
		case "url":
			if urlCol < 0 {
				urlCol = i
			}
		}
	}
	if nameCol < 0 || urlCol < 0 {
		return nil, fmt.Errorf("%w: got %q", ErrManifestHeader, header)
	}

	var out []Entry
	for {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("parse manifest: %w", err)
		}
		name, url := field(rec, nameCol), field(rec, urlCol)
		if name == "" || url == "" {
			continue
		}
		out = append(out, Entry{Name: sanitizeName(name), URL: url})
	}
	return out, nil
}

func field(rec []string, i int) string {
	if i >= len(rec) {
		return ""
	}
	return strings.TrimSpace(rec[i])
}

func sanitizeName(name string) string {
	name = strings.NewReplacer("/", "_", "\\", "_").Replace(name)
	if name == "." || name == ".." {
		return "_"
	}
	return name
}
