// Package report writes the excerpt collection and its companion artifacts.
package report

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hyperifyio/pdfsnippets/internal/batch"
)

// EncodeJSON renders items as an indented JSON array with non-ASCII characters
// and HTML-sensitive characters left verbatim. A nil slice encodes as [].
func EncodeJSON(items []batch.Item) ([]byte, error) {
	if items == nil {
		items = []batch.Item{}
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(items); err != nil {
		return nil, fmt.Errorf("encode items: %w", err)
	}
	return buf.Bytes(), nil
}

// WriteJSON writes the collection to path atomically.
func WriteJSON(path string, items []batch.Item) error {
	data, err := EncodeJSON(items)
	if err != nil {
		return err
	}
	return writeAtomic(path, data)
}

// ReadJSON loads a collection previously written by WriteJSON.
func ReadJSON(path string) ([]batch.Item, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var items []batch.Item
	if err := json.Unmarshal(b, &items); err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return items, nil
}

// Meta describes the run that produced a collection.
type Meta struct {
	RunID        string    `json:"run_id"`
	GeneratedAt  time.Time `json:"generated_at"`
	Budget       int       `json:"budget"`
	MinKeep      int       `json:"min_keep"`
	Keywords     []string  `json:"keywords"`
	Scoring      string    `json:"scoring"`
	Accumulation string    `json:"accumulation"`
	Locations    []string  `json:"locations"`
}

// Entry is the manifest record of one discovered document.
type Entry struct {
	Name   string `json:"name"`
	Path   string `json:"path"`
	Status string `json:"status"`
	SHA256 string `json:"sha256,omitempty"`
	Chars  int    `json:"chars"`
	Cached bool   `json:"cached,omitempty"`
}

// Manifest is the machine-readable sidecar for reproducibility.
type Manifest struct {
	Meta      Meta    `json:"meta"`
	Documents []Entry `json:"documents"`
}

// NewMeta stamps a fresh run id and generation time.
func NewMeta() Meta {
	return Meta{RunID: uuid.NewString(), GeneratedAt: time.Now().UTC()}
}

// BuildManifest lists every outcome with the digest of the emitted excerpt.
func BuildManifest(meta Meta, rep batch.Report) Manifest {
	snippets := make(map[string]string, len(rep.Items))
	for _, it := range rep.Items {
		snippets[it.Name] = it.Snippets
	}
	docs := make([]Entry, 0, len(rep.Outcomes))
	for _, o := range rep.Outcomes {
		e := Entry{Name: o.Name, Path: o.Path, Status: string(o.Status), Chars: o.Chars, Cached: o.Cached}
		if o.Status == batch.Kept {
			s := snippets[o.Name]
			e.SHA256 = sha256Hex(s)
			e.Chars = utf8.RuneCountInString(s)
		}
		docs = append(docs, e)
	}
	return Manifest{Meta: meta, Documents: docs}
}

// ManifestPath returns the sidecar path next to the collection.
func ManifestPath(outputPath string) string {
	return outputPath + ".manifest.json"
}

// WriteManifest writes m to path atomically.
func WriteManifest(path string, m Manifest) error {
	data, err := json.MarshalIndent(m, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	return writeAtomic(path, append(data, '\n'))
}

func sha256Hex(s string) string {
	h := sha256.Sum256([]byte(s))
	return hex.EncodeToString(h[:])
}

// writeAtomic writes into a temp file in the target directory and renames it
// over path, so readers never observe a half-written file.
func writeAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	f, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp: %w", err)
	}
	tmp := f.Name()
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return fmt.Errorf("write %s: %w", path, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("close %s: %w", path, err)
	}
	if err := os.Chmod(tmp, 0o644); err != nil {
		os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("rename %s: %w", path, err)
	}
	return nil
}
