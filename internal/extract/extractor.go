package extract

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/encoding/charmap"
)

// Status tells whether a source yielded text at all.
type Status int

const (
	// Available means the source was read; its text may still be empty.
	Available Status = iota
	// Unavailable means the source could not be read or parsed.
	Unavailable
)

func (s Status) String() string {
	if s == Available {
		return "available"
	}
	return "unavailable"
}

// Result carries extracted raw text or an explicit unavailable marker.
type Result struct {
	Text   string
	Status Status
	Err    error
}

// ErrUnsupported is reported for files no extractor handles.
var ErrUnsupported = errors.New("unsupported source type")

func available(text string) Result { return Result{Text: text, Status: Available} }

func unavailable(err error) Result { return Result{Status: Unavailable, Err: err} }

// Extractor turns a source file into raw text. Implementations never fail the
// caller: unreadable input is reported as an Unavailable result.
type Extractor interface {
	Extract(ctx context.Context, path string) Result
}

// PDF extracts the plain text of every page, joined by newlines. Pages that
// fail to decode are skipped.
type PDF struct{}

func (PDF) Extract(ctx context.Context, path string) (res Result) {
	defer func() {
		// The PDF reader panics on some malformed cross-reference tables.
		if r := recover(); r != nil {
			res = unavailable(fmt.Errorf("pdf %s: %v", path, r))
		}
	}()
	f, r, err := pdf.Open(path)
	if err != nil {
		return unavailable(fmt.Errorf("open pdf: %w", err))
	}
	defer f.Close()

	pages := make([]string, 0, r.NumPage())
	for i := 1; i <= r.NumPage(); i++ {
		if err := ctx.Err(); err != nil {
			return unavailable(err)
		}
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		pages = append(pages, text)
	}
	return available(strings.Join(pages, "\n"))
}

// HTML extracts the readable body of an HTML file.
type HTML struct{}

func (HTML) Extract(_ context.Context, path string) Result {
	b, err := os.ReadFile(path)
	if err != nil {
		return unavailable(err)
	}
	doc := FromHTML(b)
	if doc.Title != "" && !strings.HasPrefix(doc.Text, doc.Title) {
		return available(doc.Title + "\n\n" + doc.Text)
	}
	return available(doc.Text)
}

// PlainText reads UTF-8 text files. Content that is not valid UTF-8 is decoded
// as Windows-1252, which covers the Latin-1 exports common in legacy tooling.
type PlainText struct{}

func (PlainText) Extract(_ context.Context, path string) Result {
	b, err := os.ReadFile(path)
	if err != nil {
		return unavailable(err)
	}
	if utf8.Valid(b) {
		return available(string(b))
	}
	decoded, err := charmap.Windows1252.NewDecoder().Bytes(b)
	if err != nil {
		return unavailable(fmt.Errorf("decode %s: %w", path, err))
	}
	return available(string(decoded))
}

// Registry dispatches to an Extractor by lower-case file extension.
type Registry map[string]Extractor

// DefaultRegistry handles PDF, HTML, plain text and Markdown sources.
func DefaultRegistry() Registry {
	return Registry{
		".pdf":  PDF{},
		".html": HTML{},
		".htm":  HTML{},
		".txt":  PlainText{},
		".md":   PlainText{},
	}
}

// Extract implements Extractor.
func (r Registry) Extract(ctx context.Context, path string) Result {
	ext := strings.ToLower(filepath.Ext(path))
	e, ok := r[ext]
	if !ok {
		return unavailable(fmt.Errorf("%w: %q", ErrUnsupported, ext))
	}
	return e.Extract(ctx, path)
}

// Extensions lists the registered extensions.
func (r Registry) Extensions() []string {
	out := make([]string, 0, len(r))
	for ext := range r {
		out = append(out, ext)
	}
	sort.Strings(out)
	return out
}
