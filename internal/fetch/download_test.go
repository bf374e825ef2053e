package fetch

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"

	"golang.org/x/time/rate"
)

func pdfBody(n int) []byte {
	return append([]byte("%PDF-1.4\n"), bytes.Repeat([]byte("x"), n)...)
}

func TestDownload_WritesAtomically(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBody(2048))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "raw", "manual.pdf")
	c := &Client{UserAgent: "pdfsnippets-test"}
	n, err := c.Download(context.Background(), srv.URL+"/manual", dest, DefaultMinBytes)
	if err != nil {
		t.Fatalf("download: %v", err)
	}
	if n != int64(len(pdfBody(2048))) {
		t.Fatalf("bytes = %d", n)
	}
	if _, err := os.Stat(dest + ".part"); !os.IsNotExist(err) {
		t.Fatalf(".part file left behind")
	}
	b, _ := os.ReadFile(dest)
	if !bytes.HasPrefix(b, []byte("%PDF")) {
		t.Fatalf("unexpected content")
	}
}

func TestDownload_OctetStreamAcceptedForPDFPath(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(pdfBody(2048))
	}))
	defer srv.Close()

	dir := t.TempDir()
	c := &Client{}
	if _, err := c.Download(context.Background(), srv.URL+"/docs/Guia.PDF", filepath.Join(dir, "a.pdf"), DefaultMinBytes); err != nil {
		t.Fatalf("octet-stream with .pdf path should be accepted: %v", err)
	}
	_, err := c.Download(context.Background(), srv.URL+"/docs/guia", filepath.Join(dir, "b.pdf"), DefaultMinBytes)
	if !errors.Is(err, ErrUnsupportedContentType) {
		t.Fatalf("expected content type rejection, got %v", err)
	}
}

func TestDownload_RejectsSmallBodies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write([]byte("%PDF tiny"))
	}))
	defer srv.Close()

	dest := filepath.Join(t.TempDir(), "tiny.pdf")
	c := &Client{MaxAttempts: 3, Backoff: noBackoff}
	_, err := c.Download(context.Background(), srv.URL+"/tiny.pdf", dest, DefaultMinBytes)
	if !errors.Is(err, ErrTooSmall) {
		t.Fatalf("expected ErrTooSmall, got %v", err)
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Fatalf("small file must not be written")
	}
}

func TestDownload_RetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBody(2048))
	}))
	defer srv.Close()

	c := &Client{MaxAttempts: 3, Backoff: noBackoff}
	if _, err := c.Download(context.Background(), srv.URL+"/x.pdf", filepath.Join(t.TempDir(), "x.pdf"), DefaultMinBytes); err != nil {
		t.Fatalf("expected success on third attempt: %v", err)
	}
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
}

func TestLoadManifest(t *testing.T) {
	in := strings.Join([]string{
		"name,url",
		"regras.pdf,https://example.com/regras.pdf",
		"",
		"# comentário",
		"sem-url.pdf,",
		"../escape.pdf,https://example.com/e.pdf",
		`"a\b.pdf", https://example.com/b.pdf`,
	}, "\n")
	entries, err := LoadManifest(strings.NewReader(in))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	want := []Entry{
		{Name: "regras.pdf", URL: "https://example.com/regras.pdf"},
		{Name: ".._escape.pdf", URL: "https://example.com/e.pdf"},
		{Name: "a_b.pdf", URL: "https://example.com/b.pdf"},
	}
	if len(entries) != len(want) {
		t.Fatalf("entries = %+v", entries)
	}
	for i := range want {
		if entries[i] != want[i] {
			t.Fatalf("entry %d = %+v, want %+v", i, entries[i], want[i])
		}
	}
}

func TestLoadManifest_ColumnsByHeader(t *testing.T) {
	cases := map[string]string{
		"reordered":    "url,name\nhttps://example.com/a.pdf,a.pdf\n",
		"extra column": "id,Name,URL,notes\n1,a.pdf,https://example.com/a.pdf,primeiro\n",
		"short row":    "name,url\na.pdf,https://example.com/a.pdf\nb.pdf\n",
	}
	want := Entry{Name: "a.pdf", URL: "https://example.com/a.pdf"}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			entries, err := LoadManifest(strings.NewReader(in))
			if err != nil {
				t.Fatalf("load: %v", err)
			}
			if len(entries) != 1 || entries[0] != want {
				t.Fatalf("entries = %+v, want [%+v]", entries, want)
			}
		})
	}
}

func TestLoadManifest_RequiresHeader(t *testing.T) {
	for _, in := range []string{
		"a.pdf,https://example.com/a.pdf\n",
		"id,name\n1,a.pdf\n",
	} {
		if _, err := LoadManifest(strings.NewReader(in)); !errors.Is(err, ErrManifestHeader) {
			t.Fatalf("%q: expected ErrManifestHeader, got %v", in, err)
		}
	}
	entries, err := LoadManifest(strings.NewReader(""))
	if err != nil || len(entries) != 0 {
		t.Fatalf("empty manifest: %+v %v", entries, err)
	}
}

func TestSync_DuplicateTargetFirstWins(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fill := byte('a')
		if r.URL.Path == "/b.pdf" {
			fill = 'b'
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(bytes.Repeat([]byte{fill}, 4000))
	}))
	defer srv.Close()

	dir := t.TempDir()
	entries := []Entry{
		{Name: "x.pdf", URL: srv.URL + "/a.pdf"},
		{Name: "x.pdf", URL: srv.URL + "/b.pdf"},
	}
	c := &Client{MaxConcurrent: 4}
	results, err := Sync(context.Background(), c, entries, dir, DefaultMinBytes)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if results[0].Err != nil || results[0].Skipped {
		t.Fatalf("first entry: %+v", results[0])
	}
	if !results[1].Skipped || results[1].Err != nil {
		t.Fatalf("second entry must be skipped: %+v", results[1])
	}
	got, err := os.ReadFile(filepath.Join(dir, "x.pdf"))
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, bytes.Repeat([]byte{'a'}, 4000)) {
		t.Fatalf("file must hold the first entry's body only")
	}
	if _, err := os.Stat(filepath.Join(dir, "x.pdf.part")); !os.IsNotExist(err) {
		t.Fatalf("no partial file may remain: %v", err)
	}
}

func TestLoadManifestFile_Missing(t *testing.T) {
	if _, err := LoadManifestFile(filepath.Join(t.TempDir(), "none.csv")); err == nil {
		t.Fatalf("expected error for missing manifest")
	}
}

func TestSync_SkipsExistingAndRecordsFailures(t *testing.T) {
	var hits int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&hits, 1)
		if r.URL.Path == "/missing.pdf" {
			w.WriteHeader(http.StatusNotFound)
			return
		}
		w.Header().Set("Content-Type", "application/pdf")
		_, _ = w.Write(pdfBody(4096))
	}))
	defer srv.Close()

	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "have.pdf"), pdfBody(2048), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(dir, "stub.pdf"), []byte("tiny"), 0o644); err != nil {
		t.Fatal(err)
	}
	entries := []Entry{
		{Name: "have.pdf", URL: srv.URL + "/have.pdf"},
		{Name: "stub.pdf", URL: srv.URL + "/stub.pdf"},
		{Name: "missing.pdf", URL: srv.URL + "/missing.pdf"},
		{Name: "new.pdf", URL: srv.URL + "/new.pdf"},
	}
	c := &Client{MaxConcurrent: 2, Limiter: rate.NewLimiter(rate.Inf, 1)}
	results, err := Sync(context.Background(), c, entries, dir, DefaultMinBytes)
	if err != nil {
		t.Fatalf("sync: %v", err)
	}
	if !results[0].Skipped {
		t.Fatalf("existing file must be skipped")
	}
	if results[1].Skipped || results[1].Err != nil {
		t.Fatalf("stub must be re-downloaded: %+v", results[1])
	}
	if results[2].Err == nil {
		t.Fatalf("missing entry must record an error")
	}
	if results[3].Err != nil || results[3].Bytes == 0 {
		t.Fatalf("new entry: %+v", results[3])
	}
	if got := atomic.LoadInt32(&hits); got != 3 {
		t.Fatalf("hits = %d, want 3", got)
	}
	info, _ := os.Stat(filepath.Join(dir, "stub.pdf"))
	if info.Size() < DefaultMinBytes {
		t.Fatalf("stub not replaced")
	}
}
