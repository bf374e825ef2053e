package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"
)

// HTTPEntry is the metadata kept next to a cached body, enough to revalidate
// with If-None-Match / If-Modified-Since.
type HTTPEntry struct {
	URL          string    `json:"url"`
	ContentType  string    `json:"content_type"`
	ETag         string    `json:"etag"`
	LastModified string    `json:"last_modified"`
	SavedAt      time.Time `json:"saved_at"`
}

// HTTPCache stores GET responses as <sha256(url)>.meta.json and
// <sha256(url)>.body. It has no eviction; see PurgeHTTPCacheByAge.
type HTTPCache struct {
	Dir         string
	StrictPerms bool
}

func (c *HTTPCache) paths(url string) (meta string, body string, err error) {
	if c == nil || c.Dir == "" {
		return "", "", errors.New("cache dir not configured")
	}
	if err := ensureDir(c.Dir, c.StrictPerms); err != nil {
		return "", "", err
	}
	h := sha256.Sum256([]byte(url))
	key := hex.EncodeToString(h[:])
	return filepath.Join(c.Dir, key+".meta.json"), filepath.Join(c.Dir, key+".body"), nil
}

// LoadMeta returns entry metadata if present.
func (c *HTTPCache) LoadMeta(_ context.Context, url string) (*HTTPEntry, error) {
	metaPath, _, err := c.paths(url)
	if err != nil {
		return nil, err
	}
	b, err := os.ReadFile(metaPath)
	if err != nil {
		return nil, err
	}
	var e HTTPEntry
	if err := json.Unmarshal(b, &e); err != nil {
		return nil, fmt.Errorf("decode meta: %w", err)
	}
	return &e, nil
}

// LoadBody returns the cached body if present.
func (c *HTTPCache) LoadBody(_ context.Context, url string) ([]byte, error) {
	_, bodyPath, err := c.paths(url)
	if err != nil {
		return nil, err
	}
	return os.ReadFile(bodyPath)
}

// Save writes the body, then atomically replaces the metadata so a reader
// never sees metadata for a body that is not on disk yet.
func (c *HTTPCache) Save(_ context.Context, url string, contentType string, etag string, lastModified string, body []byte) error {
	metaPath, bodyPath, err := c.paths(url)
	if err != nil {
		return err
	}
	mode := fileMode(c.StrictPerms)
	if err := os.WriteFile(bodyPath, body, mode); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	data, err := json.Marshal(HTTPEntry{
		URL:          url,
		ContentType:  contentType,
		ETag:         etag,
		LastModified: lastModified,
		SavedAt:      time.Now().UTC(),
	})
	if err != nil {
		return fmt.Errorf("encode meta: %w", err)
	}
	tmp := metaPath + ".tmp"
	if err := os.WriteFile(tmp, data, mode); err != nil {
		return fmt.Errorf("write meta: %w", err)
	}
	return os.Rename(tmp, metaPath)
}
