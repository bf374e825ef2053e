package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// DefaultMinBytes is the smallest body accepted as a real document. Anything
// shorter is almost always an error page served with a 200.
const DefaultMinBytes = 1024

// ErrTooSmall is returned when a download is shorter than the minimum size.
var ErrTooSmall = errors.New("response too small")

// Download streams rawURL into dest. The body lands in dest+".part" first
// and is renamed into place only when complete, so an interrupted run never
// leaves a truncated file under the final name. Responses are gated by
// Accept, defaulting to AcceptPDF.
func (c *Client) Download(ctx context.Context, rawURL string, dest string, minBytes int64) (int64, error) {
	accept := c.Accept
	if accept == nil {
		accept = AcceptPDF
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return 0, fmt.Errorf("create dir: %w", err)
	}
	var written int64
	err := c.retry(ctx, func(ctx context.Context) error {
		resp, err := c.do(ctx, rawURL, nil)
		if err != nil {
			return err
		}
		defer resp.Body.Close()
		if resp.StatusCode < 200 || resp.StatusCode > 299 {
			return &StatusError{Code: resp.StatusCode}
		}
		ct := resp.Header.Get("Content-Type")
		if !accept(ct, rawURL) {
			return fmt.Errorf("%w: %s", ErrUnsupportedContentType, ct)
		}
		if resp.ContentLength >= 0 && resp.ContentLength < minBytes {
			return fmt.Errorf("%w: content-length %d", ErrTooSmall, resp.ContentLength)
		}
		n, err := writePart(dest, resp.Body, minBytes)
		if err != nil {
			return err
		}
		written = n
		return nil
	})
	if err != nil {
		return 0, err
	}
	return written, nil
}

func writePart(dest string, r io.Reader, minBytes int64) (int64, error) {
	part := dest + ".part"
	f, err := os.Create(part)
	if err != nil {
		return 0, fmt.Errorf("create %s: %w", part, err)
	}
	n, err := io.Copy(f, r)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err == nil && n < minBytes {
		err = fmt.Errorf("%w: %d bytes", ErrTooSmall, n)
	}
	if err != nil {
		os.Remove(part)
		return 0, err
	}
	if err := os.Rename(part, dest); err != nil {
		os.Remove(part)
		return 0, fmt.Errorf("rename %s: %w", part, err)
	}
	return n, nil
}

// SyncResult is the fate of one manifest entry.
type SyncResult struct {
	Entry   Entry
	Path    string
	Skipped bool
	Bytes   int64
	Err     error
}

// Sync downloads every entry into dir, skipping files that already exist
// with at least minBytes. Entries that resolve to a path already claimed by
// an earlier entry are skipped, so the first one wins. Failures are recorded
// per entry and never stop the other downloads. Results follow entry order.
func Sync(ctx context.Context, c *Client, entries []Entry, dir string, minBytes int64) ([]SyncResult, error) {
	results := make([]SyncResult, len(entries))
	limit := c.MaxConcurrent
	if limit <= 0 {
		limit = 1
	}
	var g errgroup.Group
	g.SetLimit(limit)
	claimed := make(map[string]int, len(entries))
	for i, e := range entries {
		if ctx.Err() != nil {
			break
		}
		dest := filepath.Join(dir, e.Name)
		results[i] = SyncResult{Entry: e, Path: dest}
		if first, ok := claimed[dest]; ok {
			results[i].Skipped = true
			log.Warn().Str("file", e.Name).Str("url", e.URL).Str("kept", entries[first].URL).Msg("duplicate target name, skipping")
			continue
		}
		claimed[dest] = i
		if info, err := os.Stat(dest); err == nil && info.Mode().IsRegular() && info.Size() >= minBytes {
			results[i].Skipped = true
			results[i].Bytes = info.Size()
			log.Debug().Str("file", e.Name).Msg("already present, skipping")
			continue
		}
		g.Go(func() error {
			n, err := c.Download(ctx, e.URL, dest, minBytes)
			results[i].Bytes, results[i].Err = n, err
			if err != nil {
				log.Warn().Str("url", e.URL).Err(err).Msg("download failed")
			} else {
				log.Info().Str("file", e.Name).Int64("bytes", n).Msg("downloaded")
			}
			return nil
		})
	}
	_ = g.Wait()
	return results, ctx.Err()
}
