// Package watch re-runs a callback when documents under the source
// locations change, coalescing bursts of file events.
package watch

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// DefaultDebounce is the quiet period required after the last event.
const DefaultDebounce = 500 * time.Millisecond

// Watcher watches Locations recursively.
type Watcher struct {
	Locations []string
	// Extensions limits which files count as changes. Empty means all.
	Extensions []string
	Debounce   time.Duration
	// OnChange runs after each quiet period that followed relevant events.
	// Errors are logged; watching continues.
	OnChange func(ctx context.Context) error
}

// Run blocks until ctx is done. Missing locations are skipped with a warning;
// if none can be watched Run fails immediately.
func (w *Watcher) Run(ctx context.Context) error {
	if w.OnChange == nil {
		return errors.New("watch: OnChange is required")
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	watched := 0
	for _, loc := range w.Locations {
		n, err := addTree(fw, loc)
		if err != nil {
			log.Warn().Str("location", loc).Err(err).Msg("cannot watch location")
			continue
		}
		watched += n
	}
	if watched == 0 {
		return errors.New("watch: no location could be watched")
	}
	log.Info().Int("dirs", watched).Msg("watching for changes")
	return w.loop(ctx, fw.Events, fw.Errors, func(dir string) bool {
		if _, err := addTree(fw, dir); err != nil {
			log.Debug().Str("dir", dir).Err(err).Msg("cannot watch new directory")
		}
		return hasDocuments(dir, w.Extensions)
	})
}

// loop debounces relevant events and invokes OnChange. addDir is called for
// newly created directories and reports whether they already hold documents,
// as when a populated folder is moved into a location.
func (w *Watcher) loop(ctx context.Context, events <-chan fsnotify.Event, errs <-chan error, addDir func(string) bool) error {
	debounce := w.Debounce
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	timer := time.NewTimer(debounce)
	if !timer.Stop() {
		<-timer.C
	}
	pending := false
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			relevant := false
			if info, err := os.Stat(ev.Name); err == nil && info.IsDir() {
				if !ev.Has(fsnotify.Create) || !addDir(ev.Name) {
					continue
				}
				relevant = true
			} else {
				relevant = Relevant(ev, w.Extensions)
			}
			if !relevant {
				continue
			}
			log.Debug().Str("path", ev.Name).Str("op", ev.Op.String()).Msg("change detected")
			if pending && !timer.Stop() {
				select {
				case <-timer.C:
				default:
				}
			}
			timer.Reset(debounce)
			pending = true
		case err, ok := <-errs:
			if !ok {
				return nil
			}
			log.Warn().Err(err).Msg("watch error")
		case <-timer.C:
			pending = false
			if err := w.OnChange(ctx); err != nil {
				log.Error().Err(err).Msg("re-run after change failed")
			}
		}
	}
}

// Relevant reports whether ev touches a document: chmod-only events, hidden
// files and in-progress downloads are ignored.
func Relevant(ev fsnotify.Event, extensions []string) bool {
	if ev.Op == fsnotify.Chmod || ev.Op == 0 {
		return false
	}
	base := filepath.Base(ev.Name)
	if strings.HasPrefix(base, ".") || strings.HasSuffix(base, ".part") {
		return false
	}
	if len(extensions) == 0 {
		return true
	}
	ext := strings.ToLower(filepath.Ext(base))
	for _, e := range extensions {
		e = strings.ToLower(strings.TrimSpace(e))
		if !strings.HasPrefix(e, ".") {
			e = "." + e
		}
		if e == ext {
			return true
		}
	}
	return false
}

// hasDocuments reports whether any file under root passes Relevant.
func hasDocuments(root string, extensions []string) bool {
	found := false
	_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != root && strings.HasPrefix(d.Name(), ".") {
				return fs.SkipDir
			}
			return nil
		}
		if Relevant(fsnotify.Event{Name: path, Op: fsnotify.Create}, extensions) {
			found = true
			return fs.SkipAll
		}
		return nil
	})
	return found
}

func addTree(fw *fsnotify.Watcher, root string) (int, error) {
	n := 0
	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return fs.SkipDir
		}
		if err := fw.Add(path); err != nil {
			return err
		}
		n++
		return nil
	})
	return n, err
}
