package cache

import (
    "encoding/json"
    "errors"
    "io/fs"
    "os"
    "path/filepath"
    "strings"
    "time"
)

// ClearDir removes the directory and all contents, then recreates it empty.
func ClearDir(dir string) error {
    if strings.TrimSpace(dir) == "" {
        return errors.New("empty dir")
    }
    if err := os.RemoveAll(dir); err != nil {
        return err
    }
    return os.MkdirAll(dir, 0o755)
}

// PurgeHTTPCacheByAge removes HTTP cache entries whose SavedAt is older than
// maxAge, deleting both the meta and body files.
func PurgeHTTPCacheByAge(dir string, maxAge time.Duration) (int, error) {
    if maxAge <= 0 {
        return 0, nil
    }
    now := time.Now().UTC()
    removed := 0
    err := walkFiles(dir, func(path string, d fs.DirEntry) {
        if !strings.HasSuffix(d.Name(), ".meta.json") {
            return
        }
        b, err := os.ReadFile(path)
        if err != nil {
            return
        }
        var e HTTPEntry
        if err := json.Unmarshal(b, &e); err != nil || now.Sub(e.SavedAt) <= maxAge {
            return
        }
        removed++
        _ = os.Remove(path)
        _ = os.Remove(strings.TrimSuffix(path, ".meta.json") + ".body")
    })
    return removed, err
}

// PurgeLLMCacheByAge removes LLM answers not read or written within maxAge,
// judged by file modification time.
func PurgeLLMCacheByAge(dir string, maxAge time.Duration) (int, error) {
    if maxAge <= 0 {
        return 0, nil
    }
    now := time.Now()
    removed := 0
    err := walkFiles(dir, func(path string, d fs.DirEntry) {
        name := d.Name()
        if !strings.HasSuffix(name, ".json") || strings.HasSuffix(name, ".meta.json") {
            return
        }
        info, err := d.Info()
        if err != nil || now.Sub(info.ModTime()) <= maxAge {
            return
        }
        removed++
        _ = os.Remove(path)
    })
    return removed, err
}

// walkFiles calls fn for every regular file under dir. A missing dir is not an
// error.
func walkFiles(dir string, fn func(path string, d fs.DirEntry)) error {
    err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
        if err != nil {
            return err
        }
        if d.Type().IsRegular() {
            fn(path, d)
        }
        return nil
    })
    if errors.Is(err, fs.ErrNotExist) {
        return nil
    }
    return err
}
