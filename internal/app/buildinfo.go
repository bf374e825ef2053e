package app

// Stamped with -ldflags "-X github.com/hyperifyio/pdfsnippets/internal/app.BuildVersion=..."
// by release builds and printed by `pdfsnippets version`.
var (
    BuildVersion = "0.0.0-dev"
    BuildCommit  = "unknown"
    BuildDate    = "unknown"
)
