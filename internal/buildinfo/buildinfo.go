// Package buildinfo exposes the version and commit of the sift binary.
// Both are set at link-time.
package buildinfo

// Version is set at link-time with -ldflags.
var Version = "v0.3.0"

// Commit is set at link-time with -ldflags.
// Default is "unknown" so tests and "go run ." still work.
var Commit = "unknown"
