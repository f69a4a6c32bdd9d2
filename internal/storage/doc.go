package storage

// Package storage persists per-agent scheduling state across restarts.
//
// It currently supports:
//   - One JSON document per agent on disk (default)
//   - An optional SQLite backend (build with -tags sqlite)
