// Package history persists firing outcomes so operators can answer "did that
// job run, and how did it go" across restarts.
//
// It currently supports:
//   - Append-only JSON Lines file (default, dependency-free at runtime)
//   - SQLite database (optional, behind the "sqlite" build tag)
package history
