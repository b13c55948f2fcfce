// Package logx configures timekeep's structured logging.
//
// This repo uses a small wrapper (logx.Logger) on top of zerolog to keep:
//   - Console output readable (short timestamp + short caller)
//   - File output JSON-structured
//   - The zero value safe (no-op) so components never nil-check a logger
package logx
