// Package persist provides the debounced, atomic file-write primitive shared by
// the scheduler's job list and every named store.
//
// A Writer owns exactly one file. Mutations mark it dirty; a fixed debounce
// window coalesces rapid mutations into a single write. Writes always go to a
// temp file in the same directory followed by an atomic rename, so a crash
// leaves either the previous file fully intact or the new file fully written.
package persist
