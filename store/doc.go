// Package store provides named, disk-backed key-value maps.
//
// A Registry hands out one singleton Store per name; two Create calls with the
// same name return the same instance. Each store owns a single JSON file whose
// name is derived from the store name (sanitized, so untrusted names cannot
// escape the data directory).
//
// Reads are always served from memory. Mutations are synchronous in memory and
// persisted through a debounced atomic writer, so rapid mutation bursts cost
// one disk write.
//
// Load policy: a store loads its file lazily on first access if Load() was not
// called explicitly. Mutating before Load is therefore always safe; the lazy
// load happens first and the mutation lands on top of the loaded state.
package store
