// Package storage defines persistence interfaces for the dialog service.
//
// It covers the append-only conversation event log, follower checkpoints, and
// the read-side projections (conversation summaries and message history).
// Implementations live in subpackages: memory, sqlite and badger.
//
// Common error types:
//   - ErrNotFound: requested record is missing
//   - ErrConcurrencyConflict: append raced another writer
//   - ErrStorageUnavailable: the backend could not serve the request
package storage
