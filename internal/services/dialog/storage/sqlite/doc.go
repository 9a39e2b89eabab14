// Package sqlite implements the dialog storage contracts on SQLite using the
// pure-Go modernc.org/sqlite driver.
//
// The event log and the read model live in separate databases so projections
// can be dropped and rebuilt without touching the log.
package sqlite
