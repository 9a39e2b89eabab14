// Package query serves conversation reads from projections only. Results may
// trail the event log by the projection lag.
package query
