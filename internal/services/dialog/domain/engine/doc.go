// Package engine wires command validation, per-conversation serialization,
// snapshot-backed state loading, decision routing, and optimistic event
// append for conversation command execution.
//
// This package is the runtime seam between pure domain deciders and transport
// handlers: it validates intent, decides against current state, persists the
// resulting events, and tells followers there is something new to read.
package engine
