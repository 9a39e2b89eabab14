// Package event defines the canonical event envelope and event-type registry
// used by the conversation write path.
//
// Events are immutable facts emitted by accepted decisions. The registry
// enforces actor metadata, entity addressing and payload validity before the
// event store assigns sequence and integrity fields. Replay, projections and
// downstream subscribers all depend on the same type names.
package event
