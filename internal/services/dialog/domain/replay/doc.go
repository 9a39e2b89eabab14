// Package replay rebuilds state from a conversation's event log and keeps
// downstream consumers caught up with it.
//
// Replay is the single ordered read path over the log: the engine uses it to
// load aggregate state, and a Follower uses it to deliver events to
// projections and publishers with per-consumer checkpoints.
package replay
