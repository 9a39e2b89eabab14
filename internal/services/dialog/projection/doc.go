// Package projection builds read models from immutable event history.
//
// Read models are kept separate from the conversation aggregate so queries
// can serve summaries and message history without replaying a log per
// request. A replay.Follower delivers each conversation's events to the
// Applier in order; the summary's last sequence makes redelivery harmless.
package projection
