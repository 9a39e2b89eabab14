// Package conversation implements the conversation aggregate: the state folded
// from a conversation's event log, and the decider that turns commands into
// events or rejections.
//
// Lifecycle:
//
//	(none) --start--> active <--pause/resume--> paused
//	active|paused --end--> ended (terminal)
//
// Decide and Fold are pure. Timestamps come from the caller's clock, clamped
// so accepted messages never move backwards in time.
package conversation
