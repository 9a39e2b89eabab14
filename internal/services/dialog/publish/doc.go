// Package publish forwards committed conversation events to subscribers.
//
// A Relay follows the event log with its own checkpoints and hands each
// event to a Publisher in append order, so subscribers see every event of a
// conversation exactly once per relay checkpoint.
package publish
