// Package httpapi exposes conversation commands and queries over JSON HTTP.
//
// Callers are authenticated upstream; their identity arrives in the
// X-Dialog-Actor-Type and X-Dialog-Actor-Id headers and is recorded on every
// emitted event.
//
// When built with WithEventStream, GET /v1/events streams committed events as
// server-sent events.
package httpapi
