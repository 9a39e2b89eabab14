package migrations

import "embed"

// EventsFS holds the event log schema.
//
//go:embed events/*.sql
var EventsFS embed.FS

// ProjectionsFS holds the read model and follower checkpoint schema.
//
//go:embed projections/*.sql
var ProjectionsFS embed.FS
