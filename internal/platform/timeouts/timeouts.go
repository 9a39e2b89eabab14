// Package timeouts defines shared timeout constants used across the service.
package timeouts

import "time"

// GRPCDial caps the wait time when dialing the health endpoint.
const GRPCDial = 2 * time.Second

// ReadHeader limits how long an HTTP server waits for request headers.
const ReadHeader = 5 * time.Second

// Shutdown limits how long servers wait for in-flight requests during
// graceful shutdown.
const Shutdown = 5 * time.Second

// ProjectionCatchUp bounds a single synchronous projection catch-up.
const ProjectionCatchUp = 2 * time.Second
