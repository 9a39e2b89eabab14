// Package app wires the dialog runtime: stores, the command engine, the
// projection and publish followers, the HTTP API and the gRPC health server.
package app
