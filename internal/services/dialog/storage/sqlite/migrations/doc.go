// Package migrations embeds SQL migration scripts used by the SQLite stores.
package migrations
