// Package stores records what hostwire did: every command, package and
// service run with its outcome, plus telemetry snapshots per host. The
// SQLite store migrates its own schema from embedded SQL files.
package stores
