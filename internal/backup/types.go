// Package backup takes verified point-in-time snapshots of the SQLite memory
// store, typically before a card rebuild replaces thread collections.
package backup

import (
	"time"
)

// DefaultKeep is the number of snapshots retained when Config.Keep is unset.
const DefaultKeep = 5

// Config holds snapshot service configuration.
type Config struct {
	// DBPath is the path to the SQLite database file to snapshot
	DBPath string

	// Dir is the directory where snapshots are stored
	Dir string

	// Keep is the number of newest snapshots to retain (default: 5)
	Keep int

	// Verify runs an integrity check on every new snapshot
	Verify bool
}

// Info describes a snapshot file.
type Info struct {
	Path      string
	Timestamp time.Time // Taken from the file name, or the modification time
	Size      int64
}

// Result contains the result of a snapshot operation.
type Result struct {
	// Path is the path to the created snapshot file
	Path string

	// Duration is how long the snapshot took
	Duration time.Duration

	// Size is the snapshot file size in bytes
	Size int64

	// Verified indicates the snapshot passed the integrity check
	Verified bool

	// Pruned lists snapshots removed by retention
	Pruned []string
}
