// Package recordlog is the node's append-only buffer of sensor samples. It is
// drained only after a transfer to the controller completed.
package recordlog

import (
	"fmt"
	"log/slog"
	"time"
)

// Record is one sensor sample. Records are appended in time order by a single
// writer and never mutated.
type Record struct {
	Timestamp   time.Time
	Temperature float32
	Humidity    float32
}

// Log is the local record buffer.
type Log interface {
	// Append durably stores r. It never waits on a radio.
	Append(r Record) error
	// ReadAll returns the data records in append order, without header rows.
	ReadAll() ([]Record, error)
	// Clear empties the log. Calling it on an empty log is a no-op.
	Clear() error
	Close() error
}

// Open returns the configured backend: "csv" (path is the CSV file) or
// "sqlite" (path is the database file).
func Open(backend, path string, logger *slog.Logger) (Log, error) {
	switch backend {
	case "csv":
		return OpenCSV(path, logger)
	case "sqlite":
		return OpenSQLite(path, logger)
	default:
		return nil, fmt.Errorf("unknown record log backend %q", backend)
	}
}
