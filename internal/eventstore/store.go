package eventstore

import (
	"context"
	"time"
)

// Store is an append-only log of build events.
type Store interface {
	// Append records one event of buildID.
	Append(ctx context.Context, buildID, eventType string, payload []byte, metadata map[string]string) error

	// GetByBuildID returns the events of one build in append order.
	GetByBuildID(ctx context.Context, buildID string) ([]Event, error)

	// GetRange returns the events stamped within [start, end] in append order.
	GetRange(ctx context.Context, start, end time.Time) ([]Event, error)

	// Prune drops the events of all but the keepBuilds most recently started
	// builds and returns the number of removed events.
	Prune(ctx context.Context, keepBuilds int) (int64, error)

	Close() error
}
