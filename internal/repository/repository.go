// Package repository persists detection records in PostgreSQL.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/aegisiot/sentinel/internal/models"
)

// ErrNotFound is returned when a requested detection does not exist.
var ErrNotFound = errors.New("detection not found")

// Repository defines the storage operations the pipeline and handlers need.
type Repository interface {
	// InsertBatch writes a batch of detection records in one round trip.
	InsertBatch(ctx context.Context, detections []*models.Detection) error

	// List returns detections matching the filter, newest first.
	List(ctx context.Context, filter *models.DetectionFilter) ([]*models.Detection, error)

	// Stats aggregates detections created since the given time.
	Stats(ctx context.Context, since time.Time) (*models.DetectionStats, error)

	// DeleteOlderThan removes detections created before the cutoff and
	// returns the number of rows deleted.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// Ping verifies storage connectivity.
	Ping(ctx context.Context) error

	// Close releases the underlying connections.
	Close() error
}
