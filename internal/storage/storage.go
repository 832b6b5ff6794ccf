// Package storage defines the persistence interface for collection records.
package storage

import (
	"context"
	"errors"

	"github.com/hyperjump/storyforge/internal/models"
)

// ErrDuplicate is returned by CreateRecord when (collection, id) already exists.
var ErrDuplicate = errors.New("record already exists")

// Storage defines record and ingestion-state persistence operations.
type Storage interface {
	// Record operations
	CreateRecord(ctx context.Context, rec *models.Record) error
	GetRecord(ctx context.Context, collection, id string) (*models.Record, error)
	HasRecord(ctx context.Context, collection, id string) (bool, error)
	ListRecords(ctx context.Context, collection string, offset, limit int) ([]*models.Record, error)
	DeleteRecord(ctx context.Context, collection, id string) error
	// DeleteBySource removes every record of a source file and returns what was removed.
	DeleteBySource(ctx context.Context, sourceKey string) ([]*models.Record, error)

	// Stats
	CountRecords(ctx context.Context, collection string) (int64, error)

	// Harvest bookkeeping
	GetIngestedFile(ctx context.Context, key string) (*models.IngestedFile, error)
	PutIngestedFile(ctx context.Context, f *models.IngestedFile) error
	DeleteIngestedFile(ctx context.Context, key string) error

	Close() error
}
