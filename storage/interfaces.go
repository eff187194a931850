package storage

import (
	"context"

	"rentcomps/models"
)

// CompArchive is the interface any comp-search archive must satisfy.
type CompArchive interface {
	Write(ctx context.Context, run *models.CompResult) (string, error)
	FetchRun(ctx context.Context, id string) (*models.CompResult, error)
	Close() error
}

// RawRecordWriter is the interface for persisting unprocessed RETS rows.
type RawRecordWriter interface {
	WriteRaw(records []models.RawRecord) error
	Close() error
}
