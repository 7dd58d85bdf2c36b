// Package blobstore adapts an S3-compatible object store to the archive
// core: tiered uploads, property probes, tier transitions, restore
// (rehydration) requests and deletes.
package blobstore

import (
	"context"
	"io"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// Properties describes the stored object state the archive core cares
// about. RestoreInProgress/Restored reflect an asynchronous rehydration
// from the archive tier.
type Properties struct {
	SizeBytes         int64
	Tier              models.StorageTier
	RestoreInProgress bool
	Restored          bool
}

// Store is the blob-store collaborator boundary.
type Store interface {
	Upload(ctx context.Context, key string, body io.Reader, size int64, tier models.StorageTier, metadata map[string]string) error
	Download(ctx context.Context, key string) (io.ReadCloser, error)
	GetProperties(ctx context.Context, key string) (*Properties, error)
	SetTier(ctx context.Context, key string, tier models.StorageTier) error
	// RequestRestore initiates rehydration of an archive-tier object and
	// keeps the restored copy readable for days.
	RequestRestore(ctx context.Context, key string, days int) error
	Delete(ctx context.Context, key string) error
}
