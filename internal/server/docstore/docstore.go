// Package docstore declares the document-store client boundary: the
// external system files are enumerated from and written back to. The
// default implementation speaks to a REST gateway; tests use fakes.
package docstore

import (
	"context"
	"io"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

// Client is the document-store collaborator.
type Client interface {
	// EnumerateFilesForSite lists file metadata for one site of a tenant.
	EnumerateFilesForSite(ctx context.Context, tenantID, siteID string) ([]*models.FileRecord, error)

	// Download opens the file content at path. The returned size is the
	// authoritative byte count used to verify uploads.
	Download(ctx context.Context, tenantID, path string) (body io.ReadCloser, size int64, err error)

	// Replace writes content back to path, used when a rehydrated file is
	// republished to its original location.
	Replace(ctx context.Context, tenantID, path string, body io.Reader, size int64) error

	// RemoveContent replaces the file content with a stub after a
	// successful migration, leaving the metadata entry in place.
	RemoveContent(ctx context.Context, tenantID, path string) error
}
