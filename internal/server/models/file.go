// Package models defines server-side data models persisted in the database.
package models

import "time"

// ArchiveStatus tracks where a file is in its archival lifecycle.
type ArchiveStatus string

const (
	FileActive         ArchiveStatus = "active"
	FilePendingArchive ArchiveStatus = "pending_archive"
	FileArchived       ArchiveStatus = "archived"
	FileRetrieved      ArchiveStatus = "retrieved"
	FileFailed         ArchiveStatus = "failed"
)

// StorageTier is a storage cost/latency class a file can be migrated to.
type StorageTier string

const (
	TierWarm StorageTier = "warm"
	TierCool StorageTier = "cool"
	TierCold StorageTier = "cold"
	// TierArchive is the deep-archive tier. Files here must be rehydrated
	// before they can be read again.
	TierArchive StorageTier = "archive"
)

// FileRecord is enumerated file metadata owned by the scan subsystem.
// The archive core only mutates ArchiveStatus and StorageTier.
type FileRecord struct {
	ID       string
	TenantID string
	SiteID   string
	SiteName string

	// Path is the document-store path including the library segment,
	// e.g. "Shared Documents/Finance/q1.xlsx".
	Path      string
	Name      string
	Extension string
	SizeBytes int64

	// OwnerID/OwnerEmail identify the content owner (last modifier) and
	// the recipient of approval requests.
	OwnerID    string
	OwnerEmail string
	OwnerName  string

	LastModified time.Time
	// LastAccessed may be zero when the document store does not track it;
	// age rules then fall back to LastModified.
	LastAccessed time.Time

	ArchiveStatus ArchiveStatus
	StorageTier   StorageTier
}

// EffectiveActivity returns the moment the file was last touched,
// preferring access time over modification time.
func (f *FileRecord) EffectiveActivity() time.Time {
	if !f.LastAccessed.IsZero() {
		return f.LastAccessed
	}
	return f.LastModified
}
