package files

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
)

func newRepo(t *testing.T) (*PostgresRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresRepository(db), mock
}

func TestUpsert_DefaultsStateForNewFiles(t *testing.T) {
	repo, mock := newRepo(t)

	modified := time.Date(2025, 11, 3, 9, 0, 0, 0, time.UTC)
	f := &models.FileRecord{
		ID:           "f1",
		TenantID:     "t1",
		SiteID:       "site-1",
		SiteName:     "Finance",
		Path:         "Shared Documents/a.docx",
		Name:         "a.docx",
		Extension:    "docx",
		SizeBytes:    100,
		OwnerID:      "o1",
		OwnerEmail:   "o1@example.com",
		OwnerName:    "Owner One",
		LastModified: modified,
	}

	mock.ExpectExec("INSERT INTO files").
		WithArgs("f1", "t1", "site-1", "Finance", "Shared Documents/a.docx", "a.docx", "docx",
			int64(100), "o1", "o1@example.com", "Owner One", modified,
			sql.NullTime{}, models.FileActive, models.TierWarm).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Upsert(context.Background(), f))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestUpsert_ConflictClausePreservesArchiveState(t *testing.T) {
	// The update arm of the statement must not touch the lifecycle
	// columns; a refresh of a mid-archive file keeps its state.
	assert.NotContains(t, upsertFileQuery, "archive_status=EXCLUDED")
	assert.NotContains(t, upsertFileQuery, "storage_tier=EXCLUDED")
}
