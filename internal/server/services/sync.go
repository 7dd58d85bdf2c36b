package services

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/docstore"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
)

// SyncService refreshes the file inventory from the document store, one
// site at a time. Evaluation only ever sees files that went through a
// sync.
type SyncService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	docs        docstore.Client
	log         logging.Logger
}

func NewSyncService(db *sql.DB, rm repomanager.RepositoryManager, docs docstore.Client, log logging.Logger) *SyncService {
	return &SyncService{db: db, repomanager: rm, docs: docs, log: log}
}

// SyncSite enumerates the site's files in the document store and upserts
// them into the inventory in one transaction. Archive status and storage
// tier of files already in an archive lifecycle are left untouched.
func (s *SyncService) SyncSite(ctx context.Context, tenantID, siteID string) (int, error) {
	if tenantID == "" {
		return 0, fmt.Errorf("%w: tenant id is required", common.ErrValidation)
	}
	if siteID == "" {
		return 0, fmt.Errorf("%w: site id is required", common.ErrValidation)
	}

	recs, err := s.docs.EnumerateFilesForSite(ctx, tenantID, siteID)
	if err != nil {
		return 0, fmt.Errorf("enumerate site %s: %w", siteID, err)
	}

	err = dbx.WithTx(ctx, s.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		files := s.repomanager.Files(tx)
		for _, rec := range recs {
			if err := files.Upsert(ctx, rec); err != nil {
				return fmt.Errorf("upsert file %s: %w", rec.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	s.log.Info(ctx, "site inventory synced", "tenant", tenantID, "site", siteID, "files", len(recs))
	return len(recs), nil
}
