package services

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
	"github.com/dzintars-a/coldkeeper/internal/server/workflows"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// MaxRetrievalFiles caps how many files one retrieval request may name.
const MaxRetrievalFiles = 10

// RetrievalService triggers per-file rehydration runs.
type RetrievalService struct {
	db          *sql.DB
	repomanager repomanager.RepositoryManager
	engine      *workflow.Engine
	log         logging.Logger
}

func NewRetrievalService(db *sql.DB, rm repomanager.RepositoryManager, engine *workflow.Engine, log logging.Logger) *RetrievalService {
	return &RetrievalService{db: db, repomanager: rm, engine: engine, log: log}
}

// RetrievalStarted reports the outcome per requested file.
type RetrievalStarted struct {
	FileID      string `json:"fileId"`
	OperationID string `json:"operationId"`
	InstanceID  string `json:"instanceId"`
	// AlreadyRunning is set when a rehydration for this file was in
	// flight before this request.
	AlreadyRunning bool `json:"alreadyRunning,omitempty"`
}

// StartRetrieval creates one Retrieve operation and one rehydration run
// per file. Requests above MaxRetrievalFiles are rejected outright; a file
// whose rehydration is already running is reported, not restarted.
func (s *RetrievalService) StartRetrieval(ctx context.Context, tenantID string, fileIDs []string) ([]RetrievalStarted, error) {
	if tenantID == "" {
		return nil, fmt.Errorf("%w: tenant id is required", common.ErrValidation)
	}
	if len(fileIDs) == 0 {
		return nil, fmt.Errorf("%w: no file ids given", common.ErrValidation)
	}
	if len(fileIDs) > MaxRetrievalFiles {
		return nil, fmt.Errorf("%w: %d requested, limit %d", common.ErrTooManyFiles, len(fileIDs), MaxRetrievalFiles)
	}

	files, err := s.repomanager.Files(s.db).ListByIDs(ctx, tenantID, fileIDs)
	if err != nil {
		return nil, err
	}
	byID := make(map[string]*models.FileRecord, len(files))
	for _, f := range files {
		byID[f.ID] = f
	}

	out := make([]RetrievalStarted, 0, len(fileIDs))
	for _, fileID := range fileIDs {
		f, ok := byID[fileID]
		if !ok {
			return nil, fmt.Errorf("%w: file %s", common.ErrNotFound, fileID)
		}
		if f.ArchiveStatus != models.FileArchived {
			return nil, fmt.Errorf("%w: file %s is %s, not archived", common.ErrValidation, fileID, f.ArchiveStatus)
		}

		opID := models.DeriveOperationID(fileID, "")
		if err := s.ensureRetrieveOp(ctx, opID, f); err != nil {
			return nil, err
		}

		instanceID := models.RetrieveInstanceID(fileID)
		input, err := json.Marshal(workflows.RehydrateInput{
			TenantID:    tenantID,
			FileID:      fileID,
			OperationID: opID,
			BlobKey:     workflows.BlobKey(tenantID, fileID),
			Path:        f.Path,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: %v", common.ErrInternal, err)
		}

		started := RetrievalStarted{FileID: fileID, OperationID: opID, InstanceID: instanceID}
		err = s.engine.Start(ctx, models.WorkflowRetrieve, instanceID, input)
		switch {
		case errors.Is(err, common.ErrDuplicateWorkflow):
			started.AlreadyRunning = true
		case err != nil:
			return nil, err
		}
		out = append(out, started)
	}

	s.log.Info(ctx, "retrieval started", "tenant", tenantID, "files", len(out))
	return out, nil
}

// ensureRetrieveOp creates the idempotent Retrieve operation, reusing an
// in-flight record and superseding a terminal one.
func (s *RetrievalService) ensureRetrieveOp(ctx context.Context, opID string, f *models.FileRecord) error {
	ops := s.repomanager.Operations(s.db)

	existing, err := ops.Get(ctx, opID)
	switch {
	case err == nil && !existing.Status.IsTerminal():
		return nil
	case err == nil:
		if err := ops.DeleteTerminal(ctx, opID); err != nil {
			return err
		}
	case !errors.Is(err, common.ErrNotFound):
		return err
	}

	return ops.Create(ctx, &models.ArchiveOperation{
		ID:         opID,
		TenantID:   f.TenantID,
		FileID:     f.ID,
		SiteID:     f.SiteID,
		Action:     models.ActionRetrieve,
		SourcePath: workflows.BlobKey(f.TenantID, f.ID),
		DestPath:   f.Path,
		TargetTier: models.TierWarm,
		Status:     models.OpPending,
	})
}
