// Package workflows holds the orchestration logic of the archive core:
// the archive run (candidate enumeration, owner approval, batched
// migration) and the per-file rehydration run, both written against the
// replayable workflow engine, plus the activities they invoke.
package workflows

import (
	"context"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// ArchiveInput is the JSON input of an archive run.
type ArchiveInput struct {
	TenantID string `json:"tenantId"`
	OrgID    string `json:"orgId,omitempty"`
	// RuleID scopes the run to one rule; empty means all active rules.
	RuleID string `json:"ruleId,omitempty"`
}

// ArchiveRunStatus is the business outcome of an archive run. It is
// distinct from the engine instance status: a run whose migrations partly
// failed still completes at the engine level.
type ArchiveRunStatus string

const (
	RunCompleted           ArchiveRunStatus = "Completed"
	RunCompletedWithErrors ArchiveRunStatus = "CompletedWithErrors"
)

// ArchiveResult is the aggregated summary returned by an archive run.
type ArchiveResult struct {
	Status          ArchiveRunStatus `json:"status"`
	TotalCandidates int              `json:"totalCandidates"`
	NotifiedSites   int              `json:"notifiedSites"`
	ApprovedSites   int              `json:"approvedSites"`
	VetoedSites     int              `json:"vetoedSites"`
	ReviewSites     int              `json:"reviewSites"`
	// SkippedFiles aggregates every file left unmigrated this run:
	// vetoed, under review, notification failed, or timed out with
	// auto-approval disabled. Individual skip reasons are not preserved.
	SkippedFiles   int `json:"skippedFiles"`
	CompletedFiles int `json:"completedFiles"`
	FailedFiles    int `json:"failedFiles"`
}

// RehydrateInput is the JSON input of a rehydration run.
type RehydrateInput struct {
	TenantID    string `json:"tenantId"`
	FileID      string `json:"fileId"`
	OperationID string `json:"operationId"`
	BlobKey     string `json:"blobKey"`
	Path        string `json:"path"`
}

// RehydrateResult is returned by a successful rehydration run.
type RehydrateResult struct {
	FileID   string `json:"fileId"`
	Attempts int    `json:"attempts"`
}

// CandidateOp is one file proposed for migration together with its
// idempotent operation record, as produced by the enumeration activity.
type CandidateOp struct {
	OperationID string             `json:"operationId"`
	TenantID    string             `json:"tenantId"`
	FileID      string             `json:"fileId"`
	RuleID      string             `json:"ruleId"`
	SiteID      string             `json:"siteId"`
	SiteName    string             `json:"siteName"`
	OwnerID     string             `json:"ownerId"`
	OwnerEmail  string             `json:"ownerEmail"`
	OwnerName   string             `json:"ownerName"`
	Path        string             `json:"path"`
	SizeBytes   int64              `json:"sizeBytes"`
	TargetTier  models.StorageTier `json:"targetTier"`
}

// Candidate is a file/rule match produced by the evaluation layer.
type Candidate struct {
	File       *models.FileRecord
	RuleID     string
	TargetTier models.StorageTier
}

// CandidateSource supplies archive candidates for a tenant, optionally
// scoped to one rule. Implemented by the evaluation service.
type CandidateSource interface {
	ArchiveCandidates(ctx context.Context, tenantID, ruleID string) ([]Candidate, error)
}

// Params are the timing and batching knobs of both orchestrations. Tests
// shrink the durations to milliseconds; production uses DefaultParams.
type Params struct {
	// ApprovalCeiling is the wait applied when auto-approval is disabled.
	// Sites that never respond within it are skipped.
	ApprovalCeiling time.Duration

	// NotifyRetry covers one initial send plus three retries, backing
	// off 10s/20s/40s under the default profile.
	NotifyRetry  workflow.RetryPolicy
	MigrateRetry workflow.RetryPolicy
	StatusRetry  workflow.RetryPolicy

	// MigrateChunkSize bounds migration concurrency: chunks run
	// sequentially, items within a chunk run in parallel.
	MigrateChunkSize int

	RehydrateAttempts       int
	RehydrateInitialBackoff time.Duration
	PollInterval            time.Duration
	PollCeiling             time.Duration
	// RestoreKeepDays is how long a restored copy stays readable.
	RestoreKeepDays int
}

// DefaultParams returns the production timing profile.
func DefaultParams() Params {
	return Params{
		ApprovalCeiling:         30 * 24 * time.Hour,
		NotifyRetry:             workflow.RetryPolicy{MaxAttempts: 4, InitialBackoff: 10 * time.Second, BackoffFactor: 2},
		MigrateRetry:            workflow.RetryPolicy{MaxAttempts: 3, InitialBackoff: 10 * time.Second, BackoffFactor: 2},
		StatusRetry:             workflow.RetryPolicy{MaxAttempts: 3, InitialBackoff: 2 * time.Second, BackoffFactor: 2},
		MigrateChunkSize:        10,
		RehydrateAttempts:       3,
		RehydrateInitialBackoff: 5 * time.Minute,
		PollInterval:            30 * time.Minute,
		PollCeiling:             16 * time.Hour,
		RestoreKeepDays:         7,
	}
}
