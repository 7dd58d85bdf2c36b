package workflows

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/blobstore"
	"github.com/dzintars-a/coldkeeper/internal/server/docstore"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/notify"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/repomanager"
)

// Activity names registered with the engine.
const (
	ActivityEnumerate       = "enumerate_candidates"
	ActivityLoadSettings    = "load_settings"
	ActivityNotifyOwner     = "notify_owner"
	ActivitySetSiteStatus   = "set_site_status"
	ActivityApproveSite     = "approve_site"
	ActivityVetoSite        = "veto_site"
	ActivityMigrateFile     = "migrate_file"
	ActivityFailOperation   = "fail_operation"
	ActivityFinalizeRun     = "finalize_run"
	ActivityInitiateRestore = "initiate_restore"
	ActivityCheckRestore    = "check_restore"
	ActivityMarkRetrieving  = "mark_retrieving"
	ActivityRetrieveFile    = "retrieve_file"
)

// Activities bundle the side-effecting collaborators the orchestrations
// call into. Each activity is idempotent: the engine may run it more than
// once for the same command.
type Activities struct {
	db         *sql.DB
	rm         repomanager.RepositoryManager
	candidates CandidateSource
	blobs      blobstore.Store
	docs       docstore.Client
	sender     notify.Sender
	auditSink  audit.Sink
	log        logging.Logger
}

func NewActivities(db *sql.DB, rm repomanager.RepositoryManager, candidates CandidateSource,
	blobs blobstore.Store, docs docstore.Client, sender notify.Sender,
	auditSink audit.Sink, log logging.Logger) *Activities {
	return &Activities{
		db:         db,
		rm:         rm,
		candidates: candidates,
		blobs:      blobs,
		docs:       docs,
		sender:     sender,
		auditSink:  auditSink,
		log:        log,
	}
}

// BlobKey is the object-store key a file's archived content lives under.
func BlobKey(tenantID, fileID string) string {
	return fmt.Sprintf("%s/%s", tenantID, fileID)
}

type enumerateInput struct {
	TenantID string `json:"tenantId"`
	RuleID   string `json:"ruleId,omitempty"`
}

// Enumerate evaluates the tenant's active files against its rules and
// creates (or reuses) one Pending operation per (file, rule) match. An
// in-flight operation for the same pair is returned unchanged; a terminal
// predecessor is replaced so the deterministic id can be reused.
func (a *Activities) Enumerate(ctx context.Context, input []byte) ([]byte, error) {
	var in enumerateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}

	cands, err := a.candidates.ArchiveCandidates(ctx, in.TenantID, in.RuleID)
	if err != nil {
		return nil, fmt.Errorf("evaluate candidates: %w", err)
	}

	ops := a.rm.Operations(a.db)
	out := make([]CandidateOp, 0, len(cands))
	for _, c := range cands {
		opID := models.DeriveOperationID(c.File.ID, c.RuleID)

		existing, err := ops.Get(ctx, opID)
		switch {
		case err == nil && !existing.Status.IsTerminal():
			// Still in flight from a previous run; reuse as-is.
		case err == nil:
			if err := ops.DeleteTerminal(ctx, opID); err != nil {
				return nil, fmt.Errorf("supersede operation %s: %w", opID, err)
			}
			if err := a.createOp(ctx, opID, &c); err != nil {
				return nil, err
			}
		case errors.Is(err, common.ErrNotFound):
			if err := a.createOp(ctx, opID, &c); err != nil {
				return nil, err
			}
		default:
			return nil, fmt.Errorf("load operation %s: %w", opID, err)
		}

		out = append(out, CandidateOp{
			OperationID: opID,
			TenantID:    c.File.TenantID,
			FileID:      c.File.ID,
			RuleID:      c.RuleID,
			SiteID:      c.File.SiteID,
			SiteName:    c.File.SiteName,
			OwnerID:     c.File.OwnerID,
			OwnerEmail:  c.File.OwnerEmail,
			OwnerName:   c.File.OwnerName,
			Path:        c.File.Path,
			SizeBytes:   c.File.SizeBytes,
			TargetTier:  c.TargetTier,
		})
	}
	return json.Marshal(out)
}

func (a *Activities) createOp(ctx context.Context, opID string, c *Candidate) error {
	op := &models.ArchiveOperation{
		ID:         opID,
		TenantID:   c.File.TenantID,
		FileID:     c.File.ID,
		RuleID:     c.RuleID,
		SiteID:     c.File.SiteID,
		Action:     models.ActionArchive,
		SourcePath: c.File.Path,
		DestPath:   BlobKey(c.File.TenantID, c.File.ID),
		TargetTier: c.TargetTier,
		Status:     models.OpPending,
	}
	if err := a.rm.Operations(a.db).Create(ctx, op); err != nil {
		return fmt.Errorf("create operation %s: %w", opID, err)
	}
	if err := a.rm.Files(a.db).UpdateArchiveState(ctx, c.File.ID, models.FilePendingArchive, ""); err != nil {
		return fmt.Errorf("mark file pending: %w", err)
	}
	return nil
}

type settingsOut struct {
	AutoApprovalDays *int `json:"autoApprovalDays"`
}

func (a *Activities) LoadSettings(ctx context.Context, input []byte) ([]byte, error) {
	var in enumerateInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	s, err := a.rm.Settings(a.db).Get(ctx, in.TenantID)
	if err != nil {
		return nil, fmt.Errorf("load settings: %w", err)
	}
	return json.Marshal(settingsOut{AutoApprovalDays: s.AutoApprovalDays})
}

type notifyInput struct {
	Group         models.SiteOwnerFileGroup `json:"group"`
	TenantID      string                    `json:"tenantId"`
	InstanceID    string                    `json:"instanceId"`
	RespondByDays int                       `json:"respondByDays,omitempty"`
}

// NotifyOwner sends one approval card for a (site, owner) group. A
// recipient with no addressable identity fails non-retryably.
func (a *Activities) NotifyOwner(ctx context.Context, input []byte) ([]byte, error) {
	var in notifyInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}

	rcpt := notify.Recipient{
		AccountID: in.Group.OwnerID,
		Email:     in.Group.OwnerEmail,
		Name:      in.Group.OwnerName,
	}
	if err := rcpt.Validate(); err != nil {
		return nil, err
	}

	card := notify.Card{
		TenantID:        in.TenantID,
		SiteID:          in.Group.SiteID,
		SiteName:        in.Group.SiteName,
		OrchestrationID: in.InstanceID,
		FileCount:       in.Group.FileCount,
		TotalBytes:      in.Group.TotalBytes,
		TargetTier:      in.Group.TargetTier,
		RespondByDays:   in.RespondByDays,
	}
	if err := a.sender.SendCard(ctx, rcpt, card); err != nil {
		return nil, err
	}
	return nil, nil
}

type siteStatusInput struct {
	TenantID string                 `json:"tenantId"`
	SiteID   string                 `json:"siteId"`
	From     models.OperationStatus `json:"from"`
	To       models.OperationStatus `json:"to"`
}

// SetSiteStatus moves every operation of one site from one status to
// another. Idempotent: a repeat run finds zero rows in `from` and is a
// no-op.
func (a *Activities) SetSiteStatus(ctx context.Context, input []byte) ([]byte, error) {
	var in siteStatusInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	n, err := a.rm.Operations(a.db).SetStatusForSite(ctx, in.TenantID, in.SiteID, in.From, in.To)
	if err != nil {
		return nil, err
	}
	return json.Marshal(map[string]int64{"moved": n})
}

type approveSiteInput struct {
	TenantID string `json:"tenantId"`
	SiteID   string `json:"siteId"`
	Actor    string `json:"actor"`
}

// ApproveSite approves every AwaitingApproval operation of the site.
func (a *Activities) ApproveSite(ctx context.Context, input []byte) ([]byte, error) {
	var in approveSiteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	ops := a.rm.Operations(a.db)
	if _, err := ops.SetStatusForSite(ctx, in.TenantID, in.SiteID, models.OpAwaitingApproval, models.OpApproved); err != nil {
		return nil, err
	}
	if _, err := ops.SetStatusForSite(ctx, in.TenantID, in.SiteID, models.OpPending, models.OpApproved); err != nil {
		return nil, err
	}
	return nil, nil
}

type vetoSiteInput struct {
	TenantID string    `json:"tenantId"`
	SiteID   string    `json:"siteId"`
	Actor    string    `json:"actor"`
	Reason   string    `json:"reason,omitempty"`
	At       time.Time `json:"at"`
	FileIDs  []string  `json:"fileIds"`
}

// VetoSite vetoes the site's awaiting operations and returns the files to
// Active so they keep serving reads.
func (a *Activities) VetoSite(ctx context.Context, input []byte) ([]byte, error) {
	var in vetoSiteInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	if _, err := a.rm.Operations(a.db).RecordVetoForSite(ctx, in.TenantID, in.SiteID, in.Actor, in.Reason, in.At); err != nil {
		return nil, err
	}
	files := a.rm.Files(a.db)
	for _, id := range in.FileIDs {
		if err := files.UpdateArchiveState(ctx, id, models.FileActive, ""); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

type migrateOut struct {
	FileID string `json:"fileId"`
}

// MigrateFile moves one approved file to the blob store: download from the
// document store, upload at the target tier, verify the stored byte count,
// replace the source content with a stub and mark everything done. A size
// mismatch deletes the partial blob and fails the operation hard.
//
// The activity runs at least once, so re-execution must not repeat the
// copy: a retry after the stub step would re-upload the stub over the
// archived content. An already-Completed operation returns immediately,
// and a blob already holding the expected byte count skips straight to
// the stub and status writes.
func (a *Activities) MigrateFile(ctx context.Context, input []byte) ([]byte, error) {
	var in CandidateOp
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	ops := a.rm.Operations(a.db)

	op, err := ops.Get(ctx, in.OperationID)
	if err != nil {
		return nil, fmt.Errorf("load operation %s: %w", in.OperationID, err)
	}
	if op.Status == models.OpCompleted {
		return json.Marshal(migrateOut{FileID: in.FileID})
	}

	key := BlobKey(in.TenantID, in.FileID)

	copied := false
	if props, err := a.blobs.GetProperties(ctx, key); err == nil && props.SizeBytes == in.SizeBytes {
		copied = true
	}

	if !copied {
		body, size, err := a.docs.Download(ctx, in.TenantID, in.Path)
		if err != nil {
			return nil, fmt.Errorf("download %s: %w", in.Path, err)
		}
		defer body.Close()

		meta := map[string]string{"file-id": in.FileID, "source-path": in.Path}
		if err := a.blobs.Upload(ctx, key, body, size, in.TargetTier, meta); err != nil {
			return nil, fmt.Errorf("upload %s: %w", key, err)
		}

		props, err := a.blobs.GetProperties(ctx, key)
		if err != nil {
			return nil, fmt.Errorf("probe %s: %w", key, err)
		}
		if props.SizeBytes != size {
			// Partial write; remove it before recording the failure.
			if delErr := a.blobs.Delete(ctx, key); delErr != nil {
				a.log.Warn(ctx, "delete mismatched blob failed", "key", key, "error", delErr.Error())
			}
			msg := fmt.Sprintf("blob size mismatch for %s: stored %d, expected %d", key, props.SizeBytes, size)
			if err := ops.MarkFailed(ctx, in.OperationID, msg); err != nil {
				return nil, err
			}
			return nil, common.NonRetryable(errors.New(msg))
		}
	}

	// Re-stubbing an already-stubbed source is a no-op at the gateway.
	if err := a.docs.RemoveContent(ctx, in.TenantID, in.Path); err != nil {
		return nil, fmt.Errorf("stub source %s: %w", in.Path, err)
	}
	if err := a.rm.Files(a.db).UpdateArchiveState(ctx, in.FileID, models.FileArchived, in.TargetTier); err != nil {
		return nil, err
	}
	if err := ops.MarkCompleted(ctx, in.OperationID); err != nil {
		return nil, err
	}
	return json.Marshal(migrateOut{FileID: in.FileID})
}

type failOpInput struct {
	OperationID string `json:"operationId"`
	Error       string `json:"error"`
}

// FailOperation persists a failure message on the operation. Used so the
// failure stays visible even if the orchestration record itself is later
// superseded.
func (a *Activities) FailOperation(ctx context.Context, input []byte) ([]byte, error) {
	var in failOpInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	if err := a.rm.Operations(a.db).MarkFailed(ctx, in.OperationID, in.Error); err != nil {
		return nil, err
	}
	return nil, nil
}

type finalizeInput struct {
	TenantID   string        `json:"tenantId"`
	InstanceID string        `json:"instanceId"`
	Result     ArchiveResult `json:"result"`
}

// FinalizeRun appends the run summary to the audit sink.
func (a *Activities) FinalizeRun(ctx context.Context, input []byte) ([]byte, error) {
	var in finalizeInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	details, _ := json.Marshal(in.Result)
	audit.Log(ctx, a.auditSink, a.log, audit.Event{
		TenantID: in.TenantID,
		Actor:    "system",
		Action:   "archive.completed",
		Entity:   "workflow",
		EntityID: in.InstanceID,
		Details:  details,
	})
	return nil, nil
}

type restoreInput struct {
	TenantID    string `json:"tenantId"`
	FileID      string `json:"fileId"`
	OperationID string `json:"operationId"`
	BlobKey     string `json:"blobKey"`
	KeepDays    int    `json:"keepDays,omitempty"`
}

type restoreState struct {
	Warm bool `json:"warm"`
}

// InitiateRestore starts rehydration of an archive-tier blob. Reports the
// blob already warm when it sits on a readable tier or a restore has
// finished; an already-running restore is not re-requested.
func (a *Activities) InitiateRestore(ctx context.Context, input []byte) ([]byte, error) {
	var in restoreInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	props, err := a.blobs.GetProperties(ctx, in.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", in.BlobKey, err)
	}
	if props.Tier != models.TierArchive || props.Restored {
		return json.Marshal(restoreState{Warm: true})
	}
	if !props.RestoreInProgress {
		if err := a.blobs.RequestRestore(ctx, in.BlobKey, in.KeepDays); err != nil {
			return nil, fmt.Errorf("request restore %s: %w", in.BlobKey, err)
		}
	}
	return json.Marshal(restoreState{Warm: false})
}

// CheckRestore probes whether the blob has become readable.
func (a *Activities) CheckRestore(ctx context.Context, input []byte) ([]byte, error) {
	var in restoreInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	props, err := a.blobs.GetProperties(ctx, in.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", in.BlobKey, err)
	}
	return json.Marshal(restoreState{Warm: props.Tier != models.TierArchive || props.Restored})
}

// MarkRetrieving transitions the operation into the retrieval phase.
func (a *Activities) MarkRetrieving(ctx context.Context, input []byte) ([]byte, error) {
	var in restoreInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}
	if err := a.rm.Operations(a.db).UpdateStatus(ctx, in.OperationID, models.OpRetrieving); err != nil {
		return nil, err
	}
	return nil, nil
}

type retrieveInput struct {
	TenantID    string `json:"tenantId"`
	FileID      string `json:"fileId"`
	OperationID string `json:"operationId"`
	BlobKey     string `json:"blobKey"`
	Path        string `json:"path"`
}

// RetrieveFile republishes rehydrated content to its original document
// store location and completes the operation.
func (a *Activities) RetrieveFile(ctx context.Context, input []byte) ([]byte, error) {
	var in retrieveInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, common.NonRetryable(err)
	}

	props, err := a.blobs.GetProperties(ctx, in.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("probe %s: %w", in.BlobKey, err)
	}
	body, err := a.blobs.Download(ctx, in.BlobKey)
	if err != nil {
		return nil, fmt.Errorf("download %s: %w", in.BlobKey, err)
	}
	defer body.Close()

	if err := a.docs.Replace(ctx, in.TenantID, in.Path, body, props.SizeBytes); err != nil {
		return nil, fmt.Errorf("republish %s: %w", in.Path, err)
	}

	// Move the retained copy off the archive tier: the restored window is
	// temporary, and a repeat retrieval should stream directly.
	if props.Tier == models.TierArchive {
		if err := a.blobs.SetTier(ctx, in.BlobKey, models.TierCool); err != nil {
			a.log.Warn(ctx, "retier retrieved blob failed", "key", in.BlobKey, "error", err.Error())
		}
	}

	if err := a.rm.Files(a.db).UpdateArchiveState(ctx, in.FileID, models.FileRetrieved, models.TierWarm); err != nil {
		return nil, err
	}
	if err := a.rm.Operations(a.db).MarkCompleted(ctx, in.OperationID); err != nil {
		return nil, err
	}
	audit.Log(ctx, a.auditSink, a.log, audit.Event{
		TenantID: in.TenantID,
		Actor:    "system",
		Action:   "retrieve.completed",
		Entity:   "operation",
		EntityID: in.OperationID,
	})
	return nil, nil
}
