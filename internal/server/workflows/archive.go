package workflows

import (
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

// Workflows is the registered orchestration set.
type Workflows struct {
	params Params
}

func New(params Params) *Workflows {
	return &Workflows{params: params}
}

// Register wires both orchestrations and every activity into the engine.
func Register(e *workflow.Engine, w *Workflows, a *Activities) {
	e.RegisterWorkflow(models.WorkflowArchive, w.Archive)
	e.RegisterWorkflow(models.WorkflowRetrieve, w.Rehydrate)

	e.RegisterActivity(ActivityEnumerate, a.Enumerate)
	e.RegisterActivity(ActivityLoadSettings, a.LoadSettings)
	e.RegisterActivity(ActivityNotifyOwner, a.NotifyOwner)
	e.RegisterActivity(ActivitySetSiteStatus, a.SetSiteStatus)
	e.RegisterActivity(ActivityApproveSite, a.ApproveSite)
	e.RegisterActivity(ActivityVetoSite, a.VetoSite)
	e.RegisterActivity(ActivityMigrateFile, a.MigrateFile)
	e.RegisterActivity(ActivityFailOperation, a.FailOperation)
	e.RegisterActivity(ActivityFinalizeRun, a.FinalizeRun)
	e.RegisterActivity(ActivityInitiateRestore, a.InitiateRestore)
	e.RegisterActivity(ActivityCheckRestore, a.CheckRestore)
	e.RegisterActivity(ActivityMarkRetrieving, a.MarkRetrieving)
	e.RegisterActivity(ActivityRetrieveFile, a.RetrieveFile)
}

// siteGroup is the per-(site, owner) notification unit plus the candidate
// operations it covers.
type siteGroup struct {
	key   string
	group models.SiteOwnerFileGroup
	ops   []CandidateOp
}

// groupCandidates buckets candidates by (site, owner) in a deterministic
// order so replay walks the same groups.
func groupCandidates(cands []CandidateOp) []*siteGroup {
	byKey := make(map[string]*siteGroup)
	for _, c := range cands {
		key := c.SiteID + "|" + c.OwnerID + "|" + c.OwnerEmail
		g, ok := byKey[key]
		if !ok {
			g = &siteGroup{
				key: key,
				group: models.SiteOwnerFileGroup{
					SiteID:     c.SiteID,
					SiteName:   c.SiteName,
					OwnerID:    c.OwnerID,
					OwnerEmail: c.OwnerEmail,
					OwnerName:  c.OwnerName,
					TargetTier: c.TargetTier,
				},
			}
			byKey[key] = g
		}
		g.ops = append(g.ops, c)
		g.group.FileIDs = append(g.group.FileIDs, c.FileID)
		g.group.FileCount++
		g.group.TotalBytes += c.SizeBytes
	}

	keys := make([]string, 0, len(byKey))
	for k := range byKey {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	groups := make([]*siteGroup, 0, len(keys))
	for _, k := range keys {
		groups = append(groups, byKey[k])
	}
	return groups
}

// Archive is the top-level archive orchestration. Control flow is strictly
// sequential; parallelism happens only in the explicit fan-out stages
// (notification sends, per-chunk migrations, multi-site auto-approval).
func (w *Workflows) Archive(ctx *workflow.Context, input []byte) ([]byte, error) {
	var in ArchiveInput
	if err := json.Unmarshal(input, &in); err != nil {
		return nil, fmt.Errorf("decode input: %w", err)
	}
	log := ctx.Logger()

	var cands []CandidateOp
	err := ctx.ExecuteActivity(ActivityEnumerate,
		enumerateInput{TenantID: in.TenantID, RuleID: in.RuleID}, &cands, w.params.StatusRetry)
	if err != nil {
		return nil, err
	}

	result := ArchiveResult{Status: RunCompleted, TotalCandidates: len(cands)}
	if len(cands) == 0 {
		return json.Marshal(result)
	}

	groups := groupCandidates(cands)

	var settings settingsOut
	err = ctx.ExecuteActivity(ActivityLoadSettings,
		enumerateInput{TenantID: in.TenantID}, &settings, w.params.StatusRetry)
	if err != nil {
		return nil, err
	}

	// Immediate auto-approval: no notifications at all, every site goes
	// AwaitingApproval then Approved in parallel.
	if settings.AutoApprovalDays != nil && *settings.AutoApprovalDays == 0 {
		futs := make([]*workflow.Future, len(groups))
		for i, g := range groups {
			futs[i] = ctx.ExecuteActivityAsync(ActivityApproveSite,
				approveSiteInput{TenantID: in.TenantID, SiteID: g.group.SiteID, Actor: "system:auto-approval"},
				w.params.StatusRetry)
		}
		for _, f := range futs {
			if err := f.Get(nil); err != nil {
				return nil, err
			}
		}
		result.ApprovedSites = len(groups)
		return w.migrate(ctx, in, groups, result)
	}

	autoApprove := settings.AutoApprovalDays != nil
	waitFor := w.params.ApprovalCeiling
	respondByDays := 0
	if autoApprove {
		respondByDays = *settings.AutoApprovalDays
		waitFor = time.Duration(respondByDays) * 24 * time.Hour
	}

	// Notification fan-out. Delivery failure drops the site from this
	// run; its operations stay Pending for the next one.
	notifyFuts := make([]*workflow.Future, len(groups))
	for i, g := range groups {
		notifyFuts[i] = ctx.ExecuteActivityAsync(ActivityNotifyOwner, notifyInput{
			Group:         g.group,
			TenantID:      in.TenantID,
			InstanceID:    ctx.InstanceID(),
			RespondByDays: respondByDays,
		}, w.params.NotifyRetry)
	}

	var delivered []*siteGroup
	for i, f := range notifyFuts {
		if err := f.Get(nil); err != nil {
			if workflow.IsCanceled(err) {
				return nil, err
			}
			log.Warn(ctx.StdContext(), "notification failed, site skipped this run",
				"site", groups[i].group.SiteID, "error", err.Error())
			result.SkippedFiles += groups[i].group.FileCount
			continue
		}
		delivered = append(delivered, groups[i])
	}
	result.NotifiedSites = len(delivered)

	for _, g := range delivered {
		err := ctx.ExecuteActivity(ActivitySetSiteStatus, siteStatusInput{
			TenantID: in.TenantID, SiteID: g.group.SiteID,
			From: models.OpPending, To: models.OpAwaitingApproval,
		}, nil, w.params.StatusRetry)
		if err != nil {
			return nil, err
		}
	}

	// Arm every approval wait first so all sites share one deadline, then
	// collect them in registration order. Collection order only decides
	// when counters increment, never how long anything waits.
	sigFuts := make([]*workflow.SignalFuture, len(delivered))
	for i, g := range delivered {
		sigFuts[i] = ctx.ArmSignal("approval:"+g.group.SiteID, waitFor)
	}

	var approved []*siteGroup
	for i, g := range delivered {
		payload, ok, err := sigFuts[i].Wait()
		if err != nil {
			return nil, err
		}

		if !ok {
			if autoApprove {
				err := ctx.ExecuteActivity(ActivityApproveSite,
					approveSiteInput{TenantID: in.TenantID, SiteID: g.group.SiteID, Actor: "system:auto-approval"},
					nil, w.params.StatusRetry)
				if err != nil {
					return nil, err
				}
				approved = append(approved, g)
			} else {
				// Auto-approval disabled: unanswered sites are skipped,
				// their operations return to Pending for the next run.
				err := ctx.ExecuteActivity(ActivitySetSiteStatus, siteStatusInput{
					TenantID: in.TenantID, SiteID: g.group.SiteID,
					From: models.OpAwaitingApproval, To: models.OpPending,
				}, nil, w.params.StatusRetry)
				if err != nil {
					return nil, err
				}
				result.SkippedFiles += g.group.FileCount
			}
			continue
		}

		var action models.ApprovalActionInput
		if err := json.Unmarshal(payload, &action); err != nil {
			log.Warn(ctx.StdContext(), "malformed approval payload, site skipped",
				"site", g.group.SiteID, "error", err.Error())
			// Skipped like a timeout: operations go back to Pending so the
			// next run can pick the site up again.
			err := ctx.ExecuteActivity(ActivitySetSiteStatus, siteStatusInput{
				TenantID: in.TenantID, SiteID: g.group.SiteID,
				From: models.OpAwaitingApproval, To: models.OpPending,
			}, nil, w.params.StatusRetry)
			if err != nil {
				return nil, err
			}
			result.SkippedFiles += g.group.FileCount
			continue
		}

		switch action.Action {
		case models.ApprovalApprove:
			err := ctx.ExecuteActivity(ActivityApproveSite,
				approveSiteInput{TenantID: in.TenantID, SiteID: g.group.SiteID, Actor: action.Actor},
				nil, w.params.StatusRetry)
			if err != nil {
				return nil, err
			}
			approved = append(approved, g)
		case models.ApprovalReject:
			err := ctx.ExecuteActivity(ActivityVetoSite, vetoSiteInput{
				TenantID: in.TenantID, SiteID: g.group.SiteID,
				Actor: action.Actor, Reason: action.Reason, At: ctx.Now(),
				FileIDs: g.group.FileIDs,
			}, nil, w.params.StatusRetry)
			if err != nil {
				return nil, err
			}
			result.VetoedSites++
			result.SkippedFiles += g.group.FileCount
		case models.ApprovalReview:
			err := ctx.ExecuteActivity(ActivitySetSiteStatus, siteStatusInput{
				TenantID: in.TenantID, SiteID: g.group.SiteID,
				From: models.OpAwaitingApproval, To: models.OpReviewRequested,
			}, nil, w.params.StatusRetry)
			if err != nil {
				return nil, err
			}
			result.ReviewSites++
			result.SkippedFiles += g.group.FileCount
		default:
			log.Warn(ctx.StdContext(), "unknown approval action, site skipped",
				"site", g.group.SiteID, "action", string(action.Action))
			err := ctx.ExecuteActivity(ActivitySetSiteStatus, siteStatusInput{
				TenantID: in.TenantID, SiteID: g.group.SiteID,
				From: models.OpAwaitingApproval, To: models.OpPending,
			}, nil, w.params.StatusRetry)
			if err != nil {
				return nil, err
			}
			result.SkippedFiles += g.group.FileCount
		}
	}
	result.ApprovedSites = len(approved)

	return w.migrate(ctx, in, approved, result)
}

// migrate fans the approved files out in fixed-size chunks: parallel
// within a chunk, strictly sequential across chunks.
func (w *Workflows) migrate(ctx *workflow.Context, in ArchiveInput, approved []*siteGroup, result ArchiveResult) ([]byte, error) {
	var batch []CandidateOp
	for _, g := range approved {
		batch = append(batch, g.ops...)
	}

	chunk := w.params.MigrateChunkSize
	if chunk <= 0 {
		chunk = 1
	}
	for start := 0; start < len(batch); start += chunk {
		end := start + chunk
		if end > len(batch) {
			end = len(batch)
		}

		futs := make([]*workflow.Future, 0, end-start)
		for _, op := range batch[start:end] {
			futs = append(futs, ctx.ExecuteActivityAsync(ActivityMigrateFile, op, w.params.MigrateRetry))
		}
		for i, f := range futs {
			if err := f.Get(nil); err != nil {
				if workflow.IsCanceled(err) {
					return nil, err
				}
				result.FailedFiles++
				op := batch[start+i]
				ferr := ctx.ExecuteActivity(ActivityFailOperation,
					failOpInput{OperationID: op.OperationID, Error: err.Error()},
					nil, w.params.StatusRetry)
				if ferr != nil {
					return nil, ferr
				}
				continue
			}
			result.CompletedFiles++
		}
	}

	if result.FailedFiles > 0 {
		result.Status = RunCompletedWithErrors
	}

	err := ctx.ExecuteActivity(ActivityFinalizeRun, finalizeInput{
		TenantID: in.TenantID, InstanceID: ctx.InstanceID(), Result: result,
	}, nil, w.params.StatusRetry)
	if err != nil {
		return nil, err
	}
	return json.Marshal(result)
}
