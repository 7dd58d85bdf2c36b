package workflows

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

func startRehydrate(t *testing.T, f *fixture, in RehydrateInput) string {
	t.Helper()
	id := models.RetrieveInstanceID(in.FileID)
	payload, err := json.Marshal(in)
	require.NoError(t, err)
	require.NoError(t, f.engine.Start(context.Background(), models.WorkflowRetrieve, id, payload))
	return id
}

// seedArchivedFile places one deep-archived file: blob in the object
// store, metadata in the file repository, a Pending retrieve operation.
func seedArchivedFile(f *fixture, fileID, path string, content []byte) RehydrateInput {
	key := BlobKey("t1", fileID)
	f.blobs.put(key, content, models.TierArchive)
	f.files.mu.Lock()
	f.files.files[fileID] = &models.FileRecord{
		ID:            fileID,
		TenantID:      "t1",
		SiteID:        "site-1",
		Path:          path,
		SizeBytes:     int64(len(content)),
		ArchiveStatus: models.FileArchived,
		StorageTier:   models.TierArchive,
	}
	f.files.mu.Unlock()
	opID := models.DeriveOperationID(fileID, "")
	f.ops.put(&models.ArchiveOperation{
		ID:         opID,
		TenantID:   "t1",
		FileID:     fileID,
		SiteID:     "site-1",
		Action:     models.ActionRetrieve,
		SourcePath: key,
		DestPath:   path,
		TargetTier: models.TierWarm,
		Status:     models.OpPending,
	})
	return RehydrateInput{
		TenantID:    "t1",
		FileID:      fileID,
		OperationID: opID,
		BlobKey:     key,
		Path:        path,
	}
}

func TestRehydrate_PollsUntilWarmThenRetrieves(t *testing.T) {
	f := newFixture(testParams())
	in := seedArchivedFile(f, "f1", "Shared Documents/Legal/old.pdf", []byte("frozen content"))
	// Probe 1 is the initiate, probes 2 and 3 are polls; the object
	// reports restored on the third.
	f.blobs.warmAfterProbes = 3

	id := startRehydrate(t, f, in)
	f.engine.Wait(id)

	inst, err := f.engine.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, inst.Status)

	var res RehydrateResult
	require.NoError(t, json.Unmarshal(inst.Result, &res))
	assert.Equal(t, "f1", res.FileID)
	assert.Equal(t, 1, res.Attempts)

	assert.Equal(t, 1, f.blobs.restoreRequests, "restore must be requested exactly once")
	assert.Equal(t, []byte("frozen content"), f.docs.replacedContent(in.Path))

	op := f.ops.get(in.OperationID)
	require.NotNil(t, op)
	assert.Equal(t, models.OpCompleted, op.Status)

	rec := f.files.get("f1")
	require.NotNil(t, rec)
	assert.Equal(t, models.FileRetrieved, rec.ArchiveStatus)
	assert.Equal(t, models.TierWarm, rec.StorageTier)

	// The retained copy leaves the archive tier so a repeat retrieval
	// streams directly.
	assert.Equal(t, models.TierCool, f.blobs.tierOf(in.BlobKey))

	assert.Contains(t, f.aud.actions(), "retrieve.completed")
}

func TestRehydrate_AlreadyWarmSkipsRestore(t *testing.T) {
	f := newFixture(testParams())
	in := seedArchivedFile(f, "f1", "Shared Documents/Legal/cool.pdf", []byte("cool content"))
	f.blobs.mu.Lock()
	f.blobs.objects[in.BlobKey].tier = models.TierCool
	f.blobs.mu.Unlock()

	id := startRehydrate(t, f, in)
	f.engine.Wait(id)

	inst, err := f.engine.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, inst.Status)

	assert.Zero(t, f.blobs.restoreRequests, "non-archive tiers need no restore")
	assert.Equal(t, []byte("cool content"), f.docs.replacedContent(in.Path))
	assert.Equal(t, models.OpCompleted, f.ops.statusOf(in.OperationID))
}

func TestRehydrate_InProgressRestoreNotReRequested(t *testing.T) {
	f := newFixture(testParams())
	in := seedArchivedFile(f, "f1", "Shared Documents/Legal/mid.pdf", []byte("mid content"))
	f.blobs.mu.Lock()
	f.blobs.objects[in.BlobKey].restoreInProgress = true
	f.blobs.mu.Unlock()
	f.blobs.warmAfterProbes = 2

	id := startRehydrate(t, f, in)
	f.engine.Wait(id)

	inst, err := f.engine.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, inst.Status)
	assert.Zero(t, f.blobs.restoreRequests, "a running restore must not be re-requested")
}

func TestRehydrate_CeilingExhaustedRetriesThenFails(t *testing.T) {
	params := testParams()
	params.PollCeiling = 10 * time.Millisecond
	params.PollInterval = 3 * time.Millisecond
	params.RehydrateAttempts = 2
	f := newFixture(params)
	in := seedArchivedFile(f, "f1", "Shared Documents/Legal/stuck.pdf", []byte("never warm"))

	id := startRehydrate(t, f, in)
	f.engine.Wait(id)

	inst, err := f.engine.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, workflow.StatusFailed, inst.Status)
	assert.Contains(t, inst.Error, "polling ceiling")

	// Both full sequences request a restore; the failure lands on the
	// operation record, not just the instance.
	assert.Equal(t, 1, f.blobs.restoreRequests, "restore stays in progress across attempts")
	op := f.ops.get(in.OperationID)
	require.NotNil(t, op)
	assert.Equal(t, models.OpFailed, op.Status)
	assert.Contains(t, op.Error, "polling ceiling")
	assert.Empty(t, f.docs.replacedContent(in.Path))
}

func TestRehydrate_SecondAttemptSucceeds(t *testing.T) {
	params := testParams()
	params.PollCeiling = 8 * time.Millisecond
	params.PollInterval = 3 * time.Millisecond
	params.RehydrateAttempts = 3
	f := newFixture(params)
	in := seedArchivedFile(f, "f1", "Shared Documents/Legal/slow.pdf", []byte("slow content"))
	// Stay cold through the whole first sequence, warm early in the second.
	f.blobs.warmAfterProbes = 8

	id := startRehydrate(t, f, in)
	f.engine.Wait(id)

	inst, err := f.engine.Status(context.Background(), id)
	require.NoError(t, err)
	require.Equal(t, workflow.StatusCompleted, inst.Status)

	var res RehydrateResult
	require.NoError(t, json.Unmarshal(inst.Result, &res))
	assert.Greater(t, res.Attempts, 1, "first sequence must have been retried")
	assert.Equal(t, models.OpCompleted, f.ops.statusOf(in.OperationID))
	assert.Equal(t, []byte("slow content"), f.docs.replacedContent(in.Path))
}
