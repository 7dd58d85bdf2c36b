package workflows

import (
	"bytes"
	"context"
	"database/sql"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/blobstore"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/notify"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/files"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/operations"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/rules"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/settings"
	"github.com/dzintars-a/coldkeeper/internal/workflow"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

// testParams shrinks every orchestration duration to milliseconds.
func testParams() Params {
	return Params{
		ApprovalCeiling:         10 * time.Second,
		NotifyRetry:             workflow.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		MigrateRetry:            workflow.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		StatusRetry:             workflow.RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond},
		MigrateChunkSize:        2,
		RehydrateAttempts:       2,
		RehydrateInitialBackoff: 2 * time.Millisecond,
		PollInterval:            2 * time.Millisecond,
		PollCeiling:             time.Second,
		RestoreKeepDays:         7,
	}
}

type fakeOps struct {
	mu  sync.Mutex
	ops map[string]*models.ArchiveOperation
}

func newFakeOps() *fakeOps {
	return &fakeOps{ops: make(map[string]*models.ArchiveOperation)}
}

func (r *fakeOps) put(op *models.ArchiveOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
}

func (r *fakeOps) statusOf(id string) models.OperationStatus {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return ""
	}
	return op.Status
}

func (r *fakeOps) get(id string) *models.ArchiveOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil
	}
	cp := *op
	return &cp
}

func (r *fakeOps) Create(ctx context.Context, op *models.ArchiveOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[op.ID]; ok {
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	cp := *op
	cp.CreatedAt = time.Now().UTC()
	r.ops[op.ID] = &cp
	return nil
}

func (r *fakeOps) Get(ctx context.Context, id string) (*models.ArchiveOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (r *fakeOps) DeleteTerminal(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	if !op.Status.IsTerminal() {
		return common.ErrVersionConflict
	}
	delete(r.ops, id)
	return nil
}

func (r *fakeOps) UpdateStatus(ctx context.Context, id string, status models.OperationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	op.Status = status
	return nil
}

func (r *fakeOps) UpdateStatusIf(ctx context.Context, id string, expected, next models.OperationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	if op.Status != expected {
		return common.ErrVersionConflict
	}
	op.Status = next
	return nil
}

func (r *fakeOps) MarkCompleted(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	op.Status = models.OpCompleted
	op.CompletedAt = time.Now().UTC()
	return nil
}

func (r *fakeOps) MarkFailed(ctx context.Context, id string, errText string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	op.Status = models.OpFailed
	op.Error = models.TruncateError(errText)
	return nil
}

func (r *fakeOps) RecordApproval(ctx context.Context, id, actor string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	op.Status = models.OpApproved
	op.ApprovedBy = actor
	return nil
}

func (r *fakeOps) RecordVeto(ctx context.Context, id, actor, reason string, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	op.Status = models.OpVetoed
	op.VetoedBy = actor
	op.VetoReason = reason
	op.VetoedAt = at
	return nil
}

func (r *fakeOps) RecordVetoForSite(ctx context.Context, tenantID, siteID, actor, reason string, at time.Time) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, op := range r.ops {
		if op.TenantID == tenantID && op.SiteID == siteID && op.Status == models.OpAwaitingApproval {
			op.Status = models.OpVetoed
			op.VetoedBy = actor
			op.VetoReason = reason
			op.VetoedAt = at
			n++
		}
	}
	return n, nil
}

func (r *fakeOps) SetStatusForSite(ctx context.Context, tenantID, siteID string, from, to models.OperationStatus) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var n int64
	for _, op := range r.ops {
		if op.TenantID == tenantID && op.SiteID == siteID && op.Status == from {
			op.Status = to
			n++
		}
	}
	return n, nil
}

func (r *fakeOps) ListVetoedByPathPrefix(ctx context.Context, tenantID, prefix string) ([]*models.ArchiveOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.ArchiveOperation
	for _, op := range r.ops {
		if op.TenantID == tenantID && op.Status == models.OpVetoed && strings.HasPrefix(op.SourcePath, prefix) {
			cp := *op
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

type fakeFiles struct {
	mu    sync.Mutex
	files map[string]*models.FileRecord
	// failArchiveWrites fails this many Archived-state writes before
	// letting them through, simulating a transient store error.
	failArchiveWrites int
}

func newFakeFiles(recs ...*models.FileRecord) *fakeFiles {
	f := &fakeFiles{files: make(map[string]*models.FileRecord)}
	for _, rec := range recs {
		cp := *rec
		f.files[rec.ID] = &cp
	}
	return f
}

func (r *fakeFiles) get(id string) *models.FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (r *fakeFiles) ListActive(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.FileRecord
	for _, rec := range r.files {
		if rec.TenantID == tenantID && rec.ArchiveStatus == models.FileActive {
			cp := *rec
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Path != out[j].Path {
			return out[i].Path < out[j].Path
		}
		return out[i].ID < out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (r *fakeFiles) GetByID(ctx context.Context, tenantID, id string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[id]
	if !ok || rec.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *fakeFiles) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*models.FileRecord
	for _, id := range ids {
		if rec, ok := r.files[id]; ok && rec.TenantID == tenantID {
			cp := *rec
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (r *fakeFiles) UpdateArchiveState(ctx context.Context, id string, status models.ArchiveStatus, tier models.StorageTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if status == models.FileArchived && r.failArchiveWrites > 0 {
		r.failArchiveWrites--
		return fmt.Errorf("transient write failure")
	}
	rec, ok := r.files[id]
	if !ok {
		return common.ErrNotFound
	}
	rec.ArchiveStatus = status
	if tier != "" {
		rec.StorageTier = tier
	}
	return nil
}

func (r *fakeFiles) Upsert(ctx context.Context, f *models.FileRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *f
	if existing, ok := r.files[f.ID]; ok {
		cp.ArchiveStatus = existing.ArchiveStatus
		cp.StorageTier = existing.StorageTier
	} else if cp.ArchiveStatus == "" {
		cp.ArchiveStatus = models.FileActive
	}
	r.files[f.ID] = &cp
	return nil
}

type fakeSettings struct {
	mu     sync.Mutex
	stored map[string]*models.TenantSettings
}

func newFakeSettings() *fakeSettings {
	return &fakeSettings{stored: make(map[string]*models.TenantSettings)}
}

func (r *fakeSettings) set(tenantID string, days *int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.stored[tenantID] = &models.TenantSettings{TenantID: tenantID, AutoApprovalDays: days}
}

func (r *fakeSettings) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stored[tenantID]; ok {
		cp := *s
		return &cp, nil
	}
	return &models.TenantSettings{TenantID: tenantID}, nil
}

func (r *fakeSettings) Upsert(ctx context.Context, s *models.TenantSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.stored[s.TenantID] = &cp
	return nil
}

// fakeRM vends the in-memory repositories regardless of the DBTX handed in.
type fakeRM struct {
	ops      *fakeOps
	files    *fakeFiles
	settings *fakeSettings
}

func (m *fakeRM) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *fakeRM) Files(db dbx.DBTX) files.Repository { return m.files }

func (m *fakeRM) Operations(db dbx.DBTX) operations.Repository { return m.ops }

func (m *fakeRM) Rules(db dbx.DBTX) rules.Repository { return nil }

func (m *fakeRM) Settings(db dbx.DBTX) settings.Repository { return m.settings }

type blobObject struct {
	data              []byte
	tier              models.StorageTier
	restoreInProgress bool
	restored          bool
}

type fakeBlobs struct {
	mu              sync.Mutex
	objects         map[string]*blobObject
	deleted         []string
	restoreRequests int
	probes          int
	// warmAfterProbes flips archive-tier objects to restored once
	// GetProperties has run this many times. Zero means never.
	warmAfterProbes int
	// sizeSkew offsets the reported size to simulate a partial write.
	sizeSkew int64
}

func newFakeBlobs() *fakeBlobs {
	return &fakeBlobs{objects: make(map[string]*blobObject)}
}

func (b *fakeBlobs) put(key string, data []byte, tier models.StorageTier) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &blobObject{data: data, tier: tier}
}

func (b *fakeBlobs) has(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.objects[key]
	return ok
}

func (b *fakeBlobs) contentOf(key string) []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil
	}
	return append([]byte(nil), obj.data...)
}

func (b *fakeBlobs) tierOf(key string) models.StorageTier {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return ""
	}
	return obj.tier
}

func (b *fakeBlobs) Upload(ctx context.Context, key string, body io.Reader, size int64, tier models.StorageTier, metadata map[string]string) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.objects[key] = &blobObject{data: data, tier: tier}
	return nil
}

func (b *fakeBlobs) Download(ctx context.Context, key string) (io.ReadCloser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(obj.data)), nil
}

func (b *fakeBlobs) GetProperties(ctx context.Context, key string) (*blobstore.Properties, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, common.ErrNotFound
	}
	b.probes++
	restored := obj.restored
	if b.warmAfterProbes > 0 && b.probes >= b.warmAfterProbes {
		restored = true
	}
	return &blobstore.Properties{
		SizeBytes:         int64(len(obj.data)) + b.sizeSkew,
		Tier:              obj.tier,
		RestoreInProgress: obj.restoreInProgress,
		Restored:          restored,
	}, nil
}

func (b *fakeBlobs) SetTier(ctx context.Context, key string, tier models.StorageTier) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return common.ErrNotFound
	}
	obj.tier = tier
	return nil
}

func (b *fakeBlobs) RequestRestore(ctx context.Context, key string, days int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	obj, ok := b.objects[key]
	if !ok {
		return common.ErrNotFound
	}
	obj.restoreInProgress = true
	b.restoreRequests++
	return nil
}

func (b *fakeBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.objects, key)
	b.deleted = append(b.deleted, key)
	return nil
}

type fakeDocs struct {
	mu       sync.Mutex
	content  map[string][]byte
	stubbed  map[string]bool
	replaced map[string][]byte
}

func newFakeDocs() *fakeDocs {
	return &fakeDocs{
		content:  make(map[string][]byte),
		stubbed:  make(map[string]bool),
		replaced: make(map[string][]byte),
	}
}

func (d *fakeDocs) setContent(path string, data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.content[path] = data
}

func (d *fakeDocs) isStubbed(path string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stubbed[path]
}

func (d *fakeDocs) replacedContent(path string) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.replaced[path]
}

func (d *fakeDocs) EnumerateFilesForSite(ctx context.Context, tenantID, siteID string) ([]*models.FileRecord, error) {
	return nil, nil
}

func (d *fakeDocs) Download(ctx context.Context, tenantID, path string) (io.ReadCloser, int64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	data, ok := d.content[path]
	if !ok {
		return nil, 0, common.ErrNotFound
	}
	return io.NopCloser(bytes.NewReader(data)), int64(len(data)), nil
}

func (d *fakeDocs) Replace(ctx context.Context, tenantID, path string, body io.Reader, size int64) error {
	data, err := io.ReadAll(body)
	if err != nil {
		return err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.replaced[path] = data
	return nil
}

func (d *fakeDocs) RemoveContent(ctx context.Context, tenantID, path string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Mirror the gateway: the content is gone, only a stub remains.
	d.content[path] = []byte("[stub]")
	d.stubbed[path] = true
	return nil
}

type fakeSender struct {
	mu        sync.Mutex
	sends     []notify.Card
	attempts  int
	failSites map[string]bool
	// transientFails rejects this many sends before delivering.
	transientFails int
}

func newFakeSender() *fakeSender {
	return &fakeSender{failSites: make(map[string]bool)}
}

func (s *fakeSender) sent() []notify.Card {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]notify.Card(nil), s.sends...)
}

func (s *fakeSender) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.attempts
}

func (s *fakeSender) SendCard(ctx context.Context, recipient notify.Recipient, card notify.Card) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.failSites[card.SiteID] {
		return fmt.Errorf("webhook delivery failed for site %s", card.SiteID)
	}
	if s.transientFails > 0 {
		s.transientFails--
		return fmt.Errorf("webhook timeout")
	}
	s.sends = append(s.sends, card)
	return nil
}

type fakeAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *fakeAudit) Record(ctx context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *fakeAudit) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Action
	}
	return out
}

type fakeSource struct {
	mu    sync.Mutex
	cands []Candidate
	err   error
	// block, when non-nil, holds enumeration until closed.
	block chan struct{}
}

func (s *fakeSource) ArchiveCandidates(ctx context.Context, tenantID, ruleID string) ([]Candidate, error) {
	s.mu.Lock()
	block := s.block
	cands, err := s.cands, s.err
	s.mu.Unlock()
	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return cands, err
}

// fixture wires a MemStore engine to in-memory fakes of every collaborator.
type fixture struct {
	engine   *workflow.Engine
	source   *fakeSource
	ops      *fakeOps
	files    *fakeFiles
	settings *fakeSettings
	blobs    *fakeBlobs
	docs     *fakeDocs
	sender   *fakeSender
	aud      *fakeAudit
}

func newFixture(params Params) *fixture {
	f := &fixture{
		source:   &fakeSource{},
		ops:      newFakeOps(),
		files:    newFakeFiles(),
		settings: newFakeSettings(),
		blobs:    newFakeBlobs(),
		docs:     newFakeDocs(),
		sender:   newFakeSender(),
		aud:      &fakeAudit{},
	}
	rm := &fakeRM{ops: f.ops, files: f.files, settings: f.settings}
	acts := NewActivities(nil, rm, f.source, f.blobs, f.docs, f.sender, f.aud, testLogger())
	f.engine = workflow.NewEngine(workflow.NewMemStore(), testLogger())
	Register(f.engine, New(params), acts)
	return f
}

// addFile registers a file with both the file repository and the document
// store, and queues it as an archive candidate.
func (f *fixture) addFile(id, tenant, site, owner, path string, content []byte, tier models.StorageTier) {
	rec := &models.FileRecord{
		ID:            id,
		TenantID:      tenant,
		SiteID:        site,
		SiteName:      "Site " + site,
		Path:          path,
		SizeBytes:     int64(len(content)),
		OwnerID:       owner,
		OwnerEmail:    owner + "@example.com",
		OwnerName:     "Owner " + owner,
		ArchiveStatus: models.FileActive,
	}
	f.files.mu.Lock()
	f.files.files[id] = rec
	f.files.mu.Unlock()
	f.docs.setContent(path, content)
	f.source.mu.Lock()
	f.source.cands = append(f.source.cands, Candidate{File: rec, RuleID: "rule-1", TargetTier: tier})
	f.source.mu.Unlock()
}
