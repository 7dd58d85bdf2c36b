package services

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/require"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/dbx"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/audit"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/files"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/operations"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/rules"
	"github.com/dzintars-a/coldkeeper/internal/server/repositories/settings"
)

func testLogger() logging.Logger {
	return logging.NewSlogLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError})))
}

// newTxDB returns a sqlmock-backed *sql.DB that accepts any number of
// plain begin/commit pairs. The repositories under test are in-memory
// fakes, so the transaction handle itself carries no queries.
func newTxDB(t *testing.T) *sql.DB {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	mock.MatchExpectationsInOrder(false)
	for i := 0; i < 16; i++ {
		mock.ExpectBegin()
		mock.ExpectCommit()
		mock.ExpectRollback()
	}
	return db
}

type memOps struct {
	mu  sync.Mutex
	ops map[string]*models.ArchiveOperation
}

func newMemOps() *memOps {
	return &memOps{ops: make(map[string]*models.ArchiveOperation)}
}

func (r *memOps) put(op *models.ArchiveOperation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *op
	r.ops[op.ID] = &cp
}

func (r *memOps) get(id string) *models.ArchiveOperation {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil
	}
	cp := *op
	return &cp
}

func (r *memOps) Create(ctx context.Context, op *models.ArchiveOperation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.ops[op.ID]; ok {
		return fmt.Errorf("operation %s already exists", op.ID)
	}
	cp := *op
	r.ops[op.ID] = &cp
	return nil
}

func (r *memOps) Get(ctx context.Context, id string) (*models.ArchiveOperation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return nil, common.ErrNotFound
	}
	cp := *op
	return &cp, nil
}

func (r *memOps) DeleteTerminal(ctx context.Context, id string) error {
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

func (r *memOps) UpdateStatus(ctx context.Context, id string, status models.OperationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	op, ok := r.ops[id]
	if !ok {
		return common.ErrNotFound
	}
	op.Status = status
	return nil
}

func (r *memOps) UpdateStatusIf(ctx context.Context, id string, expected, next models.OperationStatus) error {
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

func (r *memOps) MarkCompleted(ctx context.Context, id string) error {
	return r.UpdateStatus(ctx, id, models.OpCompleted)
}

func (r *memOps) MarkFailed(ctx context.Context, id string, errText string) error {
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

func (r *memOps) RecordApproval(ctx context.Context, id, actor string) error {
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

func (r *memOps) RecordVeto(ctx context.Context, id, actor, reason string, at time.Time) error {
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

func (r *memOps) RecordVetoForSite(ctx context.Context, tenantID, siteID, actor, reason string, at time.Time) (int64, error) {
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

func (r *memOps) SetStatusForSite(ctx context.Context, tenantID, siteID string, from, to models.OperationStatus) (int64, error) {
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

func (r *memOps) ListVetoedByPathPrefix(ctx context.Context, tenantID, prefix string) ([]*models.ArchiveOperation, error) {
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

type memFiles struct {
	mu    sync.Mutex
	files map[string]*models.FileRecord
}

func newMemFiles() *memFiles {
	return &memFiles{files: make(map[string]*models.FileRecord)}
}

func (r *memFiles) put(rec *models.FileRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *rec
	r.files[rec.ID] = &cp
}

func (r *memFiles) get(id string) *models.FileRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[id]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

func (r *memFiles) ListActive(ctx context.Context, tenantID string, limit int) ([]*models.FileRecord, error) {
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

func (r *memFiles) GetByID(ctx context.Context, tenantID, id string) (*models.FileRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	rec, ok := r.files[id]
	if !ok || rec.TenantID != tenantID {
		return nil, common.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (r *memFiles) ListByIDs(ctx context.Context, tenantID string, ids []string) ([]*models.FileRecord, error) {
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

func (r *memFiles) UpdateArchiveState(ctx context.Context, id string, status models.ArchiveStatus, tier models.StorageTier) error {
	r.mu.Lock()
	defer r.mu.Unlock()
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

func (r *memFiles) Upsert(ctx context.Context, f *models.FileRecord) error {
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

type memRules struct {
	mu    sync.Mutex
	rules []models.ArchiveRule
}

func (r *memRules) ListActive(ctx context.Context, tenantID string) ([]models.ArchiveRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []models.ArchiveRule
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.Active && rule.DeletedAt.IsZero() {
			out = append(out, rule)
		}
	}
	return out, nil
}

func (r *memRules) Get(ctx context.Context, tenantID, id string) (*models.ArchiveRule, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rule := range r.rules {
		if rule.TenantID == tenantID && rule.ID == id && rule.DeletedAt.IsZero() {
			cp := rule
			return &cp, nil
		}
	}
	return nil, common.ErrNotFound
}

func (r *memRules) Create(ctx context.Context, rule *models.ArchiveRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.rules = append(r.rules, *rule)
	return nil
}

func (r *memRules) Update(ctx context.Context, rule *models.ArchiveRule) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].TenantID == rule.TenantID && r.rules[i].ID == rule.ID {
			r.rules[i] = *rule
			return nil
		}
	}
	return common.ErrNotFound
}

func (r *memRules) SoftDelete(ctx context.Context, tenantID, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i := range r.rules {
		if r.rules[i].TenantID == tenantID && r.rules[i].ID == id {
			r.rules[i].DeletedAt = time.Now().UTC()
			return nil
		}
	}
	return common.ErrNotFound
}

type memSettings struct {
	mu     sync.Mutex
	stored map[string]*models.TenantSettings
}

func newMemSettings() *memSettings {
	return &memSettings{stored: make(map[string]*models.TenantSettings)}
}

func (r *memSettings) Get(ctx context.Context, tenantID string) (*models.TenantSettings, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if s, ok := r.stored[tenantID]; ok {
		cp := *s
		return &cp, nil
	}
	return &models.TenantSettings{TenantID: tenantID}, nil
}

func (r *memSettings) Upsert(ctx context.Context, s *models.TenantSettings) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := *s
	r.stored[s.TenantID] = &cp
	return nil
}

type memRM struct {
	ops      *memOps
	files    *memFiles
	rules    *memRules
	settings *memSettings
}

func newMemRM() *memRM {
	return &memRM{
		ops:      newMemOps(),
		files:    newMemFiles(),
		rules:    &memRules{},
		settings: newMemSettings(),
	}
}

func (m *memRM) RunMigrations(ctx context.Context, db *sql.DB) error { return nil }

func (m *memRM) Files(db dbx.DBTX) files.Repository { return m.files }

func (m *memRM) Operations(db dbx.DBTX) operations.Repository { return m.ops }

func (m *memRM) Rules(db dbx.DBTX) rules.Repository { return m.rules }

func (m *memRM) Settings(db dbx.DBTX) settings.Repository { return m.settings }

type memAudit struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *memAudit) Record(ctx context.Context, ev audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, ev)
	return nil
}

func (s *memAudit) actions() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.events))
	for i, ev := range s.events {
		out[i] = ev.Action
	}
	return out
}

type memInvalidator struct {
	mu      sync.Mutex
	tenants []string
}

func (i *memInvalidator) InvalidateRules(tenantID string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.tenants = append(i.tenants, tenantID)
}

func (i *memInvalidator) calls() int {
	i.mu.Lock()
	defer i.mu.Unlock()
	return len(i.tenants)
}
