// Package api exposes the archive core over HTTP: run triggers, run
// status, retrievals, approval ingestion, veto resolution, rule CRUD with
// preview and tenant settings.
package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dzintars-a/coldkeeper/internal/common"
	"github.com/dzintars-a/coldkeeper/internal/logging"
	"github.com/dzintars-a/coldkeeper/internal/server/models"
	"github.com/dzintars-a/coldkeeper/internal/server/services"
)

// maxBodyBytes caps inbound request bodies.
const maxBodyBytes = 1 << 20

// Handlers bundles the services behind the HTTP surface.
type Handlers struct {
	archive    *services.ArchiveService
	retrieval  *services.RetrievalService
	veto       *services.VetoService
	approval   *services.ApprovalService
	rules      *services.RuleService
	settings   *services.SettingsService
	evaluation *services.EvaluationService
	sync       *services.SyncService
	log        logging.Logger
}

func NewHandlers(archive *services.ArchiveService, retrieval *services.RetrievalService,
	veto *services.VetoService, approval *services.ApprovalService,
	rules *services.RuleService, settings *services.SettingsService,
	evaluation *services.EvaluationService, sync *services.SyncService, log logging.Logger) *Handlers {
	return &Handlers{
		archive:    archive,
		retrieval:  retrieval,
		veto:       veto,
		approval:   approval,
		rules:      rules,
		settings:   settings,
		evaluation: evaluation,
		sync:       sync,
		log:        log,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

type apiError struct {
	Error string `json:"error"`
}

// writeError maps the service error taxonomy onto HTTP statuses.
func (h *Handlers) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, common.ErrValidation), errors.Is(err, common.ErrTooManyFiles):
		status = http.StatusBadRequest
	case errors.Is(err, common.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, common.ErrDuplicateWorkflow), errors.Is(err, common.ErrVersionConflict):
		status = http.StatusConflict
	}
	if status == http.StatusInternalServerError {
		h.log.Error(r.Context(), "request failed", "path", r.URL.Path, "error", err.Error())
		writeJSON(w, status, apiError{Error: "internal error"})
		return
	}
	writeJSON(w, status, apiError{Error: err.Error()})
}

func decodeBody(r *http.Request, v any) error {
	body := http.MaxBytesReader(nil, r.Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		return common.ErrValidation
	}
	return nil
}

type startArchiveRequest struct {
	TenantID string `json:"tenantId"`
	OrgID    string `json:"orgId,omitempty"`
	RuleID   string `json:"ruleId,omitempty"`
}

func (h *Handlers) StartArchive(w http.ResponseWriter, r *http.Request) {
	var req startArchiveRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	instanceID, err := h.archive.StartArchive(r.Context(), req.TenantID, req.OrgID, req.RuleID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"instanceId": instanceID})
}

func (h *Handlers) GetArchiveRun(w http.ResponseWriter, r *http.Request) {
	st, err := h.archive.GetArchiveStatus(r.Context(), chi.URLParam(r, "instanceID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type startRetrievalRequest struct {
	TenantID string   `json:"tenantId"`
	FileIDs  []string `json:"fileIds"`
}

func (h *Handlers) StartRetrieval(w http.ResponseWriter, r *http.Request) {
	var req startRetrievalRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	started, err := h.retrieval.StartRetrieval(r.Context(), req.TenantID, req.FileIDs)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, started)
}

func (h *Handlers) HandleApproval(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
	if err != nil {
		h.writeError(w, r, common.ErrValidation)
		return
	}
	if err := h.approval.HandleApprovalAction(r.Context(), payload); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, nil)
}

type vetoResolutionRequest struct {
	TenantID   string                  `json:"tenantId"`
	Resolution services.VetoResolution `json:"resolution"`
	Actor      string                  `json:"actor"`
}

func (h *Handlers) ResolveVeto(w http.ResponseWriter, r *http.Request) {
	var req vetoResolutionRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	out, err := h.veto.ResolveVeto(r.Context(), req.TenantID, chi.URLParam(r, "operationID"), req.Resolution, req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) SyncSite(w http.ResponseWriter, r *http.Request) {
	n, err := h.sync.SyncSite(r.Context(), chi.URLParam(r, "tenantID"), chi.URLParam(r, "siteID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"files": n})
}

type ruleRequest struct {
	TenantID   string             `json:"tenantId"`
	Name       string             `json:"name"`
	Type       models.RuleType    `json:"type"`
	Criteria   json.RawMessage    `json:"criteria"`
	TargetTier models.StorageTier `json:"targetTier,omitempty"`
	Actor      string             `json:"actor"`
}

type ruleResponse struct {
	ID         string             `json:"id"`
	TenantID   string             `json:"tenantId"`
	Name       string             `json:"name"`
	Type       models.RuleType    `json:"type"`
	Criteria   json.RawMessage    `json:"criteria"`
	TargetTier models.StorageTier `json:"targetTier,omitempty"`
	Active     bool               `json:"active"`
}

func toRuleResponse(r *models.ArchiveRule) ruleResponse {
	return ruleResponse{
		ID:         r.ID,
		TenantID:   r.TenantID,
		Name:       r.Name,
		Type:       r.Type,
		Criteria:   json.RawMessage(r.Criteria),
		TargetTier: r.TargetTier,
		Active:     r.Active,
	}
}

func (h *Handlers) ListRules(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	if tenantID == "" {
		h.writeError(w, r, common.ErrValidation)
		return
	}
	list, err := h.rules.List(r.Context(), tenantID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	out := make([]ruleResponse, 0, len(list))
	for i := range list {
		out = append(out, toRuleResponse(&list[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handlers) CreateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rule, err := h.rules.Create(r.Context(), &models.ArchiveRule{
		TenantID:   req.TenantID,
		Name:       req.Name,
		Type:       req.Type,
		Criteria:   req.Criteria,
		TargetTier: req.TargetTier,
	}, req.Actor)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, toRuleResponse(rule))
}

func (h *Handlers) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var req ruleRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	rule := &models.ArchiveRule{
		ID:         chi.URLParam(r, "ruleID"),
		TenantID:   req.TenantID,
		Name:       req.Name,
		Type:       req.Type,
		Criteria:   req.Criteria,
		TargetTier: req.TargetTier,
		Active:     true,
	}
	if err := h.rules.Update(r.Context(), rule, req.Actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toRuleResponse(rule))
}

func (h *Handlers) DeleteRule(w http.ResponseWriter, r *http.Request) {
	tenantID := r.URL.Query().Get("tenantId")
	actor := r.URL.Query().Get("actor")
	if tenantID == "" {
		h.writeError(w, r, common.ErrValidation)
		return
	}
	if err := h.rules.Delete(r.Context(), tenantID, chi.URLParam(r, "ruleID"), actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusNoContent, nil)
}

type previewRequest struct {
	TenantID   string             `json:"tenantId"`
	Type       models.RuleType    `json:"type"`
	Criteria   json.RawMessage    `json:"criteria"`
	TargetTier models.StorageTier `json:"targetTier"`
}

func (h *Handlers) PreviewRule(w http.ResponseWriter, r *http.Request) {
	var req previewRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	if req.TenantID == "" {
		h.writeError(w, r, common.ErrValidation)
		return
	}
	res, err := h.evaluation.Preview(r.Context(), req.TenantID, req.Type, req.Criteria, req.TargetTier)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

type settingsResponse struct {
	TenantID         string `json:"tenantId"`
	AutoApprovalDays *int   `json:"autoApprovalDays"`
}

func (h *Handlers) GetSettings(w http.ResponseWriter, r *http.Request) {
	s, err := h.settings.Get(r.Context(), chi.URLParam(r, "tenantID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{TenantID: s.TenantID, AutoApprovalDays: s.AutoApprovalDays})
}

type settingsRequest struct {
	AutoApprovalDays *int   `json:"autoApprovalDays"`
	Actor            string `json:"actor"`
}

func (h *Handlers) PutSettings(w http.ResponseWriter, r *http.Request) {
	var req settingsRequest
	if err := decodeBody(r, &req); err != nil {
		h.writeError(w, r, err)
		return
	}
	tenantID := chi.URLParam(r, "tenantID")
	if err := h.settings.SetAutoApprovalDays(r.Context(), tenantID, req.AutoApprovalDays, req.Actor); err != nil {
		h.writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, settingsResponse{TenantID: tenantID, AutoApprovalDays: req.AutoApprovalDays})
}
