// Package api exposes the engine to the presentation layer as JSON over HTTP.
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"

	"github.com/c360studio/semreq/engine"
	"github.com/c360studio/semreq/export"
	"github.com/c360studio/semreq/quality"
	"github.com/c360studio/semreq/requirement"
	"github.com/c360studio/semreq/stats"
	"github.com/c360studio/semreq/workflow"
)

// maxRequestBodySize limits request bodies to prevent DoS.
const maxRequestBodySize = 1 << 20 // 1 MB

// Handler serves the engine operations.
type Handler struct {
	engine *engine.Engine
	logger *slog.Logger
}

// NewHandler creates a handler over e.
func NewHandler(e *engine.Engine, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{engine: e, logger: logger}
}

// RegisterHTTPHandlers registers the endpoints under prefix (e.g. "/api").
//
//	GET    <prefix>/usecases
//	POST   <prefix>/corpus/reload
//	POST   <prefix>/usecases/{uc}/load
//	GET    <prefix>/usecases/{uc}/requirements
//	POST   <prefix>/usecases/{uc}/requirements
//	DELETE <prefix>/usecases/{uc}/requirements/{id}
//	PUT    <prefix>/usecases/{uc}/requirements/{id}/override
//	DELETE <prefix>/usecases/{uc}/requirements/{id}/override
//	POST   <prefix>/usecases/{uc}/requirements/{id}/cde
//	GET    <prefix>/usecases/{uc}/stats
//	GET    <prefix>/usecases/{uc}/entities
//	GET    <prefix>/usecases/{uc}/shared-terms
//	PUT    <prefix>/usecases/{uc}/stages/{stage}
//	GET    <prefix>/usecases/{uc}/governance/{register}
//	POST   <prefix>/usecases/{uc}/governance/{register}/submit-all
//	POST   <prefix>/usecases/{uc}/governance/{register}/{id}/{action}
//	GET    <prefix>/usecases/{uc}/dimensions
//	POST   <prefix>/usecases/{uc}/dimensions
//	PUT    <prefix>/usecases/{uc}/dimensions/{name}
//	DELETE <prefix>/usecases/{uc}/dimensions/{name}
//	GET    <prefix>/usecases/{uc}/requirements/{id}/thresholds
//	PUT    <prefix>/usecases/{uc}/requirements/{id}/thresholds/{dimension}
//	POST   <prefix>/usecases/{uc}/requirements/{id}/thresholds/suggest
//	POST   <prefix>/usecases/{uc}/thresholds/suggest
//	GET    <prefix>/usecases/{uc}/export/{profile}
func (h *Handler) RegisterHTTPHandlers(prefix string, mux *http.ServeMux) {
	if !strings.HasPrefix(prefix, "/") {
		prefix = "/" + prefix
	}
	prefix = strings.TrimSuffix(prefix, "/")
	uc := prefix + "/usecases/{uc}"
	req := uc + "/requirements/{id}"

	mux.HandleFunc("GET "+prefix+"/usecases", h.handlePortfolio)
	mux.HandleFunc("POST "+prefix+"/corpus/reload", h.handleReload)
	mux.HandleFunc("POST "+uc+"/load", h.handleLoad)

	mux.HandleFunc("GET "+uc+"/requirements", h.handleListRequirements)
	mux.HandleFunc("POST "+uc+"/requirements", h.handleAddRequirement)
	mux.HandleFunc("DELETE "+req, h.handleDeleteRequirement)
	mux.HandleFunc("PUT "+req+"/override", h.handleSetOverride)
	mux.HandleFunc("DELETE "+req+"/override", h.handleClearOverride)
	mux.HandleFunc("POST "+req+"/cde", h.handleToggleCDE)

	mux.HandleFunc("GET "+uc+"/stats", h.handleStats)
	mux.HandleFunc("GET "+uc+"/entities", h.handleEntities)
	mux.HandleFunc("GET "+uc+"/shared-terms", h.handleSharedTerms)
	mux.HandleFunc("PUT "+uc+"/stages/{stage}", h.handleMarkStage)

	mux.HandleFunc("GET "+uc+"/governance/{register}", h.handleGovernance)
	mux.HandleFunc("POST "+uc+"/governance/{register}/submit-all", h.handleSubmitAll)
	mux.HandleFunc("POST "+uc+"/governance/{register}/{id}/{action}", h.handleTransition)

	mux.HandleFunc("GET "+uc+"/dimensions", h.handleDimensions)
	mux.HandleFunc("POST "+uc+"/dimensions", h.handleAddDimension)
	mux.HandleFunc("PUT "+uc+"/dimensions/{name}", h.handleRenameDimension)
	mux.HandleFunc("DELETE "+uc+"/dimensions/{name}", h.handleRemoveDimension)

	mux.HandleFunc("GET "+req+"/thresholds", h.handleThresholds)
	mux.HandleFunc("PUT "+req+"/thresholds/{dimension}", h.handleSetThreshold)
	mux.HandleFunc("POST "+req+"/thresholds/suggest", h.handleSuggest)
	mux.HandleFunc("POST "+uc+"/thresholds/suggest", h.handleSuggestAll)

	mux.HandleFunc("GET "+uc+"/export/{profile}", h.handleExport)
}

// AddRequirementRequest is the body of POST .../requirements.
type AddRequirementRequest struct {
	ID                string `json:"id,omitempty"`
	TermLabel         string `json:"term_label"`
	Definition        string `json:"definition"`
	BusinessReference string `json:"business_reference,omitempty"`
	Domain            string `json:"domain"`
	Entity            string `json:"entity"`
	Attribute         string `json:"attribute"`
	IsCDE             bool   `json:"is_cde"`
	MatchState        string `json:"match_state,omitempty"`
	Category          string `json:"category,omitempty"`
}

// OverrideRequest is the body of PUT .../override. An omitted field keeps
// its current override.
type OverrideRequest struct {
	Entity    *string `json:"entity,omitempty"`
	Attribute *string `json:"attribute,omitempty"`
}

// TransitionRequest is the optional body of a governance action.
type TransitionRequest struct {
	ActorRole string `json:"actor_role,omitempty"`
	Reason    string `json:"reason,omitempty"`
}

// GovernanceResponse is the response for GET .../governance/{register}.
type GovernanceResponse struct {
	Register workflow.Register `json:"register"`
	Counts   workflow.Counts   `json:"counts"`
	Items    []workflow.Item   `json:"items"`
}

// ThresholdRequest is the body of PUT .../thresholds/{dimension}.
type ThresholdRequest struct {
	Value string `json:"value"`
}

// DimensionRequest is the body of the dimension endpoints.
type DimensionRequest struct {
	Name string `json:"name"`
}

// StageRequest is the body of PUT .../stages/{stage}.
type StageRequest struct {
	Completed bool `json:"completed"`
}

// SuggestAllResponse reports a suggestion run over a whole use case.
type SuggestAllResponse struct {
	Outcomes []SuggestOutcome `json:"outcomes"`
	Applied  int              `json:"applied"`
	Failed   int              `json:"failed"`
}

// SuggestOutcome is one requirement of a suggestion run.
type SuggestOutcome struct {
	RequirementID string   `json:"requirement_id"`
	Applied       []string `json:"applied,omitempty"`
	Error         string   `json:"error,omitempty"`
}

// ExportResponse wraps export rows.
type ExportResponse struct {
	Profile export.Profile `json:"profile"`
	Rows    []export.Row   `json:"rows"`
}

func (h *Handler) handlePortfolio(w http.ResponseWriter, r *http.Request) {
	h.writeJSON(w, http.StatusOK, h.engine.Portfolio())
}

func (h *Handler) handleReload(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.ReloadCorpus(r.Context()); err != nil {
		if errors.Is(err, engine.ErrNoCorpusLoader) {
			h.writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		h.logger.Error("Corpus reload failed", "error", err)
		h.writeError(w, http.StatusUnprocessableEntity, err.Error())
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Portfolio())
}

func (h *Handler) handleLoad(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.engine.LoadUseCase(r.PathValue("uc"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleListRequirements(w http.ResponseWriter, r *http.Request) {
	reqs, err := h.engine.ListRequirements(r.PathValue("uc"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, reqs)
}

func (h *Handler) handleAddRequirement(w http.ResponseWriter, r *http.Request) {
	var body AddRequirementRequest
	if !h.decode(w, r, &body) {
		return
	}
	if strings.TrimSpace(body.TermLabel) == "" {
		h.writeError(w, http.StatusBadRequest, "term_label is required")
		return
	}

	added, err := h.engine.AddRequirement(r.PathValue("uc"), requirement.Requirement{
		ID:                body.ID,
		TermLabel:         strings.TrimSpace(body.TermLabel),
		Definition:        body.Definition,
		BusinessReference: body.BusinessReference,
		Domain:            body.Domain,
		Entity:            body.Entity,
		Attribute:         body.Attribute,
		IsCDE:             body.IsCDE,
		MatchState:        requirement.MatchState(body.MatchState),
		Category:          body.Category,
		Source:            requirement.SourceUser,
	})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, added)
}

func (h *Handler) handleDeleteRequirement(w http.ResponseWriter, r *http.Request) {
	if err := h.engine.DeleteRequirement(r.PathValue("uc"), r.PathValue("id")); err != nil {
		h.fail(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleSetOverride(w http.ResponseWriter, r *http.Request) {
	var body OverrideRequest
	if !h.decode(w, r, &body) {
		return
	}
	if body.Entity == nil && body.Attribute == nil {
		h.writeError(w, http.StatusBadRequest, "entity or attribute is required")
		return
	}
	c, err := h.engine.SetOverride(r.PathValue("uc"), r.PathValue("id"), body.Entity, body.Attribute)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleClearOverride(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.ClearOverride(r.PathValue("uc"), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleToggleCDE(w http.ResponseWriter, r *http.Request) {
	c, err := h.engine.ToggleCDE(r.PathValue("uc"), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, c)
}

func (h *Handler) handleStats(w http.ResponseWriter, r *http.Request) {
	s, err := h.engine.ComputeStats(r.PathValue("uc"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, s)
}

func (h *Handler) handleEntities(w http.ResponseWriter, r *http.Request) {
	entities, err := h.engine.EntityBreakdown(r.PathValue("uc"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, entities)
}

func (h *Handler) handleSharedTerms(w http.ResponseWriter, r *http.Request) {
	terms, err := h.engine.ComputeSharedTerms(r.PathValue("uc"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, terms)
}

func (h *Handler) handleMarkStage(w http.ResponseWriter, r *http.Request) {
	body := StageRequest{Completed: true}
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	useCaseID := r.PathValue("uc")
	if err := h.engine.MarkStage(useCaseID, stats.Stage(r.PathValue("stage")), body.Completed); err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, h.engine.Portfolio())
}

func (h *Handler) handleGovernance(w http.ResponseWriter, r *http.Request) {
	useCaseID := r.PathValue("uc")
	register := workflow.Register(r.PathValue("register"))

	items, err := h.engine.GovernanceItems(register, useCaseID)
	if err != nil {
		h.fail(w, err)
		return
	}
	counts, err := h.engine.GovernanceCounts(register, useCaseID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, GovernanceResponse{Register: register, Counts: counts, Items: items})
}

func (h *Handler) handleSubmitAll(w http.ResponseWriter, r *http.Request) {
	var body TransitionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	res, err := h.engine.BulkSubmit(r.Context(), workflow.Register(r.PathValue("register")), r.PathValue("uc"), body.ActorRole)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleTransition(w http.ResponseWriter, r *http.Request) {
	var body TransitionRequest
	if r.ContentLength != 0 && !h.decode(w, r, &body) {
		return
	}
	action := workflow.Action(strings.ReplaceAll(r.PathValue("action"), "-", "_"))
	item, err := h.engine.Transition(r.Context(),
		workflow.Register(r.PathValue("register")),
		r.PathValue("uc"),
		r.PathValue("id"),
		action,
		workflow.Payload{ActorRole: body.ActorRole, Reason: body.Reason})
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, item)
}

func (h *Handler) handleDimensions(w http.ResponseWriter, r *http.Request) {
	h.writeDimensions(w, http.StatusOK, r.PathValue("uc"))
}

func (h *Handler) handleAddDimension(w http.ResponseWriter, r *http.Request) {
	var body DimensionRequest
	if !h.decode(w, r, &body) {
		return
	}
	useCaseID := r.PathValue("uc")
	if err := h.engine.AddDimension(useCaseID, body.Name); err != nil {
		h.fail(w, err)
		return
	}
	h.writeDimensions(w, http.StatusCreated, useCaseID)
}

func (h *Handler) handleRenameDimension(w http.ResponseWriter, r *http.Request) {
	var body DimensionRequest
	if !h.decode(w, r, &body) {
		return
	}
	useCaseID := r.PathValue("uc")
	if err := h.engine.RenameDimension(useCaseID, r.PathValue("name"), body.Name); err != nil {
		h.fail(w, err)
		return
	}
	h.writeDimensions(w, http.StatusOK, useCaseID)
}

func (h *Handler) handleRemoveDimension(w http.ResponseWriter, r *http.Request) {
	useCaseID := r.PathValue("uc")
	if err := h.engine.RemoveDimension(useCaseID, r.PathValue("name")); err != nil {
		h.fail(w, err)
		return
	}
	h.writeDimensions(w, http.StatusOK, useCaseID)
}

func (h *Handler) writeDimensions(w http.ResponseWriter, status int, useCaseID string) {
	dims, err := h.engine.Dimensions(useCaseID)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, status, dims)
}

func (h *Handler) handleThresholds(w http.ResponseWriter, r *http.Request) {
	t, err := h.engine.Thresholds(r.PathValue("uc"), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleSetThreshold(w http.ResponseWriter, r *http.Request) {
	var body ThresholdRequest
	if !h.decode(w, r, &body) {
		return
	}
	t, err := h.engine.SetThreshold(r.PathValue("uc"), r.PathValue("id"), r.PathValue("dimension"), body.Value)
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, t)
}

func (h *Handler) handleSuggest(w http.ResponseWriter, r *http.Request) {
	res, err := h.engine.SuggestThresholds(r.Context(), r.PathValue("uc"), r.PathValue("id"))
	if err != nil {
		h.fail(w, err)
		return
	}
	h.writeJSON(w, http.StatusOK, res)
}

func (h *Handler) handleSuggestAll(w http.ResponseWriter, r *http.Request) {
	outcomes, err := h.engine.SuggestAllThresholds(r.Context(), r.PathValue("uc"))
	if err != nil {
		h.fail(w, err)
		return
	}
	resp := SuggestAllResponse{Outcomes: make([]SuggestOutcome, 0, len(outcomes))}
	for _, o := range outcomes {
		out := SuggestOutcome{RequirementID: o.RequirementID, Applied: o.Applied}
		if o.Err != nil {
			out.Error = o.Err.Error()
			resp.Failed++
		} else {
			resp.Applied++
		}
		resp.Outcomes = append(resp.Outcomes, out)
	}
	h.writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	profile := export.Profile(r.PathValue("profile"))
	rows, err := h.engine.Export(r.PathValue("uc"), profile)
	if err != nil {
		h.fail(w, err)
		return
	}
	if rows == nil {
		rows = []export.Row{}
	}
	h.writeJSON(w, http.StatusOK, ExportResponse{Profile: profile, Rows: rows})
}

// decode reads a JSON body, writing a 400 and returning false on failure.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	return true
}

// fail maps an engine error to a status code.
func (h *Handler) fail(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusInternalServerError {
		h.logger.Error("Request failed", "error", err)
	}
	h.writeError(w, status, err.Error())
}

func statusFor(err error) int {
	var validation *requirement.ValidationError
	switch {
	case errors.Is(err, requirement.ErrNotFound), errors.Is(err, workflow.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidTransition),
		errors.Is(err, requirement.ErrGoverned),
		errors.Is(err, requirement.ErrUseCaseExists),
		errors.Is(err, requirement.ErrDuplicateID):
		return http.StatusConflict
	case errors.Is(err, quality.ErrInvalidDimension), errors.Is(err, stats.ErrUnknownStage):
		return http.StatusUnprocessableEntity
	case errors.As(err, &validation),
		errors.Is(err, engine.ErrUnknownRegister),
		errors.Is(err, workflow.ErrUnknownAction),
		errors.Is(err, export.ErrUnknownProfile):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Warn("Failed to write JSON response", "error", err)
	}
}

func (h *Handler) writeError(w http.ResponseWriter, status int, message string) {
	h.writeJSON(w, status, map[string]string{"error": message})
}
