package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hyperengineering/triage/internal/intake"
	"github.com/hyperengineering/triage/internal/suggest"
	"github.com/hyperengineering/triage/internal/types"
	"github.com/hyperengineering/triage/internal/validation"
)

// DefaultMaxBodyBytes caps webhook and review request bodies.
const DefaultMaxBodyBytes int64 = 1 << 20

// Store defines the read operations the handlers need directly.
type Store interface {
	GetStats(ctx context.Context) (*types.StoreStats, error)
	ListPatterns(ctx context.Context, filter types.PatternFilter) ([]types.Pattern, error)
	SetPatternActive(ctx context.Context, id string, active bool) (*types.Pattern, error)
	GetFeedback(ctx context.Context, id string) (*types.Feedback, error)
}

// Suggestions defines the lifecycle operations exposed on the review surface.
type Suggestions interface {
	ListPending(ctx context.Context, filter types.SuggestionFilter) (*suggest.PendingList, error)
	Get(ctx context.Context, id string) (*types.Suggestion, error)
	Approve(ctx context.Context, id string, overrides *types.SuggestionOverrides, actor string) (*suggest.ApproveResult, error)
	Decline(ctx context.Context, id string, category types.DeclineCategory, reason, actor string) (*types.Suggestion, error)
	Expire(ctx context.Context) (int64, error)
	ReassignTask(ctx context.Context, taskID, assignee, actor string) (*suggest.ReassignResult, error)
}

// Intake accepts raw webhook deliveries.
type Intake interface {
	Accept(ctx context.Context, d intake.Delivery) (*intake.Response, error)
}

// HandlerConfig holds the collaborators of Handler.
type HandlerConfig struct {
	Store           Store
	Suggestions     Suggestions
	Intake          Intake
	APIKey          string
	WebhookSecret   string
	Version         string
	ClassifierModel string
	MaxBodyBytes    int64
}

// Handler implements the API handlers
type Handler struct {
	store           Store
	suggestions     Suggestions
	intake          Intake
	apiKey          string
	webhookSecret   string
	version         string
	classifierModel string
	maxBodyBytes    int64
}

// NewHandler creates a new Handler.
func NewHandler(cfg HandlerConfig) *Handler {
	if cfg.MaxBodyBytes <= 0 {
		cfg.MaxBodyBytes = DefaultMaxBodyBytes
	}
	return &Handler{
		store:           cfg.Store,
		suggestions:     cfg.Suggestions,
		intake:          cfg.Intake,
		apiKey:          cfg.APIKey,
		webhookSecret:   cfg.WebhookSecret,
		version:         cfg.Version,
		classifierModel: cfg.ClassifierModel,
		maxBodyBytes:    cfg.MaxBodyBytes,
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("failed to encode response", "error", err)
	}
}

// decodeJSON reads a bounded JSON body into v. An empty body leaves v untouched
// when allowEmpty is set.
func (h *Handler) decodeJSON(w http.ResponseWriter, r *http.Request, v any, allowEmpty bool) bool {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return false
		}
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return false
	}
	if len(body) == 0 {
		if allowEmpty {
			return true
		}
		WriteProblem(w, r, http.StatusBadRequest, "Request body is required")
		return false
	}
	if err := json.Unmarshal(body, v); err != nil {
		WriteProblem(w, r, http.StatusBadRequest, fmt.Sprintf("Invalid JSON: %s", err.Error()))
		return false
	}
	return true
}

// pathID validates the {id} URL parameter as a ULID.
func pathID(w http.ResponseWriter, r *http.Request) (string, bool) {
	id := chi.URLParam(r, "id")
	if verr := validation.ValidateULID("id", id); verr != nil {
		WriteProblemWithErrors(w, r, "Invalid identifier", []validation.ValidationError{*verr})
		return "", false
	}
	return id, true
}

// Health returns the health status
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	stats, err := h.store.GetStats(r.Context())
	if err != nil {
		slog.Error("health check failed", "error", err)
		WriteProblem(w, r, http.StatusServiceUnavailable, "Store unavailable")
		return
	}

	writeJSON(w, http.StatusOK, types.HealthResponse{
		Status:             "healthy",
		Version:            h.version,
		ClassifierModel:    h.classifierModel,
		PendingSuggestions: stats.PendingSuggestions,
		ActivePatterns:     stats.ActivePatterns,
		PendingFeedback:    stats.PendingFeedback,
	})
}

// CallWebhook handles POST /api/v1/webhooks/calls
func (h *Handler) CallWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, types.EventKindCall)
}

// EmailWebhook handles POST /api/v1/webhooks/email
func (h *Handler) EmailWebhook(w http.ResponseWriter, r *http.Request) {
	h.webhook(w, r, types.EventKindEmail)
}

func (h *Handler) webhook(w http.ResponseWriter, r *http.Request, kind types.EventKind) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, h.maxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			WriteProblem(w, r, http.StatusRequestEntityTooLarge, "Request body too large")
			return
		}
		WriteProblem(w, r, http.StatusBadRequest, "Failed to read request body")
		return
	}

	resp, err := h.intake.Accept(r.Context(), intake.Delivery{
		Kind:   kind,
		Header: r.Header,
		Body:   body,
	})
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListSuggestions handles GET /api/v1/suggestions
func (h *Handler) ListSuggestions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.SuggestionFilter{
		Status:     types.SuggestionStatus(q.Get("status")),
		SourceKind: types.EventKind(q.Get("source_kind")),
		AssigneeID: q.Get("assignee"),
	}

	c := &validation.Collector{}
	if filter.Status != "" {
		c.Add(validation.ValidateEnum("status", string(filter.Status), []string{
			string(types.SuggestionPending),
			string(types.SuggestionApproved),
			string(types.SuggestionDeclined),
			string(types.SuggestionExpired),
		}))
	}
	if filter.SourceKind != "" {
		c.Add(validation.ValidateEnum("source_kind", string(filter.SourceKind), []string{
			string(types.EventKindCall),
			string(types.EventKindEmail),
		}))
	}
	filter.Limit = intParam(c, q.Get("limit"), "limit", 1, 500)
	filter.Offset = intParam(c, q.Get("offset"), "offset", 0, 1_000_000)
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid query parameters", c.Errors())
		return
	}

	list, err := h.suggestions.ListPending(r.Context(), filter)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, list)
}

// intParam parses an optional integer query value; absent values return 0.
func intParam(c *validation.Collector, raw, field string, min, max int) int {
	if raw == "" {
		return 0
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		c.Add(&validation.ValidationError{Field: field, Message: "must be an integer"})
		return 0
	}
	c.Add(validation.ValidateRange(field, float64(n), float64(min), float64(max)))
	return n
}

// GetSuggestion handles GET /api/v1/suggestions/{id}
func (h *Handler) GetSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	sg, err := h.suggestions.Get(r.Context(), id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

// ApproveSuggestion handles POST /api/v1/suggestions/{id}/approve
func (h *Handler) ApproveSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var overrides types.SuggestionOverrides
	if !h.decodeJSON(w, r, &overrides, true) {
		return
	}
	if errs := validation.ValidateOverrides(&overrides); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	var o *types.SuggestionOverrides
	if overrides != (types.SuggestionOverrides{}) {
		o = &overrides
	}

	result, err := h.suggestions.Approve(r.Context(), id, o, ActorFromContext(r.Context()))
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// DeclineRequest is the body of a decline call.
type DeclineRequest struct {
	Category types.DeclineCategory `json:"category"`
	Reason   string                `json:"reason"`
}

// DeclineSuggestion handles POST /api/v1/suggestions/{id}/decline
func (h *Handler) DeclineSuggestion(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req DeclineRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if errs := validation.ValidateDecline(string(req.Category), req.Reason); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	sg, err := h.suggestions.Decline(r.Context(), id, req.Category, req.Reason, ActorFromContext(r.Context()))
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

// ExpireResponse reports how many suggestions an expiry sweep resolved.
type ExpireResponse struct {
	Expired int64 `json:"expired"`
}

// ExpireSuggestions handles POST /api/v1/suggestions/expire
func (h *Handler) ExpireSuggestions(w http.ResponseWriter, r *http.Request) {
	n, err := h.suggestions.Expire(r.Context())
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, ExpireResponse{Expired: n})
}

// ReassignRequest is the body of a task reassignment.
type ReassignRequest struct {
	AssigneeID string `json:"assignee_id"`
}

// ReassignTask handles PUT /api/v1/tasks/{id}/assignee
func (h *Handler) ReassignTask(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req ReassignRequest
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if errs := validation.ValidateAssignee(req.AssigneeID); len(errs) > 0 {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", errs)
		return
	}

	result, err := h.suggestions.ReassignTask(r.Context(), id, req.AssigneeID, ActorFromContext(r.Context()))
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// PatternList wraps a pattern listing.
type PatternList struct {
	Patterns []types.Pattern `json:"patterns"`
}

// ListPatterns handles GET /api/v1/patterns
func (h *Handler) ListPatterns(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := types.PatternFilter{ActiveOnly: true}

	c := &validation.Collector{}
	if raw := q.Get("include_inactive"); raw != "" {
		include, err := strconv.ParseBool(raw)
		if err != nil {
			c.Add(&validation.ValidationError{Field: "include_inactive", Message: "must be a boolean"})
		}
		filter.ActiveOnly = !include
	}
	if raw := q.Get("min_confidence"); raw != "" {
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			c.Add(&validation.ValidationError{Field: "min_confidence", Message: "must be a number"})
		} else {
			c.Add(validation.ValidateRange("min_confidence", v, 0, 1))
			filter.MinConfidence = v
		}
	}
	if c.HasErrors() {
		WriteProblemWithErrors(w, r, "Invalid query parameters", c.Errors())
		return
	}

	patterns, err := h.store.ListPatterns(r.Context(), filter)
	if err != nil {
		MapError(w, r, err)
		return
	}
	if patterns == nil {
		patterns = []types.Pattern{}
	}
	writeJSON(w, http.StatusOK, PatternList{Patterns: patterns})
}

// PatternUpdate is the body of a pattern PATCH.
type PatternUpdate struct {
	Active *bool `json:"active"`
}

// UpdatePattern handles PATCH /api/v1/patterns/{id}
func (h *Handler) UpdatePattern(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	var req PatternUpdate
	if !h.decodeJSON(w, r, &req, false) {
		return
	}
	if req.Active == nil {
		WriteProblemWithErrors(w, r, "Request contains invalid fields", []validation.ValidationError{
			{Field: "active", Message: "is required"},
		})
		return
	}

	p, err := h.store.SetPatternActive(r.Context(), id, *req.Active)
	if err != nil {
		MapError(w, r, err)
		return
	}
	slog.Info("pattern updated",
		"pattern_id", id,
		"active", *req.Active,
		"actor", ActorFromContext(r.Context()),
	)
	writeJSON(w, http.StatusOK, p)
}

// GetFeedback handles GET /api/v1/feedback/{id}
func (h *Handler) GetFeedback(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}
	f, err := h.store.GetFeedback(r.Context(), id)
	if err != nil {
		MapError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, f)
}
