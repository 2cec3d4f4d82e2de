package api

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/hyperengineering/triage/internal/intake"
	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/suggest"
	"github.com/hyperengineering/triage/internal/validation"
)

const problemTypeBase = "https://triage.dev/errors/"

// Problem represents an RFC 7807 Problem Details response.
type Problem struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail"`
	Instance string `json:"instance,omitempty"`
}

// ProblemWithErrors extends Problem with validation error details.
type ProblemWithErrors struct {
	Problem
	Errors []validation.ValidationError `json:"errors,omitempty"`
}

// problemKind is one documented problem type. Clients switch on the type URI,
// so slugs are part of the API.
type problemKind struct {
	slug   string
	title  string
	status int
}

func (k problemKind) problem(r *http.Request, detail string) Problem {
	return Problem{
		Type:     problemTypeBase + k.slug,
		Title:    k.title,
		Status:   k.status,
		Detail:   detail,
		Instance: r.URL.Path,
	}
}

// Transport-level kinds.
var (
	kindBadRequest      = problemKind{"bad-request", "Bad Request", http.StatusBadRequest}
	kindUnauthorized    = problemKind{"unauthorized", "Unauthorized", http.StatusUnauthorized}
	kindForbidden       = problemKind{"forbidden", "Forbidden", http.StatusForbidden}
	kindNotFound        = problemKind{"not-found", "Not Found", http.StatusNotFound}
	kindConflict        = problemKind{"conflict", "Conflict", http.StatusConflict}
	kindPayloadTooLarge = problemKind{"payload-too-large", "Payload Too Large", http.StatusRequestEntityTooLarge}
	kindValidation      = problemKind{"validation-error", "Validation Error", http.StatusUnprocessableEntity}
	kindRateLimited     = problemKind{"rate-limit", "Too Many Requests", http.StatusTooManyRequests}
	kindInternal        = problemKind{"internal-error", "Internal Server Error", http.StatusInternalServerError}
	kindUnavailable     = problemKind{"service-unavailable", "Service Unavailable", http.StatusServiceUnavailable}
)

// Triage kinds.
var (
	kindStaleEvent       = problemKind{"stale-event", "Stale Event", http.StatusBadRequest}
	kindInvalidPayload   = problemKind{"invalid-payload", "Invalid Webhook Payload", http.StatusBadRequest}
	kindAlreadyResolved  = problemKind{"already-resolved", "Suggestion Already Resolved", http.StatusConflict}
	kindDuplicatePattern = problemKind{"duplicate-pattern", "Duplicate Pattern", http.StatusConflict}
	kindDeclineCategory  = problemKind{"invalid-decline-category", "Invalid Decline Category", http.StatusUnprocessableEntity}
	kindInvalidOverride  = problemKind{"invalid-override", "Invalid Override", http.StatusUnprocessableEntity}
)

var statusKinds = map[int]problemKind{}

func init() {
	for _, k := range []problemKind{
		kindBadRequest, kindUnauthorized, kindForbidden, kindNotFound, kindConflict,
		kindPayloadTooLarge, kindValidation, kindRateLimited, kindInternal, kindUnavailable,
	} {
		statusKinds[k.status] = k
	}
}

// domainProblems maps domain sentinels to the problem a client sees.
// Entries are checked in order with errors.Is.
var domainProblems = []struct {
	target error
	kind   problemKind
	detail string
}{
	{store.ErrNotFound, kindNotFound, "Resource not found"},
	{store.ErrAlreadyResolved, kindAlreadyResolved, "Suggestion is no longer pending"},
	{store.ErrDuplicatePattern, kindDuplicatePattern, "A pattern with this match key already exists"},
	{intake.ErrStaleEvent, kindStaleEvent, "Event timestamp outside freshness window"},
	{intake.ErrInvalidPayload, kindInvalidPayload, "Invalid webhook payload"},
	{suggest.ErrInvalidDeclineCategory, kindDeclineCategory, "Invalid decline category"},
	{suggest.ErrInvalidOverride, kindInvalidOverride, "Invalid override"},
}

// WriteProblem writes an RFC 7807 Problem Details response for a status that
// has no domain error behind it.
func WriteProblem(w http.ResponseWriter, r *http.Request, status int, detail string) {
	k, ok := statusKinds[status]
	if !ok {
		k = problemKind{"unknown", http.StatusText(status), status}
	}
	writeProblemJSON(w, status, k.problem(r, detail))
}

// WriteProblemWithErrors writes a 422 Problem Details response with field errors.
func WriteProblemWithErrors(w http.ResponseWriter, r *http.Request, detail string, errs []validation.ValidationError) {
	writeProblemJSON(w, kindValidation.status, ProblemWithErrors{
		Problem: kindValidation.problem(r, detail),
		Errors:  errs,
	})
}

// MapError converts domain errors to Problem Details responses.
func MapError(w http.ResponseWriter, r *http.Request, err error) {
	for _, dp := range domainProblems {
		if errors.Is(err, dp.target) {
			writeProblemJSON(w, dp.kind.status, dp.kind.problem(r, dp.detail))
			return
		}
	}
	// Never expose internal error details to client
	slog.Error("request failed", "path", r.URL.Path, "error", err)
	writeProblemJSON(w, kindInternal.status, kindInternal.problem(r, "Internal Server Error"))
}

func writeProblemJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/problem+json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		slog.Error("failed to encode problem response", "error", err)
	}
}
