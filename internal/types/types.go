package types

import (
	"encoding/json"
	"strings"
	"time"
)

// EventKind identifies the inbound occurrence that drives the suggestion pipeline.
type EventKind string

const (
	EventKindCall  EventKind = "call"
	EventKindEmail EventKind = "email"
)

// Priority is the urgency assigned to a suggestion or task.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Valid reports whether p is one of the known priorities.
func (p Priority) Valid() bool {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh, PriorityUrgent:
		return true
	}
	return false
}

// Rank orders priorities from low (0) to urgent (3). Unknown priorities rank as medium.
func (p Priority) Rank() int {
	switch p {
	case PriorityLow:
		return 0
	case PriorityHigh:
		return 2
	case PriorityUrgent:
		return 3
	default:
		return 1
	}
}

// Event is one inbound call or email. Exactly one of Call or Email is set,
// matching Kind.
type Event struct {
	Kind       EventKind   `json:"kind"`
	SourceID   string      `json:"source_id,omitempty"`
	Category   string      `json:"category,omitempty"`
	ClientID   string      `json:"client_id,omitempty"`
	OccurredAt time.Time   `json:"occurred_at"`
	Call       *CallEvent  `json:"call,omitempty"`
	Email      *EmailEvent `json:"email,omitempty"`
}

// CallEvent carries the fields of a finished phone call.
type CallEvent struct {
	Transcript       string `json:"transcript,omitempty"`
	Summary          string `json:"summary,omitempty"`
	Sentiment        string `json:"sentiment,omitempty"`
	CallerIdentifier string `json:"caller_identifier,omitempty"`
	CallerName       string `json:"caller_name,omitempty"`
	DurationSeconds  int    `json:"duration_seconds,omitempty"`
	RecordingURL     string `json:"recording_url,omitempty"`
	Direction        string `json:"direction,omitempty"`
}

// EmailEvent carries the fields of a classified email or form submission.
type EmailEvent struct {
	Subject    string `json:"subject,omitempty"`
	Body       string `json:"body,omitempty"`
	Sender     string `json:"sender,omitempty"`
	SenderName string `json:"sender_name,omitempty"`
}

// Text returns the concatenated free text of the event used for keyword matching.
func (e Event) Text() string {
	var parts []string
	if e.Call != nil {
		parts = append(parts, e.Call.Transcript, e.Call.Summary)
	}
	if e.Email != nil {
		parts = append(parts, e.Email.Subject, e.Email.Body)
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

// CallerIdentifier returns the caller phone for calls or the sender address for emails.
func (e Event) CallerIdentifier() string {
	switch {
	case e.Call != nil:
		return e.Call.CallerIdentifier
	case e.Email != nil:
		return e.Email.Sender
	}
	return ""
}

// DisplayName returns the most human-readable name of whoever produced the event.
func (e Event) DisplayName() string {
	switch {
	case e.Call != nil:
		if e.Call.CallerName != "" {
			return e.Call.CallerName
		}
		return e.Call.CallerIdentifier
	case e.Email != nil:
		if e.Email.SenderName != "" {
			return e.Email.SenderName
		}
		return e.Email.Sender
	}
	return ""
}

// HumanizeCategory turns a category label such as "tax_question" into "tax question".
func HumanizeCategory(category string) string {
	return strings.TrimSpace(strings.NewReplacer("_", " ", "-", " ").Replace(category))
}

// Entities are the structured values the classifier extracted from event text.
type Entities struct {
	Dates         []string `json:"dates"`
	Amounts       []string `json:"amounts"`
	DocumentTypes []string `json:"document_types"`
	Names         []string `json:"names"`
}

// SuggestedAction is one follow-up the classifier recommends.
type SuggestedAction struct {
	Title       string   `json:"title"`
	Description string   `json:"description,omitempty"`
	Priority    Priority `json:"priority,omitempty"`
	DueInDays   int      `json:"due_in_days,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
}

// ClassificationResult is the normalized output of the classification collaborator.
type ClassificationResult struct {
	Category         string            `json:"category"`
	Sentiment        string            `json:"sentiment"`
	Urgency          Priority          `json:"urgency"`
	BusinessRelevant bool              `json:"business_relevant"`
	PriorityScore    int               `json:"priority_score"`
	Summary          string            `json:"summary"`
	KeyPoints        []string          `json:"key_points"`
	Keywords         []string          `json:"keywords"`
	Entities         Entities          `json:"entities"`
	SuggestedActions []SuggestedAction `json:"suggested_actions"`
	Confidence       float64           `json:"confidence"`
	Model            string            `json:"model"`
	TokensUsed       int64             `json:"tokens_used"`
	Duration         time.Duration     `json:"duration"`
	Fallback         bool              `json:"fallback"`
}

// SuggestionStatus is the lifecycle state of a suggestion.
type SuggestionStatus string

const (
	SuggestionPending  SuggestionStatus = "pending"
	SuggestionApproved SuggestionStatus = "approved"
	SuggestionDeclined SuggestionStatus = "declined"
	SuggestionExpired  SuggestionStatus = "expired"
)

// SuggestionOrigin records which generator path produced a suggestion.
type SuggestionOrigin string

const (
	OriginPattern    SuggestionOrigin = "pattern"
	OriginClassifier SuggestionOrigin = "classifier"
)

// DeclineCategory is the mandatory reason category for a declined suggestion.
type DeclineCategory string

const (
	DeclineNotNeeded     DeclineCategory = "not_needed"
	DeclineDuplicate     DeclineCategory = "duplicate"
	DeclineWrongType     DeclineCategory = "wrong_type"
	DeclineWrongAssignee DeclineCategory = "wrong_assignee"
	DeclineWrongClient   DeclineCategory = "wrong_client"
	DeclineOther         DeclineCategory = "other"
)

// DeclineCategories lists every accepted decline category.
var DeclineCategories = []DeclineCategory{
	DeclineNotNeeded,
	DeclineDuplicate,
	DeclineWrongType,
	DeclineWrongAssignee,
	DeclineWrongClient,
	DeclineOther,
}

// Valid reports whether c is one of DeclineCategories.
func (c DeclineCategory) Valid() bool {
	for _, known := range DeclineCategories {
		if c == known {
			return true
		}
	}
	return false
}

// Suggestion is one candidate follow-up task awaiting human review.
type Suggestion struct {
	ID               string           `json:"id"`
	SourceKind       EventKind        `json:"source_kind"`
	SourceID         string           `json:"source_id"`
	Title            string           `json:"title"`
	TitleKey         string           `json:"-"`
	Description      string           `json:"description,omitempty"`
	Priority         Priority         `json:"priority"`
	DueDate          *time.Time       `json:"due_date,omitempty"`
	AssigneeID       string           `json:"assignee_id,omitempty"`
	ClientID         string           `json:"client_id,omitempty"`
	CallerIdentifier string           `json:"caller_identifier,omitempty"`
	Confidence       float64          `json:"confidence"`
	Category         string           `json:"category,omitempty"`
	Keywords         []string         `json:"keywords"`
	Reasoning        string           `json:"reasoning,omitempty"`
	Origin           SuggestionOrigin `json:"origin"`
	PatternID        string           `json:"pattern_id,omitempty"`
	Status           SuggestionStatus `json:"status"`
	CreatedAt        time.Time        `json:"created_at"`
	ExpiresAt        time.Time        `json:"expires_at"`
	ResolvedAt       *time.Time       `json:"resolved_at,omitempty"`
	ResolvedBy       string           `json:"resolved_by,omitempty"`
	TaskID           string           `json:"task_id,omitempty"`
	DeclineCategory  DeclineCategory  `json:"decline_category,omitempty"`
	DeclineReason    string           `json:"decline_reason,omitempty"`
}

// MarshalJSON ensures nil keyword slices marshal as [] not null.
func (s Suggestion) MarshalJSON() ([]byte, error) {
	if s.Keywords == nil {
		s.Keywords = []string{}
	}
	type Alias Suggestion
	return json.Marshal(Alias(s))
}

// SuggestionOverrides are the human corrections applied when approving a suggestion.
// Nil fields keep the suggested value.
type SuggestionOverrides struct {
	Title       *string    `json:"title,omitempty"`
	Description *string    `json:"description,omitempty"`
	Priority    *Priority  `json:"priority,omitempty"`
	AssigneeID  *string    `json:"assignee_id,omitempty"`
	ClientID    *string    `json:"client_id,omitempty"`
	DueDate     *time.Time `json:"due_date,omitempty"`
}

// SuggestionFilter narrows suggestion listings.
type SuggestionFilter struct {
	Status     SuggestionStatus
	SourceKind EventKind
	AssigneeID string
	Limit      int
	Offset     int
}

// Task is the business task materialized from an approved suggestion.
type Task struct {
	ID               string     `json:"id"`
	SuggestionID     string     `json:"suggestion_id,omitempty"`
	SourceKind       EventKind  `json:"source_kind,omitempty"`
	SourceID         string     `json:"source_id,omitempty"`
	Title            string     `json:"title"`
	Description      string     `json:"description,omitempty"`
	Priority         Priority   `json:"priority"`
	DueDate          *time.Time `json:"due_date,omitempty"`
	AssigneeID       string     `json:"assignee_id,omitempty"`
	ClientID         string     `json:"client_id,omitempty"`
	Category         string     `json:"category,omitempty"`
	CallerIdentifier string     `json:"caller_identifier,omitempty"`
	CreatedBy        string     `json:"created_by,omitempty"`
	CreatedAt        time.Time  `json:"created_at"`
	UpdatedAt        time.Time  `json:"updated_at"`
}

// PatternType names the event shape a pattern maps from and the output it recommends.
type PatternType string

const (
	PatternCategoryToUser     PatternType = "category_to_user"
	PatternClientToUser       PatternType = "client_to_user"
	PatternCallerToUser       PatternType = "caller_to_user"
	PatternKeywordsToPriority PatternType = "keywords_to_priority"
)

// Pattern is a learned rule mapping event attributes to a recommended outcome.
type Pattern struct {
	ID                string      `json:"id"`
	Type              PatternType `json:"pattern_type"`
	MatchKey          string      `json:"-"`
	Category          string      `json:"category,omitempty"`
	ClientID          string      `json:"client_id,omitempty"`
	CallerIdentifier  string      `json:"caller_identifier,omitempty"`
	Keywords          []string    `json:"keywords,omitempty"`
	SuggestedAssignee string      `json:"suggested_assignee,omitempty"`
	SuggestedPriority Priority    `json:"suggested_priority,omitempty"`
	SuggestedCategory string      `json:"suggested_category,omitempty"`
	TimesMatched      int         `json:"times_matched"`
	TimesAccepted     int         `json:"times_accepted"`
	TimesRejected     int         `json:"times_rejected"`
	AcceptanceRate    *float64    `json:"acceptance_rate"`
	ConfidenceScore   float64     `json:"confidence_score"`
	Active            bool        `json:"active"`
	RequiresReview    bool        `json:"requires_review"`
	FeedbackIDs       []string    `json:"feedback_ids"`
	LastMatchedAt     *time.Time  `json:"last_matched_at,omitempty"`
	CreatedAt         time.Time   `json:"created_at"`
	UpdatedAt         time.Time   `json:"updated_at"`
}

// MarshalJSON ensures nil slices in Pattern marshal as [] not null.
func (p Pattern) MarshalJSON() ([]byte, error) {
	if p.FeedbackIDs == nil {
		p.FeedbackIDs = []string{}
	}
	type Alias Pattern
	return json.Marshal(Alias(p))
}

// PatternFilter narrows pattern listings.
type PatternFilter struct {
	ActiveOnly    bool
	MinConfidence float64
}

// UserAction is the human decision captured by a feedback record.
type UserAction string

const (
	ActionApproved   UserAction = "approved"
	ActionModified   UserAction = "modified"
	ActionDeclined   UserAction = "declined"
	ActionReassigned UserAction = "reassigned"
	ActionExpired    UserAction = "expired"
)

// Learnable reports whether feedback with this action feeds the pattern learner.
func (a UserAction) Learnable() bool {
	switch a {
	case ActionApproved, ActionModified, ActionDeclined, ActionReassigned:
		return true
	}
	return false
}

// FeedbackType labels the entry point that produced a feedback record.
type FeedbackType string

const (
	FeedbackSuggestionReview FeedbackType = "suggestion_review"
	FeedbackTaskReassigned   FeedbackType = "task_reassigned"
)

// Correction types recorded on feedback.
const (
	CorrectionAssignee  = "assignee"
	CorrectionClient    = "client"
	CorrectionPriority  = "priority"
	CorrectionDueDate   = "due_date"
	CorrectionContent   = "content"
	CorrectionNotNeeded = "not_needed"
	CorrectionDuplicate = "duplicate"
	CorrectionType      = "type"
	CorrectionOther     = "other"
)

// Feedback is an immutable record of a human decision. Learning state columns
// (LearnedAt, LearnAttempts, LearnFailed) belong to the learning queue, not the decision.
type Feedback struct {
	ID                string       `json:"id"`
	Type              FeedbackType `json:"feedback_type"`
	SuggestionID      string       `json:"suggestion_id,omitempty"`
	TaskID            string       `json:"task_id,omitempty"`
	Action            UserAction   `json:"user_action"`
	Category          string       `json:"category,omitempty"`
	Keywords          []string     `json:"keywords"`
	ClientID          string       `json:"client_id,omitempty"`
	CallerIdentifier  string       `json:"caller_identifier,omitempty"`
	SuggestedAssignee string       `json:"suggested_assignee,omitempty"`
	SuggestedPriority Priority     `json:"suggested_priority,omitempty"`
	SuggestedCategory string       `json:"suggested_category,omitempty"`
	ConfirmedAssignee string       `json:"confirmed_assignee,omitempty"`
	ConfirmedPriority Priority     `json:"confirmed_priority,omitempty"`
	ConfirmedCategory string       `json:"confirmed_category,omitempty"`
	WasAICorrect      bool         `json:"was_ai_correct"`
	CorrectionType    string       `json:"correction_type,omitempty"`
	CorrectionReason  string       `json:"correction_reason,omitempty"`
	ActorID           string       `json:"actor_id,omitempty"`
	CreatedAt         time.Time    `json:"created_at"`
	LearnedAt         *time.Time   `json:"learned_at,omitempty"`
	LearnAttempts     int          `json:"learn_attempts"`
	LearnFailed       bool         `json:"learn_failed"`
}

// MarshalJSON ensures nil slices in Feedback marshal as [] not null.
func (f Feedback) MarshalJSON() ([]byte, error) {
	if f.Keywords == nil {
		f.Keywords = []string{}
	}
	type Alias Feedback
	return json.Marshal(Alias(f))
}

// Client is a contact of the practice that events can be linked to.
type Client struct {
	ID        string    `json:"id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Phone     string    `json:"phone,omitempty"`
	Email     string    `json:"email,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// IntakeState is the operational state of a raw webhook delivery.
type IntakeState string

const (
	IntakeReceived IntakeState = "received"
	IntakeParsing  IntakeState = "parsing"
	IntakeParsed   IntakeState = "parsed"
	IntakeStored   IntakeState = "stored"
	IntakeFailed   IntakeState = "failed"
)

// IntakeRecord is the raw webhook audit log entry, keyed by idempotency key.
type IntakeRecord struct {
	ID             string      `json:"id"`
	IdempotencyKey string      `json:"idempotency_key"`
	Provider       string      `json:"provider"`
	State          IntakeState `json:"state"`
	Payload        []byte      `json:"-"`
	SourceRecordID string      `json:"source_record_id,omitempty"`
	Error          string      `json:"error,omitempty"`
	CreatedAt      time.Time   `json:"created_at"`
	UpdatedAt      time.Time   `json:"updated_at"`
}

// SourceRecord is the stored core record of a call or email.
type SourceRecord struct {
	ID         string    `json:"id"`
	Kind       EventKind `json:"kind"`
	Provider   string    `json:"provider"`
	ExternalID string    `json:"external_id,omitempty"`
	Event      Event     `json:"event"`
	Summary    string    `json:"summary,omitempty"`
	Category   string    `json:"category,omitempty"`
	Sentiment  string    `json:"sentiment,omitempty"`
	AIParsed   bool      `json:"ai_parsed"`
	CreatedAt  time.Time `json:"created_at"`
}

// DomainEvent is one entry of the append-only domain event log.
type DomainEvent struct {
	Sequence  int64           `json:"sequence,omitempty"`
	Type      string          `json:"type"`
	EntityID  string          `json:"entity_id"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	CreatedAt time.Time       `json:"created_at"`
}

// Domain event types.
const (
	EventCallStored         = "call.stored"
	EventEmailStored        = "email.stored"
	EventSuggestionsCreated = "suggestions.created"
	EventSuggestionApproved = "suggestion.approved"
	EventSuggestionDeclined = "suggestion.declined"
	EventSuggestionsExpired = "suggestions.expired"
	EventTaskReassigned     = "task.reassigned"
)

// StoreStats holds aggregate counts for health reporting.
type StoreStats struct {
	PendingSuggestions int64 `json:"pending_suggestions"`
	ActivePatterns     int64 `json:"active_patterns"`
	PendingFeedback    int64 `json:"pending_feedback"`
}

// HealthResponse represents the health check response.
type HealthResponse struct {
	Status             string `json:"status"`
	Version            string `json:"version"`
	ClassifierModel    string `json:"classifier_model"`
	PendingSuggestions int64  `json:"pending_suggestions"`
	ActivePatterns     int64  `json:"active_patterns"`
	PendingFeedback    int64  `json:"pending_feedback"`
}
