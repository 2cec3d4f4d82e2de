package intake

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/hyperengineering/triage/internal/events"
	"github.com/hyperengineering/triage/internal/metrics"
	"github.com/hyperengineering/triage/internal/pattern"
	"github.com/hyperengineering/triage/internal/types"
)

// Webhook outcomes reported to metrics.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultStale     = "stale"
	ResultInvalid   = "invalid"
	ResultFailed    = "failed"
)

// Store defines the store operations needed by the pipeline.
type Store interface {
	CreateIntakeRecord(ctx context.Context, r *types.IntakeRecord) error
	UpdateIntakeState(ctx context.Context, id string, state types.IntakeState, sourceRecordID, errMsg string) error
	CreateSourceRecord(ctx context.Context, r *types.SourceRecord) error
	UpdateSourceClassification(ctx context.Context, id string, result types.ClassificationResult, summary string) error
}

// Classifier never fails; it degrades to a rule-based result.
type Classifier interface {
	Classify(ctx context.Context, event types.Event) types.ClassificationResult
}

// Matcher scores an event against the learned patterns.
type Matcher interface {
	Match(ctx context.Context, event types.Event) ([]pattern.Hit, error)
}

// Generator turns classification output and pattern hits into suggestions.
type Generator interface {
	ResolveClient(ctx context.Context, event types.Event, names []string) string
	Generate(ctx context.Context, event types.Event, result types.ClassificationResult, hits []pattern.Hit) []types.Suggestion
}

// SuggestionCreator persists generated suggestions.
type SuggestionCreator interface {
	Create(ctx context.Context, suggestions []types.Suggestion) ([]string, error)
}

// Delivery is one webhook request.
type Delivery struct {
	Kind   types.EventKind
	Header http.Header
	Body   []byte
}

// Response is returned to the webhook caller. Once the source record is
// stored Success is true regardless of what the suggestion layer achieved.
type Response struct {
	Success         bool     `json:"success"`
	Duplicate       bool     `json:"duplicate,omitempty"`
	RecordID        string   `json:"recordId,omitempty"`
	AIParsed        bool     `json:"aiParsed"`
	TaskSuggestions int      `json:"taskSuggestions"`
	SuggestionIDs   []string `json:"suggestionIds"`
}

// DefaultProcessTimeout bounds the suggestion layer when PipelineConfig
// leaves ProcessTimeout unset.
const DefaultProcessTimeout = 30 * time.Second

// PipelineConfig holds the collaborators of a Pipeline. Matcher, Generator
// and Suggestions may be nil, which stops processing after classification.
type PipelineConfig struct {
	Store          Store
	Guard          *Guard
	Classifier     Classifier
	Matcher        Matcher
	Generator      Generator
	Suggestions    SuggestionCreator
	Publisher      events.Publisher
	Metrics        *metrics.Metrics
	ProcessTimeout time.Duration
}

// Pipeline runs a delivery through guard, audit log, source storage and the
// suggestion layer.
type Pipeline struct {
	store       Store
	guard       *Guard
	classifier  Classifier
	matcher     Matcher
	generator   Generator
	suggestions SuggestionCreator
	publisher   events.Publisher
	metrics     *metrics.Metrics
	timeout     time.Duration
	logger      *slog.Logger
}

// NewPipeline creates a pipeline.
func NewPipeline(cfg PipelineConfig) *Pipeline {
	p := &Pipeline{
		store:       cfg.Store,
		guard:       cfg.Guard,
		classifier:  cfg.Classifier,
		matcher:     cfg.Matcher,
		generator:   cfg.Generator,
		suggestions: cfg.Suggestions,
		publisher:   cfg.Publisher,
		metrics:     cfg.Metrics,
		timeout:     cfg.ProcessTimeout,
		logger:      slog.Default().With("component", "intake"),
	}
	if p.timeout <= 0 {
		p.timeout = DefaultProcessTimeout
	}
	if p.guard == nil {
		p.guard = NewGuard(NewMemorySeenSet(0), 0)
	}
	if p.publisher == nil {
		p.publisher = events.Nop{}
	}
	return p
}

// Accept processes one delivery. Duplicates return a successful response
// with Duplicate set and cause no writes. Stale or unparseable deliveries and
// failures to store the source record are returned as errors; everything
// after that is best effort and runs detached from ctx's cancellation,
// bounded by the pipeline's process timeout.
func (p *Pipeline) Accept(ctx context.Context, d Delivery) (*Response, error) {
	if len(d.Body) == 0 {
		p.metrics.Webhook(ResultInvalid)
		return nil, fmt.Errorf("%w: empty body", ErrInvalidPayload)
	}

	identity := ExtractIdentity(d.Header, d.Body)
	key, err := p.guard.Check(ctx, identity)
	switch {
	case errors.Is(err, ErrDuplicateEvent):
		p.metrics.Webhook(ResultDuplicate)
		p.logger.Debug("duplicate delivery ignored", "idempotency_key", key)
		return &Response{Success: true, Duplicate: true, SuggestionIDs: []string{}}, nil
	case errors.Is(err, ErrStaleEvent):
		p.metrics.Webhook(ResultStale)
		return nil, err
	case err != nil:
		p.metrics.Webhook(ResultFailed)
		return nil, err
	}

	shape := DetectShape(d.Kind, d.Body)
	audit := &types.IntakeRecord{
		IdempotencyKey: key,
		Provider:       string(shape),
		Payload:        d.Body,
	}
	if err := p.store.CreateIntakeRecord(ctx, audit); err != nil {
		p.logger.Warn("failed to write intake record", "idempotency_key", key, "error", err)
		audit = nil
	}
	p.setState(ctx, audit, types.IntakeParsing, "", "")

	event, err := Extract(shape, d.Body)
	if err != nil {
		p.fail(ctx, audit, key, err)
		p.metrics.Webhook(ResultInvalid)
		return nil, err
	}
	p.setState(ctx, audit, types.IntakeParsed, "", "")

	source := &types.SourceRecord{
		Provider:   string(shape),
		ExternalID: identity.EventID,
		Event:      event,
		Summary:    providerSummary(event),
		Category:   event.Category,
		Sentiment:  providerSentiment(event),
	}
	if err := p.store.CreateSourceRecord(ctx, source); err != nil {
		p.fail(ctx, audit, key, err)
		p.metrics.Webhook(ResultFailed)
		return nil, fmt.Errorf("store source record: %w", err)
	}
	source.Event.SourceID = source.ID
	p.setState(ctx, audit, types.IntakeStored, source.ID, "")
	p.publishStored(ctx, source, key)

	resp := &Response{
		Success:       true,
		RecordID:      source.ID,
		SuggestionIDs: []string{},
	}
	sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), p.timeout)
	p.suggest(sctx, source, resp)
	cancel()

	p.metrics.Webhook(ResultAccepted)
	p.logger.Info("webhook accepted",
		"idempotency_key", key,
		"record_id", source.ID,
		"shape", shape,
		"ai_parsed", resp.AIParsed,
		"suggestions", resp.TaskSuggestions,
	)
	return resp, nil
}

// suggest runs classification, pattern matching and generation for a stored
// source record. Failures are logged and reflected only in resp.
func (p *Pipeline) suggest(ctx context.Context, source *types.SourceRecord, resp *Response) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("suggestion layer panicked", "record_id", source.ID, "panic", r)
		}
	}()

	if p.classifier == nil {
		return
	}
	event := source.Event
	result := p.classifier.Classify(ctx, event)
	resp.AIParsed = !result.Fallback

	summary := source.Summary
	if summary == "" {
		summary = result.Summary
	}
	if err := p.store.UpdateSourceClassification(ctx, source.ID, result, summary); err != nil {
		p.logger.Warn("failed to store classification", "record_id", source.ID, "error", err)
	}

	if p.generator == nil || p.suggestions == nil {
		return
	}
	if event.Category == "" {
		event.Category = result.Category
	}
	if event.ClientID == "" {
		event.ClientID = p.generator.ResolveClient(ctx, event, result.Entities.Names)
	}

	var hits []pattern.Hit
	if p.matcher != nil {
		var err error
		hits, err = p.matcher.Match(ctx, event)
		if err != nil {
			p.logger.Warn("pattern matching failed", "record_id", source.ID, "error", err)
		}
	}

	suggestions := p.generator.Generate(ctx, event, result, hits)
	if len(suggestions) == 0 {
		return
	}
	ids, err := p.suggestions.Create(ctx, suggestions)
	if err != nil {
		p.logger.Error("failed to persist suggestions", "record_id", source.ID, "error", err)
		return
	}
	resp.TaskSuggestions = len(ids)
	resp.SuggestionIDs = ids
}

func (p *Pipeline) setState(ctx context.Context, audit *types.IntakeRecord, state types.IntakeState, sourceID, errMsg string) {
	if audit == nil {
		return
	}
	if err := p.store.UpdateIntakeState(ctx, audit.ID, state, sourceID, errMsg); err != nil {
		p.logger.Warn("failed to update intake state",
			"intake_id", audit.ID,
			"state", state,
			"error", err,
		)
		return
	}
	audit.State = state
}

// fail marks the audit record failed and releases the idempotency key so a
// retried delivery is processed again.
func (p *Pipeline) fail(ctx context.Context, audit *types.IntakeRecord, key string, cause error) {
	p.setState(ctx, audit, types.IntakeFailed, "", cause.Error())
	if err := p.guard.Release(ctx, key); err != nil {
		p.logger.Warn("failed to release idempotency key", "idempotency_key", key, "error", err)
	}
	p.logger.Error("webhook processing failed", "idempotency_key", key, "error", cause)
}

func (p *Pipeline) publishStored(ctx context.Context, source *types.SourceRecord, key string) {
	eventType := types.EventCallStored
	if source.Kind == types.EventKindEmail {
		eventType = types.EventEmailStored
	}
	e, err := events.New(eventType, source.ID, map[string]any{
		"provider":        source.Provider,
		"idempotency_key": key,
		"client_id":       source.Event.ClientID,
	})
	if err == nil {
		err = p.publisher.Publish(ctx, e)
	}
	if err != nil {
		p.logger.Warn("failed to publish event", "event_type", eventType, "record_id", source.ID, "error", err)
	}
}

// providerSummary returns the ready-made summary some call platforms supply.
func providerSummary(event types.Event) string {
	if event.Call != nil {
		return event.Call.Summary
	}
	return ""
}

func providerSentiment(event types.Event) string {
	if event.Call != nil {
		return event.Call.Sentiment
	}
	return ""
}
