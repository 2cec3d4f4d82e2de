package main

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/hyperengineering/triage/internal/api"
	"github.com/hyperengineering/triage/internal/classify"
	"github.com/hyperengineering/triage/internal/config"
	"github.com/hyperengineering/triage/internal/events"
	"github.com/hyperengineering/triage/internal/intake"
	"github.com/hyperengineering/triage/internal/learning"
	"github.com/hyperengineering/triage/internal/metrics"
	"github.com/hyperengineering/triage/internal/pattern"
	"github.com/hyperengineering/triage/internal/store"
	"github.com/hyperengineering/triage/internal/suggest"
	"github.com/hyperengineering/triage/internal/worker"
)

// app holds the wired server components.
type app struct {
	router   http.Handler
	workers  map[string]func(ctx context.Context)
	nats     *nats.Conn
	pipeline *intake.Pipeline
	service  *suggest.Service
}

// newApp wires the intake pipeline, suggestion lifecycle, learner and
// workers over db.
func newApp(cfg *config.Config, db *store.SQLStore) (*app, error) {
	m := metrics.New()

	// Domain events go to the append-only log and, when configured, to NATS
	publishers := events.Multi{events.NewStorePublisher(db)}
	var conn *nats.Conn
	if cfg.Events.NATSURL != "" {
		c, err := events.Connect(cfg.Events.NATSURL)
		if err != nil {
			return nil, err
		}
		conn = c
		publishers = append(publishers, events.NewNATSPublisher(conn, cfg.Events.SubjectPrefix))
		slog.Info("event publisher connected", "url", cfg.Events.NATSURL)
	}

	var primary classify.Classifier
	if cfg.Classifier.APIKey != "" {
		primary = classify.NewOpenAI(cfg.Classifier.APIKey, cfg.Classifier.Model)
	}
	classifier := classify.NewAdapter(primary, time.Duration(cfg.Classifier.Timeout), m)
	slog.Info("classifier initialized", "model", classifier.ModelName())

	learner := learning.NewLearner(db, pattern.NewScorer(cfg.Learning), cfg.Learning.HistoryLimit)
	learningWorker := worker.NewLearningWorker(
		db,
		learner,
		m,
		time.Duration(cfg.Worker.LearningInterval),
		cfg.Worker.LearningBatchSize,
		cfg.Worker.LearningMaxAttempts,
		time.Duration(cfg.Worker.LearningBackoffBase),
	)
	recorder := learning.NewRecorder(db, learningWorker)
	service := suggest.NewService(db, recorder, publishers, m)

	var seen intake.SeenSet
	switch cfg.Intake.IdempotencyStore {
	case "store":
		seen = intake.NewStoreSeenSet(db, time.Duration(cfg.Intake.IdempotencyTTL))
	default:
		seen = intake.NewMemorySeenSet(cfg.Intake.SeenKeysCapacity)
	}

	pipeline := intake.NewPipeline(intake.PipelineConfig{
		Store:          db,
		Guard:          intake.NewGuard(seen, time.Duration(cfg.Intake.FreshnessWindow)),
		Classifier:     classifier,
		Matcher:        pattern.NewMatcher(db, cfg.Learning.HitThreshold, cfg.Learning.MinConfidence, m),
		Generator:      suggest.NewGenerator(db, time.Duration(cfg.Suggestions.Expiry)),
		Suggestions:    service,
		Publisher:      publishers,
		Metrics:        m,
		ProcessTimeout: time.Duration(cfg.Intake.ProcessTimeout),
	})

	handler := api.NewHandler(api.HandlerConfig{
		Store:           db,
		Suggestions:     service,
		Intake:          pipeline,
		APIKey:          cfg.Auth.APIKey,
		WebhookSecret:   cfg.Intake.WebhookSecret,
		Version:         Version,
		ClassifierModel: classifier.ModelName(),
		MaxBodyBytes:    cfg.Intake.MaxPayloadBytes,
	})
	router := api.NewRouter(handler, api.RouterConfig{
		AllowedOrigins:   cfg.CORS.AllowedOrigins,
		WebhookRateLimit: cfg.Intake.RateLimitPerSec,
		WebhookBurst:     cfg.Intake.RateLimitBurst,
	})

	// The store-backed seen set expires keys alongside suggestions
	var keys worker.IdempotencyStore
	if cfg.Intake.IdempotencyStore == "store" {
		keys = db
	}
	expiryWorker := worker.NewExpiryWorker(service, keys, time.Duration(cfg.Worker.ExpiryInterval))

	return &app{
		router: router,
		workers: map[string]func(ctx context.Context){
			"suggestion-expiry": expiryWorker.Run,
			"pattern-learning":  learningWorker.Run,
		},
		nats:     conn,
		pipeline: pipeline,
		service:  service,
	}, nil
}

// close releases connections held by the app.
func (a *app) close() {
	if a.nats == nil {
		return
	}
	if err := a.nats.Drain(); err != nil {
		slog.Error("nats drain error", "error", err)
	}
}
