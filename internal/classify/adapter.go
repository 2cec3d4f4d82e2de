package classify

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hyperengineering/triage/internal/metrics"
	"github.com/hyperengineering/triage/internal/types"
)

// Classification sources reported to metrics.
const (
	SourceModel    = "model"
	SourceFallback = "fallback"
)

// Adapter wraps an optional external classifier with a bounded timeout and
// the rule-based fallback. Its Classify never fails.
type Adapter struct {
	primary  Classifier
	fallback *RuleBased
	timeout  time.Duration
	metrics  *metrics.Metrics
	logger   *slog.Logger
}

// NewAdapter creates an adapter. A nil primary leaves only the rule-based path.
func NewAdapter(primary Classifier, timeout time.Duration, m *metrics.Metrics) *Adapter {
	return &Adapter{
		primary:  primary,
		fallback: NewRuleBased(),
		timeout:  timeout,
		metrics:  m,
		logger:   slog.Default().With("component", "classifier"),
	}
}

// ModelName returns the primary classifier's model, or the rule set name
// when no primary is configured.
func (a *Adapter) ModelName() string {
	if a.primary == nil {
		return a.fallback.ModelName()
	}
	return a.primary.ModelName()
}

// Classify returns the primary classifier's result when it answers in time
// with valid output, and the rule-based result otherwise.
func (a *Adapter) Classify(ctx context.Context, event types.Event) types.ClassificationResult {
	if a.primary != nil {
		start := time.Now()
		result, err := a.classifyPrimary(ctx, event)
		if err == nil {
			result.Duration = time.Since(start)
			result.Fallback = false
			a.metrics.Classification(SourceModel, result.Duration)
			return *result
		}
		a.logger.Warn("classifier failed, using rule-based fallback",
			"model", a.primary.ModelName(),
			"malformed", errors.Is(err, ErrMalformedOutput),
			"error", err,
		)
	}

	start := time.Now()
	result := a.fallback.classify(event)
	result.Duration = time.Since(start)
	a.metrics.Classification(SourceFallback, result.Duration)
	return *result
}

func (a *Adapter) classifyPrimary(ctx context.Context, event types.Event) (result *types.ClassificationResult, err error) {
	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	defer func() {
		if r := recover(); r != nil {
			result, err = nil, fmt.Errorf("%w: panic: %v", ErrUnavailable, r)
		}
	}()

	result, err = a.primary.Classify(ctx, event)
	if err != nil {
		if ctx.Err() != nil && !errors.Is(err, ErrUnavailable) {
			err = fmt.Errorf("%w: %w", ErrUnavailable, err)
		}
		return nil, err
	}
	if result == nil {
		return nil, fmt.Errorf("%w: empty result", ErrMalformedOutput)
	}
	return result, nil
}
