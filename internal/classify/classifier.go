// Package classify turns raw call and email content into a structured
// ClassificationResult, using a language model when one is configured and a
// deterministic rule-based classifier otherwise.
package classify

import (
	"context"
	"errors"

	"github.com/hyperengineering/triage/internal/types"
)

var (
	// ErrUnavailable means the external classifier could not be reached,
	// errored, or timed out.
	ErrUnavailable = errors.New("classifier unavailable")
	// ErrMalformedOutput means the external classifier answered with data
	// that is not a valid ClassificationResult.
	ErrMalformedOutput = errors.New("classifier returned malformed output")
)

// Classifier defines the interface contract for classification collaborators.
type Classifier interface {
	Classify(ctx context.Context, event types.Event) (*types.ClassificationResult, error)
	ModelName() string
}
