// Package events publishes domain events to the store-backed event log and,
// optionally, to NATS subscribers.
package events

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hyperengineering/triage/internal/types"
)

// Publisher delivers domain events.
type Publisher interface {
	Publish(ctx context.Context, e types.DomainEvent) error
}

// New builds a domain event with payload marshaled as JSON.
func New(eventType, entityID string, payload any) (types.DomainEvent, error) {
	e := types.DomainEvent{
		Type:      eventType,
		EntityID:  entityID,
		CreatedAt: time.Now().UTC(),
	}
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return e, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		e.Payload = data
	}
	return e, nil
}

// Multi fans an event out to every publisher. All publishers are attempted;
// their errors are returned together.
type Multi []Publisher

// Publish implements Publisher.
func (m Multi) Publish(ctx context.Context, e types.DomainEvent) error {
	var errs []error
	for _, p := range m {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Nop discards events.
type Nop struct{}

// Publish implements Publisher.
func (Nop) Publish(context.Context, types.DomainEvent) error { return nil }
