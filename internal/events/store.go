package events

import (
	"context"
	"fmt"

	"github.com/hyperengineering/triage/internal/types"
)

// EventLog defines the store operation needed by StorePublisher.
type EventLog interface {
	AppendEvent(ctx context.Context, e *types.DomainEvent) (int64, error)
}

// StorePublisher appends events to the durable domain event log.
type StorePublisher struct {
	log EventLog
}

// NewStorePublisher creates a publisher backed by the event log.
func NewStorePublisher(log EventLog) *StorePublisher {
	return &StorePublisher{log: log}
}

// Publish implements Publisher.
func (p *StorePublisher) Publish(ctx context.Context, e types.DomainEvent) error {
	if _, err := p.log.AppendEvent(ctx, &e); err != nil {
		return fmt.Errorf("append %s event: %w", e.Type, err)
	}
	return nil
}
