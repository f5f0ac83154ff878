package interfaces

import (
	"context"

	"ownerledger/internal/eventing"
	"ownerledger/internal/statement/application"
)

// OutboxPublisher writes statement lifecycle events to outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
	tenantID  string
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher, tenantID string) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher, tenantID: tenantID}
}

// PublishStatementGenerated writes the event to outbox.
func (p *OutboxPublisher) PublishStatementGenerated(ctx context.Context, event application.StatementGenerated) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithTenantID(ctx, p.tenantID)
	return p.publisher.Publish(ctx, event)
}

// PublishStatementFinalized writes the event to outbox.
func (p *OutboxPublisher) PublishStatementFinalized(ctx context.Context, event application.StatementFinalized) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithTenantID(ctx, p.tenantID)
	return p.publisher.Publish(ctx, event)
}
