package interfaces

import (
	"context"

	"ownerledger/internal/eventing"
	"ownerledger/internal/payout/application"
)

// OutboxPublisher writes payout lifecycle events to outbox.
type OutboxPublisher struct {
	publisher *eventing.Publisher
	tenantID  string
}

// NewOutboxPublisher constructs an outbox publisher.
func NewOutboxPublisher(publisher *eventing.Publisher, tenantID string) *OutboxPublisher {
	return &OutboxPublisher{publisher: publisher, tenantID: tenantID}
}

// PublishPayoutTransferred writes the event to outbox.
func (p *OutboxPublisher) PublishPayoutTransferred(ctx context.Context, event application.PayoutTransferred) error {
	return p.publish(ctx, event)
}

// PublishPayoutQueued writes the event to outbox.
func (p *OutboxPublisher) PublishPayoutQueued(ctx context.Context, event application.PayoutQueued) error {
	return p.publish(ctx, event)
}

// PublishTopUpSucceeded writes the event to outbox.
func (p *OutboxPublisher) PublishTopUpSucceeded(ctx context.Context, event application.TopUpSucceeded) error {
	return p.publish(ctx, event)
}

// PublishTopUpFailed writes the event to outbox.
func (p *OutboxPublisher) PublishTopUpFailed(ctx context.Context, event application.TopUpFailed) error {
	return p.publish(ctx, event)
}

func (p *OutboxPublisher) publish(ctx context.Context, event any) error {
	if p == nil || p.publisher == nil {
		return nil
	}
	ctx = eventing.WithTenantID(ctx, p.tenantID)
	return p.publisher.Publish(ctx, event)
}
