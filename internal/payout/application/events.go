package application

import (
	"context"
	"time"
)

// PayoutTransferred is emitted when the provider accepts a transfer.
type PayoutTransferred struct {
	StatementID string    `json:"statement_id"`
	TransferID  string    `json:"transfer_id"`
	Amount      float64   `json:"amount"`
	Fee         float64   `json:"fee"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// PayoutQueued is emitted when a transfer is deferred for lack of balance.
type PayoutQueued struct {
	StatementID string    `json:"statement_id"`
	Amount      float64   `json:"amount"`
	Reason      string    `json:"reason"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// TopUpSucceeded records a provider balance top-up notification that
// triggered a queued-statement sweep.
type TopUpSucceeded struct {
	QueuedCount int       `json:"queued_count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// TopUpFailed records a failed provider top-up and the statements parked
// for operator intervention.
type TopUpFailed struct {
	Message     string    `json:"message"`
	QueuedCount int       `json:"queued_count"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// Publisher emits payout events. A nil publisher disables emission.
type Publisher interface {
	PublishPayoutTransferred(ctx context.Context, event PayoutTransferred) error
	PublishPayoutQueued(ctx context.Context, event PayoutQueued) error
	PublishTopUpSucceeded(ctx context.Context, event TopUpSucceeded) error
	PublishTopUpFailed(ctx context.Context, event TopUpFailed) error
}
