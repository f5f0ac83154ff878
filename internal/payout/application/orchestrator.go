package application

import (
	"context"
	"errors"
	"log"
	"time"

	"ownerledger/internal/observability/metrics"
	stmtapp "ownerledger/internal/statement/application"
	statement "ownerledger/internal/statement/domain"
)

// ErrInsufficientBalance is returned by the transfer client when the
// provider balance cannot cover the payout.
var ErrInsufficientBalance = errors.New("payout: insufficient balance")

// ErrNoDestination indicates the owner has no transfer account configured.
var ErrNoDestination = errors.New("payout: no destination account")

// ErrNotEligible indicates the statement has nothing to pay out.
var ErrNotEligible = errors.New("payout: statement not eligible for transfer")

// TransferResult is a successful provider transfer.
type TransferResult struct {
	TransferID string
	Fee        float64
}

// TransferClient calls the external payment-transfer service.
type TransferClient interface {
	CreateTransfer(ctx context.Context, destination string, amount float64, reference string) (*TransferResult, error)
}

// Store is the payout-side slice of statement persistence. Claims and
// completion marks are atomic so a statement is never transferred twice.
type Store interface {
	GetByID(ctx context.Context, id string) (*statement.Statement, error)
	ClaimForTransfer(ctx context.Context, id string) (*statement.Statement, error)
	ClaimPendingRetry(ctx context.Context, id string, seen, now time.Time) (*statement.Statement, error)
	MarkTransferred(ctx context.Context, id, transferID string, fee float64, now time.Time) error
	MarkPayoutStatus(ctx context.Context, id string, from, to statement.PayoutStatus, message string, now time.Time) (bool, error)
	RecordPayoutError(ctx context.Context, id, message string, now time.Time) error
	ListByPayoutStatus(ctx context.Context, status statement.PayoutStatus, limit int) ([]statement.Statement, error)
}

// Clock abstracts time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses wall-clock time.
type SystemClock struct{}

// Now returns current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Orchestrator drives statements through the external transfer lifecycle.
type Orchestrator struct {
	store      Store
	transfers  TransferClient
	properties stmtapp.PropertyReader
	publisher  Publisher
	clock      Clock
	logger     *log.Logger
	sweepLimit int
}

// NewOrchestrator constructs an orchestrator. The publisher may be nil.
func NewOrchestrator(store Store, transfers TransferClient, properties stmtapp.PropertyReader, publisher Publisher, clock Clock, logger *log.Logger) (*Orchestrator, error) {
	if store == nil {
		return nil, errors.New("payout orchestrator: nil store")
	}
	if transfers == nil {
		return nil, errors.New("payout orchestrator: nil transfer client")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Orchestrator{
		store:      store,
		transfers:  transfers,
		properties: properties,
		publisher:  publisher,
		clock:      clock,
		logger:     logger,
		sweepLimit: 500,
	}, nil
}

// HandleStatementFinalized reacts to a finalized statement by attempting
// an immediate transfer when a positive payout and destination exist.
func (o *Orchestrator) HandleStatementFinalized(ctx context.Context, event any) error {
	finalized, ok := event.(stmtapp.StatementFinalized)
	if !ok {
		return nil
	}
	if finalized.NetPayout <= 0 {
		return nil
	}
	if finalized.TransferAccount == "" {
		o.logger.Printf("payout skipped: statement=%s no destination account", finalized.StatementID)
		return nil
	}
	if _, err := o.AttemptTransfer(ctx, finalized.StatementID); err != nil {
		// Reported on the statement; the event is considered handled.
		o.logger.Printf("payout attempt failed: statement=%s err=%v", finalized.StatementID, err)
	}
	return nil
}

// AttemptTransfer claims the statement and drives one transfer attempt.
// Exactly one concurrent caller can hold the claim.
func (o *Orchestrator) AttemptTransfer(ctx context.Context, statementID string) (*statement.Statement, error) {
	stmt, err := o.store.ClaimForTransfer(ctx, statementID)
	if err != nil {
		return nil, err
	}
	return o.executeTransfer(ctx, stmt)
}

// Retry re-drives a payout on explicit operator request. A statement stuck
// in pending after a provider error is re-claimed in place, fenced on the
// timestamp the operator saw so concurrent retries cannot double-transfer;
// terminal statements are rejected.
func (o *Orchestrator) Retry(ctx context.Context, statementID string) (*statement.Statement, error) {
	stmt, err := o.store.GetByID(ctx, statementID)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, statement.ErrNotFound
	}
	status := stmt.PayoutStatus
	if status == "" {
		status = statement.PayoutNone
	}
	if status.Terminal() {
		return nil, statement.ErrIllegalPayoutTransition
	}
	if status == statement.PayoutPending {
		claimed, err := o.store.ClaimPendingRetry(ctx, statementID, stmt.UpdatedAt, o.clock.Now())
		if err != nil {
			return nil, err
		}
		return o.executeTransfer(ctx, claimed)
	}
	return o.AttemptTransfer(ctx, statementID)
}

// SweepQueued re-attempts every queued statement after a balance top-up.
// Per-item failures do not abort the sweep.
func (o *Orchestrator) SweepQueued(ctx context.Context) error {
	metrics.ObservePayoutSweep("topup_succeeded")
	queued, err := o.store.ListByPayoutStatus(ctx, statement.PayoutQueued, o.sweepLimit)
	if err != nil {
		return err
	}
	if o.publisher != nil {
		_ = o.publisher.PublishTopUpSucceeded(ctx, TopUpSucceeded{
			QueuedCount: len(queued),
			OccurredAt:  o.clock.Now(),
		})
	}
	for i := range queued {
		if _, err := o.AttemptTransfer(ctx, queued[i].ID); err != nil {
			o.logger.Printf("payout sweep item failed: statement=%s err=%v", queued[i].ID, err)
		}
	}
	return nil
}

// MarkTopUpFailed moves every queued statement to topup_failed with the
// provider message, for operator intervention.
func (o *Orchestrator) MarkTopUpFailed(ctx context.Context, message string) error {
	metrics.ObservePayoutSweep("topup_failed")
	queued, err := o.store.ListByPayoutStatus(ctx, statement.PayoutQueued, o.sweepLimit)
	if err != nil {
		return err
	}
	now := o.clock.Now()
	if message == "" {
		message = "balance top-up failed"
	}
	if o.publisher != nil {
		_ = o.publisher.PublishTopUpFailed(ctx, TopUpFailed{
			Message:     message,
			QueuedCount: len(queued),
			OccurredAt:  now,
		})
	}
	for i := range queued {
		moved, err := o.store.MarkPayoutStatus(ctx, queued[i].ID, statement.PayoutQueued, statement.PayoutTopUpFailed, message, now)
		if err != nil {
			o.logger.Printf("payout topup-failed mark error: statement=%s err=%v", queued[i].ID, err)
			continue
		}
		if !moved {
			o.logger.Printf("payout topup-failed mark lost race: statement=%s", queued[i].ID)
		}
	}
	return nil
}

func (o *Orchestrator) executeTransfer(ctx context.Context, stmt *statement.Statement) (*statement.Statement, error) {
	now := o.clock.Now()
	if stmt.NetPayout <= 0 {
		o.recordError(ctx, stmt, ErrNotEligible.Error(), now)
		return nil, ErrNotEligible
	}
	destination, err := o.destinationFor(ctx, stmt)
	if err != nil {
		o.recordError(ctx, stmt, err.Error(), now)
		return nil, err
	}

	start := time.Now()
	result, err := o.transfers.CreateTransfer(ctx, destination, stmt.NetPayout, stmt.ID)
	switch {
	case err == nil:
		metrics.ObservePayoutTransfer("success", time.Since(start))
		now = o.clock.Now()
		if err := o.store.MarkTransferred(ctx, stmt.ID, result.TransferID, result.Fee, now); err != nil {
			return nil, err
		}
		if o.publisher != nil {
			_ = o.publisher.PublishPayoutTransferred(ctx, PayoutTransferred{
				StatementID: stmt.ID,
				TransferID:  result.TransferID,
				Amount:      stmt.NetPayout,
				Fee:         result.Fee,
				OccurredAt:  now,
			})
		}
		return o.store.GetByID(ctx, stmt.ID)
	case errors.Is(err, ErrInsufficientBalance):
		metrics.ObservePayoutTransfer("insufficient_balance", time.Since(start))
		now = o.clock.Now()
		if _, markErr := o.store.MarkPayoutStatus(ctx, stmt.ID, statement.PayoutPending, statement.PayoutQueued, err.Error(), now); markErr != nil {
			return nil, markErr
		}
		if o.publisher != nil {
			_ = o.publisher.PublishPayoutQueued(ctx, PayoutQueued{
				StatementID: stmt.ID,
				Amount:      stmt.NetPayout,
				Reason:      err.Error(),
				OccurredAt:  now,
			})
		}
		return o.store.GetByID(ctx, stmt.ID)
	default:
		metrics.ObservePayoutTransfer("error", time.Since(start))
		o.recordError(ctx, stmt, err.Error(), o.clock.Now())
		return nil, err
	}
}

// destinationFor resolves the transfer account: the property's configured
// account, or for a group the first member carrying one.
func (o *Orchestrator) destinationFor(ctx context.Context, stmt *statement.Statement) (string, error) {
	if o.properties == nil {
		return "", ErrNoDestination
	}
	if stmt.PropertyID != "" {
		profile, err := o.properties.GetFeeProfile(ctx, stmt.PropertyID)
		if err != nil {
			return "", err
		}
		if profile == nil || profile.TransferAccount == "" {
			return "", ErrNoDestination
		}
		return profile.TransferAccount, nil
	}
	if stmt.GroupID != "" {
		group, err := o.properties.GetGroup(ctx, stmt.GroupID)
		if err != nil {
			return "", err
		}
		if group != nil {
			for _, member := range group.Members {
				if member.TransferAccount != "" {
					return member.TransferAccount, nil
				}
			}
		}
	}
	return "", ErrNoDestination
}

func (o *Orchestrator) recordError(ctx context.Context, stmt *statement.Statement, message string, now time.Time) {
	if err := o.store.RecordPayoutError(ctx, stmt.ID, message, now); err != nil {
		o.logger.Printf("payout error record failed: statement=%s err=%v", stmt.ID, err)
	}
}
