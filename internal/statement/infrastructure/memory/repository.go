package memory

import (
	"context"
	"sync"
	"time"

	billing "ownerledger/internal/billing/domain"
	statement "ownerledger/internal/statement/domain"
)

// StatementRepository is an in-memory repository for statements.
type StatementRepository struct {
	mu    sync.RWMutex
	byID  map[string]*statement.Statement
	items map[string][]statement.Item
}

// NewStatementRepository constructs a repository.
func NewStatementRepository() *StatementRepository {
	return &StatementRepository{
		byID:  make(map[string]*statement.Statement),
		items: make(map[string][]statement.Item),
	}
}

func clone(stmt *statement.Statement) *statement.Statement {
	if stmt == nil {
		return nil
	}
	copied := *stmt
	copied.GroupTags = append([]string(nil), stmt.GroupTags...)
	return &copied
}

// FindLatest returns the highest-version statement for the scope, whatever
// its lifecycle status.
func (r *StatementRepository) FindLatest(ctx context.Context, entityID string, periodStart time.Time, mode billing.CalculationMode) (*statement.Statement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var latest *statement.Statement
	for _, stmt := range r.byID {
		if stmt.EntityID() != entityID || !stmt.PeriodStart.Equal(periodStart) || stmt.Mode != mode {
			continue
		}
		if latest == nil || stmt.Version > latest.Version {
			latest = stmt
		}
	}
	return clone(latest), nil
}

// NextVersion returns the next version for the scope.
func (r *StatementRepository) NextVersion(ctx context.Context, entityID string, periodStart time.Time, mode billing.CalculationMode) (int, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	max := 0
	for _, stmt := range r.byID {
		if stmt.EntityID() == entityID && stmt.PeriodStart.Equal(periodStart) && stmt.Mode == mode && stmt.Version > max {
			max = stmt.Version
		}
	}
	return max + 1, nil
}

// CreateWithItems inserts a statement and its items.
func (r *StatementRepository) CreateWithItems(ctx context.Context, stmt *statement.Statement, items []statement.Item) error {
	_ = ctx
	if stmt == nil {
		return statement.ErrNilStatement
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.byID[stmt.ID]; exists {
		return statement.ErrDuplicatePeriod
	}
	for _, other := range r.byID {
		if other.EntityID() == stmt.EntityID() && other.PeriodStart.Equal(stmt.PeriodStart) &&
			other.Mode == stmt.Mode && other.Version == stmt.Version {
			return statement.ErrDuplicatePeriod
		}
	}
	r.byID[stmt.ID] = clone(stmt)
	r.items[stmt.ID] = append([]statement.Item(nil), items...)
	return nil
}

// ReplaceDraftWithItems overwrites an existing draft in place.
func (r *StatementRepository) ReplaceDraftWithItems(ctx context.Context, stmt *statement.Statement, items []statement.Item) error {
	_ = ctx
	if stmt == nil {
		return statement.ErrNilStatement
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	existing, ok := r.byID[stmt.ID]
	if !ok {
		return statement.ErrNotFound
	}
	if existing.Status != statement.StatusDraft && existing.Status != statement.StatusGenerated {
		return statement.ErrAlreadyProgressed
	}
	r.byID[stmt.ID] = clone(stmt)
	r.items[stmt.ID] = append([]statement.Item(nil), items...)
	return nil
}

// GetByID fetches a statement.
func (r *StatementRepository) GetByID(ctx context.Context, id string) (*statement.Statement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return clone(r.byID[id]), nil
}

// ListItems returns items for a statement.
func (r *StatementRepository) ListItems(ctx context.Context, statementID string) ([]statement.Item, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]statement.Item(nil), r.items[statementID]...), nil
}

// ListByStatus returns statements in a lifecycle status.
func (r *StatementRepository) ListByStatus(ctx context.Context, status string, limit int) ([]statement.Statement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []statement.Statement
	for _, stmt := range r.byID {
		if stmt.Status == status {
			result = append(result, *clone(stmt))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// UpdateLifecycleStatus performs a guarded lifecycle move.
func (r *StatementRepository) UpdateLifecycleStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.byID[id]
	if !ok || stmt.Status != from {
		return false, nil
	}
	stmt.Status = to
	stmt.UpdatedAt = now
	return true, nil
}

// ListByPayoutStatus returns statements in a payout status.
func (r *StatementRepository) ListByPayoutStatus(ctx context.Context, status statement.PayoutStatus, limit int) ([]statement.Statement, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []statement.Statement
	for _, stmt := range r.byID {
		if stmt.PayoutStatus == status {
			result = append(result, *clone(stmt))
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

// ClaimForTransfer atomically moves a statement into pending so only one
// transfer attempt can hold it.
func (r *StatementRepository) ClaimForTransfer(ctx context.Context, id string) (*statement.Statement, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.byID[id]
	if !ok {
		return nil, statement.ErrNotFound
	}
	from := stmt.PayoutStatus
	if from == "" {
		from = statement.PayoutNone
	}
	if !from.CanTransition(statement.PayoutPending) {
		return nil, statement.ErrPayoutClaimed
	}
	stmt.PayoutStatus = statement.PayoutPending
	return clone(stmt), nil
}

// ClaimPendingRetry re-claims a pending statement for an operator retry.
// The seen timestamp fences concurrent retries: only the caller holding the
// row's current timestamp wins, the rest get ErrPayoutClaimed.
func (r *StatementRepository) ClaimPendingRetry(ctx context.Context, id string, seen, now time.Time) (*statement.Statement, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.byID[id]
	if !ok {
		return nil, statement.ErrNotFound
	}
	if stmt.PayoutStatus != statement.PayoutPending || !stmt.UpdatedAt.Equal(seen) {
		return nil, statement.ErrPayoutClaimed
	}
	stmt.UpdatedAt = now
	return clone(stmt), nil
}

// MarkTransferred records a successful transfer.
func (r *StatementRepository) MarkTransferred(ctx context.Context, id, transferID string, fee float64, now time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.byID[id]
	if !ok {
		return statement.ErrNotFound
	}
	if stmt.PayoutStatus != statement.PayoutPending {
		return statement.ErrIllegalPayoutTransition
	}
	stmt.PayoutStatus = statement.PayoutTransferred
	stmt.TransferID = transferID
	stmt.ProcessingFee = fee
	stmt.PayoutError = ""
	stmt.TransferredAt = now
	stmt.UpdatedAt = now
	if stmt.Status == statement.StatusSent || stmt.Status == statement.StatusGenerated {
		stmt.Status = statement.StatusPaid
		stmt.PaidAt = now
	}
	return nil
}

// MarkPayoutStatus records a payout move with an error message.
func (r *StatementRepository) MarkPayoutStatus(ctx context.Context, id string, from, to statement.PayoutStatus, message string, now time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.byID[id]
	if !ok {
		return false, nil
	}
	current := stmt.PayoutStatus
	if current == "" {
		current = statement.PayoutNone
	}
	if current != from || !current.CanTransition(to) {
		return false, nil
	}
	stmt.PayoutStatus = to
	stmt.PayoutError = message
	stmt.UpdatedAt = now
	return true, nil
}

// RecordPayoutError stores a transfer error without changing payout status.
func (r *StatementRepository) RecordPayoutError(ctx context.Context, id, message string, now time.Time) error {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	stmt, ok := r.byID[id]
	if !ok {
		return statement.ErrNotFound
	}
	stmt.PayoutError = message
	stmt.UpdatedAt = now
	return nil
}
