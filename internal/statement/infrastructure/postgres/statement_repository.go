package postgres

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	billing "ownerledger/internal/billing/domain"
	statement "ownerledger/internal/statement/domain"
)

const statementColumns = `
id, tenant_id, entity_id, property_id, group_id, group_name, group_tags,
period_start, period_end, mode, version, status,
revenue, expense_total, commission, tax, adjustments, waiver_active,
gross_payout, net_payout, currency, owner_name, owner_email,
payout_status, transfer_id, processing_fee, payout_error,
created_at, updated_at, sent_at, paid_at, transferred_at`

// StatementRepository persists owner payout statements.
type StatementRepository struct {
	db *sql.DB
}

// NewStatementRepository constructs a repository.
func NewStatementRepository(db *sql.DB) *StatementRepository {
	return &StatementRepository{db: db}
}

// FindLatest returns the highest-version statement for a scope, whatever
// its lifecycle status.
func (r *StatementRepository) FindLatest(ctx context.Context, entityID string, periodStart time.Time, mode billing.CalculationMode) (*statement.Statement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+statementColumns+`
FROM statements
WHERE entity_id = $1 AND period_start = $2 AND mode = $3
ORDER BY version DESC
LIMIT 1`, entityID, periodStart, string(mode))
	return scanStatement(row)
}

// NextVersion returns the next version for a scope.
func (r *StatementRepository) NextVersion(ctx context.Context, entityID string, periodStart time.Time, mode billing.CalculationMode) (int, error) {
	if r == nil || r.db == nil {
		return 0, errors.New("statement repo: nil db")
	}
	var maxVersion sql.NullInt64
	err := r.db.QueryRowContext(ctx, `
SELECT MAX(version)
FROM statements
WHERE entity_id = $1 AND period_start = $2 AND mode = $3`, entityID, periodStart, string(mode)).Scan(&maxVersion)
	if err != nil {
		return 0, err
	}
	if !maxVersion.Valid {
		return 1, nil
	}
	return int(maxVersion.Int64) + 1, nil
}

// CreateWithItems inserts a statement and its items in one transaction. The
// unique index on (entity_id, period_start, mode, version) turns a
// concurrent duplicate generation into ErrDuplicatePeriod.
func (r *StatementRepository) CreateWithItems(ctx context.Context, stmt *statement.Statement, items []statement.Item) error {
	if r == nil || r.db == nil {
		return errors.New("statement repo: nil db")
	}
	if stmt == nil {
		return statement.ErrNilStatement
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	_, err = tx.ExecContext(ctx, `
INSERT INTO statements (
	id, tenant_id, entity_id, property_id, group_id, group_name, group_tags,
	period_start, period_end, mode, version, status,
	revenue, expense_total, commission, tax, adjustments, waiver_active,
	gross_payout, net_payout, currency, owner_name, owner_email,
	payout_status, transfer_id, processing_fee, payout_error,
	created_at, updated_at
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19,$20,$21,$22,$23,$24,$25,$26,$27,$28,$29
)`,
		stmt.ID, stmt.TenantID, stmt.EntityID(), stmt.PropertyID, stmt.GroupID, stmt.GroupName, strings.Join(stmt.GroupTags, ","),
		stmt.PeriodStart, stmt.PeriodEnd, string(stmt.Mode), stmt.Version, stmt.Status,
		stmt.Revenue, stmt.ExpenseTotal, stmt.Commission, stmt.Tax, stmt.Adjustments, stmt.WaiverActive,
		stmt.GrossPayout, stmt.NetPayout, stmt.Currency, stmt.OwnerName, stmt.OwnerEmail,
		string(stmt.PayoutStatus), stmt.TransferID, stmt.ProcessingFee, stmt.PayoutError,
		stmt.CreatedAt, stmt.UpdatedAt,
	)
	if err != nil {
		_ = tx.Rollback()
		if isUniqueViolation(err) {
			return statement.ErrDuplicatePeriod
		}
		return err
	}
	if err := insertItems(ctx, tx, stmt.ID, items); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// ReplaceDraftWithItems recomputes an existing draft in place. The guarded
// UPDATE serializes concurrent re-generations for the same statement.
func (r *StatementRepository) ReplaceDraftWithItems(ctx context.Context, stmt *statement.Statement, items []statement.Item) error {
	if r == nil || r.db == nil {
		return errors.New("statement repo: nil db")
	}
	if stmt == nil {
		return statement.ErrNilStatement
	}
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	result, err := tx.ExecContext(ctx, `
UPDATE statements
SET revenue = $1, expense_total = $2, commission = $3, tax = $4, adjustments = $5,
	waiver_active = $6, gross_payout = $7, net_payout = $8,
	owner_name = $9, owner_email = $10, updated_at = $11
WHERE id = $12 AND status IN ('draft','generated')`,
		stmt.Revenue, stmt.ExpenseTotal, stmt.Commission, stmt.Tax, stmt.Adjustments,
		stmt.WaiverActive, stmt.GrossPayout, stmt.NetPayout,
		stmt.OwnerName, stmt.OwnerEmail, stmt.UpdatedAt, stmt.ID)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	if affected == 0 {
		_ = tx.Rollback()
		return statement.ErrAlreadyProgressed
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM statement_items WHERE statement_id = $1`, stmt.ID); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := insertItems(ctx, tx, stmt.ID, items); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// GetByID fetches a statement.
func (r *StatementRepository) GetByID(ctx context.Context, id string) (*statement.Statement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+statementColumns+`
FROM statements
WHERE id = $1
LIMIT 1`, id)
	return scanStatement(row)
}

// ListItems returns items for a statement.
func (r *StatementRepository) ListItems(ctx context.Context, statementID string) ([]statement.Item, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT statement_id, reservation_id, kind, description, nights, amount, created_at
FROM statement_items
WHERE statement_id = $1
ORDER BY kind ASC, reservation_id ASC`, statementID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []statement.Item
	for rows.Next() {
		var item statement.Item
		var reservationID sql.NullString
		if err := rows.Scan(&item.StatementID, &reservationID, &item.Kind, &item.Description, &item.Nights, &item.Amount, &item.CreatedAt); err != nil {
			return nil, err
		}
		if reservationID.Valid {
			item.ReservationID = reservationID.String
		}
		item.CreatedAt = item.CreatedAt.UTC()
		result = append(result, item)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// ListByStatus returns statements in a lifecycle status.
func (r *StatementRepository) ListByStatus(ctx context.Context, status string, limit int) ([]statement.Statement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+statementColumns+`
FROM statements
WHERE status = $1
ORDER BY period_start DESC, id ASC
LIMIT $2`, status, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStatements(rows)
}

// UpdateLifecycleStatus performs a guarded lifecycle move and reports
// whether the row changed.
func (r *StatementRepository) UpdateLifecycleStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("statement repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE statements
SET status = $1, updated_at = $2,
	sent_at = CASE WHEN $1 = 'sent' THEN $2 ELSE sent_at END,
	paid_at = CASE WHEN $1 = 'paid' THEN $2 ELSE paid_at END
WHERE id = $3 AND status = $4`, to, now, id, from)
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// ListByPayoutStatus returns statements in a payout status.
func (r *StatementRepository) ListByPayoutStatus(ctx context.Context, status statement.PayoutStatus, limit int) ([]statement.Statement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	if limit <= 0 {
		limit = 100
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+statementColumns+`
FROM statements
WHERE payout_status = $1
ORDER BY period_start ASC, id ASC
LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectStatements(rows)
}

// ClaimForTransfer atomically moves a statement into pending. Exactly one
// concurrent caller wins; the rest get ErrPayoutClaimed.
func (r *StatementRepository) ClaimForTransfer(ctx context.Context, id string) (*statement.Statement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE statements
SET payout_status = 'pending'
WHERE id = $1 AND payout_status IN ('none','queued','topup_failed')`, id)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, statement.ErrPayoutClaimed
	}
	return r.GetByID(ctx, id)
}

// ClaimPendingRetry re-claims a pending statement for an operator retry.
// The seen timestamp fences concurrent retries: the guarded update succeeds
// only for the caller holding the row's current updated_at, the rest get
// ErrPayoutClaimed.
func (r *StatementRepository) ClaimPendingRetry(ctx context.Context, id string, seen, now time.Time) (*statement.Statement, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("statement repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE statements
SET updated_at = $1
WHERE id = $2 AND payout_status = 'pending' AND updated_at = $3`, now, id, seen)
	if err != nil {
		return nil, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return nil, err
	}
	if affected == 0 {
		return nil, statement.ErrPayoutClaimed
	}
	return r.GetByID(ctx, id)
}

// MarkTransferred records a successful transfer and settles the lifecycle.
func (r *StatementRepository) MarkTransferred(ctx context.Context, id, transferID string, fee float64, now time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("statement repo: nil db")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE statements
SET payout_status = 'transferred', transfer_id = $1, processing_fee = $2,
	payout_error = '', transferred_at = $3, updated_at = $3,
	status = CASE WHEN status IN ('generated','sent') THEN 'paid' ELSE status END,
	paid_at = CASE WHEN status IN ('generated','sent') THEN $3 ELSE paid_at END
WHERE id = $4 AND payout_status = 'pending'`, transferID, fee, now, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return statement.ErrIllegalPayoutTransition
	}
	return nil
}

// MarkPayoutStatus performs a guarded payout move storing the error message.
func (r *StatementRepository) MarkPayoutStatus(ctx context.Context, id string, from, to statement.PayoutStatus, message string, now time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("statement repo: nil db")
	}
	if !from.CanTransition(to) {
		return false, statement.ErrIllegalPayoutTransition
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE statements
SET payout_status = $1, payout_error = $2, updated_at = $3
WHERE id = $4 AND payout_status = $5`, string(to), message, now, id, string(from))
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

// RecordPayoutError stores a transfer error without changing payout status.
func (r *StatementRepository) RecordPayoutError(ctx context.Context, id, message string, now time.Time) error {
	if r == nil || r.db == nil {
		return errors.New("statement repo: nil db")
	}
	_, err := r.db.ExecContext(ctx, `
UPDATE statements
SET payout_error = $1, updated_at = $2
WHERE id = $3`, message, now, id)
	return err
}

func insertItems(ctx context.Context, tx *sql.Tx, statementID string, items []statement.Item) error {
	for _, item := range items {
		_, err := tx.ExecContext(ctx, `
INSERT INTO statement_items (
	statement_id, reservation_id, kind, description, nights, amount, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7)`,
			statementID, item.ReservationID, item.Kind, item.Description, item.Nights, item.Amount, item.CreatedAt)
		if err != nil {
			return err
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func collectStatements(rows *sql.Rows) ([]statement.Statement, error) {
	var result []statement.Statement
	for rows.Next() {
		stmt, err := scanStatement(rows)
		if err != nil {
			return nil, err
		}
		if stmt != nil {
			result = append(result, *stmt)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

func scanStatement(row rowScanner) (*statement.Statement, error) {
	var stmt statement.Statement
	var entityID string
	var propertyID, groupID, groupName, groupTags sql.NullString
	var mode, payoutStatus string
	var transferID, payoutError, ownerName, ownerEmail sql.NullString
	var sentAt, paidAt, transferredAt sql.NullTime
	err := row.Scan(
		&stmt.ID,
		&stmt.TenantID,
		&entityID,
		&propertyID,
		&groupID,
		&groupName,
		&groupTags,
		&stmt.PeriodStart,
		&stmt.PeriodEnd,
		&mode,
		&stmt.Version,
		&stmt.Status,
		&stmt.Revenue,
		&stmt.ExpenseTotal,
		&stmt.Commission,
		&stmt.Tax,
		&stmt.Adjustments,
		&stmt.WaiverActive,
		&stmt.GrossPayout,
		&stmt.NetPayout,
		&stmt.Currency,
		&ownerName,
		&ownerEmail,
		&payoutStatus,
		&transferID,
		&stmt.ProcessingFee,
		&payoutError,
		&stmt.CreatedAt,
		&stmt.UpdatedAt,
		&sentAt,
		&paidAt,
		&transferredAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	stmt.Mode = billing.CalculationMode(mode)
	stmt.PayoutStatus = statement.PayoutStatus(payoutStatus)
	if propertyID.Valid {
		stmt.PropertyID = propertyID.String
	}
	if groupID.Valid {
		stmt.GroupID = groupID.String
	}
	if groupName.Valid {
		stmt.GroupName = groupName.String
	}
	if groupTags.Valid && groupTags.String != "" {
		stmt.GroupTags = strings.Split(groupTags.String, ",")
	}
	if ownerName.Valid {
		stmt.OwnerName = ownerName.String
	}
	if ownerEmail.Valid {
		stmt.OwnerEmail = ownerEmail.String
	}
	if transferID.Valid {
		stmt.TransferID = transferID.String
	}
	if payoutError.Valid {
		stmt.PayoutError = payoutError.String
	}
	if sentAt.Valid {
		stmt.SentAt = sentAt.Time.UTC()
	}
	if paidAt.Valid {
		stmt.PaidAt = paidAt.Time.UTC()
	}
	if transferredAt.Valid {
		stmt.TransferredAt = transferredAt.Time.UTC()
	}
	stmt.PeriodStart = stmt.PeriodStart.UTC()
	stmt.PeriodEnd = stmt.PeriodEnd.UTC()
	stmt.CreatedAt = stmt.CreatedAt.UTC()
	stmt.UpdatedAt = stmt.UpdatedAt.UTC()
	return &stmt, nil
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key")
}
