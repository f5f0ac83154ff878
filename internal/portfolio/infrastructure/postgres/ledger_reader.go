package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	billing "ownerledger/internal/billing/domain"
)

// ReservationReader loads reservations overlapping a statement period.
type ReservationReader struct {
	db *sql.DB
}

// NewReservationReader constructs a reservation reader.
func NewReservationReader(db *sql.DB) (*ReservationReader, error) {
	if db == nil {
		return nil, errors.New("reservation reader: nil db")
	}
	return &ReservationReader{db: db}, nil
}

// ListOverlapping returns reservations whose stay intersects [start, end).
// A checkout landing exactly on start is included: checkout mode assigns
// that reservation's full revenue to the period beginning on its checkout
// day. Cancelled reservations are returned too; the aggregator decides
// whether to skip them or reverse them.
func (r *ReservationReader) ListOverlapping(ctx context.Context, propertyID string, start, end time.Time) ([]billing.Reservation, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, property_id, gross_amount, platform_fees, check_in, check_out, nights, status, split_prior
FROM reservations
WHERE property_id = $1 AND check_in < $3 AND check_out >= $2
ORDER BY check_in`,
		propertyID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list reservations: %w", err)
	}
	defer rows.Close()

	var reservations []billing.Reservation
	for rows.Next() {
		var (
			res        billing.Reservation
			nights     sql.NullInt64
			status     sql.NullString
			splitPrior any
		)
		if err := rows.Scan(&res.ID, &res.PropertyID, &res.GrossAmount, &res.PlatformFees,
			&res.CheckIn, &res.CheckOut, &nights, &status, &splitPrior); err != nil {
			return nil, fmt.Errorf("list reservations scan: %w", err)
		}
		res.CheckIn = res.CheckIn.UTC()
		res.CheckOut = res.CheckOut.UTC()
		res.Nights = int(nights.Int64)
		res.Status = status.String
		res.SplitPrior = flexibleBool(splitPrior)
		reservations = append(reservations, res)
	}
	return reservations, rows.Err()
}

// LedgerReader loads expenses and operator payout line items.
type LedgerReader struct {
	db *sql.DB
}

// NewLedgerReader constructs a ledger reader.
func NewLedgerReader(db *sql.DB) (*LedgerReader, error) {
	if db == nil {
		return nil, errors.New("ledger reader: nil db")
	}
	return &LedgerReader{db: db}, nil
}

// ListExpenses returns expenses dated within [start, end).
func (r *LedgerReader) ListExpenses(ctx context.Context, propertyID string, start, end time.Time) ([]billing.Expense, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, property_id, amount, expense_date, memo
FROM expenses
WHERE property_id = $1 AND expense_date >= $2 AND expense_date < $3
ORDER BY expense_date, id`,
		propertyID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}
	defer rows.Close()

	var expenses []billing.Expense
	for rows.Next() {
		var (
			expense billing.Expense
			memo    sql.NullString
		)
		if err := rows.Scan(&expense.ID, &expense.PropertyID, &expense.Amount, &expense.Date, &memo); err != nil {
			return nil, fmt.Errorf("list expenses scan: %w", err)
		}
		expense.Date = expense.Date.UTC()
		expense.Memo = memo.String
		expenses = append(expenses, expense)
	}
	return expenses, rows.Err()
}

// ListPayoutLineItems returns operator-entered payout credits within [start, end).
func (r *LedgerReader) ListPayoutLineItems(ctx context.Context, propertyID string, start, end time.Time) ([]billing.PayoutLineItem, error) {
	rows, err := r.db.QueryContext(ctx, `
SELECT id, property_id, amount, item_date, memo
FROM payout_line_items
WHERE property_id = $1 AND item_date >= $2 AND item_date < $3
ORDER BY item_date, id`,
		propertyID, start.UTC(), end.UTC())
	if err != nil {
		return nil, fmt.Errorf("list payout line items: %w", err)
	}
	defer rows.Close()

	var items []billing.PayoutLineItem
	for rows.Next() {
		var (
			item billing.PayoutLineItem
			memo sql.NullString
		)
		if err := rows.Scan(&item.ID, &item.PropertyID, &item.Amount, &item.Date, &memo); err != nil {
			return nil, fmt.Errorf("list payout line items scan: %w", err)
		}
		item.Date = item.Date.UTC()
		item.Memo = memo.String
		items = append(items, item)
	}
	return items, rows.Err()
}
