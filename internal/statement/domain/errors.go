package statement

import "errors"

var (
	// ErrNotFound is returned when a statement does not exist.
	ErrNotFound = errors.New("statement: not found")
	// ErrAlreadyProgressed is returned when regeneration targets a statement
	// past the generated status.
	ErrAlreadyProgressed = errors.New("statement: already progressed past generated")
	// ErrDuplicatePeriod is returned when a concurrent generation for the same
	// entity and period loses the uniqueness race.
	ErrDuplicatePeriod = errors.New("statement: duplicate generation for period")
	// ErrInvalidStatus is returned for a backward or unknown lifecycle move.
	ErrInvalidStatus = errors.New("statement: invalid status transition")
	// ErrIllegalPayoutTransition is returned for a payout move outside the
	// defined state set.
	ErrIllegalPayoutTransition = errors.New("statement: illegal payout transition")
	// ErrPayoutClaimed is returned when another transfer attempt already holds
	// the statement.
	ErrPayoutClaimed = errors.New("statement: payout already claimed")
	// ErrNilStatement is returned when persisting a nil statement.
	ErrNilStatement = errors.New("statement: nil statement")
)
