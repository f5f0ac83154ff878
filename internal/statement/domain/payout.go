package statement

// PayoutStatus tracks money movement for a statement, independent of the
// document lifecycle status.
type PayoutStatus string

const (
	// PayoutNone means no transfer has been attempted (or none is due).
	PayoutNone PayoutStatus = "none"
	// PayoutPending means a transfer attempt is in flight.
	PayoutPending PayoutStatus = "pending"
	// PayoutQueued means the transfer was rejected for insufficient balance
	// and waits for a balance top-up sweep.
	PayoutQueued PayoutStatus = "queued"
	// PayoutTransferred is terminal success.
	PayoutTransferred PayoutStatus = "transferred"
	// PayoutTopUpFailed means the balance top-up failed; operator
	// intervention is required before a manual retry.
	PayoutTopUpFailed PayoutStatus = "topup_failed"
)

// allowed transitions; anything absent is illegal. The map is the single
// source of truth so illegal moves (transferred -> queued and the like)
// cannot be expressed elsewhere.
var payoutTransitions = map[PayoutStatus][]PayoutStatus{
	PayoutNone:        {PayoutPending},
	PayoutPending:     {PayoutTransferred, PayoutQueued},
	PayoutQueued:      {PayoutPending, PayoutTransferred, PayoutTopUpFailed},
	PayoutTopUpFailed: {PayoutPending},
}

// CanTransition reports whether from -> to is a legal payout move.
func (from PayoutStatus) CanTransition(to PayoutStatus) bool {
	for _, next := range payoutTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further automatic transition is possible.
func (s PayoutStatus) Terminal() bool { return s == PayoutTransferred }

// Retryable reports whether an operator may manually re-drive the payout.
func (s PayoutStatus) Retryable() bool {
	return s == PayoutPending || s == PayoutQueued || s == PayoutTopUpFailed
}

// TransitionPayout applies a payout move to the statement, guarding against
// illegal transitions.
func (s *Statement) TransitionPayout(to PayoutStatus) error {
	from := s.PayoutStatus
	if from == "" {
		from = PayoutNone
	}
	if !from.CanTransition(to) {
		return ErrIllegalPayoutTransition
	}
	s.PayoutStatus = to
	return nil
}
