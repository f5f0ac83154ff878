package billing

import "time"

// Reservation statuses observed from booking channels.
const (
	ReservationStatusNew       = "new"
	ReservationStatusConfirmed = "confirmed"
	ReservationStatusCompleted = "completed"
	ReservationStatusCancelled = "cancelled"
	ReservationStatusModified  = "modified"
)

// Reservation is the billing-relevant view of a booking. It is read-only
// input to the calculators; cancellation and modification events create a
// new version upstream rather than mutating this one.
type Reservation struct {
	ID           string
	PropertyID   string
	GrossAmount  float64
	PlatformFees float64
	CheckIn      time.Time
	CheckOut     time.Time
	Nights       int
	Status       string
	SplitPrior   bool
}

// TotalNights returns the night count, deriving it from the stay dates when
// the stored count is missing. Zero-night stays report zero here; the
// proration calculator treats them as a single nominal night.
func (r Reservation) TotalNights() int {
	if r.Nights > 0 {
		return r.Nights
	}
	if r.CheckIn.IsZero() || r.CheckOut.IsZero() {
		return 0
	}
	nights := int(r.CheckOut.Sub(r.CheckIn).Hours() / 24)
	if nights < 0 {
		return 0
	}
	return nights
}

// Expense is a cost line deducted from the owner's net payout.
type Expense struct {
	ID         string
	PropertyID string
	Amount     float64
	Date       time.Time
	Memo       string
}

// PayoutLineItem is an additional payout credit entered by an operator.
type PayoutLineItem struct {
	ID         string
	PropertyID string
	Amount     float64
	Date       time.Time
	Memo       string
}
