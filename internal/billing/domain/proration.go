package billing

import "time"

// CalculationMode selects how reservation revenue maps onto periods.
type CalculationMode string

const (
	// ModeCheckout counts a reservation in full on the period containing its checkout date.
	ModeCheckout CalculationMode = "checkout"
	// ModeCalendar weights revenue by nights falling inside each period.
	ModeCalendar CalculationMode = "calendar"
)

// ParseCalculationMode validates a stored mode string.
func ParseCalculationMode(value string) (CalculationMode, error) {
	switch CalculationMode(value) {
	case ModeCheckout:
		return ModeCheckout, nil
	case ModeCalendar:
		return ModeCalendar, nil
	}
	return "", ErrUnknownMode
}

// RevenueSlice is the portion of a reservation attributable to one period.
type RevenueSlice struct {
	ReservationID  string
	Revenue        float64
	NightsInPeriod int
	TotalNights    int
}

// Prorate computes the revenue slice of a reservation for [periodStart, periodEnd).
// It is pure: the same reservation and period always yield the same slice, so
// recomputation is idempotent. A reservation entirely outside the period yields
// a zero slice without error.
func Prorate(res Reservation, periodStart, periodEnd time.Time, mode CalculationMode) (RevenueSlice, error) {
	if periodStart.IsZero() || periodEnd.IsZero() || !periodEnd.After(periodStart) {
		return RevenueSlice{}, ErrInvalidPeriod
	}

	slice := RevenueSlice{ReservationID: res.ID, TotalNights: res.TotalNights()}

	switch mode {
	case ModeCheckout:
		checkout := dayStart(res.CheckOut)
		if res.TotalNights() == 0 {
			// Zero-night stay: the single date is the check-in day.
			checkout = dayStart(res.CheckIn)
		}
		if !checkout.Before(periodStart.UTC()) && checkout.Before(periodEnd.UTC()) {
			slice.Revenue = res.GrossAmount
			slice.NightsInPeriod = slice.TotalNights
		}
		return slice, nil

	case ModeCalendar:
		total := res.TotalNights()
		if total == 0 {
			// Treated as one nominal night on the check-in date so the
			// weighting never divides by zero.
			day := dayStart(res.CheckIn)
			slice.TotalNights = 1
			if !day.Before(periodStart.UTC()) && day.Before(periodEnd.UTC()) {
				slice.Revenue = res.GrossAmount
				slice.NightsInPeriod = 1
			}
			return slice, nil
		}
		nights := nightsInPeriod(res, periodStart.UTC(), periodEnd.UTC())
		slice.NightsInPeriod = nights
		if nights > 0 {
			slice.Revenue = res.GrossAmount * float64(nights) / float64(total)
		}
		return slice, nil
	}

	return RevenueSlice{}, ErrUnknownMode
}

// nightsInPeriod counts stay nights whose date falls inside [start, end).
func nightsInPeriod(res Reservation, start, end time.Time) int {
	first := dayStart(res.CheckIn)
	last := dayStart(res.CheckOut)
	count := 0
	for night := first; night.Before(last); night = night.AddDate(0, 0, 1) {
		if !night.Before(start) && night.Before(end) {
			count++
		}
	}
	return count
}
