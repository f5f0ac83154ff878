package billing

import "time"

// CommissionInput carries everything the fee calculator needs for one
// property over one statement period.
type CommissionInput struct {
	Revenue           float64
	FeePercent        float64
	TaxResponsibility float64
	CleaningFee       float64
	CoHostExternal    bool
	ShouldAddTax      bool
	WaiverEnabled     bool
	WaiverExpiry      *time.Time
	PeriodEnd         time.Time
}

// CommissionResult is the calculator output. Commission is always computed,
// even under an active waiver, so statements can display the waived amount.
type CommissionResult struct {
	GrossPayout  float64
	Commission   float64
	WaiverActive bool
}

// ComputeCommission applies commission, waiver, tax and pass-through rules.
// The function never divides and never errors; malformed inputs degrade to a
// neutral zero result.
func ComputeCommission(in CommissionInput) CommissionResult {
	commission := in.Revenue * in.FeePercent / 100

	waiverActive := WaiverActiveAt(in.WaiverEnabled, in.WaiverExpiry, in.PeriodEnd)
	deducted := commission
	if waiverActive {
		deducted = 0
	}

	var gross float64
	switch {
	case in.CoHostExternal:
		// Guest revenue is collected on the external platform; only the
		// commission and pass-through costs settle through this statement.
		gross = -deducted - in.CleaningFee
	case in.ShouldAddTax:
		gross = in.Revenue - deducted + in.TaxResponsibility - in.CleaningFee
	default:
		gross = in.Revenue - deducted - in.CleaningFee
	}
	if gross == 0 {
		gross = 0 // collapse negative zero
	}

	return CommissionResult{
		GrossPayout:  gross,
		Commission:   commission,
		WaiverActive: waiverActive,
	}
}

// WaiverActiveAt reports whether a commission waiver applies for a statement
// ending at periodEnd. A waiver with no expiry date remains active
// indefinitely; an expiry is inclusive through its end of day.
func WaiverActiveAt(enabled bool, expiry *time.Time, periodEnd time.Time) bool {
	if !enabled {
		return false
	}
	if expiry == nil || expiry.IsZero() {
		return true
	}
	cutoff := dayStart(*expiry).AddDate(0, 0, 1)
	return periodEnd.UTC().Before(cutoff)
}

// NetPayout combines the gross payout with additional payout line items and
// expenses into the owner's net amount for the period.
func NetPayout(gross float64, lineItems []PayoutLineItem, expenses []Expense) float64 {
	net := gross
	for _, item := range lineItems {
		net += item.Amount
	}
	for _, exp := range expenses {
		net -= exp.Amount
	}
	return net
}
