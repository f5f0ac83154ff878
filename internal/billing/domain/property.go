package billing

import "time"

// FeeProfile is the billing-relevant subset of a property, read as of
// statement-generation time. Storage truthiness (bool / 0-1 / "true") is
// normalized by the persistence adapter; the domain only sees typed bools.
type FeeProfile struct {
	PropertyID string
	OwnerName  string
	OwnerEmail string

	CommissionPercent float64
	// NewFeePercent applies from NewFeeEffective forward when set.
	NewFeePercent   float64
	NewFeeEffective time.Time

	CoHostPercent float64
	CoHostPartner string

	TechFee      float64
	InsuranceFee float64

	WaiverEnabled bool
	WaiverExpiry  *time.Time

	CoHostExternal      bool
	ShouldAddTax        bool
	OccupancyTaxPercent float64

	GroupID         string
	Tags            []string
	TransferAccount string
}

// HasCommissionConfig reports whether the property carries enough fee
// configuration to generate a statement.
func (p FeeProfile) HasCommissionConfig() bool {
	return p.CommissionPercent > 0 || p.WaiverEnabled || p.NewFeePercent > 0
}

// FeePercentAt returns the commission percentage effective for a statement
// whose period ends at the given date. The new-fee transition applies from
// its effective date forward, compared at day granularity.
func (p FeeProfile) FeePercentAt(periodEnd time.Time) float64 {
	if p.NewFeePercent > 0 && !p.NewFeeEffective.IsZero() {
		if !periodEnd.Before(dayStart(p.NewFeeEffective)) {
			return p.NewFeePercent
		}
	}
	return p.CommissionPercent
}

// HasTag reports whether the property carries the schedule tag.
func (p FeeProfile) HasTag(tag string) bool {
	for _, t := range p.Tags {
		if t == tag {
			return true
		}
	}
	return false
}

// Group is a set of properties settled on one combined statement.
type Group struct {
	ID      string
	Name    string
	Tags    []string
	Members []FeeProfile
}

func dayStart(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
