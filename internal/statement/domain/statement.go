package statement

import (
	"crypto/sha256"
	"encoding/hex"
	"strconv"
	"time"

	billing "ownerledger/internal/billing/domain"
)

// Lifecycle statuses for a statement. A statement never goes away; voided
// periods are represented by negative adjustment items on the next version.
const (
	StatusDraft     = "draft"
	StatusGenerated = "generated"
	StatusSent      = "sent"
	StatusPaid      = "paid"
	StatusModified  = "modified"
)

// Item kinds on a statement.
const (
	ItemKindRevenue    = "revenue"
	ItemKindExpense    = "expense"
	ItemKindLineItem   = "line_item"
	ItemKindAdjustment = "adjustment"
)

// Statement is a computed owner-payout document for one property or group
// over one period.
type Statement struct {
	ID         string
	TenantID   string
	PropertyID string

	GroupID   string
	GroupName string
	GroupTags []string

	PeriodStart time.Time
	PeriodEnd   time.Time
	Mode        billing.CalculationMode
	Version     int

	Status string

	Revenue      float64
	ExpenseTotal float64
	Commission   float64
	Tax          float64
	Adjustments  float64
	WaiverActive bool
	GrossPayout  float64
	NetPayout    float64
	Currency     string

	OwnerName  string
	OwnerEmail string

	PayoutStatus  PayoutStatus
	TransferID    string
	ProcessingFee float64
	PayoutError   string

	CreatedAt     time.Time
	UpdatedAt     time.Time
	SentAt        time.Time
	PaidAt        time.Time
	TransferredAt time.Time
}

// Item is a single line on a statement.
type Item struct {
	StatementID   string
	ReservationID string
	Kind          string
	Description   string
	Nights        int
	Amount        float64
	CreatedAt     time.Time
}

// IsGroup reports whether the statement covers a property group.
func (s *Statement) IsGroup() bool { return s.GroupID != "" }

// EntityID returns the generation scope key: the property id, or the
// prefixed group id for combined statements. Uniqueness per (entity,
// period, mode) hangs off this key.
func (s *Statement) EntityID() string {
	if s.GroupID != "" {
		return "group:" + s.GroupID
	}
	return s.PropertyID
}

// CanRegenerate reports whether an in-place regeneration may replace this
// statement. Once a statement has progressed past generated it is immutable;
// regeneration must create the next version instead.
func (s *Statement) CanRegenerate() bool {
	return s.Status == StatusDraft || s.Status == StatusGenerated
}

// Advance moves the lifecycle status forward. Backward moves are rejected;
// the payout status advances independently through its own state set.
func (s *Statement) Advance(to string, now time.Time) error {
	if !lifecycleAllowed(s.Status, to) {
		return ErrInvalidStatus
	}
	s.Status = to
	s.UpdatedAt = now
	switch to {
	case StatusSent:
		s.SentAt = now
	case StatusPaid:
		s.PaidAt = now
	}
	return nil
}

func lifecycleAllowed(from, to string) bool {
	switch from {
	case StatusDraft:
		return to == StatusGenerated
	case StatusGenerated:
		return to == StatusSent || to == StatusModified
	case StatusSent:
		return to == StatusPaid || to == StatusModified
	case StatusModified:
		return to == StatusGenerated
	}
	return false
}

// BuildStatementID derives a stable identifier from the statement scope.
func BuildStatementID(entityID string, periodStart time.Time, mode billing.CalculationMode, version int) string {
	base := entityID + "|" + periodStart.UTC().Format("20060102") + "|" + string(mode) + "|" + strconv.Itoa(version)
	hash := sha256.Sum256([]byte(base))
	return "stmt-" + hex.EncodeToString(hash[:8])
}
