package application

import "time"

// StatementGenerated is emitted when a statement draft is created or an
// existing draft is recomputed.
type StatementGenerated struct {
	StatementID string    `json:"statement_id"`
	PropertyID  string    `json:"property_id"`
	GroupID     string    `json:"group_id,omitempty"`
	PeriodStart time.Time `json:"period_start"`
	PeriodEnd   time.Time `json:"period_end"`
	NetPayout   float64   `json:"net_payout"`
	Version     int       `json:"version"`
	OccurredAt  time.Time `json:"occurred_at"`
}

// StatementFinalized is emitted when a statement advances to generated and
// becomes eligible for payout.
type StatementFinalized struct {
	StatementID     string    `json:"statement_id"`
	PropertyID      string    `json:"property_id"`
	GroupID         string    `json:"group_id,omitempty"`
	NetPayout       float64   `json:"net_payout"`
	TransferAccount string    `json:"transfer_account"`
	OccurredAt      time.Time `json:"occurred_at"`
}
