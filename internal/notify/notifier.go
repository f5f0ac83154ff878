package notify

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// StatementMessage carries the delivery handoff for a finished statement.
type StatementMessage struct {
	StatementID   string
	OwnerName     string
	OwnerEmail    string
	PropertyID    string
	GroupName     string
	PeriodStart   time.Time
	PeriodEnd     time.Time
	NetPayout     float64
	Currency      string
	EmailTemplate string
}

// Notifier hands a statement off to a delivery channel.
type Notifier interface {
	Notify(ctx context.Context, msg StatementMessage) error
}

// MultiNotifier fans a message out to several notifiers. The first error is
// returned after all notifiers ran.
type MultiNotifier struct {
	notifiers []Notifier
}

// NewMultiNotifier constructs a MultiNotifier.
func NewMultiNotifier(notifiers ...Notifier) *MultiNotifier {
	return &MultiNotifier{notifiers: notifiers}
}

// Notify forwards the message to all notifiers.
func (m *MultiNotifier) Notify(ctx context.Context, msg StatementMessage) error {
	if m == nil {
		return nil
	}
	var first error
	for _, notifier := range m.notifiers {
		if notifier == nil {
			continue
		}
		if err := notifier.Notify(ctx, msg); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func formatStatementMessage(msg StatementMessage) string {
	var b strings.Builder
	b.WriteString("[Owner Statement]\n")
	if msg.OwnerName != "" {
		fmt.Fprintf(&b, "Owner: %s\n", msg.OwnerName)
	}
	if msg.OwnerEmail != "" {
		fmt.Fprintf(&b, "Email: %s\n", msg.OwnerEmail)
	}
	switch {
	case msg.GroupName != "":
		fmt.Fprintf(&b, "Group: %s\n", msg.GroupName)
	case msg.PropertyID != "":
		fmt.Fprintf(&b, "Property: %s\n", msg.PropertyID)
	}
	if !msg.PeriodStart.IsZero() && !msg.PeriodEnd.IsZero() {
		fmt.Fprintf(&b, "Period: %s to %s\n",
			msg.PeriodStart.UTC().Format("2006-01-02"),
			msg.PeriodEnd.UTC().AddDate(0, 0, -1).Format("2006-01-02"))
	}
	currency := msg.Currency
	if currency == "" {
		currency = "USD"
	}
	if msg.NetPayout < 0 {
		fmt.Fprintf(&b, "Balance due from owner: %.2f %s\n", -msg.NetPayout, currency)
	} else {
		fmt.Fprintf(&b, "Payout to owner: %.2f %s\n", msg.NetPayout, currency)
	}
	if msg.EmailTemplate != "" {
		fmt.Fprintf(&b, "Template: %s\n", msg.EmailTemplate)
	}
	if msg.StatementID != "" {
		fmt.Fprintf(&b, "Statement: %s\n", msg.StatementID)
	}
	return strings.TrimSpace(b.String())
}
