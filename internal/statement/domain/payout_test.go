package statement

import "testing"

func TestPayoutTransitions(t *testing.T) {
	legal := []struct{ from, to PayoutStatus }{
		{PayoutNone, PayoutPending},
		{PayoutPending, PayoutTransferred},
		{PayoutPending, PayoutQueued},
		{PayoutQueued, PayoutPending},
		{PayoutQueued, PayoutTransferred},
		{PayoutQueued, PayoutTopUpFailed},
		{PayoutTopUpFailed, PayoutPending},
	}
	for _, c := range legal {
		if !c.from.CanTransition(c.to) {
			t.Fatalf("expected %s -> %s to be legal", c.from, c.to)
		}
	}

	illegal := []struct{ from, to PayoutStatus }{
		{PayoutTransferred, PayoutQueued},
		{PayoutTransferred, PayoutPending},
		{PayoutNone, PayoutTransferred},
		{PayoutNone, PayoutQueued},
		{PayoutTopUpFailed, PayoutTransferred},
		{PayoutPending, PayoutTopUpFailed},
	}
	for _, c := range illegal {
		if c.from.CanTransition(c.to) {
			t.Fatalf("expected %s -> %s to be illegal", c.from, c.to)
		}
	}
}

func TestTransitionPayoutGuards(t *testing.T) {
	stmt := &Statement{}
	if err := stmt.TransitionPayout(PayoutTransferred); err != ErrIllegalPayoutTransition {
		t.Fatalf("expected illegal transition from empty status, got %v", err)
	}
	if err := stmt.TransitionPayout(PayoutPending); err != nil {
		t.Fatalf("none -> pending: %v", err)
	}
	if err := stmt.TransitionPayout(PayoutQueued); err != nil {
		t.Fatalf("pending -> queued: %v", err)
	}
	if err := stmt.TransitionPayout(PayoutTransferred); err != nil {
		t.Fatalf("queued -> transferred: %v", err)
	}
	if err := stmt.TransitionPayout(PayoutQueued); err != ErrIllegalPayoutTransition {
		t.Fatalf("transferred must be terminal, got %v", err)
	}
}

func TestLifecycleAdvance(t *testing.T) {
	stmt := &Statement{Status: StatusDraft}
	now := stmt.CreatedAt

	steps := []string{StatusGenerated, StatusSent, StatusPaid}
	for _, next := range steps {
		if err := stmt.Advance(next, now); err != nil {
			t.Fatalf("advance to %s: %v", next, err)
		}
	}
	if err := stmt.Advance(StatusDraft, now); err != ErrInvalidStatus {
		t.Fatalf("expected backward move rejected, got %v", err)
	}

	branch := &Statement{Status: StatusGenerated}
	if err := branch.Advance(StatusModified, now); err != nil {
		t.Fatalf("generated -> modified: %v", err)
	}
	if err := branch.Advance(StatusGenerated, now); err != nil {
		t.Fatalf("modified -> generated: %v", err)
	}
}

func TestRetryableAndTerminal(t *testing.T) {
	if !PayoutQueued.Retryable() || !PayoutTopUpFailed.Retryable() || !PayoutPending.Retryable() {
		t.Fatal("queued, pending and topup_failed must be retryable")
	}
	if PayoutTransferred.Retryable() {
		t.Fatal("transferred must not be retryable")
	}
	if !PayoutTransferred.Terminal() {
		t.Fatal("transferred must be terminal")
	}
	if PayoutQueued.Terminal() {
		t.Fatal("queued must not be terminal")
	}
}
