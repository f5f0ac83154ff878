package application

import (
	"context"
	"errors"
	"log"
	"testing"
	"time"

	billing "ownerledger/internal/billing/domain"
	stmtapp "ownerledger/internal/statement/application"
	statementmem "ownerledger/internal/statement/infrastructure/memory"

	statement "ownerledger/internal/statement/domain"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubTransferClient struct {
	result *TransferResult
	err    error
	calls  []transferCall
}

type transferCall struct {
	destination string
	amount      float64
	reference   string
}

func (c *stubTransferClient) CreateTransfer(_ context.Context, destination string, amount float64, reference string) (*TransferResult, error) {
	c.calls = append(c.calls, transferCall{destination: destination, amount: amount, reference: reference})
	if c.err != nil {
		return nil, c.err
	}
	return c.result, nil
}

type stubPropertyReader struct {
	profiles map[string]*billing.FeeProfile
	groups   map[string]*billing.Group
}

func (r *stubPropertyReader) GetFeeProfile(_ context.Context, propertyID string) (*billing.FeeProfile, error) {
	return r.profiles[propertyID], nil
}

func (r *stubPropertyReader) ListByTag(_ context.Context, _ string) ([]billing.FeeProfile, error) {
	return nil, nil
}

func (r *stubPropertyReader) GetGroup(_ context.Context, groupID string) (*billing.Group, error) {
	return r.groups[groupID], nil
}

func newTestOrchestrator(t *testing.T, repo *statementmem.StatementRepository, transfers *stubTransferClient, reader *stubPropertyReader) *Orchestrator {
	t.Helper()
	orch, err := NewOrchestrator(repo, transfers, reader, nil, fixedClock{now: time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)}, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}
	return orch
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) {
	w.t.Log(string(p))
	return len(p), nil
}

// seedPeriodSeq gives each seeded statement a distinct period so repeated
// seeds for prop-1 do not trip the repository's duplicate-scope guard.
var seedPeriodSeq int

func seedStatement(t *testing.T, repo *statementmem.StatementRepository, id string, payoutStatus statement.PayoutStatus, netPayout float64) {
	t.Helper()
	seedPeriodSeq++
	stmt := &statement.Statement{
		ID:           id,
		PropertyID:   "prop-1",
		PeriodStart:  time.Date(2026, time.Month(seedPeriodSeq), 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:    time.Date(2026, time.Month(seedPeriodSeq)+1, 1, 0, 0, 0, 0, time.UTC),
		Mode:         billing.ModeCalendar,
		Version:      1,
		Status:       statement.StatusGenerated,
		NetPayout:    netPayout,
		PayoutStatus: payoutStatus,
	}
	if err := repo.CreateWithItems(context.Background(), stmt, nil); err != nil {
		t.Fatalf("seed statement: %v", err)
	}
}

func defaultReader() *stubPropertyReader {
	return &stubPropertyReader{
		profiles: map[string]*billing.FeeProfile{
			"prop-1": {PropertyID: "prop-1", TransferAccount: "acct-owner-1"},
		},
	}
}

func TestAttemptTransferSuccess(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{result: &TransferResult{TransferID: "tr-42", Fee: 2.5}}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	stmt, err := orch.AttemptTransfer(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("attempt transfer: %v", err)
	}
	if stmt.PayoutStatus != statement.PayoutTransferred {
		t.Fatalf("payout status = %s, want transferred", stmt.PayoutStatus)
	}
	if stmt.TransferID != "tr-42" || stmt.ProcessingFee != 2.5 {
		t.Fatalf("transfer id/fee = %s/%v", stmt.TransferID, stmt.ProcessingFee)
	}
	if len(transfers.calls) != 1 {
		t.Fatalf("transfer calls = %d, want 1", len(transfers.calls))
	}
	call := transfers.calls[0]
	if call.destination != "acct-owner-1" || call.amount != 500 || call.reference != "stmt-1" {
		t.Fatalf("unexpected transfer call %+v", call)
	}
}

func TestInsufficientBalanceQueuesStatement(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{err: ErrInsufficientBalance}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	stmt, err := orch.AttemptTransfer(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("attempt transfer: %v", err)
	}
	if stmt.PayoutStatus != statement.PayoutQueued {
		t.Fatalf("payout status = %s, want queued", stmt.PayoutStatus)
	}
}

func TestQueuedSweepTransfersAfterTopUp(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{err: ErrInsufficientBalance}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}

	// Provider balance topped up; the sweep retries queued statements.
	transfers.err = nil
	transfers.result = &TransferResult{TransferID: "tr-topup", Fee: 1.0}
	if err := orch.SweepQueued(context.Background()); err != nil {
		t.Fatalf("sweep: %v", err)
	}

	stmt, err := repo.GetByID(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stmt.PayoutStatus != statement.PayoutTransferred {
		t.Fatalf("payout status = %s, want transferred", stmt.PayoutStatus)
	}
	if stmt.TransferID != "tr-topup" {
		t.Fatalf("transfer id = %s", stmt.TransferID)
	}
}

func TestTopUpFailureMarksQueuedStatements(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{err: ErrInsufficientBalance}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); err != nil {
		t.Fatalf("first attempt: %v", err)
	}
	if err := orch.MarkTopUpFailed(context.Background(), "card declined"); err != nil {
		t.Fatalf("mark topup failed: %v", err)
	}

	stmt, err := repo.GetByID(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stmt.PayoutStatus != statement.PayoutTopUpFailed {
		t.Fatalf("payout status = %s, want topup_failed", stmt.PayoutStatus)
	}
	if stmt.PayoutError != "card declined" {
		t.Fatalf("payout error = %q", stmt.PayoutError)
	}
}

func TestProviderErrorKeepsPendingWithError(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{err: errors.New("provider timeout")}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); err == nil {
		t.Fatal("expected error")
	}

	stmt, err := repo.GetByID(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if stmt.PayoutStatus != statement.PayoutPending {
		t.Fatalf("payout status = %s, want pending", stmt.PayoutStatus)
	}
	if stmt.PayoutError != "provider timeout" {
		t.Fatalf("payout error = %q", stmt.PayoutError)
	}
}

func TestRetryAfterProviderError(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{err: errors.New("provider timeout")}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); err == nil {
		t.Fatal("expected first attempt to fail")
	}

	transfers.err = nil
	transfers.result = &TransferResult{TransferID: "tr-retry", Fee: 0.5}
	stmt, err := orch.Retry(context.Background(), "stmt-1")
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if stmt.PayoutStatus != statement.PayoutTransferred {
		t.Fatalf("payout status = %s, want transferred", stmt.PayoutStatus)
	}
}

func TestRetryTransferredRejected(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{result: &TransferResult{TransferID: "tr-1"}}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if _, err := orch.Retry(context.Background(), "stmt-1"); !errors.Is(err, statement.ErrIllegalPayoutTransition) {
		t.Fatalf("err = %v, want illegal payout transition", err)
	}
	if len(transfers.calls) != 1 {
		t.Fatalf("transfer calls = %d, want 1", len(transfers.calls))
	}
}

func TestClaimGuardsAgainstDoubleTransfer(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{result: &TransferResult{TransferID: "tr-1"}}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	// A concurrent worker holds the claim.
	if _, err := repo.ClaimForTransfer(context.Background(), "stmt-1"); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); !errors.Is(err, statement.ErrPayoutClaimed) {
		t.Fatalf("err = %v, want payout claimed", err)
	}
	if len(transfers.calls) != 0 {
		t.Fatalf("transfer calls = %d, want 0", len(transfers.calls))
	}
}

func TestGroupDestinationUsesFirstMemberAccount(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	stmt := &statement.Statement{
		ID:          "stmt-g1",
		GroupID:     "grp-1",
		GroupName:   "Lakeside",
		PeriodStart: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		PeriodEnd:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		Mode:        billing.ModeCalendar,
		Version:     1,
		Status:      statement.StatusGenerated,
		NetPayout:   320,
	}
	if err := repo.CreateWithItems(context.Background(), stmt, nil); err != nil {
		t.Fatalf("seed: %v", err)
	}
	reader := &stubPropertyReader{
		groups: map[string]*billing.Group{
			"grp-1": {ID: "grp-1", Members: []billing.FeeProfile{
				{PropertyID: "prop-a"},
				{PropertyID: "prop-b", TransferAccount: "acct-lakeside"},
			}},
		},
	}
	transfers := &stubTransferClient{result: &TransferResult{TransferID: "tr-g"}}
	orch := newTestOrchestrator(t, repo, transfers, reader)

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-g1"); err != nil {
		t.Fatalf("attempt: %v", err)
	}
	if transfers.calls[0].destination != "acct-lakeside" {
		t.Fatalf("destination = %s", transfers.calls[0].destination)
	}
}

func TestFinalizedEventSkipsIneligibleStatements(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	transfers := &stubTransferClient{result: &TransferResult{TransferID: "tr-1"}}
	orch := newTestOrchestrator(t, repo, transfers, defaultReader())

	// Zero payout and missing account are skipped without a transfer call.
	for _, event := range []stmtapp.StatementFinalized{
		{StatementID: "stmt-1", NetPayout: 0, TransferAccount: "acct-owner-1"},
		{StatementID: "stmt-1", NetPayout: 500, TransferAccount: ""},
	} {
		if err := orch.HandleStatementFinalized(context.Background(), event); err != nil {
			t.Fatalf("handle finalized: %v", err)
		}
	}
	if len(transfers.calls) != 0 {
		t.Fatalf("transfer calls = %d, want 0", len(transfers.calls))
	}

	if err := orch.HandleStatementFinalized(context.Background(), stmtapp.StatementFinalized{
		StatementID: "stmt-1", NetPayout: 500, TransferAccount: "acct-owner-1",
	}); err != nil {
		t.Fatalf("handle finalized: %v", err)
	}
	if len(transfers.calls) != 1 {
		t.Fatalf("transfer calls = %d, want 1", len(transfers.calls))
	}
}

type recordingPayoutPublisher struct {
	transferred []PayoutTransferred
	queued      []PayoutQueued
	topUpOK     []TopUpSucceeded
	topUpFail   []TopUpFailed
}

func (p *recordingPayoutPublisher) PublishPayoutTransferred(_ context.Context, event PayoutTransferred) error {
	p.transferred = append(p.transferred, event)
	return nil
}

func (p *recordingPayoutPublisher) PublishPayoutQueued(_ context.Context, event PayoutQueued) error {
	p.queued = append(p.queued, event)
	return nil
}

func (p *recordingPayoutPublisher) PublishTopUpSucceeded(_ context.Context, event TopUpSucceeded) error {
	p.topUpOK = append(p.topUpOK, event)
	return nil
}

func (p *recordingPayoutPublisher) PublishTopUpFailed(_ context.Context, event TopUpFailed) error {
	p.topUpFail = append(p.topUpFail, event)
	return nil
}

func TestTransferOutcomesPublishEvents(t *testing.T) {
	repo := statementmem.NewStatementRepository()
	seedStatement(t, repo, "stmt-1", statement.PayoutNone, 500)
	seedStatement(t, repo, "stmt-2", statement.PayoutNone, 250)
	transfers := &stubTransferClient{result: &TransferResult{TransferID: "tr-9", Fee: 1.25}}
	published := &recordingPayoutPublisher{}
	orch, err := NewOrchestrator(repo, transfers, defaultReader(), published, fixedClock{now: time.Date(2026, 2, 5, 10, 0, 0, 0, time.UTC)}, log.New(testWriter{t}, "", 0))
	if err != nil {
		t.Fatalf("new orchestrator: %v", err)
	}

	if _, err := orch.AttemptTransfer(context.Background(), "stmt-1"); err != nil {
		t.Fatalf("attempt transfer: %v", err)
	}
	if len(published.transferred) != 1 {
		t.Fatalf("transferred events = %d, want 1", len(published.transferred))
	}
	evt := published.transferred[0]
	if evt.StatementID != "stmt-1" || evt.TransferID != "tr-9" || evt.Amount != 500 || evt.Fee != 1.25 {
		t.Fatalf("unexpected transferred event %+v", evt)
	}

	transfers.result = nil
	transfers.err = ErrInsufficientBalance
	if _, err := orch.AttemptTransfer(context.Background(), "stmt-2"); err != nil {
		t.Fatalf("attempt transfer: %v", err)
	}
	if len(published.queued) != 1 || published.queued[0].StatementID != "stmt-2" {
		t.Fatalf("queued events = %+v", published.queued)
	}

	if err := orch.MarkTopUpFailed(context.Background(), "card declined"); err != nil {
		t.Fatalf("mark top-up failed: %v", err)
	}
	if len(published.topUpFail) != 1 || published.topUpFail[0].Message != "card declined" || published.topUpFail[0].QueuedCount != 1 {
		t.Fatalf("top-up failed events = %+v", published.topUpFail)
	}
}
