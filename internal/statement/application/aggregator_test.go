package application

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	billing "ownerledger/internal/billing/domain"
	statement "ownerledger/internal/statement/domain"
	"ownerledger/internal/statement/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubProperties struct {
	profiles map[string]*billing.FeeProfile
	groups   map[string]*billing.Group
	byTag    map[string][]billing.FeeProfile
}

func (s *stubProperties) GetFeeProfile(_ context.Context, propertyID string) (*billing.FeeProfile, error) {
	return s.profiles[propertyID], nil
}

func (s *stubProperties) ListByTag(_ context.Context, tag string) ([]billing.FeeProfile, error) {
	return s.byTag[tag], nil
}

func (s *stubProperties) GetGroup(_ context.Context, groupID string) (*billing.Group, error) {
	return s.groups[groupID], nil
}

type stubReservations struct {
	byProperty map[string][]billing.Reservation
}

func (s *stubReservations) ListOverlapping(_ context.Context, propertyID string, _, _ time.Time) ([]billing.Reservation, error) {
	return s.byProperty[propertyID], nil
}

type stubLedger struct {
	expenses  map[string][]billing.Expense
	lineItems map[string][]billing.PayoutLineItem
}

func (s *stubLedger) ListExpenses(_ context.Context, propertyID string, _, _ time.Time) ([]billing.Expense, error) {
	return s.expenses[propertyID], nil
}

func (s *stubLedger) ListPayoutLineItems(_ context.Context, propertyID string, _, _ time.Time) ([]billing.PayoutLineItem, error) {
	return s.lineItems[propertyID], nil
}

type recordingPublisher struct {
	generated []StatementGenerated
	finalized []StatementFinalized
}

func (p *recordingPublisher) PublishStatementGenerated(_ context.Context, event StatementGenerated) error {
	p.generated = append(p.generated, event)
	return nil
}

func (p *recordingPublisher) PublishStatementFinalized(_ context.Context, event StatementFinalized) error {
	p.finalized = append(p.finalized, event)
	return nil
}

func day(year int, month time.Month, d int) time.Time {
	return time.Date(year, month, d, 0, 0, 0, 0, time.UTC)
}

func januaryPeriod() Period {
	return Period{Start: day(2026, time.January, 1), End: day(2026, time.February, 1)}
}

type aggregatorFixture struct {
	repo         *memory.StatementRepository
	properties   *stubProperties
	reservations *stubReservations
	publisher    *recordingPublisher
	agg          *Aggregator
}

func newFixture(t *testing.T) *aggregatorFixture {
	t.Helper()
	repo := memory.NewStatementRepository()
	properties := &stubProperties{
		profiles: map[string]*billing.FeeProfile{
			"prop-1": {
				PropertyID:        "prop-1",
				OwnerName:         "Dana Wells",
				OwnerEmail:        "dana@example.com",
				CommissionPercent: 20,
				TransferAccount:   "acct-dana",
			},
		},
		groups: map[string]*billing.Group{},
		byTag:  map[string][]billing.FeeProfile{},
	}
	reservations := &stubReservations{byProperty: map[string][]billing.Reservation{
		"prop-1": {{
			ID:          "res-1",
			PropertyID:  "prop-1",
			GrossAmount: 1000,
			PlatformFees: 100,
			CheckIn:     day(2026, time.January, 10),
			CheckOut:    day(2026, time.January, 15),
			Nights:      5,
			Status:      billing.ReservationStatusConfirmed,
		}},
	}}
	ledger := &stubLedger{
		expenses: map[string][]billing.Expense{
			"prop-1": {{ID: "exp-1", PropertyID: "prop-1", Amount: 50, Date: day(2026, time.January, 20), Memo: "plumbing repair"}},
		},
		lineItems: map[string][]billing.PayoutLineItem{
			"prop-1": {{ID: "li-1", PropertyID: "prop-1", Amount: 30, Date: day(2026, time.January, 22), Memo: "pet fee credit"}},
		},
	}
	publisher := &recordingPublisher{}
	agg, err := NewAggregator(repo, properties, reservations, ledger, publisher, fixedClock{now: day(2026, time.February, 2)}, "tenant-1", "USD")
	if err != nil {
		t.Fatalf("new aggregator: %v", err)
	}
	return &aggregatorFixture{repo: repo, properties: properties, reservations: reservations, publisher: publisher, agg: agg}
}

func approx(got, want float64) bool { return math.Abs(got-want) < 1e-9 }

func TestGenerateForPropertyComputesTotals(t *testing.T) {
	f := newFixture(t)

	stmt, err := f.agg.GenerateForProperty(context.Background(), "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if stmt.Status != statement.StatusDraft {
		t.Fatalf("status = %s, want draft", stmt.Status)
	}
	if stmt.Version != 1 {
		t.Fatalf("version = %d, want 1", stmt.Version)
	}
	if !approx(stmt.Revenue, 1000) {
		t.Fatalf("revenue = %v, want 1000", stmt.Revenue)
	}
	if !approx(stmt.Commission, 200) {
		t.Fatalf("commission = %v, want 200", stmt.Commission)
	}
	// gross 1000 - 200 commission - 100 platform fees, then +30 credit -50 expense.
	if !approx(stmt.GrossPayout, 700) {
		t.Fatalf("gross payout = %v, want 700", stmt.GrossPayout)
	}
	if !approx(stmt.NetPayout, 680) {
		t.Fatalf("net payout = %v, want 680", stmt.NetPayout)
	}
	if stmt.PayoutStatus != statement.PayoutNone {
		t.Fatalf("payout status = %s, want none", stmt.PayoutStatus)
	}

	items, err := f.repo.ListItems(context.Background(), stmt.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items = %d, want 3", len(items))
	}
	if len(f.publisher.generated) != 1 || f.publisher.generated[0].StatementID != stmt.ID {
		t.Fatalf("generated events = %+v", f.publisher.generated)
	}
}

func TestGenerateSamePeriodUpdatesDraftInPlace(t *testing.T) {
	f := newFixture(t)

	first, err := f.agg.GenerateForProperty(context.Background(), "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("first generate: %v", err)
	}
	second, err := f.agg.GenerateForProperty(context.Background(), "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("second generate: %v", err)
	}
	if second.ID != first.ID || second.Version != first.Version {
		t.Fatalf("recompute must update in place: %s v%d vs %s v%d", first.ID, first.Version, second.ID, second.Version)
	}
	items, err := f.repo.ListItems(context.Background(), second.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	if len(items) != 3 {
		t.Fatalf("items after recompute = %d, want 3", len(items))
	}
}

func TestGenerateAfterProgressRequiresRegenerate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := f.agg.Finalize(ctx, first.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := f.agg.Advance(ctx, first.ID, statement.StatusSent); err != nil {
		t.Fatalf("advance: %v", err)
	}

	if _, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, false); !errors.Is(err, statement.ErrAlreadyProgressed) {
		t.Fatalf("err = %v, want already progressed", err)
	}

	next, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, true)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("regenerated version = %d, want 2", next.Version)
	}
	if next.ID == first.ID {
		t.Fatal("regenerated statement must get a new id")
	}
}

func TestGenerateMissingFeeConfigFails(t *testing.T) {
	f := newFixture(t)
	f.properties.profiles["prop-bare"] = &billing.FeeProfile{PropertyID: "prop-bare"}

	_, err := f.agg.GenerateForProperty(context.Background(), "prop-bare", januaryPeriod(), billing.ModeCalendar, false)
	if !errors.Is(err, billing.ErrMissingFeeConfig) {
		t.Fatalf("err = %v, want missing fee config", err)
	}
}

func TestGenerateForGroupCombinesMembers(t *testing.T) {
	f := newFixture(t)
	f.properties.groups["grp-1"] = &billing.Group{
		ID:   "grp-1",
		Name: "Lakeside",
		Members: []billing.FeeProfile{
			{PropertyID: "prop-1", OwnerName: "Dana Wells", CommissionPercent: 20},
			{PropertyID: "prop-2", OwnerName: "Dana Wells", CommissionPercent: 10},
		},
	}

	stmt, err := f.agg.GenerateForGroup(context.Background(), "grp-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate group: %v", err)
	}
	if stmt.GroupID != "grp-1" || stmt.GroupName != "Lakeside" {
		t.Fatalf("group identity = %s/%s", stmt.GroupID, stmt.GroupName)
	}
	// prop-2 has no reservations or ledger rows, so totals equal prop-1's.
	if !approx(stmt.NetPayout, 680) {
		t.Fatalf("net payout = %v, want 680", stmt.NetPayout)
	}
}

func TestGroupMemberWithoutFeeConfigFailsWholeGroup(t *testing.T) {
	f := newFixture(t)
	f.properties.groups["grp-1"] = &billing.Group{
		ID: "grp-1",
		Members: []billing.FeeProfile{
			{PropertyID: "prop-1", CommissionPercent: 20},
			{PropertyID: "prop-bare"},
		},
	}

	_, err := f.agg.GenerateForGroup(context.Background(), "grp-1", januaryPeriod(), billing.ModeCalendar, false)
	if !errors.Is(err, billing.ErrMissingFeeConfig) {
		t.Fatalf("err = %v, want missing fee config", err)
	}
}

func TestGenerateForTagDeduplicatesGroups(t *testing.T) {
	f := newFixture(t)
	f.properties.groups["grp-1"] = &billing.Group{
		ID: "grp-1",
		Members: []billing.FeeProfile{
			{PropertyID: "prop-1", CommissionPercent: 20, GroupID: "grp-1"},
			{PropertyID: "prop-2", CommissionPercent: 10, GroupID: "grp-1"},
		},
	}
	f.properties.byTag["monthly"] = []billing.FeeProfile{
		{PropertyID: "prop-1", CommissionPercent: 20, GroupID: "grp-1"},
		{PropertyID: "prop-2", CommissionPercent: 10, GroupID: "grp-1"},
	}

	results, err := f.agg.GenerateForTag(context.Background(), "monthly", januaryPeriod(), billing.ModeCalendar)
	if err != nil {
		t.Fatalf("generate for tag: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1 (group generated once)", len(results))
	}
	if results[0].EntityID != "group:grp-1" || results[0].Err != nil {
		t.Fatalf("result = %+v", results[0])
	}
}

func TestGenerateForTagReportsPerEntityFailures(t *testing.T) {
	f := newFixture(t)
	f.properties.profiles["prop-bare"] = &billing.FeeProfile{PropertyID: "prop-bare"}
	f.properties.byTag["weekly"] = []billing.FeeProfile{
		{PropertyID: "prop-1", CommissionPercent: 20},
		{PropertyID: "prop-bare"},
	}

	results, err := f.agg.GenerateForTag(context.Background(), "weekly", januaryPeriod(), billing.ModeCalendar)
	if err != nil {
		t.Fatalf("generate for tag: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("results = %d, want 2", len(results))
	}
	if results[0].Err != nil {
		t.Fatalf("prop-1 result err = %v", results[0].Err)
	}
	if results[1].Err == nil {
		t.Fatal("prop-bare must report its failure")
	}
}

func TestFinalizeAnnouncesPayoutEligibility(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	stmt, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	finalized, err := f.agg.Finalize(ctx, stmt.ID)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if finalized.Status != statement.StatusGenerated {
		t.Fatalf("status = %s, want generated", finalized.Status)
	}
	if len(f.publisher.finalized) != 1 {
		t.Fatalf("finalized events = %d, want 1", len(f.publisher.finalized))
	}
	event := f.publisher.finalized[0]
	if event.StatementID != stmt.ID || event.TransferAccount != "acct-dana" || !approx(event.NetPayout, 680) {
		t.Fatalf("finalized event = %+v", event)
	}

	// Finalizing again is a no-op, not an error.
	again, err := f.agg.Finalize(ctx, stmt.ID)
	if err != nil {
		t.Fatalf("second finalize: %v", err)
	}
	if again.Status != statement.StatusGenerated || len(f.publisher.finalized) != 1 {
		t.Fatal("second finalize must not re-publish")
	}
}

func TestFinalizeGroupStatementResolvesMemberAccount(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.properties.groups["grp-1"] = &billing.Group{
		ID:   "grp-1",
		Name: "Lakeside",
		Members: []billing.FeeProfile{
			{PropertyID: "prop-1", CommissionPercent: 20},
			{PropertyID: "prop-2", CommissionPercent: 10, TransferAccount: "acct-lakeside"},
		},
	}

	stmt, err := f.agg.GenerateForGroup(ctx, "grp-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate group: %v", err)
	}
	if _, err := f.agg.Finalize(ctx, stmt.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if len(f.publisher.finalized) != 1 {
		t.Fatalf("finalized events = %d, want 1", len(f.publisher.finalized))
	}
	event := f.publisher.finalized[0]
	if event.GroupID != "grp-1" {
		t.Fatalf("event group id = %q", event.GroupID)
	}
	if event.TransferAccount != "acct-lakeside" {
		t.Fatalf("event transfer account = %q, want the member's account", event.TransferAccount)
	}
}

func TestCancelledReservationRegenerationAppendsAdjustment(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if _, err := f.agg.Finalize(ctx, first.ID); err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if _, err := f.agg.Advance(ctx, first.ID, statement.StatusSent); err != nil {
		t.Fatalf("advance: %v", err)
	}

	f.reservations.byProperty["prop-1"][0].Status = billing.ReservationStatusCancelled

	next, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, true)
	if err != nil {
		t.Fatalf("regenerate: %v", err)
	}
	if next.Version != 2 {
		t.Fatalf("version = %d, want 2", next.Version)
	}
	if !approx(next.Revenue, 0) {
		t.Fatalf("revenue = %v, want 0", next.Revenue)
	}
	if !approx(next.Adjustments, -1000) {
		t.Fatalf("adjustments = %v, want -1000", next.Adjustments)
	}
	// -20 from the remaining ledger (+30 credit, -50 expense), minus the
	// clawed-back 1000.
	if !approx(next.NetPayout, -1020) {
		t.Fatalf("net payout = %v, want -1020", next.NetPayout)
	}
	items, err := f.repo.ListItems(ctx, next.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	var adjustments int
	for _, item := range items {
		if item.Kind == statement.ItemKindAdjustment {
			adjustments++
			if !approx(item.Amount, -1000) || item.ReservationID != "res-1" {
				t.Fatalf("adjustment item = %+v", item)
			}
		}
	}
	if adjustments != 1 {
		t.Fatalf("adjustment items = %d, want 1", adjustments)
	}
}

func TestCancelledReservationDroppedFromDraft(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	first, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	f.reservations.byProperty["prop-1"][0].Status = billing.ReservationStatusCancelled

	updated, err := f.agg.GenerateForProperty(ctx, "prop-1", januaryPeriod(), billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("regenerate draft: %v", err)
	}
	if updated.ID != first.ID || updated.Version != 1 {
		t.Fatalf("draft identity changed: %s v%d", updated.ID, updated.Version)
	}
	if !approx(updated.Revenue, 0) || !approx(updated.Adjustments, 0) {
		t.Fatalf("revenue/adjustments = %v/%v, want 0/0", updated.Revenue, updated.Adjustments)
	}
	items, err := f.repo.ListItems(ctx, updated.ID)
	if err != nil {
		t.Fatalf("list items: %v", err)
	}
	for _, item := range items {
		if item.Kind == statement.ItemKindAdjustment {
			t.Fatalf("draft update must not append adjustments: %+v", item)
		}
	}
}

func TestFinalizeUnknownStatement(t *testing.T) {
	f := newFixture(t)
	if _, err := f.agg.Finalize(context.Background(), "missing"); !errors.Is(err, statement.ErrNotFound) {
		t.Fatalf("err = %v, want not found", err)
	}
}
