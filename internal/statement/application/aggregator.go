package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	billing "ownerledger/internal/billing/domain"
	"ownerledger/internal/observability/metrics"
	statement "ownerledger/internal/statement/domain"
)

// Period is a half-open statement window [Start, End).
type Period struct {
	Start time.Time
	End   time.Time
}

// LastDay returns the inclusive final day of the period, the date fee
// waivers are compared against.
func (p Period) LastDay() time.Time {
	return p.End.UTC().AddDate(0, 0, -1)
}

// Valid reports whether the period is well formed.
func (p Period) Valid() bool {
	return !p.Start.IsZero() && !p.End.IsZero() && p.End.After(p.Start)
}

// Repository persists statements.
type Repository interface {
	FindLatest(ctx context.Context, entityID string, periodStart time.Time, mode billing.CalculationMode) (*statement.Statement, error)
	NextVersion(ctx context.Context, entityID string, periodStart time.Time, mode billing.CalculationMode) (int, error)
	CreateWithItems(ctx context.Context, stmt *statement.Statement, items []statement.Item) error
	ReplaceDraftWithItems(ctx context.Context, stmt *statement.Statement, items []statement.Item) error
	GetByID(ctx context.Context, id string) (*statement.Statement, error)
	ListItems(ctx context.Context, statementID string) ([]statement.Item, error)
	ListByStatus(ctx context.Context, status string, limit int) ([]statement.Statement, error)
	UpdateLifecycleStatus(ctx context.Context, id, from, to string, now time.Time) (bool, error)
}

// PropertyReader loads billing profiles and group membership.
type PropertyReader interface {
	GetFeeProfile(ctx context.Context, propertyID string) (*billing.FeeProfile, error)
	ListByTag(ctx context.Context, tag string) ([]billing.FeeProfile, error)
	GetGroup(ctx context.Context, groupID string) (*billing.Group, error)
}

// ReservationReader loads reservations overlapping a period.
type ReservationReader interface {
	ListOverlapping(ctx context.Context, propertyID string, start, end time.Time) ([]billing.Reservation, error)
}

// LedgerReader loads expenses and additional payout line items for a period.
type LedgerReader interface {
	ListExpenses(ctx context.Context, propertyID string, start, end time.Time) ([]billing.Expense, error)
	ListPayoutLineItems(ctx context.Context, propertyID string, start, end time.Time) ([]billing.PayoutLineItem, error)
}

// Publisher emits statement events.
type Publisher interface {
	PublishStatementGenerated(ctx context.Context, event StatementGenerated) error
	PublishStatementFinalized(ctx context.Context, event StatementFinalized) error
}

// Clock returns the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock uses time.Now.
type SystemClock struct{}

// Now returns the current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Aggregator assembles owner payout statements from reservations, expenses
// and the fee calculators.
type Aggregator struct {
	repo         Repository
	properties   PropertyReader
	reservations ReservationReader
	ledger       LedgerReader
	publisher    Publisher
	clock        Clock
	tenantID     string
	currency     string
}

// NewAggregator constructs the service.
func NewAggregator(
	repo Repository,
	properties PropertyReader,
	reservations ReservationReader,
	ledger LedgerReader,
	publisher Publisher,
	clock Clock,
	tenantID string,
	currency string,
) (*Aggregator, error) {
	if repo == nil {
		return nil, errors.New("aggregator: nil repository")
	}
	if properties == nil {
		return nil, errors.New("aggregator: nil property reader")
	}
	if reservations == nil {
		return nil, errors.New("aggregator: nil reservation reader")
	}
	if ledger == nil {
		return nil, errors.New("aggregator: nil ledger reader")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if currency == "" {
		currency = "USD"
	}
	return &Aggregator{
		repo:         repo,
		properties:   properties,
		reservations: reservations,
		ledger:       ledger,
		publisher:    publisher,
		clock:        clock,
		tenantID:     tenantID,
		currency:     currency,
	}, nil
}

// propertyFigures are one property's contribution to a statement.
type propertyFigures struct {
	revenue      float64
	cleaning     float64
	tax          float64
	commission   float64
	waiverActive bool
	grossPayout  float64
	expenseTotal float64
	lineItems    float64
	adjustments  float64
	netPayout    float64
	items        []statement.Item
}

// replacesProgressed reports whether this generation will supersede a
// statement that already progressed past generated. Only that path reverses
// cancelled reservations: the prior version committed their revenue, so the
// replacement claws it back with negative adjustment items.
func (a *Aggregator) replacesProgressed(ctx context.Context, entityID string, period Period, mode billing.CalculationMode, regenerate bool) (bool, error) {
	if !regenerate {
		return false, nil
	}
	prior, err := a.repo.FindLatest(ctx, entityID, period.Start.UTC(), mode)
	if err != nil {
		return false, err
	}
	return prior != nil && !prior.CanRegenerate(), nil
}

// GenerateForProperty builds (or rebuilds) the statement for one property
// and period. Re-running for the same (property, period) updates the
// existing draft in place; once the statement has progressed past generated
// it is rejected unless regenerate requests the next version.
func (a *Aggregator) GenerateForProperty(ctx context.Context, propertyID string, period Period, mode billing.CalculationMode, regenerate bool) (*statement.Statement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementGenerate(result, time.Since(start))
	}()

	stmt, err := a.generateForProperty(ctx, propertyID, period, mode, regenerate)
	if err != nil {
		result = metrics.ResultError
	}
	return stmt, err
}

func (a *Aggregator) generateForProperty(ctx context.Context, propertyID string, period Period, mode billing.CalculationMode, regenerate bool) (*statement.Statement, error) {
	if propertyID == "" {
		return nil, errors.New("aggregator: property id required")
	}
	if !period.Valid() {
		return nil, billing.ErrInvalidPeriod
	}

	profile, err := a.properties.GetFeeProfile(ctx, propertyID)
	if err != nil {
		return nil, err
	}
	if profile == nil {
		return nil, fmt.Errorf("aggregator: property %s not found", propertyID)
	}
	if !profile.HasCommissionConfig() {
		return nil, fmt.Errorf("aggregator: property %s: %w", propertyID, billing.ErrMissingFeeConfig)
	}

	clawback, err := a.replacesProgressed(ctx, propertyID, period, mode, regenerate)
	if err != nil {
		return nil, err
	}
	figures, err := a.computeProperty(ctx, *profile, period, mode, clawback)
	if err != nil {
		return nil, err
	}

	stmt := &statement.Statement{
		TenantID:     a.tenantID,
		PropertyID:   propertyID,
		PeriodStart:  period.Start.UTC(),
		PeriodEnd:    period.End.UTC(),
		Mode:         mode,
		Status:       statement.StatusDraft,
		Revenue:      figures.revenue,
		ExpenseTotal: figures.expenseTotal,
		Commission:   figures.commission,
		Tax:          figures.tax,
		Adjustments:  figures.adjustments,
		WaiverActive: figures.waiverActive,
		GrossPayout:  figures.grossPayout,
		NetPayout:    figures.netPayout,
		Currency:     a.currency,
		OwnerName:    profile.OwnerName,
		OwnerEmail:   profile.OwnerEmail,
		PayoutStatus: statement.PayoutNone,
	}
	return a.persist(ctx, propertyID, stmt, figures.items, regenerate)
}

// GenerateForGroup builds one combined statement for all member properties,
// stamped with the group identity. Members missing fee configuration fail
// the whole group (a half-merged combined statement would misstate totals).
func (a *Aggregator) GenerateForGroup(ctx context.Context, groupID string, period Period, mode billing.CalculationMode, regenerate bool) (*statement.Statement, error) {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveStatementGenerate(result, time.Since(start))
	}()

	stmt, err := a.generateForGroup(ctx, groupID, period, mode, regenerate)
	if err != nil {
		result = metrics.ResultError
	}
	return stmt, err
}

func (a *Aggregator) generateForGroup(ctx context.Context, groupID string, period Period, mode billing.CalculationMode, regenerate bool) (*statement.Statement, error) {
	if groupID == "" {
		return nil, errors.New("aggregator: group id required")
	}
	if !period.Valid() {
		return nil, billing.ErrInvalidPeriod
	}

	group, err := a.properties.GetGroup(ctx, groupID)
	if err != nil {
		return nil, err
	}
	if group == nil {
		return nil, fmt.Errorf("aggregator: group %s not found", groupID)
	}

	clawback, err := a.replacesProgressed(ctx, "group:"+group.ID, period, mode, regenerate)
	if err != nil {
		return nil, err
	}

	combined := propertyFigures{}
	ownerName := ""
	ownerEmail := ""
	for _, member := range group.Members {
		if !member.HasCommissionConfig() {
			return nil, fmt.Errorf("aggregator: group %s member %s: %w", groupID, member.PropertyID, billing.ErrMissingFeeConfig)
		}
		figures, err := a.computeProperty(ctx, member, period, mode, clawback)
		if err != nil {
			return nil, err
		}
		combined.revenue += figures.revenue
		combined.commission += figures.commission
		combined.tax += figures.tax
		combined.grossPayout += figures.grossPayout
		combined.expenseTotal += figures.expenseTotal
		combined.adjustments += figures.adjustments
		combined.netPayout += figures.netPayout
		combined.waiverActive = combined.waiverActive || figures.waiverActive
		combined.items = append(combined.items, figures.items...)
		if ownerName == "" {
			ownerName = member.OwnerName
			ownerEmail = member.OwnerEmail
		}
	}

	stmt := &statement.Statement{
		TenantID:     a.tenantID,
		GroupID:      group.ID,
		GroupName:    group.Name,
		GroupTags:    append([]string(nil), group.Tags...),
		PeriodStart:  period.Start.UTC(),
		PeriodEnd:    period.End.UTC(),
		Mode:         mode,
		Status:       statement.StatusDraft,
		Revenue:      combined.revenue,
		ExpenseTotal: combined.expenseTotal,
		Commission:   combined.commission,
		Tax:          combined.tax,
		Adjustments:  combined.adjustments,
		WaiverActive: combined.waiverActive,
		GrossPayout:  combined.grossPayout,
		NetPayout:    combined.netPayout,
		Currency:     a.currency,
		OwnerName:    ownerName,
		OwnerEmail:   ownerEmail,
		PayoutStatus: statement.PayoutNone,
	}
	return a.persist(ctx, "group:"+group.ID, stmt, combined.items, regenerate)
}

// EntityResult is one entity's outcome within a batch generation.
type EntityResult struct {
	EntityID    string
	StatementID string
	Err         error
}

// GenerateForTag generates statements for every property or group carrying
// the tag. Per-entity failures are reported, not fatal to the batch.
func (a *Aggregator) GenerateForTag(ctx context.Context, tag string, period Period, mode billing.CalculationMode) ([]EntityResult, error) {
	if tag == "" {
		return nil, errors.New("aggregator: tag required")
	}
	profiles, err := a.properties.ListByTag(ctx, tag)
	if err != nil {
		return nil, err
	}

	var results []EntityResult
	seenGroups := make(map[string]bool)
	for _, profile := range profiles {
		if profile.GroupID != "" {
			if seenGroups[profile.GroupID] {
				continue
			}
			seenGroups[profile.GroupID] = true
			stmt, err := a.GenerateForGroup(ctx, profile.GroupID, period, mode, false)
			entry := EntityResult{EntityID: "group:" + profile.GroupID, Err: err}
			if stmt != nil {
				entry.StatementID = stmt.ID
			}
			results = append(results, entry)
			continue
		}
		stmt, err := a.GenerateForProperty(ctx, profile.PropertyID, period, mode, false)
		entry := EntityResult{EntityID: profile.PropertyID, Err: err}
		if stmt != nil {
			entry.StatementID = stmt.ID
		}
		results = append(results, entry)
	}
	return results, nil
}

// Finalize advances a draft to generated and announces payout eligibility.
func (a *Aggregator) Finalize(ctx context.Context, id string) (*statement.Statement, error) {
	stmt, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, statement.ErrNotFound
	}
	if stmt.Status == statement.StatusGenerated {
		return stmt, nil
	}
	now := a.clock.Now()
	updated, err := a.repo.UpdateLifecycleStatus(ctx, id, statement.StatusDraft, statement.StatusGenerated, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, statement.ErrInvalidStatus
	}
	stmt.Status = statement.StatusGenerated
	stmt.UpdatedAt = now

	if a.publisher != nil {
		_ = a.publisher.PublishStatementFinalized(ctx, StatementFinalized{
			StatementID:     stmt.ID,
			PropertyID:      stmt.PropertyID,
			GroupID:         stmt.GroupID,
			NetPayout:       stmt.NetPayout,
			TransferAccount: a.transferAccountFor(ctx, stmt),
			OccurredAt:      now,
		})
	}
	return stmt, nil
}

// transferAccountFor resolves the payout destination: the property's
// configured account, or for a group statement the first member carrying
// one.
func (a *Aggregator) transferAccountFor(ctx context.Context, stmt *statement.Statement) string {
	if stmt.GroupID != "" {
		group, err := a.properties.GetGroup(ctx, stmt.GroupID)
		if err != nil || group == nil {
			return ""
		}
		for _, member := range group.Members {
			if member.TransferAccount != "" {
				return member.TransferAccount
			}
		}
		return ""
	}
	if stmt.PropertyID == "" {
		return ""
	}
	profile, err := a.properties.GetFeeProfile(ctx, stmt.PropertyID)
	if err != nil || profile == nil {
		return ""
	}
	return profile.TransferAccount
}

// Get returns a statement with its items.
func (a *Aggregator) Get(ctx context.Context, id string) (*statement.Statement, []statement.Item, error) {
	stmt, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	if stmt == nil {
		return nil, nil, statement.ErrNotFound
	}
	items, err := a.repo.ListItems(ctx, id)
	if err != nil {
		return nil, nil, err
	}
	return stmt, items, nil
}

// ListByStatus returns statements in a lifecycle status.
func (a *Aggregator) ListByStatus(ctx context.Context, status string, limit int) ([]statement.Statement, error) {
	return a.repo.ListByStatus(ctx, status, limit)
}

// Advance moves a statement through its lifecycle (sent, paid, modified).
func (a *Aggregator) Advance(ctx context.Context, id, to string) (*statement.Statement, error) {
	stmt, err := a.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if stmt == nil {
		return nil, statement.ErrNotFound
	}
	from := stmt.Status
	now := a.clock.Now()
	if err := stmt.Advance(to, now); err != nil {
		return nil, err
	}
	updated, err := a.repo.UpdateLifecycleStatus(ctx, id, from, to, now)
	if err != nil {
		return nil, err
	}
	if !updated {
		return nil, statement.ErrInvalidStatus
	}
	return stmt, nil
}

func (a *Aggregator) computeProperty(ctx context.Context, profile billing.FeeProfile, period Period, mode billing.CalculationMode, clawback bool) (propertyFigures, error) {
	figures := propertyFigures{}
	now := a.clock.Now()

	reservations, err := a.reservations.ListOverlapping(ctx, profile.PropertyID, period.Start, period.End)
	if err != nil {
		return figures, err
	}
	for _, res := range reservations {
		slice, err := billing.Prorate(res, period.Start, period.End, mode)
		if err != nil {
			return figures, err
		}
		if res.Status == billing.ReservationStatusCancelled {
			if !clawback || slice.Revenue == 0 {
				continue
			}
			figures.adjustments -= slice.Revenue
			figures.items = append(figures.items, statement.Item{
				ReservationID: res.ID,
				Kind:          statement.ItemKindAdjustment,
				Description:   fmt.Sprintf("reservation %s cancelled", res.ID),
				Nights:        slice.NightsInPeriod,
				Amount:        -slice.Revenue,
				CreatedAt:     now,
			})
			continue
		}
		if slice.Revenue == 0 && slice.NightsInPeriod == 0 {
			continue
		}
		figures.revenue += slice.Revenue
		if res.GrossAmount > 0 {
			figures.cleaning += res.PlatformFees * (slice.Revenue / res.GrossAmount)
		}
		figures.items = append(figures.items, statement.Item{
			ReservationID: res.ID,
			Kind:          statement.ItemKindRevenue,
			Description:   fmt.Sprintf("reservation %s (%d/%d nights)", res.ID, slice.NightsInPeriod, slice.TotalNights),
			Nights:        slice.NightsInPeriod,
			Amount:        slice.Revenue,
			CreatedAt:     now,
		})
	}

	if profile.ShouldAddTax && profile.OccupancyTaxPercent > 0 {
		figures.tax = figures.revenue * profile.OccupancyTaxPercent / 100
	}

	commission := billing.ComputeCommission(billing.CommissionInput{
		Revenue:           figures.revenue,
		FeePercent:        profile.FeePercentAt(period.LastDay()),
		TaxResponsibility: figures.tax,
		CleaningFee:       figures.cleaning,
		CoHostExternal:    profile.CoHostExternal,
		ShouldAddTax:      profile.ShouldAddTax,
		WaiverEnabled:     profile.WaiverEnabled,
		WaiverExpiry:      profile.WaiverExpiry,
		PeriodEnd:         period.LastDay(),
	})
	figures.commission = commission.Commission
	figures.waiverActive = commission.WaiverActive
	figures.grossPayout = commission.GrossPayout

	expenses, err := a.ledger.ListExpenses(ctx, profile.PropertyID, period.Start, period.End)
	if err != nil {
		return figures, err
	}
	for _, exp := range expenses {
		figures.expenseTotal += exp.Amount
		figures.items = append(figures.items, statement.Item{
			Kind:        statement.ItemKindExpense,
			Description: exp.Memo,
			Amount:      exp.Amount,
			CreatedAt:   now,
		})
	}

	lineItems, err := a.ledger.ListPayoutLineItems(ctx, profile.PropertyID, period.Start, period.End)
	if err != nil {
		return figures, err
	}
	for _, item := range lineItems {
		figures.lineItems += item.Amount
		figures.items = append(figures.items, statement.Item{
			Kind:        statement.ItemKindLineItem,
			Description: item.Memo,
			Amount:      item.Amount,
			CreatedAt:   now,
		})
	}

	figures.netPayout = billing.NetPayout(figures.grossPayout, lineItems, expenses) + figures.adjustments
	return figures, nil
}

func (a *Aggregator) persist(ctx context.Context, entityID string, stmt *statement.Statement, items []statement.Item, regenerate bool) (*statement.Statement, error) {
	now := a.clock.Now()
	stmt.CreatedAt = now
	stmt.UpdatedAt = now

	existing, err := a.repo.FindLatest(ctx, entityID, stmt.PeriodStart, stmt.Mode)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		if existing.CanRegenerate() {
			stmt.ID = existing.ID
			stmt.Version = existing.Version
			stmt.Status = existing.Status
			stmt.PayoutStatus = existing.PayoutStatus
			stmt.CreatedAt = existing.CreatedAt
			for i := range items {
				items[i].StatementID = stmt.ID
			}
			if err := a.repo.ReplaceDraftWithItems(ctx, stmt, items); err != nil {
				return nil, err
			}
			a.publishGenerated(ctx, stmt, now)
			return stmt, nil
		}
		if !regenerate {
			return nil, statement.ErrAlreadyProgressed
		}
	}

	version, err := a.repo.NextVersion(ctx, entityID, stmt.PeriodStart, stmt.Mode)
	if err != nil {
		return nil, err
	}
	stmt.Version = version
	stmt.ID = statement.BuildStatementID(entityID, stmt.PeriodStart, stmt.Mode, version)
	for i := range items {
		items[i].StatementID = stmt.ID
	}
	if err := a.repo.CreateWithItems(ctx, stmt, items); err != nil {
		return nil, err
	}
	a.publishGenerated(ctx, stmt, now)
	return stmt, nil
}

func (a *Aggregator) publishGenerated(ctx context.Context, stmt *statement.Statement, now time.Time) {
	if a.publisher == nil {
		return
	}
	_ = a.publisher.PublishStatementGenerated(ctx, StatementGenerated{
		StatementID: stmt.ID,
		PropertyID:  stmt.PropertyID,
		GroupID:     stmt.GroupID,
		PeriodStart: stmt.PeriodStart,
		PeriodEnd:   stmt.PeriodEnd,
		NetPayout:   stmt.NetPayout,
		Version:     stmt.Version,
		OccurredAt:  now,
	})
}
