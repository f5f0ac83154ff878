package application

import (
	"context"
	"errors"
	"log"
	"time"

	billing "ownerledger/internal/billing/domain"
	"ownerledger/internal/observability/metrics"
	schedule "ownerledger/internal/schedule/domain"
	stmtapp "ownerledger/internal/statement/application"
)

// Repository persists tag schedules.
type Repository interface {
	ListEnabled(ctx context.Context) ([]schedule.TagSchedule, error)
	ListAll(ctx context.Context) ([]schedule.TagSchedule, error)
	Get(ctx context.Context, id string) (*schedule.TagSchedule, error)
	Create(ctx context.Context, s *schedule.TagSchedule) error
	Update(ctx context.Context, s *schedule.TagSchedule) error
	// AdvanceNextRun swaps next_scheduled_at from its expected value and
	// stamps last_notified_at. Returns false when another runner won.
	AdvanceNextRun(ctx context.Context, id string, from, to, notifiedAt time.Time) (bool, error)
}

// Outcome is the per-entity result of a scheduled generation.
type Outcome struct {
	EntityID    string `json:"entity_id"`
	StatementID string `json:"statement_id,omitempty"`
	Error       string `json:"error,omitempty"`
}

// RunReport records one schedule fire.
type RunReport struct {
	ID          string
	ScheduleID  string
	Tag         string
	FiredAt     time.Time
	PeriodStart time.Time
	PeriodEnd   time.Time
	Mode        billing.CalculationMode
	Skipped     bool
	Outcomes    []Outcome
}

// ReportWriter persists run reports.
type ReportWriter interface {
	Record(ctx context.Context, report RunReport) error
}

// Generator produces statements for every entity carrying a tag.
type Generator interface {
	GenerateForTag(ctx context.Context, tag string, period stmtapp.Period, mode billing.CalculationMode) ([]stmtapp.EntityResult, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock uses wall-clock time.
type SystemClock struct{}

// Now returns current UTC time.
func (SystemClock) Now() time.Time { return time.Now().UTC() }

// Engine evaluates tag schedules and fires statement generation.
type Engine struct {
	repo      Repository
	reports   ReportWriter
	generator Generator
	clock     Clock
	logger    *log.Logger
}

// NewEngine constructs an engine.
func NewEngine(repo Repository, reports ReportWriter, generator Generator, clock Clock, logger *log.Logger) (*Engine, error) {
	if repo == nil {
		return nil, errors.New("schedule engine: nil repository")
	}
	if generator == nil {
		return nil, errors.New("schedule engine: nil generator")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Engine{repo: repo, reports: reports, generator: generator, clock: clock, logger: logger}, nil
}

// Start begins the evaluation loop. Ticks run sequentially, so a slow
// tick cannot overlap the next one.
func (e *Engine) Start(ctx context.Context) {
	if e == nil {
		return
	}
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := e.Tick(ctx); err != nil {
				e.logger.Printf("schedule tick error: %v", err)
			}
		}
	}
}

// Tick evaluates all enabled schedules once.
func (e *Engine) Tick(ctx context.Context) error {
	start := time.Now()
	result := metrics.ResultSuccess
	defer func() {
		metrics.ObserveScheduleTick(result, time.Since(start))
	}()

	schedules, err := e.repo.ListEnabled(ctx)
	if err != nil {
		result = metrics.ResultError
		return err
	}
	now := e.clock.Now()
	for i := range schedules {
		if err := e.evaluate(ctx, schedules[i], now); err != nil {
			result = metrics.ResultError
			e.logger.Printf("schedule %s evaluation error: %v", schedules[i].Tag, err)
		}
	}
	return nil
}

func (e *Engine) evaluate(ctx context.Context, sched schedule.TagSchedule, now time.Time) error {
	if sched.NextScheduledAt.IsZero() {
		next, err := sched.NextDue(now)
		if err != nil {
			return err
		}
		_, err = e.repo.AdvanceNextRun(ctx, sched.ID, time.Time{}, next, time.Time{})
		return err
	}
	if now.Before(sched.NextScheduledAt) {
		return nil
	}

	due := sched.NextScheduledAt
	next, err := sched.NextDue(now)
	if err != nil {
		return err
	}

	// The due-time advance is the mutual-exclusion point: exactly one
	// runner wins the swap, and a crash after it cannot re-fire because
	// the stored due time is already in the future.
	won, err := e.repo.AdvanceNextRun(ctx, sched.ID, due, next, now)
	if err != nil {
		return err
	}
	if !won {
		return nil
	}

	if sched.ShouldSkip(due) {
		metrics.ObserveScheduleFire("skipped")
		e.logger.Printf("schedule %s skipped occurrence %s", sched.Tag, due.Format("2006-01-02"))
		e.record(ctx, sched, due, nil, true)
		return nil
	}

	periodStart, periodEnd := sched.Period(due)
	period := stmtapp.Period{Start: periodStart, End: periodEnd}
	results, err := e.generator.GenerateForTag(ctx, sched.Tag, period, sched.Mode)
	if err != nil {
		metrics.ObserveScheduleFire(metrics.ResultError)
		e.record(ctx, sched, due, []Outcome{{Error: err.Error()}}, false)
		return err
	}

	outcomes := make([]Outcome, 0, len(results))
	fireResult := metrics.ResultSuccess
	for _, entry := range results {
		outcome := Outcome{EntityID: entry.EntityID, StatementID: entry.StatementID}
		if entry.Err != nil {
			outcome.Error = entry.Err.Error()
			fireResult = metrics.ResultError
		}
		outcomes = append(outcomes, outcome)
	}
	metrics.ObserveScheduleFire(fireResult)
	e.record(ctx, sched, due, outcomes, false)
	return nil
}

func (e *Engine) record(ctx context.Context, sched schedule.TagSchedule, due time.Time, outcomes []Outcome, skipped bool) {
	if e.reports == nil {
		return
	}
	periodStart, periodEnd := sched.Period(due)
	report := RunReport{
		ScheduleID:  sched.ID,
		Tag:         sched.Tag,
		FiredAt:     due,
		PeriodStart: periodStart,
		PeriodEnd:   periodEnd,
		Mode:        sched.Mode,
		Skipped:     skipped,
		Outcomes:    outcomes,
	}
	if err := e.reports.Record(ctx, report); err != nil {
		e.logger.Printf("schedule %s run report error: %v", sched.Tag, err)
	}
}
