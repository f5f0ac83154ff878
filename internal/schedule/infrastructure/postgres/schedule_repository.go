package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"strings"
	"time"

	billing "ownerledger/internal/billing/domain"
	"ownerledger/internal/eventing"
	"ownerledger/internal/schedule/application"
	schedule "ownerledger/internal/schedule/domain"
)

const scheduleColumns = `
id, tag, enabled, frequency, day_of_week, day_of_month, anchor_date,
hour, minute, mode, email_template, skip_dates,
last_notified_at, next_scheduled_at, created_at, updated_at`

// ScheduleRepository persists tag schedules.
type ScheduleRepository struct {
	db *sql.DB
}

// NewScheduleRepository constructs a repository.
func NewScheduleRepository(db *sql.DB) *ScheduleRepository {
	return &ScheduleRepository{db: db}
}

// ListEnabled returns enabled schedules.
func (r *ScheduleRepository) ListEnabled(ctx context.Context) ([]schedule.TagSchedule, error) {
	return r.list(ctx, `WHERE enabled = TRUE`)
}

// ListAll returns every schedule.
func (r *ScheduleRepository) ListAll(ctx context.Context) ([]schedule.TagSchedule, error) {
	return r.list(ctx, ``)
}

func (r *ScheduleRepository) list(ctx context.Context, where string) ([]schedule.TagSchedule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("schedule repo: nil db")
	}
	rows, err := r.db.QueryContext(ctx, `
SELECT `+scheduleColumns+`
FROM tag_schedules
`+where+`
ORDER BY tag ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []schedule.TagSchedule
	for rows.Next() {
		sched, err := scanSchedule(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *sched)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}

// Get fetches one schedule.
func (r *ScheduleRepository) Get(ctx context.Context, id string) (*schedule.TagSchedule, error) {
	if r == nil || r.db == nil {
		return nil, errors.New("schedule repo: nil db")
	}
	row := r.db.QueryRowContext(ctx, `
SELECT `+scheduleColumns+`
FROM tag_schedules
WHERE id = $1
LIMIT 1`, id)
	sched, err := scanSchedule(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return sched, nil
}

// Create stores a schedule. The unique index on tag rejects duplicates.
func (r *ScheduleRepository) Create(ctx context.Context, s *schedule.TagSchedule) error {
	if r == nil || r.db == nil {
		return errors.New("schedule repo: nil db")
	}
	if s == nil {
		return errors.New("schedule repo: nil schedule")
	}
	_, err := r.db.ExecContext(ctx, `
INSERT INTO tag_schedules (
	id, tag, enabled, frequency, day_of_week, day_of_month, anchor_date,
	hour, minute, mode, email_template, skip_dates,
	last_notified_at, next_scheduled_at, created_at, updated_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16)`,
		s.ID, s.Tag, s.Enabled, string(s.Frequency), int(s.DayOfWeek), s.DayOfMonth, nullTime(s.AnchorDate),
		s.Hour, s.Minute, string(s.Mode), s.EmailTemplate, joinDates(s.SkipDates),
		nullTime(s.LastNotifiedAt), nullTime(s.NextScheduledAt), s.CreatedAt, s.UpdatedAt)
	return err
}

// Update replaces editable fields.
func (r *ScheduleRepository) Update(ctx context.Context, s *schedule.TagSchedule) error {
	if r == nil || r.db == nil {
		return errors.New("schedule repo: nil db")
	}
	if s == nil {
		return errors.New("schedule repo: nil schedule")
	}
	result, err := r.db.ExecContext(ctx, `
UPDATE tag_schedules
SET enabled = $1, frequency = $2, day_of_week = $3, day_of_month = $4,
	anchor_date = $5, hour = $6, minute = $7, mode = $8, email_template = $9,
	skip_dates = $10, next_scheduled_at = $11, updated_at = $12
WHERE id = $13`,
		s.Enabled, string(s.Frequency), int(s.DayOfWeek), s.DayOfMonth,
		nullTime(s.AnchorDate), s.Hour, s.Minute, string(s.Mode), s.EmailTemplate,
		joinDates(s.SkipDates), nullTime(s.NextScheduledAt), s.UpdatedAt, s.ID)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return schedule.ErrNotFound
	}
	return nil
}

// AdvanceNextRun swaps next_scheduled_at from its expected value.
func (r *ScheduleRepository) AdvanceNextRun(ctx context.Context, id string, from, to, notifiedAt time.Time) (bool, error) {
	if r == nil || r.db == nil {
		return false, errors.New("schedule repo: nil db")
	}
	var result sql.Result
	var err error
	if from.IsZero() {
		result, err = r.db.ExecContext(ctx, `
UPDATE tag_schedules
SET next_scheduled_at = $1, updated_at = $2
WHERE id = $3 AND next_scheduled_at IS NULL`, to, time.Now().UTC(), id)
	} else {
		result, err = r.db.ExecContext(ctx, `
UPDATE tag_schedules
SET next_scheduled_at = $1, last_notified_at = $2, updated_at = $3
WHERE id = $4 AND next_scheduled_at = $5`, to, nullTime(notifiedAt), time.Now().UTC(), id, from)
	}
	if err != nil {
		return false, err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSchedule(row rowScanner) (*schedule.TagSchedule, error) {
	var s schedule.TagSchedule
	var frequency, mode string
	var dayOfWeek int
	var anchorDate, lastNotifiedAt, nextScheduledAt sql.NullTime
	var emailTemplate, skipDates sql.NullString
	err := row.Scan(
		&s.ID,
		&s.Tag,
		&s.Enabled,
		&frequency,
		&dayOfWeek,
		&s.DayOfMonth,
		&anchorDate,
		&s.Hour,
		&s.Minute,
		&mode,
		&emailTemplate,
		&skipDates,
		&lastNotifiedAt,
		&nextScheduledAt,
		&s.CreatedAt,
		&s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Frequency = schedule.Frequency(frequency)
	s.Mode = billing.CalculationMode(mode)
	s.DayOfWeek = time.Weekday(dayOfWeek)
	if emailTemplate.Valid {
		s.EmailTemplate = emailTemplate.String
	}
	if skipDates.Valid {
		s.SkipDates = splitDates(skipDates.String)
	}
	if anchorDate.Valid {
		s.AnchorDate = anchorDate.Time.UTC()
	}
	if lastNotifiedAt.Valid {
		s.LastNotifiedAt = lastNotifiedAt.Time.UTC()
	}
	if nextScheduledAt.Valid {
		s.NextScheduledAt = nextScheduledAt.Time.UTC()
	}
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	return &s, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func joinDates(dates []time.Time) string {
	parts := make([]string, 0, len(dates))
	for _, d := range dates {
		parts = append(parts, d.UTC().Format("2006-01-02"))
	}
	return strings.Join(parts, ",")
}

func splitDates(raw string) []time.Time {
	if raw == "" {
		return nil
	}
	var result []time.Time
	for _, part := range strings.Split(raw, ",") {
		parsed, err := time.Parse("2006-01-02", strings.TrimSpace(part))
		if err != nil {
			continue
		}
		result = append(result, parsed.UTC())
	}
	return result
}

// RunReportStore persists schedule run reports.
type RunReportStore struct {
	db *sql.DB
}

// NewRunReportStore constructs a run report store.
func NewRunReportStore(db *sql.DB) *RunReportStore {
	return &RunReportStore{db: db}
}

// Record inserts a run report with its outcomes as JSON.
func (s *RunReportStore) Record(ctx context.Context, report application.RunReport) error {
	if s == nil || s.db == nil {
		return errors.New("run report store: nil db")
	}
	if report.ID == "" {
		report.ID = eventing.NewEventID()
	}
	outcomes, err := json.Marshal(report.Outcomes)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
INSERT INTO schedule_run_reports (
	id, schedule_id, tag, fired_at, period_start, period_end, mode, skipped, outcomes, created_at
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)`,
		report.ID, report.ScheduleID, report.Tag, report.FiredAt, report.PeriodStart, report.PeriodEnd,
		string(report.Mode), report.Skipped, outcomes, time.Now().UTC())
	return err
}
