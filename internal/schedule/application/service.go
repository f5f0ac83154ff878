package application

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	billing "ownerledger/internal/billing/domain"
	schedule "ownerledger/internal/schedule/domain"
)

// Service provides operator CRUD over tag schedules.
type Service struct {
	repo  Repository
	clock Clock
}

// NewService constructs a service.
func NewService(repo Repository, clock Clock) (*Service, error) {
	if repo == nil {
		return nil, errors.New("schedule service: nil repository")
	}
	if clock == nil {
		clock = SystemClock{}
	}
	return &Service{repo: repo, clock: clock}, nil
}

// CreateInput describes a new schedule.
type CreateInput struct {
	Tag           string
	Enabled       bool
	Frequency     string
	DayOfWeek     int
	DayOfMonth    int
	AnchorDate    time.Time
	Hour          int
	Minute        int
	Mode          string
	EmailTemplate string
	SkipDates     []time.Time
}

// Create validates and stores a schedule with its first due time.
func (s *Service) Create(ctx context.Context, input CreateInput) (*schedule.TagSchedule, error) {
	tag := strings.TrimSpace(input.Tag)
	if tag == "" {
		return nil, errors.New("schedule service: empty tag")
	}
	frequency, err := schedule.ParseFrequency(input.Frequency)
	if err != nil {
		return nil, err
	}
	mode, err := billing.ParseCalculationMode(input.Mode)
	if err != nil {
		return nil, err
	}
	if input.Hour < 0 || input.Hour > 23 || input.Minute < 0 || input.Minute > 59 {
		return nil, errors.New("schedule service: invalid time of day")
	}

	now := s.clock.Now()
	sched := &schedule.TagSchedule{
		ID:            uuid.NewString(),
		Tag:           tag,
		Enabled:       input.Enabled,
		Frequency:     frequency,
		DayOfWeek:     time.Weekday(input.DayOfWeek),
		DayOfMonth:    input.DayOfMonth,
		AnchorDate:    input.AnchorDate,
		Hour:          input.Hour,
		Minute:        input.Minute,
		Mode:          mode,
		EmailTemplate: input.EmailTemplate,
		SkipDates:     input.SkipDates,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	next, err := sched.NextDue(now)
	if err != nil {
		return nil, err
	}
	sched.NextScheduledAt = next

	if err := s.repo.Create(ctx, sched); err != nil {
		return nil, err
	}
	return sched, nil
}

// Update replaces editable fields and recomputes the due time when the
// cadence changed.
func (s *Service) Update(ctx context.Context, id string, input CreateInput) (*schedule.TagSchedule, error) {
	existing, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if existing == nil {
		return nil, schedule.ErrNotFound
	}
	frequency, err := schedule.ParseFrequency(input.Frequency)
	if err != nil {
		return nil, err
	}
	mode, err := billing.ParseCalculationMode(input.Mode)
	if err != nil {
		return nil, err
	}

	now := s.clock.Now()
	cadenceChanged := existing.Frequency != frequency ||
		existing.DayOfWeek != time.Weekday(input.DayOfWeek) ||
		existing.DayOfMonth != input.DayOfMonth ||
		!existing.AnchorDate.Equal(input.AnchorDate) ||
		existing.Hour != input.Hour || existing.Minute != input.Minute

	existing.Enabled = input.Enabled
	existing.Frequency = frequency
	existing.DayOfWeek = time.Weekday(input.DayOfWeek)
	existing.DayOfMonth = input.DayOfMonth
	existing.AnchorDate = input.AnchorDate
	existing.Hour = input.Hour
	existing.Minute = input.Minute
	existing.Mode = mode
	existing.EmailTemplate = input.EmailTemplate
	existing.SkipDates = input.SkipDates
	existing.UpdatedAt = now

	if cadenceChanged {
		next, err := existing.NextDue(now)
		if err != nil {
			return nil, err
		}
		existing.NextScheduledAt = next
	}

	if err := s.repo.Update(ctx, existing); err != nil {
		return nil, err
	}
	return existing, nil
}

// Get returns one schedule.
func (s *Service) Get(ctx context.Context, id string) (*schedule.TagSchedule, error) {
	sched, err := s.repo.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if sched == nil {
		return nil, schedule.ErrNotFound
	}
	return sched, nil
}

// List returns all schedules.
func (s *Service) List(ctx context.Context) ([]schedule.TagSchedule, error) {
	return s.repo.ListAll(ctx)
}
