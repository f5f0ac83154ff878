package domain

import (
	"errors"
	"time"

	billing "ownerledger/internal/billing/domain"
)

// Frequency is how often a tag schedule fires.
type Frequency string

const (
	FrequencyWeekly   Frequency = "weekly"
	FrequencyBiweekly Frequency = "biweekly"
	FrequencyMonthly  Frequency = "monthly"
)

// ErrUnknownFrequency indicates an unrecognized frequency value.
var ErrUnknownFrequency = errors.New("schedule: unknown frequency")

// ErrNotFound indicates a missing schedule.
var ErrNotFound = errors.New("schedule: not found")

// ParseFrequency validates a frequency string.
func ParseFrequency(value string) (Frequency, error) {
	switch Frequency(value) {
	case FrequencyWeekly, FrequencyBiweekly, FrequencyMonthly:
		return Frequency(value), nil
	default:
		return "", ErrUnknownFrequency
	}
}

// TagSchedule drives periodic statement generation for all properties
// carrying a tag. Only the engine mutates NextScheduledAt.
type TagSchedule struct {
	ID      string
	Tag     string
	Enabled bool

	Frequency  Frequency
	DayOfWeek  time.Weekday // weekly
	DayOfMonth int          // monthly, clamped to short months
	AnchorDate time.Time    // biweekly reference date
	Hour       int
	Minute     int

	Mode          billing.CalculationMode
	EmailTemplate string
	SkipDates     []time.Time

	LastNotifiedAt  time.Time
	NextScheduledAt time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NextDue computes the first due time strictly after the given instant.
func (s TagSchedule) NextDue(after time.Time) (time.Time, error) {
	after = after.UTC()
	switch s.Frequency {
	case FrequencyWeekly:
		return s.nextWeekly(after), nil
	case FrequencyBiweekly:
		return s.nextBiweekly(after)
	case FrequencyMonthly:
		return s.nextMonthly(after), nil
	default:
		return time.Time{}, ErrUnknownFrequency
	}
}

func (s TagSchedule) nextWeekly(after time.Time) time.Time {
	day := time.Date(after.Year(), after.Month(), after.Day(), 0, 0, 0, 0, time.UTC)
	for i := 0; i < 8; i++ {
		candidate := day.AddDate(0, 0, i)
		if candidate.Weekday() != s.DayOfWeek {
			continue
		}
		at := s.atTimeOfDay(candidate)
		if at.After(after) {
			return at
		}
	}
	// Unreachable: a week always contains the target weekday.
	return s.atTimeOfDay(day.AddDate(0, 0, 7))
}

func (s TagSchedule) nextBiweekly(after time.Time) (time.Time, error) {
	if s.AnchorDate.IsZero() {
		return time.Time{}, errors.New("schedule: biweekly without anchor date")
	}
	anchor := s.atTimeOfDay(time.Date(s.AnchorDate.Year(), s.AnchorDate.Month(), s.AnchorDate.Day(), 0, 0, 0, 0, time.UTC))
	if anchor.After(after) {
		return anchor, nil
	}
	elapsed := after.Sub(anchor)
	cycles := int64(elapsed / (14 * 24 * time.Hour))
	candidate := anchor.Add(time.Duration(cycles) * 14 * 24 * time.Hour)
	for !candidate.After(after) {
		candidate = candidate.Add(14 * 24 * time.Hour)
	}
	return candidate, nil
}

func (s TagSchedule) nextMonthly(after time.Time) time.Time {
	day := s.DayOfMonth
	if day <= 0 {
		day = 1
	}
	month := time.Date(after.Year(), after.Month(), 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 3; i++ {
		candidate := s.atTimeOfDay(clampToMonth(month, day))
		if candidate.After(after) {
			return candidate
		}
		month = month.AddDate(0, 1, 0)
	}
	return s.atTimeOfDay(clampToMonth(month, day))
}

func (s TagSchedule) atTimeOfDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), s.Hour, s.Minute, 0, 0, time.UTC)
}

// ShouldSkip reports whether the occurrence date is in the skip list.
func (s TagSchedule) ShouldSkip(due time.Time) bool {
	dueDay := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	for _, skip := range s.SkipDates {
		skipDay := time.Date(skip.Year(), skip.Month(), skip.Day(), 0, 0, 0, 0, time.UTC)
		if skipDay.Equal(dueDay) {
			return true
		}
	}
	return false
}

// Period returns the statement period covered by a fire at the due time:
// the frequency-length window ending at the due date.
func (s TagSchedule) Period(due time.Time) (time.Time, time.Time) {
	end := time.Date(due.Year(), due.Month(), due.Day(), 0, 0, 0, 0, time.UTC)
	switch s.Frequency {
	case FrequencyWeekly:
		return end.AddDate(0, 0, -7), end
	case FrequencyBiweekly:
		return end.AddDate(0, 0, -14), end
	default:
		return end.AddDate(0, -1, 0), end
	}
}

// clampToMonth returns the wanted day within the month, clamped to its
// last day for short months.
func clampToMonth(firstOfMonth time.Time, day int) time.Time {
	lastDay := firstOfMonth.AddDate(0, 1, -1).Day()
	if day > lastDay {
		day = lastDay
	}
	return time.Date(firstOfMonth.Year(), firstOfMonth.Month(), day, 0, 0, 0, 0, time.UTC)
}
