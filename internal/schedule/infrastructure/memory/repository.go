package memory

import (
	"context"
	"sync"
	"time"

	"ownerledger/internal/schedule/application"
	schedule "ownerledger/internal/schedule/domain"
)

// ScheduleRepository is an in-memory schedule store for tests and local runs.
type ScheduleRepository struct {
	mu   sync.RWMutex
	byID map[string]*schedule.TagSchedule
}

// NewScheduleRepository constructs an empty repository.
func NewScheduleRepository() *ScheduleRepository {
	return &ScheduleRepository{byID: make(map[string]*schedule.TagSchedule)}
}

func cloneSchedule(s *schedule.TagSchedule) *schedule.TagSchedule {
	if s == nil {
		return nil
	}
	copied := *s
	copied.SkipDates = append([]time.Time(nil), s.SkipDates...)
	return &copied
}

// ListEnabled returns enabled schedules.
func (r *ScheduleRepository) ListEnabled(ctx context.Context) ([]schedule.TagSchedule, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []schedule.TagSchedule
	for _, s := range r.byID {
		if s.Enabled {
			result = append(result, *cloneSchedule(s))
		}
	}
	return result, nil
}

// ListAll returns every schedule.
func (r *ScheduleRepository) ListAll(ctx context.Context) ([]schedule.TagSchedule, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	var result []schedule.TagSchedule
	for _, s := range r.byID {
		result = append(result, *cloneSchedule(s))
	}
	return result, nil
}

// Get fetches one schedule.
func (r *ScheduleRepository) Get(ctx context.Context, id string) (*schedule.TagSchedule, error) {
	_ = ctx
	r.mu.RLock()
	defer r.mu.RUnlock()
	return cloneSchedule(r.byID[id]), nil
}

// Create stores a schedule.
func (r *ScheduleRepository) Create(ctx context.Context, s *schedule.TagSchedule) error {
	_ = ctx
	if s == nil {
		return schedule.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[s.ID] = cloneSchedule(s)
	return nil
}

// Update replaces a schedule.
func (r *ScheduleRepository) Update(ctx context.Context, s *schedule.TagSchedule) error {
	_ = ctx
	if s == nil {
		return schedule.ErrNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[s.ID]; !ok {
		return schedule.ErrNotFound
	}
	r.byID[s.ID] = cloneSchedule(s)
	return nil
}

// AdvanceNextRun swaps the due time if it still matches the expected value.
func (r *ScheduleRepository) AdvanceNextRun(ctx context.Context, id string, from, to, notifiedAt time.Time) (bool, error) {
	_ = ctx
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.byID[id]
	if !ok {
		return false, schedule.ErrNotFound
	}
	if !s.NextScheduledAt.Equal(from) {
		return false, nil
	}
	s.NextScheduledAt = to
	if !notifiedAt.IsZero() {
		s.LastNotifiedAt = notifiedAt
	}
	s.UpdatedAt = time.Now().UTC()
	return true, nil
}

// RunReportStore keeps run reports in memory.
type RunReportStore struct {
	mu      sync.Mutex
	reports []application.RunReport
}

// NewRunReportStore constructs an empty store.
func NewRunReportStore() *RunReportStore {
	return &RunReportStore{}
}

// Record appends a report.
func (s *RunReportStore) Record(ctx context.Context, report application.RunReport) error {
	_ = ctx
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reports = append(s.reports, report)
	return nil
}

// Reports returns a copy of recorded reports.
func (s *RunReportStore) Reports() []application.RunReport {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]application.RunReport(nil), s.reports...)
}
