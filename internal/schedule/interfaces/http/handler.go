package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"ownerledger/internal/audit"
	"ownerledger/internal/auth"
	billing "ownerledger/internal/billing/domain"
	"ownerledger/internal/schedule/application"
	schedule "ownerledger/internal/schedule/domain"
)

// Handler serves the tag-schedule CRUD API.
type Handler struct {
	service  *application.Service
	auditLog audit.Logger
}

// NewHandler constructs a schedule handler.
func NewHandler(service *application.Service, auditLog audit.Logger) (*Handler, error) {
	if service == nil {
		return nil, errors.New("schedule handler: nil service")
	}
	return &Handler{service: service, auditLog: auditLog}, nil
}

type scheduleRequest struct {
	Tag           string   `json:"tag"`
	Enabled       bool     `json:"enabled"`
	Frequency     string   `json:"frequency"`
	DayOfWeek     int      `json:"day_of_week"`
	DayOfMonth    int      `json:"day_of_month"`
	AnchorDate    string   `json:"anchor_date"`
	At            string   `json:"at"`
	Mode          string   `json:"mode"`
	EmailTemplate string   `json:"email_template"`
	SkipDates     []string `json:"skip_dates"`
}

type scheduleResponse struct {
	ID            string   `json:"id"`
	Tag           string   `json:"tag"`
	Enabled       bool     `json:"enabled"`
	Frequency     string   `json:"frequency"`
	DayOfWeek     int      `json:"day_of_week"`
	DayOfMonth    int      `json:"day_of_month,omitempty"`
	AnchorDate    string   `json:"anchor_date,omitempty"`
	At            string   `json:"at"`
	Mode          string   `json:"mode"`
	EmailTemplate string   `json:"email_template,omitempty"`
	SkipDates     []string `json:"skip_dates,omitempty"`
	NextRunAt     string   `json:"next_run_at,omitempty"`
	LastFiredAt   string   `json:"last_fired_at,omitempty"`
}

// ServeHTTP routes schedule endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path == "/api/v1/schedules" {
		switch r.Method {
		case http.MethodGet:
			h.handleList(w, r)
		case http.MethodPost:
			h.handleCreate(w, r)
		default:
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		}
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/api/v1/schedules/")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	switch r.Method {
	case http.MethodGet:
		h.handleGet(w, r, id)
	case http.MethodPut:
		h.handleUpdate(w, r, id)
	default:
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	schedules, err := h.service.List(r.Context())
	if err != nil {
		http.Error(w, "list schedules failed", http.StatusInternalServerError)
		return
	}
	out := make([]scheduleResponse, 0, len(schedules))
	for i := range schedules {
		out = append(out, toResponse(&schedules[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	sched, err := h.service.Get(r.Context(), id)
	if err != nil {
		respondScheduleError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toResponse(sched))
}

func (h *Handler) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input, err := toCreateInput(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sched, err := h.service.Create(r.Context(), input)
	if err != nil {
		respondScheduleError(w, err)
		return
	}
	h.recordAudit(r, "schedule.create", sched.ID)
	writeJSON(w, http.StatusCreated, toResponse(sched))
}

func (h *Handler) handleUpdate(w http.ResponseWriter, r *http.Request, id string) {
	var req scheduleRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	input, err := toCreateInput(req)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	sched, err := h.service.Update(r.Context(), id, input)
	if err != nil {
		respondScheduleError(w, err)
		return
	}
	h.recordAudit(r, "schedule.update", sched.ID)
	writeJSON(w, http.StatusOK, toResponse(sched))
}

func (h *Handler) recordAudit(r *http.Request, action, scheduleID string) {
	if h.auditLog == nil {
		return
	}
	_ = h.auditLog.Log(r.Context(), audit.Entry{
		TenantID:     auth.TenantIDFromContext(r.Context()),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "schedule",
		ResourceID:   scheduleID,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func toCreateInput(req scheduleRequest) (application.CreateInput, error) {
	input := application.CreateInput{
		Tag:           req.Tag,
		Enabled:       req.Enabled,
		Frequency:     req.Frequency,
		DayOfWeek:     req.DayOfWeek,
		DayOfMonth:    req.DayOfMonth,
		Mode:          req.Mode,
		EmailTemplate: req.EmailTemplate,
	}
	if req.AnchorDate != "" {
		anchor, err := time.Parse("2006-01-02", req.AnchorDate)
		if err != nil {
			return application.CreateInput{}, errors.New("invalid anchor_date, want YYYY-MM-DD")
		}
		input.AnchorDate = anchor
	}
	if req.At != "" {
		at, err := time.Parse("15:04", req.At)
		if err != nil {
			return application.CreateInput{}, errors.New("invalid at, want HH:MM")
		}
		input.Hour = at.Hour()
		input.Minute = at.Minute()
	}
	for _, raw := range req.SkipDates {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return application.CreateInput{}, errors.New("invalid skip date, want YYYY-MM-DD")
		}
		input.SkipDates = append(input.SkipDates, day)
	}
	return input, nil
}

func toResponse(sched *schedule.TagSchedule) scheduleResponse {
	resp := scheduleResponse{
		ID:            sched.ID,
		Tag:           sched.Tag,
		Enabled:       sched.Enabled,
		Frequency:     string(sched.Frequency),
		DayOfWeek:     int(sched.DayOfWeek),
		DayOfMonth:    sched.DayOfMonth,
		At:            fmt.Sprintf("%02d:%02d", sched.Hour, sched.Minute),
		Mode:          string(sched.Mode),
		EmailTemplate: sched.EmailTemplate,
	}
	if !sched.AnchorDate.IsZero() {
		resp.AnchorDate = sched.AnchorDate.Format("2006-01-02")
	}
	for _, day := range sched.SkipDates {
		resp.SkipDates = append(resp.SkipDates, day.Format("2006-01-02"))
	}
	if !sched.NextScheduledAt.IsZero() {
		resp.NextRunAt = sched.NextScheduledAt.Format(time.RFC3339)
	}
	if !sched.LastNotifiedAt.IsZero() {
		resp.LastFiredAt = sched.LastNotifiedAt.Format(time.RFC3339)
	}
	return resp
}

func respondScheduleError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, schedule.ErrNotFound):
		http.Error(w, "schedule not found", http.StatusNotFound)
	case errors.Is(err, schedule.ErrUnknownFrequency), errors.Is(err, billing.ErrUnknownMode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
