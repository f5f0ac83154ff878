package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"ownerledger/internal/audit"
	"ownerledger/internal/auth"
	billing "ownerledger/internal/billing/domain"
	"ownerledger/internal/observability/metrics"
	stmtapp "ownerledger/internal/statement/application"
	statement "ownerledger/internal/statement/domain"
	stmtifaces "ownerledger/internal/statement/interfaces"
)

const dateLayout = "2006-01-02"

// PayoutRetrier re-attempts a payout for a statement.
type PayoutRetrier interface {
	Retry(ctx context.Context, statementID string) (*statement.Statement, error)
}

// Handler provides statement HTTP endpoints.
type Handler struct {
	aggregator      *stmtapp.Aggregator
	retrier         PayoutRetrier
	auditLog        audit.Logger
	propertyChecker auth.PropertyTenantChecker
	generateTimeout time.Duration
}

// NewHandler constructs a handler.
func NewHandler(aggregator *stmtapp.Aggregator, retrier PayoutRetrier, auditLog audit.Logger, propertyChecker auth.PropertyTenantChecker, generateTimeout time.Duration) (*Handler, error) {
	if aggregator == nil {
		return nil, errors.New("statement handler: nil aggregator")
	}
	if generateTimeout <= 0 {
		generateTimeout = 30 * time.Second
	}
	return &Handler{
		aggregator:      aggregator,
		retrier:         retrier,
		auditLog:        auditLog,
		propertyChecker: propertyChecker,
		generateTimeout: generateTimeout,
	}, nil
}

// ServeHTTP handles /api/v1/statements and subroutes.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/api/v1/statements/generate":
		if r.Method != http.MethodPost {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGenerate(w, r)
		return
	case r.URL.Path == "/api/v1/statements":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleList(w, r)
		return
	case strings.HasPrefix(r.URL.Path, "/api/v1/statements/"):
		h.handleSub(w, r)
		return
	default:
		w.WriteHeader(http.StatusNotFound)
		return
	}
}

type generateRequest struct {
	PropertyID  string `json:"property_id"`
	GroupID     string `json:"group_id"`
	Tag         string `json:"tag"`
	PeriodStart string `json:"period_start"`
	PeriodEnd   string `json:"period_end"`
	Mode        string `json:"mode"`
	Regenerate  bool   `json:"regenerate"`
}

func (h *Handler) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req generateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	scopes := 0
	for _, scope := range []string{req.PropertyID, req.GroupID, req.Tag} {
		if scope != "" {
			scopes++
		}
	}
	if scopes != 1 {
		http.Error(w, "exactly one of property_id, group_id, tag is required", http.StatusBadRequest)
		return
	}
	period, err := parsePeriod(req.PeriodStart, req.PeriodEnd)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	mode, err := billing.ParseCalculationMode(req.Mode)
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	tenantID := auth.TenantIDFromContext(r.Context())
	if tenantID != "" && req.PropertyID != "" && h.propertyChecker != nil {
		if err := h.propertyChecker.EnsurePropertyTenant(r.Context(), tenantID, req.PropertyID); err != nil {
			respondTenantError(w, err)
			return
		}
	}

	ctx, cancel := context.WithTimeout(r.Context(), h.generateTimeout)
	defer cancel()

	var payload any
	switch {
	case req.PropertyID != "":
		stmt, err := h.aggregator.GenerateForProperty(ctx, req.PropertyID, period, mode, req.Regenerate)
		if err != nil {
			respondStatementError(w, err)
			return
		}
		payload = stmt
	case req.GroupID != "":
		stmt, err := h.aggregator.GenerateForGroup(ctx, req.GroupID, period, mode, req.Regenerate)
		if err != nil {
			respondStatementError(w, err)
			return
		}
		payload = stmt
	default:
		results, err := h.aggregator.GenerateForTag(ctx, req.Tag, period, mode)
		if err != nil {
			respondStatementError(w, err)
			return
		}
		payload = results
	}

	h.recordAudit(r, "statement.generate", req.PropertyID+req.GroupID+req.Tag, req)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(payload)
}

func (h *Handler) handleList(w http.ResponseWriter, r *http.Request) {
	status := r.URL.Query().Get("status")
	if status == "" {
		http.Error(w, "status is required", http.StatusBadRequest)
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed < 0 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}
	list, err := h.aggregator.ListByStatus(r.Context(), status, limit)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(list)
}

func (h *Handler) handleSub(w http.ResponseWriter, r *http.Request) {
	path := strings.TrimPrefix(r.URL.Path, "/api/v1/statements/")
	parts := strings.Split(path, "/")
	id := parts[0]
	if id == "" {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	if len(parts) == 1 {
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleGet(w, r, id)
		return
	}
	if len(parts) != 2 {
		w.WriteHeader(http.StatusNotFound)
		return
	}

	action := parts[1]
	switch action {
	case "export.pdf", "export.xlsx":
		if r.Method != http.MethodGet {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		h.handleExport(w, r, id, action)
		return
	}

	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	switch action {
	case "finalize":
		stmt, err := h.aggregator.Finalize(r.Context(), id)
		if err != nil {
			respondStatementError(w, err)
			return
		}
		h.recordAudit(r, "statement.finalize", id, nil)
		respondJSON(w, stmt)
	case "advance":
		var body struct {
			To string `json:"to"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.To == "" {
			http.Error(w, "to is required", http.StatusBadRequest)
			return
		}
		stmt, err := h.aggregator.Advance(r.Context(), id, body.To)
		if err != nil {
			respondStatementError(w, err)
			return
		}
		h.recordAudit(r, "statement.advance", id, body)
		respondJSON(w, stmt)
	case "retry":
		if h.retrier == nil {
			http.Error(w, "payout retry not configured", http.StatusServiceUnavailable)
			return
		}
		stmt, err := h.retrier.Retry(r.Context(), id)
		if err != nil {
			respondStatementError(w, err)
			return
		}
		h.recordAudit(r, "payout.retry", id, nil)
		respondJSON(w, stmt)
	default:
		w.WriteHeader(http.StatusNotFound)
	}
}

func (h *Handler) handleGet(w http.ResponseWriter, r *http.Request, id string) {
	stmt, items, err := h.aggregator.Get(r.Context(), id)
	if err != nil {
		respondStatementError(w, err)
		return
	}
	respondJSON(w, struct {
		Statement *statement.Statement `json:"statement"`
		Items     []statement.Item     `json:"items"`
	}{Statement: stmt, Items: items})
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request, id, format string) {
	stmt, items, err := h.aggregator.Get(r.Context(), id)
	if err != nil {
		respondStatementError(w, err)
		return
	}
	var data []byte
	var contentType string
	kind := strings.TrimPrefix(format, "export.")
	switch format {
	case "export.pdf":
		data, err = stmtifaces.BuildStatementPDF(stmt, items)
		contentType = "application/pdf"
	default:
		data, err = stmtifaces.BuildStatementXLSX(stmt, items)
		contentType = "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	if err != nil {
		metrics.ObserveStatementExport(kind, metrics.ResultError)
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	metrics.ObserveStatementExport(kind, metrics.ResultSuccess)
	h.recordAudit(r, "statement.export", id, map[string]string{"format": format})
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Content-Disposition", "attachment; filename="+id+strings.TrimPrefix(format, "export"))
	_, _ = w.Write(data)
}

func (h *Handler) recordAudit(r *http.Request, action, resourceID string, metadata any) {
	if h.auditLog == nil {
		return
	}
	var raw json.RawMessage
	if metadata != nil {
		if encoded, err := json.Marshal(metadata); err == nil {
			raw = encoded
		}
	}
	_ = h.auditLog.Log(r.Context(), audit.Entry{
		TenantID:     auth.TenantIDFromContext(r.Context()),
		Actor:        auth.SubjectFromContext(r.Context()),
		Role:         string(auth.RoleFromContext(r.Context())),
		Action:       action,
		ResourceType: "statement",
		ResourceID:   resourceID,
		Metadata:     raw,
		IP:           audit.ClientIP(r),
		UserAgent:    r.UserAgent(),
	})
}

func parsePeriod(start, end string) (stmtapp.Period, error) {
	from, err := time.Parse(dateLayout, start)
	if err != nil {
		return stmtapp.Period{}, errors.New("invalid period_start")
	}
	to, err := time.Parse(dateLayout, end)
	if err != nil {
		return stmtapp.Period{}, errors.New("invalid period_end")
	}
	period := stmtapp.Period{Start: from.UTC(), End: to.UTC()}
	if !period.Valid() {
		return stmtapp.Period{}, billing.ErrInvalidPeriod
	}
	return period, nil
}

func respondJSON(w http.ResponseWriter, payload any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(payload)
}

func respondStatementError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, statement.ErrNotFound):
		w.WriteHeader(http.StatusNotFound)
	case errors.Is(err, statement.ErrAlreadyProgressed), errors.Is(err, statement.ErrDuplicatePeriod),
		errors.Is(err, statement.ErrInvalidStatus), errors.Is(err, statement.ErrIllegalPayoutTransition),
		errors.Is(err, statement.ErrPayoutClaimed):
		http.Error(w, err.Error(), http.StatusConflict)
	case errors.Is(err, billing.ErrInvalidPeriod), errors.Is(err, billing.ErrUnknownMode):
		http.Error(w, err.Error(), http.StatusBadRequest)
	case errors.Is(err, billing.ErrMissingFeeConfig):
		http.Error(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, auth.ErrTenantMismatch):
		http.Error(w, "forbidden", http.StatusForbidden)
	default:
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}

func respondTenantError(w http.ResponseWriter, err error) {
	if errors.Is(err, auth.ErrNotFound) {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if errors.Is(err, auth.ErrTenantMismatch) {
		http.Error(w, "forbidden", http.StatusForbidden)
		return
	}
	http.Error(w, err.Error(), http.StatusInternalServerError)
}
