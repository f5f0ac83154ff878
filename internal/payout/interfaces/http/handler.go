package http

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"

	"ownerledger/internal/observability/metrics"
	"ownerledger/internal/payout/application"
	statement "ownerledger/internal/statement/domain"
)

// Sweeper drives queued payouts in response to provider notifications.
type Sweeper interface {
	SweepQueued(ctx context.Context) error
	MarkTopUpFailed(ctx context.Context, message string) error
}

// Retrier re-drives a payout on operator request.
type Retrier interface {
	Retry(ctx context.Context, statementID string) (*statement.Statement, error)
}

// Handler serves the payout provider webhook and operator payout routes.
type Handler struct {
	sweeper Sweeper
	retrier Retrier
	logger  *log.Logger
}

// NewHandler constructs a payout handler.
func NewHandler(sweeper Sweeper, retrier Retrier, logger *log.Logger) (*Handler, error) {
	if sweeper == nil {
		return nil, errors.New("payout handler: nil sweeper")
	}
	if logger == nil {
		logger = log.Default()
	}
	return &Handler{sweeper: sweeper, retrier: retrier, logger: logger}, nil
}

type webhookEvent struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// ServeHTTP routes payout endpoints.
func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch {
	case r.URL.Path == "/webhooks/payout" && r.Method == http.MethodPost:
		h.handleWebhook(w, r)
	case strings.HasPrefix(r.URL.Path, "/api/v1/payouts/") && strings.HasSuffix(r.URL.Path, "/retry") && r.Method == http.MethodPost:
		h.handleRetry(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	var event webhookEvent
	if err := json.NewDecoder(r.Body).Decode(&event); err != nil {
		metrics.ObserveWebhook("bad_request")
		http.Error(w, "invalid json", http.StatusBadRequest)
		return
	}
	switch event.Kind {
	case "topup_succeeded":
		if err := h.sweeper.SweepQueued(r.Context()); err != nil {
			metrics.ObserveWebhook("error")
			h.logger.Printf("payout webhook sweep error: %v", err)
			http.Error(w, "sweep failed", http.StatusInternalServerError)
			return
		}
	case "topup_failed":
		if err := h.sweeper.MarkTopUpFailed(r.Context(), event.Message); err != nil {
			metrics.ObserveWebhook("error")
			h.logger.Printf("payout webhook mark error: %v", err)
			http.Error(w, "mark failed", http.StatusInternalServerError)
			return
		}
	default:
		metrics.ObserveWebhook("ignored")
		w.WriteHeader(http.StatusAccepted)
		_ = json.NewEncoder(w).Encode(map[string]string{"status": "ignored"})
		return
	}
	metrics.ObserveWebhook("success")
	w.WriteHeader(http.StatusAccepted)
	_ = json.NewEncoder(w).Encode(map[string]string{"status": "accepted"})
}

func (h *Handler) handleRetry(w http.ResponseWriter, r *http.Request) {
	if h.retrier == nil {
		http.Error(w, "retry not available", http.StatusNotImplemented)
		return
	}
	id := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/api/v1/payouts/"), "/retry")
	if id == "" || strings.Contains(id, "/") {
		http.NotFound(w, r)
		return
	}
	stmt, err := h.retrier.Retry(r.Context(), id)
	if err != nil {
		switch {
		case errors.Is(err, statement.ErrNotFound):
			http.Error(w, "statement not found", http.StatusNotFound)
		case errors.Is(err, statement.ErrIllegalPayoutTransition), errors.Is(err, statement.ErrPayoutClaimed):
			http.Error(w, err.Error(), http.StatusConflict)
		case errors.Is(err, application.ErrNoDestination), errors.Is(err, application.ErrNotEligible):
			http.Error(w, err.Error(), http.StatusUnprocessableEntity)
		default:
			http.Error(w, "retry failed", http.StatusBadGateway)
		}
		return
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{
		"statement_id":  stmt.ID,
		"payout_status": stmt.PayoutStatus,
	})
}
