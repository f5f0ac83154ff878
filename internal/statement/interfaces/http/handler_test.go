package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	billing "ownerledger/internal/billing/domain"
	stmtapp "ownerledger/internal/statement/application"
	statement "ownerledger/internal/statement/domain"
	"ownerledger/internal/statement/infrastructure/memory"
)

type fixedClock struct{ now time.Time }

func (c fixedClock) Now() time.Time { return c.now }

type stubProperties struct {
	profiles map[string]*billing.FeeProfile
}

func (s stubProperties) GetFeeProfile(_ context.Context, propertyID string) (*billing.FeeProfile, error) {
	return s.profiles[propertyID], nil
}

func (s stubProperties) ListByTag(_ context.Context, tag string) ([]billing.FeeProfile, error) {
	var out []billing.FeeProfile
	for _, p := range s.profiles {
		if p.HasTag(tag) {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s stubProperties) GetGroup(_ context.Context, _ string) (*billing.Group, error) {
	return nil, nil
}

type stubReservations struct {
	byProperty map[string][]billing.Reservation
}

func (s stubReservations) ListOverlapping(_ context.Context, propertyID string, _, _ time.Time) ([]billing.Reservation, error) {
	return s.byProperty[propertyID], nil
}

type stubLedger struct {
	expenses map[string][]billing.Expense
	items    map[string][]billing.PayoutLineItem
}

func (s stubLedger) ListExpenses(_ context.Context, propertyID string, _, _ time.Time) ([]billing.Expense, error) {
	return s.expenses[propertyID], nil
}

func (s stubLedger) ListPayoutLineItems(_ context.Context, propertyID string, _, _ time.Time) ([]billing.PayoutLineItem, error) {
	return s.items[propertyID], nil
}

type stubRetrier struct {
	stmt *statement.Statement
	err  error
	ids  []string
}

func (s *stubRetrier) Retry(_ context.Context, id string) (*statement.Statement, error) {
	s.ids = append(s.ids, id)
	return s.stmt, s.err
}

func newTestHandler(t *testing.T, retrier PayoutRetrier) (*Handler, *stmtapp.Aggregator) {
	t.Helper()
	props := stubProperties{profiles: map[string]*billing.FeeProfile{
		"prop-1": {
			PropertyID:        "prop-1",
			OwnerName:         "Dana Wells",
			OwnerEmail:        "dana@example.com",
			CommissionPercent: 20,
			TransferAccount:   "acct-dana",
		},
	}}
	res := stubReservations{byProperty: map[string][]billing.Reservation{
		"prop-1": {{
			ID:           "res-1",
			PropertyID:   "prop-1",
			GrossAmount:  1000,
			PlatformFees: 100,
			CheckIn:      time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC),
			CheckOut:     time.Date(2026, 1, 15, 0, 0, 0, 0, time.UTC),
			Nights:       5,
			Status:       billing.ReservationStatusCompleted,
		}},
	}}
	ledger := stubLedger{
		expenses: map[string][]billing.Expense{
			"prop-1": {{ID: "exp-1", PropertyID: "prop-1", Amount: 50, Date: time.Date(2026, 1, 12, 0, 0, 0, 0, time.UTC), Memo: "plumbing repair"}},
		},
		items: map[string][]billing.PayoutLineItem{
			"prop-1": {{ID: "li-1", PropertyID: "prop-1", Amount: 30, Date: time.Date(2026, 1, 20, 0, 0, 0, 0, time.UTC), Memo: "pet fee credit"}},
		},
	}
	clock := fixedClock{now: time.Date(2026, 2, 2, 9, 0, 0, 0, time.UTC)}
	agg, err := stmtapp.NewAggregator(memory.NewStatementRepository(), props, res, ledger, nil, clock, "tenant-test", "USD")
	if err != nil {
		t.Fatalf("aggregator: %v", err)
	}
	handler, err := NewHandler(agg, retrier, nil, nil, time.Second)
	if err != nil {
		t.Fatalf("handler: %v", err)
	}
	return handler, agg
}

func generateBody(t *testing.T, fields map[string]any) *bytes.Buffer {
	t.Helper()
	body := map[string]any{
		"period_start": "2026-01-01",
		"period_end":   "2026-02-01",
		"mode":         "calendar",
	}
	for k, v := range fields {
		body[k] = v
	}
	encoded, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return bytes.NewBuffer(encoded)
}

func TestGenerateForPropertyEndpoint(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/generate", generateBody(t, map[string]any{"property_id": "prop-1"}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)

	if rec.Code != http.StatusAccepted {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stmt statement.Statement
	if err := json.NewDecoder(rec.Body).Decode(&stmt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stmt.Status != statement.StatusDraft {
		t.Fatalf("status = %s", stmt.Status)
	}
	if stmt.Revenue != 1000 || stmt.Commission != 200 || stmt.NetPayout != 680 {
		t.Fatalf("totals = %v / %v / %v", stmt.Revenue, stmt.Commission, stmt.NetPayout)
	}
}

func TestGenerateRequiresExactlyOneScope(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	for name, fields := range map[string]map[string]any{
		"none": {},
		"two":  {"property_id": "prop-1", "tag": "beach"},
	} {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/generate", generateBody(t, fields))
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		if rec.Code != http.StatusBadRequest {
			t.Fatalf("%s scopes: status = %d", name, rec.Code)
		}
	}
}

func TestGenerateRejectsInvalidPeriod(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/generate", generateBody(t, map[string]any{
		"property_id":  "prop-1",
		"period_start": "2026-02-01",
		"period_end":   "2026-01-01",
	}))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestGetStatementWithItems(t *testing.T) {
	handler, agg := newTestHandler(t, nil)
	period := stmtapp.Period{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	created, err := agg.GenerateForProperty(context.Background(), "prop-1", period, billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statements/"+created.ID, nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var payload struct {
		Statement *statement.Statement `json:"statement"`
		Items     []statement.Item     `json:"items"`
	}
	if err := json.NewDecoder(rec.Body).Decode(&payload); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if payload.Statement == nil || payload.Statement.ID != created.ID {
		t.Fatalf("unexpected statement payload: %+v", payload.Statement)
	}
	if len(payload.Items) != 3 {
		t.Fatalf("items = %d", len(payload.Items))
	}
}

func TestGetUnknownStatement(t *testing.T) {
	handler, _ := newTestHandler(t, nil)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statements/stmt-missing", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d", rec.Code)
	}
}

func TestFinalizeEndpoint(t *testing.T) {
	handler, agg := newTestHandler(t, nil)
	period := stmtapp.Period{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	created, err := agg.GenerateForProperty(context.Background(), "prop-1", period, billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/"+created.ID+"/finalize", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	var stmt statement.Statement
	if err := json.NewDecoder(rec.Body).Decode(&stmt); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stmt.Status != statement.StatusGenerated {
		t.Fatalf("status = %s", stmt.Status)
	}
}

func TestRetryEndpointMapsClaimConflict(t *testing.T) {
	retrier := &stubRetrier{err: statement.ErrPayoutClaimed}
	handler, _ := newTestHandler(t, retrier)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/statements/stmt-1/retry", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusConflict {
		t.Fatalf("status = %d", rec.Code)
	}
	if len(retrier.ids) != 1 || retrier.ids[0] != "stmt-1" {
		t.Fatalf("retry calls = %v", retrier.ids)
	}
}

func TestExportPDFEndpoint(t *testing.T) {
	handler, agg := newTestHandler(t, nil)
	period := stmtapp.Period{
		Start: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC),
		End:   time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
	}
	created, err := agg.GenerateForProperty(context.Background(), "prop-1", period, billing.ModeCalendar, false)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/statements/"+created.ID+"/export.pdf", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/pdf" {
		t.Fatalf("content type = %s", ct)
	}
	if rec.Body.Len() == 0 {
		t.Fatal("expected pdf bytes")
	}
}
