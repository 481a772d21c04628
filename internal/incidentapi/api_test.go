package incidentapi

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/warden/internal/authmw"
	"github.com/linnemanlabs/warden/internal/incident"
	"github.com/linnemanlabs/warden/internal/incident/memstore"
	"github.com/linnemanlabs/warden/internal/scoring"
)

func newTestRouter(t *testing.T, mw ...func(http.Handler) http.Handler) chi.Router {
	t.Helper()
	return newRouter(mw...)
}

func newRouter(mw ...func(http.Handler) http.Handler) chi.Router {
	h := scoring.NewHeuristic()
	mgr := incident.NewManager(memstore.New(), h, log.Nop(), incident.Hooks{}, nil)
	r := chi.NewRouter()
	New(nil, mgr, h).RegisterRoutes(r, mw...)
	return r
}

func do(t *testing.T, r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, path, http.NoBody)
	} else {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %q: %v", rec.Body.String(), err)
	}
	return v
}

// createIncident posts a valid report and returns the new incident's ID.
func createIncident(t *testing.T, r http.Handler) string {
	t.Helper()
	rec := do(t, r, http.MethodPost, "/api/v1/incidents",
		`{"report":"Person trapped under rubble, bleeding heavily","location":"Main St","urgency_hint":"high"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	return decodeBody[incident.Incident](t, rec).ID
}

//  New / constructor

func TestNew_NilLogger(t *testing.T) {
	t.Parallel()

	h := scoring.NewHeuristic()
	api := New(nil, incident.NewManager(memstore.New(), h, nil, incident.Hooks{}, nil), h)
	if api.logger == nil {
		t.Fatal("New left logger nil; expected Nop logger")
	}
}

func TestNew_MissingDependencies_Panics(t *testing.T) {
	t.Parallel()

	h := scoring.NewHeuristic()
	mgr := incident.NewManager(memstore.New(), h, nil, incident.Hooks{}, nil)
	for name, fn := range map[string]func(){
		"nil service": func() { New(nil, nil, h) },
		"nil scorer":  func() { New(nil, mgr, nil) },
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			defer func() {
				if recover() == nil {
					t.Fatal("expected panic")
				}
			}()
			fn()
		})
	}
}

// Routing

func TestRegisterRoutes(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)

	tests := []struct {
		name       string
		method     string
		path       string
		wantStatus int
	}{
		{"list", http.MethodGet, "/api/v1/incidents", http.StatusOK},
		{"get missing", http.MethodGet, "/api/v1/incidents/nope", http.StatusNotFound},
		{"score wrong method", http.MethodGet, "/api/v1/score", http.StatusMethodNotAllowed},
		{"unknown route", http.MethodGet, "/api/v2/incidents", http.StatusNotFound},
		{"execute wrong method", http.MethodGet, "/api/v1/incidents/x/execute", http.StatusMethodNotAllowed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, tt.method, tt.path, "")
			if rec.Code != tt.wantStatus {
				t.Errorf("status = %d, want %d", rec.Code, tt.wantStatus)
			}
		})
	}
}

// Score

func TestScore(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := do(t, r, http.MethodPost, "/api/v1/score",
		`{"report":"Person trapped under rubble, bleeding heavily","location":"Main St","urgency_hint":"high"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	got := decodeBody[scoreResponse](t, rec)
	if got.SuggestedPriority != scoring.P1 {
		t.Errorf("priority = %q, want P1", got.SuggestedPriority)
	}
	if got.Confidence != 0.95 {
		t.Errorf("confidence = %v, want 0.95", got.Confidence)
	}
	if !got.RequiresHumanApproval {
		t.Error("requires_human_approval must always be true")
	}

	// scoring never creates an incident
	list := decodeBody[[]incident.Incident](t, do(t, r, http.MethodGet, "/api/v1/incidents", ""))
	if len(list) != 0 {
		t.Errorf("incidents = %d, want 0", len(list))
	}
}

func TestScore_Validation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)

	tests := []struct {
		name       string
		body       string
		wantStatus int
		wantFields []string
	}{
		{"bad json", `{"report":`, http.StatusBadRequest, nil},
		{"empty body", "", http.StatusUnprocessableEntity, []string{"report", "location"}},
		{"short report", `{"report":"help","location":"Main St"}`, http.StatusUnprocessableEntity, []string{"report"}},
		{"short location", `{"report":"flooding in the basement","location":"x"}`, http.StatusUnprocessableEntity, []string{"location"}},
		{"bad hint", `{"report":"flooding in the basement","location":"Main St","urgency_hint":"urgent"}`, http.StatusUnprocessableEntity, []string{"urgency_hint"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, "/api/v1/score", tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			body := decodeBody[errorBody](t, rec)
			for _, f := range tt.wantFields {
				if _, ok := body.Details[f]; !ok {
					t.Errorf("details missing %q: %v", f, body.Details)
				}
			}
		})
	}
}

// Lifecycle

func TestCreateAndGet(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	rec := do(t, r, http.MethodPost, "/api/v1/incidents",
		`{"report":"Person trapped under rubble, bleeding heavily","location":"Main St","urgency_hint":"high"}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", rec.Code, rec.Body.String())
	}
	inc := decodeBody[incident.Incident](t, rec)
	if inc.Status != incident.StatusNeedsHumanReview {
		t.Errorf("status = %q, want needs_human_review", inc.Status)
	}
	if loc := rec.Header().Get("Location"); loc != "/api/v1/incidents/"+inc.ID {
		t.Errorf("Location = %q", loc)
	}
	if strings.Contains(rec.Body.String(), "final_priority") {
		t.Error("final_priority must be absent before approval")
	}

	rec = do(t, r, http.MethodGet, "/api/v1/incidents/"+inc.ID, "")
	if rec.Code != http.StatusOK {
		t.Fatalf("get status = %d", rec.Code)
	}
	detail := decodeBody[detailResponse](t, rec)
	if detail.Incident.ID != inc.ID {
		t.Errorf("ID = %q, want %q", detail.Incident.ID, inc.ID)
	}
	if len(detail.Events) != 1 || detail.Events[0].Actor != incident.DefaultActor {
		t.Errorf("events = %+v", detail.Events)
	}
}

func TestReviewFlow(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	id := createIncident(t, r)
	base := "/api/v1/incidents/" + id

	rec := do(t, r, http.MethodPost, base+"/review", `{"decision":"approve","actor":"alice","reason":"confirmed","final_priority":"P1"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d, body = %s", rec.Code, rec.Body.String())
	}
	tr := decodeBody[transitionResponse](t, rec)
	if tr.Incident.Status != incident.StatusApproved {
		t.Errorf("status = %q, want approved", tr.Incident.Status)
	}
	if tr.Incident.FinalPriority == nil || *tr.Incident.FinalPriority != scoring.P1 {
		t.Errorf("final priority = %v, want P1", tr.Incident.FinalPriority)
	}
	if tr.Event.From != incident.StatusNeedsHumanReview || tr.Event.To != incident.StatusApproved {
		t.Errorf("event = %s -> %s", tr.Event.From, tr.Event.To)
	}

	// second review conflicts and carries the attempted edge
	rec = do(t, r, http.MethodPost, base+"/review", `{"decision":"reject","actor":"bob","reason":"second look"}`)
	if rec.Code != http.StatusConflict {
		t.Fatalf("second review status = %d, want 409", rec.Code)
	}
	eb := decodeBody[errorBody](t, rec)
	if eb.Code != "invalid_transition" {
		t.Errorf("code = %q", eb.Code)
	}
	if eb.Details["from"] != "approved" || eb.Details["to"] != "rejected" {
		t.Errorf("details = %v", eb.Details)
	}

	rec = do(t, r, http.MethodPost, base+"/execute", `{"actor":"dispatch"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("execute status = %d, body = %s", rec.Code, rec.Body.String())
	}
	tr = decodeBody[transitionResponse](t, rec)
	if tr.Event.Reason != incident.ReasonExecuted {
		t.Errorf("reason = %q", tr.Event.Reason)
	}

	detail := decodeBody[detailResponse](t, do(t, r, http.MethodGet, base, ""))
	if detail.Incident.Status != incident.StatusExecuted || len(detail.Events) != 3 {
		t.Errorf("final state = %q with %d events", detail.Incident.Status, len(detail.Events))
	}
}

func TestRejectReopen(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	id := createIncident(t, r)
	base := "/api/v1/incidents/" + id

	rec := do(t, r, http.MethodPost, base+"/review", `{"decision":"reject","actor":"bob","reason":"prank"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reject status = %d", rec.Code)
	}

	rec = do(t, r, http.MethodPost, base+"/execute", `{"actor":"dispatch"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("execute from rejected status = %d, want 409", rec.Code)
	}

	rec = do(t, r, http.MethodPost, base+"/reopen", `{"actor":"carol","reason":"caller confirmed"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("reopen status = %d, body = %s", rec.Code, rec.Body.String())
	}
	tr := decodeBody[transitionResponse](t, rec)
	if tr.Incident.Status != incident.StatusNeedsHumanReview || tr.Incident.ReviewedBy != "carol" {
		t.Errorf("after reopen: %+v", tr.Incident)
	}

	rec = do(t, r, http.MethodPost, base+"/reopen", `{"actor":"carol","reason":"again"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("reopen from needs_human_review status = %d, want 409", rec.Code)
	}
}

func TestTransitions_Validation(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	id := createIncident(t, r)
	base := "/api/v1/incidents/" + id

	tests := []struct {
		name       string
		path       string
		body       string
		wantStatus int
		wantField  string
	}{
		{"review bad decision", "/review", `{"decision":"maybe","actor":"a","reason":"why"}`, http.StatusUnprocessableEntity, "decision"},
		{"review short reason", "/review", `{"decision":"approve","actor":"a","reason":"ok"}`, http.StatusUnprocessableEntity, "reason"},
		{"review bad priority", "/review", `{"decision":"approve","actor":"a","reason":"fine","final_priority":"P9"}`, http.StatusUnprocessableEntity, "final_priority"},
		{"review no actor", "/review", `{"decision":"approve","reason":"fine"}`, http.StatusUnprocessableEntity, "actor"},
		{"reopen no reason", "/reopen", `{"actor":"a"}`, http.StatusUnprocessableEntity, "reason"},
		{"execute no actor", "/execute", ``, http.StatusUnprocessableEntity, "actor"},
		{"execute bad json", "/execute", `[`, http.StatusBadRequest, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			rec := do(t, r, http.MethodPost, base+tt.path, tt.body)
			if rec.Code != tt.wantStatus {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantStatus, rec.Body.String())
			}
			if tt.wantField == "" {
				return
			}
			if _, ok := decodeBody[errorBody](t, rec).Details[tt.wantField]; !ok {
				t.Errorf("details missing %q", tt.wantField)
			}
		})
	}

	detail := decodeBody[detailResponse](t, do(t, r, http.MethodGet, base, ""))
	if detail.Incident.Status != incident.StatusNeedsHumanReview || len(detail.Events) != 1 {
		t.Errorf("rejected requests changed state: %q, %d events", detail.Incident.Status, len(detail.Events))
	}
}

func TestTransitions_NotFound(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	for _, p := range []string{"/review", "/reopen", "/execute"} {
		rec := do(t, r, http.MethodPost, "/api/v1/incidents/ghost"+p, `{"decision":"approve","actor":"a","reason":"because"}`)
		if rec.Code != http.StatusNotFound {
			t.Errorf("%s status = %d, want 404", p, rec.Code)
		}
	}
}

func TestList_Filter(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t)
	a := createIncident(t, r)
	b := createIncident(t, r)
	do(t, r, http.MethodPost, "/api/v1/incidents/"+a+"/review", `{"decision":"reject","actor":"bob","reason":"dup"}`)

	all := decodeBody[[]incident.Incident](t, do(t, r, http.MethodGet, "/api/v1/incidents", ""))
	if len(all) != 2 || all[0].ID != a || all[1].ID != b {
		t.Errorf("all = %+v", all)
	}

	rejected := decodeBody[[]incident.Incident](t, do(t, r, http.MethodGet, "/api/v1/incidents?status=rejected", ""))
	if len(rejected) != 1 || rejected[0].ID != a {
		t.Errorf("rejected = %+v", rejected)
	}

	rec := do(t, r, http.MethodGet, "/api/v1/incidents?status=bogus", "")
	if rec.Code != http.StatusUnprocessableEntity {
		t.Errorf("unknown status filter = %d, want 422", rec.Code)
	}
}

// Auth

func TestPrincipalOverridesBodyActor(t *testing.T) {
	t.Parallel()

	r := newTestRouter(t, authmw.Principals(map[string]string{"tok": "alice"}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/incidents",
		strings.NewReader(`{"report":"fire spreading to second floor","location":"Oak Ave","actor":"mallory"}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", rec.Code, rec.Body.String())
	}
	id := decodeBody[incident.Incident](t, rec).ID

	req = httptest.NewRequest(http.MethodPost, "/api/v1/incidents/"+id+"/review",
		strings.NewReader(`{"decision":"approve","actor":"mallory","reason":"looks real"}`))
	req.Header.Set("Authorization", "Bearer tok")
	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("review status = %d, body = %s", rec.Code, rec.Body.String())
	}
	tr := decodeBody[transitionResponse](t, rec)
	if tr.Event.Actor != "alice" || tr.Incident.ReviewedBy != "alice" {
		t.Errorf("actor = %q / reviewed_by = %q, want alice", tr.Event.Actor, tr.Incident.ReviewedBy)
	}

	// unauthenticated requests never reach the handlers
	rec = do(t, r, http.MethodGet, "/api/v1/incidents", "")
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("unauthenticated status = %d, want 401", rec.Code)
	}
}

// Internal errors

type failingService struct{ IncidentService }

func (failingService) List(context.Context, incident.Status) ([]*incident.Incident, error) {
	return nil, errors.New("db down")
}

func (failingService) Execute(context.Context, string, string) (*incident.Incident, *incident.Event, error) {
	return nil, nil, incident.ErrStaleStatus
}

func TestServiceErrors(t *testing.T) {
	t.Parallel()

	r := chi.NewRouter()
	New(nil, failingService{}, scoring.NewHeuristic()).RegisterRoutes(r)

	rec := do(t, r, http.MethodGet, "/api/v1/incidents", "")
	if rec.Code != http.StatusInternalServerError {
		t.Errorf("list status = %d, want 500", rec.Code)
	}
	if strings.Contains(rec.Body.String(), "db down") {
		t.Error("internal error details leaked to client")
	}

	rec = do(t, r, http.MethodPost, "/api/v1/incidents/x/execute", `{"actor":"a"}`)
	if rec.Code != http.StatusConflict {
		t.Errorf("stale status = %d, want 409", rec.Code)
	}
	if decodeBody[errorBody](t, rec).Code != "conflict" {
		t.Error("stale write should use code conflict")
	}
}
