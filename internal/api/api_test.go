package api

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/shopforge/mes/internal/auth"
	"github.com/shopforge/mes/internal/broadcast"
	"github.com/shopforge/mes/internal/catalog"
	"github.com/shopforge/mes/internal/idempotency"
	"github.com/shopforge/mes/internal/priority"
	"github.com/shopforge/mes/internal/productionlog"
	"github.com/shopforge/mes/internal/reporting"
	"github.com/shopforge/mes/internal/statuslog"
	"github.com/shopforge/mes/internal/store"
	"github.com/shopforge/mes/internal/telemetry"
)

// testHarness bundles a Server with direct access to the in-memory
// store and an auth.Issuer so tests can mint tokens without going
// through a login endpoint (there isn't one: auth provisioning is
// conventional ops tooling, out of this surface's scope).
type testHarness struct {
	srv    *Server
	mem    *store.MemoryStore
	issuer *auth.Issuer
}

func newTestHarness(t *testing.T) *testHarness {
	t.Helper()
	mem := store.NewMemoryStore()
	cat := catalog.New(mem, store.DefaultShiftCalendar())
	pr := priority.New(mem, cat)
	sl := statuslog.New(mem)
	tl := telemetry.New(mem)
	pl := productionlog.New(mem)
	rp := reporting.New(mem, cat)
	hub := broadcast.NewHub()
	issuer := auth.NewIssuer()
	idem := idempotency.NewStore(nil)

	srv := New(mem, cat, pr, sl, tl, pl, rp, hub, nil, nil, issuer, idem)
	return &testHarness{srv: srv, mem: mem, issuer: issuer}
}

func (h *testHarness) token(t *testing.T, role string) string {
	t.Helper()
	tok, err := h.issuer.Generate("tester", role)
	if err != nil {
		t.Fatalf("Generate token: %v", err)
	}
	return tok
}

// authed builds a request carrying a valid Bearer token for role. body
// may be nil.
func (h *testHarness) authed(t *testing.T, method, path string, body io.Reader, role string) *http.Request {
	t.Helper()
	req := httptest.NewRequest(method, path, body)
	req.Header.Set("Authorization", "Bearer "+h.token(t, role))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func TestHealthz(t *testing.T) {
	h := newTestHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestPlanning_MissingAuth_Returns401(t *testing.T) {
	h := newTestHarness(t)
	req := httptest.NewRequest(http.MethodGet, "/planning/all_orders", nil)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
