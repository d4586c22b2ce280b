package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopforge/mes/internal/auth"
	"github.com/shopforge/mes/internal/priority"
	"github.com/shopforge/mes/internal/store"
)

func seedPriorityFixture(t *testing.T, h *testHarness) {
	t.Helper()
	h.mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})
	if err := h.mem.UpsertProject(context.Background(), &store.Project{ID: "proj1", Priority: 1}); err != nil {
		t.Fatalf("UpsertProject: %v", err)
	}
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1", ProjectID: "proj1"})
	h.mem.PutPartScheduleStatus(&store.PartScheduleStatus{PartNumber: "P1", ProductionOrder: "PO-1", Active: true})
}

func TestHandleGetPriorities(t *testing.T) {
	h := newTestHarness(t)
	seedPriorityFixture(t, h)

	req := h.authed(t, http.MethodGet, "/priority/details", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var views []priority.ProjectView
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 project view, got %d", len(views))
	}
}

func TestHandleGetPartPriority_FindsOwningProject(t *testing.T) {
	h := newTestHarness(t)
	seedPriorityFixture(t, h)

	req := h.authed(t, http.MethodGet, "/priority/details/P1", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleGetPartPriority_UnknownPartReturns404(t *testing.T) {
	h := newTestHarness(t)
	seedPriorityFixture(t, h)

	req := h.authed(t, http.MethodGet, "/priority/details/NOPE", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestHandleUpdatePartPriority_RequiresSupervisorRole(t *testing.T) {
	h := newTestHarness(t)
	seedPriorityFixture(t, h)

	body := strings.NewReader(`{"part_number":"P1","new_priority":1}`)
	req := h.authed(t, http.MethodPut, "/priority/update", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator role, got %d", rec.Code)
	}
}

func TestHandleUpdatePartPriority_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	seedPriorityFixture(t, h)

	body := strings.NewReader(`{"part_number":"PO-1","new_priority":1}`)
	req := h.authed(t, http.MethodPut, "/priority/update", body, auth.RoleSupervisor)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleUpdateOrderPriority_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	seedPriorityFixture(t, h)

	body := strings.NewReader(`{"priority":1}`)
	req := h.authed(t, http.MethodPut, "/priority/order/o1/priority", body, auth.RoleAdmin)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
}
