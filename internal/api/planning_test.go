package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopforge/mes/internal/auth"
	"github.com/shopforge/mes/internal/store"
)

func TestHandleListOrders(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1", RequiredQty: 10})
	h.mem.PutOrder(&store.Order{ID: "o2", ProductionOrder: "PO-2", PartNumber: "P2", RequiredQty: 5})

	req := h.authed(t, http.MethodGet, "/planning/all_orders", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var orders []*store.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &orders); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(orders) != 2 {
		t.Fatalf("expected 2 orders, got %d", len(orders))
	}
}

func TestHandleSearchOrder_FiltersBySubstring(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-ALPHA", PartNumber: "WIDGET"})
	h.mem.PutOrder(&store.Order{ID: "o2", ProductionOrder: "PO-BETA", PartNumber: "GEAR"})

	req := h.authed(t, http.MethodGet, "/planning/search_order?q=widget", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var orders []*store.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &orders); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(orders) != 1 || orders[0].ID != "o1" {
		t.Fatalf("expected only o1 to match, got %+v", orders)
	}
}

func TestHandleCreateOrder_RejectsNegativeQuantity(t *testing.T) {
	h := newTestHarness(t)
	body := strings.NewReader(`{"production_order":"PO-9","part_number":"P9","required_qty":-1}`)
	req := h.authed(t, http.MethodPost, "/planning/create_order", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusUnprocessableEntity && rec.Code != http.StatusBadRequest && rec.Code != http.StatusConflict {
		t.Fatalf("expected a client error for negative quantity, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleCreateOrder_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	body := strings.NewReader(`{"production_order":"PO-9","part_number":"P9","required_qty":20}`)
	req := h.authed(t, http.MethodPost, "/planning/create_order", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var created store.Order
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if created.ID == "" {
		t.Fatal("expected a generated ID")
	}

	got, err := h.mem.GetOrderByProductionOrder(req.Context(), "PO-9")
	if err != nil {
		t.Fatalf("GetOrderByProductionOrder: %v", err)
	}
	if got.RequiredQty != 20 {
		t.Fatalf("expected required_qty 20, got %d", got.RequiredQty)
	}
}

func TestHandleUpdateOrder_MergesFields(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1", RequiredQty: 10, LaunchedQty: 2})

	body := strings.NewReader(`{"required_qty":15,"launched_qty":5}`)
	req := h.authed(t, http.MethodPut, "/planning/update_order/PO-1", body, auth.RoleSupervisor)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	got, err := h.mem.GetOrderByProductionOrder(req.Context(), "PO-1")
	if err != nil {
		t.Fatalf("GetOrderByProductionOrder: %v", err)
	}
	if got.RequiredQty != 15 || got.LaunchedQty != 5 || got.PartNumber != "P1" {
		t.Fatalf("unexpected merged order: %+v", got)
	}
}

func TestHandleUpdateOrder_RequiresSupervisorRole(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1"})

	body := strings.NewReader(`{"required_qty":15}`)
	req := h.authed(t, http.MethodPut, "/planning/update_order/PO-1", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for operator role, got %d", rec.Code)
	}
}

func TestHandleDeleteOrder_RequiresAdminRole(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1"})

	req := h.authed(t, http.MethodDelete, "/planning/orders/o1", nil, auth.RoleSupervisor)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for supervisor role, got %d", rec.Code)
	}

	req = h.authed(t, http.MethodDelete, "/planning/orders/o1", nil, auth.RoleAdmin)
	rec = httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("expected 204 for admin role, got %d: %s", rec.Code, rec.Body.String())
	}
}

func TestHandleUpdateOperation_UpsertsRoutingStep(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1"})

	body := strings.NewReader(`{"work_center_id":"wc1","machine_id":"m1","setup_time_hr":0.5,"cycle_time_hr":0.1}`)
	req := h.authed(t, http.MethodPut, "/planning/operations/PO-1/10", body, auth.RoleSupervisor)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}

	ops, err := h.mem.ListOperations(req.Context(), "o1")
	if err != nil {
		t.Fatalf("ListOperations: %v", err)
	}
	if len(ops) != 1 || ops[0].OpNumber != 10 || ops[0].MachineID != "m1" {
		t.Fatalf("unexpected operations: %+v", ops)
	}
}
