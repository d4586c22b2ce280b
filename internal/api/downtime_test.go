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

func TestHandleOpenDowntime_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})

	body := strings.NewReader(`{"machine_id":"m1","priority":2,"reported_by":"op1"}`)
	req := h.authed(t, http.MethodPost, "/maintainance/downtimes/", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusCreated {
		t.Fatalf("expected 201, got %d: %s", rec.Code, rec.Body.String())
	}
	var d store.Downtime
	if err := json.Unmarshal(rec.Body.Bytes(), &d); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if d.ID == "" || !d.IsOpen() {
		t.Fatalf("expected an open downtime, got %+v", d)
	}
}

func TestHandleOpenDowntime_MissingMachineID(t *testing.T) {
	h := newTestHarness(t)
	body := strings.NewReader(`{"priority":2}`)
	req := h.authed(t, http.MethodPost, "/maintainance/downtimes/", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestDowntimeLifecycle_AcknowledgeThenClose(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})

	createBody := strings.NewReader(`{"machine_id":"m1","reported_by":"op1"}`)
	createReq := h.authed(t, http.MethodPost, "/maintainance/downtimes/", createBody, auth.RoleOperator)
	createRec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(createRec, createReq)
	if createRec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d: %s", createRec.Code, createRec.Body.String())
	}
	var created store.Downtime
	if err := json.Unmarshal(createRec.Body.Bytes(), &created); err != nil {
		t.Fatalf("decode created: %v", err)
	}

	ackReq := h.authed(t, http.MethodPut, "/maintainance/supervisor/downtimes/"+created.ID+"/acknowledge", nil, auth.RoleSupervisor)
	ackRec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(ackRec, ackReq)
	if ackRec.Code != http.StatusOK {
		t.Fatalf("acknowledge: expected 200, got %d: %s", ackRec.Code, ackRec.Body.String())
	}

	closeBody := strings.NewReader(`{"action_taken":"replaced belt"}`)
	closeReq := h.authed(t, http.MethodPut, "/maintainance/supervisor/downtimes/"+created.ID+"/close", closeBody, auth.RoleSupervisor)
	closeRec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(closeRec, closeReq)
	if closeRec.Code != http.StatusOK {
		t.Fatalf("close: expected 200, got %d: %s", closeRec.Code, closeRec.Body.String())
	}

	listReq := h.authed(t, http.MethodGet, "/maintainance/supervisor/downtimes/?machine_id=m1", nil, auth.RoleOperator)
	listRec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(listRec, listReq)
	var downtimes []*store.Downtime
	if err := json.Unmarshal(listRec.Body.Bytes(), &downtimes); err != nil {
		t.Fatalf("decode list: %v", err)
	}
	if len(downtimes) != 1 || downtimes[0].IsOpen() {
		t.Fatalf("expected 1 closed downtime, got %+v", downtimes)
	}
}

func TestDowntimeCloseAndAcknowledge_RequireSupervisorRole(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})
	d := &store.Downtime{ID: "d1", MachineID: "m1"}
	if err := h.mem.OpenDowntime(nil, d); err != nil {
		t.Fatalf("seed OpenDowntime: %v", err)
	}

	req := h.authed(t, http.MethodPut, "/maintainance/supervisor/downtimes/d1/close", strings.NewReader(`{}`), auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %d", rec.Code)
	}
}

func TestHandleMachinePerformance_ShopWideWithoutID(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})
	d := &store.Downtime{ID: "d1", MachineID: "m1"}
	if err := h.mem.OpenDowntime(nil, d); err != nil {
		t.Fatalf("seed OpenDowntime: %v", err)
	}

	req := h.authed(t, http.MethodGet, "/maintainance/metrics/machine-performance", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp machinePerformanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OEE != nil {
		t.Fatalf("expected no OEE in shop-wide view, got %+v", resp.OEE)
	}
}

func TestHandleMachinePerformance_PerMachineIncludesOEE(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1"})
	h.mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "m1", CycleTimeHr: 0.1})

	req := h.authed(t, http.MethodGet, "/maintainance/metrics/machine-performance/m1", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp machinePerformanceResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.OEE == nil {
		t.Fatal("expected OEE on per-machine response")
	}
}
