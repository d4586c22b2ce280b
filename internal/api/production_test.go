package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/shopforge/mes/internal/auth"
	"github.com/shopforge/mes/internal/reporting"
	"github.com/shopforge/mes/internal/store"
)

func TestHandleProductionReport_RequiresEpochRange(t *testing.T) {
	h := newTestHarness(t)
	req := h.authed(t, http.MethodGet, "/production/daily", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleProductionReport_Daily(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1"})
	h.mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "m1"})

	req := h.authed(t, http.MethodGet, "/production/daily?start_epoch=1700000000&end_epoch=1700100000", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var report reporting.ProductionReport
	if err := json.Unmarshal(rec.Body.Bytes(), &report); err != nil {
		t.Fatalf("decode: %v", err)
	}
}

func TestHandleStartAndStopProductionSession(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})
	h.mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO-1", PartNumber: "P1"})
	h.mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "m1"})

	ctx := context.Background()
	psi := &store.PlannedScheduleItem{ID: "psi1", OrderID: "o1", OperationID: "op10", MachineID: "m1", TotalQuantity: 10}
	if err := h.mem.UpsertPSI(ctx, psi); err != nil {
		t.Fatalf("UpsertPSI: %v", err)
	}
	sv := &store.ScheduleVersion{ID: "sv1", PSIID: psi.ID, VersionNo: 1, IsActive: true, PlannedQuantity: 10, RemainingQuantity: 10}
	if err := h.mem.CreateScheduleVersion(ctx, sv); err != nil {
		t.Fatalf("CreateScheduleVersion: %v", err)
	}

	startBody := strings.NewReader(`{"operation_id":"op10","operator":"op1"}`)
	startReq := h.authed(t, http.MethodPost, "/production/sessions/start", startBody, auth.RoleOperator)
	startRec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(startRec, startReq)
	if startRec.Code != http.StatusCreated {
		t.Fatalf("start: expected 201, got %d: %s", startRec.Code, startRec.Body.String())
	}

	type sessionDTO struct {
		ID string `json:"ID"`
	}
	var raw map[string]interface{}
	if err := json.Unmarshal(startRec.Body.Bytes(), &raw); err != nil {
		t.Fatalf("decode session: %v", err)
	}
	id, _ := raw["ID"].(string)
	if id == "" {
		t.Fatalf("expected a session ID in response, got %v", raw)
	}

	stopBody := strings.NewReader(`{"good_qty":10,"bad_qty":1,"reason_codes":["scrap"]}`)
	stopReq := h.authed(t, http.MethodPost, "/production/sessions/"+id+"/stop", stopBody, auth.RoleOperator)
	stopRec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(stopRec, stopReq)
	if stopRec.Code != http.StatusOK {
		t.Fatalf("stop: expected 200, got %d: %s", stopRec.Code, stopRec.Body.String())
	}
}

func TestHandleStartProductionSession_RequiresFields(t *testing.T) {
	h := newTestHarness(t)
	body := strings.NewReader(`{}`)
	req := h.authed(t, http.MethodPost, "/production/sessions/start", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}
