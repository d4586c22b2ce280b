package api

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/shopforge/mes/internal/auth"
	"github.com/shopforge/mes/internal/store"
)

func TestHandleIngestParameters_RequiresMachineID(t *testing.T) {
	h := newTestHarness(t)
	body := strings.NewReader(`{}`)
	req := h.authed(t, http.MethodPost, "/energy-monitoring/ingest/parameters", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleIngestParameters_Succeeds(t *testing.T) {
	h := newTestHarness(t)
	body := strings.NewReader(`{"machine_id":"m1","voltage":220,"power_kw":5.5,"op_mode":"AUTO"}`)
	req := h.authed(t, http.MethodPost, "/energy-monitoring/ingest/parameters", body, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusAccepted {
		t.Fatalf("expected 202, got %d: %s", rec.Code, rec.Body.String())
	}

	live, err := h.mem.ListTelemetryLive(context.Background())
	if err != nil {
		t.Fatalf("ListTelemetryLive: %v", err)
	}
	if len(live) != 1 || live[0].MachineID != "m1" {
		t.Fatalf("expected one live snapshot for m1, got %+v", live)
	}
}

func TestHandleHistoryRange_RejectsMissingParams(t *testing.T) {
	h := newTestHarness(t)
	req := h.authed(t, http.MethodGet, "/energy-monitoring/machine/m1/parameter/voltage/history", nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", rec.Code)
	}
}

func TestHandleHistoryRange_ReturnsDataPointsAndSummary(t *testing.T) {
	h := newTestHarness(t)
	now := time.Now().UTC()
	if err := h.mem.AppendTelemetryHistory(context.Background(), &store.TelemetrySnapshotHistory{
		MachineID: "m1", Timestamp: now.Add(-5 * time.Minute), Voltage: 218,
	}); err != nil {
		t.Fatalf("AppendTelemetryHistory: %v", err)
	}

	start := now.Add(-1 * time.Hour).Format(time.RFC3339)
	end := now.Add(1 * time.Hour).Format(time.RFC3339)
	req := h.authed(t, http.MethodGet, "/energy-monitoring/machine/m1/parameter/voltage/history?start_time="+start+"&end_time="+end, nil, auth.RoleOperator)
	rec := httptest.NewRecorder()
	h.srv.Router().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	var resp map[string]json.RawMessage
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if _, ok := resp["data_points"]; !ok {
		t.Fatal("expected data_points key in response")
	}
	if _, ok := resp["summary"]; !ok {
		t.Fatal("expected summary key in response")
	}
}

// TestHandleMachineStatusStream_SendsSnapshotFrame confirms the SSE
// handler writes an initial snapshot frame and that canceling the
// request context unblocks the handler goroutine, the same contract
// net/http/httptest exercises for any streaming handler.
func TestHandleMachineStatusStream_SendsSnapshotFrame(t *testing.T) {
	h := newTestHarness(t)
	h.mem.PutMachine(&store.Machine{ID: "m1", WorkCenterID: "wc1"})

	ctx, cancel := context.WithCancel(context.Background())
	req := httptest.NewRequest(http.MethodGet, "/energy-monitoring/machine-status-stream", nil).WithContext(ctx)
	rec := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		h.srv.Router().ServeHTTP(rec, req)
		close(done)
	}()

	// Give the handler time to write the snapshot frame, then
	// disconnect the way a real client closing its connection would.
	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("handler did not return after context cancellation")
	}

	scanner := bufio.NewScanner(strings.NewReader(rec.Body.String()))
	var sawSnapshot bool
	for scanner.Scan() {
		if strings.HasPrefix(scanner.Text(), "event: snapshot") {
			sawSnapshot = true
		}
	}
	if !sawSnapshot {
		t.Fatalf("expected a snapshot event frame, got body: %q", rec.Body.String())
	}
}
