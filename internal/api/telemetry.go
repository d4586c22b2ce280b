package api

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/broadcast"
	"github.com/shopforge/mes/internal/detect"
	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/store"
)

const heartbeatInterval = 15 * time.Second

func (s *Server) snapshotStatus(ctx context.Context) (interface{}, error) {
	return s.telemetry.LiveSnapshots(ctx)
}

func (s *Server) snapshotParameters(ctx context.Context) (interface{}, error) {
	return s.telemetry.LiveSnapshots(ctx)
}

func (s *Server) snapshotEnergy(ctx context.Context) (interface{}, error) {
	return s.telemetry.LiveShiftwiseEnergy(ctx)
}

// handleStream returns a handler that serves one broadcast topic as an
// SSE stream: a snapshot frame on connect, then whatever the detector
// publishes (spec §4.5 "initial full snapshot before any incremental
// updates"). Grounded on the teacher's MetricsHub.Run loop, adapted from
// a WebSocket write pump to a push-only SSE body writer.
func (s *Server) handleStream(topic string, snapshot func(context.Context) (interface{}, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.serveStream(w, r, topic, snapshot, nil)
	}
}

// serveStream drains sub events to w as SSE frames until the client
// disconnects. If filter is non-nil, events are narrowed (and possibly
// dropped entirely) before marshaling — used by the per-machine streams
// that ride a global topic.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request, topic string, snapshot func(context.Context) (interface{}, error), filter func(broadcast.Event) (broadcast.Event, bool)) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	snap, err := snapshot(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	subscriberID := uuid.NewString()
	sub := s.hub.Subscribe(topic, subscriberID, snap)
	defer s.hub.Unsubscribe(topic, subscriberID)

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			if _, err := w.Write([]byte(": heartbeat\n\n")); err != nil {
				return
			}
			flusher.Flush()
		case <-sub.Notify():
			for _, e := range sub.Drain() {
				if filter != nil {
					var keep bool
					e, keep = filter(e)
					if !keep {
						continue
					}
				}
				frame, err := broadcast.MarshalEvent(e)
				if err != nil {
					continue
				}
				if _, err := w.Write(frame); err != nil {
					return
				}
				flusher.Flush()
			}
		}
	}
}

// handleMachineParametersStream serves GET
// /energy-monitoring/machine/{id}/parameters-stream: the global
// parameters topic, narrowed to one machine's rows.
func (s *Server) handleMachineParametersStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	s.serveStream(w, r, detect.TopicParameters, func(ctx context.Context) (interface{}, error) {
		rows, err := s.telemetry.LiveSnapshots(ctx)
		if err != nil {
			return nil, err
		}
		return filterLiveByMachine(rows, id), nil
	}, filterEventByMachine(id))
}

// handleMachineHistoryStream serves GET
// /energy-monitoring/machine/{id}/parameter/{name}/history-stream: the
// per-machine rolling 30-minute window topic internal/detect maintains.
// {name} selects which numeric field the client renders client-side; the
// detector always republishes the whole row per spec §4.4 so a newly
// joined subscriber needs no back-fill.
func (s *Server) handleMachineHistoryStream(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	since := time.Now().Add(-30 * time.Minute)
	s.serveStream(w, r, detect.TopicHistoryPrefix+id, func(ctx context.Context) (interface{}, error) {
		return s.telemetry.HistoryWindow(ctx, id, since)
	}, nil)
}

func filterLiveByMachine(rows []*store.TelemetrySnapshotLive, machineID string) []*store.TelemetrySnapshotLive {
	out := make([]*store.TelemetrySnapshotLive, 0, 1)
	for _, row := range rows {
		if row.MachineID == machineID {
			out = append(out, row)
		}
	}
	return out
}

func filterEventByMachine(machineID string) func(broadcast.Event) (broadcast.Event, bool) {
	return func(e broadcast.Event) (broadcast.Event, bool) {
		switch data := e.Data.(type) {
		case []*store.TelemetrySnapshotLive:
			filtered := filterLiveByMachine(data, machineID)
			if len(filtered) == 0 {
				return e, false
			}
			e.Data = filtered
			return e, true
		default:
			return e, true
		}
	}
}

// handleHistoryRange serves GET
// /energy-monitoring/machine/{id}/parameter/{name}/history?start_time&end_time
// (spec §6): returns data_points plus summary statistics, rejecting
// ranges over 7 days.
func (s *Server) handleHistoryRange(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")

	startStr := r.URL.Query().Get("start_time")
	endStr := r.URL.Query().Get("end_time")
	if startStr == "" || endStr == "" {
		http.Error(w, "start_time and end_time are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		http.Error(w, "start_time must be RFC3339", http.StatusBadRequest)
		return
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		http.Error(w, "end_time must be RFC3339", http.StatusBadRequest)
		return
	}

	result, err := s.telemetry.HistoryRange(r.Context(), id, start, end)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"data_points": result.DataPoints,
		"summary":     result.Summary,
	})
}

type ingestParametersRequest struct {
	MachineID  string    `json:"machine_id"`
	Timestamp  time.Time `json:"timestamp"`
	Voltage    float64   `json:"voltage"`
	Current    float64   `json:"current"`
	PowerKW    float64   `json:"power_kw"`
	OpMode     string    `json:"op_mode"`
	ProgStatus string    `json:"prog_status"`
	PartCount  int       `json:"part_count"`
	JobStatus  string    `json:"job_status"`
}

// handleIngestParameters serves POST
// /energy-monitoring/ingest/parameters, the collector's write path.
func (s *Server) handleIngestParameters(w http.ResponseWriter, r *http.Request) {
	var req ingestParametersRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MachineID == "" {
		http.Error(w, "machine_id is required", http.StatusBadRequest)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}

	snap := &store.TelemetrySnapshotLive{
		MachineID:  req.MachineID,
		Timestamp:  req.Timestamp,
		Voltage:    req.Voltage,
		Current:    req.Current,
		PowerKW:    req.PowerKW,
		OpMode:     req.OpMode,
		ProgStatus: req.ProgStatus,
		PartCount:  req.PartCount,
		JobStatus:  req.JobStatus,
	}
	if err := s.telemetry.PutSnapshot(r.Context(), snap); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

type ingestShiftwiseEnergyRequest struct {
	MachineID string    `json:"machine_id"`
	Timestamp time.Time `json:"timestamp"`
	Shift1    float64   `json:"shift1"`
	Shift2    float64   `json:"shift2"`
	Shift3    float64   `json:"shift3"`
	Total     float64   `json:"total"`
}

// handleIngestShiftwiseEnergy serves POST
// /energy-monitoring/ingest/shiftwise-energy.
func (s *Server) handleIngestShiftwiseEnergy(w http.ResponseWriter, r *http.Request) {
	var req ingestShiftwiseEnergyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MachineID == "" {
		http.Error(w, "machine_id is required", http.StatusBadRequest)
		return
	}
	if req.Timestamp.IsZero() {
		req.Timestamp = time.Now()
	}
	if req.Total < 0 {
		writeError(w, errs.NewInvariantViolation("shiftwise energy totals must be non-negative"))
		return
	}

	e := &store.ShiftwiseEnergy{
		MachineID: req.MachineID,
		Timestamp: req.Timestamp,
		Shift1:    req.Shift1,
		Shift2:    req.Shift2,
		Shift3:    req.Shift3,
		Total:     req.Total,
	}
	if err := s.telemetry.PutShiftwiseEnergy(r.Context(), e); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}
