package api

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/mes/internal/reschedule"
	"github.com/shopforge/mes/internal/statuslog"
	"github.com/shopforge/mes/internal/store"
)

type openDowntimeRequest struct {
	MachineID  string    `json:"machine_id"`
	OpenAt     time.Time `json:"open_at"`
	Priority   int       `json:"priority"`
	ReportedBy string    `json:"reported_by"`
}

// handleOpenDowntime serves POST /maintainance/downtimes/.
func (s *Server) handleOpenDowntime(w http.ResponseWriter, r *http.Request) {
	var req openDowntimeRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.MachineID == "" {
		http.Error(w, "machine_id is required", http.StatusBadRequest)
		return
	}
	if req.OpenAt.IsZero() {
		req.OpenAt = time.Now()
	}

	d, err := s.statuslog.OpenDowntime(r.Context(), statuslog.OpenDowntimeInput{
		MachineID:  req.MachineID,
		OpenAt:     req.OpenAt,
		Priority:   req.Priority,
		ReportedBy: req.ReportedBy,
	})
	if err != nil {
		writeError(w, err)
		return
	}

	// A downtime open is one of the explicit reschedule triggers (spec
	// §4.3); fire it the same way the priority/raw-material handlers do.
	s.triggerReschedule(r, reschedule.TriggerDowntimeOpen, req.ReportedBy)
	writeJSON(w, http.StatusCreated, d)
}

// handleListDowntimes serves GET /maintainance/supervisor/downtimes/,
// optionally filtered by ?machine_id=.
func (s *Server) handleListDowntimes(w http.ResponseWriter, r *http.Request) {
	machineID := r.URL.Query().Get("machine_id")
	downtimes, err := s.statuslog.List(r.Context(), machineID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, downtimes)
}

// handleAcknowledgeDowntime serves PUT
// /maintainance/supervisor/downtimes/{id}/acknowledge.
func (s *Server) handleAcknowledgeDowntime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.statuslog.Acknowledge(r.Context(), id, time.Now()); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}

type closeDowntimeRequest struct {
	ActionTaken string `json:"action_taken"`
}

// handleCloseDowntime serves PUT
// /maintainance/supervisor/downtimes/{id}/close.
func (s *Server) handleCloseDowntime(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req closeDowntimeRequest
	_ = json.NewDecoder(r.Body).Decode(&req) // action_taken is optional

	if err := s.statuslog.Close(r.Context(), id, time.Now(), req.ActionTaken); err != nil {
		writeError(w, err)
		return
	}

	// Downtime closure (machine returns) is also an explicit reschedule
	// trigger (spec §4.3).
	s.triggerReschedule(r, reschedule.TriggerDowntimeClose, "")
	w.WriteHeader(http.StatusOK)
}

type machinePerformanceResponse struct {
	MachineID string  `json:"machine_id,omitempty"`
	MTTRSecs  float64 `json:"mttr_seconds"`
	MTBFSecs  float64 `json:"mtbf_seconds"`
	Repairs   int     `json:"repairs"`
	Intervals int     `json:"intervals"`
	OEE       *oeeDTO `json:"oee,omitempty"`
}

type oeeDTO struct {
	Availability     float64 `json:"availability"`
	Performance      float64 `json:"performance"`
	Quality          float64 `json:"quality"`
	OEE              float64 `json:"oee"`
	AvailabilityLoss float64 `json:"availability_loss"`
	PerformanceLoss  float64 `json:"performance_loss"`
	QualityLoss      float64 `json:"quality_loss"`
}

// handleMachinePerformance serves GET /maintainance/metrics/machine-performance
// and GET /maintainance/metrics/machine-performance/{id}: MTTR/MTBF
// always, plus per-shift OEE (spec §4.7) when a single machine is named.
// start_time/end_time query params (RFC3339) default to today's shift
// window from the configured ShiftCalendar.
func (s *Server) handleMachinePerformance(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if id == "" {
		s.handleShopPerformance(w, r)
		return
	}

	downtimes, err := s.statuslog.List(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	m := statuslog.MTTRMTBF(downtimes, time.Now())

	shiftStart, shiftEnd := s.resolveShiftWindow(r)
	oee, err := s.reporting.MachinePerformance(r.Context(), id, shiftStart, shiftEnd)
	if err != nil {
		writeError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, machinePerformanceResponse{
		MachineID: id,
		MTTRSecs:  m.MTTRSeconds,
		MTBFSecs:  m.MTBFSeconds,
		Repairs:   m.Repairs,
		Intervals: m.Intervals,
		OEE: &oeeDTO{
			Availability:     oee.Availability,
			Performance:      oee.Performance,
			Quality:          oee.Quality,
			OEE:              oee.Value,
			AvailabilityLoss: oee.AvailabilityLoss,
			PerformanceLoss:  oee.PerformanceLoss,
			QualityLoss:      oee.QualityLoss,
		},
	})
}

// handleShopPerformance aggregates MTTR/MTBF across every machine that
// has ever had a downtime on record. OEE is inherently per-machine (it
// needs one machine's telemetry and production log), so the shop-wide
// view omits it.
func (s *Server) handleShopPerformance(w http.ResponseWriter, r *http.Request) {
	all, err := s.statuslog.List(r.Context(), "")
	if err != nil {
		writeError(w, err)
		return
	}
	byMachine := make(map[string][]*store.Downtime)
	for _, d := range all {
		byMachine[d.MachineID] = append(byMachine[d.MachineID], d)
	}
	shop := statuslog.ShopWide(byMachine, time.Now())
	writeJSON(w, http.StatusOK, machinePerformanceResponse{
		MTTRSecs:  shop.MTTRSeconds,
		MTBFSecs:  shop.MTBFSeconds,
		Repairs:   shop.TotalRepairs,
		Intervals: shop.TotalIntervals,
	})
}

func (s *Server) resolveShiftWindow(r *http.Request) (time.Time, time.Time) {
	cal := s.cat.ShiftCalendar()
	now := time.Now()
	if startStr := r.URL.Query().Get("start_time"); startStr != "" {
		if start, err := time.Parse(time.RFC3339, startStr); err == nil {
			if endStr := r.URL.Query().Get("end_time"); endStr != "" {
				if end, err := time.Parse(time.RFC3339, endStr); err == nil {
					return start, end
				}
			}
		}
	}
	start := time.Date(now.Year(), now.Month(), now.Day(), cal.StartHour, cal.StartMinute, 0, 0, now.Location())
	end := time.Date(now.Year(), now.Month(), now.Day(), cal.EndHour, cal.EndMinute, 0, 0, now.Location())
	return start, end
}
