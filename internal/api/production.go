package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/mes/internal/reporting"
)

// reportFunc matches the Reporter.Daily/Weekly/Monthly signature, so one
// handler factory serves all three roll-up endpoints.
type reportFunc func(ctx context.Context, start, end time.Time, partNumber string) (*reporting.ProductionReport, error)

// handleProductionReport serves GET /production/{daily|weekly|monthly}
// (spec §6): ?start_epoch&end_epoch are required, unix seconds;
// ?part_number is an optional filter.
func (s *Server) handleProductionReport(fn reportFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start, end, ok := parseEpochRange(w, r)
		if !ok {
			return
		}
		partNumber := r.URL.Query().Get("part_number")

		report, err := fn(r.Context(), start, end, partNumber)
		if err != nil {
			writeError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, report)
	}
}

func parseEpochRange(w http.ResponseWriter, r *http.Request) (time.Time, time.Time, bool) {
	startStr := r.URL.Query().Get("start_epoch")
	endStr := r.URL.Query().Get("end_epoch")
	if startStr == "" || endStr == "" {
		http.Error(w, "start_epoch and end_epoch are required", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	startEpoch, err := strconv.ParseInt(startStr, 10, 64)
	if err != nil {
		http.Error(w, "start_epoch must be a unix timestamp", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	endEpoch, err := strconv.ParseInt(endStr, 10, 64)
	if err != nil {
		http.Error(w, "end_epoch must be a unix timestamp", http.StatusBadRequest)
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(startEpoch, 0).UTC(), time.Unix(endEpoch, 0).UTC(), true
}

type startSessionRequest struct {
	OperationID string `json:"operation_id"`
	Operator    string `json:"operator"`
}

// handleStartProductionSession serves POST /production/sessions/start, a
// supplement to §6's explicit endpoint list (SPEC_FULL §3, grounded on
// original_source's operator start/stop logging) giving operators
// somewhere to open a session before they can report quantity.
func (s *Server) handleStartProductionSession(w http.ResponseWriter, r *http.Request) {
	var req startSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.OperationID == "" || req.Operator == "" {
		http.Error(w, "operation_id and operator are required", http.StatusBadRequest)
		return
	}
	sess, err := s.production.Start(r.Context(), req.OperationID, req.Operator)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

type stopSessionRequest struct {
	GoodQty     int      `json:"good_qty"`
	BadQty      int      `json:"bad_qty"`
	ReasonCodes []string `json:"reason_codes"`
}

// handleStopProductionSession serves POST /production/sessions/{id}/stop.
func (s *Server) handleStopProductionSession(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req stopSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	entry, err := s.production.Stop(r.Context(), id, req.GoodQty, req.BadQty, req.ReasonCodes)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entry)
}
