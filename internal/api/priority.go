package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/shopforge/mes/internal/reschedule"
)

// handleGetPriorities serves GET /priority/details.
func (s *Server) handleGetPriorities(w http.ResponseWriter, r *http.Request) {
	views, err := s.priority.GetPriorities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

// handleGetPartPriority serves GET /priority/details/{part}, filtering
// the full projects-with-parts view down to the project that owns part.
func (s *Server) handleGetPartPriority(w http.ResponseWriter, r *http.Request) {
	part := chi.URLParam(r, "part")
	views, err := s.priority.GetPriorities(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	for _, pv := range views {
		for _, p := range pv.Parts {
			if p.PartNumber == part || p.ProductionOrder == part {
				writeJSON(w, http.StatusOK, pv)
				return
			}
		}
	}
	http.Error(w, "part not found", http.StatusNotFound)
}

type updatePartPriorityRequest struct {
	PartNumber  string `json:"part_number"`
	NewPriority int    `json:"new_priority"`
}

// handleUpdatePartPriority serves PUT /priority/update.
func (s *Server) handleUpdatePartPriority(w http.ResponseWriter, r *http.Request) {
	var req updatePartPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.PartNumber == "" {
		http.Error(w, "part_number is required", http.StatusBadRequest)
		return
	}
	if err := s.priority.SetPartPriority(r.Context(), req.PartNumber, req.NewPriority); err != nil {
		writeError(w, err)
		return
	}
	s.triggerReschedule(r, reschedule.TriggerPriorityChange, "")
	w.WriteHeader(http.StatusOK)
}

type updateOrderPriorityRequest struct {
	Priority int `json:"priority"`
}

// handleUpdateOrderPriority serves PUT /priority/order/{id}/priority.
func (s *Server) handleUpdateOrderPriority(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	var req updateOrderPriorityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if err := s.priority.SetOrderPriority(r.Context(), id, req.Priority); err != nil {
		writeError(w, err)
		return
	}
	s.triggerReschedule(r, reschedule.TriggerPriorityChange, "")
	w.WriteHeader(http.StatusOK)
}
