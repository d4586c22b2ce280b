package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/store"
)

// handleListOrders serves GET /planning/all_orders.
func (s *Server) handleListOrders(w http.ResponseWriter, r *http.Request) {
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orders)
}

// handleSearchOrder serves GET /planning/search_order?q=..., a case
// insensitive substring match over production_order and part_number;
// master-data search logic itself is conventional REST plumbing, so it
// stays a plain linear scan rather than growing an index.
func (s *Server) handleSearchOrder(w http.ResponseWriter, r *http.Request) {
	q := strings.ToLower(r.URL.Query().Get("q"))
	orders, err := s.store.ListOrders(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	if q == "" {
		writeJSON(w, http.StatusOK, orders)
		return
	}
	out := make([]*store.Order, 0, len(orders))
	for _, o := range orders {
		if strings.Contains(strings.ToLower(o.ProductionOrder), q) || strings.Contains(strings.ToLower(o.PartNumber), q) {
			out = append(out, o)
		}
	}
	writeJSON(w, http.StatusOK, out)
}

type createOrderRequest struct {
	ProductionOrder string `json:"production_order"`
	PartNumber      string `json:"part_number"`
	RequiredQty     int    `json:"required_qty"`
	LaunchedQty     int    `json:"launched_qty"`
	ProjectID       string `json:"project_id"`
	RawMaterialID   string `json:"raw_material_id"`
	TotalOperations int    `json:"total_operations"`
}

// handleCreateOrder serves POST /planning/create_order.
func (s *Server) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.ProductionOrder == "" || req.PartNumber == "" {
		http.Error(w, "production_order and part_number are required", http.StatusBadRequest)
		return
	}
	if req.RequiredQty < 0 || req.LaunchedQty < 0 {
		writeError(w, errs.NewInvariantViolation("order quantities must be non-negative"))
		return
	}

	order := &store.Order{
		ID:              uuid.NewString(),
		ProductionOrder: req.ProductionOrder,
		PartNumber:      req.PartNumber,
		RequiredQty:     req.RequiredQty,
		LaunchedQty:     req.LaunchedQty,
		ProjectID:       req.ProjectID,
		RawMaterialID:   req.RawMaterialID,
		TotalOperations: req.TotalOperations,
	}
	if err := s.store.CreateOrder(r.Context(), order); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, order)
}

// handleUpdateOrder serves PUT /planning/update_order/{po}.
func (s *Server) handleUpdateOrder(w http.ResponseWriter, r *http.Request) {
	po := chi.URLParam(r, "po")
	existing, err := s.store.GetOrderByProductionOrder(r.Context(), po)
	if err != nil {
		writeError(w, err)
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.RequiredQty < 0 || req.LaunchedQty < 0 {
		writeError(w, errs.NewInvariantViolation("order quantities must be non-negative"))
		return
	}

	updated := *existing
	if req.ProductionOrder != "" {
		updated.ProductionOrder = req.ProductionOrder
	}
	if req.PartNumber != "" {
		updated.PartNumber = req.PartNumber
	}
	updated.RequiredQty = req.RequiredQty
	updated.LaunchedQty = req.LaunchedQty
	if req.ProjectID != "" {
		updated.ProjectID = req.ProjectID
	}
	if req.RawMaterialID != "" {
		updated.RawMaterialID = req.RawMaterialID
	}
	if req.TotalOperations != 0 {
		updated.TotalOperations = req.TotalOperations
	}

	if err := s.store.UpdateOrder(r.Context(), &updated); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, &updated)
}

// handleDeleteOrder serves DELETE /planning/orders/{id}.
func (s *Server) handleDeleteOrder(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.DeleteOrder(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type updateOperationRequest struct {
	WorkCenterID string  `json:"work_center_id"`
	MachineID    string  `json:"machine_id"`
	SetupTimeHr  float64 `json:"setup_time_hr"`
	CycleTimeHr  float64 `json:"cycle_time_hr"`
}

// handleUpdateOperation serves PUT /planning/operations/{part}/{op_no},
// upserting the routing step at op_no for the order identified by part
// (a production_order, per the spec's path naming of operations by
// part+op_no rather than by operation ID).
func (s *Server) handleUpdateOperation(w http.ResponseWriter, r *http.Request) {
	po := chi.URLParam(r, "part")
	opNoStr := chi.URLParam(r, "op_no")
	opNo, err := strconv.Atoi(opNoStr)
	if err != nil {
		http.Error(w, "op_no must be an integer", http.StatusBadRequest)
		return
	}

	order, err := s.store.GetOrderByProductionOrder(r.Context(), po)
	if err != nil {
		writeError(w, err)
		return
	}

	var req updateOperationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if req.SetupTimeHr < 0 || req.CycleTimeHr < 0 {
		writeError(w, errs.NewInvariantViolation("operation times must be non-negative"))
		return
	}

	op := &store.Operation{
		ID:           uuid.NewString(),
		OrderID:      order.ID,
		OpNumber:     opNo,
		WorkCenterID: req.WorkCenterID,
		MachineID:    req.MachineID,
		SetupTimeHr:  req.SetupTimeHr,
		CycleTimeHr:  req.CycleTimeHr,
	}
	if err := s.store.UpsertOperation(r.Context(), op); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, op)
}
