// Package priority implements the Priority Engine (spec §4.1): a
// gap-free, duplicate-free total order over live projects, with safe
// moves gated by schedule state.
package priority

import (
	"context"
	"sort"
	"time"

	"github.com/shopforge/mes/internal/catalog"
	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

type Engine struct {
	store store.Store
	cat   *catalog.Catalog
	now   func() time.Time
}

func New(s store.Store, cat *catalog.Catalog) *Engine {
	return &Engine{store: s, cat: cat, now: time.Now}
}

// PartView is one part's derived status within its project (spec §4.1
// get_priorities).
type PartView struct {
	PartNumber      string
	ProductionOrder string
	Status          store.PartStatus
}

// ProjectView is one project with its current priority and its parts'
// derived statuses.
type ProjectView struct {
	Project *store.Project
	Parts   []PartView
}

// GetPriorities returns every live project in ascending priority order,
// each with its active parts' derived statuses.
func (e *Engine) GetPriorities(ctx context.Context) ([]ProjectView, error) {
	projects, err := e.cat.Projects(ctx)
	if err != nil {
		return nil, err
	}
	sort.Slice(projects, func(i, j int) bool { return projects[i].Priority < projects[j].Priority })

	activeParts, err := e.cat.ActiveParts(ctx)
	if err != nil {
		return nil, err
	}

	byProject := make(map[string][]*catalog.ActivePart)
	for _, p := range activeParts {
		byProject[p.Project.ID] = append(byProject[p.Project.ID], p)
	}

	out := make([]ProjectView, 0, len(projects))
	for _, proj := range projects {
		pv := ProjectView{Project: proj}
		for _, ap := range byProject[proj.ID] {
			status, err := e.deriveStatus(ctx, ap.Order)
			if err != nil {
				return nil, err
			}
			pv.Parts = append(pv.Parts, PartView{
				PartNumber:      ap.PartNumber,
				ProductionOrder: ap.Order.ProductionOrder,
				Status:          status,
			})
		}
		out = append(out, pv)
	}
	return out, nil
}

// deriveStatus implements the {Not Scheduled, Scheduled Future,
// Scheduled Today/Soon, In Progress, Past Due, Completed} classification
// from the order's active ScheduleVersions.
func (e *Engine) deriveStatus(ctx context.Context, order *store.Order) (store.PartStatus, error) {
	ops, err := e.store.ListOperations(ctx, order.ID)
	if err != nil {
		return "", err
	}
	if len(ops) == 0 {
		return store.PartNotScheduled, nil
	}

	var svs []*store.ScheduleVersion
	for _, op := range ops {
		psi, err := e.store.GetPSIForOperation(ctx, op.ID)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				continue
			}
			return "", err
		}
		sv, err := e.store.GetActiveScheduleVersion(ctx, psi.ID)
		if err != nil {
			if errs.Is(err, errs.NotFound) {
				continue
			}
			return "", err
		}
		svs = append(svs, sv)
	}
	if len(svs) == 0 {
		return store.PartNotScheduled, nil
	}

	now := e.now()
	allComplete := true
	var earliestStart, latestEnd time.Time
	for i, sv := range svs {
		if sv.RemainingQuantity > 0 {
			allComplete = false
		}
		if i == 0 || sv.PlannedStart.Before(earliestStart) {
			earliestStart = sv.PlannedStart
		}
		if i == 0 || sv.PlannedEnd.After(latestEnd) {
			latestEnd = sv.PlannedEnd
		}
	}
	if allComplete {
		return store.PartCompleted, nil
	}
	if latestEnd.Before(now) {
		return store.PartPastDue, nil
	}
	if !earliestStart.After(now) && !latestEnd.Before(now) {
		return store.PartInProgress, nil
	}
	if earliestStart.Sub(now) <= 24*time.Hour {
		return store.PartScheduledSoon, nil
	}
	return store.PartScheduledFuture, nil
}

// IsChangeable reports whether a part's priority may still be changed
// (spec §4.1: frozen if all its active SVs are completed, or the latest
// planned_end is strictly before now with items incomplete).
func (e *Engine) IsChangeable(ctx context.Context, order *store.Order) (bool, string, error) {
	status, err := e.deriveStatus(ctx, order)
	if err != nil {
		return false, "", err
	}
	switch status {
	case store.PartCompleted:
		return false, "completed", nil
	case store.PartPastDue:
		return false, "past_due", nil
	default:
		return true, "", nil
	}
}

// SetOrderPriority moves the project owning order to newPriority (spec
// §4.1 set_order_priority).
func (e *Engine) SetOrderPriority(ctx context.Context, orderID string, newPriority int) error {
	order, err := e.store.GetOrder(ctx, orderID)
	if err != nil {
		return err
	}
	if changeable, reason, err := e.IsChangeable(ctx, order); err != nil {
		return err
	} else if !changeable {
		observability.PriorityRejectedTotal.WithLabelValues("frozen").Inc()
		return errs.NewFrozenByState("order %s is frozen: %s", orderID, reason)
	}
	return e.reindex(ctx, order.ProjectID, newPriority)
}

// SetPartPriority resolves part_number to its owning order via
// production_order, then delegates to SetOrderPriority (both mutate the
// priority of the owning project, per spec §4.1).
func (e *Engine) SetPartPriority(ctx context.Context, productionOrder string, newPriority int) error {
	order, err := e.store.GetOrderByProductionOrder(ctx, productionOrder)
	if err != nil {
		return err
	}
	return e.SetOrderPriority(ctx, order.ID, newPriority)
}

// reindex implements the dense-permutation-preserving move algorithm of
// spec §4.1: shifting the intervening range by one instead of a full
// resort.
func (e *Engine) reindex(ctx context.Context, projectID string, newPriority int) error {
	projects, err := e.cat.Projects(ctx)
	if err != nil {
		return err
	}
	n := len(projects)
	if newPriority < 1 || newPriority > n {
		observability.PriorityRejectedTotal.WithLabelValues("out_of_range").Inc()
		return errs.NewInvariantViolation("priority %d out of range [1,%d]", newPriority, n)
	}

	var moved *store.Project
	for _, p := range projects {
		if p.ID == projectID {
			moved = p
			break
		}
	}
	if moved == nil {
		return errs.NewNotFound("project %s", projectID)
	}

	old := moved.Priority
	if old == newPriority {
		return nil
	}

	for _, p := range projects {
		if p.ID == projectID {
			continue
		}
		switch {
		case newPriority < old && p.Priority >= newPriority && p.Priority < old:
			if err := e.store.SetProjectPriority(ctx, p.ID, p.Priority+1); err != nil {
				return err
			}
		case newPriority > old && p.Priority > old && p.Priority <= newPriority:
			if err := e.store.SetProjectPriority(ctx, p.ID, p.Priority-1); err != nil {
				return err
			}
		}
	}
	if err := e.store.SetProjectPriority(ctx, projectID, newPriority); err != nil {
		return err
	}
	observability.PriorityReindexTotal.Inc()
	return nil
}
