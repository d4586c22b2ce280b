// Package reschedule implements the Reschedule Controller (spec §4.3):
// reruns the scheduler under explicit triggers, treating in-progress
// operations as committed immovable intervals, and records a
// RescheduleRecord of what was superseded and what replaced it. Run
// enforces a hard timeout the way the teacher's Reconciler.Reconcile
// does (control_plane/reconciler.go): a context.WithTimeout derived from
// the caller's (lock-held) context, so a wedged run can never outlive
// the coordination lock that serializes it.
package reschedule

import (
	"context"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/scheduler"
	"github.com/shopforge/mes/internal/store"
)

// Trigger kinds (spec §4.3).
const (
	TriggerDowntimeOpen      = "downtime_open"
	TriggerDowntimeClose     = "downtime_close"
	TriggerPriorityChange    = "priority_change"
	TriggerRawMaterialUnlock = "raw_material_unlock"
	TriggerAdmin             = "admin"
)

const defaultMaxRuntime = 2 * time.Minute

// Controller serializes scheduler reruns behind the caller's
// coordination lock (internal/coordination.ScheduleLock) and archives
// displaced ScheduleVersions.
type Controller struct {
	store      store.Store
	sched      *scheduler.Scheduler
	maxRuntime time.Duration
	now        func() time.Time
}

func New(s store.Store, sched *scheduler.Scheduler) *Controller {
	return &Controller{store: s, sched: sched, maxRuntime: defaultMaxRuntime, now: time.Now}
}

// Trigger runs one reschedule pass. ctx should be the context returned
// by ScheduleLock.HeldContext so a lost lock aborts the run immediately.
func (c *Controller) Trigger(ctx context.Context, kind, by string) (*store.RescheduleRecord, error) {
	runCtx, cancel := context.WithTimeout(ctx, c.maxRuntime)
	defer cancel()

	observability.RescheduleTriggeredTotal.WithLabelValues(kind).Inc()

	activeSVs, err := c.store.ListActiveScheduleVersions(runCtx)
	if err != nil {
		return nil, err
	}

	now := c.now()
	immovable := map[string][]scheduler.Interval{}
	inProgress := map[string]*store.ScheduleVersion{}
	inProgressSVIDs := map[string]bool{}
	var predecessors []string

	for _, sv := range activeSVs {
		psi, err := c.psiFor(runCtx, sv)
		if err != nil {
			log.Printf("reschedule: resolve PSI for SV %s: %v", sv.ID, err)
			continue
		}
		inProg := !sv.PlannedStart.After(now) && sv.PlannedEnd.After(now)
		if inProg {
			inProgress[psi.OperationID] = sv
			inProgressSVIDs[sv.ID] = true
			immovable[psi.MachineID] = append(immovable[psi.MachineID], scheduler.Interval{Start: sv.PlannedStart, End: sv.PlannedEnd})
			continue
		}
		// Future-scheduled work is eligible for displacement.
		predecessors = append(predecessors, sv.ID)
	}

	// Scheduler.Run stages every ScheduleVersion write in memory and only
	// commits once the whole plan is computed within budget, so an error
	// here — including errs.BudgetExceeded on a timed-out run — means
	// nothing was persisted and the previously active SVs are untouched;
	// it is safe to return without writing a RescheduleRecord.
	result, err := c.sched.Run(runCtx, immovable, inProgress)
	if err != nil {
		return nil, err
	}

	// Segments themselves are already persisted by the scheduler run above;
	// the record below only needs which SVs ended up active afterward.
	_ = result

	var successors []string
	newActive, err := c.store.ListActiveScheduleVersions(runCtx)
	if err == nil {
		for _, sv := range newActive {
			if !inProgressSVIDs[sv.ID] {
				successors = append(successors, sv.ID)
			}
		}
	}

	record := &store.RescheduleRecord{
		ID:           uuid.NewString(),
		Trigger:      kind,
		By:           by,
		Timestamp:    now,
		Predecessors: predecessors,
		Successors:   successors,
	}
	if err := c.store.RecordReschedule(runCtx, record); err != nil {
		return nil, err
	}
	observability.RescheduleVersionsCreated.Add(float64(len(successors)))
	return record, nil
}

func (c *Controller) psiFor(ctx context.Context, sv *store.ScheduleVersion) (*store.PlannedScheduleItem, error) {
	// ScheduleVersion only carries PSIID; look it up via the store to get
	// the owning operation/machine for immovable-interval bookkeeping.
	return c.store.GetPSI(ctx, sv.PSIID)
}
