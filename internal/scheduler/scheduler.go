// Package scheduler is the heart of the MES core (spec §4.2): it turns
// active parts, routings, raw-material and machine availability, and
// project priorities into a concrete placement of Setup/Process segments
// per operation, then persists one PlannedScheduleItem and a new active
// ScheduleVersion per planned operation.
package scheduler

import (
	"context"
	"fmt"
	"log"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/catalog"
	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

// Segment is one placed Setup or Process entry (spec §4.2 output).
type Segment struct {
	PartNumber      string
	ProductionOrder string
	OpNumber        int
	MachineID       string
	Start, End      time.Time
	Kind            string // "Setup" or "Process"
	Progress        string // e.g. "Setup(12/30 min)", "Process(140/500 pcs)"
}

// PartResult is the outcome of scheduling one active part.
type PartResult struct {
	PartNumber      string
	ProductionOrder string
	Segments        []Segment
	OperationsDone  int
	OperationsTotal int
	SkippedReason   string // raw-material gate, etc. — empty if fully or partially placed
}

func (r PartResult) Partial() bool { return r.OperationsDone > 0 && r.OperationsDone < r.OperationsTotal }

// Result is a full scheduling run's output.
type Result struct {
	Parts []PartResult
}

// pendingWrite is one operation's computed placement, staged in memory
// until the whole run finishes inside its budget. Nothing is persisted
// until every part has been scheduled, so a run that aborts on timeout
// never leaves a half-applied set of ScheduleVersions behind (spec §5,
// §7: an aborted run must leave the prior active SVs untouched).
type pendingWrite struct {
	part     *catalog.ActivePart
	op       *store.Operation
	segments []Segment
}

// activator is implemented by stores that can create+deactivate a
// ScheduleVersion atomically (PostgresStore.WithActivation); stores that
// don't fall back to two sequential calls.
type activator interface {
	WithActivation(ctx context.Context, oldID string, sv *store.ScheduleVersion) error
}

// Scheduler runs the batch placement algorithm of spec §4.2.
type Scheduler struct {
	store store.Store
	cat   *catalog.Catalog
	now   func() time.Time
}

func New(s store.Store, cat *catalog.Catalog) *Scheduler {
	return &Scheduler{store: s, cat: cat, now: time.Now}
}

// Run executes one full scheduling pass over every active part, in
// ascending project priority with stable tie-breaking by insertion
// order, and persists the resulting PSIs/ScheduleVersions. immovable
// seeds the machine timelines with intervals that must not be disturbed;
// inProgress names operations whose active ScheduleVersion must be left
// untouched rather than superseded (spec §4.3: "run the Scheduler from
// now forward treating in-progress operations as committed immovable
// intervals").
func (s *Scheduler) Run(ctx context.Context, immovable map[string][]Interval, inProgress map[string]*store.ScheduleVersion) (*Result, error) {
	start := s.now()
	defer func() {
		observability.SchedulerRunDuration.Observe(time.Since(start).Seconds())
	}()

	shift := s.cat.ShiftCalendar()

	parts, err := s.cat.ActiveParts(ctx)
	if err != nil {
		observability.SchedulerRunsTotal.WithLabelValues("error").Inc()
		return nil, err
	}

	sort.SliceStable(parts, func(i, j int) bool {
		return parts[i].Project.Priority < parts[j].Project.Priority
	})

	timelines := NewMachineTimelines()
	for machineID, intervals := range immovable {
		timelines.Seed(machineID, intervals)
	}

	result := &Result{}
	now := s.now()

	if inProgress == nil {
		inProgress = map[string]*store.ScheduleVersion{}
	}

	var pending []pendingWrite
	for _, part := range parts {
		if ctx.Err() != nil {
			break
		}
		pr, writes := s.schedulePart(ctx, part, timelines, shift, now, inProgress)
		result.Parts = append(result.Parts, pr)
		pending = append(pending, writes...)
		if pr.Partial() {
			observability.SchedulerPartsPartial.Inc()
		}
	}

	// The whole plan was computed purely in memory above; nothing has
	// touched the store yet. If the run's own budget ran out before the
	// plan finished, abort here without committing anything rather than
	// persisting a partially-computed schedule as though it succeeded.
	if err := ctx.Err(); err != nil {
		observability.SchedulerRunsTotal.WithLabelValues("budget_exceeded").Inc()
		return nil, errs.NewBudgetExceeded("scheduler run exceeded its budget after computing %d/%d parts: %v", len(result.Parts), len(parts), err)
	}

	for _, w := range pending {
		if err := s.persistOperation(ctx, w.part, w.op, w.segments); err != nil {
			observability.SchedulerRunsTotal.WithLabelValues("error").Inc()
			return nil, fmt.Errorf("persist operation %s: %w", w.op.ID, err)
		}
		observability.SchedulerPlacedSegments.Add(float64(len(w.segments)))
	}

	observability.SchedulerRunsTotal.WithLabelValues("ok").Inc()
	return result, nil
}

func (s *Scheduler) schedulePart(ctx context.Context, part *catalog.ActivePart, timelines *MachineTimelines, shift store.ShiftCalendar, now time.Time, inProgress map[string]*store.ScheduleVersion) (PartResult, []pendingWrite) {
	pr := PartResult{
		PartNumber:      part.PartNumber,
		ProductionOrder: part.Order.ProductionOrder,
		OperationsTotal: len(part.Operations),
	}

	// Raw-material gate (spec §4.2): skip the whole part if the
	// material isn't Available, or not yet available_from.
	if part.Material.Status != store.RawMaterialAvailable {
		pr.SkippedReason = fmt.Sprintf("raw material %s not available (status=%s)", part.Material.Part, part.Material.Status)
		return pr, nil
	}
	earliest := now
	if part.Material.AvailableFrom.After(earliest) {
		earliest = part.Material.AvailableFrom
	}

	var pending []pendingWrite
	cursor := earliest
	for _, op := range part.Operations {
		if ctx.Err() != nil {
			// Budget ran out mid-part: stop placing further operations and
			// report whatever was placed as partial. Run checks ctx.Err()
			// itself once every part returns, and aborts the whole commit
			// if it's set, so nothing staged here reaches the store anyway.
			break
		}

		if sv, ok := inProgress[op.ID]; ok {
			// Already running: leave its active ScheduleVersion untouched and
			// advance the cursor past it rather than re-placing it.
			cursor = sv.PlannedEnd
			pr.OperationsDone++
			continue
		}

		wc, err := s.cat.Availability(ctx, op.MachineID)
		if err != nil {
			log.Printf("scheduler: availability %s: %v", op.MachineID, err)
			break
		}
		if !wc.WorkCenter.IsSchedulable {
			// Non-schedulable work centers are external gates (spec §3); skip
			// this operation but keep advancing the part's cursor unchanged.
			continue
		}

		setupMinutes := op.SetupTimeHr * 60
		processingMinutes := op.CycleTimeHr * 60 * float64(part.Order.RequiredQty)
		totalMinutes := setupMinutes + processingMinutes

		placeStart, ok := FindSlot(timelines, wc.Status, totalMinutes, cursor, shift)
		if !ok {
			// Machine permanently OFF: this and all following operations for
			// this part are deferred; report partial completion.
			break
		}

		setupSegs := splitAcrossShifts(placeStart, setupMinutes, shift)
		var segments []Segment
		for _, seg := range setupSegs {
			segments = append(segments, Segment{
				PartNumber:      part.PartNumber,
				ProductionOrder: part.Order.ProductionOrder,
				OpNumber:        op.OpNumber,
				MachineID:       op.MachineID,
				Start:           seg.Start,
				End:             seg.End,
				Kind:            "Setup",
				Progress:        fmt.Sprintf("Setup(%.0f/%.0f min)", seg.CumulativeAfter, setupMinutes),
			})
			timelines.Book(op.MachineID, Interval{Start: seg.Start, End: seg.End})
		}

		processStart := placeStart
		if len(setupSegs) > 0 {
			processStart = setupSegs[len(setupSegs)-1].End
		}
		processSegs := splitAcrossShifts(processStart, processingMinutes, shift)
		qty := part.Order.RequiredQty
		for idx, seg := range processSegs {
			// Open Question (spec §9) resolved: pieces_today is floor-
			// truncated per segment to preserve monotonicity, except the
			// final segment which is forced to the full quantity so
			// rounding never leaves a fractional piece unaccounted for.
			var pieces int
			if idx == len(processSegs)-1 {
				pieces = qty
			} else {
				fraction := 0.0
				if processingMinutes > 0 {
					fraction = seg.CumulativeAfter / processingMinutes
				}
				pieces = int(fraction * float64(qty))
			}
			segments = append(segments, Segment{
				PartNumber:      part.PartNumber,
				ProductionOrder: part.Order.ProductionOrder,
				OpNumber:        op.OpNumber,
				MachineID:       op.MachineID,
				Start:           seg.Start,
				End:             seg.End,
				Kind:            "Process",
				Progress:        fmt.Sprintf("Process(%d/%d pcs)", pieces, qty),
			})
			timelines.Book(op.MachineID, Interval{Start: seg.Start, End: seg.End})
		}

		pr.Segments = append(pr.Segments, segments...)
		pr.OperationsDone++

		if len(processSegs) > 0 {
			cursor = processSegs[len(processSegs)-1].End
		} else if len(setupSegs) > 0 {
			cursor = setupSegs[len(setupSegs)-1].End
		}

		pending = append(pending, pendingWrite{part: part, op: op, segments: segments})
	}

	return pr, pending
}

// persistOperation creates a PSI (if absent) and a new active
// ScheduleVersion for the operation's leading segment window, flipping
// any prior active SV for the same PSI (spec §4.2 "Persistence").
func (s *Scheduler) persistOperation(ctx context.Context, part *catalog.ActivePart, op *store.Operation, segments []Segment) error {
	if len(segments) == 0 {
		return nil
	}
	psi, err := s.store.GetPSIForOperation(ctx, op.ID)
	if err != nil {
		psi = &store.PlannedScheduleItem{
			ID:            uuid.NewString(),
			OrderID:       part.Order.ID,
			OperationID:   op.ID,
			MachineID:     op.MachineID,
			TotalQuantity: part.Order.RequiredQty,
		}
		if uerr := s.store.UpsertPSI(ctx, psi); uerr != nil {
			return uerr
		}
	}

	versionNo, err := s.store.MaxVersionNo(ctx, psi.ID)
	if err != nil {
		return err
	}

	var oldID string
	if old, err := s.store.GetActiveScheduleVersion(ctx, psi.ID); err == nil {
		oldID = old.ID
	}

	sv := &store.ScheduleVersion{
		ID:                uuid.NewString(),
		PSIID:             psi.ID,
		VersionNo:         versionNo + 1,
		IsActive:          true,
		PlannedStart:      segments[0].Start,
		PlannedEnd:        segments[len(segments)-1].End,
		PlannedQuantity:   psi.TotalQuantity,
		CompletedQuantity: 0,
		RemainingQuantity: psi.TotalQuantity,
		CreatedAt:         s.now(),
	}

	if a, ok := s.store.(activator); ok {
		return a.WithActivation(ctx, oldID, sv)
	}
	if oldID != "" {
		if err := s.store.DeactivateScheduleVersion(ctx, oldID); err != nil {
			return err
		}
	}
	return s.store.CreateScheduleVersion(ctx, sv)
}
