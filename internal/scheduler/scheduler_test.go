package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/shopforge/mes/internal/catalog"
	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/store"
)

func mustParse(t *testing.T, s string) time.Time {
	t.Helper()
	tm, err := time.ParseInLocation("2006-01-02 15:04", s, time.UTC)
	if err != nil {
		t.Fatalf("parse %q: %v", s, err)
	}
	return tm
}

// seedSinglePartMachine builds the fixture for Scenario A: part P1, qty 3,
// ops {10: setup 0.5h cycle 0.25h; 20: setup 1.0h cycle 0.5h}, machine M1 ON.
func seedSinglePartMachine(t *testing.T) (*store.MemoryStore, *catalog.Catalog) {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	mem.PutMachine(&store.Machine{ID: "M1", WorkCenterID: "wc1"})
	_ = mem.UpsertMachineStatus(context.Background(), &store.MachineStatus{MachineID: "M1", StatusCode: store.MachineON})
	mem.PutRawMaterial(&store.RawMaterial{ID: "rm1", Part: "P1", Status: store.RawMaterialAvailable, AvailableFrom: mustParse(t, "2024-12-20 09:00")})
	_ = mem.UpsertProject(context.Background(), &store.Project{ID: "proj1", Name: "Proj1", Priority: 1})
	mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO1", PartNumber: "P1", RequiredQty: 3, ProjectID: "proj1", RawMaterialID: "rm1", TotalOperations: 2})
	mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "M1", SetupTimeHr: 0.5, CycleTimeHr: 0.25})
	mem.PutOperation(&store.Operation{ID: "op20", OrderID: "o1", OpNumber: 20, WorkCenterID: "wc1", MachineID: "M1", SetupTimeHr: 1.0, CycleTimeHr: 0.5})
	mem.PutPartScheduleStatus(&store.PartScheduleStatus{PartNumber: "P1", ProductionOrder: "PO1", Active: true})

	cat := catalog.New(mem, store.DefaultShiftCalendar())
	return mem, cat
}

func TestScenarioA_SinglePartSingleMachine(t *testing.T) {
	mem, cat := seedSinglePartMachine(t)
	sched := New(mem, cat)
	sched.now = func() time.Time { return mustParse(t, "2024-12-20 09:00") }

	result, err := sched.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(result.Parts) != 1 {
		t.Fatalf("expected 1 part, got %d", len(result.Parts))
	}
	pr := result.Parts[0]
	if pr.OperationsDone != 2 {
		t.Fatalf("expected 2 operations done, got %d (skipped=%q)", pr.OperationsDone, pr.SkippedReason)
	}

	var op10Setup, op10Process, op20Setup, op20Process *Segment
	for i := range pr.Segments {
		seg := &pr.Segments[i]
		switch {
		case seg.OpNumber == 10 && seg.Kind == "Setup":
			op10Setup = seg
		case seg.OpNumber == 10 && seg.Kind == "Process":
			op10Process = seg
		case seg.OpNumber == 20 && seg.Kind == "Setup":
			op20Setup = seg
		case seg.OpNumber == 20 && seg.Kind == "Process":
			op20Process = seg
		}
	}
	if op10Setup == nil || !op10Setup.Start.Equal(mustParse(t, "2024-12-20 09:00")) || !op10Setup.End.Equal(mustParse(t, "2024-12-20 09:30")) {
		t.Fatalf("op10 setup wrong: %+v", op10Setup)
	}
	if op10Process == nil || !op10Process.Start.Equal(mustParse(t, "2024-12-20 09:30")) || !op10Process.End.Equal(mustParse(t, "2024-12-20 10:15")) {
		t.Fatalf("op10 process wrong: %+v", op10Process)
	}
	if op20Setup == nil || !op20Setup.Start.Equal(mustParse(t, "2024-12-20 10:15")) || !op20Setup.End.Equal(mustParse(t, "2024-12-20 11:15")) {
		t.Fatalf("op20 setup wrong: %+v", op20Setup)
	}
	if op20Process == nil || !op20Process.End.Equal(mustParse(t, "2024-12-20 12:45")) {
		t.Fatalf("op20 process wrong: %+v", op20Process)
	}
}

func TestScenarioB_ShiftRollover(t *testing.T) {
	shift := store.DefaultShiftCalendar()
	start := mustParse(t, "2024-12-20 16:00")
	segs := splitAcrossShifts(start, 120, shift) // 2h process, crossing 17:00
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d", len(segs))
	}
	if !segs[0].Start.Equal(start) || !segs[0].End.Equal(mustParse(t, "2024-12-20 17:00")) {
		t.Fatalf("segment 1 wrong: %+v", segs[0])
	}
	if !segs[1].Start.Equal(mustParse(t, "2024-12-21 09:00")) || !segs[1].End.Equal(mustParse(t, "2024-12-21 10:00")) {
		t.Fatalf("segment 2 wrong: %+v", segs[1])
	}
	if segs[1].CumulativeAfter != 120 {
		t.Fatalf("expected cumulative 120 at end, got %v", segs[1].CumulativeAfter)
	}
}

func TestScenarioC_GapFitting(t *testing.T) {
	shift := store.DefaultShiftCalendar()
	timelines := NewMachineTimelines()
	timelines.Book("M1", Interval{Start: mustParse(t, "2024-12-20 09:00"), End: mustParse(t, "2024-12-20 10:00")})
	timelines.Book("M1", Interval{Start: mustParse(t, "2024-12-20 14:00"), End: mustParse(t, "2024-12-20 17:00")})

	avail := &store.MachineStatus{MachineID: "M1", StatusCode: store.MachineON}
	start, ok := FindSlot(timelines, avail, 120, mustParse(t, "2024-12-20 09:00"), shift)
	if !ok {
		t.Fatal("expected a slot to be found")
	}
	if !start.Equal(mustParse(t, "2024-12-20 10:00")) {
		t.Fatalf("expected placement at 10:00, got %v", start)
	}
}

func TestScenarioD_MachineOffMidPart(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	mem.PutMachine(&store.Machine{ID: "M1", WorkCenterID: "wc1"})
	mem.PutMachine(&store.Machine{ID: "M2", WorkCenterID: "wc1"})
	_ = mem.UpsertMachineStatus(context.Background(), &store.MachineStatus{MachineID: "M1", StatusCode: store.MachineON})
	_ = mem.UpsertMachineStatus(context.Background(), &store.MachineStatus{MachineID: "M2", StatusCode: store.MachineOFF})
	mem.PutRawMaterial(&store.RawMaterial{ID: "rm1", Part: "P1", Status: store.RawMaterialAvailable, AvailableFrom: mustParse(t, "2024-12-20 09:00")})
	_ = mem.UpsertProject(context.Background(), &store.Project{ID: "proj1", Name: "Proj1", Priority: 1})
	mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO1", PartNumber: "P1", RequiredQty: 3, ProjectID: "proj1", RawMaterialID: "rm1", TotalOperations: 2})
	mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "M1", SetupTimeHr: 0.5, CycleTimeHr: 0.25})
	mem.PutOperation(&store.Operation{ID: "op20", OrderID: "o1", OpNumber: 20, WorkCenterID: "wc1", MachineID: "M2", SetupTimeHr: 1.0, CycleTimeHr: 0.5})
	mem.PutPartScheduleStatus(&store.PartScheduleStatus{PartNumber: "P1", ProductionOrder: "PO1", Active: true})
	cat := catalog.New(mem, store.DefaultShiftCalendar())

	sched := New(mem, cat)
	sched.now = func() time.Time { return mustParse(t, "2024-12-20 09:00") }

	result, err := sched.Run(context.Background(), nil, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	pr := result.Parts[0]
	if !pr.Partial() {
		t.Fatalf("expected a partial completion, got done=%d total=%d", pr.OperationsDone, pr.OperationsTotal)
	}
	if pr.OperationsDone != 1 || pr.OperationsTotal != 2 {
		t.Fatalf("expected 1/2 operations done, got %d/%d", pr.OperationsDone, pr.OperationsTotal)
	}
}

// TestRun_BudgetExceededAbortsWithoutPersisting confirms that a run
// whose context is already past its deadline commits nothing: it must
// return errs.BudgetExceeded rather than a partial Result, and the
// store must show no PSI/ScheduleVersion for the operation that would
// otherwise have been placed.
func TestRun_BudgetExceededAbortsWithoutPersisting(t *testing.T) {
	mem, cat := seedSinglePartMachine(t)
	sched := New(mem, cat)
	sched.now = func() time.Time { return mustParse(t, "2024-12-20 09:00") }

	ctx, cancel := context.WithCancel(context.Background())
	cancel() // expire the run's budget before Run ever checks it

	result, err := sched.Run(ctx, nil, nil)
	if result != nil {
		t.Fatalf("expected a nil result on an aborted run, got %+v", result)
	}
	if err == nil {
		t.Fatal("expected an error on an aborted run")
	}
	if e, ok := errs.As(err); !ok || e.Kind != errs.BudgetExceeded {
		t.Fatalf("expected errs.BudgetExceeded, got %v", err)
	}

	if _, err := mem.GetPSIForOperation(context.Background(), "op10"); err == nil {
		t.Fatal("expected no PSI to have been persisted for op10")
	}
}
