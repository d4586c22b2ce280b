package reporting

import (
	"context"
	"testing"
	"time"

	"github.com/shopforge/mes/internal/catalog"
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

func seedTwoDaysProduction(t *testing.T) *Reporter {
	t.Helper()
	mem := store.NewMemoryStore()
	mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	mem.PutMachine(&store.Machine{ID: "M1", WorkCenterID: "wc1"})
	mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO1", PartNumber: "P1", RequiredQty: 10})
	mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "M1", CycleTimeHr: 0.1})

	psi := &store.PlannedScheduleItem{ID: "psi1", OrderID: "o1", OperationID: "op10", MachineID: "M1", TotalQuantity: 10}
	if err := mem.UpsertPSI(context.Background(), psi); err != nil {
		t.Fatalf("UpsertPSI: %v", err)
	}
	sv1 := &store.ScheduleVersion{
		ID: "sv1", PSIID: psi.ID, VersionNo: 1, IsActive: true,
		PlannedStart: mustParse(t, "2024-12-20 09:00"), PlannedEnd: mustParse(t, "2024-12-20 10:00"),
		PlannedQuantity: 10, CompletedQuantity: 4, RemainingQuantity: 6,
	}
	if err := mem.CreateScheduleVersion(context.Background(), sv1); err != nil {
		t.Fatalf("CreateScheduleVersion: %v", err)
	}

	psi2 := &store.PlannedScheduleItem{ID: "psi2", OrderID: "o1", OperationID: "op20", MachineID: "M1", TotalQuantity: 5}
	if err := mem.UpsertPSI(context.Background(), psi2); err != nil {
		t.Fatalf("UpsertPSI: %v", err)
	}
	sv2 := &store.ScheduleVersion{
		ID: "sv2", PSIID: psi2.ID, VersionNo: 1, IsActive: true,
		PlannedStart: mustParse(t, "2024-12-21 09:00"), PlannedEnd: mustParse(t, "2024-12-21 10:00"),
		PlannedQuantity: 5, CompletedQuantity: 5, RemainingQuantity: 0,
	}
	if err := mem.CreateScheduleVersion(context.Background(), sv2); err != nil {
		t.Fatalf("CreateScheduleVersion: %v", err)
	}

	cat := catalog.New(mem, store.DefaultShiftCalendar())
	return New(mem, cat)
}

func TestDaily_BucketsByCalendarDayAndTotals(t *testing.T) {
	r := seedTwoDaysProduction(t)
	report, err := r.Daily(context.Background(), mustParse(t, "2024-12-20 00:00"), mustParse(t, "2024-12-23 00:00"), "")
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if len(report.Items) != 2 {
		t.Fatalf("expected 2 daily buckets, got %d", len(report.Items))
	}
	if report.TotalPlanned["P1"] != 15 || report.TotalCompleted["P1"] != 9 {
		t.Fatalf("unexpected totals: %+v", report)
	}
}

func TestWeekly_MergesBothDaysIntoOneWeek(t *testing.T) {
	r := seedTwoDaysProduction(t)
	// 2024-12-20 is a Friday, 2024-12-21 a Saturday: same ISO week.
	report, err := r.Weekly(context.Background(), mustParse(t, "2024-12-20 00:00"), mustParse(t, "2024-12-23 00:00"), "")
	if err != nil {
		t.Fatalf("Weekly: %v", err)
	}
	if len(report.Items) != 1 {
		t.Fatalf("expected both days merged into 1 weekly bucket, got %d", len(report.Items))
	}
	if report.Items[0].PlannedQuantity != 15 {
		t.Fatalf("expected merged planned quantity 15, got %d", report.Items[0].PlannedQuantity)
	}
}

func TestMonthly_MergesIntoOneMonth(t *testing.T) {
	r := seedTwoDaysProduction(t)
	report, err := r.Monthly(context.Background(), mustParse(t, "2024-12-01 00:00"), mustParse(t, "2025-01-01 00:00"), "")
	if err != nil {
		t.Fatalf("Monthly: %v", err)
	}
	if len(report.Items) != 1 {
		t.Fatalf("expected 1 monthly bucket, got %d", len(report.Items))
	}
	if !report.Items[0].BucketStart.Equal(mustParse(t, "2024-12-01 00:00")) {
		t.Fatalf("expected bucket start at month start, got %v", report.Items[0].BucketStart)
	}
}

func TestDaily_PartNumberFilter(t *testing.T) {
	r := seedTwoDaysProduction(t)
	report, err := r.Daily(context.Background(), mustParse(t, "2024-12-20 00:00"), mustParse(t, "2024-12-23 00:00"), "P2")
	if err != nil {
		t.Fatalf("Daily: %v", err)
	}
	if len(report.Items) != 0 {
		t.Fatalf("expected no items for nonexistent part filter, got %d", len(report.Items))
	}
}

func TestComputeOEE_NominalCase(t *testing.T) {
	// 480 min shift, 30 min downtime -> run_time 450. ideal cycle 5 min,
	// 80 parts -> performance = 5*80/450 ~= 0.8889. 76 good of 80 -> quality 0.95.
	oee := ComputeOEE("M1", mustParse(t, "2024-12-20 09:00"), mustParse(t, "2024-12-20 17:00"), 480, 30, 5, 80, 76)
	if oee.Availability < 0.937 || oee.Availability > 0.938 {
		t.Fatalf("unexpected availability: %v", oee.Availability)
	}
	if oee.Performance < 0.888 || oee.Performance > 0.89 {
		t.Fatalf("unexpected performance: %v", oee.Performance)
	}
	if oee.Quality != 0.95 {
		t.Fatalf("unexpected quality: %v", oee.Quality)
	}
	wantOEE := oee.Availability * oee.Performance * oee.Quality
	if oee.Value != wantOEE {
		t.Fatalf("OEE value %v does not equal A*P*Q %v", oee.Value, wantOEE)
	}
}

func TestComputeOEE_ZeroPartsNoDivideByZero(t *testing.T) {
	oee := ComputeOEE("M1", mustParse(t, "2024-12-20 09:00"), mustParse(t, "2024-12-20 17:00"), 480, 0, 5, 0, 0)
	if oee.Performance != 0 || oee.Quality != 0 {
		t.Fatalf("expected zero performance/quality with no parts, got %+v", oee)
	}
}

func TestMachinePerformance_AssemblesFromStoreState(t *testing.T) {
	mem := store.NewMemoryStore()
	mem.PutWorkCenter(&store.WorkCenter{ID: "wc1", Code: "WC1", IsSchedulable: true})
	mem.PutMachine(&store.Machine{ID: "M1", WorkCenterID: "wc1"})
	mem.PutOrder(&store.Order{ID: "o1", ProductionOrder: "PO1", PartNumber: "P1", RequiredQty: 10})
	mem.PutOperation(&store.Operation{ID: "op10", OrderID: "o1", OpNumber: 10, WorkCenterID: "wc1", MachineID: "M1", CycleTimeHr: 0.1})
	mem.PutPartScheduleStatus(&store.PartScheduleStatus{PartNumber: "P1", ProductionOrder: "PO1", Active: true})

	shiftStart := mustParse(t, "2024-12-20 09:00")
	shiftEnd := mustParse(t, "2024-12-20 17:00")

	closedAt := shiftStart.Add(20 * time.Minute)
	d := &store.Downtime{ID: "d1", MachineID: "M1", OpenAt: shiftStart, ClosedAt: &closedAt}
	if err := mem.OpenDowntime(context.Background(), d); err != nil {
		t.Fatalf("OpenDowntime: %v", err)
	}

	cat := catalog.New(mem, store.DefaultShiftCalendar())
	r := New(mem, cat)

	oee, err := r.MachinePerformance(context.Background(), "M1", shiftStart, shiftEnd)
	if err != nil {
		t.Fatalf("MachinePerformance: %v", err)
	}
	if oee.PlannedProductionMins != 480 {
		t.Fatalf("expected 480 planned minutes from default shift calendar, got %v", oee.PlannedProductionMins)
	}
	if oee.RunTimeMins != 460 {
		t.Fatalf("expected 20 downtime minutes deducted, got run_time=%v", oee.RunTimeMins)
	}
}
