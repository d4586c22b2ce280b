// Package reporting implements the Reporting Projections (spec §4.7,
// §2 "Reporting Projections (5%) — daily/weekly/monthly production
// roll-ups; MTTR/MTBF; OEE per shift"). MTTR/MTBF themselves live in
// internal/statuslog (§4.6); this package adds the production
// roll-ups and OEE, and composes statuslog's shop-wide aggregate for
// a single dashboard projection the way the teacher's
// dashboard_service.go composes several subsystems' views into one
// response instead of making the caller fan out.
package reporting

import (
	"context"
	"sort"
	"time"

	"github.com/shopforge/mes/internal/catalog"
	"github.com/shopforge/mes/internal/store"
)

// Reporter composes catalog, schedule, downtime, and telemetry state
// into the reporting endpoints of spec §6.
type Reporter struct {
	store store.Store
	cat   *catalog.Catalog
}

func New(s store.Store, cat *catalog.Catalog) *Reporter {
	return &Reporter{store: s, cat: cat}
}

// ProductionItem is one part's production line for a single bucket
// (day, week start, or month start).
type ProductionItem struct {
	PartNumber        string
	ProductionOrder   string
	BucketStart       time.Time
	PlannedQuantity   int
	CompletedQuantity int
	RemainingQuantity int
}

// ProductionReport is the response shape for the daily/weekly/monthly
// endpoints (spec §6 `GET /production/{daily|weekly|monthly}`).
type ProductionReport struct {
	Items          []ProductionItem
	TotalPlanned   map[string]int // by part number
	TotalCompleted map[string]int
}

// productionRows gathers every active ScheduleVersion's planned/
// completed/remaining quantity whose PSI's order falls in
// [start, end) and, if partNumber is non-empty, matches it. Grounded
// on original_source's get_all_production_data: join active SVs to
// their PSI/order, filter by date range, and optionally by part
// number, before any bucketing.
func (r *Reporter) productionRows(ctx context.Context, start, end time.Time, partNumber string) ([]ProductionItem, error) {
	svs, err := r.store.ListActiveScheduleVersions(ctx)
	if err != nil {
		return nil, err
	}

	var rows []ProductionItem
	for _, sv := range svs {
		if sv.PlannedStart.Before(start) || !sv.PlannedStart.Before(end) {
			continue
		}
		psi, err := r.store.GetPSI(ctx, sv.PSIID)
		if err != nil {
			continue // dangling SV; skip rather than fail the whole report
		}
		order, err := r.store.GetOrder(ctx, psi.OrderID)
		if err != nil {
			continue
		}
		if partNumber != "" && order.PartNumber != partNumber {
			continue
		}
		rows = append(rows, ProductionItem{
			PartNumber:        order.PartNumber,
			ProductionOrder:   order.ProductionOrder,
			BucketStart:       sv.PlannedStart,
			PlannedQuantity:   psi.TotalQuantity,
			CompletedQuantity: sv.CompletedQuantity,
			RemainingQuantity: sv.RemainingQuantity,
		})
	}
	return rows, nil
}

// Daily buckets by calendar day (spec §6 `/production/daily`).
func (r *Reporter) Daily(ctx context.Context, start, end time.Time, partNumber string) (*ProductionReport, error) {
	rows, err := r.productionRows(ctx, start, end, partNumber)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		y, m, d := rows[i].BucketStart.Date()
		rows[i].BucketStart = time.Date(y, m, d, 0, 0, 0, 0, rows[i].BucketStart.Location())
	}
	return bucket(rows), nil
}

// Weekly buckets by the Monday starting each item's week (spec §6
// `/production/weekly`), matching original_source's Monday-start
// week_start = date - weekday() convention.
func (r *Reporter) Weekly(ctx context.Context, start, end time.Time, partNumber string) (*ProductionReport, error) {
	rows, err := r.productionRows(ctx, start, end, partNumber)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		y, m, d := rows[i].BucketStart.Date()
		day := time.Date(y, m, d, 0, 0, 0, 0, rows[i].BucketStart.Location())
		offset := (int(day.Weekday()) + 6) % 7 // Monday=0 .. Sunday=6
		rows[i].BucketStart = day.AddDate(0, 0, -offset)
	}
	return bucket(rows), nil
}

// Monthly buckets by the first of the month (spec §6 `/production/monthly`).
func (r *Reporter) Monthly(ctx context.Context, start, end time.Time, partNumber string) (*ProductionReport, error) {
	rows, err := r.productionRows(ctx, start, end, partNumber)
	if err != nil {
		return nil, err
	}
	for i := range rows {
		y, m, _ := rows[i].BucketStart.Date()
		rows[i].BucketStart = time.Date(y, m, 1, 0, 0, 0, 0, rows[i].BucketStart.Location())
	}
	return bucket(rows), nil
}

// bucket merges rows sharing (BucketStart, PartNumber) by summing
// quantities, then sorts by (BucketStart, PartNumber) as
// original_source does.
func bucket(rows []ProductionItem) *ProductionReport {
	type key struct {
		bucket time.Time
		part   string
	}
	merged := map[key]*ProductionItem{}
	var order []key
	for _, row := range rows {
		k := key{bucket: row.BucketStart, part: row.PartNumber}
		existing, ok := merged[k]
		if !ok {
			cp := row
			merged[k] = &cp
			order = append(order, k)
			continue
		}
		existing.PlannedQuantity += row.PlannedQuantity
		existing.CompletedQuantity += row.CompletedQuantity
		existing.RemainingQuantity += row.RemainingQuantity
	}

	sort.Slice(order, func(i, j int) bool {
		if !order[i].bucket.Equal(order[j].bucket) {
			return order[i].bucket.Before(order[j].bucket)
		}
		return order[i].part < order[j].part
	})

	report := &ProductionReport{
		TotalPlanned:   map[string]int{},
		TotalCompleted: map[string]int{},
	}
	for _, k := range order {
		item := *merged[k]
		report.Items = append(report.Items, item)
		report.TotalPlanned[item.PartNumber] += item.PlannedQuantity
		report.TotalCompleted[item.PartNumber] += item.CompletedQuantity
	}
	return report
}

// --- OEE (spec §4.7) ---

// OEE is the per-shift, per-machine result: Availability x Performance
// x Quality, plus each factor's complement as a "loss".
type OEE struct {
	MachineID             string
	ShiftStart, ShiftEnd  time.Time
	PlannedProductionMins float64
	RunTimeMins           float64
	TotalParts            int
	GoodParts             int
	Availability          float64
	Performance           float64
	Quality               float64
	Value                 float64
	AvailabilityLoss      float64
	PerformanceLoss       float64
	QualityLoss           float64
}

// ComputeOEE computes §4.7's formulas given already-gathered inputs:
// plannedMins (shift configuration), downtimeMins (status-derived lost
// time within the shift), idealCycleMins (per-piece ideal cycle time
// from the routing), totalParts/goodParts (from part_count events).
func ComputeOEE(machineID string, shiftStart, shiftEnd time.Time, plannedMins, downtimeMins, idealCycleMins float64, totalParts, goodParts int) OEE {
	runTime := plannedMins - downtimeMins
	if runTime < 0 {
		runTime = 0
	}

	var availability, performance, quality float64
	if plannedMins > 0 {
		availability = runTime / plannedMins
	}
	if runTime > 0 {
		performance = (idealCycleMins * float64(totalParts)) / runTime
	}
	if totalParts > 0 {
		quality = float64(goodParts) / float64(totalParts)
	}

	return OEE{
		MachineID:             machineID,
		ShiftStart:            shiftStart,
		ShiftEnd:              shiftEnd,
		PlannedProductionMins: plannedMins,
		RunTimeMins:           runTime,
		TotalParts:            totalParts,
		GoodParts:             goodParts,
		Availability:          availability,
		Performance:           performance,
		Quality:               quality,
		Value:                 availability * performance * quality,
		AvailabilityLoss:      1 - availability,
		PerformanceLoss:       1 - performance,
		QualityLoss:           1 - quality,
	}
}

// MachinePerformance assembles one machine's OEE for the shift window
// [shiftStart, shiftEnd) entirely from store state: downtime minutes
// from the downtime log, ideal cycle time averaged across the
// machine's routed operations, and total/good parts from telemetry
// part-count events and logged production quantities respectively
// (spec §4.7 "parts from part_count events").
func (r *Reporter) MachinePerformance(ctx context.Context, machineID string, shiftStart, shiftEnd time.Time) (OEE, error) {
	shift := r.cat.ShiftCalendar()
	plannedMins := float64(shift.EndHour*60+shift.EndMinute) - float64(shift.StartHour*60+shift.StartMinute)

	downtimes, err := r.store.ListDowntimes(ctx, machineID)
	if err != nil {
		return OEE{}, err
	}
	downtimeMins := overlapMinutes(downtimes, shiftStart, shiftEnd)

	history, err := r.store.ListTelemetryHistoryRange(ctx, machineID, shiftStart, shiftEnd)
	if err != nil {
		return OEE{}, err
	}
	totalParts := partCountDelta(history)

	logs, err := r.store.ListProductionLogs(ctx, machineID, shiftStart, shiftEnd)
	if err != nil {
		return OEE{}, err
	}
	goodParts, badParts := 0, 0
	for _, l := range logs {
		goodParts += l.GoodQty
		badParts += l.BadQty
	}
	if totalParts == 0 && (goodParts > 0 || badParts > 0) {
		totalParts = goodParts + badParts
	}
	if goodParts == 0 && badParts == 0 && totalParts > 0 {
		// No production-log breakdown available for the window; without a
		// scrap signal quality defaults to 1.0 (all counted parts assumed good).
		goodParts = totalParts
	}

	idealCycleMins := averageIdealCycleMinutes(ctx, r.store, machineID)

	return ComputeOEE(machineID, shiftStart, shiftEnd, plannedMins, downtimeMins, idealCycleMins, totalParts, goodParts), nil
}

func overlapMinutes(downtimes []*store.Downtime, windowStart, windowEnd time.Time) float64 {
	var total float64
	for _, d := range downtimes {
		end := windowEnd
		if d.ClosedAt != nil && d.ClosedAt.Before(end) {
			end = *d.ClosedAt
		}
		start := d.OpenAt
		if start.Before(windowStart) {
			start = windowStart
		}
		if end.After(start) {
			total += end.Sub(start).Minutes()
		}
	}
	return total
}

// partCountDelta assumes PartCount is a monotonically increasing
// counter within the window, per the telemetry feed's JobStatus/
// PartCount fields (spec §3).
func partCountDelta(history []*store.TelemetrySnapshotHistory) int {
	if len(history) == 0 {
		return 0
	}
	min, max := history[0].PartCount, history[0].PartCount
	for _, h := range history {
		if h.PartCount < min {
			min = h.PartCount
		}
		if h.PartCount > max {
			max = h.PartCount
		}
	}
	if max < min {
		return 0
	}
	return max - min
}

// averageIdealCycleMinutes averages CycleTimeHr across every operation
// routed to machineID; this is the routing-level "ideal cycle time"
// input the spec's Performance factor needs. Errors resolving
// operations are treated as "no routing data" (0), not fatal, since
// OEE is a best-effort projection.
func averageIdealCycleMinutes(ctx context.Context, s store.Store, machineID string) float64 {
	orders, err := s.ListActiveParts(ctx)
	if err != nil {
		return 0
	}
	var sum float64
	var count int
	for _, st := range orders {
		order, err := s.GetOrderByProductionOrder(ctx, st.ProductionOrder)
		if err != nil {
			continue
		}
		ops, err := s.ListOperations(ctx, order.ID)
		if err != nil {
			continue
		}
		for _, op := range ops {
			if op.MachineID != machineID {
				continue
			}
			sum += op.CycleTimeHr * 60
			count++
		}
	}
	if count == 0 {
		return 0
	}
	return sum / float64(count)
}
