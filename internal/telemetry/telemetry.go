// Package telemetry implements the Telemetry Ingest component (spec §2,
// §4.4): accepting live machine parameter snapshots and shiftwise energy
// readings, fanning each out to its live row plus an append-only history
// row. It is intentionally dumb — significance filtering and broadcast
// fan-out belong to internal/detect and internal/broadcast.
package telemetry

import (
	"context"
	"time"

	"github.com/shopforge/mes/internal/errs"
	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

const parametersStream = "parameters"
const energyStream = "shiftwise_energy"

// maxHistoryRange is spec §6's cap on a single range query.
const maxHistoryRange = 7 * 24 * time.Hour

// Ingest is the write path for telemetry producers (spec §4.4 "machines
// push parameter snapshots"; SPEC_FULL §0 maps this to cmd/collector or
// any conforming publisher hitting the ingest API).
type Ingest struct {
	store store.Store
}

func New(s store.Store) *Ingest { return &Ingest{store: s} }

// PutSnapshot records one machine parameter snapshot, writing both the
// live row (for dashboards/current-state reads) and a history row (for
// range queries, spec §4.4 and SPEC_FULL §3).
func (i *Ingest) PutSnapshot(ctx context.Context, snap *store.TelemetrySnapshotLive) error {
	if err := i.store.UpsertTelemetryLive(ctx, snap); err != nil {
		return err
	}
	hist := store.TelemetrySnapshotHistory(*snap)
	if err := i.store.AppendTelemetryHistory(ctx, &hist); err != nil {
		return err
	}
	observability.TelemetryIngestedTotal.WithLabelValues(parametersStream).Inc()
	return nil
}

// PutShiftwiseEnergy records one shiftwise-energy reading for a machine
// (SPEC_FULL §3 supplemental feature: Shift1/Shift2/Shift3/Total).
func (i *Ingest) PutShiftwiseEnergy(ctx context.Context, e *store.ShiftwiseEnergy) error {
	if err := i.store.UpsertShiftwiseEnergyLive(ctx, e); err != nil {
		return err
	}
	if err := i.store.AppendShiftwiseEnergyHistory(ctx, e); err != nil {
		return err
	}
	observability.TelemetryIngestedTotal.WithLabelValues(energyStream).Inc()
	return nil
}

// LiveSnapshots returns the current per-machine telemetry set, used both
// by the API's "current" endpoint and by internal/detect's liveness
// sweep (spec §4.4 "synthetic OFFLINE on disappearance from the live
// set").
func (i *Ingest) LiveSnapshots(ctx context.Context) ([]*store.TelemetrySnapshotLive, error) {
	return i.store.ListTelemetryLive(ctx)
}

// LiveShiftwiseEnergy returns the current per-machine shiftwise-energy
// set.
func (i *Ingest) LiveShiftwiseEnergy(ctx context.Context) ([]*store.ShiftwiseEnergy, error) {
	return i.store.ListShiftwiseEnergyLive(ctx)
}

// HistoryWindow returns the trailing window of history for one machine
// (spec §4.4 "recent window" query).
func (i *Ingest) HistoryWindow(ctx context.Context, machineID string, since time.Time) ([]*store.TelemetrySnapshotHistory, error) {
	return i.store.ListTelemetryHistoryWindow(ctx, machineID, since)
}

// RangeResult is the response shape for spec §6's range-query endpoint:
// the raw data points plus a min/max/avg/count summary.
type RangeResult struct {
	DataPoints []*store.TelemetrySnapshotHistory
	Summary    *RangeSummary
}

// HistoryRange returns history between start and end, plus the min/max/avg/
// count aggregation SPEC_FULL §3 adds from original_source/'s range-query
// endpoint. Rejects ranges over 7 days (spec §6).
func (i *Ingest) HistoryRange(ctx context.Context, machineID string, start, end time.Time) (*RangeResult, error) {
	if end.Sub(start) > maxHistoryRange {
		return nil, errs.NewInvariantViolation("history range exceeds the %s maximum", maxHistoryRange)
	}
	rows, err := i.store.ListTelemetryHistoryRange(ctx, machineID, start, end)
	if err != nil {
		return nil, err
	}
	return &RangeResult{DataPoints: rows, Summary: summarize(machineID, rows)}, nil
}

// RangeSummary is the min/max/avg/count roll-up over a telemetry history
// range (SPEC_FULL §3).
type RangeSummary struct {
	MachineID string
	Count     int
	MinPowerKW, MaxPowerKW, AvgPowerKW float64
	MinVoltage, MaxVoltage, AvgVoltage float64
}

func summarize(machineID string, rows []*store.TelemetrySnapshotHistory) *RangeSummary {
	s := &RangeSummary{MachineID: machineID}
	if len(rows) == 0 {
		return s
	}
	s.Count = len(rows)
	s.MinPowerKW, s.MaxPowerKW = rows[0].PowerKW, rows[0].PowerKW
	s.MinVoltage, s.MaxVoltage = rows[0].Voltage, rows[0].Voltage
	var sumPower, sumVoltage float64
	for _, r := range rows {
		if r.PowerKW < s.MinPowerKW {
			s.MinPowerKW = r.PowerKW
		}
		if r.PowerKW > s.MaxPowerKW {
			s.MaxPowerKW = r.PowerKW
		}
		if r.Voltage < s.MinVoltage {
			s.MinVoltage = r.Voltage
		}
		if r.Voltage > s.MaxVoltage {
			s.MaxVoltage = r.Voltage
		}
		sumPower += r.PowerKW
		sumVoltage += r.Voltage
	}
	s.AvgPowerKW = sumPower / float64(len(rows))
	s.AvgVoltage = sumVoltage / float64(len(rows))
	return s
}
