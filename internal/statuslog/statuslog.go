// Package statuslog implements the Status Catalog & Downtime Log (spec
// §2) and the MTTR/MTBF projections of §4.6. Downtime lifecycle
// (open/acknowledge/in_progress/closed) is enforced here so the store
// layer stays a dumb persistence boundary.
package statuslog

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

type Log struct {
	store store.Store
}

func New(s store.Store) *Log { return &Log{store: s} }

// OpenDowntimeInput is the payload for POST /maintainance/downtimes/.
type OpenDowntimeInput struct {
	MachineID  string
	OpenAt     time.Time
	Priority   int
	ReportedBy string
}

// OpenDowntime records a new downtime ticket. Invariant: at most one open
// downtime per machine (spec §3); a duplicate is a Conflict (scenario F).
func (l *Log) OpenDowntime(ctx context.Context, in OpenDowntimeInput) (*store.Downtime, error) {
	d := &store.Downtime{
		ID:         uuid.NewString(),
		MachineID:  in.MachineID,
		OpenAt:     in.OpenAt,
		Priority:   in.Priority,
		ReportedBy: in.ReportedBy,
	}
	if err := l.store.OpenDowntime(ctx, d); err != nil {
		return nil, err
	}
	observability.DowntimeOpenGauge.Inc()
	return d, nil
}

// Acknowledge records the supplemental acknowledge timestamp (SPEC_FULL
// §3) between open and in_progress.
func (l *Log) Acknowledge(ctx context.Context, id string, at time.Time) error {
	return l.store.AcknowledgeDowntime(ctx, id, at)
}

// Start transitions a downtime to in_progress. Invariant: open_at <=
// in_progress_at (spec §3).
func (l *Log) Start(ctx context.Context, id string, at time.Time) error {
	return l.store.StartDowntime(ctx, id, at)
}

// Close transitions a downtime to closed. Invariant: in_progress_at <=
// closed_at when set (spec §3).
func (l *Log) Close(ctx context.Context, id string, at time.Time, actionTaken string) error {
	if err := l.store.CloseDowntime(ctx, id, at, actionTaken); err != nil {
		return err
	}
	observability.DowntimeOpenGauge.Dec()
	return nil
}

func (l *Log) OpenForMachine(ctx context.Context, machineID string) (*store.Downtime, error) {
	return l.store.GetOpenDowntimeForMachine(ctx, machineID)
}

func (l *Log) List(ctx context.Context, machineID string) ([]*store.Downtime, error) {
	return l.store.ListDowntimes(ctx, machineID)
}

// --- MTTR / MTBF (spec §4.6) ---

// MachineMetrics is the MTTR/MTBF result for one machine.
type MachineMetrics struct {
	MachineID   string
	MTTRSeconds float64
	MTBFSeconds float64
	Repairs     int // count of closed downtimes contributing to MTTR
	Intervals   int // count of MTBF intervals contributing (may differ from Repairs)
}

// ShopMetrics aggregates MachineMetrics across the shop. Per SPEC_FULL's
// resolved Open Question: mttr_shop is normalized by the total repair
// count (closed downtimes) and mtbf_shop by the total interval count
// independently — the source conflates both into a single
// total_failures denominator; we keep them separate because a machine
// with many short repairs and few long gaps (or vice versa) would
// otherwise skew the other metric.
type ShopMetrics struct {
	MTTRSeconds  float64
	MTBFSeconds  float64
	TotalRepairs int
	TotalIntervals int
}

// MTTRMTBF computes §4.6 for one machine from its full downtime history.
// MTTR is the mean of (closed_at - open_at) over closed downtimes. MTBF
// is the mean of the gaps between one closed downtime's closed_at and
// the next downtime's open_at, including a final gap to `now` if the
// last downtime is closed (so a currently-healthy machine's MTBF keeps
// rising the longer it stays up).
func MTTRMTBF(downtimes []*store.Downtime, now time.Time) MachineMetrics {
	var closed []*store.Downtime
	for _, d := range downtimes {
		if d.ClosedAt != nil {
			closed = append(closed, d)
		}
	}

	var mttrSum float64
	for _, d := range closed {
		mttrSum += d.ClosedAt.Sub(d.OpenAt).Seconds()
	}
	var mttr float64
	if len(closed) > 0 {
		mttr = mttrSum / float64(len(closed))
	}

	var mtbfSum float64
	var intervals int
	for i, d := range downtimes {
		if d.ClosedAt == nil {
			continue
		}
		var nextOpen time.Time
		if i+1 < len(downtimes) {
			nextOpen = downtimes[i+1].OpenAt
		} else {
			nextOpen = now
		}
		gap := nextOpen.Sub(*d.ClosedAt).Seconds()
		if gap < 0 {
			continue
		}
		mtbfSum += gap
		intervals++
	}
	var mtbf float64
	if intervals > 0 {
		mtbf = mtbfSum / float64(intervals)
	}

	machineID := ""
	if len(downtimes) > 0 {
		machineID = downtimes[0].MachineID
	}

	return MachineMetrics{
		MachineID:   machineID,
		MTTRSeconds: mttr,
		MTBFSeconds: mtbf,
		Repairs:     len(closed),
		Intervals:   intervals,
	}
}

// ShopWide aggregates MTTR/MTBF across all machines' downtime histories.
// failure count for normalization is the number of MTBF intervals
// contributing, not the number of downtimes (spec §4.6 explicit note).
func ShopWide(byMachine map[string][]*store.Downtime, now time.Time) ShopMetrics {
	var mttrSum, mtbfSum float64
	var totalRepairs, totalIntervals int
	for _, downtimes := range byMachine {
		m := MTTRMTBF(downtimes, now)
		mttrSum += m.MTTRSeconds * float64(m.Repairs)
		mtbfSum += m.MTBFSeconds * float64(m.Intervals)
		totalRepairs += m.Repairs
		totalIntervals += m.Intervals
	}
	var shop ShopMetrics
	shop.TotalRepairs = totalRepairs
	shop.TotalIntervals = totalIntervals
	if totalRepairs > 0 {
		shop.MTTRSeconds = mttrSum / float64(totalRepairs)
	}
	if totalIntervals > 0 {
		shop.MTBFSeconds = mtbfSum / float64(totalIntervals)
	}
	return shop
}

// PublishMetrics refreshes the Prometheus gauges for one machine.
func PublishMetrics(m MachineMetrics) {
	if m.MachineID == "" {
		return
	}
	observability.MTTRSeconds.WithLabelValues(m.MachineID).Set(m.MTTRSeconds)
	observability.MTBFSeconds.WithLabelValues(m.MachineID).Set(m.MTBFSeconds)
}
