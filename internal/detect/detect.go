// Package detect implements the Change Detectors (spec §4.4): stateful
// diff loops over the telemetry live tables that decide what is worth
// broadcasting. Rate limiting follows the teacher's
// scheduler.TokenBucketLimiter (golang.org/x/time/rate, one bucket per
// key) rather than a hand-rolled cooldown map.
package detect

import (
	"context"
	"log"
	"math"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/shopforge/mes/internal/broadcast"
	"github.com/shopforge/mes/internal/observability"
	"github.com/shopforge/mes/internal/store"
)

const (
	// TopicStatus carries global machine status changes.
	TopicStatus = "status"
	// TopicParameters carries global machine parameter changes.
	TopicParameters = "parameters"
	// TopicShiftwiseEnergy carries shiftwise-energy changes.
	TopicShiftwiseEnergy = "shiftwise_energy"
	// TopicHistoryPrefix + machineID is the per-machine rolling window topic.
	TopicHistoryPrefix = "history:"

	numericThreshold = 1e-4
	energyThreshold  = 1e-2

	historyWindow = 30 * time.Minute
	tickInterval  = time.Second
)

// statusView is the subset of TelemetrySnapshotLive the status detector
// diffs on.
type statusView struct {
	JobStatus string
	OpMode    string
}

// paramsView is the subset the parameters detector diffs on.
type paramsView struct {
	Voltage    float64
	Current    float64
	PowerKW    float64
	PartCount  int
	ProgStatus string
}

// Detector runs the three global detectors plus the per-machine rolling
// history window, publishing to hub.
type Detector struct {
	store store.Store
	hub   *broadcast.Hub

	statusLimiters *keyedLimiter // >= 1s per machine
	energyLimiter  *rate.Limiter // >= 5s globally

	mu            sync.Mutex
	lastStatus    map[string]statusView
	lastParams    map[string]paramsView
	lastEnergy    map[string]store.ShiftwiseEnergy
	lastHistoryTS map[string]time.Time
	liveSet       map[string]struct{}
}

func New(s store.Store, hub *broadcast.Hub) *Detector {
	return &Detector{
		store:          s,
		hub:            hub,
		statusLimiters: newKeyedLimiter(rate.Every(time.Second), 1),
		energyLimiter:  rate.NewLimiter(rate.Every(5*time.Second), 1),
		lastStatus:     make(map[string]statusView),
		lastParams:     make(map[string]paramsView),
		lastEnergy:     make(map[string]store.ShiftwiseEnergy),
		lastHistoryTS:  make(map[string]time.Time),
		liveSet:        make(map[string]struct{}),
	}
}

// Run ticks the detectors at tickInterval until ctx is cancelled.
func (d *Detector) Run(ctx context.Context) {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.tick(ctx)
		}
	}
}

func (d *Detector) tick(ctx context.Context) {
	start := time.Now()
	d.tickStatusAndParams(ctx)
	observability.DetectorTickDuration.WithLabelValues(TopicStatus).Observe(time.Since(start).Seconds())

	start = time.Now()
	d.tickShiftwiseEnergy(ctx)
	observability.DetectorTickDuration.WithLabelValues(TopicShiftwiseEnergy).Observe(time.Since(start).Seconds())

	start = time.Now()
	d.tickHistoryWindows(ctx)
	observability.DetectorTickDuration.WithLabelValues(TopicParameters).Observe(time.Since(start).Seconds())
}

func (d *Detector) tickStatusAndParams(ctx context.Context) {
	rows, err := d.store.ListTelemetryLive(ctx)
	if err != nil {
		log.Printf("detect: list telemetry live: %v", err)
		return
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	seen := make(map[string]struct{}, len(rows))
	var statusChanges, paramChanges []*store.TelemetrySnapshotLive

	for _, row := range rows {
		seen[row.MachineID] = struct{}{}

		sv := statusView{JobStatus: row.JobStatus, OpMode: row.OpMode}
		if prev, ok := d.lastStatus[row.MachineID]; !ok || prev != sv {
			if d.statusLimiters.allow(row.MachineID) {
				d.lastStatus[row.MachineID] = sv
				statusChanges = append(statusChanges, row)
			}
		}

		pv := paramsView{Voltage: row.Voltage, Current: row.Current, PowerKW: row.PowerKW, PartCount: row.PartCount, ProgStatus: row.ProgStatus}
		if prev, ok := d.lastParams[row.MachineID]; !ok || paramsDiffer(prev, pv) {
			d.lastParams[row.MachineID] = pv
			paramChanges = append(paramChanges, row)
		}
	}

	// Synthetic OFFLINE: machines that were live last tick but are gone now.
	var offline []string
	for machineID := range d.liveSet {
		if _, ok := seen[machineID]; !ok {
			offline = append(offline, machineID)
			delete(d.lastStatus, machineID)
			delete(d.lastParams, machineID)
		}
	}
	d.liveSet = seen

	if len(statusChanges) > 0 {
		d.hub.Publish(TopicStatus, statusChanges)
		observability.DetectorEmittedTotal.WithLabelValues(TopicStatus).Add(float64(len(statusChanges)))
	}
	if len(paramChanges) > 0 {
		d.hub.Publish(TopicParameters, paramChanges)
		observability.DetectorEmittedTotal.WithLabelValues(TopicParameters).Add(float64(len(paramChanges)))
	}
	for _, machineID := range offline {
		d.hub.Publish(TopicStatus, map[string]string{"machine_id": machineID, "event": "OFFLINE"})
		observability.MachineOfflineEventsTotal.Inc()
	}
	observability.MachinesLiveGauge.Set(float64(len(seen)))
}

func (d *Detector) tickShiftwiseEnergy(ctx context.Context) {
	rows, err := d.store.ListShiftwiseEnergyLive(ctx)
	if err != nil {
		log.Printf("detect: list shiftwise energy: %v", err)
		return
	}

	d.mu.Lock()
	var changed []*store.ShiftwiseEnergy
	for _, row := range rows {
		prev, ok := d.lastEnergy[row.MachineID]
		if !ok || energyDiffers(prev, *row) {
			d.lastEnergy[row.MachineID] = *row
			changed = append(changed, row)
		}
	}
	d.mu.Unlock()

	if len(changed) == 0 {
		return
	}
	if !d.energyLimiter.Allow() {
		observability.DetectorRateLimitedTotal.WithLabelValues(TopicShiftwiseEnergy).Add(float64(len(changed)))
		return
	}
	d.hub.Publish(TopicShiftwiseEnergy, changed)
	observability.DetectorEmittedTotal.WithLabelValues(TopicShiftwiseEnergy).Add(float64(len(changed)))
}

// tickHistoryWindows implements the per-machine rolling-window detector
// (spec §4.4): for every machine currently live, check whether its
// newest history row is newer than last_timestamp and, if so, publish
// the full trailing 30-minute window.
func (d *Detector) tickHistoryWindows(ctx context.Context) {
	d.mu.Lock()
	machines := make([]string, 0, len(d.liveSet))
	for m := range d.liveSet {
		machines = append(machines, m)
	}
	d.mu.Unlock()

	for _, machineID := range machines {
		since := time.Now().Add(-historyWindow)
		rows, err := d.store.ListTelemetryHistoryWindow(ctx, machineID, since)
		if err != nil || len(rows) == 0 {
			continue
		}
		newest := rows[len(rows)-1].Timestamp

		d.mu.Lock()
		last := d.lastHistoryTS[machineID]
		if !newest.After(last) {
			d.mu.Unlock()
			continue
		}
		d.lastHistoryTS[machineID] = newest
		d.mu.Unlock()

		windowRows, err := d.store.ListTelemetryHistoryRange(ctx, machineID, newest.Add(-historyWindow), newest)
		if err != nil {
			continue
		}
		topic := TopicHistoryPrefix + machineID
		d.hub.Publish(topic, windowRows)
		observability.DetectorEmittedTotal.WithLabelValues(topic).Inc()
	}
}

func paramsDiffer(a, b paramsView) bool {
	if numericDiffers(a.Voltage, b.Voltage, numericThreshold) {
		return true
	}
	if numericDiffers(a.Current, b.Current, numericThreshold) {
		return true
	}
	if numericDiffers(a.PowerKW, b.PowerKW, numericThreshold) {
		return true
	}
	if a.PartCount != b.PartCount {
		return true
	}
	if a.ProgStatus != b.ProgStatus {
		return true
	}
	return false
}

func energyDiffers(a, b store.ShiftwiseEnergy) bool {
	return numericDiffers(a.Shift1, b.Shift1, energyThreshold) ||
		numericDiffers(a.Shift2, b.Shift2, energyThreshold) ||
		numericDiffers(a.Shift3, b.Shift3, energyThreshold) ||
		numericDiffers(a.Total, b.Total, energyThreshold)
}

func numericDiffers(a, b, threshold float64) bool {
	return math.Abs(a-b) > threshold
}

// keyedLimiter is a map of per-key token buckets, grounded on the
// teacher's scheduler.TokenBucketLimiter.
type keyedLimiter struct {
	mu       sync.Mutex
	limiters map[string]*rate.Limiter
	r        rate.Limit
	b        int
}

func newKeyedLimiter(r rate.Limit, b int) *keyedLimiter {
	return &keyedLimiter{limiters: make(map[string]*rate.Limiter), r: r, b: b}
}

func (l *keyedLimiter) allow(key string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	lim, ok := l.limiters[key]
	if !ok {
		lim = rate.NewLimiter(l.r, l.b)
		l.limiters[key] = lim
	}
	if !lim.Allow() {
		observability.DetectorRateLimitedTotal.WithLabelValues(TopicStatus).Inc()
		return false
	}
	return true
}
