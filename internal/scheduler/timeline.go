package scheduler

import (
	"sort"
	"sync"
	"time"

	"github.com/shopforge/mes/internal/store"
)

// Interval is one committed [Start,End) booking on a machine.
type Interval struct {
	Start, End time.Time
}

// MachineTimelines holds the committed-interval list per machine, mutex
// guarded like the teacher's ThreadSafeQueue — but keyed occupancy
// rather than a priority heap, since the scheduler books disjoint
// intervals rather than dispatching a work queue.
type MachineTimelines struct {
	mu        sync.Mutex
	committed map[string][]Interval
}

func NewMachineTimelines() *MachineTimelines {
	return &MachineTimelines{committed: make(map[string][]Interval)}
}

// Seed pre-loads a machine's already-committed intervals (e.g. from
// active ScheduleVersions at the start of a reschedule run).
func (m *MachineTimelines) Seed(machineID string, intervals []Interval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.committed[machineID] = append(m.committed[machineID], intervals...)
	sort.Slice(m.committed[machineID], func(i, j int) bool {
		return m.committed[machineID][i].Start.Before(m.committed[machineID][j].Start)
	})
}

// Book appends a newly placed interval to the machine's committed set
// (spec §4.2: "Append all placed segments to the machine's committed
// intervals").
func (m *MachineTimelines) Book(machineID string, iv Interval) {
	m.mu.Lock()
	defer m.mu.Unlock()
	list := append(m.committed[machineID], iv)
	sort.Slice(list, func(i, j int) bool { return list[i].Start.Before(list[j].Start) })
	m.committed[machineID] = list
}

// FindSlot implements spec §4.2's "optimal slot search": given a machine,
// a total duration in minutes, and an earliest-start instant, it returns
// the start of the first working-time gap (possibly spanning multiple
// calendar days) in the machine's committed intervals that is large
// enough to hold the full duration, honoring machine availability and
// the shift calendar.
func FindSlot(mt *MachineTimelines, avail *store.MachineStatus, durationMinutes float64, earliestStart time.Time, shift store.ShiftCalendar) (time.Time, bool) {
	if avail.StatusCode == store.MachineOFF {
		return time.Time{}, false
	}
	if avail.StatusCode == store.MachineON && avail.AvailableFrom.After(earliestStart) {
		earliestStart = avail.AvailableFrom
	}
	earliestStart = shiftAdjust(earliestStart, shift)

	mt.mu.Lock()
	committed := append([]Interval(nil), mt.committed[avail.MachineID]...)
	mt.mu.Unlock()
	sort.Slice(committed, func(i, j int) bool { return committed[i].Start.Before(committed[j].Start) })

	if len(committed) == 0 {
		return earliestStart, true
	}

	// Gap before the first committed interval.
	if workingMinutesBetween(earliestStart, committed[0].Start, shift) >= durationMinutes {
		return earliestStart, true
	}

	for i := 0; i < len(committed)-1; i++ {
		gapStart := committed[i].End
		if earliestStart.After(gapStart) {
			gapStart = earliestStart
		}
		gapEnd := committed[i+1].Start
		if workingMinutesBetween(gapStart, gapEnd, shift) >= durationMinutes {
			return shiftAdjust(gapStart, shift), true
		}
	}

	last := committed[len(committed)-1].End
	if earliestStart.After(last) {
		last = earliestStart
	}
	return shiftAdjust(last, shift), true
}
