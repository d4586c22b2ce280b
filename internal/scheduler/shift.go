package scheduler

import (
	"time"

	"github.com/shopforge/mes/internal/store"
)

// shiftStart returns the shift-start instant on t's calendar day.
func shiftStart(t time.Time, shift store.ShiftCalendar) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), shift.StartHour, shift.StartMinute, 0, 0, t.Location())
}

// shiftEnd returns the shift-end instant on t's calendar day.
func shiftEnd(t time.Time, shift store.ShiftCalendar) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), shift.EndHour, shift.EndMinute, 0, 0, t.Location())
}

// shiftAdjust is spec §4.2's "shift adjust": roll a candidate instant
// into the working window W, moving to the next working day's start if
// it falls on or after today's shift end.
func shiftAdjust(t time.Time, shift store.ShiftCalendar) time.Time {
	start := shiftStart(t, shift)
	end := shiftEnd(t, shift)
	switch {
	case t.Before(start):
		return start
	case !t.Before(end):
		return shiftStart(t.AddDate(0, 0, 1), shift)
	default:
		return t
	}
}

// daySegment is one contiguous piece of work confined to a single
// working day, produced by splitting a duration across shift
// boundaries.
type daySegment struct {
	Start, End      time.Time
	ElapsedMinutes  float64 // minutes consumed by this segment
	CumulativeAfter float64 // total minutes consumed including this segment
}

// splitAcrossShifts walks forward from a shift-adjusted start, consuming
// totalMinutes of work, yielding one daySegment per working day touched
// (spec §4.2: "If setup would cross the shift boundary, split it... /
// If processing crosses a shift boundary, split by elapsed time").
func splitAcrossShifts(start time.Time, totalMinutes float64, shift store.ShiftCalendar) []daySegment {
	if totalMinutes <= 0 {
		return nil
	}
	cur := shiftAdjust(start, shift)
	remaining := totalMinutes
	cumulative := 0.0
	var segments []daySegment

	for remaining > 0 {
		dayEnd := shiftEnd(cur, shift)
		available := dayEnd.Sub(cur).Minutes()
		if available <= 0 {
			cur = shiftAdjust(dayEnd, shift)
			continue
		}
		take := remaining
		var segEnd time.Time
		if take > available {
			take = available
			segEnd = dayEnd
		} else {
			segEnd = cur.Add(time.Duration(take * float64(time.Minute)))
		}
		cumulative += take
		segments = append(segments, daySegment{
			Start:           cur,
			End:             segEnd,
			ElapsedMinutes:  take,
			CumulativeAfter: cumulative,
		})
		remaining -= take
		if remaining > 0 {
			cur = shiftAdjust(dayEnd, shift)
		}
	}
	return segments
}

// workingMinutesBetween sums the in-shift minutes between a and b,
// skipping nights and treating a or b outside the window as clipped to
// it. Used by the optimal slot search to size gaps that may span
// multiple calendar days.
func workingMinutesBetween(a, b time.Time, shift store.ShiftCalendar) float64 {
	if !a.Before(b) {
		return 0
	}
	cur := shiftAdjust(a, shift)
	total := 0.0
	for cur.Before(b) {
		dayEnd := shiftEnd(cur, shift)
		segEnd := dayEnd
		if b.Before(segEnd) {
			segEnd = b
		}
		if segEnd.After(cur) {
			total += segEnd.Sub(cur).Minutes()
		}
		cur = shiftAdjust(dayEnd, shift)
	}
	return total
}
