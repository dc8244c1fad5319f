// Package availability computes free time slots from busy intervals
// within a working-hours window.
package availability

import (
	"sort"
)

// Slot is a half-open interval [Start, End) of wall-clock times within a
// single day, formatted "HH:MM". Zero-padded times compare correctly as
// strings, so no time parsing is needed.
type Slot struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// FreeSlots returns the ordered, non-overlapping complement of the busy
// intervals within the working window [workStart, workEnd).
//
// The busy intervals are walked in start order with a cursor at the end of
// the last busy time seen; overlapping or touching intervals merge
// implicitly because the cursor only ever moves forward. The input slice
// is not modified.
func FreeSlots(busy []Slot, workStart, workEnd string) []Slot {
	if len(busy) == 0 {
		return []Slot{{Start: workStart, End: workEnd}}
	}

	sorted := make([]Slot, len(busy))
	copy(sorted, busy)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Start < sorted[j].Start
	})

	free := []Slot{}
	cursor := workStart

	for _, b := range sorted {
		if b.Start > cursor {
			free = append(free, Slot{Start: cursor, End: b.Start})
		}
		if b.End > cursor {
			cursor = b.End
		}
	}

	if cursor < workEnd {
		free = append(free, Slot{Start: cursor, End: workEnd})
	}

	return free
}
