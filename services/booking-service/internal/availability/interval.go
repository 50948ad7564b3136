package availability

import (
	"sort"
	"time"
)

// Interval is a half-open instant range [Start, End).
type Interval struct {
	Start time.Time
	End   time.Time
}

func (iv Interval) Overlaps(other Interval) bool {
	// Half-open: [a,b) overlaps [c,d) iff a < d && c < b. An interval ending
	// exactly when another begins is not an overlap.
	return iv.Start.Before(other.End) && other.Start.Before(iv.End)
}

// Subtract removes every cutter from the base set and returns the remaining
// free intervals, sorted and with touching neighbours merged. A cutter that
// partially overlaps an interval splits it into up to two remainders; a
// cutter that fully covers one removes it.
func Subtract(base []Interval, cutters []Interval) []Interval {
	result := make([]Interval, 0, len(base))
	for _, b := range base {
		if b.End.After(b.Start) {
			result = append(result, b)
		}
	}

	for _, c := range cutters {
		if !c.End.After(c.Start) {
			continue
		}
		next := make([]Interval, 0, len(result))
		for _, b := range result {
			if !b.Overlaps(c) {
				next = append(next, b)
				continue
			}
			if c.Start.After(b.Start) {
				next = append(next, Interval{Start: b.Start, End: c.Start})
			}
			if c.End.Before(b.End) {
				next = append(next, Interval{Start: c.End, End: b.End})
			}
		}
		result = next
	}

	return mergeTouching(result)
}

// mergeTouching sorts intervals and joins any that touch or overlap, so two
// adjacent remainders never present a phantom seam to slot enumeration.
func mergeTouching(ivs []Interval) []Interval {
	if len(ivs) == 0 {
		return nil
	}
	sort.Slice(ivs, func(i, j int) bool { return ivs[i].Start.Before(ivs[j].Start) })

	merged := ivs[:1]
	for _, iv := range ivs[1:] {
		last := &merged[len(merged)-1]
		if !iv.Start.After(last.End) {
			if iv.End.After(last.End) {
				last.End = iv.End
			}
			continue
		}
		merged = append(merged, iv)
	}
	return merged
}
