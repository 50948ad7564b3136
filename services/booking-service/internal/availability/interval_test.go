package availability

import (
	"testing"
	"time"
)

func at(t *testing.T, hour, min int) time.Time {
	t.Helper()
	return time.Date(2026, 3, 2, hour, min, 0, 0, time.UTC)
}

func TestSubtract_PartialOverlapSplits(t *testing.T) {
	base := []Interval{{Start: at(t, 9, 0), End: at(t, 17, 0)}}
	cutters := []Interval{{Start: at(t, 12, 0), End: at(t, 13, 0)}}

	free := Subtract(base, cutters)
	if len(free) != 2 {
		t.Fatalf("expected 2 free intervals, got %d", len(free))
	}
	if !free[0].Start.Equal(at(t, 9, 0)) || !free[0].End.Equal(at(t, 12, 0)) {
		t.Fatalf("unexpected first interval: %+v", free[0])
	}
	if !free[1].Start.Equal(at(t, 13, 0)) || !free[1].End.Equal(at(t, 17, 0)) {
		t.Fatalf("unexpected second interval: %+v", free[1])
	}
}

func TestSubtract_FullContainmentRemoves(t *testing.T) {
	base := []Interval{{Start: at(t, 9, 0), End: at(t, 10, 0)}}
	cutters := []Interval{{Start: at(t, 8, 0), End: at(t, 11, 0)}}

	if free := Subtract(base, cutters); len(free) != 0 {
		t.Fatalf("expected no free intervals, got %+v", free)
	}
}

func TestSubtract_AdjacentCuttersLeaveNoSeam(t *testing.T) {
	base := []Interval{{Start: at(t, 9, 0), End: at(t, 17, 0)}}
	cutters := []Interval{
		{Start: at(t, 9, 0), End: at(t, 10, 0)},
		{Start: at(t, 10, 0), End: at(t, 11, 0)},
	}

	free := Subtract(base, cutters)
	if len(free) != 1 {
		t.Fatalf("expected 1 free interval, got %+v", free)
	}
	// The cut-away gap is one contiguous [09:00,11:00), not two artifacts.
	if !free[0].Start.Equal(at(t, 11, 0)) || !free[0].End.Equal(at(t, 17, 0)) {
		t.Fatalf("unexpected free interval: %+v", free[0])
	}
}

func TestSubtract_MergesTouchingBaseIntervals(t *testing.T) {
	base := []Interval{
		{Start: at(t, 9, 0), End: at(t, 12, 0)},
		{Start: at(t, 12, 0), End: at(t, 17, 0)},
	}

	free := Subtract(base, nil)
	if len(free) != 1 {
		t.Fatalf("expected touching intervals merged, got %+v", free)
	}
	if !free[0].Start.Equal(at(t, 9, 0)) || !free[0].End.Equal(at(t, 17, 0)) {
		t.Fatalf("unexpected merged interval: %+v", free[0])
	}
}

func TestSubtract_TouchingCutterIsNotOverlap(t *testing.T) {
	base := []Interval{{Start: at(t, 9, 0), End: at(t, 10, 0)}}
	cutters := []Interval{{Start: at(t, 10, 0), End: at(t, 11, 0)}}

	free := Subtract(base, cutters)
	if len(free) != 1 || !free[0].Start.Equal(at(t, 9, 0)) || !free[0].End.Equal(at(t, 10, 0)) {
		t.Fatalf("interval ending at cutter start must be untouched, got %+v", free)
	}
}

func TestOverlaps_HalfOpen(t *testing.T) {
	a := Interval{Start: at(t, 9, 0), End: at(t, 10, 0)}
	b := Interval{Start: at(t, 10, 0), End: at(t, 11, 0)}
	if a.Overlaps(b) || b.Overlaps(a) {
		t.Fatal("instantaneous-point contact must not count as overlap")
	}

	c := Interval{Start: at(t, 9, 30), End: at(t, 10, 30)}
	if !a.Overlaps(c) || !c.Overlaps(a) {
		t.Fatal("expected overlap")
	}
}
