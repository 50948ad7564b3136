package availability

import (
	"context"
	"log/slog"
	"sort"
	"time"

	"github.com/tmarsland/slotbook/services/booking-service/internal/model"
)

const DefaultGranularityMinutes = 10

type Reason string

const (
	ReasonStaffPref Reason = "staff_pref"
	ReasonBestFit   Reason = "best_fit"
	ReasonGapFill   Reason = "gap_fill"
)

// Slot is a candidate bookable window for one staff member. It carries no
// reservation: a concurrent booking may consume it before the caller acts,
// and the committer re-validates independently.
type Slot struct {
	StaffID string
	Start   time.Time
	End     time.Time
	Reason  Reason
}

// Store is the read side the engine computes over. Lookups scoped by tenant;
// the overlap queries use half-open range intersection.
type Store interface {
	TenantTimezone(ctx context.Context, tenantID string) (string, bool, error)
	ServiceByID(ctx context.Context, tenantID, serviceID string) (model.Service, bool, error)
	ActiveStaffIDs(ctx context.Context, tenantID string) ([]string, error)
	ShiftsForStaff(ctx context.Context, tenantID string, staffIDs []string) ([]model.Shift, error)
	TimeOffOverlapping(ctx context.Context, tenantID string, staffIDs []string, windowStart, windowEnd time.Time) ([]model.TimeOff, error)
	BookedItemsOverlapping(ctx context.Context, tenantID string, staffIDs []string, windowStart, windowEnd time.Time) ([]model.AppointmentItem, error)
}

type Query struct {
	TenantID  string
	ServiceID string
	// DateFrom and DateTo are inclusive local calendar dates (YYYY-MM-DD)
	// in the tenant's configured timezone.
	DateFrom           string
	DateTo             string
	PreferredStaffIDs  []string
	GranularityMinutes int
}

type Engine struct {
	store  Store
	logger *slog.Logger
}

func NewEngine(store Store, logger *slog.Logger) *Engine {
	return &Engine{store: store, logger: logger}
}

// Compute returns every bookable slot for the query, sorted by start instant
// with staff id as tie-break. It is a pure read: no locks, no reservations.
//
// Domain conditions that would otherwise be errors (unknown tenant or
// service, malformed or reversed dates, empty staff intersection) degrade to
// an empty result; "no slots" is a valid answer and callers validate input
// upstream. Only store I/O failures surface as errors.
func (e *Engine) Compute(ctx context.Context, q Query) ([]Slot, error) {
	granularity := time.Duration(q.GranularityMinutes) * time.Minute
	if granularity <= 0 {
		granularity = DefaultGranularityMinutes * time.Minute
	}

	tz, ok, err := e.store.TenantTimezone(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		e.logger.Warn("tenant has invalid timezone", "tenant_id", q.TenantID, "tz", tz)
		return nil, nil
	}

	svc, ok, err := e.store.ServiceByID(ctx, q.TenantID, q.ServiceID)
	if err != nil {
		return nil, err
	}
	if !ok || svc.TotalMinutes() <= 0 {
		return nil, nil
	}
	required := time.Duration(svc.TotalMinutes()) * time.Minute

	staffIDs, err := e.store.ActiveStaffIDs(ctx, q.TenantID)
	if err != nil {
		return nil, err
	}
	preferred := make(map[string]bool, len(q.PreferredStaffIDs))
	for _, id := range q.PreferredStaffIDs {
		if id != "" {
			preferred[id] = true
		}
	}
	if len(preferred) > 0 {
		filtered := make([]string, 0, len(staffIDs))
		for _, id := range staffIDs {
			if preferred[id] {
				filtered = append(filtered, id)
			}
		}
		staffIDs = filtered
	}
	if len(staffIDs) == 0 {
		return nil, nil
	}

	fromDay, ok := parseLocalDate(q.DateFrom, loc)
	if !ok {
		return nil, nil
	}
	toDay, ok := parseLocalDate(q.DateTo, loc)
	if !ok || toDay.Before(fromDay) {
		return nil, nil
	}
	windowStart := fromDay
	windowEnd := toDay.AddDate(0, 0, 1)

	// One round of loads per call; everything else is in-memory arithmetic.
	shifts, err := e.store.ShiftsForStaff(ctx, q.TenantID, staffIDs)
	if err != nil {
		return nil, err
	}
	timeOff, err := e.store.TimeOffOverlapping(ctx, q.TenantID, staffIDs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	items, err := e.store.BookedItemsOverlapping(ctx, q.TenantID, staffIDs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}

	shiftsByStaff := make(map[string][]model.Shift)
	for _, s := range shifts {
		shiftsByStaff[s.StaffID] = append(shiftsByStaff[s.StaffID], s)
	}
	busyByStaff := make(map[string][]Interval)
	for _, t := range timeOff {
		busyByStaff[t.StaffID] = append(busyByStaff[t.StaffID], Interval{Start: t.Start, End: t.End})
	}
	itemsByStaff := make(map[string][]Interval)
	for _, it := range items {
		itemsByStaff[it.StaffID] = append(itemsByStaff[it.StaffID], Interval{Start: it.Start, End: it.End})
	}

	var slots []Slot
	for _, staffID := range staffIDs {
		staffShifts := shiftsByStaff[staffID]
		if len(staffShifts) == 0 {
			continue
		}

		for day := fromDay; day.Before(windowEnd); day = day.AddDate(0, 0, 1) {
			var base []Interval
			for _, s := range staffShifts {
				if s.Weekday != day.Weekday() {
					continue
				}
				iv, ok := shiftInterval(day, s, loc)
				if !ok {
					continue
				}
				base = append(base, iv)
			}
			if len(base) == 0 {
				continue
			}

			free := Subtract(base, busyByStaff[staffID])
			free = Subtract(free, itemsByStaff[staffID])

			for _, f := range free {
				latestStart := f.End.Add(-required)
				if latestStart.Before(f.Start) {
					continue
				}
				// A sliver hosting exactly one candidate start gets tagged
				// gap_fill; booking it consumes the interval entirely.
				sliver := latestStart.Sub(f.Start) < granularity

				for t := f.Start; !t.After(latestStart); t = t.Add(granularity) {
					reason := ReasonBestFit
					switch {
					case preferred[staffID]:
						reason = ReasonStaffPref
					case sliver:
						reason = ReasonGapFill
					}
					slots = append(slots, Slot{
						StaffID: staffID,
						Start:   t,
						End:     t.Add(required),
						Reason:  reason,
					})
				}
			}
		}
	}

	sort.Slice(slots, func(i, j int) bool {
		if !slots[i].Start.Equal(slots[j].Start) {
			return slots[i].Start.Before(slots[j].Start)
		}
		return slots[i].StaffID < slots[j].StaffID
	})
	return slots, nil
}

// shiftInterval combines a local calendar date with a shift's local clock
// times and converts to absolute instants. Overnight templates (end not
// strictly after start once combined) are unsupported and skipped.
func shiftInterval(day time.Time, s model.Shift, loc *time.Location) (Interval, bool) {
	startH, startM, startS, ok := parseClock(s.StartClock)
	if !ok {
		return Interval{}, false
	}
	endH, endM, endS, ok := parseClock(s.EndClock)
	if !ok {
		return Interval{}, false
	}
	start := time.Date(day.Year(), day.Month(), day.Day(), startH, startM, startS, 0, loc)
	end := time.Date(day.Year(), day.Month(), day.Day(), endH, endM, endS, 0, loc)
	if !end.After(start) {
		return Interval{}, false
	}
	return Interval{Start: start, End: end}, true
}

func parseLocalDate(s string, loc *time.Location) (time.Time, bool) {
	d, err := time.ParseInLocation("2006-01-02", s, loc)
	if err != nil {
		return time.Time{}, false
	}
	return d, true
}

func parseClock(s string) (hour, min, sec int, ok bool) {
	t, err := time.Parse("15:04:05", s)
	if err != nil {
		t, err = time.Parse("15:04", s)
		if err != nil {
			return 0, 0, 0, false
		}
	}
	return t.Hour(), t.Minute(), t.Second(), true
}
