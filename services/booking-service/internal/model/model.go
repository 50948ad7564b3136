package model

import "time"

// Tenant wall-clock interpretation (shifts, query date ranges) happens in
// Timezone; every persisted timestamp is an absolute UTC instant.
type Tenant struct {
	ID       string
	Name     string
	Timezone string
}

type Staff struct {
	ID       string
	TenantID string
	Name     string
	Active   bool
	Skills   []string
}

type Service struct {
	ID          string
	TenantID    string
	Name        string
	DurationMin int
	PrepMin     int
	CleanupMin  int
}

// TotalMinutes is the contiguous span a booking of this service occupies:
// prep and cleanup are not separately bookable by other clients.
func (s Service) TotalMinutes() int {
	return s.PrepMin + s.DurationMin + s.CleanupMin
}

// Shift is a weekly recurring availability template. Weekday follows Go's
// time.Weekday numbering (0 = Sunday .. 6 = Saturday). StartClock and
// EndClock are local times of day ("09:00" or "09:00:00"), reinterpreted
// against every calendar date in a query window.
type Shift struct {
	ID         string
	TenantID   string
	StaffID    string
	Weekday    time.Weekday
	StartClock string
	EndClock   string
}

type TimeOff struct {
	ID       string
	TenantID string
	StaffID  string
	Start    time.Time
	End      time.Time
}

type Client struct {
	ID       string
	TenantID string
	Name     string
	Phone    string
}

type Appointment struct {
	ID        string
	TenantID  string
	ClientID  string
	Start     time.Time
	End       time.Time
	Status    string
	Source    string
	CreatedAt time.Time
}

// AppointmentItem is the unit that occupies staff time. For one staff member
// no two items may have overlapping [Start, End) ranges.
type AppointmentItem struct {
	ID            string
	AppointmentID string
	TenantID      string
	ServiceID     string
	StaffID       string
	Start         time.Time
	End           time.Time
}
