package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/tmarsland/slotbook/libs/db"
	"github.com/tmarsland/slotbook/services/booking-service/internal/model"
)

// SchedulingRepository serves the availability engine's read side. Every
// query is scoped by tenant id; nothing here takes locks or blocks writers.
type SchedulingRepository struct {
	pool *db.Pool
}

func NewSchedulingRepository(pool *db.Pool) *SchedulingRepository {
	return &SchedulingRepository{pool: pool}
}

func (r *SchedulingRepository) TenantTimezone(ctx context.Context, tenantID string) (string, bool, error) {
	var tz string
	err := r.pool.QueryRow(ctx, `
		SELECT tenant_time_zone
		FROM tenants
		WHERE id = $1
	`, tenantID).Scan(&tz)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return tz, true, nil
}

func (r *SchedulingRepository) ServiceByID(ctx context.Context, tenantID, serviceID string) (model.Service, bool, error) {
	var svc model.Service
	err := r.pool.QueryRow(ctx, `
		SELECT id::text, tenant_id::text, name, duration_min, prep_min, cleanup_min
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, serviceID, tenantID).Scan(&svc.ID, &svc.TenantID, &svc.Name, &svc.DurationMin, &svc.PrepMin, &svc.CleanupMin)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Service{}, false, nil
	}
	if err != nil {
		return model.Service{}, false, err
	}
	return svc, true, nil
}

func (r *SchedulingRepository) ActiveStaffIDs(ctx context.Context, tenantID string) ([]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text
		FROM staff
		WHERE tenant_id = $1 AND active = true
		ORDER BY id
	`, tenantID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

func (r *SchedulingRepository) ShiftsForStaff(ctx context.Context, tenantID string, staffIDs []string) ([]model.Shift, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, tenant_id::text, staff_id::text, weekday, start_time::text, end_time::text
		FROM shifts
		WHERE tenant_id = $1 AND staff_id = ANY($2::uuid[])
	`, tenantID, staffIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var shifts []model.Shift
	for rows.Next() {
		var s model.Shift
		var weekday int
		if err := rows.Scan(&s.ID, &s.TenantID, &s.StaffID, &weekday, &s.StartClock, &s.EndClock); err != nil {
			return nil, err
		}
		s.Weekday = time.Weekday(weekday)
		shifts = append(shifts, s)
	}
	return shifts, rows.Err()
}

func (r *SchedulingRepository) TimeOffOverlapping(ctx context.Context, tenantID string, staffIDs []string, windowStart, windowEnd time.Time) ([]model.TimeOff, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, tenant_id::text, staff_id::text, start_ts, end_ts
		FROM time_off
		WHERE tenant_id = $1
			AND staff_id = ANY($2::uuid[])
			AND start_ts < $4
			AND end_ts > $3
	`, tenantID, staffIDs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var offs []model.TimeOff
	for rows.Next() {
		var t model.TimeOff
		if err := rows.Scan(&t.ID, &t.TenantID, &t.StaffID, &t.Start, &t.End); err != nil {
			return nil, err
		}
		offs = append(offs, t)
	}
	return offs, rows.Err()
}

func (r *SchedulingRepository) BookedItemsOverlapping(ctx context.Context, tenantID string, staffIDs []string, windowStart, windowEnd time.Time) ([]model.AppointmentItem, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id::text, appointment_id::text, tenant_id::text, service_id::text, staff_id::text, start_ts, end_ts
		FROM appointment_items
		WHERE tenant_id = $1
			AND staff_id = ANY($2::uuid[])
			AND start_ts < $4
			AND end_ts > $3
	`, tenantID, staffIDs, windowStart, windowEnd)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var items []model.AppointmentItem
	for rows.Next() {
		var it model.AppointmentItem
		if err := rows.Scan(&it.ID, &it.AppointmentID, &it.TenantID, &it.ServiceID, &it.StaffID, &it.Start, &it.End); err != nil {
			return nil, err
		}
		items = append(items, it)
	}
	return items, rows.Err()
}
