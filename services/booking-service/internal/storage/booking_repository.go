package storage

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/tmarsland/slotbook/libs/db"
	"github.com/tmarsland/slotbook/services/booking-service/internal/model"
)

// BookingRepository holds the write-side queries of the booking commit
// protocol. Every method runs on the caller's transaction so the committer
// controls atomicity; nothing here commits or rolls back.
type BookingRepository struct {
	pool *db.Pool
}

func NewBookingRepository(pool *db.Pool) *BookingRepository {
	return &BookingRepository{pool: pool}
}

func (r *BookingRepository) Begin(ctx context.Context) (pgx.Tx, error) {
	return r.pool.BeginSerializable(ctx)
}

// ConsumeIdempotencyKey inserts the key hash as a one-shot marker. A false
// return means the marker already existed: the request is a duplicate.
func (r *BookingRepository) ConsumeIdempotencyKey(ctx context.Context, tx pgx.Tx, tenantID, keyHash string) (bool, error) {
	tag, err := tx.Exec(ctx, `
		INSERT INTO idempotency_keys (key_hash, tenant_id)
		VALUES ($1, $2)
		ON CONFLICT (key_hash) DO NOTHING
	`, keyHash, tenantID)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// AcquireSlotLock takes a transaction-scoped advisory lock on the composite
// key. It releases automatically on commit or rollback.
func (r *BookingRepository) AcquireSlotLock(ctx context.Context, tx pgx.Tx, key string) error {
	_, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key)
	return err
}

func (r *BookingRepository) ServiceTotalMinutes(ctx context.Context, tx pgx.Tx, tenantID, serviceID string) (int, error) {
	var duration, prep, cleanup int
	err := tx.QueryRow(ctx, `
		SELECT duration_min, prep_min, cleanup_min
		FROM services
		WHERE id = $1 AND tenant_id = $2
	`, serviceID, tenantID).Scan(&duration, &prep, &cleanup)
	if err != nil {
		return 0, err
	}
	return duration + prep + cleanup, nil
}

// HasOverlappingItem is the authoritative conflict check: a half-open range
// intersection over the staff member's existing items.
func (r *BookingRepository) HasOverlappingItem(ctx context.Context, tx pgx.Tx, tenantID, staffID string, start, end time.Time) (bool, error) {
	var exists bool
	err := tx.QueryRow(ctx, `
		SELECT EXISTS (
			SELECT 1
			FROM appointment_items
			WHERE tenant_id = $1
				AND staff_id = $2
				AND start_ts < $4
				AND end_ts > $3
		)
	`, tenantID, staffID, start, end).Scan(&exists)
	return exists, err
}

func (r *BookingRepository) InsertClient(ctx context.Context, tx pgx.Tx, c model.Client) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO clients (id, tenant_id, name, phone)
		VALUES ($1, $2, $3, $4)
	`, id, c.TenantID, c.Name, c.Phone)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) InsertAppointment(ctx context.Context, tx pgx.Tx, appt model.Appointment) (string, error) {
	id := uuid.NewString()
	_, err := tx.Exec(ctx, `
		INSERT INTO appointments (id, tenant_id, client_id, start_ts, end_ts, status, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, id, appt.TenantID, appt.ClientID, appt.Start, appt.End, appt.Status, appt.Source)
	if err != nil {
		return "", err
	}
	return id, nil
}

func (r *BookingRepository) InsertAppointmentItem(ctx context.Context, tx pgx.Tx, item model.AppointmentItem) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO appointment_items (id, appointment_id, tenant_id, service_id, staff_id, start_ts, end_ts)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
	`, uuid.NewString(), item.AppointmentID, item.TenantID, item.ServiceID, item.StaffID, item.Start, item.End)
	return err
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// IsSerializationFailure reports whether the database aborted the
// transaction because of a true concurrent conflict (SQLSTATE 40001).
// Callers should retry the whole booking attempt.
func IsSerializationFailure(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "40001"
}
