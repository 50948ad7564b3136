//go:build integration

package booking

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/tmarsland/slotbook/libs/db"
	"github.com/tmarsland/slotbook/services/booking-service/internal/outbox"
	"github.com/tmarsland/slotbook/services/booking-service/internal/storage"
)

const testSchema = `
CREATE TABLE IF NOT EXISTS tenants (
	id uuid PRIMARY KEY,
	name text NOT NULL DEFAULT '',
	tenant_time_zone text NOT NULL DEFAULT 'UTC'
);
CREATE TABLE IF NOT EXISTS services (
	id uuid PRIMARY KEY,
	tenant_id uuid NOT NULL,
	name text NOT NULL DEFAULT '',
	duration_min int NOT NULL,
	prep_min int NOT NULL DEFAULT 0,
	cleanup_min int NOT NULL DEFAULT 0
);
CREATE TABLE IF NOT EXISTS staff (
	id uuid PRIMARY KEY,
	tenant_id uuid NOT NULL,
	name text NOT NULL DEFAULT '',
	active boolean NOT NULL DEFAULT true
);
CREATE TABLE IF NOT EXISTS clients (
	id uuid PRIMARY KEY,
	tenant_id uuid NOT NULL,
	name text NOT NULL DEFAULT '',
	phone text NOT NULL DEFAULT ''
);
CREATE TABLE IF NOT EXISTS appointments (
	id uuid PRIMARY KEY,
	tenant_id uuid NOT NULL,
	client_id uuid NOT NULL,
	start_ts timestamptz NOT NULL,
	end_ts timestamptz NOT NULL,
	status text NOT NULL,
	source text NOT NULL DEFAULT 'api',
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS appointment_items (
	id uuid PRIMARY KEY,
	appointment_id uuid NOT NULL REFERENCES appointments(id),
	tenant_id uuid NOT NULL,
	service_id uuid NOT NULL,
	staff_id uuid NOT NULL,
	start_ts timestamptz NOT NULL,
	end_ts timestamptz NOT NULL
);
CREATE TABLE IF NOT EXISTS idempotency_keys (
	key_hash text PRIMARY KEY,
	tenant_id uuid,
	created_at timestamptz NOT NULL DEFAULT now()
);
CREATE TABLE IF NOT EXISTS outbox_events (
	id bigserial PRIMARY KEY,
	event_id uuid NOT NULL,
	aggregate_type text NOT NULL,
	aggregate_id uuid NOT NULL,
	event_type text NOT NULL,
	payload jsonb NOT NULL,
	traceparent text,
	tracestate text,
	created_at timestamptz NOT NULL DEFAULT now(),
	published_at timestamptz
);
`

type testFixture struct {
	pool      *db.Pool
	committer *Committer
	tenantID  string
	serviceID string
	staffID   string
}

func setupFixture(t *testing.T) *testFixture {
	t.Helper()
	dsn := os.Getenv("TEST_DATABASE_URL")
	if dsn == "" {
		t.Skip("TEST_DATABASE_URL not set")
	}

	ctx := context.Background()
	pool, err := db.Open(ctx, dsn)
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(pool.Close)

	if _, err := pool.Exec(ctx, testSchema); err != nil {
		t.Fatalf("create schema: %v", err)
	}

	f := &testFixture{
		pool:      pool,
		tenantID:  uuid.NewString(),
		serviceID: uuid.NewString(),
		staffID:   uuid.NewString(),
	}
	if _, err := pool.Exec(ctx, `INSERT INTO tenants (id, name, tenant_time_zone) VALUES ($1, 'Test Salon', 'UTC')`, f.tenantID); err != nil {
		t.Fatalf("seed tenant: %v", err)
	}
	if _, err := pool.Exec(ctx, `
		INSERT INTO services (id, tenant_id, name, duration_min, prep_min, cleanup_min)
		VALUES ($1, $2, 'Cut', 40, 10, 10)
	`, f.serviceID, f.tenantID); err != nil {
		t.Fatalf("seed service: %v", err)
	}
	if _, err := pool.Exec(ctx, `INSERT INTO staff (id, tenant_id, name, active) VALUES ($1, $2, 'Sam', true)`, f.staffID, f.tenantID); err != nil {
		t.Fatalf("seed staff: %v", err)
	}

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	f.committer = NewCommitter(storage.NewBookingRepository(pool), outbox.NewRepository(pool), logger)
	return f
}

func (f *testFixture) request(start time.Time, token string) Request {
	return Request{
		TenantID:         f.tenantID,
		Client:           ClientRef{Name: "Walk In", Phone: "555-0100"},
		ServiceID:        f.serviceID,
		StaffID:          f.staffID,
		Start:            start,
		IdempotencyToken: token,
	}
}

func (f *testFixture) itemCount(t *testing.T) int {
	t.Helper()
	var n int
	err := f.pool.QueryRow(context.Background(), `
		SELECT count(*) FROM appointment_items WHERE tenant_id = $1 AND staff_id = $2
	`, f.tenantID, f.staffID).Scan(&n)
	if err != nil {
		t.Fatalf("count items: %v", err)
	}
	return n
}

func TestBook_CommitAndOverlapRejection(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	res, err := f.committer.Book(ctx, f.request(start, ""))
	if err != nil {
		t.Fatalf("book: %v", err)
	}
	if !res.End.Equal(start.Add(time.Hour)) {
		t.Fatalf("expected 60-minute span, got %s", res.End)
	}

	// Identical start collides outright.
	if _, err := f.committer.Book(ctx, f.request(start, "")); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken, got %v", err)
	}
	// A different start whose window intersects also collides.
	if _, err := f.committer.Book(ctx, f.request(start.Add(30*time.Minute), "")); !errors.Is(err, ErrSlotTaken) {
		t.Fatalf("expected ErrSlotTaken for intersecting window, got %v", err)
	}
	// Touching windows do not conflict.
	if _, err := f.committer.Book(ctx, f.request(start.Add(time.Hour), "")); err != nil {
		t.Fatalf("adjacent booking must succeed: %v", err)
	}

	if n := f.itemCount(t); n != 2 {
		t.Fatalf("expected 2 items, got %d", n)
	}
}

func TestBook_ServiceNotFoundRollsBack(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()

	req := f.request(time.Date(2026, 3, 3, 9, 0, 0, 0, time.UTC), "nf-token")
	req.ServiceID = uuid.NewString()
	if _, err := f.committer.Book(ctx, req); !errors.Is(err, ErrServiceNotFound) {
		t.Fatalf("expected ErrServiceNotFound, got %v", err)
	}

	// Rollback is total: the consumed idempotency marker is gone too, so a
	// corrected retry with the same token may proceed.
	var n int
	if err := f.pool.QueryRow(ctx, `
		SELECT count(*) FROM idempotency_keys WHERE key_hash = $1
	`, HashToken("nf-token")).Scan(&n); err != nil {
		t.Fatalf("count keys: %v", err)
	}
	if n != 0 {
		t.Fatal("idempotency marker must not survive a rolled-back attempt")
	}
}

func TestBook_IdempotencyOneShot(t *testing.T) {
	f := setupFixture(t)
	ctx := context.Background()
	start := time.Date(2026, 3, 4, 9, 0, 0, 0, time.UTC)

	if _, err := f.committer.Book(ctx, f.request(start, "idem-token")); err != nil {
		t.Fatalf("first booking: %v", err)
	}
	if _, err := f.committer.Book(ctx, f.request(start, "idem-token")); !errors.Is(err, ErrDuplicateRequest) {
		t.Fatalf("expected ErrDuplicateRequest, got %v", err)
	}
	if n := f.itemCount(t); n != 1 {
		t.Fatalf("expected exactly 1 item after duplicate, got %d", n)
	}
}

func TestBook_NoDoubleBookingUnderConcurrency(t *testing.T) {
	f := setupFixture(t)
	start := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)

	const attempts = 8
	errs := make([]error, attempts)
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// Half race on the identical start, half on an intersecting one.
			s := start
			if i%2 == 1 {
				s = start.Add(30 * time.Minute)
			}
			_, errs[i] = f.committer.Book(context.Background(), f.request(s, ""))
		}(i)
	}
	wg.Wait()

	succeeded := 0
	for _, err := range errs {
		switch {
		case err == nil:
			succeeded++
		case errors.Is(err, ErrSlotTaken):
		case storage.IsSerializationFailure(err):
			// Retryable by contract; counts as a legitimate failure here.
		default:
			t.Fatalf("unexpected error: %v", err)
		}
	}
	if succeeded != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", succeeded)
	}

	var overlapping int
	err := f.pool.QueryRow(context.Background(), `
		SELECT count(*)
		FROM appointment_items a
		JOIN appointment_items b ON a.staff_id = b.staff_id AND a.id < b.id
			AND a.start_ts < b.end_ts AND b.start_ts < a.end_ts
		WHERE a.tenant_id = $1 AND a.staff_id = $2
	`, f.tenantID, f.staffID).Scan(&overlapping)
	if err != nil {
		t.Fatalf("overlap audit: %v", err)
	}
	if overlapping != 0 {
		t.Fatalf("found %d overlapping item pairs", overlapping)
	}
}
