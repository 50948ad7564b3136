package booking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/tmarsland/slotbook/services/booking-service/internal/model"
	"github.com/tmarsland/slotbook/services/booking-service/internal/outbox"
	"github.com/tmarsland/slotbook/services/booking-service/internal/storage"
)

var (
	// ErrDuplicateRequest is a benign short-circuit, not a failure: the
	// idempotency token was already consumed by an earlier attempt.
	ErrDuplicateRequest = errors.New("idempotency token already consumed")
	ErrServiceNotFound  = errors.New("service not found for tenant")
	ErrSlotTaken        = errors.New("requested window overlaps an existing booking")
)

type ClientRef struct {
	ID    string
	Name  string
	Phone string
}

type Request struct {
	TenantID         string
	Client           ClientRef
	ServiceID        string
	StaffID          string
	Start            time.Time
	Source           string
	IdempotencyToken string
}

type Result struct {
	AppointmentID string
	Start         time.Time
	End           time.Time
}

// Committer reserves a slot as one serializable transaction. The advisory
// lock serializes racers on the identical (tenant, staff, start) tuple; the
// overlap query is the authoritative conflict check for everything else,
// with serializable isolation as the backstop. Any failure rolls back the
// whole attempt; partial state is never visible.
type Committer struct {
	repo   *storage.BookingRepository
	outbox *outbox.Repository
	logger *slog.Logger
}

func NewCommitter(repo *storage.BookingRepository, outboxRepo *outbox.Repository, logger *slog.Logger) *Committer {
	return &Committer{repo: repo, outbox: outboxRepo, logger: logger}
}

func (c *Committer) Book(ctx context.Context, req Request) (Result, error) {
	tx, err := c.repo.Begin(ctx)
	if err != nil {
		return Result{}, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if req.IdempotencyToken != "" {
		inserted, err := c.repo.ConsumeIdempotencyKey(ctx, tx, req.TenantID, HashToken(req.IdempotencyToken))
		if err != nil {
			return Result{}, err
		}
		if !inserted {
			return Result{}, ErrDuplicateRequest
		}
	}

	start := req.Start.UTC()
	if err := c.repo.AcquireSlotLock(ctx, tx, SlotLockKey(req.TenantID, req.StaffID, start)); err != nil {
		return Result{}, err
	}

	totalMin, err := c.repo.ServiceTotalMinutes(ctx, tx, req.TenantID, req.ServiceID)
	if err != nil {
		if storage.IsNotFound(err) {
			return Result{}, ErrServiceNotFound
		}
		return Result{}, err
	}
	end := start.Add(time.Duration(totalMin) * time.Minute)

	taken, err := c.repo.HasOverlappingItem(ctx, tx, req.TenantID, req.StaffID, start, end)
	if err != nil {
		return Result{}, err
	}
	if taken {
		return Result{}, ErrSlotTaken
	}

	clientID := req.Client.ID
	if clientID == "" {
		name := req.Client.Name
		if name == "" {
			name = "Guest"
		}
		clientID, err = c.repo.InsertClient(ctx, tx, model.Client{
			TenantID: req.TenantID,
			Name:     name,
			Phone:    req.Client.Phone,
		})
		if err != nil {
			return Result{}, err
		}
	}

	source := req.Source
	if source == "" {
		source = "api"
	}
	apptID, err := c.repo.InsertAppointment(ctx, tx, model.Appointment{
		TenantID: req.TenantID,
		ClientID: clientID,
		Start:    start,
		End:      end,
		Status:   "confirmed",
		Source:   source,
	})
	if err != nil {
		return Result{}, err
	}
	if err := c.repo.InsertAppointmentItem(ctx, tx, model.AppointmentItem{
		AppointmentID: apptID,
		TenantID:      req.TenantID,
		ServiceID:     req.ServiceID,
		StaffID:       req.StaffID,
		Start:         start,
		End:           end,
	}); err != nil {
		return Result{}, err
	}

	payload, err := json.Marshal(map[string]any{
		"appointment_id": apptID,
		"tenant_id":      req.TenantID,
		"client_id":      clientID,
		"service_id":     req.ServiceID,
		"staff_id":       req.StaffID,
		"start_ts":       start.Format(time.RFC3339),
		"end_ts":         end.Format(time.RFC3339),
		"source":         source,
	})
	if err != nil {
		return Result{}, err
	}
	if err := c.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   apptID,
		EventType:     "booking.appointment.booked.v1",
		Payload:       payload,
	}); err != nil {
		return Result{}, err
	}

	if err := tx.Commit(ctx); err != nil {
		return Result{}, err
	}
	c.logger.Info("appointment booked",
		"tenant_id", req.TenantID,
		"appointment_id", apptID,
		"staff_id", req.StaffID,
		"start_ts", start.Format(time.RFC3339),
	)
	return Result{AppointmentID: apptID, Start: start, End: end}, nil
}

// HashToken maps a caller-supplied idempotency token to the stored marker.
// Only the hash is persisted; tokens may carry caller-side meaning.
func HashToken(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}

// SlotLockKey is the advisory-lock key for one (tenant, staff, start)
// tuple. Start is UTC-normalized so the same instant always yields the same
// key regardless of the caller's offset.
func SlotLockKey(tenantID, staffID string, start time.Time) string {
	return fmt.Sprintf("%s:%s:%s", tenantID, staffID, start.UTC().Format(time.RFC3339))
}
