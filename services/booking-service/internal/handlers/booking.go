package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/tmarsland/slotbook/services/booking-service/internal/availability"
	"github.com/tmarsland/slotbook/services/booking-service/internal/booking"
	"github.com/tmarsland/slotbook/services/booking-service/internal/storage"
)

const tenantHeader = "X-Tenant-Id"

type AvailabilityEngine interface {
	Compute(ctx context.Context, q availability.Query) ([]availability.Slot, error)
}

type Committer interface {
	Book(ctx context.Context, req booking.Request) (booking.Result, error)
}

type BookingHandler struct {
	engine    AvailabilityEngine
	committer Committer
	logger    *slog.Logger
}

func NewBookingHandler(engine AvailabilityEngine, committer Committer, logger *slog.Logger) *BookingHandler {
	return &BookingHandler{engine: engine, committer: committer, logger: logger}
}

type slotItem struct {
	StaffID string `json:"staff_id"`
	StartTS string `json:"start_ts"`
	EndTS   string `json:"end_ts"`
	Reason  string `json:"reason"`
}

type createBookingRequest struct {
	ServiceID string `json:"service_id"`
	StaffID   string `json:"staff_id"`
	StartTS   string `json:"start_ts"`
	Source    string `json:"source"`
	Client    struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Phone string `json:"phone"`
	} `json:"client"`
}

type createBookingResponse struct {
	AppointmentID string `json:"appointment_id"`
	StartTS       string `json:"start_ts"`
	EndTS         string `json:"end_ts"`
}

// Availability serves GET /api/v1/availability. The engine itself degrades
// bad domain input to an empty list; the handler only rejects requests a
// well-behaved caller would never send.
func (h *BookingHandler) Availability(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
	serviceID := strings.TrimSpace(r.URL.Query().Get("service_id"))
	dateFrom := strings.TrimSpace(r.URL.Query().Get("date_from"))
	dateTo := strings.TrimSpace(r.URL.Query().Get("date_to"))
	if tenantID == "" || serviceID == "" || dateFrom == "" || dateTo == "" {
		http.Error(w, "tenant, service_id, date_from, and date_to are required", http.StatusBadRequest)
		return
	}

	var preferred []string
	if raw := strings.TrimSpace(r.URL.Query().Get("staff_ids")); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			if id = strings.TrimSpace(id); id != "" {
				preferred = append(preferred, id)
			}
		}
	}

	granularity := 0
	if raw := strings.TrimSpace(r.URL.Query().Get("granularity_minutes")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 120 {
			http.Error(w, "invalid granularity_minutes", http.StatusBadRequest)
			return
		}
		granularity = n
	}

	slots, err := h.engine.Compute(r.Context(), availability.Query{
		TenantID:           tenantID,
		ServiceID:          serviceID,
		DateFrom:           dateFrom,
		DateTo:             dateTo,
		PreferredStaffIDs:  preferred,
		GranularityMinutes: granularity,
	})
	if err != nil {
		h.logger.Error("availability computation failed", "err", err)
		http.Error(w, "failed to compute availability", http.StatusInternalServerError)
		return
	}

	items := make([]slotItem, 0, len(slots))
	for _, s := range slots {
		items = append(items, slotItem{
			StaffID: s.StaffID,
			StartTS: s.Start.UTC().Format(time.RFC3339),
			EndTS:   s.End.UTC().Format(time.RFC3339),
			Reason:  string(s.Reason),
		})
	}
	writeJSON(w, http.StatusOK, items)
}

// Create serves POST /api/v1/bookings.
func (h *BookingHandler) Create(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	tenantID := strings.TrimSpace(r.Header.Get(tenantHeader))
	if tenantID == "" {
		http.Error(w, "tenant required", http.StatusBadRequest)
		return
	}

	var req createBookingRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, "invalid json body", http.StatusBadRequest)
		return
	}
	req.ServiceID = strings.TrimSpace(req.ServiceID)
	req.StaffID = strings.TrimSpace(req.StaffID)
	if req.ServiceID == "" || req.StaffID == "" {
		http.Error(w, "service_id and staff_id are required", http.StatusBadRequest)
		return
	}
	start, err := time.Parse(time.RFC3339, strings.TrimSpace(req.StartTS))
	if err != nil {
		http.Error(w, "invalid start_ts", http.StatusBadRequest)
		return
	}

	result, err := h.committer.Book(r.Context(), booking.Request{
		TenantID: tenantID,
		Client: booking.ClientRef{
			ID:    strings.TrimSpace(req.Client.ID),
			Name:  strings.TrimSpace(req.Client.Name),
			Phone: strings.TrimSpace(req.Client.Phone),
		},
		ServiceID:        req.ServiceID,
		StaffID:          req.StaffID,
		Start:            start,
		Source:           strings.TrimSpace(req.Source),
		IdempotencyToken: strings.TrimSpace(r.Header.Get("Idempotency-Key")),
	})
	if err != nil {
		h.writeBookingError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, createBookingResponse{
		AppointmentID: result.AppointmentID,
		StartTS:       result.Start.UTC().Format(time.RFC3339),
		EndTS:         result.End.UTC().Format(time.RFC3339),
	})
}

func (h *BookingHandler) writeBookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrDuplicateRequest):
		// Not a failure: the first attempt already booked. The caller keeps
		// its original response; a retry must never yield a second booking.
		writeJSON(w, http.StatusConflict, map[string]string{"error": "duplicate_request"})
	case errors.Is(err, booking.ErrSlotTaken):
		writeJSON(w, http.StatusConflict, map[string]string{"error": "slot_taken"})
	case errors.Is(err, booking.ErrServiceNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "service_not_found"})
	case storage.IsSerializationFailure(err):
		writeJSON(w, http.StatusConflict, map[string]any{"error": "concurrent_conflict", "retryable": true})
	default:
		h.logger.Error("booking failed", "err", err)
		http.Error(w, "failed to create booking", http.StatusInternalServerError)
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	body, err := json.Marshal(v)
	if err != nil {
		http.Error(w, "failed to build response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
