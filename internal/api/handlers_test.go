package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/booking-service/internal/booking"
	"github.com/medbook/booking-service/internal/config"
)

type passLocker struct{}

func (passLocker) WithSlotLock(ctx context.Context, _ string, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

// newTestServer builds the router over an in-memory repository with one
// doctor working 09:00-17:00 a week from now.
func newTestServer(t *testing.T) (http.Handler, uuid.UUID, string) {
	t.Helper()

	repo := booking.NewMemoryRepository()
	date := time.Now().UTC().AddDate(0, 0, 7)
	doctorID := uuid.New()
	repo.AddDoctor(booking.Doctor{
		ID:          doctorID,
		Name:        "Dr. Chen",
		SlotMinutes: 30,
		Hours: []booking.WorkingHours{
			{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 17 * 60},
		},
	})

	cfg := config.Config{
		Env:          "test",
		HoldTTL:      10 * time.Minute,
		SlotMinutes:  30,
		MiddayMinute: 12 * 60,
		Location:     time.UTC,
	}
	svc := booking.NewService(repo, passLocker{}, cfg, zerolog.Nop())

	router := NewRouter(RouterConfig{
		Service: svc,
		Env:     "test",
		Version: "test",
		Logger:  zerolog.Nop(),
	})

	return router, doctorID, date.Format(booking.DateFormat)
}

func doJSON(t *testing.T, h http.Handler, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}

	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func guestBody(doctorID uuid.UUID, date, start, end string) map[string]any {
	return map[string]any{
		"doctor_id": doctorID.String(),
		"date":      date,
		"start":     start,
		"end":       end,
		"guest": map[string]string{
			"name":  "Pat Doe",
			"email": "pat@example.com",
		},
	}
}

func TestListSlots(t *testing.T) {
	router, doctorID, date := newTestServer(t)

	rec := doJSON(t, router, "GET", fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, date), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	resp := decode[SlotListResponse](t, rec)
	if len(resp.Slots) != 16 {
		t.Fatalf("got %d slots, want 16", len(resp.Slots))
	}
	if resp.Slots[0].Start != "09:00" || resp.Slots[0].End != "09:30" {
		t.Fatalf("first slot = %s-%s, want 09:00-09:30", resp.Slots[0].Start, resp.Slots[0].End)
	}
}

func TestListSlotsErrors(t *testing.T) {
	router, doctorID, date := newTestServer(t)
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format(booking.DateFormat)

	tests := []struct {
		name     string
		path     string
		wantCode int
		wantErr  string
	}{
		{"bad doctor id", "/doctors/nope/slots?date=" + date, http.StatusBadRequest, "invalid_doctor_id"},
		{"bad date", fmt.Sprintf("/doctors/%s/slots?date=07-10-2025", doctorID), http.StatusBadRequest, "invalid_date"},
		{"past date", fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, yesterday), http.StatusBadRequest, "date_in_past"},
		{"unknown doctor", fmt.Sprintf("/doctors/%s/slots?date=%s", uuid.New(), date), http.StatusNotFound, "doctor_not_found"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, "GET", tt.path, nil)
			if rec.Code != tt.wantCode {
				t.Fatalf("status = %d, want %d (body %s)", rec.Code, tt.wantCode, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Error != tt.wantErr {
				t.Fatalf("error = %q, want %q", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestCreateReservationGuest(t *testing.T) {
	router, doctorID, date := newTestServer(t)

	rec := doJSON(t, router, "POST", "/reservations", guestBody(doctorID, date, "10:00", "10:30"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	ticket := decode[ReservationTicketResponse](t, rec)
	if ticket.ReservationID == uuid.Nil {
		t.Fatal("missing reservation_id")
	}
	if ticket.GuestID == nil {
		t.Fatal("guest booking must return guest_id")
	}

	// The slot is gone from availability.
	rec = doJSON(t, router, "GET", fmt.Sprintf("/doctors/%s/slots?date=%s", doctorID, date), nil)
	slots := decode[SlotListResponse](t, rec)
	if len(slots.Slots) != 15 {
		t.Fatalf("got %d slots after booking, want 15", len(slots.Slots))
	}

	// Another guest hitting the same slot gets a conflict.
	rec = doJSON(t, router, "POST", "/reservations", guestBody(doctorID, date, "10:00", "10:30"))
	if rec.Code != http.StatusConflict {
		t.Fatalf("duplicate booking status = %d, want 409 (body %s)", rec.Code, rec.Body.String())
	}
	resp := decode[ErrorResponse](t, rec)
	if resp.Error != "slot_unavailable" {
		t.Fatalf("error = %q, want slot_unavailable", resp.Error)
	}
}

func TestCreateReservationUser(t *testing.T) {
	router, doctorID, date := newTestServer(t)

	body := map[string]any{
		"doctor_id": doctorID.String(),
		"date":      date,
		"start":     "11:00",
		"end":       "11:30",
		"user_id":   uuid.NewString(),
	}
	rec := doJSON(t, router, "POST", "/reservations", body)
	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}

	ticket := decode[ReservationTicketResponse](t, rec)
	if ticket.GuestID != nil {
		t.Fatal("authenticated booking must not return guest_id")
	}
}

func TestCreateReservationValidation(t *testing.T) {
	router, doctorID, date := newTestServer(t)

	tests := []struct {
		name    string
		body    map[string]any
		wantErr string
	}{
		{
			"no requester",
			map[string]any{"doctor_id": doctorID.String(), "date": date, "start": "10:00", "end": "10:30"},
			"invalid_requester",
		},
		{
			"bad doctor id",
			map[string]any{"doctor_id": "nope", "date": date, "start": "10:00", "end": "10:30", "user_id": uuid.NewString()},
			"invalid_doctor_id",
		},
		{
			"bad start",
			map[string]any{"doctor_id": doctorID.String(), "date": date, "start": "ten", "end": "10:30", "user_id": uuid.NewString()},
			"invalid_start",
		},
		{
			"unaligned window",
			map[string]any{"doctor_id": doctorID.String(), "date": date, "start": "10:10", "end": "10:40", "user_id": uuid.NewString()},
			"slot_not_bookable",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := doJSON(t, router, "POST", "/reservations", tt.body)
			if rec.Code != http.StatusBadRequest {
				t.Fatalf("status = %d, want 400 (body %s)", rec.Code, rec.Body.String())
			}
			resp := decode[ErrorResponse](t, rec)
			if resp.Error != tt.wantErr {
				t.Fatalf("error = %q, want %q", resp.Error, tt.wantErr)
			}
		})
	}
}

func TestConfirmAndReleaseFlow(t *testing.T) {
	router, doctorID, date := newTestServer(t)

	rec := doJSON(t, router, "POST", "/reservations", guestBody(doctorID, date, "10:00", "10:30"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("reserve status = %d", rec.Code)
	}
	ticket := decode[ReservationTicketResponse](t, rec)

	rec = doJSON(t, router, "POST", fmt.Sprintf("/reservations/%s/confirm", ticket.ReservationID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("confirm status = %d, body %s", rec.Code, rec.Body.String())
	}
	confirmed := decode[ReservationResponse](t, rec)
	if confirmed.Status != "confirmed" {
		t.Fatalf("status = %q, want confirmed", confirmed.Status)
	}

	// Confirming twice is an invalid transition.
	rec = doJSON(t, router, "POST", fmt.Sprintf("/reservations/%s/confirm", ticket.ReservationID), nil)
	if rec.Code != http.StatusConflict {
		t.Fatalf("double confirm status = %d, want 409", rec.Code)
	}

	rec = doJSON(t, router, "POST", fmt.Sprintf("/reservations/%s/release", ticket.ReservationID), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("release status = %d, body %s", rec.Code, rec.Body.String())
	}
	released := decode[ReservationResponse](t, rec)
	if released.Status != "cancelled" {
		t.Fatalf("status = %q, want cancelled", released.Status)
	}

	// The slot is bookable again.
	rec = doJSON(t, router, "POST", "/reservations", guestBody(doctorID, date, "10:00", "10:30"))
	if rec.Code != http.StatusCreated {
		t.Fatalf("re-reserve status = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestGetReservation(t *testing.T) {
	router, doctorID, date := newTestServer(t)

	rec := doJSON(t, router, "POST", "/reservations", guestBody(doctorID, date, "09:00", "09:30"))
	ticket := decode[ReservationTicketResponse](t, rec)

	rec = doJSON(t, router, "GET", "/reservations/"+ticket.ReservationID.String(), nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, body %s", rec.Code, rec.Body.String())
	}
	res := decode[ReservationResponse](t, rec)
	if res.ID != ticket.ReservationID || res.Status != "held" || res.Start != "09:00" {
		t.Fatalf("unexpected reservation payload: %+v", res)
	}

	rec = doJSON(t, router, "GET", "/reservations/"+uuid.NewString(), nil)
	if rec.Code != http.StatusNotFound {
		t.Fatalf("unknown reservation status = %d, want 404", rec.Code)
	}
}
