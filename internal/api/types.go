package api

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/medbook/booking-service/internal/booking"
)

type GuestPayload struct {
	Name  string `json:"name"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
}

type CreateReservationRequest struct {
	DoctorID string        `json:"doctor_id"`
	Date     string        `json:"date"`  // YYYY-MM-DD
	Start    string        `json:"start"` // HH:MM
	End      string        `json:"end"`   // HH:MM
	UserID   string        `json:"user_id,omitempty"`
	Guest    *GuestPayload `json:"guest,omitempty"`
	GuestID  string        `json:"guest_id,omitempty"`
}

type ReservationTicketResponse struct {
	ReservationID uuid.UUID  `json:"reservation_id"`
	ExpiresAt     time.Time  `json:"expires_at"`
	GuestID       *uuid.UUID `json:"guest_id,omitempty"`
}

type SlotResponse struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

type SlotListResponse struct {
	DoctorID uuid.UUID      `json:"doctor_id"`
	Date     string         `json:"date"`
	Slots    []SlotResponse `json:"slots"`
}

type ReservationResponse struct {
	ID        uuid.UUID  `json:"id"`
	DoctorID  uuid.UUID  `json:"doctor_id"`
	Date      string     `json:"date"`
	Start     string     `json:"start"`
	End       string     `json:"end"`
	Status    string     `json:"status"`
	Holder    string     `json:"holder"`
	GuestID   *uuid.UUID `json:"guest_id,omitempty"`
	ExpiresAt time.Time  `json:"expires_at"`
	CreatedAt time.Time  `json:"created_at"`
}

type ErrorResponse struct {
	Error   string `json:"error"`
	Details string `json:"details,omitempty"`
}

func toReservationResponse(r *booking.Reservation) ReservationResponse {
	resp := ReservationResponse{
		ID:        r.ID,
		DoctorID:  r.DoctorID,
		Date:      r.Date.Format(booking.DateFormat),
		Start:     minToClock(r.StartMin),
		End:       minToClock(r.EndMin),
		Status:    string(r.Status),
		Holder:    string(r.Holder.Kind),
		ExpiresAt: r.ExpiresAt,
		CreatedAt: r.CreatedAt,
	}
	if r.Holder.Kind == booking.HolderGuest {
		id := r.Holder.ID
		resp.GuestID = &id
	}
	return resp
}

func minToClock(min int) string {
	return fmt.Sprintf("%02d:%02d", min/60, min%60)
}

func clockToMin(s string) (int, error) {
	parts := strings.SplitN(s, ":", 2)
	if len(parts) != 2 {
		return 0, fmt.Errorf("expected HH:MM, got %q", s)
	}
	h, err := strconv.Atoi(parts[0])
	if err != nil {
		return 0, fmt.Errorf("bad hour in %q", s)
	}
	m, err := strconv.Atoi(parts[1])
	if err != nil {
		return 0, fmt.Errorf("bad minute in %q", s)
	}
	if h < 0 || h > 23 || m < 0 || m > 59 {
		return 0, fmt.Errorf("clock value out of range: %q", s)
	}
	return h*60 + m, nil
}
