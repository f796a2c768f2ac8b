package booking

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
)

var (
	ErrDoctorNotFound      = errors.New("doctor not found")
	ErrReservationNotFound = errors.New("reservation not found")

	// ErrSlotUnavailable is the storage-level conflict: another holder
	// already has an active (held or confirmed) reservation on the slot.
	ErrSlotUnavailable = errors.New("slot already has an active reservation")
)

// ClaimParams carries everything ClaimSlot needs to atomically take a slot.
type ClaimParams struct {
	DoctorID  uuid.UUID
	Date      time.Time
	StartMin  int
	EndMin    int
	Holder    HolderIdentity
	Guest     *GuestContact
	ExpiresAt time.Time
	Now       time.Time
}

// Repository contains all storage interactions needed by the service.
//
// ClaimSlot is the critical operation: it must enforce at-most-one active
// reservation per (doctor, date, start) atomically, not by read-then-write.
// The Postgres implementation leans on a partial unique index; the
// in-memory one on a single mutex.
type Repository interface {
	GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error)

	// GetLeave returns the leave records for (doctor, date). The schema
	// allows at most one, but the calendar tolerates duplicates from
	// bad data entry, so this returns a slice.
	GetLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]LeaveRecord, error)

	// ListActiveReservations returns reservations that block slots on
	// (doctor, date) at instant now: confirmed rows plus unexpired holds.
	ListActiveReservations(ctx context.Context, doctorID uuid.UUID, date time.Time, now time.Time) ([]Reservation, error)

	GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error)

	// ClaimSlot inserts a held reservation, first retiring any lapsed hold
	// on the same slot. A still-live hold by the same holder is refreshed
	// and returned instead of inserting (idempotent re-claim). Any other
	// active reservation yields ErrSlotUnavailable.
	ClaimSlot(ctx context.Context, p ClaimParams) (*Reservation, error)

	// UpdateReservationStatus transitions id from one status to another,
	// compare-and-swap style. ErrReservationNotFound means no row was in
	// the expected from status.
	UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error)

	// SweepExpired flips every held reservation with expiresAt <= now to
	// expired and returns the affected ids.
	SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)

	InsertEvent(ctx context.Context, ev EventLog) error
}
