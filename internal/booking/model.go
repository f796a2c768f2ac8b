package booking

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// DateFormat is the wire and storage format for calendar dates.
const DateFormat = "2006-01-02"

type ReservationStatus string

const (
	StatusHeld      ReservationStatus = "held"
	StatusConfirmed ReservationStatus = "confirmed"
	StatusExpired   ReservationStatus = "expired"
	StatusCancelled ReservationStatus = "cancelled"
)

type LeaveKind string

const (
	LeaveFullDay   LeaveKind = "full_day"
	LeaveMorning   LeaveKind = "morning"
	LeaveAfternoon LeaveKind = "afternoon"
)

type HolderKind string

const (
	HolderUser  HolderKind = "user"
	HolderGuest HolderKind = "guest"
)

// WorkingHours is one weekday entry of a doctor's hour template.
// Times are minutes from midnight.
type WorkingHours struct {
	Weekday  time.Weekday
	StartMin int
	EndMin   int
}

type Doctor struct {
	ID          uuid.UUID
	Name        string
	Specialty   *string
	SlotMinutes int
	Hours       []WorkingHours
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// hoursFor returns the working-hour entry for the weekday of d, if any.
func (doc *Doctor) hoursFor(weekday time.Weekday) (WorkingHours, bool) {
	for _, wh := range doc.Hours {
		if wh.Weekday == weekday {
			return wh, true
		}
	}
	return WorkingHours{}, false
}

type LeaveRecord struct {
	DoctorID uuid.UUID
	Date     time.Time
	Kind     LeaveKind
	Reason   *string
}

// Slot is a derived bookable window. It is computed fresh on every
// availability query and never persisted.
type Slot struct {
	DoctorID uuid.UUID
	Date     time.Time
	StartMin int
	EndMin   int
}

// Key identifies the slot for conflict and locking purposes.
func (s Slot) Key() string {
	return SlotKey(s.DoctorID, s.Date, s.StartMin)
}

// SlotKey builds the active-reservation key for a (doctor, date, start).
func SlotKey(doctorID uuid.UUID, date time.Time, startMin int) string {
	return fmt.Sprintf("%s:%s:%d", doctorID, date.Format(DateFormat), startMin)
}

// HolderIdentity names who owns a reservation: a registered user or a
// guest identifier minted for supplied contact details.
type HolderIdentity struct {
	Kind HolderKind
	ID   uuid.UUID
}

// GuestContact is the contact information a guest supplies instead of an
// account. It is stored alongside the reservation so the downstream
// confirmation step can reach the guest.
type GuestContact struct {
	Name  string
	Email string
	Phone string
}

type Reservation struct {
	ID        uuid.UUID
	DoctorID  uuid.UUID
	Date      time.Time
	StartMin  int
	EndMin    int
	Holder    HolderIdentity
	Guest     *GuestContact
	Status    ReservationStatus
	CreatedAt time.Time
	UpdatedAt time.Time
	ExpiresAt time.Time
}

// Active reports whether the reservation blocks its slot at instant now.
// A held reservation whose hold window has lapsed no longer blocks, even
// before the sweeper has flipped its status.
func (r *Reservation) Active(now time.Time) bool {
	switch r.Status {
	case StatusConfirmed:
		return true
	case StatusHeld:
		return r.ExpiresAt.After(now)
	default:
		return false
	}
}

type EventLog struct {
	ID            int64
	EventType     string
	ReservationID *uuid.UUID
	Payload       []byte
	CreatedAt     time.Time
}
