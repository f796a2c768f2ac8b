package booking

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is a mutex-guarded in-memory Repository. It backs the
// package tests and small dev setups; it enforces the same active-slot
// uniqueness the Postgres partial index does, just under one lock.
type MemoryRepository struct {
	mu           sync.Mutex
	doctors      map[uuid.UUID]*Doctor
	leave        map[string][]LeaveRecord   // doctorID:date -> records
	reservations map[uuid.UUID]*Reservation // reservation ID -> reservation
	activeSlots  map[string]uuid.UUID       // slot key -> active reservation ID
	events       []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		doctors:      make(map[uuid.UUID]*Doctor),
		leave:        make(map[string][]LeaveRecord),
		reservations: make(map[uuid.UUID]*Reservation),
		activeSlots:  make(map[string]uuid.UUID),
	}
}

func leaveKey(doctorID uuid.UUID, date time.Time) string {
	return doctorID.String() + ":" + date.Format(DateFormat)
}

// AddDoctor registers a doctor for availability and claim lookups.
func (m *MemoryRepository) AddDoctor(d Doctor) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc := d
	m.doctors[d.ID] = &doc
}

// AddLeave records a leave entry. Multiple entries for the same day are
// allowed on purpose: the calendar has to tolerate that data-entry error.
func (m *MemoryRepository) AddLeave(lr LeaveRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := leaveKey(lr.DoctorID, lr.Date)
	m.leave[key] = append(m.leave[key], lr)
}

func (m *MemoryRepository) GetDoctorByID(_ context.Context, id uuid.UUID) (*Doctor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	d, ok := m.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	copied := *d
	return &copied, nil
}

func (m *MemoryRepository) GetLeave(_ context.Context, doctorID uuid.UUID, date time.Time) ([]LeaveRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	records := m.leave[leaveKey(doctorID, date)]
	out := make([]LeaveRecord, len(records))
	copy(out, records)
	return out, nil
}

func (m *MemoryRepository) ListActiveReservations(_ context.Context, doctorID uuid.UUID, date time.Time, now time.Time) ([]Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	dateKey := date.Format(DateFormat)
	var result []Reservation
	for _, r := range m.reservations {
		if r.DoctorID != doctorID || r.Date.Format(DateFormat) != dateKey {
			continue
		}
		if !r.Active(now) {
			continue
		}
		result = append(result, *r)
	}
	return result, nil
}

func (m *MemoryRepository) GetReservationByID(_ context.Context, id uuid.UUID) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok {
		return nil, ErrReservationNotFound
	}
	copied := *r
	return &copied, nil
}

func (m *MemoryRepository) ClaimSlot(_ context.Context, p ClaimParams) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := SlotKey(p.DoctorID, p.Date, p.StartMin)

	if activeID, ok := m.activeSlots[key]; ok {
		active := m.reservations[activeID]

		// Lapsed hold: retire it and fall through to insert.
		if active.Status == StatusHeld && !active.ExpiresAt.After(p.Now) {
			active.Status = StatusExpired
			active.UpdatedAt = p.Now
			delete(m.activeSlots, key)
		} else if active.Status == StatusHeld && active.Holder == p.Holder {
			// Idempotent re-claim by the same holder.
			active.ExpiresAt = p.ExpiresAt
			active.UpdatedAt = p.Now
			copied := *active
			return &copied, nil
		} else {
			return nil, ErrSlotUnavailable
		}
	}

	r := &Reservation{
		ID:        uuid.New(),
		DoctorID:  p.DoctorID,
		Date:      p.Date,
		StartMin:  p.StartMin,
		EndMin:    p.EndMin,
		Holder:    p.Holder,
		Guest:     p.Guest,
		Status:    StatusHeld,
		CreatedAt: p.Now,
		UpdatedAt: p.Now,
		ExpiresAt: p.ExpiresAt,
	}
	m.reservations[r.ID] = r
	m.activeSlots[key] = r.ID

	copied := *r
	return &copied, nil
}

func (m *MemoryRepository) UpdateReservationStatus(_ context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.reservations[id]
	if !ok || r.Status != from {
		return nil, ErrReservationNotFound
	}

	r.Status = to
	r.UpdatedAt = time.Now()

	key := SlotKey(r.DoctorID, r.Date, r.StartMin)
	switch to {
	case StatusHeld, StatusConfirmed:
		m.activeSlots[key] = r.ID
	default:
		if m.activeSlots[key] == r.ID {
			delete(m.activeSlots, key)
		}
	}

	copied := *r
	return &copied, nil
}

func (m *MemoryRepository) SweepExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var ids []uuid.UUID
	for _, r := range m.reservations {
		if r.Status != StatusHeld || r.ExpiresAt.After(now) {
			continue
		}
		r.Status = StatusExpired
		r.UpdatedAt = now
		key := SlotKey(r.DoctorID, r.Date, r.StartMin)
		if m.activeSlots[key] == r.ID {
			delete(m.activeSlots, key)
		}
		ids = append(ids, r.ID)
	}
	return ids, nil
}

func (m *MemoryRepository) InsertEvent(_ context.Context, ev EventLog) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	ev.ID = int64(len(m.events) + 1)
	m.events = append(m.events, ev)
	return nil
}

// Events returns a copy of the recorded event log, oldest first.
func (m *MemoryRepository) Events() []EventLog {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]EventLog, len(m.events))
	copy(out, m.events)
	return out
}
