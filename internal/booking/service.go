package booking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/booking-service/internal/config"
	redisclient "github.com/medbook/booking-service/internal/redis"
)

const (
	EventReservationHeld      = "RESERVATION_HELD"
	EventReservationConfirmed = "RESERVATION_CONFIRMED"
	EventReservationExpired   = "RESERVATION_EXPIRED"
	EventReservationCancelled = "RESERVATION_CANCELLED"
)

var (
	ErrPastDate          = errors.New("date is in the past")
	ErrSlotNotBookable   = errors.New("requested window is not a bookable slot")
	ErrInvalidRequester  = errors.New("exactly one of user id or guest contact is required")
	ErrHoldExpired       = errors.New("reservation hold has expired")
	ErrInvalidTransition = errors.New("invalid reservation status transition")
)

// ReserveRequest is one attempt to take a slot. Exactly one of UserID and
// Guest must be set. A returning guest may present the guest identifier
// from an earlier ticket to refresh the same hold instead of conflicting
// with it.
type ReserveRequest struct {
	DoctorID uuid.UUID
	Date     time.Time
	StartMin int
	EndMin   int
	UserID   *uuid.UUID
	Guest    *GuestContact
	GuestID  *uuid.UUID
}

// ReservationTicket is the continuation token handed back after a
// successful reserve. GuestID is set only on the guest path; the caller
// needs it to confirm or release later.
type ReservationTicket struct {
	ReservationID uuid.UUID
	ExpiresAt     time.Time
	GuestID       *uuid.UUID
}

type Service struct {
	repo   Repository
	locker redisclient.Locker
	cfg    config.Config
	log    zerolog.Logger

	// now is swapped out in tests
	now func() time.Time
}

func NewService(repo Repository, locker redisclient.Locker, cfg config.Config, log zerolog.Logger) *Service {
	return &Service{
		repo:   repo,
		locker: locker,
		cfg:    cfg,
		log:    log,
		now:    time.Now,
	}
}

// normalizeDate strips the time-of-day component so dates compare and store
// consistently regardless of how the caller built the time.Time.
func normalizeDate(t time.Time) time.Time {
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

func (s *Service) today() time.Time {
	now := s.now().In(s.cfg.Location)
	return time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
}

// AvailableSlots computes the bookable slots for a doctor on a date:
// the working-hour grid, minus leave, minus active reservations. It is
// recomputed on every call; cached results could contradict ledger writes.
func (s *Service) AvailableSlots(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]Slot, error) {
	date = normalizeDate(date)
	if date.Before(s.today()) {
		return nil, ErrPastDate
	}

	doc, err := s.repo.GetDoctorByID(ctx, doctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load doctor: %w", err)
	}

	grid, err := s.leaveAdjustedGrid(ctx, doc, date)
	if err != nil {
		return nil, err
	}

	active, err := s.repo.ListActiveReservations(ctx, doctorID, date, s.now())
	if err != nil {
		return nil, fmt.Errorf("list active reservations: %w", err)
	}

	slots := subtractReservations(grid, active)
	sortSlots(slots)
	return slots, nil
}

// leaveAdjustedGrid is the slot grid after leave, before reservation
// subtraction. Reserve validates alignment against this so a holder
// re-claiming their own slot is not rejected for it being "taken".
func (s *Service) leaveAdjustedGrid(ctx context.Context, doc *Doctor, date time.Time) ([]Slot, error) {
	leave, err := s.repo.GetLeave(ctx, doc.ID, date)
	if err != nil {
		return nil, fmt.Errorf("load leave: %w", err)
	}

	grid := buildGrid(doc, date, s.cfg.SlotMinutes)
	return applyLeave(grid, leave, s.cfg.MiddayMinute), nil
}

// Reserve validates the requested window, derives the holder identity, and
// claims the slot under a per-slot lock. On success the returned ticket is
// the continuation token for the patient-detail and payment steps.
func (s *Service) Reserve(ctx context.Context, req ReserveRequest) (ReservationTicket, error) {
	date := normalizeDate(req.Date)
	if date.Before(s.today()) {
		return ReservationTicket{}, ErrPastDate
	}

	holder, guest, err := deriveHolder(req)
	if err != nil {
		return ReservationTicket{}, err
	}

	doc, err := s.repo.GetDoctorByID(ctx, req.DoctorID)
	if err != nil {
		if errors.Is(err, ErrDoctorNotFound) {
			return ReservationTicket{}, err
		}
		return ReservationTicket{}, fmt.Errorf("load doctor: %w", err)
	}

	grid, err := s.leaveAdjustedGrid(ctx, doc, date)
	if err != nil {
		return ReservationTicket{}, err
	}
	if !slotAligned(grid, req.DoctorID, req.StartMin, req.EndMin) {
		return ReservationTicket{}, ErrSlotNotBookable
	}

	now := s.now()
	params := ClaimParams{
		DoctorID:  req.DoctorID,
		Date:      date,
		StartMin:  req.StartMin,
		EndMin:    req.EndMin,
		Holder:    holder,
		Guest:     guest,
		ExpiresAt: now.Add(s.cfg.HoldTTL),
		Now:       now,
	}

	var created *Reservation
	err = s.locker.WithSlotLock(ctx, SlotKey(req.DoctorID, date, req.StartMin), func(lockCtx context.Context) error {
		r, err := s.repo.ClaimSlot(lockCtx, params)
		if err != nil {
			return err
		}
		created = r
		return nil
	})
	if err != nil {
		if errors.Is(err, redisclient.ErrLockNotAcquired) {
			// Someone else is mid-claim on this slot; to the caller that
			// is the same conflict as a finished claim.
			return ReservationTicket{}, ErrSlotUnavailable
		}
		if errors.Is(err, ErrSlotUnavailable) {
			return ReservationTicket{}, ErrSlotUnavailable
		}
		return ReservationTicket{}, fmt.Errorf("claim slot: %w", err)
	}

	s.logEvent(ctx, created.ID, EventReservationHeld, map[string]any{
		"doctor_id":   req.DoctorID.String(),
		"date":        date.Format(DateFormat),
		"start_min":   req.StartMin,
		"holder_kind": string(holder.Kind),
		"expires_at":  created.ExpiresAt,
	})

	ticket := ReservationTicket{
		ReservationID: created.ID,
		ExpiresAt:     created.ExpiresAt,
	}
	if holder.Kind == HolderGuest {
		guestID := holder.ID
		ticket.GuestID = &guestID
	}
	return ticket, nil
}

// deriveHolder is the only identity branch in the core: registered users
// keep their id, guests get an opaque identifier minted per booking. The
// same contact details on two devices yield two distinct guest ids.
func deriveHolder(req ReserveRequest) (HolderIdentity, *GuestContact, error) {
	switch {
	case req.UserID != nil && req.Guest == nil:
		return HolderIdentity{Kind: HolderUser, ID: *req.UserID}, nil, nil
	case req.UserID == nil && req.Guest != nil:
		g := *req.Guest
		if g.Name == "" || (g.Email == "" && g.Phone == "") {
			return HolderIdentity{}, nil, fmt.Errorf("%w: guest needs a name and an email or phone", ErrInvalidRequester)
		}
		id := uuid.New()
		if req.GuestID != nil {
			id = *req.GuestID
		}
		return HolderIdentity{Kind: HolderGuest, ID: id}, &g, nil
	default:
		return HolderIdentity{}, nil, ErrInvalidRequester
	}
}

// Confirm moves a held reservation to confirmed once the downstream
// patient-detail and payment steps complete.
func (s *Service) Confirm(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	now := s.now()

	if r.Status == StatusExpired {
		return nil, ErrHoldExpired
	}

	if r.Status == StatusHeld && !r.ExpiresAt.After(now) {
		// The hold lapsed before the sweeper got to it; retire it here.
		if _, updErr := s.repo.UpdateReservationStatus(ctx, r.ID, StatusHeld, StatusExpired); updErr != nil && !errors.Is(updErr, ErrReservationNotFound) {
			s.log.Error().Err(updErr).Stringer("reservation_id", r.ID).Msg("mark lapsed hold expired during confirm")
		}
		s.logEvent(ctx, r.ID, EventReservationExpired, map[string]any{
			"reason": "confirm_after_expiry",
		})
		return nil, ErrHoldExpired
	}

	if r.Status != StatusHeld {
		return nil, ErrInvalidTransition
	}

	updated, err := s.repo.UpdateReservationStatus(ctx, r.ID, StatusHeld, StatusConfirmed)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// Status moved under us between the read and the swap.
			return nil, ErrInvalidTransition
		}
		return nil, fmt.Errorf("confirm reservation: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventReservationConfirmed, map[string]any{})

	return updated, nil
}

// Release cancels a held or confirmed reservation. Releasing a reservation
// that is already cancelled or expired is a no-op, not an error.
func (s *Service) Release(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("load reservation: %w", err)
	}

	switch r.Status {
	case StatusCancelled, StatusExpired:
		return r, nil
	}

	updated, err := s.repo.UpdateReservationStatus(ctx, r.ID, r.Status, StatusCancelled)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			// Lost a race with a sweep or another release; report the
			// final state, which is a terminal one either way.
			return s.repo.GetReservationByID(ctx, id)
		}
		return nil, fmt.Errorf("release reservation: %w", err)
	}

	s.logEvent(ctx, updated.ID, EventReservationCancelled, map[string]any{
		"previous_status": string(r.Status),
	})

	return updated, nil
}

// GetReservation retrieves a reservation by ID.
func (s *Service) GetReservation(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	r, err := s.repo.GetReservationByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrReservationNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get reservation: %w", err)
	}
	return r, nil
}

// SweepExpired retires every lapsed hold and returns how many were
// released. It is cheap and idempotent: the availability handler runs it
// before computing slots, and the expiry worker loops it on a ticker.
func (s *Service) SweepExpired(ctx context.Context) (int, error) {
	ids, err := s.repo.SweepExpired(ctx, s.now())
	if err != nil {
		return 0, fmt.Errorf("sweep expired holds: %w", err)
	}

	for _, id := range ids {
		s.logEvent(ctx, id, EventReservationExpired, map[string]any{
			"reason": "sweep",
		})
	}

	return len(ids), nil
}

func (s *Service) logEvent(ctx context.Context, reservationID uuid.UUID, eventType string, payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Msg("marshal event payload")
		data = nil
	}

	resID := reservationID

	ev := EventLog{
		EventType:     eventType,
		ReservationID: &resID,
		Payload:       data,
		CreatedAt:     s.now(),
	}

	if err := s.repo.InsertEvent(ctx, ev); err != nil {
		s.log.Error().Err(err).Str("event_type", eventType).Stringer("reservation_id", reservationID).Msg("insert event log")
	}
}
