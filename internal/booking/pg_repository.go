package booking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PgRepository persists reservations in Postgres. Slot uniqueness relies on
// a partial unique index:
//
//	CREATE UNIQUE INDEX uniq_reservations_active_slot
//	ON reservations (doctor_id, slot_date, start_min)
//	WHERE status IN ('held', 'confirmed');
//
// so two concurrent claims cannot both insert; the loser sees a 23505.
type PgRepository struct {
	pool *pgxpool.Pool
}

func NewPgRepository(pool *pgxpool.Pool) *PgRepository {
	return &PgRepository{pool: pool}
}

const reservationColumns = `id, doctor_id, slot_date, start_min, end_min,
	holder_kind, holder_id, guest_name, guest_email, guest_phone,
	status, created_at, updated_at, expires_at`

// Helpers

func scanReservation(row pgx.Row) (*Reservation, error) {
	var r Reservation
	var guestName, guestEmail, guestPhone *string

	err := row.Scan(
		&r.ID,
		&r.DoctorID,
		&r.Date,
		&r.StartMin,
		&r.EndMin,
		&r.Holder.Kind,
		&r.Holder.ID,
		&guestName,
		&guestEmail,
		&guestPhone,
		&r.Status,
		&r.CreatedAt,
		&r.UpdatedAt,
		&r.ExpiresAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrReservationNotFound
		}
		return nil, err
	}

	if guestName != nil || guestEmail != nil || guestPhone != nil {
		r.Guest = &GuestContact{}
		if guestName != nil {
			r.Guest.Name = *guestName
		}
		if guestEmail != nil {
			r.Guest.Email = *guestEmail
		}
		if guestPhone != nil {
			r.Guest.Phone = *guestPhone
		}
	}

	return &r, nil
}

func guestFields(g *GuestContact) (name, email, phone *string) {
	if g == nil {
		return nil, nil, nil
	}
	if g.Name != "" {
		name = &g.Name
	}
	if g.Email != "" {
		email = &g.Email
	}
	if g.Phone != "" {
		phone = &g.Phone
	}
	return name, email, phone
}

func isActiveSlotViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505" &&
		pgErr.ConstraintName == "uniq_reservations_active_slot"
}

// Interface methods

func (r *PgRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	var d Doctor
	var specialty *string

	err := r.pool.QueryRow(ctx, `
		SELECT id, name, specialty, slot_minutes, created_at, updated_at
		FROM doctors
		WHERE id = $1
	`, id).Scan(&d.ID, &d.Name, &specialty, &d.SlotMinutes, &d.CreatedAt, &d.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrDoctorNotFound
		}
		return nil, err
	}
	d.Specialty = specialty

	rows, err := r.pool.Query(ctx, `
		SELECT weekday, start_min, end_min
		FROM doctor_hours
		WHERE doctor_id = $1
		ORDER BY weekday
	`, id)
	if err != nil {
		return nil, fmt.Errorf("load doctor hours: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var wh WorkingHours
		var weekday int
		if err := rows.Scan(&weekday, &wh.StartMin, &wh.EndMin); err != nil {
			return nil, err
		}
		wh.Weekday = time.Weekday(weekday)
		d.Hours = append(d.Hours, wh)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return &d, nil
}

func (r *PgRepository) GetLeave(ctx context.Context, doctorID uuid.UUID, date time.Time) ([]LeaveRecord, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT doctor_id, leave_date, kind, reason
		FROM doctor_leave
		WHERE doctor_id = $1 AND leave_date = $2
	`, doctorID, date)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []LeaveRecord
	for rows.Next() {
		var lr LeaveRecord
		if err := rows.Scan(&lr.DoctorID, &lr.Date, &lr.Kind, &lr.Reason); err != nil {
			return nil, err
		}
		result = append(result, lr)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) ListActiveReservations(ctx context.Context, doctorID uuid.UUID, date time.Time, now time.Time) ([]Reservation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE doctor_id = $1
		  AND slot_date = $2
		  AND (status = 'confirmed' OR (status = 'held' AND expires_at > $3))
		ORDER BY start_min
	`, doctorID, date, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []Reservation
	for rows.Next() {
		res, err := scanReservation(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *res)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return result, nil
}

func (r *PgRepository) GetReservationByID(ctx context.Context, id uuid.UUID) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT `+reservationColumns+`
		FROM reservations
		WHERE id = $1
	`, id)
	return scanReservation(row)
}

func (r *PgRepository) ClaimSlot(ctx context.Context, p ClaimParams) (*Reservation, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("begin claim tx: %w", err)
	}
	defer tx.Rollback(ctx)

	// Retire a lapsed hold occupying the slot so the unique index does not
	// block the insert on a reservation nobody owns anymore.
	_, err = tx.Exec(ctx, `
		UPDATE reservations
		SET status = 'expired', updated_at = now()
		WHERE doctor_id = $1 AND slot_date = $2 AND start_min = $3
		  AND status = 'held' AND expires_at <= $4
	`, p.DoctorID, p.Date, p.StartMin, p.Now)
	if err != nil {
		return nil, fmt.Errorf("retire lapsed hold: %w", err)
	}

	// Same holder revisiting the booking page keeps the same reservation,
	// with a fresh hold window.
	row := tx.QueryRow(ctx, `
		UPDATE reservations
		SET expires_at = $6, updated_at = now()
		WHERE doctor_id = $1 AND slot_date = $2 AND start_min = $3
		  AND status = 'held' AND holder_kind = $4 AND holder_id = $5
		RETURNING `+reservationColumns+`
	`, p.DoctorID, p.Date, p.StartMin, p.Holder.Kind, p.Holder.ID, p.ExpiresAt)

	existing, err := scanReservation(row)
	if err == nil {
		if err := tx.Commit(ctx); err != nil {
			return nil, fmt.Errorf("commit claim tx: %w", err)
		}
		return existing, nil
	}
	if !errors.Is(err, ErrReservationNotFound) {
		return nil, fmt.Errorf("refresh hold: %w", err)
	}

	guestName, guestEmail, guestPhone := guestFields(p.Guest)
	id := uuid.New()

	row = tx.QueryRow(ctx, `
		INSERT INTO reservations
			(id, doctor_id, slot_date, start_min, end_min,
			 holder_kind, holder_id, guest_name, guest_email, guest_phone,
			 status, created_at, updated_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, 'held', now(), now(), $11)
		RETURNING `+reservationColumns+`
	`, id, p.DoctorID, p.Date, p.StartMin, p.EndMin,
		p.Holder.Kind, p.Holder.ID, guestName, guestEmail, guestPhone, p.ExpiresAt)

	created, err := scanReservation(row)
	if err != nil {
		if isActiveSlotViolation(err) {
			return nil, ErrSlotUnavailable
		}
		return nil, fmt.Errorf("insert reservation: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit claim tx: %w", err)
	}

	return created, nil
}

func (r *PgRepository) UpdateReservationStatus(ctx context.Context, id uuid.UUID, from, to ReservationStatus) (*Reservation, error) {
	row := r.pool.QueryRow(ctx, `
		UPDATE reservations
		SET status = $2,
		    updated_at = now()
		WHERE id = $1
		  AND status = $3
		RETURNING `+reservationColumns+`
	`, id, to, from)

	return scanReservation(row)
}

func (r *PgRepository) SweepExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	rows, err := r.pool.Query(ctx, `
		UPDATE reservations
		SET status = 'expired', updated_at = now()
		WHERE status = 'held'
		  AND expires_at <= $1
		RETURNING id
	`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	return ids, nil
}

func (r *PgRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO event_logs (event_type, reservation_id, payload, created_at)
		VALUES ($1, $2, $3, COALESCE($4, now()))
	`, ev.EventType, ev.ReservationID, ev.Payload, nullableTime(ev.CreatedAt))
	if err != nil {
		return fmt.Errorf("insert event log: %w", err)
	}

	return nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
