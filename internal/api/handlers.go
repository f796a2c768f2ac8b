package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/medbook/booking-service/internal/booking"
)

func listSlotsHandler(svc *booking.Service, logger zerolog.Logger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doctorID, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_doctor_id", "id must be a valid UUID")
			return
		}

		dateStr := r.URL.Query().Get("date")
		date, err := time.Parse(booking.DateFormat, dateStr)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_date", "date must be YYYY-MM-DD")
			return
		}

		// Opportunistic sweep: lapsed holds are retired before availability
		// is computed, so an abandoned booking never locks a slot past the
		// next page view. A sweep failure is logged but not fatal; lapsed
		// holds are excluded from the active set regardless.
		if _, err := svc.SweepExpired(r.Context()); err != nil {
			logger.Error().Err(err).Str("request_id", GetRequestID(r.Context())).Msg("opportunistic sweep")
		}

		slots, err := svc.AvailableSlots(r.Context(), doctorID, date)
		if err != nil {
			handleSlotsError(w, err)
			return
		}

		resp := SlotListResponse{
			DoctorID: doctorID,
			Date:     date.Format(booking.DateFormat),
			Slots:    make([]SlotResponse, 0, len(slots)),
		}
		for _, s := range slots {
			resp.Slots = append(resp.Slots, SlotResponse{
				Start: minToClock(s.StartMin),
				End:   minToClock(s.EndMin),
			})
		}

		writeJSON(w, http.StatusOK, resp)
	}
}

func createReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req CreateReservationRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid_request_body", "could not parse JSON")
			return
		}

		reserveReq, errCode, errDetail := buildReserveRequest(req)
		if errCode != "" {
			writeError(w, http.StatusBadRequest, errCode, errDetail)
			return
		}

		ticket, err := svc.Reserve(r.Context(), reserveReq)
		if err != nil {
			handleReserveError(w, err)
			return
		}

		writeJSON(w, http.StatusCreated, ReservationTicketResponse{
			ReservationID: ticket.ReservationID,
			ExpiresAt:     ticket.ExpiresAt,
			GuestID:       ticket.GuestID,
		})
	}
}

func buildReserveRequest(req CreateReservationRequest) (booking.ReserveRequest, string, string) {
	doctorID, err := uuid.Parse(req.DoctorID)
	if err != nil {
		return booking.ReserveRequest{}, "invalid_doctor_id", "doctor_id must be a valid UUID"
	}

	date, err := time.Parse(booking.DateFormat, req.Date)
	if err != nil {
		return booking.ReserveRequest{}, "invalid_date", "date must be YYYY-MM-DD"
	}

	startMin, err := clockToMin(req.Start)
	if err != nil {
		return booking.ReserveRequest{}, "invalid_start", "start must be HH:MM"
	}
	endMin, err := clockToMin(req.End)
	if err != nil {
		return booking.ReserveRequest{}, "invalid_end", "end must be HH:MM"
	}

	out := booking.ReserveRequest{
		DoctorID: doctorID,
		Date:     date,
		StartMin: startMin,
		EndMin:   endMin,
	}

	if req.UserID != "" {
		userID, err := uuid.Parse(req.UserID)
		if err != nil {
			return booking.ReserveRequest{}, "invalid_user_id", "user_id must be a valid UUID"
		}
		out.UserID = &userID
	}

	if req.Guest != nil {
		out.Guest = &booking.GuestContact{
			Name:  req.Guest.Name,
			Email: req.Guest.Email,
			Phone: req.Guest.Phone,
		}
	}

	if req.GuestID != "" {
		guestID, err := uuid.Parse(req.GuestID)
		if err != nil {
			return booking.ReserveRequest{}, "invalid_guest_id", "guest_id must be a valid UUID"
		}
		out.GuestID = &guestID
	}

	return out, "", ""
}

func confirmReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		res, err := svc.Confirm(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func releaseReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		res, err := svc.Release(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func getReservationHandler(svc *booking.Service) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := uuid.Parse(chi.URLParam(r, "id"))
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid_reservation_id", "id must be a valid UUID")
			return
		}

		res, err := svc.GetReservation(r.Context(), id)
		if err != nil {
			handleTransitionError(w, err)
			return
		}

		writeJSON(w, http.StatusOK, toReservationResponse(res))
	}
}

func handleSlotsError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrPastDate):
		writeError(w, http.StatusBadRequest, "date_in_past", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not compute availability")
	}
}

func handleReserveError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrDoctorNotFound):
		writeError(w, http.StatusNotFound, "doctor_not_found", err.Error())
	case errors.Is(err, booking.ErrPastDate):
		writeError(w, http.StatusBadRequest, "date_in_past", err.Error())
	case errors.Is(err, booking.ErrInvalidRequester):
		writeError(w, http.StatusBadRequest, "invalid_requester", err.Error())
	case errors.Is(err, booking.ErrSlotNotBookable):
		writeError(w, http.StatusBadRequest, "slot_not_bookable", err.Error())
	case errors.Is(err, booking.ErrSlotUnavailable):
		writeError(w, http.StatusConflict, "slot_unavailable", "slot is taken or being booked, pick another slot")
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not reserve slot")
	}
}

func handleTransitionError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrReservationNotFound):
		writeError(w, http.StatusNotFound, "reservation_not_found", err.Error())
	case errors.Is(err, booking.ErrHoldExpired):
		writeError(w, http.StatusConflict, "reservation_expired", err.Error())
	case errors.Is(err, booking.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_status_transition", err.Error())
	default:
		writeError(w, http.StatusInternalServerError, "internal_error", "could not update reservation")
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, status int, code, details string) {
	writeJSON(w, status, ErrorResponse{Error: code, Details: details})
}
