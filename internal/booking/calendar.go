package booking

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Slot calendar: pure derivation of bookable windows from a doctor's hour
// template, leave records, and the active reservations on the day. Nothing
// here touches storage; the service feeds it fresh state on every call.

// buildGrid expands the doctor's working hours on date into fixed-duration
// slots. fallbackMinutes is used when the doctor has no slot length
// configured.
func buildGrid(doc *Doctor, date time.Time, fallbackMinutes int) []Slot {
	wh, ok := doc.hoursFor(date.Weekday())
	if !ok {
		return nil
	}

	length := doc.SlotMinutes
	if length <= 0 {
		length = fallbackMinutes
	}
	if length <= 0 {
		return nil
	}

	var slots []Slot
	for start := wh.StartMin; start+length <= wh.EndMin; start += length {
		slots = append(slots, Slot{
			DoctorID: doc.ID,
			Date:     date,
			StartMin: start,
			EndMin:   start + length,
		})
	}
	return slots
}

// applyLeave removes slots covered by the day's leave. When conflicting
// records exist for one day the most restrictive reading wins: any full-day
// record empties the day, and a morning plus afternoon pair does the same.
func applyLeave(slots []Slot, records []LeaveRecord, middayMin int) []Slot {
	if len(records) == 0 {
		return slots
	}

	var morning, afternoon bool
	for _, lr := range records {
		switch lr.Kind {
		case LeaveFullDay:
			return nil
		case LeaveMorning:
			morning = true
		case LeaveAfternoon:
			afternoon = true
		}
	}
	if morning && afternoon {
		return nil
	}

	var kept []Slot
	for _, s := range slots {
		if morning && s.StartMin < middayMin {
			continue
		}
		if afternoon && s.StartMin >= middayMin {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// subtractReservations drops slots whose start time is taken by an active
// reservation.
func subtractReservations(slots []Slot, reservations []Reservation) []Slot {
	if len(reservations) == 0 {
		return slots
	}

	taken := make(map[int]struct{}, len(reservations))
	for _, r := range reservations {
		taken[r.StartMin] = struct{}{}
	}

	var kept []Slot
	for _, s := range slots {
		if _, ok := taken[s.StartMin]; ok {
			continue
		}
		kept = append(kept, s)
	}
	return kept
}

// sortSlots orders slots by start time ascending.
func sortSlots(slots []Slot) {
	sort.Slice(slots, func(i, j int) bool {
		return slots[i].StartMin < slots[j].StartMin
	})
}

// slotAligned reports whether the requested window matches one of the
// computed slots exactly.
func slotAligned(slots []Slot, doctorID uuid.UUID, startMin, endMin int) bool {
	for _, s := range slots {
		if s.DoctorID == doctorID && s.StartMin == startMin && s.EndMin == endMin {
			return true
		}
	}
	return false
}
