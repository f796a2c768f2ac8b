package booking

import (
	"testing"
	"time"

	"github.com/google/uuid"
)

func testDoctor(slotMinutes int, hours ...WorkingHours) *Doctor {
	return &Doctor{
		ID:          uuid.New(),
		Name:        "Dr. Grid",
		SlotMinutes: slotMinutes,
		Hours:       hours,
	}
}

func TestBuildGridFullDay(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC) // a Thursday
	doc := testDoctor(30, WorkingHours{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 17 * 60})

	slots := buildGrid(doc, date, 30)

	if len(slots) != 16 {
		t.Fatalf("expected 16 slots for 09:00-17:00 at 30min, got %d", len(slots))
	}
	if slots[0].StartMin != 9*60 || slots[0].EndMin != 9*60+30 {
		t.Errorf("first slot = %d-%d, want 540-570", slots[0].StartMin, slots[0].EndMin)
	}
	last := slots[len(slots)-1]
	if last.StartMin != 16*60+30 || last.EndMin != 17*60 {
		t.Errorf("last slot = %d-%d, want 990-1020", last.StartMin, last.EndMin)
	}
}

func TestBuildGridOffDay(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	doc := testDoctor(30, WorkingHours{Weekday: date.Weekday() + 1, StartMin: 9 * 60, EndMin: 17 * 60})

	if slots := buildGrid(doc, date, 30); len(slots) != 0 {
		t.Fatalf("expected no slots on a day outside working hours, got %d", len(slots))
	}
}

func TestBuildGridDropsPartialTrailingSlot(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	// 09:00-17:20 leaves a 20-minute remainder that must not become a slot.
	doc := testDoctor(30, WorkingHours{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 17*60 + 20})

	slots := buildGrid(doc, date, 30)
	if len(slots) != 16 {
		t.Fatalf("expected 16 slots, got %d", len(slots))
	}
}

func TestBuildGridFallbackSlotLength(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	doc := testDoctor(0, WorkingHours{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 11 * 60})

	slots := buildGrid(doc, date, 60)
	if len(slots) != 2 {
		t.Fatalf("expected fallback 60min grid with 2 slots, got %d", len(slots))
	}
}

func TestApplyLeave(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	doc := testDoctor(30, WorkingHours{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 17 * 60})
	grid := buildGrid(doc, date, 30)
	const midday = 12 * 60

	leave := func(kinds ...LeaveKind) []LeaveRecord {
		var out []LeaveRecord
		for _, k := range kinds {
			out = append(out, LeaveRecord{DoctorID: doc.ID, Date: date, Kind: k})
		}
		return out
	}

	tests := []struct {
		name    string
		records []LeaveRecord
		want    int
		check   func(t *testing.T, slots []Slot)
	}{
		{name: "no leave", records: nil, want: 16},
		{name: "full day", records: leave(LeaveFullDay), want: 0},
		{
			name: "morning leave keeps afternoon", records: leave(LeaveMorning), want: 10,
			check: func(t *testing.T, slots []Slot) {
				for _, s := range slots {
					if s.StartMin < midday {
						t.Errorf("slot starting %d survived morning leave", s.StartMin)
					}
				}
			},
		},
		{
			name: "afternoon leave keeps morning", records: leave(LeaveAfternoon), want: 6,
			check: func(t *testing.T, slots []Slot) {
				for _, s := range slots {
					if s.StartMin >= midday {
						t.Errorf("slot starting %d survived afternoon leave", s.StartMin)
					}
				}
			},
		},
		{name: "conflicting halves empty the day", records: leave(LeaveMorning, LeaveAfternoon), want: 0},
		{name: "full day wins over half", records: leave(LeaveMorning, LeaveFullDay), want: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := applyLeave(grid, tt.records, midday)
			if len(got) != tt.want {
				t.Fatalf("got %d slots, want %d", len(got), tt.want)
			}
			if tt.check != nil {
				tt.check(t, got)
			}
		})
	}
}

func TestSubtractReservations(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	doc := testDoctor(30, WorkingHours{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 17 * 60})
	grid := buildGrid(doc, date, 30)

	taken := []Reservation{
		{DoctorID: doc.ID, Date: date, StartMin: 10 * 60, EndMin: 10*60 + 30, Status: StatusHeld},
		{DoctorID: doc.ID, Date: date, StartMin: 14 * 60, EndMin: 14*60 + 30, Status: StatusConfirmed},
	}

	got := subtractReservations(grid, taken)
	if len(got) != 14 {
		t.Fatalf("got %d slots, want 14", len(got))
	}
	for _, s := range got {
		if s.StartMin == 10*60 || s.StartMin == 14*60 {
			t.Errorf("reserved slot starting %d still available", s.StartMin)
		}
	}
}

func TestSlotAligned(t *testing.T) {
	date := time.Date(2025, 7, 10, 0, 0, 0, 0, time.UTC)
	doc := testDoctor(30, WorkingHours{Weekday: date.Weekday(), StartMin: 9 * 60, EndMin: 17 * 60})
	grid := buildGrid(doc, date, 30)

	if !slotAligned(grid, doc.ID, 10*60, 10*60+30) {
		t.Error("10:00-10:30 should align with the grid")
	}
	if slotAligned(grid, doc.ID, 10*60+15, 10*60+45) {
		t.Error("10:15-10:45 must not align with a 30-minute grid")
	}
	if slotAligned(grid, doc.ID, 10*60, 11*60) {
		t.Error("double-length window must not align")
	}
	if slotAligned(grid, uuid.New(), 10*60, 10*60+30) {
		t.Error("aligned window for the wrong doctor must not match")
	}
}
