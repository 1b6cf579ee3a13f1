package model

import "time"

type Specialty struct {
	ID        int64  `json:"id"`
	Name      string `json:"name"`
	CostCents int64  `json:"cost_cents"` // fixed consultation fee
}

type Doctor struct {
	ID             int64  `json:"id"`
	Name           string `json:"name"`
	SpecialtyID    int64  `json:"specialty_id"`
	ConsultingRoom string `json:"consulting_room"`
}

type Patient struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

// DoctorSchedule is the working-hours template of a doctor for one weekday.
// Minutes are counted from UTC midnight.
type DoctorSchedule struct {
	DoctorID       int64        `json:"doctor_id"`
	SpecialtyID    int64        `json:"specialty_id"`
	ConsultingRoom string       `json:"consulting_room"`
	Weekday        time.Weekday `json:"weekday"` // 0 = Sunday, 6 = Saturday
	StartMinute    int          `json:"start_minute"`
	EndMinute      int          `json:"end_minute"`
	ShiftLabel     string       `json:"shift_label"` // morning / evening
}

// Bounds returns the working interval on the given day
func (s *DoctorSchedule) Bounds(day time.Time) (time.Time, time.Time) {
	day = StartOfDay(day)
	return day.Add(time.Duration(s.StartMinute) * time.Minute), day.Add(time.Duration(s.EndMinute) * time.Minute)
}

// Slot is a fixed-width bookable unit inside working hours.
type Slot struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}
