package model

import (
	"time"

	"github.com/google/uuid"
)

type AppointmentStatus string

const (
	StatusScheduled             AppointmentStatus = "scheduled"               // awaiting payment
	StatusPaidPendingAttendance AppointmentStatus = "paid_pending_attendance" // paid, patient expected
	StatusAttended              AppointmentStatus = "attended"
	StatusCancelledByPatient    AppointmentStatus = "cancelled_by_patient"
	StatusCancelledByDoctor     AppointmentStatus = "cancelled_by_doctor"
	StatusCancelledUnpaid       AppointmentStatus = "cancelled_unpaid" // payment window expired
	StatusNoShow                AppointmentStatus = "no_show"
)

// Legal forward transitions. Anything not listed here is rejected.
//
//	scheduled → paid_pending_attendance → attended | no_show
//	scheduled → cancelled_by_patient | cancelled_by_doctor | cancelled_unpaid
//	paid_pending_attendance → cancelled_by_patient | cancelled_by_doctor
var appointmentTransitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {
		StatusPaidPendingAttendance,
		StatusCancelledByPatient,
		StatusCancelledByDoctor,
		StatusCancelledUnpaid,
	},
	StatusPaidPendingAttendance: {
		StatusAttended,
		StatusNoShow,
		StatusCancelledByPatient,
		StatusCancelledByDoctor,
	},
}

// ParseAppointmentStatus validates a status coming from outside the engine
func ParseAppointmentStatus(s string) (AppointmentStatus, bool) {
	status := AppointmentStatus(s)
	switch status {
	case StatusScheduled, StatusPaidPendingAttendance, StatusAttended,
		StatusCancelledByPatient, StatusCancelledByDoctor, StatusCancelledUnpaid, StatusNoShow:
		return status, true
	}
	return "", false
}

// CanTransitionTo reports whether next is a legal successor of s
func (s AppointmentStatus) CanTransitionTo(next AppointmentStatus) bool {
	for _, allowed := range appointmentTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// IsTerminal reports whether no further transition is possible
func (s AppointmentStatus) IsTerminal() bool {
	return len(appointmentTransitions[s]) == 0
}

// IsCancelled reports whether the status frees the slot
func (s AppointmentStatus) IsCancelled() bool {
	return s == StatusCancelledByPatient || s == StatusCancelledByDoctor || s == StatusCancelledUnpaid
}

// IsCancellable reports whether a patient/doctor cancellation may start from s
func (s AppointmentStatus) IsCancellable() bool {
	return s == StatusScheduled || s == StatusPaidPendingAttendance
}

// CancelledStatuses lists the statuses excluded from the slot uniqueness index
func CancelledStatuses() []AppointmentStatus {
	return []AppointmentStatus{StatusCancelledByPatient, StatusCancelledByDoctor, StatusCancelledUnpaid}
}

type Appointment struct {
	Folio          int64             `json:"folio"`
	PatientID      int64             `json:"patient_id"`
	DoctorID       int64             `json:"doctor_id"`
	SpecialtyID    int64             `json:"specialty_id"`
	ScheduledAt    time.Time         `json:"scheduled_at"`
	ConsultingRoom string            `json:"consulting_room"` // copied from the doctor at booking time
	Status         AppointmentStatus `json:"status"`
	PaymentID      uuid.UUID         `json:"payment_id"`
	CreatedAt      time.Time         `json:"created_at"`
	UpdatedAt      time.Time         `json:"updated_at"`
}

// PaymentDeadline is the end of the confirmation window opened by booking
func (a *Appointment) PaymentDeadline(window time.Duration) time.Time {
	return a.CreatedAt.Add(window)
}

// Day returns the UTC calendar day of the appointment
func (a *Appointment) Day() time.Time {
	return StartOfDay(a.ScheduledAt)
}

// StartOfDay truncates t to midnight UTC
func StartOfDay(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}
