package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
)

// TxManager runs fn in one database transaction carried by ctx.
type TxManager interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

type DirectoryStore interface {
	GetDoctor(ctx context.Context, id int64) (*model.Doctor, error)
	GetSpecialty(ctx context.Context, id int64) (*model.Specialty, error)
	GetPatient(ctx context.Context, id int64) (*model.Patient, error)
	GetSchedule(ctx context.Context, doctorID int64, weekday time.Weekday) (*model.DoctorSchedule, error)
}

type AppointmentStore interface {
	Create(ctx context.Context, appt *model.Appointment) error
	GetByFolio(ctx context.Context, folio int64) (*model.Appointment, error)
	GetByFolioForUpdate(ctx context.Context, folio int64) (*model.Appointment, error)
	UpdateStatus(ctx context.Context, folio int64, from, to model.AppointmentStatus, at time.Time) error
	BookedStarts(ctx context.Context, doctorID int64, from, to time.Time) ([]time.Time, error)
	ListLapseCandidates(ctx context.Context, createdBefore, now time.Time, limit int) ([]int64, error)
	ListNoShowCandidates(ctx context.Context, scheduledBefore time.Time, limit int) ([]int64, error)
}

type PaymentStore interface {
	Create(ctx context.Context, p *model.Payment) error
	GetByFolio(ctx context.Context, folio int64) (*model.Payment, error)
	GetByFolioForUpdate(ctx context.Context, folio int64) (*model.Payment, error)
	MarkPaid(ctx context.Context, p *model.Payment) error
	ApplyCancellation(ctx context.Context, p *model.Payment) error
}

type TransitionStore interface {
	Append(ctx context.Context, rec *model.TransitionRecord) error
	ListByFolio(ctx context.Context, folio int64) ([]*model.TransitionRecord, error)
}

type CancellationStore interface {
	Append(ctx context.Context, rec *model.CancellationRecord) error
	GetByFolio(ctx context.Context, folio int64) (*model.CancellationRecord, error)
}

// SlotCache keeps the free slots of a doctor's day between bookings.
// Entries are advisory; the database stays the source of truth.
type SlotCache interface {
	Get(ctx context.Context, doctorID int64, day time.Time) ([]model.Slot, bool, error)
	Set(ctx context.Context, doctorID int64, day time.Time, slots []model.Slot) error
	Invalidate(ctx context.Context, doctorID int64, day time.Time) error
}

// PaymentProcessor is the external processor (PayPal) boundary.
type PaymentProcessor interface {
	CreateOrder(ctx context.Context, folio int64, amountCents int64, currency string) (*model.ExternalOrder, error)
	CaptureOrder(ctx context.Context, orderID string) (*model.ExternalCapture, error)
}
