package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// BookingRequest содержит дату и время, введённые пациентом или регистратурой.
// Date в формате YYYY-MM-DD, Time в формате HH:MM, оба в UTC.
type BookingRequest struct {
	PatientID   int64  `json:"patient_id"`
	DoctorID    int64  `json:"doctor_id"`
	SpecialtyID int64  `json:"specialty_id"`
	Date        string `json:"date"`
	Time        string `json:"time"`
}

// scheduledAt разбирает дату и время записи
func (r BookingRequest) scheduledAt() (time.Time, error) {
	if r.DoctorID <= 0 || r.SpecialtyID <= 0 {
		return time.Time{}, invalid("doctor_id and specialty_id are required")
	}
	date, clock := strings.TrimSpace(r.Date), strings.TrimSpace(r.Time)
	if date == "" || clock == "" {
		return time.Time{}, invalid("date and time are required")
	}
	at, err := time.ParseInLocation("2006-01-02 15:04", date+" "+clock, time.UTC)
	if err != nil {
		return time.Time{}, invalid("malformed date/time %q %q", r.Date, r.Time)
	}
	return at, nil
}

type BookingReceipt struct {
	Folio           int64                     `json:"folio"`
	PatientID       int64                     `json:"patient_id"`
	PatientName     string                    `json:"patient_name"`
	DoctorID        int64                     `json:"doctor_id"`
	DoctorName      string                    `json:"doctor_name"`
	SpecialtyID     int64                     `json:"specialty_id"`
	SpecialtyName   string                    `json:"specialty_name"`
	ConsultingRoom  string                    `json:"consulting_room"`
	ScheduledAt     time.Time                 `json:"scheduled_at"`
	Status          model.AppointmentStatus   `json:"status"`
	TotalCost       int64                     `json:"total_cost"`
	AmountPaid      int64                     `json:"amount_paid"`
	AmountRefunded  int64                     `json:"amount_refunded"`
	Currency        string                    `json:"currency"`
	PaymentStatus   model.PaymentStatus       `json:"payment_status"`
	PaymentDeadline time.Time                 `json:"payment_deadline"`
	Cancellation    *model.CancellationRecord `json:"cancellation,omitempty"`
	History         []*model.TransitionRecord `json:"history,omitempty"`
}

type BookingService struct {
	tx            TxManager
	directory     DirectoryStore
	appointments  AppointmentStore
	payments      PaymentStore
	transitions   TransitionStore
	cancellations CancellationStore
	calendar      *SlotCalendar
	machine       *StatusMachine
	metrics       *metrics.EngineMetrics
	policy        config.Policy
	currency      string
	logger        *zap.Logger
	now           func() time.Time
}

func NewBookingService(
	tx TxManager,
	directory DirectoryStore,
	appointments AppointmentStore,
	payments PaymentStore,
	transitions TransitionStore,
	cancellations CancellationStore,
	calendar *SlotCalendar,
	machine *StatusMachine,
	metrics *metrics.EngineMetrics,
	policy config.Policy,
	currency string,
	logger *zap.Logger,
) *BookingService {
	return &BookingService{
		tx:            tx,
		directory:     directory,
		appointments:  appointments,
		payments:      payments,
		transitions:   transitions,
		cancellations: cancellations,
		calendar:      calendar,
		machine:       machine,
		metrics:       metrics,
		policy:        policy,
		currency:      currency,
		logger:        logger,
		now:           utcNow,
	}
}

// Book резервирует слот и создаёт запись вместе с неоплаченным платежом в одной транзакции
func (s *BookingService) Book(ctx context.Context, actor model.Actor, req BookingRequest) (receipt *BookingReceipt, err error) {
	ctx, span := tracer.Start(ctx, "service.booking.book")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.doctor_id", req.DoctorID))
	defer func() { s.metrics.ObserveBooking(bookingResult(err)) }()

	scheduledAt, err := req.scheduledAt()
	if err != nil {
		return nil, err
	}

	patientID, err := bookingPatient(actor, req.PatientID)
	if err != nil {
		return nil, err
	}

	patient, err := s.directory.GetPatient(ctx, patientID)
	if err != nil {
		return nil, storageErr("get patient", err)
	}
	if patient == nil {
		return nil, failf(ErrUnknownReference, "patient %d", patientID)
	}

	doctor, err := s.directory.GetDoctor(ctx, req.DoctorID)
	if err != nil {
		return nil, storageErr("get doctor", err)
	}
	if doctor == nil {
		return nil, failf(ErrUnknownReference, "doctor %d", req.DoctorID)
	}

	specialty, err := s.directory.GetSpecialty(ctx, req.SpecialtyID)
	if err != nil {
		return nil, storageErr("get specialty", err)
	}
	if specialty == nil {
		return nil, failf(ErrUnknownReference, "specialty %d", req.SpecialtyID)
	}
	if doctor.SpecialtyID != specialty.ID {
		return nil, invalid("doctor %d does not practise %s", doctor.ID, specialty.Name)
	}

	if err := s.calendar.checkBookable(ctx, doctor, scheduledAt); err != nil {
		return nil, err
	}

	now := s.now()
	appt := &model.Appointment{
		PatientID:      patient.ID,
		DoctorID:       doctor.ID,
		SpecialtyID:    specialty.ID,
		ScheduledAt:    scheduledAt,
		ConsultingRoom: doctor.ConsultingRoom,
		Status:         model.StatusScheduled,
		PaymentID:      uuid.New(),
		CreatedAt:      now,
	}
	payment := &model.Payment{
		ID:        appt.PaymentID,
		AmountDue: specialty.CostCents,
		Currency:  s.currency,
		Status:    model.PaymentStatusPending,
		CreatedAt: now,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.appointments.Create(ctx, appt); err != nil {
			if errors.Is(err, repository.ErrSlotTaken) {
				return failf(ErrSlotConflict, "doctor %d at %s was just booked, pick another slot",
					doctor.ID, scheduledAt.Format(time.RFC3339))
			}
			return storageErr("create appointment", err)
		}

		payment.Folio = appt.Folio
		if err := s.payments.Create(ctx, payment); err != nil {
			return storageErr("create payment", err)
		}

		return s.machine.record(ctx, appt, actor, "booked")
	})
	if err != nil {
		if errors.Is(err, ErrSlotConflict) {
			s.logger.Info("Booking lost slot race",
				zap.Int64("doctor_id", doctor.ID),
				zap.Time("scheduled_at", scheduledAt),
			)
		}
		return nil, err
	}

	s.calendar.invalidate(ctx, doctor.ID, scheduledAt)

	s.logger.Info("Appointment booked",
		zap.Int64("folio", appt.Folio),
		zap.Int64("patient_id", patient.ID),
		zap.Int64("doctor_id", doctor.ID),
		zap.Time("scheduled_at", scheduledAt),
		zap.Int64("amount_due", payment.AmountDue),
	)

	return &BookingReceipt{
		Folio:           appt.Folio,
		PatientID:       patient.ID,
		PatientName:     patient.Name,
		DoctorID:        doctor.ID,
		DoctorName:      doctor.Name,
		SpecialtyID:     specialty.ID,
		SpecialtyName:   specialty.Name,
		ConsultingRoom:  appt.ConsultingRoom,
		ScheduledAt:     appt.ScheduledAt,
		Status:          appt.Status,
		TotalCost:       payment.AmountDue,
		Currency:        payment.Currency,
		PaymentStatus:   payment.Status,
		PaymentDeadline: appt.PaymentDeadline(s.policy.PaymentWindow),
	}, nil
}

// Receipt возвращает карточку записи с оплатой, отменой и историей статусов
func (s *BookingService) Receipt(ctx context.Context, actor model.Actor, folio int64) (*BookingReceipt, error) {
	appt, err := s.appointments.GetByFolio(ctx, folio)
	if err != nil {
		return nil, storageErr("get appointment", err)
	}
	if appt == nil {
		return nil, failf(ErrUnknownFolio, "folio %d", folio)
	}
	if !canView(actor, appt) {
		return nil, failf(ErrForbidden, "%s %d cannot view folio %d", actor.Role(), actor.ID(), folio)
	}

	payment, err := s.payments.GetByFolio(ctx, folio)
	if err != nil {
		return nil, storageErr("get payment", err)
	}
	if payment == nil {
		return nil, failf(ErrUnknownFolio, "folio %d has no payment", folio)
	}

	receipt := &BookingReceipt{
		Folio:           appt.Folio,
		PatientID:       appt.PatientID,
		DoctorID:        appt.DoctorID,
		SpecialtyID:     appt.SpecialtyID,
		ConsultingRoom:  appt.ConsultingRoom,
		ScheduledAt:     appt.ScheduledAt,
		Status:          appt.Status,
		TotalCost:       payment.AmountDue,
		AmountPaid:      payment.AmountPaid,
		AmountRefunded:  payment.AmountRefunded,
		Currency:        payment.Currency,
		PaymentStatus:   payment.Status,
		PaymentDeadline: appt.PaymentDeadline(s.policy.PaymentWindow),
	}

	// Имена справочников не обязательны для карточки: при ошибке отдаём её без них
	if patient, err := s.directory.GetPatient(ctx, appt.PatientID); err != nil {
		s.logDirectoryMiss(folio, "patient", appt.PatientID, err)
	} else if patient != nil {
		receipt.PatientName = patient.Name
	}
	if doctor, err := s.directory.GetDoctor(ctx, appt.DoctorID); err != nil {
		s.logDirectoryMiss(folio, "doctor", appt.DoctorID, err)
	} else if doctor != nil {
		receipt.DoctorName = doctor.Name
	}
	if specialty, err := s.directory.GetSpecialty(ctx, appt.SpecialtyID); err != nil {
		s.logDirectoryMiss(folio, "specialty", appt.SpecialtyID, err)
	} else if specialty != nil {
		receipt.SpecialtyName = specialty.Name
	}

	if appt.Status.IsCancelled() {
		receipt.Cancellation, err = s.cancellations.GetByFolio(ctx, folio)
		if err != nil {
			return nil, storageErr("get cancellation", err)
		}
	}

	receipt.History, err = s.transitions.ListByFolio(ctx, folio)
	if err != nil {
		return nil, storageErr("list transitions", err)
	}

	return receipt, nil
}

func (s *BookingService) logDirectoryMiss(folio int64, entity string, id int64, err error) {
	s.logger.Warn("Directory lookup failed for receipt",
		zap.Int64("folio", folio),
		zap.String("entity", entity),
		zap.Int64("entity_id", id),
		zap.Error(err),
	)
}

// bookingPatient решает, на кого оформляется запись
func bookingPatient(actor model.Actor, requested int64) (int64, error) {
	switch a := actor.(type) {
	case model.PatientActor:
		if requested != 0 && requested != a.PatientID {
			return 0, failf(ErrForbidden, "patients can only book for themselves")
		}
		return a.PatientID, nil
	case model.StaffActor:
		if a.Position != model.RoleReceptionist {
			return 0, failf(ErrForbidden, "%s cannot book appointments", a.Position)
		}
		if requested <= 0 {
			return 0, invalid("patient_id is required")
		}
		return requested, nil
	default:
		return 0, failf(ErrForbidden, "%s cannot book appointments", actor.Role())
	}
}

func canView(actor model.Actor, appt *model.Appointment) bool {
	if _, staff := actor.(model.StaffActor); staff {
		return true
	}
	return model.OwnsAppointment(actor, appt)
}

func bookingResult(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, ErrSlotConflict):
		return "conflict"
	case errors.Is(err, ErrInternal):
		return "error"
	default:
		return "rejected"
	}
}
