package service

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CancellationQuote предпросмотр отмены без побочных эффектов.
type CancellationQuote struct {
	Folio         int64                   `json:"folio"`
	Status        model.AppointmentStatus `json:"status"`
	ScheduledAt   time.Time               `json:"scheduled_at"`
	HoursAdvance  int                     `json:"hours_advance"`
	RefundPercent int                     `json:"refund_percent"`
	RefundAmount  int64                   `json:"refund_amount"`
	AmountPaid    int64                   `json:"amount_paid"`
	Currency      string                  `json:"currency"`
	CanCancel     bool                    `json:"can_cancel"`
	Reason        string                  `json:"reason,omitempty"`
}

type CancellationResult struct {
	Folio         int64                   `json:"folio"`
	Status        model.AppointmentStatus `json:"status"`
	RefundPercent int                     `json:"refund_percent"`
	RefundAmount  int64                   `json:"refund_amount"`
	Currency      string                  `json:"currency"`
	NextStep      string                  `json:"next_step"`
}

type CancellationService struct {
	tx            TxManager
	appointments  AppointmentStore
	payments      PaymentStore
	cancellations CancellationStore
	calendar      *SlotCalendar
	machine       *StatusMachine
	metrics       *metrics.EngineMetrics
	policy        config.Policy
	logger        *zap.Logger
	now           func() time.Time
}

func NewCancellationService(
	tx TxManager,
	appointments AppointmentStore,
	payments PaymentStore,
	cancellations CancellationStore,
	calendar *SlotCalendar,
	machine *StatusMachine,
	metrics *metrics.EngineMetrics,
	policy config.Policy,
	logger *zap.Logger,
) *CancellationService {
	return &CancellationService{
		tx:            tx,
		appointments:  appointments,
		payments:      payments,
		cancellations: cancellations,
		calendar:      calendar,
		machine:       machine,
		metrics:       metrics,
		policy:        policy,
		logger:        logger,
		now:           utcNow,
	}
}

// Quote считает возврат на текущий момент; безопасно вызывать сколько угодно раз
func (s *CancellationService) Quote(ctx context.Context, folio int64, actor model.Actor) (*CancellationQuote, error) {
	appt, err := s.appointments.GetByFolio(ctx, folio)
	if err != nil {
		return nil, storageErr("get appointment", err)
	}
	if appt == nil {
		return nil, failf(ErrUnknownFolio, "folio %d", folio)
	}
	if _, err := cancelTarget(actor, appt); err != nil {
		return nil, err
	}

	payment, err := s.payments.GetByFolio(ctx, folio)
	if err != nil {
		return nil, storageErr("get payment", err)
	}
	if payment == nil {
		return nil, failf(ErrUnknownFolio, "folio %d has no payment", folio)
	}

	now := s.now()
	advance := appt.ScheduledAt.Sub(now)
	quote := &CancellationQuote{
		Folio:        folio,
		Status:       appt.Status,
		ScheduledAt:  appt.ScheduledAt,
		HoursAdvance: hoursAdvance(advance),
		AmountPaid:   payment.AmountPaid,
		Currency:     payment.Currency,
	}

	if reason := notCancellableReason(appt, now); reason != "" {
		quote.Reason = reason
		return quote, nil
	}

	quote.CanCancel = true
	quote.RefundPercent, quote.RefundAmount = s.refundFor(advance, payment.AmountPaid)
	return quote, nil
}

// Cancel отменяет запись, рассчитывает возврат и фиксирует его в платеже
func (s *CancellationService) Cancel(ctx context.Context, folio int64, actor model.Actor, motive string) (result *CancellationResult, err error) {
	ctx, span := tracer.Start(ctx, "service.cancellation.cancel")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.folio", folio))

	var appt *model.Appointment
	var payment *model.Payment

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err = s.appointments.GetByFolioForUpdate(ctx, folio)
		if err != nil {
			return storageErr("lock appointment", err)
		}
		if appt == nil {
			return failf(ErrUnknownFolio, "folio %d", folio)
		}

		target, err := cancelTarget(actor, appt)
		if err != nil {
			return err
		}

		now := s.now()
		if reason := notCancellableReason(appt, now); reason != "" {
			return failf(ErrNotCancellable, "folio %d: %s", folio, reason)
		}

		payment, err = s.payments.GetByFolioForUpdate(ctx, folio)
		if err != nil {
			return storageErr("lock payment", err)
		}
		if payment == nil {
			return failf(ErrUnknownFolio, "folio %d has no payment", folio)
		}

		advance := appt.ScheduledAt.Sub(now)
		percent, amount := s.refundFor(advance, payment.AmountPaid)

		if err := s.machine.apply(ctx, appt, target, actor, motive, now); err != nil {
			return err
		}

		if settleCancelledPayment(payment, amount, now) {
			if err := s.payments.ApplyCancellation(ctx, payment); err != nil {
				return storageErr("update payment", err)
			}
		}

		err = s.cancellations.Append(ctx, &model.CancellationRecord{
			Folio:         folio,
			HoursAdvance:  hoursAdvance(advance),
			RefundPercent: percent,
			RefundAmount:  amount,
			Motive:        motive,
			ActorRole:     actor.Role(),
			ActorID:       actor.ID(),
			CancelledAt:   now,
		})
		if err != nil {
			return storageErr("append cancellation", err)
		}

		result = &CancellationResult{
			Folio:         folio,
			Status:        appt.Status,
			RefundPercent: percent,
			RefundAmount:  amount,
			Currency:      payment.Currency,
			NextStep:      nextStep(payment, percent, amount),
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.calendar.invalidate(ctx, appt.DoctorID, appt.ScheduledAt)
	s.metrics.ObserveCancellation(string(actor.Role()), result.RefundPercent)

	s.logger.Info("Appointment cancelled",
		zap.Int64("folio", folio),
		zap.String("status", string(result.Status)),
		zap.String("actor_role", string(actor.Role())),
		zap.Int("refund_percent", result.RefundPercent),
		zap.Int64("refund_amount", result.RefundAmount),
	)

	return result, nil
}

// refundFor: ступенчатая функция от полной (не усечённой) разницы во времени
func (s *CancellationService) refundFor(advance time.Duration, amountPaid int64) (int, int64) {
	if amountPaid <= 0 {
		return 0, 0
	}

	var percent int
	switch {
	case advance >= s.policy.FullRefundNotice:
		percent = 100
	case advance >= s.policy.PartialRefundNotice:
		percent = s.policy.PartialRefundPercent
	default:
		percent = 0
	}

	return percent, amountPaid * int64(percent) / 100
}

// cancelTarget сопоставляет инициатору итоговый статус отмены
func cancelTarget(actor model.Actor, appt *model.Appointment) (model.AppointmentStatus, error) {
	switch a := actor.(type) {
	case model.PatientActor:
		if model.OwnsAppointment(a, appt) {
			return model.StatusCancelledByPatient, nil
		}
	case model.DoctorActor:
		if model.OwnsAppointment(a, appt) {
			return model.StatusCancelledByDoctor, nil
		}
	case model.StaffActor:
		// Регистратура отменяет от имени пациента
		if a.Position == model.RoleReceptionist {
			return model.StatusCancelledByPatient, nil
		}
	}
	return "", failf(ErrForbidden, "%s %d cannot cancel folio %d", actor.Role(), actor.ID(), appt.Folio)
}

func notCancellableReason(appt *model.Appointment, now time.Time) string {
	if !appt.Status.IsCancellable() {
		return fmt.Sprintf("appointment is %s", appt.Status)
	}
	if !appt.ScheduledAt.After(now) {
		return "appointment time has passed"
	}
	return ""
}

// settleCancelledPayment сообщает, нужно ли обновить платёж
func settleCancelledPayment(p *model.Payment, refund int64, at time.Time) bool {
	switch {
	case p.IsPending():
		p.Status = model.PaymentStatusVoided
	case refund <= 0:
		// удерживаем полную сумму, платёж остаётся paid
		return false
	case refund >= p.AmountPaid:
		p.Status = model.PaymentStatusRefundedFull
		p.AmountRefunded = p.AmountPaid
	default:
		p.Status = model.PaymentStatusRefundedPartial
		p.AmountRefunded = refund
	}
	p.UpdatedAt = at
	return true
}

func nextStep(p *model.Payment, percent int, amount int64) string {
	switch {
	case p.AmountPaid == 0:
		return "No payment was collected, so there is nothing to refund."
	case amount == 0:
		return "The cancellation was made with less notice than the refund policy requires; the consultation fee is retained."
	case p.Method != nil && *p.Method == model.PaymentMethodExternalProcessor:
		return fmt.Sprintf("A %d%% refund of %s %s will be returned to the original PayPal account.", percent, model.FormatCents(amount), p.Currency)
	default:
		return fmt.Sprintf("A %d%% refund of %s %s will be returned to the card used for payment.", percent, model.FormatCents(amount), p.Currency)
	}
}

// hoursAdvance усекает к нулю, только для отображения
func hoursAdvance(d time.Duration) int {
	return int(d / time.Hour)
}
