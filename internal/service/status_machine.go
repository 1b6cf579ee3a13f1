package service

import (
	"context"
	"errors"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// StatusMachine is the only place appointment statuses change.
// Every committed change is appended to the transition log.
type StatusMachine struct {
	tx           TxManager
	appointments AppointmentStore
	transitions  TransitionStore
	metrics      *metrics.EngineMetrics
	logger       *zap.Logger
	now          func() time.Time
}

func NewStatusMachine(
	tx TxManager,
	appointments AppointmentStore,
	transitions TransitionStore,
	metrics *metrics.EngineMetrics,
	logger *zap.Logger,
) *StatusMachine {
	return &StatusMachine{
		tx:           tx,
		appointments: appointments,
		transitions:  transitions,
		metrics:      metrics,
		logger:       logger,
		now:          utcNow,
	}
}

// Transition is the administrative attend / no-show action.
// Payment and cancellation statuses are reached through their own services.
func (m *StatusMachine) Transition(ctx context.Context, folio int64, target model.AppointmentStatus, actor model.Actor, motive string) (appt *model.Appointment, err error) {
	ctx, span := tracer.Start(ctx, "service.status.transition")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.folio", folio), attribute.String("frontdesk.target", string(target)))

	if target != model.StatusAttended && target != model.StatusNoShow {
		return nil, invalid("status %q cannot be set directly", target)
	}

	err = m.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, err = m.appointments.GetByFolioForUpdate(ctx, folio)
		if err != nil {
			return storageErr("lock appointment", err)
		}
		if appt == nil {
			return failf(ErrUnknownFolio, "folio %d", folio)
		}

		// Only the treating doctor or the front desk may mark attendance
		if !model.IsReceptionist(actor) {
			if _, isDoctor := actor.(model.DoctorActor); !isDoctor || !model.OwnsAppointment(actor, appt) {
				return failf(ErrForbidden, "%s %d cannot change folio %d", actor.Role(), actor.ID(), folio)
			}
		}

		return m.apply(ctx, appt, target, actor, motive, m.now())
	})
	if err != nil {
		return nil, err
	}

	m.logger.Info("Appointment status changed",
		zap.Int64("folio", folio),
		zap.String("status", string(target)),
		zap.String("actor_role", string(actor.Role())),
		zap.Int64("actor_id", actor.ID()),
	)

	return appt, nil
}

// apply enforces the transition rules on a row locked by the caller's transaction
// and records the change. appt is updated in place.
func (m *StatusMachine) apply(ctx context.Context, appt *model.Appointment, target model.AppointmentStatus, actor model.Actor, motive string, at time.Time) error {
	from := appt.Status
	if !from.CanTransitionTo(target) {
		return failf(ErrIllegalTransition, "folio %d: %s -> %s", appt.Folio, from, target)
	}

	switch {
	case target == model.StatusPaidPendingAttendance:
		if _, ok := actor.(model.SystemActor); !ok {
			return failf(ErrIllegalTransition, "folio %d: payment confirmation comes only from reconciliation", appt.Folio)
		}
	case target == model.StatusAttended:
		if at.Before(appt.ScheduledAt) {
			return failf(ErrIllegalTransition, "folio %d: appointment has not started yet", appt.Folio)
		}
	case target == model.StatusNoShow:
		if !at.After(appt.ScheduledAt) {
			return failf(ErrIllegalTransition, "folio %d: appointment time has not passed", appt.Folio)
		}
	case target.IsCancelled():
		if !appt.ScheduledAt.After(at) {
			return failf(ErrNotCancellable, "folio %d: appointment time has passed", appt.Folio)
		}
	}

	if err := m.appointments.UpdateStatus(ctx, appt.Folio, from, target, at); err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return failf(ErrIllegalTransition, "folio %d: status changed concurrently", appt.Folio)
		}
		return storageErr("update appointment status", err)
	}

	err := m.transitions.Append(ctx, &model.TransitionRecord{
		Folio:      appt.Folio,
		From:       from,
		To:         target,
		ActorRole:  actor.Role(),
		ActorID:    actor.ID(),
		Motive:     motive,
		OccurredAt: at,
	})
	if err != nil {
		return storageErr("append transition", err)
	}

	appt.Status = target
	appt.UpdatedAt = at
	m.metrics.ObserveTransition(string(from), string(target))

	return nil
}

// record logs the birth of an appointment, which has no prior status
func (m *StatusMachine) record(ctx context.Context, appt *model.Appointment, actor model.Actor, motive string) error {
	err := m.transitions.Append(ctx, &model.TransitionRecord{
		Folio:      appt.Folio,
		To:         appt.Status,
		ActorRole:  actor.Role(),
		ActorID:    actor.ID(),
		Motive:     motive,
		OccurredAt: appt.CreatedAt,
	})
	if err != nil {
		return storageErr("append transition", err)
	}
	m.metrics.ObserveTransition("", string(appt.Status))
	return nil
}
