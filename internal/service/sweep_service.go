package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"go.uber.org/zap"
)

const sweepBatchSize = 200

var sweepActor = model.SystemActor{Process: "lapse-sweep"}

type SweepResult struct {
	Lapsed  int `json:"lapsed"`
	NoShows int `json:"no_shows"`
}

// LapseSweeper advances appointments that time has left behind: unpaid ones past
// the payment window and paid ones whose patient never arrived.
// Each appointment is handled in its own transaction, so a run can be repeated safely.
type LapseSweeper struct {
	tx           TxManager
	appointments AppointmentStore
	payments     PaymentStore
	calendar     *SlotCalendar
	machine      *StatusMachine
	metrics      *metrics.EngineMetrics
	policy       config.Policy
	logger       *zap.Logger
	now          func() time.Time
}

func NewLapseSweeper(
	tx TxManager,
	appointments AppointmentStore,
	payments PaymentStore,
	calendar *SlotCalendar,
	machine *StatusMachine,
	metrics *metrics.EngineMetrics,
	policy config.Policy,
	logger *zap.Logger,
) *LapseSweeper {
	return &LapseSweeper{
		tx:           tx,
		appointments: appointments,
		payments:     payments,
		calendar:     calendar,
		machine:      machine,
		metrics:      metrics,
		policy:       policy,
		logger:       logger,
		now:          utcNow,
	}
}

// AdvanceLapsed moves overdue appointments to cancelled_unpaid and no_show
func (s *LapseSweeper) AdvanceLapsed(ctx context.Context) (result SweepResult, err error) {
	ctx, span := tracer.Start(ctx, "service.sweep.advance_lapsed")
	defer func() { finishSpan(span, err) }()

	now := s.now()
	var errs []error

	lapsed, err := s.appointments.ListLapseCandidates(ctx, now.Add(-s.policy.PaymentWindow), now, sweepBatchSize)
	if err != nil {
		return result, storageErr("list lapse candidates", err)
	}
	for _, folio := range lapsed {
		advanced, err := s.lapse(ctx, folio, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("lapse folio %d: %w", folio, err))
			continue
		}
		if advanced {
			result.Lapsed++
		}
	}

	noShows, err := s.appointments.ListNoShowCandidates(ctx, now.Add(-s.policy.NoShowGrace), sweepBatchSize)
	if err != nil {
		errs = append(errs, storageErr("list no-show candidates", err))
	}
	for _, folio := range noShows {
		advanced, err := s.markNoShow(ctx, folio, now)
		if err != nil {
			errs = append(errs, fmt.Errorf("no-show folio %d: %w", folio, err))
			continue
		}
		if advanced {
			result.NoShows++
		}
	}

	s.metrics.ObserveSweep(string(model.StatusCancelledUnpaid), result.Lapsed)
	s.metrics.ObserveSweep(string(model.StatusNoShow), result.NoShows)

	if result.Lapsed > 0 || result.NoShows > 0 || len(errs) > 0 {
		s.logger.Info("Lapse sweep finished",
			zap.Int("lapsed", result.Lapsed),
			zap.Int("no_shows", result.NoShows),
			zap.Int("failed", len(errs)),
		)
	}

	return result, errors.Join(errs...)
}

func (s *LapseSweeper) lapse(ctx context.Context, folio int64, now time.Time) (bool, error) {
	var advanced bool
	var appt *model.Appointment

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		advanced = false

		var err error
		appt, err = s.appointments.GetByFolioForUpdate(ctx, folio)
		if err != nil {
			return storageErr("lock appointment", err)
		}
		// Re-check under the lock: it may have been paid or cancelled meanwhile
		if appt == nil || appt.Status != model.StatusScheduled {
			return nil
		}
		if appt.PaymentDeadline(s.policy.PaymentWindow).After(now) || !appt.ScheduledAt.After(now) {
			return nil
		}

		payment, err := s.payments.GetByFolioForUpdate(ctx, folio)
		if err != nil {
			return storageErr("lock payment", err)
		}
		if payment == nil || !payment.IsPending() {
			return nil
		}

		if err := s.machine.apply(ctx, appt, model.StatusCancelledUnpaid, sweepActor, "payment window elapsed", now); err != nil {
			return err
		}

		settleCancelledPayment(payment, 0, now)
		if err := s.payments.ApplyCancellation(ctx, payment); err != nil {
			return storageErr("void payment", err)
		}

		advanced = true
		return nil
	})
	if err != nil {
		return false, err
	}

	if advanced {
		s.calendar.invalidate(ctx, appt.DoctorID, appt.ScheduledAt)
	}
	return advanced, nil
}

func (s *LapseSweeper) markNoShow(ctx context.Context, folio int64, now time.Time) (bool, error) {
	var advanced bool

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		advanced = false

		appt, err := s.appointments.GetByFolioForUpdate(ctx, folio)
		if err != nil {
			return storageErr("lock appointment", err)
		}
		if appt == nil || appt.Status != model.StatusPaidPendingAttendance {
			return nil
		}
		if appt.ScheduledAt.Add(s.policy.NoShowGrace).After(now) || !now.After(appt.ScheduledAt) {
			return nil
		}

		if err := s.machine.apply(ctx, appt, model.StatusNoShow, sweepActor, "attendance not recorded", now); err != nil {
			return err
		}

		advanced = true
		return nil
	})

	return advanced, err
}
