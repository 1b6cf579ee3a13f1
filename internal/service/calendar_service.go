package service

import (
	"context"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/config"
	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// SlotCalendar computes bookable slots from working hours minus active appointments.
// Its answers are advisory: only the reservation insert is race-free.
type SlotCalendar struct {
	directory    DirectoryStore
	appointments AppointmentStore
	cache        SlotCache
	metrics      *metrics.EngineMetrics
	policy       config.Policy
	logger       *zap.Logger
	now          func() time.Time
}

func NewSlotCalendar(
	directory DirectoryStore,
	appointments AppointmentStore,
	cache SlotCache,
	metrics *metrics.EngineMetrics,
	policy config.Policy,
	logger *zap.Logger,
) *SlotCalendar {
	return &SlotCalendar{
		directory:    directory,
		appointments: appointments,
		cache:        cache,
		metrics:      metrics,
		policy:       policy,
		logger:       logger,
		now:          utcNow,
	}
}

// Available returns the doctor's free slots on a date in chronological order.
// Slots outside the booking window (before now+lead or past the horizon) are not offered.
func (c *SlotCalendar) Available(ctx context.Context, doctorID int64, date time.Time) (slots []model.Slot, err error) {
	ctx, span := tracer.Start(ctx, "service.calendar.available")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.doctor_id", doctorID))

	doctor, err := c.directory.GetDoctor(ctx, doctorID)
	if err != nil {
		return nil, storageErr("get doctor", err)
	}
	if doctor == nil {
		return nil, failf(ErrUnknownReference, "doctor %d", doctorID)
	}

	day := model.StartOfDay(date)
	earliest, latest := c.policy.BookingWindow(c.now())
	if !day.AddDate(0, 0, 1).After(earliest) || day.After(latest) {
		return []model.Slot{}, nil
	}

	free, err := c.freeSlots(ctx, doctorID, day)
	if err != nil {
		return nil, err
	}

	slots = make([]model.Slot, 0, len(free))
	for _, slot := range free {
		if slot.Start.Before(earliest) || slot.Start.After(latest) {
			continue
		}
		slots = append(slots, slot)
	}

	return slots, nil
}

// freeSlots returns the day's unbooked slots regardless of the booking window
func (c *SlotCalendar) freeSlots(ctx context.Context, doctorID int64, day time.Time) ([]model.Slot, error) {
	if c.cache != nil {
		cached, ok, err := c.cache.Get(ctx, doctorID, day)
		switch {
		case err != nil:
			c.metrics.ObserveSlotCache("error")
			c.logger.Warn("Slot cache read failed", zap.Int64("doctor_id", doctorID), zap.Error(err))
		case ok:
			c.metrics.ObserveSlotCache("hit")
			return cached, nil
		default:
			c.metrics.ObserveSlotCache("miss")
		}
	}

	schedule, err := c.directory.GetSchedule(ctx, doctorID, day.Weekday())
	if err != nil {
		return nil, storageErr("get schedule", err)
	}

	free := []model.Slot{}
	if schedule != nil {
		booked, err := c.appointments.BookedStarts(ctx, doctorID, day, day.AddDate(0, 0, 1))
		if err != nil {
			return nil, storageErr("get booked starts", err)
		}
		free = buildSlots(schedule, day, c.policy.SlotDuration, booked)
	}

	if c.cache != nil {
		if err := c.cache.Set(ctx, doctorID, day, free); err != nil {
			c.logger.Warn("Slot cache write failed", zap.Int64("doctor_id", doctorID), zap.Error(err))
		}
	}

	return free, nil
}

// checkBookable validates that at is a slot start inside working hours and the booking window
func (c *SlotCalendar) checkBookable(ctx context.Context, doctor *model.Doctor, at time.Time) error {
	earliest, latest := c.policy.BookingWindow(c.now())
	if at.Before(earliest) {
		return invalid("appointments must be booked at least %s in advance", c.policy.MinLeadTime)
	}
	if at.After(latest) {
		return invalid("appointments can be booked at most %d months ahead", c.policy.MaxHorizonMonths)
	}

	schedule, err := c.directory.GetSchedule(ctx, doctor.ID, at.Weekday())
	if err != nil {
		return storageErr("get schedule", err)
	}
	if schedule == nil {
		return invalid("doctor %d does not work on %s", doctor.ID, at.Weekday())
	}

	start, end := schedule.Bounds(at)
	if at.Before(start) || at.Add(c.policy.SlotDuration).After(end) {
		return invalid("%s is outside working hours", at.Format("15:04"))
	}
	if at.Sub(start)%c.policy.SlotDuration != 0 {
		return invalid("%s is not a slot start", at.Format("15:04"))
	}

	return nil
}

// invalidate drops the cached day after its bookings changed
func (c *SlotCalendar) invalidate(ctx context.Context, doctorID int64, at time.Time) {
	if c.cache == nil {
		return
	}
	if err := c.cache.Invalidate(ctx, doctorID, model.StartOfDay(at)); err != nil {
		c.logger.Warn("Slot cache invalidation failed", zap.Int64("doctor_id", doctorID), zap.Error(err))
	}
}

// buildSlots cuts working hours into fixed-width slots and drops the booked ones
func buildSlots(schedule *model.DoctorSchedule, day time.Time, width time.Duration, booked []time.Time) []model.Slot {
	taken := make(map[int64]struct{}, len(booked))
	for _, at := range booked {
		taken[at.Unix()] = struct{}{}
	}

	start, end := schedule.Bounds(day)
	slots := []model.Slot{}
	for at := start; !at.Add(width).After(end); at = at.Add(width) {
		if _, ok := taken[at.Unix()]; ok {
			continue
		}
		slots = append(slots, model.Slot{Start: at, End: at.Add(width)})
	}

	return slots
}
