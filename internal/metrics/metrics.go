package metrics

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
)

// EngineMetrics exposes counters for the appointment lifecycle.
// A nil *EngineMetrics is valid and records nothing.
type EngineMetrics struct {
	bookingsTotal        *prometheus.CounterVec
	transitionsTotal     *prometheus.CounterVec
	cancellationsTotal   *prometheus.CounterVec
	reconciliationsTotal *prometheus.CounterVec
	sweepAdvancedTotal   *prometheus.CounterVec
	slotCacheTotal       *prometheus.CounterVec
	notificationsTotal   *prometheus.CounterVec
}

func NewEngineMetrics(reg prometheus.Registerer) *EngineMetrics {
	m := &EngineMetrics{
		bookingsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "booking",
			Name:      "attempts_total",
			Help:      "Booking attempts by outcome",
		}, []string{"result"}),
		transitionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "appointment",
			Name:      "transitions_total",
			Help:      "Appointment status transitions applied by the engine",
		}, []string{"from", "to"}),
		cancellationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "appointment",
			Name:      "cancellations_total",
			Help:      "Cancellations by actor role and applied refund percentage",
		}, []string{"actor", "refund_percent"}),
		reconciliationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "payment",
			Name:      "reconciliations_total",
			Help:      "Payment reconciliation attempts by method and outcome",
		}, []string{"method", "result"}),
		sweepAdvancedTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "sweep",
			Name:      "advanced_total",
			Help:      "Appointments advanced by the lapse sweep",
		}, []string{"status"}),
		slotCacheTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "calendar",
			Name:      "slot_cache_total",
			Help:      "Availability cache lookups by result",
		}, []string{"result"}),
		notificationsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "frontdesk",
			Subsystem: "notify",
			Name:      "deliveries_total",
			Help:      "Transition notifications by delivery status",
		}, []string{"status"}),
	}
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(
		m.bookingsTotal,
		m.transitionsTotal,
		m.cancellationsTotal,
		m.reconciliationsTotal,
		m.sweepAdvancedTotal,
		m.slotCacheTotal,
		m.notificationsTotal,
	)
	return m
}

func (m *EngineMetrics) ObserveBooking(result string) {
	if m == nil {
		return
	}
	m.bookingsTotal.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveTransition(from, to string) {
	if m == nil {
		return
	}
	if from == "" {
		from = "none"
	}
	m.transitionsTotal.WithLabelValues(from, to).Inc()
}

func (m *EngineMetrics) ObserveCancellation(actor string, refundPercent int) {
	if m == nil {
		return
	}
	m.cancellationsTotal.WithLabelValues(actor, strconv.Itoa(refundPercent)).Inc()
}

func (m *EngineMetrics) ObserveReconciliation(method, result string) {
	if m == nil {
		return
	}
	m.reconciliationsTotal.WithLabelValues(method, result).Inc()
}

func (m *EngineMetrics) ObserveSweep(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.sweepAdvancedTotal.WithLabelValues(status).Add(float64(count))
}

func (m *EngineMetrics) ObserveSlotCache(result string) {
	if m == nil {
		return
	}
	m.slotCacheTotal.WithLabelValues(result).Inc()
}

func (m *EngineMetrics) ObserveNotification(status string) {
	if m == nil {
		return
	}
	m.notificationsTotal.WithLabelValues(status).Inc()
}
