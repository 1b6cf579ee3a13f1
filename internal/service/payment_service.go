package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
)

// CapturedPayment то, что внешний процессор сообщил по фолио.
type CapturedPayment struct {
	Folio       int64  `json:"folio"`
	ExternalRef string `json:"external_ref"`
	Amount      int64  `json:"amount"`
	Currency    string `json:"currency"`
	PayerID     string `json:"payer_id"`
}

type PaymentReceipt struct {
	Folio         int64                   `json:"folio"`
	PaymentID     uuid.UUID               `json:"payment_id"`
	Status        model.AppointmentStatus `json:"status"`
	PaymentStatus model.PaymentStatus     `json:"payment_status"`
	AmountPaid    int64                   `json:"amount_paid"`
	Currency      string                  `json:"currency"`
	Method        model.PaymentMethod     `json:"method"`
	ExternalRef   string                  `json:"external_ref,omitempty"`
	// Replayed выставлен, если тот же захват уже был применён
	Replayed bool `json:"replayed"`
}

var (
	reconciliationActor = model.SystemActor{Process: "payment-reconciliation"}
	cardSimulationActor = model.SystemActor{Process: "card-simulation"}
)

// PaymentService сверяет полученные деньги с ожидающими платежами.
type PaymentService struct {
	tx           TxManager
	appointments AppointmentStore
	payments     PaymentStore
	machine      *StatusMachine
	processor    PaymentProcessor
	metrics      *metrics.EngineMetrics
	logger       *zap.Logger
	now          func() time.Time
}

func NewPaymentService(
	tx TxManager,
	appointments AppointmentStore,
	payments PaymentStore,
	machine *StatusMachine,
	processor PaymentProcessor,
	metrics *metrics.EngineMetrics,
	logger *zap.Logger,
) *PaymentService {
	return &PaymentService{
		tx:           tx,
		appointments: appointments,
		payments:     payments,
		machine:      machine,
		processor:    processor,
		metrics:      metrics,
		logger:       logger,
		now:          utcNow,
	}
}

// ReconcileExternal применяет захват процессора к платежу записи.
// Повтор с той же external_ref для того же фолио ничего не меняет и возвращает успех.
func (s *PaymentService) ReconcileExternal(ctx context.Context, actor model.Actor, captured CapturedPayment) (receipt *PaymentReceipt, err error) {
	ctx, span := tracer.Start(ctx, "service.payment.reconcile_external")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.folio", captured.Folio))
	defer func() { s.metrics.ObserveReconciliation(string(model.PaymentMethodExternalProcessor), reconciliationResult(receipt, err)) }()

	captured.ExternalRef = strings.TrimSpace(captured.ExternalRef)
	captured.PayerID = strings.TrimSpace(captured.PayerID)
	switch {
	case captured.ExternalRef == "":
		return nil, failf(ErrIncompleteCaptureData, "missing transaction id")
	case captured.PayerID == "":
		return nil, failf(ErrIncompleteCaptureData, "missing payer id")
	case captured.Amount <= 0:
		return nil, failf(ErrIncompleteCaptureData, "missing captured amount")
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, payment, err := s.lockForPayment(ctx, actor, captured.Folio)
		if err != nil {
			return err
		}

		if payment.HasExternalRef(captured.ExternalRef) {
			receipt = paymentReceipt(appt, payment)
			receipt.Replayed = true
			return nil
		}
		if err := checkPayable(appt, payment); err != nil {
			return err
		}
		if captured.Currency != "" && !strings.EqualFold(captured.Currency, payment.Currency) {
			return failf(ErrCaptureMismatch, "folio %d: captured %s, due in %s", appt.Folio, captured.Currency, payment.Currency)
		}
		if captured.Amount < payment.AmountDue {
			return failf(ErrCaptureMismatch, "folio %d: captured %s, due %s",
				appt.Folio, model.FormatCents(captured.Amount), model.FormatCents(payment.AmountDue))
		}

		method := model.PaymentMethodExternalProcessor
		payment.Method = &method
		payment.ExternalRef = &captured.ExternalRef
		payment.PayerID = &captured.PayerID

		if err := s.settle(ctx, appt, payment, reconciliationActor, "external capture "+captured.ExternalRef); err != nil {
			return err
		}

		receipt = paymentReceipt(appt, payment)
		return nil
	})
	if err != nil {
		if !errors.Is(err, ErrInternal) {
			s.logger.Warn("External payment rejected", zap.Int64("folio", captured.Folio), zap.Error(err))
		}
		return nil, err
	}

	s.logger.Info("External payment reconciled",
		zap.Int64("folio", captured.Folio),
		zap.String("external_ref", captured.ExternalRef),
		zap.Bool("replayed", receipt.Replayed),
	)

	return receipt, nil
}

// PaySimulatedCard принимает оплату «картой» без обращения к платёжной сети
func (s *PaymentService) PaySimulatedCard(ctx context.Context, actor model.Actor, folio int64, card CardDetails) (receipt *PaymentReceipt, err error) {
	ctx, span := tracer.Start(ctx, "service.payment.simulated_card")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.folio", folio))
	defer func() { s.metrics.ObserveReconciliation(string(model.PaymentMethodCardSimulated), reconciliationResult(receipt, err)) }()

	last4, err := card.validate(s.now())
	if err != nil {
		return nil, err
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		appt, payment, err := s.lockForPayment(ctx, actor, folio)
		if err != nil {
			return err
		}
		if err := checkPayable(appt, payment); err != nil {
			return err
		}

		method := model.PaymentMethodCardSimulated
		payment.Method = &method
		payment.CardLast4 = &last4

		if err := s.settle(ctx, appt, payment, cardSimulationActor, "simulated card payment"); err != nil {
			return err
		}

		receipt = paymentReceipt(appt, payment)
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.logger.Info("Simulated card payment accepted",
		zap.Int64("folio", folio),
		zap.String("card_last4", last4),
		zap.Int64("amount", receipt.AmountPaid),
	)

	return receipt, nil
}

// CreateExternalOrder открывает заказ у процессора на сумму к оплате и возвращает ссылку подтверждения
func (s *PaymentService) CreateExternalOrder(ctx context.Context, actor model.Actor, folio int64) (order *model.ExternalOrder, err error) {
	ctx, span := tracer.Start(ctx, "service.payment.create_order")
	defer func() { finishSpan(span, err) }()
	span.SetAttributes(attribute.Int64("frontdesk.folio", folio))

	if s.processor == nil {
		return nil, failf(ErrPaymentProcessor, "external processor is not configured")
	}

	appt, payment, err := s.readForPayment(ctx, actor, folio)
	if err != nil {
		return nil, err
	}
	if err := checkPayable(appt, payment); err != nil {
		return nil, err
	}

	order, err = s.processor.CreateOrder(ctx, folio, payment.AmountDue, payment.Currency)
	if err != nil {
		s.logger.Error("Failed to create external order", zap.Int64("folio", folio), zap.Error(err))
		return nil, failf(ErrPaymentProcessor, "create order: %v", err)
	}

	s.logger.Info("External order created", zap.Int64("folio", folio), zap.String("order_id", order.OrderID))
	return order, nil
}

// CaptureExternalOrder захватывает подтверждённый заказ у процессора и сверяет результат.
// Вызов процессора идёт вне транзакции БД.
func (s *PaymentService) CaptureExternalOrder(ctx context.Context, actor model.Actor, folio int64, orderID string) (*PaymentReceipt, error) {
	if s.processor == nil {
		return nil, failf(ErrPaymentProcessor, "external processor is not configured")
	}
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return nil, invalid("order_id is required")
	}

	if _, _, err := s.readForPayment(ctx, actor, folio); err != nil {
		return nil, err
	}

	capture, err := s.processor.CaptureOrder(ctx, orderID)
	if err != nil {
		s.logger.Error("Failed to capture external order",
			zap.Int64("folio", folio),
			zap.String("order_id", orderID),
			zap.Error(err),
		)
		return nil, failf(ErrPaymentProcessor, "capture order: %v", err)
	}

	if capture.Status != "" && !strings.EqualFold(capture.Status, "COMPLETED") {
		return nil, failf(ErrIncompleteCaptureData, "capture %s is %s", capture.CaptureID, capture.Status)
	}
	if capture.Folio != 0 && capture.Folio != folio {
		return nil, failf(ErrCaptureMismatch, "order %s belongs to folio %d", orderID, capture.Folio)
	}

	return s.ReconcileExternal(ctx, actor, CapturedPayment{
		Folio:       folio,
		ExternalRef: capture.CaptureID,
		Amount:      capture.AmountCents,
		Currency:    capture.Currency,
		PayerID:     capture.PayerID,
	})
}

// lockForPayment блокирует запись, затем платёж (всегда в этом порядке)
func (s *PaymentService) lockForPayment(ctx context.Context, actor model.Actor, folio int64) (*model.Appointment, *model.Payment, error) {
	appt, err := s.appointments.GetByFolioForUpdate(ctx, folio)
	if err != nil {
		return nil, nil, storageErr("lock appointment", err)
	}
	if appt == nil {
		return nil, nil, failf(ErrUnknownFolio, "folio %d", folio)
	}
	if !canPay(actor, appt) {
		return nil, nil, failf(ErrForbidden, "%s %d cannot pay folio %d", actor.Role(), actor.ID(), folio)
	}

	payment, err := s.payments.GetByFolioForUpdate(ctx, folio)
	if err != nil {
		return nil, nil, storageErr("lock payment", err)
	}
	if payment == nil {
		return nil, nil, failf(ErrUnknownFolio, "folio %d has no payment", folio)
	}

	return appt, payment, nil
}

func (s *PaymentService) readForPayment(ctx context.Context, actor model.Actor, folio int64) (*model.Appointment, *model.Payment, error) {
	appt, err := s.appointments.GetByFolio(ctx, folio)
	if err != nil {
		return nil, nil, storageErr("get appointment", err)
	}
	if appt == nil {
		return nil, nil, failf(ErrUnknownFolio, "folio %d", folio)
	}
	if !canPay(actor, appt) {
		return nil, nil, failf(ErrForbidden, "%s %d cannot pay folio %d", actor.Role(), actor.ID(), folio)
	}

	payment, err := s.payments.GetByFolio(ctx, folio)
	if err != nil {
		return nil, nil, storageErr("get payment", err)
	}
	if payment == nil {
		return nil, nil, failf(ErrUnknownFolio, "folio %d has no payment", folio)
	}

	return appt, payment, nil
}

// settle отмечает всю сумму оплаченной и переводит запись в PaidPendingAttendance
func (s *PaymentService) settle(ctx context.Context, appt *model.Appointment, payment *model.Payment, actor model.Actor, motive string) error {
	now := s.now()
	payment.AmountPaid = payment.AmountDue
	payment.Status = model.PaymentStatusPaid
	payment.PaidAt = &now
	payment.UpdatedAt = now

	if err := s.payments.MarkPaid(ctx, payment); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateExternalRef):
			return failf(ErrCaptureMismatch, "transaction already applied to another folio")
		case errors.Is(err, repository.ErrNotFound):
			return failf(ErrAlreadyPaid, "folio %d", appt.Folio)
		}
		return storageErr("mark payment paid", err)
	}

	return s.machine.apply(ctx, appt, model.StatusPaidPendingAttendance, actor, motive, now)
}

func checkPayable(appt *model.Appointment, payment *model.Payment) error {
	if payment.IsSettled() {
		return failf(ErrAlreadyPaid, "folio %d", appt.Folio)
	}
	if payment.Status == model.PaymentStatusVoided || appt.Status != model.StatusScheduled {
		return failf(ErrIllegalTransition, "folio %d is %s and can no longer be paid", appt.Folio, appt.Status)
	}
	return nil
}

func canPay(actor model.Actor, appt *model.Appointment) bool {
	switch a := actor.(type) {
	case model.SystemActor:
		return true
	case model.PatientActor:
		return model.OwnsAppointment(a, appt)
	default:
		return model.IsReceptionist(actor)
	}
}

func paymentReceipt(appt *model.Appointment, p *model.Payment) *PaymentReceipt {
	receipt := &PaymentReceipt{
		Folio:         appt.Folio,
		PaymentID:     p.ID,
		Status:        appt.Status,
		PaymentStatus: p.Status,
		AmountPaid:    p.AmountPaid,
		Currency:      p.Currency,
	}
	if p.Method != nil {
		receipt.Method = *p.Method
	}
	if p.ExternalRef != nil {
		receipt.ExternalRef = *p.ExternalRef
	}
	return receipt
}

func reconciliationResult(receipt *PaymentReceipt, err error) string {
	switch {
	case err == nil && receipt != nil && receipt.Replayed:
		return "replayed"
	case err == nil:
		return "ok"
	case errors.Is(err, ErrAlreadyPaid):
		return "already_paid"
	case errors.Is(err, ErrCaptureMismatch), errors.Is(err, ErrIncompleteCaptureData):
		return "mismatch"
	case errors.Is(err, ErrInternal):
		return "error"
	default:
		return "rejected"
	}
}
