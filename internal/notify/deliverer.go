package notify

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/metrics"
	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const deliveryBatchSize = 50

// Outbox это журнал переходов как очередь недоставленных записей.
type Outbox interface {
	ListUndelivered(ctx context.Context, limit int) ([]*model.TransitionRecord, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
}

// Deliverer переносит записи из outbox в Notifier.
// Ошибки доставки не трогают движок: запись останется в outbox до следующего тика.
type Deliverer struct {
	outbox   Outbox
	notifier Notifier
	metrics  *metrics.EngineMetrics
	logger   *zap.Logger
	now      func() time.Time
}

func NewDeliverer(outbox Outbox, notifier Notifier, metrics *metrics.EngineMetrics, logger *zap.Logger) *Deliverer {
	return &Deliverer{
		outbox:   outbox,
		notifier: notifier,
		metrics:  metrics,
		logger:   logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// DeliverPending отправляет одну пачку по порядку и останавливается на первой ошибке,
// чтобы лента не перемешалась
func (d *Deliverer) DeliverPending(ctx context.Context) (int, error) {
	records, err := d.outbox.ListUndelivered(ctx, deliveryBatchSize)
	if err != nil {
		return 0, fmt.Errorf("list undelivered transitions: %w", err)
	}

	sent := 0
	for _, rec := range records {
		if err := d.notifier.Notify(ctx, rec); err != nil {
			d.metrics.ObserveNotification("failed")
			d.logger.Warn("Transition notification failed",
				zap.Int64("folio", rec.Folio),
				zap.String("transition_id", rec.ID.String()),
				zap.Error(err),
			)
			return sent, err
		}

		marked, err := d.outbox.MarkDelivered(ctx, rec.ID, d.now())
		if err != nil {
			return sent, fmt.Errorf("mark transition %s delivered: %w", rec.ID, err)
		}
		if !marked {
			// другой экземпляр успел раньше
			d.logger.Debug("Transition already delivered", zap.String("transition_id", rec.ID.String()))
		}

		d.metrics.ObserveNotification("sent")
		sent++
	}

	return sent, nil
}
