package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository/base"
)

type CancellationRepository struct {
	*base.Repository
}

func NewCancellationRepository(db base.DB) *CancellationRepository {
	return &CancellationRepository{Repository: base.NewRepository(db)}
}

// Append записывает итог отмены; запись не изменяется
func (r *CancellationRepository) Append(ctx context.Context, rec *model.CancellationRecord) error {
	query := `
		INSERT INTO cancellations (folio, hours_advance, refund_percent, refund_amount, motive, actor_role, actor_id, cancelled_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`

	_, err := r.Conn(ctx).Exec(
		ctx, query,
		rec.Folio,
		rec.HoursAdvance,
		rec.RefundPercent,
		rec.RefundAmount,
		rec.Motive,
		rec.ActorRole,
		rec.ActorID,
		rec.CancelledAt,
	)
	if err != nil {
		return fmt.Errorf("append cancellation: %w", err)
	}

	return nil
}

// GetByFolio получает запись об отмене
func (r *CancellationRepository) GetByFolio(ctx context.Context, folio int64) (*model.CancellationRecord, error) {
	query := `
		SELECT folio, hours_advance, refund_percent, refund_amount, motive, actor_role, actor_id, cancelled_at
		FROM cancellations
		WHERE folio = $1
	`

	var rec model.CancellationRecord
	err := r.QueryRow(ctx, query, folio).Scan(
		&rec.Folio,
		&rec.HoursAdvance,
		&rec.RefundPercent,
		&rec.RefundAmount,
		&rec.Motive,
		&rec.ActorRole,
		&rec.ActorID,
		&rec.CancelledAt,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get cancellation: %w", err)
	}

	return &rec, nil
}
