package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository/base"
	"github.com/google/uuid"
)

// TransitionRepository stores the status audit trail. Undelivered rows
// (notified_at IS NULL) double as the notification outbox.
type TransitionRepository struct {
	*base.Repository
}

func NewTransitionRepository(db base.DB) *TransitionRepository {
	return &TransitionRepository{Repository: base.NewRepository(db)}
}

// Append stores one transition
func (r *TransitionRepository) Append(ctx context.Context, rec *model.TransitionRecord) error {
	query := `
		INSERT INTO appointment_transitions (id, folio, from_status, to_status, actor_role, actor_id, motive, occurred_at)
		VALUES ($1, $2, NULLIF($3, ''), $4, $5, $6, $7, $8)
	`

	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}

	_, err := r.Conn(ctx).Exec(
		ctx, query,
		rec.ID,
		rec.Folio,
		string(rec.From),
		rec.To,
		rec.ActorRole,
		rec.ActorID,
		rec.Motive,
		rec.OccurredAt,
	)
	if err != nil {
		return fmt.Errorf("append transition: %w", err)
	}

	return nil
}

// ListByFolio returns the status history of an appointment
func (r *TransitionRepository) ListByFolio(ctx context.Context, folio int64) ([]*model.TransitionRecord, error) {
	query := `
		SELECT id, folio, COALESCE(from_status, ''), to_status, actor_role, actor_id, motive, occurred_at, notified_at
		FROM appointment_transitions
		WHERE folio = $1
		ORDER BY occurred_at, id
	`
	return r.list(ctx, "list transitions by folio", query, folio)
}

// ListUndelivered returns the oldest transitions not yet announced
func (r *TransitionRepository) ListUndelivered(ctx context.Context, limit int) ([]*model.TransitionRecord, error) {
	query := `
		SELECT id, folio, COALESCE(from_status, ''), to_status, actor_role, actor_id, motive, occurred_at, notified_at
		FROM appointment_transitions
		WHERE notified_at IS NULL
		ORDER BY occurred_at
		LIMIT $1
	`
	return r.list(ctx, "list undelivered transitions", query, limit)
}

// MarkDelivered reports false when another deliverer got there first
func (r *TransitionRepository) MarkDelivered(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	query := `UPDATE appointment_transitions SET notified_at = $2 WHERE id = $1 AND notified_at IS NULL`

	affected, err := r.ExecAffected(ctx, query, id, at)
	if err != nil {
		return false, fmt.Errorf("mark transition delivered: %w", err)
	}

	return affected > 0, nil
}

func (r *TransitionRepository) list(ctx context.Context, op, query string, args ...interface{}) ([]*model.TransitionRecord, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var records []*model.TransitionRecord
	for rows.Next() {
		var rec model.TransitionRecord
		if err := rows.Scan(
			&rec.ID,
			&rec.Folio,
			&rec.From,
			&rec.To,
			&rec.ActorRole,
			&rec.ActorID,
			&rec.Motive,
			&rec.OccurredAt,
			&rec.NotifiedAt,
		); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		records = append(records, &rec)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return records, nil
}
