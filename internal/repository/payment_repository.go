package repository

import (
	"context"
	"fmt"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type PaymentRepository struct {
	*base.Repository
}

func NewPaymentRepository(db base.DB) *PaymentRepository {
	return &PaymentRepository{Repository: base.NewRepository(db)}
}

const paymentColumns = `id, folio, amount_due, amount_paid, amount_refunded, currency, method,
	external_ref, payer_id, card_last4, status, paid_at, created_at, updated_at`

func scanPayment(row pgx.Row) (*model.Payment, error) {
	var p model.Payment
	err := row.Scan(
		&p.ID,
		&p.Folio,
		&p.AmountDue,
		&p.AmountPaid,
		&p.AmountRefunded,
		&p.Currency,
		&p.Method,
		&p.ExternalRef,
		&p.PayerID,
		&p.CardLast4,
		&p.Status,
		&p.PaidAt,
		&p.CreatedAt,
		&p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// Create создаёт платёж в статусе pending вместе с записью
func (r *PaymentRepository) Create(ctx context.Context, p *model.Payment) error {
	query := `
		INSERT INTO payments (id, folio, amount_due, amount_paid, amount_refunded, currency, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $8)
	`

	_, err := r.Conn(ctx).Exec(
		ctx, query,
		p.ID,
		p.Folio,
		p.AmountDue,
		p.AmountPaid,
		p.AmountRefunded,
		p.Currency,
		p.Status,
		p.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("create payment: %w", err)
	}

	p.UpdatedAt = p.CreatedAt
	return nil
}

// GetByFolio получает платёж записи
func (r *PaymentRepository) GetByFolio(ctx context.Context, folio int64) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE folio = $1`

	p, err := scanPayment(r.QueryRow(ctx, query, folio))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get payment by folio: %w", err)
	}

	return p, nil
}

// GetByFolioForUpdate блокирует платёж; вызывать после блокировки записи
func (r *PaymentRepository) GetByFolioForUpdate(ctx context.Context, folio int64) (*model.Payment, error) {
	query := `SELECT ` + paymentColumns + ` FROM payments WHERE folio = $1 FOR UPDATE`

	p, err := scanPayment(r.QueryRow(ctx, query, folio))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock payment: %w", err)
	}

	return p, nil
}

// MarkPaid переводит pending платёж в paid с данными захвата
func (r *PaymentRepository) MarkPaid(ctx context.Context, p *model.Payment) error {
	query := `
		UPDATE payments
		SET amount_paid = $2, method = $3, external_ref = $4, payer_id = $5, card_last4 = $6,
		    status = $7, paid_at = $8, updated_at = $8
		WHERE id = $1 AND status = 'pending'
	`

	affected, err := r.ExecAffected(
		ctx, query,
		p.ID,
		p.AmountPaid,
		p.Method,
		p.ExternalRef,
		p.PayerID,
		p.CardLast4,
		p.Status,
		p.PaidAt,
	)
	if err != nil {
		if constraint, ok := base.UniqueViolation(err); ok && constraint == externalRefIndex {
			return ErrDuplicateExternalRef
		}
		return fmt.Errorf("mark payment paid: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// ApplyCancellation сохраняет итог отмены: возврат или аннулирование
func (r *PaymentRepository) ApplyCancellation(ctx context.Context, p *model.Payment) error {
	query := `
		UPDATE payments
		SET status = $2, amount_refunded = $3, updated_at = $4
		WHERE id = $1
	`

	affected, err := r.ExecAffected(ctx, query, p.ID, p.Status, p.AmountRefunded, p.UpdatedAt)
	if err != nil {
		return fmt.Errorf("apply payment cancellation: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}
