package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository/base"
	"github.com/jackc/pgx/v5"
)

type AppointmentRepository struct {
	*base.Repository
}

func NewAppointmentRepository(db base.DB) *AppointmentRepository {
	return &AppointmentRepository{Repository: base.NewRepository(db)}
}

const appointmentColumns = `folio, patient_id, doctor_id, specialty_id, scheduled_at, consulting_room,
	status, payment_id, created_at, updated_at`

func scanAppointment(row pgx.Row) (*model.Appointment, error) {
	var appt model.Appointment
	err := row.Scan(
		&appt.Folio,
		&appt.PatientID,
		&appt.DoctorID,
		&appt.SpecialtyID,
		&appt.ScheduledAt,
		&appt.ConsultingRoom,
		&appt.Status,
		&appt.PaymentID,
		&appt.CreatedAt,
		&appt.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	appt.ScheduledAt = appt.ScheduledAt.UTC()
	appt.CreatedAt = appt.CreatedAt.UTC()
	return &appt, nil
}

// Create резервирует слот; уникальный индекс по активным записям отсекает гонку
func (r *AppointmentRepository) Create(ctx context.Context, appt *model.Appointment) error {
	query := `
		INSERT INTO appointments (patient_id, doctor_id, specialty_id, scheduled_at, consulting_room, status, payment_id, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING folio, updated_at
	`

	err := r.QueryRow(
		ctx, query,
		appt.PatientID,
		appt.DoctorID,
		appt.SpecialtyID,
		appt.ScheduledAt,
		appt.ConsultingRoom,
		appt.Status,
		appt.PaymentID,
		appt.CreatedAt,
	).Scan(&appt.Folio, &appt.UpdatedAt)

	if err != nil {
		if constraint, ok := base.UniqueViolation(err); ok && constraint == activeSlotIndex {
			return ErrSlotTaken
		}
		return fmt.Errorf("create appointment: %w", err)
	}

	return nil
}

// GetByFolio получает запись по фолио
func (r *AppointmentRepository) GetByFolio(ctx context.Context, folio int64) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE folio = $1`

	appt, err := scanAppointment(r.QueryRow(ctx, query, folio))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get appointment by folio: %w", err)
	}

	return appt, nil
}

// GetByFolioForUpdate блокирует строку до конца транзакции
func (r *AppointmentRepository) GetByFolioForUpdate(ctx context.Context, folio int64) (*model.Appointment, error) {
	query := `SELECT ` + appointmentColumns + ` FROM appointments WHERE folio = $1 FOR UPDATE`

	appt, err := scanAppointment(r.QueryRow(ctx, query, folio))
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("lock appointment: %w", err)
	}

	return appt, nil
}

// UpdateStatus меняет статус только если текущий совпадает с from
func (r *AppointmentRepository) UpdateStatus(ctx context.Context, folio int64, from, to model.AppointmentStatus, at time.Time) error {
	query := `
		UPDATE appointments
		SET status = $3, updated_at = $4
		WHERE folio = $1 AND status = $2
	`

	affected, err := r.ExecAffected(ctx, query, folio, from, to, at)
	if err != nil {
		return fmt.Errorf("update appointment status: %w", err)
	}
	if affected == 0 {
		return ErrNotFound
	}

	return nil
}

// BookedStarts возвращает начала активных записей врача в [from, to)
func (r *AppointmentRepository) BookedStarts(ctx context.Context, doctorID int64, from, to time.Time) ([]time.Time, error) {
	query := `
		SELECT scheduled_at
		FROM appointments
		WHERE doctor_id = $1
		  AND scheduled_at >= $2 AND scheduled_at < $3
		  AND status <> ALL($4)
		ORDER BY scheduled_at
	`

	rows, err := r.Query(ctx, query, doctorID, from, to, cancelledStatusNames())
	if err != nil {
		return nil, fmt.Errorf("query booked starts: %w", err)
	}
	defer rows.Close()

	var starts []time.Time
	for rows.Next() {
		var at time.Time
		if err := rows.Scan(&at); err != nil {
			return nil, fmt.Errorf("scan booked start: %w", err)
		}
		starts = append(starts, at.UTC())
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate booked starts: %w", err)
	}

	return starts, nil
}

// ListLapseCandidates возвращает неоплаченные фолио, чьё окно оплаты закрылось до createdBefore,
// а сам приём ещё впереди
func (r *AppointmentRepository) ListLapseCandidates(ctx context.Context, createdBefore, now time.Time, limit int) ([]int64, error) {
	query := `
		SELECT folio
		FROM appointments
		WHERE status = $1 AND created_at <= $2 AND scheduled_at > $3
		ORDER BY created_at
		LIMIT $4
	`
	return r.listFolios(ctx, "list lapse candidates", query, model.StatusScheduled, createdBefore, now, limit)
}

// ListNoShowCandidates возвращает оплаченные фолио, чей приём начался до scheduledBefore
func (r *AppointmentRepository) ListNoShowCandidates(ctx context.Context, scheduledBefore time.Time, limit int) ([]int64, error) {
	query := `
		SELECT folio
		FROM appointments
		WHERE status = $1 AND scheduled_at <= $2
		ORDER BY scheduled_at
		LIMIT $3
	`
	return r.listFolios(ctx, "list no-show candidates", query, model.StatusPaidPendingAttendance, scheduledBefore, limit)
}

func (r *AppointmentRepository) listFolios(ctx context.Context, op, query string, args ...interface{}) ([]int64, error) {
	rows, err := r.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}
	defer rows.Close()

	var folios []int64
	for rows.Next() {
		var folio int64
		if err := rows.Scan(&folio); err != nil {
			return nil, fmt.Errorf("%s: scan: %w", op, err)
		}
		folios = append(folios, folio)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("%s: %w", op, err)
	}

	return folios, nil
}

func cancelledStatusNames() []string {
	statuses := model.CancelledStatuses()
	names := make([]string, 0, len(statuses))
	for _, s := range statuses {
		names = append(names, string(s))
	}
	return names
}
