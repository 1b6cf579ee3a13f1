package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMock(t *testing.T) pgxmock.PgxPoolIface {
	t.Helper()
	mock, err := pgxmock.NewPool()
	if err != nil {
		t.Fatalf("failed to create pgx mock: %v", err)
	}
	t.Cleanup(mock.Close)
	return mock
}

// anyArgs матчит n аргументов любого значения
func anyArgs(n int) []interface{} {
	args := make([]interface{}, n)
	for i := range args {
		args[i] = pgxmock.AnyArg()
	}
	return args
}

func TestAppointmentRepositoryCreate(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)

	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	appt := &model.Appointment{
		PatientID:      1,
		DoctorID:       2,
		SpecialtyID:    3,
		ScheduledAt:    at,
		ConsultingRoom: "C-12",
		Status:         model.StatusScheduled,
		PaymentID:      uuid.New(),
		CreatedAt:      at.Add(-72 * time.Hour),
	}

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(int64(1), int64(2), int64(3), at, "C-12", model.StatusScheduled, appt.PaymentID, appt.CreatedAt).
		WillReturnRows(pgxmock.NewRows([]string{"folio", "updated_at"}).AddRow(int64(41), appt.CreatedAt))

	require.NoError(t, repo.Create(context.Background(), appt))
	assert.Equal(t, int64(41), appt.Folio)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryCreateSlotTaken(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_active_slot_uq"})

	err := repo.Create(context.Background(), &model.Appointment{Status: model.StatusScheduled})
	assert.ErrorIs(t, err, ErrSlotTaken)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryCreateOtherUniqueViolation(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)

	mock.ExpectQuery("INSERT INTO appointments").
		WithArgs(anyArgs(8)...).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "appointments_payment_id_key"})

	err := repo.Create(context.Background(), &model.Appointment{Status: model.StatusScheduled})
	require.Error(t, err)
	assert.False(t, errors.Is(err, ErrSlotTaken))
	var pgErr *pgconn.PgError
	require.ErrorAs(t, err, &pgErr)
	assert.Equal(t, "appointments_payment_id_key", pgErr.ConstraintName)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryGetByFolio(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)

	at := time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC)
	paymentID := uuid.New()
	rows := pgxmock.NewRows([]string{
		"folio", "patient_id", "doctor_id", "specialty_id", "scheduled_at", "consulting_room",
		"status", "payment_id", "created_at", "updated_at",
	}).AddRow(int64(7), int64(1), int64(2), int64(3), at, "C-12", model.StatusPaidPendingAttendance, paymentID, at, at)

	mock.ExpectQuery("SELECT folio").WithArgs(int64(7)).WillReturnRows(rows)

	appt, err := repo.GetByFolio(context.Background(), 7)
	require.NoError(t, err)
	require.NotNil(t, appt)
	assert.Equal(t, model.StatusPaidPendingAttendance, appt.Status)
	assert.Equal(t, paymentID, appt.PaymentID)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryGetByFolioNotFound(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)

	mock.ExpectQuery("FOR UPDATE").WithArgs(int64(9)).WillReturnError(pgx.ErrNoRows)

	appt, err := repo.GetByFolioForUpdate(context.Background(), 9)
	require.NoError(t, err)
	assert.Nil(t, appt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryUpdateStatusGuard(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec("UPDATE appointments").
		WithArgs(int64(7), model.StatusScheduled, model.StatusCancelledUnpaid, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointments").
		WithArgs(int64(7), model.StatusScheduled, model.StatusCancelledUnpaid, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	require.NoError(t, repo.UpdateStatus(context.Background(), 7, model.StatusScheduled, model.StatusCancelledUnpaid, now))
	err := repo.UpdateStatus(context.Background(), 7, model.StatusScheduled, model.StatusCancelledUnpaid, now)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryBookedStarts(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)

	day := time.Date(2026, 3, 5, 0, 0, 0, 0, time.UTC)
	rows := pgxmock.NewRows([]string{"scheduled_at"}).
		AddRow(day.Add(9 * time.Hour)).
		AddRow(day.Add(10 * time.Hour))

	mock.ExpectQuery("SELECT scheduled_at").
		WithArgs(int64(2), day, day.AddDate(0, 0, 1), []string{"cancelled_by_patient", "cancelled_by_doctor", "cancelled_unpaid"}).
		WillReturnRows(rows)

	starts, err := repo.BookedStarts(context.Background(), 2, day, day.AddDate(0, 0, 1))
	require.NoError(t, err)
	assert.Equal(t, []time.Time{day.Add(9 * time.Hour), day.Add(10 * time.Hour)}, starts)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAppointmentRepositoryListNoShowCandidates(t *testing.T) {
	mock := newMock(t)
	repo := NewAppointmentRepository(mock)
	cutoff := time.Date(2026, 3, 5, 9, 30, 0, 0, time.UTC)

	mock.ExpectQuery("SELECT folio").
		WithArgs(model.StatusPaidPendingAttendance, cutoff, 50).
		WillReturnRows(pgxmock.NewRows([]string{"folio"}).AddRow(int64(3)).AddRow(int64(5)))

	folios, err := repo.ListNoShowCandidates(context.Background(), cutoff, 50)
	require.NoError(t, err)
	assert.Equal(t, []int64{3, 5}, folios)
	assert.NoError(t, mock.ExpectationsWereMet())
}
