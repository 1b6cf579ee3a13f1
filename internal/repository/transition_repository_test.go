package repository

import (
	"context"
	"testing"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	pgxmock "github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTransitionRepositoryAppendAndDeliver(t *testing.T) {
	mock := newMock(t)
	repo := NewTransitionRepository(mock)
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)

	rec := &model.TransitionRecord{
		Folio:      7,
		To:         model.StatusScheduled,
		ActorRole:  model.RolePatient,
		ActorID:    1,
		OccurredAt: now,
	}

	mock.ExpectExec("INSERT INTO appointment_transitions").
		WithArgs(pgxmock.AnyArg(), int64(7), "", model.StatusScheduled, model.RolePatient, int64(1), "", now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, repo.Append(context.Background(), rec))
	assert.NotEqual(t, uuid.Nil, rec.ID)

	rows := pgxmock.NewRows([]string{
		"id", "folio", "from_status", "to_status", "actor_role", "actor_id", "motive", "occurred_at", "notified_at",
	}).AddRow(rec.ID, int64(7), model.AppointmentStatus(""), model.StatusScheduled, model.RolePatient, int64(1), "", now, nil)
	mock.ExpectQuery("SELECT id").WithArgs(20).WillReturnRows(rows)

	pending, err := repo.ListUndelivered(context.Background(), 20)
	require.NoError(t, err)
	require.Len(t, pending, 1)
	assert.Equal(t, rec.ID, pending[0].ID)
	assert.Nil(t, pending[0].NotifiedAt)

	mock.ExpectExec("UPDATE appointment_transitions").
		WithArgs(rec.ID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec("UPDATE appointment_transitions").
		WithArgs(rec.ID, now).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := repo.MarkDelivered(context.Background(), rec.ID, now)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = repo.MarkDelivered(context.Background(), rec.ID, now)
	require.NoError(t, err)
	assert.False(t, ok)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestDirectoryRepositoryGetSchedule(t *testing.T) {
	mock := newMock(t)
	repo := NewDirectoryRepository(mock)

	rows := pgxmock.NewRows([]string{
		"doctor_id", "specialty_id", "consulting_room", "start_minute", "end_minute", "shift_label",
	}).AddRow(int64(2), int64(3), "C-12", 9*60, 13*60, "morning")
	mock.ExpectQuery("FROM doctor_schedules").WithArgs(int64(2), int16(time.Thursday)).WillReturnRows(rows)

	schedule, err := repo.GetSchedule(context.Background(), 2, time.Thursday)
	require.NoError(t, err)
	require.NotNil(t, schedule)
	assert.Equal(t, time.Thursday, schedule.Weekday)
	assert.Equal(t, "C-12", schedule.ConsultingRoom)

	start, end := schedule.Bounds(time.Date(2026, 3, 5, 15, 0, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2026, 3, 5, 9, 0, 0, 0, time.UTC), start)
	assert.Equal(t, time.Date(2026, 3, 5, 13, 0, 0, 0, time.UTC), end)

	mock.ExpectQuery("FROM doctor_schedules").WithArgs(int64(2), int16(time.Sunday)).WillReturnError(pgx.ErrNoRows)
	schedule, err = repo.GetSchedule(context.Background(), 2, time.Sunday)
	require.NoError(t, err)
	assert.Nil(t, schedule)

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestCancellationRepositoryAppend(t *testing.T) {
	mock := newMock(t)
	repo := NewCancellationRepository(mock)
	now := time.Now().UTC()

	mock.ExpectExec("INSERT INTO cancellations").
		WithArgs(int64(7), 72, 100, int64(35000), "travel", model.RolePatient, int64(1), now).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err := repo.Append(context.Background(), &model.CancellationRecord{
		Folio:         7,
		HoursAdvance:  72,
		RefundPercent: 100,
		RefundAmount:  35000,
		Motive:        "travel",
		ActorRole:     model.RolePatient,
		ActorID:       1,
		CancelledAt:   now,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}
