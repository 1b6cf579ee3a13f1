package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/Freeeeeet/frontdesk/internal/model"
	"github.com/Freeeeeet/frontdesk/internal/repository/base"
)

// DirectoryRepository читает справочники врачей, специальностей и пациентов.
// Их ведёт администрация вне движка.
type DirectoryRepository struct {
	*base.Repository
}

func NewDirectoryRepository(db base.DB) *DirectoryRepository {
	return &DirectoryRepository{Repository: base.NewRepository(db)}
}

// GetDoctor получает врача по ID
func (r *DirectoryRepository) GetDoctor(ctx context.Context, id int64) (*model.Doctor, error) {
	query := `SELECT id, name, specialty_id, consulting_room FROM doctors WHERE id = $1`

	var d model.Doctor
	err := r.QueryRow(ctx, query, id).Scan(&d.ID, &d.Name, &d.SpecialtyID, &d.ConsultingRoom)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get doctor: %w", err)
	}

	return &d, nil
}

// GetSpecialty получает специальность со стоимостью консультации
func (r *DirectoryRepository) GetSpecialty(ctx context.Context, id int64) (*model.Specialty, error) {
	query := `SELECT id, name, cost_cents FROM specialties WHERE id = $1`

	var s model.Specialty
	err := r.QueryRow(ctx, query, id).Scan(&s.ID, &s.Name, &s.CostCents)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get specialty: %w", err)
	}

	return &s, nil
}

// GetPatient получает пациента по ID
func (r *DirectoryRepository) GetPatient(ctx context.Context, id int64) (*model.Patient, error) {
	query := `SELECT id, name FROM patients WHERE id = $1`

	var p model.Patient
	err := r.QueryRow(ctx, query, id).Scan(&p.ID, &p.Name)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get patient: %w", err)
	}

	return &p, nil
}

// GetSchedule возвращает часы работы врача в день недели или nil, если врач не работает
func (r *DirectoryRepository) GetSchedule(ctx context.Context, doctorID int64, weekday time.Weekday) (*model.DoctorSchedule, error) {
	query := `
		SELECT s.doctor_id, d.specialty_id, d.consulting_room, s.start_minute, s.end_minute, s.shift_label
		FROM doctor_schedules s
		JOIN doctors d ON d.id = s.doctor_id
		WHERE s.doctor_id = $1 AND s.weekday = $2
	`

	schedule := model.DoctorSchedule{Weekday: weekday}
	err := r.QueryRow(ctx, query, doctorID, int16(weekday)).Scan(
		&schedule.DoctorID,
		&schedule.SpecialtyID,
		&schedule.ConsultingRoom,
		&schedule.StartMinute,
		&schedule.EndMinute,
		&schedule.ShiftLabel,
	)
	if err != nil {
		if base.IsNotFound(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("get doctor schedule: %w", err)
	}

	return &schedule, nil
}
