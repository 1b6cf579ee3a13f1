package model

import "fmt"

type Role string

const (
	RolePatient      Role = "patient"
	RoleDoctor       Role = "doctor"
	RoleReceptionist Role = "receptionist"
	RolePharmacist   Role = "pharmacist"
	RoleSystem       Role = "system"
)

// Actor is the authenticated caller of an engine operation.
// Each role has its own variant with a fixed field set.
type Actor interface {
	Role() Role
	ID() int64
	isActor()
}

type PatientActor struct {
	PatientID int64
}

type DoctorActor struct {
	DoctorID int64
}

// StaffActor covers front-desk receptionists and pharmacists.
type StaffActor struct {
	StaffID  int64
	Position Role
}

// SystemActor is used by engine-internal flows (reconciliation, sweeps).
type SystemActor struct {
	Process string
}

func (a PatientActor) Role() Role { return RolePatient }
func (a PatientActor) ID() int64  { return a.PatientID }
func (PatientActor) isActor()     {}

func (a DoctorActor) Role() Role { return RoleDoctor }
func (a DoctorActor) ID() int64  { return a.DoctorID }
func (DoctorActor) isActor()     {}

func (a StaffActor) Role() Role { return a.Position }
func (a StaffActor) ID() int64  { return a.StaffID }
func (StaffActor) isActor()     {}

func (a SystemActor) Role() Role { return RoleSystem }
func (a SystemActor) ID() int64  { return 0 }
func (SystemActor) isActor()     {}

// NewActor builds the variant for an authenticated identity
func NewActor(role string, id int64) (Actor, error) {
	if id <= 0 {
		return nil, fmt.Errorf("actor id must be positive")
	}
	switch Role(role) {
	case RolePatient:
		return PatientActor{PatientID: id}, nil
	case RoleDoctor:
		return DoctorActor{DoctorID: id}, nil
	case RoleReceptionist, RolePharmacist:
		return StaffActor{StaffID: id, Position: Role(role)}, nil
	default:
		return nil, fmt.Errorf("unknown role %q", role)
	}
}

// IsReceptionist checks for front-desk privileges
func IsReceptionist(a Actor) bool {
	staff, ok := a.(StaffActor)
	return ok && staff.Position == RoleReceptionist
}

// OwnsAppointment checks if the actor is the patient or the doctor of appt
func OwnsAppointment(a Actor, appt *Appointment) bool {
	switch v := a.(type) {
	case PatientActor:
		return v.PatientID == appt.PatientID
	case DoctorActor:
		return v.DoctorID == appt.DoctorID
	}
	return false
}
