package repository

import "errors"

var (
	// ErrNotFound is returned by guarded updates that matched no row
	ErrNotFound = errors.New("row not found")
	// ErrSlotTaken means an active appointment already holds the doctor/time pair
	ErrSlotTaken = errors.New("slot already taken")
	// ErrDuplicateExternalRef means the processor reference is bound to another payment
	ErrDuplicateExternalRef = errors.New("external reference already used")
)

// Unique index names from the migrations
const (
	activeSlotIndex  = "appointments_active_slot_uq"
	externalRefIndex = "payments_external_ref_uq"
)
