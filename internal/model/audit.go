package model

import (
	"time"

	"github.com/google/uuid"
)

// TransitionRecord is the audit entry written for every status change.
// Booking itself is recorded with an empty From.
type TransitionRecord struct {
	ID         uuid.UUID         `json:"id"`
	Folio      int64             `json:"folio"`
	From       AppointmentStatus `json:"from"`
	To         AppointmentStatus `json:"to"`
	ActorRole  Role              `json:"actor_role"`
	ActorID    int64             `json:"actor_id"`
	Motive     string            `json:"motive"`
	OccurredAt time.Time         `json:"occurred_at"`
	NotifiedAt *time.Time        `json:"notified_at"`
}

// CancellationRecord is appended once per cancelled appointment and never mutated.
type CancellationRecord struct {
	Folio         int64     `json:"folio"`
	HoursAdvance  int       `json:"hours_advance"` // truncated toward zero, display only
	RefundPercent int       `json:"refund_percent"`
	RefundAmount  int64     `json:"refund_amount"`
	Motive        string    `json:"motive"`
	ActorRole     Role      `json:"actor_role"`
	ActorID       int64     `json:"actor_id"`
	CancelledAt   time.Time `json:"cancelled_at"`
}
