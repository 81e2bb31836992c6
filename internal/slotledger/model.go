package slotledger

import (
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of a reservation.
type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusCompleted Status = "completed"
	StatusCanceled  Status = "canceled"
)

// Terminal reports whether no further transitions are allowed.
func (s Status) Terminal() bool {
	return s == StatusCompleted || s == StatusCanceled
}

// CanTransition reports whether the state machine allows from -> to.
// pending -> confirmed -> completed, and {pending, confirmed} -> canceled.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusPending:
		return to == StatusConfirmed || to == StatusCanceled
	case StatusConfirmed:
		return to == StatusCompleted || to == StatusCanceled
	default:
		return false
	}
}

// Reservation is a single slot allocation for a patient.
type Reservation struct {
	ID         uuid.UUID
	Token      string
	PatientID  uuid.UUID
	ResourceID string
	VisitDate  time.Time
	SlotTime   string
	Status     Status
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Slot identifies a bookable (resource, date, time) triple.
type Slot struct {
	ResourceID string
	VisitDate  time.Time
	SlotTime   string
}
