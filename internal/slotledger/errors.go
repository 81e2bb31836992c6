package slotledger

import "errors"

var (
	// ErrSlotTaken is returned when a non-canceled reservation already
	// holds the requested (resource, date, time) slot.
	ErrSlotTaken = errors.New("slot already taken")

	// ErrPatientAlreadyBooked is returned when the patient already has an
	// in-flight reservation on the requested date.
	ErrPatientAlreadyBooked = errors.New("patient already booked")

	// ErrNotFound is returned when no reservation matches the token.
	ErrNotFound = errors.New("reservation not found")

	// ErrInvalidTransition is returned for a status change the state
	// machine does not allow.
	ErrInvalidTransition = errors.New("invalid status transition")
)
