package identity

import "errors"

var (
	// ErrNotFound is returned when no patient matches the id.
	ErrNotFound = errors.New("patient not found")

	// ErrMergeConflict is returned when both patients carry substantive,
	// conflicting demographics. Requires manual resolution, never auto-merged.
	ErrMergeConflict = errors.New("merge conflict: both patients have substantive records")

	// ErrSelfMerge is returned when source and target are the same patient.
	ErrSelfMerge = errors.New("cannot merge a patient into itself")
)
