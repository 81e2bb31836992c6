package identity

import (
	"time"

	"github.com/google/uuid"
)

// Patient lifecycle states. A merged patient keeps its row for audit but
// never receives new records.
const (
	StatusActive = "active"
	StatusMerged = "merged"
)

// Patient is the canonical identity record. The internal id is immutable
// once assigned; the external chat identity may be absent for patients
// imported from the spreadsheet ledger.
type Patient struct {
	ID         uuid.UUID
	ChatUserID *string
	Name       string
	NameKana   string
	Sex        string
	Birthdate  string
	Phone      string
	Status     string
	MergedInto *uuid.UUID
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// Substantive reports whether the patient carries any real demographic data
// beyond the placeholder created at first contact.
func (p *Patient) Substantive() bool {
	return p.Name != "" || p.NameKana != "" || p.Birthdate != "" || p.Phone != ""
}

// DuplicateGroup is a set of active patients sharing one chat identity.
type DuplicateGroup struct {
	ChatUserID string
	PatientIDs []uuid.UUID
}
