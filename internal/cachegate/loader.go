package cachegate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/internal/reorder"
	"github.com/wolfman30/clinic-reservation-engine/internal/slotledger"
)

// PatientView is the aggregate served to chat flows: who the patient is,
// their reservations, the open intake if any, and reorder history.
type PatientView struct {
	Patient      patientSummary       `json:"patient"`
	Reservations []reservationSummary `json:"reservations"`
	OpenIntake   *intakeSummary       `json:"open_intake,omitempty"`
	Reorders     []reorderSummary     `json:"reorders"`
	GeneratedAt  time.Time            `json:"generated_at"`
}

type patientSummary struct {
	ID       uuid.UUID `json:"id"`
	Name     string    `json:"name"`
	NameKana string    `json:"name_kana,omitempty"`
	Phone    string    `json:"phone,omitempty"`
	Status   string    `json:"status"`
}

type reservationSummary struct {
	Token      string `json:"token"`
	ResourceID string `json:"resource_id"`
	VisitDate  string `json:"visit_date"`
	SlotTime   string `json:"slot_time"`
	Status     string `json:"status"`
}

type intakeSummary struct {
	ID        uuid.UUID `json:"id"`
	CreatedAt time.Time `json:"created_at"`
}

type reorderSummary struct {
	ID      int64  `json:"id"`
	Product string `json:"product"`
	Status  string `json:"status"`
}

// NewPatientViewLoader assembles a Loader over the authoritative stores.
// The loader reads directly; invalidation keeps the cached copy honest.
func NewPatientViewLoader(patients *identity.Store, reservations *slotledger.Store, intakes *intake.Store, reorders *reorder.Store) Loader {
	return func(ctx context.Context, patientID uuid.UUID) (json.RawMessage, error) {
		p, err := patients.GetByID(ctx, nil, patientID)
		if err != nil {
			return nil, fmt.Errorf("cachegate: load patient: %w", err)
		}

		view := PatientView{
			Patient: patientSummary{
				ID:       p.ID,
				Name:     p.Name,
				NameKana: p.NameKana,
				Phone:    p.Phone,
				Status:   p.Status,
			},
			Reservations: []reservationSummary{},
			Reorders:     []reorderSummary{},
			GeneratedAt:  time.Now().UTC(),
		}

		rs, err := reservations.ListForPatient(ctx, patientID)
		if err != nil {
			return nil, fmt.Errorf("cachegate: load reservations: %w", err)
		}
		for _, r := range rs {
			view.Reservations = append(view.Reservations, reservationSummary{
				Token:      r.Token,
				ResourceID: r.ResourceID,
				VisitDate:  r.VisitDate.Format("2006-01-02"),
				SlotTime:   r.SlotTime,
				Status:     string(r.Status),
			})
		}

		open, err := intakes.OpenForPatient(ctx, patientID)
		switch {
		case err == nil:
			view.OpenIntake = &intakeSummary{ID: open.ID, CreatedAt: open.CreatedAt}
		case errors.Is(err, intake.ErrNotFound):
			// no open intake
		default:
			return nil, fmt.Errorf("cachegate: load open intake: %w", err)
		}

		reqs, err := reorders.ListForPatient(ctx, nil, patientID)
		if err != nil {
			return nil, fmt.Errorf("cachegate: load reorders: %w", err)
		}
		for _, req := range reqs {
			view.Reorders = append(view.Reorders, reorderSummary{
				ID:      req.ID,
				Product: req.Product,
				Status:  req.Status,
			})
		}

		data, err := json.Marshal(view)
		if err != nil {
			return nil, fmt.Errorf("cachegate: encode view: %w", err)
		}
		return data, nil
	}
}
