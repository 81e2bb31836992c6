package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// Invalidator drops a patient's cached aggregate view.
type Invalidator interface {
	Invalidate(ctx context.Context, patientID uuid.UUID) error
}

// IntakeHandler exposes intake record operations.
type IntakeHandler struct {
	intakes     *intake.Store
	invalidator Invalidator
	logger      *logging.Logger
}

func NewIntakeHandler(intakes *intake.Store, invalidator Invalidator, logger *logging.Logger) *IntakeHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &IntakeHandler{intakes: intakes, invalidator: invalidator, logger: logger}
}

type createIntakeRequest struct {
	PatientID     string `json:"patient_id"`
	ReservationID string `json:"reservation_id"`
}

func (h *IntakeHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createIntakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id must be a UUID")
		return
	}
	var reservationID *uuid.UUID
	if req.ReservationID != "" {
		parsed, err := uuid.Parse(req.ReservationID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "reservation_id must be a UUID")
			return
		}
		reservationID = &parsed
	}
	record, err := h.intakes.Create(r.Context(), nil, patientID, reservationID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.invalidate(r.Context(), patientID)
	writeJSON(w, http.StatusCreated, record)
}

type answerIntakeRequest struct {
	Answers json.RawMessage `json:"answers"`
}

func (h *IntakeHandler) Answer(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be a UUID")
		return
	}
	var req answerIntakeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if len(req.Answers) == 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "answers are required")
		return
	}
	patientID, err := h.intakes.Answer(r.Context(), nil, id, req.Answers)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.invalidate(r.Context(), patientID)
	writeJSON(w, http.StatusOK, map[string]bool{"answered": true})
}

func (h *IntakeHandler) Open(w http.ResponseWriter, r *http.Request) {
	patientID, err := uuid.Parse(chi.URLParam(r, "patientID"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "patient id must be a UUID")
		return
	}
	record, err := h.intakes.OpenForPatient(r.Context(), patientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, record)
}

func (h *IntakeHandler) invalidate(ctx context.Context, patientID uuid.UUID) {
	if h.invalidator == nil {
		return
	}
	if err := h.invalidator.Invalidate(ctx, patientID); err != nil {
		h.logger.Error("cache invalidation failed", "patient_id", patientID.String(), "error", err)
	}
}
