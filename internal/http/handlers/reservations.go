package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/slotledger"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// ReservationHandler exposes reservation operations for the admin API.
type ReservationHandler struct {
	ledger *slotledger.Service
	logger *logging.Logger
}

func NewReservationHandler(ledger *slotledger.Service, logger *logging.Logger) *ReservationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReservationHandler{ledger: ledger, logger: logger}
}

type reservationResponse struct {
	Token      string `json:"token"`
	PatientID  string `json:"patient_id"`
	ResourceID string `json:"resource_id"`
	VisitDate  string `json:"visit_date"`
	SlotTime   string `json:"slot_time"`
	Status     string `json:"status"`
}

func toReservationResponse(r *slotledger.Reservation) reservationResponse {
	return reservationResponse{
		Token:      r.Token,
		PatientID:  r.PatientID.String(),
		ResourceID: r.ResourceID,
		VisitDate:  r.VisitDate.Format("2006-01-02"),
		SlotTime:   r.SlotTime,
		Status:     string(r.Status),
	}
}

type createReservationRequest struct {
	PatientID  string `json:"patient_id"`
	ResourceID string `json:"resource_id"`
	VisitDate  string `json:"visit_date"`
	SlotTime   string `json:"slot_time"`
}

func (h *ReservationHandler) parseSlot(w http.ResponseWriter, resourceID, visitDate, slotTime string) (slotledger.Slot, bool) {
	if resourceID == "" || slotTime == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "resource_id and slot_time are required")
		return slotledger.Slot{}, false
	}
	date, err := time.Parse("2006-01-02", visitDate)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "visit_date must be YYYY-MM-DD")
		return slotledger.Slot{}, false
	}
	// Store the zero-padded form so "9:45" and "09:45" name the same slot
	// and stored times sort chronologically.
	clock, err := time.Parse("15:04", slotTime)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "slot_time must be HH:MM")
		return slotledger.Slot{}, false
	}
	return slotledger.Slot{ResourceID: resourceID, VisitDate: date, SlotTime: clock.Format("15:04")}, true
}

func (h *ReservationHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReservationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id must be a UUID")
		return
	}
	slot, ok := h.parseSlot(w, req.ResourceID, req.VisitDate, req.SlotTime)
	if !ok {
		return
	}
	reservation, err := h.ledger.Create(r.Context(), slot, patientID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReservationResponse(reservation))
}

func (h *ReservationHandler) Get(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.ledger.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(reservation))
}

type updateReservationRequest struct {
	ResourceID string `json:"resource_id"`
	VisitDate  string `json:"visit_date"`
	SlotTime   string `json:"slot_time"`
}

func (h *ReservationHandler) Update(w http.ResponseWriter, r *http.Request) {
	var req updateReservationRequest
	if !decodeBody(w, r, &req) {
		return
	}
	slot, ok := h.parseSlot(w, req.ResourceID, req.VisitDate, req.SlotTime)
	if !ok {
		return
	}
	reservation, err := h.ledger.Update(r.Context(), chi.URLParam(r, "token"), slot)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(reservation))
}

func (h *ReservationHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	if err := h.ledger.Cancel(r.Context(), chi.URLParam(r, "token")); err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": string(slotledger.StatusCanceled)})
}

func (h *ReservationHandler) Confirm(w http.ResponseWriter, r *http.Request) {
	reservation, err := h.ledger.Confirm(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReservationResponse(reservation))
}
