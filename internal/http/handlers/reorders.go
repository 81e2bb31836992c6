package handlers

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/reorder"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// ReorderHandler exposes reorder request operations.
type ReorderHandler struct {
	reorders *reorder.Service
	logger   *logging.Logger
}

func NewReorderHandler(reorders *reorder.Service, logger *logging.Logger) *ReorderHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReorderHandler{reorders: reorders, logger: logger}
}

type createReorderRequest struct {
	PatientID string `json:"patient_id"`
	Product   string `json:"product"`
	Date      string `json:"date"`
}

type reorderResponse struct {
	ID        int64  `json:"id"`
	PatientID string `json:"patient_id"`
	Product   string `json:"product"`
	Status    string `json:"status"`
	SheetRow  *int   `json:"sheet_row"`
}

func toReorderResponse(r *reorder.Request) reorderResponse {
	return reorderResponse{
		ID:        r.ID,
		PatientID: r.PatientID.String(),
		Product:   r.Product,
		Status:    r.Status,
		SheetRow:  r.SheetRow,
	}
}

func (h *ReorderHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req createReorderRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id must be a UUID")
		return
	}
	if req.Product == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "product is required")
		return
	}
	request, err := h.reorders.Create(r.Context(), patientID, req.Product, req.Date)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, toReorderResponse(request))
}

func (h *ReorderHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be an integer")
		return
	}
	request, err := h.reorders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReorderResponse(request))
}

type updateReorderStatusRequest struct {
	Status string `json:"status"`
}

func (h *ReorderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be an integer")
		return
	}
	var req updateReorderStatusRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.Status == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "status is required")
		return
	}
	if err := h.reorders.UpdateStatus(r.Context(), id, req.Status); err != nil {
		writeDomainError(w, err)
		return
	}
	request, err := h.reorders.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, toReorderResponse(request))
}
