package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/wolfman30/clinic-reservation-engine/internal/chat"
	"github.com/wolfman30/clinic-reservation-engine/internal/dispatch"
	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/internal/intake"
	"github.com/wolfman30/clinic-reservation-engine/internal/reconcile"
	"github.com/wolfman30/clinic-reservation-engine/internal/reorder"
	"github.com/wolfman30/clinic-reservation-engine/internal/sheets"
	"github.com/wolfman30/clinic-reservation-engine/internal/slotledger"
)

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorResponse{Error: message, Code: code})
}

// writeDomainError maps the typed domain errors onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, slotledger.ErrSlotTaken):
		writeError(w, http.StatusConflict, "slot_taken", "slot already holds an active reservation")
	case errors.Is(err, slotledger.ErrPatientAlreadyBooked):
		writeError(w, http.StatusConflict, "patient_already_booked", "patient already has an active reservation that day")
	case errors.Is(err, slotledger.ErrInvalidTransition):
		writeError(w, http.StatusConflict, "invalid_transition", "reservation is not in a state that allows this change")
	case errors.Is(err, identity.ErrMergeConflict):
		writeError(w, http.StatusConflict, "merge_conflict", "both patients have substantive conflicting records; resolve manually")
	case errors.Is(err, identity.ErrSelfMerge):
		writeError(w, http.StatusBadRequest, "self_merge", "source and target must differ")
	case errors.Is(err, reconcile.ErrRowMappingConflict):
		writeError(w, http.StatusConflict, "row_mapping_conflict", err.Error())
	case errors.Is(err, intake.ErrOpenIntakeExists):
		writeError(w, http.StatusConflict, "open_intake_exists", "patient already has an open intake record")
	case isNotFound(err):
		writeError(w, http.StatusNotFound, "not_found", "resource not found")
	case errors.Is(err, sheets.ErrTimeout) || errors.Is(err, chat.ErrTimeout) || errors.Is(err, context.DeadlineExceeded):
		writeError(w, http.StatusGatewayTimeout, "upstream_timeout", "upstream store timed out; retry later")
	default:
		writeError(w, http.StatusInternalServerError, "internal", "internal error")
	}
}

func isNotFound(err error) bool {
	return errors.Is(err, slotledger.ErrNotFound) ||
		errors.Is(err, identity.ErrNotFound) ||
		errors.Is(err, intake.ErrNotFound) ||
		errors.Is(err, reorder.ErrNotFound) ||
		errors.Is(err, dispatch.ErrNotFound)
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return false
	}
	return true
}
