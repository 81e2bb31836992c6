package handlers

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// IdentityHandler exposes duplicate detection and operator-confirmed merges.
type IdentityHandler struct {
	resolver *identity.Service
	logger   *logging.Logger
}

func NewIdentityHandler(resolver *identity.Service, logger *logging.Logger) *IdentityHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &IdentityHandler{resolver: resolver, logger: logger}
}

// Duplicates reports chat identities shared by more than one patient.
// Reporting only; merging is a separate operator-confirmed call.
func (h *IdentityHandler) Duplicates(w http.ResponseWriter, r *http.Request) {
	groups, err := h.resolver.DetectDuplicates(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicates": groups, "count": len(groups)})
}

type mergeRequest struct {
	SourceID string `json:"source_id"`
	TargetID string `json:"target_id"`
}

func (h *IdentityHandler) Merge(w http.ResponseWriter, r *http.Request) {
	var req mergeRequest
	if !decodeBody(w, r, &req) {
		return
	}
	sourceID, err := uuid.Parse(req.SourceID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "source_id must be a UUID")
		return
	}
	targetID, err := uuid.Parse(req.TargetID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "target_id must be a UUID")
		return
	}
	counts, err := h.resolver.Merge(r.Context(), sourceID, targetID)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	h.logger.Info("patients merged",
		"source_id", req.SourceID,
		"target_id", req.TargetID,
		"intakes", counts.IntakeRecords,
		"reservations", counts.Reservations,
	)
	writeJSON(w, http.StatusOK, map[string]any{
		"merged":    true,
		"source_id": req.SourceID,
		"target_id": req.TargetID,
		"repointed": counts,
	})
}

func (h *IdentityHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.URL.Query().Get("id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "id must be a UUID")
		return
	}
	patient, err := h.resolver.Get(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, patient)
}
