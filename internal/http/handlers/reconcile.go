package handlers

import (
	"net/http"
	"strconv"

	"github.com/wolfman30/clinic-reservation-engine/internal/reconcile"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// ReconcileHandler exposes the diff and repair operations. Repairs default
// to dry run; the caller must pass "commit": true to write anything.
type ReconcileHandler struct {
	reconciler *reconcile.Service
	logger     *logging.Logger
}

func NewReconcileHandler(reconciler *reconcile.Service, logger *logging.Logger) *ReconcileHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ReconcileHandler{reconciler: reconciler, logger: logger}
}

func (h *ReconcileHandler) Diff(w http.ResponseWriter, r *http.Request) {
	drifts, err := h.reconciler.DiffRowMapping(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"drift": drifts, "count": len(drifts)})
}

type repairRequest struct {
	RequestID  int64 `json:"request_id"`
	CorrectRow int   `json:"correct_row"`
	Commit     bool  `json:"commit"`
}

func (h *ReconcileHandler) Repair(w http.ResponseWriter, r *http.Request) {
	var req repairRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.RequestID <= 0 {
		writeError(w, http.StatusBadRequest, "bad_request", "request_id is required")
		return
	}
	result, err := h.reconciler.RepairRowMapping(r.Context(), req.RequestID, req.CorrectRow, req.Commit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if result.Committed {
		h.logger.Info("row mapping repair committed",
			"request_id", strconv.FormatInt(req.RequestID, 10), "to_row", req.CorrectRow)
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ReconcileHandler) Replay(w http.ResponseWriter, r *http.Request) {
	commit := r.URL.Query().Get("commit") == "true"
	missing, err := h.reconciler.ReplayMissingAppends(r.Context(), commit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"missing": missing, "count": len(missing), "committed": commit})
}

func (h *ReconcileHandler) Orphans(w http.ResponseWriter, r *http.Request) {
	orphans, err := h.reconciler.FindOrphans(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, orphans)
}

func (h *ReconcileHandler) DuplicateIntakes(w http.ResponseWriter, r *http.Request) {
	groups, err := h.reconciler.FindDuplicateIntakes(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"groups": groups, "count": len(groups)})
}

func (h *ReconcileHandler) CleanupIntakes(w http.ResponseWriter, r *http.Request) {
	commit := r.URL.Query().Get("commit") == "true"
	result, err := h.reconciler.CleanupEmptyIntakes(r.Context(), commit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (h *ReconcileHandler) Run(w http.ResponseWriter, r *http.Request) {
	report, err := h.reconciler.Run(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}
