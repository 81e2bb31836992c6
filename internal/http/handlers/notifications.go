package handlers

import (
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/dispatch"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

// NotificationHandler exposes sending and the duplicate-send audit.
type NotificationHandler struct {
	dispatcher *dispatch.Service
	logger     *logging.Logger
}

func NewNotificationHandler(dispatcher *dispatch.Service, logger *logging.Logger) *NotificationHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &NotificationHandler{dispatcher: dispatcher, logger: logger}
}

type sendRequest struct {
	PatientID      string `json:"patient_id"`
	ChatUserID     string `json:"chat_user_id"`
	MessageType    string `json:"message_type"`
	Content        string `json:"content"`
	IdempotencyKey string `json:"idempotency_key"`
}

type sendResponse struct {
	Status      string `json:"status"`
	AlreadySent bool   `json:"already_sent"`
	Key         string `json:"idempotency_key"`
}

func (h *NotificationHandler) Send(w http.ResponseWriter, r *http.Request) {
	var req sendRequest
	if !decodeBody(w, r, &req) {
		return
	}
	patientID, err := uuid.Parse(req.PatientID)
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "patient_id must be a UUID")
		return
	}
	if req.MessageType == "" || req.Content == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message_type and content are required")
		return
	}
	entry, err := h.dispatcher.Send(r.Context(), dispatch.SendRequest{
		PatientID:      patientID,
		ChatUserID:     req.ChatUserID,
		MessageType:    req.MessageType,
		Content:        req.Content,
		IdempotencyKey: req.IdempotencyKey,
	})
	if errors.Is(err, dispatch.ErrAlreadySent) {
		// A duplicate send is a no-op signal, not a failure.
		resp := sendResponse{Status: dispatch.StatusSent, AlreadySent: true}
		if entry != nil {
			resp.Status = entry.Status
			resp.Key = entry.IdempotencyKey
		}
		writeJSON(w, http.StatusOK, resp)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sendResponse{Status: entry.Status, Key: entry.IdempotencyKey})
}

func (h *NotificationHandler) Audit(w http.ResponseWriter, r *http.Request) {
	messageType := r.URL.Query().Get("message_type")
	if messageType == "" {
		writeError(w, http.StatusBadRequest, "bad_request", "message_type is required")
		return
	}
	to := time.Now().UTC()
	from := to.AddDate(0, 0, -7)
	if v := r.URL.Query().Get("from"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "from must be YYYY-MM-DD")
			return
		}
		from = parsed
	}
	if v := r.URL.Query().Get("to"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "bad_request", "to must be YYYY-MM-DD")
			return
		}
		to = parsed
	}
	hits, err := h.dispatcher.Audit(r.Context(), messageType, from, to)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"duplicates": hits, "count": len(hits)})
}
