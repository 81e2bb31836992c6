package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/google/uuid"

	"github.com/wolfman30/clinic-reservation-engine/internal/dispatch"
	"github.com/wolfman30/clinic-reservation-engine/internal/identity"
	"github.com/wolfman30/clinic-reservation-engine/pkg/logging"
)

const chatSignatureHeader = "X-Chat-Signature"

// SignatureVerifier checks a webhook body against its signature header.
type SignatureVerifier interface {
	VerifySignature(body []byte, signature string) bool
}

// ChatWebhookHandler receives inbound events from the messaging platform.
// Every event resolves the sender to a canonical patient before anything
// else touches it. Inbound messages land in the notification log so the
// audit trail covers both directions; redelivered events dedupe on the
// platform's message id.
type ChatWebhookHandler struct {
	verifier SignatureVerifier
	resolver *identity.Service
	log      *dispatch.Store
	logger   *logging.Logger
}

func NewChatWebhookHandler(verifier SignatureVerifier, resolver *identity.Service, log *dispatch.Store, logger *logging.Logger) *ChatWebhookHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &ChatWebhookHandler{verifier: verifier, resolver: resolver, log: log, logger: logger}
}

type chatWebhookPayload struct {
	Events []chatEvent `json:"events"`
}

type chatEvent struct {
	Type    string `json:"type"`
	Source  struct {
		UserID string `json:"userId"`
	} `json:"source"`
	Message struct {
		ID   string `json:"id"`
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"message"`
}

func (h *ChatWebhookHandler) Receive(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "unreadable body")
		return
	}
	if h.verifier == nil || !h.verifier.VerifySignature(body, r.Header.Get(chatSignatureHeader)) {
		writeError(w, http.StatusUnauthorized, "bad_signature", "webhook signature verification failed")
		return
	}

	var payload chatWebhookPayload
	if err := json.Unmarshal(body, &payload); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", "invalid JSON body")
		return
	}

	accepted := 0
	for _, evt := range payload.Events {
		if evt.Source.UserID == "" {
			continue
		}
		if err := h.handleEvent(r, evt); err != nil {
			h.logger.Error("webhook event failed", "chat_user_id", evt.Source.UserID, "error", err)
			continue
		}
		accepted++
	}
	writeJSON(w, http.StatusOK, map[string]int{"accepted": accepted})
}

func (h *ChatWebhookHandler) handleEvent(r *http.Request, evt chatEvent) error {
	ctx := r.Context()
	patientID, err := h.resolver.ResolveOrCreate(ctx, evt.Source.UserID)
	if err != nil {
		return err
	}
	if evt.Type != "message" || evt.Message.ID == "" || h.log == nil {
		return nil
	}
	entry := newInboundEntry(patientID, evt)
	err = h.log.Claim(ctx, nil, entry)
	if errors.Is(err, dispatch.ErrAlreadySent) {
		// Redelivered event; already recorded.
		return nil
	}
	if err != nil {
		return err
	}
	return h.log.MarkSent(ctx, nil, entry.ID)
}

func newInboundEntry(patientID uuid.UUID, evt chatEvent) *dispatch.Entry {
	return &dispatch.Entry{
		ID:             uuid.New(),
		PatientID:      patientID,
		ChatUserID:     evt.Source.UserID,
		MessageType:    "chat_message",
		Direction:      "inbound",
		Content:        evt.Message.Text,
		IdempotencyKey: "inbound:" + evt.Message.ID,
	}
}
