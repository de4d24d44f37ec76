package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/solvencyai/voicecollect/internal/call"
	"github.com/solvencyai/voicecollect/internal/livestate"
	"github.com/solvencyai/voicecollect/internal/media"
	"github.com/solvencyai/voicecollect/pkg/logging"
)

// CallOrchestrator is the orchestration surface the HTTP layer drives.
type CallOrchestrator interface {
	PlaceCall(ctx context.Context, req call.PlaceCallRequest) (call.PlaceCallResult, error)
	AttachStream(ctx context.Context, number string, stream call.MediaChannel) error
	StopCampaign(ctx context.Context, campaignID uuid.UUID) (int, error)
	HandleStatusCallback(ctx context.Context, callSID, status string) error
}

// CallsHandler serves single-call placement, the media stream attach point,
// and gateway status webhooks.
type CallsHandler struct {
	orchestrator CallOrchestrator
	live         *livestate.Store
	logger       *logging.Logger
}

func NewCallsHandler(orchestrator CallOrchestrator, live *livestate.Store, logger *logging.Logger) *CallsHandler {
	if logger == nil {
		logger = logging.Default()
	}
	return &CallsHandler{
		orchestrator: orchestrator,
		live:         live,
		logger:       logger,
	}
}

type contactPayload struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	PhoneNumber string `json:"phone_number"`
	AmountDue   string `json:"amount_due"`
	Currency    string `json:"currency"`
	DueDate     string `json:"due_date"`
	Notes       string `json:"notes"`
}

type scriptPayload struct {
	CampaignID   string `json:"campaign_id"`
	UserID       string `json:"user_id"`
	AgentName    string `json:"agent_name"`
	Goal         string `json:"goal"`
	Instructions string `json:"instructions"`
	Greeting     string `json:"greeting"`
	Tone         string `json:"tone"`
	SMSTemplate  string `json:"sms_template"`
	FromNumber   string `json:"from_number"`
}

type placeCallRequest struct {
	Contact contactPayload `json:"contact"`
	Script  scriptPayload  `json:"script"`
}

type placeCallResponse struct {
	ConversationID string `json:"conversation_id"`
	CallSID        string `json:"call_sid"`
}

// PlaceCall handles POST /calls.
func (h *CallsHandler) PlaceCall(w http.ResponseWriter, r *http.Request) {
	var payload placeCallRequest
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	req := call.PlaceCallRequest{
		Contact: call.ContactProfile{
			Name:        payload.Contact.Name,
			PhoneNumber: payload.Contact.PhoneNumber,
			AmountDue:   payload.Contact.AmountDue,
			Currency:    payload.Contact.Currency,
			DueDate:     payload.Contact.DueDate,
			Notes:       payload.Contact.Notes,
		},
		Script: call.Script{
			AgentName:    payload.Script.AgentName,
			Goal:         payload.Script.Goal,
			Instructions: payload.Script.Instructions,
			Greeting:     payload.Script.Greeting,
			Tone:         payload.Script.Tone,
			SMSTemplate:  payload.Script.SMSTemplate,
			FromNumber:   payload.Script.FromNumber,
		},
	}
	if payload.Contact.ID != "" {
		id, err := uuid.Parse(payload.Contact.ID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid contact id")
			return
		}
		req.Contact.ID = id
	}
	if payload.Script.CampaignID != "" {
		id, err := uuid.Parse(payload.Script.CampaignID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid campaign id")
			return
		}
		req.Script.CampaignID = id
	}
	if payload.Script.UserID != "" {
		id, err := uuid.Parse(payload.Script.UserID)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid user id")
			return
		}
		req.Script.UserID = id
	}

	result, err := h.orchestrator.PlaceCall(r.Context(), req)
	if err != nil {
		h.writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, placeCallResponse{
		ConversationID: result.ConversationID.String(),
		CallSID:        result.CallSID,
	})
}

// MediaStream handles GET /media-stream/{number}: it upgrades the gateway's
// websocket and hands the duplex channel to the session claimed for the
// number. The connection stays open for the life of the call.
func (h *CallsHandler) MediaStream(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if number == "" {
		writeError(w, http.StatusBadRequest, "number is required")
		return
	}

	stream, err := media.Upgrade(w, r)
	if err != nil {
		h.logger.Error("media stream upgrade failed", "number", number, "error", err)
		return
	}
	if err := h.orchestrator.AttachStream(r.Context(), number, stream); err != nil {
		h.logger.Warn("media stream attach failed", "number", number, "error", err)
	}
}

// StatusCallback handles POST /webhooks/twilio/status.
func (h *CallsHandler) StatusCallback(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	callSID := r.PostFormValue("CallSid")
	status := r.PostFormValue("CallStatus")
	if callSID == "" {
		writeError(w, http.StatusBadRequest, "CallSid is required")
		return
	}

	if err := h.orchestrator.HandleStatusCallback(r.Context(), callSID, status); err != nil {
		h.logger.Error("status callback failed", "call_sid", callSID, "status", status, "error", err)
		writeError(w, http.StatusInternalServerError, "status callback failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// LiveCall handles GET /calls/live/{number}, the operator view of an
// in-flight call.
func (h *CallsHandler) LiveCall(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "number")
	if h.live == nil {
		writeError(w, http.StatusNotFound, "live state unavailable")
		return
	}
	state, err := h.live.Get(r.Context(), number)
	if err != nil {
		h.logger.Error("live state read failed", "number", number, "error", err)
		writeError(w, http.StatusInternalServerError, "live state read failed")
		return
	}
	if state == nil {
		writeError(w, http.StatusNotFound, "no live call for number")
		return
	}

	transcript, err := h.live.Transcript(r.Context(), number)
	if err != nil {
		h.logger.Warn("live transcript read failed", "number", number, "error", err)
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"call":       state,
		"transcript": transcript,
	})
}

// writeCallError maps typed rejections onto HTTP statuses. Anything
// untyped is a plain internal error.
func (h *CallsHandler) writeCallError(w http.ResponseWriter, err error) {
	rej, ok := call.AsRejection(err)
	if !ok {
		h.logger.Error("place call failed", "error", err)
		writeError(w, http.StatusInternalServerError, "call placement failed")
		return
	}

	status := http.StatusBadRequest
	switch rej.Kind {
	case call.RejectSubscription, call.RejectQuota:
		status = http.StatusPaymentRequired
	case call.RejectConflict:
		status = http.StatusConflict
	case call.RejectAuth:
		status = http.StatusBadGateway
	}
	writeJSON(w, status, map[string]string{
		"error": rej.Message,
		"kind":  string(rej.Kind),
	})
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}
