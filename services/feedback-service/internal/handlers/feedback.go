package handlers

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/md-rashed-zaman/feedbackremind/libs/httpx"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/feedback"
)

type draftBody struct {
	Values map[string]any `json:"values"`
}

type submitBody struct {
	FormDefinitionID string         `json:"form_definition_id"`
	ApplicationID    string         `json:"application_id"`
	Values           map[string]any `json:"values"`
}

func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	eventID, interviewerID := r.PathValue("eventID"), r.PathValue("interviewerID")
	values, err := h.deps.Feedback.LoadDraft(r.Context(), eventID, interviewerID)
	if err != nil {
		h.writeFeedbackError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{
		"event_id":       eventID,
		"interviewer_id": interviewerID,
		"values":         values,
	})
}

func (h *Handler) PutDraft(w http.ResponseWriter, r *http.Request) {
	var body draftBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if err := h.deps.Feedback.SaveDraft(r.Context(), r.PathValue("eventID"), r.PathValue("interviewerID"), body.Values); err != nil {
		h.writeFeedbackError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) Submit(w http.ResponseWriter, r *http.Request) {
	var body submitBody
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	err := h.deps.Feedback.Submit(r.Context(), feedback.SubmitRequest{
		EventID:          r.PathValue("eventID"),
		InterviewerID:    r.PathValue("interviewerID"),
		FormDefinitionID: body.FormDefinitionID,
		ApplicationID:    body.ApplicationID,
		Values:           body.Values,
	})
	if err != nil {
		h.writeFeedbackError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "submitted"})
}

// writeFeedbackError maps lifecycle errors onto status codes.
func (h *Handler) writeFeedbackError(w http.ResponseWriter, err error) {
	var verr *feedback.ValidationError
	switch {
	case errors.As(err, &verr):
		httpx.WriteJSON(w, http.StatusUnprocessableEntity, map[string]any{
			"error":  "validation failed",
			"fields": verr.Fields,
		})
	case errors.Is(err, feedback.ErrUpstreamRejected):
		httpx.WriteError(w, http.StatusBadGateway, err.Error())
	case errors.Is(err, feedback.ErrUpstreamUnreachable):
		httpx.WriteError(w, http.StatusServiceUnavailable, "ats unreachable, draft kept")
	default:
		h.logger.Error("feedback request failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "internal error")
	}
}
