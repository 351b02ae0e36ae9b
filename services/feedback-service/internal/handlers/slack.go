package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/slack-go/slack"

	"github.com/md-rashed-zaman/feedbackremind/libs/httpx"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/feedback"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/slackui"
)

// SlackInteractions handles button clicks and modal events. Slack expects an
// answer within three seconds, so submissions are validated inline and sent to
// the ATS in the background.
func (h *Handler) SlackInteractions(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if h.slackSigningSecret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "slack interactions not configured")
		return
	}
	sv, err := slack.NewSecretsVerifier(r.Header, h.slackSigningSecret)
	if err != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}
	if _, err := sv.Write(body); err != nil || sv.Ensure() != nil {
		httpx.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	form, err := url.ParseQuery(string(body))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid form body")
		return
	}
	var cb slack.InteractionCallback
	if err := json.Unmarshal([]byte(form.Get("payload")), &cb); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid interaction payload")
		return
	}

	switch cb.Type {
	case slack.InteractionTypeBlockActions:
		h.blockActions(r.Context(), w, cb)
	case slack.InteractionTypeViewSubmission:
		h.viewSubmission(r.Context(), w, cb)
	case slack.InteractionTypeViewClosed:
		h.viewClosed(r.Context(), w, cb)
	default:
		w.WriteHeader(http.StatusOK)
	}
}

func (h *Handler) blockActions(ctx context.Context, w http.ResponseWriter, cb slack.InteractionCallback) {
	for _, a := range cb.ActionCallback.BlockActions {
		if a.ActionID == slackui.ActionOpenFeedback {
			h.openModal(ctx, cb, a.Value)
			continue
		}
		// Enter pressed in a modal text field.
		if cb.View.CallbackID == slackui.CallbackSubmitFeedback {
			action, err := slackui.DecodeAction(cb.View.PrivateMetadata)
			if err != nil {
				h.logger.Warn("modal action without metadata", "err", err)
				continue
			}
			if err := h.deps.Feedback.SaveDraft(ctx, action.EventID, action.InterviewerID, slackui.ExtractValues(cb.View.State)); err != nil {
				h.logger.Error("save draft from modal failed", "event_id", action.EventID, "err", err)
			}
			break
		}
	}
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) openModal(ctx context.Context, cb slack.InteractionCallback, value string) {
	action, err := slackui.DecodeAction(value)
	if err != nil {
		h.logger.Warn("feedback button with invalid value", "err", err)
		return
	}
	log := h.logger.With("event_id", action.EventID, "interviewer_id", action.InterviewerID)

	form, err := h.deps.Forms.Get(ctx, action.FormDefinitionID)
	if err != nil {
		log.Error("load form for modal failed", "form_definition_id", action.FormDefinitionID, "err", err)
		h.notify(ctx, cb.User.ID, "Sorry, the feedback form could not be loaded. Please use the Ashby link instead.")
		return
	}
	draft, err := h.deps.Feedback.LoadDraft(ctx, action.EventID, action.InterviewerID)
	if err != nil {
		log.Warn("load draft for modal failed, opening empty form", "err", err)
		draft = map[string]any{}
	}
	if _, err := h.deps.Views.OpenViewContext(ctx, cb.TriggerID, slackui.BuildFeedbackModal(form, draft, action)); err != nil {
		log.Error("open feedback modal failed", "err", err)
		return
	}
	if err := h.deps.Feedback.MarkOpened(ctx, action.EventID, action.InterviewerID); err != nil {
		log.Error("mark reminder opened failed", "err", err)
	}
}

func (h *Handler) viewSubmission(ctx context.Context, w http.ResponseWriter, cb slack.InteractionCallback) {
	action, err := slackui.DecodeAction(cb.View.PrivateMetadata)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid modal metadata")
		return
	}
	req := feedback.SubmitRequest{
		EventID:          action.EventID,
		InterviewerID:    action.InterviewerID,
		FormDefinitionID: action.FormDefinitionID,
		ApplicationID:    action.ApplicationID,
		Values:           slackui.ExtractValues(cb.View.State),
	}

	if err := h.deps.Feedback.Validate(ctx, req); err != nil {
		var verr *feedback.ValidationError
		if errors.As(err, &verr) {
			if resp := modalErrors(cb.View.State, verr); resp != nil {
				httpx.WriteJSON(w, http.StatusOK, resp)
				return
			}
		}
		// Errors that cannot be shown on a field go out as a DM after the modal closes.
		h.logger.Warn("feedback validation failed", "event_id", req.EventID, "err", err)
		if serr := h.deps.Feedback.SaveDraft(ctx, req.EventID, req.InterviewerID, req.Values); serr != nil {
			h.logger.Error("save draft after failed validation", "event_id", req.EventID, "err", serr)
		}
		h.notify(ctx, cb.User.ID, "Your feedback could not be submitted: "+err.Error()+". Your answers were saved as a draft.")
		w.WriteHeader(http.StatusOK)
		return
	}

	userID, candidate := cb.User.ID, action.CandidateName
	h.goBackground(func(ctx context.Context) {
		if err := h.deps.Feedback.Submit(ctx, req); err != nil {
			h.logger.Error("feedback submission from slack failed", "event_id", req.EventID, "err", err)
			h.notify(ctx, userID, submissionFailedText(err))
			return
		}
		h.notify(ctx, userID, submissionDoneText(candidate))
	})
	w.WriteHeader(http.StatusOK)
}

func (h *Handler) viewClosed(ctx context.Context, w http.ResponseWriter, cb slack.InteractionCallback) {
	action, err := slackui.DecodeAction(cb.View.PrivateMetadata)
	if err == nil {
		values := slackui.ExtractValues(cb.View.State)
		if len(values) > 0 {
			if err := h.deps.Feedback.SaveDraft(ctx, action.EventID, action.InterviewerID, values); err != nil {
				h.logger.Error("save draft on close failed", "event_id", action.EventID, "err", err)
			}
		}
		h.logger.Info("feedback modal closed", "event_id", action.EventID, "interviewer_id", action.InterviewerID, "fields", len(values))
	}
	w.WriteHeader(http.StatusOK)
}

// modalErrors maps field errors onto modal blocks. It returns nil when none of
// the errors belongs to a block in the view.
func modalErrors(state *slack.ViewState, verr *feedback.ValidationError) *slack.ViewSubmissionResponse {
	shown := map[string]string{}
	for _, f := range verr.Fields {
		blockID := slackui.BlockID(f.Path)
		if state != nil {
			if _, ok := state.Values[blockID]; !ok {
				continue
			}
		}
		shown[blockID] = f.Message
	}
	if len(shown) == 0 {
		return nil
	}
	return slack.NewErrorsViewSubmissionResponse(shown)
}

func (h *Handler) notify(ctx context.Context, userID, text string) {
	if userID == "" || h.deps.Notifier == nil {
		return
	}
	if err := h.deps.Notifier.SendText(ctx, userID, text); err != nil {
		h.logger.Warn("slack notification failed", "user_id", userID, "err", err)
	}
}

func submissionDoneText(candidate string) string {
	if candidate == "" {
		return "Thanks! Your interview feedback was submitted to Ashby."
	}
	return fmt.Sprintf("Thanks! Your feedback for %s was submitted to Ashby.", candidate)
}

func submissionFailedText(err error) string {
	switch {
	case errors.Is(err, feedback.ErrUpstreamRejected):
		return "Ashby rejected your feedback. Your answers were saved as a draft; open the form again to fix and resubmit."
	case errors.Is(err, feedback.ErrUpstreamUnreachable):
		return "Ashby could not be reached. Your answers were saved as a draft; please try submitting again in a few minutes."
	}
	return "Something went wrong while submitting your feedback. Your answers were saved as a draft."
}
