package handlers

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/feedbackremind/libs/httpx"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ashby"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ingest"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

const maxWebhookBody = 1 << 20

// AshbyWebhook receives Ashby deliveries. The HMAC signature is the auth;
// pings are answered before it is checked.
func (h *Handler) AshbyWebhook(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody+1))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	if len(body) > maxWebhookBody {
		httpx.WriteError(w, http.StatusRequestEntityTooLarge, "payload too large")
		return
	}

	hook, err := ingest.ParseWebhook(body)
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid json body")
		return
	}
	if hook.IsPing() {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
		return
	}

	if h.webhookSecret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "ashby webhook not configured")
		return
	}
	if !ashby.VerifySignature(h.webhookSecret, body, r.Header.Get(ashby.SignatureHeader)) {
		h.logger.Warn("ashby webhook signature rejected", "action", hook.Action)
		httpx.WriteError(w, http.StatusUnauthorized, "invalid signature")
		return
	}

	if hook.Action != ingest.ActionScheduleUpdate {
		if err := h.deps.Audit.RecordAudit(r.Context(), model.AuditEntry{
			ScheduleID: hook.ScheduleID(),
			Action:     "ignored:" + hook.Action,
			ReceivedAt: time.Now().UTC(),
			Payload:    body,
		}); err != nil {
			h.logger.Error("failed to record ignored webhook", "action", hook.Action, "err", err)
			httpx.WriteError(w, http.StatusInternalServerError, "failed to record webhook")
			return
		}
		h.logger.Info("ashby webhook ignored", "action", hook.Action)
		w.WriteHeader(http.StatusNoContent)
		return
	}

	update, err := ingest.ParseScheduleUpdate(body)
	if err == nil {
		err = h.deps.Reconciler.Reconcile(r.Context(), update)
	}
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, ingest.ErrMalformedPayload):
		h.logger.Warn("ashby webhook rejected", "schedule_id", hook.ScheduleID(), "err", err)
		h.auditRejected(r, hook, body)
		httpx.WriteError(w, http.StatusBadRequest, err.Error())
	default:
		h.logger.Error("schedule reconcile failed", "schedule_id", hook.ScheduleID(), "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to apply schedule update")
	}
}

func (h *Handler) auditRejected(r *http.Request, hook ingest.Webhook, body []byte) {
	if err := h.deps.Audit.RecordAudit(r.Context(), model.AuditEntry{
		ScheduleID: hook.ScheduleID(),
		Action:     "rejected",
		ReceivedAt: time.Now().UTC(),
		Payload:    body,
	}); err != nil {
		h.logger.Error("failed to record rejected webhook", "err", err)
	}
}
