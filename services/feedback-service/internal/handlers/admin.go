package handlers

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/md-rashed-zaman/feedbackremind/libs/httpx"
)

func (h *Handler) AdminStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.deps.Stats.Stats(r.Context())
	if err != nil {
		h.logger.Error("load stats failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to load stats")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, stats)
}

func (h *Handler) AdminAudit(w http.ResponseWriter, r *http.Request) {
	limit := 50
	if raw := strings.TrimSpace(r.URL.Query().Get("limit")); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 200 {
			httpx.WriteError(w, http.StatusBadRequest, "limit must be between 1 and 200")
			return
		}
		limit = n
	}
	entries, err := h.deps.Audit.ListAudit(r.Context(), strings.TrimSpace(r.URL.Query().Get("schedule_id")), limit)
	if err != nil {
		h.logger.Error("list audit failed", "err", err)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to list audit entries")
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"items": entries})
}

func (h *Handler) AdminSyncForms(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, "forms", h.deps.Forms)
}

func (h *Handler) AdminSyncInterviews(w http.ResponseWriter, r *http.Request) {
	h.runSync(w, r, "interviews", h.deps.Interviews)
}

func (h *Handler) runSync(w http.ResponseWriter, r *http.Request, name string, s Syncer) {
	n, err := s.Sync(r.Context())
	if err != nil {
		h.logger.Error("manual catalog sync failed", "catalog", name, "stored", n, "err", err)
		httpx.WriteJSON(w, http.StatusBadGateway, map[string]any{"error": "sync failed", "stored": n})
		return
	}
	h.logger.Info("manual catalog sync", "catalog", name, "stored", n)
	httpx.WriteJSON(w, http.StatusOK, map[string]any{"catalog": name, "stored": n})
}

func (h *Handler) AdminRunReminders(w http.ResponseWriter, r *http.Request) {
	report := h.deps.Reminders.RunDuePass(r.Context())
	status := http.StatusOK
	if report.Error != "" {
		status = http.StatusInternalServerError
	}
	httpx.WriteJSON(w, status, report)
}
