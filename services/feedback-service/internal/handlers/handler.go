package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"sync"

	"github.com/slack-go/slack"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/feedback"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ingest"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/reminders"
)

type Reconciler interface {
	Reconcile(ctx context.Context, u ingest.ScheduleUpdate) error
}

type AuditStore interface {
	RecordAudit(ctx context.Context, e model.AuditEntry) error
	ListAudit(ctx context.Context, scheduleID string, limit int) ([]model.AuditEntry, error)
}

type FeedbackService interface {
	SaveDraft(ctx context.Context, eventID, interviewerID string, values map[string]any) error
	LoadDraft(ctx context.Context, eventID, interviewerID string) (map[string]any, error)
	Validate(ctx context.Context, req feedback.SubmitRequest) error
	Submit(ctx context.Context, req feedback.SubmitRequest) error
	MarkOpened(ctx context.Context, eventID, interviewerID string) error
}

type FormCatalog interface {
	Get(ctx context.Context, id string) (model.FormDefinition, error)
	Sync(ctx context.Context) (int, error)
}

type Syncer interface {
	Sync(ctx context.Context) (int, error)
}

type PassRunner interface {
	RunDuePass(ctx context.Context) *reminders.PassReport
}

type StatsSource interface {
	Stats(ctx context.Context) (model.Stats, error)
}

type ViewOpener interface {
	OpenViewContext(ctx context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error)
}

type TextSender interface {
	SendText(ctx context.Context, recipientID string, text string) error
}

type Deps struct {
	Reconciler Reconciler
	Audit      AuditStore
	Feedback   FeedbackService
	Forms      FormCatalog
	Interviews Syncer
	Reminders  PassRunner
	Stats      StatsSource
	Views      ViewOpener
	Notifier   TextSender
}

type Config struct {
	WebhookSecret      string
	SlackSigningSecret string
}

type Handler struct {
	deps               Deps
	logger             *slog.Logger
	webhookSecret      string
	slackSigningSecret string

	background sync.WaitGroup
}

func New(deps Deps, logger *slog.Logger, cfg Config) *Handler {
	return &Handler{
		deps:               deps,
		logger:             logger,
		webhookSecret:      strings.TrimSpace(cfg.WebhookSecret),
		slackSigningSecret: strings.TrimSpace(cfg.SlackSigningSecret),
	}
}

// Routes registers every endpoint. webhook wraps the Ashby webhook only;
// protected wraps the feedback and admin APIs.
func (h *Handler) Routes(mux *http.ServeMux, webhook, protected func(http.Handler) http.Handler) {
	mux.Handle("POST /webhooks/ashby", webhook(http.HandlerFunc(h.AshbyWebhook)))
	mux.HandleFunc("POST /slack/interactions", h.SlackInteractions)

	mux.Handle("GET /api/v1/feedback/{eventID}/{interviewerID}/draft", protected(http.HandlerFunc(h.GetDraft)))
	mux.Handle("PUT /api/v1/feedback/{eventID}/{interviewerID}/draft", protected(http.HandlerFunc(h.PutDraft)))
	mux.Handle("POST /api/v1/feedback/{eventID}/{interviewerID}/submit", protected(http.HandlerFunc(h.Submit)))

	mux.Handle("GET /admin/stats", protected(http.HandlerFunc(h.AdminStats)))
	mux.Handle("GET /admin/audit", protected(http.HandlerFunc(h.AdminAudit)))
	mux.Handle("POST /admin/sync-forms", protected(http.HandlerFunc(h.AdminSyncForms)))
	mux.Handle("POST /admin/sync-interviews", protected(http.HandlerFunc(h.AdminSyncInterviews)))
	mux.Handle("POST /admin/reminders/run", protected(http.HandlerFunc(h.AdminRunReminders)))
}

// Wait blocks until background work started by interactions has finished.
func (h *Handler) Wait() {
	h.background.Wait()
}

func (h *Handler) goBackground(fn func(ctx context.Context)) {
	h.background.Add(1)
	go func() {
		defer h.background.Done()
		fn(context.Background())
	}()
}
