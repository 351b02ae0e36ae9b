package handlers

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"os"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/feedbackremind/libs/auth"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ashby"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/feedback"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ingest"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/reminders"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/slackui"
)

const (
	webhookSecret = "whsec_test"
	signingSecret = "slack_signing_test"
	adminSecret   = "admin_test"
)

type fakeReconciler struct {
	updates []ingest.ScheduleUpdate
	err     error
}

func (f *fakeReconciler) Reconcile(_ context.Context, u ingest.ScheduleUpdate) error {
	f.updates = append(f.updates, u)
	return f.err
}

type fakeAudit struct {
	entries []model.AuditEntry
	limit   int
}

func (f *fakeAudit) RecordAudit(_ context.Context, e model.AuditEntry) error {
	f.entries = append(f.entries, e)
	return nil
}

func (f *fakeAudit) ListAudit(_ context.Context, _ string, limit int) ([]model.AuditEntry, error) {
	f.limit = limit
	return f.entries, nil
}

type fakeFeedback struct {
	mu          sync.Mutex
	drafts      map[string]map[string]any
	opened      []string
	submitted   []feedback.SubmitRequest
	validateErr error
	submitErr   error
}

func newFakeFeedback() *fakeFeedback {
	return &fakeFeedback{drafts: map[string]map[string]any{}}
}

func (f *fakeFeedback) SaveDraft(_ context.Context, e, i string, values map[string]any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.drafts[e+"/"+i] = values
	return nil
}

func (f *fakeFeedback) LoadDraft(_ context.Context, e, i string) (map[string]any, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if v, ok := f.drafts[e+"/"+i]; ok {
		return v, nil
	}
	return map[string]any{}, nil
}

func (f *fakeFeedback) Validate(context.Context, feedback.SubmitRequest) error {
	return f.validateErr
}

func (f *fakeFeedback) Submit(_ context.Context, req feedback.SubmitRequest) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.submitted = append(f.submitted, req)
	return f.submitErr
}

func (f *fakeFeedback) MarkOpened(_ context.Context, e, i string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opened = append(f.opened, e+"/"+i)
	return nil
}

type fakeForms struct {
	synced int
	err    error
}

func (f *fakeForms) Get(_ context.Context, id string) (model.FormDefinition, error) {
	return model.FormDefinition{ID: id, Title: "Onsite", Sections: []model.FormSection{{Fields: []model.FormField{
		{Path: "notes", Type: model.FieldRichText, Title: "Notes", Required: true},
	}}}}, nil
}

func (f *fakeForms) Sync(context.Context) (int, error) {
	return f.synced, f.err
}

type fakePass struct{ calls int }

func (f *fakePass) RunDuePass(context.Context) *reminders.PassReport {
	f.calls++
	return &reminders.PassReport{Due: 2, Sent: 2, SendFailures: []reminders.SendFailure{}}
}

type fakeStats struct{}

func (fakeStats) Stats(context.Context) (model.Stats, error) {
	return model.Stats{RemindersSent: 3, PendingFeedback: 1}, nil
}

type fakeViews struct {
	triggers []string
	views    []slack.ModalViewRequest
}

func (f *fakeViews) OpenViewContext(_ context.Context, triggerID string, view slack.ModalViewRequest) (*slack.ViewResponse, error) {
	f.triggers = append(f.triggers, triggerID)
	f.views = append(f.views, view)
	return &slack.ViewResponse{}, nil
}

type fakeNotifier struct {
	mu   sync.Mutex
	sent map[string][]string
}

func (f *fakeNotifier) SendText(_ context.Context, userID, text string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent[userID] = append(f.sent[userID], text)
	return nil
}

type fixture struct {
	h          *Handler
	mux        *http.ServeMux
	reconciler *fakeReconciler
	audit      *fakeAudit
	feedback   *fakeFeedback
	forms      *fakeForms
	pass       *fakePass
	views      *fakeViews
	notifier   *fakeNotifier
}

func newFixture() *fixture {
	f := &fixture{
		reconciler: &fakeReconciler{},
		audit:      &fakeAudit{},
		feedback:   newFakeFeedback(),
		forms:      &fakeForms{synced: 4},
		pass:       &fakePass{},
		views:      &fakeViews{},
		notifier:   &fakeNotifier{sent: map[string][]string{}},
	}
	f.h = New(Deps{
		Reconciler: f.reconciler,
		Audit:      f.audit,
		Feedback:   f.feedback,
		Forms:      f.forms,
		Interviews: f.forms,
		Reminders:  f.pass,
		Stats:      fakeStats{},
		Views:      f.views,
		Notifier:   f.notifier,
	}, slog.New(slog.NewTextHandler(io.Discard, nil)), Config{WebhookSecret: webhookSecret, SlackSigningSecret: signingSecret})
	f.mux = http.NewServeMux()
	f.h.Routes(f.mux,
		func(h http.Handler) http.Handler { return h },
		auth.RequireRole(adminSecret, auth.RoleAdmin, auth.RoleService),
	)
	return f
}

func (f *fixture) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	f.mux.ServeHTTP(rec, req)
	return rec
}

func scheduleBody(t *testing.T) []byte {
	t.Helper()
	body, err := os.ReadFile("../ingest/testdata/schedule_update.json")
	require.NoError(t, err)
	return body
}

func signedWebhook(body []byte) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ashby", strings.NewReader(string(body)))
	req.Header.Set(ashby.SignatureHeader, ashby.Sign(webhookSecret, body))
	return req
}

func TestWebhookPingNeedsNoSignature(t *testing.T) {
	f := newFixture()
	rec := f.do(httptest.NewRequest(http.MethodPost, "/webhooks/ashby", strings.NewReader(`{"action":"ping"}`)))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Empty(t, f.reconciler.updates)
}

func TestWebhookRejectsBadSignature(t *testing.T) {
	f := newFixture()
	body := scheduleBody(t)
	req := httptest.NewRequest(http.MethodPost, "/webhooks/ashby", strings.NewReader(string(body)))
	req.Header.Set(ashby.SignatureHeader, ashby.Sign("other-secret", body))

	rec := f.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Empty(t, f.reconciler.updates)
}

func TestWebhookAppliesScheduleUpdate(t *testing.T) {
	f := newFixture()
	rec := f.do(signedWebhook(scheduleBody(t)))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.reconciler.updates, 1)
	assert.Equal(t, "schedule_123", f.reconciler.updates[0].Schedule.ID)
}

func TestWebhookMalformedPayload(t *testing.T) {
	f := newFixture()
	body := []byte(`{"action":"interviewScheduleUpdate","data":{"interviewSchedule":{"status":"Scheduled"}}}`)
	rec := f.do(signedWebhook(body))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Empty(t, f.reconciler.updates)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "rejected", f.audit.entries[0].Action)

	rec = f.do(httptest.NewRequest(http.MethodPost, "/webhooks/ashby", strings.NewReader(`{not json`)))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestWebhookStorageFailureAsksForRedelivery(t *testing.T) {
	f := newFixture()
	f.reconciler.err = fmt.Errorf("%w: connection refused", ingest.ErrStorageFailure)
	rec := f.do(signedWebhook(scheduleBody(t)))
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestWebhookIgnoredActionIsAudited(t *testing.T) {
	f := newFixture()
	body := []byte(`{"action":"candidateHire","data":{}}`)
	rec := f.do(signedWebhook(body))
	assert.Equal(t, http.StatusNoContent, rec.Code)
	require.Len(t, f.audit.entries, 1)
	assert.Equal(t, "ignored:candidateHire", f.audit.entries[0].Action)
	assert.Empty(t, f.reconciler.updates)
}

func TestWebhookBodyTooLarge(t *testing.T) {
	f := newFixture()
	body := []byte(`{"action":"x","pad":"` + strings.Repeat("a", maxWebhookBody) + `"}`)
	rec := f.do(signedWebhook(body))
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func bearer(t *testing.T, role string) string {
	t.Helper()
	token, err := auth.IssueHS256("ops", role, time.Hour, adminSecret, time.Now())
	require.NoError(t, err)
	return "Bearer " + token
}

func TestFeedbackDraftAPI(t *testing.T) {
	f := newFixture()
	put := httptest.NewRequest(http.MethodPut, "/api/v1/feedback/event_001/interviewer_111/draft",
		strings.NewReader(`{"values":{"notes":"draft text"}}`))
	put.Header.Set("Authorization", bearer(t, auth.RoleService))
	assert.Equal(t, http.StatusNoContent, f.do(put).Code)

	get := httptest.NewRequest(http.MethodGet, "/api/v1/feedback/event_001/interviewer_111/draft", nil)
	get.Header.Set("Authorization", bearer(t, auth.RoleService))
	rec := f.do(get)
	require.Equal(t, http.StatusOK, rec.Code)
	var out struct {
		Values map[string]any `json:"values"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Equal(t, "draft text", out.Values["notes"])

	anon := httptest.NewRequest(http.MethodGet, "/api/v1/feedback/event_001/interviewer_111/draft", nil)
	assert.Equal(t, http.StatusUnauthorized, f.do(anon).Code)
}

func TestFeedbackSubmitStatusCodes(t *testing.T) {
	cases := []struct {
		err  error
		want int
	}{
		{nil, http.StatusOK},
		{&feedback.ValidationError{Fields: []feedback.FieldError{{Path: "notes", Message: "Notes is required"}}}, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: bad field", feedback.ErrUpstreamRejected), http.StatusBadGateway},
		{fmt.Errorf("%w: timeout", feedback.ErrUpstreamUnreachable), http.StatusServiceUnavailable},
		{fmt.Errorf("%w: db down", feedback.ErrStorageFailure), http.StatusInternalServerError},
	}
	for _, tc := range cases {
		f := newFixture()
		f.feedback.submitErr = tc.err
		req := httptest.NewRequest(http.MethodPost, "/api/v1/feedback/event_001/interviewer_111/submit",
			strings.NewReader(`{"form_definition_id":"form-1","values":{"notes":"ok"}}`))
		req.Header.Set("Authorization", bearer(t, auth.RoleAdmin))
		rec := f.do(req)
		assert.Equal(t, tc.want, rec.Code, "err %v", tc.err)
		require.Len(t, f.feedback.submitted, 1)
		assert.Equal(t, "event_001", f.feedback.submitted[0].EventID)
		assert.Equal(t, "form-1", f.feedback.submitted[0].FormDefinitionID)
	}
}

func TestAdminEndpoints(t *testing.T) {
	f := newFixture()
	call := func(method, path, role string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(method, path, nil)
		if role != "" {
			req.Header.Set("Authorization", bearer(t, role))
		}
		return f.do(req)
	}

	assert.Equal(t, http.StatusUnauthorized, call(http.MethodGet, "/admin/stats", "").Code)
	assert.Equal(t, http.StatusForbidden, call(http.MethodGet, "/admin/stats", "viewer").Code)

	rec := call(http.MethodGet, "/admin/stats", auth.RoleAdmin)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"reminders_sent":3,"pending_feedback":1,"active_drafts":0,"feedback_forms":0,"schedules":0}`, rec.Body.String())

	assert.Equal(t, http.StatusBadRequest, call(http.MethodGet, "/admin/audit?limit=abc", auth.RoleAdmin).Code)
	assert.Equal(t, http.StatusOK, call(http.MethodGet, "/admin/audit?limit=10", auth.RoleAdmin).Code)
	assert.Equal(t, 10, f.audit.limit)

	rec = call(http.MethodPost, "/admin/sync-forms", auth.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"stored":4`)

	f.forms.err = ashby.ErrUnreachable
	assert.Equal(t, http.StatusBadGateway, call(http.MethodPost, "/admin/sync-interviews", auth.RoleAdmin).Code)

	rec = call(http.MethodPost, "/admin/reminders/run", auth.RoleAdmin)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, f.pass.calls)
	assert.Contains(t, rec.Body.String(), `"sent":2`)
}

func slackRequest(t *testing.T, payload any, secret string) *http.Request {
	t.Helper()
	raw, err := json.Marshal(payload)
	require.NoError(t, err)
	body := url.Values{"payload": {string(raw)}}.Encode()
	ts := strconv.FormatInt(time.Now().Unix(), 10)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte("v0:" + ts + ":" + body))

	req := httptest.NewRequest(http.MethodPost, "/slack/interactions", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("X-Slack-Request-Timestamp", ts)
	req.Header.Set("X-Slack-Signature", "v0="+hex.EncodeToString(mac.Sum(nil)))
	return req
}

var testAction = slackui.FeedbackAction{
	EventID:          "event_001",
	FormDefinitionID: "form-1",
	ApplicationID:    "app_456",
	InterviewerID:    "interviewer_111",
	CandidateName:    "Jane Roe",
}

func modalState(notes string) *slack.ViewState {
	return &slack.ViewState{Values: map[string]map[string]slack.BlockAction{
		"field_notes": {"notes": {Type: "plain_text_input", Value: notes}},
	}}
}

func TestSlackButtonOpensModal(t *testing.T) {
	f := newFixture()
	f.feedback.drafts["event_001/interviewer_111"] = map[string]any{"notes": "half done"}
	cb := slack.InteractionCallback{
		Type:      slack.InteractionTypeBlockActions,
		TriggerID: "trigger-1",
		User:      slack.User{ID: "U111"},
		ActionCallback: slack.ActionCallbacks{BlockActions: []*slack.BlockAction{
			{ActionID: slackui.ActionOpenFeedback, BlockID: "feedback_actions", Value: testAction.Encode()},
		}},
	}

	rec := f.do(slackRequest(t, cb, signingSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, []string{"trigger-1"}, f.views.triggers)
	assert.Equal(t, slackui.CallbackSubmitFeedback, f.views.views[0].CallbackID)
	assert.Equal(t, []string{"event_001/interviewer_111"}, f.feedback.opened)
}

func TestSlackRejectsBadSignature(t *testing.T) {
	f := newFixture()
	rec := f.do(slackRequest(t, slack.InteractionCallback{Type: slack.InteractionTypeBlockActions}, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestSlackEnterSavesDraft(t *testing.T) {
	f := newFixture()
	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeBlockActions,
		View: slack.View{CallbackID: slackui.CallbackSubmitFeedback, PrivateMetadata: testAction.Encode(), State: modalState("typed so far")},
		ActionCallback: slack.ActionCallbacks{BlockActions: []*slack.BlockAction{
			{ActionID: "notes", BlockID: "field_notes", Value: "typed so far"},
		}},
	}
	rec := f.do(slackRequest(t, cb, signingSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"notes": "typed so far"}, f.feedback.drafts["event_001/interviewer_111"])
}

func TestSlackViewSubmissionValidationErrors(t *testing.T) {
	f := newFixture()
	f.feedback.validateErr = &feedback.ValidationError{Fields: []feedback.FieldError{{Path: "notes", Message: "Notes is required"}}}
	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeViewSubmission,
		User: slack.User{ID: "U111"},
		View: slack.View{CallbackID: slackui.CallbackSubmitFeedback, PrivateMetadata: testAction.Encode(), State: modalState("")},
	}
	rec := f.do(slackRequest(t, cb, signingSecret))
	f.h.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"response_action":"errors","errors":{"field_notes":"Notes is required"}}`, rec.Body.String())
	assert.Empty(t, f.feedback.submitted)
}

func TestSlackViewSubmissionSubmitsInBackground(t *testing.T) {
	f := newFixture()
	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeViewSubmission,
		User: slack.User{ID: "U111"},
		View: slack.View{CallbackID: slackui.CallbackSubmitFeedback, PrivateMetadata: testAction.Encode(), State: modalState("great")},
	}
	rec := f.do(slackRequest(t, cb, signingSecret))
	f.h.Wait()

	assert.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, f.feedback.submitted, 1)
	assert.Equal(t, map[string]any{"notes": "great"}, f.feedback.submitted[0].Values)
	assert.Equal(t, "app_456", f.feedback.submitted[0].ApplicationID)
	require.Len(t, f.notifier.sent["U111"], 1)
	assert.Contains(t, f.notifier.sent["U111"][0], "Jane Roe")

	f.feedback.submitErr = fmt.Errorf("%w: timeout", feedback.ErrUpstreamUnreachable)
	f.do(slackRequest(t, cb, signingSecret))
	f.h.Wait()
	require.Len(t, f.notifier.sent["U111"], 2)
	assert.Contains(t, f.notifier.sent["U111"][1], "could not be reached")
}

func TestSlackViewClosedSavesDraft(t *testing.T) {
	f := newFixture()
	cb := slack.InteractionCallback{
		Type: slack.InteractionTypeViewClosed,
		View: slack.View{CallbackID: slackui.CallbackSubmitFeedback, PrivateMetadata: testAction.Encode(), State: modalState("later")},
	}
	rec := f.do(slackRequest(t, cb, signingSecret))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"notes": "later"}, f.feedback.drafts["event_001/interviewer_111"])
}
