// Package feedback drives an interviewer's feedback from draft to submission.
// A draft is removed only after the ATS has accepted the submission.
package feedback

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ashby"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/storage"
)

type Store interface {
	UpsertDraft(ctx context.Context, eventID, interviewerID string, values map[string]any, at time.Time) error
	GetDraft(ctx context.Context, eventID, interviewerID string) (map[string]any, bool, error)
	CompleteSubmission(ctx context.Context, eventID, interviewerID string, at time.Time, evt outbox.Event) error
	MarkReminderOpened(ctx context.Context, eventID, interviewerID string, at time.Time) (bool, error)
	ApplicationIDForEvent(ctx context.Context, eventID string) (string, error)
}

type Forms interface {
	Get(ctx context.Context, id string) (model.FormDefinition, error)
}

type Submitter interface {
	SubmitFeedback(ctx context.Context, s ashby.FeedbackSubmission) error
}

type Service struct {
	store       Store
	forms       Forms
	ats         Submitter
	logger      *slog.Logger
	callTimeout time.Duration
	now         func() time.Time
}

func NewService(store Store, forms Forms, ats Submitter, logger *slog.Logger, callTimeout time.Duration) *Service {
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &Service{store: store, forms: forms, ats: ats, logger: logger, callTimeout: callTimeout, now: time.Now}
}

type SubmitRequest struct {
	EventID          string         `json:"event_id"`
	InterviewerID    string         `json:"interviewer_id"`
	FormDefinitionID string         `json:"form_definition_id"`
	ApplicationID    string         `json:"application_id,omitempty"`
	Values           map[string]any `json:"values"`
}

// SaveDraft replaces the whole draft for the pair.
func (s *Service) SaveDraft(ctx context.Context, eventID, interviewerID string, values map[string]any) error {
	if err := requireIDs(eventID, interviewerID); err != nil {
		return err
	}
	if values == nil {
		values = map[string]any{}
	}
	if err := s.store.UpsertDraft(ctx, eventID, interviewerID, values, s.now()); err != nil {
		return fmt.Errorf("%w: save draft: %w", ErrStorageFailure, err)
	}
	return nil
}

// LoadDraft returns the saved values, or an empty map when there is no draft.
func (s *Service) LoadDraft(ctx context.Context, eventID, interviewerID string) (map[string]any, error) {
	values, ok, err := s.store.GetDraft(ctx, eventID, interviewerID)
	if err != nil {
		return nil, fmt.Errorf("%w: load draft: %w", ErrStorageFailure, err)
	}
	if !ok || values == nil {
		return map[string]any{}, nil
	}
	return values, nil
}

// MarkOpened stamps the reminder's opened_at the first time the form is opened.
func (s *Service) MarkOpened(ctx context.Context, eventID, interviewerID string) error {
	first, err := s.store.MarkReminderOpened(ctx, eventID, interviewerID, s.now())
	if err != nil {
		return fmt.Errorf("%w: mark opened: %w", ErrStorageFailure, err)
	}
	if first {
		s.logger.Info("feedback form opened", "event_id", eventID, "interviewer_id", interviewerID)
	}
	return nil
}

// Submit validates the values, sends them to the ATS and, only once the ATS
// has accepted them, deletes the draft and stamps the reminder as submitted.
// Invalid values never touch the stored draft. Valid values are merged into
// it before the ATS call, so no saved answer is dropped if the call fails.
func (s *Service) Submit(ctx context.Context, req SubmitRequest) error {
	if err := requireIDs(req.EventID, req.InterviewerID, req.FormDefinitionID); err != nil {
		return err
	}
	fields, err := s.fields(ctx, req)
	if err != nil {
		return err
	}
	if err := s.mergeDraft(ctx, req.EventID, req.InterviewerID, req.Values); err != nil {
		return err
	}

	appID := req.ApplicationID
	if appID == "" {
		appID, err = s.store.ApplicationIDForEvent(ctx, req.EventID)
		if errors.Is(err, storage.ErrNotFound) {
			return &ValidationError{Fields: []FieldError{{Path: "application_id", Message: "unknown for this interview"}}}
		}
		if err != nil {
			return fmt.Errorf("%w: resolve application: %w", ErrStorageFailure, err)
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	err = s.ats.SubmitFeedback(callCtx, ashby.FeedbackSubmission{
		FormDefinitionID: req.FormDefinitionID,
		ApplicationID:    appID,
		UserID:           req.InterviewerID,
		InterviewEventID: req.EventID,
		Fields:           fields,
	})
	cancel()
	if err != nil {
		s.logger.Warn("feedback submission failed, draft kept",
			"event_id", req.EventID, "interviewer_id", req.InterviewerID, "err", err)
		return upstreamError("submit feedback", err)
	}

	at := s.now().UTC()
	evt, err := outbox.NewEvent("feedback", req.EventID+":"+req.InterviewerID, outbox.EventFeedbackSubmitted, outbox.FeedbackSubmitted{
		EventID:          req.EventID,
		InterviewerID:    req.InterviewerID,
		FormDefinitionID: req.FormDefinitionID,
		ApplicationID:    appID,
		SubmittedAt:      at,
	})
	if err != nil {
		s.logger.Error("build feedback event failed", "err", err)
	}
	// The ATS already holds the feedback; completion runs even if the caller is gone.
	if err := s.store.CompleteSubmission(context.WithoutCancel(ctx), req.EventID, req.InterviewerID, at, evt); err != nil {
		s.logger.Error("feedback submitted but local completion failed",
			"event_id", req.EventID, "interviewer_id", req.InterviewerID, "err", err)
		return fmt.Errorf("%w: complete submission: %w", ErrStorageFailure, err)
	}
	s.logger.Info("feedback submitted", "event_id", req.EventID, "interviewer_id", req.InterviewerID)
	return nil
}

// mergeDraft overlays values on the stored draft. Keys only the draft has are kept.
func (s *Service) mergeDraft(ctx context.Context, eventID, interviewerID string, values map[string]any) error {
	saved, err := s.LoadDraft(ctx, eventID, interviewerID)
	if err != nil {
		return err
	}
	merged := make(map[string]any, len(saved)+len(values))
	for k, v := range saved {
		merged[k] = v
	}
	for k, v := range values {
		merged[k] = v
	}
	if err := s.store.UpsertDraft(ctx, eventID, interviewerID, merged, s.now()); err != nil {
		return fmt.Errorf("%w: save draft: %w", ErrStorageFailure, err)
	}
	return nil
}

// Validate checks req against its form without saving or submitting anything.
func (s *Service) Validate(ctx context.Context, req SubmitRequest) error {
	if err := requireIDs(req.EventID, req.InterviewerID, req.FormDefinitionID); err != nil {
		return err
	}
	_, err := s.fields(ctx, req)
	return err
}

func (s *Service) fields(ctx context.Context, req SubmitRequest) ([]ashby.FieldSubmission, error) {
	form, err := s.forms.Get(ctx, req.FormDefinitionID)
	if err != nil {
		return nil, upstreamError("load form definition", err)
	}
	return Transform(form, req.Values)
}

// requireIDs checks event and interviewer ids and, when given, the form id.
func requireIDs(eventID, interviewerID string, formID ...string) error {
	verr := &ValidationError{}
	if strings.TrimSpace(eventID) == "" {
		verr.add("event_id", "is required")
	}
	if strings.TrimSpace(interviewerID) == "" {
		verr.add("interviewer_id", "is required")
	}
	for _, id := range formID {
		if strings.TrimSpace(id) == "" {
			verr.add("form_definition_id", "is required")
		}
	}
	return verr.orNil()
}

// upstreamError maps ATS client failures onto the service's error kinds.
// Timeouts count as unreachable.
func upstreamError(op string, err error) error {
	switch {
	case errors.Is(err, ashby.ErrRejected):
		return fmt.Errorf("%w: %s: %w", ErrUpstreamRejected, op, err)
	case errors.Is(err, ashby.ErrUnreachable), errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %s: %w", ErrUpstreamUnreachable, op, err)
	case errors.Is(err, storage.ErrNotFound):
		return fmt.Errorf("%w: %s: %w", ErrUpstreamRejected, op, err)
	}
	return fmt.Errorf("%w: %s: %w", ErrUpstreamUnreachable, op, err)
}
