package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/md-rashed-zaman/feedbackremind/libs/db"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
)

var (
	ErrMalformedPayload = errors.New("malformed schedule payload")
	ErrStorageFailure   = errors.New("schedule storage failure")
)

const (
	AuditActionUpsert = "upsert"
	AuditActionDelete = "delete"
)

// Store applies reconciled schedule state. Each method is one transaction.
type Store interface {
	ReplaceSchedule(ctx context.Context, s model.Schedule, audit model.AuditEntry, evt outbox.Event) error
	DeleteSchedule(ctx context.Context, scheduleID string, audit model.AuditEntry) (bool, error)
}

type Config struct {
	// MaxTries bounds attempts on serialization failures and deadlocks.
	MaxTries       uint
	InitialBackoff time.Duration
}

type Reconciler struct {
	store    Store
	logger   *slog.Logger
	now      func() time.Time
	maxTries uint
	initial  time.Duration
}

func NewReconciler(store Store, logger *slog.Logger, cfg Config) *Reconciler {
	if cfg.MaxTries == 0 {
		cfg.MaxTries = 4
	}
	if cfg.InitialBackoff <= 0 {
		cfg.InitialBackoff = 50 * time.Millisecond
	}
	return &Reconciler{
		store:    store,
		logger:   logger,
		now:      time.Now,
		maxTries: cfg.MaxTries,
		initial:  cfg.InitialBackoff,
	}
}

// Reconcile makes stored state match the snapshot in u. Applying the same
// update any number of times leaves the same schedule, events and assignments;
// only the audit log grows. Updates are applied in delivery order; updatedAt is
// not compared against stored state.
func (r *Reconciler) Reconcile(ctx context.Context, u ScheduleUpdate) error {
	s := u.Schedule
	if err := Validate(s); err != nil {
		return err
	}

	now := r.now().UTC()
	audit := model.AuditEntry{
		ScheduleID: s.ID,
		ReceivedAt: now,
		Payload:    u.Raw,
	}

	if s.Status.IsCancelled() {
		audit.Action = AuditActionDelete
		var deleted bool
		err := r.retry(ctx, func() error {
			var err error
			deleted, err = r.store.DeleteSchedule(ctx, s.ID, audit)
			return err
		})
		if err != nil {
			return err
		}
		r.logger.Info("schedule deleted", "schedule_id", s.ID, "existed", deleted)
		return nil
	}

	audit.Action = AuditActionUpsert
	eventIDs := make([]string, 0, len(s.Events))
	for _, e := range s.Events {
		eventIDs = append(eventIDs, e.ID)
	}
	evt, err := outbox.NewEvent("interview_schedule", s.ID, outbox.EventScheduleReconciled, outbox.ScheduleReconciled{
		ScheduleID: s.ID,
		Action:     AuditActionUpsert,
		Status:     string(s.Status),
		EventIDs:   eventIDs,
		AppliedAt:  now,
	})
	if err != nil {
		return err
	}

	if err := r.retry(ctx, func() error {
		return r.store.ReplaceSchedule(ctx, s, audit, evt)
	}); err != nil {
		return err
	}
	r.logger.Info("schedule reconciled", "schedule_id", s.ID, "status", s.Status, "events", len(s.Events))
	return nil
}

// retry re-runs op on retryable storage errors and maps the final error to ErrStorageFailure.
func (r *Reconciler) retry(ctx context.Context, op func() error) error {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.initial
	b.MaxInterval = 2 * time.Second

	_, err := backoff.Retry(ctx, func() (struct{}, error) {
		err := op()
		switch {
		case err == nil:
			return struct{}{}, nil
		case db.IsRetryable(err):
			r.logger.Warn("reconcile transaction retry", "err", err)
			return struct{}{}, err
		default:
			return struct{}{}, backoff.Permanent(err)
		}
	}, backoff.WithBackOff(b), backoff.WithMaxTries(r.maxTries))
	if err != nil {
		return fmt.Errorf("%w: %w", ErrStorageFailure, err)
	}
	return nil
}
