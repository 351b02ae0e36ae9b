// Package catalog keeps local copies of ATS reference data: feedback form
// definitions, interview definitions and jobs.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ashby"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/storage"
)

const (
	DefaultFormMaxAge      = 24 * time.Hour
	DefaultInterviewMaxAge = 12 * time.Hour
	DefaultJobMaxAge       = 24 * time.Hour
	maxPages               = 1000
)

type FormSource interface {
	FormDefinitionInfo(ctx context.Context, id string) (model.FormDefinition, error)
	ListFormDefinitions(ctx context.Context, cursor string) (ashby.Page[model.FormDefinition], error)
}

type FormStore interface {
	UpsertFormDefinition(ctx context.Context, f model.FormDefinition) error
	GetFormDefinition(ctx context.Context, id string) (model.FormDefinition, error)
}

type InterviewSource interface {
	InterviewInfo(ctx context.Context, id string) (model.InterviewDefinition, error)
	ListInterviews(ctx context.Context, cursor string) (ashby.Page[model.InterviewDefinition], error)
}

type InterviewStore interface {
	UpsertInterview(ctx context.Context, i model.InterviewDefinition) error
	GetInterview(ctx context.Context, id string) (model.InterviewDefinition, error)
}

type JobSource interface {
	JobInfo(ctx context.Context, id string) (model.Job, error)
}

type JobStore interface {
	UpsertJob(ctx context.Context, j model.Job) error
	GetJob(ctx context.Context, id string) (model.Job, error)
}

// Forms serves form definitions from the local table and refreshes entries
// older than MaxAge from the ATS. A stale copy is served when the refresh fails.
type Forms struct {
	store  FormStore
	source FormSource
	logger *slog.Logger
	MaxAge time.Duration
	Now    func() time.Time
}

func NewForms(store FormStore, source FormSource, logger *slog.Logger) *Forms {
	return &Forms{store: store, source: source, logger: logger, MaxAge: DefaultFormMaxAge, Now: time.Now}
}

func (f *Forms) Get(ctx context.Context, id string) (model.FormDefinition, error) {
	cached, err := f.store.GetFormDefinition(ctx, id)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.FormDefinition{}, err
	}
	if found && f.Now().Sub(cached.UpdatedAt) < f.MaxAge {
		return cached, nil
	}

	fresh, err := f.source.FormDefinitionInfo(ctx, id)
	if err != nil {
		if found {
			f.logger.Warn("form refresh failed, serving cached copy", "form_definition_id", id, "err", err)
			return cached, nil
		}
		return model.FormDefinition{}, fmt.Errorf("fetch form %s: %w", id, err)
	}
	fresh.UpdatedAt = f.Now().UTC()
	if err := f.store.UpsertFormDefinition(ctx, fresh); err != nil {
		f.logger.Error("form cache write failed", "form_definition_id", id, "err", err)
	}
	return fresh, nil
}

// Sync pulls every form definition and returns how many were stored.
func (f *Forms) Sync(ctx context.Context) (int, error) {
	return syncAll(ctx, f.source.ListFormDefinitions, func(ctx context.Context, fd model.FormDefinition) error {
		fd.UpdatedAt = f.Now().UTC()
		return f.store.UpsertFormDefinition(ctx, fd)
	})
}

// Interviews is the interview-definition counterpart of Forms.
type Interviews struct {
	store  InterviewStore
	source InterviewSource
	logger *slog.Logger
	MaxAge time.Duration
	Now    func() time.Time
}

func NewInterviews(store InterviewStore, source InterviewSource, logger *slog.Logger) *Interviews {
	return &Interviews{store: store, source: source, logger: logger, MaxAge: DefaultInterviewMaxAge, Now: time.Now}
}

func (c *Interviews) Get(ctx context.Context, id string) (model.InterviewDefinition, error) {
	cached, err := c.store.GetInterview(ctx, id)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.InterviewDefinition{}, err
	}
	if found && c.Now().Sub(cached.UpdatedAt) < c.MaxAge {
		return cached, nil
	}

	fresh, err := c.source.InterviewInfo(ctx, id)
	if err != nil {
		if found {
			c.logger.Warn("interview refresh failed, serving cached copy", "interview_id", id, "err", err)
			return cached, nil
		}
		return model.InterviewDefinition{}, fmt.Errorf("fetch interview %s: %w", id, err)
	}
	fresh.UpdatedAt = c.Now().UTC()
	if err := c.store.UpsertInterview(ctx, fresh); err != nil {
		c.logger.Error("interview cache write failed", "interview_id", id, "err", err)
	}
	return fresh, nil
}

func (c *Interviews) Sync(ctx context.Context) (int, error) {
	return syncAll(ctx, c.source.ListInterviews, func(ctx context.Context, i model.InterviewDefinition) error {
		i.UpdatedAt = c.Now().UTC()
		return c.store.UpsertInterview(ctx, i)
	})
}

// Jobs caches job details on first use. There is no bulk sync; entries
// refresh when older than MaxAge.
type Jobs struct {
	store  JobStore
	source JobSource
	logger *slog.Logger
	MaxAge time.Duration
	Now    func() time.Time
}

func NewJobs(store JobStore, source JobSource, logger *slog.Logger) *Jobs {
	return &Jobs{store: store, source: source, logger: logger, MaxAge: DefaultJobMaxAge, Now: time.Now}
}

func (c *Jobs) Get(ctx context.Context, id string) (model.Job, error) {
	cached, err := c.store.GetJob(ctx, id)
	found := err == nil
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return model.Job{}, err
	}
	if found && c.Now().Sub(cached.UpdatedAt) < c.MaxAge {
		return cached, nil
	}

	fresh, err := c.source.JobInfo(ctx, id)
	if err != nil {
		if found {
			c.logger.Warn("job refresh failed, serving cached copy", "job_id", id, "err", err)
			return cached, nil
		}
		return model.Job{}, fmt.Errorf("fetch job %s: %w", id, err)
	}
	fresh.UpdatedAt = c.Now().UTC()
	if err := c.store.UpsertJob(ctx, fresh); err != nil {
		c.logger.Error("job cache write failed", "job_id", id, "err", err)
	}
	return fresh, nil
}

func syncAll[T any](ctx context.Context, list func(context.Context, string) (ashby.Page[T], error), save func(context.Context, T) error) (int, error) {
	stored := 0
	cursor := ""
	for page := 0; page < maxPages; page++ {
		p, err := list(ctx, cursor)
		if err != nil {
			return stored, err
		}
		for _, item := range p.Items {
			if err := save(ctx, item); err != nil {
				return stored, err
			}
			stored++
		}
		if !p.More || p.NextCursor == "" || p.NextCursor == cursor {
			return stored, nil
		}
		cursor = p.NextCursor
	}
	return stored, fmt.Errorf("catalog sync stopped after %d pages", maxPages)
}
