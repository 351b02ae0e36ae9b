package storage

import (
	"context"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

func (r *Repository) Stats(ctx context.Context) (model.Stats, error) {
	var s model.Stats
	err := r.pool.QueryRow(ctx, `
		SELECT
			(SELECT count(*) FROM feedback_reminders_sent),
			(SELECT count(*) FROM feedback_reminders_sent WHERE submitted_at IS NULL),
			(SELECT count(*) FROM feedback_drafts),
			(SELECT count(*) FROM feedback_form_definitions WHERE NOT is_archived),
			(SELECT count(*) FROM interview_schedules)
	`).Scan(&s.RemindersSent, &s.PendingFeedback, &s.ActiveDrafts, &s.FeedbackForms, &s.Schedules)
	return s, err
}
