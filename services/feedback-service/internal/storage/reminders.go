package storage

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/feedbackremind/libs/db"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
)

// ListDue returns every (event, interviewer) pair of a Scheduled schedule whose
// event starts strictly after from and strictly before to, and that has no
// reminder record yet.
func (r *Repository) ListDue(ctx context.Context, from, to time.Time) ([]model.DueReminder, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT e.event_id, s.schedule_id, COALESCE(e.interview_id, ''), COALESCE(s.application_id, ''),
		       COALESCE(s.candidate_id, ''), e.start_time, e.end_time, COALESCE(e.meeting_link, ''),
		       COALESCE(e.location, ''), COALESCE(e.feedback_link, ''), a.interviewer_id,
		       COALESCE(a.email, ''), TRIM(COALESCE(a.first_name, '') || ' ' || COALESCE(a.last_name, ''))
		FROM interview_events e
		JOIN interview_schedules s ON s.schedule_id = e.schedule_id
		JOIN interview_assignments a ON a.event_id = e.event_id
		WHERE s.status = $1
		  AND e.start_time > $2
		  AND e.start_time < $3
		  AND NOT EXISTS (
		      SELECT 1 FROM feedback_reminders_sent f
		      WHERE f.event_id = e.event_id AND f.interviewer_id = a.interviewer_id
		  )
		ORDER BY e.start_time, e.event_id, a.interviewer_id
	`, string(model.StatusScheduled), from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.DueReminder, error) {
		var d model.DueReminder
		err := row.Scan(&d.EventID, &d.ScheduleID, &d.InterviewID, &d.ApplicationID, &d.CandidateID,
			&d.StartTime, &d.EndTime, &d.MeetingLink, &d.Location, &d.FeedbackLink,
			&d.InterviewerID, &d.InterviewerEmail, &d.InterviewerName)
		return d, err
	})
}

// ClaimReminder inserts the reminder record for a pair. It reports false when
// the pair was already claimed; the primary key is the only arbiter.
func (r *Repository) ClaimReminder(ctx context.Context, eventID, interviewerID, recipientID string, at time.Time) (bool, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO feedback_reminders_sent (event_id, interviewer_id, recipient_id, sent_at)
		VALUES ($1, $2, $3, $4)
	`, eventID, interviewerID, recipientID, at.UTC())
	if err != nil {
		if db.IsUniqueViolation(err) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

// MarkReminderDelivered stores the channel and message ids of a sent reminder.
func (r *Repository) MarkReminderDelivered(ctx context.Context, eventID, interviewerID, channelID, messageID string, evt outbox.Event) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			UPDATE feedback_reminders_sent
			SET channel_id = $3, message_id = $4
			WHERE event_id = $1 AND interviewer_id = $2
		`, eventID, interviewerID, nullString(channelID), nullString(messageID))
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return ErrNotFound
		}
		if r.outbox != nil && evt.EventType != "" {
			return r.outbox.Insert(ctx, tx, evt)
		}
		return nil
	})
}

// MarkReminderOpened stamps opened_at once. It reports whether this call set it.
func (r *Repository) MarkReminderOpened(ctx context.Context, eventID, interviewerID string, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE feedback_reminders_sent
		SET opened_at = $3
		WHERE event_id = $1 AND interviewer_id = $2 AND opened_at IS NULL
	`, eventID, interviewerID, at.UTC())
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

func (r *Repository) GetReminder(ctx context.Context, eventID, interviewerID string) (model.ReminderRecord, error) {
	var rec model.ReminderRecord
	var channelID, messageID *string
	err := r.pool.QueryRow(ctx, `
		SELECT event_id, interviewer_id, recipient_id, channel_id, message_id, sent_at, opened_at, submitted_at
		FROM feedback_reminders_sent
		WHERE event_id = $1 AND interviewer_id = $2
	`, eventID, interviewerID).Scan(&rec.EventID, &rec.InterviewerID, &rec.RecipientID, &channelID, &messageID,
		&rec.SentAt, &rec.OpenedAt, &rec.SubmittedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return model.ReminderRecord{}, ErrNotFound
		}
		return model.ReminderRecord{}, fmt.Errorf("get reminder: %w", err)
	}
	rec.ChannelID, rec.MessageID = derefString(channelID), derefString(messageID)
	return rec, nil
}
