package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/feedbackremind/libs/db"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
)

// UpsertDraft replaces the stored values of a draft wholesale.
func (r *Repository) UpsertDraft(ctx context.Context, eventID, interviewerID string, values map[string]any, at time.Time) error {
	if values == nil {
		values = map[string]any{}
	}
	raw, err := json.Marshal(values)
	if err != nil {
		return fmt.Errorf("encode draft: %w", err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO feedback_drafts (event_id, interviewer_id, form_values, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $4)
		ON CONFLICT (event_id, interviewer_id) DO UPDATE SET
			form_values = EXCLUDED.form_values,
			updated_at = EXCLUDED.updated_at
	`, eventID, interviewerID, raw, at.UTC())
	return err
}

// GetDraft returns the stored values and whether a draft exists.
func (r *Repository) GetDraft(ctx context.Context, eventID, interviewerID string) (map[string]any, bool, error) {
	var values map[string]any
	err := r.pool.QueryRow(ctx, `
		SELECT form_values
		FROM feedback_drafts
		WHERE event_id = $1 AND interviewer_id = $2
	`, eventID, interviewerID).Scan(&values)
	if err != nil {
		if db.IsNotFound(err) {
			return nil, false, nil
		}
		return nil, false, err
	}
	if values == nil {
		values = map[string]any{}
	}
	return values, true, nil
}

// CompleteSubmission runs after the ATS acknowledged a submission: it stamps
// the reminder's submitted_at and deletes the draft in one transaction.
func (r *Repository) CompleteSubmission(ctx context.Context, eventID, interviewerID string, at time.Time, evt outbox.Event) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			UPDATE feedback_reminders_sent
			SET submitted_at = $3
			WHERE event_id = $1 AND interviewer_id = $2
		`, eventID, interviewerID, at.UTC()); err != nil {
			return fmt.Errorf("stamp submitted_at: %w", err)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM feedback_drafts
			WHERE event_id = $1 AND interviewer_id = $2
		`, eventID, interviewerID); err != nil {
			return fmt.Errorf("delete draft: %w", err)
		}
		if r.outbox != nil && evt.EventType != "" {
			if err := r.outbox.Insert(ctx, tx, evt); err != nil {
				return fmt.Errorf("insert outbox event: %w", err)
			}
		}
		return nil
	})
}
