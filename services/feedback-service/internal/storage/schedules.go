package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/feedbackremind/libs/db"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
)

// ReplaceSchedule makes the stored schedule match s exactly: the schedule row is
// upserted, events missing from s are deleted, present events are upserted and
// each event's assignments are replaced wholesale. The audit entry and outbox
// event commit in the same transaction.
func (r *Repository) ReplaceSchedule(ctx context.Context, s model.Schedule, audit model.AuditEntry, evt outbox.Event) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `
			INSERT INTO interview_schedules (schedule_id, application_id, interview_stage_id, status, candidate_id, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (schedule_id) DO UPDATE SET
				application_id = EXCLUDED.application_id,
				interview_stage_id = EXCLUDED.interview_stage_id,
				status = EXCLUDED.status,
				candidate_id = EXCLUDED.candidate_id,
				updated_at = EXCLUDED.updated_at
		`, s.ID, nullString(s.ApplicationID), nullString(s.StageID), string(s.Status), nullString(s.CandidateID), utcPtr(s.UpdatedAt)); err != nil {
			return fmt.Errorf("upsert schedule: %w", err)
		}

		keep := make([]string, 0, len(s.Events))
		for _, e := range s.Events {
			keep = append(keep, e.ID)
		}
		if _, err := tx.Exec(ctx, `
			DELETE FROM interview_events
			WHERE schedule_id = $1 AND NOT (event_id = ANY($2))
		`, s.ID, keep); err != nil {
			return fmt.Errorf("delete absent events: %w", err)
		}

		for _, e := range s.Events {
			if err := upsertEvent(ctx, tx, s.ID, e); err != nil {
				return err
			}
		}

		if err := insertAudit(ctx, tx, audit); err != nil {
			return err
		}
		if r.outbox != nil && evt.EventType != "" {
			if err := r.outbox.Insert(ctx, tx, evt); err != nil {
				return fmt.Errorf("insert outbox event: %w", err)
			}
		}
		return nil
	})
}

func upsertEvent(ctx context.Context, tx pgx.Tx, scheduleID string, e model.Event) error {
	extra := e.ExtraData
	if extra == nil {
		extra = map[string]any{}
	}
	extraJSON, err := json.Marshal(extra)
	if err != nil {
		return fmt.Errorf("event %s extra data: %w", e.ID, err)
	}

	// An event id moving between schedules is re-parented.
	if _, err := tx.Exec(ctx, `
		INSERT INTO interview_events (
			event_id, schedule_id, interview_id, created_at, updated_at, start_time, end_time,
			feedback_link, location, meeting_link, has_submitted_feedback, extra_data
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		ON CONFLICT (event_id) DO UPDATE SET
			schedule_id = EXCLUDED.schedule_id,
			interview_id = EXCLUDED.interview_id,
			created_at = EXCLUDED.created_at,
			updated_at = EXCLUDED.updated_at,
			start_time = EXCLUDED.start_time,
			end_time = EXCLUDED.end_time,
			feedback_link = EXCLUDED.feedback_link,
			location = EXCLUDED.location,
			meeting_link = EXCLUDED.meeting_link,
			has_submitted_feedback = EXCLUDED.has_submitted_feedback,
			extra_data = EXCLUDED.extra_data
	`, e.ID, scheduleID, nullString(e.InterviewID), utcPtr(e.CreatedAt), utcPtr(e.UpdatedAt),
		e.StartTime.UTC(), e.EndTime.UTC(), nullString(e.FeedbackLink), nullString(e.Location),
		nullString(e.MeetingLink), e.HasSubmittedFeedback, extraJSON); err != nil {
		return fmt.Errorf("upsert event %s: %w", e.ID, err)
	}

	if _, err := tx.Exec(ctx, `DELETE FROM interview_assignments WHERE event_id = $1`, e.ID); err != nil {
		return fmt.Errorf("clear assignments of %s: %w", e.ID, err)
	}

	for _, a := range e.Assignments {
		path := a.TrainingPath
		if path == nil {
			path = map[string]any{}
		}
		pathJSON, err := json.Marshal(path)
		if err != nil {
			return fmt.Errorf("assignment %s/%s training path: %w", e.ID, a.InterviewerID, err)
		}
		if _, err := tx.Exec(ctx, `
			INSERT INTO interview_assignments (
				event_id, interviewer_id, first_name, last_name, email, global_role, training_role,
				is_enabled, manager_id, interviewer_pool_id, interviewer_pool_title,
				interviewer_pool_is_archived, training_path, interviewer_updated_at
			)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
		`, e.ID, a.InterviewerID, nullString(a.FirstName), nullString(a.LastName), nullString(a.Email),
			nullString(a.GlobalRole), nullString(a.TrainingRole), a.Enabled, nullString(a.ManagerID),
			nullString(a.PoolID), nullString(a.PoolTitle), a.PoolArchived, pathJSON,
			utcPtr(a.InterviewerUpdatedAt)); err != nil {
			return fmt.Errorf("insert assignment %s/%s: %w", e.ID, a.InterviewerID, err)
		}
	}
	return nil
}

// DeleteSchedule removes the schedule and, by cascade, its events, assignments
// and reminder records. Deleting an unknown schedule is not an error.
func (r *Repository) DeleteSchedule(ctx context.Context, scheduleID string, audit model.AuditEntry) (bool, error) {
	var deleted bool
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `DELETE FROM interview_schedules WHERE schedule_id = $1`, scheduleID)
		if err != nil {
			return fmt.Errorf("delete schedule: %w", err)
		}
		deleted = tag.RowsAffected() > 0
		return insertAudit(ctx, tx, audit)
	})
	return deleted, err
}

// GetSchedule loads a schedule with its events and assignments, ordered by id.
func (r *Repository) GetSchedule(ctx context.Context, scheduleID string) (model.Schedule, error) {
	var s model.Schedule
	var appID, stageID, candID *string
	var status string
	err := r.pool.QueryRow(ctx, `
		SELECT schedule_id, application_id, interview_stage_id, status, candidate_id, updated_at
		FROM interview_schedules
		WHERE schedule_id = $1
	`, scheduleID).Scan(&s.ID, &appID, &stageID, &status, &candID, &s.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Schedule{}, ErrNotFound
		}
		return model.Schedule{}, err
	}
	s.ApplicationID, s.StageID, s.CandidateID = derefString(appID), derefString(stageID), derefString(candID)
	s.Status = model.ScheduleStatus(status)

	rows, err := r.pool.Query(ctx, `
		SELECT event_id, schedule_id, interview_id, created_at, updated_at, start_time, end_time,
		       feedback_link, location, meeting_link, has_submitted_feedback, extra_data
		FROM interview_events
		WHERE schedule_id = $1
		ORDER BY event_id
	`, scheduleID)
	if err != nil {
		return model.Schedule{}, err
	}
	s.Events, err = pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Event, error) {
		var e model.Event
		var interviewID, feedbackLink, location, meetingLink *string
		err := row.Scan(&e.ID, &e.ScheduleID, &interviewID, &e.CreatedAt, &e.UpdatedAt, &e.StartTime, &e.EndTime,
			&feedbackLink, &location, &meetingLink, &e.HasSubmittedFeedback, &e.ExtraData)
		e.InterviewID = derefString(interviewID)
		e.FeedbackLink = derefString(feedbackLink)
		e.Location = derefString(location)
		e.MeetingLink = derefString(meetingLink)
		return e, err
	})
	if err != nil {
		return model.Schedule{}, err
	}

	for i := range s.Events {
		assignments, err := r.listAssignments(ctx, s.Events[i].ID)
		if err != nil {
			return model.Schedule{}, err
		}
		s.Events[i].Assignments = assignments
	}
	return s, nil
}

func (r *Repository) listAssignments(ctx context.Context, eventID string) ([]model.Assignment, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, interviewer_id, first_name, last_name, email, global_role, training_role,
		       is_enabled, manager_id, interviewer_pool_id, interviewer_pool_title,
		       interviewer_pool_is_archived, training_path, interviewer_updated_at
		FROM interview_assignments
		WHERE event_id = $1
		ORDER BY interviewer_id
	`, eventID)
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (model.Assignment, error) {
		var a model.Assignment
		var first, last, email, globalRole, trainingRole, managerID, poolID, poolTitle *string
		err := row.Scan(&a.EventID, &a.InterviewerID, &first, &last, &email, &globalRole, &trainingRole,
			&a.Enabled, &managerID, &poolID, &poolTitle, &a.PoolArchived, &a.TrainingPath, &a.InterviewerUpdatedAt)
		a.FirstName, a.LastName, a.Email = derefString(first), derefString(last), derefString(email)
		a.GlobalRole, a.TrainingRole, a.ManagerID = derefString(globalRole), derefString(trainingRole), derefString(managerID)
		a.PoolID, a.PoolTitle = derefString(poolID), derefString(poolTitle)
		return a, err
	})
}

// ApplicationIDForEvent resolves the application an event belongs to.
func (r *Repository) ApplicationIDForEvent(ctx context.Context, eventID string) (string, error) {
	var appID *string
	err := r.pool.QueryRow(ctx, `
		SELECT s.application_id
		FROM interview_events e
		JOIN interview_schedules s ON s.schedule_id = e.schedule_id
		WHERE e.event_id = $1
	`, eventID).Scan(&appID)
	if err != nil {
		if db.IsNotFound(err) {
			return "", ErrNotFound
		}
		return "", err
	}
	if appID == nil {
		return "", ErrNotFound
	}
	return *appID, nil
}
