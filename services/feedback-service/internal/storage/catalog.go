package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/md-rashed-zaman/feedbackremind/libs/db"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

func (r *Repository) UpsertFormDefinition(ctx context.Context, f model.FormDefinition) error {
	raw, err := json.Marshal(f.Sections)
	if err != nil {
		return fmt.Errorf("encode form %s: %w", f.ID, err)
	}
	_, err = r.pool.Exec(ctx, `
		INSERT INTO feedback_form_definitions (form_definition_id, title, definition, is_archived, updated_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (form_definition_id) DO UPDATE SET
			title = EXCLUDED.title,
			definition = EXCLUDED.definition,
			is_archived = EXCLUDED.is_archived,
			updated_at = EXCLUDED.updated_at
	`, f.ID, f.Title, raw, f.Archived, f.UpdatedAt.UTC())
	return err
}

func (r *Repository) GetFormDefinition(ctx context.Context, id string) (model.FormDefinition, error) {
	f := model.FormDefinition{ID: id}
	var raw []byte
	err := r.pool.QueryRow(ctx, `
		SELECT title, definition, is_archived, updated_at
		FROM feedback_form_definitions
		WHERE form_definition_id = $1
	`, id).Scan(&f.Title, &raw, &f.Archived, &f.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return model.FormDefinition{}, ErrNotFound
		}
		return model.FormDefinition{}, err
	}
	if err := json.Unmarshal(raw, &f.Sections); err != nil {
		return model.FormDefinition{}, fmt.Errorf("decode form %s: %w", id, err)
	}
	return f, nil
}

func (r *Repository) UpsertInterview(ctx context.Context, i model.InterviewDefinition) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO interviews (
			interview_id, title, external_title, is_archived, is_debrief,
			instructions_plain, job_id, feedback_form_definition_id, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (interview_id) DO UPDATE SET
			title = EXCLUDED.title,
			external_title = EXCLUDED.external_title,
			is_archived = EXCLUDED.is_archived,
			is_debrief = EXCLUDED.is_debrief,
			instructions_plain = EXCLUDED.instructions_plain,
			job_id = EXCLUDED.job_id,
			feedback_form_definition_id = EXCLUDED.feedback_form_definition_id,
			updated_at = EXCLUDED.updated_at
	`, i.ID, i.Title, nullString(i.ExternalTitle), i.Archived, i.Debrief, nullString(i.InstructionsPlain),
		nullString(i.JobID), nullString(i.FeedbackFormDefinitionID), i.UpdatedAt.UTC())
	return err
}

func (r *Repository) GetInterview(ctx context.Context, id string) (model.InterviewDefinition, error) {
	i := model.InterviewDefinition{ID: id}
	var externalTitle, instructions, jobID, formID *string
	err := r.pool.QueryRow(ctx, `
		SELECT title, external_title, is_archived, is_debrief, instructions_plain, job_id,
		       feedback_form_definition_id, updated_at
		FROM interviews
		WHERE interview_id = $1
	`, id).Scan(&i.Title, &externalTitle, &i.Archived, &i.Debrief, &instructions, &jobID, &formID, &i.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return model.InterviewDefinition{}, ErrNotFound
		}
		return model.InterviewDefinition{}, err
	}
	i.ExternalTitle, i.InstructionsPlain = derefString(externalTitle), derefString(instructions)
	i.JobID, i.FeedbackFormDefinitionID = derefString(jobID), derefString(formID)
	return i, nil
}

func (r *Repository) UpsertJob(ctx context.Context, j model.Job) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO jobs (job_id, title, status, updated_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (job_id) DO UPDATE SET
			title = EXCLUDED.title,
			status = EXCLUDED.status,
			updated_at = EXCLUDED.updated_at
	`, j.ID, j.Title, nullString(j.Status), j.UpdatedAt.UTC())
	return err
}

func (r *Repository) GetJob(ctx context.Context, id string) (model.Job, error) {
	j := model.Job{ID: id}
	var status *string
	err := r.pool.QueryRow(ctx, `
		SELECT title, status, updated_at
		FROM jobs
		WHERE job_id = $1
	`, id).Scan(&j.Title, &status, &j.UpdatedAt)
	if err != nil {
		if db.IsNotFound(err) {
			return model.Job{}, ErrNotFound
		}
		return model.Job{}, err
	}
	j.Status = derefString(status)
	return j, nil
}
