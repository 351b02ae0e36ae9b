package ashby

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

// Page is one page of a cursor-paginated list call.
type Page[T any] struct {
	Items      []T
	More       bool
	NextCursor string
}

type listRequest struct {
	Cursor string `json:"cursor,omitempty"`
	Limit  int    `json:"limit"`
}

func decodePage[T any, W any](env envelope, convert func(W) T) (Page[T], error) {
	var wire []W
	if err := json.Unmarshal(env.Results, &wire); err != nil {
		return Page[T]{}, fmt.Errorf("%w: decode results: %w", ErrRejected, err)
	}
	page := Page[T]{More: env.MoreDataAvailable, NextCursor: env.NextCursor}
	for _, w := range wire {
		page.Items = append(page.Items, convert(w))
	}
	return page, nil
}

type candidateWire struct {
	ID                  string `json:"id"`
	Name                string `json:"name"`
	PrimaryEmailAddress *struct {
		Value string `json:"value"`
	} `json:"primaryEmailAddress"`
	ProfileURL       string `json:"profileUrl"`
	Position         string `json:"position"`
	Company          string `json:"company"`
	ResumeFileHandle *struct {
		Handle string `json:"handle"`
		Name   string `json:"name"`
	} `json:"resumeFileHandle"`
}

func (c *Client) CandidateInfo(ctx context.Context, id string) (model.Candidate, error) {
	env, err := c.read(ctx, "candidate.info", map[string]string{"id": id})
	if err != nil {
		return model.Candidate{}, err
	}
	var w candidateWire
	if err := json.Unmarshal(env.Results, &w); err != nil || w.ID == "" || w.Name == "" {
		return model.Candidate{}, fmt.Errorf("%w: invalid candidate payload for %s", ErrRejected, id)
	}
	out := model.Candidate{
		ID:         w.ID,
		Name:       w.Name,
		ProfileURL: w.ProfileURL,
		Position:   w.Position,
		Company:    w.Company,
	}
	if w.PrimaryEmailAddress != nil {
		out.Email = w.PrimaryEmailAddress.Value
	}
	if w.ResumeFileHandle != nil {
		out.ResumeHandle, out.ResumeName = w.ResumeFileHandle.Handle, w.ResumeFileHandle.Name
	}
	return out, nil
}

type jobWire struct {
	ID     string `json:"id"`
	Title  string `json:"title"`
	Status string `json:"status"`
}

func (c *Client) JobInfo(ctx context.Context, id string) (model.Job, error) {
	env, err := c.read(ctx, "job.info", map[string]string{"id": id})
	if err != nil {
		return model.Job{}, err
	}
	var w jobWire
	if err := json.Unmarshal(env.Results, &w); err != nil || w.ID == "" {
		return model.Job{}, fmt.Errorf("%w: invalid job payload for %s", ErrRejected, id)
	}
	return model.Job{ID: w.ID, Title: w.Title, Status: w.Status, UpdatedAt: time.Now().UTC()}, nil
}

// FileURL exchanges a file handle for a short-lived download URL.
func (c *Client) FileURL(ctx context.Context, handle string) (string, error) {
	env, err := c.read(ctx, "file.info", map[string]string{"handle": handle})
	if err != nil {
		return "", err
	}
	var w struct {
		URL string `json:"url"`
	}
	if err := json.Unmarshal(env.Results, &w); err != nil || w.URL == "" {
		return "", fmt.Errorf("%w: invalid file payload", ErrRejected)
	}
	return w.URL, nil
}

type interviewWire struct {
	ID                       string `json:"id"`
	Title                    string `json:"title"`
	ExternalTitle            string `json:"externalTitle"`
	IsArchived               bool   `json:"isArchived"`
	IsDebrief                bool   `json:"isDebrief"`
	InstructionsPlain        string `json:"instructionsPlain"`
	JobID                    string `json:"jobId"`
	FeedbackFormDefinitionID string `json:"feedbackFormDefinitionId"`
}

func (w interviewWire) toModel() model.InterviewDefinition {
	return model.InterviewDefinition{
		ID:                       w.ID,
		Title:                    w.Title,
		ExternalTitle:            w.ExternalTitle,
		Archived:                 w.IsArchived,
		Debrief:                  w.IsDebrief,
		InstructionsPlain:        w.InstructionsPlain,
		JobID:                    w.JobID,
		FeedbackFormDefinitionID: w.FeedbackFormDefinitionID,
		UpdatedAt:                time.Now().UTC(),
	}
}

func (c *Client) InterviewInfo(ctx context.Context, id string) (model.InterviewDefinition, error) {
	env, err := c.read(ctx, "interview.info", map[string]string{"id": id})
	if err != nil {
		return model.InterviewDefinition{}, err
	}
	var w interviewWire
	if err := json.Unmarshal(env.Results, &w); err != nil || w.ID == "" {
		return model.InterviewDefinition{}, fmt.Errorf("%w: invalid interview payload for %s", ErrRejected, id)
	}
	return w.toModel(), nil
}

func (c *Client) ListInterviews(ctx context.Context, cursor string) (Page[model.InterviewDefinition], error) {
	env, err := c.read(ctx, "interview.list", listRequest{Cursor: cursor, Limit: 100})
	if err != nil {
		return Page[model.InterviewDefinition]{}, err
	}
	return decodePage(env, interviewWire.toModel)
}

type formWire struct {
	ID             string `json:"id"`
	Title          string `json:"title"`
	IsArchived     bool   `json:"isArchived"`
	FormDefinition struct {
		Sections []struct {
			Title  string `json:"title"`
			Fields []struct {
				IsRequired bool `json:"isRequired"`
				Field      struct {
					Path              string               `json:"path"`
					Type              string               `json:"type"`
					Title             string               `json:"title"`
					HumanReadablePath string               `json:"humanReadablePath"`
					DescriptionPlain  string               `json:"descriptionPlain"`
					IsRequired        bool                 `json:"isRequired"`
					SelectableValues  []model.SelectOption `json:"selectableValues"`
				} `json:"field"`
			} `json:"fields"`
		} `json:"sections"`
	} `json:"formDefinition"`
}

func (w formWire) toModel() model.FormDefinition {
	form := model.FormDefinition{
		ID:        w.ID,
		Title:     w.Title,
		Archived:  w.IsArchived,
		UpdatedAt: time.Now().UTC(),
	}
	for _, s := range w.FormDefinition.Sections {
		section := model.FormSection{Title: s.Title}
		for _, f := range s.Fields {
			title := f.Field.Title
			if title == "" {
				title = f.Field.HumanReadablePath
			}
			section.Fields = append(section.Fields, model.FormField{
				Path:        f.Field.Path,
				Type:        model.FieldType(f.Field.Type),
				Title:       title,
				Description: f.Field.DescriptionPlain,
				Required:    f.IsRequired || f.Field.IsRequired,
				Options:     f.Field.SelectableValues,
			})
		}
		form.Sections = append(form.Sections, section)
	}
	return form
}

func (c *Client) FormDefinitionInfo(ctx context.Context, id string) (model.FormDefinition, error) {
	env, err := c.read(ctx, "feedbackFormDefinition.info", map[string]string{"feedbackFormDefinitionId": id})
	if err != nil {
		return model.FormDefinition{}, err
	}
	var w formWire
	if err := json.Unmarshal(env.Results, &w); err != nil || w.ID == "" {
		return model.FormDefinition{}, fmt.Errorf("%w: invalid form definition payload for %s", ErrRejected, id)
	}
	return w.toModel(), nil
}

func (c *Client) ListFormDefinitions(ctx context.Context, cursor string) (Page[model.FormDefinition], error) {
	env, err := c.read(ctx, "feedbackFormDefinition.list", listRequest{Cursor: cursor, Limit: 100})
	if err != nil {
		return Page[model.FormDefinition]{}, err
	}
	return decodePage(env, formWire.toModel)
}

// FieldSubmission is one {path, value} pair of a feedback form.
type FieldSubmission struct {
	Path  string `json:"path"`
	Value any    `json:"value"`
}

type FeedbackSubmission struct {
	FormDefinitionID string
	ApplicationID    string
	UserID           string
	InterviewEventID string
	Fields           []FieldSubmission
}

// SubmitFeedback posts a completed form. It is attempted exactly once.
func (c *Client) SubmitFeedback(ctx context.Context, s FeedbackSubmission) error {
	body := map[string]any{
		"formDefinitionId": s.FormDefinitionID,
		"applicationId":    s.ApplicationID,
		"userId":           s.UserID,
		"interviewEventId": s.InterviewEventID,
		"feedbackForm": map[string]any{
			"fieldSubmissions": s.Fields,
		},
	}
	_, err := c.call(ctx, "applicationFeedback.submit", body)
	return err
}
