package ingest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
)

const (
	ActionPing           = "ping"
	ActionScheduleUpdate = "interviewScheduleUpdate"
)

// Webhook is the outer envelope of every Ashby webhook delivery.
type Webhook struct {
	Action string          `json:"action"`
	Type   string          `json:"type"`
	Data   json.RawMessage `json:"data"`
}

func (w Webhook) IsPing() bool {
	return w.Action == ActionPing || w.Type == ActionPing
}

// ScheduleID extracts data.interviewSchedule.id when present, for audit purposes.
func (w Webhook) ScheduleID() string {
	var peek struct {
		InterviewSchedule struct {
			ID string `json:"id"`
		} `json:"interviewSchedule"`
	}
	_ = json.Unmarshal(w.Data, &peek)
	return peek.InterviewSchedule.ID
}

func ParseWebhook(body []byte) (Webhook, error) {
	var w Webhook
	if err := json.Unmarshal(body, &w); err != nil {
		return Webhook{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return w, nil
}

// ScheduleUpdate is the authoritative snapshot of one schedule plus the raw
// delivery it came from.
type ScheduleUpdate struct {
	Action   string
	Schedule model.Schedule
	Raw      json.RawMessage
}

type wireTime struct {
	t *time.Time
}

func (w *wireTime) UnmarshalJSON(b []byte) error {
	if bytes.Equal(b, []byte("null")) {
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return err
	}
	t = t.UTC()
	w.t = &t
	return nil
}

type scheduleWire struct {
	ID               string      `json:"id"`
	Status           string      `json:"status"`
	ApplicationID    string      `json:"applicationId"`
	InterviewStageID string      `json:"interviewStageId"`
	CandidateID      string      `json:"candidateId"`
	UpdatedAt        wireTime    `json:"updatedAt"`
	InterviewEvents  []eventWire `json:"interviewEvents"`
}

type eventWire struct {
	ID          string `json:"id"`
	InterviewID string `json:"interviewId"`
	Interview   *struct {
		ID string `json:"id"`
	} `json:"interview"`
	StartTime            wireTime          `json:"startTime"`
	EndTime              wireTime          `json:"endTime"`
	FeedbackLink         string            `json:"feedbackLink"`
	Location             string            `json:"location"`
	MeetingLink          string            `json:"meetingLink"`
	HasSubmittedFeedback bool              `json:"hasSubmittedFeedback"`
	CreatedAt            wireTime          `json:"createdAt"`
	UpdatedAt            wireTime          `json:"updatedAt"`
	ExtraData            map[string]any    `json:"extraData"`
	Interviewers         []interviewerWire `json:"interviewers"`
}

type interviewerWire struct {
	ID              string   `json:"id"`
	FirstName       string   `json:"firstName"`
	LastName        string   `json:"lastName"`
	Email           string   `json:"email"`
	GlobalRole      string   `json:"globalRole"`
	TrainingRole    string   `json:"trainingRole"`
	IsEnabled       *bool    `json:"isEnabled"`
	ManagerID       string   `json:"managerId"`
	UpdatedAt       wireTime `json:"updatedAt"`
	InterviewerPool *struct {
		ID           string         `json:"id"`
		Title        string         `json:"title"`
		IsArchived   bool           `json:"isArchived"`
		TrainingPath map[string]any `json:"trainingPath"`
	} `json:"interviewerPool"`
}

// ParseScheduleUpdate decodes an interviewScheduleUpdate delivery. Every
// identity field and event time is checked before anything is stored.
func ParseScheduleUpdate(body []byte) (ScheduleUpdate, error) {
	var env struct {
		Action string `json:"action"`
		Data   struct {
			InterviewSchedule *scheduleWire `json:"interviewSchedule"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &env); err != nil {
		return ScheduleUpdate{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	if env.Data.InterviewSchedule == nil {
		return ScheduleUpdate{}, fmt.Errorf("%w: missing data.interviewSchedule", ErrMalformedPayload)
	}

	u := ScheduleUpdate{
		Action:   env.Action,
		Schedule: env.Data.InterviewSchedule.toModel(),
		Raw:      json.RawMessage(body),
	}
	if err := Validate(u.Schedule); err != nil {
		return ScheduleUpdate{}, err
	}
	return u, nil
}

func (w scheduleWire) toModel() model.Schedule {
	s := model.Schedule{
		ID:            strings.TrimSpace(w.ID),
		ApplicationID: w.ApplicationID,
		StageID:       w.InterviewStageID,
		Status:        model.ScheduleStatus(strings.TrimSpace(w.Status)),
		CandidateID:   w.CandidateID,
		UpdatedAt:     w.UpdatedAt.t,
	}
	for _, ew := range w.InterviewEvents {
		interviewID := ew.InterviewID
		if interviewID == "" && ew.Interview != nil {
			interviewID = ew.Interview.ID
		}
		e := model.Event{
			ID:                   strings.TrimSpace(ew.ID),
			ScheduleID:           s.ID,
			InterviewID:          interviewID,
			FeedbackLink:         ew.FeedbackLink,
			Location:             ew.Location,
			MeetingLink:          ew.MeetingLink,
			HasSubmittedFeedback: ew.HasSubmittedFeedback,
			ExtraData:            ew.ExtraData,
			CreatedAt:            ew.CreatedAt.t,
			UpdatedAt:            ew.UpdatedAt.t,
		}
		if ew.StartTime.t != nil {
			e.StartTime = *ew.StartTime.t
		}
		if ew.EndTime.t != nil {
			e.EndTime = *ew.EndTime.t
		}
		for _, iw := range ew.Interviewers {
			a := model.Assignment{
				EventID:              e.ID,
				InterviewerID:        strings.TrimSpace(iw.ID),
				FirstName:            iw.FirstName,
				LastName:             iw.LastName,
				Email:                strings.TrimSpace(iw.Email),
				GlobalRole:           iw.GlobalRole,
				TrainingRole:         iw.TrainingRole,
				Enabled:              iw.IsEnabled == nil || *iw.IsEnabled,
				ManagerID:            iw.ManagerID,
				InterviewerUpdatedAt: iw.UpdatedAt.t,
			}
			if p := iw.InterviewerPool; p != nil {
				a.PoolID, a.PoolTitle, a.PoolArchived, a.TrainingPath = p.ID, p.Title, p.IsArchived, p.TrainingPath
			}
			e.Assignments = append(e.Assignments, a)
		}
		s.Events = append(s.Events, e)
	}
	return s
}

// Validate rejects snapshots that cannot be stored as-is. Cancellations only
// need a schedule id.
func Validate(s model.Schedule) error {
	if s.ID == "" {
		return fmt.Errorf("%w: missing schedule id", ErrMalformedPayload)
	}
	if s.Status == "" {
		return fmt.Errorf("%w: schedule %s: missing status", ErrMalformedPayload, s.ID)
	}
	if s.Status.IsCancelled() {
		return nil
	}

	seenEvents := make(map[string]bool, len(s.Events))
	for i, e := range s.Events {
		if e.ID == "" {
			return fmt.Errorf("%w: schedule %s: event %d: missing id", ErrMalformedPayload, s.ID, i)
		}
		if seenEvents[e.ID] {
			return fmt.Errorf("%w: schedule %s: duplicate event %s", ErrMalformedPayload, s.ID, e.ID)
		}
		seenEvents[e.ID] = true
		if e.StartTime.IsZero() || e.EndTime.IsZero() {
			return fmt.Errorf("%w: event %s: missing start or end time", ErrMalformedPayload, e.ID)
		}

		seenInterviewers := make(map[string]bool, len(e.Assignments))
		for j, a := range e.Assignments {
			if a.InterviewerID == "" {
				return fmt.Errorf("%w: event %s: interviewer %d: missing id", ErrMalformedPayload, e.ID, j)
			}
			if seenInterviewers[a.InterviewerID] {
				return fmt.Errorf("%w: event %s: duplicate interviewer %s", ErrMalformedPayload, e.ID, a.InterviewerID)
			}
			seenInterviewers[a.InterviewerID] = true
		}
	}
	return nil
}
