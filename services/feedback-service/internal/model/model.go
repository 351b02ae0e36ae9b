package model

import (
	"encoding/json"
	"strings"
	"time"
)

type ScheduleStatus string

const (
	StatusScheduled ScheduleStatus = "Scheduled"
	StatusComplete  ScheduleStatus = "Complete"
	StatusCancelled ScheduleStatus = "Cancelled"
)

// IsCancelled reports whether the status removes the schedule.
func (s ScheduleStatus) IsCancelled() bool {
	return strings.EqualFold(string(s), string(StatusCancelled))
}

// Schedule is one interview loop for a candidate's application.
type Schedule struct {
	ID            string
	ApplicationID string
	StageID       string
	Status        ScheduleStatus
	CandidateID   string
	UpdatedAt     *time.Time
	Events        []Event
}

// Event is a single interview slot inside a schedule.
type Event struct {
	ID                   string
	ScheduleID           string
	InterviewID          string
	StartTime            time.Time
	EndTime              time.Time
	FeedbackLink         string
	Location             string
	MeetingLink          string
	HasSubmittedFeedback bool
	ExtraData            map[string]any
	CreatedAt            *time.Time
	UpdatedAt            *time.Time
	Assignments          []Assignment
}

// Assignment is a snapshot of an interviewer's profile taken at ingestion time.
type Assignment struct {
	EventID              string
	InterviewerID        string
	FirstName            string
	LastName             string
	Email                string
	GlobalRole           string
	TrainingRole         string
	Enabled              bool
	ManagerID            string
	PoolID               string
	PoolTitle            string
	PoolArchived         bool
	TrainingPath         map[string]any
	InterviewerUpdatedAt *time.Time
}

func (a Assignment) Name() string {
	return strings.TrimSpace(a.FirstName + " " + a.LastName)
}

type ReminderRecord struct {
	EventID       string
	InterviewerID string
	RecipientID   string
	ChannelID     string
	MessageID     string
	SentAt        time.Time
	OpenedAt      *time.Time
	SubmittedAt   *time.Time
}

// DueReminder is one (event, interviewer) pair in the send window with no reminder yet.
type DueReminder struct {
	EventID          string
	ScheduleID       string
	InterviewID      string
	ApplicationID    string
	CandidateID      string
	StartTime        time.Time
	EndTime          time.Time
	MeetingLink      string
	Location         string
	FeedbackLink     string
	InterviewerID    string
	InterviewerEmail string
	InterviewerName  string
}

type AuditEntry struct {
	ID         int64           `json:"id"`
	ScheduleID string          `json:"schedule_id,omitempty"`
	Action     string          `json:"action"`
	ReceivedAt time.Time       `json:"received_at"`
	Payload    json.RawMessage `json:"payload"`
}

// InterviewDefinition is cached reference data describing an interview type.
type InterviewDefinition struct {
	ID                       string
	Title                    string
	ExternalTitle            string
	Archived                 bool
	Debrief                  bool
	InstructionsPlain        string
	JobID                    string
	FeedbackFormDefinitionID string
	UpdatedAt                time.Time
}

type Candidate struct {
	ID         string
	Name       string
	Email      string
	ProfileURL string
	Position   string
	Company    string
	// ResumeHandle is the ATS file handle of the latest resume, if any.
	ResumeHandle string
	ResumeName   string
}

// Job is the cached subset of an ATS job shown in reminders.
type Job struct {
	ID        string
	Title     string
	Status    string
	UpdatedAt time.Time
}

type Stats struct {
	RemindersSent   int64 `json:"reminders_sent"`
	PendingFeedback int64 `json:"pending_feedback"`
	ActiveDrafts    int64 `json:"active_drafts"`
	FeedbackForms   int64 `json:"feedback_forms"`
	Schedules       int64 `json:"schedules"`
}
