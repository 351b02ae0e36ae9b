package outbox

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventScheduleReconciled = "interview.schedule.reconciled.v1"
	EventReminderSent       = "feedback.reminder.sent.v1"
	EventFeedbackSubmitted  = "feedback.submitted.v1"
)

// Event is the domain event envelope written to the outbox table.
// The Kafka topic name equals EventType.
type Event struct {
	EventID       string
	AggregateType string
	AggregateID   string
	EventType     string
	Payload       []byte
}

// NewEvent marshals payload and assigns a fresh event id.
func NewEvent(aggregateType, aggregateID, eventType string, payload any) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		EventID:       uuid.NewString(),
		AggregateType: aggregateType,
		AggregateID:   aggregateID,
		EventType:     eventType,
		Payload:       raw,
	}, nil
}

type ScheduleReconciled struct {
	ScheduleID string    `json:"schedule_id"`
	Action     string    `json:"action"`
	Status     string    `json:"status"`
	EventIDs   []string  `json:"event_ids"`
	AppliedAt  time.Time `json:"applied_at"`
}

type ReminderSent struct {
	EventID       string    `json:"event_id"`
	InterviewerID string    `json:"interviewer_id"`
	ChannelID     string    `json:"channel_id"`
	MessageID     string    `json:"message_id"`
	SentAt        time.Time `json:"sent_at"`
}

type FeedbackSubmitted struct {
	EventID          string    `json:"event_id"`
	InterviewerID    string    `json:"interviewer_id"`
	FormDefinitionID string    `json:"form_definition_id"`
	ApplicationID    string    `json:"application_id"`
	SubmittedAt      time.Time `json:"submitted_at"`
}
