// Package slackui builds the Slack Block Kit surfaces of the reminder flow and
// reads interviewer input back out of them.
package slackui

import (
	"encoding/json"
	"errors"
	"strings"
)

const (
	ActionOpenFeedback     = "open_feedback_modal"
	CallbackSubmitFeedback = "submit_feedback"
	BlockPrefix            = "field_"
)

// FeedbackAction identifies the feedback form an interviewer works on. It is
// carried as the reminder button value and as the modal's private metadata.
type FeedbackAction struct {
	EventID          string `json:"event_id"`
	FormDefinitionID string `json:"form_definition_id"`
	ApplicationID    string `json:"application_id"`
	InterviewerID    string `json:"interviewer_id"`
	CandidateID      string `json:"candidate_id,omitempty"`
	CandidateName    string `json:"candidate_name,omitempty"`
}

func (a FeedbackAction) Encode() string {
	raw, _ := json.Marshal(a)
	return string(raw)
}

var ErrBadAction = errors.New("slackui: invalid feedback action")

func DecodeAction(s string) (FeedbackAction, error) {
	var a FeedbackAction
	if err := json.Unmarshal([]byte(s), &a); err != nil {
		return FeedbackAction{}, ErrBadAction
	}
	if a.EventID == "" || a.InterviewerID == "" || a.FormDefinitionID == "" {
		return FeedbackAction{}, ErrBadAction
	}
	return a, nil
}

// FieldPath maps a modal block id back to its form field path.
func FieldPath(blockID string) (string, bool) {
	path, ok := strings.CutPrefix(blockID, BlockPrefix)
	return path, ok && path != ""
}

func BlockID(path string) string {
	return BlockPrefix + path
}
