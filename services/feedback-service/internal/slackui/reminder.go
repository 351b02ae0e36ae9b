package slackui

import (
	"fmt"
	"strings"
	"time"

	"github.com/slack-go/slack"
)

// ReminderContent is everything the reminder DM shows.
type ReminderContent struct {
	CandidateName       string
	CandidateProfileURL string
	JobTitle            string
	// ResumeExternalID names a remote file registered with Slack. When empty,
	// ResumeURL is linked directly.
	ResumeExternalID string
	ResumeURL        string
	InterviewTitle   string
	Instructions     string
	Start            time.Time
	End              time.Time
	MeetingLink      string
	Location         string
	FeedbackLink     string
	Action           FeedbackAction
}

// BuildReminder returns the notification fallback text and the message blocks.
// Missing candidate or interview details are left out rather than failing.
func BuildReminder(c ReminderContent) (string, []slack.Block) {
	candidate := c.CandidateName
	if candidate == "" {
		candidate = "your candidate"
	}
	title := c.InterviewTitle
	if title == "" {
		title = "Interview"
	}
	text := fmt.Sprintf("Interview feedback reminder for %s", candidate)

	blocks := []slack.Block{
		slack.NewHeaderBlock(slack.NewTextBlockObject(slack.PlainTextType, truncate(title+" with "+candidate, 150), false, false)),
	}

	var lines []string
	lines = append(lines, "*When:* "+slackDate(c.Start, c.End))
	if c.CandidateProfileURL != "" {
		lines = append(lines, fmt.Sprintf("*Candidate:* <%s|%s>", c.CandidateProfileURL, candidate))
	}
	if c.JobTitle != "" {
		lines = append(lines, "*Position:* "+c.JobTitle)
	}
	if c.ResumeExternalID == "" && c.ResumeURL != "" {
		lines = append(lines, fmt.Sprintf("*Resume:* <%s|View resume>", c.ResumeURL))
	}
	if c.MeetingLink != "" {
		lines = append(lines, fmt.Sprintf("*Join:* <%s|meeting link>", c.MeetingLink))
	}
	if c.Location != "" {
		lines = append(lines, "*Where:* "+c.Location)
	}
	blocks = append(blocks, slack.NewSectionBlock(
		slack.NewTextBlockObject(slack.MarkdownType, strings.Join(lines, "\n"), false, false), nil, nil))

	if c.ResumeExternalID != "" {
		blocks = append(blocks, slack.NewFileBlock("resume", c.ResumeExternalID, "remote"))
	}

	if c.Instructions != "" {
		blocks = append(blocks, slack.NewContextBlock("",
			slack.NewTextBlockObject(slack.PlainTextType, truncate(c.Instructions, 2000), false, false)))
	}

	blocks = append(blocks, slack.NewDividerBlock())

	var buttons []slack.BlockElement
	if c.Action.FormDefinitionID != "" {
		submit := slack.NewButtonBlockElement(ActionOpenFeedback, c.Action.Encode(),
			slack.NewTextBlockObject(slack.PlainTextType, "Submit Feedback", false, false))
		submit.Style = slack.StylePrimary
		buttons = append(buttons, submit)
	}
	if c.FeedbackLink != "" {
		link := slack.NewButtonBlockElement("open_in_ashby", "", slack.NewTextBlockObject(slack.PlainTextType, "Open in Ashby", false, false))
		link.URL = c.FeedbackLink
		buttons = append(buttons, link)
	}
	if len(buttons) > 0 {
		blocks = append(blocks, slack.NewActionBlock("feedback_actions", buttons...))
	}
	return text, blocks
}

// slackDate renders a timestamp that Slack localizes for each reader.
func slackDate(start, end time.Time) string {
	fallback := start.UTC().Format("Mon Jan 2 15:04 MST")
	s := fmt.Sprintf("<!date^%d^{date_short_pretty} at {time}|%s>", start.Unix(), fallback)
	if !end.IsZero() {
		s += fmt.Sprintf(" to <!date^%d^{time}|%s>", end.Unix(), end.UTC().Format("15:04 MST"))
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n-1]) + "…"
}
