package notify

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/slack-go/slack"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/slackui"
)

// Delivery locates a posted message so it can be referenced later.
type Delivery struct {
	ChannelID string
	MessageID string
}

type Sender interface {
	SendReminder(ctx context.Context, recipientID string, c slackui.ReminderContent) (Delivery, error)
	SendText(ctx context.Context, recipientID string, text string) error
	ProviderID() string
}

// MessagePoster is the slice of the Slack Web API the sender needs.
type MessagePoster interface {
	PostMessageContext(ctx context.Context, channelID string, options ...slack.MsgOption) (string, string, error)
}

var ErrNoRecipient = errors.New("notify: recipient is required")

// SlackSender posts direct messages. Posting to a user id opens the DM
// channel with the bot.
type SlackSender struct {
	api     MessagePoster
	timeout time.Duration
}

func NewSlackSender(api MessagePoster, timeout time.Duration) *SlackSender {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackSender{api: api, timeout: timeout}
}

func (s *SlackSender) ProviderID() string {
	return "slack"
}

func (s *SlackSender) SendReminder(ctx context.Context, recipientID string, c slackui.ReminderContent) (Delivery, error) {
	text, blocks := slackui.BuildReminder(c)
	return s.post(ctx, recipientID, slack.MsgOptionText(text, false), slack.MsgOptionBlocks(blocks...))
}

func (s *SlackSender) SendText(ctx context.Context, recipientID string, text string) error {
	_, err := s.post(ctx, recipientID, slack.MsgOptionText(text, false))
	return err
}

func (s *SlackSender) post(ctx context.Context, recipientID string, opts ...slack.MsgOption) (Delivery, error) {
	recipientID = strings.TrimSpace(recipientID)
	if recipientID == "" {
		return Delivery{}, ErrNoRecipient
	}
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	channel, ts, err := s.api.PostMessageContext(ctx, recipientID, opts...)
	if err != nil {
		return Delivery{}, err
	}
	return Delivery{ChannelID: channel, MessageID: ts}, nil
}

// NoopSender logs instead of posting. Used when no Slack token is configured.
type NoopSender struct {
	logger *slog.Logger
}

func NewNoopSender(logger *slog.Logger) *NoopSender {
	return &NoopSender{logger: logger}
}

func (s *NoopSender) ProviderID() string {
	return "noop"
}

func (s *NoopSender) SendReminder(_ context.Context, recipientID string, c slackui.ReminderContent) (Delivery, error) {
	text, _ := slackui.BuildReminder(c)
	s.logger.Info("reminder not sent, slack disabled", "recipient", recipientID, "text", text)
	return Delivery{ChannelID: recipientID}, nil
}

func (s *NoopSender) SendText(_ context.Context, recipientID string, text string) error {
	s.logger.Info("message not sent, slack disabled", "recipient", recipientID, "text", text)
	return nil
}
