package notify

import (
	"context"
	"errors"
	"time"

	"github.com/slack-go/slack"
)

type RemoteFileAdder interface {
	AddRemoteFileContext(ctx context.Context, params slack.RemoteFileParameters) (*slack.RemoteFile, error)
}

// SlackFiles registers externally hosted files so messages can link them
// as Slack files.
type SlackFiles struct {
	api     RemoteFileAdder
	timeout time.Duration
}

func NewSlackFiles(api RemoteFileAdder, timeout time.Duration) *SlackFiles {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &SlackFiles{api: api, timeout: timeout}
}

// RegisterRemote adds url under externalID and returns the Slack file id.
// Registering the same externalID again fails on the Slack side; callers
// fall back to the plain URL.
func (f *SlackFiles) RegisterRemote(ctx context.Context, externalID, url, title string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, f.timeout)
	defer cancel()

	file, err := f.api.AddRemoteFileContext(ctx, slack.RemoteFileParameters{
		ExternalID:  externalID,
		ExternalURL: url,
		Title:       title,
		Filetype:    "pdf",
	})
	if err != nil {
		return "", err
	}
	if file == nil || file.ID == "" {
		return "", errors.New("notify: remote file registered without id")
	}
	return file.ID, nil
}
