package ashby

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"golang.org/x/time/rate"
)

const DefaultBaseURL = "https://api.ashbyhq.com"

var (
	// ErrRejected means the API answered and refused the request.
	ErrRejected = errors.New("ashby: request rejected")
	// ErrUnreachable covers transport failures, timeouts and 5xx answers.
	ErrUnreachable = errors.New("ashby: api unreachable")
)

type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	// RequestsPerSecond caps outbound calls; Ashby throttles per API key.
	RequestsPerSecond float64
	// ReadTries bounds retries of idempotent read calls. Submissions are never retried here.
	ReadTries uint
}

type Client struct {
	baseURL   string
	authz     string
	http      *http.Client
	limiter   *rate.Limiter
	readTries uint
	logger    *slog.Logger
}

func NewClient(cfg Config, logger *slog.Logger) *Client {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = 5
	}
	if cfg.ReadTries == 0 {
		cfg.ReadTries = 3
	}
	return &Client{
		baseURL:   strings.TrimRight(cfg.BaseURL, "/"),
		authz:     "Basic " + base64.StdEncoding.EncodeToString([]byte(cfg.APIKey+":")),
		http:      &http.Client{Timeout: cfg.Timeout},
		limiter:   rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), int(cfg.RequestsPerSecond)+1),
		readTries: cfg.ReadTries,
		logger:    logger,
	}
}

type envelope struct {
	Success           bool            `json:"success"`
	Results           json.RawMessage `json:"results"`
	Errors            []string        `json:"errors"`
	ErrorInfo         *errorInfo      `json:"errorInfo"`
	MoreDataAvailable bool            `json:"moreDataAvailable"`
	NextCursor        string          `json:"nextCursor"`
}

type errorInfo struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"requestId"`
}

func (e envelope) failure() string {
	if len(e.Errors) > 0 {
		return strings.Join(e.Errors, "; ")
	}
	if e.ErrorInfo != nil {
		if e.ErrorInfo.Message != "" {
			return e.ErrorInfo.Code + ": " + e.ErrorInfo.Message
		}
		return e.ErrorInfo.Code
	}
	return "unknown error"
}

// call performs one POST to endpoint and decodes the success envelope.
func (c *Client) call(ctx context.Context, endpoint string, body any) (envelope, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return envelope{}, fmt.Errorf("%w: %s: %w", ErrUnreachable, endpoint, err)
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return envelope{}, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+endpoint, bytes.NewReader(raw))
	if err != nil {
		return envelope{}, err
	}
	req.Header.Set("Authorization", c.authz)
	req.Header.Set("Accept", "application/json; version=1")
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %s: %w", ErrUnreachable, endpoint, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %s: read body: %w", ErrUnreachable, endpoint, err)
	}
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return envelope{}, fmt.Errorf("%w: %s: status %d", ErrUnreachable, endpoint, resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		return envelope{}, fmt.Errorf("%w: %s: status %d", ErrRejected, endpoint, resp.StatusCode)
	}

	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: %s: decode envelope: %w", ErrRejected, endpoint, err)
	}
	if !env.Success {
		msg := env.failure()
		if c.logger != nil {
			attrs := []any{"endpoint", endpoint, "errors", msg}
			if env.ErrorInfo != nil {
				attrs = append(attrs, "error_code", env.ErrorInfo.Code, "ashby_request_id", env.ErrorInfo.RequestID)
			}
			c.logger.Warn("ashby api error", attrs...)
		}
		return envelope{}, fmt.Errorf("%w: %s: %s", ErrRejected, endpoint, msg)
	}
	return env, nil
}

// read retries transport failures of idempotent calls with exponential backoff.
func (c *Client) read(ctx context.Context, endpoint string, body any) (envelope, error) {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	return backoff.Retry(ctx, func() (envelope, error) {
		env, err := c.call(ctx, endpoint, body)
		if err != nil && !errors.Is(err, ErrUnreachable) {
			return env, backoff.Permanent(err)
		}
		return env, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(c.readTries))
}
