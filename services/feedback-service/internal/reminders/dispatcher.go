// Package reminders finds interviews that are about to start and sends each
// assigned interviewer one feedback reminder.
package reminders

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	otelx "github.com/md-rashed-zaman/feedbackremind/libs/otel"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/notify"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/slackui"
)

type Store interface {
	ListDue(ctx context.Context, from, to time.Time) ([]model.DueReminder, error)
	ClaimReminder(ctx context.Context, eventID, interviewerID, recipientID string, at time.Time) (bool, error)
	MarkReminderDelivered(ctx context.Context, eventID, interviewerID, channelID, messageID string, evt outbox.Event) error
}

type Directory interface {
	Resolve(ctx context.Context, email string) (string, error)
}

type Interviews interface {
	Get(ctx context.Context, id string) (model.InterviewDefinition, error)
}

type Candidates interface {
	CandidateInfo(ctx context.Context, id string) (model.Candidate, error)
}

type Jobs interface {
	Get(ctx context.Context, id string) (model.Job, error)
}

// Files turns an ATS file handle into a download URL.
type Files interface {
	FileURL(ctx context.Context, handle string) (string, error)
}

type Attachments interface {
	RegisterRemote(ctx context.Context, externalID, url, title string) (string, error)
}

type Sender interface {
	SendReminder(ctx context.Context, recipientID string, c slackui.ReminderContent) (notify.Delivery, error)
}

type Config struct {
	Interval    time.Duration
	WindowStart time.Duration
	WindowEnd   time.Duration
	Workers     int
	CallTimeout time.Duration
}

type Deps struct {
	Store      Store
	Directory  Directory
	Interviews Interviews
	Candidates Candidates
	Sender     Sender
	// Optional message enrichments.
	Jobs        Jobs
	Files       Files
	Attachments Attachments
}

// Dispatcher runs reminder passes. A pair moves NoReminder -> Claimed -> Sent
// and never back: the claim is written before the send, so a failed send is
// not retried and no pair is ever reminded twice.
type Dispatcher struct {
	deps   Deps
	cfg    Config
	logger *slog.Logger
	now    func() time.Time
}

func NewDispatcher(deps Deps, logger *slog.Logger, cfg Config) *Dispatcher {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Minute
	}
	if cfg.WindowStart <= 0 {
		cfg.WindowStart = 4 * time.Minute
	}
	if cfg.WindowEnd <= cfg.WindowStart {
		cfg.WindowEnd = 20 * time.Minute
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 4
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	return &Dispatcher{deps: deps, cfg: cfg, logger: logger, now: time.Now}
}

// WithClock replaces the wall clock. Intended for tests.
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// InWindow reports whether an event starting at start is due for a reminder at now.
// Both bounds are exclusive.
func (d *Dispatcher) InWindow(start, now time.Time) bool {
	return start.After(now.Add(d.cfg.WindowStart)) && start.Before(now.Add(d.cfg.WindowEnd))
}

type Pair struct {
	EventID       string `json:"event_id"`
	InterviewerID string `json:"interviewer_id"`
}

type SendFailure struct {
	Pair
	Error string `json:"error"`
}

// PassReport summarizes one pass.
type PassReport struct {
	StartedAt    time.Time     `json:"started_at"`
	Due          int           `json:"due"`
	Sent         int           `json:"sent"`
	Skipped      int           `json:"skipped"`
	LostClaims   int           `json:"lost_claims"`
	SendFailures []SendFailure `json:"send_failures"`
	Error        string        `json:"error,omitempty"`

	mu sync.Mutex
}

func (r *PassReport) add(fn func(r *PassReport)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	fn(r)
}

func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report := d.RunDuePass(ctx)
			if report.Due > 0 || report.Error != "" {
				d.logger.Info("reminder pass finished",
					"due", report.Due,
					"sent", report.Sent,
					"skipped", report.Skipped,
					"lost_claims", report.LostClaims,
					"send_failures", len(report.SendFailures),
					"err", report.Error,
				)
			}
		}
	}
}

// RunDuePass performs one scan. Pairs run in parallel up to Workers; a pair's
// own claim and send always run in sequence. When ctx is cancelled no new
// pairs are started and the rest are left for the next pass.
func (d *Dispatcher) RunDuePass(ctx context.Context) *PassReport {
	now := d.now().UTC()
	report := &PassReport{StartedAt: now, SendFailures: []SendFailure{}}

	ctx, span := otelx.Tracer("reminders").Start(ctx, "reminders.pass")
	defer span.End()

	due, err := d.deps.Store.ListDue(ctx, now.Add(d.cfg.WindowStart), now.Add(d.cfg.WindowEnd))
	if err != nil {
		d.logger.Error("list due reminders failed", "err", err)
		span.RecordError(err)
		span.SetStatus(codes.Error, "list due")
		report.Error = err.Error()
		return report
	}

	var g errgroup.Group
	g.SetLimit(d.cfg.Workers)
	for _, r := range due {
		if !d.InWindow(r.StartTime, now) {
			continue
		}
		if ctx.Err() != nil {
			break
		}
		report.Due++
		g.Go(func() error {
			d.processPair(ctx, now, r, report)
			return nil
		})
	}
	_ = g.Wait()

	span.SetAttributes(
		attribute.Int("reminders.due", report.Due),
		attribute.Int("reminders.sent", report.Sent),
		attribute.Int("reminders.send_failures", len(report.SendFailures)),
	)
	return report
}

func (d *Dispatcher) processPair(ctx context.Context, now time.Time, r model.DueReminder, report *PassReport) {
	log := d.logger.With("event_id", r.EventID, "interviewer_id", r.InterviewerID)

	recipientID, err := d.resolve(ctx, r.InterviewerEmail)
	if err != nil {
		log.Warn("recipient lookup failed, will retry next pass", "err", err)
		report.add(func(p *PassReport) { p.Skipped++ })
		return
	}

	var def model.InterviewDefinition
	if r.InterviewID != "" {
		def, err = d.interview(ctx, r.InterviewID)
		if err != nil {
			log.Warn("interview lookup failed, will retry next pass", "interview_id", r.InterviewID, "err", err)
			report.add(func(p *PassReport) { p.Skipped++ })
			return
		}
	}

	claimed, err := d.deps.Store.ClaimReminder(ctx, r.EventID, r.InterviewerID, recipientID, now)
	if err != nil {
		log.Error("claim reminder failed", "err", err)
		report.add(func(p *PassReport) { p.Skipped++ })
		return
	}
	if !claimed {
		report.add(func(p *PassReport) { p.LostClaims++ })
		return
	}

	// Claimed pairs are finished even during shutdown.
	sendCtx := context.WithoutCancel(ctx)
	content := d.content(sendCtx, r, def, log)
	delivery, err := d.send(sendCtx, recipientID, content)
	if err != nil {
		log.Error("reminder send failed after claim", "err", err)
		report.add(func(p *PassReport) {
			p.SendFailures = append(p.SendFailures, SendFailure{Pair: Pair{r.EventID, r.InterviewerID}, Error: err.Error()})
		})
		return
	}
	report.add(func(p *PassReport) { p.Sent++ })

	evt, err := outbox.NewEvent("feedback_reminder", r.EventID+":"+r.InterviewerID, outbox.EventReminderSent, outbox.ReminderSent{
		EventID:       r.EventID,
		InterviewerID: r.InterviewerID,
		ChannelID:     delivery.ChannelID,
		MessageID:     delivery.MessageID,
		SentAt:        now,
	})
	if err != nil {
		log.Error("build reminder event failed", "err", err)
	}
	if err := d.deps.Store.MarkReminderDelivered(sendCtx, r.EventID, r.InterviewerID, delivery.ChannelID, delivery.MessageID, evt); err != nil {
		log.Error("record reminder delivery failed", "err", err)
		return
	}
	log.Info("reminder sent", "channel_id", delivery.ChannelID)
}

// content gathers optional candidate, job and resume context. Lookup
// failures degrade the message instead of dropping it.
func (d *Dispatcher) content(ctx context.Context, r model.DueReminder, def model.InterviewDefinition, log *slog.Logger) slackui.ReminderContent {
	c := slackui.ReminderContent{
		InterviewTitle: def.Title,
		Instructions:   def.InstructionsPlain,
		Start:          r.StartTime,
		End:            r.EndTime,
		MeetingLink:    r.MeetingLink,
		Location:       r.Location,
		FeedbackLink:   r.FeedbackLink,
		Action: slackui.FeedbackAction{
			EventID:          r.EventID,
			FormDefinitionID: def.FeedbackFormDefinitionID,
			ApplicationID:    r.ApplicationID,
			InterviewerID:    r.InterviewerID,
			CandidateID:      r.CandidateID,
		},
	}
	if def.JobID != "" && d.deps.Jobs != nil {
		cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
		job, err := d.deps.Jobs.Get(cctx, def.JobID)
		cancel()
		if err != nil {
			log.Warn("job lookup failed, sending without job title", "job_id", def.JobID, "err", err)
		} else {
			c.JobTitle = job.Title
		}
	}
	if r.CandidateID == "" || d.deps.Candidates == nil {
		return c
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	cand, err := d.deps.Candidates.CandidateInfo(cctx, r.CandidateID)
	cancel()
	if err != nil {
		log.Warn("candidate lookup failed, sending without candidate details", "candidate_id", r.CandidateID, "err", err)
		return c
	}
	c.CandidateName = cand.Name
	c.CandidateProfileURL = cand.ProfileURL
	c.Action.CandidateName = cand.Name
	d.attachResume(ctx, &c, cand, log)
	return c
}

func (d *Dispatcher) attachResume(ctx context.Context, c *slackui.ReminderContent, cand model.Candidate, log *slog.Logger) {
	if cand.ResumeHandle == "" || d.deps.Files == nil {
		return
	}
	cctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	url, err := d.deps.Files.FileURL(cctx, cand.ResumeHandle)
	cancel()
	if err != nil {
		log.Warn("resume lookup failed, sending without resume", "candidate_id", cand.ID, "err", err)
		return
	}
	c.ResumeURL = url
	if d.deps.Attachments == nil {
		return
	}
	externalID := "resume_" + cand.ID
	title := cand.ResumeName
	if title == "" {
		title = "Resume"
	}
	cctx, cancel = context.WithTimeout(ctx, d.cfg.CallTimeout)
	_, err = d.deps.Attachments.RegisterRemote(cctx, externalID, url, title)
	cancel()
	if err != nil {
		log.Warn("resume registration failed, linking directly", "candidate_id", cand.ID, "err", err)
		return
	}
	c.ResumeExternalID = externalID
}

func (d *Dispatcher) resolve(ctx context.Context, email string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.deps.Directory.Resolve(ctx, email)
}

func (d *Dispatcher) interview(ctx context.Context, id string) (model.InterviewDefinition, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.deps.Interviews.Get(ctx, id)
}

func (d *Dispatcher) send(ctx context.Context, recipientID string, c slackui.ReminderContent) (notify.Delivery, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.CallTimeout)
	defer cancel()
	return d.deps.Sender.SendReminder(ctx, recipientID, c)
}
