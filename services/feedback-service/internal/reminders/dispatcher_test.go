package reminders

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/directory"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/ingest"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/model"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/notify"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/outbox"
	"github.com/md-rashed-zaman/feedbackremind/services/feedback-service/internal/slackui"
)

// memStore holds schedules and the reminder ledger. It implements both the
// ingest and the reminders store.
type memStore struct {
	mu        sync.Mutex
	schedules map[string]model.Schedule
	ledger    map[Pair]model.ReminderRecord
	events    []outbox.Event
}

func newMemStore() *memStore {
	return &memStore{schedules: map[string]model.Schedule{}, ledger: map[Pair]model.ReminderRecord{}}
}

func (m *memStore) ReplaceSchedule(_ context.Context, s model.Schedule, _ model.AuditEntry, _ outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.schedules[s.ID] = s
	return nil
}

func (m *memStore) DeleteSchedule(_ context.Context, id string, _ model.AuditEntry) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.schedules[id]
	delete(m.schedules, id)
	return ok, nil
}

func (m *memStore) ListDue(_ context.Context, from, to time.Time) ([]model.DueReminder, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []model.DueReminder
	for _, s := range m.schedules {
		if s.Status != model.StatusScheduled {
			continue
		}
		for _, e := range s.Events {
			if !e.StartTime.After(from) || !e.StartTime.Before(to) {
				continue
			}
			for _, a := range e.Assignments {
				if _, ok := m.ledger[Pair{e.ID, a.InterviewerID}]; ok {
					continue
				}
				out = append(out, model.DueReminder{
					EventID:          e.ID,
					ScheduleID:       s.ID,
					InterviewID:      e.InterviewID,
					ApplicationID:    s.ApplicationID,
					CandidateID:      s.CandidateID,
					StartTime:        e.StartTime,
					EndTime:          e.EndTime,
					InterviewerID:    a.InterviewerID,
					InterviewerEmail: a.Email,
					InterviewerName:  a.Name(),
				})
			}
		}
	}
	return out, nil
}

func (m *memStore) ClaimReminder(_ context.Context, eventID, interviewerID, recipientID string, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Pair{eventID, interviewerID}
	if _, ok := m.ledger[p]; ok {
		return false, nil
	}
	m.ledger[p] = model.ReminderRecord{EventID: eventID, InterviewerID: interviewerID, RecipientID: recipientID, SentAt: at}
	return true, nil
}

func (m *memStore) MarkReminderDelivered(_ context.Context, eventID, interviewerID, channelID, messageID string, evt outbox.Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	p := Pair{eventID, interviewerID}
	rec := m.ledger[p]
	rec.ChannelID, rec.MessageID = channelID, messageID
	m.ledger[p] = rec
	m.events = append(m.events, evt)
	return nil
}

// staleStore returns every pair regardless of the ledger, the way two passes
// that listed before either claimed would see it.
type staleStore struct {
	*memStore
	due []model.DueReminder
}

func (s staleStore) ListDue(context.Context, time.Time, time.Time) ([]model.DueReminder, error) {
	return s.due, nil
}

type fakeDirectory struct {
	ids map[string]string
}

func (f fakeDirectory) Resolve(_ context.Context, email string) (string, error) {
	id, ok := f.ids[email]
	if !ok {
		return "", directory.ErrNotFound
	}
	return id, nil
}

type fakeInterviews struct {
	err   error
	jobID string
}

func (f fakeInterviews) Get(_ context.Context, id string) (model.InterviewDefinition, error) {
	if f.err != nil {
		return model.InterviewDefinition{}, f.err
	}
	return model.InterviewDefinition{ID: id, Title: "System design", FeedbackFormDefinitionID: "form-1", JobID: f.jobID}, nil
}

type fakeCandidates struct {
	err    error
	resume bool
}

func (f fakeCandidates) CandidateInfo(_ context.Context, id string) (model.Candidate, error) {
	if f.err != nil {
		return model.Candidate{}, f.err
	}
	c := model.Candidate{ID: id, Name: "Jane Roe"}
	if f.resume {
		c.ResumeHandle, c.ResumeName = "h-"+id, "jane.pdf"
	}
	return c, nil
}

type fakeJobs struct {
	err error
}

func (f fakeJobs) Get(_ context.Context, id string) (model.Job, error) {
	if f.err != nil {
		return model.Job{}, f.err
	}
	return model.Job{ID: id, Title: "Backend Engineer"}, nil
}

type fakeFiles struct {
	err error
}

func (f fakeFiles) FileURL(_ context.Context, handle string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "https://files.example.com/" + handle, nil
}

type fakeAttachments struct {
	err error
	mu  sync.Mutex
	ids []string
}

func (f *fakeAttachments) RegisterRemote(_ context.Context, externalID, _, _ string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.mu.Lock()
	f.ids = append(f.ids, externalID)
	f.mu.Unlock()
	return "F-" + externalID, nil
}

type fakeSender struct {
	calls    atomic.Int32
	err      error
	mu       sync.Mutex
	contents []slackui.ReminderContent
}

func (f *fakeSender) SendReminder(_ context.Context, recipientID string, c slackui.ReminderContent) (notify.Delivery, error) {
	f.calls.Add(1)
	f.mu.Lock()
	f.contents = append(f.contents, c)
	f.mu.Unlock()
	if f.err != nil {
		return notify.Delivery{}, f.err
	}
	return notify.Delivery{ChannelID: "D-" + recipientID, MessageID: "1.0"}, nil
}

func discard() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

var now = time.Date(2026, 10, 18, 9, 50, 0, 0, time.UTC)

func schedule(starts map[string]time.Time, interviewers ...string) model.Schedule {
	s := model.Schedule{ID: "schedule_1", Status: model.StatusScheduled, ApplicationID: "app_1", CandidateID: "cand_1"}
	for id, start := range starts {
		e := model.Event{ID: id, InterviewID: "interview_1", StartTime: start, EndTime: start.Add(time.Hour)}
		for _, i := range interviewers {
			e.Assignments = append(e.Assignments, model.Assignment{EventID: id, InterviewerID: i, Email: i + "@company.com"})
		}
		s.Events = append(s.Events, e)
	}
	return s
}

func newDispatcher(store Store, sender *fakeSender, dir fakeDirectory) *Dispatcher {
	return NewDispatcher(Deps{
		Store:      store,
		Directory:  dir,
		Interviews: fakeInterviews{},
		Candidates: fakeCandidates{},
		Sender:     sender,
	}, discard(), Config{Workers: 4}).WithClock(func() time.Time { return now })
}

func allKnown(ids ...string) fakeDirectory {
	d := fakeDirectory{ids: map[string]string{}}
	for _, id := range ids {
		d.ids[id+"@company.com"] = "U-" + id
	}
	return d
}

func TestWindowBoundaries(t *testing.T) {
	d := NewDispatcher(Deps{}, discard(), Config{})
	cases := []struct {
		offset time.Duration
		want   bool
	}{
		{4 * time.Minute, false},
		{4*time.Minute + time.Minute, true},
		{4*time.Minute + time.Second, true},
		{19*time.Minute + 59*time.Second, true},
		{20 * time.Minute, false},
		{time.Minute, false},
		{30 * time.Minute, false},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, d.InWindow(now.Add(tc.offset), now), "offset %s", tc.offset)
	}
}

func TestPassHonoursWindow(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{
		"at_4m":    now.Add(4 * time.Minute),
		"at_4m01":  now.Add(4*time.Minute + time.Second),
		"at_19m59": now.Add(19*time.Minute + 59*time.Second),
		"at_20m":   now.Add(20 * time.Minute),
	}, "i1")
	sender := &fakeSender{}

	report := newDispatcher(store, sender, allKnown("i1")).RunDuePass(context.Background())
	assert.Equal(t, 2, report.Sent)
	assert.Contains(t, store.ledger, Pair{"at_4m01", "i1"})
	assert.Contains(t, store.ledger, Pair{"at_19m59", "i1"})
	assert.NotContains(t, store.ledger, Pair{"at_4m", "i1"})
	assert.NotContains(t, store.ledger, Pair{"at_20m", "i1"})
}

func TestRepeatedAndConcurrentPassesSendAtMostOnce(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{
		"e1": now.Add(10 * time.Minute),
		"e2": now.Add(12 * time.Minute),
	}, "i1", "i2", "i3")
	due, err := store.ListDue(context.Background(), now.Add(4*time.Minute), now.Add(20*time.Minute))
	require.NoError(t, err)
	require.Len(t, due, 6)

	sender := &fakeSender{}
	stale := staleStore{memStore: store, due: due}
	d := newDispatcher(stale, sender, allKnown("i1", "i2", "i3"))

	var wg sync.WaitGroup
	reports := make([]*PassReport, 8)
	for i := range reports {
		wg.Add(1)
		go func() {
			defer wg.Done()
			reports[i] = d.RunDuePass(context.Background())
		}()
	}
	wg.Wait()
	for i := 0; i < 3; i++ {
		newDispatcher(store, sender, allKnown("i1", "i2", "i3")).RunDuePass(context.Background())
	}

	assert.Equal(t, int32(6), sender.calls.Load())
	assert.Len(t, store.ledger, 6)
	sent, lost := 0, 0
	for _, r := range reports {
		sent += r.Sent
		lost += r.LostClaims
	}
	assert.Equal(t, 6, sent)
	assert.Equal(t, 6*7, lost)
}

func TestUnresolvedRecipientIsNotClaimed(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1", "ghost")
	sender := &fakeSender{}

	report := newDispatcher(store, sender, allKnown("i1")).RunDuePass(context.Background())
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, 1, report.Skipped)
	assert.NotContains(t, store.ledger, Pair{"e1", "ghost"})

	report = newDispatcher(store, sender, allKnown("i1", "ghost")).RunDuePass(context.Background())
	assert.Equal(t, 1, report.Sent)
	assert.Contains(t, store.ledger, Pair{"e1", "ghost"})
}

func TestInterviewLookupFailureSkipsBeforeClaim(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1")
	sender := &fakeSender{}
	d := NewDispatcher(Deps{
		Store:      store,
		Directory:  allKnown("i1"),
		Interviews: fakeInterviews{err: errors.New("ashby down")},
		Candidates: fakeCandidates{},
		Sender:     sender,
	}, discard(), Config{}).WithClock(func() time.Time { return now })

	report := d.RunDuePass(context.Background())
	assert.Equal(t, 1, report.Skipped)
	assert.Empty(t, store.ledger)
	assert.Zero(t, sender.calls.Load())
}

func TestSendFailureStaysClaimed(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1")
	sender := &fakeSender{err: errors.New("channel_not_found")}
	d := newDispatcher(store, sender, allKnown("i1"))

	report := d.RunDuePass(context.Background())
	require.Len(t, report.SendFailures, 1)
	assert.Equal(t, Pair{"e1", "i1"}, report.SendFailures[0].Pair)
	assert.Contains(t, store.ledger, Pair{"e1", "i1"})

	sender.err = nil
	report = d.RunDuePass(context.Background())
	assert.Zero(t, report.Due)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func TestCandidateFailureDegradesMessage(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1")
	sender := &fakeSender{}
	d := NewDispatcher(Deps{
		Store:      store,
		Directory:  allKnown("i1"),
		Interviews: fakeInterviews{},
		Candidates: fakeCandidates{err: errors.New("timeout")},
		Sender:     sender,
	}, discard(), Config{}).WithClock(func() time.Time { return now })

	report := d.RunDuePass(context.Background())
	assert.Equal(t, 1, report.Sent)
	require.Len(t, sender.contents, 1)
	assert.Empty(t, sender.contents[0].CandidateName)
	assert.Equal(t, "form-1", sender.contents[0].Action.FormDefinitionID)
}

func TestCancelledPassStartsNoPairs(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1")
	sender := &fakeSender{}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	report := newDispatcher(store, sender, allKnown("i1")).RunDuePass(ctx)
	assert.Zero(t, report.Due)
	assert.Empty(t, store.ledger)
}

func TestIngestThenDispatchEndToEnd(t *testing.T) {
	body, err := os.ReadFile("../ingest/testdata/schedule_update.json")
	require.NoError(t, err)
	u, err := ingest.ParseScheduleUpdate(body)
	require.NoError(t, err)

	store := newMemStore()
	require.NoError(t, ingest.NewReconciler(store, discard(), ingest.Config{}).Reconcile(context.Background(), u))

	sender := &fakeSender{}
	d := newDispatcher(store, sender, fakeDirectory{ids: map[string]string{"john.doe@company.com": "U111"}})

	report := d.RunDuePass(context.Background())
	assert.Equal(t, 1, report.Sent)
	assert.Equal(t, int32(1), sender.calls.Load())
	rec := store.ledger[Pair{"event_001", "interviewer_111"}]
	assert.Equal(t, "U111", rec.RecipientID)
	assert.Equal(t, now, rec.SentAt)
	assert.Equal(t, "D-U111", rec.ChannelID)
	require.Len(t, store.events, 1)
	assert.Equal(t, outbox.EventReminderSent, store.events[0].EventType)

	report = d.RunDuePass(context.Background())
	assert.Zero(t, report.Sent)
	assert.Equal(t, int32(1), sender.calls.Load())
}

func enrichedDispatcher(store Store, sender *fakeSender, jobs fakeJobs, files fakeFiles, att *fakeAttachments) *Dispatcher {
	return NewDispatcher(Deps{
		Store:       store,
		Directory:   allKnown("i1"),
		Interviews:  fakeInterviews{jobID: "job_1"},
		Candidates:  fakeCandidates{resume: true},
		Sender:      sender,
		Jobs:        jobs,
		Files:       files,
		Attachments: att,
	}, discard(), Config{}).WithClock(func() time.Time { return now })
}

func TestMessageCarriesJobTitleAndResume(t *testing.T) {
	store := newMemStore()
	store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1")
	sender := &fakeSender{}
	att := &fakeAttachments{}

	report := enrichedDispatcher(store, sender, fakeJobs{}, fakeFiles{}, att).RunDuePass(context.Background())
	assert.Equal(t, 1, report.Sent)
	require.Len(t, sender.contents, 1)
	c := sender.contents[0]
	assert.Equal(t, "Backend Engineer", c.JobTitle)
	assert.Equal(t, "https://files.example.com/h-cand_1", c.ResumeURL)
	assert.Equal(t, "resume_cand_1", c.ResumeExternalID)
	assert.Equal(t, []string{"resume_cand_1"}, att.ids)
}

func TestEnrichmentFailuresDegradeMessage(t *testing.T) {
	cases := []struct {
		name       string
		jobs       fakeJobs
		files      fakeFiles
		att        *fakeAttachments
		wantJob    string
		wantURL    string
		wantFileID string
	}{
		{
			name:       "job lookup fails",
			jobs:       fakeJobs{err: errors.New("job.info timeout")},
			att:        &fakeAttachments{},
			wantURL:    "https://files.example.com/h-cand_1",
			wantFileID: "resume_cand_1",
		},
		{
			name:    "resume url fails",
			files:   fakeFiles{err: errors.New("file.info 503")},
			att:     &fakeAttachments{},
			wantJob: "Backend Engineer",
		},
		{
			name:    "slack registration fails",
			att:     &fakeAttachments{err: errors.New("already_exists")},
			wantJob: "Backend Engineer",
			wantURL: "https://files.example.com/h-cand_1",
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			store := newMemStore()
			store.schedules["schedule_1"] = schedule(map[string]time.Time{"e1": now.Add(10 * time.Minute)}, "i1")
			sender := &fakeSender{}

			report := enrichedDispatcher(store, sender, tc.jobs, tc.files, tc.att).RunDuePass(context.Background())
			assert.Equal(t, 1, report.Sent)
			assert.Empty(t, report.SendFailures)
			require.Len(t, sender.contents, 1)
			c := sender.contents[0]
			assert.Equal(t, "Jane Roe", c.CandidateName)
			assert.Equal(t, tc.wantJob, c.JobTitle)
			assert.Equal(t, tc.wantURL, c.ResumeURL)
			assert.Equal(t, tc.wantFileID, c.ResumeExternalID)
		})
	}
}
