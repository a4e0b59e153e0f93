package services

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"

	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/session"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

type fakeClassifier struct {
	decision StageDecision
	err      error
	pick     int

	classified []string
	picks      [][]string
}

func (c *fakeClassifier) ClassifyStageEmail(_ context.Context, applicant string, _ timeline.Stage, _, _ string) (StageDecision, error) {
	c.classified = append(c.classified, applicant)
	return c.decision, c.err
}

func (c *fakeClassifier) PickJob(_ context.Context, titles []string, _, _ string) int {
	c.picks = append(c.picks, titles)
	return c.pick
}

func encode(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func mailFrom(from, subject, body string) *gmail.Message {
	return &gmail.Message{
		Id: "msg-1",
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: from},
				{Name: "Subject", Value: subject},
			},
			Body: &gmail.MessagePartBody{Data: encode(body)},
		},
	}
}

func newEmailService(api *fakeAPI, classifier *fakeClassifier, rec *fakeRecorder) *EmailService {
	stages := newStageService(api, rec, &fakePublisher{})
	return NewEmailService(nil, classifier, nil, NewMatcherService(), stages, stages.Timelines, nil, "", time.Minute, quietLogger())
}

var recruiter = session.User{ID: "emp-1", Role: portal.RoleEmployee, Token: "t"}

func TestProcessEmailSubmitsStageChange(t *testing.T) {
	api := &fakeAPI{}
	classifier := &fakeClassifier{decision: StageDecision{Stage: timeline.StageInterviewed, Change: true, Summary: "Panel done"}}
	rec := &fakeRecorder{}
	svc := newEmailService(api, classifier, rec)
	jobs := []portal.JobApplicants{{JobID: "job-1", Applicants: []portal.Applicant{
		{ID: "cand-1", Name: "Ada Lovelace", Email: "ada@example.com", Current: timeline.StageShortlisted},
	}}}

	ok, err := svc.processSingleEmail(context.Background(), recruiter, jobs, mailFrom("Ada <ada@example.com>", "Thanks for the interview", "see you"))

	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []string{"Ada Lovelace"}, classifier.classified)
	require.Len(t, api.submits, 1)
	assert.Equal(t, portal.StageChange{JobID: "job-1", ApplicantID: "cand-1", CustomStatus: timeline.StageInterviewed, Remarks: "Panel done"}, api.submits[0])
	assert.Equal(t, timeline.StageInterviewed, jobs[0].Applicants[0].Current)
	require.Len(t, rec.events, 1)
	assert.Equal(t, SourceEmail, rec.events[0].Source)
	assert.Equal(t, "emp-1", rec.events[0].ActorID)
}

func TestProcessEmailSkips(t *testing.T) {
	jobs := func() []portal.JobApplicants {
		return []portal.JobApplicants{{JobID: "job-1", Applicants: []portal.Applicant{
			{ID: "cand-1", Name: "Ada Lovelace", Email: "ada@example.com", Current: timeline.StageOffered},
		}}}
	}

	tests := []struct {
		name       string
		classifier *fakeClassifier
		from       string
	}{
		{"unknown sender", &fakeClassifier{decision: StageDecision{Stage: timeline.StageRejected, Change: true}}, "stranger@example.com"},
		{"no change", &fakeClassifier{decision: StageDecision{}}, "ada@example.com"},
		{"same stage", &fakeClassifier{decision: StageDecision{Stage: timeline.StageOffered, Change: true}}, "ada@example.com"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			api := &fakeAPI{}
			svc := newEmailService(api, tt.classifier, &fakeRecorder{})

			ok, err := svc.processSingleEmail(context.Background(), recruiter, jobs(), mailFrom(tt.from, "Update", "body"))

			assert.NoError(t, err)
			assert.False(t, ok)
			assert.Empty(t, api.submits)
		})
	}
}

func TestProcessEmailDisambiguatesJob(t *testing.T) {
	api := &fakeAPI{}
	classifier := &fakeClassifier{decision: StageDecision{Stage: timeline.StageRejected, Change: true}, pick: 1}
	svc := newEmailService(api, classifier, &fakeRecorder{})
	jobs := []portal.JobApplicants{
		{JobID: "job-1", Title: "Backend Engineer", Applicants: []portal.Applicant{{ID: "cand-1", Email: "ada@example.com"}}},
		{JobID: "job-2", Title: "Data Engineer", Applicants: []portal.Applicant{{ID: "cand-1", Email: "ada@example.com"}}},
	}

	ok, err := svc.processSingleEmail(context.Background(), recruiter, jobs, mailFrom("ada@example.com", "Data role", ""))
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, [][]string{{"Backend Engineer", "Data Engineer"}}, classifier.picks)
	require.Len(t, api.submits, 1)
	assert.Equal(t, "job-2", api.submits[0].JobID)
	assert.Empty(t, jobs[0].Applicants[0].Current)
	assert.Equal(t, timeline.StageRejected, jobs[1].Applicants[0].Current)

	classifier.pick = -1
	api.submits = nil
	ok, err = svc.processSingleEmail(context.Background(), recruiter, jobs, mailFrom("ada@example.com", "Which one?", ""))
	assert.NoError(t, err)
	assert.False(t, ok)
	assert.Empty(t, api.submits)
}

func TestProcessEmailRetryableFailures(t *testing.T) {
	jobs := func() []portal.JobApplicants {
		return []portal.JobApplicants{{JobID: "job-1", Applicants: []portal.Applicant{
			{ID: "cand-1", Name: "Ada Lovelace", Email: "ada@example.com", Current: timeline.StageShortlisted},
		}}}
	}

	t.Run("backend rejects write", func(t *testing.T) {
		api := &fakeAPI{submitErr: &portal.APIError{StatusCode: http.StatusServiceUnavailable}}
		classifier := &fakeClassifier{decision: StageDecision{Stage: timeline.StageInterviewed, Change: true}}
		svc := newEmailService(api, classifier, &fakeRecorder{})

		ok, err := svc.processSingleEmail(context.Background(), recruiter, jobs(), mailFrom("ada@example.com", "Interview", ""))

		assert.False(t, ok)
		assert.ErrorIs(t, err, ErrUpdateFailed)
	})

	t.Run("classifier error", func(t *testing.T) {
		api := &fakeAPI{}
		svc := newEmailService(api, &fakeClassifier{err: errors.New("quota")}, &fakeRecorder{})

		ok, err := svc.processSingleEmail(context.Background(), recruiter, jobs(), mailFrom("ada@example.com", "Interview", ""))

		assert.False(t, ok)
		assert.ErrorContains(t, err, "quota")
		assert.Empty(t, api.submits)
	})
}

type fakeLedger struct {
	done     map[string]bool
	failures map[string]int
	err      error
}

func newFakeLedger() *fakeLedger {
	return &fakeLedger{done: map[string]bool{}, failures: map[string]int{}}
}

func (l *fakeLedger) IsDone(_ context.Context, id string) (bool, error) {
	return l.done[id], l.err
}

func (l *fakeLedger) MarkDone(_ context.Context, id string) error {
	if l.err != nil {
		return l.err
	}
	l.done[id] = true
	return nil
}

func (l *fakeLedger) RecordFailure(_ context.Context, id string) (int, error) {
	if l.err != nil {
		return 0, l.err
	}
	l.failures[id]++
	return l.failures[id], nil
}

func TestProcessMessagesKeepsFailedEmailPending(t *testing.T) {
	api := &fakeAPI{submitErr: errors.New("backend down")}
	classifier := &fakeClassifier{decision: StageDecision{Stage: timeline.StageInterviewed, Change: true}}
	svc := newEmailService(api, classifier, &fakeRecorder{})
	ledger := newFakeLedger()
	jobs := []portal.JobApplicants{{JobID: "job-1", Applicants: []portal.Applicant{
		{ID: "cand-1", Name: "Ada Lovelace", Email: "ada@example.com", Current: timeline.StageShortlisted},
	}}}
	failing := mailFrom("ada@example.com", "Interview", "")
	unrelated := mailFrom("news@letters.example", "Weekly digest", "")
	unrelated.Id = "msg-2"

	pending := svc.processMessages(context.Background(), recruiter, jobs, []*gmail.Message{failing, unrelated}, ledger)

	assert.True(t, pending)
	assert.False(t, ledger.done["msg-1"])
	assert.Equal(t, 1, ledger.failures["msg-1"])
	assert.True(t, ledger.done["msg-2"])

	// once the backend recovers the same email goes through
	api.submitErr = nil
	pending = svc.processMessages(context.Background(), recruiter, jobs, []*gmail.Message{failing, unrelated}, ledger)

	assert.False(t, pending)
	assert.True(t, ledger.done["msg-1"])
	require.Len(t, api.submits, 1)
	assert.Equal(t, "cand-1", api.submits[0].ApplicantID)
}

func TestProcessMessagesGivesUpAfterMaxAttempts(t *testing.T) {
	api := &fakeAPI{submitErr: errors.New("backend down")}
	classifier := &fakeClassifier{decision: StageDecision{Stage: timeline.StageInterviewed, Change: true}}
	svc := newEmailService(api, classifier, &fakeRecorder{})
	ledger := newFakeLedger()
	ledger.failures["msg-1"] = maxEmailAttempts - 1
	jobs := []portal.JobApplicants{{JobID: "job-1", Applicants: []portal.Applicant{
		{ID: "cand-1", Email: "ada@example.com"},
	}}}

	pending := svc.processMessages(context.Background(), recruiter, jobs, []*gmail.Message{mailFrom("ada@example.com", "Interview", "")}, ledger)

	assert.False(t, pending)
	assert.True(t, ledger.done["msg-1"])
}

func TestProcessMessagesLedgerError(t *testing.T) {
	api := &fakeAPI{}
	svc := newEmailService(api, &fakeClassifier{}, &fakeRecorder{})
	ledger := newFakeLedger()
	ledger.err = errors.New("db down")

	pending := svc.processMessages(context.Background(), recruiter, nil, []*gmail.Message{mailFrom("ada@example.com", "Interview", "")}, ledger)

	assert.True(t, pending)
	assert.Empty(t, api.submits)
}

func TestShorten(t *testing.T) {
	assert.Equal(t, "short", shorten("short", 20))
	assert.Equal(t, "Entrevista con María...", shorten("Entrevista con María José", 20))
	assert.Equal(t, "日本語の...", shorten("日本語のメール", 4))
}

func TestGetEmailBody(t *testing.T) {
	plain := mailFrom("a@b.c", "s", "plain body")
	assert.Equal(t, "plain body", getEmailBody(plain))

	nested := &gmail.Message{Payload: &gmail.MessagePart{
		MimeType: "multipart/mixed",
		Parts: []*gmail.MessagePart{
			{MimeType: "multipart/alternative", Parts: []*gmail.MessagePart{
				{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<html><head><style>p{}</style></head><body><p>We are   pleased</p><p>to offer</p></body></html>")}},
			}},
			{MimeType: "application/pdf", Body: &gmail.MessagePartBody{AttachmentId: "att-1"}},
		},
	}}
	assert.Equal(t, "We are pleased to offer", getEmailBody(nested))

	preferPlain := &gmail.Message{Payload: &gmail.MessagePart{Parts: []*gmail.MessagePart{
		{MimeType: "text/html", Body: &gmail.MessagePartBody{Data: encode("<b>html</b>")}},
		{MimeType: "text/plain", Body: &gmail.MessagePartBody{Data: encode("text")}},
	}}}
	assert.Equal(t, "text", getEmailBody(preferPlain))

	assert.Empty(t, getEmailBody(&gmail.Message{}))
}

func TestDecodeBodyWithoutPadding(t *testing.T) {
	raw := base64.RawURLEncoding.EncodeToString([]byte("hi!!"))
	assert.Equal(t, "hi!!", decodeBody(raw))
}

func TestRetry(t *testing.T) {
	calls := 0
	err := retry(context.Background(), quietLogger(), 3, time.Millisecond, func() error {
		calls++
		if calls < 2 {
			return errors.New("flaky")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, calls)

	calls = 0
	err = retry(context.Background(), quietLogger(), 3, time.Millisecond, func() error {
		calls++
		return &googleapi.Error{Code: http.StatusNotFound}
	})
	assert.True(t, isHistoryExpiredError(err))
	assert.Equal(t, 1, calls)

	calls = 0
	err = retry(context.Background(), quietLogger(), 2, time.Millisecond, func() error {
		calls++
		return errors.New("down")
	})
	assert.ErrorContains(t, err, "failed after 2 attempts: down")
	assert.Equal(t, 2, calls)
}
