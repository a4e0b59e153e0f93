package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/justsurfingit/applicant-timeline/internal/guard"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

func sampleDetail() *portal.ApplicationDetail {
	return &portal.ApplicationDetail{
		ApplicationID: "app-1",
		JobID:         "job-1",
		Candidate:     portal.Ref{ID: "cand-1", Name: "Ada"},
		Records: []timeline.StageRecord{
			{Stage: timeline.StageApplied, CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)},
		},
	}
}

func sampleList() *portal.JobApplicants {
	return &portal.JobApplicants{
		JobID: "job-1",
		Applicants: []portal.Applicant{
			{ID: "cand-1", ApplicationID: "app-1", Current: timeline.StageApplied},
			{ID: "cand-2", ApplicationID: "app-2", Current: timeline.StageShortlisted},
		},
	}
}

func newStageService(api *fakeAPI, rec *fakeRecorder, pub *fakePublisher) *StageService {
	log := quietLogger()
	timelines := NewTimelineService(api, time.Second, log)
	svc := NewStageService(api, timelines, guard.NewMemoryGuard(), rec, pub, time.Second, log)
	svc.now = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }
	return svc
}

func TestSubmitWithoutApplicantMakesNoCalls(t *testing.T) {
	api := &fakeAPI{detail: sampleDetail()}
	svc := newStageService(api, &fakeRecorder{}, &fakePublisher{})

	_, err := svc.Submit(context.Background(), StageChangeRequest{
		Role:  portal.RoleEmployee,
		JobID: "job-1",
		Stage: timeline.StageShortlisted,
	})

	require.ErrorIs(t, err, ErrValidation)
	var verr *ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Equal(t, "applicant_id", verr.Field)

	detailCalls, submits := api.calls()
	assert.Zero(t, detailCalls)
	assert.Zero(t, submits)
}

func TestSubmitValidation(t *testing.T) {
	cases := []struct {
		name  string
		req   StageChangeRequest
		field string
	}{
		{"candidate role", StageChangeRequest{Role: portal.RoleCandidate, JobID: "job-1", ApplicantID: "cand-1", Stage: timeline.StageOffered}, "role"},
		{"missing job", StageChangeRequest{Role: portal.RoleCompany, JobID: "  ", ApplicantID: "cand-1", Stage: timeline.StageOffered}, "job_id"},
		{"unknown stage", StageChangeRequest{Role: portal.RoleCompany, JobID: "job-1", ApplicantID: "cand-1", Stage: "archived"}, "stage"},
		{"blank applicant doc", StageChangeRequest{Role: portal.RoleSuperAdmin, JobID: "job-1", Applicant: portal.Applicant{ID: " "}, Stage: timeline.StageOffered}, "applicant_id"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{detail: sampleDetail()}
			svc := newStageService(api, &fakeRecorder{}, &fakePublisher{})

			_, err := svc.Submit(context.Background(), tc.req)

			var verr *ValidationError
			require.True(t, errors.As(err, &verr))
			assert.Equal(t, tc.field, verr.Field)
			_, submits := api.calls()
			assert.Zero(t, submits)
		})
	}
}

func TestSubmitSuccess(t *testing.T) {
	api := &fakeAPI{detail: sampleDetail()}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	svc := newStageService(api, rec, pub)
	list := sampleList()

	result, err := svc.Submit(context.Background(), StageChangeRequest{
		Role:      portal.RoleEmployee,
		ActorID:   "emp-7",
		JobID:     "job-1",
		Applicant: list.Applicants[0],
		Stage:     "Shortlisted",
		Remarks:   "great portfolio",
		List:      list,
	})
	require.NoError(t, err)

	require.Len(t, api.submits, 1)
	assert.Equal(t, portal.StageChange{
		JobID:        "job-1",
		ApplicantID:  "cand-1",
		CustomStatus: timeline.StageShortlisted,
		Remarks:      "great portfolio",
	}, api.submits[0])

	// optimistic update of the caller's list
	assert.Equal(t, timeline.StageShortlisted, list.Applicants[0].Current)
	assert.Equal(t, timeline.StageShortlisted, list.Applicants[1].Current)

	require.Len(t, rec.events, 1)
	assert.Equal(t, "cand-1", rec.events[0].ApplicantID)
	assert.Equal(t, "app-1", rec.events[0].ApplicationID)
	assert.Equal(t, "emp-7", rec.events[0].ActorID)
	assert.Equal(t, SourceAPI, rec.events[0].Source)

	require.Len(t, pub.events, 1)
	assert.Equal(t, timeline.StageShortlisted, pub.events[0].Stage)

	// authoritative re-read after the write
	require.NotNil(t, result.Timeline)
	assert.Equal(t, timeline.StageShortlisted, result.Timeline.Current)
	assert.Equal(t, []timeline.Stage{timeline.StageApplied, timeline.StageShortlisted}, result.Timeline.Visible)
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), result.SubmittedAt)
}

func TestSubmitFailureLeavesStateUntouched(t *testing.T) {
	api := &fakeAPI{detail: sampleDetail(), submitErr: &portal.APIError{StatusCode: 500, Message: "boom"}}
	rec := &fakeRecorder{}
	pub := &fakePublisher{}
	svc := newStageService(api, rec, pub)
	list := sampleList()
	before := *list
	before.Applicants = append([]portal.Applicant(nil), list.Applicants...)

	_, err := svc.Submit(context.Background(), StageChangeRequest{
		Role:        portal.RoleCompany,
		JobID:       "job-1",
		ApplicantID: "cand-1",
		Stage:       timeline.StageRejected,
		List:        list,
	})

	require.ErrorIs(t, err, ErrUpdateFailed)
	var apiErr *portal.APIError
	assert.True(t, errors.As(err, &apiErr))
	assert.Equal(t, before, *list)
	assert.Empty(t, rec.events)
	assert.Empty(t, pub.events)
	detailCalls, _ := api.calls()
	assert.Zero(t, detailCalls)

	// the same action can be retried once the guard is released
	api.submitErr = nil
	_, err = svc.Submit(context.Background(), StageChangeRequest{
		Role:        portal.RoleCompany,
		JobID:       "job-1",
		ApplicantID: "cand-1",
		Stage:       timeline.StageRejected,
		List:        list,
	})
	require.NoError(t, err)
	assert.Equal(t, timeline.StageRejected, list.Applicants[0].Current)
}

func TestSubmitSideEffectFailuresDoNotFailWrite(t *testing.T) {
	api := &fakeAPI{detail: sampleDetail(), detailErr: errors.New("read timeout")}
	rec := &fakeRecorder{err: errors.New("db down")}
	pub := &fakePublisher{err: errors.New("broker down")}
	svc := newStageService(api, rec, pub)

	result, err := svc.Submit(context.Background(), StageChangeRequest{
		Role:          portal.RoleEmployee,
		JobID:         "job-1",
		ApplicantID:   "cand-1",
		ApplicationID: "app-1",
		Stage:         timeline.StageInterviewed,
	})

	require.NoError(t, err)
	assert.Nil(t, result.Timeline)
	assert.Equal(t, timeline.StageInterviewed, result.Stage)
}

func TestSubmitRejectsConcurrentDuplicate(t *testing.T) {
	api := &fakeAPI{detail: sampleDetail(), block: make(chan struct{}), entered: make(chan struct{})}
	svc := newStageService(api, &fakeRecorder{}, &fakePublisher{})
	req := StageChangeRequest{Role: portal.RoleEmployee, JobID: "job-1", ApplicantID: "cand-1", Stage: timeline.StageOffered}

	done := make(chan error, 1)
	go func() {
		_, err := svc.Submit(context.Background(), req)
		done <- err
	}()

	<-api.entered
	_, err := svc.Submit(context.Background(), req)
	require.ErrorIs(t, err, ErrSubmissionInFlight)

	close(api.block)
	require.NoError(t, <-done)
	_, submits := api.calls()
	assert.Equal(t, 1, submits)
}

func TestSubmitRepeatedStageIsAccepted(t *testing.T) {
	api := &fakeAPI{detail: sampleDetail()}
	svc := newStageService(api, &fakeRecorder{}, &fakePublisher{})
	req := StageChangeRequest{Role: portal.RoleEmployee, JobID: "job-1", ApplicantID: "cand-1", ApplicationID: "app-1", Stage: timeline.StageShortlisted}

	_, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)
	result, err := svc.Submit(context.Background(), req)
	require.NoError(t, err)

	require.NotNil(t, result.Timeline)
	shortlisted := 0
	for _, e := range result.Timeline.Entries {
		if e.Stage == timeline.StageShortlisted {
			shortlisted++
		}
	}
	assert.Equal(t, 1, shortlisted)
}
