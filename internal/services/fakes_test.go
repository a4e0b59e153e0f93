package services

import (
	"context"
	"io"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/justsurfingit/applicant-timeline/internal/models"
	"github.com/justsurfingit/applicant-timeline/internal/notify"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

type fakeAPI struct {
	mu sync.Mutex

	detail    *portal.ApplicationDetail
	detailErr error
	submitErr error
	jobs      []portal.JobApplicants
	listErr   error

	// block, when set, holds SubmitStageChange until it is closed.
	block   chan struct{}
	entered chan struct{}

	detailCalls int
	submits     []portal.StageChange
	roles       []portal.Role
}

func (f *fakeAPI) GetApplicationDetail(ctx context.Context, role portal.Role, jobID, applicationID string) (*portal.ApplicationDetail, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.detailCalls++
	f.roles = append(f.roles, role)
	if f.detailErr != nil {
		return nil, f.detailErr
	}
	d := *f.detail
	return &d, nil
}

func (f *fakeAPI) SubmitStageChange(ctx context.Context, role portal.Role, change portal.StageChange) error {
	if f.block != nil {
		if f.entered != nil {
			close(f.entered)
		}
		select {
		case <-f.block:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.roles = append(f.roles, role)
	if f.submitErr != nil {
		return f.submitErr
	}
	f.submits = append(f.submits, change)
	// the backend appends a record, which the next detail read will see
	if f.detail != nil {
		f.detail.Records = append(f.detail.Records, timeline.StageRecord{Stage: change.CustomStatus, CreatedAt: time.Now(), Remarks: change.Remarks})
	}
	return nil
}

func (f *fakeAPI) ListApplicants(ctx context.Context) ([]portal.JobApplicants, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs, f.listErr
}

func (f *fakeAPI) calls() (int, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.detailCalls, len(f.submits)
}

type fakeRecorder struct {
	events []models.StageChangeEvent
	err    error
}

func (r *fakeRecorder) Record(_ context.Context, event *models.StageChangeEvent) error {
	if r.err != nil {
		return r.err
	}
	r.events = append(r.events, *event)
	return nil
}

type fakePublisher struct {
	events []notify.StageChanged
	err    error
}

func (p *fakePublisher) Publish(_ context.Context, event notify.StageChanged) error {
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, event)
	return nil
}

func quietLogger() logrus.FieldLogger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}
