package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

// ApplicationsAPI is the part of the portal backend the timeline engine talks to.
type ApplicationsAPI interface {
	GetApplicationDetail(ctx context.Context, role portal.Role, jobID, applicationID string) (*portal.ApplicationDetail, error)
	SubmitStageChange(ctx context.Context, role portal.Role, change portal.StageChange) error
	ListApplicants(ctx context.Context) ([]portal.JobApplicants, error)
}

// TimelineView is one application ready to be rendered.
type TimelineView struct {
	JobID         string     `json:"job_id"`
	ApplicationID string     `json:"application_id"`
	Candidate     portal.Ref `json:"candidate"`
	ResumeURL     string     `json:"resume_url,omitempty"`
	timeline.View
}

type TimelineService struct {
	API     ApplicationsAPI
	Timeout time.Duration
	Log     logrus.FieldLogger
}

func NewTimelineService(api ApplicationsAPI, timeout time.Duration, log logrus.FieldLogger) *TimelineService {
	return &TimelineService{API: api, Timeout: timeout, Log: log}
}

// Load fetches one application fresh from the backend and normalizes its
// timeline. Failures are terminal for the call; nothing is retried.
func (s *TimelineService) Load(ctx context.Context, role portal.Role, jobID, applicationID string) (*TimelineView, error) {
	jobID = strings.TrimSpace(jobID)
	applicationID = strings.TrimSpace(applicationID)
	if role == "" {
		return nil, invalid("role", "role is required")
	}
	if jobID == "" {
		return nil, invalid("job_id", "job id is required")
	}
	if applicationID == "" {
		return nil, invalid("application_id", "application id is required")
	}

	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	detail, err := s.API.GetApplicationDetail(ctx, role, jobID, applicationID)
	if err != nil {
		if errors.Is(err, portal.ErrApplicationNotFound) {
			return nil, fmt.Errorf("%w: job %s application %s", ErrNotFound, jobID, applicationID)
		}
		s.Log.WithFields(logrus.Fields{
			"job_id":         jobID,
			"application_id": applicationID,
			"role":           role,
		}).WithError(err).Warn("❌ application detail fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}

	return &TimelineView{
		JobID:         detail.JobID,
		ApplicationID: detail.ApplicationID,
		Candidate:     detail.Candidate,
		ResumeURL:     detail.ResumeURL,
		View:          timeline.Build(detail.Records),
	}, nil
}

// Applicants lists the applicants of every job the user manages.
func (s *TimelineService) Applicants(ctx context.Context, role portal.Role) ([]portal.JobApplicants, error) {
	if !role.CanChangeStage() {
		return nil, invalid("role", "this role cannot list applicants")
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	jobs, err := s.API.ListApplicants(ctx)
	if err != nil {
		s.Log.WithError(err).Warn("❌ applicant list fetch failed")
		return nil, fmt.Errorf("%w: %w", ErrFetchFailed, err)
	}
	return jobs, nil
}

func (s *TimelineService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}
