package services

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/justsurfingit/applicant-timeline/internal/guard"
	"github.com/justsurfingit/applicant-timeline/internal/models"
	"github.com/justsurfingit/applicant-timeline/internal/notify"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

const (
	SourceAPI   = "api"
	SourceEmail = "email"
)

// EventRecorder stores the local audit trail of submitted changes.
type EventRecorder interface {
	Record(ctx context.Context, event *models.StageChangeEvent) error
}

// StageChangeRequest moves one applicant to a new stage. The applicant is
// identified by ApplicantID or, when that is empty, by Applicant.ID.
type StageChangeRequest struct {
	Role          portal.Role
	ActorID       string
	JobID         string
	ApplicantID   string
	Applicant     portal.Applicant
	ApplicationID string
	Stage         timeline.Stage
	Remarks       string
	Source        string

	// List, when set, is updated in place once the backend accepts the change.
	List *portal.JobApplicants
}

type StageChangeResult struct {
	JobID       string         `json:"job_id"`
	ApplicantID string         `json:"applicant_id"`
	Stage       timeline.Stage `json:"stage"`
	SubmittedAt time.Time      `json:"submitted_at"`
	// Timeline is the backend's state after the write, when it could be re-read.
	Timeline *TimelineView `json:"timeline,omitempty"`
}

type StageService struct {
	API       ApplicationsAPI
	Timelines *TimelineService
	Guard     guard.Guard
	Events    EventRecorder
	Notifier  notify.Publisher
	Timeout   time.Duration
	Log       logrus.FieldLogger

	now func() time.Time
}

func NewStageService(api ApplicationsAPI, timelines *TimelineService, g guard.Guard, events EventRecorder, notifier notify.Publisher, timeout time.Duration, log logrus.FieldLogger) *StageService {
	if g == nil {
		g = guard.NewMemoryGuard()
	}
	return &StageService{
		API:       api,
		Timelines: timelines,
		Guard:     g,
		Events:    events,
		Notifier:  notifier,
		Timeout:   timeout,
		Log:       log,
		now:       time.Now,
	}
}

// Submit sends one stage change to the backend. Local state is only touched
// after the backend accepted the write.
func (s *StageService) Submit(ctx context.Context, req StageChangeRequest) (*StageChangeResult, error) {
	jobID := strings.TrimSpace(req.JobID)
	applicantID := strings.TrimSpace(req.ApplicantID)
	if applicantID == "" {
		applicantID = strings.TrimSpace(req.Applicant.ID)
	}
	applicationID := strings.TrimSpace(req.ApplicationID)
	if applicationID == "" {
		applicationID = strings.TrimSpace(req.Applicant.ApplicationID)
	}
	stage := timeline.ParseStage(string(req.Stage))
	source := req.Source
	if source == "" {
		source = SourceAPI
	}

	switch {
	case !req.Role.CanChangeStage():
		return nil, invalid("role", "this role cannot change application stages")
	case jobID == "":
		return nil, invalid("job_id", "job id is required")
	case applicantID == "":
		return nil, invalid("applicant_id", "applicant could not be identified")
	case !stage.Known():
		return nil, invalid("stage", fmt.Sprintf("unknown stage %q", req.Stage))
	}

	release, err := s.Guard.Acquire(ctx, jobID+":"+applicantID)
	if err != nil {
		return nil, ErrSubmissionInFlight
	}
	defer release()

	log := s.Log.WithFields(logrus.Fields{
		"job_id":       jobID,
		"applicant_id": applicantID,
		"stage":        stage,
		"role":         req.Role,
		"source":       source,
	})

	writeCtx, cancel := s.withTimeout(ctx)
	err = s.API.SubmitStageChange(writeCtx, req.Role, portal.StageChange{
		JobID:        jobID,
		ApplicantID:  applicantID,
		CustomStatus: stage,
		Remarks:      req.Remarks,
	})
	cancel()
	if err != nil {
		log.WithError(err).Warn("❌ stage change rejected")
		return nil, fmt.Errorf("%w: %w", ErrUpdateFailed, err)
	}

	at := s.clock().UTC()
	if req.List != nil {
		req.List.ApplyStage(applicantID, stage, req.Remarks, at)
	}
	log.Info("⚡ stage change accepted")

	if s.Events != nil {
		event := &models.StageChangeEvent{
			CreatedAt:     at,
			JobID:         jobID,
			ApplicantID:   applicantID,
			ApplicationID: applicationID,
			Role:          string(req.Role),
			ActorID:       req.ActorID,
			Stage:         string(stage),
			Remarks:       req.Remarks,
			Source:        source,
		}
		if err := s.Events.Record(ctx, event); err != nil {
			log.WithError(err).Error("failed to record stage change event")
		}
	}

	if s.Notifier != nil {
		err := s.Notifier.Publish(ctx, notify.StageChanged{
			JobID:         jobID,
			ApplicantID:   applicantID,
			ApplicationID: applicationID,
			Role:          req.Role,
			Stage:         stage,
			Remarks:       req.Remarks,
			Source:        source,
			OccurredAt:    at,
		})
		if err != nil {
			log.WithError(err).Error("failed to publish stage change")
		}
	}

	result := &StageChangeResult{
		JobID:       jobID,
		ApplicantID: applicantID,
		Stage:       stage,
		SubmittedAt: at,
	}
	if applicationID != "" && s.Timelines != nil {
		view, err := s.Timelines.Load(ctx, req.Role, jobID, applicationID)
		if err != nil {
			log.WithError(err).Warn("⚠️ could not re-read timeline after stage change")
		} else {
			result.Timeline = view
		}
	}
	return result, nil
}

func (s *StageService) clock() time.Time {
	if s.now == nil {
		return time.Now()
	}
	return s.now()
}

func (s *StageService) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, s.Timeout)
}
