package notify

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

// StageChanged is published after the backend accepted a stage change.
type StageChanged struct {
	JobID         string         `json:"job_id"`
	ApplicantID   string         `json:"applicant_id"`
	ApplicationID string         `json:"application_id,omitempty"`
	Role          portal.Role    `json:"role"`
	Stage         timeline.Stage `json:"stage"`
	Remarks       string         `json:"remarks,omitempty"`
	Source        string         `json:"source"`
	OccurredAt    time.Time      `json:"occurred_at"`
}

type Publisher interface {
	Publish(ctx context.Context, event StageChanged) error
}

// LogPublisher surfaces notifications in the service log.
type LogPublisher struct {
	Log logrus.FieldLogger
}

func (p LogPublisher) Publish(_ context.Context, event StageChanged) error {
	p.Log.WithFields(logrus.Fields{
		"job_id":       event.JobID,
		"applicant_id": event.ApplicantID,
		"stage":        event.Stage,
		"source":       event.Source,
	}).Info("✅ applicant moved to new stage")
	return nil
}
