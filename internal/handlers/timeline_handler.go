package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/justsurfingit/applicant-timeline/internal/dtos"
	"github.com/justsurfingit/applicant-timeline/internal/models"
	"github.com/justsurfingit/applicant-timeline/internal/portal"
	"github.com/justsurfingit/applicant-timeline/internal/services"
	"github.com/justsurfingit/applicant-timeline/internal/session"
	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

type TimelineLoader interface {
	Load(ctx context.Context, role portal.Role, jobID, applicationID string) (*services.TimelineView, error)
	Applicants(ctx context.Context, role portal.Role) ([]portal.JobApplicants, error)
}

type StageSubmitter interface {
	Submit(ctx context.Context, req services.StageChangeRequest) (*services.StageChangeResult, error)
}

type EventLister interface {
	List(ctx context.Context, filter services.AuditFilter) ([]models.StageChangeEvent, error)
}

type TimelineHandler struct {
	Timelines TimelineLoader
	Stages    StageSubmitter
	Events    EventLister
	Sessions  SessionManager
}

// NewTimelineHandler wires the handler. events may be nil when no database is configured.
func NewTimelineHandler(timelines TimelineLoader, stages StageSubmitter, events EventLister, sessions SessionManager) *TimelineHandler {
	return &TimelineHandler{
		Timelines: timelines,
		Stages:    stages,
		Events:    events,
		Sessions:  sessions,
	}
}

// GetTimeline is the GET /jobs/:jobID/applications/:applicationID/timeline endpoint
func (h *TimelineHandler) GetTimeline(c *gin.Context) {
	user, ok := h.Sessions.Current()
	if !ok {
		respondError(c, session.ErrNoSession)
		return
	}
	view, err := h.Timelines.Load(c.Request.Context(), user.Role, c.Param("jobID"), c.Param("applicationID"))
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, view)
}

// ChangeStage is the POST /jobs/:jobID/applicants/:applicantID/stage endpoint
func (h *TimelineHandler) ChangeStage(c *gin.Context) {
	user, ok := h.Sessions.Current()
	if !ok {
		respondError(c, session.ErrNoSession)
		return
	}
	var req dtos.StageChangeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid JSON format: " + err.Error()})
		return
	}
	result, err := h.Stages.Submit(c.Request.Context(), services.StageChangeRequest{
		Role:          user.Role,
		ActorID:       user.ID,
		JobID:         c.Param("jobID"),
		ApplicantID:   c.Param("applicantID"),
		ApplicationID: req.ApplicationID,
		Stage:         timeline.Stage(req.Stage),
		Remarks:       req.Remarks,
		Source:        services.SourceAPI,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, result)
}

// ListApplicants is the GET /jobs/applicants endpoint
func (h *TimelineHandler) ListApplicants(c *gin.Context) {
	user, ok := h.Sessions.Current()
	if !ok {
		respondError(c, session.ErrNoSession)
		return
	}
	jobs, err := h.Timelines.Applicants(c.Request.Context(), user.Role)
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": jobs})
}

// ListEvents is the GET /events endpoint
func (h *TimelineHandler) ListEvents(c *gin.Context) {
	if _, ok := h.Sessions.Current(); !ok {
		respondError(c, session.ErrNoSession)
		return
	}
	if h.Events == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "The audit log is not enabled."})
		return
	}
	var q dtos.EventsQuery
	if err := c.ShouldBindQuery(&q); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid query: " + err.Error()})
		return
	}
	events, err := h.Events.List(c.Request.Context(), services.AuditFilter{
		JobID:       q.JobID,
		ApplicantID: q.ApplicantID,
		Source:      q.Source,
		Limit:       q.Limit,
	})
	if err != nil {
		respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"events": events})
}
