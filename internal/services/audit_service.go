package services

import (
	"context"
	"fmt"

	sq "github.com/Masterminds/squirrel"
	"gorm.io/gorm"

	"github.com/justsurfingit/applicant-timeline/internal/models"
)

const (
	defaultAuditLimit = 50
	maxAuditLimit     = 500
)

// AuditFilter narrows the audit listing. Zero values match everything.
type AuditFilter struct {
	JobID       string
	ApplicantID string
	Source      string
	Limit       int
}

// AuditService records the stage changes submitted through this service.
type AuditService struct {
	DB *gorm.DB
}

func NewAuditService(db *gorm.DB) *AuditService {
	return &AuditService{DB: db}
}

func (s *AuditService) Record(ctx context.Context, event *models.StageChangeEvent) error {
	return s.DB.WithContext(ctx).Create(event).Error
}

// List returns the newest events first.
func (s *AuditService) List(ctx context.Context, filter AuditFilter) ([]models.StageChangeEvent, error) {
	query, args, err := buildAuditQuery(filter)
	if err != nil {
		return nil, err
	}
	var events []models.StageChangeEvent
	if err := s.DB.WithContext(ctx).Raw(query, args...).Scan(&events).Error; err != nil {
		return nil, fmt.Errorf("list stage events: %w", err)
	}
	return events, nil
}

func buildAuditQuery(filter AuditFilter) (string, []any, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = defaultAuditLimit
	}
	if limit > maxAuditLimit {
		limit = maxAuditLimit
	}

	q := sq.Select("id", "created_at", "job_id", "applicant_id", "application_id", "role", "actor_id", "stage", "remarks", "source").
		From("stage_change_events").
		OrderBy("created_at DESC", "id DESC").
		Limit(uint64(limit))
	if filter.JobID != "" {
		q = q.Where(sq.Eq{"job_id": filter.JobID})
	}
	if filter.ApplicantID != "" {
		q = q.Where(sq.Eq{"applicant_id": filter.ApplicantID})
	}
	if filter.Source != "" {
		q = q.Where(sq.Eq{"source": filter.Source})
	}

	query, args, err := q.ToSql()
	if err != nil {
		return "", nil, fmt.Errorf("build stage events query: %w", err)
	}
	return query, args, nil
}
