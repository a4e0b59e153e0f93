package portal

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/justsurfingit/applicant-timeline/internal/timeline"
)

// Role selects the backend route family a request is sent to.
type Role string

const (
	RoleCandidate  Role = "candidate"
	RoleEmployee   Role = "employee"
	RoleCompany    Role = "company"
	RoleSuperAdmin Role = "super-admin"
)

// ParseRole accepts the role names used across the portal.
func ParseRole(value string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "candidate", "user":
		return RoleCandidate, nil
	case "employee":
		return RoleEmployee, nil
	case "company":
		return RoleCompany, nil
	case "super-admin", "superadmin", "super_admin", "admin":
		return RoleSuperAdmin, nil
	default:
		return "", fmt.Errorf("unknown role %q", value)
	}
}

// CanChangeStage reports whether the role may move an applicant between stages.
func (r Role) CanChangeStage() bool {
	return r == RoleEmployee || r == RoleCompany || r == RoleSuperAdmin
}

// Ref is an identifier the backend sends either as a bare string or as a
// populated document.
type Ref struct {
	ID    string `json:"_id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
}

func (r *Ref) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*r = Ref{}
		return nil
	}
	if data[0] == '"' {
		var id string
		if err := json.Unmarshal(data, &id); err != nil {
			return err
		}
		*r = Ref{ID: strings.TrimSpace(id)}
		return nil
	}
	var doc struct {
		ID       string `json:"_id"`
		Name     string `json:"name"`
		FullName string `json:"fullName"`
		Email    string `json:"email"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("decode reference: %w", err)
	}
	name := doc.Name
	if name == "" {
		name = doc.FullName
	}
	*r = Ref{ID: strings.TrimSpace(doc.ID), Name: name, Email: doc.Email}
	return nil
}

// stageList accepts either a full record array or a bare stage literal.
type stageList []timeline.StageRecord

func (s *stageList) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case len(data) == 0 || bytes.Equal(data, []byte("null")):
		*s = nil
	case data[0] == '"':
		var literal string
		if err := json.Unmarshal(data, &literal); err != nil {
			return err
		}
		if strings.TrimSpace(literal) == "" {
			*s = nil
			return nil
		}
		*s = stageList{{Stage: timeline.ParseStage(literal)}}
	default:
		var raw []json.RawMessage
		if err := json.Unmarshal(data, &raw); err != nil {
			return fmt.Errorf("decode status: %w", err)
		}
		// a malformed record is dropped; the rest of the timeline still renders
		records := make([]timeline.StageRecord, 0, len(raw))
		for _, item := range raw {
			var r timeline.StageRecord
			if err := json.Unmarshal(item, &r); err != nil {
				continue
			}
			records = append(records, r)
		}
		*s = records
	}
	return nil
}

// ApplicationDetail is one job application with its stage history.
type ApplicationDetail struct {
	ApplicationID string
	Candidate     Ref
	JobID         string
	ResumeURL     string
	Records       []timeline.StageRecord
}

type rawApplication struct {
	DocID     string    `json:"_id"`
	UserID    Ref       `json:"userID"`
	JobID     Ref       `json:"jobID"`
	ResumeURL string    `json:"resumeURL"`
	Status    stageList `json:"status"`
}

// Applicant is an applicant document mapped to canonical identifiers.
type Applicant struct {
	ID            string                 `json:"id"`
	ApplicationID string                 `json:"application_id,omitempty"`
	Name          string                 `json:"name,omitempty"`
	Email         string                 `json:"email,omitempty"`
	Records       []timeline.StageRecord `json:"records"`
	Current       timeline.Stage         `json:"current_stage,omitempty"`
}

type rawApplicant struct {
	CandidateID   Ref       `json:"candidateID"`
	ApplicationID string    `json:"applicationID"`
	DocID         string    `json:"_id"`
	Name          string    `json:"name"`
	Email         string    `json:"email"`
	Status        stageList `json:"status"`
}

// JobApplicants is the applicant list of one job.
type JobApplicants struct {
	JobID      string      `json:"job_id"`
	Title      string      `json:"title,omitempty"`
	Applicants []Applicant `json:"applicants"`
}

type rawJob struct {
	ID         string         `json:"_id"`
	Title      string         `json:"title"`
	Applicants []rawApplicant `json:"applicants"`
}

// ResolveApplicantID applies the single identifier fallback chain:
// candidateID._id, candidateID, applicationID, _id.
func ResolveApplicantID(candidate Ref, applicationID, docID string) string {
	for _, id := range []string{candidate.ID, applicationID, docID} {
		if id = strings.TrimSpace(id); id != "" {
			return id
		}
	}
	return ""
}

func mapApplicant(raw rawApplicant) Applicant {
	name := raw.Name
	if name == "" {
		name = raw.CandidateID.Name
	}
	email := raw.Email
	if email == "" {
		email = raw.CandidateID.Email
	}
	applicationID := strings.TrimSpace(raw.ApplicationID)
	if applicationID == "" {
		applicationID = strings.TrimSpace(raw.DocID)
	}
	a := Applicant{
		ID:            ResolveApplicantID(raw.CandidateID, raw.ApplicationID, raw.DocID),
		ApplicationID: applicationID,
		Name:          name,
		Email:         email,
		Records:       []timeline.StageRecord(raw.Status),
	}
	if current, ok := timeline.Current(a.Records); ok {
		a.Current = timeline.ParseStage(string(current.Stage))
	}
	return a
}

func mapJob(raw rawJob) JobApplicants {
	job := JobApplicants{
		JobID:      strings.TrimSpace(raw.ID),
		Title:      raw.Title,
		Applicants: make([]Applicant, 0, len(raw.Applicants)),
	}
	for _, a := range raw.Applicants {
		job.Applicants = append(job.Applicants, mapApplicant(a))
	}
	return job
}

// Find returns the index of the applicant with the given id, or -1.
func (j *JobApplicants) Find(applicantID string) int {
	for i := range j.Applicants {
		if j.Applicants[i].ID == applicantID {
			return i
		}
	}
	return -1
}

// ApplyStage records a stage change on the in-memory list. It reports false
// when the applicant is not part of the list.
func (j *JobApplicants) ApplyStage(applicantID string, stage timeline.Stage, remarks string, at time.Time) bool {
	idx := j.Find(applicantID)
	if idx < 0 {
		return false
	}
	a := &j.Applicants[idx]
	a.Records = append(a.Records, timeline.StageRecord{Stage: stage, CreatedAt: at, Remarks: remarks})
	a.Current = stage
	return true
}

// StageChange is the write command accepted by the shortlist endpoint.
type StageChange struct {
	JobID        string         `json:"jobID"`
	ApplicantID  string         `json:"applicantID"`
	CustomStatus timeline.Stage `json:"customStatus"`
	Remarks      string         `json:"remarks"`
}
