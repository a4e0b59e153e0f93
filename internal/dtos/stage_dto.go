package dtos

type StageChangeRequest struct {
	Stage   string `json:"stage" binding:"required"`
	Remarks string `json:"remarks"`

	// Optional: lets the response carry the re-read timeline
	ApplicationID string `json:"application_id"`
}

type LoginRequest struct {
	Token string `json:"token" binding:"required"`
	Role  string `json:"role" binding:"required"`

	// Optional Fields
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// SessionResponse never echoes the token back.
type SessionResponse struct {
	ID    string `json:"id,omitempty"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Role  string `json:"role"`
}

type EventsQuery struct {
	JobID       string `form:"job_id"`
	ApplicantID string `form:"applicant_id"`
	Source      string `form:"source"`
	Limit       int    `form:"limit" binding:"omitempty,min=1,max=500"`
}
