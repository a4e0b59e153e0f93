package models

import (
	"time"
)

// MailboxState is the Gmail sync bookmark of the watched recruiter mailbox.
type MailboxState struct {
	ID        uint      `gorm:"primaryKey" json:"id"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Email         string `gorm:"uniqueIndex;not null" json:"email"`
	LastHistoryID uint64 `json:"last_history_id"`
}

// StageChangeEvent is the local audit trail of stage changes this service
// submitted. The backend's own timeline stays the source of truth.
type StageChangeEvent struct {
	ID            uint      `gorm:"primaryKey" json:"id"`
	CreatedAt     time.Time `gorm:"index" json:"created_at"`
	JobID         string    `gorm:"index;not null" json:"job_id"`
	ApplicantID   string    `gorm:"index;not null" json:"applicant_id"`
	ApplicationID string    `json:"application_id,omitempty"`
	Role          string    `json:"role"`
	ActorID       string    `json:"actor_id,omitempty"`
	Stage         string    `gorm:"not null" json:"stage"`
	Remarks       string    `gorm:"type:text" json:"remarks,omitempty"`
	Source        string    `gorm:"default:'api'" json:"source"`
}

// ProcessedEmail dedups mail across sync cycles. Done is set once the email
// was handled or deliberately skipped; until then Attempts counts failures.
type ProcessedEmail struct {
	ID        string `gorm:"primaryKey"`
	CreatedAt time.Time
	Attempts  int  `gorm:"not null;default:0"`
	Done      bool `gorm:"not null;default:false;index"`
}
