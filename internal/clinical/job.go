package clinical

import "time"

type JobStatus string

const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
)

type JobKind string

const JobTranscribe JobKind = "transcribe"

// Job is one accepted recording travelling through the pipeline queue.
type Job struct {
	ID string `gorm:"primaryKey;size:26" json:"id"` // ULID length

	OwnerID   string  `gorm:"size:64;not null;index:uniq_owner_idempo,unique,priority:1" json:"-"`
	SessionID string  `gorm:"size:26;index;not null" json:"session_id"`
	Kind      JobKind `gorm:"type:varchar(16);not null" json:"kind"`

	IdempotencyKey *string `gorm:"type:varchar(128);index:uniq_owner_idempo,unique,priority:2" json:"-"`

	Status JobStatus `gorm:"type:varchar(16);index;not null" json:"status"`

	// Filled when failed
	Error *string `gorm:"type:text" json:"error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Job) TableName() string { return "pipeline_jobs" }
