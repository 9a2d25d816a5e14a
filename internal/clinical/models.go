package clinical

import (
	"time"

	"gorm.io/gorm"
)

type Patient struct {
	ID          string     `gorm:"primaryKey;size:26" json:"id"`
	OwnerID     string     `gorm:"size:64;index;not null" json:"-"`
	FirstName   string     `gorm:"type:varchar(100);not null" json:"first_name"`
	LastName    string     `gorm:"type:varchar(100);not null" json:"last_name"`
	DateOfBirth *time.Time `json:"date_of_birth,omitempty"`
	Email       string     `gorm:"type:varchar(255)" json:"email,omitempty"`
	Phone       string     `gorm:"type:varchar(32)" json:"phone,omitempty"`
	Notes       string     `gorm:"type:text" json:"notes,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

func (Patient) TableName() string { return "patients" }

func (p Patient) FullName() string {
	switch {
	case p.FirstName == "":
		return p.LastName
	case p.LastName == "":
		return p.FirstName
	}
	return p.FirstName + " " + p.LastName
}

type Session struct {
	ID            string     `gorm:"primaryKey;size:26" json:"id"`
	PatientID     string     `gorm:"size:26;index;not null" json:"patient_id"`
	OwnerID       string     `gorm:"size:64;index;not null" json:"-"`
	ScheduledDate *time.Time `json:"scheduled_date,omitempty"`
	StartTime     *time.Time `json:"start_time,omitempty"`
	EndTime       *time.Time `json:"end_time,omitempty"`
	// Duration is whole seconds from StartTime to EndTime.
	Duration int `gorm:"not null;default:0" json:"duration"`

	Status              Status              `gorm:"type:varchar(16);index;not null" json:"status"`
	TranscriptionStatus TranscriptionStatus `gorm:"type:varchar(16);index;not null;default:''" json:"transcription_status"`

	RecordingPath        string  `gorm:"type:varchar(512)" json:"-"`
	RecordingContentType string  `gorm:"type:varchar(64)" json:"recording_content_type,omitempty"`
	RecordingSize        int64   `json:"recording_size,omitempty"`
	RecordingChecksum    string  `gorm:"type:varchar(64)" json:"recording_checksum,omitempty"`
	ProviderTranscriptID *string `gorm:"type:varchar(128)" json:"provider_transcript_id,omitempty"`
	TranscriptionError   *string `gorm:"type:text" json:"transcription_error,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

func (Session) TableName() string { return "sessions" }

func (s Session) State() State {
	return State{Status: s.Status, Transcription: s.TranscriptionStatus}
}

type Speaker string

const (
	SpeakerTherapist Speaker = "therapist"
	SpeakerClient    Speaker = "client"
)

// TranscriptSegment is one speaker turn. Rows are never updated.
type TranscriptSegment struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	SessionID  string    `gorm:"size:26;not null;uniqueIndex:uniq_segment_seq,priority:1" json:"session_id"`
	Seq        int       `gorm:"not null;uniqueIndex:uniq_segment_seq,priority:2" json:"seq"`
	Speaker    Speaker   `gorm:"type:varchar(16);not null" json:"speaker"`
	Text       string    `gorm:"type:text;not null" json:"text"`
	StartTime  float64   `gorm:"not null" json:"start_time"`
	EndTime    float64   `gorm:"not null" json:"end_time"`
	Confidence float64   `gorm:"not null;default:0" json:"confidence"`
	CreatedAt  time.Time `json:"created_at"`
}

func (TranscriptSegment) TableName() string { return "transcript_segments" }

type AuditEvent struct {
	ID         uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	ActorID    string    `gorm:"size:64;index;not null" json:"actor_id"`
	Action     string    `gorm:"type:varchar(64);not null" json:"action"`
	EntityType string    `gorm:"type:varchar(32);not null;index:idx_audit_entity,priority:1" json:"entity_type"`
	EntityID   string    `gorm:"size:26;not null;index:idx_audit_entity,priority:2" json:"entity_id"`
	Detail     string    `gorm:"type:text" json:"detail,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}

func (AuditEvent) TableName() string { return "audit_events" }

// Migrate creates or updates every table the service uses.
func Migrate(db *gorm.DB) error {
	return db.AutoMigrate(
		&Patient{},
		&Session{},
		&TranscriptSegment{},
		&ClinicalNote{},
		&Job{},
		&AuditEvent{},
	)
}
