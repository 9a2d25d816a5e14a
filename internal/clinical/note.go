package clinical

import (
	"fmt"
	"time"
)

type NoteType string

const (
	NoteSOAP NoteType = "soap"
	NoteDARE NoteType = "dare"
)

func (t NoteType) Valid() bool {
	return t == NoteSOAP || t == NoteDARE
}

// FieldNames lists the four sections a note of this type carries, in order.
func (t NoteType) FieldNames() []string {
	switch t {
	case NoteSOAP:
		return []string{"subjective", "objective", "assessment", "plan"}
	case NoteDARE:
		return []string{"description", "action", "response", "evaluation"}
	}
	return nil
}

type NoteStatus string

const (
	NoteDraft  NoteStatus = "draft"
	NoteFinal  NoteStatus = "final"
	NoteSigned NoteStatus = "signed"
)

type NoteOrigin string

const (
	OriginAuto      NoteOrigin = "auto"
	OriginManual    NoteOrigin = "manual"
	OriginGenerated NoteOrigin = "generated"
)

type NoteFields struct {
	Subjective  string `gorm:"type:text" json:"subjective"`
	Objective   string `gorm:"type:text" json:"objective"`
	Assessment  string `gorm:"type:text" json:"assessment"`
	Plan        string `gorm:"type:text" json:"plan"`
	Description string `gorm:"type:text" json:"description"`
	Action      string `gorm:"type:text" json:"action"`
	Response    string `gorm:"type:text" json:"response"`
	Evaluation  string `gorm:"type:text" json:"evaluation"`
}

func (f *NoteFields) ptr(name string) *string {
	switch name {
	case "subjective":
		return &f.Subjective
	case "objective":
		return &f.Objective
	case "assessment":
		return &f.Assessment
	case "plan":
		return &f.Plan
	case "description":
		return &f.Description
	case "action":
		return &f.Action
	case "response":
		return &f.Response
	case "evaluation":
		return &f.Evaluation
	}
	return nil
}

func (f NoteFields) Get(name string) string {
	if p := f.ptr(name); p != nil {
		return *p
	}
	return ""
}

func (f *NoteFields) Set(name, value string) bool {
	p := f.ptr(name)
	if p == nil {
		return false
	}
	*p = value
	return true
}

// ForType keeps only the sections belonging to t.
func (f NoteFields) ForType(t NoteType) NoteFields {
	var out NoteFields
	for _, name := range t.FieldNames() {
		out.Set(name, f.Get(name))
	}
	return out
}

// FromMap builds fields for t from a name->text map, ignoring foreign keys.
func FromMap(t NoteType, m map[string]string) NoteFields {
	var out NoteFields
	for _, name := range t.FieldNames() {
		out.Set(name, m[name])
	}
	return out
}

type ClinicalNote struct {
	ID        string     `gorm:"primaryKey;size:26" json:"id"`
	SessionID string     `gorm:"size:26;index;not null" json:"session_id"`
	AuthorID  string     `gorm:"size:64;index;not null" json:"author_id"`
	Type      NoteType   `gorm:"type:varchar(8);not null" json:"type"`
	Status    NoteStatus `gorm:"type:varchar(16);index;not null" json:"status"`
	Origin    NoteOrigin `gorm:"type:varchar(16);not null" json:"origin"`
	// AutoKey is "<session>:<type>" for pipeline-generated notes, nil otherwise.
	AutoKey *string `gorm:"type:varchar(64);uniqueIndex:uniq_note_auto_key" json:"-"`

	NoteFields `gorm:"embedded"`

	SignedAt  *time.Time `json:"signed_at,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
	UpdatedAt time.Time  `json:"updated_at"`
}

func (ClinicalNote) TableName() string { return "clinical_notes" }

func AutoNoteKey(sessionID string, t NoteType) string {
	return sessionID + ":" + string(t)
}

// advance checks the draft -> final -> signed ordering.
func (n *ClinicalNote) advance(to NoteStatus) error {
	switch {
	case to == NoteFinal && n.Status == NoteDraft:
	case to == NoteSigned && (n.Status == NoteDraft || n.Status == NoteFinal):
	default:
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, n.Status, to)
	}
	return nil
}
