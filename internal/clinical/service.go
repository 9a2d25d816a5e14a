package clinical

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/common"
)

// Service is the request/response side of the store: ownership checks,
// input validation and audit events. Every call names the acting clinician.
type Service struct {
	repo *Repo
	log  zerolog.Logger
	now  func() time.Time
}

func NewService(repo *Repo, log zerolog.Logger) *Service {
	return &Service{repo: repo, log: log, now: time.Now}
}

func (s *Service) Repo() *Repo { return s.repo }

// Audit records an event. Failures are logged, never returned.
func (s *Service) Audit(ctx context.Context, actorID, action, entityType, entityID, detail string) {
	ev := &AuditEvent{
		ActorID:    actorID,
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Detail:     detail,
	}
	if err := s.repo.RecordAudit(ctx, ev); err != nil {
		s.log.Warn().Err(err).Str("action", action).Str("entity_id", entityID).Msg("audit write failed")
	}
}

type PatientInput struct {
	FirstName   string
	LastName    string
	DateOfBirth *time.Time
	Email       string
	Phone       string
	Notes       string
}

func (in PatientInput) validate() error {
	if strings.TrimSpace(in.FirstName) == "" || strings.TrimSpace(in.LastName) == "" {
		return fmt.Errorf("%w: first and last name required", ErrValidation)
	}
	return nil
}

func (in PatientInput) apply(p *Patient) {
	p.FirstName = strings.TrimSpace(in.FirstName)
	p.LastName = strings.TrimSpace(in.LastName)
	p.DateOfBirth = in.DateOfBirth
	p.Email = strings.TrimSpace(in.Email)
	p.Phone = strings.TrimSpace(in.Phone)
	p.Notes = in.Notes
}

func (s *Service) CreatePatient(ctx context.Context, clinicianID string, in PatientInput) (*Patient, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	p := &Patient{ID: id, OwnerID: clinicianID}
	in.apply(p)
	if err := s.repo.CreatePatient(ctx, p); err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "patient.create", "patient", p.ID, "")
	return p, nil
}

func (s *Service) GetPatient(ctx context.Context, clinicianID, id string) (*Patient, error) {
	return s.repo.GetPatient(ctx, clinicianID, id)
}

func (s *Service) ListPatients(ctx context.Context, clinicianID string) ([]Patient, error) {
	return s.repo.ListPatients(ctx, clinicianID)
}

func (s *Service) UpdatePatient(ctx context.Context, clinicianID, id string, in PatientInput) (*Patient, error) {
	if err := in.validate(); err != nil {
		return nil, err
	}
	p, err := s.repo.GetPatient(ctx, clinicianID, id)
	if err != nil {
		return nil, err
	}
	in.apply(p)
	if err := s.repo.SavePatient(ctx, p); err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "patient.update", "patient", p.ID, "")
	return p, nil
}

// CreateSession opens a session for one of the clinician's patients. A
// scheduled date in the future creates it as scheduled; otherwise it starts
// recording now.
func (s *Service) CreateSession(ctx context.Context, clinicianID, patientID string, scheduledDate *time.Time) (*Session, error) {
	if strings.TrimSpace(patientID) == "" {
		return nil, fmt.Errorf("%w: patient_id required", ErrValidation)
	}
	if _, err := s.repo.GetPatient(ctx, clinicianID, patientID); err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}

	now := s.now()
	sess := &Session{
		ID:            id,
		PatientID:     patientID,
		OwnerID:       clinicianID,
		ScheduledDate: scheduledDate,
		Status:        StatusRecording,
		StartTime:     &now,
	}
	if scheduledDate != nil && scheduledDate.After(now) {
		sess.Status = StatusScheduled
		sess.StartTime = nil
	}
	if err := s.repo.CreateSession(ctx, sess); err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "session.create", "session", sess.ID, string(sess.Status))
	return sess, nil
}

func (s *Service) GetSession(ctx context.Context, clinicianID, id string) (*Session, error) {
	return s.repo.GetOwnedSession(ctx, clinicianID, id)
}

func (s *Service) ListSessions(ctx context.Context, clinicianID string, f SessionFilter) ([]Session, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrValidation, f.Status)
	}
	return s.repo.ListSessions(ctx, clinicianID, f)
}

// StartSession moves a scheduled session to recording and stamps start_time.
func (s *Service) StartSession(ctx context.Context, clinicianID, id string) (*Session, error) {
	sess, err := s.repo.GetOwnedSession(ctx, clinicianID, id)
	if err != nil {
		return nil, err
	}
	now := s.now()
	if _, err := s.repo.ApplyEvent(ctx, id, sess.State(), EventStart, map[string]any{"start_time": now}); err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "session.start", "session", id, "")
	return s.repo.GetSession(ctx, id)
}

func (s *Service) CancelSession(ctx context.Context, clinicianID, id string) (*Session, error) {
	sess, err := s.repo.GetOwnedSession(ctx, clinicianID, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.ApplyEvent(ctx, id, sess.State(), EventCancel, nil); err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "session.cancel", "session", id, "")
	return s.repo.GetSession(ctx, id)
}

func (s *Service) ListSegments(ctx context.Context, clinicianID, sessionID string) ([]TranscriptSegment, error) {
	if _, err := s.repo.GetOwnedSession(ctx, clinicianID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListSegments(ctx, sessionID)
}

func (s *Service) ListAudit(ctx context.Context, clinicianID, sessionID string) ([]AuditEvent, error) {
	if _, err := s.repo.GetOwnedSession(ctx, clinicianID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListAudit(ctx, "session", sessionID)
}

type NoteInput struct {
	SessionID string
	Type      NoteType
	Fields    NoteFields
}

// CreateNote stores a clinician-written draft.
func (s *Service) CreateNote(ctx context.Context, clinicianID string, in NoteInput) (*ClinicalNote, error) {
	if strings.TrimSpace(in.SessionID) == "" {
		return nil, fmt.Errorf("%w: session_id required", ErrValidation)
	}
	if !in.Type.Valid() {
		return nil, fmt.Errorf("%w: note type must be soap or dare", ErrValidation)
	}
	if _, err := s.repo.GetOwnedSession(ctx, clinicianID, in.SessionID); err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	n := &ClinicalNote{
		ID:         id,
		SessionID:  in.SessionID,
		AuthorID:   clinicianID,
		Type:       in.Type,
		Status:     NoteDraft,
		Origin:     OriginManual,
		NoteFields: in.Fields.ForType(in.Type),
	}
	if err := s.repo.CreateNote(ctx, n); err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "note.create", "session", in.SessionID, n.ID)
	return n, nil
}

// GetNote hides notes whose session belongs to another clinician.
func (s *Service) GetNote(ctx context.Context, clinicianID, id string) (*ClinicalNote, error) {
	n, err := s.repo.GetNote(ctx, id)
	if err != nil {
		return nil, err
	}
	if _, err := s.repo.GetOwnedSession(ctx, clinicianID, n.SessionID); err != nil {
		return nil, err
	}
	return n, nil
}

func (s *Service) ListNotes(ctx context.Context, clinicianID, sessionID string) ([]ClinicalNote, error) {
	if _, err := s.repo.GetOwnedSession(ctx, clinicianID, sessionID); err != nil {
		return nil, err
	}
	return s.repo.ListNotes(ctx, sessionID)
}

func (s *Service) UpdateNote(ctx context.Context, clinicianID, id string, f NoteFields) (*ClinicalNote, error) {
	n, err := s.GetNote(ctx, clinicianID, id)
	if err != nil {
		return nil, err
	}
	updated, err := s.repo.UpdateNoteFields(ctx, id, f)
	if err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, "note.update", "session", n.SessionID, id)
	return updated, nil
}

func (s *Service) FinalizeNote(ctx context.Context, clinicianID, id string) (*ClinicalNote, error) {
	return s.advance(ctx, clinicianID, id, NoteFinal, "note.finalize")
}

// SignNote is terminal: signed notes cannot be edited or re-signed.
func (s *Service) SignNote(ctx context.Context, clinicianID, id string) (*ClinicalNote, error) {
	return s.advance(ctx, clinicianID, id, NoteSigned, "note.sign")
}

func (s *Service) advance(ctx context.Context, clinicianID, id string, to NoteStatus, action string) (*ClinicalNote, error) {
	n, err := s.GetNote(ctx, clinicianID, id)
	if err != nil {
		return nil, err
	}
	out, err := s.repo.AdvanceNote(ctx, id, to, s.now())
	if err != nil {
		return nil, err
	}
	s.Audit(ctx, clinicianID, action, "session", n.SessionID, id)
	return out, nil
}
