package clinical

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type Repo struct {
	db *gorm.DB
}

func NewRepo(db *gorm.DB) *Repo {
	return &Repo{db: db}
}

func notFound(err error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrNotFound
	}
	return err
}

// Patients

func (r *Repo) CreatePatient(ctx context.Context, p *Patient) error {
	return r.db.WithContext(ctx).Create(p).Error
}

func (r *Repo) GetPatient(ctx context.Context, ownerID, id string) (*Patient, error) {
	var p Patient
	if err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&p).Error; err != nil {
		return nil, notFound(err)
	}
	return &p, nil
}

func (r *Repo) ListPatients(ctx context.Context, ownerID string) ([]Patient, error) {
	var out []Patient
	if err := r.db.WithContext(ctx).
		Where("owner_id = ?", ownerID).
		Order("last_name ASC, first_name ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) SavePatient(ctx context.Context, p *Patient) error {
	return r.db.WithContext(ctx).Save(p).Error
}

// Sessions

func (r *Repo) CreateSession(ctx context.Context, s *Session) error {
	return r.db.WithContext(ctx).Create(s).Error
}

// GetSession loads a session without an owner check; pipeline use only.
func (r *Repo) GetSession(ctx context.Context, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).First(&s, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

func (r *Repo) GetOwnedSession(ctx context.Context, ownerID, id string) (*Session, error) {
	var s Session
	if err := r.db.WithContext(ctx).
		Where("id = ? AND owner_id = ?", id, ownerID).
		First(&s).Error; err != nil {
		return nil, notFound(err)
	}
	return &s, nil
}

type SessionFilter struct {
	PatientID string
	Status    Status
	Limit     int
}

// ListSessions returns the owner's sessions, newest first.
func (r *Repo) ListSessions(ctx context.Context, ownerID string, f SessionFilter) ([]Session, error) {
	q := r.db.WithContext(ctx).Where("owner_id = ?", ownerID)
	if f.PatientID != "" {
		q = q.Where("patient_id = ?", f.PatientID)
	}
	if f.Status != "" {
		q = q.Where("status = ?", f.Status)
	}
	if f.Limit <= 0 || f.Limit > 200 {
		f.Limit = 50
	}
	var out []Session
	if err := q.Order("id DESC").Limit(f.Limit).Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ApplyEvent moves a session from `from` through ev, writing extra columns
// alongside the state. The update only lands if the row is still in `from`.
func (r *Repo) ApplyEvent(ctx context.Context, sessionID string, from State, ev Event, extra map[string]any) (State, error) {
	return applyEvent(r.db.WithContext(ctx), sessionID, from, ev, extra)
}

func applyEvent(tx *gorm.DB, sessionID string, from State, ev Event, extra map[string]any) (State, error) {
	to, err := Transition(from, ev)
	if err != nil {
		return from, err
	}

	updates := map[string]any{
		"status":               to.Status,
		"transcription_status": to.Transcription,
	}
	for k, v := range extra {
		updates[k] = v
	}

	res := tx.Model(&Session{}).
		Where("id = ? AND status = ? AND transcription_status = ?", sessionID, from.Status, from.Transcription).
		Updates(updates)
	if res.Error != nil {
		return from, res.Error
	}
	if res.RowsAffected == 0 {
		var n int64
		if err := tx.Model(&Session{}).Where("id = ?", sessionID).Count(&n).Error; err != nil {
			return from, err
		}
		if n == 0 {
			return from, ErrNotFound
		}
		return from, ErrStateConflict
	}
	return to, nil
}

// CompleteTranscription replaces the session's segments and flips it to
// completed in one transaction. Replaying it for the same session is safe.
func (r *Repo) CompleteTranscription(ctx context.Context, sessionID string, segments []TranscriptSegment, endTime time.Time) (*Session, error) {
	var out Session
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s Session
		if err := tx.First(&s, "id = ?", sessionID).Error; err != nil {
			return notFound(err)
		}

		if err := tx.Where("session_id = ?", sessionID).Delete(&TranscriptSegment{}).Error; err != nil {
			return err
		}
		if len(segments) > 0 {
			for i := range segments {
				segments[i].ID = 0
				segments[i].SessionID = sessionID
				segments[i].Seq = i
			}
			if err := tx.CreateInBatches(&segments, 200).Error; err != nil {
				return err
			}
		}

		duration := 0
		if s.StartTime != nil {
			if d := endTime.Sub(*s.StartTime); d > 0 {
				duration = int(d / time.Second)
			}
		}
		to, err := applyEvent(tx, sessionID, s.State(), EventTranscriptionSucceeded, map[string]any{
			"end_time":            endTime,
			"duration":            duration,
			"transcription_error": nil,
		})
		if err != nil {
			return err
		}

		s.Status, s.TranscriptionStatus = to.Status, to.Transcription
		s.EndTime = &endTime
		s.Duration = duration
		s.TranscriptionError = nil
		out = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &out, nil
}

// SetProviderTranscriptID records the provider's job id for a running transcription.
func (r *Repo) SetProviderTranscriptID(ctx context.Context, sessionID, providerID string) error {
	return r.db.WithContext(ctx).Model(&Session{}).
		Where("id = ?", sessionID).
		Update("provider_transcript_id", providerID).Error
}

// ListSegments returns segments in transcript order.
func (r *Repo) ListSegments(ctx context.Context, sessionID string) ([]TranscriptSegment, error) {
	var out []TranscriptSegment
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("start_time ASC, seq ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// Notes

func (r *Repo) CreateNote(ctx context.Context, n *ClinicalNote) error {
	return r.db.WithContext(ctx).Create(n).Error
}

// CreateNoteIfAbsent inserts n unless a note with the same AutoKey exists,
// in which case the existing note is returned with created=false.
func (r *Repo) CreateNoteIfAbsent(ctx context.Context, n *ClinicalNote) (*ClinicalNote, bool, error) {
	if n.AutoKey == nil || *n.AutoKey == "" {
		return nil, false, errors.New("create note if absent: auto key required")
	}
	res := r.db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "auto_key"}}, DoNothing: true}).
		Create(n)
	if res.Error != nil {
		return nil, false, res.Error
	}
	if res.RowsAffected == 1 {
		return n, true, nil
	}
	existing, err := r.GetNoteByAutoKey(ctx, *n.AutoKey)
	if err != nil {
		return nil, false, err
	}
	return existing, false, nil
}

func (r *Repo) GetNoteByAutoKey(ctx context.Context, key string) (*ClinicalNote, error) {
	var n ClinicalNote
	if err := r.db.WithContext(ctx).First(&n, "auto_key = ?", key).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (r *Repo) GetNote(ctx context.Context, id string) (*ClinicalNote, error) {
	var n ClinicalNote
	if err := r.db.WithContext(ctx).First(&n, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &n, nil
}

func (r *Repo) ListNotes(ctx context.Context, sessionID string) ([]ClinicalNote, error) {
	var out []ClinicalNote
	if err := r.db.WithContext(ctx).
		Where("session_id = ?", sessionID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) CountNotes(ctx context.Context, sessionID string) (int64, error) {
	var n int64
	err := r.db.WithContext(ctx).Model(&ClinicalNote{}).Where("session_id = ?", sessionID).Count(&n).Error
	return n, err
}

// UpdateNoteFields overwrites the sections of a draft note.
func (r *Repo) UpdateNoteFields(ctx context.Context, id string, f NoteFields) (*ClinicalNote, error) {
	var out *ClinicalNote
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n ClinicalNote
		if err := tx.First(&n, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if n.Status != NoteDraft {
			return ErrNoteLocked
		}
		f = f.ForType(n.Type)
		updates := make(map[string]any, 8)
		for _, name := range append(NoteSOAP.FieldNames(), NoteDARE.FieldNames()...) {
			updates[name] = f.Get(name)
		}
		res := tx.Model(&ClinicalNote{}).
			Where("id = ? AND status = ?", id, NoteDraft).
			Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrNoteLocked
		}
		n.NoteFields = f
		out = &n
		return nil
	})
	return out, err
}

// AdvanceNote moves a note to `to` (final or signed). Signing stamps signed_at.
func (r *Repo) AdvanceNote(ctx context.Context, id string, to NoteStatus, now time.Time) (*ClinicalNote, error) {
	var out *ClinicalNote
	err := r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n ClinicalNote
		if err := tx.First(&n, "id = ?", id).Error; err != nil {
			return notFound(err)
		}
		if err := n.advance(to); err != nil {
			return err
		}
		updates := map[string]any{"status": to}
		if to == NoteSigned {
			updates["signed_at"] = now
		}
		res := tx.Model(&ClinicalNote{}).Where("id = ? AND status = ?", id, n.Status).Updates(updates)
		if res.Error != nil {
			return res.Error
		}
		if res.RowsAffected == 0 {
			return ErrIllegalTransition
		}
		n.Status = to
		if to == NoteSigned {
			n.SignedAt = &now
		}
		out = &n
		return nil
	})
	return out, err
}

// Job CRUD
func (r *Repo) CreateJob(ctx context.Context, job *Job) error {
	return r.db.WithContext(ctx).Create(job).Error
}

func (r *Repo) GetJobByID(ctx context.Context, id string) (*Job, error) {
	var j Job
	if err := r.db.WithContext(ctx).First(&j, "id = ?", id).Error; err != nil {
		return nil, notFound(err)
	}
	return &j, nil
}

// UpdateJobStatusRunning claims a queued job. claimed=false means another
// worker already has it or it is finished.
func (r *Repo) UpdateJobStatusRunning(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ? AND status = ?", id, JobQueued).
		Update("status", JobRunning)
	return res.RowsAffected == 1, res.Error
}

func (r *Repo) MarkJobSucceeded(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobSucceeded,
			"error":  nil,
		}).Error
}

func (r *Repo) MarkJobFailed(ctx context.Context, id string, errMsg string) error {
	return r.db.WithContext(ctx).Model(&Job{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"status": JobFailed,
			"error":  errMsg,
		}).Error
}

// ListJobsByStatus returns up to limit jobs in status, oldest first.
func (r *Repo) ListJobsByStatus(ctx context.Context, status JobStatus, limit int) ([]Job, error) {
	var out []Job
	if err := r.db.WithContext(ctx).
		Where("status = ?", status).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

// ListJobsQueuedBefore returns queued jobs last touched before t, oldest first.
func (r *Repo) ListJobsQueuedBefore(ctx context.Context, t time.Time, limit int) ([]Job, error) {
	var out []Job
	if err := r.db.WithContext(ctx).
		Where("status = ? AND updated_at < ?", JobQueued, t).
		Order("id ASC").
		Limit(limit).
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}

func (r *Repo) GetJobByOwnerAndIdempotencyKey(ctx context.Context, ownerID, key string) (*Job, error) {
	var job Job
	err := r.db.WithContext(ctx).
		Where("owner_id = ? AND idempotency_key = ?", ownerID, key).
		First(&job).Error
	if err != nil {
		return nil, notFound(err)
	}
	return &job, nil
}

// CreateJobOrGetExisting tries to create a job, but if (owner_id, idempotency_key)
// already exists, it returns the existing job instead.
func (r *Repo) CreateJobOrGetExisting(ctx context.Context, job *Job) (*Job, bool, error) {
	if job.IdempotencyKey == nil || *job.IdempotencyKey == "" {
		job.IdempotencyKey = nil
		if err := r.db.WithContext(ctx).Create(job).Error; err != nil {
			return nil, false, err
		}
		return job, true, nil
	}

	err := r.db.WithContext(ctx).Create(job).Error
	if err == nil {
		return job, true, nil
	}

	existing, getErr := r.GetJobByOwnerAndIdempotencyKey(ctx, job.OwnerID, *job.IdempotencyKey)
	if getErr == nil {
		return existing, false, nil
	}
	if errors.Is(getErr, ErrNotFound) {
		return nil, false, err
	}
	return nil, false, getErr
}

// Audit

func (r *Repo) RecordAudit(ctx context.Context, ev *AuditEvent) error {
	return r.db.WithContext(ctx).Create(ev).Error
}

func (r *Repo) ListAudit(ctx context.Context, entityType, entityID string) ([]AuditEvent, error) {
	var out []AuditEvent
	if err := r.db.WithContext(ctx).
		Where("entity_type = ? AND entity_id = ?", entityType, entityID).
		Order("id ASC").
		Find(&out).Error; err != nil {
		return nil, err
	}
	return out, nil
}
