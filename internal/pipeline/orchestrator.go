// Package pipeline drives a session from uploaded recording to transcript
// and draft note.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/blob"
	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/common"
	"github.com/logan676/mindscribe/internal/metrics"
	"github.com/logan676/mindscribe/internal/notegen"
	"github.com/logan676/mindscribe/internal/speech"
	"github.com/logan676/mindscribe/internal/store/redisstore"
)

type Transcriber interface {
	UploadAudio(ctx context.Context, audio io.Reader) (string, error)
	CreateTranscriptJob(ctx context.Context, audioRef string) (string, error)
	PollUntilTerminal(ctx context.Context, jobID string) (*speech.Transcript, error)
}

type NoteGenerator interface {
	Generate(ctx context.Context, transcript string, format notegen.Format, pc notegen.PatientContext) (*notegen.Result, error)
}

type BlobStore interface {
	Put(name, contentType string, r io.Reader) (*blob.Object, error)
	Open(path string) (io.ReadCloser, error)
	Remove(path string) error
}

type Options struct {
	Service *clinical.Service
	Blobs   BlobStore
	Speech  Transcriber
	Notes   NoteGenerator
	Locker  redisstore.Locker
	Queue   Queue
	Log     zerolog.Logger

	// LockTTL bounds how long one auto-note generation may hold its lock.
	LockTTL time.Duration

	// PublishWait bounds how long an upload waits for queue capacity.
	PublishWait time.Duration
}

type Orchestrator struct {
	svc     *clinical.Service
	repo    *clinical.Repo
	blobs   BlobStore
	speech  Transcriber
	notes   NoteGenerator
	locker  redisstore.Locker
	queue   Queue
	log     zerolog.Logger
	lockTTL time.Duration
	now     func() time.Time

	publishWait time.Duration

	bg sync.WaitGroup
}

func New(o Options) *Orchestrator {
	if o.Locker == nil {
		o.Locker = redisstore.NewLocalLocker()
	}
	if o.LockTTL <= 0 {
		o.LockTTL = 5 * time.Minute
	}
	if o.PublishWait <= 0 {
		o.PublishWait = 5 * time.Second
	}
	return &Orchestrator{
		svc:     o.Service,
		repo:    o.Service.Repo(),
		blobs:   o.Blobs,
		speech:  o.Speech,
		notes:   o.Notes,
		locker:  o.Locker,
		queue:   o.Queue,
		log:     o.Log.With().Str("component", "pipeline").Logger(),
		lockTTL: o.LockTTL,
		now:     time.Now,

		publishWait: o.PublishWait,
	}
}

// Recording is an uploaded audio file.
type Recording struct {
	ContentType string
	Body        io.Reader
}

// AcceptRecording stores the audio, moves the session to processing/pending
// and queues a transcription job. It returns as soon as the job is queued.
// A repeated idempotency key returns the job created the first time.
func (o *Orchestrator) AcceptRecording(ctx context.Context, clinicianID, sessionID string, rec Recording, idempotencyKey string) (*clinical.Job, error) {
	idempotencyKey = strings.TrimSpace(idempotencyKey)
	if idempotencyKey != "" {
		if j, err := o.repo.GetJobByOwnerAndIdempotencyKey(ctx, clinicianID, idempotencyKey); err == nil {
			if j.SessionID != sessionID {
				return nil, errKeyReused
			}
			return j, nil
		} else if !errors.Is(err, clinical.ErrNotFound) {
			return nil, err
		}
	}

	sess, err := o.svc.GetSession(ctx, clinicianID, sessionID)
	if err != nil {
		return nil, err
	}
	from := sess.State()
	if _, err := clinical.Transition(from, clinical.EventRecordingReceived); err != nil {
		return nil, err
	}
	ct, err := blob.NormalizeContentType(rec.ContentType)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", clinical.ErrValidation, err)
	}

	blobName, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	t0 := time.Now()
	obj, err := o.blobs.Put(sessionID+"-"+blobName, ct, rec.Body)
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) || errors.Is(err, blob.ErrEmpty) || errors.Is(err, blob.ErrUnsupportedType) {
			return nil, fmt.Errorf("%w: %w", clinical.ErrValidation, err)
		}
		return nil, fmt.Errorf("store recording: %w", err)
	}
	metrics.StageDuration.WithLabelValues("store").Observe(time.Since(t0).Seconds())

	state, err := o.repo.ApplyEvent(ctx, sessionID, from, clinical.EventRecordingReceived, map[string]any{
		"recording_path":         obj.Path,
		"recording_content_type": obj.ContentType,
		"recording_size":         obj.Size,
		"recording_checksum":     obj.Checksum,
		"provider_transcript_id": nil,
		"transcription_error":    nil,
	})
	if err != nil {
		_ = o.blobs.Remove(obj.Path)
		return nil, err
	}
	if sess.RecordingPath != "" && sess.RecordingPath != obj.Path {
		if err := o.blobs.Remove(sess.RecordingPath); err != nil {
			o.log.Warn().Err(err).Str("session_id", sessionID).Msg("remove previous recording")
		}
	}

	jobID, err := common.NewULID()
	if err != nil {
		return nil, o.failTranscription(ctx, sessionID, state, err)
	}
	job := &clinical.Job{
		ID:        jobID,
		OwnerID:   clinicianID,
		SessionID: sessionID,
		Kind:      clinical.JobTranscribe,
		Status:    clinical.JobQueued,
	}
	if idempotencyKey != "" {
		job.IdempotencyKey = &idempotencyKey
	}
	job, _, err = o.repo.CreateJobOrGetExisting(ctx, job)
	if err != nil {
		return nil, o.failTranscription(ctx, sessionID, state, fmt.Errorf("create job: %w", err))
	}
	if job.SessionID != sessionID {
		// lost a race with the same key on another session
		return nil, o.failTranscription(ctx, sessionID, state, errKeyReused)
	}

	state, err = o.repo.ApplyEvent(ctx, sessionID, state, clinical.EventTranscriptionQueued, nil)
	if err != nil {
		return nil, err
	}

	pctx, cancel := context.WithTimeout(ctx, o.publishWait)
	err = o.queue.PublishJob(pctx, job.ID)
	cancel()
	switch {
	case errors.Is(err, ErrQueueFull):
		// The job stays queued; the requeue sweep delivers it once workers free up.
		o.log.Warn().Str("session_id", sessionID).Str("job_id", job.ID).Msg("queue full, job left for requeue")
	case err != nil:
		_ = o.repo.MarkJobFailed(context.WithoutCancel(ctx), job.ID, err.Error())
		return nil, o.failTranscription(ctx, sessionID, state, fmt.Errorf("%w: %w", ErrQueueUnavailable, err))
	}

	o.svc.Audit(ctx, clinicianID, "session.recording_upload", "session", sessionID, obj.Checksum)
	metrics.RecordingsAccepted.Inc()
	metrics.RecordingBytes.Observe(float64(obj.Size))
	o.log.Info().
		Str("session_id", sessionID).
		Str("job_id", job.ID).
		Int64("bytes", obj.Size).
		Str("content_type", obj.ContentType).
		Msg("recording accepted")
	return job, nil
}

// RunJob claims a queued job and runs its transcription. Redelivered or
// already-claimed jobs are skipped without error.
func (o *Orchestrator) RunJob(ctx context.Context, jobID string) error {
	claimed, err := o.repo.UpdateJobStatusRunning(ctx, jobID)
	if err != nil {
		return err
	}
	job, err := o.repo.GetJobByID(ctx, jobID)
	if err != nil {
		return err
	}
	if !claimed {
		o.log.Info().Str("job_id", jobID).Str("status", string(job.Status)).Msg("job not claimable, skipping")
		return nil
	}

	metrics.JobsInFlight.Inc()
	defer metrics.JobsInFlight.Dec()

	start := time.Now()
	runErr := o.RunTranscription(ctx, job.SessionID)

	// Bookkeeping must land even if the run was cancelled.
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if runErr != nil {
		if err := o.repo.MarkJobFailed(bctx, jobID, runErr.Error()); err != nil {
			o.log.Error().Err(err).Str("job_id", jobID).Msg("mark job failed")
		}
		o.log.Warn().Err(runErr).Str("job_id", jobID).Str("session_id", job.SessionID).Dur("cost", time.Since(start)).Msg("transcription job failed")
		return runErr
	}
	if err := o.repo.MarkJobSucceeded(bctx, jobID); err != nil {
		return err
	}
	o.log.Info().Str("job_id", jobID).Str("session_id", job.SessionID).Dur("cost", time.Since(start)).Msg("transcription job done")
	return nil
}

// RunTranscription sends the stored recording to the speech provider, waits
// for the result and persists the segments together with the completed
// state. Any failure moves the session to failed/failed with the message.
// A draft note is attempted afterwards; its outcome never changes the session.
func (o *Orchestrator) RunTranscription(ctx context.Context, sessionID string) error {
	sess, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return err
	}
	state := sess.State()
	if state != (clinical.State{Status: clinical.StatusProcessing, Transcription: clinical.TranscriptionPending}) {
		return fmt.Errorf("%w: session is %s", clinical.ErrIllegalTransition, state)
	}
	log := o.log.With().Str("session_id", sessionID).Logger()
	started := time.Now()

	// Stays pending until the provider holds the audio.
	rc, err := o.blobs.Open(sess.RecordingPath)
	if err != nil {
		return o.failTranscription(ctx, sessionID, state, fmt.Errorf("open recording: %w", err))
	}
	t0 := time.Now()
	ref, err := o.speech.UploadAudio(ctx, rc)
	_ = rc.Close()
	if err != nil {
		return o.failTranscription(ctx, sessionID, state, err)
	}
	metrics.StageDuration.WithLabelValues("upload").Observe(time.Since(t0).Seconds())

	state, err = o.repo.ApplyEvent(ctx, sessionID, state, clinical.EventTranscriptionStarted, nil)
	if err != nil {
		return err
	}

	providerID, err := o.speech.CreateTranscriptJob(ctx, ref)
	if err != nil {
		return o.failTranscription(ctx, sessionID, state, err)
	}
	if err := o.repo.SetProviderTranscriptID(ctx, sessionID, providerID); err != nil {
		log.Warn().Err(err).Str("provider_id", providerID).Msg("record provider transcript id")
	}
	log.Info().Str("provider_id", providerID).Msg("transcription submitted")

	t1 := time.Now()
	tr, err := o.speech.PollUntilTerminal(ctx, providerID)
	if err != nil {
		return o.failTranscription(ctx, sessionID, state, err)
	}
	metrics.StageDuration.WithLabelValues("transcribe").Observe(time.Since(t1).Seconds())

	segments := segmentsFrom(speech.NormalizeUtterances(tr))
	endTime := o.now()

	t2 := time.Now()
	if _, err := o.repo.CompleteTranscription(ctx, sessionID, segments, endTime); err != nil {
		return o.failTranscription(ctx, sessionID, state, fmt.Errorf("persist transcript: %w", err))
	}
	metrics.StageDuration.WithLabelValues("persist").Observe(time.Since(t2).Seconds())
	metrics.TranscriptSegments.Observe(float64(len(segments)))
	metrics.PipelineRuns.WithLabelValues("succeeded").Inc()
	o.svc.Audit(ctx, sess.OwnerID, "transcription.completed", "session", sessionID, fmt.Sprintf("%d segments", len(segments)))
	log.Info().Int("segments", len(segments)).Float64("audio_seconds", tr.AudioDuration).Dur("cost", time.Since(started)).Msg("transcription completed")

	if _, err := o.EnsureAutoNote(ctx, sessionID); err != nil {
		switch {
		case errors.Is(err, ErrNoTranscript):
			log.Info().Msg("no speech detected, skipping draft note")
		case errors.Is(err, ErrNoteExists):
			log.Info().Msg("session already has a note, skipping draft note")
		case errors.Is(err, ErrGenerationInProgress):
			log.Debug().Msg("draft note already being generated")
		default:
			log.Warn().Err(err).Msg("draft note generation failed")
		}
	}
	return nil
}

func (o *Orchestrator) failTranscription(ctx context.Context, sessionID string, from clinical.State, cause error) error {
	bctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	msg := cause.Error()
	if _, err := o.repo.ApplyEvent(bctx, sessionID, from, clinical.EventTranscriptionFailed, map[string]any{
		"transcription_error": msg,
	}); err != nil {
		o.log.Error().Err(err).Str("session_id", sessionID).Str("cause", msg).Msg("record transcription failure")
	}

	metrics.PipelineRuns.WithLabelValues("failed").Inc()
	metrics.Errors.WithLabelValues("transcription", errorType(cause)).Inc()
	if sess, err := o.repo.GetSession(bctx, sessionID); err == nil {
		o.svc.Audit(bctx, sess.OwnerID, "transcription.failed", "session", sessionID, msg)
	}
	return cause
}

func errorType(err error) string {
	var se *speech.Error
	switch {
	case errors.As(err, &se):
		return strings.ReplaceAll(se.Kind.String(), " ", "_")
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "cancelled"
	case errors.Is(err, ErrQueueUnavailable):
		return "queue"
	}
	return "internal"
}

// EnsureAutoNote returns the session's automatic SOAP draft, generating it
// when the session has no note at all. Sessions that already carry a manual
// or generated note get ErrNoteExists. Concurrent callers produce at most one
// note; a caller that loses the race gets the winner's note or
// ErrGenerationInProgress.
func (o *Orchestrator) EnsureAutoNote(ctx context.Context, sessionID string) (*clinical.ClinicalNote, error) {
	sess, err := o.repo.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if sess.TranscriptionStatus != clinical.TranscriptionCompleted {
		return nil, ErrTranscriptNotReady
	}
	key := clinical.AutoNoteKey(sessionID, clinical.NoteSOAP)
	if n, err := o.repo.GetNoteByAutoKey(ctx, key); err == nil {
		return n, nil
	} else if !errors.Is(err, clinical.ErrNotFound) {
		return nil, err
	}
	if err := o.ensureNoNotes(ctx, sessionID); err != nil {
		return nil, err
	}

	segments, err := o.repo.ListSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	text := TranscriptText(segments)
	if text == "" {
		return nil, ErrNoTranscript
	}

	token, ok, err := o.locker.TryLock(ctx, "autonote:"+key, o.lockTTL)
	if err != nil {
		return nil, fmt.Errorf("auto note lock: %w", err)
	}
	if !ok {
		if n, err := o.repo.GetNoteByAutoKey(ctx, key); err == nil {
			return n, nil
		}
		return nil, ErrGenerationInProgress
	}
	defer func() {
		if err := o.locker.Unlock(context.WithoutCancel(ctx), "autonote:"+key, token); err != nil {
			o.log.Warn().Err(err).Str("key", key).Msg("release auto note lock")
		}
	}()

	// The previous holder may have finished between our read and the lock.
	if n, err := o.repo.GetNoteByAutoKey(ctx, key); err == nil {
		return n, nil
	}
	if err := o.ensureNoNotes(ctx, sessionID); err != nil {
		return nil, err
	}

	fields, err := o.draft(ctx, sess, text, clinical.NoteSOAP, "auto")
	if err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	note := &clinical.ClinicalNote{
		ID:         id,
		SessionID:  sessionID,
		AuthorID:   sess.OwnerID,
		Type:       clinical.NoteSOAP,
		Status:     clinical.NoteDraft,
		Origin:     clinical.OriginAuto,
		AutoKey:    &key,
		NoteFields: fields,
	}
	saved, created, err := o.repo.CreateNoteIfAbsent(ctx, note)
	if err != nil {
		return nil, err
	}
	if created {
		o.svc.Audit(ctx, sess.OwnerID, "note.auto_generate", "session", sessionID, saved.ID)
		o.log.Info().Str("session_id", sessionID).Str("note_id", saved.ID).Msg("draft note created")
	}
	return saved, nil
}

func (o *Orchestrator) ensureNoNotes(ctx context.Context, sessionID string) error {
	n, err := o.repo.CountNotes(ctx, sessionID)
	if err != nil {
		return err
	}
	if n > 0 {
		return ErrNoteExists
	}
	return nil
}

// KickAutoNote runs EnsureAutoNote in the background for sessions that
// completed without a draft, for example after a generation failure.
func (o *Orchestrator) KickAutoNote(sessionID string) {
	o.bg.Add(1)
	go func() {
		defer o.bg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), o.lockTTL)
		defer cancel()
		if _, err := o.EnsureAutoNote(ctx, sessionID); err != nil &&
			!errors.Is(err, ErrGenerationInProgress) && !errors.Is(err, ErrNoTranscript) && !errors.Is(err, ErrNoteExists) {
			o.log.Warn().Err(err).Str("session_id", sessionID).Msg("background draft note failed")
		}
	}()
}

// Wait blocks until background work started by KickAutoNote has finished.
func (o *Orchestrator) Wait() {
	o.bg.Wait()
}

// GenerateNote drafts a new note of type t on clinician request. Every call
// creates a new draft; nothing is retried.
func (o *Orchestrator) GenerateNote(ctx context.Context, clinicianID, sessionID string, t clinical.NoteType) (*clinical.ClinicalNote, error) {
	if !t.Valid() {
		return nil, fmt.Errorf("%w: note type must be soap or dare", clinical.ErrValidation)
	}
	sess, err := o.svc.GetSession(ctx, clinicianID, sessionID)
	if err != nil {
		return nil, err
	}
	segments, err := o.repo.ListSegments(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	fields, err := o.draft(ctx, sess, TranscriptText(segments), t, "manual")
	if err != nil {
		return nil, err
	}
	id, err := common.NewULID()
	if err != nil {
		return nil, err
	}
	note := &clinical.ClinicalNote{
		ID:         id,
		SessionID:  sessionID,
		AuthorID:   clinicianID,
		Type:       t,
		Status:     clinical.NoteDraft,
		Origin:     clinical.OriginGenerated,
		NoteFields: fields,
	}
	if err := o.repo.CreateNote(ctx, note); err != nil {
		return nil, err
	}
	o.svc.Audit(ctx, clinicianID, "note.generate", "session", sessionID, note.ID)
	return note, nil
}

func (o *Orchestrator) draft(ctx context.Context, sess *clinical.Session, text string, t clinical.NoteType, trigger string) (clinical.NoteFields, error) {
	var pc notegen.PatientContext
	if p, err := o.repo.GetPatient(ctx, sess.OwnerID, sess.PatientID); err == nil {
		pc.Name = p.FullName()
	}

	t0 := time.Now()
	res, err := o.notes.Generate(ctx, text, notegen.Format(t), pc)
	metrics.StageDuration.WithLabelValues("note").Observe(time.Since(t0).Seconds())
	if err != nil {
		outcome := "failed"
		if errors.Is(err, notegen.ErrEmptyTranscript) {
			outcome = "empty"
		}
		metrics.NoteGenerations.WithLabelValues(trigger, outcome).Inc()
		return clinical.NoteFields{}, err
	}
	metrics.NoteGenerations.WithLabelValues(trigger, "succeeded").Inc()
	return clinical.FromMap(t, res.Fields), nil
}

// RequeueStale republishes jobs still queued after olderThan, such as those
// accepted while the local queue was full. Already claimed jobs are skipped
// by RunJob, so a duplicate delivery is harmless.
func (o *Orchestrator) RequeueStale(ctx context.Context, olderThan time.Duration) (int, error) {
	jobs, err := o.repo.ListJobsQueuedBefore(ctx, o.now().Add(-olderThan), 100)
	if err != nil {
		return 0, err
	}
	return o.publishAll(ctx, jobs)
}

// RequeuePending republishes jobs left queued by a previous process.
func (o *Orchestrator) RequeuePending(ctx context.Context) (int, error) {
	jobs, err := o.repo.ListJobsByStatus(ctx, clinical.JobQueued, 500)
	if err != nil {
		return 0, err
	}
	return o.publishAll(ctx, jobs)
}

func (o *Orchestrator) publishAll(ctx context.Context, jobs []clinical.Job) (int, error) {
	n := 0
	for _, j := range jobs {
		if err := o.queue.PublishJob(ctx, j.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}
