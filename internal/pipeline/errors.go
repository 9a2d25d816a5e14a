package pipeline

import (
	"errors"
	"fmt"

	"github.com/logan676/mindscribe/internal/clinical"
)

var (
	// ErrNoTranscript means the session has no transcript text to draft from.
	ErrNoTranscript = errors.New("session has no transcript")
	// ErrTranscriptNotReady means transcription has not completed yet.
	ErrTranscriptNotReady = errors.New("transcription not completed")
	// ErrGenerationInProgress is returned to the loser of a concurrent auto-note race.
	ErrGenerationInProgress = errors.New("note generation already in progress")
	// ErrNoteExists means the session already has a note, so no draft is made.
	ErrNoteExists           = errors.New("session already has a note")
	ErrQueueUnavailable     = errors.New("pipeline queue unavailable")
	ErrQueueFull            = errors.New("pipeline queue is full")
)

var errKeyReused = fmt.Errorf("%w: idempotency key already used for another session", clinical.ErrValidation)
