package clinical

import "fmt"

type Status string

const (
	StatusScheduled  Status = "scheduled"
	StatusRecording  Status = "recording"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusFailed     Status = "failed"
	StatusCancelled  Status = "cancelled"
)

func (s Status) Valid() bool {
	switch s {
	case StatusScheduled, StatusRecording, StatusProcessing, StatusCompleted, StatusFailed, StatusCancelled:
		return true
	}
	return false
}

type TranscriptionStatus string

const (
	TranscriptionNone       TranscriptionStatus = ""
	TranscriptionPending    TranscriptionStatus = "pending"
	TranscriptionInProgress TranscriptionStatus = "in_progress"
	TranscriptionCompleted  TranscriptionStatus = "completed"
	TranscriptionFailed     TranscriptionStatus = "failed"
)

// State is the composite lifecycle position of a session.
type State struct {
	Status        Status
	Transcription TranscriptionStatus
}

func (s State) String() string {
	t := string(s.Transcription)
	if t == "" {
		t = "none"
	}
	return string(s.Status) + "/" + t
}

// Terminal reports whether no further pipeline event applies without a new upload.
func (s State) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusCancelled || s.Status == StatusFailed
}

// InFlight reports whether a recording has been accepted and not yet resolved.
func (s State) InFlight() bool {
	return s.Status == StatusProcessing
}

type Event string

const (
	EventStart                  Event = "start"
	EventCancel                 Event = "cancel"
	EventRecordingReceived      Event = "recording_received"
	EventTranscriptionQueued    Event = "transcription_queued"
	EventTranscriptionStarted   Event = "transcription_started"
	EventTranscriptionSucceeded Event = "transcription_succeeded"
	EventTranscriptionFailed    Event = "transcription_failed"
)

type transitionKey struct {
	from  State
	event Event
}

var transitions = map[transitionKey]State{
	{State{StatusScheduled, TranscriptionNone}, EventStart}:  {StatusRecording, TranscriptionNone},
	{State{StatusScheduled, TranscriptionNone}, EventCancel}: {StatusCancelled, TranscriptionNone},
	{State{StatusRecording, TranscriptionNone}, EventCancel}: {StatusCancelled, TranscriptionNone},

	{State{StatusRecording, TranscriptionNone}, EventRecordingReceived}: {StatusProcessing, TranscriptionNone},
	// re-upload after a failed attempt
	{State{StatusFailed, TranscriptionFailed}, EventRecordingReceived}: {StatusProcessing, TranscriptionNone},

	{State{StatusProcessing, TranscriptionNone}, EventTranscriptionQueued}:          {StatusProcessing, TranscriptionPending},
	{State{StatusProcessing, TranscriptionPending}, EventTranscriptionStarted}:      {StatusProcessing, TranscriptionInProgress},
	{State{StatusProcessing, TranscriptionInProgress}, EventTranscriptionSucceeded}: {StatusCompleted, TranscriptionCompleted},

	{State{StatusProcessing, TranscriptionNone}, EventTranscriptionFailed}:       {StatusFailed, TranscriptionFailed},
	{State{StatusProcessing, TranscriptionPending}, EventTranscriptionFailed}:    {StatusFailed, TranscriptionFailed},
	{State{StatusProcessing, TranscriptionInProgress}, EventTranscriptionFailed}: {StatusFailed, TranscriptionFailed},
}

// Transition is the only place session states are derived.
func Transition(from State, ev Event) (State, error) {
	to, ok := transitions[transitionKey{from, ev}]
	if !ok {
		return from, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, ev, from)
	}
	return to, nil
}
