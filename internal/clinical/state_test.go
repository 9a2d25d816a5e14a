package clinical

import (
	"errors"
	"testing"
)

func TestTransition_HappyPath(t *testing.T) {
	s := State{StatusRecording, TranscriptionNone}
	steps := []struct {
		ev   Event
		want State
	}{
		{EventRecordingReceived, State{StatusProcessing, TranscriptionNone}},
		{EventTranscriptionQueued, State{StatusProcessing, TranscriptionPending}},
		{EventTranscriptionStarted, State{StatusProcessing, TranscriptionInProgress}},
		{EventTranscriptionSucceeded, State{StatusCompleted, TranscriptionCompleted}},
	}
	for _, st := range steps {
		next, err := Transition(s, st.ev)
		if err != nil {
			t.Fatalf("%s on %s: %v", st.ev, s, err)
		}
		if next != st.want {
			t.Fatalf("%s on %s: got %s want %s", st.ev, s, next, st.want)
		}
		s = next
	}
	if !s.Terminal() {
		t.Fatalf("expected completed state to be terminal")
	}
}

func TestTransition_FailureMovesStatusToFailed(t *testing.T) {
	for _, from := range []State{
		{StatusProcessing, TranscriptionNone},
		{StatusProcessing, TranscriptionPending},
		{StatusProcessing, TranscriptionInProgress},
	} {
		got, err := Transition(from, EventTranscriptionFailed)
		if err != nil {
			t.Fatalf("fail from %s: %v", from, err)
		}
		if got != (State{StatusFailed, TranscriptionFailed}) {
			t.Fatalf("fail from %s: got %s", from, got)
		}
	}
}

func TestTransition_ReuploadAfterFailure(t *testing.T) {
	got, err := Transition(State{StatusFailed, TranscriptionFailed}, EventRecordingReceived)
	if err != nil {
		t.Fatalf("re-upload: %v", err)
	}
	if got != (State{StatusProcessing, TranscriptionNone}) {
		t.Fatalf("unexpected state after re-upload: %s", got)
	}
}

func TestTransition_RejectsIllegal(t *testing.T) {
	cases := []struct {
		from State
		ev   Event
	}{
		// no regression from completed
		{State{StatusCompleted, TranscriptionCompleted}, EventTranscriptionStarted},
		{State{StatusCompleted, TranscriptionCompleted}, EventRecordingReceived},
		// failed never goes back to pending without a new upload
		{State{StatusFailed, TranscriptionFailed}, EventTranscriptionQueued},
		// no skipping ahead
		{State{StatusProcessing, TranscriptionNone}, EventTranscriptionSucceeded},
		{State{StatusProcessing, TranscriptionPending}, EventTranscriptionSucceeded},
		{State{StatusRecording, TranscriptionNone}, EventTranscriptionQueued},
		// second upload while one is in flight
		{State{StatusProcessing, TranscriptionInProgress}, EventRecordingReceived},
		{State{StatusScheduled, TranscriptionNone}, EventRecordingReceived},
		{State{StatusCancelled, TranscriptionNone}, EventStart},
	}
	for _, c := range cases {
		got, err := Transition(c.from, c.ev)
		if !errors.Is(err, ErrIllegalTransition) {
			t.Fatalf("%s on %s: expected illegal transition, got %v", c.ev, c.from, err)
		}
		if got != c.from {
			t.Fatalf("rejected transition must return the original state, got %s", got)
		}
	}
}

// Completed is only ever reached together with a completed transcription.
func TestTransition_CompletedImpliesTranscriptionCompleted(t *testing.T) {
	for k, to := range transitions {
		if to.Status == StatusCompleted && to.Transcription != TranscriptionCompleted {
			t.Fatalf("%s on %s leads to %s", k.event, k.from, to)
		}
	}
}

func TestNoteFields_ForType(t *testing.T) {
	f := NoteFields{Subjective: "s", Plan: "p", Action: "a"}
	soap := f.ForType(NoteSOAP)
	if soap.Action != "" || soap.Subjective != "s" || soap.Plan != "p" {
		t.Fatalf("unexpected soap fields: %+v", soap)
	}
	dare := f.ForType(NoteDARE)
	if dare.Subjective != "" || dare.Action != "a" {
		t.Fatalf("unexpected dare fields: %+v", dare)
	}
	if got := FromMap(NoteDARE, map[string]string{"description": "d", "plan": "x"}); got.Description != "d" || got.Plan != "" {
		t.Fatalf("unexpected map fields: %+v", got)
	}
}
