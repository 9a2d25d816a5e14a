package speech

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"
)

func newTestClient(srv *httptest.Server) *Client {
	c := NewClient(srv.URL, "secret", 5*time.Millisecond, 500*time.Millisecond)
	c.HTTP = srv.Client()
	return c
}

func TestUploadAndCreate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "secret" {
			t.Errorf("missing api key")
		}
		switch r.URL.Path {
		case "/v2/upload":
			b, _ := io.ReadAll(r.Body)
			if string(b) != "RIFFdata" {
				t.Errorf("unexpected upload body %q", b)
			}
			_, _ = w.Write([]byte(`{"upload_url":"https://cdn/x"}`))
		case "/v2/transcript":
			var req transcriptReq
			_ = json.NewDecoder(r.Body).Decode(&req)
			if req.AudioURL != "https://cdn/x" || !req.SpeakerLabels || !req.Punctuate || req.LanguageCode != "en" {
				t.Errorf("unexpected transcript request %+v", req)
			}
			_, _ = w.Write([]byte(`{"id":"tr_1","status":"queued"}`))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	c := newTestClient(srv)
	ref, err := c.UploadAudio(context.Background(), strings.NewReader("RIFFdata"))
	if err != nil {
		t.Fatalf("upload: %v", err)
	}
	id, err := c.CreateTranscriptJob(context.Background(), ref)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if id != "tr_1" {
		t.Fatalf("expected tr_1, got %s", id)
	}
}

func TestErrorClassification(t *testing.T) {
	cases := []struct {
		status int
		want   error
	}{
		{http.StatusInternalServerError, ErrUpstreamUnavailable},
		{http.StatusTooManyRequests, ErrUpstreamUnavailable},
		{http.StatusUnauthorized, ErrUpstreamRejected},
		{http.StatusBadRequest, ErrUpstreamRejected},
	}
	for _, tc := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(tc.status)
			_, _ = w.Write([]byte(`{"error":"nope"}`))
		}))
		_, err := newTestClient(srv).UploadAudio(context.Background(), strings.NewReader("x"))
		srv.Close()
		if !errors.Is(err, tc.want) {
			t.Fatalf("status %d: expected %v, got %v", tc.status, tc.want, err)
		}
	}
}

func TestUnreachableIsUnavailable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	c := newTestClient(srv)
	srv.Close()
	if _, err := c.CreateTranscriptJob(context.Background(), "ref"); !errors.Is(err, ErrUpstreamUnavailable) {
		t.Fatalf("expected unavailable, got %v", err)
	}
}

func TestPollUntilTerminal_Completes(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v2/transcript/tr_1" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		switch atomic.AddInt32(&calls, 1) {
		case 1:
			_, _ = w.Write([]byte(`{"id":"tr_1","status":"queued"}`))
		case 2:
			w.WriteHeader(http.StatusBadGateway)
		case 3:
			_, _ = w.Write([]byte(`{"id":"tr_1","status":"processing"}`))
		default:
			_, _ = w.Write([]byte(`{"id":"tr_1","status":"completed","utterances":[{"speaker":"A","text":"hi","start":0,"end":900,"confidence":0.9}]}`))
		}
	}))
	defer srv.Close()

	tr, err := newTestClient(srv).PollUntilTerminal(context.Background(), "tr_1")
	if err != nil {
		t.Fatalf("poll: %v", err)
	}
	if tr.Status != StatusCompleted || len(tr.Utterances) != 1 {
		t.Fatalf("unexpected transcript %+v", tr)
	}
	if atomic.LoadInt32(&calls) != 4 {
		t.Fatalf("expected 4 polls, got %d", calls)
	}
}

func TestPollUntilTerminal_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tr_1","status":"error","error":"audio too short"}`))
	}))
	defer srv.Close()

	_, err := newTestClient(srv).PollUntilTerminal(context.Background(), "tr_1")
	if !errors.Is(err, ErrTranscriptionFailed) {
		t.Fatalf("expected transcription failed, got %v", err)
	}
	var se *Error
	if !errors.As(err, &se) || se.Message != "audio too short" {
		t.Fatalf("expected provider message, got %v", err)
	}
}

func TestPollUntilTerminal_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tr_1","status":"processing"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.MaxWait = 30 * time.Millisecond
	_, err := c.PollUntilTerminal(context.Background(), "tr_1")
	if !errors.Is(err, ErrTimeout) {
		t.Fatalf("expected timeout, got %v", err)
	}
}

func TestPollUntilTerminal_ContextCancel(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"id":"tr_1","status":"queued"}`))
	}))
	defer srv.Close()

	c := newTestClient(srv)
	c.PollInterval = time.Hour
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := c.PollUntilTerminal(ctx, "tr_1"); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNormalizeUtterances(t *testing.T) {
	tr := &Transcript{Utterances: []RawUtterance{
		{Speaker: "B", Text: "Hello.", Start: 1000, End: 2500, Confidence: 0.9},
		{Speaker: "A", Text: "Hi.", Start: 2600, End: 3000, Confidence: 0.8},
		{Speaker: "C", Text: "Me too.", Start: 3100, End: 3500, Confidence: 0.7},
		{Speaker: "B", Text: "Okay.", Start: 3600, End: 4000, Confidence: 0.95},
	}}
	got := NormalizeUtterances(tr)
	want := []Role{RoleTherapist, RoleClient, RoleClient, RoleTherapist}
	if len(got) != len(want) {
		t.Fatalf("expected %d utterances, got %d", len(want), len(got))
	}
	for i, u := range got {
		if u.Role != want[i] {
			t.Fatalf("utterance %d: expected %s, got %s", i, want[i], u.Role)
		}
	}
	if got[0].Start != 1.0 || got[0].End != 2.5 {
		t.Fatalf("expected seconds, got %v-%v", got[0].Start, got[0].End)
	}

	if empty := NormalizeUtterances(&Transcript{}); empty == nil || len(empty) != 0 {
		t.Fatalf("expected empty non-nil slice, got %#v", empty)
	}
}
