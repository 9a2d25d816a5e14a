package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/auth"
	"github.com/logan676/mindscribe/internal/blob"
	"github.com/logan676/mindscribe/internal/clinical"
	"github.com/logan676/mindscribe/internal/clinical/clinicaltest"
	"github.com/logan676/mindscribe/internal/config"
	"github.com/logan676/mindscribe/internal/notegen"
	"github.com/logan676/mindscribe/internal/pipeline"
	"github.com/logan676/mindscribe/internal/speech"
)

type stubSpeech struct{}

func (stubSpeech) UploadAudio(_ context.Context, r io.Reader) (string, error) {
	_, err := io.Copy(io.Discard, r)
	return "ref", err
}
func (stubSpeech) CreateTranscriptJob(context.Context, string) (string, error) { return "tr", nil }
func (stubSpeech) PollUntilTerminal(context.Context, string) (*speech.Transcript, error) {
	return &speech.Transcript{Status: speech.StatusCompleted, Utterances: []speech.RawUtterance{
		{Speaker: "A", Text: "What brings you in?", Start: 0, End: 1500, Confidence: 0.9},
		{Speaker: "B", Text: "Trouble sleeping.", Start: 1600, End: 3000, Confidence: 0.9},
	}}, nil
}

type stubNotes struct{}

func (stubNotes) Generate(_ context.Context, text string, f notegen.Format, _ notegen.PatientContext) (*notegen.Result, error) {
	if strings.TrimSpace(text) == "" {
		return nil, notegen.ErrEmptyTranscript
	}
	return &notegen.Result{Format: f, Fields: map[string]string{"subjective": "sleep issues", "description": "sleep issues"}}, nil
}

type syncQueue struct {
	mu  sync.Mutex
	ids []string
}

func (q *syncQueue) PublishJob(_ context.Context, id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.ids = append(q.ids, id)
	return nil
}

type apiEnv struct {
	srv   *httptest.Server
	orch  *pipeline.Orchestrator
	queue *syncQueue
	cfg   config.Config
}

func newAPI(t *testing.T, devClinician string) *apiEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	repo := clinical.NewRepo(clinicaltest.OpenDB(t))
	svc := clinical.NewService(repo, zerolog.Nop())
	blobs, err := blob.NewStore(t.TempDir(), 1<<20)
	if err != nil {
		t.Fatal(err)
	}
	q := &syncQueue{}
	orch := pipeline.New(pipeline.Options{
		Service: svc,
		Blobs:   blobs,
		Speech:  stubSpeech{},
		Notes:   stubNotes{},
		Queue:   q,
		Log:     zerolog.Nop(),
		LockTTL: time.Minute,
	})
	cfg := config.Config{
		JWTSecret:         "test-secret",
		DevClinicianID:    devClinician,
		MaxRecordingBytes: 1 << 20,
		CORSAllowedOrigin: []string{"http://localhost:5173"},
	}
	srv := httptest.NewServer(NewRouter(cfg, zerolog.Nop(), svc, orch))
	t.Cleanup(func() {
		srv.Close()
		orch.Wait()
	})
	return &apiEnv{srv: srv, orch: orch, queue: q, cfg: cfg}
}

type envelope struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data"`
}

func (e *apiEnv) do(t *testing.T, method, path string, body any, header http.Header) (int, envelope) {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, _ := json.Marshal(body)
		r = bytes.NewReader(b)
	}
	req, _ := http.NewRequest(method, e.srv.URL+path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	for k, v := range header {
		req.Header[k] = v
	}
	return send(t, req)
}

func send(t *testing.T, req *http.Request) (int, envelope) {
	t.Helper()
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()
	var env envelope
	_ = json.NewDecoder(resp.Body).Decode(&env)
	return resp.StatusCode, env
}

func decode[T any](t *testing.T, raw json.RawMessage, key string) T {
	t.Helper()
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil {
		t.Fatalf("decode data: %v (%s)", err, raw)
	}
	var out T
	if err := json.Unmarshal(m[key], &out); err != nil {
		t.Fatalf("decode %s: %v", key, err)
	}
	return out
}

func (e *apiEnv) upload(t *testing.T, sessionID, contentType string, data []byte) (int, envelope) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="audio"; filename="session.webm"`)
	hdr.Set("Content-Type", contentType)
	part, _ := mw.CreatePart(hdr)
	_, _ = part.Write(data)
	_ = mw.Close()

	req, _ := http.NewRequest(http.MethodPost, e.srv.URL+"/api/sessions/"+sessionID+"/recording", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	return send(t, req)
}

func (e *apiEnv) createSession(t *testing.T) string {
	t.Helper()
	code, env := e.do(t, http.MethodPost, "/api/patients", map[string]any{"firstName": "Ada", "lastName": "Lovelace"}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create patient: %d %s", code, env.Message)
	}
	p := decode[clinical.Patient](t, env.Data, "patient")

	code, env = e.do(t, http.MethodPost, "/api/sessions", map[string]any{"patientId": p.ID}, nil)
	if code != http.StatusCreated {
		t.Fatalf("create session: %d %s", code, env.Message)
	}
	return decode[clinical.Session](t, env.Data, "session").ID
}

func TestPing(t *testing.T) {
	e := newAPI(t, "")
	code, env := e.do(t, http.MethodGet, "/ping", nil, nil)
	if code != http.StatusOK || env.Code != 0 {
		t.Fatalf("ping: %d %+v", code, env)
	}
}

func TestAuth(t *testing.T) {
	e := newAPI(t, "")
	if code, env := e.do(t, http.MethodGet, "/api/patients", nil, nil); code != http.StatusUnauthorized || env.Code != 40101 {
		t.Fatalf("expected 401, got %d %+v", code, env)
	}
	tok, err := auth.SignJWT("clin-7", e.cfg.JWTSecret, time.Hour)
	if err != nil {
		t.Fatal(err)
	}
	h := http.Header{"Authorization": {"Bearer " + tok}}
	if code, _ := e.do(t, http.MethodGet, "/api/patients", nil, h); code != http.StatusOK {
		t.Fatalf("expected 200 with token, got %d", code)
	}
	h = http.Header{"Authorization": {"Bearer nope"}}
	if code, _ := e.do(t, http.MethodGet, "/api/patients", nil, h); code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", code)
	}
}

func TestValidation(t *testing.T) {
	e := newAPI(t, "clin-1")
	if code, _ := e.do(t, http.MethodPost, "/api/sessions", map[string]any{"patientId": "nope"}, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed patient id, got %d", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/sessions/not-a-ulid", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for malformed path id, got %d", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/sessions/01ARZ3NDEKTSV4RRFFQ69G5FAV", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", code)
	}
	if code, _ := e.do(t, http.MethodGet, "/api/sessions?status=bogus", nil, nil); code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unknown status, got %d", code)
	}
}

func TestRecordingToSignedNote(t *testing.T) {
	e := newAPI(t, "clin-1")
	ctx := context.Background()
	sid := e.createSession(t)

	code, env := e.upload(t, sid, "text/plain", []byte("nope"))
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400 for unsupported type, got %d %s", code, env.Message)
	}

	code, env = e.upload(t, sid, "audio/webm", []byte("webm-bytes"))
	if code != http.StatusAccepted {
		t.Fatalf("upload: %d %s", code, env.Message)
	}
	job := decode[clinical.Job](t, env.Data, "job")
	if job.Status != clinical.JobQueued {
		t.Fatalf("expected queued job, got %s", job.Status)
	}

	if code, _ = e.upload(t, sid, "audio/webm", []byte("again")); code != http.StatusConflict {
		t.Fatalf("expected 409 while in flight, got %d", code)
	}

	code, env = e.do(t, http.MethodGet, "/api/transcriptions/"+sid+"/status", nil, nil)
	if code != http.StatusOK {
		t.Fatalf("status: %d", code)
	}
	var st map[string]any
	_ = json.Unmarshal(env.Data, &st)
	if st["transcription_status"] != "pending" {
		t.Fatalf("expected pending, got %v", st)
	}

	if err := e.orch.RunJob(ctx, job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}

	code, env = e.do(t, http.MethodGet, "/api/jobs/"+job.ID, nil, nil)
	if code != http.StatusOK || decode[clinical.Job](t, env.Data, "job").Status != clinical.JobSucceeded {
		t.Fatalf("job lookup: %d %s", code, env.Data)
	}

	code, env = e.do(t, http.MethodGet, "/api/transcriptions/"+sid+"/segments", nil, nil)
	segs := decode[[]clinical.TranscriptSegment](t, env.Data, "segments")
	if code != http.StatusOK || len(segs) != 2 || segs[0].Speaker != clinical.SpeakerTherapist {
		t.Fatalf("segments: %d %+v", code, segs)
	}

	code, env = e.do(t, http.MethodGet, "/api/notes?sessionId="+sid, nil, nil)
	notes := decode[[]clinical.ClinicalNote](t, env.Data, "notes")
	if code != http.StatusOK || len(notes) != 1 || notes[0].Origin != clinical.OriginAuto {
		t.Fatalf("notes: %d %+v", code, notes)
	}
	noteID := notes[0].ID

	code, env = e.do(t, http.MethodPut, "/api/notes/"+noteID, map[string]any{"subjective": "edited", "plan": "weekly"}, nil)
	if code != http.StatusOK || decode[clinical.ClinicalNote](t, env.Data, "note").Subjective != "edited" {
		t.Fatalf("update: %d %s", code, env.Message)
	}

	code, env = e.do(t, http.MethodPost, "/api/notes/"+noteID+"/sign", nil, nil)
	signed := decode[clinical.ClinicalNote](t, env.Data, "note")
	if code != http.StatusOK || signed.Status != clinical.NoteSigned || signed.SignedAt == nil {
		t.Fatalf("sign: %d %+v", code, signed)
	}
	if code, _ = e.do(t, http.MethodPut, "/api/notes/"+noteID, map[string]any{"subjective": "late"}, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 editing signed note, got %d", code)
	}
	if code, _ = e.do(t, http.MethodPost, "/api/notes/01ARZ3NDEKTSV4RRFFQ69G5FAV/sign", nil, nil); code != http.StatusNotFound {
		t.Fatalf("expected 404 signing missing note, got %d", code)
	}

	code, env = e.do(t, http.MethodPost, "/api/notes/generate", map[string]any{"sessionId": sid, "type": "dare"}, nil)
	if code != http.StatusCreated || decode[clinical.ClinicalNote](t, env.Data, "note").Origin != clinical.OriginGenerated {
		t.Fatalf("generate: %d %s", code, env.Message)
	}

	code, env = e.do(t, http.MethodGet, "/api/sessions/"+sid+"/audit", nil, nil)
	if code != http.StatusOK || len(decode[[]clinical.AuditEvent](t, env.Data, "events")) < 5 {
		t.Fatalf("audit: %d %s", code, env.Data)
	}
}

func TestGenerateWithoutTranscript(t *testing.T) {
	e := newAPI(t, "clin-1")
	sid := e.createSession(t)
	code, env := e.do(t, http.MethodPost, "/api/notes/generate", map[string]any{"sessionId": sid}, nil)
	if code != http.StatusUnprocessableEntity || env.Code != 42201 {
		t.Fatalf("expected 422, got %d %+v", code, env)
	}
}

func TestSessionsAreScopedToClinician(t *testing.T) {
	e := newAPI(t, "clin-1")
	sid := e.createSession(t)

	tok, _ := auth.SignJWT("clin-2", e.cfg.JWTSecret, time.Hour)
	h := http.Header{"Authorization": {"Bearer " + tok}}
	if code, _ := e.do(t, http.MethodGet, "/api/sessions/"+sid, nil, h); code != http.StatusNotFound {
		t.Fatalf("expected 404 for another clinician, got %d", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/api/sessions/"+sid+"/cancel", nil, nil); code != http.StatusOK {
		t.Fatalf("owner cancel: %d", code)
	}
	if code, _ := e.do(t, http.MethodPost, "/api/sessions/"+sid+"/start", nil, nil); code != http.StatusConflict {
		t.Fatalf("expected 409 starting a cancelled session, got %d", code)
	}
}

func TestManualNoteBlocksAutoNote(t *testing.T) {
	e := newAPI(t, "clin-1")
	sid := e.createSession(t)

	code, env := e.upload(t, sid, "audio/webm", []byte("webm-bytes"))
	if code != http.StatusAccepted {
		t.Fatalf("upload: %d %s", code, env.Message)
	}
	job := decode[clinical.Job](t, env.Data, "job")

	if code, env = e.do(t, http.MethodPost, "/api/notes", map[string]any{"sessionId": sid, "type": "soap", "subjective": "written by hand"}, nil); code != http.StatusCreated {
		t.Fatalf("manual note: %d %s", code, env.Message)
	}
	if err := e.orch.RunJob(context.Background(), job.ID); err != nil {
		t.Fatalf("run job: %v", err)
	}

	code, env = e.do(t, http.MethodGet, "/api/transcriptions/"+sid+"/status", nil, nil)
	var st map[string]any
	_ = json.Unmarshal(env.Data, &st)
	if code != http.StatusOK || st["transcription_status"] != "completed" || st["note_count"] != float64(1) || st["auto_note_pending"] != nil {
		t.Fatalf("status: %d %v", code, st)
	}
	e.orch.Wait()

	_, env = e.do(t, http.MethodGet, "/api/notes?sessionId="+sid, nil, nil)
	notes := decode[[]clinical.ClinicalNote](t, env.Data, "notes")
	if len(notes) != 1 || notes[0].Origin != clinical.OriginManual {
		t.Fatalf("expected only the manual note, got %+v", notes)
	}
}
