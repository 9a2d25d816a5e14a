// Package speech is the client for the batch transcription provider.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultBaseURL      = "https://api.assemblyai.com"
	DefaultPollInterval = 3 * time.Second
	DefaultMaxWait      = 30 * time.Minute
)

// Provider job statuses.
const (
	StatusQueued     = "queued"
	StatusProcessing = "processing"
	StatusCompleted  = "completed"
	StatusError      = "error"
)

type Client struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	MaxWait      time.Duration
	HTTP         *http.Client
}

func NewClient(baseURL, apiKey string, pollInterval, maxWait time.Duration) *Client {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if maxWait <= 0 {
		maxWait = DefaultMaxWait
	}
	return &Client{
		BaseURL:      strings.TrimRight(baseURL, "/"),
		APIKey:       apiKey,
		PollInterval: pollInterval,
		MaxWait:      maxWait,
		// Uploads of long sessions are slow; per-call deadlines come from ctx.
		HTTP: &http.Client{Timeout: 10 * time.Minute},
	}
}

// Word and Utterance mirror the provider payload. Times are milliseconds.
type Word struct {
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	Speaker    string  `json:"speaker"`
}

type RawUtterance struct {
	Speaker    string  `json:"speaker"`
	Text       string  `json:"text"`
	Start      int64   `json:"start"`
	End        int64   `json:"end"`
	Confidence float64 `json:"confidence"`
	Words      []Word  `json:"words,omitempty"`
}

type Transcript struct {
	ID         string         `json:"id"`
	Status     string         `json:"status"`
	Text       string         `json:"text"`
	Error      string         `json:"error,omitempty"`
	Utterances []RawUtterance `json:"utterances"`
	Confidence float64        `json:"confidence"`
	// AudioDuration is in seconds.
	AudioDuration float64 `json:"audio_duration"`
}

type uploadResp struct {
	UploadURL string `json:"upload_url"`
}

type transcriptReq struct {
	AudioURL      string `json:"audio_url"`
	SpeakerLabels bool   `json:"speaker_labels"`
	Punctuate     bool   `json:"punctuate"`
	LanguageCode  string `json:"language_code"`
}

// UploadAudio pushes raw audio and returns the provider's reference to it.
func (c *Client) UploadAudio(ctx context.Context, audio io.Reader) (string, error) {
	var out uploadResp
	if err := c.do(ctx, "upload", http.MethodPost, "/v2/upload", "application/octet-stream", audio, &out); err != nil {
		return "", err
	}
	if out.UploadURL == "" {
		return "", rejected("upload", 0, "missing upload_url")
	}
	return out.UploadURL, nil
}

// CreateTranscriptJob starts diarized English transcription of audioRef.
func (c *Client) CreateTranscriptJob(ctx context.Context, audioRef string) (string, error) {
	b, err := json.Marshal(transcriptReq{
		AudioURL:      audioRef,
		SpeakerLabels: true,
		Punctuate:     true,
		LanguageCode:  "en",
	})
	if err != nil {
		return "", err
	}
	var out Transcript
	if err := c.do(ctx, "create transcript", http.MethodPost, "/v2/transcript", "application/json", bytes.NewReader(b), &out); err != nil {
		return "", err
	}
	if out.ID == "" {
		return "", rejected("create transcript", 0, "missing transcript id")
	}
	return out.ID, nil
}

func (c *Client) GetTranscript(ctx context.Context, jobID string) (*Transcript, error) {
	var out Transcript
	if err := c.do(ctx, "get transcript", http.MethodGet, "/v2/transcript/"+url.PathEscape(jobID), "", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// PollUntilTerminal checks the job every PollInterval until it completes,
// fails, MaxWait passes or ctx ends. Transient fetch errors are retried
// within the same budget.
func (c *Client) PollUntilTerminal(ctx context.Context, jobID string) (*Transcript, error) {
	deadline := time.Now().Add(c.MaxWait)
	ticker := time.NewTicker(c.PollInterval)
	defer ticker.Stop()

	var lastErr error
	for {
		t, err := c.GetTranscript(ctx, jobID)
		switch {
		case err == nil:
			switch t.Status {
			case StatusCompleted:
				return t, nil
			case StatusError:
				return nil, &Error{Kind: KindTranscriptionFailed, Op: "poll", Message: t.Error}
			case StatusQueued, StatusProcessing:
			default:
				return nil, rejected("poll", 0, fmt.Sprintf("unknown status %q", t.Status))
			}
			lastErr = nil
		case errors.Is(err, ErrUpstreamUnavailable) && ctx.Err() == nil:
			lastErr = err
		default:
			return nil, err
		}

		if !time.Now().Before(deadline) {
			return nil, &Error{Kind: KindTimeout, Op: "poll", Message: fmt.Sprintf("job %s not done after %s", jobID, c.MaxWait), Err: lastErr}
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

func (c *Client) do(ctx context.Context, op, method, path, contentType string, body io.Reader, out any) error {
	if c.HTTP == nil {
		return errors.New("speech: http client is nil")
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, body)
	if err != nil {
		return err
	}
	req.Header.Set("Authorization", c.APIKey)
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.HTTP.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return unavailable(op, 0, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4*1024))
		msg := strings.TrimSpace(string(raw))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return unavailable(op, resp.StatusCode, errors.New(msg))
		}
		return rejected(op, resp.StatusCode, msg)
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return rejected(op, resp.StatusCode, "malformed response: "+err.Error())
	}
	return nil
}
