package notegen

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/ai"
)

type fakeProvider struct {
	reply string
	err   error
	calls int
	last  []ai.Message
	opts  ai.ChatOptions
}

func (f *fakeProvider) Chat(_ context.Context, messages []ai.Message, opts ai.ChatOptions) (string, error) {
	f.calls++
	f.last = messages
	f.opts = opts
	return f.reply, f.err
}

func newGen(t *testing.T, p ai.Provider) *Generator {
	t.Helper()
	prompts, err := LoadPrompts("")
	if err != nil {
		t.Fatalf("load prompts: %v", err)
	}
	return NewGenerator(p, prompts, ai.ChatOptions{}, zerolog.Nop())
}

func TestGenerate_JSON(t *testing.T) {
	p := &fakeProvider{reply: "Here you go:\n```json\n{\"subjective\":\"Feels anxious.\",\"objective\":\"Restless.\",\"assessment\":\"GAD symptoms.\",\"plan\":[\"CBT\",\"Breathing\"]}\n```"}
	res, err := newGen(t, p).Generate(context.Background(), "Therapist: Hi\nClient: Hello", FormatSOAP, PatientContext{Name: "Ada Lovelace"})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Fields["subjective"] != "Feels anxious." || res.Fields["plan"] != "CBT\nBreathing" {
		t.Fatalf("unexpected fields: %v", res.Fields)
	}
	if p.opts.Temperature == nil || *p.opts.Temperature != 0.3 || p.opts.MaxTokens != 2000 {
		t.Fatalf("unexpected options: %+v", p.opts)
	}
	if len(p.last) != 2 || p.last[0].Role != ai.RoleSystem || !strings.Contains(p.last[1].Content, "Ada Lovelace") || !strings.Contains(p.last[1].Content, "Client: Hello") {
		t.Fatalf("unexpected prompt: %+v", p.last)
	}
}

func TestGenerate_SectionFallback(t *testing.T) {
	reply := `**Subjective:** Client reports poor sleep.
More detail here.

## Objective
Flat affect.

A: Depressive symptoms persisting.
`
	res, err := newGen(t, &fakeProvider{reply: reply}).Generate(context.Background(), "Client: I can't sleep", FormatSOAP, PatientContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if res.Fields["subjective"] != "Client reports poor sleep.\nMore detail here." {
		t.Fatalf("subjective: %q", res.Fields["subjective"])
	}
	if res.Fields["objective"] != "Flat affect." {
		t.Fatalf("objective: %q", res.Fields["objective"])
	}
	if res.Fields["assessment"] != "Depressive symptoms persisting." {
		t.Fatalf("assessment: %q", res.Fields["assessment"])
	}
	if v, ok := res.Fields["plan"]; !ok || v != "" {
		t.Fatalf("expected empty plan present, got %q (present=%v)", v, ok)
	}
}

func TestGenerate_DARE(t *testing.T) {
	reply := `{"description":"d","action":"a","response":"r","evaluation":"e","plan":"not a dare field"}`
	res, err := newGen(t, &fakeProvider{reply: reply}).Generate(context.Background(), "x", FormatDARE, PatientContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if len(res.Fields) != 4 || res.Fields["evaluation"] != "e" {
		t.Fatalf("unexpected fields: %v", res.Fields)
	}
}

func TestGenerate_UnparseableLeavesFieldsEmpty(t *testing.T) {
	res, err := newGen(t, &fakeProvider{reply: "I cannot help with that."}).Generate(context.Background(), "x", FormatSOAP, PatientContext{})
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	for k, v := range res.Fields {
		if v != "" {
			t.Fatalf("expected %s empty, got %q", k, v)
		}
	}
}

func TestGenerate_EmptyTranscriptSkipsProvider(t *testing.T) {
	p := &fakeProvider{reply: "{}"}
	_, err := newGen(t, p).Generate(context.Background(), "  \n", FormatSOAP, PatientContext{})
	if !errors.Is(err, ErrEmptyTranscript) {
		t.Fatalf("expected empty transcript, got %v", err)
	}
	if p.calls != 0 {
		t.Fatalf("provider must not be called, got %d calls", p.calls)
	}
}

func TestGenerate_ProviderFailures(t *testing.T) {
	_, err := newGen(t, &fakeProvider{err: errors.New("503 overloaded")}).Generate(context.Background(), "x", FormatSOAP, PatientContext{})
	var ge *Error
	if !errors.Is(err, ErrGenerationFailed) || !errors.As(err, &ge) || ge.ProviderMessage != "503 overloaded" {
		t.Fatalf("expected generation failure with provider message, got %v", err)
	}

	_, err = newGen(t, &fakeProvider{reply: "   "}).Generate(context.Background(), "x", FormatSOAP, PatientContext{})
	if !errors.Is(err, ErrGenerationFailed) {
		t.Fatalf("expected generation failure on blank reply, got %v", err)
	}
}

func TestGenerate_UnknownFormat(t *testing.T) {
	_, err := newGen(t, &fakeProvider{}).Generate(context.Background(), "x", Format("birp"), PatientContext{})
	if !errors.Is(err, ErrUnknownFormat) {
		t.Fatalf("expected unknown format, got %v", err)
	}
}

func TestLoadPrompts_Override(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "prompts.yaml")
	body := `formats:
  soap:
    system: custom soap
    fields:
      - {name: subjective, aliases: [subjective]}
  dare:
    system: custom dare
    fields:
      - {name: description, aliases: [description]}
`
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	p, err := LoadPrompts(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if p.Formats[FormatSOAP].System != "custom soap" {
		t.Fatalf("override not applied: %+v", p.Formats[FormatSOAP])
	}

	if _, err := ParsePrompts([]byte("formats:\n  soap:\n    system: x\n")); err == nil {
		t.Fatal("expected error for incomplete prompts")
	}
}

func TestGenerate_ZeroTemperatureIsKept(t *testing.T) {
	prompts, err := LoadPrompts("")
	if err != nil {
		t.Fatal(err)
	}
	p := &fakeProvider{reply: `{"subjective":"s"}`}
	g := NewGenerator(p, prompts, ai.ChatOptions{Temperature: ai.Float(0)}, zerolog.Nop())
	if _, err := g.Generate(context.Background(), "Client: hi", FormatSOAP, PatientContext{}); err != nil {
		t.Fatalf("generate: %v", err)
	}
	if p.opts.Temperature == nil || *p.opts.Temperature != 0 {
		t.Fatalf("expected temperature 0 to reach the provider, got %v", p.opts.Temperature)
	}
}
