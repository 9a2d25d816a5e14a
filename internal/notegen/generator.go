// Package notegen drafts structured clinical notes from session transcripts.
package notegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/logan676/mindscribe/internal/ai"
)

const (
	DefaultTemperature = 0.3
	DefaultMaxTokens   = 2000
)

type PatientContext struct {
	Name string
}

// Result holds one value per field of the requested format, keyed by field name.
type Result struct {
	Format Format
	Fields map[string]string
}

type Generator struct {
	provider ai.Provider
	prompts  *Prompts
	opts     ai.ChatOptions
	log      zerolog.Logger
}

func NewGenerator(provider ai.Provider, prompts *Prompts, opts ai.ChatOptions, log zerolog.Logger) *Generator {
	if opts.Temperature == nil {
		opts.Temperature = ai.Float(DefaultTemperature)
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	return &Generator{provider: provider, prompts: prompts, opts: opts, log: log}
}

func (g *Generator) Generate(ctx context.Context, transcript string, format Format, pc PatientContext) (*Result, error) {
	def, ok := g.prompts.Formats[format]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
	if strings.TrimSpace(transcript) == "" {
		return nil, ErrEmptyTranscript
	}

	name := strings.TrimSpace(pc.Name)
	if name == "" {
		name = "Unknown"
	}
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: def.System},
		{Role: ai.RoleUser, Content: fmt.Sprintf("Patient: %s\n\nSession transcript:\n%s", name, transcript)},
	}

	content, err := g.provider.Chat(ctx, messages, g.opts)
	if err != nil {
		return nil, &Error{ProviderMessage: err.Error(), Err: err}
	}
	if strings.TrimSpace(content) == "" {
		return nil, &Error{ProviderMessage: "provider returned no content"}
	}

	fields, strategy := parseFields(content, def)
	g.log.Debug().
		Str("format", string(format)).
		Str("parser", strategy).
		Int("reply_len", len(content)).
		Msg("note draft parsed")
	return &Result{Format: format, Fields: fields}, nil
}
