package notegen

import (
	_ "embed"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

//go:embed prompts.yaml
var defaultPrompts []byte

type Format string

const (
	FormatSOAP Format = "soap"
	FormatDARE Format = "dare"
)

type FieldDef struct {
	Name    string   `yaml:"name"`
	Aliases []string `yaml:"aliases"`
}

type FormatDef struct {
	System string     `yaml:"system"`
	Fields []FieldDef `yaml:"fields"`
}

func (f FormatDef) fieldNames() []string {
	out := make([]string, 0, len(f.Fields))
	for _, fs := range f.Fields {
		out = append(out, fs.Name)
	}
	return out
}

type Prompts struct {
	Formats map[Format]FormatDef `yaml:"formats"`
}

// LoadPrompts reads path, or the built-in prompts when path is empty.
func LoadPrompts(path string) (*Prompts, error) {
	raw := defaultPrompts
	if strings.TrimSpace(path) != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read prompts: %w", err)
		}
		raw = b
	}
	return ParsePrompts(raw)
}

func ParsePrompts(raw []byte) (*Prompts, error) {
	var p Prompts
	if err := yaml.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("parse prompts: %w", err)
	}
	for _, f := range []Format{FormatSOAP, FormatDARE} {
		def, ok := p.Formats[f]
		if !ok {
			return nil, fmt.Errorf("prompts: format %q missing", f)
		}
		if strings.TrimSpace(def.System) == "" || len(def.Fields) == 0 {
			return nil, fmt.Errorf("prompts: format %q needs a system prompt and fields", f)
		}
		for _, fs := range def.Fields {
			if fs.Name == "" || len(fs.Aliases) == 0 {
				return nil, fmt.Errorf("prompts: format %q has a field without name or aliases", f)
			}
		}
	}
	return &p, nil
}
