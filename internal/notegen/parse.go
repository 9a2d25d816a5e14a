package notegen

import (
	"bufio"
	"encoding/json"
	"fmt"
	"strings"
)

// parseFields pulls every field of def out of a model reply. JSON wins when
// it yields anything; otherwise section headers are scanned line by line.
// Fields neither strategy finds are empty.
func parseFields(content string, def FormatDef) (map[string]string, string) {
	if out, ok := parseJSON(content, def); ok {
		return out, "json"
	}
	return parseSections(content, def), "sections"
}

func emptyFields(def FormatDef) map[string]string {
	out := make(map[string]string, len(def.Fields))
	for _, f := range def.Fields {
		out[f.Name] = ""
	}
	return out
}

func parseJSON(content string, def FormatDef) (map[string]string, bool) {
	start := strings.Index(content, "{")
	end := strings.LastIndex(content, "}")
	if start < 0 || end <= start {
		return nil, false
	}
	var raw map[string]any
	if err := json.Unmarshal([]byte(content[start:end+1]), &raw); err != nil {
		return nil, false
	}

	out := emptyFields(def)
	found := false
	for k, v := range raw {
		for _, f := range def.Fields {
			if !strings.EqualFold(strings.TrimSpace(k), f.Name) {
				continue
			}
			if s := strings.TrimSpace(stringify(v)); s != "" {
				out[f.Name] = s
				found = true
			}
		}
	}
	return out, found
}

func stringify(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case []any:
		parts := make([]string, 0, len(t))
		for _, item := range t {
			if s := strings.TrimSpace(stringify(item)); s != "" {
				parts = append(parts, s)
			}
		}
		return strings.Join(parts, "\n")
	case map[string]any:
		b, _ := json.Marshal(t)
		return string(b)
	default:
		return fmt.Sprint(t)
	}
}

func parseSections(content string, def FormatDef) map[string]string {
	out := emptyFields(def)
	sections := make(map[string][]string)
	current := ""

	sc := bufio.NewScanner(strings.NewReader(content))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		line := sc.Text()
		if field, rest, ok := matchHeader(line, def); ok {
			current = field
			if rest != "" {
				sections[current] = append(sections[current], rest)
			}
			continue
		}
		if current != "" {
			sections[current] = append(sections[current], line)
		}
	}
	for name, lines := range sections {
		out[name] = strings.TrimSpace(strings.Join(lines, "\n"))
	}
	return out
}

// matchHeader recognizes "Subjective:", "S: text", "## Plan" or "**Assessment**".
// One-letter aliases only count with a colon.
func matchHeader(line string, def FormatDef) (string, string, bool) {
	clean := strings.TrimSpace(line)
	clean = strings.TrimLeft(clean, "#*->_ \t")
	clean = strings.ReplaceAll(clean, "**", "")
	clean = strings.ReplaceAll(clean, "__", "")
	clean = strings.TrimSpace(clean)
	if clean == "" {
		return "", "", false
	}

	for _, f := range def.Fields {
		for _, alias := range f.Aliases {
			n := len(alias)
			if len(clean) > n && clean[n] == ':' && strings.EqualFold(clean[:n], alias) {
				return f.Name, strings.TrimSpace(clean[n+1:]), true
			}
			if n > 1 && strings.EqualFold(strings.TrimRight(clean, ": "), alias) {
				return f.Name, "", true
			}
		}
	}
	return "", "", false
}
