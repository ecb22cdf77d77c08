package gemini

import (
	"strings"
	"unicode/utf8"
)

const (
	maxUserInstructionRunes = 500
	defaultTone             = "Friendly"
	noneValue               = "none"
)

// PromptOverrides are user-supplied hints merged into the match prompt.
type PromptOverrides struct {
	ExtraCriteria     string
	DealBreakers      string
	CustomKeywords    string
	Tone              string
	RegionConstraints string
	UserInstructions  string
}

var bracketReplacer = strings.NewReplacer("[", "(", "]", ")")

// sanitizeLine flattens s to one line so it cannot open a new prompt section.
func sanitizeLine(s string) string {
	s = bracketReplacer.Replace(s)
	return strings.Join(strings.Fields(s), " ")
}

func lineOrDefault(s, def string) string {
	if v := sanitizeLine(s); v != "" {
		return v
	}
	return def
}

func sanitizeKeywords(s string) string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := sanitizeLine(p); v != "" {
			out = append(out, v)
		}
	}
	if len(out) == 0 {
		return noneValue
	}
	return strings.Join(out, ", ")
}

// sanitizeInstructions renders free text as an indented bullet list capped at
// maxUserInstructionRunes runes of content.
func sanitizeInstructions(s string) string {
	s = strings.ReplaceAll(s, "\r\n", "\n")

	budget := maxUserInstructionRunes
	lines := make([]string, 0)
	for _, raw := range strings.Split(s, "\n") {
		if budget <= 0 {
			break
		}
		line := sanitizeLine(raw)
		if line == "" {
			continue
		}
		if utf8.RuneCountInString(line) > budget {
			line = string([]rune(line)[:budget])
		}
		budget -= utf8.RuneCountInString(line)
		lines = append(lines, "  - "+line)
	}

	if len(lines) == 0 {
		return "  - " + noneValue
	}
	return strings.Join(lines, "\n")
}

// splitPrompt separates the [System] preamble from the rest of a template.
func splitPrompt(template string) (string, string) {
	const systemMarker, templateMarker = "[System]", "[Template]"

	start := strings.Index(template, systemMarker)
	end := strings.Index(template, templateMarker)
	if start == -1 || end == -1 || end < start {
		return "", strings.TrimSpace(template)
	}
	system := strings.TrimSpace(template[start+len(systemMarker) : end])
	return system, strings.TrimSpace(template[end:])
}

func fillTemplate(template string, values map[string]string) string {
	pairs := make([]string, 0, len(values)*2)
	for k, v := range values {
		pairs = append(pairs, "{{"+k+"}}", v)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
