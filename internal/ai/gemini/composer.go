package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/utils"
)

//go:embed outreach_prompt.md
var outreachPromptTemplate string

// Composer writes outreach emails with a text-generation model.
type Composer struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int
}

var _ ai.Composer = (*Composer)(nil)

// NewComposer creates a Composer.
func NewComposer(generator contentGenerator, maxLogLength int, log *zap.Logger) *Composer {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Composer{generator: generator, logger: log, maxLogLen: maxLogLength}
}

// Compose generates a message. The subject comes from a "Subject:" line; when
// the model omits it a subject is derived from the posting title.
func (c *Composer) Compose(ctx context.Context, profile *model.Profile, posting *model.Posting) (*ai.Message, error) {
	if profile == nil || posting == nil {
		return nil, fmt.Errorf("profile and posting are required")
	}

	prefs, err := ai.DecodePreferences(profile.Preferences)
	if err != nil {
		prefs = &ai.Preferences{}
	}

	profileJSON, err := json.MarshalIndent(profilePayload(profile), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal profile payload: %w", err)
	}
	postingJSON, err := json.MarshalIndent(postingPayload(posting), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("marshal posting payload: %w", err)
	}

	system, template := splitPrompt(outreachPromptTemplate)
	prompt := fillTemplate(template, map[string]string{
		"COMPANY":      lineOrDefault(posting.Company, "the company"),
		"TITLE":        sanitizeLine(posting.Title),
		"TONE":         lineOrDefault(prefs.Tone, defaultTone),
		"FULL_NAME":    lineOrDefault(profile.FullName, "the candidate"),
		"PROFILE_JSON": string(profileJSON),
		"POSTING_JSON": string(postingJSON),
	})

	raw, err := c.generator.GenerateContent(ctx, system, prompt)
	if err != nil {
		return nil, fmt.Errorf("compose outreach message: %w", err)
	}

	c.logger.Debug("outreach message generated",
		zap.String("posting_id", posting.ID),
		zap.String("response_preview", utils.TruncateForLog(raw, c.maxLogLen)),
	)

	msg := ParseMessage(raw, posting.Title)
	return msg, nil
}

// DefaultSubject is used when the generated text has no subject line.
func DefaultSubject(title string) string {
	title = strings.TrimSpace(title)
	if title == "" {
		return "Application"
	}
	return "Application for " + title
}

// ParseMessage splits generated text into subject and body.
func ParseMessage(raw, title string) *ai.Message {
	text := strings.TrimSpace(strings.ReplaceAll(raw, "\r\n", "\n"))
	lines := strings.Split(text, "\n")

	for i, line := range lines {
		trimmed := strings.TrimSpace(strings.Trim(strings.TrimSpace(line), "*#_"))
		if len(trimmed) < len("subject:") || !strings.EqualFold(trimmed[:len("subject:")], "subject:") {
			continue
		}
		subject := strings.TrimSpace(strings.Trim(trimmed[len("subject:"):], "*_ "))
		if subject == "" {
			break
		}
		rest := append(append([]string{}, lines[:i]...), lines[i+1:]...)
		return &ai.Message{
			Subject: subject,
			Body:    strings.TrimSpace(strings.Join(rest, "\n")),
			Raw:     raw,
		}
	}

	return &ai.Message{Subject: DefaultSubject(title), Body: text, Raw: raw}
}
