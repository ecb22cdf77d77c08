package gemini

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"unicode/utf8"

	_ "embed"

	"go.uber.org/zap"

	"github.com/spigell/jobpilot/internal/ai"
	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/model"
	"github.com/spigell/jobpilot/internal/utils"
)

type contentGenerator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
}

//go:embed match_prompt.md
var matchPromptTemplate string

const defaultMaxLogLength = 200

// Matcher scores postings for a candidate using a text-generation model.
type Matcher struct {
	generator contentGenerator
	logger    *zap.Logger
	maxLogLen int

	mu        sync.RWMutex
	overrides PromptOverrides
}

var _ ai.Matcher = (*Matcher)(nil)

// NewMatcher creates a Matcher. maxLogLength bounds prompt/response previews in debug logs.
func NewMatcher(generator contentGenerator, maxLogLength int, log *zap.Logger) *Matcher {
	if maxLogLength <= 0 {
		maxLogLength = defaultMaxLogLength
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Matcher{
		generator: generator,
		logger:    log,
		maxLogLen: maxLogLength,
	}
}

// SetPromptOverrides replaces the user-supplied prompt hints.
func (m *Matcher) SetPromptOverrides(o PromptOverrides) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.overrides = o
}

// Assess asks the model for a score. Malformed or out-of-range output is
// replaced by safe values and logged; only generation failures are returned.
func (m *Matcher) Assess(ctx context.Context, profile *model.Profile, posting *model.Posting) (*ai.MatchAssessment, error) {
	if profile == nil {
		return nil, fmt.Errorf("profile is required")
	}
	if posting == nil {
		return nil, fmt.Errorf("posting is required")
	}

	log := logger.WithFields(m.logger, logger.MatchFields(profile.UserID, posting.ID)...)

	system, prompt, err := m.buildPrompt(profile, posting, log)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini generate content request",
		zap.Int("prompt_length", utf8.RuneCountInString(prompt)),
		zap.String("prompt_preview", utils.TruncateForLog(prompt, m.maxLogLen)),
	)

	raw, err := m.generator.GenerateContent(ctx, system, prompt)
	if err != nil {
		return nil, err
	}

	log.Debug("gemini generate content response",
		zap.Int("response_length", utf8.RuneCountInString(raw)),
		zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
	)

	assessment, err := parseAssessment(raw)
	if err != nil {
		log.Warn("malformed match response, using zero score",
			zap.Error(err),
			zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
		)
		return &ai.MatchAssessment{Score: 0, SkillGaps: []string{}, Malformed: true, Raw: raw}, nil
	}

	if assessment.Clamped {
		log.Warn("match score out of range, clamped",
			zap.String("response_preview", utils.TruncateForLog(raw, m.maxLogLen)),
			zap.Int("score", assessment.Score),
		)
	}

	assessment.Raw = raw
	return assessment, nil
}

func (m *Matcher) buildPrompt(profile *model.Profile, posting *model.Posting, log *zap.Logger) (string, string, error) {
	prefs, err := ai.DecodePreferences(profile.Preferences)
	if err != nil {
		log.Warn("ignoring unreadable preferences", zap.Error(err))
		prefs = &ai.Preferences{}
	}

	profileJSON, err := json.MarshalIndent(profilePayload(profile), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal profile payload: %w", err)
	}
	postingJSON, err := json.MarshalIndent(postingPayload(posting), "", "  ")
	if err != nil {
		return "", "", fmt.Errorf("marshal posting payload: %w", err)
	}
	weightsJSON, err := json.Marshal(prefs.Weights)
	if err != nil {
		return "", "", fmt.Errorf("marshal weights: %w", err)
	}

	m.mu.RLock()
	o := m.overrides
	m.mu.RUnlock()

	dealBreakers := o.DealBreakers
	if strings.TrimSpace(dealBreakers) == "" {
		dealBreakers = strings.Join(prefs.DealBreakers, "; ")
	}

	system, template := splitPrompt(matchPromptTemplate)
	prompt := fillTemplate(template, map[string]string{
		"WEIGHTS_JSON":       string(weightsJSON),
		"EXTRA_CRITERIA":     lineOrDefault(o.ExtraCriteria, noneValue),
		"DEAL_BREAKERS":      lineOrDefault(dealBreakers, noneValue),
		"CUSTOM_KEYWORDS":    sanitizeKeywords(o.CustomKeywords),
		"TONE":               lineOrDefault(o.Tone, defaultTone),
		"REGION_CONSTRAINTS": lineOrDefault(o.RegionConstraints, noneValue),
		"USER_INSTRUCTIONS":  sanitizeInstructions(o.UserInstructions),
		"PROFILE_JSON":       string(profileJSON),
		"POSTING_JSON":       string(postingJSON),
	})
	return system, prompt, nil
}

func profilePayload(p *model.Profile) map[string]any {
	return map[string]any{
		"skills":       p.Skills,
		"experience":   p.Experience,
		"education":    p.Education,
		"career_goals": p.CareerGoals,
		"preferences":  p.Preferences,
	}
}

func postingPayload(p *model.Posting) map[string]any {
	payload := map[string]any{
		"title":        p.Title,
		"company":      p.Company,
		"location":     p.Location,
		"description":  p.Description,
		"requirements": p.Requirements,
		"platform":     p.Platform,
	}
	if p.SalaryMin != nil {
		payload["salary_min"] = *p.SalaryMin
	}
	if p.SalaryMax != nil {
		payload["salary_max"] = *p.SalaryMax
	}
	return payload
}

func parseAssessment(raw string) (*ai.MatchAssessment, error) {
	cleaned := extractJSON(raw)

	var data map[string]any
	if err := json.Unmarshal([]byte(cleaned), &data); err != nil {
		return nil, fmt.Errorf("parse gemini response: %w", err)
	}

	score := coerceFloat(firstOf(data, "score", "match_score", "matchScore"))
	if math.IsNaN(score) {
		return nil, fmt.Errorf("response has no numeric score")
	}

	clamped := score < 0 || score > 100
	score = math.Max(0, math.Min(100, score))

	return &ai.MatchAssessment{
		Score:     int(math.Round(score)),
		Reasoning: coerceString(firstOf(data, "reasoning", "reason")),
		SkillGaps: coerceStrings(firstOf(data, "skill_gaps", "skillGaps")),
		Clamped:   clamped,
	}, nil
}

func firstOf(data map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := data[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func extractJSON(raw string) string {
	raw = strings.TrimSpace(raw)
	if strings.HasPrefix(raw, "```") {
		raw = strings.TrimPrefix(raw, "```json")
		raw = strings.TrimPrefix(raw, "```")
		raw = strings.TrimSpace(raw)
		if idx := strings.LastIndex(raw, "```"); idx != -1 {
			raw = raw[:idx]
		}
	}
	raw = strings.Trim(raw, "`")
	raw = strings.TrimSpace(raw)

	// Some models wrap the object in prose.
	if start, end := strings.Index(raw, "{"), strings.LastIndex(raw, "}"); start > 0 && end > start {
		raw = raw[start : end+1]
	}
	return raw
}

func coerceFloat(v any) float64 {
	switch val := v.(type) {
	case float64:
		return val
	case int:
		return float64(val)
	case string:
		trimmed := strings.TrimSuffix(strings.TrimSpace(val), "%")
		if trimmed == "" {
			return math.NaN()
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(trimmed), 64)
		if err != nil {
			return math.NaN()
		}
		return f
	default:
		return math.NaN()
	}
}

func coerceString(v any) string {
	switch val := v.(type) {
	case string:
		return strings.TrimSpace(val)
	case fmt.Stringer:
		return strings.TrimSpace(val.String())
	default:
		if v == nil {
			return ""
		}
		bytes, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprintf("%v", v)
		}
		return string(bytes)
	}
}

func coerceStrings(v any) []string {
	out := make([]string, 0)
	switch val := v.(type) {
	case []any:
		for _, item := range val {
			if s := coerceString(item); s != "" {
				out = append(out, s)
			}
		}
	case string:
		for _, item := range strings.Split(val, ",") {
			if s := strings.TrimSpace(item); s != "" {
				out = append(out, s)
			}
		}
	}
	return out
}
