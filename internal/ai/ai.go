// Package ai defines the text-generation collaborators of the pipeline.
package ai

import (
	"context"
	"fmt"

	"github.com/mitchellh/mapstructure"

	"github.com/spigell/jobpilot/internal/model"
)

// Generator produces text for a system instruction and a user message.
type Generator interface {
	GenerateContent(ctx context.Context, system, message string) (string, error)
	Model() string
}

// Embedder turns text into a fixed-dimension vector.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// MatchAssessment is the scored judgement of one profile against one posting.
type MatchAssessment struct {
	Score     int
	Reasoning string
	SkillGaps []string
	// Clamped is set when the service returned a score outside 0..100.
	Clamped bool
	// Malformed is set when the response could not be parsed and defaults were used.
	Malformed bool
	Raw       string
}

// Matcher scores a posting for a candidate.
type Matcher interface {
	Assess(ctx context.Context, profile *model.Profile, posting *model.Posting) (*MatchAssessment, error)
}

// Message is a generated outreach message.
type Message struct {
	Subject string
	Body    string
	Raw     string
}

// Composer writes outreach messages.
type Composer interface {
	Compose(ctx context.Context, profile *model.Profile, posting *model.Posting) (*Message, error)
}

// Weights are the per-factor importance hints a candidate may set in preferences.
type Weights struct {
	Skills     float64 `mapstructure:"skills" json:"skills,omitempty"`
	Experience float64 `mapstructure:"experience" json:"experience,omitempty"`
	Education  float64 `mapstructure:"education" json:"education,omitempty"`
	Location   float64 `mapstructure:"location" json:"location,omitempty"`
	Salary     float64 `mapstructure:"salary" json:"salary,omitempty"`
}

// Preferences is the typed view of model.Profile.Preferences.
type Preferences struct {
	Weights      Weights  `mapstructure:"weights" json:"weights"`
	Locations    []string `mapstructure:"locations" json:"locations,omitempty"`
	Remote       bool     `mapstructure:"remote" json:"remote,omitempty"`
	MinSalary    int      `mapstructure:"min_salary" json:"minSalary,omitempty"`
	Tone         string   `mapstructure:"tone" json:"tone,omitempty"`
	DealBreakers []string `mapstructure:"deal_breakers" json:"dealBreakers,omitempty"`
}

// DecodePreferences reads the free-form preferences blob. Unknown keys are ignored
// and numbers given as strings are accepted.
func DecodePreferences(raw map[string]any) (*Preferences, error) {
	prefs := &Preferences{}
	if len(raw) == 0 {
		return prefs, nil
	}

	cfg := &mapstructure.DecoderConfig{
		Result:           prefs,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	}
	decoder, err := mapstructure.NewDecoder(cfg)
	if err != nil {
		return nil, fmt.Errorf("create preferences decoder: %w", err)
	}
	if err := decoder.Decode(raw); err != nil {
		return nil, fmt.Errorf("decode preferences: %w", err)
	}
	return prefs, nil
}
