package gemini

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/spigell/jobpilot/internal/logger"
	"github.com/spigell/jobpilot/internal/retry"
	"github.com/spigell/jobpilot/internal/utils"
)

const (
	providerName          = "gemini"
	defaultModel          = "gemini-2.5-pro"
	defaultEmbeddingModel = "text-embedding-004"
	defaultMaxRetries     = retry.NetworkAttempts
	defaultBaseDelay      = time.Second
	// Quota errors asking to wait longer than this are not retried.
	maxQuotaWait = 30 * time.Second
)

var sleep utils.SleepFunc = utils.WaitFor

type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

type chatCreator interface {
	Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error)
}

type contentEmbedder interface {
	EmbedContent(ctx context.Context, model string, contents []*genai.Content, config *genai.EmbedContentConfig) (*genai.EmbedContentResponse, error)
}

type genaiChats struct {
	chats *genai.Chats
}

func (c genaiChats) Create(ctx context.Context, model string, config *genai.GenerateContentConfig, history []*genai.Content) (chatSession, error) {
	return c.chats.Create(ctx, model, config, history)
}

// Config holds the Gemini client settings.
type Config struct {
	APIKey         string
	Model          string
	EmbeddingModel string
	// EmbeddingDim truncates embeddings to a fixed size when positive.
	EmbeddingDim int
	MaxRetries   int
	BaseDelay    time.Duration
}

// Generator wraps the Google GenAI client for text generation and embeddings.
type Generator struct {
	chats      chatCreator
	embeddings contentEmbedder

	model          string
	embeddingModel string
	embeddingDim   int
	maxRetries     int
	baseDelay      time.Duration
	logger         *zap.Logger
}

// NewGenerator creates a Generator configured for the Gemini API backend.
func NewGenerator(ctx context.Context, cfg Config, log *zap.Logger) (*Generator, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("gemini api key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create genai client: %w", err)
	}

	model := strings.TrimSpace(cfg.Model)
	if model == "" {
		model = defaultModel
	}
	embeddingModel := strings.TrimSpace(cfg.EmbeddingModel)
	if embeddingModel == "" {
		embeddingModel = defaultEmbeddingModel
	}
	maxRetries := cfg.MaxRetries
	if maxRetries <= 0 {
		maxRetries = defaultMaxRetries
	}
	baseDelay := cfg.BaseDelay
	if baseDelay <= 0 {
		baseDelay = defaultBaseDelay
	}
	if log == nil {
		log = zap.NewNop()
	}

	return &Generator{
		chats:          genaiChats{chats: client.Chats},
		embeddings:     client.Models,
		model:          model,
		embeddingModel: embeddingModel,
		embeddingDim:   cfg.EmbeddingDim,
		maxRetries:     maxRetries,
		baseDelay:      baseDelay,
		logger:         logger.WithCommonFields(log, providerName, model),
	}, nil
}

// Model returns the text-generation model name.
func (g *Generator) Model() string {
	if g == nil {
		return ""
	}
	return g.model
}

func (g *Generator) policy() retry.Policy {
	return retry.Policy{
		Name:        "gemini",
		MaxAttempts: g.maxRetries,
		BaseDelay:   g.baseDelay,
		Retryable:   isRetryable,
		Sleep:       sleep,
	}
}

// GenerateContent sends message with the system instruction and returns the textual response.
func (g *Generator) GenerateContent(ctx context.Context, system, message string) (string, error) {
	if g == nil || g.chats == nil {
		return "", errors.New("gemini generator is not initialized")
	}

	message = strings.TrimSpace(message)
	if message == "" {
		return "", errors.New("message must not be empty")
	}

	var config *genai.GenerateContentConfig
	if system = strings.TrimSpace(system); system != "" {
		config = &genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
		}
	}

	return retry.DoValue(ctx, g.policy(), g.logger, func(ctx context.Context) (string, error) {
		chat, err := g.chats.Create(ctx, g.model, config, nil)
		if err != nil {
			return "", fmt.Errorf("create chat: %w", err)
		}

		resp, err := chat.SendMessage(ctx, genai.Part{Text: message})
		if err != nil {
			return "", fmt.Errorf("generate content: %w", err)
		}

		output := responseText(resp)
		if output == "" {
			return "", retry.Permanent(errors.New("gemini api returned empty response"))
		}
		return output, nil
	})
}

// Embed returns the embedding vector of text.
func (g *Generator) Embed(ctx context.Context, text string) ([]float32, error) {
	if g == nil || g.embeddings == nil {
		return nil, errors.New("gemini embedder is not initialized")
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return nil, errors.New("embedding text must not be empty")
	}

	var config *genai.EmbedContentConfig
	if g.embeddingDim > 0 {
		dim := int32(g.embeddingDim)
		config = &genai.EmbedContentConfig{OutputDimensionality: &dim}
	}

	return retry.DoValue(ctx, g.policy(), g.logger, func(ctx context.Context) ([]float32, error) {
		resp, err := g.embeddings.EmbedContent(ctx, g.embeddingModel, genai.Text(text), config)
		if err != nil {
			return nil, fmt.Errorf("embed content: %w", err)
		}
		if resp == nil || len(resp.Embeddings) == 0 || resp.Embeddings[0] == nil || len(resp.Embeddings[0].Values) == 0 {
			return nil, retry.Permanent(errors.New("gemini api returned empty embedding"))
		}
		return resp.Embeddings[0].Values, nil
	})
}

func responseText(resp *genai.GenerateContentResponse) string {
	if resp == nil {
		return ""
	}

	var builder strings.Builder
	for _, candidate := range resp.Candidates {
		if candidate == nil || candidate.Content == nil {
			continue
		}
		for _, part := range candidate.Content.Parts {
			if part == nil {
				continue
			}
			text := strings.TrimSpace(part.Text)
			if text == "" {
				continue
			}
			if builder.Len() > 0 {
				builder.WriteString("\n")
			}
			builder.WriteString(text)
		}
	}
	return strings.TrimSpace(builder.String())
}

func asAPIError(err error) (genai.APIError, bool) {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apiErr, true
	}
	var apiErrPtr *genai.APIError
	if errors.As(err, &apiErrPtr) && apiErrPtr != nil {
		return *apiErrPtr, true
	}
	return genai.APIError{}, false
}

func isRetryable(err error) bool {
	apiErr, ok := asAPIError(err)
	if !ok {
		return retry.IsNetworkFault(err)
	}

	switch {
	case apiErr.Code == http.StatusTooManyRequests:
		delay, found := quotaDelay(apiErr)
		return !found || delay <= maxQuotaWait
	case apiErr.Code >= http.StatusInternalServerError:
		return true
	}
	return false
}

var retryAfterPattern = regexp.MustCompile(`(?i)retry (?:after|in) (\d+(?:\.\d+)?)\s*(ms|s|sec|secs|seconds)?\b`)

func quotaDelay(apiErr genai.APIError) (time.Duration, bool) {
	for _, detail := range apiErr.Details {
		if raw, ok := detail["retryDelay"].(string); ok {
			if d, err := time.ParseDuration(raw); err == nil {
				return d, true
			}
		}
	}

	m := retryAfterPattern.FindStringSubmatch(apiErr.Message)
	if m == nil {
		return 0, false
	}
	value, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, false
	}
	if strings.EqualFold(m[2], "ms") {
		return time.Duration(value * float64(time.Millisecond)), true
	}
	return time.Duration(value * float64(time.Second)), true
}
