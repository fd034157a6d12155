// Package gemini implements generation.Generator on Google's Gemini API.
package gemini

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"google.golang.org/genai"

	"github.com/cuongbtq/resume-pipeline/internal/generation"
)

// Config holds the model settings
type Config struct {
	APIKey          string
	Model           string
	Temperature     float32
	MaxOutputTokens int32
}

// modelsAPI is the slice of genai.Models the generator uses
type modelsAPI interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// Generator calls Gemini, one request per Generate
type Generator struct {
	cfg    Config
	models modelsAPI
	logger *slog.Logger
}

var _ generation.Generator = (*Generator)(nil)

// New validates cfg and creates a Gemini client
func New(ctx context.Context, cfg Config, logger *slog.Logger) (*Generator, error) {
	if err := validate(cfg); err != nil {
		return nil, err
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to create Gemini client: %v", generation.ErrInvalidConfig, err)
	}

	return newGenerator(cfg, client.Models, logger), nil
}

func newGenerator(cfg Config, models modelsAPI, logger *slog.Logger) *Generator {
	return &Generator{
		cfg:    cfg,
		models: models,
		logger: logger.With(slog.String("component", "gemini"), slog.String("model", cfg.Model)),
	}
}

func validate(cfg Config) error {
	if cfg.APIKey == "" {
		return fmt.Errorf("%w: gemini API key cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Model == "" {
		return fmt.Errorf("%w: model name cannot be empty", generation.ErrInvalidConfig)
	}
	if cfg.Temperature < 0 || cfg.Temperature > 2 {
		return fmt.Errorf("%w: temperature %.2f out of range [0, 2]", generation.ErrInvalidConfig, cfg.Temperature)
	}
	return nil
}

// Generate sends prompt once and returns the concatenated text of the first
// candidate. A failed call is not retried here: the caller re-queues the
// work and takes a new permit for the next attempt.
func (g *Generator) Generate(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", generation.ErrEmptyPrompt
	}

	config := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr(g.cfg.Temperature),
		ResponseMIMEType: "application/json",
	}
	if g.cfg.MaxOutputTokens > 0 {
		config.MaxOutputTokens = g.cfg.MaxOutputTokens
	}

	g.logger.DebugContext(ctx, "Calling Gemini API",
		slog.Int("prompt_length", len(prompt)),
	)

	start := time.Now()
	resp, err := g.models.GenerateContent(ctx, g.cfg.Model, genai.Text(prompt), config)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return "", fmt.Errorf("%w: %w", generation.ErrTransientFailure, ctxErr)
		}
		g.logger.WarnContext(ctx, "Gemini API call failed",
			slog.Duration("duration", time.Since(start)),
			slog.String("error", err.Error()),
		)
		return "", fmt.Errorf("%w: %v", generation.ErrTransientFailure, err)
	}

	text, err := extractText(resp)
	if err != nil {
		return "", err
	}
	g.logger.InfoContext(ctx, "Gemini API call succeeded",
		slog.Duration("duration", time.Since(start)),
		slog.Int("response_length", len(text)),
	)
	return text, nil
}

func extractText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil {
		return "", fmt.Errorf("%w: nil response", generation.ErrInvalidResponse)
	}
	if resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("%w: prompt blocked: %s", generation.ErrContentBlocked, resp.PromptFeedback.BlockReason)
	}
	if len(resp.Candidates) == 0 {
		return "", fmt.Errorf("%w: no candidates", generation.ErrInvalidResponse)
	}

	candidate := resp.Candidates[0]
	if candidate.FinishReason == genai.FinishReasonSafety {
		return "", fmt.Errorf("%w: response blocked by safety filters", generation.ErrContentBlocked)
	}
	if candidate.Content == nil {
		return "", fmt.Errorf("%w: empty content", generation.ErrInvalidResponse)
	}

	var sb strings.Builder
	for _, part := range candidate.Content.Parts {
		if part != nil {
			sb.WriteString(part.Text)
		}
	}
	if strings.TrimSpace(sb.String()) == "" {
		return "", fmt.Errorf("%w: empty text", generation.ErrInvalidResponse)
	}
	return sb.String(), nil
}
