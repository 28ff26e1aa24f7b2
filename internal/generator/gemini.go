package generator

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"parc/internal/domain"
)

// Gemini generates chunks through the Gemini API with a JSON response schema.
type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
	logger *zap.Logger
}

func NewGemini(ctx context.Context, opts Options, logger *zap.Logger) (*Gemini, error) {
	if opts.APIKey == "" {
		return nil, fmt.Errorf("%w: gemini API key is required (GEMINI_API_KEY or API_KEY)", ErrNotConfigured)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	model := opts.Model
	if model == "" {
		model = DefaultGeminiModel
	}
	cc := &genai.ClientConfig{
		APIKey:  opts.APIKey,
		Backend: genai.BackendGeminiAPI,
	}
	if opts.BaseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: opts.BaseURL}
	}
	client, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	config := &genai.GenerateContentConfig{
		SystemInstruction: genai.NewContentFromText(systemInstruction, genai.RoleUser),
		ResponseMIMEType:  "application/json",
		ResponseSchema:    ResponseSchema(),
	}
	if opts.ThinkingBudget > 0 {
		budget := int32(opts.ThinkingBudget)
		config.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: &budget}
	}
	return &Gemini{client: client, model: model, config: config, logger: logger}, nil
}

func (g *Gemini) Name() string {
	return "gemini:" + g.model
}

func (g *Gemini) GenerateNextChunk(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error) {
	g.logger.Debug("gemini request", zap.String("model", g.model), zap.Int("previous_events", previous.Len()))
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(Prompt(previous)), g.config)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("gemini generate: %w", err)
	}
	chunk, err := decodeChunk(resp.Text())
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("gemini: %w", err)
	}
	return chunk, nil
}
