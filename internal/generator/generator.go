// Package generator produces timeline chunks from an external model.
package generator

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"parc/internal/domain"
)

// Generator returns the next chunk of a simulation. A nil previous starts a new one.
type Generator interface {
	GenerateNextChunk(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error)
	Name() string
}

const (
	ProviderGemini = "gemini"
	ProviderOllama = "ollama"

	DefaultGeminiModel    = "gemini-2.5-flash"
	DefaultOllamaEndpoint = "http://localhost:11434"
)

var ErrNotConfigured = errors.New("generator not configured")

// Options select and configure a backend.
type Options struct {
	Provider string
	Model    string
	APIKey   string
	// BaseURL overrides the Gemini API endpoint.
	BaseURL        string
	OllamaEndpoint string
	OllamaModel    string
	ThinkingBudget int
	Timeout        time.Duration
	// FixturePath is the exported document served by the static provider.
	FixturePath string
}

// New builds the backend named by opts.Provider.
func New(ctx context.Context, opts Options, logger *zap.Logger) (Generator, error) {
	var (
		g   Generator
		err error
	)
	switch opts.Provider {
	case ProviderGemini, "":
		g, err = NewGemini(ctx, opts, logger)
	case ProviderOllama:
		g, err = NewOllama(opts, logger)
	case ProviderStatic:
		g, err = LoadStatic(opts.FixturePath)
	default:
		err = fmt.Errorf("%w: unknown provider %q", ErrNotConfigured, opts.Provider)
	}
	if err != nil {
		return nil, err
	}
	return g, nil
}

// decodeChunk parses model output, tolerating markdown code fences around the JSON.
func decodeChunk(text string) (domain.SimulationResult, error) {
	cleaned := strings.ReplaceAll(text, "```json", "")
	cleaned = strings.ReplaceAll(cleaned, "```", "")
	cleaned = strings.TrimSpace(cleaned)
	if cleaned == "" {
		return domain.SimulationResult{}, errors.New("empty model response")
	}
	var r domain.SimulationResult
	if err := json.Unmarshal([]byte(cleaned), &r); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("model response is not valid JSON: %w", err)
	}
	return r, nil
}
