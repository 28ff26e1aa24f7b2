package generator

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"parc/internal/domain"
)

// Ollama generates chunks through a local Ollama server's /api/generate.
// The response schema is embedded in the system prompt since the endpoint
// cannot enforce it.
type Ollama struct {
	httpClient *http.Client
	baseURL    string
	model      string
	system     string
	logger     *zap.Logger
}

type ollamaGenerateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	System string `json:"system,omitempty"`
	Stream bool   `json:"stream"`
}

type ollamaGenerateResponse struct {
	Model    string `json:"model"`
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

func NewOllama(opts Options, logger *zap.Logger) (*Ollama, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	model := opts.OllamaModel
	if model == "" {
		model = opts.Model
	}
	if model == "" {
		return nil, fmt.Errorf("%w: ollama model is not configured", ErrNotConfigured)
	}
	baseURL := opts.OllamaEndpoint
	if baseURL == "" {
		baseURL = DefaultOllamaEndpoint
	}
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}
	schema, err := json.MarshalIndent(ResponseSchema(), "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode response schema: %w", err)
	}
	system := systemInstruction + "\n\nIMPORTANT: You must respond with a single, valid JSON object that strictly " +
		"adheres to the provided schema. Do not include any explanatory text, markdown code fences, or any other " +
		"text outside of the JSON structure. The JSON schema is: " + string(schema)
	return &Ollama{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		model:      model,
		system:     system,
		logger:     logger,
	}, nil
}

func (o *Ollama) Name() string {
	return "ollama:" + o.model
}

func (o *Ollama) GenerateNextChunk(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error) {
	body, err := json.Marshal(ollamaGenerateRequest{
		Model:  o.model,
		Prompt: Prompt(previous),
		System: o.system,
		Stream: false,
	})
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("marshal ollama request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, o.baseURL+"/api/generate", bytes.NewReader(body))
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("create ollama request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	o.logger.Debug("ollama request", zap.String("model", o.model), zap.Int("previous_events", previous.Len()))
	resp, err := o.httpClient.Do(req)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("failed to connect to ollama at %s: %w", o.baseURL, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.SimulationResult{}, fmt.Errorf("read ollama response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		var errResp struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &errResp) == nil && strings.Contains(errResp.Error, "not found") {
			return domain.SimulationResult{}, fmt.Errorf("ollama model %q not found, run: ollama pull %s", o.model, o.model)
		}
		return domain.SimulationResult{}, fmt.Errorf("ollama responded with status %d", resp.StatusCode)
	}

	var out ollamaGenerateResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return domain.SimulationResult{}, fmt.Errorf("parse ollama response: %w", err)
	}
	chunk, err := decodeChunk(out.Response)
	if err != nil {
		o.logger.Warn("ollama returned malformed chunk", zap.Int("bytes", len(out.Response)))
		return domain.SimulationResult{}, fmt.Errorf("ollama: %w", err)
	}
	return chunk, nil
}
