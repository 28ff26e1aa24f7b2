package generator

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"

	"parc/internal/domain"
	"parc/internal/timeline"
)

const ProviderStatic = "static"

var ErrExhausted = errors.New("static generator has no more chunks")

// Static replays a fixed sequence of chunks. It backs offline runs and tests.
type Static struct {
	mu     sync.Mutex
	chunks []domain.SimulationResult
	calls  int
}

func NewStatic(chunks ...domain.SimulationResult) *Static {
	return &Static{chunks: chunks}
}

// LoadStatic reads an exported document and serves it as a single chunk.
func LoadStatic(path string) (*Static, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: read fixture: %v", ErrNotConfigured, err)
	}
	r, err := timeline.ParseDocument(data)
	if err != nil {
		return nil, fmt.Errorf("fixture %s: %w", path, err)
	}
	return NewStatic(r), nil
}

func (s *Static) Name() string {
	return ProviderStatic
}

func (s *Static) GenerateNextChunk(ctx context.Context, previous *domain.SimulationResult) (domain.SimulationResult, error) {
	if err := ctx.Err(); err != nil {
		return domain.SimulationResult{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.calls >= len(s.chunks) {
		return domain.SimulationResult{}, ErrExhausted
	}
	chunk := s.chunks[s.calls]
	s.calls++
	return chunk, nil
}

// Calls is how many chunks have been served.
func (s *Static) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
