package embedding

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sashabaranov/go-openai"
	"golang.org/x/sync/semaphore"
)

// Service turns text into fixed-dimension vectors.
type Service interface {
	// Encode embeds one text. Blank input (empty or whitespace only) returns
	// a nil vector without calling the provider.
	Encode(ctx context.Context, text string) ([]float32, error)

	// EncodeBatch embeds several texts in one request, preserving order.
	EncodeBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dim returns the configured vector dimension.
	Dim() int
}

// Config represents embedding service configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Dim     int
	Timeout int // request timeout in seconds (default: 30)
}

type service struct {
	client  *openai.Client
	model   string
	dim     int
	timeout int

	// Bounds concurrent provider calls across goroutines.
	sem *semaphore.Weighted
}

// NewService creates a new embedding Service.
func NewService(cfg *Config) (Service, error) {
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model is required")
	}
	if cfg.Dim <= 0 {
		return nil, fmt.Errorf("embedding dimension must be positive, got %d", cfg.Dim)
	}

	clientConfig := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientConfig.BaseURL = cfg.BaseURL
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30
	}

	return &service{
		client:  openai.NewClientWithConfig(clientConfig),
		model:   cfg.Model,
		dim:     cfg.Dim,
		timeout: timeout,
		sem:     semaphore.NewWeighted(8),
	}, nil
}

func (s *service) Dim() int {
	return s.dim
}

func (s *service) Encode(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	vectors, err := s.EncodeBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return vectors[0], nil
}

func (s *service) EncodeBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	if err := s.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("acquire embedding slot: %w", err)
	}
	defer s.sem.Release(1)

	ctx, cancel := context.WithTimeout(ctx, time.Duration(s.timeout)*time.Second)
	defer cancel()

	resp, err := s.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: texts,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("embedding count mismatch: want %d, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if len(item.Embedding) != s.dim {
			return nil, fmt.Errorf("embedding dimension mismatch: want %d, got %d", s.dim, len(item.Embedding))
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}
