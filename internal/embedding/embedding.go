package embedding

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"

	"eco-counselor/internal/config"
	"eco-counselor/internal/helper"
	"eco-counselor/internal/models"
)

const (
	ProviderOllama = "ollama"
	ProviderOpenAI = "openai"

	defaultBatchSize = 32
)

// Embedder turns text into vectors under a single, named model. Indexing and
// querying must go through embedders reporting the same ModelID.
type Embedder interface {
	embeddings.Embedder
	ModelID() string
}

// Model binds a langchaingo embedder to its model id and an optional LRU
// cache of query vectors.
type Model struct {
	impl    embeddings.Embedder
	modelID string

	cacheMu sync.Mutex
	cache   *lru.Cache[string, []float32]
}

// NewEmbedder builds the embedder described by cfg: an Ollama server or any
// OpenAI-compatible embeddings endpoint.
func NewEmbedder(cfg *config.LLMConfig) (*Model, error) {
	log.Debug().Interface("config", map[string]string{
		"provider":        cfg.Provider,
		"base_url":        cfg.BaseURL,
		"embedding_model": cfg.Model,
	}).Msg("Creating embedder")

	var client embeddings.EmbedderClient
	switch cfg.Provider {
	case ProviderOllama, "":
		llm, err := ollama.New(
			ollama.WithServerURL(cfg.BaseURL),
			ollama.WithModel(cfg.Model),
		)
		if err != nil {
			return nil, fmt.Errorf("failed to create ollama client: %w", err)
		}
		client = llm
	case ProviderOpenAI:
		opts := []openai.Option{
			openai.WithEmbeddingModel(cfg.Model),
			openai.WithToken(strings.TrimPrefix(cfg.Key, "Bearer ")),
		}
		if cfg.BaseURL != "" {
			opts = append(opts, openai.WithBaseURL(cfg.BaseURL))
		}
		llm, err := openai.New(opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to create openai client: %w", err)
		}
		client = llm
	default:
		return nil, fmt.Errorf("unknown embedding provider: %s", cfg.Provider)
	}

	impl, err := embeddings.NewEmbedder(client, embeddings.WithBatchSize(defaultBatchSize))
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	m := Wrap(cfg.Model, impl)
	if cfg.CacheSize > 0 {
		if err := m.EnableCache(cfg.CacheSize); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// Wrap binds an existing embedder to modelID.
func Wrap(modelID string, impl embeddings.Embedder) *Model {
	return &Model{impl: impl, modelID: modelID}
}

func (m *Model) ModelID() string {
	return m.modelID
}

// EnableCache memoises query embeddings in an LRU of the given size.
func (m *Model) EnableCache(size int) error {
	if size <= 0 {
		return fmt.Errorf("embedder %q: cache size must be greater than zero", m.modelID)
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder %q: init cache: %w", m.modelID, err)
	}
	m.cacheMu.Lock()
	m.cache = cache
	m.cacheMu.Unlock()
	return nil
}

func (m *Model) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	vectors, err := m.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: embed documents: %w", m.modelID, err)
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedder %q: got %d vectors for %d texts", m.modelID, len(vectors), len(texts))
	}
	return vectors, nil
}

func (m *Model) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cache := m.getCache()
	if cache != nil {
		if v, ok := cache.Get(text); ok {
			return v, nil
		}
	}
	v, err := m.impl.EmbedQuery(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedder %q: embed query: %w", m.modelID, err)
	}
	if len(v) == 0 {
		return nil, fmt.Errorf("embedder %q: empty query vector", m.modelID)
	}
	if cache != nil {
		cache.Add(text, v)
	}
	return v, nil
}

func (m *Model) getCache() *lru.Cache[string, []float32] {
	m.cacheMu.Lock()
	defer m.cacheMu.Unlock()
	return m.cache
}

// GenerateEmbedding embeds every chunk and assigns it a stable id
func GenerateEmbedding(ctx context.Context, embedder Embedder, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	vectors, err := embedder.EmbedDocuments(ctx, texts)
	if err != nil {
		return nil, err
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, 0, len(chunks))
	for i, chunk := range chunks {
		if len(vectors[i]) == 0 {
			return nil, errors.New("embedder returned an empty vector for " + chunk.SourceFilename)
		}
		chunkEmbeddings = append(chunkEmbeddings, models.ChunkEmbedding{
			ID:             helper.ChunkUUID(chunk.SourceFilename, chunk.PageNumber, chunk.ChunkID),
			Content:        chunk.Content,
			Embedding:      vectors[i],
			SourceFilename: chunk.SourceFilename,
			PageNumber:     chunk.PageNumber,
			ChunkID:        chunk.ChunkID,
		})
	}
	return chunkEmbeddings, nil
}
