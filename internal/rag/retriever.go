package rag

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"eco-counselor/internal/embedding"
	"eco-counselor/internal/models"
)

var (
	// ErrRetrieval marks failures to embed the query or read the store. It is
	// never reported as "no relevant result".
	ErrRetrieval = errors.New("retrieval failed")
	// ErrModelMismatch means the index was built by a different embedding model.
	ErrModelMismatch = errors.New("index was built with a different embedding model")
	// ErrInvalidQuery rejects blank input before any service is called.
	ErrInvalidQuery = errors.New("query must not be empty")
)

// Searcher is the read side of the vector database.
type Searcher interface {
	Search(ctx context.Context, queryEmbedding []float32, k int) ([]models.SearchResult, error)
}

// Retriever returns the k nearest chunks to a query, ascending distance.
type Retriever interface {
	Retrieve(ctx context.Context, query string, k int) ([]models.SearchResult, error)
}

// VectorRetriever embeds the query and searches the shared store handle.
type VectorRetriever struct {
	embedder embedding.Embedder
	store    Searcher
}

func NewVectorRetriever(embedder embedding.Embedder, store Searcher) *VectorRetriever {
	return &VectorRetriever{embedder: embedder, store: store}
}

func (r *VectorRetriever) Retrieve(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, ErrInvalidQuery
	}
	vector, err := r.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	results, err := r.store.Search(ctx, vector, k)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrRetrieval, err)
	}
	for _, res := range results {
		if model := res.Metadata[models.MetadataEmbeddingModel]; model != "" && model != r.embedder.ModelID() {
			return nil, fmt.Errorf("%w: %w: index %q, query %q", ErrRetrieval, ErrModelMismatch, model, r.embedder.ModelID())
		}
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}
