package indexer

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"eco-counselor/internal/embedding"
	"eco-counselor/internal/models"
	"eco-counselor/internal/parser"
)

// ErrNoDocuments aborts an index run before the existing store is touched.
var ErrNoDocuments = errors.New("no documents found in the knowledge base")

// VectorStore is the write side of the vector database.
type VectorStore interface {
	Replace(ctx context.Context, docs []chromem.Document) error
}

type Indexer struct {
	parser   *parser.Parser
	embedder embedding.Embedder
	store    VectorStore
	dir      string
	glob     string
}

type Report struct {
	Documents int           `json:"documents"`
	Chunks    int           `json:"chunks"`
	Model     string        `json:"embedding_model"`
	Duration  time.Duration `json:"duration"`
}

func New(p *parser.Parser, embedder embedding.Embedder, store VectorStore, dir, glob string) *Indexer {
	return &Indexer{parser: p, embedder: embedder, store: store, dir: dir, glob: glob}
}

// Run rebuilds the vector store from the knowledge base directory. Every
// document is parsed and embedded before the store is replaced, so a failed
// run leaves the previous index in place.
func (ix *Indexer) Run(ctx context.Context) (*Report, error) {
	start := time.Now()
	log.Info().Str("dir", ix.dir).Str("glob", ix.glob).Msg("Starting vector DB creation")

	paths, err := parser.FindDocuments(ix.dir, ix.glob)
	if err != nil {
		return nil, err
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("%w: %s/%s", ErrNoDocuments, ix.dir, ix.glob)
	}
	log.Info().Msgf("Loaded %d document(s)", len(paths))

	var chunks []models.Chunk
	for _, path := range paths {
		fileChunks, err := ix.parser.ParseFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", path, err)
		}
		log.Debug().Str("file", path).Int("chunks", len(fileChunks)).Msg("Parsed document")
		chunks = append(chunks, fileChunks...)
	}
	if len(chunks) == 0 {
		return nil, fmt.Errorf("%w: %d file(s) contained no text", ErrNoDocuments, len(paths))
	}
	log.Info().Msgf("Split documents into %d chunks", len(chunks))

	log.Info().Str("model", ix.embedder.ModelID()).Msg("Embedding chunks")
	chunkEmbeddings, err := embedding.GenerateEmbedding(ctx, ix.embedder, chunks)
	if err != nil {
		return nil, fmt.Errorf("failed to embed chunks: %w", err)
	}

	docs := make([]chromem.Document, len(chunkEmbeddings))
	for i, ce := range chunkEmbeddings {
		docs[i] = chromem.Document{
			ID:        ce.ID,
			Content:   ce.Content,
			Embedding: ce.Embedding,
			Metadata: map[string]string{
				models.MetadataSource:         ce.SourceFilename,
				models.MetadataPageNumber:     strconv.Itoa(ce.PageNumber),
				models.MetadataChunkID:        strconv.Itoa(ce.ChunkID),
				models.MetadataEmbeddingModel: ix.embedder.ModelID(),
			},
		}
	}

	if err := ix.store.Replace(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to store vectors: %w", err)
	}

	report := &Report{
		Documents: len(paths),
		Chunks:    len(docs),
		Model:     ix.embedder.ModelID(),
		Duration:  time.Since(start),
	}
	log.Info().Int("documents", report.Documents).Int("chunks", report.Chunks).Dur("duration", report.Duration).Msg("Vector DB creation complete")
	return report, nil
}
