package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"runtime"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"eco-counselor/internal/helper"
	"eco-counselor/internal/models"
)

// ErrEmbeddingRequired is returned if chromem ever tries to embed text
// itself; every document and query must arrive with its vector.
var ErrEmbeddingRequired = errors.New("chromemdb: embeddings must be computed by the caller")

// VectorDBManager encapsulates the chromem-go database operations for one
// collection. Searches may run concurrently; Replace and Import take the
// write lock.
type VectorDBManager struct {
	mu             sync.RWMutex
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	compress       bool
}

func noEmbedding(context.Context, string) ([]float32, error) {
	return nil, ErrEmbeddingRequired
}

// NewVectorDBManager opens (or creates) the store at dbPath. With inMemory
// set nothing is written to disk.
func NewVectorDBManager(dbPath, collectionName string, inMemory, compress bool) (*VectorDBManager, error) {
	var db *chromem.DB
	if inMemory {
		db = chromem.NewDB()
	} else {
		if err := helper.CreateFolder(dbPath); err != nil {
			return nil, err
		}
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to open vector database %s: %w", dbPath, err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		dbPath:         dbPath,
		compress:       compress,
	}
	if _, err := m.getOrCreateCollection(); err != nil {
		return nil, err
	}
	return m, nil
}

func (m *VectorDBManager) getOrCreateCollection() (*chromem.Collection, error) {
	c, err := m.db.GetOrCreateCollection(m.collectionName, nil, noEmbedding)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection %s: %w", m.collectionName, err)
	}
	m.collection = c
	return c, nil
}

// Count returns the number of stored chunks.
func (m *VectorDBManager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.collection.Count()
}

// Replace drops the collection and fills it with docs.
func (m *VectorDBManager) Replace(ctx context.Context, docs []chromem.Document) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection %s: %w", m.collectionName, err)
	}
	c, err := m.getOrCreateCollection()
	if err != nil {
		return err
	}
	if len(docs) == 0 {
		return nil
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	log.Debug().Str("collection", m.collectionName).Int("documents", len(docs)).Msg("Collection replaced")
	return nil
}

// Search returns up to k nearest chunks, most similar first. Distance is the
// squared euclidean distance between the normalised vectors, 2 - 2*cosine,
// so it is 0 for identical directions and grows to 4 for opposite ones.
func (m *VectorDBManager) Search(ctx context.Context, queryEmbedding []float32, k int) ([]models.SearchResult, error) {
	if len(queryEmbedding) == 0 {
		return nil, errors.New("query embedding must be provided")
	}
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	n := min(k, m.collection.Count())
	if n == 0 {
		return nil, nil
	}
	results, err := m.collection.QueryEmbedding(ctx, queryEmbedding, n, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		out = append(out, models.SearchResult{
			ID:       r.ID,
			Content:  r.Content,
			Source:   r.Metadata[models.MetadataSource],
			Distance: SimilarityToDistance(r.Similarity),
			Metadata: r.Metadata,
		})
	}
	return out, nil
}

// SimilarityToDistance converts cosine similarity of normalised vectors to
// squared euclidean distance.
func SimilarityToDistance(similarity float32) float64 {
	d := 2 - 2*float64(similarity)
	if d < 0 {
		return 0
	}
	return d
}

// Export writes an encrypted snapshot of the collection to filePath.
func (m *VectorDBManager) Export(filePath, encryptionKey string) error {
	if encryptionKey == "" {
		return errors.New("encryption key is required")
	}
	if err := helper.CreateFolder(filepath.Dir(filePath)); err != nil {
		return err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	log.Debug().Str("collection", m.collectionName).Str("file", filePath).Bool("compress", m.compress).Msg("Exporting collection")
	if err := m.db.ExportToFile(filePath, m.compress, encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// Import loads a snapshot written by Export, replacing the collection.
func (m *VectorDBManager) Import(filePath, encryptionKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.db.ImportFromFile(filePath, encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	c := m.db.GetCollection(m.collectionName, noEmbedding)
	if c == nil {
		return fmt.Errorf("snapshot %s has no collection %s", filePath, m.collectionName)
	}
	m.collection = c
	return nil
}
