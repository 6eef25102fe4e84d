package models

import (
	"encoding/json"
	"fmt"
)

// Chunk represents a parsed chunk with provenance
type Chunk struct {
	Content        string
	SourceFilename string
	PageNumber     int
	ChunkID        int
}

// SearchResult is one nearest-neighbour hit. Lower Distance means more similar.
type SearchResult struct {
	ID       string
	Content  string
	Source   string
	Distance float64
	Metadata map[string]string
}

// Turn is one prior exchange replayed by the caller. On the wire it is a
// two element array: [user_query, ai_response].
type Turn struct {
	UserQuery  string
	AIResponse string
}

func (t Turn) MarshalJSON() ([]byte, error) {
	return json.Marshal([2]string{t.UserQuery, t.AIResponse})
}

func (t *Turn) UnmarshalJSON(data []byte) error {
	var pair []string
	if err := json.Unmarshal(data, &pair); err != nil {
		return fmt.Errorf("chat_history entries must be [user_query, ai_response] pairs: %w", err)
	}
	if len(pair) != 2 {
		return fmt.Errorf("chat_history entries must have exactly 2 elements, got %d", len(pair))
	}
	t.UserQuery, t.AIResponse = pair[0], pair[1]
	return nil
}

// ChunkEmbedding pairs a chunk with its vector
type ChunkEmbedding struct {
	ID             string
	Content        string
	Embedding      []float32
	SourceFilename string
	PageNumber     int
	ChunkID        int
}
