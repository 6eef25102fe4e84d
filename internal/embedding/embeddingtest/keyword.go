// Package embeddingtest provides a deterministic embedder for tests.
package embeddingtest

import (
	"context"
	"strings"
	"sync/atomic"
	"unicode"
)

// KeywordEmbedder maps text onto one axis per vocabulary word it contains.
// Text containing none of the words lands on a shared "other" axis, so
// unrelated texts are orthogonal to everything in the vocabulary.
type KeywordEmbedder struct {
	Model string
	Vocab []string
	Err   error
	Calls atomic.Int64
}

func NewKeywordEmbedder(model string, vocab ...string) *KeywordEmbedder {
	return &KeywordEmbedder{Model: model, Vocab: vocab}
}

func (k *KeywordEmbedder) ModelID() string {
	return k.Model
}

func (k *KeywordEmbedder) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := k.EmbedQuery(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (k *KeywordEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	k.Calls.Add(1)
	if k.Err != nil {
		return nil, k.Err
	}
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && r != '-'
	})
	present := make(map[string]bool, len(words))
	for _, w := range words {
		present[w] = true
	}

	v := make([]float32, len(k.Vocab)+1)
	hit := false
	for i, w := range k.Vocab {
		if present[w] {
			v[i] = 1
			hit = true
		}
	}
	if !hit {
		v[len(k.Vocab)] = 1
	}
	return v, nil
}
