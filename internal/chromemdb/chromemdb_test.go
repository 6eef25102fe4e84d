package chromemdb

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/philippgille/chromem-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"eco-counselor/internal/models"
)

const testKey = "0123456789abcdef0123456789abcdef"

func testDocs() []chromem.Document {
	return []chromem.Document{
		{ID: "a", Content: "guilt", Embedding: []float32{1, 0, 0}, Metadata: map[string]string{models.MetadataSource: "a.md"}},
		{ID: "b", Content: "grief", Embedding: []float32{0, 1, 0}, Metadata: map[string]string{models.MetadataSource: "b.md"}},
		{ID: "c", Content: "mixed", Embedding: []float32{1, 1, 0}, Metadata: map[string]string{models.MetadataSource: "c.md"}},
	}
}

func TestSimilarityToDistance(t *testing.T) {
	assert.InDelta(t, 0.0, SimilarityToDistance(1), 1e-9)
	assert.InDelta(t, 2.0, SimilarityToDistance(0), 1e-9)
	assert.InDelta(t, 4.0, SimilarityToDistance(-1), 1e-9)
	assert.Equal(t, 0.0, SimilarityToDistance(1.0000001))
}

func TestVectorDBManager(t *testing.T) {
	ctx := context.Background()

	t.Run("ShouldReturnNothingFromEmptyCollection", func(t *testing.T) {
		m, err := NewVectorDBManager(filepath.Join(t.TempDir(), "db"), "kb", false, false)
		require.NoError(t, err)
		results, err := m.Search(ctx, []float32{1, 0, 0}, 1)
		require.NoError(t, err)
		assert.Empty(t, results)
	})

	t.Run("ShouldOrderByAscendingDistance", func(t *testing.T) {
		m, err := NewVectorDBManager("", "kb", true, false)
		require.NoError(t, err)
		require.NoError(t, m.Replace(ctx, testDocs()))

		results, err := m.Search(ctx, []float32{1, 0, 0}, 5)
		require.NoError(t, err)
		require.Len(t, results, 3, "k is capped at the collection size")
		assert.Equal(t, "a", results[0].ID)
		assert.Equal(t, "a.md", results[0].Source)
		assert.InDelta(t, 0.0, results[0].Distance, 1e-5)
		assert.Equal(t, "c", results[1].ID)
		assert.InDelta(t, 2-2/1.41421356, results[1].Distance, 1e-4)
		assert.Equal(t, "b", results[2].ID)
		assert.InDelta(t, 2.0, results[2].Distance, 1e-5)
		for i := 1; i < len(results); i++ {
			assert.LessOrEqual(t, results[i-1].Distance, results[i].Distance)
		}
	})

	t.Run("ShouldRejectBadInput", func(t *testing.T) {
		m, err := NewVectorDBManager("", "kb", true, false)
		require.NoError(t, err)
		_, err = m.Search(ctx, nil, 1)
		assert.Error(t, err)
		_, err = m.Search(ctx, []float32{1}, 0)
		assert.Error(t, err)
	})

	t.Run("ShouldReplaceAndPersist", func(t *testing.T) {
		path := filepath.Join(t.TempDir(), "db")
		m, err := NewVectorDBManager(path, "kb", false, false)
		require.NoError(t, err)
		require.NoError(t, m.Replace(ctx, testDocs()))
		require.NoError(t, m.Replace(ctx, testDocs()[:1]))
		assert.Equal(t, 1, m.Count())

		reopened, err := NewVectorDBManager(path, "kb", false, false)
		require.NoError(t, err)
		assert.Equal(t, 1, reopened.Count())
		results, err := reopened.Search(ctx, []float32{0, 1, 0}, 1)
		require.NoError(t, err)
		require.Len(t, results, 1)
		assert.Equal(t, "guilt", results[0].Content)
	})

	t.Run("ShouldRefuseToEmbedText", func(t *testing.T) {
		m, err := NewVectorDBManager("", "kb", true, false)
		require.NoError(t, err)
		err = m.Replace(ctx, []chromem.Document{{ID: "x", Content: "no vector"}})
		assert.Error(t, err)
	})

	t.Run("ShouldServeConcurrentSearches", func(t *testing.T) {
		m, err := NewVectorDBManager("", "kb", true, false)
		require.NoError(t, err)
		require.NoError(t, m.Replace(ctx, testDocs()))

		var wg sync.WaitGroup
		errs := make(chan error, 16)
		for i := 0; i < 16; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := m.Search(ctx, []float32{0, 0, 1}, 2)
				errs <- err
			}()
		}
		wg.Wait()
		close(errs)
		for err := range errs {
			assert.NoError(t, err)
		}
	})
}

func TestExportImport(t *testing.T) {
	ctx := context.Background()
	file := filepath.Join(t.TempDir(), "snapshots", "kb.gob.enc")

	src, err := NewVectorDBManager("", "kb", true, false)
	require.NoError(t, err)
	require.NoError(t, src.Replace(ctx, testDocs()))

	assert.Error(t, src.Export(file, ""), "an encryption key is required")
	require.NoError(t, src.Export(file, testKey))

	dst, err := NewVectorDBManager("", "kb", true, false)
	require.NoError(t, err)
	require.NoError(t, dst.Import(file, testKey))
	assert.Equal(t, 3, dst.Count())

	results, err := dst.Search(ctx, []float32{0, 1, 0}, 1)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, strings.EqualFold("grief", results[0].Content))
}
