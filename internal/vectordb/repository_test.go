package vectordb

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/fyerfyer/contract-auditor/internal/embedding"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

const testDim = 4

// newTestRecord 创建用于测试的记录
func newTestRecord(docID string, idx int, text string, vec []float32) Record {
	return NewRecord(models.Chunk{
		DocumentID: docID,
		ChunkIndex: idx,
		Text:       text,
		PageNumber: 1,
	}, vec)
}

// testRepositories 每种可在测试环境运行的仓库
func testRepositories(t *testing.T) map[string]Repository {
	t.Helper()
	repos := make(map[string]Repository)
	for _, typ := range []string{"memory", "sqlite"} {
		repo, err := NewRepository(Config{Type: typ, Dimension: testDim, InMemory: true})
		require.NoError(t, err, typ)
		t.Cleanup(func() { repo.Close() })
		repos[typ] = repo
	}
	return repos
}

func TestRepositoryBasics(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			records := []Record{
				newTestRecord("doc-a", 0, "governing law", []float32{1, 0, 0, 0}),
				newTestRecord("doc-a", 1, "termination", []float32{0, 1, 0, 0}),
				newTestRecord("doc-a", 2, "payment", []float32{0, 0, 1, 0}),
			}
			require.NoError(t, repo.Upsert("doc-a", records, "fp-1"))

			count, err := repo.CountByDocument("doc-a")
			require.NoError(t, err)
			assert.Equal(t, 3, count)

			rec, err := repo.Get("doc-a", 1)
			require.NoError(t, err)
			assert.Equal(t, "termination", rec.Chunk.Text)

			_, err = repo.Get("doc-a", 9)
			assert.ErrorIs(t, err, ErrRecordNotFound)

			fp, err := repo.Fingerprint("doc-a")
			require.NoError(t, err)
			assert.Equal(t, "fp-1", fp)

			results, err := repo.Search([]float32{0, 2, 0, 0}, SearchFilter{DocumentIDs: []string{"doc-a"}, MaxResults: 2})
			require.NoError(t, err)
			require.Len(t, results, 2)
			assert.Equal(t, 1, results[0].Record.ChunkIndex)
			assert.InDelta(t, 1.0, results[0].Score, 1e-6)

			assert.Equal(t, testDim, repo.GetDimension())

			require.NoError(t, repo.DeleteByDocument("doc-a"))
			count, err = repo.CountByDocument("doc-a")
			require.NoError(t, err)
			assert.Zero(t, count)
			fp, err = repo.Fingerprint("doc-a")
			require.NoError(t, err)
			assert.Empty(t, fp)
		})
	}
}

func TestRepositoryValidation(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			err := repo.Upsert("doc-a", []Record{newTestRecord("doc-a", 0, "x", []float32{1, 0})}, "")
			assert.ErrorIs(t, err, ErrInvalidDimension)

			err = repo.Upsert("doc-a", []Record{newTestRecord("doc-b", 0, "x", []float32{1, 0, 0, 0})}, "")
			assert.ErrorIs(t, err, ErrMixedDocuments)

			err = repo.Rebuild("", nil, "")
			assert.ErrorIs(t, err, ErrInvalidDocumentID)

			_, err = repo.Search(nil, SearchFilter{})
			assert.ErrorIs(t, err, ErrEmptyVector)
		})
	}
}

// 重复写入同一文档不会产生重复记录
func TestRepositoryUpsertNoDuplicates(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			records := []Record{
				newTestRecord("doc-a", 0, "first", []float32{1, 0, 0, 0}),
				newTestRecord("doc-a", 1, "second", []float32{0, 1, 0, 0}),
			}
			require.NoError(t, repo.Upsert("doc-a", records, "fp"))
			first, err := repo.Count()
			require.NoError(t, err)

			require.NoError(t, repo.Upsert("doc-a", records, "fp"))
			second, err := repo.Count()
			require.NoError(t, err)
			assert.Equal(t, first, second)

			// 同键替换，新键追加
			require.NoError(t, repo.Upsert("doc-a", []Record{
				newTestRecord("doc-a", 1, "second v2", []float32{0, 1, 0, 0}),
				newTestRecord("doc-a", 2, "third", []float32{0, 0, 1, 0}),
			}, "fp2"))
			count, err := repo.CountByDocument("doc-a")
			require.NoError(t, err)
			assert.Equal(t, 3, count)
			rec, err := repo.Get("doc-a", 1)
			require.NoError(t, err)
			assert.Equal(t, "second v2", rec.Chunk.Text)
		})
	}
}

// 重建后旧记录不可见
func TestRepositoryRebuildInvalidatesOldRecords(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			old := []Record{
				newTestRecord("doc-a", 0, "old 0", []float32{1, 0, 0, 0}),
				newTestRecord("doc-a", 1, "old 1", []float32{1, 1, 0, 0}),
				newTestRecord("doc-a", 2, "old 2", []float32{1, 1, 1, 0}),
			}
			require.NoError(t, repo.Upsert("doc-a", old, "v1"))
			require.NoError(t, repo.Upsert("doc-b", []Record{newTestRecord("doc-b", 0, "other", []float32{1, 0, 0, 0})}, "b"))

			fresh := []Record{
				newTestRecord("doc-a", 0, "new 0", []float32{0, 0, 0, 1}),
			}
			require.NoError(t, repo.Rebuild("doc-a", fresh, "v2"))

			count, err := repo.CountByDocument("doc-a")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{DocumentIDs: []string{"doc-a"}, MinScore: -1})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "new 0", results[0].Record.Chunk.Text)

			// 其他文档不受影响
			count, err = repo.CountByDocument("doc-b")
			require.NoError(t, err)
			assert.Equal(t, 1, count)

			fp, err := repo.Fingerprint("doc-a")
			require.NoError(t, err)
			assert.Equal(t, "v2", fp)
		})
	}
}

// 相同得分按 document_id、chunk_index 升序
func TestRepositorySearchTieOrder(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			vec := []float32{0.5, 0.5, 0.5, 0.5}
			require.NoError(t, repo.Upsert("doc-b", []Record{
				newTestRecord("doc-b", 2, "b2", vec),
				newTestRecord("doc-b", 0, "b0", vec),
			}, ""))
			require.NoError(t, repo.Upsert("doc-a", []Record{
				newTestRecord("doc-a", 1, "a1", vec),
				newTestRecord("doc-a", 0, "a0", vec),
			}, ""))

			for i := 0; i < 5; i++ {
				results, err := repo.Search(vec, SearchFilter{})
				require.NoError(t, err)
				var keys []string
				for _, r := range results {
					keys = append(keys, r.Record.Key())
				}
				assert.Equal(t, []string{"doc-a#0", "doc-a#1", "doc-b#0", "doc-b#2"}, keys)
			}
		})
	}
}

func TestRepositorySearchFilters(t *testing.T) {
	for name, repo := range testRepositories(t) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, repo.Upsert("doc-a", []Record{
				newTestRecord("doc-a", 0, "match", []float32{1, 0, 0, 0}),
				newTestRecord("doc-a", 1, "orthogonal", []float32{0, 1, 0, 0}),
			}, ""))
			require.NoError(t, repo.Upsert("doc-b", []Record{
				newTestRecord("doc-b", 0, "match", []float32{1, 0, 0, 0}),
			}, ""))

			results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{DocumentIDs: []string{"doc-a"}, MinScore: 0.5})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "doc-a#0", results[0].Record.Key())

			results, err = repo.Search([]float32{1, 0, 0, 0}, SearchFilter{DocumentIDs: []string{"missing"}})
			require.NoError(t, err)
			assert.Empty(t, results)

			results, err = repo.Search([]float32{1, 0, 0, 0}, SearchFilter{MaxResults: 1})
			require.NoError(t, err)
			require.Len(t, results, 1)
			assert.Equal(t, "doc-a#0", results[0].Record.Key())
		})
	}
}

// 重建期间的查询只能看到完整的旧集合或完整的新集合
func TestMemoryRepositoryConcurrentRebuild(t *testing.T) {
	repo, err := NewMemoryRepository(Config{Dimension: testDim})
	require.NoError(t, err)

	generation := func(tag string, n int) []Record {
		out := make([]Record, n)
		for i := range out {
			out[i] = newTestRecord("doc-a", i, tag, []float32{1, float32(i), 0, 0})
		}
		return out
	}
	require.NoError(t, repo.Rebuild("doc-a", generation("x", 3), "x"))

	var wg sync.WaitGroup
	for w := 0; w < 4; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				if (i+w)%2 == 0 {
					assert.NoError(t, repo.Rebuild("doc-a", generation("y", 5), "y"))
				} else {
					assert.NoError(t, repo.Rebuild("doc-a", generation("x", 3), "x"))
				}
			}
		}(w)
	}
	for r := 0; r < 4; r++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				results, err := repo.Search([]float32{1, 0, 0, 0}, SearchFilter{DocumentIDs: []string{"doc-a"}, MinScore: -1})
				if !assert.NoError(t, err) {
					return
				}
				tag := results[0].Record.Chunk.Text
				want := map[string]int{"x": 3, "y": 5}[tag]
				assert.Len(t, results, want)
				for _, res := range results {
					assert.Equal(t, tag, res.Record.Chunk.Text)
				}
			}
		}()
	}
	wg.Wait()
}

func TestIndexer(t *testing.T) {
	embedder, err := embedding.NewClient("hash", embedding.WithDimensions(256))
	require.NoError(t, err)
	repo, err := NewRepository(Config{Type: "memory", Dimension: 256})
	require.NoError(t, err)
	indexer := NewIndexer(repo, embedder, WithBatchSize(2), WithWorkers(2))

	texts := []string{
		"This Agreement shall be governed by the laws of the State of New York.",
		"Either party may terminate this Agreement upon 30 days notice.",
		"All intellectual property created hereunder is assigned to Company.",
	}
	chunks := make([]models.Chunk, len(texts))
	for i, text := range texts {
		chunks[i] = models.Chunk{DocumentID: "doc-1", ChunkIndex: i, Text: text, PageNumber: i + 1}
	}
	fp := indexer.Fingerprint(chunks)

	ok, err := indexer.IsUpToDate("doc-1", fp)
	require.NoError(t, err)
	assert.False(t, ok)

	ctx := context.Background()
	require.NoError(t, indexer.Index(ctx, "doc-1", chunks, false))
	require.NoError(t, indexer.Index(ctx, "doc-1", chunks, false))

	count, err := repo.CountByDocument("doc-1")
	require.NoError(t, err)
	assert.Equal(t, 3, count)

	ok, err = indexer.IsUpToDate("doc-1", fp)
	require.NoError(t, err)
	assert.True(t, ok)

	changed := append([]models.Chunk(nil), chunks...)
	changed[0].Text = strings.Replace(changed[0].Text, "New York", "Delaware", 1)
	ok, err = indexer.IsUpToDate("doc-1", indexer.Fingerprint(changed))
	require.NoError(t, err)
	assert.False(t, ok)

	results, err := indexer.Query(ctx, "terminate the agreement with notice", SearchFilter{DocumentIDs: []string{"doc-1"}, MaxResults: 1})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, 1, results[0].Record.ChunkIndex)

	err = indexer.Index(ctx, "doc-2", chunks, true)
	assert.ErrorIs(t, err, models.ErrIndex)
}

func TestIndexerProviderUnavailable(t *testing.T) {
	mockClient := embedding.NewMockClient(t)
	mockClient.EXPECT().Name().Return("mock").Maybe()
	mockClient.EXPECT().EmbedBatch(mock.Anything, mock.Anything).
		Return(nil, embedding.NewEmbeddingError(embedding.ErrCodeNetworkError, "connection refused"))

	repo, err := NewRepository(Config{Dimension: testDim})
	require.NoError(t, err)
	indexer := NewIndexer(repo, mockClient)

	chunks := []models.Chunk{{DocumentID: "doc-1", ChunkIndex: 0, Text: "text"}}
	err = indexer.Index(context.Background(), "doc-1", chunks, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrProviderUnavailable)
	assert.True(t, models.IsFatal(err))
	assert.Contains(t, fmt.Sprint(err), "embed chunks")
}
