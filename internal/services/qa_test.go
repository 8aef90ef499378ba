package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/fyerfyer/contract-auditor/internal/cache"
	"github.com/fyerfyer/contract-auditor/internal/database"
	"github.com/fyerfyer/contract-auditor/internal/document"
	"github.com/fyerfyer/contract-auditor/internal/embedding"
	"github.com/fyerfyer/contract-auditor/internal/llm"
	"github.com/fyerfyer/contract-auditor/internal/models"
	"github.com/fyerfyer/contract-auditor/internal/repository"
	"github.com/fyerfyer/contract-auditor/internal/retriever"
	"github.com/fyerfyer/contract-auditor/internal/vectordb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

type qaHarness struct {
	svc     *QAService
	indexer *vectordb.Indexer
	calls   atomic.Int32
	answer  atomic.Value
	err     error
}

func newQAHarness(t *testing.T) *qaHarness {
	t.Helper()

	embedder, err := embedding.NewHashClient(embedding.WithDimensions(128))
	require.NoError(t, err)
	repo, err := vectordb.NewMemoryRepository(vectordb.Config{Dimension: 128})
	require.NoError(t, err)
	rt, err := retriever.New(repo, embedder, retriever.DefaultConfig())
	require.NoError(t, err)

	c, err := cache.NewMemoryCache(cache.DefaultConfig())
	require.NoError(t, err)

	dbName := fmt.Sprintf("file:memdb_qa_%d?mode=memory&cache=shared", time.Now().UnixNano())
	db, err := gorm.Open(sqlite.Open(dbName), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, database.AutoMigrate(db))
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			sqlDB.Close()
		}
	})

	h := &qaHarness{indexer: vectordb.NewIndexer(repo, embedder)}
	h.answer.Store("The Agreement is governed by the laws of the State of Delaware (Page 3).")

	client := llm.NewMockClient(t)
	client.EXPECT().Generate(mock.Anything, mock.Anything, mock.Anything, mock.Anything).
		RunAndReturn(func(ctx context.Context, prompt string, _ ...llm.GenerateOption) (*llm.Response, error) {
			h.calls.Add(1)
			if h.err != nil {
				return nil, h.err
			}
			if !strings.Contains(prompt, "[Source 1 - Page") {
				return nil, errors.New("prompt is missing labelled context")
			}
			return &llm.Response{Text: h.answer.Load().(string)}, nil
		}).Maybe()

	h.svc = NewQAService(rt, repo, llm.NewRAG(client), c,
		WithQAHistory(repository.NewQARepositoryWithDB(db)))
	return h
}

func (h *qaHarness) index(t *testing.T, doc models.Document, rebuild bool) {
	t.Helper()
	chunks, err := document.NewTextSplitter(document.DefaultSplitterConfig()).Chunk(doc)
	require.NoError(t, err)
	require.NoError(t, h.indexer.Index(context.Background(), doc.ID, chunks, rebuild))
}

func TestQAServiceAsk(t *testing.T) {
	h := newQAHarness(t)
	h.index(t, supplyAgreement("doc-qa"), false)
	ctx := context.Background()
	question := "Which law governs this agreement?"

	first, err := h.svc.Ask(ctx, "doc-qa", question)
	require.NoError(t, err)
	assert.False(t, first.Cached)
	assert.Contains(t, first.Answer, "Delaware")
	assert.Equal(t, models.ConfidenceHigh, first.Confidence)
	assert.NotEmpty(t, first.Sources)
	assert.LessOrEqual(t, len(first.Sources), DefaultQATopK)
	assert.Positive(t, first.Sources[0].Page)

	t.Run("Repeated question is served from cache", func(t *testing.T) {
		second, err := h.svc.Ask(ctx, "doc-qa", "  "+question+" ")
		require.NoError(t, err)
		assert.True(t, second.Cached)
		assert.Equal(t, first.Answer, second.Answer)
		assert.Equal(t, int32(1), h.calls.Load())
	})

	t.Run("Reindexed contract invalidates cached answers", func(t *testing.T) {
		changed := supplyAgreement("doc-qa")
		changed.Pages[2].Text = "12. GOVERNING LAW\nThis Agreement shall be governed by the laws of the State of New York."
		h.index(t, changed, true)
		h.answer.Store("The Agreement is governed by New York law.")

		third, err := h.svc.Ask(ctx, "doc-qa", question)
		require.NoError(t, err)
		assert.False(t, third.Cached)
		assert.Contains(t, third.Answer, "New York")
		assert.Equal(t, int32(2), h.calls.Load())
	})

	t.Run("History is recorded newest first", func(t *testing.T) {
		history, err := h.svc.History(ctx, "doc-qa", 10)
		require.NoError(t, err)
		require.Len(t, history, 2)
		assert.Contains(t, history[0].Answer, "New York")
		assert.Equal(t, question, history[0].Question)
		assert.NotEmpty(t, history[0].Sources)
	})
}

func TestQAServiceConfidence(t *testing.T) {
	h := newQAHarness(t)
	h.index(t, supplyAgreement("doc-hedge"), false)

	h.answer.Store("The contract may allow termination on 30 days notice.")
	ans, err := h.svc.Ask(context.Background(), "doc-hedge", "Can I terminate early?")
	require.NoError(t, err)
	assert.Equal(t, models.ConfidenceMedium, ans.Confidence)

	h.answer.Store("I don't know. The provided contract sections do not contain sufficient information to answer this question.")
	ans, err = h.svc.Ask(context.Background(), "doc-hedge", "Who is the CEO of the Supplier?")
	require.NoError(t, err)
	assert.Equal(t, models.ConfidenceNone, ans.Confidence)
}

func TestQAServiceErrors(t *testing.T) {
	h := newQAHarness(t)
	ctx := context.Background()

	t.Run("Empty question", func(t *testing.T) {
		_, err := h.svc.Ask(ctx, "doc", "   ")
		assert.ErrorIs(t, err, ErrEmptyQuestion)
	})

	t.Run("Unknown document", func(t *testing.T) {
		_, err := h.svc.Ask(ctx, "missing", "Which law governs?")
		assert.ErrorIs(t, err, vectordb.ErrDocumentNotFound)
	})

	t.Run("Provider unavailable", func(t *testing.T) {
		h.index(t, supplyAgreement("doc-down"), false)
		h.err = llm.NewLLMError(llm.ErrCodeNetworkError, "connection refused")
		_, err := h.svc.Ask(ctx, "doc-down", "Which law governs?")
		require.Error(t, err)
		assert.True(t, errors.Is(err, models.ErrProviderUnavailable))
	})
}
