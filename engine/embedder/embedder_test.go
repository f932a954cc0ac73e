package embedder

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubEmbedder struct {
	queryCalls int
	docCalls   int
	batches    [][]string
	err        error
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.docCalls++
	s.batches = append(s.batches, texts)
	if s.err != nil {
		return nil, s.err
	}
	vectors := make([][]float32, len(texts))
	for i := range texts {
		vectors[i] = []float32{float32(len(texts[i])), 1}
	}
	return vectors, nil
}

func (s *stubEmbedder) EmbedQuery(_ context.Context, text string) ([]float32, error) {
	s.queryCalls++
	if s.err != nil {
		return nil, s.err
	}
	return []float32{float32(len(text)), 2}, nil
}

func testConfig() *Config {
	return &Config{
		Provider:  ProviderLocal,
		Model:     "sentence-transformers/all-MiniLM-L6-v2",
		Dimension: 384,
		BatchSize: 64,
	}
}

func TestWrap(t *testing.T) {
	t.Run("ShouldRejectNilImplementation", func(t *testing.T) {
		_, err := Wrap(testConfig(), nil)
		require.Error(t, err)
	})
	t.Run("ShouldRejectInvalidDimension", func(t *testing.T) {
		cfg := testConfig()
		cfg.Dimension = 0
		_, err := Wrap(cfg, &stubEmbedder{})
		require.ErrorIs(t, err, errInvalidDimension)
	})
	t.Run("ShouldExposeConfiguredShape", func(t *testing.T) {
		adapter, err := Wrap(testConfig(), &stubEmbedder{})
		require.NoError(t, err)
		assert.Equal(t, 384, adapter.Dimension())
		assert.Equal(t, 64, adapter.BatchSize())
	})
}

func TestAdapterCache(t *testing.T) {
	ctx := context.Background()
	t.Run("ShouldServeRepeatQueriesFromCache", func(t *testing.T) {
		stub := &stubEmbedder{}
		adapter, err := Wrap(testConfig(), stub)
		require.NoError(t, err)
		require.NoError(t, adapter.EnableCache(8))

		first, err := adapter.EmbedQuery(ctx, "failed ssh logins")
		require.NoError(t, err)
		second, err := adapter.EmbedQuery(ctx, "failed ssh logins")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		assert.Equal(t, 1, stub.queryCalls)
	})
	t.Run("ShouldIsolateCachedVectorsFromCallerMutation", func(t *testing.T) {
		stub := &stubEmbedder{}
		adapter, err := Wrap(testConfig(), stub)
		require.NoError(t, err)
		require.NoError(t, adapter.EnableCache(8))

		first, err := adapter.EmbedQuery(ctx, "port scan from 10.0.0.5")
		require.NoError(t, err)
		first[0] = -999
		second, err := adapter.EmbedQuery(ctx, "port scan from 10.0.0.5")
		require.NoError(t, err)
		assert.NotEqual(t, first[0], second[0])
	})
	t.Run("ShouldDeduplicateDocumentBatches", func(t *testing.T) {
		stub := &stubEmbedder{}
		adapter, err := Wrap(testConfig(), stub)
		require.NoError(t, err)
		require.NoError(t, adapter.EnableCache(8))

		vectors, err := adapter.EmbedDocuments(ctx, []string{"alpha", "beta", "alpha"})
		require.NoError(t, err)
		require.Len(t, vectors, 3)
		assert.Equal(t, vectors[0], vectors[2])
		require.Len(t, stub.batches, 1)
		assert.ElementsMatch(t, []string{"alpha", "beta"}, stub.batches[0])

		_, err = adapter.EmbedDocuments(ctx, []string{"beta", "alpha"})
		require.NoError(t, err)
		assert.Equal(t, 1, stub.docCalls)
	})
}

func TestAdapterErrors(t *testing.T) {
	ctx := context.Background()
	t.Run("ShouldWrapProviderErrors", func(t *testing.T) {
		stub := &stubEmbedder{err: errors.New("429 rate limit")}
		adapter, err := Wrap(testConfig(), stub)
		require.NoError(t, err)
		_, err = adapter.EmbedQuery(ctx, "anything")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "embedder")
	})
	t.Run("ShouldCategorizeErrorText", func(t *testing.T) {
		assert.Equal(t, ErrorTypeRateLimit, categorizeError(errors.New("HTTP 429: rate limit reached")))
		assert.Equal(t, ErrorTypeAuth, categorizeError(errors.New("401 unauthorized")))
		assert.Equal(t, ErrorTypeInvalidInput, categorizeError(errors.New("400 bad request")))
		assert.Equal(t, ErrorTypeServerError, categorizeError(errors.New("connection reset")))
	})
}
