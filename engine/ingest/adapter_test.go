package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defensight/defensight/engine/record"
	"github.com/defensight/defensight/engine/vectordb"
)

// stubEmbedder returns axis-aligned unit vectors: texts containing "alert"
// map to one axis, everything else to another.
type stubEmbedder struct {
	calls    int
	failures int
}

func (s *stubEmbedder) EmbedDocuments(_ context.Context, texts []string) ([][]float32, error) {
	s.calls++
	if s.calls <= s.failures {
		return nil, errors.New("embedding backend unavailable")
	}
	vectors := make([][]float32, len(texts))
	for i, text := range texts {
		if strings.Contains(text, "alert") {
			vectors[i] = []float32{1, 0, 0}
		} else {
			vectors[i] = []float32{0, 1, 0}
		}
	}
	return vectors, nil
}

// memoryStore records upserts keyed by id, mimicking the store's overwrite
// contract.
type memoryStore struct {
	records map[string]vectordb.Record
	upserts int
	fail    bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{records: map[string]vectordb.Record{}}
}

func (m *memoryStore) Upsert(_ context.Context, records []vectordb.Record) error {
	if m.fail {
		return errors.New("store unavailable")
	}
	m.upserts++
	for i := range records {
		m.records[records[i].ID] = records[i]
	}
	return nil
}

func (m *memoryStore) Search(context.Context, []float32, vectordb.SearchOptions) ([]vectordb.Match, error) {
	return nil, nil
}
func (m *memoryStore) Count(context.Context) (int, error) { return len(m.records), nil }
func (m *memoryStore) Sample(context.Context, int) ([]vectordb.Match, error) {
	return nil, nil
}
func (m *memoryStore) Delete(context.Context, vectordb.Filter) error { return nil }
func (m *memoryStore) Reset(context.Context) error {
	m.records = map[string]vectordb.Record{}
	return nil
}
func (m *memoryStore) Close(context.Context) error { return nil }

func newTestAdapter(t *testing.T, emb Embedder, store vectordb.Store, cfg Config) *Adapter {
	t.Helper()
	adapter, err := NewAdapter(emb, store, cfg)
	require.NoError(t, err)
	adapter.now = func() time.Time { return time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC) }
	return adapter
}

func TestAdapter_IngestEntries(t *testing.T) {
	ctx := context.Background()
	entries := []record.Entry{
		{"description": "alert A", "type": "ids"},
		{"description": "", "type": "log"},
		{"description": "cfg B", "type": "config"},
	}
	t.Run("ShouldDropEmptyTextAndKeepPositionalIDs", func(t *testing.T) {
		store := newMemoryStore()
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		indexed, err := adapter.IngestEntries(ctx, entries, "f1")
		require.NoError(t, err)
		assert.Equal(t, 2, indexed)
		require.Contains(t, store.records, "f1-0")
		require.Contains(t, store.records, "f1-2")
		assert.NotContains(t, store.records, "f1-1")
	})
	t.Run("ShouldBeIdempotentUnderReIngestion", func(t *testing.T) {
		store := newMemoryStore()
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		first, err := adapter.IngestEntries(ctx, entries, "f1")
		require.NoError(t, err)
		second, err := adapter.IngestEntries(ctx, entries, "f1")
		require.NoError(t, err)
		assert.Equal(t, first, second)
		total, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})
	t.Run("ShouldPreferExplicitIDs", func(t *testing.T) {
		store := newMemoryStore()
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		_, err := adapter.IngestEntries(ctx, []record.Entry{
			{"id": "evt-42", "description": "alert A"},
		}, "f1")
		require.NoError(t, err)
		assert.Contains(t, store.records, "evt-42")
	})
	t.Run("ShouldDefaultAndSanitizeMetadata", func(t *testing.T) {
		store := newMemoryStore()
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		_, err := adapter.IngestEntries(ctx, []record.Entry{
			{"description": "alert A", "severity": nil, "ports": []any{80.0, 443.0}},
		}, "f1")
		require.NoError(t, err)
		meta := store.records["f1-0"].Metadata
		assert.Equal(t, "f1", meta[record.MetaSourceFile])
		assert.Equal(t, "other", meta[record.MetaType])
		assert.Equal(t, "2025-06-01T12:00:00Z", meta[record.MetaTimestamp])
		assert.Equal(t, "null", meta["severity"])
		assert.Equal(t, "[80,443]", meta["ports"])
	})
	t.Run("ShouldEmbedInFixedBatches", func(t *testing.T) {
		store := newMemoryStore()
		emb := &stubEmbedder{}
		adapter := newTestAdapter(t, emb, store, Config{BatchSize: 2})
		batch := make([]record.Entry, 5)
		for i := range batch {
			batch[i] = record.Entry{"description": fmt.Sprintf("event %d", i)}
		}
		indexed, err := adapter.IngestEntries(ctx, batch, "f2")
		require.NoError(t, err)
		assert.Equal(t, 5, indexed)
		assert.Equal(t, 3, emb.calls)
		assert.Equal(t, 3, store.upserts)
	})
	t.Run("ShouldRetryTransientEmbeddingFailures", func(t *testing.T) {
		store := newMemoryStore()
		emb := &stubEmbedder{failures: 2}
		adapter := newTestAdapter(t, emb, store, Config{RetryBackoff: time.Millisecond, RetryMax: 10 * time.Millisecond})
		indexed, err := adapter.IngestEntries(ctx, entries, "f1")
		require.NoError(t, err)
		assert.Equal(t, 2, indexed)
		assert.Equal(t, 3, emb.calls)
	})
	t.Run("ShouldReturnZeroForNoEntries", func(t *testing.T) {
		adapter := newTestAdapter(t, &stubEmbedder{}, newMemoryStore(), Config{})
		indexed, err := adapter.IngestEntries(ctx, nil, "f1")
		require.NoError(t, err)
		assert.Zero(t, indexed)
	})
}

func TestAdapter_Files(t *testing.T) {
	ctx := context.Background()
	writeFile := func(t *testing.T, dir string, name string, content string) string {
		t.Helper()
		path := filepath.Join(dir, name)
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
		return path
	}
	t.Run("ShouldIngestNormalizedFile", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "fw.json", `[{"description":"alert A","type":"ids"},{"description":"cfg B","type":"config"}]`)
		store := newMemoryStore()
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		indexed, err := adapter.IngestFile(ctx, path)
		require.NoError(t, err)
		assert.Equal(t, 2, indexed)
		assert.Contains(t, store.records, "fw.json-0")
	})
	t.Run("ShouldFailOnMalformedFile", func(t *testing.T) {
		dir := t.TempDir()
		path := writeFile(t, dir, "bad.json", `{"description": "unterminated`)
		adapter := newTestAdapter(t, &stubEmbedder{}, newMemoryStore(), Config{})
		_, err := adapter.IngestFile(ctx, path)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "bad.json")
	})
	t.Run("ShouldContinuePastFailedFilesInReindex", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "a.json", `[{"description":"alert A","type":"ids"}]`)
		writeFile(t, dir, "broken.json", `not json`)
		writeFile(t, dir, "c.json", `[{"description":"cfg B","type":"config"}]`)
		writeFile(t, dir, "notes.txt", `ignored`)
		store := newMemoryStore()
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		result, err := adapter.ReindexDir(ctx, dir)
		require.NoError(t, err)
		assert.Equal(t, 3, result.Files)
		assert.Equal(t, 2, result.Indexed)
		require.Len(t, result.Failed, 1)
		assert.Contains(t, result.Failed[0].Path, "broken.json")
	})
}

func TestAdapter_WithChromemStore(t *testing.T) {
	ctx := context.Background()
	newStore := func(t *testing.T) vectordb.Store {
		t.Helper()
		store, err := vectordb.New(ctx, &vectordb.Config{
			Provider:   vectordb.ProviderChromem,
			Collection: "test_logs",
			Dimension:  3,
		})
		require.NoError(t, err)
		return store
	}
	t.Run("ShouldIndexAndRetrieveByCategory", func(t *testing.T) {
		store := newStore(t)
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		indexed, err := adapter.IngestEntries(ctx, []record.Entry{
			{"description": "alert A", "type": "ids"},
			{"description": "", "type": "log"},
			{"description": "cfg B", "type": "config"},
		}, "f1")
		require.NoError(t, err)
		assert.Equal(t, 2, indexed)
		matches, err := store.Search(ctx, []float32{1, 0, 0}, vectordb.SearchOptions{TopK: 5})
		require.NoError(t, err)
		require.NotEmpty(t, matches)
		assert.Equal(t, "alert A", matches[0].Text)
		assert.Equal(t, "ids", matches[0].Metadata[record.MetaType])
	})
	t.Run("ShouldOverwriteOnReIngestion", func(t *testing.T) {
		store := newStore(t)
		adapter := newTestAdapter(t, &stubEmbedder{}, store, Config{})
		entries := []record.Entry{
			{"description": "alert A", "type": "ids"},
			{"description": "cfg B", "type": "config"},
		}
		_, err := adapter.IngestEntries(ctx, entries, "f1")
		require.NoError(t, err)
		_, err = adapter.IngestEntries(ctx, entries, "f1")
		require.NoError(t, err)
		total, err := store.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 2, total)
	})
}
