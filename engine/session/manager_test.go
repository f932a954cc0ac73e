package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defensight/defensight/engine/vectordb"
)

// stubStore backs the manager tests with canned counts and samples.
type stubStore struct {
	count       int
	countErr    error
	sample      []vectordb.Match
	sampleErr   error
	sampleLimit int
	resetErr    error
	resets      int
}

func (s *stubStore) Upsert(context.Context, []vectordb.Record) error { return nil }
func (s *stubStore) Search(context.Context, []float32, vectordb.SearchOptions) ([]vectordb.Match, error) {
	return nil, nil
}
func (s *stubStore) Count(context.Context) (int, error) { return s.count, s.countErr }
func (s *stubStore) Sample(_ context.Context, limit int) ([]vectordb.Match, error) {
	s.sampleLimit = limit
	if s.sampleErr != nil {
		return nil, s.sampleErr
	}
	if limit < len(s.sample) {
		return s.sample[:limit], nil
	}
	return s.sample, nil
}
func (s *stubStore) Delete(context.Context, vectordb.Filter) error { return nil }
func (s *stubStore) Reset(context.Context) error {
	s.resets++
	if s.resetErr != nil {
		return s.resetErr
	}
	s.count = 0
	s.sample = nil
	return nil
}
func (s *stubStore) Close(context.Context) error { return nil }

func sampleMatch(id string, category string, source string) vectordb.Match {
	return vectordb.Match{
		ID:       id,
		Metadata: map[string]any{"type": category, "source_file": source},
	}
}

func TestManager_Stats(t *testing.T) {
	ctx := context.Background()
	t.Run("ShouldComputeDistributionsFromSample", func(t *testing.T) {
		store := &stubStore{
			count: 4,
			sample: []vectordb.Match{
				sampleMatch("a-0", "ids", "snort.log"),
				sampleMatch("a-1", "ids", "snort.log"),
				sampleMatch("b-0", "config", "fw.json"),
				{ID: "c-0"},
			},
		}
		manager, err := NewManager(store, Config{EmbeddingDimension: 384})
		require.NoError(t, err)
		stats, err := manager.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 4, stats.TotalDocuments)
		assert.Equal(t, 4, stats.Sampled)
		assert.Equal(t, map[string]int{"ids": 2, "config": 1, "unknown": 1}, stats.Categories)
		require.NotEmpty(t, stats.TopSources)
		assert.Equal(t, SourceCount{Source: "snort.log", Count: 2}, stats.TopSources[0])
		assert.Equal(t, 384, stats.EmbeddingDimension)
	})
	t.Run("ShouldCapSampleAtConfiguredLimit", func(t *testing.T) {
		store := &stubStore{count: 5000}
		manager, err := NewManager(store, Config{StatsSampleLimit: 100})
		require.NoError(t, err)
		_, err = manager.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100, store.sampleLimit)
	})
	t.Run("ShouldCapSampleAtTotalWhenSmaller", func(t *testing.T) {
		store := &stubStore{count: 7, sample: []vectordb.Match{sampleMatch("a-0", "ids", "a")}}
		manager, err := NewManager(store, Config{StatsSampleLimit: 1000})
		require.NoError(t, err)
		_, err = manager.Stats(ctx)
		require.NoError(t, err)
		assert.Equal(t, 7, store.sampleLimit)
	})
	t.Run("ShouldSkipSamplingWhenIndexIsEmpty", func(t *testing.T) {
		store := &stubStore{count: 0, sampleErr: errors.New("must not sample")}
		manager, err := NewManager(store, Config{})
		require.NoError(t, err)
		stats, err := manager.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalDocuments)
		assert.Zero(t, stats.Sampled)
		assert.Empty(t, stats.Categories)
		assert.Zero(t, store.sampleLimit)
	})
	t.Run("ShouldLimitTopSourcesToFive", func(t *testing.T) {
		sample := make([]vectordb.Match, 0, 8)
		for i := 0; i < 8; i++ {
			sample = append(sample, sampleMatch(
				fmt.Sprintf("r-%d", i), "log", fmt.Sprintf("src-%d.log", i),
			))
		}
		store := &stubStore{count: 8, sample: sample}
		manager, err := NewManager(store, Config{})
		require.NoError(t, err)
		stats, err := manager.Stats(ctx)
		require.NoError(t, err)
		assert.Len(t, stats.TopSources, 5)
	})
	t.Run("ShouldFailWhenCountFails", func(t *testing.T) {
		store := &stubStore{countErr: errors.New("backend down")}
		manager, err := NewManager(store, Config{})
		require.NoError(t, err)
		_, err = manager.Stats(ctx)
		require.Error(t, err)
	})
}

func TestManager_Clear(t *testing.T) {
	ctx := context.Background()
	writeFile := func(t *testing.T, dir string, name string) {
		t.Helper()
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o644))
	}
	t.Run("ShouldResetIndexAndRemoveSessionFiles", func(t *testing.T) {
		normalized := t.TempDir()
		raw := t.TempDir()
		writeFile(t, normalized, "fw.json")
		writeFile(t, normalized, "snort.json")
		writeFile(t, raw, "fw.log")
		require.NoError(t, os.Mkdir(filepath.Join(raw, "nested"), 0o755))
		store := &stubStore{count: 3}
		manager, err := NewManager(store, Config{NormalizedDir: normalized, RawDir: raw})
		require.NoError(t, err)
		result, err := manager.Clear(ctx)
		require.NoError(t, err)
		assert.Equal(t, 1, store.resets)
		assert.Equal(t, 3, result.FilesRemoved)
		assert.Empty(t, result.FileErrors)
		left, err := os.ReadDir(normalized)
		require.NoError(t, err)
		assert.Empty(t, left)
		stats, err := manager.Stats(ctx)
		require.NoError(t, err)
		assert.Zero(t, stats.TotalDocuments)
	})
	t.Run("ShouldFailWhenIndexResetFails", func(t *testing.T) {
		dir := t.TempDir()
		writeFile(t, dir, "fw.json")
		store := &stubStore{resetErr: errors.New("reset refused")}
		manager, err := NewManager(store, Config{NormalizedDir: dir})
		require.NoError(t, err)
		_, err = manager.Clear(ctx)
		require.Error(t, err)
		left, readErr := os.ReadDir(dir)
		require.NoError(t, readErr)
		assert.Len(t, left, 1)
	})
	t.Run("ShouldIgnoreMissingDirectories", func(t *testing.T) {
		store := &stubStore{}
		manager, err := NewManager(store, Config{
			NormalizedDir: filepath.Join(t.TempDir(), "absent"),
		})
		require.NoError(t, err)
		result, err := manager.Clear(ctx)
		require.NoError(t, err)
		assert.Zero(t, result.FilesRemoved)
		assert.Empty(t, result.FileErrors)
	})
}
