package session

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/defensight/defensight/engine/record"
	"github.com/defensight/defensight/engine/vectordb"
	"github.com/defensight/defensight/pkg/logger"
)

const defaultSampleLimit = 1000

const unknownLabel = "unknown"

// Config describes the sampling bound for statistics and the on-disk
// directories clear-session empties.
type Config struct {
	StatsSampleLimit   int
	NormalizedDir      string
	RawDir             string
	EmbeddingDimension int
}

// SourceCount pairs a source file with its sampled record count.
type SourceCount struct {
	Source string
	Count  int
}

// Stats reports index-wide statistics. Category and source distributions
// come from a bounded sample, not a full scan.
type Stats struct {
	TotalDocuments     int
	Sampled            int
	Categories         map[string]int
	TopSources         []SourceCount
	EmbeddingDimension int
}

// ClearResult reports the outcome of a session clear. The index reset either
// succeeded or the whole operation failed; file cleanup is best effort and
// its failures are surfaced here without failing the operation.
type ClearResult struct {
	FilesRemoved int
	FileErrors   []error
}

// Manager owns the index lifecycle operations exposed to the caller:
// destructive session clearing and index statistics.
type Manager struct {
	store vectordb.Store
	cfg   Config
}

func NewManager(store vectordb.Store, cfg Config) (*Manager, error) {
	if store == nil {
		return nil, errors.New("session: vector store is required")
	}
	if cfg.StatsSampleLimit <= 0 {
		cfg.StatsSampleLimit = defaultSampleLimit
	}
	return &Manager{store: store, cfg: cfg}, nil
}

// Clear drops the named collection, recreates it empty, and then removes all
// files in the normalized and raw directories. Index reset failure fails the
// operation; file deletion failures are collected into the result.
func (m *Manager) Clear(ctx context.Context) (*ClearResult, error) {
	log := logger.FromContext(ctx)
	if err := m.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("session: reset index: %w", err)
	}
	log.Info("vector index cleared")
	result := &ClearResult{}
	for _, dir := range []string{m.cfg.NormalizedDir, m.cfg.RawDir} {
		if dir == "" {
			continue
		}
		removed, errs := removeFiles(dir)
		result.FilesRemoved += removed
		result.FileErrors = append(result.FileErrors, errs...)
	}
	for _, err := range result.FileErrors {
		log.Warn("session file cleanup failed", "error", err)
	}
	return result, nil
}

func removeFiles(dir string) (int, []error) {
	listing, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, []error{fmt.Errorf("read dir %s: %w", dir, err)}
	}
	removed := 0
	var errs []error
	for _, item := range listing {
		if item.IsDir() {
			continue
		}
		path := filepath.Join(dir, item.Name())
		if err := os.Remove(path); err != nil {
			errs = append(errs, fmt.Errorf("remove %s: %w", path, err))
			continue
		}
		removed++
	}
	return removed, errs
}

// Stats returns the total document count plus category and source
// distributions computed from a sample capped at StatsSampleLimit.
func (m *Manager) Stats(ctx context.Context) (*Stats, error) {
	total, err := m.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("session: count documents: %w", err)
	}
	stats := &Stats{
		TotalDocuments:     total,
		Categories:         map[string]int{},
		EmbeddingDimension: m.cfg.EmbeddingDimension,
	}
	if total == 0 {
		return stats, nil
	}
	limit := min(m.cfg.StatsSampleLimit, total)
	sample, err := m.store.Sample(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("session: sample documents: %w", err)
	}
	stats.Sampled = len(sample)
	sources := make(map[string]int)
	for i := range sample {
		category, source := unknownLabel, unknownLabel
		if meta := sample[i].Metadata; meta != nil {
			if v, ok := meta[record.MetaType].(string); ok && v != "" {
				category = v
			}
			if v, ok := meta[record.MetaSourceFile].(string); ok && v != "" {
				source = v
			}
		}
		stats.Categories[category]++
		sources[source]++
	}
	stats.TopSources = topSources(sources, 5)
	return stats, nil
}

func topSources(sources map[string]int, limit int) []SourceCount {
	counts := make([]SourceCount, 0, len(sources))
	for source, count := range sources {
		counts = append(counts, SourceCount{Source: source, Count: count})
	}
	sort.Slice(counts, func(i, j int) bool {
		if counts[i].Count == counts[j].Count {
			return counts[i].Source < counts[j].Source
		}
		return counts[i].Count > counts[j].Count
	})
	if len(counts) > limit {
		counts = counts[:limit]
	}
	return counts
}
