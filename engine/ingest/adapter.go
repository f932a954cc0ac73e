package ingest

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"

	"github.com/defensight/defensight/engine/record"
	"github.com/defensight/defensight/engine/vectordb"
	"github.com/defensight/defensight/pkg/logger"
)

const (
	defaultBatchSize     = 64
	defaultRetryAttempts = 3
	defaultRetryBackoff  = 500 * time.Millisecond
	defaultRetryMax      = 5 * time.Second
)

// Embedder is the batch-embedding surface the adapter depends on.
type Embedder interface {
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
}

// Config tunes batching and transient-failure retries.
type Config struct {
	BatchSize     int
	RetryAttempts int
	RetryBackoff  time.Duration
	RetryMax      time.Duration
}

func (c *Config) normalize() {
	if c.BatchSize <= 0 {
		c.BatchSize = defaultBatchSize
	}
	if c.RetryAttempts <= 0 {
		c.RetryAttempts = defaultRetryAttempts
	}
	if c.RetryBackoff <= 0 {
		c.RetryBackoff = defaultRetryBackoff
	}
	if c.RetryMax <= 0 {
		c.RetryMax = defaultRetryMax
	}
}

// Adapter turns normalized entries into vector index insertions: id
// assignment, metadata sanitization, fixed-size batch embedding, and upsert.
// Re-ingesting a source reproduces the same positional ids, so the store's
// upsert contract makes the operation idempotent.
type Adapter struct {
	embedder Embedder
	store    vectordb.Store
	cfg      Config
	now      func() time.Time
}

func NewAdapter(emb Embedder, store vectordb.Store, cfg Config) (*Adapter, error) {
	if emb == nil {
		return nil, errors.New("ingest: embedder is required")
	}
	if store == nil {
		return nil, errors.New("ingest: vector store is required")
	}
	cfg.normalize()
	return &Adapter{embedder: emb, store: store, cfg: cfg, now: time.Now}, nil
}

// IngestEntries indexes the entries under sourceID and returns how many were
// actually indexed after empty-text filtering.
func (a *Adapter) IngestEntries(ctx context.Context, entries []record.Entry, sourceID string) (int, error) {
	log := logger.FromContext(ctx)
	if len(entries) == 0 {
		return 0, nil
	}
	start := time.Now()
	records := a.prepare(entries, sourceID)
	if len(records) == 0 {
		log.Debug("no indexable entries", "source", sourceID, "entries", len(entries))
		return 0, nil
	}
	indexed := 0
	for batchStart := 0; batchStart < len(records); batchStart += a.cfg.BatchSize {
		end := min(batchStart+a.cfg.BatchSize, len(records))
		batch := records[batchStart:end]
		if err := a.persistBatch(ctx, batch); err != nil {
			recordIngestError(ctx, sourceID)
			return indexed, fmt.Errorf("ingest %s: %w", sourceID, err)
		}
		indexed += len(batch)
	}
	recordIngest(ctx, sourceID, indexed, time.Since(start))
	log.Info("indexed entries", "source", sourceID, "indexed", indexed, "dropped", len(entries)-indexed)
	return indexed, nil
}

// prepare resolves text, assigns positional ids, and sanitizes metadata.
// Position counts every entry, dropped or not, so ids stay stable when an
// empty record later gains text.
func (a *Adapter) prepare(entries []record.Entry, sourceID string) []vectordb.Record {
	records := make([]vectordb.Record, 0, len(entries))
	now := a.now().UTC().Format(time.RFC3339)
	for idx, entry := range entries {
		text := strings.TrimSpace(entry.Text())
		if text == "" {
			continue
		}
		id := entry.ID()
		if id == "" {
			id = fmt.Sprintf("%s-%d", sourceID, idx)
		}
		meta := map[string]any(entry.Record().Metadata)
		if meta == nil {
			meta = make(map[string]any)
		}
		if _, ok := meta[record.MetaSourceFile]; !ok {
			meta[record.MetaSourceFile] = sourceID
		}
		if v, ok := meta[record.MetaType].(string); !ok || v == "" {
			meta[record.MetaType] = record.CategoryOther.String()
		}
		if v, ok := meta[record.MetaTimestamp].(string); !ok || v == "" {
			meta[record.MetaTimestamp] = now
		}
		records = append(records, vectordb.Record{
			ID:       id,
			Text:     text,
			Metadata: record.SanitizeMetadata(meta),
		})
	}
	return records
}

func (a *Adapter) persistBatch(ctx context.Context, batch []vectordb.Record) error {
	texts := make([]string, len(batch))
	for i := range batch {
		texts[i] = batch[i].Text
	}
	var vectors [][]float32
	err := a.withRetry(ctx, func(ctx context.Context) error {
		embedded, embedErr := a.embedder.EmbedDocuments(ctx, texts)
		if embedErr != nil {
			return retry.RetryableError(embedErr)
		}
		vectors = embedded
		return nil
	})
	if err != nil {
		return fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return fmt.Errorf("embed batch: got %d vectors for %d records", len(vectors), len(batch))
	}
	for i := range batch {
		batch[i].Embedding = vectors[i]
	}
	err = a.withRetry(ctx, func(ctx context.Context) error {
		if upsertErr := a.store.Upsert(ctx, batch); upsertErr != nil {
			return retry.RetryableError(upsertErr)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("upsert batch: %w", err)
	}
	return nil
}

func (a *Adapter) withRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	backoff := retry.NewExponential(a.cfg.RetryBackoff)
	backoff = retry.WithMaxDuration(a.cfg.RetryMax, backoff)
	backoff = retry.WithMaxRetries(uint64(a.cfg.RetryAttempts), backoff) //nolint:gosec // attempts normalized > 0
	return retry.Do(ctx, backoff, fn)
}

// IngestFile decodes one normalized JSON file and indexes its entries.
// The source id is the file's base name, matching the ids the upstream
// normalizer advertises.
func (a *Adapter) IngestFile(ctx context.Context, path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return 0, fmt.Errorf("ingest: read %s: %w", path, err)
	}
	entries, err := record.DecodeEntries(data)
	if err != nil {
		return 0, fmt.Errorf("ingest: %s: %w", filepath.Base(path), err)
	}
	return a.IngestEntries(ctx, entries, filepath.Base(path))
}

// FailedFile records a per-file reindex failure.
type FailedFile struct {
	Path string
	Err  error
}

// ReindexResult summarizes a directory reindex.
type ReindexResult struct {
	Files   int
	Indexed int
	Failed  []FailedFile
}

// ReindexDir indexes every *.json file in dir. Per-file failures are logged
// and collected; they never abort the remaining files.
func (a *Adapter) ReindexDir(ctx context.Context, dir string) (*ReindexResult, error) {
	log := logger.FromContext(ctx)
	listing, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("ingest: read dir %s: %w", dir, err)
	}
	names := make([]string, 0, len(listing))
	for _, item := range listing {
		if item.IsDir() || !strings.EqualFold(filepath.Ext(item.Name()), ".json") {
			continue
		}
		names = append(names, item.Name())
	}
	sort.Strings(names)
	result := &ReindexResult{Files: len(names)}
	for _, name := range names {
		path := filepath.Join(dir, name)
		indexed, err := a.IngestFile(ctx, path)
		result.Indexed += indexed
		if err != nil {
			log.Error("failed to reindex file", "file", name, "error", err)
			result.Failed = append(result.Failed, FailedFile{Path: path, Err: err})
		}
	}
	return result, nil
}
