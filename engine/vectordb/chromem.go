package vectordb

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"time"

	chromem "github.com/philippgille/chromem-go"
)

// chromemStore persists embeddings to an embedded chromem-go database,
// in-memory when no path is configured.
type chromemStore struct {
	db         *chromem.DB
	collection string
	dimension  int
	maxTopK    int
}

func newChromemStore(cfg *Config) (Store, error) {
	if cfg == nil {
		return nil, errors.New("vectordb: config is required")
	}
	var (
		db  *chromem.DB
		err error
	)
	if cfg.Path != "" {
		db, err = chromem.NewPersistentDB(cfg.Path, false)
		if err != nil {
			return nil, fmt.Errorf("chromem: open %q: %w", cfg.Path, err)
		}
	} else {
		db = chromem.NewDB()
	}
	store := &chromemStore{
		db:         db,
		collection: cfg.Collection,
		dimension:  cfg.Dimension,
		maxTopK:    cfg.MaxTopK,
	}
	if _, err := store.getCollection(); err != nil {
		return nil, err
	}
	return store, nil
}

// getCollection resolves a fresh handle per operation; a cached handle goes
// stale once Reset recreates the collection.
func (s *chromemStore) getCollection() (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(s.collection, nil, rejectEmbeddingFunc)
	if err != nil {
		return nil, fmt.Errorf("chromem: get collection %q: %w", s.collection, err)
	}
	return col, nil
}

// rejectEmbeddingFunc guards against paths that forget to embed upstream.
// Every record reaches the store with its embedding already computed.
func rejectEmbeddingFunc(context.Context, string) ([]float32, error) {
	return nil, errors.New("chromem: embedding must be computed upstream")
}

func (s *chromemStore) Upsert(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	col, err := s.getCollection()
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(records))
	for i := range records {
		rec := records[i]
		if len(rec.Embedding) != s.dimension {
			return fmt.Errorf(
				"chromem: record %q dimension mismatch (got %d want %d)",
				rec.ID,
				len(rec.Embedding),
				s.dimension,
			)
		}
		docs = append(docs, chromem.Document{
			ID:        rec.ID,
			Content:   rec.Text,
			Embedding: rec.Embedding,
			Metadata:  stringifyMetadata(rec.Metadata),
		})
	}
	if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		recordVectorError(ctx, "upsert", "chromem")
		return fmt.Errorf("chromem: upsert %d records: %w", len(docs), err)
	}
	return nil
}

func (s *chromemStore) Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error) {
	if len(query) != s.dimension {
		return nil, fmt.Errorf("chromem: query dimension mismatch (got %d want %d)", len(query), s.dimension)
	}
	col, err := s.getCollection()
	if err != nil {
		return nil, err
	}
	stored := col.Count()
	if stored == 0 {
		return nil, nil
	}
	topK := opts.TopK
	if topK <= 0 {
		topK = defaultTopK
	}
	if s.maxTopK > 0 && topK > s.maxTopK {
		topK = s.maxTopK
	}
	// chromem rejects result counts above the collection size.
	if topK > stored {
		topK = stored
	}
	start := time.Now()
	results, err := col.QueryEmbedding(ctx, query, topK, opts.Filters, nil)
	if err != nil {
		recordVectorError(ctx, "search", "chromem")
		return nil, fmt.Errorf("chromem: search: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for i := range results {
		score := float64(results[i].Similarity)
		if score < opts.MinScore {
			continue
		}
		matches = append(matches, Match{
			ID:       results[i].ID,
			Score:    score,
			Text:     results[i].Content,
			Metadata: metadataToAny(results[i].Metadata),
		})
	}
	minDistance := 0.0
	if len(matches) > 0 {
		minDistance = 1 - matches[0].Score
	}
	recordVectorSearch(ctx, "chromem", topK, time.Since(start), len(matches), minDistance, len(matches) > 0)
	return matches, nil
}

func (s *chromemStore) Count(_ context.Context) (int, error) {
	col, err := s.getCollection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}

func (s *chromemStore) Sample(ctx context.Context, limit int) ([]Match, error) {
	if limit <= 0 {
		return nil, nil
	}
	col, err := s.getCollection()
	if err != nil {
		return nil, err
	}
	stored := col.Count()
	if stored == 0 {
		return nil, nil
	}
	if limit > stored {
		limit = stored
	}
	// A fixed unit probe turns the similarity query into a plain scan with a
	// well-defined score for every stored vector.
	probe := make([]float32, s.dimension)
	probe[0] = 1
	results, err := col.QueryEmbedding(ctx, probe, limit, nil, nil)
	if err != nil {
		recordVectorError(ctx, "sample", "chromem")
		return nil, fmt.Errorf("chromem: sample: %w", err)
	}
	matches := make([]Match, 0, len(results))
	for i := range results {
		matches = append(matches, Match{
			ID:       results[i].ID,
			Score:    float64(results[i].Similarity),
			Text:     results[i].Content,
			Metadata: metadataToAny(results[i].Metadata),
		})
	}
	return matches, nil
}

func (s *chromemStore) Delete(ctx context.Context, filter Filter) error {
	if len(filter.IDs) == 0 && len(filter.Metadata) == 0 {
		return nil
	}
	col, err := s.getCollection()
	if err != nil {
		return err
	}
	if err := col.Delete(ctx, filter.Metadata, nil, filter.IDs...); err != nil {
		recordVectorError(ctx, "delete", "chromem")
		return fmt.Errorf("chromem: delete: %w", err)
	}
	return nil
}

func (s *chromemStore) Reset(ctx context.Context) error {
	if err := s.db.DeleteCollection(s.collection); err != nil {
		recordVectorError(ctx, "reset", "chromem")
		return fmt.Errorf("chromem: drop collection %q: %w", s.collection, err)
	}
	if _, err := s.getCollection(); err != nil {
		return err
	}
	return nil
}

func (s *chromemStore) Close(context.Context) error {
	return nil
}

func stringifyMetadata(meta map[string]any) map[string]string {
	if len(meta) == 0 {
		return nil
	}
	out := make(map[string]string, len(meta))
	for key, value := range meta {
		switch v := value.(type) {
		case string:
			out[key] = v
		default:
			out[key] = fmt.Sprint(v)
		}
	}
	return out
}

func metadataToAny(meta map[string]string) map[string]any {
	out := make(map[string]any, len(meta))
	for key, value := range meta {
		out[key] = value
	}
	return out
}
