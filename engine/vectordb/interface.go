package vectordb

import "context"

// Provider enumerates supported vector database backends.
type Provider string

const (
	// ProviderChromem persists embeddings to an embedded chromem-go store.
	ProviderChromem  Provider = "chromem"
	ProviderPGVector Provider = "pgvector"
	ProviderQdrant   Provider = "qdrant"
	ProviderRedis    Provider = "redis"
)

// Record represents a security log record persisted to the vector store.
type Record struct {
	ID        string
	Text      string
	Embedding []float32
	Metadata  map[string]any
}

// SearchOptions controls similarity search execution.
type SearchOptions struct {
	TopK     int
	MinScore float64
	Filters  map[string]string
}

// Match captures a similarity search result.
type Match struct {
	ID       string
	Score    float64
	Text     string
	Metadata map[string]any
}

// Filter specifies delete criteria.
type Filter struct {
	IDs      []string
	Metadata map[string]string
}

// Store exposes the contract shared by ingestion, retrieval, and session
// management. Sample returns up to limit records in no guaranteed order and
// backs index statistics; Reset drops every record while keeping the store
// usable for subsequent operations.
type Store interface {
	Upsert(ctx context.Context, records []Record) error
	Search(ctx context.Context, query []float32, opts SearchOptions) ([]Match, error)
	Count(ctx context.Context) (int, error)
	Sample(ctx context.Context, limit int) ([]Match, error)
	Delete(ctx context.Context, filter Filter) error
	Reset(ctx context.Context) error
	Close(ctx context.Context) error
}

// Config captures normalized connection details for a vector database.
type Config struct {
	Provider   Provider
	DSN        string
	Path       string
	Collection string
	Metric     string
	Dimension  int
	MaxTopK    int
	APIKey     string
}
