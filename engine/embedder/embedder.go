package embedder

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/embeddings/cybertron"
	"github.com/tmc/langchaingo/llms/googleai"
	"github.com/tmc/langchaingo/llms/googleai/vertex"
	"github.com/tmc/langchaingo/llms/openai"
)

// Provider enumerates supported embedding backends.
type Provider string

const (
	// ProviderLocal runs a sentence-transformers model in-process.
	ProviderLocal  Provider = "local"
	ProviderOpenAI Provider = "openai"
	ProviderVertex Provider = "vertex"
)

// Config describes the embedding backend and vector shape.
type Config struct {
	Provider  Provider
	Model     string
	APIKey    string
	Dimension int
	BatchSize int
	ModelsDir string
	ProjectID string
	Location  string
}

var (
	errMissingProvider  = errors.New("embedder: provider is required")
	errMissingModel     = errors.New("embedder: model is required")
	errInvalidDimension = errors.New("embedder: dimension must be greater than zero")
	errInvalidBatchSize = errors.New("embedder: batch size must be greater than zero")
)

// Adapter wraps a langchaingo embedder implementation and augments error
// reporting. It satisfies embeddings.Embedder itself, so callers can layer
// caching transparently.
type Adapter struct {
	provider  Provider
	model     string
	dimension int
	batchSize int
	impl      embeddings.Embedder
	cacheMu   sync.Mutex
	cache     *lru.Cache[string, []float32]
}

// New constructs a provider-backed embedder adapter.
func New(ctx context.Context, cfg *Config) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder: config is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	impl, err := buildProviderEmbedder(ctx, cfg)
	if err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

// Wrap constructs an adapter around an existing langchaingo embedder.
func Wrap(cfg *Config, impl embeddings.Embedder) (*Adapter, error) {
	if cfg == nil {
		return nil, errors.New("embedder: config is required")
	}
	if impl == nil {
		return nil, errors.New("embedder: implementation is required")
	}
	if err := validateConfig(cfg); err != nil {
		return nil, err
	}
	return newAdapter(cfg, impl), nil
}

func newAdapter(cfg *Config, impl embeddings.Embedder) *Adapter {
	return &Adapter{
		provider:  cfg.Provider,
		model:     cfg.Model,
		dimension: cfg.Dimension,
		batchSize: cfg.BatchSize,
		impl:      impl,
	}
}

// Dimension returns the configured vector dimension.
func (a *Adapter) Dimension() int {
	return a.dimension
}

// BatchSize returns the configured batch size.
func (a *Adapter) BatchSize() int {
	return a.batchSize
}

// Model returns the configured model name.
func (a *Adapter) Model() string {
	return a.model
}

// EnableCache initializes an LRU cache for embeddings.
func (a *Adapter) EnableCache(size int) error {
	if size <= 0 {
		return errors.New("embedder: cache size must be greater than zero")
	}
	cache, err := lru.New[string, []float32](size)
	if err != nil {
		return fmt.Errorf("embedder: init cache: %w", err)
	}
	a.cacheMu.Lock()
	a.cache = cache
	a.cacheMu.Unlock()
	return nil
}

// EmbedDocuments delegates to the underlying implementation with contextual errors.
func (a *Adapter) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if cache := a.getCache(); cache != nil {
		return a.cachedEmbedDocuments(ctx, cache, texts)
	}
	start := time.Now()
	vectors, err := a.impl.EmbedDocuments(ctx, texts)
	if err != nil {
		recordError(ctx, a.provider, a.model, categorizeError(err))
		return nil, a.withContext(err)
	}
	recordGeneration(ctx, a.provider, a.model, len(texts), time.Since(start))
	return vectors, nil
}

// EmbedQuery delegates to the underlying implementation with contextual errors.
func (a *Adapter) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	cache := a.getCache()
	if cache != nil {
		if vector, ok := a.lookupCache(cache, text); ok {
			recordCacheHit(ctx, a.provider)
			return vector, nil
		}
		recordCacheMiss(ctx, a.provider)
	}
	start := time.Now()
	vector, err := a.impl.EmbedQuery(ctx, text)
	if err != nil {
		recordError(ctx, a.provider, a.model, categorizeError(err))
		return nil, a.withContext(err)
	}
	recordGeneration(ctx, a.provider, a.model, 1, time.Since(start))
	if cache != nil {
		cloned := cloneVector(vector)
		a.storeCache(cache, text, vector)
		return cloned, nil
	}
	return vector, nil
}

func (a *Adapter) cachedEmbedDocuments(
	ctx context.Context,
	cache *lru.Cache[string, []float32],
	texts []string,
) ([][]float32, error) {
	results := make([][]float32, len(texts))
	missingIdxMap := make(map[string][]int)
	for i := range texts {
		text := texts[i]
		if vector, ok := a.lookupCache(cache, text); ok {
			recordCacheHit(ctx, a.provider)
			results[i] = vector
			continue
		}
		recordCacheMiss(ctx, a.provider)
		missingIdxMap[text] = append(missingIdxMap[text], i)
	}
	if len(missingIdxMap) == 0 {
		return results, nil
	}
	uniqueMissing := make([]string, 0, len(missingIdxMap))
	for text := range missingIdxMap {
		uniqueMissing = append(uniqueMissing, text)
	}
	start := time.Now()
	embedded, err := a.impl.EmbedDocuments(ctx, uniqueMissing)
	if err != nil {
		recordError(ctx, a.provider, a.model, categorizeError(err))
		return nil, a.withContext(err)
	}
	if len(embedded) != len(uniqueMissing) {
		return nil, a.withContext(fmt.Errorf("received %d embeddings for %d texts", len(embedded), len(uniqueMissing)))
	}
	recordGeneration(ctx, a.provider, a.model, len(uniqueMissing), time.Since(start))
	for i := range embedded {
		text := uniqueMissing[i]
		for _, idx := range missingIdxMap[text] {
			results[idx] = cloneVector(embedded[i])
		}
		a.storeCache(cache, text, embedded[i])
	}
	return results, nil
}

func (a *Adapter) getCache() *lru.Cache[string, []float32] {
	a.cacheMu.Lock()
	cache := a.cache
	a.cacheMu.Unlock()
	return cache
}

func (a *Adapter) lookupCache(cache *lru.Cache[string, []float32], text string) ([]float32, bool) {
	if cache == nil {
		return nil, false
	}
	key := cacheKey(text)
	a.cacheMu.Lock()
	current := a.cache
	if current == nil || current != cache {
		a.cacheMu.Unlock()
		return nil, false
	}
	value, ok := current.Get(key)
	a.cacheMu.Unlock()
	if !ok {
		return nil, false
	}
	return cloneVector(value), true
}

func (a *Adapter) storeCache(cache *lru.Cache[string, []float32], text string, vector []float32) {
	if cache == nil || len(vector) == 0 {
		return
	}
	key := cacheKey(text)
	a.cacheMu.Lock()
	if a.cache == cache && a.cache != nil {
		a.cache.Add(key, cloneVector(vector))
	}
	a.cacheMu.Unlock()
}

func (a *Adapter) withContext(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("embedder %s/%s: %w", a.provider, a.model, err)
}

// categorizeError inspects the error text to approximate a standard error bucket.
// NOTE: This relies on string matching; prefer typed errors if providers expose them.
func categorizeError(err error) ErrorType {
	if err == nil {
		return ErrorTypeServerError
	}
	lower := strings.ToLower(err.Error())
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return ErrorTypeServerError
	case strings.Contains(lower, "rate limit"), strings.Contains(lower, "429"):
		return ErrorTypeRateLimit
	case strings.Contains(lower, "unauthorized"), strings.Contains(lower, "forbidden"), strings.Contains(lower, "auth"):
		return ErrorTypeAuth
	case strings.Contains(lower, "invalid"),
		strings.Contains(lower, "bad request"),
		strings.Contains(lower, "422"),
		strings.Contains(lower, "400"):
		return ErrorTypeInvalidInput
	default:
		return ErrorTypeServerError
	}
}

func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

func cloneVector(src []float32) []float32 {
	if len(src) == 0 {
		return nil
	}
	dst := make([]float32, len(src))
	copy(dst, src)
	return dst
}

func validateConfig(cfg *Config) error {
	if strings.TrimSpace(string(cfg.Provider)) == "" {
		return errMissingProvider
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return errMissingModel
	}
	if cfg.Dimension <= 0 {
		return errInvalidDimension
	}
	if cfg.BatchSize <= 0 {
		return errInvalidBatchSize
	}
	return nil
}

func buildProviderEmbedder(ctx context.Context, cfg *Config) (embeddings.Embedder, error) {
	options := []embeddings.Option{
		embeddings.WithBatchSize(cfg.BatchSize),
		embeddings.WithStripNewLines(true),
	}
	switch cfg.Provider {
	case ProviderOpenAI:
		return buildOpenAIEmbedder(cfg, options...)
	case ProviderVertex:
		return buildVertexEmbedder(ctx, cfg, options...)
	case ProviderLocal:
		return buildLocalEmbedder(cfg, options...)
	default:
		return nil, fmt.Errorf("embedder: provider %q is not supported", cfg.Provider)
	}
}

func buildOpenAIEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	openaiOpts := []openai.Option{
		openai.WithEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		openaiOpts = append(openaiOpts, openai.WithToken(cfg.APIKey))
	}
	client, err := openai.New(openaiOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: initialize openai client: %w", err)
	}
	embedderImpl, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: construct openai embedder: %w", err)
	}
	return embedderImpl, nil
}

func buildVertexEmbedder(ctx context.Context, cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	vertexOpts := []googleai.Option{
		googleai.WithDefaultEmbeddingModel(cfg.Model),
	}
	if cfg.APIKey != "" {
		vertexOpts = append(vertexOpts, googleai.WithAPIKey(cfg.APIKey))
	}
	if cfg.ProjectID != "" {
		vertexOpts = append(vertexOpts, googleai.WithCloudProject(cfg.ProjectID))
	}
	if cfg.Location != "" {
		vertexOpts = append(vertexOpts, googleai.WithCloudLocation(cfg.Location))
	}
	client, err := vertex.New(ctx, vertexOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: initialize vertex client: %w", err)
	}
	embedderImpl, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: construct vertex embedder: %w", err)
	}
	return embedderImpl, nil
}

func buildLocalEmbedder(cfg *Config, opts ...embeddings.Option) (embeddings.Embedder, error) {
	cybertronOpts := []cybertron.Option{
		cybertron.WithModel(strings.TrimSpace(cfg.Model)),
	}
	if cfg.ModelsDir != "" {
		cybertronOpts = append(cybertronOpts, cybertron.WithModelsDir(cfg.ModelsDir))
	}
	client, err := cybertron.NewCybertron(cybertronOpts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: initialize local model: %w", err)
	}
	embedderImpl, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("embedder: construct local embedder: %w", err)
	}
	return embedderImpl, nil
}
