package assembler

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/defensight/defensight/engine/record"
	"github.com/defensight/defensight/engine/tokens"
	"github.com/defensight/defensight/engine/vectordb"
	"github.com/defensight/defensight/pkg/logger"
)

const (
	defaultTopK           = 30
	defaultMaxTokens      = 4500
	defaultPerCategoryCap = 8
	defaultTopSources     = 5
	unknownSource         = "unknown"
)

// Embedder is the query-embedding surface the assembler depends on.
type Embedder interface {
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
}

// Options parameterizes one assembly run. The chat, query, report, and
// similar-event call sites pass different budgets through the same contract.
type Options struct {
	TopK           int
	MaxTokens      int
	PerCategoryCap int
	// TagSources emits "[IDS|fw.log] ..." chunk tags instead of "[IDS] ...".
	TagSources bool
	TopSources int
}

func (o *Options) normalize() {
	if o.TopK <= 0 {
		o.TopK = defaultTopK
	}
	if o.MaxTokens <= 0 {
		o.MaxTokens = defaultMaxTokens
	}
	if o.PerCategoryCap <= 0 {
		o.PerCategoryCap = defaultPerCategoryCap
	}
	if o.TopSources <= 0 {
		o.TopSources = defaultTopSources
	}
}

// SourceCount pairs a source file with how many of its chunks were accepted.
type SourceCount struct {
	Source string
	Count  int
}

// Stats summarizes one assembled context for user feedback and debug output.
type Stats struct {
	Chunks     int
	Tokens     int
	Sources    int
	TopSources []SourceCount
	Categories map[string]int
}

// Bundle is the assembled, categorized, token-bounded context. Empty Text
// with zero Stats is a valid outcome, not an error.
type Bundle struct {
	Text  string
	Stats Stats
}

// Empty reports whether assembly produced no usable context.
func (b *Bundle) Empty() bool {
	return b == nil || b.Text == ""
}

// Service retrieves indexed evidence for a query and renders it into a
// budget-respecting prompt context. Retrieval and embedding failures degrade
// to an empty bundle; callers treat "no context" as a normal outcome.
type Service struct {
	embedder  Embedder
	store     vectordb.Store
	estimator tokens.Estimator
	tracer    trace.Tracer
}

func NewService(emb Embedder, store vectordb.Store, estimator tokens.Estimator) (*Service, error) {
	if emb == nil {
		return nil, errors.New("assembler: embedder is required")
	}
	if store == nil {
		return nil, errors.New("assembler: vector store is required")
	}
	if estimator == nil {
		estimator = tokens.RuneEstimator{}
	}
	return &Service{
		embedder:  emb,
		store:     store,
		estimator: estimator,
		tracer:    otel.Tracer("defensight.assembler"),
	}, nil
}

// Assemble builds the context bundle for a query. The walk is first-fit over
// matches ordered nearest first: the first candidate whose cost would push
// the running total over MaxTokens stops the walk entirely, so the ceiling
// is never exceeded and shrinking the budget can only shorten the accepted
// prefix.
func (s *Service) Assemble(ctx context.Context, query string, opts Options) *Bundle {
	opts.normalize()
	log := logger.FromContext(ctx)
	if strings.TrimSpace(query) == "" {
		return emptyBundle()
	}
	start := time.Now()
	ctx, span := s.tracer.Start(ctx, "defensight.assembler.assemble", trace.WithAttributes(
		attribute.Int("top_k", opts.TopK),
		attribute.Int("max_tokens", opts.MaxTokens),
	))
	defer span.End()
	matches, err := s.retrieve(ctx, query, opts.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		log.Warn("context retrieval failed, continuing without context", "error", err)
		return emptyBundle()
	}
	if len(matches) == 0 {
		return emptyBundle()
	}
	sortMatches(matches)
	bundle := s.build(ctx, matches, &opts)
	span.SetAttributes(attribute.Int("chunks", bundle.Stats.Chunks), attribute.Int("tokens", bundle.Stats.Tokens))
	log.Debug(
		"context assembled",
		"chunks", bundle.Stats.Chunks,
		"tokens", bundle.Stats.Tokens,
		"sources", bundle.Stats.Sources,
		"duration", time.Since(start),
	)
	return bundle
}

func (s *Service) retrieve(ctx context.Context, query string, topK int) ([]vectordb.Match, error) {
	vector, err := s.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	matches, err := s.store.Search(ctx, vector, vectordb.SearchOptions{TopK: topK})
	if err != nil {
		return nil, fmt.Errorf("search index: %w", err)
	}
	return matches, nil
}

type bucket struct {
	category record.Category
	chunks   []string
}

func (s *Service) build(ctx context.Context, matches []vectordb.Match, opts *Options) *Bundle {
	buckets := make(map[record.Category]*bucket, len(record.RenderOrder))
	sources := make(map[string]int)
	text := ""
	tokenTotal := 0
	accepted := 0
	for i := range matches {
		if matches[i].Text == "" {
			continue
		}
		label, source := matchLabels(&matches[i])
		category := record.Bucket(label)
		b := buckets[category]
		// Full buckets skip the candidate without spending budget on text
		// that would never render.
		if b != nil && len(b.chunks) >= opts.PerCategoryCap {
			continue
		}
		if b == nil {
			b = &bucket{category: category}
			buckets[category] = b
		}
		b.chunks = append(b.chunks, formatChunk(label, source, matches[i].Text, opts.TagSources))
		// Each candidate is costed against the full rendered text, section
		// headers and line separators included, so the ceiling holds for
		// exactly what the prompt will carry.
		candidate := render(buckets)
		cost := s.estimator.EstimateTokens(ctx, candidate)
		if cost > opts.MaxTokens {
			b.chunks = b.chunks[:len(b.chunks)-1]
			if len(b.chunks) == 0 {
				delete(buckets, category)
			}
			break
		}
		text = candidate
		tokenTotal = cost
		sources[source]++
		accepted++
	}
	if accepted == 0 {
		return emptyBundle()
	}
	return &Bundle{
		Text: text,
		Stats: Stats{
			Chunks:     accepted,
			Tokens:     tokenTotal,
			Sources:    len(sources),
			TopSources: topSources(sources, opts.TopSources),
			Categories: categoryCounts(buckets),
		},
	}
}

func matchLabels(match *vectordb.Match) (label string, source string) {
	label = record.CategoryOther.String()
	source = unknownSource
	if match.Metadata == nil {
		return label, source
	}
	if v, ok := match.Metadata[record.MetaType].(string); ok && v != "" {
		label = v
	}
	if v, ok := match.Metadata[record.MetaSourceFile].(string); ok && v != "" {
		source = v
	}
	return label, source
}

func formatChunk(label string, source string, text string, tagSources bool) string {
	if tagSources {
		return fmt.Sprintf("[%s|%s] %s", strings.ToUpper(label), source, text)
	}
	return fmt.Sprintf("[%s] %s", strings.ToUpper(label), text)
}

func sectionHeader(category record.Category) string {
	return fmt.Sprintf("=== %s LOGS ===", strings.ToUpper(category.String()))
}

func render(buckets map[record.Category]*bucket) string {
	parts := make([]string, 0, len(buckets)*2)
	for _, category := range record.RenderOrder {
		b := buckets[category]
		if b == nil || len(b.chunks) == 0 {
			continue
		}
		parts = append(parts, sectionHeader(category))
		parts = append(parts, b.chunks...)
		parts = append(parts, "")
	}
	return strings.TrimSpace(strings.Join(parts, "\n"))
}

func categoryCounts(buckets map[record.Category]*bucket) map[string]int {
	counts := make(map[string]int, len(buckets))
	for category, b := range buckets {
		if len(b.chunks) > 0 {
			counts[category.String()] = len(b.chunks)
		}
	}
	return counts
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

func emptyBundle() *Bundle {
	return &Bundle{Stats: Stats{Categories: map[string]int{}}}
}

func sortMatches(matches []vectordb.Match) {
	sort.SliceStable(matches, func(i, j int) bool {
		if matches[i].Score == matches[j].Score {
			return matches[i].ID < matches[j].ID
		}
		return matches[i].Score > matches[j].Score
	})
}
