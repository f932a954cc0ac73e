package rag

import (
	"context"
	"errors"
	"fmt"

	"github.com/defensight/defensight/engine/assembler"
	"github.com/defensight/defensight/engine/completion"
	"github.com/defensight/defensight/pkg/logger"
)

const systemPrompt = `You are DefenSight, an expert security analyst. Provide comprehensive, detailed analysis with:
- Specific evidence (IPs, timestamps, log entries)
- Technical explanations
- Security implications
- Actionable recommendations

Use the context strictly. If insufficient, state what's needed.`

const similarSystemPrompt = "You are a threat hunting expert analyzing security patterns."

const insufficientContextReply = `**Insufficient Context**

No relevant data found in the database for this query. Please ensure logs have been uploaded and indexed.`

const noSimilarEventsReply = "No similar events found in the indexed logs."

// minContextChars is the evidence floor below which the model is not called.
const minContextChars = 100

// Completer is the propagating completion path used by single-shot queries.
type Completer interface {
	Complete(ctx context.Context, messages []completion.Message) (string, error)
}

// Options carries the retrieval parameters of the two query variants.
type Options struct {
	QueryTopK        int
	QueryMaxTokens   int
	SimilarTopK      int
	SimilarMaxTokens int
	PerCategoryCap   int
	TopSources       int
}

// Answer is a model reply plus the retrieval stats behind it.
type Answer struct {
	Reply string
	Stats assembler.Stats
}

// Service answers one-shot natural-language questions against the index.
type Service struct {
	assembler *assembler.Service
	client    Completer
	opts      Options
}

func NewService(asm *assembler.Service, client Completer, opts Options) (*Service, error) {
	if asm == nil {
		return nil, errors.New("rag: assembler is required")
	}
	if client == nil {
		return nil, errors.New("rag: completion client is required")
	}
	return &Service{assembler: asm, client: client, opts: opts}, nil
}

// Answer runs the single-query RAG path. An index without relevant evidence
// short-circuits to a fixed reply without calling the model.
func (s *Service) Answer(ctx context.Context, question string) (*Answer, error) {
	bundle := s.assembler.Assemble(ctx, question, assembler.Options{
		TopK:           s.opts.QueryTopK,
		MaxTokens:      s.opts.QueryMaxTokens,
		PerCategoryCap: s.opts.PerCategoryCap,
		TopSources:     s.opts.TopSources,
	})
	if bundle.Empty() || len(bundle.Text) < minContextChars {
		logger.FromContext(ctx).Info("insufficient context for query", "question_length", len(question))
		return &Answer{Reply: insufficientContextReply, Stats: bundle.Stats}, nil
	}
	prompt := fmt.Sprintf(
		"%s\n%s\n\n%s\n%s\n\nProvide detailed analysis with specific evidence and recommendations.",
		completion.ContextDelimiter,
		bundle.Text,
		completion.QuestionDelimiter,
		question,
	)
	reply, err := s.client.Complete(ctx, []completion.Message{
		{Role: completion.RoleSystem, Content: systemPrompt},
		{Role: completion.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("rag: answer query: %w", err)
	}
	return &Answer{Reply: reply, Stats: bundle.Stats}, nil
}

// SimilarEvents retrieves prior events resembling the description, for
// threat hunting. An empty bundle short-circuits without a model call.
func (s *Service) SimilarEvents(ctx context.Context, description string) (*Answer, error) {
	bundle := s.assembler.Assemble(ctx, description, assembler.Options{
		TopK:           s.opts.SimilarTopK,
		MaxTokens:      s.opts.SimilarMaxTokens,
		PerCategoryCap: s.opts.PerCategoryCap,
		TopSources:     s.opts.TopSources,
	})
	if bundle.Empty() {
		return &Answer{Reply: noSimilarEventsReply, Stats: bundle.Stats}, nil
	}
	prompt := fmt.Sprintf(`Find events similar to: %q

Related Events:
%s

Analyze:
1. Similar events found
2. Common patterns
3. Security implications
4. Investigation steps`, description, bundle.Text)
	reply, err := s.client.Complete(ctx, []completion.Message{
		{Role: completion.RoleSystem, Content: similarSystemPrompt},
		{Role: completion.RoleUser, Content: prompt},
	})
	if err != nil {
		return nil, fmt.Errorf("rag: similar events: %w", err)
	}
	return &Answer{Reply: reply, Stats: bundle.Stats}, nil
}
