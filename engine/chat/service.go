package chat

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/defensight/defensight/engine/assembler"
	"github.com/defensight/defensight/engine/completion"
	"github.com/defensight/defensight/pkg/logger"
)

const contextTurnTemplate = `Context from security logs:
%s

Question: %s

Provide a detailed analysis with specific evidence and recommendations.`

const noContextTurnTemplate = `Question: %s

Note: No relevant context found in the database. Please explain what information would be needed to answer this query.`

// Asker is the marked-error-string completion path the chat loop uses; a
// failed call still produces a displayable reply.
type Asker interface {
	Ask(ctx context.Context, messages []completion.Message) string
}

// Options carries the chat call site's retrieval parameters.
type Options struct {
	TopK           int
	MaxTokens      int
	PerCategoryCap int
	TopSources     int
}

// Reply is one assistant turn plus the retrieval stats behind it, surfaced
// by the REPL's debug mode.
type Reply struct {
	Content       string
	Stats         assembler.Stats
	HasContext    bool
	RetrievalTime time.Duration
}

// Service answers interactive questions with retrieval-augmented turns over
// a bounded conversation history.
type Service struct {
	assembler *assembler.Service
	client    Asker
	opts      Options
}

func NewService(asm *assembler.Service, client Asker, opts Options) (*Service, error) {
	if asm == nil {
		return nil, errors.New("chat: assembler is required")
	}
	if client == nil {
		return nil, errors.New("chat: completion client is required")
	}
	return &Service{assembler: asm, client: client, opts: opts}, nil
}

// Respond retrieves context for the input, appends the user turn, asks the
// model, and appends the assistant turn. Completion failures come back as
// marked error strings in the reply, never as errors; the loop continues.
func (s *Service) Respond(ctx context.Context, conv *Conversation, input string) (*Reply, error) {
	if conv == nil {
		return nil, errors.New("chat: conversation is required")
	}
	log := logger.FromContext(ctx).With("conversation_id", conv.ID())
	start := time.Now()
	bundle := s.assembler.Assemble(ctx, input, assembler.Options{
		TopK:           s.opts.TopK,
		MaxTokens:      s.opts.MaxTokens,
		PerCategoryCap: s.opts.PerCategoryCap,
		TopSources:     s.opts.TopSources,
		TagSources:     true,
	})
	retrievalTime := time.Since(start)
	var turn string
	if bundle.Empty() {
		log.Debug("no relevant context found", "input_length", len(input))
		turn = fmt.Sprintf(noContextTurnTemplate, input)
	} else {
		log.Debug(
			"context retrieved",
			"chunks", bundle.Stats.Chunks,
			"tokens", bundle.Stats.Tokens,
			"duration", retrievalTime,
		)
		turn = fmt.Sprintf(contextTurnTemplate, bundle.Text, input)
	}
	conv.Append(completion.RoleUser, turn)
	reply := s.client.Ask(ctx, conv.Messages())
	conv.Append(completion.RoleAssistant, reply)
	return &Reply{
		Content:       reply,
		Stats:         bundle.Stats,
		HasContext:    !bundle.Empty(),
		RetrievalTime: retrievalTime,
	}, nil
}
