package chat

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defensight/defensight/engine/assembler"
	"github.com/defensight/defensight/engine/completion"
	"github.com/defensight/defensight/engine/vectordb"
)

type stubEmbedder struct{}

func (stubEmbedder) EmbedQuery(context.Context, string) ([]float32, error) {
	return []float32{1, 0, 0}, nil
}

type stubStore struct {
	matches []vectordb.Match
}

func (s *stubStore) Upsert(context.Context, []vectordb.Record) error { return nil }
func (s *stubStore) Search(context.Context, []float32, vectordb.SearchOptions) ([]vectordb.Match, error) {
	return s.matches, nil
}
func (s *stubStore) Count(context.Context) (int, error) { return len(s.matches), nil }
func (s *stubStore) Sample(context.Context, int) ([]vectordb.Match, error) { return nil, nil }
func (s *stubStore) Delete(context.Context, vectordb.Filter) error { return nil }
func (s *stubStore) Reset(context.Context) error { return nil }
func (s *stubStore) Close(context.Context) error { return nil }

// stubAsker records the messages it was asked with and returns a fixed reply.
type stubAsker struct {
	reply    string
	messages []completion.Message
}

func (s *stubAsker) Ask(_ context.Context, messages []completion.Message) string {
	s.messages = messages
	return s.reply
}

func newTestService(t *testing.T, store *stubStore, asker *stubAsker) *Service {
	t.Helper()
	asm, err := assembler.NewService(stubEmbedder{}, store, nil)
	require.NoError(t, err)
	svc, err := NewService(asm, asker, Options{TopK: 5, MaxTokens: 500})
	require.NoError(t, err)
	return svc
}

func idsMatch(id string, text string) vectordb.Match {
	return vectordb.Match{
		ID:    id,
		Score: 0.9,
		Text:  text,
		Metadata: map[string]any{
			"type":        "ids",
			"source_file": "snort.log",
		},
	}
}

func TestService_Respond(t *testing.T) {
	ctx := context.Background()
	t.Run("ShouldBuildContextTurnWhenEvidenceExists", func(t *testing.T) {
		store := &stubStore{matches: []vectordb.Match{idsMatch("a-0", "alert on port 22")}}
		asker := &stubAsker{reply: "looks like brute force"}
		svc := newTestService(t, store, asker)
		conv := NewConversation(10)
		reply, err := svc.Respond(ctx, conv, "what happened on port 22?")
		require.NoError(t, err)
		assert.True(t, reply.HasContext)
		assert.Equal(t, "looks like brute force", reply.Content)
		assert.Positive(t, reply.Stats.Chunks)
		require.Len(t, asker.messages, 2)
		userTurn := asker.messages[1].Content
		assert.Contains(t, userTurn, "Context from security logs:")
		assert.Contains(t, userTurn, "alert on port 22")
		assert.Contains(t, userTurn, "Question: what happened on port 22?")
		assert.Contains(t, userTurn, "[IDS|snort.log]")
	})
	t.Run("ShouldBuildNoContextTurnWhenRetrievalIsEmpty", func(t *testing.T) {
		asker := &stubAsker{reply: "I need more data"}
		svc := newTestService(t, &stubStore{}, asker)
		conv := NewConversation(10)
		reply, err := svc.Respond(ctx, conv, "anything suspicious?")
		require.NoError(t, err)
		assert.False(t, reply.HasContext)
		assert.Zero(t, reply.Stats.Chunks)
		userTurn := asker.messages[1].Content
		assert.Contains(t, userTurn, "No relevant context found")
		assert.NotContains(t, userTurn, "Context from security logs:")
	})
	t.Run("ShouldAppendBothTurnsToHistory", func(t *testing.T) {
		asker := &stubAsker{reply: "reply"}
		svc := newTestService(t, &stubStore{}, asker)
		conv := NewConversation(10)
		_, err := svc.Respond(ctx, conv, "first question")
		require.NoError(t, err)
		require.Equal(t, 3, conv.Len())
		messages := conv.Messages()
		assert.Equal(t, completion.RoleUser, messages[1].Role)
		assert.Equal(t, completion.RoleAssistant, messages[2].Role)
		assert.Equal(t, "reply", messages[2].Content)
	})
	t.Run("ShouldCarryEarlierTurnsIntoLaterRequests", func(t *testing.T) {
		asker := &stubAsker{reply: "reply"}
		svc := newTestService(t, &stubStore{}, asker)
		conv := NewConversation(10)
		_, err := svc.Respond(ctx, conv, "first question")
		require.NoError(t, err)
		_, err = svc.Respond(ctx, conv, "second question")
		require.NoError(t, err)
		require.Len(t, asker.messages, 4)
		assert.True(t, strings.Contains(asker.messages[1].Content, "first question"))
		assert.True(t, strings.Contains(asker.messages[3].Content, "second question"))
	})
	t.Run("ShouldRejectNilConversation", func(t *testing.T) {
		svc := newTestService(t, &stubStore{}, &stubAsker{})
		_, err := svc.Respond(ctx, nil, "question")
		require.Error(t, err)
	})
}
