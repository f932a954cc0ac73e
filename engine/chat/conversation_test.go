package chat

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/defensight/defensight/engine/completion"
)

func TestConversation_Append(t *testing.T) {
	t.Run("ShouldStartWithSystemPrompt", func(t *testing.T) {
		conv := NewConversation(10)
		require.Equal(t, 1, conv.Len())
		messages := conv.Messages()
		assert.Equal(t, completion.RoleSystem, messages[0].Role)
		assert.Equal(t, SystemPrompt, messages[0].Content)
		assert.NotEmpty(t, conv.ID())
	})
	t.Run("ShouldDropOldestTurnsButKeepSystemPrompt", func(t *testing.T) {
		conv := NewConversation(4)
		for i := 0; i < 6; i++ {
			conv.Append(completion.RoleUser, fmt.Sprintf("question %d", i))
		}
		require.Equal(t, 4, conv.Len())
		messages := conv.Messages()
		assert.Equal(t, completion.RoleSystem, messages[0].Role)
		assert.Equal(t, "question 3", messages[1].Content)
		assert.Equal(t, "question 5", messages[3].Content)
	})
	t.Run("ShouldEnforceMinimumLimit", func(t *testing.T) {
		conv := NewConversation(0)
		conv.Append(completion.RoleUser, "first")
		conv.Append(completion.RoleUser, "second")
		require.Equal(t, 2, conv.Len())
		assert.Equal(t, "second", conv.Messages()[1].Content)
	})
	t.Run("ShouldReturnACopyOfHistory", func(t *testing.T) {
		conv := NewConversation(10)
		conv.Append(completion.RoleUser, "original")
		messages := conv.Messages()
		messages[1].Content = "mutated"
		assert.Equal(t, "original", conv.Messages()[1].Content)
	})
}

func TestConversation_Clear(t *testing.T) {
	t.Run("ShouldResetToSystemPromptOnly", func(t *testing.T) {
		conv := NewConversation(10)
		conv.Append(completion.RoleUser, "hello")
		conv.Append(completion.RoleAssistant, "hi")
		conv.Clear()
		require.Equal(t, 1, conv.Len())
		assert.Equal(t, completion.RoleSystem, conv.Messages()[0].Role)
	})
}
