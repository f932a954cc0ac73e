package chat

import (
	"github.com/google/uuid"

	"github.com/defensight/defensight/engine/completion"
)

// SystemPrompt anchors every conversation. Clear keeps it; trimming never
// drops it.
const SystemPrompt = `You are DefenSight, an expert security analyst specializing in:
- Firewall configuration and log analysis
- IDS/IPS alert investigation and threat hunting
- Network security and traffic analysis
- Compliance and security policy review
- Certificate and encryption analysis

Provide comprehensive answers with:
- Specific evidence (IPs, timestamps, log entries)
- Technical explanations and context
- Security implications and risk assessment
- Actionable recommendations

Use ONLY the provided context. If insufficient, clearly state what additional data is needed.`

// Conversation is the ordered, bounded message history of one interactive
// session. The first message is always the fixed system prompt.
type Conversation struct {
	id       string
	limit    int
	messages []completion.Message
}

// NewConversation starts a conversation holding at most limit messages.
func NewConversation(limit int) *Conversation {
	if limit < 2 {
		limit = 2
	}
	return &Conversation{
		id:    uuid.NewString(),
		limit: limit,
		messages: []completion.Message{
			{Role: completion.RoleSystem, Content: SystemPrompt},
		},
	}
}

// ID identifies the conversation in log fields.
func (c *Conversation) ID() string { return c.id }

// Append adds a message and drops the oldest non-system messages once the
// history limit is exceeded.
func (c *Conversation) Append(role string, content string) {
	c.messages = append(c.messages, completion.Message{Role: role, Content: content})
	if len(c.messages) > c.limit {
		keep := c.limit - 1
		trimmed := make([]completion.Message, 0, c.limit)
		trimmed = append(trimmed, c.messages[0])
		trimmed = append(trimmed, c.messages[len(c.messages)-keep:]...)
		c.messages = trimmed
	}
}

// Clear resets the history to just the system prompt.
func (c *Conversation) Clear() {
	c.messages = c.messages[:1]
}

// Len reports the current history length including the system prompt.
func (c *Conversation) Len() int { return len(c.messages) }

// Messages returns a copy of the history for a completion request.
func (c *Conversation) Messages() []completion.Message {
	out := make([]completion.Message, len(c.messages))
	copy(out, c.messages)
	return out
}
