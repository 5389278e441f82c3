package llm

import (
	"sync"

	"github.com/google/uuid"
)

// Conversation is an ordered transcript of user and assistant turns.
// It is owned by the caller and safe for concurrent use.
type Conversation struct {
	mu       sync.Mutex
	id       string
	messages []Message
}

// NewConversation starts an empty conversation with a fresh ID.
func NewConversation() *Conversation {
	return &Conversation{id: uuid.NewString()}
}

// ID identifies the conversation in logs.
func (c *Conversation) ID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.id
}

// Messages returns a copy of the transcript.
func (c *Conversation) Messages() []Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Message(nil), c.messages...)
}

// Len returns the number of messages in the transcript.
func (c *Conversation) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.messages)
}

// Tail returns a copy of the last n messages.
func (c *Conversation) Tail(n int) []Message {
	c.mu.Lock()
	defer c.mu.Unlock()

	if n <= 0 {
		return nil
	}
	start := max(len(c.messages)-n, 0)
	return append([]Message(nil), c.messages[start:]...)
}

// Reset clears the transcript and assigns a new ID.
func (c *Conversation) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = nil
	c.id = uuid.NewString()
}

// appendTurn records a question and its answer together.
func (c *Conversation) appendTurn(question, answer string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.messages = append(c.messages,
		Message{Role: RoleUser, Content: question},
		Message{Role: RoleAssistant, Content: answer},
	)
}
