package llm

import (
	"sync"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Exchange represents a user-assistant conversation turn.
type Exchange struct {
	UserText      string    `json:"userText"`
	AssistantText string    `json:"assistantText"`
	Timestamp     time.Time `json:"timestamp"`
}

// ConversationConfig configures Conversation behavior.
type ConversationConfig struct {
	// MaxExchanges is the maximum number of exchanges to retain (default: 10)
	MaxExchanges int
	// InactivityTimeout drops the history after this much silence. Zero keeps it forever.
	InactivityTimeout time.Duration
}

// Conversation is the chat session of one language-model process: the bounded
// history of exchanges that is replayed with every new prompt.
type Conversation struct {
	mu           sync.RWMutex
	exchanges    []Exchange
	lastActivity time.Time
	config       ConversationConfig
	now          func() time.Time
}

// NewConversation creates a Conversation with the given config.
func NewConversation(config ConversationConfig) *Conversation {
	if config.MaxExchanges <= 0 {
		config.MaxExchanges = 10
	}

	return &Conversation{
		exchanges:    make([]Exchange, 0, config.MaxExchanges),
		lastActivity: time.Now(),
		config:       config,
		now:          time.Now,
	}
}

// AddExchange records a user/assistant pair, trimming the oldest beyond MaxExchanges.
func (c *Conversation) AddExchange(userText, assistantText string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.isExpiredLocked() {
		c.clearLocked()
	}

	now := c.now()
	c.exchanges = append(c.exchanges, Exchange{
		UserText:      userText,
		AssistantText: assistantText,
		Timestamp:     now,
	})
	c.lastActivity = now

	if len(c.exchanges) > c.config.MaxExchanges {
		c.exchanges = c.exchanges[len(c.exchanges)-c.config.MaxExchanges:]
	}
}

// Messages builds the chat request: optional system prompt, the retained
// history, then the new prompt.
func (c *Conversation) Messages(systemPrompt, prompt string) []openai.ChatCompletionMessage {
	c.mu.RLock()
	defer c.mu.RUnlock()

	msgs := make([]openai.ChatCompletionMessage, 0, 2*len(c.exchanges)+2)
	if systemPrompt != "" {
		msgs = append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleSystem, Content: systemPrompt})
	}
	if !c.isExpiredLocked() {
		for _, ex := range c.exchanges {
			msgs = append(msgs,
				openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: ex.UserText},
				openai.ChatCompletionMessage{Role: openai.ChatMessageRoleAssistant, Content: ex.AssistantText},
			)
		}
	}
	return append(msgs, openai.ChatCompletionMessage{Role: openai.ChatMessageRoleUser, Content: prompt})
}

// ExchangeCount returns the number of stored exchanges.
func (c *Conversation) ExchangeCount() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.exchanges)
}

// Clear removes all conversation history.
func (c *Conversation) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearLocked()
}

func (c *Conversation) clearLocked() {
	c.exchanges = make([]Exchange, 0, c.config.MaxExchanges)
}

// IsExpired checks if the conversation has expired due to inactivity.
func (c *Conversation) IsExpired() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.isExpiredLocked()
}

func (c *Conversation) isExpiredLocked() bool {
	if len(c.exchanges) == 0 || c.config.InactivityTimeout <= 0 {
		return false
	}
	return c.now().Sub(c.lastActivity) > c.config.InactivityTimeout
}
