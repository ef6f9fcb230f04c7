package conversation

import (
	"strings"
	"time"
	"unicode"
)

type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// DeliveryMode records how a message reached the user. Empty means the
// message predates delivery tracking or the mode was irrelevant.
type DeliveryMode string

const (
	DeliveryInline     DeliveryMode = "inline"
	DeliveryAttachment DeliveryMode = "attachment"
)

// SearchMode describes which analysis mode produced an assistant message.
type SearchMode string

const (
	SearchQuick SearchMode = "quick"
	SearchDeep  SearchMode = "deep"
)

// Message is one turn inside a conversation. ExternalMessageID comes from the
// transport layer and is never generated here. AttachmentRef is set iff
// DeliveryMode is "attachment".
type Message struct {
	Timestamp         time.Time    `json:"timestamp"`
	ExternalMessageID int          `json:"external_message_id"`
	Role              Role         `json:"role"`
	Text              string       `json:"text"`
	Tokens            int          `json:"tokens"`
	DeliveryMode      DeliveryMode `json:"delivery_mode,omitempty"`
	AttachmentRef     string       `json:"attachment_ref,omitempty"`
	SearchMode        SearchMode   `json:"search_mode,omitempty"`
}

// Metadata is the summary of one conversation. The same struct is stored both
// inside the conversation file and, denormalized, in the owner index; after
// any completed write the two copies agree.
type Metadata struct {
	ConversationID   string    `json:"conversation_id"`
	OwnerID          int64     `json:"owner_id"`
	OwnerDisplayName string    `json:"owner_display_name"`
	Title            string    `json:"title"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
	IsActive         bool      `json:"is_active"`
	MessageCount     int       `json:"message_count"`
	TotalTokens      int       `json:"total_tokens"`
	SequenceNumber   int       `json:"sequence_number"`
}

// Conversation is one multi-turn session, stored as a single JSON file.
type Conversation struct {
	ConversationID string    `json:"conversation_id"`
	Metadata       Metadata  `json:"metadata"`
	Messages       []Message `json:"messages"`
}

// Index is the per-owner summary file. Conversations holds denormalized
// metadata snapshots kept in sync with each conversation's own file.
type Index struct {
	OwnerID              int64      `json:"owner_id"`
	OwnerDisplayName     string     `json:"owner_display_name"`
	ActiveConversationID string     `json:"active_conversation_id,omitempty"`
	NextSequenceNumber   int        `json:"next_sequence_number"`
	Conversations        []Metadata `json:"conversations"`
}

// Recompute refreshes the derived metadata fields from the message list.
// UpdatedAt never moves backwards.
func (c *Conversation) Recompute(now time.Time) {
	c.Metadata.MessageCount = len(c.Messages)
	total := 0
	for _, m := range c.Messages {
		total += m.Tokens
	}
	c.Metadata.TotalTokens = total
	if now.After(c.Metadata.UpdatedAt) {
		c.Metadata.UpdatedAt = now
	}
}

const DefaultTitle = "Untitled"

// DeriveTitle builds a conversation title from the first user message,
// truncated to at most limit runes on a word boundary where possible.
func DeriveTitle(text string, limit int) string {
	title := strings.Join(strings.Fields(text), " ")
	if title == "" {
		return DefaultTitle
	}
	runes := []rune(title)
	if limit <= 0 || len(runes) <= limit {
		return title
	}
	cut := limit
	for i := limit; i > limit/2; i-- {
		if unicode.IsSpace(runes[i-1]) {
			cut = i - 1
			break
		}
	}
	return strings.TrimRight(string(runes[:cut]), " ") + "…"
}
