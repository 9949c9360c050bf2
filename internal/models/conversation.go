package models

import (
	"slices"
	"time"
)

// Summary is the lightweight projection of a conversation used by list views.
type Summary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// Conversation is a full conversation as stored by the backend. Messages are ordered oldest first.
type Conversation struct {
	ID        string     `json:"id"`
	Title     string     `json:"title"`
	Messages  []Message  `json:"body"`
	CreatedAt *time.Time `json:"createdAt,omitempty"`
}

// Message is a single turn of a conversation.
type Message struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Role represents the role of a message participant.
type Role string

const (
	// RoleUser represents a message typed by the user.
	RoleUser Role = "user"
	// RoleAssistant represents a message produced by the model.
	RoleAssistant Role = "assistant"
	// RoleSystem represents a system prompt. Older conversations may carry it inline.
	RoleSystem Role = "system"
)

// Clone returns a deep copy of the conversation, so the copy can be handed to readers without
// sharing the message slice.
func (c *Conversation) Clone() *Conversation {
	if c == nil {
		return nil
	}
	cp := *c
	cp.Messages = slices.Clone(c.Messages)
	if c.CreatedAt != nil {
		t := *c.CreatedAt
		cp.CreatedAt = &t
	}
	return &cp
}
