package state

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/divy-sh/breve/internal/models"
)

const (
	titleMaxRunes     = 30
	fallbackIDPrefix  = 8
	fallbackTitleText = "Conversation "
)

// Conversations caches the conversation summaries and the active conversation.
type Conversations struct {
	backend Backend
	store   *Store
	config  *ConfigBridge
	models  *Models

	logger *slog.Logger
}

// NewConversations creates a Conversations cache. Loading the list also initializes models, so the
// download listeners are attached once the application shows its first list.
func NewConversations(backend Backend, store *Store, config *ConfigBridge, models *Models, logger *slog.Logger) *Conversations {
	return &Conversations{
		backend: backend,
		store:   store,
		config:  config,
		models:  models,
		logger:  logger.With(slog.String("module", "conversations")),
	}
}

// LoadConversations replaces the summaries with the backend's current list. Conversations without
// a title get a placeholder derived from their ID. On failure the previous summaries stay.
func (c *Conversations) LoadConversations(ctx context.Context) {
	c.models.Init(ctx)

	summaries, err := c.fetchSummaries(ctx)
	if err != nil {
		c.logger.Error("Failed to load conversations", slog.String("err", err.Error()))
		return
	}
	c.store.setSummaries(summaries)
}

func (c *Conversations) fetchSummaries(ctx context.Context) ([]models.Summary, error) {
	ids, err := c.backend.ConversationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation ids: %w", err)
	}

	summaries := make([]models.Summary, 0, len(ids))
	for _, id := range ids {
		conv, err := c.backend.Conversation(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get conversation %s: %w", id, err)
		}
		// Deleted between the two calls.
		if conv == nil {
			continue
		}
		summaries = append(summaries, models.Summary{ID: id, Title: summaryTitle(id, conv.Title)})
	}
	return summaries, nil
}

// LoadConversation makes the conversation with the given ID active. If the backend doesn't know
// it, or can't be reached, the active conversation is left as it is.
func (c *Conversations) LoadConversation(ctx context.Context, id string) {
	conv, err := c.backend.Conversation(ctx, id)
	if err != nil {
		c.logger.Error("Failed to load conversation",
			slog.String("convID", id),
			slog.String("err", err.Error()))
		return
	}
	if conv == nil {
		c.logger.Warn("Conversation not found", slog.String("convID", id))
		return
	}
	c.store.setCurrent(conv.Clone())
}

// StartNewConversation creates a conversation titled after the first characters of message, makes
// it active, refreshes the summaries and remembers it as the last conversation. It returns the new
// conversation's ID. Only the creation itself can fail; remembering it is best effort.
func (c *Conversations) StartNewConversation(ctx context.Context, message string) (string, error) {
	id, err := c.backend.StartConversation(ctx, truncateTitle(message))
	if err != nil {
		c.logger.Error("Failed to start conversation", slog.String("err", err.Error()))
		return "", fmt.Errorf("failed to start conversation: %w", err)
	}

	c.LoadConversation(ctx, id)
	c.LoadConversations(ctx)

	if err := c.config.Set(ctx, ConfigKeyLastConversation, id); err != nil {
		c.logger.Warn("Failed to remember last conversation",
			slog.String("convID", id),
			slog.String("err", err.Error()))
	}
	return id, nil
}

// ContinueConversation sends message to the conversation with the given ID. If that conversation is
// active, the message is appended to it right away, before the backend is called. Once the backend
// has stored its reply, the conversation is reloaded and its messages replaced by the backend's.
//
// Calls are not serialized: overlapping calls on one conversation settle in the order the backend
// answers them.
func (c *Conversations) ContinueConversation(ctx context.Context, id, message string) error {
	c.store.appendToCurrent(id, models.Message{Role: models.RoleUser, Content: message})

	if err := c.backend.ContinueConversation(ctx, id, message); err != nil {
		c.logger.Error("Failed to continue conversation",
			slog.String("convID", id),
			slog.String("err", err.Error()))
		return fmt.Errorf("failed to continue conversation: %w", err)
	}

	c.LoadConversation(ctx, id)
	return nil
}

// DeleteConversation deletes a conversation, clears it if it was active and refreshes the
// summaries.
func (c *Conversations) DeleteConversation(ctx context.Context, id string) error {
	if _, err := c.backend.DeleteConversation(ctx, id); err != nil {
		c.logger.Error("Failed to delete conversation",
			slog.String("convID", id),
			slog.String("err", err.Error()))
		return fmt.Errorf("failed to delete conversation: %w", err)
	}

	c.store.clearCurrentIf(id)
	c.LoadConversations(ctx)
	return nil
}

// RestoreLastConversation makes the last started conversation active, if one was remembered.
func (c *Conversations) RestoreLastConversation(ctx context.Context) {
	id, err := c.config.Get(ctx, ConfigKeyLastConversation)
	if err != nil {
		c.logger.Debug("No last conversation to restore", slog.String("err", err.Error()))
		return
	}
	if id == "" {
		return
	}
	c.LoadConversation(ctx, id)
}

func truncateTitle(message string) string {
	r := []rune(message)
	if len(r) <= titleMaxRunes {
		return message
	}
	return string(r[:titleMaxRunes])
}

func summaryTitle(id, title string) string {
	if title != "" {
		return title
	}
	r := []rune(id)
	if len(r) > fallbackIDPrefix {
		r = r[:fallbackIDPrefix]
	}
	return fallbackTitleText + string(r)
}
