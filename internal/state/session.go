package state

import (
	"context"
	"log/slog"
)

// Session wires the four components around one Store. It is the value a presentation layer holds.
type Session struct {
	Store         *Store
	Conversations *Conversations
	Models        *Models
	Registry      *Registry
	Config        *ConfigBridge
}

// NewSession creates a Session over backend. Push listeners attached through the session live as
// long as ctx.
func NewSession(ctx context.Context, backend Backend, subscriber Subscriber, logger *slog.Logger) *Session {
	store := NewStore()
	registry := NewRegistry(ctx, subscriber, logger)
	config := NewConfigBridge(backend)
	mdls := NewModels(backend, store, registry, logger)

	return &Session{
		Store:         store,
		Conversations: NewConversations(backend, store, config, mdls, logger),
		Models:        mdls,
		Registry:      registry,
		Config:        config,
	}
}
