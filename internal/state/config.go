package state

import "context"

// ConfigKeyLastConversation holds the ID of the conversation started last.
const ConfigKeyLastConversation = "last_conversation_id"

// ConfigBridge passes config reads and writes through to the backend. Nothing is cached, and
// errors are returned as is; each caller decides whether they matter.
type ConfigBridge struct {
	backend ConfigBackend
}

// NewConfigBridge creates a ConfigBridge over backend.
func NewConfigBridge(backend ConfigBackend) *ConfigBridge {
	return &ConfigBridge{backend: backend}
}

// Get returns the value stored under key.
func (c *ConfigBridge) Get(ctx context.Context, key string) (string, error) {
	return c.backend.Config(ctx, key)
}

// Set stores value under key.
func (c *ConfigBridge) Set(ctx context.Context, key, value string) error {
	return c.backend.SetConfig(ctx, key, value)
}
