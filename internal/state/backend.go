package state

import (
	"context"
	"encoding/json"

	"github.com/divy-sh/breve/internal/models"
)

// ConfigBackend reads and writes backend config entries.
type ConfigBackend interface {
	Config(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Backend is the remote call surface the synchronizer consumes.
type Backend interface {
	ConfigBackend

	ConversationIDs(ctx context.Context) ([]string, error)
	// Conversation returns nil, without an error, when the conversation doesn't exist.
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	StartConversation(ctx context.Context, title string) (string, error)
	// ContinueConversation returns once the backend has stored the assistant's reply.
	ContinueConversation(ctx context.Context, id, userInput string) error
	DeleteConversation(ctx context.Context, id string) (string, error)

	EnsureModel(ctx context.Context) error
	DownloadModel(ctx context.Context, name string) error
	AvailableModels(ctx context.Context) (map[string]models.ModelInfo, error)
	DownloadedModels(ctx context.Context) ([]string, error)
	DeleteModel(ctx context.Context, name string) error
	SetDefaultModel(ctx context.Context, name string) error
	DefaultModel(ctx context.Context) (string, error)
	ModelStatus(ctx context.Context) (models.ModelStatus, error)
	AbortGeneration(ctx context.Context) error
}

// Subscriber attaches listeners to the backend's push notification channels. The listener stays
// attached until ctx is done.
type Subscriber interface {
	Subscribe(ctx context.Context, channel string, handler func(payload json.RawMessage)) error
}
