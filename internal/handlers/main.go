package handlers

import (
	"context"
	"log/slog"
	"time"

	"github.com/divy-sh/breve/internal/models"
)

// Backend is the set of remote calls the client can invoke. Each method backs one command of the
// invoke endpoint.
type Backend interface {
	ConversationIDs(ctx context.Context) ([]string, error)
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	StartConversation(ctx context.Context, title string) (string, error)
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

	Config(ctx context.Context, key string) (string, error)
	SetConfig(ctx context.Context, key, value string) error
}

// Main serves the backend over HTTP: remote calls on the invoke endpoint and push notifications on
// the events endpoint.
type Main struct {
	backend Backend
	events  *Events

	commands map[string]command

	logger *slog.Logger
}

const errLoggerKey = "err"

// NewMain creates a new Main serving backend. Push notifications are streamed by events, which the
// caller mounts on its own route (/events for the breve server); Main only shuts it down.
func NewMain(backend Backend, events *Events, logger *slog.Logger) Main {
	m := Main{
		backend: backend,
		events:  events,
		logger:  logger.With(slog.String("module", "handlers")),
	}
	m.commands = m.commandTable()
	return m
}

// Shutdown gracefully terminates the event stream. It broadcasts a close message to all connected
// clients and waits up to 5 seconds for connections to terminate. After the timeout, any remaining
// connections are forcefully closed.
func (m Main) Shutdown(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, time.Second*5)
	defer cancel()

	return m.events.Shutdown(ctx)
}
