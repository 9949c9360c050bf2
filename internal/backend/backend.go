package backend

import (
	"context"
	"errors"
	"iter"
	"log/slog"
	"sync"

	"github.com/divy-sh/breve/internal/models"
)

// ConversationStore persists conversations and config entries.
type ConversationStore interface {
	ConversationIDs(ctx context.Context) ([]string, error)
	Conversation(ctx context.Context, id string) (*models.Conversation, error)
	AddConversation(ctx context.Context, title string) (string, error)
	UpdateConversation(ctx context.Context, conv models.Conversation) error
	DeleteConversation(ctx context.Context, id string) (bool, error)

	Config(ctx context.Context, key string) (string, bool, error)
	SetConfig(ctx context.Context, key, value string) error
}

// ModelRunner hosts local models: it downloads, lists and deletes them, and generates replies.
type ModelRunner interface {
	Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[string, error]
	Pull(ctx context.Context, model string, progress func(completed, total int64)) error
	Models(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, model string) error
}

// Publisher delivers push notifications to connected clients. The payload is JSON encoded by the
// publisher.
type Publisher interface {
	Publish(channel string, payload any) error
}

// Config keys owned by the backend.
const (
	// ConfigKeyModelName holds the name of the default model.
	ConfigKeyModelName = "model_name"
)

var (
	// ErrConversationNotFound is returned when a conversation ID is unknown.
	ErrConversationNotFound = errors.New("conversation not found")
	// ErrConfigNotFound is returned when a config key has never been set.
	ErrConfigNotFound = errors.New("config not found")
	// ErrModelNotAvailable is returned for model names outside the catalog.
	ErrModelNotAvailable = errors.New("model not available")
	// ErrModelNotDownloaded is returned when a catalog model is not present locally.
	ErrModelNotDownloaded = errors.New("model not downloaded")
	// ErrModelNotSet is returned when generation is requested without a default model.
	ErrModelNotSet = errors.New("no default model set")
	// ErrDownloadInProgress is returned when a download is requested while another one runs.
	ErrDownloadInProgress = errors.New("a model download is already in progress")
	// ErrClosed is returned when background work is requested after Close.
	ErrClosed = errors.New("backend is closed")
)

// Service is the backend behind the client's remote calls. It owns conversation storage, the model
// catalog and lifecycle, reply generation and push notifications.
type Service struct {
	store     ConversationStore
	runner    ModelRunner
	publisher Publisher

	catalog          map[string]models.ModelInfo
	fallbackModel    string
	maxContextLength int

	// Background work such as ensureModel runs on this context instead of the caller's.
	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup

	mu            sync.Mutex
	downloading   bool
	cancelGen     context.CancelFunc
	generationSeq uint64
	turns         map[string]*turnLock

	logger *slog.Logger
}

// Options configure a Service.
type Options struct {
	// Catalog lists the models that can be downloaded, keyed by their Ollama name.
	Catalog map[string]models.ModelInfo
	// FallbackModel is downloaded by EnsureModel and DownloadModel("") when no default model is set.
	FallbackModel string
	// MaxContextLength is the token budget for the conversation history sent with each turn. Older
	// messages that don't fit are left out. Zero sends the whole history.
	MaxContextLength int
}

// NewService creates a Service. The publisher may be nil, in which case push notifications are
// dropped.
func NewService(store ConversationStore, runner ModelRunner, publisher Publisher, opts Options, logger *slog.Logger) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	catalog := make(map[string]models.ModelInfo, len(opts.Catalog))
	for name, info := range opts.Catalog {
		catalog[name] = info
	}

	return &Service{
		store:            store,
		runner:           runner,
		publisher:        publisher,
		catalog:          catalog,
		fallbackModel:    opts.FallbackModel,
		maxContextLength: opts.MaxContextLength,
		baseCtx:          ctx,
		baseCancel:       cancel,
		turns:            make(map[string]*turnLock),
		logger:           logger.With(slog.String("module", "backend")),
	}
}

// Close cancels background work (downloads started by EnsureModel, in-flight generation) and waits
// for it to stop.
func (s *Service) Close() {
	s.mu.Lock()
	s.baseCancel()
	if s.cancelGen != nil {
		s.cancelGen()
	}
	s.mu.Unlock()
	s.wg.Wait()
}

// Config returns the value stored under key, or ErrConfigNotFound.
func (s *Service) Config(ctx context.Context, key string) (string, error) {
	v, ok, err := s.store.Config(ctx, key)
	if err != nil {
		return "", err
	}
	if !ok {
		return "", ErrConfigNotFound
	}
	return v, nil
}

// SetConfig stores value under key.
func (s *Service) SetConfig(ctx context.Context, key, value string) error {
	return s.store.SetConfig(ctx, key, value)
}

func (s *Service) publish(channel string, payload any) {
	if s.publisher == nil {
		return
	}
	if err := s.publisher.Publish(channel, payload); err != nil {
		s.logger.Warn("Failed to publish notification",
			slog.String("channel", channel),
			slog.String("err", err.Error()))
	}
}
