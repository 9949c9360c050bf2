package state_test

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"

	"github.com/divy-sh/breve/internal/models"
)

var errBackend = errors.New("backend unavailable")

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type mockBackend struct {
	mu sync.Mutex

	ids           []string
	conversations map[string]models.Conversation
	config        map[string]string
	nextID        int

	available    map[string]models.ModelInfo
	downloaded   []string
	defaultModel string
	status       models.ModelStatus

	// err fails every call whose name is set in failing.
	failing map[string]bool

	// onContinue runs inside ContinueConversation before the reply is stored.
	onContinue func(id, userInput string)
	// reply is appended as the assistant's answer by ContinueConversation.
	reply string

	ensureCalls chan struct{}
	aborts      int
	calls       []string
}

func newMockBackend() *mockBackend {
	return &mockBackend{
		conversations: map[string]models.Conversation{},
		config:        map[string]string{},
		failing:       map[string]bool{},
		ensureCalls:   make(chan struct{}, 16),
		reply:         "Hello from the model",
	}
}

func (m *mockBackend) addConversation(conv models.Conversation) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ids = append(m.ids, conv.ID)
	m.conversations[conv.ID] = conv
}

func (m *mockBackend) fail(name string, fail bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failing[name] = fail
}

func (m *mockBackend) enter(name string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, name)
	if m.failing[name] {
		return fmt.Errorf("%s: %w", name, errBackend)
	}
	return nil
}

func (m *mockBackend) ConversationIDs(context.Context) ([]string, error) {
	if err := m.enter("get_conversation_ids"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.ids), nil
}

func (m *mockBackend) Conversation(_ context.Context, id string) (*models.Conversation, error) {
	if err := m.enter("get_conversation"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return nil, nil
	}
	return conv.Clone(), nil
}

func (m *mockBackend) StartConversation(_ context.Context, title string) (string, error) {
	if err := m.enter("start_conversation"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	id := fmt.Sprintf("new-conversation-%d", m.nextID)
	m.ids = append([]string{id}, m.ids...)
	m.conversations[id] = models.Conversation{ID: id, Title: title, Messages: []models.Message{}}
	return id, nil
}

func (m *mockBackend) ContinueConversation(_ context.Context, id, userInput string) error {
	if err := m.enter("continue_conversation"); err != nil {
		return err
	}
	m.mu.Lock()
	hook := m.onContinue
	m.mu.Unlock()
	if hook != nil {
		hook(id, userInput)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	conv, ok := m.conversations[id]
	if !ok {
		return fmt.Errorf("conversation %s not found", id)
	}
	conv.Messages = append(slices.Clone(conv.Messages),
		models.Message{Role: models.RoleUser, Content: userInput},
		models.Message{Role: models.RoleAssistant, Content: m.reply},
	)
	m.conversations[id] = conv
	return nil
}

func (m *mockBackend) DeleteConversation(_ context.Context, id string) (string, error) {
	if err := m.enter("delete_conversation"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.conversations[id]; !ok {
		return "", fmt.Errorf("conversation %s not found", id)
	}
	delete(m.conversations, id)
	m.ids = slices.DeleteFunc(m.ids, func(s string) bool { return s == id })
	return "delete successful", nil
}

func (m *mockBackend) EnsureModel(context.Context) error {
	err := m.enter("ensure_model")
	m.ensureCalls <- struct{}{}
	return err
}

func (m *mockBackend) DownloadModel(_ context.Context, name string) error {
	if err := m.enter("download_model"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloaded = append(m.downloaded, name)
	return nil
}

func (m *mockBackend) AvailableModels(context.Context) (map[string]models.ModelInfo, error) {
	if err := m.enter("get_available_models"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.available, nil
}

func (m *mockBackend) DownloadedModels(context.Context) ([]string, error) {
	if err := m.enter("list_downloaded_models"); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.downloaded), nil
}

func (m *mockBackend) DeleteModel(_ context.Context, name string) error {
	if err := m.enter("delete_model"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.downloaded = slices.DeleteFunc(m.downloaded, func(s string) bool { return s == name })
	return nil
}

func (m *mockBackend) SetDefaultModel(_ context.Context, name string) error {
	if err := m.enter("set_default_model"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.defaultModel = name
	return nil
}

func (m *mockBackend) DefaultModel(context.Context) (string, error) {
	if err := m.enter("get_default_model"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.defaultModel, nil
}

func (m *mockBackend) ModelStatus(context.Context) (models.ModelStatus, error) {
	if err := m.enter("get_model_status"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status, nil
}

func (m *mockBackend) AbortGeneration(context.Context) error {
	m.mu.Lock()
	m.aborts++
	m.mu.Unlock()
	return m.enter("abort_generation")
}

func (m *mockBackend) Config(_ context.Context, key string) (string, error) {
	if err := m.enter("get_config"); err != nil {
		return "", err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	if !ok {
		return "", errors.New("config not found")
	}
	return v, nil
}

func (m *mockBackend) SetConfig(_ context.Context, key, value string) error {
	if err := m.enter("set_config"); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.config[key] = value
	return nil
}

func (m *mockBackend) configValue(key string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.config[key]
	return v, ok
}

// mockSubscriber records attached handlers so tests can deliver notifications by hand.
type mockSubscriber struct {
	mu       sync.Mutex
	handlers map[string][]func(json.RawMessage)
	attempts int
	err      error
}

func newMockSubscriber() *mockSubscriber {
	return &mockSubscriber{handlers: map[string][]func(json.RawMessage){}}
}

func (s *mockSubscriber) Subscribe(_ context.Context, channel string, handler func(json.RawMessage)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts++
	if s.err != nil {
		return s.err
	}
	s.handlers[channel] = append(s.handlers[channel], handler)
	return nil
}

func (s *mockSubscriber) setErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.err = err
}

func (s *mockSubscriber) deliver(channel, payload string) {
	s.mu.Lock()
	hs := slices.Clone(s.handlers[channel])
	s.mu.Unlock()
	for _, h := range hs {
		h(json.RawMessage(payload))
	}
}

func (s *mockSubscriber) handlerCount(channel string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.handlers[channel])
}
