package remote_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"iter"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"slices"
	"sync"
	"testing"
	"time"

	"github.com/divy-sh/breve/internal/backend"
	"github.com/divy-sh/breve/internal/handlers"
	"github.com/divy-sh/breve/internal/models"
	"github.com/divy-sh/breve/internal/remote"
	"github.com/divy-sh/breve/internal/services"
	"github.com/divy-sh/breve/internal/state"
)

var (
	_ state.Backend    = (*remote.Client)(nil)
	_ state.Subscriber = (*remote.Client)(nil)
)

type mockRunner struct {
	mu    sync.Mutex
	local []string
}

func (r *mockRunner) Chat(context.Context, string, []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		for _, c := range []string{"Hi", " there"} {
			if !yield(c, nil) {
				return
			}
		}
	}
}

func (r *mockRunner) Pull(_ context.Context, model string, progress func(completed, total int64)) error {
	progress(1, 1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = append(r.local, model)
	return nil
}

func (r *mockRunner) Models(context.Context) ([]string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.local), nil
}

func (r *mockRunner) Delete(_ context.Context, model string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.local = slices.DeleteFunc(r.local, func(m string) bool { return m == model })
	return nil
}

func newTestServer(t *testing.T) (*remote.Client, *handlers.Events) {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := services.NewBoltDB(filepath.Join(t.TempDir(), "store.db"))
	if err != nil {
		t.Fatal(err)
	}
	events := handlers.NewEvents()
	svc := backend.NewService(db, &mockRunner{}, events, backend.Options{
		Catalog:       map[string]models.ModelInfo{"gemma3:1b": {Name: "Gemma 3 1B", Params: "1B"}},
		FallbackModel: "gemma3:1b",
	}, logger)
	main := handlers.NewMain(svc, events, logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/invoke/{command}", main.HandleInvoke)
	mux.Handle("/events", events)
	srv := httptest.NewServer(mux)

	t.Cleanup(func() {
		_ = main.Shutdown(context.Background())
		srv.Close()
		svc.Close()
		_ = db.Close()
	})

	client, err := remote.NewClient(srv.URL+"/", logger)
	if err != nil {
		t.Fatal(err)
	}
	return client, events
}

func TestNewClient(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	tests := []struct {
		name    string
		url     string
		wantErr bool
	}{
		{"Valid", "http://localhost:8080", false},
		{"Missing scheme", "localhost:8080", true},
		{"Missing host", "http://", true},
		{"Malformed", "http://[::1", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := remote.NewClient(tt.url, logger)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewClient(%q) error = %v, wantErr %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestClientConversations(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	ids, err := client.ConversationIDs(ctx)
	if err != nil || len(ids) != 0 {
		t.Fatalf("ConversationIDs() = %v, %v, want empty", ids, err)
	}

	if err := client.DownloadModel(ctx, "gemma3:1b"); err != nil {
		t.Fatalf("DownloadModel() error = %v", err)
	}
	if err := client.SetDefaultModel(ctx, "gemma3:1b"); err != nil {
		t.Fatalf("SetDefaultModel() error = %v", err)
	}

	id, err := client.StartConversation(ctx, "Greetings")
	if err != nil {
		t.Fatalf("StartConversation() error = %v", err)
	}
	if err := client.ContinueConversation(ctx, id, "Hello"); err != nil {
		t.Fatalf("ContinueConversation() error = %v", err)
	}

	conv, err := client.Conversation(ctx, id)
	if err != nil {
		t.Fatal(err)
	}
	want := []models.Message{
		{Role: models.RoleUser, Content: "Hello"},
		{Role: models.RoleAssistant, Content: "Hi there"},
	}
	if conv == nil || conv.Title != "Greetings" || !slices.Equal(conv.Messages, want) {
		t.Errorf("Conversation() = %+v, want title Greetings and messages %+v", conv, want)
	}

	if conv, err := client.Conversation(ctx, "missing"); err != nil || conv != nil {
		t.Errorf("Conversation(missing) = %+v, %v, want nil, nil", conv, err)
	}

	ack, err := client.DeleteConversation(ctx, id)
	if err != nil || ack != "delete successful" {
		t.Errorf("DeleteConversation() = %q, %v", ack, err)
	}

	_, err = client.DeleteConversation(ctx, id)
	var rerr *remote.Error
	if !errors.As(err, &rerr) {
		t.Fatalf("DeleteConversation() error = %v, want *remote.Error", err)
	}
	if rerr.Status != http.StatusNotFound || rerr.Command != "delete_conversation" {
		t.Errorf("remote error = %+v, want 404 from delete_conversation", rerr)
	}
}

func TestClientModels(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	available, err := client.AvailableModels(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if info, ok := available["gemma3:1b"]; !ok || info.Params != "1B" {
		t.Errorf("AvailableModels() = %+v", available)
	}

	if status, _ := client.ModelStatus(ctx); status != models.ModelStatusUnset {
		t.Errorf("ModelStatus() = %q, want %q", status, models.ModelStatusUnset)
	}

	err = client.SetDefaultModel(ctx, "gemma3:1b")
	var rerr *remote.Error
	if !errors.As(err, &rerr) || rerr.Status != http.StatusBadRequest {
		t.Errorf("SetDefaultModel() of a missing model error = %v, want a 400 *remote.Error", err)
	}

	if err := client.DownloadModel(ctx, ""); err != nil {
		t.Fatal(err)
	}
	if err := client.SetDefaultModel(ctx, "gemma3:1b"); err != nil {
		t.Fatal(err)
	}
	if def, _ := client.DefaultModel(ctx); def != "gemma3:1b" {
		t.Errorf("DefaultModel() = %q, want gemma3:1b", def)
	}
	if downloaded, _ := client.DownloadedModels(ctx); !slices.Equal(downloaded, []string{"gemma3:1b"}) {
		t.Errorf("DownloadedModels() = %v", downloaded)
	}
	if status, _ := client.ModelStatus(ctx); status != models.ModelStatusReady {
		t.Errorf("ModelStatus() = %q, want %q", status, models.ModelStatusReady)
	}

	if err := client.DeleteModel(ctx, "gemma3:1b"); err != nil {
		t.Fatal(err)
	}
	if def, _ := client.DefaultModel(ctx); def != "" {
		t.Errorf("DefaultModel() after delete = %q, want empty", def)
	}

	if err := client.AbortGeneration(ctx); err != nil {
		t.Errorf("AbortGeneration() error = %v", err)
	}
	if err := client.EnsureModel(ctx); err != nil {
		t.Errorf("EnsureModel() error = %v", err)
	}
}

func TestClientConfig(t *testing.T) {
	client, _ := newTestServer(t)
	ctx := context.Background()

	if _, err := client.Config(ctx, "last_conversation_id"); err == nil {
		t.Error("Config() of an unset key error = nil")
	}
	if err := client.SetConfig(ctx, "last_conversation_id", "abc"); err != nil {
		t.Fatal(err)
	}
	if v, err := client.Config(ctx, "last_conversation_id"); err != nil || v != "abc" {
		t.Errorf("Config() = %q, %v, want abc", v, err)
	}
}

func TestClientSubscribe(t *testing.T) {
	client, events := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	got := make(chan json.RawMessage, 16)
	err := client.Subscribe(ctx, models.ChannelDownloadProgress, func(payload json.RawMessage) {
		got <- payload
	})
	if err != nil {
		t.Fatalf("Subscribe() error = %v", err)
	}

	// A single publish right after Subscribe returns must reach the handler.
	if err := events.Publish(models.ChannelDownloadingModel, true); err != nil {
		t.Fatal(err)
	}
	if err := events.Publish(models.ChannelDownloadProgress, 42); err != nil {
		t.Fatal(err)
	}

	select {
	case payload := <-got:
		if string(payload) != "42" {
			t.Errorf("payload = %s, want 42", payload)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no notification received")
	}

	select {
	case payload := <-got:
		t.Errorf("unexpected notification %s", payload)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestClientSubscribeNoEventStream(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	client, err := remote.NewClient(srv.URL, slog.New(slog.NewTextHandler(io.Discard, nil)))
	if err != nil {
		t.Fatal(err)
	}

	if err := client.Subscribe(context.Background(), models.ChannelDownloadProgress, func(json.RawMessage) {}); err == nil {
		t.Error("Subscribe() error = nil, want an error")
	}
}

func TestClientSubscribeCanceled(t *testing.T) {
	client, _ := newTestServer(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.Subscribe(ctx, models.ChannelDownloadProgress, func(json.RawMessage) {}); !errors.Is(err, context.Canceled) {
		t.Errorf("Subscribe() error = %v, want %v", err, context.Canceled)
	}
}
