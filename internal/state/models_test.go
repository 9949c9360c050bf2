package state_test

import (
	"context"
	"errors"
	"maps"
	"slices"
	"testing"

	"github.com/divy-sh/breve/internal/models"
	"github.com/divy-sh/breve/internal/state"
)

func TestDownloadedModelsSorted(t *testing.T) {
	backend := newMockBackend()
	backend.downloaded = []string{"smollm2:360m", "gemma3:1b", "llama3.2:1b"}
	s, _ := newTestSession(t, backend)

	want := []string{"gemma3:1b", "llama3.2:1b", "smollm2:360m"}
	got := s.Models.DownloadedModels(context.Background())
	if !slices.Equal(got, want) {
		t.Errorf("DownloadedModels() = %v, want %v", got, want)
	}
	if inv := s.Store.Inventory(); !slices.Equal(inv.Downloaded, want) {
		t.Errorf("Inventory().Downloaded = %v, want %v", inv.Downloaded, want)
	}
	// The backend's slice is left in its own order.
	if backend.downloaded[0] != "smollm2:360m" {
		t.Errorf("backend slice was reordered: %v", backend.downloaded)
	}
}

func TestModelQueries(t *testing.T) {
	backend := newMockBackend()
	backend.available = map[string]models.ModelInfo{
		"gemma3:1b": {Name: "Gemma 3 1B", Params: "1B"},
	}
	backend.defaultModel = "gemma3:1b"
	backend.status = models.ModelStatusReady

	s, _ := newTestSession(t, backend)
	ctx := context.Background()

	if got := s.Models.AvailableModels(ctx); !maps.Equal(got, backend.available) {
		t.Errorf("AvailableModels() = %v, want %v", got, backend.available)
	}
	if got := s.Models.DefaultModel(ctx); got != "gemma3:1b" {
		t.Errorf("DefaultModel() = %q, want %q", got, "gemma3:1b")
	}
	if got := s.Models.ModelStatus(ctx); got != models.ModelStatusReady {
		t.Errorf("ModelStatus() = %q, want %q", got, models.ModelStatusReady)
	}

	inv := s.Store.Inventory()
	if inv.Default != "gemma3:1b" || inv.Status != models.ModelStatusReady || len(inv.Available) != 1 {
		t.Errorf("Inventory() = %+v", inv)
	}
}

func TestModelQueriesDegrade(t *testing.T) {
	backend := newMockBackend()
	backend.downloaded = []string{"a"}
	backend.defaultModel = "a"
	backend.status = models.ModelStatusReady
	s, _ := newTestSession(t, backend)
	ctx := context.Background()

	// Fill the inventory first, failures must not wipe it.
	s.Models.DownloadedModels(ctx)
	s.Models.DefaultModel(ctx)
	s.Models.ModelStatus(ctx)

	for _, call := range []string{"get_available_models", "list_downloaded_models", "get_default_model", "get_model_status"} {
		backend.fail(call, true)
	}

	if got := s.Models.AvailableModels(ctx); got != nil {
		t.Errorf("AvailableModels() = %v, want nil", got)
	}
	if got := s.Models.DownloadedModels(ctx); got != nil {
		t.Errorf("DownloadedModels() = %v, want nil", got)
	}
	if got := s.Models.DefaultModel(ctx); got != "" {
		t.Errorf("DefaultModel() = %q, want empty", got)
	}
	if got := s.Models.ModelStatus(ctx); got != models.ModelStatusUnset {
		t.Errorf("ModelStatus() = %q, want %q", got, models.ModelStatusUnset)
	}

	inv := s.Store.Inventory()
	if inv.Default != "a" || inv.Status != models.ModelStatusReady || !slices.Equal(inv.Downloaded, []string{"a"}) {
		t.Errorf("Inventory() = %+v, want the previous values", inv)
	}
}

func TestModelMutations(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name string
		call string
		run  func(m *state.Models) error
	}{
		{
			name: "download",
			call: "download_model",
			run:  func(m *state.Models) error { return m.DownloadModel(ctx, "gemma3:1b") },
		},
		{
			name: "delete",
			call: "delete_model",
			run:  func(m *state.Models) error { return m.DeleteModel(ctx, "gemma3:1b") },
		},
		{
			name: "set default",
			call: "set_default_model",
			run:  func(m *state.Models) error { return m.SetDefaultModel(ctx, "gemma3:1b") },
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			backend := newMockBackend()
			s, _ := newTestSession(t, backend)

			if err := tt.run(s.Models); err != nil {
				t.Fatalf("%s error = %v, want nil", tt.name, err)
			}

			backend.fail(tt.call, true)
			if err := tt.run(s.Models); !errors.Is(err, errBackend) {
				t.Errorf("%s error = %v, want %v", tt.name, err, errBackend)
			}
		})
	}
}

func TestAbortGenerationIsBestEffort(t *testing.T) {
	backend := newMockBackend()
	backend.fail("abort_generation", true)
	s, _ := newTestSession(t, backend)

	s.Models.AbortGeneration(context.Background())

	if backend.aborts != 1 {
		t.Errorf("abort_generation called %d times, want 1", backend.aborts)
	}
}

func TestDownloadNotifications(t *testing.T) {
	backend := newMockBackend()
	s, sub := newTestSession(t, backend)
	s.Models.Init(context.Background())

	tests := []struct {
		payload string
		want    bool
	}{
		{payload: `true`, want: true},
		{payload: `false`, want: false},
		{payload: `1`, want: true},
		{payload: `"true"`, want: true},
		{payload: `0`, want: false},
		// Malformed payloads keep the previous value.
		{payload: `{"downloading":true}`, want: false},
		{payload: `"maybe"`, want: false},
		{payload: `not json`, want: false},
		{payload: `null`, want: false},
	}

	for _, tt := range tests {
		sub.deliver(models.ChannelDownloadingModel, tt.payload)
		if got := s.Store.Downloading(); got != tt.want {
			t.Errorf("after %s Downloading() = %v, want %v", tt.payload, got, tt.want)
		}
	}

	sub.deliver(models.ChannelDownloadingModel, `true`)
	sub.deliver(models.ChannelDownloadingModel, `[]`)
	if !s.Store.Downloading() {
		t.Error("malformed payload reset the download flag")
	}

	sub.deliver(models.ChannelDownloadProgress, `42`)
	sub.deliver(models.ChannelDownloadProgress, `"oops"`)
	if got := s.Store.DownloadProgress(); got != 42 {
		t.Errorf("DownloadProgress() = %v, want 42", got)
	}
}
