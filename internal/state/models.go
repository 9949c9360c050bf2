package state

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"sync"

	"github.com/divy-sh/breve/internal/models"
)

// Models tracks the backend's model lifecycle. Queries mirror their results into the Store and
// degrade to neutral values on failure; mutations return their errors.
type Models struct {
	backend  Backend
	store    *Store
	registry *Registry

	ensureOnce sync.Once

	logger *slog.Logger
}

// NewModels creates a Models tracker.
func NewModels(backend Backend, store *Store, registry *Registry, logger *slog.Logger) *Models {
	return &Models{
		backend:  backend,
		store:    store,
		registry: registry,
		logger:   logger.With(slog.String("module", "models")),
	}
}

// Init attaches the download listeners, and on its first call only, asks the backend to make sure
// a model is present. It never blocks on the backend's answer.
func (m *Models) Init(ctx context.Context) {
	m.registry.EnsureSubscribed(models.ChannelDownloadingModel, m.handleDownloading)
	m.registry.EnsureSubscribed(models.ChannelDownloadProgress, m.handleProgress)
	m.ensureOnce.Do(func() { m.EnsureModel(ctx) })
}

// EnsureModel fires the backend's ensure_model call on its own goroutine and returns immediately.
// The call is detached from ctx's cancellation; its outcome is only logged, and download progress
// is observed through push notifications.
func (m *Models) EnsureModel(ctx context.Context) {
	ctx = context.WithoutCancel(ctx)
	go func() {
		if err := m.backend.EnsureModel(ctx); err != nil {
			m.logger.Error("Failed to ensure model", slog.String("err", err.Error()))
		}
	}()
}

// DownloadModel downloads a model; an empty name lets the backend pick its default.
func (m *Models) DownloadModel(ctx context.Context, name string) error {
	if err := m.backend.DownloadModel(ctx, name); err != nil {
		m.logger.Error("Failed to download model",
			slog.String("model", name),
			slog.String("err", err.Error()))
		return fmt.Errorf("failed to download model: %w", err)
	}
	return nil
}

// DeleteModel removes a downloaded model.
func (m *Models) DeleteModel(ctx context.Context, name string) error {
	if err := m.backend.DeleteModel(ctx, name); err != nil {
		m.logger.Error("Failed to delete model",
			slog.String("model", name),
			slog.String("err", err.Error()))
		return fmt.Errorf("failed to delete model: %w", err)
	}
	return nil
}

// SetDefaultModel makes name the model used for replies.
func (m *Models) SetDefaultModel(ctx context.Context, name string) error {
	if err := m.backend.SetDefaultModel(ctx, name); err != nil {
		m.logger.Error("Failed to set default model",
			slog.String("model", name),
			slog.String("err", err.Error()))
		return fmt.Errorf("failed to set default model: %w", err)
	}
	return nil
}

// AvailableModels returns the backend's model catalog, or nil if it can't be fetched.
func (m *Models) AvailableModels(ctx context.Context) map[string]models.ModelInfo {
	available, err := m.backend.AvailableModels(ctx)
	if err != nil {
		m.logger.Error("Failed to get available models", slog.String("err", err.Error()))
		return nil
	}
	m.store.setAvailable(available)
	return available
}

// DownloadedModels returns the downloaded models sorted by name, or nil if they can't be fetched.
func (m *Models) DownloadedModels(ctx context.Context) []string {
	names, err := m.backend.DownloadedModels(ctx)
	if err != nil {
		m.logger.Error("Failed to list downloaded models", slog.String("err", err.Error()))
		return nil
	}
	names = slices.Clone(names)
	slices.Sort(names)
	m.store.setDownloaded(names)
	return slices.Clone(names)
}

// DefaultModel returns the default model's name, or "" if it is unset or can't be fetched.
func (m *Models) DefaultModel(ctx context.Context) string {
	name, err := m.backend.DefaultModel(ctx)
	if err != nil {
		m.logger.Error("Failed to get default model", slog.String("err", err.Error()))
		return ""
	}
	m.store.setDefault(name)
	return name
}

// ModelStatus returns the backend's model status, or models.ModelStatusUnset if it can't be
// fetched.
func (m *Models) ModelStatus(ctx context.Context) models.ModelStatus {
	status, err := m.backend.ModelStatus(ctx)
	if err != nil {
		m.logger.Error("Failed to get model status", slog.String("err", err.Error()))
		return models.ModelStatusUnset
	}
	m.store.setStatus(status)
	return status
}

// AbortGeneration asks the backend to stop generating the current reply. Failures are logged and
// otherwise ignored.
func (m *Models) AbortGeneration(ctx context.Context) {
	if err := m.backend.AbortGeneration(ctx); err != nil {
		m.logger.Warn("Failed to abort generation", slog.String("err", err.Error()))
	}
}

func (m *Models) handleDownloading(payload json.RawMessage) {
	downloading, err := coerceBool(payload)
	if err != nil {
		m.logger.Warn("Ignoring malformed download notification",
			slog.String("payload", string(payload)),
			slog.String("err", err.Error()))
		return
	}
	m.store.setDownloading(downloading)
}

func (m *Models) handleProgress(payload json.RawMessage) {
	var pct float64
	if err := json.Unmarshal(payload, &pct); err != nil {
		m.logger.Warn("Ignoring malformed progress notification",
			slog.String("payload", string(payload)),
			slog.String("err", err.Error()))
		return
	}
	m.store.setProgress(pct)
}

// coerceBool reads a JSON boolean, a number (non-zero is true) or a string accepted by
// strconv.ParseBool.
func coerceBool(payload json.RawMessage) (bool, error) {
	var v any
	if err := json.Unmarshal(payload, &v); err != nil {
		return false, err
	}

	switch v := v.(type) {
	case bool:
		return v, nil
	case float64:
		return v != 0, nil
	case string:
		return strconv.ParseBool(v)
	}
	return false, fmt.Errorf("unexpected payload type %T", v)
}
