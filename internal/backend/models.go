package backend

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"

	"github.com/divy-sh/breve/internal/models"
	"github.com/divy-sh/breve/internal/services"
)

// AvailableModels returns the model catalog.
func (s *Service) AvailableModels(context.Context) (map[string]models.ModelInfo, error) {
	return maps.Clone(s.catalog), nil
}

// DownloadedModels returns the catalog models that are present locally, in no particular order.
func (s *Service) DownloadedModels(ctx context.Context) ([]string, error) {
	local, err := s.runner.Models(ctx)
	if err != nil {
		return nil, err
	}

	found := []string{}
	for name := range s.catalog {
		if slices.ContainsFunc(local, func(l string) bool { return services.SameModel(l, name) }) {
			found = append(found, name)
		}
	}
	return found, nil
}

// DefaultModel returns the name of the default model, or "" when none is set.
func (s *Service) DefaultModel(ctx context.Context) (string, error) {
	name, _, err := s.store.Config(ctx, ConfigKeyModelName)
	if err != nil {
		return "", fmt.Errorf("failed to get default model: %w", err)
	}
	return name, nil
}

// ModelStatus reports whether a download is running, or else whether the default model is
// ready to use.
func (s *Service) ModelStatus(ctx context.Context) (models.ModelStatus, error) {
	s.mu.Lock()
	downloading := s.downloading
	s.mu.Unlock()
	if downloading {
		return models.ModelStatusDownloading, nil
	}

	name, err := s.DefaultModel(ctx)
	if err != nil {
		return "", err
	}
	if name == "" {
		return models.ModelStatusUnset, nil
	}

	ok, err := s.isDownloaded(ctx, name)
	if err != nil {
		return "", err
	}
	if !ok {
		return models.ModelStatusUnset, nil
	}
	return models.ModelStatusReady, nil
}

// SetDefaultModel makes a downloaded catalog model the default one.
func (s *Service) SetDefaultModel(ctx context.Context, name string) error {
	if _, ok := s.catalog[name]; !ok {
		return fmt.Errorf("%w: %s", ErrModelNotAvailable, name)
	}

	ok, err := s.isDownloaded(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrModelNotDownloaded, name)
	}

	if err := s.store.SetConfig(ctx, ConfigKeyModelName, name); err != nil {
		return fmt.Errorf("failed to persist default model: %w", err)
	}
	s.logger.Info("Default model set", slog.String("model", name))
	return nil
}

// DeleteModel removes a model from local storage. Deleting the default model also clears the
// default. Deleting a model that isn't present is not an error.
func (s *Service) DeleteModel(ctx context.Context, name string) error {
	ok, err := s.isDownloaded(ctx, name)
	if err != nil {
		return err
	}
	if ok {
		if err := s.runner.Delete(ctx, name); err != nil {
			return err
		}
	}

	def, err := s.DefaultModel(ctx)
	if err != nil {
		return err
	}
	if def == name {
		if err := s.store.SetConfig(ctx, ConfigKeyModelName, ""); err != nil {
			return fmt.Errorf("failed to clear default model: %w", err)
		}
	}
	return nil
}

// DownloadModel downloads a catalog model and returns when it is done. An empty name downloads the
// default model, or the fallback model when no default is set. Progress is published on
// models.ChannelDownloadingModel and models.ChannelDownloadProgress.
func (s *Service) DownloadModel(ctx context.Context, name string) error {
	if name == "" {
		def, err := s.DefaultModel(ctx)
		if err != nil {
			return err
		}
		name = def
		if name == "" {
			name = s.fallbackModel
		}
	}
	if _, ok := s.catalog[name]; !ok {
		return fmt.Errorf("%w: %q", ErrModelNotAvailable, name)
	}

	s.mu.Lock()
	if s.downloading {
		s.mu.Unlock()
		return ErrDownloadInProgress
	}
	s.downloading = true
	s.mu.Unlock()

	s.publish(models.ChannelDownloadingModel, true)
	defer func() {
		s.mu.Lock()
		s.downloading = false
		s.mu.Unlock()
		s.publish(models.ChannelDownloadingModel, false)
	}()

	s.logger.Info("Downloading model", slog.String("model", name))

	lastPct := -1
	err := s.runner.Pull(ctx, name, func(completed, total int64) {
		pct := int(completed * 100 / total)
		if pct == lastPct {
			return
		}
		lastPct = pct
		s.publish(models.ChannelDownloadProgress, pct)
	})
	if err != nil {
		return err
	}
	if lastPct != 100 {
		s.publish(models.ChannelDownloadProgress, 100)
	}

	s.logger.Info("Model downloaded", slog.String("model", name))
	return nil
}

// EnsureModel makes sure a default model is present locally. It returns immediately; the download,
// if one is needed, runs in the background and reports through push notifications only. When no
// default model is set, the fallback model is downloaded and becomes the default. It fails with
// ErrClosed once Close has been called.
func (s *Service) EnsureModel(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	// Close cancels baseCtx under mu, so no Add can race with its Wait.
	if s.baseCtx.Err() != nil {
		return ErrClosed
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.ensureModel(s.baseCtx); err != nil {
			s.logger.Error("Failed to ensure model", slog.String("err", err.Error()))
		}
	}()
	return nil
}

func (s *Service) ensureModel(ctx context.Context) error {
	def, err := s.DefaultModel(ctx)
	if err != nil {
		return err
	}

	name := def
	if name == "" {
		name = s.fallbackModel
	}
	if name == "" {
		return nil
	}

	ok, err := s.isDownloaded(ctx, name)
	if err != nil {
		return err
	}
	if !ok {
		if err := s.DownloadModel(ctx, name); err != nil {
			if errors.Is(err, ErrDownloadInProgress) {
				return nil
			}
			return err
		}
	}

	if def == "" {
		return s.SetDefaultModel(ctx, name)
	}
	return nil
}

func (s *Service) isDownloaded(ctx context.Context, name string) (bool, error) {
	local, err := s.runner.Models(ctx)
	if err != nil {
		return false, err
	}
	return slices.ContainsFunc(local, func(l string) bool { return services.SameModel(l, name) }), nil
}
