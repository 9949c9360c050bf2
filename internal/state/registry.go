package state

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
)

type attachState int

const (
	attachPending attachState = iota + 1
	attachDone
)

// Registry attaches push notification listeners at most once per channel, however many times the
// code that asks for them runs. Listeners stay attached until the Registry's context is done.
type Registry struct {
	ctx        context.Context
	subscriber Subscriber

	mu       sync.Mutex
	channels map[string]attachState

	logger *slog.Logger
}

// NewRegistry creates a Registry whose listeners live as long as ctx.
func NewRegistry(ctx context.Context, subscriber Subscriber, logger *slog.Logger) *Registry {
	return &Registry{
		ctx:        ctx,
		subscriber: subscriber,
		channels:   make(map[string]attachState),
		logger:     logger.With(slog.String("module", "registry")),
	}
}

// EnsureSubscribed attaches handler to channel unless a listener is already attached, or being
// attached, for that channel. A failed attachment is logged and forgotten, so a later call may
// try again.
func (r *Registry) EnsureSubscribed(channel string, handler func(payload json.RawMessage)) {
	r.mu.Lock()
	if _, ok := r.channels[channel]; ok {
		r.mu.Unlock()
		return
	}
	r.channels[channel] = attachPending
	r.mu.Unlock()

	err := r.subscriber.Subscribe(r.ctx, channel, handler)

	r.mu.Lock()
	defer r.mu.Unlock()
	if err != nil {
		delete(r.channels, channel)
		r.logger.Error("Failed to subscribe",
			slog.String("channel", channel),
			slog.String("err", err.Error()))
		return
	}
	r.channels[channel] = attachDone
	r.logger.Debug("Subscribed", slog.String("channel", channel))
}

// Subscribed reports whether a listener is attached to channel.
func (r *Registry) Subscribed(channel string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.channels[channel] == attachDone
}
