package backend

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/divy-sh/breve/internal/models"
)

// ConversationIDs returns the IDs of all conversations, most recently updated first.
func (s *Service) ConversationIDs(ctx context.Context) ([]string, error) {
	ids, err := s.store.ConversationIDs(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list conversations: %w", err)
	}
	if ids == nil {
		ids = []string{}
	}
	return ids, nil
}

// Conversation returns the conversation with the given ID, or nil when it doesn't exist.
func (s *Service) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	conv, err := s.store.Conversation(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to get conversation: %w", err)
	}
	return conv, nil
}

// StartConversation creates an empty conversation and returns its ID.
func (s *Service) StartConversation(ctx context.Context, title string) (string, error) {
	id, err := s.store.AddConversation(ctx, title)
	if err != nil {
		return "", fmt.Errorf("failed to add conversation: %w", err)
	}
	s.logger.Debug("Conversation started", slog.String("convID", id))
	return id, nil
}

// DeleteConversation removes a conversation. Deleting an unknown ID fails with
// ErrConversationNotFound.
func (s *Service) DeleteConversation(ctx context.Context, id string) (string, error) {
	found, err := s.store.DeleteConversation(ctx, id)
	if err != nil {
		return "", fmt.Errorf("failed to delete conversation: %w", err)
	}
	if !found {
		return "", fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}
	return "delete successful", nil
}

// ContinueConversation appends the user's input to a conversation, then generates the assistant's
// reply with the default model, publishing every chunk on models.ChannelGenerationChunk. It returns
// once the reply is stored. The user message is stored before generation starts, so it survives a
// failed generation. An aborted generation stores whatever part of the reply was produced.
//
// Turns on the same conversation run one at a time, in the order they acquire the conversation;
// only the most recent messages that fit the context budget are sent to the model.
func (s *Service) ContinueConversation(ctx context.Context, id, userInput string) error {
	unlock, err := s.lockTurn(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()

	conv, err := s.store.Conversation(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to get conversation: %w", err)
	}
	if conv == nil {
		return fmt.Errorf("%w: %s", ErrConversationNotFound, id)
	}

	model, _, err := s.store.Config(ctx, ConfigKeyModelName)
	if err != nil {
		return fmt.Errorf("failed to get default model: %w", err)
	}
	if model == "" {
		return ErrModelNotSet
	}

	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleUser, Content: userInput})
	if err := s.store.UpdateConversation(ctx, *conv); err != nil {
		return fmt.Errorf("failed to store user message: %w", err)
	}

	genCtx, done := s.startGeneration(ctx)
	defer done()

	var reply string
	for chunk, err := range s.runner.Chat(genCtx, model, trimHistory(conv.Messages, s.maxContextLength)) {
		if err != nil {
			s.logger.Error("Error from model runner",
				slog.String("convID", id),
				slog.String("err", err.Error()))
			return fmt.Errorf("failed to generate reply: %w", err)
		}
		reply += chunk
		s.publish(models.ChannelGenerationChunk, models.GenerationChunk{ConversationID: id, Text: chunk})
	}

	if reply == "" && genCtx.Err() != nil {
		s.logger.Info("Generation aborted before any output", slog.String("convID", id))
		return nil
	}

	conv.Messages = append(conv.Messages, models.Message{Role: models.RoleAssistant, Content: reply})
	if err := s.store.UpdateConversation(ctx, *conv); err != nil {
		return fmt.Errorf("failed to store reply: %w", err)
	}
	return nil
}

// AbortGeneration cancels the reply currently being generated, if any.
func (s *Service) AbortGeneration(context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cancelGen != nil {
		s.cancelGen()
		s.logger.Info("Generation aborted")
	}
	return nil
}

// startGeneration registers a cancellable generation context. Only the most recent generation can
// be aborted; the returned func releases it.
func (s *Service) startGeneration(ctx context.Context) (context.Context, func()) {
	genCtx, cancel := context.WithCancel(ctx)

	s.mu.Lock()
	s.generationSeq++
	seq := s.generationSeq
	s.cancelGen = cancel
	s.mu.Unlock()

	return genCtx, func() {
		cancel()
		s.mu.Lock()
		if s.generationSeq == seq {
			s.cancelGen = nil
		}
		s.mu.Unlock()
	}
}

type turnLock struct {
	sem     chan struct{}
	waiters int
}

// lockTurn waits until the caller holds conversation id, or ctx is done. The returned func
// releases it.
func (s *Service) lockTurn(ctx context.Context, id string) (func(), error) {
	s.mu.Lock()
	l, ok := s.turns[id]
	if !ok {
		l = &turnLock{sem: make(chan struct{}, 1)}
		s.turns[id] = l
	}
	l.waiters++
	s.mu.Unlock()

	release := func() {
		s.mu.Lock()
		l.waiters--
		if l.waiters == 0 {
			delete(s.turns, id)
		}
		s.mu.Unlock()
	}

	select {
	case l.sem <- struct{}{}:
		return func() {
			<-l.sem
			release()
		}, nil
	case <-ctx.Done():
		release()
		return nil, ctx.Err()
	}
}
