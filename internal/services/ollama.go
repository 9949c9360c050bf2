package services

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"net/http"
	"net/url"
	"slices"
	"strings"

	"github.com/divy-sh/breve/internal/models"
	"github.com/ollama/ollama/api"
)

// Ollama manages models hosted by an Ollama server and streams chat completions from them.
type Ollama struct {
	host         string
	systemPrompt string

	// Zero leaves the server's defaults in place.
	contextLength int
	outputLength  int

	client *api.Client
}

// NewOllama creates a new Ollama instance with the specified host URL. The host parameter should be
// a valid URL pointing to an Ollama server. If the provided host URL is invalid, the function will
// panic.
func NewOllama(host, systemPrompt string) Ollama {
	u, err := url.Parse(host)
	if err != nil {
		panic(err)
	}

	return Ollama{
		host:         host,
		systemPrompt: systemPrompt,
		client:       api.NewClient(u, &http.Client{}),
	}
}

// WithLimits returns a copy of o that asks the server for a context window of contextLength tokens
// and stops each reply after outputLength tokens.
func (o Ollama) WithLimits(contextLength, outputLength int) Ollama {
	o.contextLength = contextLength
	o.outputLength = outputLength
	return o
}

// Chat streams the reply of model to the given conversation history. The system prompt is always
// sent first, and system messages stored inside the history are dropped in its favor. Cancelling
// ctx stops the stream without yielding an error.
func (o Ollama) Chat(ctx context.Context, model string, messages []models.Message) iter.Seq2[string, error] {
	return func(yield func(string, error) bool) {
		msgs := make([]api.Message, 0, len(messages)+1)
		for _, msg := range messages {
			if msg.Role == models.RoleSystem {
				continue
			}
			msgs = append(msgs, api.Message{
				Role:    string(msg.Role),
				Content: msg.Content,
			})
		}
		msgs = slices.Insert(msgs, 0, api.Message{
			Role:    string(models.RoleSystem),
			Content: o.systemPrompt,
		})

		t := true
		req := api.ChatRequest{
			Model:    model,
			Messages: msgs,
			Stream:   &t,
		}
		if o.contextLength > 0 || o.outputLength > 0 {
			req.Options = map[string]any{}
			if o.contextLength > 0 {
				req.Options["num_ctx"] = o.contextLength
			}
			if o.outputLength > 0 {
				req.Options["num_predict"] = o.outputLength
			}
		}

		ctx, cancel := context.WithCancel(ctx)
		defer cancel()

		if err := o.client.Chat(ctx, &req, func(res api.ChatResponse) error {
			if !yield(res.Message.Content, nil) {
				cancel()
			}
			return nil
		}); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			yield("", fmt.Errorf("error sending request: %w", err))
		}
	}
}

// Pull downloads model, reporting byte progress through progress as Ollama streams it. It
// returns once the pull has finished.
func (o Ollama) Pull(ctx context.Context, model string, progress func(completed, total int64)) error {
	req := api.PullRequest{Model: model}
	err := o.client.Pull(ctx, &req, func(res api.ProgressResponse) error {
		if progress != nil && res.Total > 0 {
			progress(res.Completed, res.Total)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error pulling model %s: %w", model, err)
	}
	return nil
}

// Models returns the names of the models present on the Ollama server.
func (o Ollama) Models(ctx context.Context) ([]string, error) {
	res, err := o.client.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("error listing models: %w", err)
	}

	names := make([]string, len(res.Models))
	for i, m := range res.Models {
		names[i] = m.Name
	}
	return names, nil
}

// Delete removes model from the Ollama server.
func (o Ollama) Delete(ctx context.Context, model string) error {
	if err := o.client.Delete(ctx, &api.DeleteRequest{Model: model}); err != nil {
		return fmt.Errorf("error deleting model %s: %w", model, err)
	}
	return nil
}

// SameModel reports whether two Ollama model references name the same model, treating a missing
// tag as ":latest".
func SameModel(a, b string) bool {
	return withTag(a) == withTag(b)
}

func withTag(name string) string {
	if strings.Contains(name, ":") {
		return name
	}
	return name + ":latest"
}
