package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/divy-sh/breve/internal/backend"
)

// InvokeArgs holds the named arguments of every command. Each command reads only the fields it
// needs.
type InvokeArgs struct {
	ConvID    string `json:"convId,omitempty"`
	UserInput string `json:"userInput,omitempty"`
	Title     string `json:"title,omitempty"`
	ModelName string `json:"modelName,omitempty"`
	Key       string `json:"key,omitempty"`
	Value     string `json:"value,omitempty"`
}

// ErrorResponse is the body of a failed invocation.
type ErrorResponse struct {
	Error string `json:"error"`
}

type command func(ctx context.Context, args InvokeArgs) (any, error)

func (m Main) commandTable() map[string]command {
	b := m.backend
	return map[string]command{
		"get_conversation_ids": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return b.ConversationIDs(ctx)
		},
		"get_conversation": func(ctx context.Context, a InvokeArgs) (any, error) {
			return b.Conversation(ctx, a.ConvID)
		},
		"start_conversation": func(ctx context.Context, a InvokeArgs) (any, error) {
			return b.StartConversation(ctx, a.Title)
		},
		"continue_conversation": func(ctx context.Context, a InvokeArgs) (any, error) {
			return nil, b.ContinueConversation(ctx, a.ConvID, a.UserInput)
		},
		"delete_conversation": func(ctx context.Context, a InvokeArgs) (any, error) {
			return b.DeleteConversation(ctx, a.ConvID)
		},
		"ensure_model": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return nil, b.EnsureModel(ctx)
		},
		"download_model": func(ctx context.Context, a InvokeArgs) (any, error) {
			return nil, b.DownloadModel(ctx, a.ModelName)
		},
		"get_available_models": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return b.AvailableModels(ctx)
		},
		"list_downloaded_models": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return b.DownloadedModels(ctx)
		},
		"delete_model": func(ctx context.Context, a InvokeArgs) (any, error) {
			return nil, b.DeleteModel(ctx, a.ModelName)
		},
		"set_default_model": func(ctx context.Context, a InvokeArgs) (any, error) {
			return nil, b.SetDefaultModel(ctx, a.ModelName)
		},
		"get_default_model": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return b.DefaultModel(ctx)
		},
		"get_model_status": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return b.ModelStatus(ctx)
		},
		"abort_generation": func(ctx context.Context, _ InvokeArgs) (any, error) {
			return nil, b.AbortGeneration(ctx)
		},
		"get_config": func(ctx context.Context, a InvokeArgs) (any, error) {
			return b.Config(ctx, a.Key)
		},
		"set_config": func(ctx context.Context, a InvokeArgs) (any, error) {
			return nil, b.SetConfig(ctx, a.Key, a.Value)
		},
	}
}

// HandleInvoke runs the command named by the {command} path segment with the JSON arguments of the
// request body, and writes its JSON result. Commands without a result answer with null.
//
// Failures are reported as an ErrorResponse with a status derived from the error: 404 for unknown
// commands, conversations and config keys, 400 for malformed requests and invalid model choices,
// 409 for a download already in progress and 500 otherwise.
func (m Main) HandleInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		m.logger.Error("Method not allowed", slog.String("method", r.Method))
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	name := r.PathValue("command")
	cmd, ok := m.commands[name]
	if !ok {
		m.logger.Error("Unknown command", slog.String("command", name))
		writeError(w, http.StatusNotFound, "unknown command "+name)
		return
	}

	var args InvokeArgs
	if err := json.NewDecoder(r.Body).Decode(&args); err != nil && !errors.Is(err, io.EOF) {
		m.logger.Error("Failed to decode arguments",
			slog.String("command", name),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, http.StatusBadRequest, "invalid arguments: "+err.Error())
		return
	}

	res, err := cmd(r.Context(), args)
	if err != nil {
		m.logger.Error("Command failed",
			slog.String("command", name),
			slog.String(errLoggerKey, err.Error()))
		writeError(w, statusFor(err), err.Error())
		return
	}

	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(res); err != nil {
		m.logger.Error("Failed to encode result",
			slog.String("command", name),
			slog.String(errLoggerKey, err.Error()))
	}
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, backend.ErrConversationNotFound), errors.Is(err, backend.ErrConfigNotFound):
		return http.StatusNotFound
	case errors.Is(err, backend.ErrModelNotAvailable),
		errors.Is(err, backend.ErrModelNotDownloaded),
		errors.Is(err, backend.ErrModelNotSet):
		return http.StatusBadRequest
	case errors.Is(err, backend.ErrDownloadInProgress):
		return http.StatusConflict
	case errors.Is(err, backend.ErrClosed):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(ErrorResponse{Error: msg})
}
