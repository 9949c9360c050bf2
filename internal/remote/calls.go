package remote

import (
	"context"

	"github.com/divy-sh/breve/internal/handlers"
	"github.com/divy-sh/breve/internal/models"
)

// ConversationIDs invokes get_conversation_ids.
func (c *Client) ConversationIDs(ctx context.Context) ([]string, error) {
	var ids []string
	if err := c.Invoke(ctx, "get_conversation_ids", handlers.InvokeArgs{}, &ids); err != nil {
		return nil, err
	}
	return ids, nil
}

// Conversation invokes get_conversation. It returns nil when the conversation doesn't exist.
func (c *Client) Conversation(ctx context.Context, id string) (*models.Conversation, error) {
	var conv *models.Conversation
	if err := c.Invoke(ctx, "get_conversation", handlers.InvokeArgs{ConvID: id}, &conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// StartConversation invokes start_conversation and returns the new conversation's ID.
func (c *Client) StartConversation(ctx context.Context, title string) (string, error) {
	var id string
	if err := c.Invoke(ctx, "start_conversation", handlers.InvokeArgs{Title: title}, &id); err != nil {
		return "", err
	}
	return id, nil
}

// ContinueConversation invokes continue_conversation. It returns once the reply is stored.
func (c *Client) ContinueConversation(ctx context.Context, id, userInput string) error {
	return c.Invoke(ctx, "continue_conversation", handlers.InvokeArgs{ConvID: id, UserInput: userInput}, nil)
}

// DeleteConversation invokes delete_conversation.
func (c *Client) DeleteConversation(ctx context.Context, id string) (string, error) {
	var ack string
	if err := c.Invoke(ctx, "delete_conversation", handlers.InvokeArgs{ConvID: id}, &ack); err != nil {
		return "", err
	}
	return ack, nil
}

// EnsureModel invokes ensure_model. The download, if any, continues on the server after it returns.
func (c *Client) EnsureModel(ctx context.Context) error {
	return c.Invoke(ctx, "ensure_model", handlers.InvokeArgs{}, nil)
}

// DownloadModel invokes download_model. It returns once the download has finished.
func (c *Client) DownloadModel(ctx context.Context, name string) error {
	return c.Invoke(ctx, "download_model", handlers.InvokeArgs{ModelName: name}, nil)
}

// AvailableModels invokes get_available_models.
func (c *Client) AvailableModels(ctx context.Context) (map[string]models.ModelInfo, error) {
	var available map[string]models.ModelInfo
	if err := c.Invoke(ctx, "get_available_models", handlers.InvokeArgs{}, &available); err != nil {
		return nil, err
	}
	return available, nil
}

// DownloadedModels invokes list_downloaded_models.
func (c *Client) DownloadedModels(ctx context.Context) ([]string, error) {
	var names []string
	if err := c.Invoke(ctx, "list_downloaded_models", handlers.InvokeArgs{}, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// DeleteModel invokes delete_model.
func (c *Client) DeleteModel(ctx context.Context, name string) error {
	return c.Invoke(ctx, "delete_model", handlers.InvokeArgs{ModelName: name}, nil)
}

// SetDefaultModel invokes set_default_model.
func (c *Client) SetDefaultModel(ctx context.Context, name string) error {
	return c.Invoke(ctx, "set_default_model", handlers.InvokeArgs{ModelName: name}, nil)
}

// DefaultModel invokes get_default_model. It returns "" when no default model is set.
func (c *Client) DefaultModel(ctx context.Context) (string, error) {
	var name string
	if err := c.Invoke(ctx, "get_default_model", handlers.InvokeArgs{}, &name); err != nil {
		return "", err
	}
	return name, nil
}

// ModelStatus invokes get_model_status.
func (c *Client) ModelStatus(ctx context.Context) (models.ModelStatus, error) {
	var status models.ModelStatus
	if err := c.Invoke(ctx, "get_model_status", handlers.InvokeArgs{}, &status); err != nil {
		return "", err
	}
	return status, nil
}

// AbortGeneration invokes abort_generation.
func (c *Client) AbortGeneration(ctx context.Context) error {
	return c.Invoke(ctx, "abort_generation", handlers.InvokeArgs{}, nil)
}

// Config invokes get_config.
func (c *Client) Config(ctx context.Context, key string) (string, error) {
	var value string
	if err := c.Invoke(ctx, "get_config", handlers.InvokeArgs{Key: key}, &value); err != nil {
		return "", err
	}
	return value, nil
}

// SetConfig invokes set_config.
func (c *Client) SetConfig(ctx context.Context, key, value string) error {
	return c.Invoke(ctx, "set_config", handlers.InvokeArgs{Key: key, Value: value}, nil)
}
