package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/divy-sh/breve/internal/backend"
	"github.com/divy-sh/breve/internal/models"
	"github.com/divy-sh/breve/internal/services"
	"gopkg.in/yaml.v3"
)

const defaultSystemPrompt = `You are a friendly AI assistant named Breve.
You are designed to respond to user queries in a friendly and empathetic manner.
Answer without making up facts or hallucinating.`

const defaultOllamaHost = "http://127.0.0.1:11434"

// Token budgets of a 32k context window, a quarter of it reserved for the reply.
const (
	defaultMaxContextLength = 32768 - defaultMaxOutputLength
	defaultMaxOutputLength  = 4096
)

type config struct {
	Port             string                      `yaml:"port"`
	DBPath           string                      `yaml:"dbPath"`
	LogLevel         slog.Level                  `yaml:"logLevel"`
	SystemPrompt     string                      `yaml:"systemPrompt"`
	MaxContextLength int                         `yaml:"maxContextLength"`
	MaxOutputLength  int                         `yaml:"maxOutputLength"`
	Ollama           ollamaConfig                `yaml:"ollama"`
	FallbackModel    string                      `yaml:"fallbackModel"`
	Models           map[string]models.ModelInfo `yaml:"models"`
}

type ollamaConfig struct {
	Host string `yaml:"host"`
}

func defaultConfig() config {
	return config{
		Port:             "8080",
		LogLevel:         slog.LevelInfo,
		SystemPrompt:     defaultSystemPrompt,
		MaxContextLength: defaultMaxContextLength,
		MaxOutputLength:  defaultMaxOutputLength,
		FallbackModel:    "gemma3:1b",
		Models: map[string]models.ModelInfo{
			"gemma3:1b": {
				Name:           "Gemma-3-1B-It",
				Repo:           "google/gemma-3-1b-it",
				Size:           815 * 1024 * 1024,
				SupportsVision: true,
				Params:         "1B",
			},
			"llama3.2:1b": {
				Name:   "Llama-3.2-1B-Instruct",
				Repo:   "meta-llama/Llama-3.2-1B-Instruct",
				Size:   1300 * 1024 * 1024,
				Params: "1B",
			},
			"smollm2:360m": {
				Name:   "SmolLM2-360M-Instruct",
				Repo:   "HuggingFaceTB/SmolLM2-360M-Instruct",
				Size:   726 * 1024 * 1024,
				Params: "360M",
			},
		},
	}
}

func (c *config) UnmarshalYAML(value *yaml.Node) error {
	var rawConfig struct {
		Port             string                      `yaml:"port"`
		DBPath           string                      `yaml:"dbPath"`
		LogLevel         string                      `yaml:"logLevel"`
		SystemPrompt     string                      `yaml:"systemPrompt"`
		MaxContextLength int                         `yaml:"maxContextLength"`
		MaxOutputLength  int                         `yaml:"maxOutputLength"`
		Ollama           ollamaConfig                `yaml:"ollama"`
		FallbackModel    string                      `yaml:"fallbackModel"`
		Models           map[string]models.ModelInfo `yaml:"models"`
	}

	if err := value.Decode(&rawConfig); err != nil {
		return err
	}

	if rawConfig.Port != "" {
		c.Port = rawConfig.Port
	}
	if rawConfig.DBPath != "" {
		c.DBPath = rawConfig.DBPath
	}
	if rawConfig.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(rawConfig.LogLevel)); err != nil {
			return fmt.Errorf("invalid log level %q: %w", rawConfig.LogLevel, err)
		}
	}
	if rawConfig.SystemPrompt != "" {
		c.SystemPrompt = rawConfig.SystemPrompt
	}
	if rawConfig.MaxContextLength < 0 || rawConfig.MaxOutputLength < 0 {
		return fmt.Errorf("context and output lengths must not be negative")
	}
	if rawConfig.MaxContextLength != 0 {
		c.MaxContextLength = rawConfig.MaxContextLength
	}
	if rawConfig.MaxOutputLength != 0 {
		c.MaxOutputLength = rawConfig.MaxOutputLength
	}
	if rawConfig.Ollama.Host != "" {
		c.Ollama = rawConfig.Ollama
	}
	if rawConfig.Models != nil {
		c.Models = rawConfig.Models
	}
	if rawConfig.FallbackModel != "" {
		c.FallbackModel = rawConfig.FallbackModel
	}

	for name, info := range c.Models {
		if strings.TrimSpace(name) == "" {
			return fmt.Errorf("model name is required")
		}
		if info.Name == "" {
			return fmt.Errorf("display name is required for model %s", name)
		}
	}
	if c.FallbackModel != "" {
		if _, ok := c.Models[c.FallbackModel]; !ok {
			return fmt.Errorf("fallback model %s is not in the models list", c.FallbackModel)
		}
	}

	return nil
}

func (o ollamaConfig) host() string {
	if o.Host != "" {
		return o.Host
	}
	if host := os.Getenv("OLLAMA_HOST"); host != "" {
		return host
	}
	return defaultOllamaHost
}

func (c config) newOllama() services.Ollama {
	return services.NewOllama(c.Ollama.host(), c.SystemPrompt).
		WithLimits(c.MaxContextLength+c.MaxOutputLength, c.MaxOutputLength)
}

// historyBudget is the part of the context window left for the conversation history once the
// system prompt is in.
func (c config) historyBudget() int {
	return max(c.MaxContextLength-backend.EstimateTokens(c.SystemPrompt), 1)
}
