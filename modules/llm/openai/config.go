package openai

import (
	"errors"
	"fmt"
	"time"
)

const (
	defaultModel          = "gpt-4o-mini"
	defaultEmbeddingModel = "text-embedding-3-small"
	defaultMaxTokens      = 2000
	defaultTemperature    = 0.1
	defaultTimeout        = 60 * time.Second
)

// Config holds the OpenAI module configuration. Any OpenAI-compatible
// endpoint can be used through BaseURL.
type Config struct {
	APIKey  string `yaml:"api_key"`
	BaseURL string `yaml:"base_url,omitempty"`

	// Model is the chat model used for extraction. Defaults to gpt-4o-mini.
	Model string `yaml:"model"`

	// EmbeddingModel defaults to text-embedding-3-small.
	EmbeddingModel string `yaml:"embedding_model"`

	// Dimensions shortens embeddings when the model supports it. Zero keeps
	// the model default.
	Dimensions int `yaml:"dimensions,omitempty"`

	Temperature *float32 `yaml:"temperature"`
	MaxTokens   int      `yaml:"max_tokens"`

	// Timeout bounds each HTTP request. Defaults to 60s.
	Timeout string `yaml:"timeout"`

	timeout time.Duration
}

func (c *Config) defaults() {
	if c.Model == "" {
		c.Model = defaultModel
	}
	if c.EmbeddingModel == "" {
		c.EmbeddingModel = defaultEmbeddingModel
	}
	if c.Temperature == nil {
		t := float32(defaultTemperature)
		c.Temperature = &t
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = defaultMaxTokens
	}
	if c.timeout == 0 {
		c.timeout = defaultTimeout
	}
}

func (c *Config) validate() error {
	var errs []error
	if c.APIKey == "" && c.BaseURL == "" {
		errs = append(errs, errors.New("openai: api_key is required unless base_url points to a keyless endpoint"))
	}
	if c.Dimensions < 0 {
		errs = append(errs, fmt.Errorf("openai: dimensions must be non-negative, got %d", c.Dimensions))
	}
	if c.Timeout != "" {
		d, err := time.ParseDuration(c.Timeout)
		switch {
		case err != nil:
			errs = append(errs, fmt.Errorf("openai: timeout: %w", err))
		case d <= 0:
			errs = append(errs, fmt.Errorf("openai: timeout must be positive, got %s", c.Timeout))
		default:
			c.timeout = d
		}
	}
	return errors.Join(errs...)
}
