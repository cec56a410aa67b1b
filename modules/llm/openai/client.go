package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/flemzord/memsync/internal/memory"
	"github.com/flemzord/memsync/internal/resilience"
	"github.com/sashabaranov/go-openai"
)

var (
	_ memory.LLM      = (*Client)(nil)
	_ memory.Embedder = (*Client)(nil)
)

// Client implements memory.LLM and memory.Embedder on the OpenAI API.
type Client struct {
	api *openai.Client
	cfg Config
}

// NewClient builds a client from cfg. Unset fields take defaults.
func NewClient(cfg Config) *Client {
	cfg.defaults()
	cc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		cc.BaseURL = cfg.BaseURL
	}
	cc.HTTPClient = &http.Client{Timeout: cfg.timeout}
	return &Client{api: openai.NewClientWithConfig(cc), cfg: cfg}
}

// GenerateResponse implements memory.LLM.
func (c *Client) GenerateResponse(ctx context.Context, messages []memory.Message, format memory.ResponseFormat) (string, error) {
	req := openai.ChatCompletionRequest{
		Model:       c.cfg.Model,
		Messages:    make([]openai.ChatCompletionMessage, 0, len(messages)),
		Temperature: *c.cfg.Temperature,
		MaxTokens:   c.cfg.MaxTokens,
	}
	for _, m := range messages {
		req.Messages = append(req.Messages, openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		})
	}
	if format == memory.FormatJSON {
		req.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		}
	}

	resp, err := c.api.CreateChatCompletion(ctx, req)
	if err != nil {
		return "", fmt.Errorf("openai: chat completion: %w", classify(err))
	}
	if len(resp.Choices) == 0 {
		return "", resilience.Tag(resilience.KindIntegrity, errors.New("openai: chat completion returned no choices"))
	}
	return resp.Choices[0].Message.Content, nil
}

// Embed implements memory.Embedder. The purpose does not change the request.
func (c *Client) Embed(ctx context.Context, text string, _ memory.Purpose) ([]float32, error) {
	resp, err := c.api.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(c.cfg.EmbeddingModel),
		Dimensions: c.cfg.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("openai: create embeddings: %w", classify(err))
	}
	if len(resp.Data) == 0 {
		return nil, resilience.Tag(resilience.KindIntegrity, errors.New("openai: empty embedding response"))
	}
	return resp.Data[0].Embedding, nil
}
