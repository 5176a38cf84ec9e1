// Package openai implements pkg/ai's ChatClient and Embedder against the
// OpenAI API.
package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/papercomputeco/openmem/pkg/ai"
)

const (
	// DefaultModel is the default compression model.
	DefaultModel = "gpt-4o-mini"

	// DefaultEmbeddingModel is the default embedding model.
	DefaultEmbeddingModel = "text-embedding-3-small"

	// DefaultEmbeddingDimensions matches DefaultEmbeddingModel.
	DefaultEmbeddingDimensions = 1536

	// DefaultBaseURL is the OpenAI API URL.
	DefaultBaseURL = "https://api.openai.com"
)

// Client wraps the OpenAI chat-completions and embeddings APIs.
type Client struct {
	baseURL        string
	apiKey         string
	model          string
	embeddingModel string
	httpClient     *http.Client
}

// Config holds configuration for the OpenAI client.
type Config struct {
	// APIKey authenticates requests. Defaults to $OPENAI_API_KEY.
	APIKey string

	// Model is the chat model id. Defaults to DefaultModel if empty.
	Model string

	// EmbeddingModel defaults to DefaultEmbeddingModel if empty.
	EmbeddingModel string

	// BaseURL overrides the API URL. Defaults to DefaultBaseURL if empty.
	BaseURL string

	// Timeout bounds each request. Defaults to 60s if zero.
	Timeout time.Duration
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []chatMessage `json:"messages"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
}

type embedRequest struct {
	Model string `json:"model"`
	Input string `json:"input"`
}

type embedResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
	} `json:"data"`
}

// NewClient creates a new OpenAI client.
func NewClient(cfg Config) (*Client, error) {
	apiKey := cfg.APIKey
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if apiKey == "" {
		return nil, fmt.Errorf("%w: missing OpenAI API key", ai.ErrConfig)
	}

	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}

	embeddingModel := cfg.EmbeddingModel
	if embeddingModel == "" {
		embeddingModel = DefaultEmbeddingModel
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}

	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 60 * time.Second
	}

	return &Client{
		baseURL:        baseURL,
		apiKey:         apiKey,
		model:          model,
		embeddingModel: embeddingModel,
		httpClient:     &http.Client{Timeout: timeout},
	}, nil
}

// Name returns the canonical provider name.
func (c *Client) Name() string { return "openai" }

// Chat sends one system-plus-user exchange and returns the model's text.
func (c *Client) Chat(ctx context.Context, system, user string) (string, error) {
	reqBody := chatRequest{
		Model: c.model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
	}

	var parsed chatResponse
	if err := c.post(ctx, "/v1/chat/completions", reqBody, &parsed); err != nil {
		return "", err
	}

	if len(parsed.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices in response", ai.ErrRetryable)
	}
	return parsed.Choices[0].Message.Content, nil
}

// Embed converts text into a vector embedding.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	reqBody := embedRequest{Model: c.embeddingModel, Input: text}

	var parsed embedResponse
	if err := c.post(ctx, "/v1/embeddings", reqBody, &parsed); err != nil {
		return nil, err
	}

	if len(parsed.Data) == 0 {
		return nil, fmt.Errorf("%w: no embedding in response", ai.ErrRetryable)
	}
	return parsed.Data[0].Embedding, nil
}

// Close releases client resources.
func (c *Client) Close() error { return nil }

func (c *Client) post(ctx context.Context, path string, body, out any) error {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+path, bytes.NewReader(jsonBody))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: sending request: %v", ai.ErrRetryable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return ai.ClassifyStatus(resp.StatusCode, string(respBody))
	}

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("%w: decoding response: %v", ai.ErrRetryable, err)
	}
	return nil
}
