// Package llm generates reminder text with a local Ollama model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	backoff "github.com/cenkalti/backoff/v4"

	"github.com/vthunder/chapelotas/internal/logging"
)

// ErrUnavailable wraps every generation failure; callers fall back to a
// local template.
var ErrUnavailable = errors.New("text generation unavailable")

// Client talks to Ollama's /api/generate
type Client struct {
	baseURL      string
	model        string
	client       *http.Client
	buildBackoff func() backoff.BackOff
}

// NewClient creates a client; empty arguments take local defaults.
func NewClient(baseURL, model string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if model == "" {
		model = "llama3.2"
	}
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		model:   model,
		client:  &http.Client{Timeout: 30 * time.Second},
		buildBackoff: func() backoff.BackOff {
			b := backoff.NewExponentialBackOff()
			b.InitialInterval = 500 * time.Millisecond
			b.MaxElapsedTime = 10 * time.Second
			return backoff.WithMaxRetries(b, 2)
		},
	}
}

// WithBackoff overrides the retry policy
func (c *Client) WithBackoff(factory func() backoff.BackOff) *Client {
	c.buildBackoff = factory
	return c
}

type generateRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
	Stream bool   `json:"stream"`
}

type generateResponse struct {
	Response string `json:"response"`
	Done     bool   `json:"done"`
}

// Generate returns the model's reply to prompt. Transport errors and 5xx
// responses are retried a bounded number of times.
func (c *Client) Generate(ctx context.Context, prompt string) (string, error) {
	if prompt == "" {
		return "", fmt.Errorf("%w: empty prompt", ErrUnavailable)
	}

	body, err := json.Marshal(generateRequest{Model: c.model, Prompt: prompt})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	op := func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/api/generate", bytes.NewReader(body))
		if err != nil {
			return backoff.Permanent(err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := c.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode >= 500 {
			b, _ := io.ReadAll(resp.Body)
			return fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(b))
		}
		if resp.StatusCode != http.StatusOK {
			b, _ := io.ReadAll(resp.Body)
			return backoff.Permanent(fmt.Errorf("ollama error (status %d): %s", resp.StatusCode, string(b)))
		}

		var result generateResponse
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return backoff.Permanent(fmt.Errorf("decode response: %w", err))
		}
		text = strings.TrimSpace(result.Response)
		if text == "" {
			return backoff.Permanent(errors.New("empty response"))
		}
		return nil
	}

	if err := backoff.Retry(op, backoff.WithContext(c.buildBackoff(), ctx)); err != nil {
		logging.Debug("llm", "generate failed: %v", err)
		return "", fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return text, nil
}
