package memory

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

	"github.com/pinebranchco/wisp/internal/config"
)

const (
	distillPrompt = `You are a memory distillation engine. Read the conversation and extract durable facts about the participants.

Rules:
1. Extract only facts explicitly supported by the messages, no speculation
2. One fact per (user, topic) pair; topic is a short coarse label like "coffee" or "work schedule"
3. Every fact must cite the ids of the messages supporting it
4. confidence must be in [0.0, 1.0]
5. If the conversation contains nothing worth remembering, return an empty facts list

Return strict JSON object:
{"facts":[{"user_id":"...","topic":"...","summary":"...","confidence":0.8,"source_message_ids":["..."]}]}

Conversation (each line is "id|user_id|author: text"):
%s`

	condensePrompt = `Condense this memory summary. Keep every distinct fact, drop repetition and filler, target at most %d characters.
Return strict JSON object: {"summary":"..."}

Summary:
%s`
)

// CompletionClient is the opaque text-completion capability. Failures and
// timeouts surface as ErrCompletionUnavailable.
type CompletionClient interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

type httpCompletionClient struct {
	apiKey     string
	baseURL    string
	model      string
	maxTokens  int
	httpClient *http.Client
}

// NewCompletionClient builds an OpenAI-compatible chat-completion client from
// config. The memory provider overrides the agent provider when set.
func NewCompletionClient(cfg *config.Config) CompletionClient {
	c := &httpCompletionClient{
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}

	if cfg.Memory.Provider != nil {
		c.apiKey = cfg.Memory.Provider.APIKey
		c.baseURL = cfg.Memory.Provider.BaseURL
	}
	if c.apiKey == "" {
		c.apiKey = cfg.Provider.APIKey
	}
	if c.baseURL == "" {
		c.baseURL = cfg.Provider.BaseURL
	}
	if cfg.Memory.Model != "" {
		c.model = cfg.Memory.Model
	} else {
		c.model = cfg.Agent.Model
	}
	if cfg.Memory.MaxTokens > 0 {
		c.maxTokens = cfg.Memory.MaxTokens
	} else {
		c.maxTokens = cfg.Agent.MaxTokens
	}

	return c
}

func (c *httpCompletionClient) Complete(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(c.apiKey) == "" {
		return "", fmt.Errorf("%w: missing api key", ErrCompletionUnavailable)
	}
	baseURL := strings.TrimRight(strings.TrimSpace(c.baseURL), "/")
	if baseURL == "" {
		return "", fmt.Errorf("%w: missing base url", ErrCompletionUnavailable)
	}
	if c.model == "" {
		return "", fmt.Errorf("%w: missing model", ErrCompletionUnavailable)
	}

	body := map[string]any{
		"model": c.model,
		"messages": []map[string]string{{
			"role":    "user",
			"content": prompt,
		}},
		"max_tokens":  c.maxTokens,
		"temperature": 0.3,
		"response_format": map[string]string{
			"type": "json_object",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, baseURL+"/chat/completions", bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return "", err
		}
		return "", fmt.Errorf("%w: %v", ErrCompletionUnavailable, err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("%w: read response: %v", ErrCompletionUnavailable, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("%w: http %d: %s", ErrCompletionUnavailable, resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	var decoded struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(respBody, &decoded); err != nil {
		return "", fmt.Errorf("%w: decode response: %v", ErrCompletionUnavailable, err)
	}
	if len(decoded.Choices) == 0 {
		return "", fmt.Errorf("%w: empty choices in response", ErrCompletionUnavailable)
	}
	content := strings.TrimSpace(decoded.Choices[0].Message.Content)
	if content == "" {
		return "", fmt.Errorf("%w: empty content in response", ErrCompletionUnavailable)
	}
	return content, nil
}
