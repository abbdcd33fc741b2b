package openai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
)

// DefaultBaseURL is the public OpenAI API
const DefaultBaseURL = "https://api.openai.com"

const chatCompletionsPath = "/v1/chat/completions"

type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	timeout    time.Duration
}

// OpenAI-compatible message format
type Message struct {
	Role    string      `json:"role"`
	Content interface{} `json:"content"` // Can be string or []ContentPart
}

type ContentPart struct {
	Type     string    `json:"type"`
	Text     string    `json:"text,omitempty"`
	ImageURL *ImageURL `json:"image_url,omitempty"`
}

type ImageURL struct {
	URL string `json:"url"`
}

type ResponseFormat struct {
	Type string `json:"type"`
}

// OpenAI-compatible chat completion request
type ChatCompletionRequest struct {
	Model          string          `json:"model"`
	Messages       []Message       `json:"messages"`
	ResponseFormat *ResponseFormat `json:"response_format,omitempty"`
}

// OpenAI-compatible chat completion response
type ChatCompletionResponse struct {
	ID      string    `json:"id"`
	Object  string    `json:"object"`
	Created int64     `json:"created"`
	Model   string    `json:"model"`
	Choices []Choice  `json:"choices"`
	Usage   Usage     `json:"usage,omitempty"`
	Error   *APIError `json:"error,omitempty"`
}

type Choice struct {
	Index        int     `json:"index"`
	Message      Message `json:"message"`
	FinishReason string  `json:"finish_reason,omitempty"`
}

type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// APIError is a non-2xx answer from the inference endpoint
type APIError struct {
	StatusCode int         `json:"-"`
	Message    string      `json:"message"`
	Type       string      `json:"type"`
	Code       interface{} `json:"code"` // Can be string or number
	Body       string      `json:"-"`
}

func (e *APIError) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("API error (status %d): %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("server returned status %d: %s", e.StatusCode, e.Body)
}

// NewClient creates a client for an OpenAI-compatible server. The key is sent
// as a bearer token when non-empty.
func NewClient(serverURL, apiKey string, timeout time.Duration) (*Client, error) {
	if serverURL == "" {
		serverURL = DefaultBaseURL
	}
	serverURL = strings.TrimSuffix(serverURL, "/")
	serverURL = strings.TrimSuffix(serverURL, chatCompletionsPath)
	if !strings.HasPrefix(serverURL, "http://") && !strings.HasPrefix(serverURL, "https://") {
		return nil, fmt.Errorf("invalid URL: %s", serverURL)
	}
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}

	return &Client{
		baseURL: serverURL,
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		timeout: timeout,
	}, nil
}

func (c *Client) SimpleQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error) {
	return c.query(ctx, newRequest(model, prompt, img, false))
}

func (c *Client) JSONQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error) {
	return c.query(ctx, newRequest(model, prompt, img, true))
}

func newRequest(model, prompt string, img *imagesource.Asset, jsonMode bool) ChatCompletionRequest {
	content := []ContentPart{
		{
			Type: "text",
			Text: prompt,
		},
	}

	if img != nil {
		content = append(content, ContentPart{
			Type: "image_url",
			ImageURL: &ImageURL{
				URL: img.DataURL(),
			},
		})
	}

	req := ChatCompletionRequest{
		Model: model,
		Messages: []Message{
			{
				Role:    "user",
				Content: content,
			},
		},
	}
	if jsonMode {
		req.ResponseFormat = &ResponseFormat{Type: "json_object"}
	}
	return req
}

func (c *Client) query(ctx context.Context, req ChatCompletionRequest) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	respBody, err := c.sendRequest(ctx, chatCompletionsPath, req)
	if err != nil {
		return "", err
	}

	var resp ChatCompletionResponse
	if err := json.Unmarshal(respBody, &resp); err != nil {
		return "", fmt.Errorf("failed to parse response: %w", err)
	}
	if resp.Error != nil {
		resp.Error.StatusCode = http.StatusOK
		return "", resp.Error
	}

	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("no choices in response")
	}

	// Extract text from the response (handle both string and array formats)
	switch content := resp.Choices[0].Message.Content.(type) {
	case string:
		return content, nil
	case []interface{}:
		for _, item := range content {
			if partMap, ok := item.(map[string]interface{}); ok {
				if text, ok := partMap["text"].(string); ok && text != "" {
					return text, nil
				}
			}
		}
	}

	return "", fmt.Errorf("no text content in response")
}

func (c *Client) sendRequest(ctx context.Context, endpoint string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(body))}
		var envelope struct {
			Error *APIError `json:"error"`
		}
		if json.Unmarshal(body, &envelope) == nil && envelope.Error != nil {
			apiErr.Message = envelope.Error.Message
			apiErr.Type = envelope.Error.Type
			apiErr.Code = envelope.Error.Code
		}
		return nil, apiErr
	}

	return body, nil
}
