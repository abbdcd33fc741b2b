package ollama

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"

	"github.com/menta2k/visual-dictionary/pkg/imagesource"
)

// DefaultURL is the local Ollama server
const DefaultURL = "http://localhost:11434"

// Client wraps the Ollama API client
type Client struct {
	client  *api.Client
	timeout time.Duration
}

// NewClient creates a new Ollama client
func NewClient(ollamaURL string, timeout time.Duration) (*Client, error) {
	if ollamaURL == "" {
		ollamaURL = DefaultURL
	}
	// Parse the provided URL
	parsedURL, err := url.Parse(ollamaURL)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if parsedURL.Scheme == "" || parsedURL.Host == "" {
		return nil, fmt.Errorf("invalid URL: %s", ollamaURL)
	}

	// Create base URL from the provided URL (removing path like /api/chat)
	baseURL := &url.URL{
		Scheme: parsedURL.Scheme,
		Host:   parsedURL.Host,
	}
	if timeout <= 0 {
		// CPU inference of vision models is slow
		timeout = 5 * time.Minute
	}

	// Create client with the specified URL, ignoring environment
	client := api.NewClient(baseURL, http.DefaultClient)

	return &Client{client: client, timeout: timeout}, nil
}

// SimpleQuery performs a query with an image without expecting JSON
func (c *Client) SimpleQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error) {
	return c.chat(ctx, model, prompt, img, nil)
}

// JSONQuery performs a query constrained to JSON output
func (c *Client) JSONQuery(ctx context.Context, model, prompt string, img *imagesource.Asset) (string, error) {
	return c.chat(ctx, model, prompt, img, json.RawMessage(`"json"`))
}

func (c *Client) chat(ctx context.Context, model, prompt string, img *imagesource.Asset, format json.RawMessage) (string, error) {
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	msg := api.Message{
		Role:    "user",
		Content: prompt,
	}
	if img != nil {
		msg.Images = []api.ImageData{api.ImageData(img.Bytes())}
	}

	// Set model-specific parameters for better performance
	options := map[string]any{}
	modelLower := strings.ToLower(model)
	if strings.Contains(modelLower, "minicpm-v") {
		options["temperature"] = 0.7
		options["top_p"] = 0.8
		options["num_ctx"] = 4096
	}

	streamFalse := false
	req := &api.ChatRequest{
		Model:    model,
		Messages: []api.Message{msg},
		Stream:   &streamFalse,
		Format:   format,
		Options:  options,
	}

	var responseContent strings.Builder
	err := c.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		responseContent.WriteString(resp.Message.Content)
		return nil
	})
	if err != nil {
		return "", fmt.Errorf("ollama chat error: %w", err)
	}

	if responseContent.Len() == 0 {
		return "", fmt.Errorf("empty response from ollama")
	}
	return responseContent.String(), nil
}
