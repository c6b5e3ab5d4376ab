package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const defaultHTTPTimeout = 300 * time.Second

// Client talks to an OpenAI-compatible API over plain HTTP: chat
// completions, embeddings, audio transcription, speech synthesis and
// image generation. One instance is shared by the agent loop, the
// document store and the orchestrator.
type Client struct {
	apiBase      string
	apiKey       string
	defaultModel string
	httpClient   *http.Client

	embeddingModel  string
	transcribeModel string
	speechModel     string
	speechVoice     string
	speechEnabled   bool
	imageModel      string
	imageSize       string

	// sleep is swapped for a recorder in tests.
	sleep func(time.Duration)
}

type ClientOptions struct {
	APIKey          string
	APIBase         string
	Proxy           string
	DefaultModel    string
	EmbeddingModel  string
	TranscribeModel string
	SpeechModel     string
	SpeechVoice     string
	SpeechEnabled   bool
	ImageModel      string
	ImageSize       string
}

func NewClient(opts ClientOptions) (*Client, error) {
	apiBase := strings.TrimRight(strings.TrimSpace(opts.APIBase), "/")
	if apiBase == "" {
		return nil, fmt.Errorf("API base not configured")
	}
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("API key not configured")
	}

	httpClient := &http.Client{Timeout: defaultHTTPTimeout}
	if proxy := strings.TrimSpace(opts.Proxy); proxy != "" {
		proxyURL, err := url.Parse(proxy)
		if err != nil {
			return nil, fmt.Errorf("parse proxy: %w", err)
		}
		httpClient.Transport = &http.Transport{Proxy: http.ProxyURL(proxyURL)}
	}

	return &Client{
		apiBase:         apiBase,
		apiKey:          strings.TrimSpace(opts.APIKey),
		defaultModel:    strings.TrimSpace(opts.DefaultModel),
		httpClient:      httpClient,
		embeddingModel:  strings.TrimSpace(opts.EmbeddingModel),
		transcribeModel: strings.TrimSpace(opts.TranscribeModel),
		speechModel:     strings.TrimSpace(opts.SpeechModel),
		speechVoice:     strings.TrimSpace(opts.SpeechVoice),
		speechEnabled:   opts.SpeechEnabled,
		imageModel:      strings.TrimSpace(opts.ImageModel),
		imageSize:       strings.TrimSpace(opts.ImageSize),
		sleep:           time.Sleep,
	}, nil
}

func (c *Client) GetDefaultModel() string {
	if c == nil {
		return ""
	}
	return c.defaultModel
}

// postJSON sends one JSON request through the classifying post path.
func (c *Client) postJSON(ctx context.Context, path string, payload interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	return c.post(ctx, path, "application/json", jsonData)
}

// post sends one request body and classifies the failure modes: 429
// with an optional Retry-After hint becomes a RateLimitError, 5xx and
// transport errors an externalError. The payload is a byte slice so
// retrying callers can resend it without rebuilding.
func (c *Client) post(ctx context.Context, path, contentType string, payload []byte) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.apiBase+path, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &externalError{fmt.Errorf("send request: %w", err)}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &externalError{fmt.Errorf("read response: %w", err)}
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests:
		return nil, &RateLimitError{
			RetryAfter: parseRetryAfter(resp.Header),
			Detail:     extractAPIError(body),
		}
	case resp.StatusCode >= http.StatusInternalServerError:
		return nil, &externalError{fmt.Errorf("API request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))}
	case resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices:
		return nil, fmt.Errorf("API request failed: status=%d error=%s", resp.StatusCode, extractAPIError(body))
	}
	return body, nil
}

func extractAPIError(body []byte) string {
	trimmed := strings.TrimSpace(string(body))
	if trimmed == "" {
		return "empty response body"
	}

	var payload struct {
		Error struct {
			Message string      `json:"message"`
			Type    string      `json:"type"`
			Code    interface{} `json:"code"`
		} `json:"error"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(body, &payload); err == nil {
		if msg := strings.TrimSpace(payload.Error.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(payload.Message); msg != "" {
			return msg
		}
	}

	if len(trimmed) > 2000 {
		return trimmed[:2000] + "..."
	}
	return trimmed
}
