package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"mime/multipart"
	"strings"
)

// ModelID names the embedding model, used to partition stored vectors.
func (c *Client) ModelID() string {
	return c.embeddingModel
}

// Embed returns one vector per input text.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.embeddingModel,
		"input": texts,
	}

	var body []byte
	err := withRetry(ctx, c.sleep, func() error {
		var opErr error
		body, opErr = c.postJSON(ctx, "/embeddings", requestBody)
		return opErr
	})
	if err != nil {
		return nil, err
	}

	var apiResponse struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float32 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return nil, fmt.Errorf("parse embeddings response: %w", err)
	}
	if len(apiResponse.Data) != len(texts) {
		return nil, fmt.Errorf("embeddings response has %d vectors for %d inputs", len(apiResponse.Data), len(texts))
	}

	vectors := make([][]float32, len(texts))
	for _, item := range apiResponse.Data {
		if item.Index < 0 || item.Index >= len(vectors) {
			return nil, fmt.Errorf("embeddings response index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// Transcribe converts recorded audio to text.
func (c *Client) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	if len(audio) == 0 {
		return "", fmt.Errorf("empty audio payload")
	}
	if filename == "" {
		filename = "audio.ogg"
	}

	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return "", fmt.Errorf("create form file: %w", err)
	}
	if _, err := part.Write(audio); err != nil {
		return "", fmt.Errorf("write audio: %w", err)
	}
	if err := writer.WriteField("model", c.transcribeModel); err != nil {
		return "", fmt.Errorf("write model field: %w", err)
	}
	if err := writer.Close(); err != nil {
		return "", fmt.Errorf("close multipart: %w", err)
	}

	// The encoded form is reused across retry attempts; only the
	// reader is rebuilt per request.
	payload := buf.Bytes()
	var body []byte
	err = withRetry(ctx, c.sleep, func() error {
		var opErr error
		body, opErr = c.post(ctx, "/audio/transcriptions", writer.FormDataContentType(), payload)
		return opErr
	})
	if err != nil {
		return "", fmt.Errorf("transcription failed: %w", err)
	}

	var apiResponse struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("parse transcription response: %w", err)
	}
	return strings.TrimSpace(apiResponse.Text), nil
}

// Speak synthesizes speech for a reply. Returns nil bytes without error
// when synthesis is disabled, so callers fall back to text.
func (c *Client) Speak(ctx context.Context, text string) ([]byte, error) {
	if !c.speechEnabled || strings.TrimSpace(text) == "" {
		return nil, nil
	}

	requestBody := map[string]interface{}{
		"model": c.speechModel,
		"voice": c.speechVoice,
		"input": text,
	}

	var body []byte
	err := withRetry(ctx, c.sleep, func() error {
		var opErr error
		body, opErr = c.postJSON(ctx, "/audio/speech", requestBody)
		return opErr
	})
	if err != nil {
		return nil, err
	}
	return body, nil
}

// GenerateImage renders a prompt and returns the hosted image URL.
func (c *Client) GenerateImage(ctx context.Context, prompt string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", fmt.Errorf("empty image prompt")
	}

	requestBody := map[string]interface{}{
		"model":  c.imageModel,
		"prompt": prompt,
		"n":      1,
	}
	if c.imageSize != "" {
		requestBody["size"] = c.imageSize
	}

	var body []byte
	err := withRetry(ctx, c.sleep, func() error {
		var opErr error
		body, opErr = c.postJSON(ctx, "/images/generations", requestBody)
		return opErr
	})
	if err != nil {
		return "", err
	}

	var apiResponse struct {
		Data []struct {
			URL string `json:"url"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &apiResponse); err != nil {
		return "", fmt.Errorf("parse image response: %w", err)
	}
	if len(apiResponse.Data) == 0 || apiResponse.Data[0].URL == "" {
		return "", fmt.Errorf("image response contained no URL")
	}
	return apiResponse.Data[0].URL, nil
}
