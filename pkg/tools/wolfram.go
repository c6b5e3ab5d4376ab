package tools

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// WolframTool asks the Wolfram Alpha short-answers API factual and
// computational questions.
type WolframTool struct {
	appID      string
	httpClient *http.Client
}

func NewWolframTool(appID string) *WolframTool {
	if strings.TrimSpace(appID) == "" {
		return nil
	}
	return &WolframTool{
		appID:      appID,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *WolframTool) Name() string {
	return "wolfram_alpha"
}

func (t *WolframTool) Description() string {
	return "Answer factual, scientific and computational questions using Wolfram Alpha. Good for units, dates, physics and data lookups."
}

func (t *WolframTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "Question in plain English, e.g. 'distance from Earth to Mars'",
			},
		},
		"required": []string{"query"},
	}
}

func (t *WolframTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return ErrorResult("query is required")
	}

	reqURL := fmt.Sprintf("https://api.wolframalpha.com/v1/result?appid=%s&i=%s",
		url.QueryEscape(t.appID), url.QueryEscape(query))

	req, err := http.NewRequestWithContext(ctx, "GET", reqURL, nil)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to create request: %v", err)).WithError(err)
	}

	resp, err := t.httpClient.Do(req)
	if err != nil {
		return ErrorResult(fmt.Sprintf("request failed: %v", err)).WithError(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return ErrorResult(fmt.Sprintf("failed to read response: %v", err)).WithError(err)
	}

	switch resp.StatusCode {
	case http.StatusOK:
		return Result(strings.TrimSpace(string(body)))
	case http.StatusNotImplemented:
		// The API answers 501 for questions it cannot resolve.
		return Result("Wolfram Alpha has no short answer for this question.")
	default:
		err := fmt.Errorf("wolfram alpha failed: status %d", resp.StatusCode)
		return ErrorResult(err.Error()).WithError(err)
	}
}
