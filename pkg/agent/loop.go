package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/seynadio/chatbridge/pkg/history"
	"github.com/seynadio/chatbridge/pkg/logger"
	"github.com/seynadio/chatbridge/pkg/providers"
	"github.com/seynadio/chatbridge/pkg/tools"
)

// ErrLoopBudgetExceeded is returned when the model keeps requesting
// tools past the iteration budget without producing a final answer.
var ErrLoopBudgetExceeded = errors.New("tool iteration budget exceeded")

const defaultMaxIterations = 6

// Loop runs the tool-calling conversation cycle for a single message:
// call the model, execute any requested tools, feed results back, and
// repeat until the model answers in prose or a tool answers directly.
type Loop struct {
	provider      providers.LLMProvider
	tools         *tools.ToolRegistry
	builder       *ContextBuilder
	model         string
	maxIterations int
	options       map[string]interface{}
}

type LoopOptions struct {
	Model         string
	MaxIterations int
	MaxTokens     int
	Temperature   float64
}

func NewLoop(provider providers.LLMProvider, registry *tools.ToolRegistry, builder *ContextBuilder, opts LoopOptions) *Loop {
	model := opts.Model
	if model == "" {
		model = provider.GetDefaultModel()
	}
	maxIterations := opts.MaxIterations
	if maxIterations <= 0 {
		maxIterations = defaultMaxIterations
	}
	options := map[string]interface{}{}
	if opts.MaxTokens > 0 {
		options["max_tokens"] = opts.MaxTokens
	}
	if opts.Temperature > 0 {
		options["temperature"] = opts.Temperature
	}
	return &Loop{
		provider:      provider,
		tools:         registry,
		builder:       builder,
		model:         model,
		maxIterations: maxIterations,
		options:       options,
	}
}

// Respond answers one user message given the conversation's recent
// turns. Tool results marked Direct short-circuit the loop and become
// the reply as-is.
func (l *Loop) Respond(ctx context.Context, channel, chatID, conversationID, message string, turns []history.Turn) (Reply, error) {
	messages := l.builder.BuildMessages(turns, message, channel, chatID)
	toolDefs := l.tools.ToProviderDefs()

	var lastContent string
	for iteration := 1; iteration <= l.maxIterations; iteration++ {
		logger.DebugCF("agent", "LLM iteration",
			map[string]interface{}{
				"iteration":      iteration,
				"max":            l.maxIterations,
				"messages_count": len(messages),
				"tools_count":    len(toolDefs),
			})

		response, err := l.provider.Chat(ctx, messages, toolDefs, l.model, l.options)
		if err != nil {
			logger.ErrorCF("agent", "LLM call failed",
				map[string]interface{}{
					"iteration": iteration,
					"error":     err.Error(),
				})
			return Reply{}, fmt.Errorf("LLM call failed: %w", err)
		}

		if len(response.ToolCalls) == 0 {
			content := strings.TrimSpace(response.Content)
			logger.InfoCF("agent", "LLM response without tool calls (direct answer)",
				map[string]interface{}{
					"iteration":     iteration,
					"content_chars": len(content),
				})
			return ClassifyAnswer(content), nil
		}

		toolNames := make([]string, 0, len(response.ToolCalls))
		for _, tc := range response.ToolCalls {
			toolNames = append(toolNames, tc.Name)
		}
		logger.InfoCF("agent", "LLM requested tool calls",
			map[string]interface{}{
				"tools":     toolNames,
				"count":     len(response.ToolCalls),
				"iteration": iteration,
			})

		if trimmed := strings.TrimSpace(response.Content); trimmed != "" {
			lastContent = trimmed
		}

		// Echo the tool calls back in wire form so the next request
		// pairs each tool result with its originating call.
		assistantMsg := providers.Message{
			Role:    "assistant",
			Content: response.Content,
		}
		for _, tc := range response.ToolCalls {
			argumentsJSON, _ := json.Marshal(tc.Arguments)
			assistantMsg.ToolCalls = append(assistantMsg.ToolCalls, providers.ToolCall{
				ID:   tc.ID,
				Type: "function",
				Function: &providers.FunctionCall{
					Name:      tc.Name,
					Arguments: string(argumentsJSON),
				},
			})
		}
		messages = append(messages, assistantMsg)

		for _, tc := range response.ToolCalls {
			result := l.tools.ExecuteWithContext(ctx, tc.Name, tc.Arguments, channel, chatID, conversationID)

			if result.Direct {
				content := strings.TrimSpace(result.ForUser)
				logger.InfoCF("agent", "Tool result delivered directly",
					map[string]interface{}{
						"tool":      tc.Name,
						"iteration": iteration,
					})
				return ClassifyAnswer(content), nil
			}

			contentForLLM := result.ForLLM
			if contentForLLM == "" && result.Err != nil {
				contentForLLM = result.Err.Error()
			}
			messages = append(messages, providers.Message{
				Role:       "tool",
				Content:    contentForLLM,
				ToolCallID: tc.ID,
			})
		}
	}

	logger.WarnCF("agent", "Tool iteration budget exhausted",
		map[string]interface{}{
			"max":           l.maxIterations,
			"conversation":  conversationID,
			"partial_chars": len(lastContent),
		})
	if lastContent != "" {
		// Best effort: hand back whatever prose the model produced
		// alongside its last tool requests.
		return ClassifyAnswer(lastContent), nil
	}
	return Reply{}, ErrLoopBudgetExceeded
}
