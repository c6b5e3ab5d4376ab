package tools

import (
	"context"
)

// Tool is the interface that all tools must implement.
type Tool interface {
	Name() string
	Description() string
	Parameters() map[string]interface{}
	Execute(ctx context.Context, args map[string]interface{}) *ToolResult
}

// ClosableTool is an optional interface for tools that hold runtime
// resources and require explicit teardown when the agent stops.
type ClosableTool interface {
	Tool
	Close() error
}

type toolExecutionContext struct {
	channel        string
	chatID         string
	conversationID string
}

type toolExecutionContextKey struct{}

// withToolExecutionContext annotates a call context with per-execution
// metadata so tools like document search know whose collection to read.
func withToolExecutionContext(ctx context.Context, channel, chatID, conversationID string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	if existing, ok := toolExecutionContextFromContext(ctx); ok {
		if channel == "" {
			channel = existing.channel
		}
		if chatID == "" {
			chatID = existing.chatID
		}
		if conversationID == "" {
			conversationID = existing.conversationID
		}
	}
	return context.WithValue(ctx, toolExecutionContextKey{}, toolExecutionContext{
		channel:        channel,
		chatID:         chatID,
		conversationID: conversationID,
	})
}

func toolExecutionContextFromContext(ctx context.Context) (toolExecutionContext, bool) {
	if ctx == nil {
		return toolExecutionContext{}, false
	}
	execCtx, ok := ctx.Value(toolExecutionContextKey{}).(toolExecutionContext)
	return execCtx, ok
}

// ConversationFromContext exposes the conversation id set by the
// registry for tools that partition state per conversation.
func ConversationFromContext(ctx context.Context) string {
	execCtx, ok := toolExecutionContextFromContext(ctx)
	if !ok {
		return ""
	}
	return execCtx.conversationID
}

func ToolToSchema(tool Tool) map[string]interface{} {
	return map[string]interface{}{
		"type": "function",
		"function": map[string]interface{}{
			"name":        tool.Name(),
			"description": tool.Description(),
			"parameters":  tool.Parameters(),
		},
	}
}
