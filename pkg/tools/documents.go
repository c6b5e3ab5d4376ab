package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/seynadio/chatbridge/pkg/docstore"
)

// DocumentSearchTool answers questions from the current conversation's
// stored documents via retrieval-augmented answering. The conversation
// id comes from the execution context, never from model-provided
// arguments, so the model cannot read another conversation's
// collection.
type DocumentSearchTool struct {
	service *docstore.Service
}

func NewDocumentSearchTool(service *docstore.Service) *DocumentSearchTool {
	return &DocumentSearchTool{service: service}
}

func (t *DocumentSearchTool) Name() string {
	return "search_documents"
}

func (t *DocumentSearchTool) Description() string {
	return "Search the documents and web pages the user has saved in this conversation. Use this when the question refers to uploaded files or saved links."
}

func (t *DocumentSearchTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"query": map[string]interface{}{
				"type":        "string",
				"description": "What to look for in the saved documents",
			},
		},
		"required": []string{"query"},
	}
}

func (t *DocumentSearchTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	query, ok := args["query"].(string)
	if !ok || query == "" {
		return ErrorResult("query is required")
	}

	conversationID := ConversationFromContext(ctx)
	if conversationID == "" {
		return ErrorResult("no conversation context for document search")
	}

	answer, err := t.service.Answer(ctx, conversationID, query)
	if err != nil {
		return ErrorResult(fmt.Sprintf("document search failed: %v", err)).WithError(err)
	}
	if strings.TrimSpace(answer) == "" {
		return Result("No saved documents match this query.")
	}
	return Result(answer)
}
