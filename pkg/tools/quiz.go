package tools

import (
	"context"
	"fmt"
	"strings"

	"github.com/seynadio/chatbridge/pkg/docstore"
	"github.com/seynadio/chatbridge/pkg/providers"
)

const quizPrompt = `Write a short quiz of %d questions with answers about the following material. Number the questions, and list the answers at the end.

MATERIAL:
%s`

// QuizTool generates practice questions from the conversation's saved
// documents.
type QuizTool struct {
	service *docstore.Service
	llm     providers.LLMProvider
	model   string
}

func NewQuizTool(service *docstore.Service, llm providers.LLMProvider, model string) *QuizTool {
	return &QuizTool{service: service, llm: llm, model: model}
}

func (t *QuizTool) Name() string {
	return "generate_quiz"
}

func (t *QuizTool) Description() string {
	return "Create a practice quiz from the documents saved in this conversation. Use when the user asks to be tested on their material."
}

func (t *QuizTool) Parameters() map[string]interface{} {
	return map[string]interface{}{
		"type": "object",
		"properties": map[string]interface{}{
			"topic": map[string]interface{}{
				"type":        "string",
				"description": "Topic to focus the quiz on",
			},
			"questions": map[string]interface{}{
				"type":        "integer",
				"description": "Number of questions (1-10)",
				"minimum":     1.0,
				"maximum":     10.0,
			},
		},
		"required": []string{"topic"},
	}
}

func (t *QuizTool) Execute(ctx context.Context, args map[string]interface{}) *ToolResult {
	topic, ok := args["topic"].(string)
	if !ok || topic == "" {
		return ErrorResult("topic is required")
	}

	questions := 5
	if q, ok := args["questions"].(float64); ok && int(q) >= 1 && int(q) <= 10 {
		questions = int(q)
	}

	conversationID := ConversationFromContext(ctx)
	if conversationID == "" {
		return ErrorResult("no conversation context for quiz generation")
	}

	results, err := t.service.Query(ctx, conversationID, topic, 6)
	if err != nil {
		return ErrorResult(fmt.Sprintf("document lookup failed: %v", err)).WithError(err)
	}
	if len(results) == 0 {
		return Result("No saved documents to build a quiz from. Ask the user to upload material first.")
	}

	var material []string
	for _, r := range results {
		material = append(material, r.Text)
	}

	resp, err := t.llm.Chat(ctx, []providers.Message{
		{Role: "user", Content: fmt.Sprintf(quizPrompt, questions, strings.Join(material, "\n\n"))},
	}, nil, t.model, map[string]interface{}{
		"temperature": 0.7,
	})
	if err != nil {
		return ErrorResult(fmt.Sprintf("quiz generation failed: %v", err)).WithError(err)
	}
	return Result(strings.TrimSpace(resp.Content))
}
