package agent

import (
	"fmt"
	"strings"

	"github.com/seynadio/chatbridge/pkg/history"
	"github.com/seynadio/chatbridge/pkg/logger"
	"github.com/seynadio/chatbridge/pkg/providers"
	"github.com/seynadio/chatbridge/pkg/tools"
)

// ContextBuilder assembles the message list for each model call: system
// prompt, session block, recent conversation turns, current message.
type ContextBuilder struct {
	tools       *tools.ToolRegistry
	promptTurns int
}

func NewContextBuilder(promptTurns int) *ContextBuilder {
	if promptTurns <= 0 {
		promptTurns = 20
	}
	return &ContextBuilder{promptTurns: promptTurns}
}

// SetToolsRegistry sets the tools registry for dynamic tool summary generation.
func (cb *ContextBuilder) SetToolsRegistry(registry *tools.ToolRegistry) {
	cb.tools = registry
}

func (cb *ContextBuilder) buildToolsSection() string {
	if cb.tools == nil {
		return ""
	}

	summaries := cb.tools.GetSummaries()
	if len(summaries) == 0 {
		return ""
	}

	var sb strings.Builder
	sb.WriteString("## Available Tools\n\n")
	sb.WriteString("**CRITICAL**: You MUST use tools to perform actions. Do NOT pretend to search, calculate or generate images.\n\n")
	sb.WriteString("You have access to the following tools:\n\n")
	for _, s := range summaries {
		sb.WriteString(s)
		sb.WriteString("\n")
	}
	return sb.String()
}

func (cb *ContextBuilder) BuildSystemPrompt() string {
	toolsSection := cb.buildToolsSection()

	return fmt.Sprintf(`# chatbridge

You are a helpful assistant reachable through chat platforms. Users send
you text, voice notes, documents and links; you answer conversationally.

%s

## Important Rules

1. **ALWAYS use tools** - When a question needs current information, math, document lookup or image generation, call the matching tool instead of guessing.

2. **Saved documents** - When the user refers to files or links they shared earlier, search their saved documents before answering.

3. **Be concise** - Replies are read on phones. Prefer short paragraphs and plain language.`, toolsSection)
}

// BuildMessages maps cached conversation turns onto chat-completions
// roles and appends the current user message. Only the newest turns are
// sent; older context ages out of the prompt but stays cached.
func (cb *ContextBuilder) BuildMessages(turns []history.Turn, currentMessage, channel, chatID string) []providers.Message {
	systemPrompt := cb.BuildSystemPrompt()

	logger.DebugCF("agent", "System prompt built",
		map[string]interface{}{
			"total_chars": len(systemPrompt),
			"turns":       len(turns),
		})

	messages := []providers.Message{{
		Role:    "system",
		Content: systemPrompt,
	}}

	if channel != "" && chatID != "" {
		messages = append(messages, providers.Message{
			Role:    "system",
			Content: fmt.Sprintf("## Current Session\nChannel: %s\nChat ID: %s", channel, chatID),
		})
	}

	if len(turns) > cb.promptTurns {
		turns = turns[len(turns)-cb.promptTurns:]
	}
	for _, turn := range turns {
		role := "user"
		if turn.Role == history.RoleAI {
			role = "assistant"
		}
		messages = append(messages, providers.Message{Role: role, Content: turn.Content})
	}

	if strings.TrimSpace(currentMessage) != "" {
		messages = append(messages, providers.Message{
			Role:    "user",
			Content: currentMessage,
		})
	}

	return messages
}
