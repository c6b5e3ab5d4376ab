package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/seynadio/chatbridge/pkg/agent"
	"github.com/seynadio/chatbridge/pkg/bus"
	"github.com/seynadio/chatbridge/pkg/history"
	"github.com/seynadio/chatbridge/pkg/logger"
)

const (
	defaultTypingInterval = 5 * time.Second
	defaultMaxConcurrent  = 8

	greetingText = "Hello! Send me a message, a voice note, a document or a link and I'll help you work with it. Use /help to see what I can do."
	helpText     = "I can answer questions, search the web, do math, generate images, and read documents you send me.\n\n" +
		"Send a document or a link and I'll save it to your documents database and summarize it. " +
		"Ask me questions about saved documents any time.\n\n" +
		"Commands:\n/start - greeting\n/help - this message\n/clear_database - forget your saved documents and chat history"
	clearedText      = "Your documents database and chat history have been cleared."
	nothingClearText = "There was nothing to clear."
	apologyText      = "Sorry, something went wrong while handling your message. Please try again."
	emptyInputText   = "Sorry, I don't understand that. Please try again."
)

var urlPrefixRe = regexp.MustCompile(`^(https?://\S+)`)

// Responder produces the agent's answer for one resolved text message.
type Responder interface {
	Respond(ctx context.Context, channel, chatID, conversationID, message string, turns []history.Turn) (agent.Reply, error)
}

// SpeechService covers the voice round trip. Speak may return (nil, nil)
// when synthesis is disabled; the reply then falls back to text.
type SpeechService interface {
	Transcribe(ctx context.Context, filename string, audio []byte) (string, error)
	Speak(ctx context.Context, text string) ([]byte, error)
}

// DocumentService is the slice of the document store the orchestrator
// drives directly.
type DocumentService interface {
	IngestDocument(ctx context.Context, conversationID, filename string, data []byte) (string, int, error)
	IngestURL(ctx context.Context, conversationID, pageURL string) (string, int, error)
	Clear(ctx context.Context, conversationID string) (bool, error)
}

type Options struct {
	MaxConcurrent  int
	PromptTurns    int
	TypingInterval time.Duration
}

// Orchestrator consumes inbound messages from the bus and turns each one
// into a reply: commands, document and URL ingestion, voice transcription,
// and agent reasoning, with a typing indicator running for the duration.
type Orchestrator struct {
	bus       *bus.MessageBus
	history   *history.Cache
	docs      DocumentService
	responder Responder
	speech    SpeechService

	promptTurns    int
	typingInterval time.Duration
	sem            chan struct{}
	wg             sync.WaitGroup
}

func New(msgBus *bus.MessageBus, cache *history.Cache, docs DocumentService, responder Responder, speech SpeechService, opts Options) *Orchestrator {
	maxConcurrent := opts.MaxConcurrent
	if maxConcurrent <= 0 {
		maxConcurrent = defaultMaxConcurrent
	}
	typingInterval := opts.TypingInterval
	if typingInterval <= 0 {
		typingInterval = defaultTypingInterval
	}
	return &Orchestrator{
		bus:            msgBus,
		history:        cache,
		docs:           docs,
		responder:      responder,
		speech:         speech,
		promptTurns:    opts.PromptTurns,
		typingInterval: typingInterval,
		sem:            make(chan struct{}, maxConcurrent),
	}
}

// Run consumes inbound messages until the context is cancelled or the bus
// closes, then waits for in-flight messages to finish.
func (o *Orchestrator) Run(ctx context.Context) {
	logger.InfoC("orchestrator", "Message loop started")
	for {
		msg, ok := o.bus.ConsumeInbound(ctx)
		if !ok {
			break
		}
		o.sem <- struct{}{}
		o.wg.Add(1)
		go func(m bus.InboundMessage) {
			defer o.wg.Done()
			defer func() { <-o.sem }()
			o.handleMessage(ctx, m)
		}(msg)
	}
	o.wg.Wait()
	logger.InfoC("orchestrator", "Message loop stopped")
}

func (o *Orchestrator) handleMessage(ctx context.Context, msg bus.InboundMessage) {
	convID := msg.ConversationID()

	// Typing runs for the lifetime of this message only. Cancellation on
	// every exit path, including panics unwinding through the defer.
	typingCtx, stopTyping := context.WithCancel(ctx)
	defer stopTyping()
	go o.typingLoop(typingCtx, msg.Channel, msg.ChatID)

	switch msg.Kind {
	case bus.InboundCommand:
		o.handleCommand(ctx, msg, convID)
	case bus.InboundDocument:
		o.handleDocument(ctx, msg, convID)
	case bus.InboundVoice, bus.InboundAudio:
		o.handleVoice(ctx, msg, convID)
	default:
		o.handleText(ctx, msg, convID, msg.Content, false)
	}
}

func (o *Orchestrator) handleCommand(ctx context.Context, msg bus.InboundMessage, convID string) {
	command := strings.TrimPrefix(strings.TrimSpace(msg.Content), "/")
	logger.InfoCF("orchestrator", "Command received",
		map[string]interface{}{"command": command, "conversation": convID})

	switch command {
	case "start":
		o.sendText(msg, greetingText)
	case "help":
		o.sendText(msg, helpText)
	case "clear_database":
		cleared, err := o.docs.Clear(ctx, convID)
		if err != nil {
			logger.ErrorCF("orchestrator", "Clearing documents failed",
				map[string]interface{}{"error": err.Error(), "conversation": convID})
			o.sendText(msg, apologyText)
			return
		}
		hadHistory := o.history.Clear(convID)
		if cleared || hadHistory {
			o.sendText(msg, clearedText)
		} else {
			o.sendText(msg, nothingClearText)
		}
	default:
		o.sendText(msg, "Unknown command. Use /help to see what I can do.")
	}
}

func (o *Orchestrator) handleDocument(ctx context.Context, msg bus.InboundMessage, convID string) {
	summary, chunks, err := o.docs.IngestDocument(ctx, convID, msg.FileName, msg.FileBytes)
	if err != nil {
		logger.ErrorCF("orchestrator", "Document ingestion failed",
			map[string]interface{}{
				"error":        err.Error(),
				"conversation": convID,
				"filename":     msg.FileName,
			})
		o.sendText(msg, apologyText)
		return
	}

	reply := ingestionReply("document", summary, chunks)
	o.sendText(msg, reply)
	o.history.Append(convID,
		history.Turn{Role: history.RoleHuman, Content: msg.FileName + " saved to my documents database."},
		history.Turn{Role: history.RoleAI, Content: reply},
	)
}

func (o *Orchestrator) handleVoice(ctx context.Context, msg bus.InboundMessage, convID string) {
	transcript, err := o.speech.Transcribe(ctx, msg.FileName, msg.FileBytes)
	if err != nil {
		logger.ErrorCF("orchestrator", "Transcription failed",
			map[string]interface{}{"error": err.Error(), "conversation": convID})
		o.sendText(msg, apologyText)
		return
	}
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		o.sendText(msg, emptyInputText)
		return
	}
	logger.InfoCF("orchestrator", "Voice message transcribed",
		map[string]interface{}{"conversation": convID, "chars": len(transcript)})
	o.handleText(ctx, msg, convID, transcript, msg.Kind == bus.InboundVoice)
}

func (o *Orchestrator) handleText(ctx context.Context, msg bus.InboundMessage, convID, text string, voiceOrigin bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		o.sendText(msg, emptyInputText)
		return
	}

	if match := urlPrefixRe.FindString(text); match != "" {
		o.handleURL(ctx, msg, convID, match)
		return
	}

	turns := o.history.Recent(convID, o.promptTurns)
	reply, err := o.responder.Respond(ctx, msg.Channel, msg.ChatID, convID, text, turns)
	if err != nil {
		if errors.Is(err, agent.ErrLoopBudgetExceeded) {
			logger.WarnCF("orchestrator", "Agent gave up within its step budget",
				map[string]interface{}{"conversation": convID})
			o.sendText(msg, "Sorry, I couldn't work that out. Could you rephrase the question?")
			return
		}
		logger.ErrorCF("orchestrator", "Agent failed",
			map[string]interface{}{"error": err.Error(), "conversation": convID})
		o.sendText(msg, apologyText)
		return
	}

	o.deliverReply(ctx, msg, reply, voiceOrigin)
	o.history.Append(convID,
		history.Turn{Role: history.RoleHuman, Content: text},
		history.Turn{Role: history.RoleAI, Content: replyTranscript(reply)},
	)
}

// handleURL ingests the page without consulting the agent at all; the
// summary is the reply.
func (o *Orchestrator) handleURL(ctx context.Context, msg bus.InboundMessage, convID, pageURL string) {
	summary, chunks, err := o.docs.IngestURL(ctx, convID, pageURL)
	if err != nil {
		logger.ErrorCF("orchestrator", "URL ingestion failed",
			map[string]interface{}{"error": err.Error(), "conversation": convID, "url": pageURL})
		o.sendText(msg, apologyText)
		return
	}

	reply := ingestionReply("web page", summary, chunks)
	o.sendText(msg, reply)
	o.history.Append(convID,
		history.Turn{Role: history.RoleHuman, Content: pageURL + " saved to my documents database."},
		history.Turn{Role: history.RoleAI, Content: reply},
	)
}

func (o *Orchestrator) deliverReply(ctx context.Context, msg bus.InboundMessage, reply agent.Reply, voiceOrigin bool) {
	if reply.Kind == agent.ReplyImage {
		o.bus.PublishOutbound(bus.OutboundMessage{
			Channel:  msg.Channel,
			ChatID:   msg.ChatID,
			Kind:     bus.OutboundPhoto,
			ImageURL: reply.ImageURL,
		})
		return
	}

	if voiceOrigin && o.speech != nil {
		audio, err := o.speech.Speak(ctx, reply.Text)
		if err != nil {
			logger.WarnCF("orchestrator", "Speech synthesis failed, falling back to text",
				map[string]interface{}{"error": err.Error()})
		} else if audio != nil {
			o.bus.PublishOutbound(bus.OutboundMessage{
				Channel:    msg.Channel,
				ChatID:     msg.ChatID,
				Kind:       bus.OutboundVoice,
				AudioBytes: audio,
			})
			return
		}
	}

	o.sendText(msg, reply.Text)
}

func (o *Orchestrator) sendText(msg bus.InboundMessage, text string) {
	o.bus.PublishOutbound(bus.OutboundMessage{
		Channel: msg.Channel,
		ChatID:  msg.ChatID,
		Kind:    bus.OutboundText,
		Content: text,
	})
}

// typingLoop signals the platform that a reply is in flight. Purely
// cosmetic; the bus drops signals it cannot deliver.
func (o *Orchestrator) typingLoop(ctx context.Context, channel, chatID string) {
	ticker := time.NewTicker(o.typingInterval)
	defer ticker.Stop()
	for {
		o.bus.PublishOutbound(bus.OutboundMessage{
			Channel: channel,
			ChatID:  chatID,
			Kind:    bus.OutboundTyping,
		})
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func ingestionReply(sourceKind, summary string, chunks int) string {
	if strings.TrimSpace(summary) == "" {
		return fmt.Sprintf("Saved %d passages from the %s to your documents database.", chunks, sourceKind)
	}
	return fmt.Sprintf("Summary of the %s:\n%s", sourceKind, summary)
}

func replyTranscript(reply agent.Reply) string {
	if reply.Kind == agent.ReplyImage {
		return reply.ImageURL
	}
	return reply.Text
}
