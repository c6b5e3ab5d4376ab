package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seynadio/chatbridge/pkg/agent"
	"github.com/seynadio/chatbridge/pkg/bus"
	"github.com/seynadio/chatbridge/pkg/history"
	"github.com/seynadio/chatbridge/pkg/providers"
	"github.com/seynadio/chatbridge/pkg/tools"
)

type fakeDocs struct {
	mu         sync.Mutex
	summary    string
	chunks     int
	err        error
	ingestRefs []string
	clearCalls []string
	clearHad   bool
}

func (f *fakeDocs) IngestDocument(ctx context.Context, conversationID, filename string, data []byte) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestRefs = append(f.ingestRefs, filename)
	return f.summary, f.chunks, f.err
}

func (f *fakeDocs) IngestURL(ctx context.Context, conversationID, pageURL string) (string, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ingestRefs = append(f.ingestRefs, pageURL)
	return f.summary, f.chunks, f.err
}

func (f *fakeDocs) Clear(ctx context.Context, conversationID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clearCalls = append(f.clearCalls, conversationID)
	return f.clearHad, f.err
}

type fakeResponder struct {
	mu       sync.Mutex
	reply    agent.Reply
	err      error
	messages []string
	turns    [][]history.Turn
}

func (f *fakeResponder) Respond(ctx context.Context, channel, chatID, conversationID, message string, turns []history.Turn) (agent.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.messages = append(f.messages, message)
	f.turns = append(f.turns, append([]history.Turn(nil), turns...))
	return f.reply, f.err
}

func (f *fakeResponder) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.messages)
}

type fakeSpeech struct {
	transcript    string
	transcribeErr error
	audio         []byte
	speakErr      error
	spoken        []string
	mu            sync.Mutex
}

func (f *fakeSpeech) Transcribe(ctx context.Context, filename string, audio []byte) (string, error) {
	return f.transcript, f.transcribeErr
}

func (f *fakeSpeech) Speak(ctx context.Context, text string) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.spoken = append(f.spoken, text)
	return f.audio, f.speakErr
}

type fixture struct {
	bus       *bus.MessageBus
	cache     *history.Cache
	docs      *fakeDocs
	responder *fakeResponder
	speech    *fakeSpeech
	cancel    context.CancelFunc
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		bus:       bus.NewMessageBus(),
		cache:     history.NewCache(16, time.Hour),
		docs:      &fakeDocs{summary: "- point one\n- point two", chunks: 3},
		responder: &fakeResponder{reply: agent.Reply{Kind: agent.ReplyText, Text: "hello back"}},
		speech:    &fakeSpeech{transcript: "spoken words"},
	}
	orch := New(f.bus, f.cache, f.docs, f.responder, f.speech, Options{
		MaxConcurrent:  2,
		PromptTurns:    20,
		TypingInterval: time.Hour, // one initial typing signal per message, no repeats during tests
	})
	ctx, cancel := context.WithCancel(context.Background())
	f.cancel = cancel
	go orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		f.bus.Close()
	})
	return f
}

// nextReply skips cosmetic typing signals and returns the first real
// outbound message.
func (f *fixture) nextReply(t *testing.T) bus.OutboundMessage {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	for {
		msg, ok := f.bus.SubscribeOutbound(ctx)
		require.True(t, ok, "timed out waiting for an outbound reply")
		if msg.Kind != bus.OutboundTyping {
			return msg
		}
	}
}

func inboundText(content string) bus.InboundMessage {
	return bus.InboundMessage{
		Channel:  "telegram",
		SenderID: "u1",
		ChatID:   "100",
		Content:  content,
		Kind:     bus.InboundText,
	}
}

func TestOrchestrator_TextGoesToAgentAndRecordsTurnPair(t *testing.T) {
	f := newFixture(t)

	f.bus.PublishInbound(inboundText("what time is it?"))
	reply := f.nextReply(t)
	assert.Equal(t, bus.OutboundText, reply.Kind)
	assert.Equal(t, "hello back", reply.Content)
	assert.Equal(t, "100", reply.ChatID)

	turns := f.cache.GetOrCreate("telegram:100")
	require.Len(t, turns, 2)
	assert.Equal(t, history.Turn{Role: history.RoleHuman, Content: "what time is it?"}, turns[0])
	assert.Equal(t, history.Turn{Role: history.RoleAI, Content: "hello back"}, turns[1])
}

func TestOrchestrator_URLBypassesAgent(t *testing.T) {
	f := newFixture(t)

	f.bus.PublishInbound(inboundText("https://example.com/article"))
	reply := f.nextReply(t)
	assert.Equal(t, bus.OutboundText, reply.Kind)
	assert.Contains(t, reply.Content, "Summary of the web page:")
	assert.Contains(t, reply.Content, "point one")

	assert.Zero(t, f.responder.callCount(), "agent must not run for URL messages")
	assert.Equal(t, []string{"https://example.com/article"}, f.docs.ingestRefs)

	turns := f.cache.GetOrCreate("telegram:100")
	require.Len(t, turns, 2)
	assert.Equal(t, "https://example.com/article saved to my documents database.", turns[0].Content)
	assert.Equal(t, history.RoleAI, turns[1].Role)
	assert.Contains(t, turns[1].Content, "point one")
}

func TestOrchestrator_DocumentIngestion(t *testing.T) {
	f := newFixture(t)

	f.bus.PublishInbound(bus.InboundMessage{
		Channel:   "telegram",
		ChatID:    "100",
		Kind:      bus.InboundDocument,
		FileName:  "notes.txt",
		FileBytes: []byte("some notes"),
	})
	reply := f.nextReply(t)
	assert.Contains(t, reply.Content, "Summary of the document:")

	turns := f.cache.GetOrCreate("telegram:100")
	require.Len(t, turns, 2)
	assert.Equal(t, "notes.txt saved to my documents database.", turns[0].Content)
}

func TestOrchestrator_ImageReplyRoutedAsPhoto(t *testing.T) {
	f := newFixture(t)
	f.responder.reply = agent.Reply{Kind: agent.ReplyImage, ImageURL: "https://example.com/cat.png"}

	f.bus.PublishInbound(inboundText("show me a cat"))
	reply := f.nextReply(t)
	assert.Equal(t, bus.OutboundPhoto, reply.Kind)
	assert.Equal(t, "https://example.com/cat.png", reply.ImageURL)

	// The image link still lands in the conversation history.
	turns := f.cache.GetOrCreate("telegram:100")
	require.Len(t, turns, 2)
	assert.Equal(t, "https://example.com/cat.png", turns[1].Content)
}

// scriptedChatProvider replays a fixed sequence of model responses.
type scriptedChatProvider struct {
	mu        sync.Mutex
	responses []*providers.LLMResponse
}

func (p *scriptedChatProvider) Chat(_ context.Context, _ []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.responses) == 0 {
		return nil, errors.New("script exhausted")
	}
	resp := p.responses[0]
	p.responses = p.responses[1:]
	return resp, nil
}

func (p *scriptedChatProvider) GetDefaultModel() string { return "test-model" }

type stubImageGenerator struct{ url string }

func (g stubImageGenerator) GenerateImage(context.Context, string) (string, error) {
	return g.url, nil
}

func TestOrchestrator_MathThenImageRoutedAsPhoto(t *testing.T) {
	imageURL := "https://oaidalleapiprodscus.blob.core.windows.net/private/img-cat.png?st=2026"

	registry := tools.NewToolRegistry()
	registry.Register(tools.NewCalculatorTool())
	registry.Register(tools.NewImageTool(stubImageGenerator{url: imageURL}))

	// The model asks for the math tool first, then the image tool.
	provider := &scriptedChatProvider{responses: []*providers.LLMResponse{
		{ToolCalls: []providers.ToolCall{{
			ID: "call-1", Type: "function", Name: "calculator",
			Arguments: map[string]interface{}{"expression": "2+2"},
		}}},
		{ToolCalls: []providers.ToolCall{{
			ID: "call-2", Type: "function", Name: "generate_image",
			Arguments: map[string]interface{}{"prompt": "a cat"},
		}}},
	}}
	builder := agent.NewContextBuilder(20)
	builder.SetToolsRegistry(registry)
	loop := agent.NewLoop(provider, registry, builder, agent.LoopOptions{})

	f := &fixture{
		bus:    bus.NewMessageBus(),
		cache:  history.NewCache(16, time.Hour),
		docs:   &fakeDocs{},
		speech: &fakeSpeech{},
	}
	orch := New(f.bus, f.cache, f.docs, loop, f.speech, Options{
		MaxConcurrent:  2,
		PromptTurns:    20,
		TypingInterval: time.Hour,
	})
	ctx, cancel := context.WithCancel(context.Background())
	go orch.Run(ctx)
	t.Cleanup(func() {
		cancel()
		f.bus.Close()
	})

	f.bus.PublishInbound(inboundText("What's 2+2 and show me a cat"))
	reply := f.nextReply(t)
	assert.Equal(t, bus.OutboundPhoto, reply.Kind)
	assert.Equal(t, imageURL, reply.ImageURL)

	assert.Empty(t, provider.responses, "both scripted tool steps should have run")

	turns := f.cache.GetOrCreate("telegram:100")
	require.Len(t, turns, 2)
	assert.Equal(t, imageURL, turns[1].Content)
}

func TestOrchestrator_VoiceMessageTranscribedAndSpoken(t *testing.T) {
	f := newFixture(t)
	f.speech.audio = []byte("fake-ogg")

	f.bus.PublishInbound(bus.InboundMessage{
		Channel:   "telegram",
		ChatID:    "100",
		Kind:      bus.InboundVoice,
		FileName:  "voice.ogg",
		FileBytes: []byte{1, 2, 3},
	})
	reply := f.nextReply(t)
	assert.Equal(t, bus.OutboundVoice, reply.Kind)
	assert.Equal(t, []byte("fake-ogg"), reply.AudioBytes)

	require.Equal(t, 1, f.responder.callCount())
	assert.Equal(t, "spoken words", f.responder.messages[0])
	assert.Equal(t, []string{"hello back"}, f.speech.spoken)
}

func TestOrchestrator_VoiceFallsBackToTextWhenSynthDisabled(t *testing.T) {
	f := newFixture(t)
	f.speech.audio = nil // synthesis unavailable

	f.bus.PublishInbound(bus.InboundMessage{
		Channel:   "telegram",
		ChatID:    "100",
		Kind:      bus.InboundVoice,
		FileName:  "voice.ogg",
		FileBytes: []byte{1},
	})
	reply := f.nextReply(t)
	assert.Equal(t, bus.OutboundText, reply.Kind)
	assert.Equal(t, "hello back", reply.Content)
}

func TestOrchestrator_ClearDatabaseCommand(t *testing.T) {
	f := newFixture(t)
	f.docs.clearHad = true
	f.cache.Append("telegram:100", history.Turn{Role: history.RoleHuman, Content: "old"})

	f.bus.PublishInbound(bus.InboundMessage{
		Channel: "telegram",
		ChatID:  "100",
		Kind:    bus.InboundCommand,
		Content: "clear_database",
	})
	reply := f.nextReply(t)
	assert.Equal(t, clearedText, reply.Content)
	assert.Equal(t, []string{"telegram:100"}, f.docs.clearCalls)
	assert.Empty(t, f.cache.GetOrCreate("telegram:100"))
}

func TestOrchestrator_StartCommandGreets(t *testing.T) {
	f := newFixture(t)

	f.bus.PublishInbound(bus.InboundMessage{
		Channel: "telegram",
		ChatID:  "100",
		Kind:    bus.InboundCommand,
		Content: "/start",
	})
	reply := f.nextReply(t)
	assert.Equal(t, greetingText, reply.Content)
}

func TestOrchestrator_AgentFailureYieldsApology(t *testing.T) {
	f := newFixture(t)
	f.responder.err = errors.New("provider exploded")

	f.bus.PublishInbound(inboundText("anything"))
	reply := f.nextReply(t)
	assert.Equal(t, apologyText, reply.Content)

	// Failed exchanges are not recorded.
	assert.Empty(t, f.cache.GetOrCreate("telegram:100"))
}

func TestOrchestrator_BudgetExceededYieldsRephraseHint(t *testing.T) {
	f := newFixture(t)
	f.responder.err = agent.ErrLoopBudgetExceeded

	f.bus.PublishInbound(inboundText("impossible question"))
	reply := f.nextReply(t)
	assert.Contains(t, reply.Content, "rephrase")
}

func TestOrchestrator_EmptyTextRejected(t *testing.T) {
	f := newFixture(t)

	f.bus.PublishInbound(inboundText("   "))
	reply := f.nextReply(t)
	assert.Equal(t, emptyInputText, reply.Content)
	assert.Zero(t, f.responder.callCount())
}
