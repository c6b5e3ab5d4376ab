package docstore

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"
	"testing"

	"github.com/seynadio/chatbridge/pkg/providers"
)

// scriptedLLM returns canned summaries and records prompts.
type scriptedLLM struct {
	prompts []string
	reply   string
	err     error
}

func (s *scriptedLLM) Chat(_ context.Context, messages []providers.Message, _ []providers.ToolDefinition, _ string, _ map[string]interface{}) (*providers.LLMResponse, error) {
	if len(messages) > 0 {
		s.prompts = append(s.prompts, messages[len(messages)-1].Content)
	}
	if s.err != nil {
		return nil, s.err
	}
	return &providers.LLMResponse{Content: s.reply, FinishReason: "stop"}, nil
}

func (s *scriptedLLM) GetDefaultModel() string { return "scripted" }

func newTestService(t *testing.T, llm providers.LLMProvider) *Service {
	return newTestServiceWithSplitter(t, llm, NewSplitter(1000, 0))
}

func newTestServiceWithSplitter(t *testing.T, llm providers.LLMProvider, splitter *Splitter) *Service {
	t.Helper()
	store, err := NewSQLiteStore(filepath.Join(t.TempDir(), "documents.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore failed: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	return NewService(store, NewChargramEmbedder(), splitter, llm, ServiceOptions{
		TopK:             4,
		SummaryGroupSize: 4,
	})
}

func TestService_IngestAndQuery(t *testing.T) {
	svc := newTestService(t, &scriptedLLM{reply: "- a summary"})
	ctx := context.Background()

	doc := "The capybara is the largest living rodent.\n\nLighthouses guide ships along rocky coasts."
	summary, n, err := svc.IngestDocument(ctx, "telegram:1", "animals.txt", []byte(doc))
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if n == 0 {
		t.Fatal("expected chunks to be stored")
	}
	if summary != "- a summary" {
		t.Fatalf("unexpected summary %q", summary)
	}

	results, err := svc.Query(ctx, "telegram:1", "largest rodent capybara", 1)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 1 || !strings.Contains(results[0].Text, "capybara") {
		t.Fatalf("expected the capybara chunk, got %+v", results)
	}
}

func TestService_QueryFindsSpecificChunkAmongMany(t *testing.T) {
	// A small chunk size keeps each paragraph its own chunk.
	svc := newTestServiceWithSplitter(t, &scriptedLLM{reply: "summary"}, NewSplitter(90, 0))
	ctx := context.Background()

	var paragraphs []string
	for i := 0; i < 50; i++ {
		paragraphs = append(paragraphs, fmt.Sprintf("Section %d covers routine operational matters and filler prose.", i))
	}
	paragraphs[37] = "The maintenance password for the reactor console is stored in the blue binder."

	_, n, err := svc.IngestDocument(ctx, "c", "manual.txt", []byte(strings.Join(paragraphs, "\n\n")))
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if n < 40 {
		t.Fatalf("expected many chunks, got %d", n)
	}

	results, err := svc.Query(ctx, "c", "where is the reactor console maintenance password?", 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) == 0 || !strings.Contains(results[0].Text, "blue binder") {
		t.Fatalf("expected the password chunk ranked first, got %+v", results)
	}
}

func TestService_CollectionsAreIsolated(t *testing.T) {
	svc := newTestService(t, &scriptedLLM{reply: "summary"})
	ctx := context.Background()

	if _, _, err := svc.IngestDocument(ctx, "conv-a", "a.txt", []byte("Ravens remember human faces for years.")); err != nil {
		t.Fatalf("ingest a: %v", err)
	}

	results, err := svc.Query(ctx, "conv-b", "ravens remember faces", 3)
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("conversation b should not see a's documents: %+v", results)
	}
}

func TestService_DoubleIngestIsAdditive(t *testing.T) {
	svc := newTestService(t, &scriptedLLM{reply: "summary"})
	ctx := context.Background()

	doc := []byte("A short note about tide tables.")
	if _, _, err := svc.IngestDocument(ctx, "c", "tides.txt", doc); err != nil {
		t.Fatalf("first ingest: %v", err)
	}
	if _, _, err := svc.IngestDocument(ctx, "c", "tides.txt", doc); err != nil {
		t.Fatalf("second ingest: %v", err)
	}

	n, err := svc.Count(ctx, "c")
	if err != nil {
		t.Fatalf("Count failed: %v", err)
	}
	if n != 2 {
		t.Fatalf("expected 2 chunks after double ingest, got %d", n)
	}
}

func TestService_ClearThenQueryEmpty(t *testing.T) {
	svc := newTestService(t, &scriptedLLM{reply: "summary"})
	ctx := context.Background()

	if _, _, err := svc.IngestDocument(ctx, "c", "note.txt", []byte("Ephemeral content.")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	removed, err := svc.Clear(ctx, "c")
	if err != nil {
		t.Fatalf("Clear failed: %v", err)
	}
	if !removed {
		t.Fatal("first clear should report removal")
	}

	removed, err = svc.Clear(ctx, "c")
	if err != nil {
		t.Fatalf("second Clear failed: %v", err)
	}
	if removed {
		t.Fatal("second clear should be a no-op")
	}

	results, err := svc.Query(ctx, "c", "ephemeral", 3)
	if err != nil {
		t.Fatalf("Query after clear failed: %v", err)
	}
	if len(results) != 0 {
		t.Fatalf("expected empty result after clear, got %+v", results)
	}
}

func TestService_SummarizeMapReduce(t *testing.T) {
	llm := &scriptedLLM{reply: "- partial"}
	svc := newTestServiceWithSplitter(t, llm, NewSplitter(90, 0))
	ctx := context.Background()

	// 10 paragraphs with group size 4 means 3 map calls plus 1 reduce.
	var paragraphs []string
	for i := 0; i < 10; i++ {
		paragraphs = append(paragraphs, fmt.Sprintf("Paragraph %d with enough words to stand alone as a chunk of text.", i))
	}

	summary, _, err := svc.IngestDocument(ctx, "c", "long.txt", []byte(strings.Join(paragraphs, "\n\n")))
	if err != nil {
		t.Fatalf("IngestDocument failed: %v", err)
	}
	if summary != "- partial" {
		t.Fatalf("unexpected summary %q", summary)
	}
	if len(llm.prompts) != 4 {
		t.Fatalf("expected 3 map + 1 reduce calls, got %d", len(llm.prompts))
	}
	for _, p := range llm.prompts {
		if !strings.HasPrefix(p, summaryPrompt) {
			t.Fatalf("prompt missing summary instruction: %q", p)
		}
	}
}

func TestService_SummaryFailureDoesNotLoseIngest(t *testing.T) {
	llm := &scriptedLLM{err: fmt.Errorf("model offline")}
	svc := newTestService(t, llm)
	ctx := context.Background()

	summary, n, err := svc.IngestDocument(ctx, "c", "note.txt", []byte("Stored despite summary failure."))
	if err != nil {
		t.Fatalf("IngestDocument should tolerate summary failure: %v", err)
	}
	if summary != "" {
		t.Fatalf("expected empty summary, got %q", summary)
	}
	if n != 1 {
		t.Fatalf("expected chunk stored, got %d", n)
	}

	count, err := svc.Count(ctx, "c")
	if err != nil || count != 1 {
		t.Fatalf("chunk should remain queryable, count=%d err=%v", count, err)
	}
}

func TestService_AnswerGroundedInPassages(t *testing.T) {
	llm := &scriptedLLM{reply: "The largest living rodent is the capybara."}
	svc := newTestService(t, llm)
	ctx := context.Background()

	if _, _, err := svc.IngestDocument(ctx, "c", "animals.txt", []byte("The capybara is the largest living rodent.")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	answer, err := svc.Answer(ctx, "c", "what is the largest rodent?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != llm.reply {
		t.Fatalf("unexpected answer %q", answer)
	}

	// The final prompt carries the retrieved passage and the question.
	last := llm.prompts[len(llm.prompts)-1]
	if !strings.Contains(last, "[animals.txt] The capybara") {
		t.Fatalf("prompt missing retrieved passage: %q", last)
	}
	if !strings.Contains(last, "what is the largest rodent?") {
		t.Fatalf("prompt missing question: %q", last)
	}
}

func TestService_AnswerFallsBackToPassages(t *testing.T) {
	llm := &scriptedLLM{reply: "summary"}
	svc := newTestService(t, llm)
	ctx := context.Background()

	if _, _, err := svc.IngestDocument(ctx, "c", "note.txt", []byte("Tide tables list high water times.")); err != nil {
		t.Fatalf("ingest: %v", err)
	}

	llm.err = fmt.Errorf("model offline")
	answer, err := svc.Answer(ctx, "c", "when is high water?")
	if err != nil {
		t.Fatalf("Answer should fall back, not fail: %v", err)
	}
	if !strings.Contains(answer, "[note.txt] Tide tables") {
		t.Fatalf("expected raw passages, got %q", answer)
	}
}

func TestService_AnswerEmptyCollection(t *testing.T) {
	svc := newTestService(t, &scriptedLLM{reply: "summary"})

	answer, err := svc.Answer(context.Background(), "empty", "anything?")
	if err != nil {
		t.Fatalf("Answer failed: %v", err)
	}
	if answer != "" {
		t.Fatalf("expected empty answer for empty collection, got %q", answer)
	}
}

func TestService_UnsupportedFormatRejected(t *testing.T) {
	svc := newTestService(t, &scriptedLLM{reply: "summary"})

	if _, _, err := svc.IngestDocument(context.Background(), "c", "tool.exe", []byte{0x4d, 0x5a}); err == nil {
		t.Fatal("expected error for unsupported format")
	}
}
