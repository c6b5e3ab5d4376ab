package providers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func newTestClient(t *testing.T, handler http.Handler) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	c, err := NewClient(ClientOptions{
		APIKey:          "test-key",
		APIBase:         server.URL,
		DefaultModel:    "test-model",
		EmbeddingModel:  "test-embed",
		TranscribeModel: "test-whisper",
		SpeechModel:     "test-tts",
		SpeechVoice:     "alloy",
		ImageModel:      "test-image",
		ImageSize:       "1024x1024",
	})
	if err != nil {
		t.Fatalf("NewClient failed: %v", err)
	}
	c.sleep = func(time.Duration) {}
	return c
}

func TestChat_ParsesContentAndUsage(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/chat/completions" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		if got := r.Header.Get("Authorization"); got != "Bearer test-key" {
			t.Errorf("missing bearer auth, got %q", got)
		}
		var req map[string]interface{}
		_ = json.NewDecoder(r.Body).Decode(&req)
		if req["model"] != "test-model" {
			t.Errorf("expected default model, got %v", req["model"])
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"hi there"},"finish_reason":"stop"}],"usage":{"prompt_tokens":3,"completion_tokens":2,"total_tokens":5}}`))
	}))

	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "hi there" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if resp.Usage == nil || resp.Usage.TotalTokens != 5 {
		t.Fatalf("usage not parsed: %+v", resp.Usage)
	}
}

func TestChat_ParsesToolCalls(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":null,"tool_calls":[{"id":"call_1","type":"function","function":{"name":"calculator","arguments":"{\"expression\":\"2+2\"}"}}]},"finish_reason":"tool_calls"}]}`))
	}))

	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "2+2?"}}, nil, "", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if len(resp.ToolCalls) != 1 {
		t.Fatalf("expected one tool call, got %d", len(resp.ToolCalls))
	}
	tc := resp.ToolCalls[0]
	if tc.Name != "calculator" || tc.Arguments["expression"] != "2+2" {
		t.Fatalf("tool call not decoded: %+v", tc)
	}
}

func TestChat_RateLimitThenSuccess(t *testing.T) {
	attempts := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
			return
		}
		_, _ = w.Write([]byte(`{"choices":[{"message":{"content":"recovered"},"finish_reason":"stop"}]}`))
	}))

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	resp, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "", nil)
	if err != nil {
		t.Fatalf("Chat failed: %v", err)
	}
	if resp.Content != "recovered" {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(slept) != 1 || slept[0] < 3*time.Second {
		t.Fatalf("Retry-After hint not honored: %v", slept)
	}
}

func TestChat_BadRequestNotRetried(t *testing.T) {
	attempts := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"model not found"}}`))
	}))

	if _, err := c.Chat(context.Background(), []Message{{Role: "user", Content: "hi"}}, nil, "", nil); err == nil {
		t.Fatal("expected error for 400 response")
	}
	if attempts != 1 {
		t.Fatalf("400 should not be retried, saw %d attempts", attempts)
	}
}

func TestEmbed_OrdersVectorsByIndex(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Deliberately out of order.
		_, _ = w.Write([]byte(`{"data":[{"index":1,"embedding":[0.5]},{"index":0,"embedding":[0.25]}]}`))
	}))

	vectors, err := c.Embed(context.Background(), []string{"first", "second"})
	if err != nil {
		t.Fatalf("Embed failed: %v", err)
	}
	if vectors[0][0] != 0.25 || vectors[1][0] != 0.5 {
		t.Fatalf("vectors not reordered by index: %v", vectors)
	}
}

func TestSpeak_DisabledReturnsNil(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("no request should be sent when speech is disabled")
	}))

	audio, err := c.Speak(context.Background(), "hello")
	if err != nil {
		t.Fatalf("Speak failed: %v", err)
	}
	if audio != nil {
		t.Fatalf("expected nil audio, got %d bytes", len(audio))
	}
}

func TestGenerateImage_ReturnsURL(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/images/generations" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"data":[{"url":"https://img.example.com/out.png"}]}`))
	}))

	url, err := c.GenerateImage(context.Background(), "a lighthouse at dusk")
	if err != nil {
		t.Fatalf("GenerateImage failed: %v", err)
	}
	if url != "https://img.example.com/out.png" {
		t.Fatalf("unexpected url %q", url)
	}
}

func TestTranscribe_SendsMultipart(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("not multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "test-whisper" {
			t.Errorf("model field = %q", got)
		}
		_, _ = w.Write([]byte(`{"text":" what is the weather "}`))
	}))

	text, err := c.Transcribe(context.Background(), "voice.ogg", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "what is the weather" {
		t.Fatalf("unexpected transcript %q", text)
	}
}

func TestTranscribe_RateLimitThenSuccess(t *testing.T) {
	attempts := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts == 1 {
			w.Header().Set("Retry-After", "3")
			w.WriteHeader(http.StatusTooManyRequests)
			_, _ = w.Write([]byte(`{"error":{"message":"rate limit"}}`))
			return
		}
		// The retried request must carry the full form again.
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			t.Errorf("retried request not multipart: %v", err)
		}
		if got := r.FormValue("model"); got != "test-whisper" {
			t.Errorf("model field lost on retry, got %q", got)
		}
		_, _ = w.Write([]byte(`{"text":"recovered transcript"}`))
	}))

	var slept []time.Duration
	c.sleep = func(d time.Duration) { slept = append(slept, d) }

	text, err := c.Transcribe(context.Background(), "voice.ogg", []byte{1, 2, 3})
	if err != nil {
		t.Fatalf("Transcribe failed: %v", err)
	}
	if text != "recovered transcript" {
		t.Fatalf("unexpected transcript %q", text)
	}
	if attempts != 2 {
		t.Fatalf("expected one retry, saw %d attempts", attempts)
	}
	if len(slept) != 1 || slept[0] < 3*time.Second {
		t.Fatalf("Retry-After hint not honored: %v", slept)
	}
}
