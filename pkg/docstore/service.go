package docstore

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"strings"
	"sync"
	"time"

	"github.com/seynadio/chatbridge/pkg/extract"
	"github.com/seynadio/chatbridge/pkg/logger"
	"github.com/seynadio/chatbridge/pkg/providers"
)

const (
	fetchTimeout  = 30 * time.Second
	fetchMaxBytes = 10 << 20

	// Summarization is bounded: beyond this many chunks only the head
	// of the document feeds the summary. Retrieval still sees it all.
	maxSummaryChunks = 64

	summaryPrompt = "Write a concise summary of the following text, use simple language and bullet points:\n\n"

	answerPrompt = "Answer the question using only the context below. " +
		"If the context does not contain the answer, say you don't know.\n\nContext:\n%s\n\nQuestion: %s"
)

// Service is the per-conversation document memory: ingestion, similarity
// query, summarization and clearing. Collections are conversation ids,
// so one user's documents never answer another's questions.
type Service struct {
	store     *SQLiteStore
	embedder  Embedder
	splitter  *Splitter
	llm       providers.LLMProvider
	model     string
	topK      int
	groupSize int

	httpClient *http.Client
	locks      sync.Map // conversation id -> *sync.Mutex
}

type ServiceOptions struct {
	TopK             int
	SummaryGroupSize int
	SummaryModel     string
}

func NewService(store *SQLiteStore, embedder Embedder, splitter *Splitter, llm providers.LLMProvider, opts ServiceOptions) *Service {
	topK := opts.TopK
	if topK <= 0 {
		topK = 4
	}
	groupSize := opts.SummaryGroupSize
	if groupSize <= 0 {
		groupSize = 8
	}
	return &Service{
		store:      store,
		embedder:   embedder,
		splitter:   splitter,
		llm:        llm,
		model:      opts.SummaryModel,
		topK:       topK,
		groupSize:  groupSize,
		httpClient: &http.Client{Timeout: fetchTimeout},
	}
}

func (s *Service) Close() error {
	return s.store.Close()
}

// IngestDocument extracts, chunks, embeds and stores an uploaded file,
// then returns a summary of its content.
func (s *Service) IngestDocument(ctx context.Context, conversationID, filename string, data []byte) (string, int, error) {
	text, err := extract.Text(filename, data)
	if err != nil {
		return "", 0, fmt.Errorf("extract %s: %w", filename, err)
	}
	return s.ingestText(ctx, conversationID, filename, text)
}

// IngestURL downloads a web page and stores its readable text.
func (s *Service) IngestURL(ctx context.Context, conversationID, pageURL string) (string, int, error) {
	body, name, err := s.fetch(ctx, pageURL)
	if err != nil {
		return "", 0, err
	}
	text, err := extract.Text(name, body)
	if err != nil {
		return "", 0, fmt.Errorf("extract %s: %w", pageURL, err)
	}
	return s.ingestText(ctx, conversationID, pageURL, text)
}

func (s *Service) ingestText(ctx context.Context, conversationID, sourceRef, text string) (string, int, error) {
	chunks := s.splitter.Split(text)
	if len(chunks) == 0 {
		return "", 0, fmt.Errorf("no text content in %s", sourceRef)
	}

	vectors, err := s.embedder.Embed(ctx, chunks)
	if err != nil {
		return "", 0, fmt.Errorf("embed chunks: %w", err)
	}

	mu := s.lockFor(conversationID)
	mu.Lock()
	err = s.store.InsertChunks(ctx, conversationID, sourceRef, s.embedder.ModelID(), chunks, vectors)
	mu.Unlock()
	if err != nil {
		return "", 0, fmt.Errorf("store chunks: %w", err)
	}

	logger.InfoCF("docstore", "ingested document", map[string]interface{}{
		"conversation": conversationID,
		"source":       sourceRef,
		"chunks":       len(chunks),
	})

	summary, err := s.summarize(ctx, chunks)
	if err != nil {
		// The document is stored and searchable; only the courtesy
		// summary failed.
		logger.WarnCF("docstore", "summarization failed", map[string]interface{}{
			"source": sourceRef,
			"error":  err.Error(),
		})
		return "", len(chunks), nil
	}
	return summary, len(chunks), nil
}

// Query returns the conversation's most similar chunks for a question.
// An empty or cleared collection yields no results, not an error.
func (s *Service) Query(ctx context.Context, conversationID, query string, topK int) ([]ScoredChunk, error) {
	if topK <= 0 {
		topK = s.topK
	}
	vectors, err := s.embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, fmt.Errorf("embed query: %w", err)
	}
	return s.store.SearchSimilar(ctx, conversationID, s.embedder.ModelID(), vectors[0], topK)
}

// Answer runs retrieval-augmented answering: the most similar chunks
// become the only grounding context for a model call. When the model
// call fails the raw passages are returned so the caller still gets
// something usable.
func (s *Service) Answer(ctx context.Context, conversationID, question string) (string, error) {
	results, err := s.Query(ctx, conversationID, question, s.topK)
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return "", nil
	}

	passages := make([]string, 0, len(results))
	for _, r := range results {
		passages = append(passages, fmt.Sprintf("[%s] %s", r.SourceRef, r.Text))
	}
	contextBlock := strings.Join(passages, "\n\n")

	if s.llm != nil {
		resp, err := s.llm.Chat(ctx, []providers.Message{
			{Role: "user", Content: fmt.Sprintf(answerPrompt, contextBlock, question)},
		}, nil, s.model, map[string]interface{}{
			"max_tokens":  700,
			"temperature": 0.2,
		})
		if err == nil && strings.TrimSpace(resp.Content) != "" {
			return strings.TrimSpace(resp.Content), nil
		}
		if err != nil {
			logger.WarnCF("docstore", "grounded answer failed, returning passages", map[string]interface{}{
				"conversation": conversationID,
				"error":        err.Error(),
			})
		}
	}
	return contextBlock, nil
}

// Clear drops all documents of one conversation. Idempotent; reports
// whether anything was removed.
func (s *Service) Clear(ctx context.Context, conversationID string) (bool, error) {
	mu := s.lockFor(conversationID)
	mu.Lock()
	defer mu.Unlock()
	return s.store.ClearCollection(ctx, conversationID)
}

func (s *Service) Count(ctx context.Context, conversationID string) (int, error) {
	return s.store.Count(ctx, conversationID)
}

func (s *Service) Vacuum(ctx context.Context) error {
	return s.store.Vacuum(ctx)
}

// summarize runs a bounded map-reduce: chunk groups are summarized
// independently, then the partial summaries are combined.
func (s *Service) summarize(ctx context.Context, chunks []string) (string, error) {
	if s.llm == nil {
		return "", fmt.Errorf("no summarization model configured")
	}
	if len(chunks) == 0 {
		return "", nil
	}
	if len(chunks) > maxSummaryChunks {
		chunks = chunks[:maxSummaryChunks]
	}

	var partials []string
	for start := 0; start < len(chunks); start += s.groupSize {
		end := start + s.groupSize
		if end > len(chunks) {
			end = len(chunks)
		}
		partial, err := s.summarizeOnce(ctx, strings.Join(chunks[start:end], "\n\n"))
		if err != nil {
			return "", err
		}
		partials = append(partials, partial)
	}

	if len(partials) == 1 {
		return partials[0], nil
	}
	return s.summarizeOnce(ctx, strings.Join(partials, "\n\n"))
}

func (s *Service) summarizeOnce(ctx context.Context, text string) (string, error) {
	resp, err := s.llm.Chat(ctx, []providers.Message{
		{Role: "user", Content: summaryPrompt + text},
	}, nil, s.model, map[string]interface{}{
		"max_tokens":  900,
		"temperature": 0.2,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Service) fetch(ctx context.Context, pageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(pageURL)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") {
		return nil, "", fmt.Errorf("invalid URL: %s", pageURL)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, "", fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", "chatbridge/1.0")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("fetch %s: %w", pageURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", fmt.Errorf("fetch %s: status %d", pageURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, fetchMaxBytes))
	if err != nil {
		return nil, "", fmt.Errorf("read %s: %w", pageURL, err)
	}

	name := path.Base(parsed.Path)
	contentType := resp.Header.Get("Content-Type")
	if strings.Contains(contentType, "html") || !extract.Supported(name) {
		name = "page.html"
	}
	return body, name, nil
}

func (s *Service) lockFor(conversationID string) *sync.Mutex {
	v, _ := s.locks.LoadOrStore(conversationID, &sync.Mutex{})
	return v.(*sync.Mutex)
}
