package channels

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seynadio/chatbridge/pkg/bus"
	"github.com/seynadio/chatbridge/pkg/config"
	"github.com/seynadio/chatbridge/pkg/logger"
)

const (
	telegramAPIBase      = "https://api.telegram.org"
	telegramPollTimeout  = 30 // seconds, long-polling window
	telegramPollLimit    = 100
	telegramMaxBackoff   = 30 * time.Second
	telegramFileMaxBytes = 20 << 20
)

// TelegramChannel talks to the Bot API directly over HTTP: getUpdates
// long polling in, sendMessage/sendPhoto/sendVoice/sendChatAction out.
type TelegramChannel struct {
	*BaseChannel
	config  config.TelegramConfig
	client  *http.Client
	baseURL string
	fileURL string

	offset int64
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewTelegramChannel(cfg config.TelegramConfig, bus *bus.MessageBus) (*TelegramChannel, error) {
	token := strings.TrimSpace(cfg.Token)
	if token == "" {
		return nil, fmt.Errorf("telegram bot token is required")
	}

	return &TelegramChannel{
		BaseChannel: NewBaseChannel("telegram", bus, cfg.AllowFrom),
		config:      cfg,
		client:      &http.Client{Timeout: 60 * time.Second},
		baseURL:     telegramAPIBase + "/bot" + token,
		fileURL:     telegramAPIBase + "/file/bot" + token,
	}, nil
}

func (c *TelegramChannel) Start(ctx context.Context) error {
	logger.InfoC("telegram", "Starting Telegram bot")

	bot, err := c.getMe(ctx)
	if err != nil {
		return fmt.Errorf("failed to verify telegram token: %w", err)
	}

	pollCtx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.setRunning(true)

	c.wg.Add(1)
	go c.pollLoop(pollCtx)

	logger.InfoCF("telegram", "Telegram bot connected", map[string]any{
		"username": bot.Username,
		"user_id":  bot.ID,
	})
	return nil
}

func (c *TelegramChannel) Stop(ctx context.Context) error {
	logger.InfoC("telegram", "Stopping Telegram bot")
	c.setRunning(false)
	if c.cancel != nil {
		c.cancel()
	}
	c.wg.Wait()
	return nil
}

func (c *TelegramChannel) Send(ctx context.Context, msg bus.OutboundMessage) error {
	if !c.IsRunning() {
		return fmt.Errorf("telegram bot not running")
	}
	chatID, err := strconv.ParseInt(msg.ChatID, 10, 64)
	if err != nil {
		return fmt.Errorf("invalid telegram chat id %q: %w", msg.ChatID, err)
	}

	switch msg.Kind {
	case bus.OutboundTyping:
		_, err := c.apiCall(ctx, "sendChatAction", map[string]any{
			"chat_id": chatID,
			"action":  "typing",
		})
		return err
	case bus.OutboundPhoto:
		_, err := c.apiCall(ctx, "sendPhoto", map[string]any{
			"chat_id": chatID,
			"photo":   msg.ImageURL,
		})
		return err
	case bus.OutboundVoice:
		return c.uploadFile(ctx, "sendVoice", chatID, "voice", "reply.mp3", msg.AudioBytes)
	}

	if strings.TrimSpace(msg.Content) == "" {
		return nil
	}
	_, err = c.apiCall(ctx, "sendMessage", map[string]any{
		"chat_id": chatID,
		"text":    msg.Content,
	})
	return err
}

func (c *TelegramChannel) pollLoop(ctx context.Context) {
	defer c.wg.Done()
	logger.InfoC("telegram", "Polling started")
	backoff := time.Second

	for {
		select {
		case <-ctx.Done():
			logger.InfoC("telegram", "Polling stopped")
			return
		default:
		}

		updates, err := c.getUpdates(ctx, c.offset, telegramPollLimit, telegramPollTimeout)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.WarnCF("telegram", "getUpdates failed", map[string]any{
				"error":   err.Error(),
				"backoff": backoff.String(),
			})
			select {
			case <-ctx.Done():
				return
			case <-time.After(backoff):
			}
			if backoff < telegramMaxBackoff {
				backoff *= 2
			}
			continue
		}
		backoff = time.Second

		for _, u := range updates {
			if u.UpdateID >= c.offset {
				c.offset = u.UpdateID + 1
			}
			c.processUpdate(ctx, u)
		}
	}
}

func (c *TelegramChannel) processUpdate(ctx context.Context, u tgUpdate) {
	msg := u.Message
	if msg == nil {
		return
	}

	chatID := strconv.FormatInt(msg.Chat.ID, 10)
	senderID := ""
	if msg.From != nil {
		senderID = strconv.FormatInt(msg.From.ID, 10)
		if msg.From.Username != "" {
			senderID += "|" + msg.From.Username
		}
	}
	metadata := map[string]string{
		"message_id": strconv.Itoa(msg.MessageID),
		"chat_type":  msg.Chat.Type,
	}

	switch {
	case msg.Voice != nil:
		c.publishFile(ctx, senderID, chatID, bus.InboundVoice, "voice.ogg", msg.Voice.FileID, metadata)
	case msg.Audio != nil:
		name := msg.Audio.FileName
		if name == "" {
			name = "audio.mp3"
		}
		c.publishFile(ctx, senderID, chatID, bus.InboundAudio, name, msg.Audio.FileID, metadata)
	case msg.Document != nil:
		name := msg.Document.FileName
		if name == "" {
			name = "document"
		}
		c.publishFile(ctx, senderID, chatID, bus.InboundDocument, name, msg.Document.FileID, metadata)
	case msg.Text != "":
		text := strings.TrimSpace(msg.Text)
		kind := bus.InboundText
		if strings.HasPrefix(text, "/") {
			// Strip the @botname suffix group clients append.
			name := strings.TrimPrefix(strings.Fields(text)[0], "/")
			if at := strings.Index(name, "@"); at > 0 {
				name = name[:at]
			}
			kind = bus.InboundCommand
			text = name
		}
		c.PublishInbound(bus.InboundMessage{
			SenderID: senderID,
			ChatID:   chatID,
			Content:  text,
			Kind:     kind,
			Metadata: metadata,
		})
	}
}

func (c *TelegramChannel) publishFile(ctx context.Context, senderID, chatID string, kind bus.InboundKind, filename, fileID string, metadata map[string]string) {
	if !c.IsAllowed(senderID) {
		return
	}
	data, err := c.downloadFile(ctx, fileID)
	if err != nil {
		logger.ErrorCF("telegram", "Failed to download file", map[string]any{
			"file_id": fileID,
			"error":   err.Error(),
		})
		return
	}
	c.PublishInbound(bus.InboundMessage{
		SenderID:  senderID,
		ChatID:    chatID,
		Kind:      kind,
		FileName:  filename,
		FileBytes: data,
		Metadata:  metadata,
	})
}

// ---------- Bot API plumbing ----------

type tgUpdate struct {
	UpdateID int64      `json:"update_id"`
	Message  *tgMessage `json:"message"`
}

type tgMessage struct {
	MessageID int         `json:"message_id"`
	From      *tgUser     `json:"from"`
	Chat      tgChat      `json:"chat"`
	Text      string      `json:"text"`
	Voice     *tgVoice    `json:"voice"`
	Audio     *tgAudio    `json:"audio"`
	Document  *tgDocument `json:"document"`
}

type tgUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

type tgChat struct {
	ID   int64  `json:"id"`
	Type string `json:"type"`
}

type tgVoice struct {
	FileID   string `json:"file_id"`
	Duration int    `json:"duration"`
}

type tgAudio struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
}

type tgDocument struct {
	FileID   string `json:"file_id"`
	FileName string `json:"file_name"`
	MimeType string `json:"mime_type"`
}

type tgFile struct {
	FileID   string `json:"file_id"`
	FilePath string `json:"file_path"`
}

type tgBotUser struct {
	ID       int64  `json:"id"`
	Username string `json:"username"`
}

func (c *TelegramChannel) apiCall(ctx context.Context, method string, payload map[string]any) (json.RawMessage, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal %s: %w", method, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request for %s: %w", method, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool            `json:"ok"`
		Description string          `json:"description"`
		Result      json.RawMessage `json:"result"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, fmt.Errorf("decoding %s response: %w", method, err)
	}
	if !result.OK {
		return nil, fmt.Errorf("%s: %s", method, result.Description)
	}
	return result.Result, nil
}

func (c *TelegramChannel) getMe(ctx context.Context) (*tgBotUser, error) {
	data, err := c.apiCall(ctx, "getMe", map[string]any{})
	if err != nil {
		return nil, err
	}
	var user tgBotUser
	if err := json.Unmarshal(data, &user); err != nil {
		return nil, fmt.Errorf("parsing getMe: %w", err)
	}
	return &user, nil
}

func (c *TelegramChannel) getUpdates(ctx context.Context, offset int64, limit, timeoutSecs int) ([]tgUpdate, error) {
	data, err := c.apiCall(ctx, "getUpdates", map[string]any{
		"offset":          offset,
		"limit":           limit,
		"timeout":         timeoutSecs,
		"allowed_updates": []string{"message"},
	})
	if err != nil {
		return nil, err
	}
	var updates []tgUpdate
	if err := json.Unmarshal(data, &updates); err != nil {
		return nil, fmt.Errorf("parsing updates: %w", err)
	}
	return updates, nil
}

// downloadFile resolves a file id with getFile, then fetches the bytes
// from the file endpoint.
func (c *TelegramChannel) downloadFile(ctx context.Context, fileID string) ([]byte, error) {
	data, err := c.apiCall(ctx, "getFile", map[string]any{"file_id": fileID})
	if err != nil {
		return nil, err
	}
	var file tgFile
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parsing getFile: %w", err)
	}
	if file.FilePath == "" {
		return nil, fmt.Errorf("getFile returned no file path")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.fileURL+"/"+file.FilePath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("file download failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("file download returned status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, telegramFileMaxBytes))
}

func (c *TelegramChannel) uploadFile(ctx context.Context, method string, chatID int64, fieldName, filename string, data []byte) error {
	if len(data) == 0 {
		return fmt.Errorf("no data to upload")
	}

	var buf bytes.Buffer
	w := multipart.NewWriter(&buf)
	_ = w.WriteField("chat_id", strconv.FormatInt(chatID, 10))
	part, err := w.CreateFormFile(fieldName, filename)
	if err != nil {
		return fmt.Errorf("creating form file: %w", err)
	}
	if _, err := part.Write(data); err != nil {
		return fmt.Errorf("writing file data: %w", err)
	}
	w.Close()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/"+method, &buf)
	if err != nil {
		return fmt.Errorf("creating upload request: %w", err)
	}
	req.Header.Set("Content-Type", w.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()

	var result struct {
		OK          bool   `json:"ok"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return fmt.Errorf("decoding %s upload response: %w", method, err)
	}
	if !result.OK {
		return fmt.Errorf("%s upload: %s", method, result.Description)
	}
	return nil
}

var _ Channel = (*TelegramChannel)(nil)
var _ Channel = (*DiscordChannel)(nil)
