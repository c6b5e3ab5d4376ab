package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/caarlos0/env/v11"
)

// FlexibleStringSlice is a []string that also accepts JSON numbers,
// so allow_from can contain both "123" and 123.
type FlexibleStringSlice []string

func (f *FlexibleStringSlice) UnmarshalJSON(data []byte) error {
	// Try []string first
	var ss []string
	if err := json.Unmarshal(data, &ss); err == nil {
		*f = ss
		return nil
	}

	// Try []interface{} to handle mixed types
	var raw []interface{}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	result := make([]string, 0, len(raw))
	for _, v := range raw {
		switch val := v.(type) {
		case string:
			result = append(result, val)
		case float64:
			result = append(result, fmt.Sprintf("%.0f", val))
		default:
			result = append(result, fmt.Sprintf("%v", val))
		}
	}
	*f = result
	return nil
}

type Config struct {
	Agent       AgentConfig       `json:"agent"`
	Channels    ChannelsConfig    `json:"channels"`
	Providers   ProvidersConfig   `json:"providers"`
	Tools       ToolsConfig       `json:"tools"`
	History     HistoryConfig     `json:"history"`
	Documents   DocumentsConfig   `json:"documents"`
	Speech      SpeechConfig      `json:"speech"`
	Maintenance MaintenanceConfig `json:"maintenance"`
	mu          sync.RWMutex
}

type AgentConfig struct {
	DataDir           string  `json:"data_dir" env:"CHATBRIDGE_AGENT_DATA_DIR"`
	Model             string  `json:"model" env:"CHATBRIDGE_AGENT_MODEL"`
	MaxTokens         int     `json:"max_tokens" env:"CHATBRIDGE_AGENT_MAX_TOKENS"`
	Temperature       float64 `json:"temperature" env:"CHATBRIDGE_AGENT_TEMPERATURE"`
	MaxToolIterations int     `json:"max_tool_iterations" env:"CHATBRIDGE_AGENT_MAX_TOOL_ITERATIONS"`
	MaxConcurrent     int     `json:"max_concurrent" env:"CHATBRIDGE_AGENT_MAX_CONCURRENT"`
}

type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Discord  DiscordConfig  `json:"discord"`
}

type TelegramConfig struct {
	Token     string              `json:"token" env:"CHATBRIDGE_CHANNELS_TELEGRAM_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"CHATBRIDGE_CHANNELS_TELEGRAM_ALLOW_FROM"`
}

type DiscordConfig struct {
	Token     string              `json:"token" env:"CHATBRIDGE_CHANNELS_DISCORD_TOKEN"`
	AllowFrom FlexibleStringSlice `json:"allow_from" env:"CHATBRIDGE_CHANNELS_DISCORD_ALLOW_FROM"`
}

type ProvidersConfig struct {
	OpenAI ProviderConfig `json:"openai"`
}

type ProviderConfig struct {
	APIKey  string `json:"api_key" env:"CHATBRIDGE_PROVIDERS_OPENAI_API_KEY"`
	APIBase string `json:"api_base" env:"CHATBRIDGE_PROVIDERS_OPENAI_API_BASE"`
	Proxy   string `json:"proxy,omitempty" env:"CHATBRIDGE_PROVIDERS_OPENAI_PROXY"`
}

type SearchToolConfig struct {
	GoogleAPIKey       string `json:"google_api_key" env:"CHATBRIDGE_TOOLS_SEARCH_GOOGLE_API_KEY"`
	GoogleCSEID        string `json:"google_cse_id" env:"CHATBRIDGE_TOOLS_SEARCH_GOOGLE_CSE_ID"`
	MaxResults         int    `json:"max_results" env:"CHATBRIDGE_TOOLS_SEARCH_MAX_RESULTS"`
	DuckDuckGoFallback bool   `json:"duckduckgo_fallback" env:"CHATBRIDGE_TOOLS_SEARCH_DUCKDUCKGO_FALLBACK"`
}

type WolframToolConfig struct {
	AppID string `json:"app_id" env:"CHATBRIDGE_TOOLS_WOLFRAM_APP_ID"`
}

type ImageToolConfig struct {
	Model string `json:"model" env:"CHATBRIDGE_TOOLS_IMAGE_MODEL"`
	Size  string `json:"size" env:"CHATBRIDGE_TOOLS_IMAGE_SIZE"`
}

type ToolsConfig struct {
	Search  SearchToolConfig  `json:"search"`
	Wolfram WolframToolConfig `json:"wolfram"`
	Image   ImageToolConfig   `json:"image"`
}

type HistoryConfig struct {
	TTLMinutes       int `json:"ttl_minutes" env:"CHATBRIDGE_HISTORY_TTL_MINUTES"`
	MaxConversations int `json:"max_conversations" env:"CHATBRIDGE_HISTORY_MAX_CONVERSATIONS"`
	PromptTurns      int `json:"prompt_turns" env:"CHATBRIDGE_HISTORY_PROMPT_TURNS"`
}

type DocumentsConfig struct {
	ChunkSize        int    `json:"chunk_size" env:"CHATBRIDGE_DOCUMENTS_CHUNK_SIZE"`
	ChunkOverlap     int    `json:"chunk_overlap" env:"CHATBRIDGE_DOCUMENTS_CHUNK_OVERLAP"`
	TopK             int    `json:"top_k" env:"CHATBRIDGE_DOCUMENTS_TOP_K"`
	EmbeddingModel   string `json:"embedding_model" env:"CHATBRIDGE_DOCUMENTS_EMBEDDING_MODEL"`
	SummaryGroupSize int    `json:"summary_group_size" env:"CHATBRIDGE_DOCUMENTS_SUMMARY_GROUP_SIZE"`
}

type SpeechConfig struct {
	Enabled         bool   `json:"enabled" env:"CHATBRIDGE_SPEECH_ENABLED"`
	Voice           string `json:"voice" env:"CHATBRIDGE_SPEECH_VOICE"`
	Model           string `json:"model" env:"CHATBRIDGE_SPEECH_MODEL"`
	TranscribeModel string `json:"transcribe_model" env:"CHATBRIDGE_SPEECH_TRANSCRIBE_MODEL"`
}

type MaintenanceConfig struct {
	SweepSchedule  string `json:"sweep_schedule" env:"CHATBRIDGE_MAINTENANCE_SWEEP_SCHEDULE"`
	VacuumSchedule string `json:"vacuum_schedule" env:"CHATBRIDGE_MAINTENANCE_VACUUM_SCHEDULE"`
}

func DefaultConfig() *Config {
	return &Config{
		Agent: AgentConfig{
			DataDir:           "~/.chatbridge",
			Model:             "gpt-4o-mini",
			MaxTokens:         2048,
			Temperature:       0.7,
			MaxToolIterations: 6,
			MaxConcurrent:     8,
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
			Discord: DiscordConfig{
				Token:     "",
				AllowFrom: FlexibleStringSlice{},
			},
		},
		Providers: ProvidersConfig{
			OpenAI: ProviderConfig{},
		},
		Tools: ToolsConfig{
			Search: SearchToolConfig{
				MaxResults:         5,
				DuckDuckGoFallback: true,
			},
			Wolfram: WolframToolConfig{},
			Image: ImageToolConfig{
				Model: "dall-e-3",
				Size:  "1024x1024",
			},
		},
		History: HistoryConfig{
			TTLMinutes:       240,
			MaxConversations: 64,
			PromptTurns:      20,
		},
		Documents: DocumentsConfig{
			ChunkSize:        1000,
			ChunkOverlap:     0,
			TopK:             4,
			EmbeddingModel:   "chargram-384-v1",
			SummaryGroupSize: 8,
		},
		Speech: SpeechConfig{
			Enabled:         false,
			Voice:           "alloy",
			Model:           "tts-1",
			TranscribeModel: "whisper-1",
		},
		Maintenance: MaintenanceConfig{
			SweepSchedule:  "*/10 * * * *",
			VacuumSchedule: "0 4 * * *",
		},
	}
}

func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			if err := env.Parse(cfg); err != nil {
				return nil, err
			}
			return cfg, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

func SaveConfig(path string, cfg *Config) error {
	cfg.mu.RLock()
	defer cfg.mu.RUnlock()

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}

	return os.WriteFile(path, data, 0600)
}

func (c *Config) DataDir() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return expandHome(c.Agent.DataDir)
}

func (c *Config) GetAPIKey() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.Providers.OpenAI.APIKey
}

func (c *Config) GetAPIBase() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.Providers.OpenAI.APIBase != "" {
		return c.Providers.OpenAI.APIBase
	}
	return "https://api.openai.com/v1"
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}
