// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Package config loads and validates the process environment into a single
// Config struct using struct tags, the same approach the teacher uses for
// its EmailAccount settings.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/caarlos0/env/v11"
)

// ProvidersConfig holds credentials for every LLM backend. Only the ones
// with a non-empty key are wired into the provider fallback chain.
type ProvidersConfig struct {
	AnthropicAPIKey string `env:"ANTHROPIC_API_KEY"`
	AnthropicModel  string `env:"ANTHROPIC_MODEL" envDefault:"claude-sonnet-4-5"`
	OpenAIAPIKey    string `env:"OPENAI_API_KEY"`
	OpenAIModel     string `env:"OPENAI_MODEL" envDefault:"gpt-4.1-mini"`
	CopilotToken    string `env:"COPILOT_TOKEN"`
	EmbeddingModel  string `env:"EMBEDDING_MODEL" envDefault:"text-embedding-3-small"`
}

// GatewayConfig configures the HTTP/WebSocket gateway.
type GatewayConfig struct {
	Port                  int      `env:"GATEWAY_PORT" envDefault:"8080"`
	AdminToken            string   `env:"ADMIN_TOKEN"`
	DisableAdmin          bool     `env:"DISABLE_ADMIN" envDefault:"false"`
	MaxRequestBodySize    int64    `env:"MAX_REQUEST_BODY_SIZE" envDefault:"10485760"`
	MaxConcurrentRequests int      `env:"MAX_CONCURRENT_REQUESTS" envDefault:"100"`
	RequestTimeoutMs      int      `env:"REQUEST_TIMEOUT_MS" envDefault:"30000"`
	ChatTimeoutMs         int      `env:"CHAT_TIMEOUT_MS" envDefault:"300000"`
	ShutdownGraceSeconds  int      `env:"SHUTDOWN_GRACE_SECONDS" envDefault:"5"`
	CORSAllowedOrigins    []string `env:"CORS_ALLOWED_ORIGINS" envSeparator:","`
	RateLimitPerMinute    int      `env:"RATE_LIMIT_PER_MINUTE" envDefault:"60"`
}

// MemoryConfig configures the vector memory engine.
type MemoryConfig struct {
	MemoryDir           string `env:"MEMORY_DIR" envDefault:"sessions/memory"`
	MaxVectorsPerUser   int    `env:"MAX_VECTORS_PER_USER" envDefault:"10000"`
	SaveDebounceMs      int    `env:"MEMORY_SAVE_DEBOUNCE_MS" envDefault:"10000"`
	ParticipationMaxAge int    `env:"PARTICIPATION_MAX_AGE_SECONDS" envDefault:"3600"`
	LifecycleCron       string `env:"MEMORY_LIFECYCLE_CRON" envDefault:"0 3 * * *"`
}

// MCPServerConfig describes one MCP server process to launch at startup,
// read from a JSON file (MCP_CONFIG_PATH) since its Command/Args/Env shape
// does not fit the flat numbered-slot convention the bots and mailboxes use.
type MCPServerConfig struct {
	Name    string            `json:"name"`
	Command string            `json:"command"`
	Args    []string          `json:"args"`
	Env     map[string]string `json:"env"`
	Enabled bool              `json:"enabled"`
}

// EmailAccount describes one monitored mailbox, carried over from the
// teacher's email tooling and reused as a channel-adapter-shaped poller.
type EmailAccount struct {
	Label    string `env:"LABEL"`
	Address  string `env:"ADDRESS"`
	Password string `env:"PASSWORD"`
	IMAPHost string `env:"IMAP_HOST"`
	IMAPPort int     `env:"IMAP_PORT" envDefault:"993"`
}

// BotConfig is one numbered bot slot resolved manually below (numbered env
// vars, e.g. BOT_1_TOKEN, do not fit caarlos0/env's struct-tag model).
type BotConfig struct {
	Name                   string
	DisplayName            string
	RoleDescription        string
	Strategy               string // "alwaysOnUserQuestion" | "aiDecide"
	ObservationDelayMs     int    // 0 means "ask the LLM at startup"
	MaxObservationMessages int
	Channels               []string
	DiscordToken           string
	TelegramToken          string
	SlackToken             string
	LarkAppID              string
	LarkAppSecret          string
	DingTalkClientID       string
	DingTalkClientSecret   string
}

// Config is the fully resolved process configuration.
type Config struct {
	Providers ProvidersConfig
	Gateway   GatewayConfig
	Memory    MemoryConfig
	Workspace string `env:"WORKSPACE_DIR" envDefault:"."`
	Sessions  string `env:"SESSIONS_DIR" envDefault:"sessions"`
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`

	Bots          []BotConfig
	EmailAccounts []EmailAccount
	MCPServers    []MCPServerConfig
	MCPConfigPath string `env:"MCP_CONFIG_PATH" envDefault:"mcp_servers.json"`
}

// WorkspacePath returns the absolute workspace directory, mirroring the
// teacher's own AgentLoop.workspace resolution.
func (c *Config) WorkspacePath() string {
	abs, err := filepath.Abs(c.Workspace)
	if err != nil {
		return c.Workspace
	}
	return abs
}

// SessionsDir returns the absolute directory backfill reads transcripts
// from, mirroring WorkspacePath's resolution of a relative env var.
func (c *Config) SessionsDir() string {
	abs, err := filepath.Abs(c.Sessions)
	if err != nil {
		return c.Sessions
	}
	return abs
}

// Load reads Config from the process environment.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("config: parse environment: %w", err)
	}
	cfg.Bots = loadBots()
	cfg.EmailAccounts = loadEmailAccounts()
	cfg.MCPServers = loadMCPServers(cfg.MCPConfigPath)
	return cfg, nil
}

// loadMCPServers reads the optional MCP server list from a JSON file. A
// missing file means "no MCP servers configured", not an error — most
// deployments never run one.
func loadMCPServers(path string) []MCPServerConfig {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil
	}
	var servers []MCPServerConfig
	if err := json.Unmarshal(data, &servers); err != nil {
		return nil
	}
	return servers
}

// loadBots resolves numbered BOT_<n>_* slots until a gap is found, matching
// the teacher's existing numbered-slot convention for channel credentials.
func loadBots() []BotConfig {
	var bots []BotConfig
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("BOT_%d_", i)
		name := os.Getenv(prefix + "NAME")
		if name == "" {
			break
		}
		delayMs, _ := strconv.Atoi(os.Getenv(prefix + "OBSERVATION_DELAY_MS"))
		maxObs, _ := strconv.Atoi(os.Getenv(prefix + "MAX_OBSERVATION_MESSAGES"))
		if maxObs == 0 {
			maxObs = 20
		}
		strategy := os.Getenv(prefix + "STRATEGY")
		if strategy == "" {
			strategy = "aiDecide"
		}
		channels := splitNonEmpty(os.Getenv(prefix + "CHANNELS"))
		bots = append(bots, BotConfig{
			Name:                   name,
			DisplayName:            envOrDefault(prefix+"DISPLAY_NAME", name),
			RoleDescription:        os.Getenv(prefix + "ROLE_DESCRIPTION"),
			Strategy:               strategy,
			ObservationDelayMs:     delayMs,
			MaxObservationMessages: maxObs,
			Channels:               channels,
			DiscordToken:           os.Getenv(prefix + "DISCORD_TOKEN"),
			TelegramToken:          os.Getenv(prefix + "TELEGRAM_TOKEN"),
			SlackToken:             os.Getenv(prefix + "SLACK_TOKEN"),
			LarkAppID:              os.Getenv(prefix + "LARK_APP_ID"),
			LarkAppSecret:          os.Getenv(prefix + "LARK_APP_SECRET"),
			DingTalkClientID:       os.Getenv(prefix + "DINGTALK_CLIENT_ID"),
			DingTalkClientSecret:   os.Getenv(prefix + "DINGTALK_CLIENT_SECRET"),
		})
	}
	return bots
}

func loadEmailAccounts() []EmailAccount {
	var accounts []EmailAccount
	for i := 1; ; i++ {
		prefix := fmt.Sprintf("EMAIL_%d_", i)
		address := os.Getenv(prefix + "ADDRESS")
		if address == "" {
			break
		}
		port, _ := strconv.Atoi(os.Getenv(prefix + "IMAP_PORT"))
		if port == 0 {
			port = 993
		}
		accounts = append(accounts, EmailAccount{
			Label:    envOrDefault(prefix+"LABEL", address),
			Address:  address,
			Password: os.Getenv(prefix + "PASSWORD"),
			IMAPHost: os.Getenv(prefix + "IMAP_HOST"),
			IMAPPort: port,
		})
	}
	return accounts
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func splitNonEmpty(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
