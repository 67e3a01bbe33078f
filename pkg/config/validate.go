// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

package config

import (
	"fmt"
	"net"
	"os"
	"strings"
)

// Validate runs every startup check the gateway requires before binding its
// port: port availability, writable directories, required API keys, and
// basic numeric range checks. Any failure here is a hard boot error.
func (c *Config) Validate() error {
	var problems []string

	if !c.Gateway.DisableAdmin && c.Gateway.AdminToken == "" {
		problems = append(problems, "ADMIN_TOKEN is required unless DISABLE_ADMIN=true")
	}
	if c.Gateway.Port < 1 || c.Gateway.Port > 65535 {
		problems = append(problems, fmt.Sprintf("GATEWAY_PORT out of range: %d", c.Gateway.Port))
	}
	if c.Gateway.MaxRequestBodySize <= 0 {
		problems = append(problems, "MAX_REQUEST_BODY_SIZE must be positive")
	}
	if c.Gateway.MaxConcurrentRequests <= 0 {
		problems = append(problems, "MAX_CONCURRENT_REQUESTS must be positive")
	}
	if c.Gateway.RequestTimeoutMs <= 0 {
		problems = append(problems, "REQUEST_TIMEOUT_MS must be positive")
	}

	if c.Providers.AnthropicAPIKey == "" && c.Providers.OpenAIAPIKey == "" && c.Providers.CopilotToken == "" {
		problems = append(problems, "at least one provider credential (ANTHROPIC_API_KEY, OPENAI_API_KEY, or COPILOT_TOKEN) must be set")
	}

	for _, dir := range []string{c.Sessions, c.Memory.MemoryDir, c.Workspace} {
		if err := checkWritable(dir); err != nil {
			problems = append(problems, fmt.Sprintf("directory %q not writable: %v", dir, err))
		}
	}

	if err := checkPortAvailable(c.Gateway.Port); err != nil {
		problems = append(problems, fmt.Sprintf("port %d unavailable: %v", c.Gateway.Port, err))
	}

	if len(c.Bots) == 0 {
		problems = append(problems, "no bots configured: set BOT_1_NAME and related BOT_1_* variables")
	}
	for _, b := range c.Bots {
		if b.Strategy != "alwaysOnUserQuestion" && b.Strategy != "aiDecide" {
			problems = append(problems, fmt.Sprintf("bot %q: unknown strategy %q", b.Name, b.Strategy))
		}
		if b.ObservationDelayMs != 0 && (b.ObservationDelayMs < 2000 || b.ObservationDelayMs > 15000) {
			problems = append(problems, fmt.Sprintf("bot %q: OBSERVATION_DELAY_MS %d out of [2000,15000]", b.Name, b.ObservationDelayMs))
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("configuration invalid:\n  - %s", strings.Join(problems, "\n  - "))
	}
	return nil
}

func checkWritable(dir string) error {
	if dir == "" {
		return fmt.Errorf("empty path")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	probe := dir + "/.picoclaw-write-probe"
	f, err := os.Create(probe)
	if err != nil {
		return err
	}
	f.Close()
	return os.Remove(probe)
}

func checkPortAvailable(port int) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return err
	}
	return ln.Close()
}
