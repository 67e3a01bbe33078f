// PicoClaw - Ultra-lightweight personal AI agent
// Inspired by and based on nanobot: https://github.com/HKUDS/nanobot
// License: MIT
//
// Copyright (c) 2026 PicoClaw contributors

// Command picoclaw boots the full core: it loads configuration, wires the
// provider chain, memory store, intent router and skill registry, then
// starts one BotOrchestrator per configured bot together with the HTTP
// gateway, and serves until a shutdown signal arrives.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/chzyer/readline"
	"github.com/mymmrac/telego"

	"github.com/sipeed/picoclaw/pkg/bus"
	"github.com/sipeed/picoclaw/pkg/channels"
	"github.com/sipeed/picoclaw/pkg/config"
	"github.com/sipeed/picoclaw/pkg/email"
	"github.com/sipeed/picoclaw/pkg/gateway"
	"github.com/sipeed/picoclaw/pkg/logger"
	"github.com/sipeed/picoclaw/pkg/mcp"
	"github.com/sipeed/picoclaw/pkg/memory"
	"github.com/sipeed/picoclaw/pkg/metrics"
	"github.com/sipeed/picoclaw/pkg/orchestrator"
	"github.com/sipeed/picoclaw/pkg/providers"
	"github.com/sipeed/picoclaw/pkg/router"
	"github.com/sipeed/picoclaw/pkg/specialists"
	"github.com/sipeed/picoclaw/pkg/state"
	"github.com/sipeed/picoclaw/pkg/tools"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "picoclaw: config: %v\n", err)
		os.Exit(1)
	}
	logger.SetLevel(parseLogLevel(cfg.LogLevel))

	if err := gateway.ValidateStartup(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "picoclaw: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	provider := buildProviderChain(cfg.Providers)
	model := defaultModel(cfg.Providers)
	providers.SetTokenTracker(metrics.NewTracker(cfg.WorkspacePath()))

	store, err := openMemoryStore(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "picoclaw: memory: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	relationStore := memory.NewRelationStore(cfg.WorkspacePath())
	store.SetConflictResolver(provider, model)

	msgBus := bus.NewMessageBus(256)
	participationMaxAge := time.Duration(cfg.Memory.ParticipationMaxAge) * time.Second

	// Adapters are built before the tool registry so a Telegram bot client,
	// if any bot configures one, can be handed to ManageTelegramTool.
	botAdapters, adapterCloser := buildAllAdapters(ctx, cfg, msgBus)
	defer adapterCloser()

	specialistLoader := specialists.NewSpecialistLoader(cfg.WorkspacePath())
	topicMappings := state.NewTopicMappingStore(cfg.WorkspacePath())
	registry := buildToolRegistry(cfg, provider, model, store, specialistLoader, topicMappings, relationStore, firstTelegramBot(botAdapters))

	mcpManager := mcp.NewMCPManager()
	if len(cfg.MCPServers) > 0 {
		mcpManager.StartFromConfig(cfg.MCPServers)
		n := mcp.RegisterMCPTools(mcpManager, registry)
		logger.InfoCF("main", "Registered MCP tools", map[string]interface{}{"count": n})
	}

	skillRegistry := buildSkillRegistry(registry, specialistLoader)
	intentRouter := router.New(provider, model, skillRegistry)

	botOrchestrators := startBots(ctx, cfg, provider, model, intentRouter, registry, msgBus, participationMaxAge, botAdapters)

	go outboundPump(ctx, msgBus, botAdapters)

	_ = startEmailMonitors(ctx, cfg, provider, msgBus)

	lifecycle := memory.NewLifecycleJob(store, cfg.Memory.LifecycleCron, cfg.SessionsDir())
	lifecycle.AddTask(func(taskCtx context.Context) {
		specialists.ReviewAllSpecialists(taskCtx, specialistLoader, provider, model, store, cfg.WorkspacePath())
	})
	go lifecycle.Run(ctx)

	core := &gateway.Core{
		Router:  intentRouter,
		Memory:  store,
		Version: version,
		ComponentMap: func() map[string]string {
			return map[string]string{
				"provider": "up",
				"memory":   "up",
				"bots":     fmt.Sprintf("%d", len(botOrchestrators)),
			}
		},
		Admin: gateway.AdminTasks{
			Backfill: func(taskCtx context.Context) (*memory.BackfillStats, error) {
				return memory.Backfill(taskCtx, cfg.SessionsDir(), store, memory.BackfillOptions{})
			},
			ReviewSpecialists: func(taskCtx context.Context) {
				specialists.ReviewAllSpecialists(taskCtx, specialistLoader, provider, model, store, cfg.WorkspacePath())
			},
		},
	}
	server := gateway.NewServer(&cfg.Gateway, core)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start(ctx)
	}()

	if console := startOperatorConsole(ctx, intentRouter); console != nil {
		defer console.Close()
	}

	select {
	case <-ctx.Done():
		logger.InfoCF("main", "shutdown signal received", nil)
	case err := <-errCh:
		if err != nil {
			logger.ErrorCF("main", "gateway exited with error", map[string]interface{}{"error": err.Error()})
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), time.Duration(cfg.Gateway.ShutdownGraceSeconds)*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.WarnCF("main", "gateway shutdown error", map[string]interface{}{"error": err.Error()})
	}
}

// buildProviderChain wires the Claude -> OpenAI -> Copilot fallback chain
// from whichever credentials are configured, per the domain stack's
// "at least one provider credential" startup invariant. Priority order
// mirrors the config struct: Anthropic first, then OpenAI, then Copilot.
func buildProviderChain(p config.ProvidersConfig) *providers.ChainProvider {
	var hops []providers.Hop

	if p.AnthropicAPIKey != "" {
		hops = append(hops, providers.NewHop(providers.NewClaudeProvider(p.AnthropicAPIKey), p.AnthropicModel))
	}
	if p.OpenAIAPIKey != "" {
		hops = append(hops, providers.NewHop(providers.NewOpenAIProvider(p.OpenAIAPIKey, p.OpenAIModel), p.OpenAIModel))
	}
	if p.CopilotToken != "" {
		hops = append(hops, providers.NewHop(providers.NewCopilotProvider(p.CopilotToken, p.OpenAIModel), p.OpenAIModel))
	}

	// ValidateStartup already rejects the zero-hop case before this runs.
	return providers.NewChainProvider(hops...)
}

func defaultModel(p config.ProvidersConfig) string {
	switch {
	case p.AnthropicAPIKey != "":
		return p.AnthropicModel
	case p.OpenAIAPIKey != "":
		return p.OpenAIModel
	case p.CopilotToken != "":
		return p.OpenAIModel
	default:
		return ""
	}
}

func openMemoryStore(cfg *config.Config) (*memory.Store, error) {
	var embedFn memory.EmbedFunc
	if cfg.Providers.OpenAIAPIKey != "" {
		oa := providers.NewOpenAIProvider(cfg.Providers.OpenAIAPIKey, cfg.Providers.OpenAIModel)
		embedFn = func(ctx context.Context, text string) ([]float32, error) {
			return oa.Embed(ctx, text, cfg.Providers.EmbeddingModel)
		}
	}
	embeddings := memory.NewEmbeddingService(embedFn, cfg.Providers.EmbeddingModel, time.Duration(cfg.Memory.SaveDebounceMs)*time.Millisecond)
	// OpenStore appends "memory/vectors.json" itself, so hand it MemoryDir's
	// parent: the snapshot lands in MEMORY_DIR when its last element is
	// "memory" (as in the default sessions/memory), and otherwise in a
	// "memory" directory beside it.
	return memory.OpenStore(filepath.Dir(cfg.Memory.MemoryDir), embeddings)
}

func buildToolRegistry(cfg *config.Config, provider providers.LLMProvider, model string, store *memory.Store, loader *specialists.SpecialistLoader, topicMappings *state.TopicMappingStore, relations *memory.RelationStore, telegramBot *telego.Bot) *tools.ToolRegistry {
	registry := tools.NewToolRegistry()
	registry.Register(tools.NewMessageTool())
	registry.Register(tools.NewThinkTool())
	registry.Register(tools.NewMemorySearchTool(store))
	registry.Register(tools.NewConsultSpecialistTool(tools.ConsultSpecialistConfig{
		Loader:    loader,
		Provider:  provider,
		Model:     model,
		Store:     store,
		Relations: relations,
		Workspace: cfg.WorkspacePath(),
	}))
	registry.Register(tools.NewCreateSpecialistTool(loader, provider, model, cfg.WorkspacePath(), store))
	registry.Register(tools.NewFeedSpecialistTool(loader, store))
	registry.Register(tools.NewLinkTopicTool(topicMappings, loader))

	if telegramBot != nil {
		registry.Register(tools.NewManageTelegramTool(telegramBot))
	}
	if len(cfg.EmailAccounts) > 0 {
		registry.Register(tools.NewEmailTool(tools.EmailToolOptions{EmailAddress: cfg.EmailAccounts[0].Address}))
	}
	return registry
}

// buildSkillRegistry exposes every registered tool plus every specialist
// persona as a router skill, per the intent router's "never hardcode
// keyword rules" contract: the router only ever sees a name/description.
func buildSkillRegistry(registry *tools.ToolRegistry, loader *specialists.SpecialistLoader) *router.StaticSkillRegistry {
	var skills []router.Skill
	for _, t := range registry.List() {
		skills = append(skills, router.Skill{Name: t.Name(), Description: t.Description()})
	}
	for _, s := range loader.ListSpecialists() {
		skills = append(skills, router.Skill{
			Name:        "consult_specialist:" + s.Name,
			Description: s.Description,
		})
	}
	return router.NewStaticSkillRegistry(skills...)
}

// buildAllAdapters opens every configured bot's channel adapters up front,
// keyed by bot name then channel name, so both the tool registry (which
// needs the raw Telegram bot client) and startBots/outboundPump (which need
// the ChannelAdapter interface) share one set of live connections.
func buildAllAdapters(ctx context.Context, cfg *config.Config, msgBus *bus.MessageBus) (map[string]map[string]orchestrator.ChannelAdapter, func()) {
	botAdapters := map[string]map[string]orchestrator.ChannelAdapter{}

	for _, bot := range cfg.Bots {
		adapters, err := channels.BuildAdapters(ctx, bot, msgBus)
		if err != nil {
			logger.ErrorCF("main", "failed to build channel adapters", map[string]interface{}{"bot": bot.Name, "error": err.Error()})
			continue
		}
		botAdapters[bot.Name] = adapters
	}

	closer := func() {
		for _, adapters := range botAdapters {
			if err := channels.CloseAll(adapters); err != nil {
				logger.WarnCF("main", "error closing channel adapters", map[string]interface{}{"error": err.Error()})
			}
		}
	}
	return botAdapters, closer
}

// firstTelegramBot extracts the underlying telego.Bot client from the first
// bot slot that has a live Telegram adapter, for tools (ManageTelegramTool)
// that need Bot API access beyond ChannelAdapter's SendMessage/FetchHistory.
func firstTelegramBot(botAdapters map[string]map[string]orchestrator.ChannelAdapter) *telego.Bot {
	for _, adapters := range botAdapters {
		if tg, ok := adapters["telegram"].(*channels.TelegramAdapter); ok {
			return tg.Bot()
		}
	}
	return nil
}

func startBots(ctx context.Context, cfg *config.Config, provider providers.LLMProvider, model string, intentRouter *router.Router, registry *tools.ToolRegistry, msgBus *bus.MessageBus, participationMaxAge time.Duration, botAdapters map[string]map[string]orchestrator.ChannelAdapter) []*orchestrator.BotOrchestrator {
	var orchestrators []*orchestrator.BotOrchestrator

	for _, bot := range cfg.Bots {
		adapters := botAdapters[bot.Name]
		if adapters == nil {
			continue
		}

		strategy := orchestrator.StrategyAIDecide
		if bot.Strategy == string(orchestrator.StrategyAlwaysOnUserQuestion) {
			strategy = orchestrator.StrategyAlwaysOnUserQuestion
		}
		delay := orchestrator.ResolveObservationDelay(ctx, provider, model, bot.RoleDescription, bot.ObservationDelayMs)

		role := orchestrator.Role{
			BotName:                bot.Name,
			DisplayName:            bot.DisplayName,
			Description:            bot.RoleDescription,
			Strategy:               strategy,
			ObservationDelay:       delay,
			MaxObservationMessages: bot.MaxObservationMessages,
		}

		for channelName, adapter := range adapters {
			deps := orchestrator.Deps{
				Channel:             channelName,
				Adapter:             adapter,
				Provider:            provider,
				Model:               model,
				MsgBus:              msgBus,
				ParticipationMaxAge: participationMaxAge,
			}
			if strategy == orchestrator.StrategyAlwaysOnUserQuestion {
				deps.Router = intentRouter
				deps.Tools = registry
			}
			bo := orchestrator.New(role, deps)
			orchestrators = append(orchestrators, bo)

			go dispatchInbound(ctx, msgBus, bo, bot.Name, channelName)
		}
	}

	return orchestrators
}

// outboundPump is the one consumer of MessageBus.ConsumeOutbound: it routes
// every outbound message (streamed partial replies included) to the
// ChannelAdapter matching its Channel, across every bot, so a streaming
// provider's partial updates actually reach the user the same way a final
// reply does.
func outboundPump(ctx context.Context, msgBus *bus.MessageBus, botAdapters map[string]map[string]orchestrator.ChannelAdapter) {
	for {
		msg, ok := msgBus.ConsumeOutbound(ctx)
		if !ok {
			return
		}
		adapters, found := botAdapters[msg.BotID]
		if !found {
			continue
		}
		adapter, found := adapters[msg.Channel]
		if !found {
			continue
		}
		if err := adapter.SendMessage(ctx, msg.ChatID, msg.Content); err != nil {
			logger.WarnCF("main", "outbound delivery failed", map[string]interface{}{
				"bot": msg.BotID, "channel": msg.Channel, "error": err.Error(),
			})
		}
	}
}

// dispatchInbound feeds one (bot, channel) orchestrator from the shared bus,
// filtering to messages addressed to this bot/channel pair.
func dispatchInbound(ctx context.Context, msgBus *bus.MessageBus, bo *orchestrator.BotOrchestrator, botName, channelName string) {
	for {
		msg, ok := msgBus.ConsumeInbound(ctx)
		if !ok {
			return
		}
		if msg.BotID != "" && msg.BotID != botName {
			continue
		}
		if msg.Channel != channelName {
			continue
		}
		if f := bo.OnMessage(ctx, msg); f != nil {
			logger.WarnCF("main", "dropped inbound message", map[string]interface{}{"bot": botName, "channel": channelName, "error": f.Error()})
		}
	}
}

const emailPollIntervalMinutes = 5

// startEmailMonitors polls every configured mailbox and routes triaged
// summaries onto the shared bus as if they arrived from a Telegram chat,
// addressed to the first configured bot (the teacher's own notifier target).
func startEmailMonitors(ctx context.Context, cfg *config.Config, provider providers.LLMProvider, msgBus *bus.MessageBus) *email.EmailMonitor {
	if len(cfg.EmailAccounts) == 0 || len(cfg.Bots) == 0 {
		return nil
	}
	monitor := email.NewEmailMonitor(cfg.EmailAccounts, provider, cfg.Providers.OpenAIModel, cfg.WorkspacePath(), msgBus, "telegram", cfg.Bots[0].Name)
	monitor.Start(emailPollIntervalMinutes)
	go func() {
		<-ctx.Done()
		monitor.Stop()
	}()
	return monitor
}

// startOperatorConsole runs a local readline-backed REPL so an operator can
// route a message through the intent router without going through a
// configured channel, matching the teacher's console-first debugging habit.
func startOperatorConsole(ctx context.Context, intentRouter *router.Router) *readline.Instance {
	rl, err := readline.NewEx(&readline.Config{Prompt: "picoclaw> "})
	if err != nil {
		logger.WarnCF("main", "operator console unavailable", map[string]interface{}{"error": err.Error()})
		return nil
	}

	go func() {
		for {
			line, err := rl.Readline()
			if err != nil {
				return
			}
			line = strings.TrimSpace(line)
			if line == "" {
				continue
			}
			decision := intentRouter.Route(ctx, line, "")
			if !decision.IsOk() {
				fmt.Fprintln(os.Stdout, decision.Failure().UserMessage)
				continue
			}
			fmt.Fprintf(os.Stdout, "-> %s (confidence %.2f)\n", decision.Value().Action, decision.Value().Confidence)
		}
	}()

	return rl
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
