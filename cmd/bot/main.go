package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	audioimpl "github.com/ottergrove/voicegrain/external/audio"
	configloader "github.com/ottergrove/voicegrain/external/config"
	"github.com/ottergrove/voicegrain/external/discord"
	repositoryimpl "github.com/ottergrove/voicegrain/external/repository"
	transcriberimpl "github.com/ottergrove/voicegrain/external/transcriber"
	webhookimpl "github.com/ottergrove/voicegrain/external/webhook"
	"github.com/ottergrove/voicegrain/internal/config"
	discordpkg "github.com/ottergrove/voicegrain/internal/discord"
	"github.com/ottergrove/voicegrain/internal/flush"
	"github.com/ottergrove/voicegrain/internal/session"
	"github.com/ottergrove/voicegrain/internal/transcription"
	"github.com/samber/do/v2"
)

const discordConnectTimeout = 20 * time.Second

func main() {
	slog.Info("startup: loading configuration")
	cfg := mustLoadConfig()
	initLogger(cfg)
	slog.Info("startup: configuration loaded", "env", cfg.Env, "provider", cfg.TranscribeProvider)

	slog.Info("startup: building dependency graph")
	injector := setupDI(cfg)

	slog.Info("startup: launching discord bot")
	runBot(cfg, injector)
}

func mustLoadConfig() *config.Config {
	cfg, err := configloader.Load()
	if err != nil {
		slog.Error("config validation failed", "error", err)
		os.Exit(1)
	}
	return cfg
}

func initLogger(cfg *config.Config) {
	logLevel := slog.LevelInfo
	if cfg.IsDevelopment() {
		logLevel = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})))
}

func setupDI(cfg *config.Config) do.Injector {
	injector := do.New()

	do.ProvideValue(injector, cfg)
	repositoryimpl.RegisterDI(injector)
	audioimpl.RegisterDI(injector)
	discord.RegisterDI(injector)
	transcriberimpl.RegisterDI(injector)
	webhookimpl.RegisterDI(injector)
	flush.RegisterDI(injector)
	session.RegisterDI(injector)

	return injector
}

func runBot(cfg *config.Config, injector do.Injector) {
	dc, err := do.Invoke[discordpkg.Client](injector)
	if err != nil {
		slog.Error("failed to resolve discord client", "error", err)
		os.Exit(1)
	}
	manager, err := do.Invoke[*session.Manager](injector)
	if err != nil {
		slog.Error("failed to resolve session manager", "error", err)
		os.Exit(1)
	}
	coord, err := do.Invoke[*transcription.Coordinator](injector)
	if err != nil {
		slog.Error("failed to resolve transcription coordinator", "error", err)
		os.Exit(1)
	}
	scheduler, err := do.Invoke[*flush.Scheduler](injector)
	if err != nil {
		slog.Error("failed to resolve flush scheduler", "error", err)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), discordConnectTimeout)
	defer cancel()

	slog.Info("startup: connecting to discord gateway")
	if err := dc.Connect(ctx); err != nil {
		slog.Error("discord connect failed", "error", err)
		os.Exit(1)
	}
	slog.Info("startup: discord connected")

	botUserID, err := dc.GetBotUserID()
	if err != nil {
		slog.Error("failed to resolve bot user id", "error", err)
		os.Exit(1)
	}
	manager.SetBotUserID(botUserID)

	if err := dc.UpsertGuildSlashCommands(cfg.DiscordGuildID, manager.SlashCommandDefinitions()); err != nil {
		slog.Error("failed to upsert slash commands", "error", err, "guild_id", cfg.DiscordGuildID)
		os.Exit(1)
	}

	dc.RegisterVoiceStateUpdateHandler(manager.HandleVoiceStateUpdate)
	dc.RegisterSlashCommandHandler(manager.HandleSlashCommand)
	slog.Info("discord handlers registered", "guild_id", cfg.DiscordGuildID, "vc_id", cfg.DiscordVCID)

	defer func() {
		if err := dc.Close(); err != nil {
			slog.Error("discord close failed", "error", err)
		}
	}()

	runCtx, stopWorkers := context.WithCancel(context.Background())
	defer stopWorkers()
	go scheduler.Run(runCtx)
	go drainJobErrors(runCtx, coord)

	if err := manager.Bootstrap(); err != nil {
		slog.Error("failed to bootstrap sessions for current participants", "error", err)
	}

	done := make(chan struct{})
	go func() {
		slog.Info("startup: entering discord run loop")
		if err := dc.Run(); err != nil {
			slog.Error("discord run failed", "error", err)
		}
		close(done)
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigCh:
		slog.Info("shutting down")
	case <-done:
	}
}

func drainJobErrors(ctx context.Context, coord *transcription.Coordinator) {
	for {
		select {
		case <-ctx.Done():
			return
		case je := <-coord.Errors():
			slog.Error("transcription job failed", "error", je.Err, "session_id", je.SessionID, "speaker_id", je.SpeakerID, "provider", je.Provider)
		}
	}
}
