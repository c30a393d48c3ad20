package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/ottergrove/voicegrain/internal/discord"
	"github.com/ottergrove/voicegrain/internal/transcription"
)

const (
	commandStop     = "voicegrain-stop"
	commandProvider = "voicegrain-provider"
	commandSwap     = "voicegrain-swap"
)

// SlashCommandDefinitions describes the guild commands this manager handles.
// The caller registers them with Discord on startup.
func (m *Manager) SlashCommandDefinitions() []discord.SlashCommandDefinition {
	return []discord.SlashCommandDefinition{
		{
			Name:        commandStop,
			Description: "End the current transcription session immediately",
		},
		{
			Name:        commandProvider,
			Description: "Show the active transcription provider",
		},
		{
			Name:        commandSwap,
			Description: "Swap the transcription provider without losing buffered audio",
			Options: []discord.SlashCommandOption{
				{
					Name:        "provider",
					Description: "Provider to switch to",
					Required:    true,
					Choices:     m.providers.Names(),
				},
			},
		},
	}
}

func (m *Manager) HandleSlashCommand(event discord.SlashCommandEvent) {
	if event.GuildID != m.cfg.DiscordGuildID {
		return
	}
	var err error
	switch event.CommandName {
	case commandStop:
		err = m.handleStopCommand(event)
	case commandProvider:
		err = event.RespondEphemeral(fmt.Sprintf(messageProviderStatus, m.coord.ActiveProviderName()))
	case commandSwap:
		err = m.handleSwapCommand(event)
	default:
		return
	}
	if err != nil {
		slog.Error("failed to handle slash command", "error", err, "command", event.CommandName, "user_id", event.UserID)
	}
}

func (m *Manager) handleStopCommand(event discord.SlashCommandEvent) error {
	vcID, err := m.discord.GetUserVoiceChannelID(event.GuildID, event.UserID)
	if err != nil {
		slog.Error("failed to resolve user voice channel", "error", err, "user_id", event.UserID)
		return event.RespondEphemeral(messageInternalError)
	}
	if vcID != m.cfg.DiscordVCID {
		return event.RespondEphemeral(messageStopNotInChannel)
	}
	if !m.ForceEnd(vcID) {
		return event.RespondEphemeral(messageStopNoSession)
	}
	return event.RespondEphemeral(messageStopAccepted)
}

func (m *Manager) handleSwapCommand(event discord.SlashCommandEvent) error {
	name := event.Options["provider"]
	next, ok := m.providers[name]
	if !ok {
		return event.RespondEphemeral(fmt.Sprintf(messageSwapUnknown, strings.Join(m.providers.Names(), ", ")))
	}

	// The swap waits for in-flight jobs and force-flushes every buffer, so
	// it runs off the interaction goroutine and reports back to the channel.
	go func() {
		stats, err := m.coord.SwapProvider(context.Background(), next)
		switch {
		case errors.Is(err, transcription.ErrSwapInProgress):
			_ = m.discord.SendChannelMessage(event.ChannelID, messageSwapInProgress)
		case errors.Is(err, transcription.ErrProviderUnchanged):
			_ = m.discord.SendChannelMessage(event.ChannelID, messageSwapSameProvider)
		case err != nil:
			slog.Error("provider swap failed", "error", err, "provider", name)
			_ = m.discord.SendChannelMessage(event.ChannelID, fmt.Sprintf(messageSwapFailed, name, err))
		default:
			slog.Info("provider swapped", "old", stats.OldProvider, "new", stats.NewProvider, "buffers_flushed", stats.BuffersFlushed, "jobs_drained", stats.JobsDrained)
			_ = m.discord.SendChannelMessage(event.ChannelID, fmt.Sprintf(messageSwapDone, stats.NewProvider, stats.BuffersFlushed, stats.JobsDrained))
		}
	}()

	return event.RespondEphemeral(fmt.Sprintf(messageSwapAccepted, name))
}
