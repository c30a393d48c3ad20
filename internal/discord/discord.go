package discord

import "context"

type FileMessage struct {
	ChannelID string
	Content   string
	Filename  string
	FileBody  []byte
}

type SlashCommandDefinition struct {
	Name        string
	Description string
	Options     []SlashCommandOption
}

type SlashCommandOption struct {
	Name        string
	Description string
	Required    bool
	Choices     []string
}

type SlashCommandEvent struct {
	GuildID          string
	ChannelID        string
	CommandName      string
	UserID           string
	Options          map[string]string
	RespondEphemeral func(content string) error
}

type VoiceStateEvent struct {
	GuildID         string
	UserID          string
	UserIsBot       bool
	BeforeChannelID string
	AfterChannelID  string
}

type VoiceParticipant struct {
	UserID string
	IsBot  bool
}

type SpeakerInfo struct {
	UserID      string
	DisplayName string
	IsBot       bool
}

type SessionMetadata struct {
	GuildID     string
	GuildName   string
	ChannelID   string
	ChannelName string
	Speakers    []SpeakerInfo
}

type Client interface {
	Connect(ctx context.Context) error
	Close() error
	JoinVoiceChannel(guildID, channelID string) (VoiceConnection, error)
	SendChannelMessage(channelID, content string) error
	SendChannelMessageWithFile(msg FileMessage) error
	RegisterVoiceStateUpdateHandler(handler func(VoiceStateEvent))
	RegisterSlashCommandHandler(handler func(SlashCommandEvent))
	UpsertGuildSlashCommands(guildID string, defs []SlashCommandDefinition) error
	GetUserVoiceChannelID(guildID, userID string) (string, error)
	ListVoiceChannelParticipants(guildID, channelID string) ([]VoiceParticipant, error)
	GetBotUserID() (string, error)
	ResolveSessionMetadata(ctx context.Context, guildID, channelID string, speakerIDs []string) (SessionMetadata, error)
	Run() error
}

type VoiceConnection interface {
	Disconnect() error
	ReceiveAudio(callback func(userID string, opusPacket []byte))
}
