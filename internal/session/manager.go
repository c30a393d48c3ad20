package session

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/ottergrove/voicegrain/internal/audio"
	"github.com/ottergrove/voicegrain/internal/config"
	"github.com/ottergrove/voicegrain/internal/discord"
	"github.com/ottergrove/voicegrain/internal/repository"
	"github.com/ottergrove/voicegrain/internal/transcription"
	"github.com/ottergrove/voicegrain/internal/webhook"
)

type state int

const (
	stateActive state = iota + 1
	stateDraining
	stateEnding
)

// Manager owns the session lifecycle for the monitored voice channel:
// idle until the first join, active while participants remain, draining
// through a grace window after the last leave, then ended or abandoned.
// It tells the buffer registry which speakers may ingest audio and when
// their buffers flush or die; it never touches audio bytes itself.
type Manager struct {
	cfg       *config.Config
	repo      repository.Repository
	discord   discord.Client
	registry  *audio.Registry
	coord     *transcription.Coordinator
	webhook   webhook.Sender
	providers transcription.Catalog
	decoder   audio.DecoderFactory

	now       func() time.Time
	botUserID string

	mu       sync.Mutex
	channels map[string]*channelSession
}

type channelSession struct {
	id           string
	guildID      string
	channelID    string
	startedAt    time.Time
	state        state
	participants map[string]time.Time
	allSpeakers  map[string]struct{}
	lastLeaveAt  time.Time
	graceTimer   *time.Timer
	voice        discord.VoiceConnection
	decoder      audio.PacketDecoder
	pendingJoins []string
}

func NewManager(cfg *config.Config, repo repository.Repository, dc discord.Client, registry *audio.Registry, coord *transcription.Coordinator, wh webhook.Sender, providers transcription.Catalog, decoder audio.DecoderFactory) *Manager {
	return &Manager{
		cfg:       cfg,
		repo:      repo,
		discord:   dc,
		registry:  registry,
		coord:     coord,
		webhook:   wh,
		providers: providers,
		decoder:   decoder,
		now:       time.Now,
		channels:  make(map[string]*channelSession),
	}
}

func (m *Manager) SetBotUserID(userID string) {
	m.botUserID = userID
}

// ActiveSession resolves a channel to its current session. Draining and
// ending sessions still resolve so final flushes commit to them.
func (m *Manager) ActiveSession(channelID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cs, ok := m.channels[channelID]
	if !ok {
		return "", false
	}
	return cs.id, true
}

func (m *Manager) HandleVoiceStateUpdate(event discord.VoiceStateEvent) {
	if event.GuildID != m.cfg.DiscordGuildID || event.UserID == m.botUserID || event.UserIsBot {
		return
	}
	if event.AfterChannelID == m.cfg.DiscordVCID {
		if err := m.handleJoin(event.GuildID, event.AfterChannelID, event.UserID); err != nil {
			slog.Error("failed to handle join", "error", err, "channel_id", event.AfterChannelID, "user_id", event.UserID)
		}
		return
	}
	if event.BeforeChannelID == m.cfg.DiscordVCID {
		m.handleLeave(event.BeforeChannelID, event.UserID)
	}
}

// Bootstrap starts a session for participants already present in the voice
// channel, e.g. after a bot restart mid-conversation.
func (m *Manager) Bootstrap() error {
	participants, err := m.discord.ListVoiceChannelParticipants(m.cfg.DiscordGuildID, m.cfg.DiscordVCID)
	if err != nil {
		return err
	}
	for _, p := range participants {
		if p.IsBot || p.UserID == m.botUserID {
			continue
		}
		if err := m.handleJoin(m.cfg.DiscordGuildID, m.cfg.DiscordVCID, p.UserID); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) handleJoin(guildID, channelID, userID string) error {
	now := m.now()

	m.mu.Lock()
	cs, exists := m.channels[channelID]
	if exists {
		switch cs.state {
		case stateEnding:
			// The old session is tearing down. Queue the join and replay
			// it once finalization completes, so the user is not stranded
			// until the next voice-state event.
			if !slices.Contains(cs.pendingJoins, userID) {
				cs.pendingJoins = append(cs.pendingJoins, userID)
			}
			m.mu.Unlock()
			slog.Info("join queued during session finalization", "channel_id", channelID, "user_id", userID)
			return nil
		case stateDraining:
			// Rejoin within the grace window keeps the session identity.
			if cs.graceTimer != nil {
				cs.graceTimer.Stop()
				cs.graceTimer = nil
			}
			cs.state = stateActive
			slog.Info("session reactivated within grace window", "session_id", cs.id, "channel_id", channelID, "user_id", userID)
		}
		if _, known := cs.participants[userID]; !known {
			cs.participants[userID] = now
			cs.allSpeakers[userID] = struct{}{}
			m.registry.Watch(channelID, userID)
			sessionID := cs.id
			m.mu.Unlock()
			if err := m.repo.AddParticipant(context.Background(), repository.AddParticipantInput{
				SessionID: sessionID,
				SpeakerID: userID,
				JoinedAt:  now,
			}); err != nil {
				slog.Error("failed to record participant", "error", err, "session_id", sessionID, "speaker_id", userID)
			}
			slog.Info("participant joined", "session_id", sessionID, "channel_id", channelID, "speaker_id", userID)
			return nil
		}
		m.mu.Unlock()
		return nil
	}
	m.mu.Unlock()

	return m.startSession(guildID, channelID, userID, now)
}

func (m *Manager) startSession(guildID, channelID, userID string, now time.Time) error {
	ctx := context.Background()

	// A session left active in the repository means the process died
	// mid-session; close it out so the channel invariant holds.
	if orphan, err := m.repo.GetActiveSessionByChannel(ctx, guildID, channelID); err != nil {
		slog.Error("failed to query active session", "error", err, "guild_id", guildID, "channel_id", channelID)
		return err
	} else if orphan != nil {
		slog.Warn("closing orphan active session", "session_id", orphan.ID, "channel_id", channelID)
		if err := m.repo.EndSession(ctx, repository.EndSessionInput{
			SessionID: orphan.ID,
			EndedAt:   now,
			Status:    repository.SessionStatusAbandoned,
		}); err != nil {
			slog.Error("failed to close orphan session", "error", err, "session_id", orphan.ID)
			return err
		}
	}

	sessionID := uuid.NewString()
	if err := m.repo.CreateSession(ctx, repository.CreateSessionInput{
		SessionID: sessionID,
		GuildID:   guildID,
		ChannelID: channelID,
		StartedAt: now,
	}); err != nil {
		slog.Error("failed to create session", "error", err, "channel_id", channelID)
		return err
	}

	voice, err := m.discord.JoinVoiceChannel(guildID, channelID)
	if err != nil {
		slog.Error("failed to join voice channel", "error", err, "guild_id", guildID, "channel_id", channelID)
		return err
	}

	dec := m.decoder(func(speakerID string, samples []float32) {
		m.registry.Append(channelID, speakerID, samples, m.now())
	})

	cs := &channelSession{
		id:           sessionID,
		guildID:      guildID,
		channelID:    channelID,
		startedAt:    now,
		state:        stateActive,
		participants: map[string]time.Time{userID: now},
		allSpeakers:  map[string]struct{}{userID: {}},
		voice:        voice,
		decoder:      dec,
	}
	m.mu.Lock()
	m.channels[channelID] = cs
	m.mu.Unlock()

	m.registry.Watch(channelID, userID)
	if err := m.repo.AddParticipant(ctx, repository.AddParticipantInput{
		SessionID: sessionID,
		SpeakerID: userID,
		JoinedAt:  now,
	}); err != nil {
		slog.Error("failed to record participant", "error", err, "session_id", sessionID, "speaker_id", userID)
	}

	go voice.ReceiveAudio(func(speakerID string, packet []byte) {
		dec.WritePacket(speakerID, packet)
	})

	slog.Info("session started", "session_id", sessionID, "guild_id", guildID, "channel_id", channelID, "speaker_id", userID)
	_ = m.discord.SendChannelMessage(channelID, messageSessionStarted)
	return nil
}

func (m *Manager) handleLeave(channelID, userID string) {
	now := m.now()

	m.mu.Lock()
	cs, ok := m.channels[channelID]
	if !ok || cs.state == stateEnding {
		m.mu.Unlock()
		return
	}
	if _, known := cs.participants[userID]; !known {
		m.mu.Unlock()
		return
	}
	delete(cs.participants, userID)
	remaining := len(cs.participants)
	sessionID := cs.id
	if remaining == 0 {
		cs.state = stateDraining
		cs.lastLeaveAt = now
		cs.graceTimer = time.AfterFunc(m.cfg.SessionTimeout, func() {
			m.graceExpired(channelID, sessionID)
		})
	}
	m.mu.Unlock()

	if err := m.repo.MarkParticipantLeft(context.Background(), repository.MarkParticipantLeftInput{
		SessionID: sessionID,
		SpeakerID: userID,
		LeftAt:    now,
	}); err != nil {
		slog.Error("failed to record participant leave", "error", err, "session_id", sessionID, "speaker_id", userID)
	}

	m.registry.Unwatch(channelID, userID)
	if remaining > 0 {
		// Flush the departing speaker's partial speech without tearing the
		// buffer down; the session keeps running for everyone else.
		if d := m.registry.DrainForFlush(channelID, userID, now); d != nil {
			go m.coord.Submit(context.Background(), d)
		}
		slog.Info("participant left", "session_id", sessionID, "channel_id", channelID, "speaker_id", userID, "remaining", remaining)
		return
	}

	if d := m.registry.Destroy(channelID, userID, now); d != nil {
		go m.coord.Submit(context.Background(), d)
	}
	slog.Info("last participant left; session draining", "session_id", sessionID, "channel_id", channelID, "speaker_id", userID, "grace", m.cfg.SessionTimeout)
}

// graceExpired fires when the inactivity window elapses with no rejoin.
// The session's end timestamp is the moment the last participant left,
// not the moment the timer noticed.
func (m *Manager) graceExpired(channelID, sessionID string) {
	m.mu.Lock()
	cs, ok := m.channels[channelID]
	if !ok || cs.id != sessionID || cs.state != stateDraining {
		m.mu.Unlock()
		return
	}
	cs.state = stateEnding
	endedAt := cs.lastLeaveAt
	m.mu.Unlock()

	slog.Info("session grace window expired", "session_id", sessionID, "channel_id", channelID, "ended_at", endedAt)
	m.endSession(cs, endedAt, nil)
}

// ForceEnd ends the channel's session immediately, bypassing the grace
// timer. Remaining buffers are destroyed and their audio flushed; nothing
// new is accepted for this session.
func (m *Manager) ForceEnd(channelID string) bool {
	now := m.now()

	m.mu.Lock()
	cs, ok := m.channels[channelID]
	if !ok || cs.state == stateEnding {
		m.mu.Unlock()
		return false
	}
	if cs.graceTimer != nil {
		cs.graceTimer.Stop()
		cs.graceTimer = nil
	}
	cs.state = stateEnding
	departed := make([]string, 0, len(cs.participants))
	for userID := range cs.participants {
		departed = append(departed, userID)
	}
	cs.participants = map[string]time.Time{}
	sessionID := cs.id
	m.mu.Unlock()

	for _, userID := range departed {
		if err := m.repo.MarkParticipantLeft(context.Background(), repository.MarkParticipantLeftInput{
			SessionID: sessionID,
			SpeakerID: userID,
			LeftAt:    now,
		}); err != nil {
			slog.Error("failed to record participant leave", "error", err, "session_id", sessionID, "speaker_id", userID)
		}
	}

	drains := m.registry.DestroyChannel(channelID, now)
	slog.Info("session force-ended", "session_id", sessionID, "channel_id", channelID, "final_buffers", len(drains))
	m.endSession(cs, now, drains)
	return true
}

// endSession finalizes in the background: pending final flushes are allowed
// to commit first, but a failed flush never blocks the transition.
func (m *Manager) endSession(cs *channelSession, endedAt time.Time, drains []*audio.Drain) {
	go func() {
		var wg sync.WaitGroup
		for _, d := range drains {
			wg.Add(1)
			go func(d *audio.Drain) {
				defer wg.Done()
				m.coord.Submit(context.Background(), d)
			}(d)
		}
		wg.Wait()
		m.finalizeSession(cs, endedAt)
	}()
}

func (m *Manager) finalizeSession(cs *channelSession, endedAt time.Time) {
	ctx := context.Background()

	m.mu.Lock()
	if current, ok := m.channels[cs.channelID]; ok && current.id == cs.id {
		delete(m.channels, cs.channelID)
	}
	pending := append([]string(nil), cs.pendingJoins...)
	m.mu.Unlock()

	cs.decoder.Close()
	if err := cs.voice.Disconnect(); err != nil {
		slog.Error("failed to disconnect voice", "error", err, "session_id", cs.id)
	}

	status := repository.SessionStatusEnded
	if m.coord.UtteranceCount(cs.id) == 0 {
		status = repository.SessionStatusAbandoned
	}
	if err := m.repo.EndSession(ctx, repository.EndSessionInput{
		SessionID: cs.id,
		EndedAt:   endedAt,
		Status:    status,
	}); err != nil {
		slog.Error("failed to end session", "error", err, "session_id", cs.id)
	}
	m.coord.ForgetSession(cs.id)
	slog.Info("session finalized", "session_id", cs.id, "channel_id", cs.channelID, "status", status, "ended_at", endedAt)

	if status == repository.SessionStatusAbandoned {
		_ = m.discord.SendChannelMessage(cs.channelID, messageSessionEndedNoSpeech)
	} else {
		m.publishTranscript(ctx, cs, endedAt)
	}
	m.replayPendingJoins(cs.guildID, cs.channelID, pending)
}

// replayPendingJoins re-examines users whose joins arrived while the old
// session was finalizing. Anyone still in the channel goes through the
// normal join path and gets a fresh session.
func (m *Manager) replayPendingJoins(guildID, channelID string, userIDs []string) {
	for _, userID := range userIDs {
		vcID, err := m.discord.GetUserVoiceChannelID(guildID, userID)
		if err != nil {
			slog.Warn("failed to confirm channel membership after finalization", "error", err, "channel_id", channelID, "user_id", userID)
			continue
		}
		if vcID != channelID {
			continue
		}
		if err := m.handleJoin(guildID, channelID, userID); err != nil {
			slog.Error("failed to start session for queued join", "error", err, "channel_id", channelID, "user_id", userID)
		}
	}
}

func (m *Manager) publishTranscript(ctx context.Context, cs *channelSession, endedAt time.Time) {
	utterances, err := m.repo.ListUtterancesBySessionID(ctx, cs.id)
	if err != nil {
		slog.Error("failed to list utterances for transcript", "error", err, "session_id", cs.id)
		return
	}

	speakerIDs := make([]string, 0, len(cs.allSpeakers))
	for id := range cs.allSpeakers {
		speakerIDs = append(speakerIDs, id)
	}
	meta, err := m.discord.ResolveSessionMetadata(ctx, cs.guildID, cs.channelID, speakerIDs)
	if err != nil {
		slog.Warn("failed to resolve session metadata; using ids", "error", err, "session_id", cs.id)
	}

	loc, err := time.LoadLocation(m.cfg.TranscriptTimezone)
	if err != nil {
		loc = time.UTC
	}
	body := buildTranscriptText(meta, cs.startedAt, endedAt, m.cfg.TranscriptTimezone, loc, utterances)
	filename := "transcript-" + cs.id + ".txt"
	if err := m.discord.SendChannelMessageWithFile(discord.FileMessage{
		ChannelID: cs.channelID,
		Content:   messageSessionEnded,
		Filename:  filename,
		FileBody:  body,
	}); err != nil {
		slog.Error("failed to post transcript", "error", err, "session_id", cs.id)
	}

	payload := buildTranscriptPayload(cs.id, meta, cs.startedAt, endedAt, m.cfg.TranscriptTimezone, utterances)
	if err := m.webhook.SendTranscript(ctx, payload); err != nil {
		slog.Error("failed to send webhook transcript", "error", err, "session_id", cs.id)
	}
}
