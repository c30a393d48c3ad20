package session

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ottergrove/voicegrain/internal/discord"
	"github.com/ottergrove/voicegrain/internal/repository"
	"github.com/ottergrove/voicegrain/internal/webhook"
)

const transcriptTimeLayout = "2006-01-02 15:04:05"

func buildTranscriptText(meta discord.SessionMetadata, startedAt, endedAt time.Time, timezone string, loc *time.Location, utterances []repository.Utterance) []byte {
	speakers := canonicalSpeakers(meta.Speakers)
	names := speakerNameIndex(speakers)
	displayNames := make([]string, 0, len(speakers))
	for _, s := range speakers {
		displayNames = append(displayNames, s.DisplayName)
	}

	startText := startedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)
	endText := endedAt.In(safeLocation(loc)).Format(transcriptTimeLayout)

	lines := []string{
		fmt.Sprintf("Server: %s", meta.GuildName),
		fmt.Sprintf("Voice channel: %s", meta.ChannelName),
		fmt.Sprintf("Period: %s ~ %s (%s)", startText, endText, timezone),
		fmt.Sprintf("Participants: %s", strings.Join(displayNames, ", ")),
		"",
	}
	for _, u := range utterances {
		elapsed := u.StartedAt.Sub(startedAt)
		if elapsed < 0 {
			elapsed = 0
		}
		lines = append(lines, fmt.Sprintf("[%s] %s: %s", formatElapsedHMS(elapsed), speakerName(names, u.SpeakerID), u.Text))
	}
	return []byte(strings.Join(lines, "\n"))
}

func buildTranscriptPayload(sessionID string, meta discord.SessionMetadata, startedAt, endedAt time.Time, timezone string, utterances []repository.Utterance) webhook.TranscriptPayload {
	speakers := canonicalSpeakers(meta.Speakers)
	names := speakerNameIndex(speakers)
	details := make([]webhook.TranscriptSpeaker, 0, len(speakers))
	for _, s := range speakers {
		details = append(details, webhook.TranscriptSpeaker{
			UserID:      s.UserID,
			DisplayName: s.DisplayName,
			IsBot:       s.IsBot,
		})
	}

	lines := make([]webhook.TranscriptLine, 0, len(utterances))
	for _, u := range utterances {
		lines = append(lines, webhook.TranscriptLine{
			SpeakerID:   u.SpeakerID,
			SpeakerName: speakerName(names, u.SpeakerID),
			Text:        u.Text,
			SpokenAt:    u.StartedAt,
			Confidence:  u.Confidence,
			Provider:    u.Provider,
		})
	}

	return webhook.TranscriptPayload{
		SessionID:   sessionID,
		Status:      string(repository.SessionStatusEnded),
		GuildName:   meta.GuildName,
		ChannelName: meta.ChannelName,
		StartedAt:   startedAt,
		EndedAt:     endedAt,
		Timezone:    timezone,
		Speakers:    details,
		Lines:       lines,
	}
}

func canonicalSpeakers(speakers []discord.SpeakerInfo) []discord.SpeakerInfo {
	byUserID := make(map[string]discord.SpeakerInfo, len(speakers))
	for _, s := range speakers {
		if strings.TrimSpace(s.UserID) == "" {
			continue
		}
		if s.DisplayName == "" {
			s.DisplayName = s.UserID
		}
		existing, ok := byUserID[s.UserID]
		if ok {
			if existing.DisplayName == existing.UserID && s.DisplayName != s.UserID {
				existing.DisplayName = s.DisplayName
			}
			existing.IsBot = existing.IsBot || s.IsBot
			byUserID[s.UserID] = existing
			continue
		}
		byUserID[s.UserID] = s
	}
	list := make([]discord.SpeakerInfo, 0, len(byUserID))
	for _, s := range byUserID {
		list = append(list, s)
	}
	sort.Slice(list, func(i, j int) bool {
		in := strings.ToLower(list[i].DisplayName)
		jn := strings.ToLower(list[j].DisplayName)
		if in != jn {
			return in < jn
		}
		return list[i].UserID < list[j].UserID
	})
	return list
}

func speakerNameIndex(speakers []discord.SpeakerInfo) map[string]string {
	names := make(map[string]string, len(speakers))
	for _, s := range speakers {
		names[s.UserID] = s.DisplayName
	}
	return names
}

func speakerName(names map[string]string, userID string) string {
	if name, ok := names[userID]; ok && name != "" {
		return name
	}
	return userID
}

func formatElapsedHMS(d time.Duration) string {
	total := int64(d / time.Second)
	h := total / 3600
	m := (total % 3600) / 60
	s := total % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}

func safeLocation(loc *time.Location) *time.Location {
	if loc == nil {
		return time.UTC
	}
	return loc
}
