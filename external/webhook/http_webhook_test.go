package webhook

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ottergrove/voicegrain/internal/webhook"
)

func testPayload() webhook.TranscriptPayload {
	startedAt := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	return webhook.TranscriptPayload{
		SessionID:   "session-1",
		Status:      "ended",
		GuildName:   "Otter Grove",
		ChannelName: "general-voice",
		StartedAt:   startedAt,
		EndedAt:     startedAt.Add(time.Hour),
		Timezone:    "UTC",
		Speakers: []webhook.TranscriptSpeaker{
			{UserID: "u-1", DisplayName: "Alice"},
		},
		Lines: []webhook.TranscriptLine{
			{SpeakerID: "u-1", SpeakerName: "Alice", Text: "hello world", SpokenAt: startedAt.Add(5 * time.Second), Confidence: 0.9, Provider: "google"},
		},
	}
}

func TestSendTranscript_EmptyWebhookURL(t *testing.T) {
	sender := NewHTTPSender("")
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
}

func TestSendTranscript_Success(t *testing.T) {
	var got webhook.TranscriptPayload

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			t.Fatalf("unexpected method: %s", r.Method)
		}
		if mediaType := r.Header.Get("Content-Type"); !strings.HasPrefix(mediaType, "application/json") {
			t.Fatalf("unexpected content type: %s", mediaType)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("failed to decode payload: %v", err)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), testPayload()); err != nil {
		t.Fatalf("expected nil error, got %v", err)
	}
	if got.SessionID != "session-1" || got.Status != "ended" {
		t.Fatalf("unexpected payload header: %+v", got)
	}
	if len(got.Lines) != 1 || got.Lines[0].Text != "hello world" || got.Lines[0].SpeakerName != "Alice" {
		t.Fatalf("unexpected lines: %+v", got.Lines)
	}
}

func TestSendTranscript_Non2xx(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	sender := NewHTTPSender(server.URL)
	if err := sender.SendTranscript(context.Background(), testPayload()); err == nil {
		t.Fatal("expected error for non-2xx response")
	}
}
