// Package flush decides when a speaker's buffered audio is worth
// transcribing and hands it off.
package flush

import (
	"context"
	"log/slog"
	"time"

	"github.com/ottergrove/voicegrain/internal/audio"
)

// Dispatcher consumes drained audio. Dispatch must not block the scan loop.
type Dispatcher interface {
	Dispatch(ctx context.Context, d *audio.Drain)
}

// DispatcherFunc adapts a function to the Dispatcher interface.
type DispatcherFunc func(ctx context.Context, d *audio.Drain)

func (f DispatcherFunc) Dispatch(ctx context.Context, d *audio.Drain) { f(ctx, d) }

// Scheduler scans every live buffer on a fixed tick and drains the ones that
// crossed a flush trigger:
//
//   - duration: accumulated audio reached the chunk duration, bounding
//     latency under continuous speech;
//   - silence: no voice activity for the silence threshold with at least the
//     minimum duration accumulated, so an utterance flushes promptly after
//     the speaker stops.
//
// Each speaker is evaluated and dispatched independently; a slow
// transcription for one speaker never delays flush detection for another.
type Scheduler struct {
	registry *audio.Registry
	dispatch Dispatcher

	tick     time.Duration
	chunkDur time.Duration
	silence  time.Duration
	minDur   time.Duration

	now func() time.Time
}

type Config struct {
	Tick             time.Duration
	ChunkDuration    time.Duration
	SilenceThreshold time.Duration
	MinDuration      time.Duration
}

func NewScheduler(registry *audio.Registry, dispatch Dispatcher, cfg Config) *Scheduler {
	return &Scheduler{
		registry: registry,
		dispatch: dispatch,
		tick:     cfg.Tick,
		chunkDur: cfg.ChunkDuration,
		silence:  cfg.SilenceThreshold,
		minDur:   cfg.MinDuration,
		now:      time.Now,
	}
}

// Run scans on every tick until the context is canceled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()
	slog.Info("flush scheduler started", "tick", s.tick, "chunk_duration", s.chunkDur, "silence_threshold", s.silence, "min_duration", s.minDur)
	for {
		select {
		case <-ctx.Done():
			slog.Info("flush scheduler stopped")
			return
		case <-ticker.C:
			s.scanOnce(ctx, s.now())
		}
	}
}

func (s *Scheduler) scanOnce(ctx context.Context, now time.Time) {
	for _, ref := range s.registry.Speakers() {
		channelID, speakerID := ref[0], ref[1]
		dur, lastSpeech, ok := s.registry.PeekDuration(channelID, speakerID)
		if !ok || !s.shouldFlush(now, dur, lastSpeech) {
			continue
		}
		d := s.registry.DrainForFlush(channelID, speakerID, now)
		if d == nil {
			// Already draining, or emptied since the peek.
			continue
		}
		s.dispatch.Dispatch(ctx, d)
	}
}

func (s *Scheduler) shouldFlush(now time.Time, dur time.Duration, lastSpeech time.Time) bool {
	if dur >= s.chunkDur {
		return true
	}
	if dur < s.minDur || lastSpeech.IsZero() {
		return false
	}
	return now.Sub(lastSpeech) >= s.silence
}
